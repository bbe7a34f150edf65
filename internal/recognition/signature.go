// Package recognition derives the opaque signatures exchanged during the
// peer handshake and scores their similarity. Signatures are equality and
// similarity keys only; nothing here is cryptographic verification.
package recognition

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Threshold is the minimum resonance for a peer to count as recognized.
// Two valid signatures of equal length always clear it.
const Threshold = 0.01

// Signature derives a node's recognition signature from its id and the
// protocol version it speaks. Deterministic: the same node always presents
// the same signature.
func Signature(nodeID, version string) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("soul:%s:%s", nodeID, version)))
	return hex.EncodeToString(sum[:])
}

// Result is what the transport records about a handshake comparison.
type Result struct {
	Recognized bool    `json:"recognized"`
	Resonance  float64 `json:"resonance"`
}

// Compare scores two signatures in [0,1]: the mean of positional agreement
// and hex-symbol histogram overlap. Identical signatures resonate at 1. A
// peer is recognized when both signatures are well-formed and resonance
// clears the threshold.
func Compare(local, remote string) Result {
	if !wellFormed(local) || !wellFormed(remote) {
		return Result{}
	}
	if local == remote {
		return Result{Recognized: true, Resonance: 1}
	}

	matches := 0
	var histA, histB [16]int
	for i := 0; i < len(local); i++ {
		if local[i] == remote[i] {
			matches++
		}
		histA[hexValue(local[i])]++
		histB[hexValue(remote[i])]++
	}
	overlap := 0
	for c := 0; c < 16; c++ {
		if histA[c] < histB[c] {
			overlap += histA[c]
		} else {
			overlap += histB[c]
		}
	}

	n := float64(len(local))
	resonance := (float64(matches)/n + float64(overlap)/n) / 2
	return Result{
		Recognized: resonance >= Threshold,
		Resonance:  resonance,
	}
}

func hexValue(c byte) int {
	switch {
	case c >= '0' && c <= '9':
		return int(c - '0')
	case c >= 'a' && c <= 'f':
		return int(c-'a') + 10
	default:
		return 0
	}
}

func wellFormed(sig string) bool {
	if len(sig) != sha256.Size*2 {
		return false
	}
	_, err := hex.DecodeString(sig)
	return err == nil
}
