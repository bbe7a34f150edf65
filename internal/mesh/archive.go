package mesh

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/andybalholm/brotli"

	"github.com/s0fractal/consciousness-mesh-sub001/internal/field"
)

const archiveCompressionLevel = 6

// archivedSnapshot is one brotli-compressed JSON snapshot.
type archivedSnapshot struct {
	At       time.Time
	RawBytes int
	Data     []byte
}

// snapshotArchive keeps a bounded ring of compressed local snapshots so an
// operator can inspect or restore recent field history. Only the node loop
// touches it.
type snapshotArchive struct {
	capacity int
	ring     []archivedSnapshot
}

func newSnapshotArchive(capacity int) *snapshotArchive {
	return &snapshotArchive{capacity: capacity}
}

func (a *snapshotArchive) add(snap field.Snapshot) error {
	if a.capacity <= 0 {
		return nil
	}
	raw, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("archive: marshal snapshot: %w", err)
	}

	var buf bytes.Buffer
	w := brotli.NewWriterLevel(&buf, archiveCompressionLevel)
	if _, err := w.Write(raw); err != nil {
		return fmt.Errorf("archive: compress snapshot: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("archive: compress snapshot: %w", err)
	}

	a.ring = append(a.ring, archivedSnapshot{
		At:       time.Now(),
		RawBytes: len(raw),
		Data:     buf.Bytes(),
	})
	if len(a.ring) > a.capacity {
		a.ring = a.ring[len(a.ring)-a.capacity:]
	}
	return nil
}

func (a *snapshotArchive) size() int { return len(a.ring) }

// latest decompresses the most recent archived snapshot.
func (a *snapshotArchive) latest() (field.Snapshot, error) {
	var snap field.Snapshot
	if len(a.ring) == 0 {
		return snap, fmt.Errorf("archive: empty")
	}
	entry := a.ring[len(a.ring)-1]
	raw, err := io.ReadAll(brotli.NewReader(bytes.NewReader(entry.Data)))
	if err != nil {
		return snap, fmt.Errorf("archive: decompress snapshot: %w", err)
	}
	if err := json.Unmarshal(raw, &snap); err != nil {
		return snap, fmt.Errorf("archive: decode snapshot: %w", err)
	}
	return snap, nil
}

// restore loads the most recent archived snapshot back into the field.
func (a *snapshotArchive) restore(f *field.Field) error {
	snap, err := a.latest()
	if err != nil {
		return err
	}
	return f.ImportSnapshot(snap)
}
