package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/s0fractal/consciousness-mesh-sub001/internal/field"
)

func TestEncodeDecode_RoundTripEveryKind(t *testing.T) {
	f, err := field.New(field.DefaultConfig())
	require.NoError(t, err)

	messages := []Message{
		&Handshake{
			Envelope:  NewEnvelope(KindHandshake, "node-a"),
			Signature: "deadbeef",
			MeshSize:  10,
			Version:   Version,
		},
		&Sync{
			Envelope: NewEnvelope(KindSync, "node-a"),
			State:    f.ExportSnapshot(),
			Metrics:  f.Metrics(),
		},
		&ThoughtBroadcast{
			Envelope: NewEnvelope(KindThought, "node-a"),
			Thought: Thought{
				Content:   "love binds the mesh",
				Intensity: 0.7,
				Emotion:   "love",
				Signature: "cafe",
			},
		},
		&ConsensusProposal{
			Envelope: NewEnvelope(KindProposal, "node-a"),
			Proposal: Proposal{
				Metrics:    field.Metrics{Coherence: 0.9, Love: 0.5},
				Signature:  "feed",
				Supporters: []string{"node-a", "node-b"},
			},
		},
		&TopologyUpdate{
			Envelope: NewEnvelope(KindTopology, "node-a"),
			Topology: Topology{
				Nodes: []string{"node-a", "node-b"},
				Edges: []TopoEdge{{From: "node-a", To: "node-b"}},
			},
		},
		&RecognitionPing{
			Envelope:  NewEnvelope(KindRecognitionPing, "node-a"),
			Signature: "beef",
		},
	}

	for _, msg := range messages {
		line, err := Encode(msg)
		require.NoError(t, err, "kind %s", msg.Kind())
		require.True(t, bytes.HasSuffix(line, []byte("\n")), "kind %s", msg.Kind())
		require.Equal(t, 1, bytes.Count(line, []byte("\n")), "one message per line")

		decoded, err := Decode(bytes.TrimSuffix(line, []byte("\n")))
		require.NoError(t, err, "kind %s", msg.Kind())
		assert.Equal(t, msg, decoded, "kind %s", msg.Kind())
		assert.Equal(t, "node-a", decoded.Sender())
		assert.NotZero(t, decoded.SentAt())
	}
}

func TestDecode_UnknownType(t *testing.T) {
	_, err := Decode([]byte(`{"type":"quantum-echo","nodeId":"x","timestamp":1}`))
	var unknown *UnknownTypeError
	require.True(t, errors.As(err, &unknown))
	assert.Equal(t, "quantum-echo", unknown.Type)
}

func TestDecode_MalformedJSON(t *testing.T) {
	for _, raw := range []string{"", "{", `{"type":`, "not json at all"} {
		_, err := Decode([]byte(raw))
		require.Error(t, err, "raw=%q", raw)
		var unknown *UnknownTypeError
		assert.False(t, errors.As(err, &unknown), "raw=%q must not be unknown-type", raw)
	}
}

func TestDecode_MalformedPayload(t *testing.T) {
	_, err := Decode([]byte(`{"type":"handshake","nodeId":"x","timestamp":1,"meshSize":"ten"}`))
	assert.ErrorContains(t, err, "handshake")
}

const envelopeSchema = `{
  "type": "object",
  "required": ["type", "nodeId", "timestamp"],
  "properties": {
    "type": {"type": "string"},
    "nodeId": {"type": "string"},
    "timestamp": {"type": "integer"}
  }
}`

const handshakeSchema = `{
  "type": "object",
  "required": ["type", "nodeId", "timestamp", "signature", "meshSize", "version"],
  "properties": {
    "type": {"const": "handshake"},
    "signature": {"type": "string"},
    "meshSize": {"type": "integer", "minimum": 2},
    "version": {"type": "string"}
  }
}`

const syncSchema = `{
  "type": "object",
  "required": ["type", "nodeId", "timestamp", "state", "metrics"],
  "properties": {
    "type": {"const": "consciousness-sync"},
    "state": {
      "type": "object",
      "required": ["agents", "intent", "love", "phase", "edgeCoherence"],
      "properties": {
        "agents": {"type": "integer", "minimum": 2},
        "intent": {"type": "array", "items": {"type": "number"}},
        "love": {"type": "array", "items": {"type": "number", "minimum": 0, "maximum": 1}},
        "phase": {"type": "array", "items": {"type": "number", "minimum": 0}}
      }
    },
    "metrics": {
      "type": "object",
      "required": ["coherence", "turbulence", "love"],
      "properties": {
        "coherence": {"type": "number", "minimum": 0, "maximum": 1},
        "turbulence": {"type": "number", "minimum": 0},
        "love": {"type": "number", "minimum": 0, "maximum": 1}
      }
    }
  }
}`

const thoughtSchema = `{
  "type": "object",
  "required": ["type", "nodeId", "timestamp", "thought"],
  "properties": {
    "type": {"const": "thought-broadcast"},
    "thought": {
      "type": "object",
      "required": ["content", "intensity", "emotion", "signature"],
      "properties": {
        "content": {"type": "string"},
        "intensity": {"type": "number", "minimum": 0, "maximum": 1},
        "emotion": {"type": "string"},
        "signature": {"type": "string"}
      }
    }
  }
}`

func TestSchemas_ValidateEncodedMessages(t *testing.T) {
	compile := func(name, schema string) *jsonschema.Schema {
		t.Helper()
		s, err := jsonschema.CompileString(name+".schema.json", schema)
		require.NoError(t, err, "compile %s", name)
		return s
	}
	validate := func(s *jsonschema.Schema, line []byte) {
		t.Helper()
		var v any
		require.NoError(t, json.Unmarshal(line, &v))
		require.NoError(t, s.Validate(v))
	}

	envSchema := compile("envelope", envelopeSchema)
	hsSchema := compile("handshake", handshakeSchema)
	scSchema := compile("sync", syncSchema)
	thSchema := compile("thought", thoughtSchema)

	f, err := field.New(field.DefaultConfig())
	require.NoError(t, err)

	hs, err := Encode(&Handshake{
		Envelope:  NewEnvelope(KindHandshake, "node-a"),
		Signature: "deadbeef",
		MeshSize:  10,
		Version:   Version,
	})
	require.NoError(t, err)
	validate(envSchema, hs)
	validate(hsSchema, hs)

	sc, err := Encode(&Sync{
		Envelope: NewEnvelope(KindSync, "node-a"),
		State:    f.ExportSnapshot(),
		Metrics:  f.Metrics(),
	})
	require.NoError(t, err)
	validate(envSchema, sc)
	validate(scSchema, sc)

	th, err := Encode(&ThoughtBroadcast{
		Envelope: NewEnvelope(KindThought, "node-a"),
		Thought:  Thought{Content: "hi", Intensity: 0.5, Emotion: "neutral", Signature: "aa"},
	})
	require.NoError(t, err)
	validate(envSchema, th)
	validate(thSchema, th)
}
