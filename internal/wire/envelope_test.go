package wire

import (
	"bytes"
	"testing"
)

func TestEnvelopeRoundTrip(t *testing.T) {
	e := &Envelope{
		Kind:       KindACLMessage,
		SourceNode: "node-a",
		TargetNode: "node-b",
		Payload:    []byte(`{"performative":"inform"}`),
	}
	data := e.Marshal()

	got, err := Unmarshal(data)
	if err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if got.Kind != e.Kind || got.SourceNode != e.SourceNode || got.TargetNode != e.TargetNode {
		t.Fatalf("round trip mismatch: %+v", got)
	}
	if !bytes.Equal(got.Payload, e.Payload) {
		t.Fatalf("payload mismatch: %q", got.Payload)
	}
}

func TestEnvelopeEmptyPayload(t *testing.T) {
	e := &Envelope{Kind: KindConsensusMessage, SourceNode: "n1", TargetNode: "n2"}
	got, err := Unmarshal(e.Marshal())
	if err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if len(got.Payload) != 0 {
		t.Fatalf("expected empty payload, got %v", got.Payload)
	}
}

func TestUnmarshalRejectsTruncatedTag(t *testing.T) {
	if _, err := Unmarshal([]byte{0xff}); err == nil {
		t.Fatal("expected error on truncated tag")
	}
}
