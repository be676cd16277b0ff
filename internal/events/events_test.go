package events

import (
	"context"
	"encoding/json"
	"testing"
	"time"
)

func TestEncodeEvent(t *testing.T) {
	at := time.Date(2026, 2, 1, 9, 0, 0, 0, time.UTC)
	body, err := encodeEvent(Event{Type: PhaseApproved, ProjectID: 3, Phase: 1, Status: "Approved", At: at})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	var decoded map[string]any
	if err := json.Unmarshal(body, &decoded); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if decoded["type"] != PhaseApproved || decoded["project_id"] != float64(3) {
		t.Fatalf("unexpected payload: %s", body)
	}
	if _, ok := decoded["proposal_id"]; ok {
		t.Fatalf("expected empty proposal id to be omitted: %s", body)
	}
}

func TestNoopPublisher(t *testing.T) {
	var p Publisher = Noop{}
	if err := p.Publish(context.Background(), Event{Type: PhaseCreated}); err != nil {
		t.Fatalf("expected nil, got %v", err)
	}
}
