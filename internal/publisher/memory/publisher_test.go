package memory

import (
	"context"
	"testing"
)

func TestPublisherRecordsMessages(t *testing.T) {
	t.Parallel()

	p := New()
	id, err := p.Publish(context.Background(), "job-events", map[string]any{"event": "created"})
	if err != nil {
		t.Fatalf("Publish() error = %v", err)
	}
	if id == "" {
		t.Fatal("expected a message id")
	}

	msgs := p.Messages()
	if len(msgs) != 1 || msgs[0].Topic != "job-events" {
		t.Fatalf("unexpected messages %+v", msgs)
	}

	// The returned slice is a copy.
	msgs[0].Topic = "other"
	if p.Messages()[0].Topic != "job-events" {
		t.Fatal("expected Messages to return a copy")
	}
}
