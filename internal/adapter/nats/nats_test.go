package nats

import (
	"context"
	"encoding/json"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/upeohq/staffdesk/internal/port/messagequeue"
)

// testConnect connects to NATS or skips the test if NATS_URL is not set.
func testConnect(t *testing.T) *Queue {
	t.Helper()

	url := os.Getenv("NATS_URL")
	if url == "" {
		t.Skip("requires NATS_URL")
	}

	q, err := Connect(context.Background(), url)
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	t.Cleanup(func() {
		if err := q.Close(); err != nil {
			t.Errorf("Close: %v", err)
		}
	})
	return q
}

func TestQueue_PublishSubscribe(t *testing.T) {
	q := testConnect(t)
	subject := messagequeue.SubjectEmailEventPrefix + "delivered"

	want := messagequeue.EmailEventPayload{
		SentTo:    "jane@upeo.co.ke",
		MessageID: "m-" + t.Name(),
		Status:    "delivered",
		EventType: "delivery",
	}
	data, err := json.Marshal(want)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var mu sync.Mutex
	var got messagequeue.EmailEventPayload
	received := make(chan struct{}, 1)

	cancel, err := q.Subscribe(context.Background(), subject, func(_ context.Context, _ string, data []byte) error {
		var p messagequeue.EmailEventPayload
		if err := json.Unmarshal(data, &p); err != nil {
			return err
		}
		if p.MessageID != want.MessageID {
			return nil // stale message from a previous run
		}
		mu.Lock()
		got = p
		mu.Unlock()
		select {
		case received <- struct{}{}:
		default:
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	defer cancel()

	if err := q.Publish(context.Background(), subject, data); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	select {
	case <-received:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for message")
	}

	mu.Lock()
	defer mu.Unlock()
	if got.SentTo != want.SentTo || got.Status != want.Status {
		t.Fatalf("got %+v, want %+v", got, want)
	}
}

func TestQueue_PublishRejectsInvalidPayload(t *testing.T) {
	q := testConnect(t)

	err := q.Publish(context.Background(), messagequeue.SubjectRequestsChanged, []byte(`{broken`))
	if err == nil {
		t.Fatal("expected validation error for invalid JSON")
	}
}
