package eventbus

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/agentworld/runtime/pkg/models"
)

type recordingStore struct {
	mu     sync.Mutex
	saved  []*models.StoredEvent
	failOn string
}

func (s *recordingStore) SaveEvent(_ context.Context, worldID string, event *models.StoredEvent) error {
	if s.failOn != "" && event.MessageID == s.failOn {
		return errors.New("store: simulated failure")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saved = append(s.saved, event)
	return nil
}

func collectSink() (*CallbackSink, *[]Envelope) {
	var mu sync.Mutex
	var got []Envelope
	sink := NewCallbackSink(func(_ context.Context, env Envelope) {
		mu.Lock()
		defer mu.Unlock()
		got = append(got, env)
	})
	return sink, &got
}

func TestBus_PublishMessage_AssignsMonotonicSeq(t *testing.T) {
	store := &recordingStore{}
	bus := New(store)

	for i := 0; i < 3; i++ {
		event := &models.StoredEvent{MessageID: "m"}
		if err := bus.PublishMessage(context.Background(), "w1", event); err != nil {
			t.Fatalf("PublishMessage: %v", err)
		}
		if event.Seq != uint64(i+1) {
			t.Errorf("event %d: expected seq %d, got %d", i, i+1, event.Seq)
		}
	}

	// A second world's sequence starts independently from 1.
	event := &models.StoredEvent{MessageID: "m"}
	if err := bus.PublishMessage(context.Background(), "w2", event); err != nil {
		t.Fatalf("PublishMessage: %v", err)
	}
	if event.Seq != 1 {
		t.Errorf("w2 first event: expected seq 1, got %d", event.Seq)
	}
}

func TestBus_PublishMessage_PersistBeforeEmit(t *testing.T) {
	store := &recordingStore{failOn: "bad"}
	bus := New(store)
	sink, got := collectSink()
	bus.Subscribe("w1", sink)

	err := bus.PublishMessage(context.Background(), "w1", &models.StoredEvent{MessageID: "bad"})
	if err == nil {
		t.Fatal("expected store failure to propagate")
	}
	if len(*got) != 0 {
		t.Errorf("expected no fan-out on store failure, got %d envelopes", len(*got))
	}

	if err := bus.PublishMessage(context.Background(), "w1", &models.StoredEvent{MessageID: "good"}); err != nil {
		t.Fatalf("PublishMessage: %v", err)
	}
	if len(*got) != 1 {
		t.Fatalf("expected 1 envelope after successful publish, got %d", len(*got))
	}
	if (*got)[0].Event.MessageID != "good" {
		t.Errorf("expected the persisted event to be delivered, got %+v", (*got)[0].Event)
	}
}

func TestBus_Subscribe_ScopedPerWorld(t *testing.T) {
	bus := New(nil)
	sinkA, gotA := collectSink()
	sinkB, gotB := collectSink()
	bus.Subscribe("w1", sinkA)
	bus.Subscribe("w2", sinkB)

	bus.PublishSSE(context.Background(), "w1", &models.SSEEvent{Type: models.SSEChunk})

	if len(*gotA) != 1 {
		t.Errorf("expected w1 subscriber to receive 1 envelope, got %d", len(*gotA))
	}
	if len(*gotB) != 0 {
		t.Errorf("expected w2 subscriber to receive nothing, got %d", len(*gotB))
	}
}

func TestBus_Unsubscribe_StopsDelivery(t *testing.T) {
	bus := New(nil)
	sink, got := collectSink()
	sub := bus.Subscribe("w1", sink)

	bus.PublishWorldRefresh(context.Background(), "w1", "agent", "a1", "created")
	sub.Unsubscribe()
	bus.PublishWorldRefresh(context.Background(), "w1", "agent", "a2", "created")

	if len(*got) != 1 {
		t.Fatalf("expected exactly 1 envelope before unsubscribe, got %d", len(*got))
	}
	if (*got)[0].WorldRefID != "a1" {
		t.Errorf("expected refID a1, got %s", (*got)[0].WorldRefID)
	}
}

func TestBus_PublishSSE_DoesNotConsumeSequence(t *testing.T) {
	bus := New(nil)
	bus.PublishSSE(context.Background(), "w1", &models.SSEEvent{Type: models.SSEChunk})
	bus.PublishSSE(context.Background(), "w1", &models.SSEEvent{Type: models.SSEChunk})

	event := &models.StoredEvent{MessageID: "m"}
	if err := bus.PublishMessage(context.Background(), "w1", event); err != nil {
		t.Fatalf("PublishMessage: %v", err)
	}
	if event.Seq != 1 {
		t.Errorf("expected first message event to get seq 1 regardless of prior SSE traffic, got %d", event.Seq)
	}
}
