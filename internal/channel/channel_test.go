package channel

import (
	"context"
	"testing"

	"github.com/agentworld/runtime/internal/eventbus"
	"github.com/agentworld/runtime/pkg/models"
)

func TestRegistryRegisterAndGet(t *testing.T) {
	r := NewRegistry()
	bus := eventbus.New(nil)
	api := NewAPIChannel(bus, "world-1")
	r.Register(api)

	got, ok := r.Get("api")
	if !ok {
		t.Fatalf("expected api channel to be registered")
	}
	if got.Kind() != "api" {
		t.Fatalf("expected kind %q, got %q", "api", got.Kind())
	}
	if len(r.All()) != 1 {
		t.Fatalf("expected 1 registered channel, got %d", len(r.All()))
	}
	if _, ok := r.Get("discord"); ok {
		t.Fatalf("expected no channel registered under an adapter this tree doesn't ship")
	}
}

func TestAPIChannelSendPublishesMessage(t *testing.T) {
	bus := eventbus.New(nil)
	ch := make(chan eventbus.Envelope, 4)
	sub := bus.Subscribe("world-1", eventbus.NewChanSink(ch))
	defer sub.Unsubscribe()

	api := NewAPIChannel(bus, "world-1")
	if err := api.Send(context.Background(), "chat-1", "msg-1", "hello there"); err != nil {
		t.Fatalf("Send returned error: %v", err)
	}

	env := <-ch
	if env.Channel != eventbus.ChannelMessage {
		t.Fatalf("expected ChannelMessage, got %v", env.Channel)
	}
	if env.Event == nil || env.Event.Content != "hello there" {
		t.Fatalf("expected persisted content, got %+v", env.Event)
	}
	if env.Event.Role != models.RoleAssistant {
		t.Fatalf("expected assistant role, got %v", env.Event.Role)
	}
}

func TestAPIChannelTypingPublishesEphemeralSSE(t *testing.T) {
	bus := eventbus.New(nil)
	ch := make(chan eventbus.Envelope, 4)
	sub := bus.Subscribe("world-1", eventbus.NewChanSink(ch))
	defer sub.Unsubscribe()

	api := NewAPIChannel(bus, "world-1")
	if err := api.Typing(context.Background(), "chat-1"); err != nil {
		t.Fatalf("Typing returned error: %v", err)
	}

	env := <-ch
	if env.Channel != eventbus.ChannelSSE {
		t.Fatalf("expected ChannelSSE, got %v", env.Channel)
	}
	if env.SSE == nil || env.SSE.Category != "typing" {
		t.Fatalf("expected typing category SSE event, got %+v", env.SSE)
	}
}

func TestAPIChannelCapabilities(t *testing.T) {
	bus := eventbus.New(nil)
	api := NewAPIChannel(bus, "world-1")
	caps := api.Capabilities()
	if caps.Mode != ModeRealTime {
		t.Fatalf("expected ModeRealTime, got %v", caps.Mode)
	}
	if !caps.SupportsMarkdown {
		t.Fatalf("expected markdown support")
	}
}
