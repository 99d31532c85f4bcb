package channels

import (
	"context"
	"testing"

	"github.com/starkbot/starkbot/pkg/models"
)

type inboundOnlyAdapter struct {
	messages chan *models.NormalizedMessage
}

func (a *inboundOnlyAdapter) Type() models.ChannelType { return models.ChannelTelegram }

func (a *inboundOnlyAdapter) Messages() <-chan *models.NormalizedMessage { return a.messages }

type outboundOnlyAdapter struct{}

func (outboundOnlyAdapter) Type() models.ChannelType { return models.ChannelDiscord }

func (outboundOnlyAdapter) Send(ctx context.Context, out *models.ChannelOutbound) error { return nil }

func TestRegistryGetOutbound(t *testing.T) {
	registry := NewRegistry()
	registry.Register(outboundOnlyAdapter{})

	if _, ok := registry.GetOutbound(models.ChannelDiscord); !ok {
		t.Fatalf("expected outbound adapter to be registered")
	}
	if _, ok := registry.GetOutbound(models.ChannelSlack); ok {
		t.Fatalf("expected no outbound adapter for an unregistered channel")
	}
}

func TestRegisterReplacesCapabilitiesOnReRegister(t *testing.T) {
	registry := NewRegistry()
	registry.Register(&inboundOnlyAdapter{messages: make(chan *models.NormalizedMessage, 1)})
	registry.Register(outboundOnlyAdapter{}) // same Type() is not shared here, just exercising both paths

	if _, ok := registry.Get(models.ChannelTelegram); !ok {
		t.Fatalf("expected telegram adapter registered")
	}
	if len(registry.All()) != 2 {
		t.Fatalf("expected 2 adapters, got %d", len(registry.All()))
	}
}

func TestAggregateMessagesUsesInboundAdapters(t *testing.T) {
	registry := NewRegistry()
	inbound := &inboundOnlyAdapter{messages: make(chan *models.NormalizedMessage, 1)}
	registry.Register(inbound)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	out := registry.AggregateMessages(ctx)
	msg := &models.NormalizedMessage{ChannelType: models.ChannelTelegram, Text: "hi"}
	inbound.messages <- msg

	got := <-out
	if got != msg {
		t.Fatalf("expected message to pass through, got %#v", got)
	}
}

func TestAggregateMessagesClosesOnCancel(t *testing.T) {
	registry := NewRegistry()
	inbound := &inboundOnlyAdapter{messages: make(chan *models.NormalizedMessage)}
	registry.Register(inbound)

	ctx, cancel := context.WithCancel(context.Background())
	out := registry.AggregateMessages(ctx)
	cancel()

	if _, ok := <-out; ok {
		t.Fatalf("expected aggregated channel to close once context is cancelled")
	}
}

func TestListChatChannelsOrder(t *testing.T) {
	got := ListChatChannels()
	if len(got) != len(ChatChannelOrder) {
		t.Fatalf("expected %d channels, got %d", len(ChatChannelOrder), len(got))
	}
	if got[0].ID != ChannelTelegram {
		t.Fatalf("expected telegram first, got %s", got[0].ID)
	}
}

func TestNormalizeChatChannelID(t *testing.T) {
	cases := map[string]ChatChannelID{
		"Telegram": ChannelTelegram,
		" tg ":     ChannelTelegram,
		"wa":       ChannelWhatsApp,
		"mm":       ChannelMattermost,
		"bogus":    "",
	}
	for input, want := range cases {
		if got := NormalizeChatChannelID(input); got != want {
			t.Errorf("NormalizeChatChannelID(%q) = %q, want %q", input, got, want)
		}
	}
}

func TestModelChannelTypeRoundTrip(t *testing.T) {
	for _, id := range ChatChannelOrder {
		mt := ToModelChannelType(id)
		if mt == "" {
			t.Fatalf("expected a model channel type for %s", id)
		}
		if back := FromModelChannelType(mt); back != id {
			t.Errorf("round trip for %s produced %s", id, back)
		}
	}
}

func TestGetChannelCapabilities(t *testing.T) {
	caps := GetChannelCapabilities(ChannelDiscord)
	if caps == nil || caps.MaxMessageLength != 2000 {
		t.Fatalf("expected discord max message length 2000, got %#v", caps)
	}
	if GetChannelCapabilities(ChatChannelID("nope")) != nil {
		t.Fatalf("expected nil capabilities for unknown channel")
	}
}
