package events

import (
	"context"
	"testing"
	"time"
)

func TestPublishDeliversInOrder(t *testing.T) {
	b := NewBroadcaster(8)
	sub := b.Subscribe("s1")
	defer b.Unsubscribe(sub)

	ctx := context.Background()
	b.Publish(ctx, Event{Event: AgentThinking, SessionID: "s1"})
	b.Publish(ctx, Event{Event: AgentResponse, SessionID: "s1"})

	first := <-sub.Events()
	second := <-sub.Events()
	if first.Event != AgentThinking || second.Event != AgentResponse {
		t.Fatalf("got out-of-order events: %v, %v", first.Event, second.Event)
	}
}

func TestSubscribeSessionFilter(t *testing.T) {
	b := NewBroadcaster(8)
	sub := b.Subscribe("s1")
	defer b.Unsubscribe(sub)

	ctx := context.Background()
	b.Publish(ctx, Event{Event: AgentResponse, SessionID: "other"})

	select {
	case e := <-sub.Events():
		t.Fatalf("unexpected event delivered: %v", e)
	case <-time.After(10 * time.Millisecond):
	}
}

func TestReplayBufferOnAttach(t *testing.T) {
	b := NewBroadcaster(4)
	ctx := context.Background()
	b.Publish(ctx, Event{Event: TaskQueueUpdate, SessionID: "s1"})
	b.Publish(ctx, Event{Event: TaskStatusChange, SessionID: "s1"})

	sub := b.Subscribe("s1")
	defer b.Unsubscribe(sub)

	first := <-sub.Events()
	second := <-sub.Events()
	if first.Event != TaskQueueUpdate || second.Event != TaskStatusChange {
		t.Fatalf("replay did not preserve order: %v, %v", first.Event, second.Event)
	}
}

func TestReplayRingEvictsOldest(t *testing.T) {
	r := newRing(2)
	r.add(Event{Event: AgentThinking})
	r.add(Event{Event: AgentResponse})
	r.add(Event{Event: AgentError})

	out := r.ordered()
	if len(out) != 2 || out[0].Event != AgentResponse || out[1].Event != AgentError {
		t.Fatalf("unexpected ring contents: %+v", out)
	}
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	b := NewBroadcaster(4)
	sub := b.Subscribe("")
	b.Unsubscribe(sub)

	if _, ok := <-sub.ch; ok {
		t.Fatal("expected channel to be closed")
	}
	if b.SubscriberCount() != 0 {
		t.Fatalf("expected 0 subscribers, got %d", b.SubscriberCount())
	}
}
