// Package events implements the Event Broadcaster (§4.6): structured
// lifecycle events fanned out to gateway subscribers, with a bounded
// per-session circular buffer for replay on attachment.
package events

import (
	"context"
	"sync"
	"time"
)

// Type names every event the broadcaster ever emits. The set is
// non-exhaustive by design (modules may define their own), but these are
// the core ones named in §4.6.
type Type string

const (
	AgentToolCall       Type = "agent.tool_call"
	ToolResult          Type = "tool.result"
	ToolWaiting         Type = "tool.waiting"
	AgentThinking       Type = "agent.thinking"
	AgentResponse       Type = "agent.response"
	AgentError          Type = "agent.error"
	AgentWarning        Type = "agent.warning"
	AgentModeChange     Type = "agent.mode_change"
	AgentSubtypeChange  Type = "agent.subtype_change"
	StreamStart         Type = "stream.start"
	StreamContentDelta  Type = "stream.content_delta"
	StreamEnd           Type = "stream.end"
	StreamError         Type = "stream.error"
	TaskQueueUpdate     Type = "task.queue_update"
	TaskStatusChange    Type = "task.status_change"
	AIRetrying          Type = "ai.retrying"
	TxPending           Type = "tx.pending"
	TxConfirmed         Type = "tx.confirmed"
	ChannelMessage      Type = "channel.message"
	ChannelStarted      Type = "channel.started"
	ChannelStopped      Type = "channel.stopped"
	ChannelError        Type = "channel.error"
	ExecutionStarted    Type = "execution.started"
	ExecutionCompleted  Type = "execution.completed"
	ConfirmationRequired Type = "confirmation.required"
)

// Event is one published occurrence. Iteration/CallIndex give a consumer
// enough to reconstruct per-session order even though events from sibling
// tool tasks may interleave on the wire (§5).
type Event struct {
	Event     Type           `json:"event"`
	Timestamp time.Time      `json:"timestamp"`
	SessionID string         `json:"session_id,omitempty"`
	ChannelID string         `json:"channel_id,omitempty"`
	Iteration int            `json:"iteration,omitempty"`
	CallIndex int            `json:"call_index,omitempty"`
	Data      map[string]any `json:"data,omitempty"`
}

// Subscriber receives events through a buffered channel; Broadcaster never
// blocks on a slow subscriber beyond the channel's buffer (a full channel
// drops the event for that subscriber rather than stalling publication for
// the rest).
type Subscriber struct {
	ch        chan Event
	sessionID string // "" subscribes to every session
}

// Events returns the channel new events arrive on.
func (s *Subscriber) Events() <-chan Event {
	return s.ch
}

const defaultReplayBufferSize = 256
const defaultSubscriberBuffer = 64

// ring is a fixed-size circular buffer of the most recent events for one
// session, used to replay history to a subscriber on attach.
type ring struct {
	buf  []Event
	next int
	full bool
}

func newRing(size int) *ring {
	return &ring{buf: make([]Event, size)}
}

func (r *ring) add(e Event) {
	r.buf[r.next] = e
	r.next = (r.next + 1) % len(r.buf)
	if r.next == 0 {
		r.full = true
	}
}

// ordered returns the buffer's contents oldest-first.
func (r *ring) ordered() []Event {
	if !r.full {
		out := make([]Event, r.next)
		copy(out, r.buf[:r.next])
		return out
	}
	out := make([]Event, len(r.buf))
	copy(out, r.buf[r.next:])
	copy(out[len(r.buf)-r.next:], r.buf[:r.next])
	return out
}

// Broadcaster multiplexes published events to every subscriber, in
// publication order per subscriber, and retains a per-session replay
// buffer so a subscriber attaching mid-session can catch up.
type Broadcaster struct {
	mu           sync.RWMutex
	subscribers  map[*Subscriber]struct{}
	replay       map[string]*ring // sessionID -> ring
	replaySize   int
	subscriberCh int
}

// NewBroadcaster creates a Broadcaster with the given per-session replay
// buffer size (0 selects the default).
func NewBroadcaster(replaySize int) *Broadcaster {
	if replaySize <= 0 {
		replaySize = defaultReplayBufferSize
	}
	return &Broadcaster{
		subscribers:  make(map[*Subscriber]struct{}),
		replay:       make(map[string]*ring),
		replaySize:   replaySize,
		subscriberCh: defaultSubscriberBuffer,
	}
}

// Publish fans the event out to every subscriber (all-sessions and
// session-scoped) and appends it to its session's replay buffer.
func (b *Broadcaster) Publish(ctx context.Context, e Event) {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}

	b.mu.Lock()
	if e.SessionID != "" {
		r, ok := b.replay[e.SessionID]
		if !ok {
			r = newRing(b.replaySize)
			b.replay[e.SessionID] = r
		}
		r.add(e)
	}
	subs := make([]*Subscriber, 0, len(b.subscribers))
	for s := range b.subscribers {
		if s.sessionID == "" || s.sessionID == e.SessionID {
			subs = append(subs, s)
		}
	}
	b.mu.Unlock()

	for _, s := range subs {
		select {
		case s.ch <- e:
		case <-ctx.Done():
		default:
			// Subscriber's channel is full; drop for this subscriber only.
			// One slow consumer must never stall publication for others.
		}
	}
}

// Subscribe attaches a new subscriber. If sessionID is non-empty, events
// are filtered to that session and the replay buffer for it is delivered
// first, oldest first, before any live event.
func (b *Broadcaster) Subscribe(sessionID string) *Subscriber {
	sub := &Subscriber{
		ch:        make(chan Event, b.subscriberCh),
		sessionID: sessionID,
	}

	b.mu.Lock()
	b.subscribers[sub] = struct{}{}
	var backlog []Event
	if sessionID != "" {
		if r, ok := b.replay[sessionID]; ok {
			backlog = r.ordered()
		}
	}
	b.mu.Unlock()

	for _, e := range backlog {
		select {
		case sub.ch <- e:
		default:
		}
	}

	return sub
}

// Unsubscribe detaches a subscriber and closes its channel.
func (b *Broadcaster) Unsubscribe(sub *Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.subscribers[sub]; ok {
		delete(b.subscribers, sub)
		close(sub.ch)
	}
}

// SubscriberCount reports how many subscribers are currently attached.
func (b *Broadcaster) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}
