package txqueue

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/starkbot/starkbot/internal/events"
	"github.com/starkbot/starkbot/pkg/models"
)

type fakeBroadcaster struct {
	hash    string
	include bool
	err     error
}

func (f *fakeBroadcaster) Broadcast(ctx context.Context, tx *models.QueuedTx) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	return f.hash, nil
}

func (f *fakeBroadcaster) PollInclusion(ctx context.Context, txHash string, deadline time.Time) (bool, error) {
	return f.include, nil
}

func newCoordinator(mode models.BroadcastMode) *Coordinator {
	return NewCoordinator(NewMemoryStore(), events.NewBroadcaster(16), mode)
}

func TestEnqueueDedupesByIntentHash(t *testing.T) {
	c := newCoordinator(models.BroadcastPartner)
	intent := TxIntent{Network: "eth", From: "0xA", To: "0xB", ValueWei: "100"}

	first, err := c.Enqueue(context.Background(), "sess-1", intent)
	if err != nil {
		t.Fatal(err)
	}
	second, err := c.Enqueue(context.Background(), "sess-1", intent)
	if err != nil {
		t.Fatal(err)
	}
	if first != second {
		t.Fatalf("expected dedup to return original uuid, got %s vs %s", first, second)
	}
}

func TestPartnerModeWaitForDecisionBlocksUntilConfirm(t *testing.T) {
	c := newCoordinator(models.BroadcastPartner)
	uuid, err := c.Enqueue(context.Background(), "sess-1", TxIntent{Network: "eth", From: "0xA", To: "0xB", ValueWei: "1"})
	if err != nil {
		t.Fatal(err)
	}

	result := make(chan Decision, 1)
	go func() {
		d, err := c.WaitForDecision(context.Background(), uuid, 2*time.Second)
		if err != nil {
			t.Error(err)
		}
		result <- d
	}()

	time.Sleep(20 * time.Millisecond)
	bc := &fakeBroadcaster{hash: "0xhash", include: true}
	if _, err := c.Confirm(context.Background(), uuid, bc, time.Now().Add(time.Second)); err != nil {
		t.Fatal(err)
	}

	select {
	case d := <-result:
		if !d.Approved || d.TxHash != "0xhash" {
			t.Fatalf("expected approved decision with tx hash, got %+v", d)
		}
	case <-time.After(time.Second):
		t.Fatal("wait_for_decision did not resolve")
	}
}

func TestWaitForDecisionExpiresOnTimeout(t *testing.T) {
	c := newCoordinator(models.BroadcastPartner)
	uuid, _ := c.Enqueue(context.Background(), "sess-1", TxIntent{Network: "eth", From: "0xA", To: "0xB", ValueWei: "1"})

	d, err := c.WaitForDecision(context.Background(), uuid, 20*time.Millisecond)
	if err != nil {
		t.Fatal(err)
	}
	if !d.Expired {
		t.Fatalf("expected expired decision, got %+v", d)
	}
}

func TestRogueModeApprovesImmediately(t *testing.T) {
	c := newCoordinator(models.BroadcastRogue)
	uuid, _ := c.Enqueue(context.Background(), "sess-1", TxIntent{Network: "eth", From: "0xA", To: "0xB", ValueWei: "1"})

	d, err := c.WaitForDecision(context.Background(), uuid, time.Second)
	if err != nil {
		t.Fatal(err)
	}
	if !d.Approved {
		t.Fatalf("expected rogue mode to auto-approve, got %+v", d)
	}
}

func TestConfirmIsIdempotentOnNonPending(t *testing.T) {
	c := newCoordinator(models.BroadcastPartner)
	uuid, _ := c.Enqueue(context.Background(), "sess-1", TxIntent{Network: "eth", From: "0xA", To: "0xB", ValueWei: "1"})

	bc := &fakeBroadcaster{hash: "0xhash", include: true}
	first, err := c.Confirm(context.Background(), uuid, bc, time.Now().Add(time.Second))
	if err != nil {
		t.Fatal(err)
	}

	second, err := c.Confirm(context.Background(), uuid, bc, time.Now().Add(time.Second))
	if err != nil {
		t.Fatal(err)
	}
	if first != second {
		t.Fatalf("expected idempotent no-op on already-confirmed tx, got %s vs %s", first, second)
	}
}

func TestDenyIsIdempotentOnNonPending(t *testing.T) {
	c := newCoordinator(models.BroadcastPartner)
	uuid, _ := c.Enqueue(context.Background(), "sess-1", TxIntent{Network: "eth", From: "0xA", To: "0xB", ValueWei: "1"})

	if err := c.Deny(context.Background(), uuid); err != nil {
		t.Fatal(err)
	}
	if err := c.Deny(context.Background(), uuid); err != nil {
		t.Fatalf("second deny should be a no-op, got error: %v", err)
	}
}

func TestConfirmMarksFailedWhenBroadcastErrors(t *testing.T) {
	c := newCoordinator(models.BroadcastPartner)
	uuid, _ := c.Enqueue(context.Background(), "sess-1", TxIntent{Network: "eth", From: "0xA", To: "0xB", ValueWei: "1"})

	bc := &fakeBroadcaster{err: errors.New("rpc unavailable")}
	if _, err := c.Confirm(context.Background(), uuid, bc, time.Now().Add(time.Second)); err == nil {
		t.Fatal("expected broadcast error to propagate")
	}
}
