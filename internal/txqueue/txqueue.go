// Package txqueue implements the Transaction Queue Coordinator (§4.5): the
// bridge between the Orchestrator's web3_tx tool and the gateway's user
// approval UI for Web3 transaction intents.
package txqueue

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/starkbot/starkbot/internal/events"
	"github.com/starkbot/starkbot/pkg/models"
)

// ErrNotFound is returned when a QueuedTx uuid is unknown.
var ErrNotFound = errors.New("queued tx not found")

// Decision is the outcome wait_for_decision resolves to.
type Decision struct {
	Approved bool
	Denied   bool
	Expired  bool
	TxHash   string
	Error    string
}

// Store persists QueuedTx records. The in-memory implementation below is
// the default; a durable backend can satisfy the same interface.
type Store interface {
	Create(ctx context.Context, tx *models.QueuedTx) error
	Get(ctx context.Context, uuid string) (*models.QueuedTx, error)
	Update(ctx context.Context, tx *models.QueuedTx) error
	FindByIntentHash(ctx context.Context, sessionID, intentHash string, within time.Duration) (*models.QueuedTx, error)
}

// TxIntent is the caller-supplied shape of one Web3 transaction intent,
// prior to being queued.
type TxIntent struct {
	Network  string `json:"network"`
	From     string `json:"from"`
	To       string `json:"to"`
	ValueWei string `json:"value_wei"`
	Data     string `json:"data,omitempty"`
}

// Broadcaster submits a queued transaction to its chain and polls for
// inclusion. Kept as a narrow interface so the coordinator never depends
// on a specific chain client.
type Broadcaster interface {
	Broadcast(ctx context.Context, tx *models.QueuedTx) (txHash string, err error)
	PollInclusion(ctx context.Context, txHash string, deadline time.Time) (included bool, err error)
}

// Coordinator arbitrates QueuedTx lifecycle between the Orchestrator and
// the gateway (§4.5).
type Coordinator struct {
	store         Store
	events        *events.Broadcaster
	broadcastMode models.BroadcastMode

	mu      sync.Mutex
	waiters map[string][]chan Decision
}

// NewCoordinator creates a Coordinator. mode is the per-installation
// broadcast_mode (§4.5): rogue auto-confirms on enqueue, partner suspends
// for an explicit gateway decision.
func NewCoordinator(store Store, broadcaster *events.Broadcaster, mode models.BroadcastMode) *Coordinator {
	return &Coordinator{
		store:         store,
		events:        broadcaster,
		broadcastMode: mode,
		waiters:       make(map[string][]chan Decision),
	}
}

func intentHash(intent TxIntent) string {
	b, _ := json.Marshal(intent)
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// Enqueue persists a pending QueuedTx. A duplicate (session_id,
// intent-hash) within a short dedup window returns the original uuid
// instead of creating a second entry (§4.5's idempotence guarantee).
func (c *Coordinator) Enqueue(ctx context.Context, sessionID string, intent TxIntent) (string, error) {
	hash := intentHash(intent)

	const dedupWindow = 30 * time.Second
	if existing, err := c.store.FindByIntentHash(ctx, sessionID, hash, dedupWindow); err == nil && existing != nil {
		return existing.UUID, nil
	}

	tx := &models.QueuedTx{
		UUID:          uuid.NewString(),
		SessionID:     sessionID,
		Network:       intent.Network,
		From:          intent.From,
		To:            intent.To,
		ValueWei:      intent.ValueWei,
		Data:          intent.Data,
		Status:        models.TxPending,
		BroadcastMode: c.broadcastMode,
		IntentHash:    hash,
		CreatedAt:     time.Now(),
	}
	if err := c.store.Create(ctx, tx); err != nil {
		return "", err
	}

	if c.broadcastMode == models.BroadcastRogue {
		// Rogue installations never surface a confirmation prompt; the
		// tx sits pending, ready for an immediate Confirm, and any
		// wait_for_decision call resolves approved without blocking.
		return tx.UUID, nil
	}

	c.publish(ctx, events.ConfirmationRequired, tx)

	return tx.UUID, nil
}

// Peek reports the current decision for a uuid without blocking or
// registering a waiter: approved/denied/expired if resolved, or the
// zero Decision if still awaiting a gateway call.
func (c *Coordinator) Peek(ctx context.Context, txUUID string) (Decision, error) {
	tx, err := c.store.Get(ctx, txUUID)
	if err != nil {
		return Decision{}, err
	}
	if tx.Status.Terminal() {
		return c.decisionFor(tx), nil
	}
	if tx.Status == models.TxPending && tx.BroadcastMode == models.BroadcastRogue {
		return Decision{Approved: true}, nil
	}
	return Decision{}, nil
}

// WaitForDecision is the suspension point the web3_tx tool consumes in
// partner mode (§5): it blocks until confirm/deny resolves the uuid or
// timeout elapses.
func (c *Coordinator) WaitForDecision(ctx context.Context, txUUID string, timeout time.Duration) (Decision, error) {
	tx, err := c.store.Get(ctx, txUUID)
	if err != nil {
		return Decision{}, err
	}
	if tx.Status.Terminal() {
		return c.decisionFor(tx), nil
	}
	if tx.Status == models.TxPending && tx.BroadcastMode == models.BroadcastRogue {
		return Decision{Approved: true}, nil
	}

	ch := make(chan Decision, 1)
	c.mu.Lock()
	c.waiters[txUUID] = append(c.waiters[txUUID], ch)
	c.mu.Unlock()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case d := <-ch:
		return d, nil
	case <-ctx.Done():
		return Decision{}, ctx.Err()
	case <-timer.C:
		return Decision{Expired: true}, nil
	}
}

func (c *Coordinator) decisionFor(tx *models.QueuedTx) Decision {
	switch tx.Status {
	case models.TxConfirmed:
		return Decision{Approved: true, TxHash: tx.TxHash}
	case models.TxFailed:
		return Decision{Denied: true, Error: tx.Error}
	case models.TxExpired:
		return Decision{Expired: true}
	default:
		return Decision{}
	}
}

// transition moves tx to `to` iff the DAG permits it, and is a no-op
// otherwise. Every status change in Confirm/Deny goes through this so the
// DAG in pkg/models/tx.go stays the single source of truth.
func (c *Coordinator) transition(tx *models.QueuedTx, to models.TxStatus) bool {
	if !models.CanTransition(tx.Status, to) {
		return false
	}
	tx.Status = to
	return true
}

func (c *Coordinator) notify(txUUID string, d Decision) {
	c.mu.Lock()
	chans := c.waiters[txUUID]
	delete(c.waiters, txUUID)
	c.mu.Unlock()
	for _, ch := range chans {
		ch <- d
	}
}

// Confirm transitions a pending tx through broadcasting -> broadcast,
// invokes the chain broadcaster, then polls for inclusion up to
// deadline, finishing confirmed or failed. A no-op (returning the
// existing tx_hash, if any) when the tx is not currently pending.
func (c *Coordinator) Confirm(ctx context.Context, txUUID string, broadcaster Broadcaster, deadline time.Time) (string, error) {
	tx, err := c.store.Get(ctx, txUUID)
	if err != nil {
		return "", err
	}
	if tx.Status != models.TxPending {
		return tx.TxHash, nil
	}

	c.transition(tx, models.TxBroadcasting)
	if err := c.store.Update(ctx, tx); err != nil {
		return "", err
	}
	c.publish(ctx, events.TxPending, tx)

	txHash, err := broadcaster.Broadcast(ctx, tx)
	if err != nil {
		c.transition(tx, models.TxFailed)
		tx.Error = err.Error()
		_ = c.store.Update(ctx, tx)
		c.notify(txUUID, Decision{Denied: true, Error: err.Error()})
		return "", err
	}

	tx.TxHash = txHash
	c.transition(tx, models.TxBroadcast)
	if err := c.store.Update(ctx, tx); err != nil {
		return "", err
	}

	included, err := broadcaster.PollInclusion(ctx, txHash, deadline)
	now := time.Now()
	if err != nil || !included {
		c.transition(tx, models.TxFailed)
		if err != nil {
			tx.Error = err.Error()
		} else {
			tx.Error = "transaction not included before deadline"
		}
		_ = c.store.Update(ctx, tx)
		c.notify(txUUID, Decision{Denied: true, Error: tx.Error})
		return txHash, errors.New(tx.Error)
	}

	c.transition(tx, models.TxConfirmed)
	tx.ConfirmedAt = &now
	if err := c.store.Update(ctx, tx); err != nil {
		return txHash, err
	}
	c.publish(ctx, events.TxConfirmed, tx)
	c.notify(txUUID, Decision{Approved: true, TxHash: txHash})

	return txHash, nil
}

// Deny transitions a pending tx to expired. No-op on non-pending states.
func (c *Coordinator) Deny(ctx context.Context, txUUID string) error {
	tx, err := c.store.Get(ctx, txUUID)
	if err != nil {
		return err
	}
	if tx.Status != models.TxPending {
		return nil
	}
	c.transition(tx, models.TxExpired)
	if err := c.store.Update(ctx, tx); err != nil {
		return err
	}
	c.notify(txUUID, Decision{Expired: true})
	return nil
}

func (c *Coordinator) publish(ctx context.Context, t events.Type, tx *models.QueuedTx) {
	if c.events == nil {
		return
	}
	c.events.Publish(ctx, events.Event{
		Event:     t,
		SessionID: tx.SessionID,
		Data: map[string]any{
			"uuid":    tx.UUID,
			"status":  string(tx.Status),
			"tx_hash": tx.TxHash,
		},
	})
}
