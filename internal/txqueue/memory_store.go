package txqueue

import (
	"context"
	"sync"
	"time"

	"github.com/starkbot/starkbot/pkg/models"
)

// MemoryStore is an in-process Store, grounded on the teacher's
// MemoryApprovalStore: a mutex-guarded map with a linear scan for the
// duplicate-intent lookup.
type MemoryStore struct {
	mu  sync.RWMutex
	txs map[string]*models.QueuedTx
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{txs: make(map[string]*models.QueuedTx)}
}

func (s *MemoryStore) Create(ctx context.Context, tx *models.QueuedTx) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *tx
	s.txs[tx.UUID] = &cp
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, uuid string) (*models.QueuedTx, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	tx, ok := s.txs[uuid]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *tx
	return &cp, nil
}

func (s *MemoryStore) Update(ctx context.Context, tx *models.QueuedTx) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.txs[tx.UUID]; !ok {
		return ErrNotFound
	}
	cp := *tx
	s.txs[tx.UUID] = &cp
	return nil
}

func (s *MemoryStore) FindByIntentHash(ctx context.Context, sessionID, intentHash string, within time.Duration) (*models.QueuedTx, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cutoff := time.Now().Add(-within)
	for _, tx := range s.txs {
		if tx.SessionID == sessionID && tx.IntentHash == intentHash && tx.CreatedAt.After(cutoff) {
			cp := *tx
			return &cp, nil
		}
	}
	return nil, nil
}
