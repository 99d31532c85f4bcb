// Package identity resolves and persists stable logical users.
//
// An identity is created the first time a (channel_type, user_id) pair is
// seen and is destroyed only by administrative action; it owns sessions and
// memories for the lifetime of the user's relationship with the platform.
package identity

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/starkbot/starkbot/pkg/models"
)

// Store defines identity persistence and resolution.
type Store interface {
	// GetOrCreate resolves the identity for (channelType, userID), creating
	// one on first sighting. displayName seeds DisplayName only on create.
	GetOrCreate(ctx context.Context, channelType models.ChannelType, userID, displayName string) (*models.Identity, error)

	// Get retrieves an identity by ID.
	Get(ctx context.Context, id string) (*models.Identity, error)

	// SetAdmin flips the administrative flag on an identity.
	SetAdmin(ctx context.Context, id string, isAdmin bool) error

	// Delete removes an identity. Administrative action only; callers are
	// responsible for deciding whether to cascade to sessions/memories.
	Delete(ctx context.Context, id string) error

	// List returns identities with pagination, most recently created first.
	List(ctx context.Context, limit, offset int) ([]*models.Identity, int, error)
}

// MemoryStore is an in-memory Store, suitable for tests and single-process
// deployments without a configured database.
type MemoryStore struct {
	mu sync.RWMutex

	byID  map[string]*models.Identity
	byKey map[string]string // "channelType:userID" -> id
}

// NewMemoryStore creates an empty in-memory identity store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byID:  make(map[string]*models.Identity),
		byKey: make(map[string]string),
	}
}

func identityKey(channelType models.ChannelType, userID string) string {
	return string(channelType) + ":" + userID
}

func cloneIdentity(id *models.Identity) *models.Identity {
	clone := *id
	return &clone
}

// GetOrCreate resolves or creates the identity for (channelType, userID).
func (s *MemoryStore) GetOrCreate(ctx context.Context, channelType models.ChannelType, userID, displayName string) (*models.Identity, error) {
	key := identityKey(channelType, userID)

	s.mu.RLock()
	if id, ok := s.byKey[key]; ok {
		existing := s.byID[id]
		s.mu.RUnlock()
		return cloneIdentity(existing), nil
	}
	s.mu.RUnlock()

	s.mu.Lock()
	defer s.mu.Unlock()

	// Re-check under the write lock: another goroutine may have created it
	// between the read-unlock above and acquiring the write lock.
	if id, ok := s.byKey[key]; ok {
		return cloneIdentity(s.byID[id]), nil
	}

	now := time.Now()
	identity := &models.Identity{
		ID:          uuid.NewString(),
		ChannelType: channelType,
		UserID:      userID,
		DisplayName: displayName,
		CreatedAt:   now,
	}
	s.byID[identity.ID] = identity
	s.byKey[key] = identity.ID
	return cloneIdentity(identity), nil
}

// Get retrieves an identity by ID.
func (s *MemoryStore) Get(ctx context.Context, id string) (*models.Identity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	identity, ok := s.byID[id]
	if !ok {
		return nil, nil
	}
	return cloneIdentity(identity), nil
}

// SetAdmin flips the administrative flag on an identity.
func (s *MemoryStore) SetAdmin(ctx context.Context, id string, isAdmin bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	identity, ok := s.byID[id]
	if !ok {
		return fmt.Errorf("identity not found: %s", id)
	}
	identity.IsAdmin = isAdmin
	return nil
}

// Delete removes an identity.
func (s *MemoryStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	identity, ok := s.byID[id]
	if !ok {
		return nil
	}
	delete(s.byKey, identityKey(identity.ChannelType, identity.UserID))
	delete(s.byID, id)
	return nil
}

// List returns identities with pagination, most recently created first.
func (s *MemoryStore) List(ctx context.Context, limit, offset int) ([]*models.Identity, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	all := make([]*models.Identity, 0, len(s.byID))
	for _, identity := range s.byID {
		all = append(all, identity)
	}
	total := len(all)

	// Newest first: sort.Slice by CreatedAt descending.
	for i := 1; i < len(all); i++ {
		for j := i; j > 0 && all[j].CreatedAt.After(all[j-1].CreatedAt); j-- {
			all[j], all[j-1] = all[j-1], all[j]
		}
	}

	if offset >= len(all) {
		return []*models.Identity{}, total, nil
	}
	end := offset + limit
	if limit <= 0 || end > len(all) {
		end = len(all)
	}

	out := make([]*models.Identity, 0, end-offset)
	for _, identity := range all[offset:end] {
		out = append(out, cloneIdentity(identity))
	}
	return out, total, nil
}
