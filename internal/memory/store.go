// Package memory implements the Memory / Context Builder (§4.7): durable
// facts and notes attached to an identity, retrieved by a lexical +
// kind-priority + recency score rather than vector similarity — no
// embedding provider or vector extension is wired, by design (see
// scoring.go).
package memory

import (
	"context"

	"github.com/starkbot/starkbot/pkg/models"
)

// Store persists and retrieves Memory rows for one identity at a time.
// Two interchangeable backends implement it: SQLiteStore (pure-Go,
// single-process) and PostgresStore (multi-instance, shared corpus).
type Store interface {
	Create(ctx context.Context, m *models.Memory) error
	Delete(ctx context.Context, id string) error

	// ListForIdentity returns every non-expired memory belonging to an
	// identity, for the scoring pass in Search/MultiSearch to rank
	// in-process.
	ListForIdentity(ctx context.Context, identityID string) ([]*models.Memory, error)

	Close() error
}
