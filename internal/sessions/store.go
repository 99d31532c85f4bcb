package sessions

import (
	"context"

	"github.com/starkbot/starkbot/pkg/models"
)

// Store is the interface for session persistence.
type Store interface {
	// Session CRUD
	Create(ctx context.Context, session *models.Session) error
	Get(ctx context.Context, id string) (*models.Session, error)
	Update(ctx context.Context, session *models.Session) error
	Delete(ctx context.Context, id string) error

	// ActiveForIdentity returns the open (non-terminal completion status)
	// session for an identity on a channel, if one exists. At most one
	// active safe-mode session may exist per (identity, channel) pair;
	// callers enforce that invariant when resolving/creating sessions.
	ActiveForIdentity(ctx context.Context, identityID, channelID string) (*models.Session, error)
	List(ctx context.Context, identityID string, opts ListOptions) ([]*models.Session, error)

	// Message history, total-ordered by CreatedAt, append-only.
	AppendMessage(ctx context.Context, sessionID string, msg *models.Message) error
	GetHistory(ctx context.Context, sessionID string, limit int) ([]*models.Message, error)
}

// ListOptions configures session listing.
type ListOptions struct {
	Scope  models.Scope
	Limit  int
	Offset int
}

// SessionKey builds a unique lookup key for an (identity, channel) pair.
func SessionKey(identityID, channelID string) string {
	return identityID + ":" + channelID
}
