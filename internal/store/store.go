package store

import (
	"context"

	"github.com/nhle/mail-issue-link/internal/model"
)

// Store defines the persistence interface for message-to-issue associations
// and per-account refresh state.
//
// The association methods deliberately do not return errors: the callers
// (thread resolution, dialog flows) must stay usable when local storage
// misbehaves, so storage faults degrade to "absent" or "write failed" and
// are logged inside the store.
type Store interface {
	// SetMessageAssociation durably links a message to an issue,
	// overwriting any previous association. It reports whether the
	// write succeeded.
	SetMessageAssociation(ctx context.Context, messageID string, issueID int) bool

	// GetMessageAssociation returns the issue id linked to a message,
	// or false when no association exists or storage faults.
	GetMessageAssociation(ctx context.Context, messageID string) (int, bool)

	// GetMessageAssociations looks up several messages at once and
	// returns a map containing only the ids that have an association.
	GetMessageAssociations(ctx context.Context, messageIDs []string) map[string]int

	// === Refresh state ===

	UpsertRefreshState(ctx context.Context, state model.RefreshState) error
	GetRefreshState(ctx context.Context, accountID string) (*model.RefreshState, error)
}
