package thread

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
)

// Policy selects how a thread's effective issue association is computed
// when its messages disagree, and how far a new association propagates.
type Policy int

const (
	// PolicyStrictRoot treats the earliest associated message as
	// authoritative: later replies cannot silently redirect a thread.
	// Writes touch only the root message.
	PolicyStrictRoot Policy = iota

	// PolicyPartialThread lets the most recent associated message win,
	// so a later reply can re-link the thread to a different issue.
	// Writes additionally fill unassociated non-root messages, leaving
	// already-associated ones untouched; a thread can therefore carry
	// several associations at once.
	PolicyPartialThread
)

// ParsePolicy converts a configuration string to a Policy.
func ParsePolicy(s string) (Policy, error) {
	switch s {
	case "strict-root", "":
		return PolicyStrictRoot, nil
	case "partial-thread":
		return PolicyPartialThread, nil
	default:
		return PolicyStrictRoot, fmt.Errorf("unknown thread policy %q", s)
	}
}

// String returns the configuration name of the policy.
func (p Policy) String() string {
	if p == PolicyPartialThread {
		return "partial-thread"
	}
	return "strict-root"
}

// AssociationStore is the subset of the persistence layer the resolver
// needs. Lookups and writes never return errors; faults degrade to
// absence or a false write result.
type AssociationStore interface {
	SetMessageAssociation(ctx context.Context, messageID string, issueID int) bool
	GetMessageAssociation(ctx context.Context, messageID string) (int, bool)
	GetMessageAssociations(ctx context.Context, messageIDs []string) map[string]int
}

// Resolver computes a thread's effective issue association from the
// per-message associations in the store. Its output depends only on the
// store contents for the supplied message ids and the policy; it keeps no
// state of its own.
type Resolver struct {
	store AssociationStore
	log   zerolog.Logger
}

// NewResolver creates a Resolver backed by the given association store.
func NewResolver(store AssociationStore, log zerolog.Logger) *Resolver {
	return &Resolver{store: store, log: log}
}

// GetThreadAssociation resolves the issue for a thread. messageIDs must be
// the thread's messages in order, root first. Messages without an
// association are skipped; the tie-break between the remaining ones is
// purely positional: strict-root returns the first, partial-thread the
// last. A thread with no associated message resolves to (0, false).
func (r *Resolver) GetThreadAssociation(
	ctx context.Context,
	messageIDs []string,
	policy Policy,
) (int, bool) {
	if len(messageIDs) == 0 {
		return 0, false
	}

	assocs := r.store.GetMessageAssociations(ctx, messageIDs)
	if len(assocs) == 0 {
		return 0, false
	}

	if policy == PolicyPartialThread {
		for i := len(messageIDs) - 1; i >= 0; i-- {
			if issueID, ok := assocs[messageIDs[i]]; ok {
				return issueID, true
			}
		}
		return 0, false
	}

	for _, id := range messageIDs {
		if issueID, ok := assocs[id]; ok {
			return issueID, true
		}
	}
	return 0, false
}

// SetThreadAssociation propagates a new association across a thread and
// returns the number of messages written. The root message (position 0)
// is always overwritten. Under partial-thread policy the remaining
// messages are filled only where no association exists yet; strict-root
// never touches non-root messages. Writes are independent: a failure on
// one message is logged and does not abort the others.
func (r *Resolver) SetThreadAssociation(
	ctx context.Context,
	messageIDs []string,
	issueID int,
	policy Policy,
) int {
	if len(messageIDs) == 0 {
		return 0
	}

	written := 0
	if r.store.SetMessageAssociation(ctx, messageIDs[0], issueID) {
		written++
	} else {
		r.log.Warn().
			Str("message_id", messageIDs[0]).
			Int("issue_id", issueID).
			Msg("root association write failed")
	}

	if policy != PolicyPartialThread {
		return written
	}

	rest := messageIDs[1:]
	existing := r.store.GetMessageAssociations(ctx, rest)
	for _, id := range rest {
		if _, ok := existing[id]; ok {
			continue
		}
		if r.store.SetMessageAssociation(ctx, id, issueID) {
			written++
			continue
		}
		r.log.Warn().
			Str("message_id", id).
			Int("issue_id", issueID).
			Msg("thread association write failed")
	}

	return written
}
