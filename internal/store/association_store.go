package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/nhle/mail-issue-link/internal/model"
)

// SetMessageAssociation durably links a message to an issue. The write is
// last-wins: an existing row for the same message id is overwritten while
// its created_at is preserved. Storage faults are logged and reported as
// false; they never propagate to the caller.
func (s *SQLiteStore) SetMessageAssociation(
	ctx context.Context,
	messageID string,
	issueID int,
) bool {
	if messageID == "" {
		return false
	}

	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO associations (message_id, issue_id, created_at, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(message_id) DO UPDATE SET
			issue_id = excluded.issue_id,
			updated_at = excluded.updated_at`,
		messageID, issueID, now, now,
	)
	if err != nil {
		s.log.Error().Err(err).
			Str("message_id", messageID).
			Int("issue_id", issueID).
			Msg("writing message association")
		return false
	}

	return true
}

// GetMessageAssociation returns the issue id linked to a message. Absent
// rows and storage faults both resolve to false; faults are logged.
func (s *SQLiteStore) GetMessageAssociation(
	ctx context.Context,
	messageID string,
) (int, bool) {
	var issueID int
	err := s.db.GetContext(ctx, &issueID,
		"SELECT issue_id FROM associations WHERE message_id = ?", messageID,
	)
	if err != nil {
		if !errors.Is(err, sql.ErrNoRows) {
			s.log.Error().Err(err).
				Str("message_id", messageID).
				Msg("reading message association")
		}
		return 0, false
	}

	return issueID, true
}

// GetMessageAssociations looks up associations for a batch of message ids
// in a single query. The returned map contains only ids that have one;
// storage faults degrade to an empty result.
func (s *SQLiteStore) GetMessageAssociations(
	ctx context.Context,
	messageIDs []string,
) map[string]int {
	result := make(map[string]int, len(messageIDs))
	if len(messageIDs) == 0 {
		return result
	}

	placeholders := strings.TrimRight(
		strings.Repeat("?,", len(messageIDs)), ",",
	)
	args := make([]interface{}, len(messageIDs))
	for i, id := range messageIDs {
		args[i] = id
	}

	query := fmt.Sprintf(
		"SELECT message_id, issue_id FROM associations WHERE message_id IN (%s)",
		placeholders,
	)

	rows, err := s.db.QueryxContext(ctx, query, args...)
	if err != nil {
		s.log.Error().Err(err).
			Int("count", len(messageIDs)).
			Msg("reading message associations")
		return result
	}
	defer rows.Close()

	for rows.Next() {
		var assoc model.Association
		if err := rows.Scan(&assoc.MessageID, &assoc.IssueID); err != nil {
			s.log.Error().Err(err).Msg("scanning association row")
			return result
		}
		result[assoc.MessageID] = assoc.IssueID
	}
	if err := rows.Err(); err != nil {
		s.log.Error().Err(err).Msg("iterating association rows")
	}

	return result
}

// UpsertRefreshState inserts or replaces the refresh record for an account.
// If the state has no ID, a new UUID is generated.
func (s *SQLiteStore) UpsertRefreshState(
	ctx context.Context,
	state model.RefreshState,
) error {
	if state.ID == "" {
		state.ID = uuid.New().String()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO refresh_states (id, account_id, refreshed_at, error)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(account_id) DO UPDATE SET
			refreshed_at = excluded.refreshed_at,
			error = excluded.error`,
		state.ID, state.AccountID, state.RefreshedAt.UTC(), state.Error,
	)
	if err != nil {
		return fmt.Errorf("upserting refresh state for %s: %w", state.AccountID, err)
	}

	return nil
}

// GetRefreshState retrieves the refresh record for an account, or nil when
// the account has never been refreshed.
func (s *SQLiteStore) GetRefreshState(
	ctx context.Context,
	accountID string,
) (*model.RefreshState, error) {
	var state model.RefreshState
	err := s.db.GetContext(ctx, &state,
		"SELECT * FROM refresh_states WHERE account_id = ?", accountID,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("getting refresh state for %s: %w", accountID, err)
	}

	return &state, nil
}
