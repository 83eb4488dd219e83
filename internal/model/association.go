package model

import "time"

// Association is a stored link between a message and an issue-tracker
// issue. A message carries at most one association; writing again
// overwrites the previous issue id.
type Association struct {
	// MessageID is the protocol-level message identifier (the
	// Message-ID header value), globally unique and immutable.
	MessageID string `json:"message_id" db:"message_id"`

	// IssueID is the tracker issue the message is linked to.
	IssueID int `json:"issue_id" db:"issue_id"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// RefreshState records when an account's remote data was last recached by
// the background refresher.
type RefreshState struct {
	ID          string    `json:"id" db:"id"`
	AccountID   string    `json:"account_id" db:"account_id"`
	RefreshedAt time.Time `json:"refreshed_at" db:"refreshed_at"`
	Error       string    `json:"error,omitempty" db:"error"`
}
