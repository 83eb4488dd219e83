package sync

import (
	"context"
	gosync "sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/nhle/mail-issue-link/internal/model"
	"github.com/nhle/mail-issue-link/internal/redmine"
	"github.com/nhle/mail-issue-link/internal/store"
)

// refreshTimeout is the maximum time allowed for one account refresh.
const refreshTimeout = 30 * time.Second

// RefreshResult reports the outcome of one account refresh cycle.
type RefreshResult struct {
	AccountID string
	Login     string
	Removed   int
	At        time.Time
	Err       error
}

// accountEntry holds a registered gateway, its configuration, and the
// channel carrying manual refresh triggers for this account only.
type accountEntry struct {
	gateway *redmine.Gateway
	cfg     model.AccountConfig
	trigger chan struct{}
}

// Refresher periodically recaches each account's tracker namespace and
// prewarms the commonly needed datasets (projects, trackers, statuses)
// so dialog flows open against warm caches. Refresh outcomes are
// recorded in the store and published on a result channel.
type Refresher struct {
	store    store.Store
	log      zerolog.Logger
	accounts []accountEntry
	resultCh chan RefreshResult
	stopCh   chan struct{}
	mu       gosync.Mutex
	running  bool
}

// New creates a Refresher backed by the given store.
func New(s store.Store, log zerolog.Logger) *Refresher {
	return &Refresher{
		store:    s,
		log:      log,
		resultCh: make(chan RefreshResult, 16),
		stopCh:   make(chan struct{}),
	}
}

// RegisterAccount adds an account gateway and its configuration.
func (r *Refresher) RegisterAccount(g *redmine.Gateway, cfg model.AccountConfig) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.accounts = append(r.accounts, accountEntry{
		gateway: g,
		cfg:     cfg,
		trigger: make(chan struct{}, 1),
	})
}

// Start launches a refresh goroutine for each registered account. Each
// account is refreshed once immediately and then on its configured
// interval.
func (r *Refresher) Start() {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return
	}
	r.running = true
	accounts := make([]accountEntry, len(r.accounts))
	copy(accounts, r.accounts)
	r.mu.Unlock()

	for _, entry := range accounts {
		go r.refreshLoop(entry)
	}
}

// Stop halts all refresh goroutines.
func (r *Refresher) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.running {
		return
	}

	close(r.stopCh)
	r.running = false
}

// Results returns the channel on which refresh outcomes are published.
func (r *Refresher) Results() <-chan RefreshResult {
	return r.resultCh
}

// RefreshAccount triggers an immediate refresh of a single account.
// Unknown account ids are ignored.
func (r *Refresher) RefreshAccount(accountID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, entry := range r.accounts {
		if entry.cfg.ID != accountID {
			continue
		}
		select {
		case entry.trigger <- struct{}{}:
		default:
			// A refresh is already pending for this account.
		}
		return
	}
}

// RefreshAll triggers an immediate refresh of every registered account.
func (r *Refresher) RefreshAll() {
	r.mu.Lock()
	accounts := make([]accountEntry, len(r.accounts))
	copy(accounts, r.accounts)
	r.mu.Unlock()

	for _, entry := range accounts {
		r.RefreshAccount(entry.cfg.ID)
	}
}

// refreshLoop runs the refresh cycle for a single account.
func (r *Refresher) refreshLoop(entry accountEntry) {
	interval := time.Duration(entry.cfg.RefreshIntervalSec) * time.Second
	if interval <= 0 {
		interval = 300 * time.Second
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	r.refreshAccount(entry)

	for {
		select {
		case <-r.stopCh:
			return
		case <-ticker.C:
			r.refreshAccount(entry)
		case <-entry.trigger:
			r.refreshAccount(entry)
		}
	}
}

// refreshAccount invalidates the account's cache namespace, validates the
// connection, prewarms the datasets the dialogs need, and records the
// outcome.
func (r *Refresher) refreshAccount(entry accountEntry) {
	ctx, cancel := context.WithTimeout(context.Background(), refreshTimeout)
	defer cancel()

	result := RefreshResult{
		AccountID: entry.cfg.ID,
		At:        time.Now().UTC(),
	}
	result.Removed = entry.gateway.Recache()

	login, err := entry.gateway.ValidateConnection(ctx)
	if err != nil {
		result.Err = err
		r.log.Warn().Err(err).
			Str("account_id", entry.cfg.ID).
			Msg("refresh connection check failed")
	} else {
		result.Login = login
		// Prewarm the datasets every dialog needs. Read failures
		// degrade to empty values and will be retried on demand.
		entry.gateway.Projects(ctx)
		entry.gateway.Trackers(ctx)
		entry.gateway.IssueStatuses(ctx)
	}

	state := model.RefreshState{
		AccountID:   entry.cfg.ID,
		RefreshedAt: result.At,
	}
	if result.Err != nil {
		state.Error = result.Err.Error()
	}
	if err := r.store.UpsertRefreshState(ctx, state); err != nil {
		r.log.Error().Err(err).
			Str("account_id", entry.cfg.ID).
			Msg("recording refresh state")
	}

	r.sendResult(result)
}

// sendResult publishes a result without blocking the refresh loop.
func (r *Refresher) sendResult(result RefreshResult) {
	select {
	case r.resultCh <- result:
	default:
		// Drop if nobody is listening to avoid blocking the refresher.
	}
}
