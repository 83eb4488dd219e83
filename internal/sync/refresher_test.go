package sync

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/nhle/mail-issue-link/internal/cache"
	"github.com/nhle/mail-issue-link/internal/model"
	"github.com/nhle/mail-issue-link/internal/redmine"
	"github.com/nhle/mail-issue-link/tests/testutil"
)

// newFakeTracker serves just enough of the tracker API for a refresh
// cycle: the current user plus empty prewarm datasets.
func newFakeTracker(t *testing.T) *httptest.Server {
	t.Helper()

	mux := http.NewServeMux()
	mux.HandleFunc("/users/current.json", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]redmine.User{
			"user": {ID: 1, Login: "dana"},
		})
	})
	mux.HandleFunc("/projects.json", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"projects": []redmine.Project{}, "total_count": 0, "offset": 0, "limit": 25,
		})
	})
	mux.HandleFunc("/trackers.json", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"trackers": []redmine.Tracker{}})
	})
	mux.HandleFunc("/issue_statuses.json", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"issue_statuses": []redmine.IssueStatus{}})
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func testAccount(id, url string) model.AccountConfig {
	return model.AccountConfig{
		ID:                 id,
		URL:                url,
		ProjectVisibility:  model.VisibilityAll,
		StatusVisibility:   model.VisibilityAll,
		RefreshIntervalSec: 3600,
	}
}

func TestRefresherInitialRefreshRecordsState(t *testing.T) {
	srv := newFakeTracker(t)
	s := testutil.NewTestStore(t)

	cfg := testAccount("acct-a", srv.URL)
	g := redmine.NewGateway(cfg, "key", cache.New(time.Minute), time.Minute, zerolog.Nop())

	r := New(s, zerolog.Nop())
	r.RegisterAccount(g, cfg)
	r.Start()
	defer r.Stop()

	select {
	case result := <-r.Results():
		if result.AccountID != "acct-a" {
			t.Fatalf("result account = %s; want acct-a", result.AccountID)
		}
		if result.Err != nil {
			t.Fatalf("refresh failed: %v", result.Err)
		}
		if result.Login != "dana" {
			t.Fatalf("result login = %q; want dana", result.Login)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for initial refresh result")
	}

	state, err := s.GetRefreshState(context.Background(), "acct-a")
	if err != nil {
		t.Fatalf("GetRefreshState: %v", err)
	}
	if state == nil {
		t.Fatal("expected a refresh state row after the initial refresh")
	}
	if state.Error != "" {
		t.Fatalf("refresh state error = %q; want empty", state.Error)
	}
}

func TestRefresherRecordsConnectionFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(
		func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
		},
	))
	t.Cleanup(srv.Close)

	s := testutil.NewTestStore(t)
	cfg := testAccount("acct-a", srv.URL)
	g := redmine.NewGateway(cfg, "bad-key", cache.New(time.Minute), time.Minute, zerolog.Nop())

	r := New(s, zerolog.Nop())
	r.RegisterAccount(g, cfg)
	r.Start()
	defer r.Stop()

	select {
	case result := <-r.Results():
		if result.Err == nil {
			t.Fatal("expected refresh result to carry the auth failure")
		}
		if !redmine.IsAuthError(result.Err) {
			t.Fatalf("refresh error = %v; want AuthError", result.Err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for refresh result")
	}

	state, err := s.GetRefreshState(context.Background(), "acct-a")
	if err != nil {
		t.Fatalf("GetRefreshState: %v", err)
	}
	if state == nil || state.Error == "" {
		t.Fatalf("refresh state = %+v; want recorded error", state)
	}
}

func TestRefreshAccountTargetsOnlyThatAccount(t *testing.T) {
	srv := newFakeTracker(t)
	s := testutil.NewTestStore(t)

	r := New(s, zerolog.Nop())
	for _, id := range []string{"acct-a", "acct-b"} {
		cfg := testAccount(id, srv.URL)
		g := redmine.NewGateway(cfg, "key", cache.New(time.Minute), time.Minute, zerolog.Nop())
		r.RegisterAccount(g, cfg)
	}
	r.Start()
	defer r.Stop()

	// Drain both initial refreshes.
	for i := 0; i < 2; i++ {
		select {
		case <-r.Results():
		case <-time.After(5 * time.Second):
			t.Fatal("timed out waiting for initial refreshes")
		}
	}

	// A trigger for acct-b must reach acct-b's loop even though both
	// account goroutines are running.
	r.RefreshAccount("acct-b")

	select {
	case result := <-r.Results():
		if result.AccountID != "acct-b" {
			t.Fatalf("refresh result account = %s; want acct-b", result.AccountID)
		}
		if result.Err != nil {
			t.Fatalf("targeted refresh failed: %v", result.Err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for the targeted refresh result")
	}

	// An unknown id is ignored rather than waking any account.
	r.RefreshAccount("acct-c")
	select {
	case result := <-r.Results():
		t.Fatalf("unexpected refresh result for %s", result.AccountID)
	case <-time.After(200 * time.Millisecond):
	}
}

func TestRefreshAccountManualTrigger(t *testing.T) {
	srv := newFakeTracker(t)
	s := testutil.NewTestStore(t)

	cfg := testAccount("acct-a", srv.URL)
	g := redmine.NewGateway(cfg, "key", cache.New(time.Minute), time.Minute, zerolog.Nop())

	r := New(s, zerolog.Nop())
	r.RegisterAccount(g, cfg)
	r.Start()
	defer r.Stop()

	// Drain the initial refresh, then trigger a manual one.
	select {
	case <-r.Results():
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for initial refresh")
	}

	r.RefreshAccount("acct-a")

	select {
	case result := <-r.Results():
		if result.Err != nil {
			t.Fatalf("manual refresh failed: %v", result.Err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for manual refresh result")
	}
}
