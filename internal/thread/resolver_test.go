package thread_test

import (
	"context"
	"testing"

	"github.com/rs/zerolog"

	"github.com/nhle/mail-issue-link/internal/thread"
	"github.com/nhle/mail-issue-link/tests/testutil"
)

var threadIDs = []string{
	"<m1@example.com>", "<m2@example.com>", "<m3@example.com>",
}

func TestGetThreadAssociationStrictRoot(t *testing.T) {
	s := testutil.NewTestStore(t)
	ctx := context.Background()
	r := thread.NewResolver(s, zerolog.Nop())

	// m1 -> 5, m3 -> 9, m2 unassociated.
	s.SetMessageAssociation(ctx, threadIDs[0], 5)
	s.SetMessageAssociation(ctx, threadIDs[2], 9)

	issueID, ok := r.GetThreadAssociation(ctx, threadIDs, thread.PolicyStrictRoot)
	if !ok || issueID != 5 {
		t.Fatalf("strict-root resolution = %d, %v; want 5, true", issueID, ok)
	}
}

func TestGetThreadAssociationPartialThread(t *testing.T) {
	s := testutil.NewTestStore(t)
	ctx := context.Background()
	r := thread.NewResolver(s, zerolog.Nop())

	s.SetMessageAssociation(ctx, threadIDs[0], 5)
	s.SetMessageAssociation(ctx, threadIDs[2], 9)

	issueID, ok := r.GetThreadAssociation(ctx, threadIDs, thread.PolicyPartialThread)
	if !ok || issueID != 9 {
		t.Fatalf("partial-thread resolution = %d, %v; want 9, true", issueID, ok)
	}
}

func TestGetThreadAssociationSkipsUnassociatedTail(t *testing.T) {
	s := testutil.NewTestStore(t)
	ctx := context.Background()
	r := thread.NewResolver(s, zerolog.Nop())

	// Only the middle message is associated; both policies must find it.
	s.SetMessageAssociation(ctx, threadIDs[1], 7)

	for _, policy := range []thread.Policy{
		thread.PolicyStrictRoot, thread.PolicyPartialThread,
	} {
		issueID, ok := r.GetThreadAssociation(ctx, threadIDs, policy)
		if !ok || issueID != 7 {
			t.Fatalf("%s resolution = %d, %v; want 7, true", policy, issueID, ok)
		}
	}
}

func TestGetThreadAssociationNone(t *testing.T) {
	s := testutil.NewTestStore(t)
	r := thread.NewResolver(s, zerolog.Nop())

	issueID, ok := r.GetThreadAssociation(
		context.Background(), threadIDs, thread.PolicyStrictRoot,
	)
	if ok || issueID != 0 {
		t.Fatalf("resolution of bare thread = %d, %v; want 0, false", issueID, ok)
	}

	if _, ok := r.GetThreadAssociation(
		context.Background(), nil, thread.PolicyStrictRoot,
	); ok {
		t.Fatal("empty thread must resolve to no association")
	}
}

func TestSetThreadAssociationStrictRootWritesOnlyRoot(t *testing.T) {
	s := testutil.NewTestStore(t)
	ctx := context.Background()
	r := thread.NewResolver(s, zerolog.Nop())

	written := r.SetThreadAssociation(ctx, threadIDs, 12, thread.PolicyStrictRoot)
	if written != 1 {
		t.Fatalf("wrote %d associations; want 1", written)
	}

	if issueID, ok := s.GetMessageAssociation(ctx, threadIDs[0]); !ok || issueID != 12 {
		t.Fatalf("root association = %d, %v; want 12, true", issueID, ok)
	}
	for _, id := range threadIDs[1:] {
		if _, ok := s.GetMessageAssociation(ctx, id); ok {
			t.Fatalf("non-root message %s was written under strict-root", id)
		}
	}
}

func TestSetThreadAssociationPartialFillsGapsOnly(t *testing.T) {
	s := testutil.NewTestStore(t)
	ctx := context.Background()
	r := thread.NewResolver(s, zerolog.Nop())

	// Root carries an old association and m3 is linked elsewhere.
	s.SetMessageAssociation(ctx, threadIDs[0], 5)
	s.SetMessageAssociation(ctx, threadIDs[2], 9)

	written := r.SetThreadAssociation(ctx, threadIDs, 12, thread.PolicyPartialThread)
	if written != 2 {
		t.Fatalf("wrote %d associations; want 2 (root + m2)", written)
	}

	// Root is always overwritten.
	if issueID, _ := s.GetMessageAssociation(ctx, threadIDs[0]); issueID != 12 {
		t.Fatalf("root association = %d; want 12", issueID)
	}
	// The unassociated middle message picks up the new id.
	if issueID, _ := s.GetMessageAssociation(ctx, threadIDs[1]); issueID != 12 {
		t.Fatalf("m2 association = %d; want 12", issueID)
	}
	// The already-associated tail keeps its original issue.
	if issueID, _ := s.GetMessageAssociation(ctx, threadIDs[2]); issueID != 9 {
		t.Fatalf("m3 association = %d; want 9 (must not be overwritten)", issueID)
	}
}

// faultyStore fails every write but serves lookups from a fixed map. It
// verifies that one failed write does not abort the rest of the thread.
type faultyStore struct {
	assocs   map[string]int
	failures int
}

func (f *faultyStore) SetMessageAssociation(_ context.Context, _ string, _ int) bool {
	f.failures++
	return false
}

func (f *faultyStore) GetMessageAssociation(_ context.Context, id string) (int, bool) {
	issueID, ok := f.assocs[id]
	return issueID, ok
}

func (f *faultyStore) GetMessageAssociations(_ context.Context, ids []string) map[string]int {
	out := make(map[string]int)
	for _, id := range ids {
		if issueID, ok := f.assocs[id]; ok {
			out[id] = issueID
		}
	}
	return out
}

func TestSetThreadAssociationToleratesWriteFailures(t *testing.T) {
	fs := &faultyStore{assocs: map[string]int{}}
	r := thread.NewResolver(fs, zerolog.Nop())

	written := r.SetThreadAssociation(
		context.Background(), threadIDs, 12, thread.PolicyPartialThread,
	)
	if written != 0 {
		t.Fatalf("wrote %d associations on a failing store; want 0", written)
	}
	// Root plus both unassociated non-root messages must each be attempted.
	if fs.failures != 3 {
		t.Fatalf("attempted %d writes; want 3", fs.failures)
	}
}

func TestParsePolicy(t *testing.T) {
	cases := []struct {
		in      string
		want    thread.Policy
		wantErr bool
	}{
		{"strict-root", thread.PolicyStrictRoot, false},
		{"partial-thread", thread.PolicyPartialThread, false},
		{"", thread.PolicyStrictRoot, false},
		{"latest-wins", thread.PolicyStrictRoot, true},
	}

	for _, tc := range cases {
		got, err := thread.ParsePolicy(tc.in)
		if (err != nil) != tc.wantErr {
			t.Fatalf("ParsePolicy(%q) error = %v; wantErr %v", tc.in, err, tc.wantErr)
		}
		if got != tc.want {
			t.Fatalf("ParsePolicy(%q) = %v; want %v", tc.in, got, tc.want)
		}
	}
}
