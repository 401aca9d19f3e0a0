package followup

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/ristrutturiamolo/callpilot/internal/database"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := database.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open database: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return NewStore(db.DB)
}

func TestCreateAndDue(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	past, err := store.Create(ctx, &FollowUp{
		ContactID: "c1", FollowUpAt: now.Add(-10 * time.Minute),
		Service: "Infissi", Province: "RM",
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := store.Create(ctx, &FollowUp{
		ContactID: "c2", FollowUpAt: now.Add(time.Hour),
	}); err != nil {
		t.Fatalf("create future: %v", err)
	}

	due, err := store.Due(ctx, now)
	if err != nil {
		t.Fatalf("due: %v", err)
	}
	if len(due) != 1 {
		t.Fatalf("due = %d entries, want 1", len(due))
	}
	f := due[0]
	if f.ID != past || f.ContactID != "c1" || f.Service != "Infissi" || f.Province != "RM" {
		t.Errorf("due entry = %+v", f)
	}
	if f.Status != "pending" {
		t.Errorf("status = %q, want pending", f.Status)
	}
}

func TestStuckRules(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	// Over 24h past due: stuck regardless of failures.
	old, err := store.Create(ctx, &FollowUp{ContactID: "old", FollowUpAt: now.Add(-25 * time.Hour)})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	// Two hours past due with a recorded failure: stuck.
	failing, err := store.Create(ctx, &FollowUp{ContactID: "failing", FollowUpAt: now.Add(-2 * time.Hour)})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := store.RecordFailure(ctx, failing, errors.New("intake returned 500")); err != nil {
		t.Fatalf("record failure: %v", err)
	}
	// Two hours past due without failures: just due, not stuck.
	if _, err := store.Create(ctx, &FollowUp{ContactID: "fresh", FollowUpAt: now.Add(-2 * time.Hour)}); err != nil {
		t.Fatalf("create: %v", err)
	}

	stuck, err := store.Stuck(ctx, now)
	if err != nil {
		t.Fatalf("stuck: %v", err)
	}
	ids := map[int64]bool{}
	for _, f := range stuck {
		ids[f.ID] = true
	}
	if len(stuck) != 2 || !ids[old] || !ids[failing] {
		t.Fatalf("stuck = %+v, want entries %d and %d", stuck, old, failing)
	}
}

func TestRecordFailureKeepsEntryPending(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	id, err := store.Create(ctx, &FollowUp{ContactID: "c1", FollowUpAt: now.Add(-time.Minute)})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := store.RecordFailure(ctx, id, errors.New("boom")); err != nil {
		t.Fatalf("record failure: %v", err)
	}

	due, err := store.Due(ctx, now)
	if err != nil {
		t.Fatalf("due: %v", err)
	}
	if len(due) != 1 {
		t.Fatalf("due = %d, want 1", len(due))
	}
	if due[0].FailureCount != 1 || due[0].LastError != "boom" {
		t.Errorf("failure state = %d/%q", due[0].FailureCount, due[0].LastError)
	}
}

func TestDelete(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	id, err := store.Create(ctx, &FollowUp{ContactID: "c1", FollowUpAt: time.Now().UTC().Add(-time.Minute)})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := store.Delete(ctx, id); err != nil {
		t.Fatalf("delete: %v", err)
	}
	due, err := store.Due(ctx, time.Now().UTC())
	if err != nil {
		t.Fatalf("due: %v", err)
	}
	if len(due) != 0 {
		t.Fatalf("due after delete = %d, want 0", len(due))
	}
}
