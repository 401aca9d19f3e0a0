package callqueue

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/ristrutturiamolo/callpilot/internal/database"
)

func openTestDB(t *testing.T) *database.DB {
	t.Helper()
	db, err := database.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open database: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func pendingEntry(contactID string, scheduledAt time.Time) *Entry {
	return &Entry{
		ContactID:   contactID,
		PhoneNumber: "+393331234567",
		FirstName:   "Mario",
		FullName:    "Mario Rossi",
		Service:     "Infissi",
		Province:    "RM",
		ScheduledAt: scheduledAt,
	}
}

func TestEnqueueAndGet(t *testing.T) {
	db := openTestDB(t)
	store := NewStore(db.DB)
	ctx := context.Background()

	e := pendingEntry("c1", time.Now().UTC())
	e.AvailableSlotsText = "Lunedì 19-01-2026: 10:00"
	e.SlotLayout = "single"
	e.PastCallSummary = "era caduta la linea"
	e.OriginalConversationID = "conv-1"

	id, err := store.Enqueue(ctx, e)
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	got, err := store.Get(ctx, id)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != StatusPending {
		t.Errorf("status = %q, want pending", got.Status)
	}
	if got.ContactID != "c1" || got.Province != "RM" || got.SlotLayout != "single" {
		t.Errorf("entry fields lost: %+v", got)
	}
	if got.PastCallSummary != "era caduta la linea" || got.OriginalConversationID != "conv-1" {
		t.Errorf("abrupt retry context lost: %+v", got)
	}
}

func TestClaimDueOrderAndLimit(t *testing.T) {
	db := openTestDB(t)
	store := NewStore(db.DB)
	ctx := context.Background()
	now := time.Now().UTC()

	for i, offset := range []time.Duration{-2 * time.Hour, -3 * time.Hour, -time.Hour, time.Hour} {
		if _, err := store.Enqueue(ctx, pendingEntry(fmt.Sprintf("c%d", i), now.Add(offset))); err != nil {
			t.Fatalf("enqueue %d: %v", i, err)
		}
	}

	claimed, err := store.ClaimDue(ctx, 2, now)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if len(claimed) != 2 {
		t.Fatalf("claimed %d, want 2", len(claimed))
	}
	// Oldest scheduled_at first: c1 (-3h) then c0 (-2h).
	if claimed[0].ContactID != "c1" || claimed[1].ContactID != "c0" {
		t.Errorf("claim order = %s, %s", claimed[0].ContactID, claimed[1].ContactID)
	}
	for _, e := range claimed {
		if e.Status != StatusProcessing {
			t.Errorf("claimed entry %d status = %q", e.ID, e.Status)
		}
	}

	// The future entry is never due.
	rest, err := store.ClaimDue(ctx, 10, now)
	if err != nil {
		t.Fatalf("second claim: %v", err)
	}
	if len(rest) != 1 || rest[0].ContactID != "c2" {
		t.Fatalf("second claim = %+v, want just c2", rest)
	}
}

func TestClaimDueDoesNotReclaimProcessing(t *testing.T) {
	db := openTestDB(t)
	store := NewStore(db.DB)
	ctx := context.Background()
	now := time.Now().UTC()

	if _, err := store.Enqueue(ctx, pendingEntry("c1", now.Add(-time.Hour))); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if _, err := store.ClaimDue(ctx, 10, now); err != nil {
		t.Fatalf("first claim: %v", err)
	}
	again, err := store.ClaimDue(ctx, 10, now)
	if err != nil {
		t.Fatalf("second claim: %v", err)
	}
	if len(again) != 0 {
		t.Fatalf("reclaimed %d processing entries", len(again))
	}
}

func TestDeleteAndPendingCount(t *testing.T) {
	db := openTestDB(t)
	store := NewStore(db.DB)
	ctx := context.Background()

	id, err := store.Enqueue(ctx, pendingEntry("c1", time.Now().UTC()))
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if n, _ := store.PendingCount(ctx); n != 1 {
		t.Fatalf("pending = %d, want 1", n)
	}
	if err := store.Delete(ctx, id); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if n, _ := store.PendingCount(ctx); n != 0 {
		t.Fatalf("pending after delete = %d, want 0", n)
	}
	if _, err := store.Get(ctx, id); !IsNotFound(err) {
		t.Fatalf("get deleted entry: %v, want not-found", err)
	}
}

func TestMarkFailed(t *testing.T) {
	db := openTestDB(t)
	store := NewStore(db.DB)
	ctx := context.Background()

	id, err := store.Enqueue(ctx, pendingEntry("c1", time.Now().UTC()))
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if err := store.MarkFailed(ctx, id, errors.New("telephony rejected the number")); err != nil {
		t.Fatalf("mark failed: %v", err)
	}
	got, err := store.Get(ctx, id)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != StatusFailed {
		t.Errorf("status = %q, want failed", got.Status)
	}
	if got.LastError != "telephony rejected the number" {
		t.Errorf("last error = %q", got.LastError)
	}
	if n, _ := store.PendingCount(ctx); n != 0 {
		t.Errorf("failed entry still counted as pending")
	}
}

func TestCallRecordRoundTrip(t *testing.T) {
	db := openTestDB(t)
	calls := NewCallStore(db.DB)
	ctx := context.Background()

	first := time.Date(2026, 1, 15, 9, 0, 0, 0, time.UTC)
	rec := &CallRecord{
		CallSid: "CA001", To: "+393331234567", ContactID: "c1",
		RetryCount: 2, SignedURL: "wss://voice.example/signed",
		FullName: "Mario Rossi", FirstName: "Mario", Email: "mario@example.com",
		AvailableSlots: "Lunedì 19-01-2026: 10:00", SlotLayout: "single",
		FirstAttemptTimestamp: first, Service: "Infissi", Province: "RM",
	}
	if err := calls.Create(ctx, rec); err != nil {
		t.Fatalf("create: %v", err)
	}
	got, err := calls.Get(ctx, "CA001")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != "initiated" {
		t.Errorf("status = %q, want initiated", got.Status)
	}
	if got.RetryCount != 2 || got.Province != "RM" || got.SlotLayout != "single" {
		t.Errorf("record fields lost: %+v", got)
	}
	if !got.FirstAttemptTimestamp.Equal(first) {
		t.Errorf("first attempt = %v, want %v", got.FirstAttemptTimestamp, first)
	}
}

func TestRetryLatchIsOneWay(t *testing.T) {
	db := openTestDB(t)
	calls := NewCallStore(db.DB)
	ctx := context.Background()

	if err := calls.Create(ctx, &CallRecord{CallSid: "CA001", To: "+39333", ContactID: "c1"}); err != nil {
		t.Fatalf("create: %v", err)
	}
	first, err := calls.TrySetRetryScheduled(ctx, "CA001")
	if err != nil {
		t.Fatalf("latch: %v", err)
	}
	if !first {
		t.Fatal("first latch attempt returned false")
	}
	for i := 0; i < 2; i++ {
		again, err := calls.TrySetRetryScheduled(ctx, "CA001")
		if err != nil {
			t.Fatalf("latch retry: %v", err)
		}
		if again {
			t.Fatal("duplicate latch attempt returned true")
		}
	}
}

func TestFindByConversationID(t *testing.T) {
	db := openTestDB(t)
	calls := NewCallStore(db.DB)
	ctx := context.Background()

	if err := calls.Create(ctx, &CallRecord{CallSid: "CA001", To: "+39333", ContactID: "c1"}); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := calls.SetConversationID(ctx, "CA001", "conv-9"); err != nil {
		t.Fatalf("set conversation: %v", err)
	}
	got, err := calls.FindByConversationID(ctx, "conv-9")
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if got.CallSid != "CA001" {
		t.Errorf("call sid = %q", got.CallSid)
	}
	if _, err := calls.FindByConversationID(ctx, "conv-missing"); err == nil {
		t.Fatal("expected error for unknown conversation")
	}
}

func TestLatestProvinceForContact(t *testing.T) {
	db := openTestDB(t)
	calls := NewCallStore(db.DB)
	ctx := context.Background()

	got, err := calls.LatestProvinceForContact(ctx, "c1")
	if err != nil {
		t.Fatalf("latest province: %v", err)
	}
	if got != "" {
		t.Fatalf("province for unknown contact = %q", got)
	}

	if err := calls.Create(ctx, &CallRecord{CallSid: "CA001", To: "+39333", ContactID: "c1", Province: "RM"}); err != nil {
		t.Fatalf("create: %v", err)
	}
	got, err = calls.LatestProvinceForContact(ctx, "c1")
	if err != nil {
		t.Fatalf("latest province: %v", err)
	}
	if got != "RM" {
		t.Fatalf("province = %q, want RM", got)
	}
}

func TestUpdateStatusPreservesAnsweredBy(t *testing.T) {
	db := openTestDB(t)
	calls := NewCallStore(db.DB)
	ctx := context.Background()

	if err := calls.Create(ctx, &CallRecord{CallSid: "CA001", To: "+39333", ContactID: "c1"}); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := calls.UpdateStatus(ctx, "CA001", "in-progress", "human"); err != nil {
		t.Fatalf("update: %v", err)
	}
	// A later callback without answeredBy must not wipe the value.
	if err := calls.UpdateStatus(ctx, "CA001", "completed", ""); err != nil {
		t.Fatalf("update: %v", err)
	}
	got, err := calls.Get(ctx, "CA001")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != "completed" || got.AnsweredBy != "human" {
		t.Errorf("status/answeredBy = %q/%q", got.Status, got.AnsweredBy)
	}
}
