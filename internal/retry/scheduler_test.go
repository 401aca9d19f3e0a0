package retry

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/ristrutturiamolo/callpilot/internal/callqueue"
	"github.com/ristrutturiamolo/callpilot/internal/database"
	"github.com/ristrutturiamolo/callpilot/internal/notify"
	"github.com/ristrutturiamolo/callpilot/internal/twilio"
)

type fakeHanger struct {
	hungUp []string
	err    error
}

func (f *fakeHanger) Hangup(_ context.Context, callSid string) error {
	f.hungUp = append(f.hungUp, callSid)
	return f.err
}

func newTestScheduler(t *testing.T) (*Scheduler, *callqueue.CallStore, *callqueue.Store, *fakeHanger) {
	t.Helper()
	db, err := database.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	calls := callqueue.NewCallStore(db.DB)
	queue := callqueue.NewStore(db.DB)
	hanger := &fakeHanger{}
	factory := &twilio.ParamsFactory{
		PublicBaseURL:  "https://calls.example.com",
		OutgoingPrefix: "/outbound",
		NumberFor:      func(string) string { return "+390612345678" },
	}
	s := NewScheduler(calls, queue, hanger, factory, notify.New("", nil), nil, nil)
	return s, calls, queue, hanger
}

func seedCall(t *testing.T, calls *callqueue.CallStore, rec *callqueue.CallRecord) {
	t.Helper()
	if rec.CallSid == "" {
		rec.CallSid = "CA001"
	}
	if rec.To == "" {
		rec.To = "+393331234567"
	}
	if rec.Service == "" {
		rec.Service = "Infissi"
	}
	if err := calls.Create(context.Background(), rec); err != nil {
		t.Fatalf("seed call: %v", err)
	}
}

func TestIsMachine(t *testing.T) {
	for _, token := range []string{"machine_start", "fax", "machine_end_beep"} {
		if !IsMachine(token) {
			t.Errorf("IsMachine(%q) = false", token)
		}
	}
	for _, token := range []string{"human", "unknown", ""} {
		if IsMachine(token) {
			t.Errorf("IsMachine(%q) = true", token)
		}
	}
}

func TestNextAttemptTime(t *testing.T) {
	s := &Scheduler{now: func() time.Time {
		return time.Date(2026, 1, 15, 10, 0, 0, 0, time.UTC)
	}}

	if got := s.nextAttemptTime(1); !got.Equal(s.now()) {
		t.Errorf("attempt 1 = %v, want immediate", got)
	}
	if got := s.nextAttemptTime(2); !got.Equal(s.now().Add(time.Hour)) {
		t.Errorf("attempt 2 = %v, want +1h", got)
	}
	// 11:00 Rome now, so 09:00 Rome is tomorrow (08:00 UTC in winter).
	if got, want := s.nextAttemptTime(4), time.Date(2026, 1, 16, 8, 0, 0, 0, time.UTC); !got.Equal(want) {
		t.Errorf("attempt 4 = %v, want %v", got, want)
	}
	// Friday evening: next 09:00 Rome would be Saturday, so the morning
	// callback moves to Monday.
	friday := &Scheduler{now: func() time.Time {
		return time.Date(2026, 1, 16, 20, 0, 0, 0, time.UTC)
	}}
	if got, want := friday.nextAttemptTime(4), time.Date(2026, 1, 19, 8, 0, 0, 0, time.UTC); !got.Equal(want) {
		t.Errorf("attempt 4 from Friday = %v, want Monday %v", got, want)
	}
	// 14:00 Rome is still ahead today.
	if got, want := s.nextAttemptTime(6), time.Date(2026, 1, 15, 13, 0, 0, 0, time.UTC); !got.Equal(want) {
		t.Errorf("attempt 6 = %v, want %v", got, want)
	}
	if got, want := s.nextAttemptTime(8), time.Date(2026, 1, 15, 18, 0, 0, 0, time.UTC); !got.Equal(want) {
		t.Errorf("attempt 8 = %v, want %v", got, want)
	}
}

func TestHandleStatusNoAnswerSchedulesRetry(t *testing.T) {
	s, calls, queue, _ := newTestScheduler(t)
	ctx := context.Background()
	seedCall(t, calls, &callqueue.CallRecord{
		ContactID: "c1", RetryCount: 0, Province: "RM",
		FullName: "Mario Rossi", FirstName: "Mario",
	})

	err := s.HandleStatus(ctx, StatusCallback{CallSid: "CA001", CallStatus: "no-answer"})
	if err != nil {
		t.Fatalf("HandleStatus: %v", err)
	}

	n, err := queue.PendingCount(ctx)
	if err != nil {
		t.Fatalf("pending count: %v", err)
	}
	if n != 1 {
		t.Fatalf("pending = %d, want 1", n)
	}

	due, err := queue.ClaimDue(ctx, 10, time.Now().UTC().Add(time.Minute))
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if len(due) != 1 {
		t.Fatalf("claimed %d entries, want 1", len(due))
	}
	e := due[0]
	if e.RetryStage != 1 {
		t.Errorf("retry stage = %d, want 1", e.RetryStage)
	}
	if e.ContactID != "c1" || e.Province != "RM" || e.FirstName != "Mario" {
		t.Errorf("entry lost identity fields: %+v", e)
	}
	if e.CallOptionsBlob == "" {
		t.Error("entry has no call options blob")
	}
}

func TestHandleStatusDuplicateCallbackIsNoOp(t *testing.T) {
	s, calls, queue, _ := newTestScheduler(t)
	ctx := context.Background()
	seedCall(t, calls, &callqueue.CallRecord{ContactID: "c1", Province: "RM"})

	for i := 0; i < 3; i++ {
		if err := s.HandleStatus(ctx, StatusCallback{CallSid: "CA001", CallStatus: "busy"}); err != nil {
			t.Fatalf("HandleStatus #%d: %v", i, err)
		}
	}
	n, err := queue.PendingCount(ctx)
	if err != nil {
		t.Fatalf("pending count: %v", err)
	}
	if n != 1 {
		t.Fatalf("pending = %d after duplicates, want 1", n)
	}
}

func TestHandleStatusMachineOnLiveCallHangsUp(t *testing.T) {
	s, calls, queue, hanger := newTestScheduler(t)
	ctx := context.Background()
	seedCall(t, calls, &callqueue.CallRecord{ContactID: "c1", Province: "RM"})

	err := s.HandleStatus(ctx, StatusCallback{
		CallSid: "CA001", CallStatus: "in-progress", AnsweredBy: "machine_start",
	})
	if err != nil {
		t.Fatalf("HandleStatus: %v", err)
	}
	if len(hanger.hungUp) != 1 || hanger.hungUp[0] != "CA001" {
		t.Fatalf("hangup calls = %v, want [CA001]", hanger.hungUp)
	}
	if n, _ := queue.PendingCount(ctx); n != 1 {
		t.Fatalf("pending = %d, want 1", n)
	}
}

func TestHandleStatusHumanCompletionIsTerminal(t *testing.T) {
	s, calls, queue, hanger := newTestScheduler(t)
	ctx := context.Background()
	seedCall(t, calls, &callqueue.CallRecord{ContactID: "c1", Province: "RM"})

	err := s.HandleStatus(ctx, StatusCallback{
		CallSid: "CA001", CallStatus: "completed", AnsweredBy: "human",
	})
	if err != nil {
		t.Fatalf("HandleStatus: %v", err)
	}
	if len(hanger.hungUp) != 0 {
		t.Error("completed human call was hung up")
	}
	if n, _ := queue.PendingCount(ctx); n != 0 {
		t.Fatalf("pending = %d, want 0", n)
	}
}

func TestHandleStatusMaxAttemptsStopsChain(t *testing.T) {
	s, calls, queue, _ := newTestScheduler(t)
	ctx := context.Background()
	seedCall(t, calls, &callqueue.CallRecord{ContactID: "c1", Province: "RM", RetryCount: 9})

	if err := s.HandleStatus(ctx, StatusCallback{CallSid: "CA001", CallStatus: "no-answer"}); err != nil {
		t.Fatalf("HandleStatus: %v", err)
	}
	if n, _ := queue.PendingCount(ctx); n != 0 {
		t.Fatalf("pending = %d, want 0 at max attempts", n)
	}
}

func TestHandleStatusExhaustedChainNotifiesOnce(t *testing.T) {
	s, calls, _, _ := newTestScheduler(t)
	ctx := context.Background()
	seedCall(t, calls, &callqueue.CallRecord{ContactID: "c1", Province: "RM", RetryCount: 9})

	var sent int
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		sent++
	}))
	defer srv.Close()
	s.notifier = notify.New(srv.URL, nil)

	// The provider can deliver the same terminal callback more than once.
	for i := 0; i < 3; i++ {
		if err := s.HandleStatus(ctx, StatusCallback{CallSid: "CA001", CallStatus: "no-answer"}); err != nil {
			t.Fatalf("HandleStatus #%d: %v", i, err)
		}
	}
	if sent != 1 {
		t.Fatalf("notifications sent = %d, want 1", sent)
	}
}

func TestHandleStatusUnknownProvinceStopsAfterTwoAttempts(t *testing.T) {
	s, calls, queue, _ := newTestScheduler(t)
	ctx := context.Background()
	seedCall(t, calls, &callqueue.CallRecord{ContactID: "c1", Province: "", RetryCount: 2})

	if err := s.HandleStatus(ctx, StatusCallback{CallSid: "CA001", CallStatus: "no-answer"}); err != nil {
		t.Fatalf("HandleStatus: %v", err)
	}
	if n, _ := queue.PendingCount(ctx); n != 0 {
		t.Fatalf("pending = %d, want 0 for province-less lead", n)
	}
}

func TestHandleStatusCarriesAbruptRetryContext(t *testing.T) {
	s, calls, queue, _ := newTestScheduler(t)
	ctx := context.Background()
	seedCall(t, calls, &callqueue.CallRecord{
		ContactID: "c1", Province: "RM",
		PastCallSummary:        "stava scegliendo uno slot",
		OriginalConversationID: "conv-123",
	})

	if err := s.HandleStatus(ctx, StatusCallback{CallSid: "CA001", CallStatus: "no-answer"}); err != nil {
		t.Fatalf("HandleStatus: %v", err)
	}
	due, err := queue.ClaimDue(ctx, 1, time.Now().UTC().Add(time.Minute))
	if err != nil || len(due) != 1 {
		t.Fatalf("claim: %v (%d entries)", err, len(due))
	}
	if due[0].PastCallSummary != "stava scegliendo uno slot" {
		t.Errorf("past summary = %q", due[0].PastCallSummary)
	}
	if due[0].OriginalConversationID != "conv-123" {
		t.Errorf("original conversation = %q", due[0].OriginalConversationID)
	}
}

func TestHandleStatusUnknownCallSid(t *testing.T) {
	s, _, _, _ := newTestScheduler(t)
	if err := s.HandleStatus(context.Background(), StatusCallback{CallSid: "CA999", CallStatus: "no-answer"}); err == nil {
		t.Fatal("expected error for unknown call sid")
	}
}
