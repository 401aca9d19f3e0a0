// Package worker runs the singleton queue worker that turns due call_queue
// rows into live telephony calls.
package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ristrutturiamolo/callpilot/internal/callqueue"
	"github.com/ristrutturiamolo/callpilot/internal/notify"
	"github.com/ristrutturiamolo/callpilot/internal/observability/metrics"
	"github.com/ristrutturiamolo/callpilot/internal/twilio"
	"github.com/ristrutturiamolo/callpilot/pkg/logging"
)

// Telephony is the slice of the telephony client the worker uses.
type Telephony interface {
	ActiveCallCount(ctx context.Context) (int, error)
	CreateCall(ctx context.Context, p twilio.CallParams) (*twilio.Call, error)
}

// CRM is the slice of the CRM client the worker uses.
type CRM interface {
	Bearer(ctx context.Context) (string, error)
	AddNote(ctx context.Context, contactID, body string) error
}

// Worker claims due queue rows and places calls, bounded by the live-call
// cap.
type Worker struct {
	queue          *callqueue.Store
	calls          *callqueue.CallStore
	telephony      Telephony
	crm            CRM
	params         *twilio.ParamsFactory
	notifier       *notify.Notifier
	metrics        *metrics.CallMetrics
	logger         *logging.Logger
	maxActiveCalls int
	tick           time.Duration
	now            func() time.Time
}

// New creates the worker. The tick interval is clamped to a 5s minimum.
func New(queue *callqueue.Store, calls *callqueue.CallStore, telephony Telephony, crm CRM,
	params *twilio.ParamsFactory, notifier *notify.Notifier, m *metrics.CallMetrics,
	logger *logging.Logger, maxActiveCalls int, tick time.Duration) *Worker {
	if logger == nil {
		logger = logging.Default()
	}
	if tick < 5*time.Second {
		tick = 5 * time.Second
	}
	return &Worker{
		queue:          queue,
		calls:          calls,
		telephony:      telephony,
		crm:            crm,
		params:         params,
		notifier:       notifier,
		metrics:        m,
		logger:         logger,
		maxActiveCalls: maxActiveCalls,
		tick:           tick,
		now:            time.Now,
	}
}

// Run ticks until ctx is canceled.
func (w *Worker) Run(ctx context.Context) {
	ticker := time.NewTicker(w.tick)
	defer ticker.Stop()
	w.logger.Info("queue worker started", "tick", w.tick, "max_active_calls", w.maxActiveCalls)
	for {
		select {
		case <-ctx.Done():
			w.logger.Info("queue worker stopped")
			return
		case <-ticker.C:
			w.Tick(ctx)
		}
	}
}

// Tick runs one claim-and-place pass. Exported so the worker can be driven
// directly in tests and from the forced-sweep paths.
func (w *Worker) Tick(ctx context.Context) {
	if depth, err := w.queue.PendingCount(ctx); err == nil {
		w.metrics.SetQueueDepth(depth)
	}

	active, err := w.telephony.ActiveCallCount(ctx)
	if err != nil {
		// Fail closed: assume the cap is saturated rather than overdial.
		w.logger.Error("active-call count failed, skipping tick", "error", err)
		return
	}
	available := w.maxActiveCalls - active
	if available <= 0 {
		return
	}

	entries, err := w.queue.ClaimDue(ctx, available, w.now())
	if err != nil {
		w.logger.Error("queue claim failed", "error", err)
		return
	}
	for _, entry := range entries {
		if err := w.place(ctx, entry); err != nil {
			w.logger.Error("call placement failed",
				"queue_id", entry.ID, "contact_id", entry.ContactID, "error", err)
			if markErr := w.queue.MarkFailed(ctx, entry.ID, err); markErr != nil {
				w.logger.Error("mark failed errored", "queue_id", entry.ID, "error", markErr)
			}
			w.metrics.ObserveCallPlaced(entry.Service, "error")
			w.notifier.Error(ctx, "Call placement failed", err, map[string]string{
				"contactId": entry.ContactID,
				"phone":     entry.PhoneNumber,
				"service":   entry.Service,
				"province":  entry.Province,
			})
		}
	}
}

// place handles one claimed entry: token check, call creation, call-record
// write, CRM note, queue-row deletion. The call record is written before
// returning so no status callback can observe a missing row.
func (w *Worker) place(ctx context.Context, entry *callqueue.Entry) error {
	if _, err := w.crm.Bearer(ctx); err != nil {
		return fmt.Errorf("crm token unavailable: %w", err)
	}

	params, err := w.callParams(entry)
	if err != nil {
		return err
	}

	call, err := w.telephony.CreateCall(ctx, params)
	if err != nil {
		return fmt.Errorf("create call: %w", err)
	}

	firstAttempt := entry.FirstAttemptTimestamp
	if firstAttempt.IsZero() {
		firstAttempt = w.now().UTC()
	}
	record := &callqueue.CallRecord{
		CallSid:               call.Sid,
		To:                    entry.PhoneNumber,
		ContactID:             entry.ContactID,
		RetryCount:            entry.RetryStage,
		Status:                call.Status,
		SignedURL:             entry.InitialSignedURL,
		FullName:              entry.FullName,
		FirstName:             entry.FirstName,
		Email:                 entry.Email,
		AvailableSlots:        entry.AvailableSlotsText,
		SlotLayout:            entry.SlotLayout,
		FirstAttemptTimestamp: firstAttempt,
		Service:               entry.Service,
		Province:              entry.Province,

		PastCallSummary:        entry.PastCallSummary,
		OriginalConversationID: entry.OriginalConversationID,
	}
	if err := w.calls.Create(ctx, record); err != nil {
		return fmt.Errorf("persist call record: %w", err)
	}

	note := fmt.Sprintf("📞 Tentativo di chiamata %d in corso (sid %s, numero %s)",
		entry.RetryStage+1, call.Sid, entry.PhoneNumber)
	if err := w.crm.AddNote(ctx, entry.ContactID, note); err != nil {
		w.logger.Warn("crm note failed", "contact_id", entry.ContactID, "error", err)
	}

	if err := w.queue.Delete(ctx, entry.ID); err != nil {
		return fmt.Errorf("delete queue row: %w", err)
	}
	w.metrics.ObserveCallPlaced(entry.Service, "placed")
	w.logger.Info("call placed",
		"call_sid", call.Sid, "queue_id", entry.ID, "attempt", entry.RetryStage+1,
		"service", entry.Service)
	return nil
}

func (w *Worker) callParams(entry *callqueue.Entry) (twilio.CallParams, error) {
	if entry.CallOptionsBlob != "" {
		var params twilio.CallParams
		if err := json.Unmarshal([]byte(entry.CallOptionsBlob), &params); err != nil {
			return twilio.CallParams{}, fmt.Errorf("decode call options: %w", err)
		}
		return params, nil
	}
	return w.params.ForOutbound(entry.PhoneNumber, entry.Service), nil
}
