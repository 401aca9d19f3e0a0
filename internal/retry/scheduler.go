// Package retry consumes telephony status callbacks, classifies outcomes,
// and re-enqueues retryable attempts on the fixed schedule.
package retry

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ristrutturiamolo/callpilot/internal/callqueue"
	"github.com/ristrutturiamolo/callpilot/internal/notify"
	"github.com/ristrutturiamolo/callpilot/internal/observability/metrics"
	"github.com/ristrutturiamolo/callpilot/internal/timeutil"
	"github.com/ristrutturiamolo/callpilot/internal/twilio"
	"github.com/ristrutturiamolo/callpilot/pkg/logging"
)

// maxAttempts caps the chain at ten total attempts; the tenth schedules
// nothing more.
const maxAttempts = 10

var machineTokens = map[string]bool{
	"machine_start":       true,
	"fax":                 true,
	"machine_beep":        true,
	"machine_end_silence": true,
	"machine_end_other":   true,
	"machine_end_beep":    true,
}

// IsMachine reports whether an AnsweredBy token indicates machine
// detection.
func IsMachine(answeredBy string) bool {
	return machineTokens[answeredBy]
}

// Hanger terminates a live call after machine detection.
type Hanger interface {
	Hangup(ctx context.Context, callSid string) error
}

// Scheduler handles telephony status callbacks.
type Scheduler struct {
	calls     *callqueue.CallStore
	queue     *callqueue.Store
	telephony Hanger
	params    *twilio.ParamsFactory
	notifier  *notify.Notifier
	metrics   *metrics.CallMetrics
	logger    *logging.Logger
	now       func() time.Time
}

// NewScheduler wires the scheduler.
func NewScheduler(calls *callqueue.CallStore, queue *callqueue.Store, telephony Hanger,
	params *twilio.ParamsFactory, notifier *notify.Notifier, m *metrics.CallMetrics,
	logger *logging.Logger) *Scheduler {
	if logger == nil {
		logger = logging.Default()
	}
	return &Scheduler{
		calls:     calls,
		queue:     queue,
		telephony: telephony,
		params:    params,
		notifier:  notifier,
		metrics:   m,
		logger:    logger,
		now:       time.Now,
	}
}

// StatusCallback is the telephony status payload the scheduler acts on.
type StatusCallback struct {
	CallSid    string
	CallStatus string
	AnsweredBy string
}

// HandleStatus processes one callback. It is idempotent: duplicate
// callbacks for a sid become no-ops once the retry latch is set.
func (s *Scheduler) HandleStatus(ctx context.Context, cb StatusCallback) error {
	rec, err := s.calls.Get(ctx, cb.CallSid)
	if err != nil {
		return fmt.Errorf("retry: unknown call %s: %w", cb.CallSid, err)
	}

	if err := s.calls.UpdateStatus(ctx, cb.CallSid, cb.CallStatus, cb.AnsweredBy); err != nil {
		s.logger.Error("status update failed", "call_sid", cb.CallSid, "error", err)
	}

	machine := IsMachine(cb.AnsweredBy)
	live := cb.CallStatus == "in-progress" || cb.CallStatus == "ringing" || cb.CallStatus == "queued"

	switch {
	case machine && live:
		// Don't let the agent talk to voicemail; cut the call, then retry.
		if err := s.telephony.Hangup(ctx, cb.CallSid); err != nil {
			s.logger.Error("hangup after machine detection failed",
				"call_sid", cb.CallSid, "error", err)
		}
		return s.scheduleRetry(ctx, rec, "machine")

	case machine && (cb.CallStatus == "completed" || cb.CallStatus == "canceled"):
		return s.scheduleRetry(ctx, rec, "machine")

	case cb.CallStatus == "no-answer" || cb.CallStatus == "busy" || cb.CallStatus == "failed":
		return s.scheduleRetry(ctx, rec, cb.CallStatus)

	case cb.CallStatus == "completed":
		// Human completion is terminal.
		return nil
	}
	return nil
}

func (s *Scheduler) scheduleRetry(ctx context.Context, rec *callqueue.CallRecord, outcome string) error {
	// The latch makes duplicate callbacks no-ops. It guards the stop
	// notifications below too, so an exhausted chain alerts once.
	first, err := s.calls.TrySetRetryScheduled(ctx, rec.CallSid)
	if err != nil {
		return err
	}
	if !first {
		return nil
	}

	if reason := s.permanentIssue(rec); reason != "" {
		s.notifier.Send(ctx, notify.Event{
			Severity:  notify.SeverityWarning,
			Title:     "Retry chain stopped",
			Message:   fmt.Sprintf("Reason: %s (attempt %d)", reason, rec.RetryCount+1),
			ContactID: rec.ContactID,
			Phone:     rec.To,
			Service:   rec.Service,
			Province:  rec.Province,
		})
		return nil
	}

	nextIndex := rec.RetryCount + 1
	if nextIndex >= maxAttempts {
		s.notifier.Send(ctx, notify.Event{
			Severity:  notify.SeverityNormal,
			Title:     "Lead exhausted after max attempts",
			Message:   fmt.Sprintf("All %d attempts used, outcome of last: %s", maxAttempts, outcome),
			ContactID: rec.ContactID,
			Phone:     rec.To,
			Service:   rec.Service,
			Province:  rec.Province,
		})
		return nil
	}

	scheduledAt := s.nextAttemptTime(nextIndex)

	params := s.params.ForOutbound(rec.To, rec.Service)
	blob, err := json.Marshal(params)
	if err != nil {
		return fmt.Errorf("retry: marshal call params: %w", err)
	}

	nameParts := splitName(rec.FullName, rec.FirstName)
	_, err = s.queue.Enqueue(ctx, &callqueue.Entry{
		ContactID:             rec.ContactID,
		PhoneNumber:           rec.To,
		FirstName:             nameParts,
		FullName:              rec.FullName,
		Email:                 rec.Email,
		Service:               rec.Service,
		Province:              rec.Province,
		RetryStage:            nextIndex,
		ScheduledAt:           scheduledAt,
		CallOptionsBlob:       string(blob),
		AvailableSlotsText:    rec.AvailableSlots,
		SlotLayout:            rec.SlotLayout,
		InitialSignedURL:      rec.SignedURL,
		FirstAttemptTimestamp: rec.FirstAttemptTimestamp,

		PastCallSummary:        rec.PastCallSummary,
		OriginalConversationID: rec.OriginalConversationID,
	})
	if err != nil {
		return err
	}

	s.metrics.ObserveRetryScheduled(outcome)
	s.logger.Info("retry scheduled",
		"call_sid", rec.CallSid, "attempt", nextIndex, "outcome", outcome,
		"scheduled_at", scheduledAt)
	return nil
}

// permanentIssue returns a non-empty reason when the chain must stop
// regardless of remaining attempts.
func (s *Scheduler) permanentIssue(rec *callqueue.CallRecord) string {
	if rec.Province == "" && rec.RetryCount >= 2 {
		return "province unknown after repeated attempts"
	}
	return ""
}

// nextAttemptTime implements the fixed schedule, indexed by the 0-based
// attempt about to be made.
func (s *Scheduler) nextAttemptTime(nextIndex int) time.Time {
	now := s.now().UTC()
	switch nextIndex {
	case 2:
		return now.Add(time.Hour)
	case 4:
		// Morning callbacks never land on a weekend.
		t := timeutil.NextItalianTime(now, 9, 0)
		if wd := t.UTC().Weekday(); wd == time.Saturday || wd == time.Sunday {
			t = timeutil.NextValidWorkday(t)
		}
		return t
	case 6:
		return timeutil.NextItalianTime(now, 14, 0)
	case 8:
		return timeutil.NextItalianTime(now, 19, 0)
	default: // odd indexes retry immediately
		return now
	}
}

func splitName(fullName, firstName string) string {
	if firstName != "" {
		return firstName
	}
	return fullName
}
