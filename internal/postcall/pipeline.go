// Package postcall verifies and acts on the voice-AI post-call webhook:
// outcome recording, CRM notes, and recovery of actions the live call
// missed.
package postcall

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ristrutturiamolo/callpilot/internal/booking"
	"github.com/ristrutturiamolo/callpilot/internal/callqueue"
	"github.com/ristrutturiamolo/callpilot/internal/elevenlabs"
	"github.com/ristrutturiamolo/callpilot/internal/followup"
	"github.com/ristrutturiamolo/callpilot/internal/notify"
	"github.com/ristrutturiamolo/callpilot/internal/slots"
	"github.com/ristrutturiamolo/callpilot/internal/timeutil"
	"github.com/ristrutturiamolo/callpilot/pkg/logging"
)

// CRM is the slice of the CRM client the pipeline uses.
type CRM interface {
	AddNote(ctx context.Context, contactID, body string) error
	UpdateContactAddress(ctx context.Context, contactID, fullAddress string) error
}

// RepRouter resolves eligible reps for the recovery booking.
type RepRouter interface {
	RepsFor(ctx context.Context, service, province string) ([]string, error)
}

// Pipeline processes verified post-call webhooks.
type Pipeline struct {
	calls     *callqueue.CallStore
	followups *followup.Store
	reps      RepRouter
	slots     *slots.Service
	booking   *booking.Coordinator
	crm       CRM
	analyzer  Analyzer
	notifier  *notify.Notifier
	logger    *logging.Logger

	analysisEnabled bool
	now             func() time.Time
}

// NewPipeline wires the pipeline. A nil analyzer disables recovery even
// when analysisEnabled is set.
func NewPipeline(calls *callqueue.CallStore, followups *followup.Store, reps RepRouter,
	slotSvc *slots.Service, bookingSvc *booking.Coordinator, crm CRM, analyzer Analyzer,
	notifier *notify.Notifier, logger *logging.Logger, analysisEnabled bool) *Pipeline {
	if logger == nil {
		logger = logging.Default()
	}
	return &Pipeline{
		calls:           calls,
		followups:       followups,
		reps:            reps,
		slots:           slotSvc,
		booking:         bookingSvc,
		crm:             crm,
		analyzer:        analyzer,
		notifier:        notifier,
		logger:          logger,
		analysisEnabled: analysisEnabled,
		now:             time.Now,
	}
}

// Process handles one verified webhook. It returns quickly; the
// missed-action analysis runs on its own goroutine so the HTTP handler can
// acknowledge without waiting on the LLM.
func (p *Pipeline) Process(ctx context.Context, hook *elevenlabs.PostCallWebhook) error {
	if hook.Type != "post_call_transcription" {
		return nil
	}
	data := hook.Data
	vars := data.ConversationInitiationClientData.DynamicVariables
	contactID := vars["contactId"]
	outcome := data.Analysis.CallSuccessful
	summary := p.summarize(data)

	rec, err := p.calls.FindByConversationID(ctx, data.ConversationID)
	if err != nil {
		p.logger.Warn("no call record for conversation",
			"conversation_id", data.ConversationID, "error", err)
		rec = nil
	}
	if rec != nil {
		status := "completed-" + outcome
		if err := p.calls.SetTranscriptSummary(ctx, rec.CallSid, status, summary); err != nil {
			p.logger.Error("transcript summary persist failed", "call_sid", rec.CallSid, "error", err)
		}
	}

	// A contactId equal to the conversation id means no real contact was
	// tracked; skip the CRM note in that case.
	if contactID != "" && contactID != data.ConversationID {
		note := p.buildNote(outcome, summary, data.Analysis.EvaluationCriteriaResults)
		if err := p.crm.AddNote(ctx, contactID, note); err != nil {
			p.logger.Warn("post-call note failed", "contact_id", contactID, "error", err)
		}
	}

	p.notifier.Send(ctx, notify.Event{
		Severity:  notify.SeverityNormal,
		Title:     "Call completed",
		Message:   fmt.Sprintf("Outcome: %s\n%s\n%s", outcome, summary, renderEvaluations(data.Analysis.EvaluationCriteriaResults)),
		ContactID: contactID,
		Phone:     vars["phone"],
	})

	if p.shouldAnalyze(outcome, contactID, data) {
		go p.runRecovery(context.WithoutCancel(ctx), rec, contactID, data)
	}
	return nil
}

func (p *Pipeline) shouldAnalyze(outcome, contactID string, data elevenlabs.PostCallData) bool {
	if !p.analysisEnabled || p.analyzer == nil {
		return false
	}
	if outcome != "success" && outcome != "partial" {
		return false
	}
	if contactID == "" || contactID == data.ConversationID {
		return false
	}
	return len(data.Transcript) > 0
}

// runRecovery executes the missed-action analysis and its follow-on
// actions.
func (p *Pipeline) runRecovery(ctx context.Context, rec *callqueue.CallRecord, contactID string, data elevenlabs.PostCallData) {
	usedTools := collectTools(data.Transcript)
	contactContext := fmt.Sprintf("contactId=%s, nome=%s",
		contactID, data.ConversationInitiationClientData.DynamicVariables["fullName"])

	analysis, err := p.analyzer.Analyze(ctx, data.Transcript, usedTools, contactContext)
	if err != nil {
		p.notifier.Error(ctx, "Missed-action analysis failed", err, map[string]string{
			"contactId": contactID,
		})
		return
	}

	booked := false
	alreadyBooked := contains(usedTools, "book_appointment")

	if analysis.NeedsAppointment && !alreadyBooked && rec != nil {
		booked = p.recoverAppointment(ctx, rec, contactID)
	}

	if !booked && analysis.NeedsFollowUp {
		at := p.now().UTC().Add(analysis.FollowUpDelay())
		f := &followup.FollowUp{ContactID: contactID, FollowUpAt: at}
		if rec != nil {
			f.Province = rec.Province
			f.Service = rec.Service
		}
		if _, err := p.followups.Create(ctx, f); err != nil {
			p.logger.Error("follow-up creation failed", "contact_id", contactID, "error", err)
		} else {
			p.logger.Info("follow-up scheduled from analysis",
				"contact_id", contactID, "at", at, "reason", analysis.FollowUpDetails.Reasoning)
		}
	}

	if analysis.NeedsContactUpdate {
		if addr := analysis.ContactUpdateDetails.NewAddress; addr != "" {
			if err := p.crm.UpdateContactAddress(ctx, contactID, addr); err != nil {
				p.logger.Warn("contact address update failed", "contact_id", contactID, "error", err)
			}
		}
		notes := strings.TrimSpace(strings.Join(nonEmpty(
			analysis.ContactUpdateDetails.AdditionalNotes,
			analysis.ContactUpdateDetails.ServiceDetails), "\n"))
		if notes != "" {
			if err := p.crm.AddNote(ctx, contactID, "📝 Dettagli emersi in chiamata:\n"+notes); err != nil {
				p.logger.Warn("contact note failed", "contact_id", contactID, "error", err)
			}
		}
	}
}

// recoverAppointment books the earliest available slot for the contact's
// service and province; when the calendar is empty it schedules a 24h
// follow-up instead. Returns true when a booking succeeded.
func (p *Pipeline) recoverAppointment(ctx context.Context, rec *callqueue.CallRecord, contactID string) bool {
	repIDs, err := p.reps.RepsFor(ctx, rec.Service, rec.Province)
	if err != nil || len(repIDs) == 0 {
		p.logger.Warn("no reps for recovery booking",
			"service", rec.Service, "province", rec.Province, "error", err)
		return false
	}

	start := p.now().UTC()
	found, err := p.slots.Fetch(ctx, start, start.Add(7*24*time.Hour), repIDs, 1)
	if err != nil || len(found) == 0 {
		at := p.now().UTC().Add(24 * time.Hour)
		if _, ferr := p.followups.Create(ctx, &followup.FollowUp{
			ContactID:  contactID,
			FollowUpAt: at,
			Province:   rec.Province,
			Service:    rec.Service,
		}); ferr != nil {
			p.logger.Error("fallback follow-up failed", "contact_id", contactID, "error", ferr)
		}
		return false
	}

	slot := found[0]
	date := slot.Time.In(timeutil.Rome()).Format("02-01-2006 15:04")
	result, err := p.booking.Book(ctx, booking.Request{
		AppointmentDate: date,
		ContactID:       contactID,
		UserID:          slot.RepID,
	})
	if err != nil || result.Status != booking.StatusBooked {
		p.logger.Warn("recovery booking did not complete", "contact_id", contactID, "error", err)
		return false
	}
	p.notifier.Send(ctx, notify.Event{
		Severity:  notify.SeverityNormal,
		Title:     "Appointment recovered post-call",
		Message:   fmt.Sprintf("Booked %s for rep %s", date, slot.RepID),
		ContactID: contactID,
		Service:   rec.Service,
		Province:  rec.Province,
	})
	return true
}

// summarize prefers the provider's transcript summary and falls back to
// turn counts.
func (p *Pipeline) summarize(data elevenlabs.PostCallData) string {
	if s := strings.TrimSpace(data.Analysis.TranscriptSummary); s != "" {
		return s
	}
	agent, user := 0, 0
	for _, turn := range data.Transcript {
		if turn.Role == "agent" {
			agent++
		} else {
			user++
		}
	}
	return fmt.Sprintf("Conversazione di %d scambi (%d agente, %d cliente), nessun riepilogo disponibile.",
		len(data.Transcript), agent, user)
}

func (p *Pipeline) buildNote(outcome, summary string, evals map[string]elevenlabs.EvaluationResult) string {
	var sb strings.Builder
	sb.WriteString("🤖 Esito chiamata AI: ")
	switch outcome {
	case "success":
		sb.WriteString("positivo")
	case "partial":
		sb.WriteString("parziale")
	default:
		sb.WriteString("negativo")
	}
	sb.WriteString("\n\nRiepilogo:\n")
	sb.WriteString(summary)
	if ev := renderEvaluations(evals); ev != "" {
		sb.WriteString("\n\nValutazioni:\n")
		sb.WriteString(ev)
	}
	return sb.String()
}

func renderEvaluations(evals map[string]elevenlabs.EvaluationResult) string {
	if len(evals) == 0 {
		return ""
	}
	parts := make([]string, 0, len(evals))
	for name, r := range evals {
		parts = append(parts, fmt.Sprintf("- %s: %s", name, r.Result))
	}
	return strings.Join(parts, "\n")
}

func collectTools(transcript []elevenlabs.TranscriptTurn) []string {
	seen := map[string]bool{}
	var out []string
	for _, turn := range transcript {
		for _, tc := range turn.ToolCalls {
			if tc.ToolName != "" && !seen[tc.ToolName] {
				seen[tc.ToolName] = true
				out = append(out, tc.ToolName)
			}
		}
	}
	return out
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}

func nonEmpty(values ...string) []string {
	out := values[:0]
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			out = append(out, v)
		}
	}
	return out
}
