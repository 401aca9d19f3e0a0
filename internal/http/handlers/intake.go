package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/ristrutturiamolo/callpilot/internal/callqueue"
	"github.com/ristrutturiamolo/callpilot/internal/notify"
	"github.com/ristrutturiamolo/callpilot/internal/provinces"
	"github.com/ristrutturiamolo/callpilot/internal/slots"
	"github.com/ristrutturiamolo/callpilot/internal/timeutil"
)

type intakeRequest struct {
	ContactID   string `json:"contact_id"`
	FirstName   string `json:"first_name"`
	FullName    string `json:"full_name"`
	Email       string `json:"email"`
	Phone       string `json:"phone"`
	FullAddress string `json:"full_address"`
	Service     string `json:"service"`
	Province    string `json:"province"`

	IsAbruptEndingRetry    bool   `json:"is_abrupt_ending_retry"`
	PastCallSummary        string `json:"past_call_summary"`
	OriginalConversationID string `json:"original_conversation_id"`

	// Second-chance retries triggered by the post-call pipeline arrive with
	// the retry context nested under customData.
	CustomData *intakeCustomData `json:"customData"`
}

type intakeCustomData struct {
	IsAbruptEndingRetry    bool   `json:"isAbruptEndingRetry"`
	PastCallSummary        string `json:"pastCallSummary"`
	OriginalConversationID string `json:"originalConversationId"`
}

// mergeCustomData folds the nested retry context into the flat fields the
// rest of the handler reads.
func (r *intakeRequest) mergeCustomData() {
	cd := r.CustomData
	if cd == nil || !cd.IsAbruptEndingRetry {
		return
	}
	r.IsAbruptEndingRetry = true
	if cd.PastCallSummary != "" {
		r.PastCallSummary = cd.PastCallSummary
	}
	if cd.OriginalConversationID != "" {
		r.OriginalConversationID = cd.OriginalConversationID
	}
}

// HandleOutboundCallRequest validates a lead and enqueues the first call
// attempt. Nothing is dialed here; the queue worker owns placement.
func (h *Handlers) HandleOutboundCallRequest(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req intakeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid json body")
		return
	}
	req.mergeCustomData()

	if strings.TrimSpace(req.Service) == "" {
		h.rejectIntake(ctx, w, &req, "service field is required")
		return
	}
	if !knownServices[req.Service] {
		h.rejectIntake(ctx, w, &req, "unknown service: "+req.Service)
		return
	}
	if strings.TrimSpace(req.FullAddress) == "" && !req.IsAbruptEndingRetry {
		h.rejectIntake(ctx, w, &req, "Address is required")
		return
	}
	if strings.TrimSpace(req.Phone) == "" {
		h.rejectIntake(ctx, w, &req, "phone field is required")
		return
	}
	if strings.TrimSpace(req.ContactID) == "" {
		h.rejectIntake(ctx, w, &req, "contact_id field is required")
		return
	}
	if _, err := h.crm.Bearer(ctx); err != nil {
		h.logger.Error("crm token unavailable at intake", "error", err)
		respondError(w, http.StatusInternalServerError, "CRM authorization unavailable")
		return
	}

	province := h.resolveProvince(ctx, &req)

	repIDs, err := h.resolveReps(ctx, req.Service, province, req.ContactID, req.IsAbruptEndingRetry)
	if err != nil {
		h.enrollNoRepWorkflow(ctx, req.ContactID)
		h.notifier.Send(ctx, notify.Event{
			Severity:  notify.SeverityNormal,
			Title:     "No sales representatives available",
			Message:   "Lead outside coverage, enrolled in the no-rep workflow",
			ContactID: req.ContactID,
			Phone:     req.Phone,
			Service:   req.Service,
			Province:  province,
		})
		respondError(w, http.StatusBadRequest,
			"No sales representatives available: contact is not in right area")
		return
	}

	availText, layout, err := h.intakeSlots(ctx, repIDs)
	if err != nil {
		h.notifier.Fatal(ctx, "Calendar availability unavailable at intake", err, map[string]string{
			"contactId": req.ContactID,
			"phone":     req.Phone,
			"service":   req.Service,
			"province":  province,
		})
		respondError(w, http.StatusInternalServerError, "calendar availability unavailable")
		return
	}

	signedURL := ""
	if url, err := h.voiceAI.GetSignedURL(ctx, h.cfg.ElevenLabsOutboundAgentID); err != nil {
		// Not fatal: the bridge mints a fresh one at stream start.
		h.logger.Warn("signed url mint failed at intake", "error", err)
	} else {
		signedURL = url
	}

	params := h.params.ForOutbound(req.Phone, req.Service)
	blob, err := json.Marshal(params)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "internal error")
		return
	}

	entry := &callqueue.Entry{
		ContactID:          req.ContactID,
		PhoneNumber:        req.Phone,
		FirstName:          req.FirstName,
		FullName:           req.FullName,
		Email:              req.Email,
		Service:            req.Service,
		Province:           province,
		RetryStage:         0,
		ScheduledAt:        h.now().UTC(),
		CallOptionsBlob:    string(blob),
		AvailableSlotsText: availText,
		SlotLayout:         layout,
		InitialSignedURL:   signedURL,
	}
	if req.IsAbruptEndingRetry {
		entry.PastCallSummary = req.PastCallSummary
		entry.OriginalConversationID = req.OriginalConversationID
	}

	queueID, err := h.queue.Enqueue(ctx, entry)
	if err != nil {
		h.logger.Error("intake enqueue failed", "contact_id", req.ContactID, "error", err)
		respondError(w, http.StatusInternalServerError, "could not enqueue call")
		return
	}

	if wf := h.cfg.GHLCallScheduledWorkflowID; wf != "" {
		if err := h.crm.AddToWorkflow(ctx, req.ContactID, wf); err != nil {
			h.logger.Warn("call-scheduled workflow enrollment failed",
				"contact_id", req.ContactID, "error", err)
		}
	}

	h.logger.Info("call enqueued",
		"queue_id", queueID, "contact_id", req.ContactID, "service", req.Service,
		"province", province, "abrupt_retry", req.IsAbruptEndingRetry)
	respondJSON(w, http.StatusAccepted, map[string]any{"queueId": queueID})
}

// resolveProvince prefers an explicitly provided valid code, then extraction
// from the address, then (for abrupt retries without an address) the
// contact's call history.
func (h *Handlers) resolveProvince(ctx context.Context, req *intakeRequest) string {
	if code := strings.ToUpper(strings.TrimSpace(req.Province)); provinces.IsValidCode(code) {
		return code
	}
	if strings.TrimSpace(req.FullAddress) != "" {
		if p := h.provinces.Extract(ctx, req.FullAddress); p != "" {
			return p
		}
	}
	if req.IsAbruptEndingRetry {
		if p, err := h.calls.LatestProvinceForContact(ctx, req.ContactID); err == nil {
			return p
		}
	}
	return ""
}

var errNoReps = errors.New("no reps cover this lead")

// resolveReps fails closed when nobody covers the pair. Abrupt retries with
// an unknown province fall back to every rep active on the service, so a
// dropped call can still be resumed.
func (h *Handlers) resolveReps(ctx context.Context, service, province, contactID string, abrupt bool) ([]string, error) {
	if province != "" {
		ids, err := h.reps.RepsFor(ctx, service, province)
		if err != nil {
			h.logger.Error("rep lookup failed", "contact_id", contactID, "error", err)
			return nil, errNoReps
		}
		if len(ids) > 0 {
			return ids, nil
		}
		return nil, errNoReps
	}
	if !abrupt {
		return nil, errNoReps
	}
	ids, err := h.reps.ActiveForService(ctx, service)
	if err != nil || len(ids) == 0 {
		return nil, errNoReps
	}
	return ids, nil
}

// intakeSlots fetches the outbound offer window: tomorrow 08:30 to +14 days
// 21:30, Europe/Rome. Up to 15 slots are fetched; only the first three are
// rendered into the agent's context.
func (h *Handlers) intakeSlots(ctx context.Context, repIDs []string) (string, string, error) {
	rome := timeutil.Rome()
	nowLocal := h.now().In(rome)
	start := time.Date(nowLocal.Year(), nowLocal.Month(), nowLocal.Day()+1, 8, 30, 0, 0, rome)
	end := time.Date(nowLocal.Year(), nowLocal.Month(), nowLocal.Day()+14, 21, 30, 0, 0, rome)

	found, err := h.slots.Fetch(ctx, start.UTC(), end.UTC(), repIDs, 15)
	if err != nil {
		return "", "", err
	}
	if len(found) == 0 {
		return "", "", errors.New("calendar empty despite available reps")
	}
	offer := found
	if len(offer) > 3 {
		offer = offer[:3]
	}
	text, layout := slots.Render(offer, repIDs)
	return text, layout, nil
}

// rejectIntake answers a validation failure and tells the operators; a lead
// bounced at intake is lost unless somebody follows up by hand.
func (h *Handlers) rejectIntake(ctx context.Context, w http.ResponseWriter, req *intakeRequest, msg string) {
	h.notifier.Send(ctx, notify.Event{
		Severity:  notify.SeverityWarning,
		Title:     "Lead intake rejected",
		Message:   msg,
		ContactID: req.ContactID,
		Phone:     req.Phone,
		Service:   req.Service,
	})
	respondError(w, http.StatusBadRequest, msg)
}

func (h *Handlers) enrollNoRepWorkflow(ctx context.Context, contactID string) {
	wf := h.cfg.GHLNoRepWorkflowID
	if wf == "" {
		return
	}
	if err := h.crm.AddToWorkflow(ctx, contactID, wf); err != nil {
		h.logger.Warn("no-rep workflow enrollment failed", "contact_id", contactID, "error", err)
	}
}
