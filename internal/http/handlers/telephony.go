package handlers

import (
	"net/http"

	"github.com/ristrutturiamolo/callpilot/internal/retry"
	"github.com/ristrutturiamolo/callpilot/internal/twilio"
)

// HandleOutboundTwiML answers the telephony provider's TwiML fetch for an
// outbound call, bridging it to the media WebSocket with the call's context
// as custom stream parameters.
func (h *Handlers) HandleOutboundTwiML(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		respondError(w, http.StatusBadRequest, "invalid form body")
		return
	}
	callSid := r.FormValue("CallSid")
	if callSid == "" {
		respondError(w, http.StatusBadRequest, "CallSid is required")
		return
	}

	rec, err := h.calls.Get(r.Context(), callSid)
	if err != nil {
		h.logger.Error("twiml fetch for unknown call", "call_sid", callSid, "error", err)
		respondError(w, http.StatusNotFound, "unknown call")
		return
	}

	params := map[string]string{
		"firstName": rec.FirstName,
		"fullName":  rec.FullName,
		"email":     rec.Email,
		"phone":     rec.To,
		"contactId": rec.ContactID,
		"service":   rec.Service,
	}
	if rec.OriginalConversationID != "" {
		params["isAbruptEndingRetry"] = "true"
		params["pastCallSummary"] = rec.PastCallSummary
		params["originalConversationId"] = rec.OriginalConversationID
	}

	xml, err := twilio.BridgeTwiML(h.params.MediaStreamURL(), params)
	if err != nil {
		h.logger.Error("twiml render failed", "call_sid", callSid, "error", err)
		respondError(w, http.StatusInternalServerError, "internal error")
		return
	}
	respondXML(w, http.StatusOK, xml)
}

// HandleCallStatus consumes outbound status callbacks. The response is
// always 200 so the provider never retries; failures are logged and
// notified out of band.
func (h *Handlers) HandleCallStatus(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		w.WriteHeader(http.StatusOK)
		return
	}
	cb := retry.StatusCallback{
		CallSid:    r.FormValue("CallSid"),
		CallStatus: r.FormValue("CallStatus"),
		AnsweredBy: r.FormValue("AnsweredBy"),
	}
	if cb.CallSid == "" {
		w.WriteHeader(http.StatusOK)
		return
	}
	if err := h.retry.HandleStatus(r.Context(), cb); err != nil {
		h.logger.Error("status callback handling failed",
			"call_sid", cb.CallSid, "status", cb.CallStatus, "error", err)
	}
	w.WriteHeader(http.StatusOK)
}
