package handlers

import (
	"net/http"
	"strings"
	"time"

	"github.com/ristrutturiamolo/callpilot/internal/callqueue"
	"github.com/ristrutturiamolo/callpilot/internal/slots"
	"github.com/ristrutturiamolo/callpilot/internal/timeutil"
	"github.com/ristrutturiamolo/callpilot/internal/twilio"
)

// HandleIncomingCall answers the telephony webhook for an inbound call:
// records it, snapshots today-and-tomorrow availability for the agent, and
// bridges the call to the inbound media stream.
func (h *Handlers) HandleIncomingCall(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if err := r.ParseForm(); err != nil {
		respondError(w, http.StatusBadRequest, "invalid form body")
		return
	}
	callSid := r.FormValue("CallSid")
	from := r.FormValue("From")
	if callSid == "" {
		respondError(w, http.StatusBadRequest, "CallSid is required")
		return
	}

	availText := ""
	rome := timeutil.Rome()
	nowLocal := h.now().In(rome)
	end := time.Date(nowLocal.Year(), nowLocal.Month(), nowLocal.Day()+2, 0, 0, 0, 0, rome)
	if found, err := h.slots.Fetch(ctx, h.now().UTC(), end.UTC(), nil, 15); err != nil {
		// The agent handles an empty availability string; answering the
		// call matters more than the snapshot.
		h.logger.Warn("inbound availability fetch failed", "call_sid", callSid, "error", err)
	} else {
		availText = slots.RenderTimes(found)
	}

	if err := h.incoming.Create(ctx, &callqueue.IncomingCall{
		CallSid:        callSid,
		FromNumber:     from,
		AvailableSlots: availText,
	}); err != nil {
		h.logger.Error("incoming call persist failed", "call_sid", callSid, "error", err)
		respondError(w, http.StatusInternalServerError, "internal error")
		return
	}

	xml, err := twilio.BridgeTwiML(h.inboundStreamURL(), map[string]string{
		"callSid":      callSid,
		"callerNumber": from,
	})
	if err != nil {
		h.logger.Error("inbound twiml render failed", "call_sid", callSid, "error", err)
		respondError(w, http.StatusInternalServerError, "internal error")
		return
	}
	h.logger.Info("inbound call bridged", "call_sid", callSid, "from", from)
	respondXML(w, http.StatusOK, xml)
}

// HandleInboundCallStatus records inbound status callbacks. Always 200.
func (h *Handlers) HandleInboundCallStatus(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		w.WriteHeader(http.StatusOK)
		return
	}
	callSid := r.FormValue("CallSid")
	status := r.FormValue("CallStatus")
	if callSid != "" && status != "" {
		if err := h.incoming.UpdateStatus(r.Context(), callSid, status); err != nil {
			h.logger.Warn("inbound status update failed", "call_sid", callSid, "error", err)
		}
	}
	w.WriteHeader(http.StatusOK)
}

func (h *Handlers) inboundStreamURL() string {
	base := strings.TrimRight(h.cfg.PublicBaseURL, "/")
	base = strings.Replace(base, "https://", "wss://", 1)
	base = strings.Replace(base, "http://", "ws://", 1)
	return base + h.cfg.IncomingPrefix + "/inbound-media-stream"
}
