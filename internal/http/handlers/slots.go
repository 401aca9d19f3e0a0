package handlers

import (
	"net/http"
	"time"

	"github.com/ristrutturiamolo/callpilot/internal/slots"
	"github.com/ristrutturiamolo/callpilot/internal/timeutil"
)

// HandleAvailableSlotsOutbound serves the outbound agent's availability
// tool: up to 15 slots over a 7-day window, scoped to the reps covering the
// lead's service and province.
func (h *Handlers) HandleAvailableSlotsOutbound(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	q := r.URL.Query()

	service := q.Get("service")
	province := q.Get("province")
	if service == "" || !knownServices[service] {
		respondError(w, http.StatusBadRequest, "service field is required")
		return
	}
	repIDs, err := h.reps.RepsFor(ctx, service, province)
	if err != nil || len(repIDs) == 0 {
		respondError(w, http.StatusBadRequest, "No sales representatives available")
		return
	}

	start := h.now().UTC()
	if ad := q.Get("AppointmentDate"); ad != "" {
		tf := q.Get("Timeframe")
		if tf == "" {
			tf = "00:00"
		}
		if parsed, err := timeutil.ParseFlexibleDateTime(ad + " " + tf); err == nil {
			start = parsed
		}
	}
	end := start.Add(7 * 24 * time.Hour)

	found, err := h.slots.Fetch(ctx, start, end, repIDs, 15)
	if err != nil {
		h.logger.Error("availability fetch failed", "service", service, "province", province, "error", err)
		respondError(w, http.StatusBadGateway, "calendar unavailable")
		return
	}
	text, layout := slots.Render(found, repIDs)
	respondJSON(w, http.StatusOK, map[string]string{
		"availableSlots": text,
		"slotLayout":     layout,
	})
}

// HandleAvailableSlotsInbound serves the inbound agent's availability tool.
// Refused outside the 08:00-20:00 Italian operating window; otherwise it
// offers the next 48 hours with no rep annotation.
func (h *Handlers) HandleAvailableSlotsInbound(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	now := h.now()
	if !timeutil.IsOperatingHours(now) {
		respondError(w, http.StatusForbidden, "outside operating hours")
		return
	}

	start := now.UTC()
	found, err := h.slots.Fetch(ctx, start, start.Add(48*time.Hour), nil, 15)
	if err != nil {
		h.logger.Error("inbound availability fetch failed", "error", err)
		respondError(w, http.StatusBadGateway, "calendar unavailable")
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{
		"availableSlots": slots.RenderTimes(found),
	})
}
