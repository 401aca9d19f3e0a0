package handlers

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/ristrutturiamolo/callpilot/internal/followup"
	"github.com/ristrutturiamolo/callpilot/internal/timeutil"
)

type followUpRequest struct {
	ContactID  string `json:"contactId"`
	FollowUpAt string `json:"followUpDateTime"` // "DD-MM-YYYY HH:mm", Europe/Rome
	Service    string `json:"service"`
	Province   string `json:"province"`
}

// HandleCreateFollowUp schedules a deferred re-call for a contact.
func (h *Handlers) HandleCreateFollowUp(w http.ResponseWriter, r *http.Request) {
	var req followUpRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid json body")
		return
	}
	if strings.TrimSpace(req.ContactID) == "" {
		respondError(w, http.StatusBadRequest, "contactId is required")
		return
	}
	at, err := timeutil.ParseFlexibleDateTime(req.FollowUpAt)
	if err != nil {
		respondError(w, http.StatusBadRequest, "followUpDateTime must be DD-MM-YYYY HH:mm")
		return
	}

	id, err := h.followups.Create(r.Context(), &followup.FollowUp{
		ContactID:  req.ContactID,
		FollowUpAt: at,
		Service:    req.Service,
		Province:   req.Province,
	})
	if err != nil {
		h.logger.Error("follow-up create failed", "contact_id", req.ContactID, "error", err)
		respondError(w, http.StatusInternalServerError, "could not create follow-up")
		return
	}
	respondJSON(w, http.StatusCreated, map[string]any{
		"id":         id,
		"followUpAt": at,
	})
}

// HandleTriggerFollowUps forces a sweep outside the timer, for operators.
func (h *Handlers) HandleTriggerFollowUps(w http.ResponseWriter, r *http.Request) {
	h.sweeper.Sweep(r.Context())
	respondJSON(w, http.StatusAccepted, map[string]string{"status": "sweep completed"})
}
