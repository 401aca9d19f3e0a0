package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/ristrutturiamolo/callpilot/internal/booking"
)

type bookRequest struct {
	AppointmentDate string `json:"appointmentDate"`
	ContactID       string `json:"contactId"`
	Address         string `json:"address"`
	UserID          string `json:"userId"`
}

// HandleBookAppointment places an appointment on behalf of the voice agent
// or an operator. Status codes mirror the booking outcome: 201 booked, 200
// with alternatives, 409 with none.
func (h *Handlers) HandleBookAppointment(w http.ResponseWriter, r *http.Request) {
	var req bookRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid json body")
		return
	}

	result, err := h.booking.Book(r.Context(), booking.Request{
		AppointmentDate: req.AppointmentDate,
		ContactID:       req.ContactID,
		Address:         req.Address,
		UserID:          req.UserID,
	})
	if err != nil {
		if errors.Is(err, booking.ErrBadDate) {
			respondError(w, http.StatusBadRequest, err.Error())
			return
		}
		h.logger.Error("booking failed", "contact_id", req.ContactID, "error", err)
		respondError(w, http.StatusInternalServerError, "booking failed")
		return
	}
	h.metrics.ObserveBooking(result.Status)

	switch result.Status {
	case booking.StatusBooked:
		respondJSON(w, http.StatusCreated, result)
	case booking.StatusAlternatives:
		respondJSON(w, http.StatusOK, result)
	default:
		respondJSON(w, http.StatusConflict, result)
	}
}

type addressUpdateRequest struct {
	ContactID   string `json:"contactId"`
	FullAddress string `json:"fullAddress"`
}

// HandleUpdateContactAddress writes an address the agent collected in-call
// back to the CRM contact.
func (h *Handlers) HandleUpdateContactAddress(w http.ResponseWriter, r *http.Request) {
	var req addressUpdateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid json body")
		return
	}
	if strings.TrimSpace(req.ContactID) == "" {
		respondError(w, http.StatusBadRequest, "contactId is required")
		return
	}
	if strings.TrimSpace(req.FullAddress) == "" {
		respondError(w, http.StatusBadRequest, "Address is required")
		return
	}
	if err := h.crm.UpdateContactAddress(r.Context(), req.ContactID, req.FullAddress); err != nil {
		h.logger.Error("address update failed", "contact_id", req.ContactID, "error", err)
		respondError(w, http.StatusBadGateway, "CRM update failed")
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "updated"})
}
