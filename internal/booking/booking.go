// Package booking validates and places CRM appointments, and computes
// re-offerable alternatives when the requested slot is refused.
package booking

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ristrutturiamolo/callpilot/internal/ghl"
	"github.com/ristrutturiamolo/callpilot/internal/slots"
	"github.com/ristrutturiamolo/callpilot/internal/timeutil"
	"github.com/ristrutturiamolo/callpilot/pkg/logging"
)

// Booking result statuses, part of the HTTP contract.
const (
	StatusBooked         = "booked"
	StatusAlternatives   = "booking_failed_alternatives_available"
	StatusNoAlternatives = "booking_failed_no_alternatives"
)

// ErrBadDate marks an unparseable appointmentDate; handlers map it to 400.
var ErrBadDate = errors.New("booking: invalid appointment date")

// Request is one booking attempt.
type Request struct {
	AppointmentDate string // "DD-MM-YYYY HH:mm" or "YYYY-MM-DD HH:mm", Europe/Rome
	ContactID       string
	Address         string
	UserID          string // rep, optional
}

// Result is the outcome returned to callers (HTTP handler and the media
// bridge's function-call path).
type Result struct {
	Status       string         `json:"status"`
	StartTimeUTC time.Time      `json:"startTimeUtc"`
	Appointment  map[string]any `json:"appointment,omitempty"`
	Alternatives []time.Time    `json:"slots,omitempty"`
}

// Appointments is the CRM booking call.
type Appointments interface {
	CreateAppointment(ctx context.Context, appt ghl.AppointmentRequest) (map[string]any, error)
}

// Coordinator places appointments with rep assignment and computes
// alternatives on refusal.
type Coordinator struct {
	crm            Appointments
	slots          *slots.Service
	defaultAddress string
	logger         *logging.Logger
}

// NewCoordinator wires the coordinator.
func NewCoordinator(crm Appointments, slotSvc *slots.Service, defaultAddress string, logger *logging.Logger) *Coordinator {
	if logger == nil {
		logger = logging.Default()
	}
	return &Coordinator{crm: crm, slots: slotSvc, defaultAddress: defaultAddress, logger: logger}
}

// Book attempts the appointment. On a CRM refusal it returns the earliest
// alternatives from the first two available days inside a 7-day window;
// every other error is returned as-is.
func (c *Coordinator) Book(ctx context.Context, req Request) (*Result, error) {
	if req.ContactID == "" {
		return nil, fmt.Errorf("%w: contactId is required", ErrBadDate)
	}
	startUTC, err := timeutil.ParseFlexibleDateTime(req.AppointmentDate)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadDate, err)
	}
	if !timeutil.IsWithinItalianBusiness(startUTC) {
		return nil, fmt.Errorf("%w: %s is outside the 09:00-20:00 window", ErrBadDate, req.AppointmentDate)
	}

	address := req.Address
	if address == "" {
		address = c.defaultAddress
	}

	appt, err := c.crm.CreateAppointment(ctx, ghl.AppointmentRequest{
		ContactID:    req.ContactID,
		StartTime:    startUTC.Format(time.RFC3339),
		LocationType: "Address",
		Address:      address,
		UserID:       req.UserID,
	})
	if err == nil {
		return &Result{Status: StatusBooked, StartTimeUTC: startUTC, Appointment: appt}, nil
	}

	var apiErr *ghl.APIError
	if !errors.As(err, &apiErr) {
		return nil, fmt.Errorf("booking: create appointment: %w", err)
	}
	c.logger.Warn("appointment refused, computing alternatives",
		"contact_id", req.ContactID, "status", apiErr.StatusCode)

	alternatives, err := c.alternatives(ctx, startUTC, req.UserID)
	if err != nil {
		return nil, fmt.Errorf("booking: alternatives lookup: %w", err)
	}
	if len(alternatives) == 0 {
		return &Result{Status: StatusNoAlternatives, StartTimeUTC: startUTC}, nil
	}
	return &Result{Status: StatusAlternatives, StartTimeUTC: startUTC, Alternatives: alternatives}, nil
}

// alternatives queries a 7-day window starting at UTC midnight of the
// failed date, keeps slots at or after the requested time, and returns all
// slots from the first two distinct UTC dates.
func (c *Coordinator) alternatives(ctx context.Context, requested time.Time, userID string) ([]time.Time, error) {
	windowStart := requested.UTC().Truncate(24 * time.Hour)
	windowEnd := windowStart.Add(7 * 24 * time.Hour)

	var userIDs []string
	if userID != "" {
		userIDs = []string{userID}
	}
	found, err := c.slots.Fetch(ctx, windowStart, windowEnd, userIDs, 0)
	if err != nil {
		return nil, err
	}

	var (
		out       []time.Time
		dates     []string
		dateCount = map[string]bool{}
	)
	for _, s := range found {
		if s.Time.Before(requested) {
			continue
		}
		day := s.Time.UTC().Format("2006-01-02")
		if !dateCount[day] {
			if len(dates) == 2 {
				break
			}
			dateCount[day] = true
			dates = append(dates, day)
		}
		out = append(out, s.Time)
	}
	return out, nil
}
