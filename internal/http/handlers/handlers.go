// Package handlers implements the HTTP surface: lead intake, telephony
// webhooks, the voice agent's tool endpoints, follow-up management, and the
// post-call webhook.
package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/ristrutturiamolo/callpilot/internal/booking"
	"github.com/ristrutturiamolo/callpilot/internal/callqueue"
	"github.com/ristrutturiamolo/callpilot/internal/config"
	"github.com/ristrutturiamolo/callpilot/internal/followup"
	"github.com/ristrutturiamolo/callpilot/internal/ghl"
	"github.com/ristrutturiamolo/callpilot/internal/notify"
	"github.com/ristrutturiamolo/callpilot/internal/observability/metrics"
	"github.com/ristrutturiamolo/callpilot/internal/postcall"
	"github.com/ristrutturiamolo/callpilot/internal/retry"
	"github.com/ristrutturiamolo/callpilot/internal/slots"
	"github.com/ristrutturiamolo/callpilot/internal/twilio"
	"github.com/ristrutturiamolo/callpilot/pkg/logging"
)

// CRM is the slice of the CRM client the handlers use.
type CRM interface {
	Bearer(ctx context.Context) (string, error)
	AddNote(ctx context.Context, contactID, body string) error
	AddToWorkflow(ctx context.Context, contactID, workflowID string) error
	GetContact(ctx context.Context, contactID string) (*ghl.Contact, error)
	UpdateContactAddress(ctx context.Context, contactID, fullAddress string) error
	AuthorizeURL() string
	ExchangeCode(ctx context.Context, code string) (*ghl.Token, error)
}

// SlotSource fetches normalized calendar availability.
type SlotSource interface {
	Fetch(ctx context.Context, startUTC, endUTC time.Time, repIDs []string, limit int) ([]slots.Slot, error)
}

// RepSource resolves eligible reps for a service+province pair.
type RepSource interface {
	RepsFor(ctx context.Context, service, province string) ([]string, error)
	ActiveForService(ctx context.Context, service string) ([]string, error)
}

// SignedURLProvider mints voice-AI conversation socket URLs.
type SignedURLProvider interface {
	GetSignedURL(ctx context.Context, agentID string) (string, error)
}

// ProvinceResolver derives a province code from a free-form address.
type ProvinceResolver interface {
	Extract(ctx context.Context, address string) string
}

// Booker places appointments.
type Booker interface {
	Book(ctx context.Context, req booking.Request) (*booking.Result, error)
}

// StatusHandler consumes telephony status callbacks.
type StatusHandler interface {
	HandleStatus(ctx context.Context, cb retry.StatusCallback) error
}

// Pinger is the health check's view of the database.
type Pinger interface {
	PingContext(ctx context.Context) error
}

// Deps collects everything the handlers need.
type Deps struct {
	Config    *config.Config
	Logger    *logging.Logger
	Notifier  *notify.Notifier
	Metrics   *metrics.CallMetrics
	DB        Pinger
	Queue     *callqueue.Store
	Calls     *callqueue.CallStore
	Incoming  *callqueue.IncomingStore
	FollowUps *followup.Store
	Sweeper   *followup.Sweeper
	CRM       CRM
	Slots     SlotSource
	Reps      RepSource
	VoiceAI   SignedURLProvider
	Provinces ProvinceResolver
	Booking   Booker
	Retry     StatusHandler
	Pipeline  *postcall.Pipeline
	Params    *twilio.ParamsFactory
}

// Handlers is the HTTP handler set.
type Handlers struct {
	cfg       *config.Config
	logger    *logging.Logger
	notifier  *notify.Notifier
	metrics   *metrics.CallMetrics
	db        Pinger
	queue     *callqueue.Store
	calls     *callqueue.CallStore
	incoming  *callqueue.IncomingStore
	followups *followup.Store
	sweeper   *followup.Sweeper
	crm       CRM
	slots     SlotSource
	reps      RepSource
	voiceAI   SignedURLProvider
	provinces ProvinceResolver
	booking   Booker
	retry     StatusHandler
	pipeline  *postcall.Pipeline
	params    *twilio.ParamsFactory
	now       func() time.Time
}

// New wires the handler set.
func New(d Deps) *Handlers {
	logger := d.Logger
	if logger == nil {
		logger = logging.Default()
	}
	return &Handlers{
		cfg:       d.Config,
		logger:    logger,
		notifier:  d.Notifier,
		metrics:   d.Metrics,
		db:        d.DB,
		queue:     d.Queue,
		calls:     d.Calls,
		incoming:  d.Incoming,
		followups: d.FollowUps,
		sweeper:   d.Sweeper,
		crm:       d.CRM,
		slots:     d.Slots,
		reps:      d.Reps,
		voiceAI:   d.VoiceAI,
		provinces: d.Provinces,
		booking:   d.Booking,
		retry:     d.Retry,
		pipeline:  d.Pipeline,
		params:    d.Params,
		now:       time.Now,
	}
}

var knownServices = map[string]bool{
	"Infissi": true,
	"Vetrate": true,
	"Pergole": true,
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		json.NewEncoder(w).Encode(v)
	}
}

func respondError(w http.ResponseWriter, status int, msg string) {
	respondJSON(w, status, map[string]string{"error": msg})
}

func respondXML(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "text/xml")
	w.WriteHeader(status)
	w.Write([]byte(body))
}
