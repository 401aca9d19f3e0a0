// Package router assembles the chi router from the handler set.
package router

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ristrutturiamolo/callpilot/internal/bridge"
	"github.com/ristrutturiamolo/callpilot/internal/config"
	"github.com/ristrutturiamolo/callpilot/internal/http/handlers"
	"github.com/ristrutturiamolo/callpilot/internal/http/middleware"
	"github.com/ristrutturiamolo/callpilot/pkg/logging"
)

// New builds the full route tree. The outgoing and incoming sub-routers are
// mounted on configurable prefixes so the public webhook URLs can be rotated
// without code changes.
func New(cfg *config.Config, h *handlers.Handlers, b *bridge.Handler, logger *logging.Logger) chi.Router {
	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.RequestLogger(logger))
	r.Use(chimiddleware.Recoverer)

	r.Get("/", h.HandleRoot)
	r.Get("/health", h.HandleHealth)
	r.Handle("/metrics", promhttp.Handler())

	r.Get("/gohighlevel/auth", h.HandleOAuthStart)
	r.Get("/hl/callback", h.HandleOAuthCallback)

	r.Route(cfg.OutgoingPrefix, func(r chi.Router) {
		r.Post("/outbound-call", h.HandleOutboundCallRequest)
		// The telephony provider may fetch TwiML with GET or POST.
		r.Handle("/outbound-call-twiml", http.HandlerFunc(h.HandleOutboundTwiML))
		r.Post("/call-status", h.HandleCallStatus)
		r.Get("/outbound-media-stream", b.HandleOutboundStream)
	})

	r.Route(cfg.IncomingPrefix, func(r chi.Router) {
		r.Post("/incoming-call", h.HandleIncomingCall)
		r.Post("/inbound-call-status", h.HandleInboundCallStatus)
		r.Get("/inbound-media-stream", b.HandleInboundStream)
	})

	r.Get("/availableSlotsOutbound", h.HandleAvailableSlotsOutbound)
	r.Get("/availableSlotsInbound", h.HandleAvailableSlotsInbound)
	r.Post("/bookAppointment", h.HandleBookAppointment)
	r.Post("/updateContactAddress", h.HandleUpdateContactAddress)
	r.Post("/followup", h.HandleCreateFollowUp)
	r.Post("/followup/trigger", h.HandleTriggerFollowUps)
	r.Post("/elevenlabs/webhook", h.HandlePostCallWebhook)

	return r
}
