package router

import (
	"net/http"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/ristrutturiamolo/callpilot/internal/bridge"
	"github.com/ristrutturiamolo/callpilot/internal/config"
	"github.com/ristrutturiamolo/callpilot/internal/http/handlers"
	"github.com/ristrutturiamolo/callpilot/pkg/logging"
)

// The public route names are part of the external contract: the telephony
// provider, the voice agent's tools, and the CRM automations all hold them
// in their own configuration.
func TestRouteSurface(t *testing.T) {
	cfg := &config.Config{OutgoingPrefix: "/outgoing", IncomingPrefix: "/incoming"}
	h := handlers.New(handlers.Deps{Config: cfg})
	b := bridge.NewHandler(nil, nil, nil, nil, nil, nil, nil, "", "")
	r := New(cfg, h, b, logging.Default())

	routes := map[string]bool{}
	err := chi.Walk(r, func(method, route string, _ http.Handler, _ ...func(http.Handler) http.Handler) error {
		routes[method+" "+route] = true
		routes[route] = true
		return nil
	})
	if err != nil {
		t.Fatalf("walk routes: %v", err)
	}

	for _, want := range []string{
		"POST /outgoing/outbound-call",
		"POST /outgoing/call-status",
		"GET /outgoing/outbound-media-stream",
		"POST /incoming/incoming-call",
		"POST /incoming/inbound-call-status",
		"GET /incoming/inbound-media-stream",
		"GET /availableSlotsOutbound",
		"GET /availableSlotsInbound",
		"POST /bookAppointment",
		"POST /updateContactAddress",
		"POST /followup",
		"POST /followup/trigger",
		"POST /elevenlabs/webhook",
		"GET /gohighlevel/auth",
		"GET /hl/callback",
		"GET /health",
	} {
		if !routes[want] {
			t.Errorf("route %s not registered", want)
		}
	}

	// Registered for every method: the provider fetches TwiML with GET or
	// POST depending on configuration.
	if !routes["/outgoing/outbound-call-twiml"] {
		t.Error("TwiML route not registered")
	}
}
