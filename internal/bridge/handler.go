package bridge

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ristrutturiamolo/callpilot/internal/booking"
	"github.com/ristrutturiamolo/callpilot/internal/callqueue"
	"github.com/ristrutturiamolo/callpilot/internal/notify"
	"github.com/ristrutturiamolo/callpilot/internal/observability/metrics"
	"github.com/ristrutturiamolo/callpilot/internal/timeutil"
	"github.com/ristrutturiamolo/callpilot/pkg/logging"
)

// SignedURLProvider mints a fresh voice-AI socket URL when the stored one
// has expired.
type SignedURLProvider interface {
	GetSignedURL(ctx context.Context, agentID string) (string, error)
}

// Handler serves the outbound and inbound media-stream WebSockets.
type Handler struct {
	calls    *callqueue.CallStore
	incoming *callqueue.IncomingStore
	voiceAI  SignedURLProvider
	booking  *booking.Coordinator
	notifier *notify.Notifier
	metrics  *metrics.CallMetrics
	logger   *logging.Logger

	outboundAgentID string
	inboundAgentID  string

	upgrader websocket.Upgrader
}

// NewHandler wires the bridge handler.
func NewHandler(calls *callqueue.CallStore, incoming *callqueue.IncomingStore,
	voiceAI SignedURLProvider, bookingSvc *booking.Coordinator, notifier *notify.Notifier,
	m *metrics.CallMetrics, logger *logging.Logger, outboundAgentID, inboundAgentID string) *Handler {
	if logger == nil {
		logger = logging.Default()
	}
	return &Handler{
		calls:           calls,
		incoming:        incoming,
		voiceAI:         voiceAI,
		booking:         bookingSvc,
		notifier:        notifier,
		metrics:         m,
		logger:          logger,
		outboundAgentID: outboundAgentID,
		inboundAgentID:  inboundAgentID,
		upgrader: websocket.Upgrader{
			HandshakeTimeout: 10 * time.Second,
			// The telephony provider connects without a browser origin.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

// HandleOutboundStream is the WS endpoint the outbound bridge TwiML points
// at.
func (h *Handler) HandleOutboundStream(w http.ResponseWriter, r *http.Request) {
	h.serveStream(w, r, false)
}

// HandleInboundStream is the inbound counterpart with a smaller variable
// set.
func (h *Handler) HandleInboundStream(w http.ResponseWriter, r *http.Request) {
	h.serveStream(w, r, true)
}

func (h *Handler) serveStream(w http.ResponseWriter, r *http.Request, inbound bool) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("media stream upgrade failed", "error", err)
		return
	}
	h.metrics.BridgeSessionStarted()
	defer h.metrics.BridgeSessionEnded()

	ctx := context.Background()
	s := &session{h: h, telephony: conn, inbound: inbound}
	defer s.closeAll()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var frame telephonyFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			h.logger.Warn("undecodable telephony frame", "error", err)
			continue
		}
		switch frame.Event {
		case "start":
			if frame.Start == nil {
				continue
			}
			if err := h.startSession(ctx, s, frame.Start); err != nil {
				h.logger.Error("bridge start failed",
					"call_sid", frame.Start.CallSid, "error", err)
				return
			}

		case "media":
			if frame.Media == nil {
				continue
			}
			s.sendAI(userAudio{Type: "user_audio", UserAudioChunk: frame.Media.Payload})

		case "stop":
			h.finishSession(ctx, s)
			return
		}
	}
}

// startSession handles the telephony start frame: record lookup, AI socket
// dial, dynamic-variable injection.
func (h *Handler) startSession(ctx context.Context, s *session, start *startFrame) error {
	s.callSid = start.CallSid
	s.streamSid = start.StreamSid
	s.vars = start.CustomParameters
	if s.vars == nil {
		s.vars = map[string]string{}
	}

	var (
		signedURL string
		dynVars   map[string]string
		firstMsg  string
	)
	if s.inbound {
		rec, err := h.incoming.Get(ctx, s.callSid)
		if err != nil {
			return err
		}
		if err := h.incoming.SetStream(ctx, s.callSid, s.streamSid, ""); err != nil {
			h.logger.Warn("stream sid persist failed", "call_sid", s.callSid, "error", err)
		}
		s.availableSlots = rec.AvailableSlots
		dynVars = map[string]string{
			"callerIdentifier": s.vars["callerNumber"],
			"nowDate":          timeutil.NowItalianStamp(time.Now()),
			"availableSlots":   rec.AvailableSlots,
		}
		signedURL, err = h.voiceAI.GetSignedURL(ctx, h.inboundAgentID)
		if err != nil {
			return err
		}
	} else {
		rec, err := h.calls.Get(ctx, s.callSid)
		if err != nil {
			return err
		}
		if err := h.calls.SetStreamSid(ctx, s.callSid, s.streamSid); err != nil {
			h.logger.Warn("stream sid persist failed", "call_sid", s.callSid, "error", err)
		}
		s.availableSlots = rec.AvailableSlots
		s.slotLayout = rec.SlotLayout

		service := s.vars["service"]
		if service == "" {
			service = rec.Service
		}
		dynVars = map[string]string{
			"firstName":      s.vars["firstName"],
			"fullName":       s.vars["fullName"],
			"email":          s.vars["email"],
			"phone":          s.vars["phone"],
			"contactId":      s.vars["contactId"],
			"now":            timeutil.NowItalianStamp(time.Now()),
			"availableSlots": rec.AvailableSlots,
			"service":        service,
			"businessName":   businessNameFor(service),
			"province":       rec.Province,
		}
		if s.vars["isAbruptEndingRetry"] == "true" {
			dynVars["pastCallSummary"] = s.vars["pastCallSummary"]
			dynVars["originalConversationId"] = s.vars["originalConversationId"]
			firstMsg = "Pronto " + s.vars["firstName"] + "? Era caduta la linea, mi senti?"
		}

		signedURL = rec.SignedURL
		if signedURL == "" {
			signedURL, err = h.voiceAI.GetSignedURL(ctx, h.outboundAgentID)
			if err != nil {
				return err
			}
		}
	}

	if err := s.openAI(ctx, signedURL, dynVars, firstMsg); err != nil {
		return err
	}
	go s.pumpAI(ctx)
	h.logger.Info("media bridge started",
		"call_sid", s.callSid, "stream_sid", s.streamSid, "inbound", s.inbound)
	return nil
}

// finishSession runs on the telephony stop event.
func (h *Handler) finishSession(ctx context.Context, s *session) {
	if s.inbound && s.callSid != "" {
		if err := h.incoming.UpdateStatus(ctx, s.callSid, "completed"); err != nil {
			h.logger.Warn("incoming status update failed", "call_sid", s.callSid, "error", err)
		}
	}
	s.closeAll()
	h.logger.Info("media bridge finished", "call_sid", s.callSid, "inbound", s.inbound)
}
