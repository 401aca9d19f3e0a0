// Package bridge pumps audio between the telephony media WebSocket and the
// voice-AI conversation WebSocket for every live call, and handles the
// agent's in-call function calls.
package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ristrutturiamolo/callpilot/internal/booking"
	"github.com/ristrutturiamolo/callpilot/internal/notify"
	"github.com/ristrutturiamolo/callpilot/internal/slots"
	"github.com/ristrutturiamolo/callpilot/internal/timeutil"
)

// session owns the two sockets of one live call. All writes go through the
// guarded send helpers; after close every send is a no-op.
type session struct {
	h *Handler

	inbound   bool
	callSid   string
	streamSid string
	vars      map[string]string

	availableSlots string
	slotLayout     string

	telephony *websocket.Conn
	ai        *websocket.Conn

	mu       sync.Mutex
	closed   bool
	aiClosed bool
}

func (s *session) sendTelephony(v any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	return s.telephony.WriteJSON(v)
}

func (s *session) sendAI(v any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.aiClosed || s.ai == nil {
		return nil
	}
	return s.ai.WriteJSON(v)
}

// closeAll tears both sockets down; safe to call from either pump.
func (s *session) closeAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	if s.ai != nil {
		s.ai.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		s.ai.Close()
	}
	s.telephony.Close()
}

// businessNameFor maps the service to the brand name the agent introduces
// itself with.
func businessNameFor(service string) string {
	if service == "Infissi" {
		return "Ristrutturiamolo"
	}
	return "UNICOVETRATE"
}

// openAI dials the voice-AI socket and sends the single initiation message.
func (s *session) openAI(ctx context.Context, signedURL string, dynamicVars map[string]string, firstMessage string) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, signedURL, nil)
	if err != nil {
		return fmt.Errorf("bridge: dial voice-ai socket: %w", err)
	}
	s.mu.Lock()
	s.ai = conn
	s.aiClosed = false
	s.mu.Unlock()

	init := initiation{
		Type:             "conversation_initiation_client_data",
		DynamicVariables: dynamicVars,
	}
	if firstMessage != "" {
		init.Override = &initOverride{}
		init.Override.Agent.FirstMessage = firstMessage
	}
	if err := s.sendAI(init); err != nil {
		return fmt.Errorf("bridge: send initiation: %w", err)
	}
	return nil
}

// pumpAI reads the voice-AI socket until it closes, forwarding audio to the
// telephony side and handling control messages.
func (s *session) pumpAI(ctx context.Context) {
	for {
		_, data, err := s.ai.ReadMessage()
		if err != nil {
			s.handleAIClose(ctx, err)
			return
		}
		var msg aiMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			s.h.logger.Warn("undecodable voice-ai message", "call_sid", s.callSid, "error", err)
			continue
		}
		switch msg.Type {
		case "audio":
			if msg.Audio == nil {
				continue
			}
			s.sendTelephony(outMediaFrame{
				Event:     "media",
				StreamSid: s.streamSid,
				Media:     mediaFrame{Payload: msg.Audio.Base64},
			})

		case "interruption":
			s.sendTelephony(clearFrame{Event: "clear", StreamSid: s.streamSid})

		case "ping":
			if msg.Ping != nil {
				s.sendAI(pong{Type: "pong", EventID: msg.Ping.EventID})
			}

		case "conversation_initiation_metadata":
			if msg.InitMetadata != nil {
				s.recordConversationID(ctx, msg.InitMetadata.ConversationID)
			}

		case "function_call":
			if msg.FunctionCall != nil {
				s.handleFunctionCall(ctx, msg.FunctionCall)
			}
		}
	}
}

// recordConversationID persists the voice-AI conversation id on the record
// matching the session's direction.
func (s *session) recordConversationID(ctx context.Context, conversationID string) {
	if conversationID == "" || s.callSid == "" {
		return
	}
	var err error
	if s.inbound {
		err = s.h.incoming.SetStream(ctx, s.callSid, "", conversationID)
	} else {
		err = s.h.calls.SetConversationID(ctx, s.callSid, conversationID)
	}
	if err != nil {
		s.h.logger.Warn("conversation id persist failed", "call_sid", s.callSid, "error", err)
	}
}

// handleAIClose distinguishes normal teardown from abnormal closes, which
// warrant a loud operator notification.
func (s *session) handleAIClose(ctx context.Context, err error) {
	s.mu.Lock()
	alreadyClosed := s.closed
	s.aiClosed = true
	s.mu.Unlock()
	if alreadyClosed {
		return
	}

	code := websocket.CloseAbnormalClosure
	reason := err.Error()
	var closeErr *websocket.CloseError
	if errors.As(err, &closeErr) {
		code = closeErr.Code
		reason = closeErr.Text
	}
	if code != websocket.CloseNormalClosure && code != websocket.CloseNoStatusReceived {
		s.h.notifier.Send(ctx, notify.Event{
			Severity: notify.SeverityWarning,
			Title:    "Voice-AI socket closed abnormally",
			Message: fmt.Sprintf("close code %d: %s\ncall_sid: %s, stream_sid: %s",
				code, reason, s.callSid, s.streamSid),
			ContactID: s.vars["contactId"],
			Phone:     s.vars["phone"],
			Service:   s.vars["service"],
		})
	}
	s.closeAll()
}

// handleFunctionCall dispatches agent tool invocations. Only
// book_appointment is supported; everything else gets an error result so
// the agent can recover verbally.
func (s *session) handleFunctionCall(ctx context.Context, fc *functionCall) {
	if fc.Name != "book_appointment" {
		s.sendAI(functionCallResponse{
			Type:   "function_call_response",
			CallID: fc.CallID,
			Result: fmt.Sprintf("funzione %s non disponibile", fc.Name),
		})
		return
	}

	var args bookArgs
	if err := json.Unmarshal(fc.Parameters, &args); err != nil {
		s.sendAI(functionCallResponse{
			Type:   "function_call_response",
			CallID: fc.CallID,
			Result: "parametri non validi per la prenotazione",
		})
		return
	}

	repID := slots.ResolveRep(s.availableSlots, s.slotLayout, args.AppointmentDate)
	result, err := s.h.booking.Book(ctx, booking.Request{
		AppointmentDate: normalizeChosenDate(args.AppointmentDate),
		ContactID:       s.vars["contactId"],
		Address:         args.Address,
		UserID:          repID,
	})

	var text string
	switch {
	case err != nil:
		s.h.logger.Error("in-call booking failed", "call_sid", s.callSid, "error", err)
		text = "Non sono riuscito a fissare l'appuntamento, riprova con un altro orario."
	case result.Status == booking.StatusBooked:
		date, hm := timeutil.UTCToItalian(result.StartTimeUTC)
		text = fmt.Sprintf("Appuntamento confermato per il %s alle %s.", date, hm)
	case result.Status == booking.StatusAlternatives:
		text = "Quell'orario non è più disponibile. Alternative: " + renderAlternatives(result.Alternatives)
	default:
		text = "Quell'orario non è più disponibile e non ci sono alternative nei prossimi giorni."
	}
	s.h.metrics.ObserveBooking(statusForMetrics(result, err))
	s.sendAI(functionCallResponse{
		Type:   "function_call_response",
		CallID: fc.CallID,
		Result: text,
	})
}

func statusForMetrics(result *booking.Result, err error) string {
	if err != nil {
		return "error"
	}
	return result.Status
}

func renderAlternatives(alts []time.Time) string {
	parts := make([]string, 0, len(alts))
	for _, t := range alts {
		date, hm := timeutil.UTCToItalian(t)
		parts = append(parts, fmt.Sprintf("%s %s", date, hm))
	}
	return strings.Join(parts, ", ")
}

var chosenDateTimeRe = regexp.MustCompile(`(\d{2}-\d{2}-\d{4}|\d{4}-\d{2}-\d{2}).*?(\d{1,2}:\d{2})`)

// normalizeChosenDate extracts "DD-MM-YYYY HH:mm" out of whatever phrasing
// the agent picked from the slot string ("Lunedì 17-03-2025: 10:00 (A)").
func normalizeChosenDate(chosen string) string {
	if m := chosenDateTimeRe.FindStringSubmatch(chosen); m != nil {
		return m[1] + " " + m[2]
	}
	return strings.TrimSpace(chosen)
}
