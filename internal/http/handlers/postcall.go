package handlers

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/ristrutturiamolo/callpilot/internal/elevenlabs"
	"github.com/ristrutturiamolo/callpilot/internal/notify"
)

// HandlePostCallWebhook verifies and dispatches the voice-AI post-call
// webhook. Signature failures are rejected loudly: an unverifiable payload
// on this endpoint is a security event, not a glitch.
func (h *Handlers) HandlePostCallWebhook(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	body, err := io.ReadAll(io.LimitReader(r.Body, 4<<20))
	if err != nil {
		respondError(w, http.StatusBadRequest, "unreadable body")
		return
	}

	if h.cfg.ElevenLabsWebhookSecret == "" {
		// The secret is optional; without it every payload is accepted.
		h.logger.Warn("post-call webhook signature validation skipped: no secret configured")
	} else if err := elevenlabs.VerifySignature(
		r.Header.Get(elevenlabs.SignatureHeader), body, h.cfg.ElevenLabsWebhookSecret, h.now()); err != nil {
		h.metrics.ObserveWebhookRejected("signature")
		h.notifier.Send(ctx, notify.Event{
			Severity: notify.SeverityWarning,
			Title:    "Post-call webhook rejected",
			Message: fmt.Sprintf("Signature verification failed: %v\nIP: %s\nUser-Agent: %s",
				err, r.RemoteAddr, r.UserAgent()),
		})
		respondError(w, http.StatusUnauthorized, "invalid signature")
		return
	}

	var hook elevenlabs.PostCallWebhook
	if err := json.Unmarshal(body, &hook); err != nil {
		h.metrics.ObserveWebhookRejected("payload")
		respondError(w, http.StatusBadRequest, "invalid json body")
		return
	}
	if hook.Type != "post_call_transcription" {
		respondJSON(w, http.StatusOK, map[string]string{"status": "ignored"})
		return
	}

	if err := h.pipeline.Process(ctx, &hook); err != nil {
		h.logger.Error("post-call processing failed",
			"conversation_id", hook.Data.ConversationID, "error", err)
		respondError(w, http.StatusInternalServerError, "processing failed")
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "processed"})
}
