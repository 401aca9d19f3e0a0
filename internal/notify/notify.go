// Package notify delivers structured operator notifications to a chat
// webhook. Delivery is best-effort: failures are logged, never returned to
// the request path.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/ristrutturiamolo/callpilot/pkg/logging"
)

// Severity selects the delivery timeout and the message decoration.
type Severity string

const (
	SeverityNormal  Severity = "normal"
	SeverityWarning Severity = "warning"
	SeverityFatal   Severity = "fatal"
)

const (
	fatalTimeout    = 5 * time.Second
	nonFatalTimeout = 8 * time.Second
)

// Event is one operator notification.
type Event struct {
	Severity  Severity
	Title     string
	Message   string
	ContactID string
	Phone     string
	Service   string
	Province  string
	Err       error
}

// Notifier posts Block Kit style payloads to a chat webhook.
type Notifier struct {
	webhookURL string
	httpClient *http.Client
	logger     *logging.Logger
}

// New creates a Notifier. The webhook URL may be empty, in which case every
// notification is a logged no-op (useful in tests).
func New(webhookURL string, logger *logging.Logger) *Notifier {
	if logger == nil {
		logger = logging.Default()
	}
	return &Notifier{
		webhookURL: webhookURL,
		httpClient: &http.Client{},
		logger:     logger,
	}
}

func severityEmoji(s Severity) string {
	switch s {
	case SeverityFatal:
		return "🚨"
	case SeverityWarning:
		return "⚠️"
	default:
		return "ℹ️"
	}
}

// Send delivers the event. It never returns an error; a failed delivery is
// logged with the event content so the information is not lost.
func (n *Notifier) Send(ctx context.Context, evt Event) {
	requestID := uuid.NewString()
	if n.webhookURL == "" {
		n.logger.Info("notification (webhook not configured)",
			"severity", string(evt.Severity), "title", evt.Title, "message", evt.Message,
			"request_id", requestID)
		return
	}

	timeout := nonFatalTimeout
	if evt.Severity == SeverityFatal {
		timeout = fatalTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	payload := buildBlocks(evt, requestID)
	body, err := json.Marshal(payload)
	if err != nil {
		n.logger.Error("notification marshal failed", "error", err)
		return
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.webhookURL, bytes.NewReader(body))
	if err != nil {
		n.logger.Error("notification request build failed", "error", err)
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.httpClient.Do(req)
	if err != nil {
		n.logger.Error("notification delivery failed",
			"error", err, "severity", string(evt.Severity), "title", evt.Title, "request_id", requestID)
		return
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		n.logger.Error("notification rejected by webhook",
			"status", resp.StatusCode, "title", evt.Title, "request_id", requestID)
	}
}

// Error is a convenience wrapper for warning-level error notifications.
func (n *Notifier) Error(ctx context.Context, title string, err error, fields map[string]string) {
	evt := Event{Severity: SeverityWarning, Title: title, Err: err}
	applyFields(&evt, fields)
	n.Send(ctx, evt)
}

// Fatal is a convenience wrapper for fatal notifications.
func (n *Notifier) Fatal(ctx context.Context, title string, err error, fields map[string]string) {
	evt := Event{Severity: SeverityFatal, Title: title, Err: err}
	applyFields(&evt, fields)
	n.Send(ctx, evt)
}

func applyFields(evt *Event, fields map[string]string) {
	for k, v := range fields {
		switch k {
		case "contactId":
			evt.ContactID = v
		case "phone":
			evt.Phone = v
		case "service":
			evt.Service = v
		case "province":
			evt.Province = v
		default:
			if evt.Message != "" {
				evt.Message += "\n"
			}
			evt.Message += fmt.Sprintf("%s: %s", k, v)
		}
	}
}

type blockPayload struct {
	Text   string  `json:"text"`
	Blocks []block `json:"blocks"`
}

type block struct {
	Type   string      `json:"type"`
	Text   *blockText  `json:"text,omitempty"`
	Fields []blockText `json:"fields,omitempty"`
}

type blockText struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

func buildBlocks(evt Event, requestID string) blockPayload {
	header := fmt.Sprintf("%s %s", severityEmoji(evt.Severity), evt.Title)

	fields := []blockText{
		{Type: "mrkdwn", Text: fmt.Sprintf("*When:*\n%s", time.Now().UTC().Format(time.RFC3339))},
		{Type: "mrkdwn", Text: fmt.Sprintf("*Request:*\n%s", requestID)},
	}
	if evt.ContactID != "" {
		fields = append(fields, blockText{Type: "mrkdwn", Text: fmt.Sprintf("*Contact:*\n%s", evt.ContactID)})
	}
	if evt.Phone != "" {
		fields = append(fields, blockText{Type: "mrkdwn", Text: fmt.Sprintf("*Phone:*\n%s", evt.Phone)})
	}
	if evt.Service != "" {
		fields = append(fields, blockText{Type: "mrkdwn", Text: fmt.Sprintf("*Service:*\n%s", evt.Service)})
	}
	if evt.Province != "" {
		fields = append(fields, blockText{Type: "mrkdwn", Text: fmt.Sprintf("*Province:*\n%s", evt.Province)})
	}

	blocks := []block{
		{Type: "header", Text: &blockText{Type: "plain_text", Text: header}},
		{Type: "section", Fields: fields},
	}
	if evt.Message != "" {
		blocks = append(blocks, block{Type: "section", Text: &blockText{Type: "mrkdwn", Text: evt.Message}})
	}
	if evt.Err != nil {
		blocks = append(blocks, block{Type: "section", Text: &blockText{
			Type: "mrkdwn",
			Text: fmt.Sprintf("```%s```", evt.Err.Error()),
		}})
	}
	return blockPayload{Text: header, Blocks: blocks}
}
