package elevenlabs

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// SignatureHeader is the request header carrying the post-call webhook
// signature.
const SignatureHeader = "Elevenlabs-Signature"

// MaxSignatureAge is the accepted clock distance between the signature
// timestamp and now.
const MaxSignatureAge = 30 * time.Minute

// VerifySignature validates a "t=<unix>,v0=<hex>" header against the raw
// body. The expected digest is HMAC-SHA-256(secret, "<t>.<body>"); the hex
// comparison is constant time.
func VerifySignature(header string, body []byte, secret string, now time.Time) error {
	if header == "" {
		return fmt.Errorf("missing signature header")
	}
	var tsPart, sigPart string
	for _, piece := range strings.Split(header, ",") {
		switch {
		case strings.HasPrefix(piece, "t="):
			tsPart = strings.TrimPrefix(piece, "t=")
		case strings.HasPrefix(piece, "v0="):
			sigPart = strings.TrimPrefix(piece, "v0=")
		}
	}
	if tsPart == "" || sigPart == "" {
		return fmt.Errorf("malformed signature header")
	}
	ts, err := strconv.ParseInt(tsPart, 10, 64)
	if err != nil {
		return fmt.Errorf("malformed signature timestamp")
	}
	if now.Unix()-ts > int64(MaxSignatureAge.Seconds()) {
		return fmt.Errorf("signature expired")
	}

	mac := hmac.New(sha256.New, []byte(secret))
	fmt.Fprintf(mac, "%s.%s", tsPart, body)
	expected := hex.EncodeToString(mac.Sum(nil))
	if subtle.ConstantTimeCompare([]byte(expected), []byte(sigPart)) != 1 {
		return fmt.Errorf("signature mismatch")
	}
	return nil
}

// PostCallWebhook is the post-call payload. Only post_call_transcription is
// acted upon; every other type is acknowledged and ignored.
type PostCallWebhook struct {
	Type string       `json:"type"`
	Data PostCallData `json:"data"`
}

// PostCallData carries the conversation results.
type PostCallData struct {
	ConversationID                   string           `json:"conversation_id"`
	AgentID                          string           `json:"agent_id"`
	Transcript                       []TranscriptTurn `json:"transcript"`
	Analysis                         Analysis         `json:"analysis"`
	ConversationInitiationClientData InitData         `json:"conversation_initiation_client_data"`
}

// InitData mirrors the dynamic variables we injected at conversation start.
type InitData struct {
	DynamicVariables map[string]string `json:"dynamic_variables"`
}

// TranscriptTurn is one exchange in the conversation transcript.
type TranscriptTurn struct {
	Role      string     `json:"role"`
	Message   string     `json:"message"`
	ToolCalls []ToolCall `json:"tool_calls"`
}

// ToolCall records a tool the agent invoked during the call.
type ToolCall struct {
	ToolName string `json:"tool_name"`
}

// Analysis is the provider's post-call evaluation block.
type Analysis struct {
	CallSuccessful            string                      `json:"call_successful"`
	TranscriptSummary         string                      `json:"transcript_summary"`
	EvaluationCriteriaResults map[string]EvaluationResult `json:"evaluation_criteria_results"`
}

// EvaluationResult is one evaluation criterion's outcome.
type EvaluationResult struct {
	Result    string `json:"result"`
	Rationale string `json:"rationale"`
}
