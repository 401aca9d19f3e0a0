package postcall

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/generative-ai-go/genai"

	"github.com/ristrutturiamolo/callpilot/internal/elevenlabs"
)

// Analysis is the missed-action verdict for one transcript.
type Analysis struct {
	NeedsAppointment   bool `json:"needsAppointment"`
	AppointmentDetails struct {
		Date  string `json:"date"`
		Time  string `json:"time"`
		Notes string `json:"notes"`
	} `json:"appointmentDetails"`
	NeedsFollowUp   bool `json:"needsFollowUp"`
	FollowUpDetails struct {
		SuggestedDelay string `json:"suggestedDelay"` // 24h | 48h | 1week
		Reasoning      string `json:"reasoning"`
	} `json:"followUpDetails"`
	NeedsContactUpdate   bool `json:"needsContactUpdate"`
	ContactUpdateDetails struct {
		NewAddress      string `json:"newAddress"`
		AdditionalNotes string `json:"additionalNotes"`
		ServiceDetails  string `json:"serviceDetails"`
	} `json:"contactUpdateDetails"`
	OverallAssessment string `json:"overallAssessment"`
}

// FollowUpDelay translates the model's suggestedDelay to a duration,
// defaulting to 24h on anything unexpected.
func (a *Analysis) FollowUpDelay() time.Duration {
	switch a.FollowUpDetails.SuggestedDelay {
	case "48h":
		return 48 * time.Hour
	case "1week":
		return 168 * time.Hour
	default:
		return 24 * time.Hour
	}
}

// Analyzer inspects a transcript for actions the live call missed.
type Analyzer interface {
	Analyze(ctx context.Context, transcript []elevenlabs.TranscriptTurn, usedTools []string, contactContext string) (*Analysis, error)
}

// GeminiAnalyzer implements Analyzer with a strict JSON response schema.
type GeminiAnalyzer struct {
	client *genai.Client
	model  string
}

// NewGeminiAnalyzer wraps an existing genai client.
func NewGeminiAnalyzer(client *genai.Client, model string) *GeminiAnalyzer {
	if model == "" {
		model = "gemini-2.0-flash"
	}
	return &GeminiAnalyzer{client: client, model: model}
}

var analysisSchema = &genai.Schema{
	Type: genai.TypeObject,
	Properties: map[string]*genai.Schema{
		"needsAppointment": {Type: genai.TypeBoolean},
		"appointmentDetails": {
			Type: genai.TypeObject,
			Properties: map[string]*genai.Schema{
				"date":  {Type: genai.TypeString},
				"time":  {Type: genai.TypeString},
				"notes": {Type: genai.TypeString},
			},
		},
		"needsFollowUp": {Type: genai.TypeBoolean},
		"followUpDetails": {
			Type: genai.TypeObject,
			Properties: map[string]*genai.Schema{
				"suggestedDelay": {Type: genai.TypeString, Enum: []string{"24h", "48h", "1week"}},
				"reasoning":      {Type: genai.TypeString},
			},
		},
		"needsContactUpdate": {Type: genai.TypeBoolean},
		"contactUpdateDetails": {
			Type: genai.TypeObject,
			Properties: map[string]*genai.Schema{
				"newAddress":      {Type: genai.TypeString},
				"additionalNotes": {Type: genai.TypeString},
				"serviceDetails":  {Type: genai.TypeString},
			},
		},
		"overallAssessment": {Type: genai.TypeString},
	},
	Required: []string{"needsAppointment", "needsFollowUp", "needsContactUpdate", "overallAssessment"},
}

// Analyze runs the model with up to 3 attempts and exponential backoff.
func (g *GeminiAnalyzer) Analyze(ctx context.Context, transcript []elevenlabs.TranscriptTurn, usedTools []string, contactContext string) (*Analysis, error) {
	model := g.client.GenerativeModel(g.model)
	model.ResponseMIMEType = "application/json"
	model.ResponseSchema = analysisSchema

	prompt := buildAnalysisPrompt(transcript, usedTools, contactContext)

	var lastErr error
	backoff := time.Second
	for attempt := 0; attempt < 3; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
			}
			backoff *= 2
		}
		resp, err := model.GenerateContent(ctx, genai.Text(prompt))
		if err != nil {
			lastErr = err
			continue
		}
		analysis, err := decodeAnalysis(resp)
		if err != nil {
			lastErr = err
			continue
		}
		return analysis, nil
	}
	return nil, fmt.Errorf("postcall: analysis failed after 3 attempts: %w", lastErr)
}

func decodeAnalysis(resp *genai.GenerateContentResponse) (*Analysis, error) {
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return nil, fmt.Errorf("empty model response")
	}
	var sb strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if text, ok := part.(genai.Text); ok {
			sb.WriteString(string(text))
		}
	}
	var analysis Analysis
	if err := json.Unmarshal([]byte(sb.String()), &analysis); err != nil {
		return nil, fmt.Errorf("decode analysis json: %w", err)
	}
	return &analysis, nil
}

func buildAnalysisPrompt(transcript []elevenlabs.TranscriptTurn, usedTools []string, contactContext string) string {
	var sb strings.Builder
	sb.WriteString("Analizza questa trascrizione di una chiamata commerciale e individua le azioni mancate.\n")
	sb.WriteString("Strumenti già usati durante la chiamata: ")
	if len(usedTools) == 0 {
		sb.WriteString("nessuno")
	} else {
		sb.WriteString(strings.Join(usedTools, ", "))
	}
	sb.WriteString("\nContesto contatto: ")
	sb.WriteString(contactContext)
	sb.WriteString("\n\nTrascrizione:\n")
	for _, turn := range transcript {
		fmt.Fprintf(&sb, "[%s] %s\n", turn.Role, turn.Message)
	}
	return sb.String()
}

// MockAnalyzer returns a fixed no-action verdict. It is an explicit opt-in
// for environments without an LLM key, never a silent fallback.
type MockAnalyzer struct{}

// Analyze implements Analyzer.
func (MockAnalyzer) Analyze(context.Context, []elevenlabs.TranscriptTurn, []string, string) (*Analysis, error) {
	return &Analysis{OverallAssessment: "mock analysis: no actions detected"}, nil
}
