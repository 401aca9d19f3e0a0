package provinces

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"
)

// GeminiGuesser implements Guesser over the Gemini generateContent API.
type GeminiGuesser struct {
	client *genai.Client
	model  string
}

// NewGeminiGuesser wraps an existing genai client.
func NewGeminiGuesser(client *genai.Client, model string) *GeminiGuesser {
	if model == "" {
		model = "gemini-2.0-flash"
	}
	return &GeminiGuesser{client: client, model: model}
}

// GuessProvince asks the model for the 2-letter code. Low temperature and a
// tiny token budget keep the answer to the bare code.
func (g *GeminiGuesser) GuessProvince(ctx context.Context, address string) (string, error) {
	model := g.client.GenerativeModel(g.model)
	model.SetTemperature(0.1)
	model.SetMaxOutputTokens(10)

	prompt := fmt.Sprintf(
		"Qual è la sigla della provincia italiana (2 lettere) di questo indirizzo? Rispondi solo con la sigla.\nIndirizzo: %s",
		address,
	)
	resp, err := model.GenerateContent(ctx, genai.Text(prompt))
	if err != nil {
		return "", fmt.Errorf("generate content: %w", err)
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return "", fmt.Errorf("empty model response")
	}
	var sb strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if text, ok := part.(genai.Text); ok {
			sb.WriteString(string(text))
		}
	}
	return strings.ToUpper(strings.TrimSpace(sb.String())), nil
}
