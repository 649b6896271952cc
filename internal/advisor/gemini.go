package advisor

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"google.golang.org/genai"
)

// GeminiResponder replies with Gemini on Vertex AI.
type GeminiResponder struct {
	client *genai.Client
	model  string
}

// NewGeminiResponder creates a Vertex AI backed responder. Credentials come
// from the environment (application default credentials).
func NewGeminiResponder(ctx context.Context, project, location, model string) (*GeminiResponder, error) {
	if project == "" || location == "" {
		return nil, fmt.Errorf("gemini: project and location must be set")
	}
	if model == "" {
		model = "gemini-2.5-flash"
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		Project:  project,
		Location: location,
		Backend:  genai.BackendVertexAI,
	})
	if err != nil {
		return nil, fmt.Errorf("creating Vertex AI client: %w", err)
	}
	return &GeminiResponder{client: client, model: model}, nil
}

func (g *GeminiResponder) Reply(ctx context.Context, message string) (string, error) {
	in, err := ParseInquiry(message)
	if err != nil {
		return "", err
	}
	temp := float32(0.4)
	topP := float32(0.9)
	cfg := &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(geminiInstruction(in), genai.RoleUser),
		Temperature:       &temp,
		TopP:              &topP,
		MaxOutputTokens:   1024,
	}
	// chatMessages always ends with the user turn
	msgs := chatMessages(in)
	contents := []*genai.Content{genai.NewContentFromText(msgs[len(msgs)-1].Content, genai.RoleUser)}
	res, err := g.client.Models.GenerateContent(ctx, g.model, contents, cfg)
	if err != nil {
		return "", &UpstreamError{Provider: "gemini", Timeout: isTimeout(err), Err: err}
	}
	text := strings.TrimSpace(res.Text())
	if text == "" {
		return "", &UpstreamError{Provider: "gemini", Err: errors.New("empty text")}
	}
	return text, nil
}

// geminiInstruction folds every system message of the inquiry into one
// system instruction.
func geminiInstruction(in Inquiry) string {
	var parts []string
	for _, m := range chatMessages(in) {
		if m.Role == "system" {
			parts = append(parts, m.Content)
		}
	}
	return strings.Join(parts, "\n\n")
}
