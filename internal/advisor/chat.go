package advisor

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"
)

// DefaultChatEndpoint is the Cerebras chat completions endpoint. Any OpenAI
// compatible endpoint works.
const DefaultChatEndpoint = "https://api.cerebras.ai/v1/chat/completions"

// ChatResponder replies through an OpenAI compatible chat completions API.
// Photo analysis messages are split so the classifier label reaches the
// model as context rather than as the mother's own words.
type ChatResponder struct {
	HTTPClient  *http.Client
	Endpoint    string
	APIKey      string
	Model       string
	MaxTokens   int
	Temperature float64
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Temperature float64       `json:"temperature"`
}

type chatReply struct {
	Choices []struct {
		FinishReason string      `json:"finish_reason"`
		Message      chatMessage `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

func NewChatResponder(apiKey, model string) *ChatResponder {
	return &ChatResponder{
		HTTPClient:  &http.Client{Timeout: 30 * time.Second},
		Endpoint:    DefaultChatEndpoint,
		APIKey:      apiKey,
		Model:       model,
		MaxTokens:   400,
		Temperature: 0.4,
	}
}

// chatMessages builds the conversation sent for one inquiry.
func chatMessages(in Inquiry) []chatMessage {
	msgs := []chatMessage{{Role: "system", Content: SystemPrompt}}
	if !in.Photo() {
		return append(msgs, chatMessage{Role: "user", Content: in.Text})
	}
	msgs = append(msgs, chatMessage{
		Role: "system",
		Content: fmt.Sprintf("The mother shared a photo of her child. An image classifier labelled it %q. "+
			"The label can be wrong; explain what it may mean and say what to watch for.", in.Label),
	})
	question := in.Text
	if question == "" {
		question = "What does this photo result mean for my baby, and what should I do?"
	}
	return append(msgs, chatMessage{Role: "user", Content: question})
}

func (c *ChatResponder) Reply(ctx context.Context, message string) (string, error) {
	in, err := ParseInquiry(message)
	if err != nil {
		return "", err
	}
	if c.APIKey == "" {
		return "", &UpstreamError{Provider: "chat", Err: errors.New("api key missing")}
	}
	body, err := json.Marshal(chatRequest{
		Model:       c.Model,
		Messages:    chatMessages(in),
		MaxTokens:   c.MaxTokens,
		Temperature: c.Temperature,
	})
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.Endpoint, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", "Bearer "+c.APIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return "", &UpstreamError{Provider: "chat", Timeout: isTimeout(err), Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", &UpstreamError{Provider: "chat", Status: resp.StatusCode, Timeout: isTimeout(err), Err: err}
	}
	var out chatReply
	decodeErr := json.Unmarshal(raw, &out)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		detail := strings.TrimSpace(string(raw))
		if decodeErr == nil && out.Error != nil {
			detail = out.Error.Message
		}
		if detail == "" {
			detail = http.StatusText(resp.StatusCode)
		}
		if len(detail) > 200 {
			detail = detail[:200]
		}
		return "", &UpstreamError{
			Provider: "chat",
			Status:   resp.StatusCode,
			Timeout:  resp.StatusCode == http.StatusGatewayTimeout || resp.StatusCode == http.StatusRequestTimeout,
			Err:      errors.New(detail),
		}
	}
	if decodeErr != nil {
		return "", &UpstreamError{Provider: "chat", Status: resp.StatusCode, Err: fmt.Errorf("decode reply: %w", decodeErr)}
	}
	for _, ch := range out.Choices {
		if text := strings.TrimSpace(ch.Message.Content); text != "" {
			return text, nil
		}
	}
	return "", &UpstreamError{Provider: "chat", Status: resp.StatusCode, Err: errors.New("no reply text")}
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
