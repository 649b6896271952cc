// Package advisor is a local stand-in for the Kula advisory service. It
// serves POST /interact so the client can run without the hosted server.
package advisor

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// SystemPrompt frames every model-backed reply.
const SystemPrompt = "You are Kula, a warm and practical assistant for mothers caring for babies and young children. " +
	"Address the user as Mama. Answer briefly and clearly. " +
	"When a message reports a photo analysis result, explain what it may mean and give safe next steps. " +
	"Always recommend seeing a health worker for danger signs such as high fever, trouble breathing, or refusing to feed."

var (
	ErrEmptyMessage = errors.New("advisor: empty message")
	// ErrUpstreamTimeout matches provider failures that should surface as a
	// gateway timeout rather than a bad gateway.
	ErrUpstreamTimeout = errors.New("advisor: upstream timed out")
)

// UpstreamError reports a failed call to a model provider.
type UpstreamError struct {
	Provider string
	Status   int
	Timeout  bool
	Err      error
}

func (e *UpstreamError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("%s: status %d: %v", e.Provider, e.Status, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Provider, e.Err)
}

func (e *UpstreamError) Unwrap() error { return e.Err }

func (e *UpstreamError) Is(target error) bool { return target == ErrUpstreamTimeout && e.Timeout }

const (
	analysisPrefix = "I have analyzed a photo and the result is: "
	analysisSuffix = "What is your advice?"
)

// Inquiry is one incoming message. Label is set when the client sent a photo
// analysis result; Text then holds whatever the mother typed alongside it.
type Inquiry struct {
	Label string
	Text  string
}

func (in Inquiry) Photo() bool { return in.Label != "" }

// ParseInquiry splits a photo analysis message into its label and free text.
// Anything else is returned as plain text.
func ParseInquiry(message string) (Inquiry, error) {
	msg := strings.TrimSpace(message)
	if msg == "" {
		return Inquiry{}, ErrEmptyMessage
	}
	rest, ok := strings.CutPrefix(msg, analysisPrefix)
	if !ok {
		return Inquiry{Text: msg}, nil
	}
	rest = strings.TrimSpace(strings.TrimSuffix(rest, analysisSuffix))
	label, text, found := strings.Cut(rest, ". ")
	if !found {
		label = strings.TrimSuffix(rest, ".")
	}
	label = strings.TrimSpace(label)
	if label == "" {
		return Inquiry{Text: msg}, nil
	}
	return Inquiry{Label: label, Text: strings.TrimSpace(text)}, nil
}

// Responder produces one reply for one message.
type Responder interface {
	Reply(ctx context.Context, message string) (string, error)
}

// ResponderFunc adapts a function to Responder.
type ResponderFunc func(ctx context.Context, message string) (string, error)

func (f ResponderFunc) Reply(ctx context.Context, message string) (string, error) {
	return f(ctx, message)
}

type rule struct {
	keywords []string
	reply    string
}

// ScriptedResponder answers from a fixed keyword table. It needs no network
// and is the default backend.
type ScriptedResponder struct {
	rules    []rule
	fallback string
}

func NewScriptedResponder() *ScriptedResponder {
	return &ScriptedResponder{
		rules: []rule{
			{[]string{"fever", "hot", "temperature"}, "A fever is the body fighting an infection, Mama. Keep your baby lightly dressed, offer breast milk or water often, and check the temperature. If the baby is under 3 months, the fever is very high, or the baby is unusually sleepy, please see a health worker today."},
			{[]string{"rash", "spots", "skin"}, "Many rashes are mild, Mama. Keep the skin clean and dry and avoid harsh soaps. If the rash does not fade when you press a glass on it, or comes with fever, please see a health worker quickly."},
			{[]string{"cough", "breath", "breathing"}, "Watch how your baby breathes, Mama. Fast breathing, a pulling-in chest, or noisy breathing are danger signs and need a health worker right away. For a mild cough keep the baby upright and feeding well."},
			{[]string{"diarrhea", "diarrhoea", "vomit", "stool"}, "Give small, frequent sips of oral rehydration solution and keep breastfeeding, Mama. If your baby cannot drink, has no tears, or has very few wet nappies, please go to a clinic."},
			{[]string{"healthy", "normal"}, "That is good news, Mama. Keep up regular feeding, sleep, and clinic check-ups."},
			{[]string{"hello", "hi ", "how are you"}, "I am well, Mama. How is your little one today?"},
		},
		fallback: "Thank you for telling me, Mama. Could you share a little more about how your baby is feeding, sleeping, and behaving?",
	}
}

// Reply matches the photo label first, then the free text.
func (s *ScriptedResponder) Reply(ctx context.Context, message string) (string, error) {
	in, err := ParseInquiry(message)
	if err != nil {
		return "", err
	}
	for _, candidate := range []string{in.Label, in.Text} {
		if reply, ok := s.match(candidate); ok {
			return reply, nil
		}
	}
	return s.fallback, nil
}

func (s *ScriptedResponder) match(text string) (string, bool) {
	if text == "" {
		return "", false
	}
	padded := strings.ToLower(text) + " "
	for _, r := range s.rules {
		for _, k := range r.keywords {
			if strings.Contains(padded, k) {
				return r.reply, true
			}
		}
	}
	return "", false
}
