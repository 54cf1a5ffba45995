package llm

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/satriahrh/voicegate/domain/repositories"
)

const mockFallback = "Thanks for your question. I can share general information, " +
	"but please talk to a healthcare professional about your situation."

// MockLanguageModel is an offline stand-in for Gemini. Replies are
// deterministic so sessions can be exercised without credentials.
type MockLanguageModel struct{}

// NewMockLanguageModel creates a new mock language model
func NewMockLanguageModel() *MockLanguageModel {
	return &MockLanguageModel{}
}

// Generate implements repositories.LanguageModel
func (m *MockLanguageModel) Generate(ctx context.Context, req repositories.GenerateRequest) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if req.JSON {
		// Correction requests get the input back with high confidence.
		out, err := json.Marshal(map[string]any{
			"corrected_text":   strings.TrimSpace(req.Message),
			"confidence_score": 0.9,
		})
		return string(out), err
	}
	return mockReply(req), nil
}

// GenerateStream implements repositories.LanguageModel. The reply arrives
// word by word.
func (m *MockLanguageModel) GenerateStream(ctx context.Context, req repositories.GenerateRequest) (<-chan repositories.TextDelta, error) {
	reply, err := m.Generate(ctx, req)
	if err != nil {
		return nil, err
	}

	out := make(chan repositories.TextDelta)
	go func() {
		defer close(out)
		for _, word := range splitKeepSpaces(reply) {
			if !send(ctx, out, repositories.TextDelta{Text: word}) {
				return
			}
		}
	}()
	return out, nil
}

func mockReply(req repositories.GenerateRequest) string {
	facts := promptFacts(req.SystemPrompt)
	if len(facts) == 0 {
		return mockFallback
	}
	return strings.Join(facts, " ") + " Please consult a healthcare professional for personal advice."
}

// promptFacts returns the reference note bullets of a system prompt.
func promptFacts(prompt string) []string {
	_, notes, ok := strings.Cut(prompt, repositories.ReferenceNotesHeader)
	if !ok {
		return nil
	}
	var facts []string
	for _, line := range strings.Split(notes, "\n") {
		line = strings.TrimSpace(line)
		if fact, ok := strings.CutPrefix(line, "- "); ok && fact != "" {
			facts = append(facts, fact)
		}
	}
	return facts
}

// splitKeepSpaces cuts text after every space so the pieces concatenate back
// to the input.
func splitKeepSpaces(text string) []string {
	var parts []string
	for text != "" {
		i := strings.IndexByte(text, ' ')
		if i < 0 {
			parts = append(parts, text)
			break
		}
		parts = append(parts, text[:i+1])
		text = text[i+1:]
	}
	return parts
}
