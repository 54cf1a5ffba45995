package usecase

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/satriahrh/voicegate/domain/repositories"
	"github.com/satriahrh/voicegate/internal/transcription"
)

const correctionPrompt = `You correct speech recognition output for a healthcare voice assistant.
Fix misheard medical terms, drug names and word boundaries. Do not answer the question and do not add content.
Reply with a JSON object: {"corrected_text": string, "confidence_score": number between 0 and 1}.`

// LLMCorrector repairs final transcripts with a language model.
type LLMCorrector struct {
	model  repositories.LanguageModel
	logger *zap.Logger
}

var _ transcription.Corrector = (*LLMCorrector)(nil)

func NewLLMCorrector(model repositories.LanguageModel, logger *zap.Logger) *LLMCorrector {
	return &LLMCorrector{model: model, logger: logger}
}

// Correct implements transcription.Corrector
func (c *LLMCorrector) Correct(ctx context.Context, text string) (transcription.Correction, error) {
	reply, err := c.model.Generate(ctx, repositories.GenerateRequest{
		SystemPrompt: correctionPrompt,
		Message:      text,
		JSON:         true,
	})
	if err != nil {
		return transcription.Correction{}, fmt.Errorf("correction request: %w", err)
	}
	return parseCorrection(reply)
}

func parseCorrection(reply string) (transcription.Correction, error) {
	reply = strings.TrimSpace(reply)
	// Models sometimes wrap JSON in a code fence.
	reply = strings.TrimPrefix(reply, "```json")
	reply = strings.TrimPrefix(reply, "```")
	reply = strings.TrimSuffix(reply, "```")

	var c transcription.Correction
	if err := json.Unmarshal([]byte(strings.TrimSpace(reply)), &c); err != nil {
		return transcription.Correction{}, fmt.Errorf("decode correction: %w", err)
	}
	c.Confidence = min(max(c.Confidence, 0), 1)
	return c, nil
}
