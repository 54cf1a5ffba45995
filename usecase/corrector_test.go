package usecase

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/satriahrh/voicegate/adapters/llm"
	"github.com/satriahrh/voicegate/domain/repositories"
)

type failingModel struct{ recordingModel }

func (m *failingModel) Generate(ctx context.Context, req repositories.GenerateRequest) (string, error) {
	return "", errors.New("quota exceeded")
}

func TestParseCorrection(t *testing.T) {
	tests := []struct {
		name     string
		reply    string
		wantText string
		wantConf float64
		wantErr  bool
	}{
		{"plain", `{"corrected_text":"What is chemotherapy?","confidence_score":0.8}`, "What is chemotherapy?", 0.8, false},
		{"fenced", "```json\n{\"corrected_text\":\"hi\",\"confidence_score\":0.6}\n```", "hi", 0.6, false},
		{"clamped high", `{"corrected_text":"hi","confidence_score":7}`, "hi", 1, false},
		{"clamped low", `{"corrected_text":"hi","confidence_score":-2}`, "hi", 0, false},
		{"not json", "What is chemotherapy?", "", 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := parseCorrection(tt.reply)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantText, c.Text)
			assert.InDelta(t, tt.wantConf, c.Confidence, 1e-9)
		})
	}
}

func TestLLMCorrector(t *testing.T) {
	model := &recordingModel{reply: `{"corrected_text":"What is chemotherapy?","confidence_score":0.9}`}
	c := NewLLMCorrector(model, zap.NewNop())

	got, err := c.Correct(context.Background(), "what is key mo therapy")
	require.NoError(t, err)
	assert.Equal(t, "What is chemotherapy?", got.Text)
	assert.True(t, model.last.JSON)
	assert.Equal(t, "what is key mo therapy", model.last.Message)

	_, err = NewLLMCorrector(&failingModel{}, zap.NewNop()).Correct(context.Background(), "hi")
	assert.Error(t, err)
}

func TestLLMCorrector_MockModel(t *testing.T) {
	c := NewLLMCorrector(llm.NewMockLanguageModel(), zap.NewNop())
	got, err := c.Correct(context.Background(), "what is chemotherapy")
	require.NoError(t, err)
	assert.Equal(t, "what is chemotherapy", got.Text)
	assert.InDelta(t, 0.9, got.Confidence, 1e-9)
}
