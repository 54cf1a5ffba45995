package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"google.golang.org/genai"

	"github.com/satriahrh/voicegate/domain/repositories"
)

const (
	defaultModel          = "gemini-2.5-flash"
	defaultTemperature    = 0.7
	defaultTopP           = 0.95
	defaultTopK           = 40
	defaultMaxTokens      = 512
	defaultTimeoutSeconds = 30
	maxAttempts           = 3
)

// GeminiConfig holds generation settings. Zero values take defaults.
type GeminiConfig struct {
	APIKey          string
	Model           string
	Temperature     float32
	TopP            float32
	TopK            float32
	MaxOutputTokens int
	TimeoutSeconds  int
}

// ValidateGeminiConfig validates the GeminiConfig
func ValidateGeminiConfig(config GeminiConfig) error {
	if config.APIKey == "" {
		return errors.New("gemini API key is required")
	}
	if config.Temperature < 0 || config.Temperature > 2 {
		return fmt.Errorf("temperature must be between 0 and 2, got %f", config.Temperature)
	}
	if config.TopP < 0 || config.TopP > 1 {
		return fmt.Errorf("topP must be between 0 and 1, got %f", config.TopP)
	}
	if config.TopK < 0 {
		return fmt.Errorf("topK must be positive, got %f", config.TopK)
	}
	if config.TimeoutSeconds < 0 {
		return fmt.Errorf("timeout must be positive, got %d", config.TimeoutSeconds)
	}
	return nil
}

func (c GeminiConfig) withDefaults() GeminiConfig {
	if c.Model == "" {
		c.Model = defaultModel
	}
	if c.Temperature == 0 {
		c.Temperature = defaultTemperature
	}
	if c.TopP == 0 {
		c.TopP = defaultTopP
	}
	if c.TopK == 0 {
		c.TopK = defaultTopK
	}
	if c.MaxOutputTokens == 0 {
		c.MaxOutputTokens = defaultMaxTokens
	}
	if c.TimeoutSeconds == 0 {
		c.TimeoutSeconds = defaultTimeoutSeconds
	}
	return c
}

// GeminiModel implements repositories.LanguageModel using Google's Gemini API.
type GeminiModel struct {
	client *genai.Client
	config GeminiConfig
	logger *zap.Logger
}

// NewGeminiModel creates a Gemini client.
func NewGeminiModel(ctx context.Context, config GeminiConfig, logger *zap.Logger) (*GeminiModel, error) {
	if err := ValidateGeminiConfig(config); err != nil {
		return nil, err
	}
	config = config.withDefaults()

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  config.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}

	logger.Info("Gemini model ready", zap.String("model", config.Model))
	return &GeminiModel{client: client, config: config, logger: logger}, nil
}

// Generate returns the whole reply, retrying transient failures.
func (g *GeminiModel) Generate(ctx context.Context, req repositories.GenerateRequest) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, time.Duration(g.config.TimeoutSeconds)*time.Second)
	defer cancel()

	contents := buildContents(req)
	config := buildConfig(g.config, req)

	var (
		response *genai.GenerateContentResponse
		err      error
	)
	for attempt := 0; attempt < maxAttempts; attempt++ {
		response, err = g.client.Models.GenerateContent(ctx, g.config.Model, contents, config)
		if err == nil {
			break
		}

		g.logger.Warn("Failed to generate content, retrying",
			zap.Int("attempt", attempt+1),
			zap.Error(err))

		if attempt < maxAttempts-1 {
			select {
			case <-time.After(time.Duration(attempt+1) * time.Second):
			case <-ctx.Done():
				return "", ctx.Err()
			}
		}
	}
	if err != nil {
		return "", fmt.Errorf("gemini generate: %w", err)
	}

	text := responseText(response)
	if text == "" {
		return "", errors.New("gemini returned no content")
	}
	return text, nil
}

// GenerateStream streams the reply. Failures after the first delta arrive as
// a final delta with Err set.
func (g *GeminiModel) GenerateStream(ctx context.Context, req repositories.GenerateRequest) (<-chan repositories.TextDelta, error) {
	ctx, cancel := context.WithTimeout(ctx, time.Duration(g.config.TimeoutSeconds)*time.Second)
	seq := g.client.Models.GenerateContentStream(ctx, g.config.Model, buildContents(req), buildConfig(g.config, req))

	out := make(chan repositories.TextDelta, 16)
	go func() {
		defer cancel()
		defer close(out)

		emitted := false
		for response, err := range seq {
			if err != nil {
				g.logger.Warn("Gemini stream failed", zap.Bool("partial", emitted), zap.Error(err))
				send(ctx, out, repositories.TextDelta{Err: fmt.Errorf("gemini stream: %w", err)})
				return
			}
			text := responseText(response)
			if text == "" {
				continue
			}
			emitted = true
			if !send(ctx, out, repositories.TextDelta{Text: text}) {
				return
			}
		}
		if !emitted {
			send(ctx, out, repositories.TextDelta{Err: errors.New("gemini returned no content")})
		}
	}()
	return out, nil
}

func send(ctx context.Context, out chan<- repositories.TextDelta, d repositories.TextDelta) bool {
	select {
	case out <- d:
		return true
	case <-ctx.Done():
		return false
	}
}

func buildConfig(c GeminiConfig, req repositories.GenerateRequest) *genai.GenerateContentConfig {
	config := &genai.GenerateContentConfig{
		Temperature:     genai.Ptr(c.Temperature),
		TopP:            genai.Ptr(c.TopP),
		TopK:            genai.Ptr(c.TopK),
		MaxOutputTokens: int32(c.MaxOutputTokens),
	}
	if req.SystemPrompt != "" {
		config.SystemInstruction = genai.NewContentFromText(req.SystemPrompt, genai.RoleUser)
	}
	if req.JSON {
		config.ResponseMIMEType = "application/json"
	}
	return config
}

// buildContents converts history plus the new message to Gemini contents.
func buildContents(req repositories.GenerateRequest) []*genai.Content {
	contents := make([]*genai.Content, 0, len(req.History)+1)
	for _, msg := range req.History {
		if strings.TrimSpace(msg.Content) == "" {
			continue
		}
		var role genai.Role
		switch msg.Role {
		case repositories.AssistantRole:
			role = genai.RoleModel
		default:
			// Gemini only knows user and model turns.
			role = genai.RoleUser
		}
		contents = append(contents, genai.NewContentFromText(msg.Content, role))
	}
	contents = append(contents, genai.NewContentFromText(req.Message, genai.RoleUser))
	return contents
}

func responseText(response *genai.GenerateContentResponse) string {
	if response == nil || len(response.Candidates) == 0 || response.Candidates[0].Content == nil {
		return ""
	}
	var b strings.Builder
	for _, part := range response.Candidates[0].Content.Parts {
		if part != nil && part.Text != "" {
			b.WriteString(part.Text)
		}
	}
	return b.String()
}
