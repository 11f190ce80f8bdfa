package services

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"
	"google.golang.org/genai"

	"tenderzen/smart-import/internal/models"
)

// GeminiConfig maps tiers to Gemini models.
type GeminiConfig struct {
	APIKey        string
	StandardModel string
	ProModel      string
}

type geminiService struct {
	client *genai.Client
	models map[models.ModelTier]string
	logger *zap.Logger
}

func NewGeminiService(ctx context.Context, cfg GeminiConfig, logger *zap.Logger) (LLMService, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("gemini api key is not configured")
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create gemini client: %w", err)
	}

	return &geminiService{
		client: client,
		models: map[models.ModelTier]string{
			models.TierStandard: cfg.StandardModel,
			models.TierPro:      cfg.ProModel,
		},
		logger: logger,
	}, nil
}

func (g *geminiService) Model(tier models.ModelTier) string {
	if m, ok := g.models[tier]; ok && m != "" {
		return m
	}
	return g.models[models.TierStandard]
}

// GenerateJSON implements LLMService.
func (g *geminiService) GenerateJSON(ctx context.Context, req GenerationRequest) (*Generation, error) {
	model := g.Model(req.Tier)
	temperature := req.Temperature

	config := &genai.GenerateContentConfig{
		Temperature:      &temperature,
		MaxOutputTokens:  req.MaxTokens,
		ResponseMIMEType: "application/json",
	}
	if req.System != "" {
		config.SystemInstruction = genai.NewContentFromText(req.System, genai.RoleUser)
	}

	resp, err := g.client.Models.GenerateContent(ctx, model, genai.Text(req.Prompt), config)
	if err != nil {
		g.logger.Error("❌ Gemini API error", zap.String("model", model), zap.Error(err))
		if isQuotaError(err) {
			return nil, fmt.Errorf("%w: %v", ErrQuotaExceeded, err)
		}
		return nil, fmt.Errorf("failed to generate text: %w", err)
	}
	if resp == nil {
		return nil, fmt.Errorf("no response generated (nil response)")
	}

	text := resp.Text()
	if text == "" {
		return nil, fmt.Errorf("no text content in response")
	}

	gen := &Generation{Text: text, Model: model}
	if resp.UsageMetadata != nil {
		gen.TokensUsed = int(resp.UsageMetadata.TotalTokenCount)
	}
	g.logger.Info("📊 Gemini response received", zap.String("model", model), zap.Int("tokens", gen.TokensUsed))
	return gen, nil
}

func isQuotaError(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "429") || strings.Contains(msg, "RESOURCE_EXHAUSTED")
}
