package services

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/ollama/ollama/api"
	"go.uber.org/zap"

	"tenderzen/smart-import/internal/models"
)

// OllamaConfig maps tiers to locally served models. The host comes from OLLAMA_HOST.
type OllamaConfig struct {
	StandardModel string
	ProModel      string
}

type ollamaService struct {
	client *api.Client
	models map[models.ModelTier]string
	logger *zap.Logger
}

func NewOllamaService(cfg OllamaConfig, logger *zap.Logger) (LLMService, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	client, err := api.ClientFromEnvironment()
	if err != nil {
		return nil, fmt.Errorf("failed to create ollama client: %w", err)
	}
	return &ollamaService{
		client: client,
		models: map[models.ModelTier]string{
			models.TierStandard: cfg.StandardModel,
			models.TierPro:      cfg.ProModel,
		},
		logger: logger,
	}, nil
}

func (o *ollamaService) Model(tier models.ModelTier) string {
	if m, ok := o.models[tier]; ok && m != "" {
		return m
	}
	return o.models[models.TierStandard]
}

func (o *ollamaService) GenerateJSON(ctx context.Context, req GenerationRequest) (*Generation, error) {
	model := o.Model(req.Tier)
	stream := false

	var sb strings.Builder
	gen := &Generation{Model: model}
	err := o.client.Generate(ctx, &api.GenerateRequest{
		Model:  model,
		System: req.System,
		Prompt: req.Prompt,
		Stream: &stream,
		Format: json.RawMessage(`"json"`),
		Options: map[string]any{
			"temperature": req.Temperature,
			"num_predict": req.MaxTokens,
		},
	}, func(resp api.GenerateResponse) error {
		sb.WriteString(resp.Response)
		if resp.Done {
			gen.TokensUsed = resp.PromptEvalCount + resp.EvalCount
		}
		return nil
	})
	if err != nil {
		o.logger.Error("❌ Ollama API error", zap.String("model", model), zap.Error(err))
		return nil, fmt.Errorf("failed to generate text: %w", err)
	}

	gen.Text = sb.String()
	if strings.TrimSpace(gen.Text) == "" {
		return nil, fmt.Errorf("no text content in response")
	}
	o.logger.Info("📊 Ollama response received", zap.String("model", model), zap.Int("tokens", gen.TokensUsed))
	return gen, nil
}
