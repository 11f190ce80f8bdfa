package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"go.uber.org/zap"

	"tenderzen/smart-import/internal/models"
)

const (
	extractionTemperature = 0.2
	extractionMaxTokens   = 8000
)

type AnalyzerService interface {
	Analyze(ctx context.Context, documentText string, opts models.AnalysisOptions, tier models.ModelTier) (*AnalysisOutput, error)
}

// AnalysisOutput is a parsed extraction plus the model that produced it.
type AnalysisOutput struct {
	Result     *models.ExtractionResult
	Model      string
	TokensUsed int
}

type analyzerService struct {
	llm           LLMService
	promptBuilder *PromptBuilder
	schema        *jsonschema.Schema
	logger        *zap.Logger
}

func NewAnalyzerService(llm LLMService, logger *zap.Logger) (AnalyzerService, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	schema, err := compileSchema(extractionSchema())
	if err != nil {
		return nil, err
	}
	return &analyzerService{
		llm:           llm,
		promptBuilder: NewPromptBuilder(),
		schema:        schema,
		logger:        logger,
	}, nil
}

func (a *analyzerService) Analyze(ctx context.Context, documentText string, opts models.AnalysisOptions, tier models.ModelTier) (*AnalysisOutput, error) {
	if strings.TrimSpace(documentText) == "" {
		return nil, fmt.Errorf("no document text to analyze")
	}

	gen, err := a.llm.GenerateJSON(ctx, GenerationRequest{
		Tier:        tier,
		System:      a.promptBuilder.ExtractionSystemPrompt(),
		Prompt:      a.promptBuilder.BuildExtractionPrompt(documentText, opts),
		Temperature: extractionTemperature,
		MaxTokens:   extractionMaxTokens,
	})
	if err != nil {
		return nil, fmt.Errorf("AI extraction failed: %w", err)
	}

	result, err := a.parseExtraction(gen.Text)
	if err != nil {
		a.logger.Error("❌ Failed to parse extraction", zap.String("model", gen.Model), zap.String("raw", truncate(gen.Text, 1000)), zap.Error(err))
		return nil, err
	}
	if !opts.ExtractCriteria {
		result.Criteria = nil
	}
	if !opts.ExtractCertifications {
		result.Certifications = nil
	}

	a.logSummary(result)
	return &AnalysisOutput{Result: result, Model: gen.Model, TokensUsed: gen.TokensUsed}, nil
}

func (a *analyzerService) parseExtraction(response string) (*models.ExtractionResult, error) {
	jsonStr := extractJSON(response)

	var raw any
	if err := json.Unmarshal([]byte(jsonStr), &raw); err != nil {
		return nil, fmt.Errorf("failed to parse JSON: %w", err)
	}
	if err := a.schema.Validate(raw); err != nil {
		return nil, fmt.Errorf("json does not match schema: %w", err)
	}

	result := models.NewExtractionResult()
	if err := json.Unmarshal([]byte(jsonStr), result); err != nil {
		return nil, err
	}
	normalize(result)
	return result, nil
}

// normalize clamps confidences and zeroes the confidence of empty values.
func normalize(r *models.ExtractionResult) {
	for _, fields := range r.Groups {
		for name, f := range fields {
			switch {
			case f.IsEmpty():
				f.Value = nil
				f.Confidence = 0
			case f.Confidence < 0:
				f.Confidence = 0
			case f.Confidence > 1:
				f.Confidence = 1
			}
			fields[name] = f
		}
	}
}

func (a *analyzerService) logSummary(r *models.ExtractionResult) {
	for _, group := range models.FieldGroups {
		for name, f := range r.Groups[group] {
			if f.IsEmpty() {
				continue
			}
			a.logger.Debug("📌 Extracted field",
				zap.String("group", group),
				zap.String("field", name),
				zap.Any("value", f.Value),
				zap.Float64("confidence", f.Confidence),
			)
		}
	}
}

// extractJSON strips markdown fences and surrounding prose from a model response.
func extractJSON(text string) string {
	text = strings.ReplaceAll(text, "```json", "")
	text = strings.ReplaceAll(text, "```", "")

	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start != -1 && end > start {
		return text[start : end+1]
	}
	return strings.TrimSpace(text)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

func compileSchema(schemaMap map[string]any) (*jsonschema.Schema, error) {
	b, err := json.Marshal(schemaMap)
	if err != nil {
		return nil, fmt.Errorf("marshal schema: %w", err)
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("extraction.json", bytes.NewReader(b)); err != nil {
		return nil, fmt.Errorf("add schema: %w", err)
	}
	schema, err := compiler.Compile("extraction.json")
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}
	return schema, nil
}

// extractionSchema accepts null field entries and extra keys.
func extractionSchema() map[string]any {
	field := map[string]any{
		"type": []any{"object", "null", "string"},
		"properties": map[string]any{
			"confidence": map[string]any{"type": []any{"number", "null"}},
			"source":     map[string]any{"type": []any{"string", "null"}},
		},
	}
	group := map[string]any{
		"type":                 []any{"object", "null"},
		"additionalProperties": field,
	}
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			models.GroupBasicInfo: group,
			models.GroupSchedule:  group,
			"gunningscriteria": map[string]any{
				"type": []any{"object", "null"},
				"properties": map[string]any{
					"criteria": map[string]any{
						"type": []any{"array", "null"},
						"items": map[string]any{
							"type": "object",
							"properties": map[string]any{
								"percentage": map[string]any{"type": []any{"number", "null"}},
							},
						},
					},
				},
			},
			"certificeringen": map[string]any{
				"type": []any{"object", "null"},
				"properties": map[string]any{
					"vereist": map[string]any{
						"type":  []any{"array", "null"},
						"items": map[string]any{"type": "object"},
					},
				},
			},
			"warnings": map[string]any{
				"type":  []any{"array", "null"},
				"items": map[string]any{"type": "string"},
			},
		},
		"required": []any{models.GroupBasicInfo, models.GroupSchedule},
	}
}
