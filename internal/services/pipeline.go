package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"tenderzen/smart-import/internal/models"
	"tenderzen/smart-import/internal/repositories"
)

// Progress checkpoints written while an analysis runs.
const (
	ProgressUploaded       = 10
	ProgressTextExtraction = 15
	ProgressAIExtraction   = 40
	ProgressFinalizing     = 90
	ProgressCompleted      = 100
)

const (
	StepUpload         = "upload"
	StepReanalyzeInit  = "reanalyze_init"
	StepTextExtraction = "text_extraction"
	StepAIExtraction   = "ai_extraction"
	StepFinalizing     = "finalizing"
)

// AnalysisPipeline runs one analysis of a stored import.
type AnalysisPipeline interface {
	Run(ctx context.Context, importID uuid.UUID, tier models.ModelTier) error
}

type analysisPipeline struct {
	importRepo repositories.ImportRepository
	storage    StorageService
	extractor  TextExtractor
	analyzer   AnalyzerService
	logger     *zap.Logger
}

func NewAnalysisPipeline(
	importRepo repositories.ImportRepository,
	storage StorageService,
	extractor TextExtractor,
	analyzer AnalyzerService,
	logger *zap.Logger,
) AnalysisPipeline {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &analysisPipeline{
		importRepo: importRepo,
		storage:    storage,
		extractor:  extractor,
		analyzer:   analyzer,
		logger:     logger,
	}
}

// Run extracts text from every file, asks the model for the fields and stores the result.
// Writes after a cancellation are dropped by the repository.
func (p *analysisPipeline) Run(ctx context.Context, importID uuid.UUID, tier models.ModelTier) error {
	log := p.logger.With(zap.String("import_id", importID.String()), zap.String("tier", string(tier)))

	err := p.run(ctx, log, importID, tier)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, repositories.ErrStaleUpdate), errors.Is(err, context.Canceled):
		log.Info("🛑 Analysis abandoned", zap.Error(err))
		return nil
	}

	log.Error("❌ Analysis failed", zap.Error(err))
	if ferr := p.importRepo.Fail(importID, err.Error()); ferr != nil && !errors.Is(ferr, repositories.ErrStaleUpdate) {
		log.Error("❌ Failed to record analysis failure", zap.Error(ferr))
	}
	return err
}

func (p *analysisPipeline) run(ctx context.Context, log *zap.Logger, importID uuid.UUID, tier models.ModelTier) error {
	rec, err := p.importRepo.FindByID(importID)
	if err != nil {
		return err
	}
	if rec.Status != models.StatusAnalyzing {
		return repositories.ErrStaleUpdate
	}
	if len(rec.Files) == 0 {
		return fmt.Errorf("geen bestanden gevonden")
	}

	opts := models.DefaultAnalysisOptions()
	if rec.Options != nil {
		opts = *rec.Options
	}

	if err := p.importRepo.UpdateProgress(importID, models.StatusAnalyzing, ProgressTextExtraction, StepTextExtraction); err != nil {
		return err
	}

	log.Info("📄 Extracting text", zap.Int("files", len(rec.Files)))
	text, err := p.extractAll(ctx, importID, rec.Files)
	if err != nil {
		return err
	}

	if err := p.importRepo.UpdateProgress(importID, models.StatusAnalyzing, ProgressAIExtraction, StepAIExtraction); err != nil {
		return err
	}
	log.Info("🤖 Starting AI extraction")
	out, err := p.analyzer.Analyze(ctx, text, opts, tier)
	if err != nil {
		return err
	}

	if err := p.importRepo.UpdateProgress(importID, models.StatusAnalyzing, ProgressFinalizing, StepFinalizing); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := p.importRepo.Complete(importID, out.Result, tier); err != nil {
		return err
	}

	log.Info("✅ Analysis completed", zap.String("model", out.Model), zap.Int("tokens", out.TokensUsed))
	return nil
}

func (p *analysisPipeline) extractAll(ctx context.Context, importID uuid.UUID, files []models.ImportFile) (string, error) {
	banner := strings.Repeat("=", 60)
	var sb strings.Builder
	extracted := 0

	for i, f := range files {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		progress := ProgressTextExtraction + i*15/len(files)
		if err := p.importRepo.UpdateProgress(importID, models.StatusAnalyzing, progress, StepTextExtraction+":"+f.Name); err != nil {
			return "", err
		}

		text, err := p.extractFile(f)
		if err != nil {
			p.logger.Warn("⚠️ Text extraction failed", zap.String("file", f.Name), zap.Error(err))
			text = fmt.Sprintf("[Fout bij extractie: %v]", err)
		} else {
			extracted++
		}
		fmt.Fprintf(&sb, "\n\n%s\n=== %s ===\n%s\n\n%s", banner, f.Name, banner, text)
	}

	if extracted == 0 {
		return "", fmt.Errorf("geen tekst gevonden in de documenten")
	}
	return sb.String(), nil
}

func (p *analysisPipeline) extractFile(f models.ImportFile) (string, error) {
	data, err := p.storage.ReadFile(f.FilePath)
	if err != nil {
		return "", err
	}
	return p.extractor.Extract(f.Name, data)
}
