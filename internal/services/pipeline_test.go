package services

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tenderzen/smart-import/internal/models"
)

type pipelineFixture struct {
	rec      *models.ImportRecord
	imports  *memImportRepo
	storage  *memStorage
	analyzer *stubAnalyzer
	pipeline AnalysisPipeline
}

func newPipelineFixture(extractor TextExtractor) *pipelineFixture {
	rec := record(models.StatusAnalyzing)
	storage := newMemStorage()
	storage.files[rec.Files[0].FilePath] = []byte("Sluiting inschrijving 1 maart 2025")
	storage.files[rec.Files[1].FilePath] = []byte("Vraag 1: geraamde waarde?")

	result := models.NewExtractionResult()
	result.SetField(models.GroupBasicInfo, "naam", models.ExtractedField{Value: "Renovatie", Confidence: 0.9})

	f := &pipelineFixture{
		rec:      rec,
		imports:  newMemImportRepo(rec),
		storage:  storage,
		analyzer: &stubAnalyzer{result: result},
	}
	f.pipeline = NewAnalysisPipeline(f.imports, f.storage, extractor, f.analyzer, nil)
	return f
}

func TestPipeline_CompletesAndReportsProgress(t *testing.T) {
	f := newPipelineFixture(stubExtractor{})

	require.NoError(t, f.pipeline.Run(context.Background(), f.rec.ID, models.TierPro))

	saved := f.imports.get(f.rec.ID)
	assert.Equal(t, models.StatusCompleted, saved.Status)
	assert.Equal(t, ProgressCompleted, saved.Progress)
	assert.Equal(t, models.TierPro, saved.ModelTier)
	require.NotNil(t, saved.ExtractedData)

	assert.Equal(t, []int{15, 15, 22, 40, 90}, f.imports.progress)
	assert.Equal(t, StepTextExtraction+":leidraad.pdf", f.imports.steps[1])
	assert.Equal(t, StepTextExtraction+":nvi.pdf", f.imports.steps[2])

	require.Len(t, f.analyzer.texts, 1)
	text := f.analyzer.texts[0]
	assert.Contains(t, text, strings.Repeat("=", 60)+"\n=== leidraad.pdf ===")
	assert.Contains(t, text, "Sluiting inschrijving 1 maart 2025")
	assert.Contains(t, text, "=== nvi.pdf ===")
	assert.Less(t, strings.Index(text, "leidraad.pdf"), strings.Index(text, "nvi.pdf"))
	assert.Equal(t, []models.ModelTier{models.TierPro}, f.analyzer.tiers)
}

func TestPipeline_PartialExtractionFailureStillAnalyzes(t *testing.T) {
	f := newPipelineFixture(stubExtractor{fail: map[string]bool{"nvi.pdf": true}})

	require.NoError(t, f.pipeline.Run(context.Background(), f.rec.ID, models.TierStandard))

	assert.Equal(t, models.StatusCompleted, f.imports.get(f.rec.ID).Status)
	assert.Contains(t, f.analyzer.texts[0], "[Fout bij extractie: corrupt nvi.pdf]")
}

func TestPipeline_NoReadableFilesFails(t *testing.T) {
	f := newPipelineFixture(stubExtractor{fail: map[string]bool{"leidraad.pdf": true, "nvi.pdf": true}})

	err := f.pipeline.Run(context.Background(), f.rec.ID, models.TierStandard)

	require.Error(t, err)
	saved := f.imports.get(f.rec.ID)
	assert.Equal(t, models.StatusFailed, saved.Status)
	require.NotNil(t, saved.ErrorMessage)
	assert.Contains(t, *saved.ErrorMessage, "geen tekst gevonden")
	assert.Empty(t, f.analyzer.texts)
}

func TestPipeline_AnalyzerErrorIsRecorded(t *testing.T) {
	f := newPipelineFixture(stubExtractor{})
	f.analyzer.err = errors.New("AI extraction failed: quota")

	err := f.pipeline.Run(context.Background(), f.rec.ID, models.TierStandard)

	require.Error(t, err)
	saved := f.imports.get(f.rec.ID)
	assert.Equal(t, models.StatusFailed, saved.Status)
	assert.Equal(t, "AI extraction failed: quota", *saved.ErrorMessage)
}

func TestPipeline_SkipsImportThatIsNoLongerAnalyzing(t *testing.T) {
	f := newPipelineFixture(stubExtractor{})
	_, err := f.imports.Cancel(f.rec.ID)
	require.NoError(t, err)

	require.NoError(t, f.pipeline.Run(context.Background(), f.rec.ID, models.TierStandard))

	assert.Equal(t, models.StatusCancelled, f.imports.get(f.rec.ID).Status)
	assert.Empty(t, f.analyzer.texts)
}

func TestPipeline_CancelDuringAnalysisDropsResult(t *testing.T) {
	f := newPipelineFixture(stubExtractor{})
	f.analyzer.block = true

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.pipeline.Run(ctx, f.rec.ID, models.TierStandard) }()

	require.Eventually(t, func() bool {
		f.analyzer.mu.Lock()
		defer f.analyzer.mu.Unlock()
		return len(f.analyzer.texts) == 1
	}, time.Second, 5*time.Millisecond)

	changed, err := f.imports.Cancel(f.rec.ID)
	require.NoError(t, err)
	require.True(t, changed)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("pipeline did not return after cancel")
	}
	saved := f.imports.get(f.rec.ID)
	assert.Equal(t, models.StatusCancelled, saved.Status)
	assert.Nil(t, saved.ExtractedData)
}
