package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tenderzen/smart-import/internal/models"
)

// recordingPipeline records runs. With block set it waits for the task context to end.
type recordingPipeline struct {
	mu       sync.Mutex
	runs     []AnalysisTask
	block    bool
	canceled chan uuid.UUID
}

func newRecordingPipeline(block bool) *recordingPipeline {
	return &recordingPipeline{block: block, canceled: make(chan uuid.UUID, 4)}
}

func (p *recordingPipeline) Run(ctx context.Context, importID uuid.UUID, tier models.ModelTier) error {
	p.mu.Lock()
	p.runs = append(p.runs, AnalysisTask{ImportID: importID, Tier: tier})
	p.mu.Unlock()

	if p.block {
		<-ctx.Done()
		p.canceled <- importID
	}
	return nil
}

func (p *recordingPipeline) count() int {
	return len(p.tasks())
}

func (p *recordingPipeline) tasks() []AnalysisTask {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]AnalysisTask(nil), p.runs...)
}

func TestWorker_ProcessesQueuedTasks(t *testing.T) {
	pipeline := newRecordingPipeline(false)
	w := NewWorker(newMemImportRepo(), pipeline, WorkerConfig{Concurrency: 2}, nil)
	w.Start(context.Background())
	defer w.Stop()

	a, b := uuid.New(), uuid.New()
	require.True(t, w.Enqueue(AnalysisTask{ImportID: a, Tier: models.TierStandard}))
	require.True(t, w.Enqueue(AnalysisTask{ImportID: b, Tier: models.TierPro}))

	require.Eventually(t, func() bool { return pipeline.count() == 2 }, time.Second, 5*time.Millisecond)
	assert.ElementsMatch(t, []AnalysisTask{
		{ImportID: a, Tier: models.TierStandard},
		{ImportID: b, Tier: models.TierPro},
	}, pipeline.tasks())
}

func TestWorker_CancelStopsRunningAnalysis(t *testing.T) {
	pipeline := newRecordingPipeline(true)
	w := NewWorker(newMemImportRepo(), pipeline, WorkerConfig{Concurrency: 1}, nil)
	w.Start(context.Background())
	defer w.Stop()

	id := uuid.New()
	assert.False(t, w.Cancel(id), "nothing running yet")
	require.True(t, w.Enqueue(AnalysisTask{ImportID: id, Tier: models.TierStandard}))
	require.Eventually(t, func() bool { return pipeline.count() == 1 }, time.Second, 5*time.Millisecond)

	require.Eventually(t, func() bool { return w.Cancel(id) }, time.Second, 5*time.Millisecond)

	select {
	case got := <-pipeline.canceled:
		assert.Equal(t, id, got)
	case <-time.After(time.Second):
		t.Fatal("running analysis was not cancelled")
	}
}

func TestWorker_TaskAfterCancelRunsAgain(t *testing.T) {
	pipeline := newRecordingPipeline(true)
	w := NewWorker(newMemImportRepo(), pipeline, WorkerConfig{Concurrency: 2}, nil)
	w.Start(context.Background())
	defer w.Stop()

	id := uuid.New()
	require.True(t, w.Enqueue(AnalysisTask{ImportID: id, Tier: models.TierStandard}))
	require.Eventually(t, func() bool { return w.Cancel(id) }, time.Second, 5*time.Millisecond)

	require.True(t, w.Enqueue(AnalysisTask{ImportID: id, Tier: models.TierPro}))
	require.Eventually(t, func() bool { return pipeline.count() == 2 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, models.TierPro, pipeline.tasks()[1].Tier)
}

func TestWorker_StopCancelsRunningAndRefusesNewTasks(t *testing.T) {
	pipeline := newRecordingPipeline(true)
	w := NewWorker(newMemImportRepo(), pipeline, WorkerConfig{Concurrency: 1}, nil)
	w.Start(context.Background())

	id := uuid.New()
	require.True(t, w.Enqueue(AnalysisTask{ImportID: id, Tier: models.TierStandard}))
	require.Eventually(t, func() bool { return pipeline.count() == 1 }, time.Second, 5*time.Millisecond)

	w.Stop()
	w.Stop()

	assert.Equal(t, id, <-pipeline.canceled)
	assert.False(t, w.Enqueue(AnalysisTask{ImportID: uuid.New()}))
}

func TestWorker_SweepRequeuesStaleImports(t *testing.T) {
	stale := record(models.StatusAnalyzing)
	stale.UpdatedAt = time.Now().Add(-time.Hour)
	stale.Options = &models.AnalysisOptions{Model: models.TierPro}
	fresh := record(models.StatusAnalyzing)
	fresh.UpdatedAt = time.Now()
	done := record(models.StatusCompleted)
	done.UpdatedAt = time.Now().Add(-time.Hour)

	w := NewWorker(newMemImportRepo(stale, fresh, done), newRecordingPipeline(false), WorkerConfig{StaleAfter: 10 * time.Minute}, nil).(*worker)

	w.sweep()

	require.Len(t, w.jobQueue, 1)
	task := <-w.jobQueue
	assert.Equal(t, AnalysisTask{ImportID: stale.ID, Tier: models.TierPro}, task)
}

func TestWorker_SweepSkipsImportsAlreadyQueued(t *testing.T) {
	stale := record(models.StatusAnalyzing)
	stale.UpdatedAt = time.Now().Add(-time.Hour)

	w := NewWorker(newMemImportRepo(stale), newRecordingPipeline(false), WorkerConfig{StaleAfter: 10 * time.Minute}, nil).(*worker)

	w.sweep()
	w.sweep()
	require.Len(t, w.jobQueue, 1)

	<-w.jobQueue
	w.dequeued(stale.ID)
	w.sweep()
	assert.Len(t, w.jobQueue, 1)
}
