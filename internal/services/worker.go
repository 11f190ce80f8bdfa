package services

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"tenderzen/smart-import/internal/models"
	"tenderzen/smart-import/internal/repositories"
)

// AnalysisTask asks the worker to analyze one import with a tier.
type AnalysisTask struct {
	ImportID uuid.UUID
	Tier     models.ModelTier
}

type Worker interface {
	Start(ctx context.Context)
	Stop()
	Enqueue(task AnalysisTask) bool
	Cancel(importID uuid.UUID) bool
}

// WorkerConfig sizes the pool and the stale sweep.
type WorkerConfig struct {
	Concurrency   int
	QueueSize     int
	SweepInterval time.Duration
	// StaleAfter is how long an analyzing import may go without a write before it is re-enqueued.
	StaleAfter time.Duration
}

type activeRun struct {
	cancel context.CancelFunc
}

type worker struct {
	importRepo repositories.ImportRepository
	pipeline   AnalysisPipeline
	cfg        WorkerConfig
	logger     *zap.Logger

	jobQueue chan AnalysisTask
	wg       sync.WaitGroup
	stopChan chan struct{}
	stopOnce sync.Once

	mu      sync.Mutex
	running map[uuid.UUID]*activeRun
	// queued counts tasks per import that sit in jobQueue.
	queued map[uuid.UUID]int
}

func NewWorker(
	importRepo repositories.ImportRepository,
	pipeline AnalysisPipeline,
	cfg WorkerConfig,
	logger *zap.Logger,
) Worker {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 100
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = 10 * time.Second
	}
	return &worker{
		importRepo: importRepo,
		pipeline:   pipeline,
		cfg:        cfg,
		logger:     logger,
		jobQueue:   make(chan AnalysisTask, cfg.QueueSize),
		stopChan:   make(chan struct{}),
		running:    make(map[uuid.UUID]*activeRun),
		queued:     make(map[uuid.UUID]int),
	}
}

// Start implements Worker.
func (w *worker) Start(ctx context.Context) {
	w.logger.Info("🚀 Starting worker", zap.Int("concurrency", w.cfg.Concurrency))

	for i := 0; i < w.cfg.Concurrency; i++ {
		w.wg.Add(1)
		go w.processJobs(ctx, i+1)
	}

	if w.cfg.StaleAfter > 0 {
		w.wg.Add(1)
		go w.sweepStaleJobs()
	}

	w.logger.Info("✅ Worker started successfully")
}

// Stop implements Worker. Running analyses are cancelled and left for the next sweep.
func (w *worker) Stop() {
	w.stopOnce.Do(func() {
		w.logger.Info("🛑 Stopping worker...")
		close(w.stopChan)

		w.mu.Lock()
		for _, run := range w.running {
			run.cancel()
		}
		w.mu.Unlock()

		w.wg.Wait()
		w.logger.Info("✅ Worker stopped")
	})
}

// Enqueue implements Worker.
func (w *worker) Enqueue(task AnalysisTask) bool {
	select {
	case <-w.stopChan:
		w.logger.Warn("⚠️ Worker stopped, cannot enqueue job", zap.String("import_id", task.ImportID.String()))
		return false
	default:
	}

	w.mu.Lock()
	w.queued[task.ImportID]++
	w.mu.Unlock()

	select {
	case w.jobQueue <- task:
		w.logger.Info("📥 Job enqueued", zap.String("import_id", task.ImportID.String()), zap.String("tier", string(task.Tier)))
		return true
	case <-w.stopChan:
		w.dequeued(task.ImportID)
		w.logger.Warn("⚠️ Worker stopped, cannot enqueue job", zap.String("import_id", task.ImportID.String()))
		return false
	}
}

func (w *worker) dequeued(importID uuid.UUID) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.queued[importID] <= 1 {
		delete(w.queued, importID)
		return
	}
	w.queued[importID]--
}

// Cancel implements Worker. It reports whether a running analysis was cancelled.
// The import is released at once so a new task for it can start while the
// cancelled run winds down.
func (w *worker) Cancel(importID uuid.UUID) bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	run, ok := w.running[importID]
	if ok {
		run.cancel()
		delete(w.running, importID)
	}
	return ok
}

func (w *worker) processJobs(ctx context.Context, workerID int) {
	defer w.wg.Done()
	log := w.logger.With(zap.Int("worker", workerID))

	for {
		select {
		case <-w.stopChan:
			log.Debug("👷 Worker stopped")
			return
		case <-ctx.Done():
			return
		case task := <-w.jobQueue:
			w.dequeued(task.ImportID)
			w.process(ctx, log, task)
		}
	}
}

func (w *worker) process(ctx context.Context, log *zap.Logger, task AnalysisTask) {
	taskCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	w.mu.Lock()
	if _, busy := w.running[task.ImportID]; busy {
		w.mu.Unlock()
		log.Warn("⚠️ Import already being analyzed", zap.String("import_id", task.ImportID.String()))
		return
	}
	run := &activeRun{cancel: cancel}
	w.running[task.ImportID] = run
	w.mu.Unlock()

	defer func() {
		w.mu.Lock()
		if w.running[task.ImportID] == run {
			delete(w.running, task.ImportID)
		}
		w.mu.Unlock()
	}()

	log.Info("👷 Processing job", zap.String("import_id", task.ImportID.String()))
	if err := w.pipeline.Run(taskCtx, task.ImportID, task.Tier); err != nil {
		log.Error("❌ Job failed", zap.String("import_id", task.ImportID.String()), zap.Error(err))
		return
	}
	log.Info("✅ Job finished", zap.String("import_id", task.ImportID.String()))
}

func (w *worker) sweepStaleJobs() {
	defer w.wg.Done()
	ticker := time.NewTicker(w.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-w.stopChan:
			return
		case <-ticker.C:
			w.sweep()
		}
	}
}

func (w *worker) sweep() {
	stale, err := w.importRepo.FindStale(time.Now().Add(-w.cfg.StaleAfter), 10)
	if err != nil {
		w.logger.Warn("⚠️ Failed to fetch stale imports", zap.Error(err))
		return
	}

	for _, rec := range stale {
		w.mu.Lock()
		_, busy := w.running[rec.ID]
		waiting := w.queued[rec.ID] > 0
		w.mu.Unlock()
		if busy || waiting {
			continue
		}

		tier := models.TierStandard
		if rec.Options != nil && rec.Options.Model.Valid() {
			tier = rec.Options.Model
		}
		w.logger.Info("📋 Re-enqueueing stale import", zap.String("import_id", rec.ID.String()))
		if !w.Enqueue(AnalysisTask{ImportID: rec.ID, Tier: tier}) {
			return
		}
	}
}
