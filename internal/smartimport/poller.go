package smartimport

import (
	"context"
	"time"

	"go.uber.org/zap"

	"tenderzen/smart-import/internal/models"
)

// PollOptions configures one polling run.
type PollOptions struct {
	Interval time.Duration
	// Timeout bounds the whole run. Zero uses the default, a negative value disables it.
	Timeout time.Duration
	// RequestTimeout bounds a single status fetch.
	RequestTimeout time.Duration
	// RequireTier makes a completed report of any other tier count as "no change".
	// Reanalysis reuses the job id, so the first reports may still describe the previous run.
	RequireTier models.ModelTier
}

// DefaultPollOptions polls every 1.2s and gives up after 5 minutes.
func DefaultPollOptions() PollOptions {
	return PollOptions{
		Interval:       1200 * time.Millisecond,
		Timeout:        5 * time.Minute,
		RequestTimeout: 10 * time.Second,
	}
}

type UpdateKind string

const (
	UpdateProgress  UpdateKind = "progress"
	UpdateCompleted UpdateKind = "completed"
	UpdateFailed    UpdateKind = "failed"
	UpdateCancelled UpdateKind = "cancelled"
	UpdateTimeout   UpdateKind = "timeout"
)

// PollUpdate is one observation of a job.
type PollUpdate struct {
	JobID        string
	Kind         UpdateKind
	Status       models.JobStatus
	Progress     int
	Steps        []models.Step
	ModelTier    models.ModelTier
	Result       *models.ExtractionResult
	ErrorMessage string
}

// Terminal reports whether this is the last update of the run.
func (u PollUpdate) Terminal() bool {
	return u.Kind != UpdateProgress
}

// PollHandle controls a running poll.
type PollHandle struct {
	JobID   string
	updates chan PollUpdate
	cancel  context.CancelFunc
	done    chan struct{}
}

// Updates is closed after the terminal update, or when the poll is stopped.
func (h *PollHandle) Updates() <-chan PollUpdate {
	return h.updates
}

// Stop halts polling and waits for the goroutine to exit. Safe to call more than once.
func (h *PollHandle) Stop() {
	h.cancel()
	<-h.done
}

// Done is closed once the polling goroutine has exited.
func (h *PollHandle) Done() <-chan struct{} {
	return h.done
}

// StatusPoller repeatedly fetches job status until a terminal state is seen.
type StatusPoller struct {
	fetcher  StatusFetcher
	defaults PollOptions
	logger   *zap.Logger
}

func NewStatusPoller(fetcher StatusFetcher, defaults PollOptions, logger *zap.Logger) *StatusPoller {
	if logger == nil {
		logger = zap.NewNop()
	}
	d := DefaultPollOptions()
	if defaults.Interval > 0 {
		d.Interval = defaults.Interval
	}
	if defaults.Timeout > 0 {
		d.Timeout = defaults.Timeout
	}
	if defaults.RequestTimeout > 0 {
		d.RequestTimeout = defaults.RequestTimeout
	}
	return &StatusPoller{fetcher: fetcher, defaults: d, logger: logger}
}

// Defaults returns the options used for zero fields of PollOptions.
func (p *StatusPoller) Defaults() PollOptions {
	return p.defaults
}

// Start begins polling jobID in a new goroutine bound to ctx.
func (p *StatusPoller) Start(ctx context.Context, jobID string, opts PollOptions) *PollHandle {
	if opts.Interval <= 0 {
		opts.Interval = p.defaults.Interval
	}
	if opts.Timeout == 0 {
		opts.Timeout = p.defaults.Timeout
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = p.defaults.RequestTimeout
	}

	ctx, cancel := context.WithCancel(ctx)
	h := &PollHandle{
		JobID:   jobID,
		updates: make(chan PollUpdate, 4),
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	go p.run(ctx, h, opts)
	return h
}

func (p *StatusPoller) run(ctx context.Context, h *PollHandle, opts PollOptions) {
	defer close(h.done)
	defer close(h.updates)

	var deadline <-chan time.Time
	if opts.Timeout > 0 {
		timer := time.NewTimer(opts.Timeout)
		defer timer.Stop()
		deadline = timer.C
	}
	ticker := time.NewTicker(opts.Interval)
	defer ticker.Stop()

	log := p.logger.With(zap.String("job_id", h.JobID))
	log.Debug("polling started", zap.Duration("interval", opts.Interval), zap.Duration("timeout", opts.Timeout))

	last := 0
	failures := 0
	for {
		if p.tick(ctx, h, opts, log, &last, &failures) {
			return
		}
		select {
		case <-ctx.Done():
			log.Debug("polling stopped")
			return
		case <-deadline:
			log.Warn("polling timed out", zap.Int("progress", last))
			p.emit(ctx, h, PollUpdate{
				JobID:        h.JobID,
				Kind:         UpdateTimeout,
				Status:       models.StatusFailed,
				Progress:     last,
				ErrorMessage: "timeout",
			})
			return
		case <-ticker.C:
		}
	}
}

// tick performs one fetch and reports whether polling is finished.
func (p *StatusPoller) tick(ctx context.Context, h *PollHandle, opts PollOptions, log *zap.Logger, last, failures *int) bool {
	reqCtx, cancel := context.WithTimeout(ctx, opts.RequestTimeout)
	resp, err := p.fetcher.GetStatus(reqCtx, h.JobID)
	cancel()

	if ctx.Err() != nil {
		return true
	}
	if err != nil {
		// no response means no change
		*failures++
		log.Debug("status fetch failed, retrying next tick", zap.Int("consecutive_failures", *failures), zap.Error(err))
		return false
	}
	if resp == nil {
		return false
	}
	*failures = 0

	if resp.Status == models.StatusCompleted && opts.RequireTier != "" && resp.ModelTier != opts.RequireTier {
		log.Debug("ignoring completed report of previous tier", zap.String("tier", string(resp.ModelTier)))
		return false
	}

	progress := resp.Progress
	if progress < 0 {
		progress = 0
	}
	if progress > 100 {
		progress = 100
	}
	if progress < *last {
		progress = *last
	}
	*last = progress

	u := PollUpdate{
		JobID:     h.JobID,
		Kind:      UpdateProgress,
		Status:    resp.Status,
		Progress:  progress,
		Steps:     append([]models.Step(nil), resp.Steps...),
		ModelTier: resp.ModelTier,
	}
	if !p.emit(ctx, h, u) {
		return true
	}

	switch resp.Status {
	case models.StatusCompleted:
		u.Kind = UpdateCompleted
		u.Result = resp.ExtractedData
		if u.Result == nil {
			u.Result = models.NewExtractionResult()
		}
	case models.StatusFailed:
		u.Kind = UpdateFailed
		u.ErrorMessage = "analysis failed"
		if resp.ErrorMessage != nil && *resp.ErrorMessage != "" {
			u.ErrorMessage = *resp.ErrorMessage
		}
	case models.StatusCancelled:
		u.Kind = UpdateCancelled
	default:
		return false
	}
	log.Debug("job reached terminal state", zap.String("status", string(resp.Status)))
	p.emit(ctx, h, u)
	return true
}

func (p *StatusPoller) emit(ctx context.Context, h *PollHandle, u PollUpdate) bool {
	select {
	case h.updates <- u:
		return true
	case <-ctx.Done():
		return false
	}
}
