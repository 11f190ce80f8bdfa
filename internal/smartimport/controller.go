package smartimport

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"tenderzen/smart-import/internal/models"
)

// State is the wizard-level state of a session.
type State string

const (
	StateIdle        State = "idle"
	StateUploading   State = "uploading"
	StateAnalyzing   State = "analyzing"
	StateReviewReady State = "review_ready"
	StateReanalyzing State = "reanalyzing"
	StateFailed      State = "failed"
	StateCancelled   State = "cancelled"
)

// primaryActive reports whether a primary job is in flight.
func (s State) primaryActive() bool {
	return s == StateUploading || s == StateAnalyzing || s == StateReanalyzing
}

// ControllerConfig configures a JobController.
type ControllerConfig struct {
	PrimaryPolicy    BatchPolicy
	AdditionalPolicy BatchPolicy
	Poll             PollOptions
	Analysis         models.AnalysisOptions
	// EventBuffer is the capacity of each subscriber channel.
	EventBuffer int
}

func DefaultControllerConfig() ControllerConfig {
	return ControllerConfig{
		PrimaryPolicy:    DefaultPrimaryPolicy(),
		AdditionalPolicy: DefaultAdditionalPolicy(),
		Poll:             DefaultPollOptions(),
		Analysis:         models.DefaultAnalysisOptions(),
		EventBuffer:      64,
	}
}

type EventKind string

const (
	EventState    EventKind = "state"
	EventProgress EventKind = "progress"
	EventResult   EventKind = "result"
	EventMerged   EventKind = "merged"
	EventError    EventKind = "error"
)

// Event is published to subscribers in the order the controller applied it.
type Event struct {
	Kind     EventKind         `json:"kind"`
	State    State             `json:"state"`
	Job      *models.ImportJob `json:"job,omitempty"`
	Sub      bool              `json:"sub,omitempty"`
	Merge    *MergeReport      `json:"merge,omitempty"`
	Error    string            `json:"error,omitempty"`
	Recovery RecoveryAction    `json:"recovery,omitempty"`
}

// Snapshot is a consistent copy of the session.
type Snapshot struct {
	State     State                     `json:"state"`
	TenantID  string                    `json:"tenderbureau_id,omitempty"`
	Job       *models.ImportJob         `json:"job,omitempty"`
	SubJob    *models.ImportJob         `json:"sub_job,omitempty"`
	Documents []models.UploadedDocument `json:"documents"`
	Result    *models.ExtractionResult  `json:"result,omitempty"`
	Edits     map[string]any            `json:"edits,omitempty"`
	Stats     Stats                     `json:"stats"`
	Tender    *models.Tender            `json:"tender,omitempty"`
	LastError string                    `json:"last_error,omitempty"`
	Recovery  RecoveryAction            `json:"recovery,omitempty"`
}

// JobController owns one session: its primary job, at most one augmentation
// sub-job, the staged documents and the review stager. All methods are safe
// for concurrent use.
type JobController struct {
	svc     ExtractionService
	poller  *StatusPoller
	uploads *UploadCoordinator
	merger  *ExtractionMerger
	stager  *ReviewStager
	cfg     ControllerConfig
	logger  *zap.Logger

	// pollers outlive the request that started them
	baseCtx   context.Context
	cancelAll context.CancelFunc

	mu          sync.Mutex
	state       State
	tenantID    string
	tier        models.ModelTier
	job         *models.ImportJob
	settled     *models.ImportJob // job as of the last completed run
	sub         *models.ImportJob
	subDocs     []string
	staged      []FileCandidate
	docs        []models.UploadedDocument
	primaryGen  uint64
	subGen      uint64
	primaryPoll *PollHandle
	subPoll     *PollHandle
	lastErr     error
	failedPhase Phase
	tender      *models.Tender
	finalizing  bool
	subscribers map[int]chan Event
	nextSubID   int
	closed      bool
}

func NewJobController(svc ExtractionService, poller *StatusPoller, merger *ExtractionMerger, cfg ControllerConfig, logger *zap.Logger) *JobController {
	if logger == nil {
		logger = zap.NewNop()
	}
	if merger == nil {
		merger = NewExtractionMerger(logger)
	}
	if cfg.EventBuffer <= 0 {
		cfg.EventBuffer = 64
	}
	if !cfg.Analysis.Model.Valid() {
		cfg.Analysis.Model = models.TierStandard
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &JobController{
		svc:         svc,
		poller:      poller,
		uploads:     NewUploadCoordinator(),
		merger:      merger,
		stager:      NewReviewStager(),
		cfg:         cfg,
		logger:      logger,
		baseCtx:     ctx,
		cancelAll:   cancel,
		state:       StateIdle,
		tier:        cfg.Analysis.Model,
		subscribers: map[int]chan Event{},
	}
}

// canStage reports whether the primary batch may still change. Caller holds mu.
func (c *JobController) canStage() bool {
	switch c.state {
	case StateIdle:
		return true
	case StateFailed, StateCancelled:
		return !c.stager.HasResult()
	}
	return false
}

// StageFiles validates candidates against the primary policy and holds the accepted ones.
func (c *JobController) StageFiles(candidates []FileCandidate) (UploadReport, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return UploadReport{}, ErrSessionClosed
	}
	if !c.canStage() {
		return UploadReport{}, fmt.Errorf("%w: cannot stage files in state %s", ErrInvalidTransition, c.state)
	}

	report := c.uploads.Validate(c.cfg.PrimaryPolicy, c.docs, len(c.staged), candidates)
	c.staged = append(c.staged, report.Accepted...)
	c.docs = append(c.docs, report.Documents...)

	c.logger.Debug("files staged",
		zap.Int("accepted", len(report.Accepted)),
		zap.Int("rejected", len(report.Rejections)),
		zap.Int("staged_total", len(c.staged)),
	)
	return report, nil
}

// RemoveFile drops a staged primary file.
func (c *JobController) RemoveFile(name string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrSessionClosed
	}
	if !c.canStage() {
		return fmt.Errorf("%w: cannot remove files in state %s", ErrInvalidTransition, c.state)
	}
	for i, f := range c.staged {
		if f.Name == name {
			c.staged = append(c.staged[:i], c.staged[i+1:]...)
			c.removeDocs(name)
			return nil
		}
	}
	return fmt.Errorf("%w: %s", ErrFileNotFound, name)
}

// Submit uploads the staged batch and starts analysis. Polling continues in
// the background after Submit returns.
func (c *JobController) Submit(ctx context.Context, tenantID string) error {
	if _, err := uuid.Parse(tenantID); err != nil {
		return fmt.Errorf("%w: %q", ErrInvalidTenant, tenantID)
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrSessionClosed
	}
	if c.state.primaryActive() {
		c.mu.Unlock()
		return ErrJobAlreadyRunning
	}
	if !c.canStage() {
		state := c.state
		c.mu.Unlock()
		return fmt.Errorf("%w: cannot submit in state %s", ErrInvalidTransition, state)
	}
	if len(c.staged) == 0 {
		c.mu.Unlock()
		return ErrNoFiles
	}

	files := append([]FileCandidate(nil), c.staged...)
	c.primaryGen++
	gen := c.primaryGen
	c.tenantID = tenantID
	c.tier = c.cfg.Analysis.Model
	c.lastErr = nil
	c.job = &models.ImportJob{Status: models.StatusUploading, ModelTier: c.tier}
	c.settled = nil
	c.setState(StateUploading)
	opts := c.cfg.Analysis
	c.mu.Unlock()

	c.logger.Info("submitting batch", zap.String("tenant_id", tenantID), zap.Int("files", len(files)))

	jobID, err := c.svc.SubmitBatch(ctx, tenantID, files)
	if err != nil {
		return c.failPrimary(gen, "", PhaseAnalysis, err)
	}
	if err := c.svc.StartAnalysis(ctx, jobID, opts); err != nil {
		return c.failPrimary(gen, jobID, PhaseAnalysis, err)
	}

	c.mu.Lock()
	if gen != c.primaryGen {
		c.mu.Unlock()
		// cancelled while uploading; the id was not known then
		c.cancelRemote(ctx, jobID)
		return ErrCancelled
	}
	c.job.ID = jobID
	c.job.Status = models.StatusAnalyzing
	c.setState(StateAnalyzing)
	handle := c.poller.Start(c.baseCtx, jobID, c.cfg.Poll)
	c.primaryPoll = handle
	c.mu.Unlock()

	c.logger.Info("analysis started", zap.String("job_id", jobID), zap.String("tier", string(opts.Model)))
	go c.watchPrimary(gen, handle, PhaseAnalysis)
	return nil
}

// Reanalyze re-runs the primary job on the pro tier. A session that is
// already on pro is left untouched.
func (c *JobController) Reanalyze(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrSessionClosed
	}
	if c.finalizing {
		c.mu.Unlock()
		return ErrJobAlreadyRunning
	}
	switch {
	case c.state == StateReviewReady:
	case c.state == StateFailed && c.failedPhase == PhaseReanalysis && c.stager.HasResult():
	case c.state.primaryActive():
		c.mu.Unlock()
		return ErrJobAlreadyRunning
	default:
		state := c.state
		c.mu.Unlock()
		return fmt.Errorf("%w: cannot reanalyze in state %s", ErrInvalidTransition, state)
	}
	if c.tier == models.TierPro {
		c.mu.Unlock()
		c.logger.Debug("result already on pro tier, reanalysis skipped")
		return nil
	}
	if c.sub != nil {
		c.mu.Unlock()
		return ErrJobAlreadyRunning
	}

	c.primaryGen++
	gen := c.primaryGen
	jobID := c.job.ID
	c.lastErr = nil
	c.job.Status = models.StatusAnalyzing
	c.job.Progress = 0
	c.job.Steps = nil
	c.job.ErrorMessage = ""
	c.setState(StateReanalyzing)
	c.mu.Unlock()

	c.logger.Info("reanalysis requested", zap.String("job_id", jobID))

	if err := c.svc.Reanalyze(ctx, jobID, models.TierPro); err != nil {
		return c.failPrimary(gen, jobID, PhaseReanalysis, err)
	}

	c.mu.Lock()
	if gen != c.primaryGen {
		c.mu.Unlock()
		return ErrCancelled
	}
	opts := c.cfg.Poll
	opts.RequireTier = models.TierPro
	handle := c.poller.Start(c.baseCtx, jobID, opts)
	c.primaryPoll = handle
	c.mu.Unlock()

	go c.watchPrimary(gen, handle, PhaseReanalysis)
	return nil
}

// AddDocuments submits an augmentation batch whose result is merged into the
// current result once it completes.
func (c *JobController) AddDocuments(ctx context.Context, candidates []FileCandidate) (UploadReport, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return UploadReport{}, ErrSessionClosed
	}
	if c.state == StateReanalyzing || c.sub != nil || c.finalizing {
		c.mu.Unlock()
		return UploadReport{}, ErrJobAlreadyRunning
	}
	if c.state != StateReviewReady {
		state := c.state
		c.mu.Unlock()
		return UploadReport{}, fmt.Errorf("%w: cannot add documents in state %s", ErrInvalidTransition, state)
	}

	report := c.uploads.Validate(c.cfg.AdditionalPolicy, c.docs, 0, candidates)
	if len(report.Accepted) == 0 {
		c.mu.Unlock()
		return report, ErrNoFiles
	}

	c.subGen++
	gen := c.subGen
	c.docs = append(c.docs, report.Documents...)
	c.subDocs = c.subDocs[:0]
	for _, d := range report.Documents {
		c.subDocs = append(c.subDocs, d.Name)
	}
	c.sub = &models.ImportJob{Status: models.StatusUploading, ModelTier: c.tier}
	c.lastErr = nil
	tenantID := c.tenantID
	opts := c.cfg.Analysis
	opts.Model = c.tier
	c.publish(Event{Kind: EventProgress, Job: c.sub.Clone(), Sub: true})
	c.mu.Unlock()

	subID, err := c.svc.SubmitBatch(ctx, tenantID, report.Accepted)
	if err != nil {
		return report, c.failSub(gen, "", err)
	}
	if err := c.svc.StartAnalysis(ctx, subID, opts); err != nil {
		return report, c.failSub(gen, subID, err)
	}

	c.mu.Lock()
	if gen != c.subGen || c.sub == nil {
		c.mu.Unlock()
		c.cancelRemote(ctx, subID)
		return report, ErrCancelled
	}
	c.sub.ID = subID
	c.sub.Status = models.StatusAnalyzing
	handle := c.poller.Start(c.baseCtx, subID, c.cfg.Poll)
	c.subPoll = handle
	c.mu.Unlock()

	c.logger.Info("augmentation started", zap.String("job_id", subID), zap.Strings("files", namesOf(report.Documents)))
	go c.watchSub(gen, handle)
	return report, nil
}

// Cancel stops local polling at once and asks the backend to cancel every
// job in flight. The remote jobs may still run to completion.
func (c *JobController) Cancel(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrSessionClosed
	}
	primary := c.state.primaryActive()
	if !primary && c.sub == nil {
		c.mu.Unlock()
		return ErrNoActiveJob
	}

	var ids []string
	var handles []*PollHandle
	if primary {
		c.primaryGen++
		if c.job.ID != "" {
			ids = append(ids, c.job.ID)
		}
		if c.primaryPoll != nil {
			handles = append(handles, c.primaryPoll)
			c.primaryPoll = nil
		}
		c.job.Status = models.StatusCancelled
		c.lastErr = nil
		c.setState(StateCancelled)
	}
	if c.sub != nil {
		c.subGen++
		if c.sub.ID != "" {
			ids = append(ids, c.sub.ID)
		}
		if c.subPoll != nil {
			handles = append(handles, c.subPoll)
			c.subPoll = nil
		}
		c.sub.Status = models.StatusCancelled
		c.publish(Event{Kind: EventProgress, Job: c.sub.Clone(), Sub: true})
		c.removeDocs(c.subDocs...)
		c.sub = nil
		c.subDocs = nil
	}
	c.mu.Unlock()

	// outside the lock: a watcher may be waiting for it
	for _, h := range handles {
		h.Stop()
	}
	for _, id := range ids {
		c.cancelRemote(ctx, id)
	}
	return nil
}

// Dismiss acknowledges a failure or cancellation. The session returns to
// review when a result exists, otherwise to Idle with the staged files kept.
func (c *JobController) Dismiss() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrSessionClosed
	}
	switch c.state {
	case StateFailed, StateCancelled:
		c.lastErr = nil
		if c.stager.HasResult() {
			if c.settled != nil {
				c.job = c.settled.Clone()
			} else {
				c.job.Status = models.StatusCompleted
				c.job.ErrorMessage = ""
			}
			c.setState(StateReviewReady)
		} else {
			c.job = nil
			c.setState(StateIdle)
		}
		return nil
	case StateReviewReady:
		if c.lastErr != nil {
			c.lastErr = nil
			c.setState(StateReviewReady)
			return nil
		}
	}
	return fmt.Errorf("%w: nothing to dismiss in state %s", ErrInvalidTransition, c.state)
}

// SetEdit stores a user value for a declared field.
func (c *JobController) SetEdit(field string, value any) error {
	if !c.stager.HasResult() {
		return fmt.Errorf("%w: no result to edit", ErrInvalidTransition)
	}
	return c.stager.SetEdit(field, value)
}

func (c *JobController) ClearEdit(field string) {
	c.stager.ClearEdit(field)
}

func (c *JobController) Stats() Stats {
	return c.stager.ComputeStats()
}

// Result returns a copy of the committed result, or nil.
func (c *JobController) Result() *models.ExtractionResult {
	return c.stager.Result()
}

// LastError returns the error behind the current Failed state or the last
// failed augmentation.
func (c *JobController) LastError() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastErr
}

// Finalize submits the reviewed data and creates the tender.
func (c *JobController) Finalize(ctx context.Context, options map[string]any) (*models.FinalizeResponse, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrSessionClosed
	}
	if c.state != StateReviewReady {
		state := c.state
		c.mu.Unlock()
		return nil, fmt.Errorf("%w: cannot finalize in state %s", ErrInvalidTransition, state)
	}
	if c.sub != nil || c.finalizing {
		c.mu.Unlock()
		return nil, ErrJobAlreadyRunning
	}
	jobID := c.job.ID
	c.finalizing = true
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		c.finalizing = false
		c.mu.Unlock()
	}()

	data, err := c.stager.BuildSubmission()
	if err != nil {
		return nil, fmt.Errorf("build submission: %w", err)
	}

	resp, err := c.svc.Finalize(ctx, jobID, models.FinalizeRequest{Data: data, Options: options})
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.tender = resp.Tender
	c.mu.Unlock()

	c.logger.Info("tender created",
		zap.String("job_id", jobID),
		zap.Int("documents_linked", resp.DocumentsLinked),
	)
	return resp, nil
}

// Subscribe returns a channel of events and a function that releases it.
// Events are dropped for a subscriber whose buffer is full.
func (c *JobController) Subscribe() (<-chan Event, func()) {
	c.mu.Lock()
	defer c.mu.Unlock()

	ch := make(chan Event, c.cfg.EventBuffer)
	if c.closed {
		close(ch)
		return ch, func() {}
	}
	id := c.nextSubID
	c.nextSubID++
	c.subscribers[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			c.mu.Lock()
			defer c.mu.Unlock()
			if sub, ok := c.subscribers[id]; ok {
				delete(c.subscribers, id)
				close(sub)
			}
		})
	}
}

func (c *JobController) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	snap := Snapshot{
		State:     c.state,
		TenantID:  c.tenantID,
		Job:       c.job.Clone(),
		SubJob:    c.sub.Clone(),
		Documents: append([]models.UploadedDocument{}, c.docs...),
		Result:    c.stager.Result(),
		Stats:     c.stager.ComputeStats(),
		Tender:    c.tender,
	}
	if edits := c.stager.Edits(); len(edits) > 0 {
		snap.Edits = edits
	}
	if c.lastErr != nil {
		snap.LastError = c.lastErr.Error()
		snap.Recovery = recoveryFor(c.lastErr)
	}
	return snap
}

// Close stops all polling and releases subscribers. Remote jobs are left alone.
func (c *JobController) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.primaryGen++
	c.subGen++
	handles := []*PollHandle{c.primaryPoll, c.subPoll}
	c.primaryPoll, c.subPoll = nil, nil
	for id, ch := range c.subscribers {
		delete(c.subscribers, id)
		close(ch)
	}
	c.mu.Unlock()

	for _, h := range handles {
		if h != nil {
			h.Stop()
		}
	}
	c.cancelAll()
}

func (c *JobController) watchPrimary(gen uint64, h *PollHandle, phase Phase) {
	for u := range h.Updates() {
		c.mu.Lock()
		if gen != c.primaryGen {
			c.mu.Unlock()
			h.Stop()
			return
		}
		c.applyPrimary(u, phase)
		if u.Terminal() {
			c.primaryPoll = nil
		}
		c.mu.Unlock()
	}
}

// applyPrimary folds one poller update into the session. Caller holds mu.
func (c *JobController) applyPrimary(u PollUpdate, phase Phase) {
	if u.Progress > c.job.Progress {
		c.job.Progress = u.Progress
	}
	if u.Steps != nil {
		c.job.Steps = u.Steps
	}

	switch u.Kind {
	case UpdateProgress:
		if !u.Status.IsTerminal() {
			c.job.Status = u.Status
		}
		c.publish(Event{Kind: EventProgress, Job: c.job.Clone()})

	case UpdateCompleted:
		c.job.Status = models.StatusCompleted
		if u.ModelTier.Valid() {
			c.tier = u.ModelTier
		} else if phase == PhaseReanalysis {
			c.tier = models.TierPro
		}
		c.job.ModelTier = c.tier
		c.settled = c.job.Clone()
		// first success and reanalysis both install the result wholesale
		c.stager.SetResult(u.Result)
		c.setState(StateReviewReady)
		c.publish(Event{Kind: EventResult, Job: c.job.Clone()})
		c.logger.Info("analysis completed",
			zap.String("job_id", c.job.ID),
			zap.String("phase", string(phase)),
			zap.String("tier", string(c.tier)),
		)

	case UpdateFailed, UpdateTimeout:
		err := &JobFailedError{JobID: c.job.ID, Phase: phase, Message: u.ErrorMessage}
		c.job.Status = models.StatusFailed
		c.job.ErrorMessage = u.ErrorMessage
		c.fail(phase, err)
		c.logger.Warn("analysis failed",
			zap.String("job_id", c.job.ID),
			zap.String("phase", string(phase)),
			zap.String("error", u.ErrorMessage),
		)

	case UpdateCancelled:
		c.job.Status = models.StatusCancelled
		c.setState(StateCancelled)
	}
}

func (c *JobController) watchSub(gen uint64, h *PollHandle) {
	for u := range h.Updates() {
		c.mu.Lock()
		if gen != c.subGen || c.sub == nil {
			c.mu.Unlock()
			h.Stop()
			return
		}
		c.applySub(u)
		c.mu.Unlock()
	}
}

// applySub folds one augmentation update into the session. Caller holds mu.
func (c *JobController) applySub(u PollUpdate) {
	if u.Progress > c.sub.Progress {
		c.sub.Progress = u.Progress
	}
	if u.Steps != nil {
		c.sub.Steps = u.Steps
	}

	switch u.Kind {
	case UpdateProgress:
		if !u.Status.IsTerminal() {
			c.sub.Status = u.Status
		}
		c.publish(Event{Kind: EventProgress, Job: c.sub.Clone(), Sub: true})

	case UpdateCompleted:
		// merges run under mu, so they always see the latest committed result
		merged, report := c.merger.Merge(c.stager.Result(), u.Result)
		c.stager.SetResult(merged)
		c.sub.Status = models.StatusCompleted
		c.publish(Event{Kind: EventMerged, Job: c.sub.Clone(), Sub: true, Merge: &report})
		c.logger.Info("augmentation merged",
			zap.String("job_id", c.sub.ID),
			zap.Int("filled", len(report.Filled)),
			zap.Int("improved", len(report.Improved)),
		)
		c.sub, c.subDocs, c.subPoll = nil, nil, nil

	case UpdateFailed, UpdateTimeout:
		err := &JobFailedError{JobID: c.sub.ID, Phase: PhaseAugmentation, Message: u.ErrorMessage}
		c.dropSub(err)

	case UpdateCancelled:
		c.sub.Status = models.StatusCancelled
		c.publish(Event{Kind: EventProgress, Job: c.sub.Clone(), Sub: true})
		c.removeDocs(c.subDocs...)
		c.sub, c.subDocs, c.subPoll = nil, nil, nil
	}
}

// failPrimary records a submission-time failure of the primary job.
func (c *JobController) failPrimary(gen uint64, jobID string, phase Phase, cause error) error {
	err := &JobFailedError{JobID: jobID, Phase: phase, Message: cause.Error(), Cause: cause}

	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.primaryGen {
		return ErrCancelled
	}
	if c.job != nil {
		if jobID != "" {
			c.job.ID = jobID
		}
		c.job.Status = models.StatusFailed
		c.job.ErrorMessage = err.Message
	}
	c.fail(phase, err)
	c.logger.Error("job submission failed", zap.String("phase", string(phase)), zap.Error(cause))
	return err
}

// failSub records a submission-time failure of the augmentation sub-job.
func (c *JobController) failSub(gen uint64, jobID string, cause error) error {
	err := &JobFailedError{JobID: jobID, Phase: PhaseAugmentation, Message: cause.Error(), Cause: cause}

	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.subGen || c.sub == nil {
		return ErrCancelled
	}
	c.dropSub(err)
	c.logger.Error("augmentation submission failed", zap.Error(cause))
	return err
}

// dropSub discards a failed sub-job; state and result are left as they are. Caller holds mu.
func (c *JobController) dropSub(err *JobFailedError) {
	c.sub.Status = models.StatusFailed
	c.sub.ErrorMessage = err.Message
	c.publish(Event{Kind: EventProgress, Job: c.sub.Clone(), Sub: true})
	c.removeDocs(c.subDocs...)
	c.sub, c.subDocs, c.subPoll = nil, nil, nil
	c.lastErr = err
	c.publish(Event{Kind: EventError, Sub: true, Error: err.Error(), Recovery: err.Recovery()})
}

// fail moves the session to Failed. Caller holds mu.
func (c *JobController) fail(phase Phase, err *JobFailedError) {
	c.lastErr = err
	c.failedPhase = phase
	c.setState(StateFailed)
	c.publish(Event{Kind: EventError, Error: err.Error(), Recovery: err.Recovery()})
}

// setState changes state and publishes it. Caller holds mu.
func (c *JobController) setState(s State) {
	c.state = s
	c.publish(Event{Kind: EventState, Job: c.job.Clone()})
}

// publish fans an event out to subscribers without blocking. Caller holds mu.
func (c *JobController) publish(e Event) {
	e.State = c.state
	for id, ch := range c.subscribers {
		select {
		case ch <- e:
		default:
			c.logger.Debug("subscriber buffer full, event dropped", zap.Int("subscriber", id), zap.String("kind", string(e.Kind)))
		}
	}
}

// removeDocs drops documents by name. Caller holds mu.
func (c *JobController) removeDocs(names ...string) {
	if len(names) == 0 {
		return
	}
	drop := make(map[string]struct{}, len(names))
	for _, n := range names {
		drop[n] = struct{}{}
	}
	kept := c.docs[:0]
	for _, d := range c.docs {
		if _, ok := drop[d.Name]; !ok {
			kept = append(kept, d)
		}
	}
	c.docs = kept
}

func (c *JobController) cancelRemote(ctx context.Context, jobID string) {
	if err := c.svc.Cancel(context.WithoutCancel(ctx), jobID); err != nil {
		c.logger.Warn("remote cancel failed", zap.String("job_id", jobID), zap.Error(err))
	}
}

func recoveryFor(err error) RecoveryAction {
	var jf *JobFailedError
	if errors.As(err, &jf) {
		return jf.Recovery()
	}
	return RecoverNone
}

func namesOf(docs []models.UploadedDocument) []string {
	names := make([]string, len(docs))
	for i, d := range docs {
		names[i] = d.Name
	}
	return names
}
