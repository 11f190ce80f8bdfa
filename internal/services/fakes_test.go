package services

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"

	"tenderzen/smart-import/internal/models"
	"tenderzen/smart-import/internal/repositories"
)

// memImportRepo mirrors the conditional writes of the gorm repository.
type memImportRepo struct {
	mu       sync.Mutex
	recs     map[uuid.UUID]*models.ImportRecord
	progress []int
	steps    []string
}

func newMemImportRepo(recs ...*models.ImportRecord) *memImportRepo {
	r := &memImportRepo{recs: map[uuid.UUID]*models.ImportRecord{}}
	for _, rec := range recs {
		r.recs[rec.ID] = rec
	}
	return r
}

func (r *memImportRepo) get(id uuid.UUID) models.ImportRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	return *r.recs[id]
}

func (r *memImportRepo) Create(rec *models.ImportRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *rec
	r.recs[rec.ID] = &cp
	return nil
}

func (r *memImportRepo) FindByID(id uuid.UUID) (*models.ImportRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.recs[id]
	if !ok {
		return nil, repositories.ErrImportNotFound
	}
	cp := *rec
	cp.Files = append([]models.ImportFile(nil), rec.Files...)
	return &cp, nil
}

func (r *memImportRepo) UpdateProgress(id uuid.UUID, status models.JobStatus, progress int, step string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.recs[id]
	if !ok || rec.Status == models.StatusCancelled {
		return repositories.ErrStaleUpdate
	}
	rec.Status, rec.Progress, rec.CurrentStep = status, progress, step
	rec.ErrorMessage = nil
	rec.UpdatedAt = time.Now()
	r.progress = append(r.progress, progress)
	r.steps = append(r.steps, step)
	return nil
}

func (r *memImportRepo) Restart(id uuid.UUID, progress int, step string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.recs[id]
	if !ok || !rec.Status.IsTerminal() {
		return repositories.ErrStaleUpdate
	}
	rec.Status, rec.Progress, rec.CurrentStep = models.StatusAnalyzing, progress, step
	rec.ErrorMessage = nil
	rec.UpdatedAt = time.Now()
	r.progress = append(r.progress, progress)
	r.steps = append(r.steps, step)
	return nil
}

func (r *memImportRepo) SaveOptions(id uuid.UUID, opts models.AnalysisOptions) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.recs[id]
	if !ok {
		return repositories.ErrImportNotFound
	}
	rec.Options = &opts
	return nil
}

func (r *memImportRepo) Complete(id uuid.UUID, result *models.ExtractionResult, tier models.ModelTier) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.recs[id]
	if !ok || rec.Status != models.StatusAnalyzing {
		return repositories.ErrStaleUpdate
	}
	rec.Status, rec.Progress, rec.CurrentStep = models.StatusCompleted, ProgressCompleted, ""
	rec.ExtractedData, rec.ModelTier = result, tier
	return nil
}

func (r *memImportRepo) Fail(id uuid.UUID, msg string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.recs[id]
	if !ok || rec.Status != models.StatusAnalyzing {
		return repositories.ErrStaleUpdate
	}
	rec.Status, rec.CurrentStep = models.StatusFailed, ""
	rec.ErrorMessage = &msg
	return nil
}

func (r *memImportRepo) Cancel(id uuid.UUID) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.recs[id]
	if !ok || rec.Status.IsTerminal() {
		return false, nil
	}
	rec.Status, rec.CurrentStep = models.StatusCancelled, ""
	return true, nil
}

func (r *memImportRepo) FindStale(before time.Time, limit int) ([]models.ImportRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.ImportRecord
	for _, rec := range r.recs {
		if rec.Status == models.StatusAnalyzing && rec.UpdatedAt.Before(before) && len(out) < limit {
			out = append(out, *rec)
		}
	}
	return out, nil
}

type memTenderRepo struct {
	mu      sync.Mutex
	tenders map[uuid.UUID]*models.Tender
	docs    []models.TenderDocument
	claimed map[uuid.UUID]bool
}

func newMemTenderRepo() *memTenderRepo {
	return &memTenderRepo{tenders: map[uuid.UUID]*models.Tender{}, claimed: map[uuid.UUID]bool{}}
}

func (r *memTenderRepo) CreateFromImport(importID uuid.UUID, tender *models.Tender, docs []models.TenderDocument) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.claimed[importID] {
		return repositories.ErrTenderExists
	}
	r.claimed[importID] = true
	r.tenders[tender.ID] = tender
	r.docs = append(r.docs, docs...)
	return nil
}

func (r *memTenderRepo) FindByID(id uuid.UUID) (*models.Tender, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tenders[id]
	if !ok {
		return nil, fmt.Errorf("tender %s not found", id)
	}
	return t, nil
}

// memStorage keeps files in memory keyed by "<import>/<name>".
type memStorage struct {
	mu      sync.Mutex
	files   map[string][]byte
	deleted []uuid.UUID
	saveErr error
}

func newMemStorage() *memStorage {
	return &memStorage{files: map[string][]byte{}}
}

func (s *memStorage) SaveFile(importID uuid.UUID, filename string, src io.Reader) (string, string, error) {
	if s.saveErr != nil {
		return "", "", s.saveErr
	}
	data, err := io.ReadAll(src)
	if err != nil {
		return "", "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	safe := SafeFilename(filename)
	for n := 1; ; n++ {
		name := NumberedName(safe, n)
		path := importID.String() + "/" + name
		if _, taken := s.files[path]; taken {
			continue
		}
		s.files[path] = data
		return name, path, nil
	}
}

func (s *memStorage) ReadFile(path string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.files[path]
	if !ok {
		return nil, fmt.Errorf("failed to read file: %s", path)
	}
	return data, nil
}

func (s *memStorage) DeleteImport(importID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deleted = append(s.deleted, importID)
	return nil
}

func (s *memStorage) EnsureUploadDir() error { return nil }

// stubExtractor returns the file content as text, or an error for names in fail.
type stubExtractor struct {
	fail map[string]bool
}

func (e stubExtractor) Extract(name string, content []byte) (string, error) {
	if e.fail[name] {
		return "", fmt.Errorf("corrupt %s", name)
	}
	return string(content), nil
}

type stubAnalyzer struct {
	mu     sync.Mutex
	texts  []string
	tiers  []models.ModelTier
	result *models.ExtractionResult
	err    error
	// block, when set, holds Analyze until the context ends.
	block bool
}

func (a *stubAnalyzer) Analyze(ctx context.Context, text string, _ models.AnalysisOptions, tier models.ModelTier) (*AnalysisOutput, error) {
	a.mu.Lock()
	a.texts = append(a.texts, text)
	a.tiers = append(a.tiers, tier)
	a.mu.Unlock()

	if a.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if a.err != nil {
		return nil, a.err
	}
	return &AnalysisOutput{Result: a.result, Model: "stub-" + string(tier), TokensUsed: 42}, nil
}

// scriptedLLM returns the scripted responses in order, then keeps returning the last one.
type scriptedLLM struct {
	mu        sync.Mutex
	responses []string
	errs      []error
	calls     int
	requests  []GenerationRequest
}

func (l *scriptedLLM) GenerateJSON(_ context.Context, req GenerationRequest) (*Generation, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	i := l.calls
	l.calls++
	l.requests = append(l.requests, req)

	if i < len(l.errs) && l.errs[i] != nil {
		return nil, l.errs[i]
	}
	text := ""
	if len(l.responses) > 0 {
		text = l.responses[min(i, len(l.responses)-1)]
	}
	return &Generation{Text: text, Model: l.Model(req.Tier), TokensUsed: 10}, nil
}

func (l *scriptedLLM) Model(tier models.ModelTier) string {
	if tier == models.TierPro {
		return "test-pro"
	}
	return "test-flash"
}

type stubWorker struct {
	mu        sync.Mutex
	tasks     []AnalysisTask
	cancelled []uuid.UUID
	closed    bool
}

func (w *stubWorker) Start(context.Context) {}
func (w *stubWorker) Stop()                 {}

func (w *stubWorker) Enqueue(task AnalysisTask) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return false
	}
	w.tasks = append(w.tasks, task)
	return true
}

func (w *stubWorker) Cancel(importID uuid.UUID) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.cancelled = append(w.cancelled, importID)
	return true
}
