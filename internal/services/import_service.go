package services

import (
	"errors"
	"fmt"
	"mime/multipart"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"tenderzen/smart-import/internal/models"
	"tenderzen/smart-import/internal/repositories"
)

var (
	// ErrInvalidInput marks request errors (400).
	ErrInvalidInput = errors.New("invalid input")
	// ErrInvalidState marks operations not allowed in the import's current status (400).
	ErrInvalidState = errors.New("invalid import state")
	// ErrUnavailable is returned when the worker no longer accepts jobs (503).
	ErrUnavailable = errors.New("analysis worker unavailable")
)

// UploadLimits bounds one upload request.
type UploadLimits struct {
	MaxFiles     int
	MaxFileSize  int64
	MaxTotalSize int64
}

var allowedMimeTypes = map[string]string{
	"application/pdf": "pdf",
	"application/vnd.openxmlformats-officedocument.wordprocessingml.document": "docx",
	"application/zip":              "zip",
	"application/x-zip-compressed": "zip",
}

var extMimeTypes = map[string]string{
	"pdf":  "application/pdf",
	"docx": "application/vnd.openxmlformats-officedocument.wordprocessingml.document",
	"zip":  "application/zip",
}

// ModelInfo describes a selectable tier.
type ModelInfo struct {
	ID          models.ModelTier `json:"id"`
	Name        string           `json:"name"`
	Model       string           `json:"model"`
	Description string           `json:"description"`
	Speed       string           `json:"speed"`
	Cost        string           `json:"cost"`
	Default     bool             `json:"default"`
}

type ImportService interface {
	Upload(tenantID string, files []*multipart.FileHeader) (*models.ImportRecord, error)
	StartAnalysis(importID uuid.UUID, opts models.AnalysisOptions) error
	Reanalyze(importID uuid.UUID, tier models.ModelTier) error
	Cancel(importID uuid.UUID) (models.JobStatus, error)
	Status(importID uuid.UUID) (*models.StatusResponse, error)
	CreateTender(importID uuid.UUID, req models.FinalizeRequest) (*models.FinalizeResponse, error)
	Get(importID uuid.UUID) (*models.ImportRecord, error)
	Models() []ModelInfo
}

type importService struct {
	importRepo repositories.ImportRepository
	tenderRepo repositories.TenderRepository
	storage    StorageService
	worker     Worker
	llm        LLMService
	limits     UploadLimits
	logger     *zap.Logger
}

func NewImportService(
	importRepo repositories.ImportRepository,
	tenderRepo repositories.TenderRepository,
	storage StorageService,
	worker Worker,
	llm LLMService,
	limits UploadLimits,
	logger *zap.Logger,
) ImportService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &importService{
		importRepo: importRepo,
		tenderRepo: tenderRepo,
		storage:    storage,
		worker:     worker,
		llm:        llm,
		limits:     limits,
		logger:     logger,
	}
}

// Upload validates the batch, stores every file and creates the import record.
func (s *importService) Upload(tenantID string, files []*multipart.FileHeader) (*models.ImportRecord, error) {
	tenant, err := uuid.Parse(tenantID)
	if err != nil {
		return nil, fmt.Errorf("%w: tenderbureau_id is geen geldige UUID", ErrInvalidInput)
	}
	if err := s.validateUpload(files); err != nil {
		return nil, err
	}

	rec := &models.ImportRecord{
		ID:          uuid.New(),
		TenantID:    tenant,
		Status:      models.StatusPending,
		Progress:    ProgressUploaded,
		CurrentStep: StepUpload,
		ModelTier:   models.TierStandard,
	}

	for _, fh := range files {
		stored, err := s.saveFile(rec.ID, fh)
		if err != nil {
			if cerr := s.storage.DeleteImport(rec.ID); cerr != nil {
				s.logger.Warn("⚠️ Failed to clean up upload", zap.String("import_id", rec.ID.String()), zap.Error(cerr))
			}
			return nil, fmt.Errorf("upload mislukt voor %s: %w", fh.Filename, err)
		}
		rec.Files = append(rec.Files, stored)
	}

	if err := s.importRepo.Create(rec); err != nil {
		_ = s.storage.DeleteImport(rec.ID)
		return nil, err
	}

	s.logger.Info("✅ Import created", zap.String("import_id", rec.ID.String()), zap.Int("files", len(rec.Files)))
	return rec, nil
}

func (s *importService) validateUpload(files []*multipart.FileHeader) error {
	if len(files) == 0 {
		return fmt.Errorf("%w: geen bestanden geüpload", ErrInvalidInput)
	}
	if s.limits.MaxFiles > 0 && len(files) > s.limits.MaxFiles {
		return fmt.Errorf("%w: maximaal %d bestanden toegestaan", ErrInvalidInput, s.limits.MaxFiles)
	}

	var total int64
	for _, fh := range files {
		if _, ok := fileType(fh); !ok {
			return fmt.Errorf("%w: bestandstype niet toegestaan: %s", ErrInvalidInput, fh.Filename)
		}
		if s.limits.MaxFileSize > 0 && fh.Size > s.limits.MaxFileSize {
			return fmt.Errorf("%w: bestand te groot: %s (%.1fMB, max %dMB)", ErrInvalidInput,
				fh.Filename, float64(fh.Size)/1024/1024, s.limits.MaxFileSize/1024/1024)
		}
		total += fh.Size
		if s.limits.MaxTotalSize > 0 && total > s.limits.MaxTotalSize {
			return fmt.Errorf("%w: totale grootte overschrijdt %dMB limiet", ErrInvalidInput, s.limits.MaxTotalSize/1024/1024)
		}
	}
	return nil
}

// fileType accepts a file by its declared mime type, falling back to the extension.
func fileType(fh *multipart.FileHeader) (string, bool) {
	ct := strings.ToLower(strings.TrimSpace(strings.Split(fh.Header.Get("Content-Type"), ";")[0]))
	if t, ok := allowedMimeTypes[ct]; ok {
		return t, true
	}
	ext := fileExt(fh.Filename)
	_, ok := extMimeTypes[ext]
	return ext, ok
}

func (s *importService) saveFile(importID uuid.UUID, fh *multipart.FileHeader) (models.ImportFile, error) {
	src, err := fh.Open()
	if err != nil {
		return models.ImportFile{}, fmt.Errorf("failed to open uploaded file: %w", err)
	}
	defer src.Close()

	storedName, path, err := s.storage.SaveFile(importID, fh.Filename, src)
	if err != nil {
		return models.ImportFile{}, err
	}

	t, _ := fileType(fh)
	return models.ImportFile{
		ID:           uuid.New(),
		ImportID:     importID,
		Name:         fh.Filename,
		StoredName:   storedName,
		FilePath:     path,
		MimeType:     extMimeTypes[t],
		Size:         fh.Size,
		DetectedType: DetectDocumentType(fh.Filename),
	}, nil
}

func (s *importService) Get(importID uuid.UUID) (*models.ImportRecord, error) {
	return s.importRepo.FindByID(importID)
}

// StartAnalysis queues the first analysis of a pending import.
func (s *importService) StartAnalysis(importID uuid.UUID, opts models.AnalysisOptions) error {
	if opts.Model == "" {
		opts.Model = models.TierStandard
	}
	if !opts.Model.Valid() {
		return fmt.Errorf("%w: onbekend model %q", ErrInvalidInput, opts.Model)
	}
	if opts.Language == "" {
		opts.Language = "nl"
	}

	rec, err := s.importRepo.FindByID(importID)
	if err != nil {
		return err
	}
	if rec.Status != models.StatusPending {
		return fmt.Errorf("%w: analyse kan niet gestart worden (status: %s)", ErrInvalidState, rec.Status)
	}

	if err := s.importRepo.SaveOptions(importID, opts); err != nil {
		return err
	}
	if err := s.importRepo.UpdateProgress(importID, models.StatusAnalyzing, ProgressTextExtraction, StepTextExtraction); err != nil {
		return staleState(err)
	}
	return s.enqueue(importID, opts.Model)
}

// Reanalyze re-runs a finished analysis with another tier using the stored options.
func (s *importService) Reanalyze(importID uuid.UUID, tier models.ModelTier) error {
	if tier == "" {
		tier = models.TierPro
	}
	if !tier.Valid() {
		return fmt.Errorf("%w: onbekend model %q", ErrInvalidInput, tier)
	}

	rec, err := s.importRepo.FindByID(importID)
	if err != nil {
		return err
	}
	if !canReanalyze(rec) {
		return fmt.Errorf("%w: kan alleen her-analyseren na voltooide of gefaalde analyse (huidige status: %s)", ErrInvalidState, rec.Status)
	}

	opts := models.DefaultAnalysisOptions()
	if rec.Options != nil {
		opts = *rec.Options
	}
	opts.Model = tier
	if err := s.importRepo.SaveOptions(importID, opts); err != nil {
		return err
	}
	if err := s.importRepo.Restart(importID, ProgressUploaded, StepReanalyzeInit); err != nil {
		return staleState(err)
	}
	return s.enqueue(importID, tier)
}

// staleState reports a lost conditional update as an invalid state.
func staleState(err error) error {
	if errors.Is(err, repositories.ErrStaleUpdate) {
		return fmt.Errorf("%w: status van de import is intussen gewijzigd", ErrInvalidState)
	}
	return err
}

func (s *importService) enqueue(importID uuid.UUID, tier models.ModelTier) error {
	if !s.worker.Enqueue(AnalysisTask{ImportID: importID, Tier: tier}) {
		if ferr := s.importRepo.Fail(importID, ErrUnavailable.Error()); ferr != nil {
			s.logger.Warn("⚠️ Failed to mark import failed", zap.String("import_id", importID.String()), zap.Error(ferr))
		}
		return ErrUnavailable
	}
	s.logger.Info("📊 Analysis queued", zap.String("import_id", importID.String()), zap.String("tier", string(tier)))
	return nil
}

// Cancel stops a running analysis. Terminal imports keep their status.
func (s *importService) Cancel(importID uuid.UUID) (models.JobStatus, error) {
	rec, err := s.importRepo.FindByID(importID)
	if err != nil {
		return "", err
	}

	changed, err := s.importRepo.Cancel(importID)
	if err != nil {
		return "", err
	}
	if !changed {
		return rec.Status, nil
	}
	if s.worker.Cancel(importID) {
		s.logger.Info("🛑 Running analysis cancelled", zap.String("import_id", importID.String()))
	}
	return models.StatusCancelled, nil
}

func (s *importService) Status(importID uuid.UUID) (*models.StatusResponse, error) {
	rec, err := s.importRepo.FindByID(importID)
	if err != nil {
		return nil, err
	}

	resp := &models.StatusResponse{
		ImportID:     rec.ID.String(),
		Status:       rec.Status,
		Progress:     rec.Progress,
		CurrentStep:  rec.CurrentStep,
		ErrorMessage: rec.ErrorMessage,
		ModelTier:    rec.ModelTier,
		Steps:        BuildSteps(rec.Progress, rec.CurrentStep),
	}
	if rec.Status == models.StatusCompleted {
		resp.ExtractedData = rec.ExtractedData
	}
	return resp, nil
}

var stepDefs = []struct {
	name      string
	label     string
	completed int
	prefix    bool
}{
	{StepUpload, "Documenten uploaden", ProgressUploaded, false},
	{StepTextExtraction, "Tekst extraheren", ProgressAIExtraction, true},
	{StepAIExtraction, "AI analyse", ProgressFinalizing, false},
	{StepFinalizing, "Afronden", ProgressCompleted, false},
}

// BuildSteps derives the step list from progress and the current step.
func BuildSteps(progress int, currentStep string) []models.Step {
	steps := make([]models.Step, 0, len(stepDefs))
	for _, d := range stepDefs {
		status := models.StepPending
		switch {
		case progress >= d.completed:
			status = models.StepCompleted
		case currentStep == d.name, d.prefix && strings.Contains(currentStep, d.name):
			status = models.StepInProgress
		}
		steps = append(steps, models.Step{Name: d.name, Label: d.label, Status: status})
	}
	return steps
}

// hasUsableResult reports whether the import holds a finished result. A
// reanalysis that failed or was cancelled leaves the previous result in place
// and the import keeps the status the poller reported.
func hasUsableResult(rec *models.ImportRecord) bool {
	switch rec.Status {
	case models.StatusCompleted:
		return true
	case models.StatusFailed, models.StatusCancelled:
		return rec.ExtractedData != nil
	}
	return false
}

// canReanalyze allows a retry after a failed analysis and after any run that left a result.
func canReanalyze(rec *models.ImportRecord) bool {
	return rec.Status == models.StatusFailed || hasUsableResult(rec)
}

// CreateTender turns an import with a result into a tender and links its files.
func (s *importService) CreateTender(importID uuid.UUID, req models.FinalizeRequest) (*models.FinalizeResponse, error) {
	rec, err := s.importRepo.FindByID(importID)
	if err != nil {
		return nil, err
	}
	if !hasUsableResult(rec) {
		return nil, fmt.Errorf("%w: import is niet voltooid (status: %s)", ErrInvalidState, rec.Status)
	}

	data := make(map[string]any, len(req.Data))
	for k, v := range req.Data {
		if v != nil {
			data[k] = v
		}
	}

	tender := &models.Tender{
		ID:       uuid.New(),
		TenantID: rec.TenantID,
		ImportID: rec.ID,
		Name:     "Smart Import Tender",
		Phase:    "acquisitie",
		Data:     data,
	}
	if name, ok := data["naam"].(string); ok && name != "" {
		tender.Name = name
	}
	if phase, ok := req.Options["fase"].(string); ok && phase != "" {
		tender.Phase = phase
	}

	var docs []models.TenderDocument
	if link, ok := req.Options["link_documents"].(bool); !ok || link {
		for _, f := range rec.Files {
			docs = append(docs, models.TenderDocument{
				Name:        f.Name,
				StoragePath: f.FilePath,
				Type:        f.DetectedType,
				Size:        f.Size,
			})
		}
	}

	if err := s.tenderRepo.CreateFromImport(rec.ID, tender, docs); err != nil {
		if errors.Is(err, repositories.ErrTenderExists) {
			return nil, fmt.Errorf("%w: %v", ErrInvalidState, err)
		}
		return nil, err
	}

	s.logger.Info("✅ Tender created", zap.String("tender_id", tender.ID.String()), zap.Int("documents", len(docs)))
	return &models.FinalizeResponse{Success: true, Tender: tender, DocumentsLinked: len(docs)}, nil
}

func (s *importService) Models() []ModelInfo {
	return []ModelInfo{
		{
			ID:          models.TierStandard,
			Name:        "Standaard",
			Model:       s.llm.Model(models.TierStandard),
			Description: "Snel en goedkoop - geschikt voor de meeste documenten",
			Speed:       "fast",
			Cost:        "low",
			Default:     true,
		},
		{
			ID:          models.TierPro,
			Name:        "Pro",
			Model:       s.llm.Model(models.TierPro),
			Description: "Nauwkeuriger analyse - voor complexe aanbestedingen",
			Speed:       "medium",
			Cost:        "medium",
		},
	}
}

// DetectDocumentType classifies a tender document by its file name.
func DetectDocumentType(filename string) string {
	name := strings.ToLower(filename)
	has := func(s string) bool { return strings.Contains(name, s) }

	switch {
	case has("leidraad") || has("aanbestedingsdocument"):
		return "leidraad"
	case has("planning") || has("tijdschema"):
		return "bijlage_planning"
	case has("programma") && has("eisen"), has("pve"), has("bestek"):
		return "bijlage_eisen"
	case has("nota") && has("inlichtingen"), has("nvi"):
		return "nota_van_inlichtingen"
	case has("bijlage"):
		return "bijlage_overig"
	default:
		return "overig"
	}
}
