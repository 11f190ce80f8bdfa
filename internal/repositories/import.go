package repositories

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"tenderzen/smart-import/internal/models"
)

var (
	ErrImportNotFound = errors.New("import not found")
	// ErrStaleUpdate means the import left the expected status before the write, e.g. it was cancelled.
	ErrStaleUpdate = errors.New("import status changed concurrently")
)

type ImportRepository interface {
	Create(rec *models.ImportRecord) error
	FindByID(id uuid.UUID) (*models.ImportRecord, error)
	UpdateProgress(id uuid.UUID, status models.JobStatus, progress int, step string) error
	Restart(id uuid.UUID, progress int, step string) error
	SaveOptions(id uuid.UUID, opts models.AnalysisOptions) error
	Complete(id uuid.UUID, result *models.ExtractionResult, tier models.ModelTier) error
	Fail(id uuid.UUID, errorMsg string) error
	Cancel(id uuid.UUID) (bool, error)
	FindStale(before time.Time, limit int) ([]models.ImportRecord, error)
}

type importRepository struct {
	db *gorm.DB
}

func NewImportRepository(db *gorm.DB) ImportRepository {
	return &importRepository{db: db}
}

// Create inserts the import together with its files.
func (r *importRepository) Create(rec *models.ImportRecord) error {
	if err := r.db.Create(rec).Error; err != nil {
		return fmt.Errorf("failed to create import: %w", err)
	}
	return nil
}

func (r *importRepository) FindByID(id uuid.UUID) (*models.ImportRecord, error) {
	var rec models.ImportRecord
	err := r.db.
		Preload("Files", func(db *gorm.DB) *gorm.DB { return db.Order("created_at ASC") }).
		Where("id = ?", id).
		First(&rec).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrImportNotFound
		}
		return nil, fmt.Errorf("failed to find import: %w", err)
	}
	return &rec, nil
}

// UpdateProgress moves a non-cancelled import to status/progress/step.
func (r *importRepository) UpdateProgress(id uuid.UUID, status models.JobStatus, progress int, step string) error {
	result := r.db.Model(&models.ImportRecord{}).
		Where("id = ? AND status <> ?", id, models.StatusCancelled).
		Updates(map[string]interface{}{
			"status":       status,
			"progress":     progress,
			"current_step": step,
			"updated_at":   time.Now(),
		})

	if result.Error != nil {
		return fmt.Errorf("failed to update progress: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrStaleUpdate
	}
	return nil
}

// Restart moves a finished, failed or cancelled import back to analyzing.
// The stored result stays until the new run completes.
func (r *importRepository) Restart(id uuid.UUID, progress int, step string) error {
	result := r.db.Model(&models.ImportRecord{}).
		Where("id = ? AND status IN ?", id, []models.JobStatus{models.StatusCompleted, models.StatusFailed, models.StatusCancelled}).
		Updates(map[string]interface{}{
			"status":        models.StatusAnalyzing,
			"progress":      progress,
			"current_step":  step,
			"error_message": nil,
			"updated_at":    time.Now(),
		})

	if result.Error != nil {
		return fmt.Errorf("failed to restart import: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrStaleUpdate
	}
	return nil
}

func (r *importRepository) SaveOptions(id uuid.UUID, opts models.AnalysisOptions) error {
	result := r.db.Model(&models.ImportRecord{ID: id}).
		Select("options", "updated_at").
		Updates(&models.ImportRecord{Options: &opts, UpdatedAt: time.Now()})
	if result.Error != nil {
		return fmt.Errorf("failed to save options: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrImportNotFound
	}
	return nil
}

// Complete stores the result of an analysis that is still running.
func (r *importRepository) Complete(id uuid.UUID, result *models.ExtractionResult, tier models.ModelTier) error {
	res := r.db.Model(&models.ImportRecord{ID: id}).
		Where("status = ?", models.StatusAnalyzing).
		Select("status", "progress", "current_step", "extracted_data", "model_tier", "error_message", "updated_at").
		Updates(&models.ImportRecord{
			Status:        models.StatusCompleted,
			Progress:      100,
			CurrentStep:   "",
			ExtractedData: result,
			ModelTier:     tier,
			ErrorMessage:  nil,
			UpdatedAt:     time.Now(),
		})

	if res.Error != nil {
		return fmt.Errorf("failed to store result: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrStaleUpdate
	}
	return nil
}

// Fail marks a running analysis as failed.
func (r *importRepository) Fail(id uuid.UUID, errorMsg string) error {
	result := r.db.Model(&models.ImportRecord{}).
		Where("id = ? AND status = ?", id, models.StatusAnalyzing).
		Updates(map[string]interface{}{
			"status":        models.StatusFailed,
			"error_message": errorMsg,
			"current_step":  "",
			"updated_at":    time.Now(),
		})

	if result.Error != nil {
		return fmt.Errorf("failed to update error: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrStaleUpdate
	}
	return nil
}

// Cancel marks a non-terminal import cancelled and reports whether it changed.
func (r *importRepository) Cancel(id uuid.UUID) (bool, error) {
	result := r.db.Model(&models.ImportRecord{}).
		Where("id = ? AND status NOT IN ?", id, []models.JobStatus{models.StatusCompleted, models.StatusFailed, models.StatusCancelled}).
		Updates(map[string]interface{}{
			"status":       models.StatusCancelled,
			"current_step": "",
			"updated_at":   time.Now(),
		})

	if result.Error != nil {
		return false, fmt.Errorf("failed to cancel import: %w", result.Error)
	}
	return result.RowsAffected > 0, nil
}

// FindStale returns analyses that have not progressed since before.
func (r *importRepository) FindStale(before time.Time, limit int) ([]models.ImportRecord, error) {
	var recs []models.ImportRecord
	err := r.db.
		Where("status = ? AND updated_at < ?", models.StatusAnalyzing, before).
		Order("updated_at ASC").
		Limit(limit).
		Find(&recs).Error

	if err != nil {
		return nil, fmt.Errorf("failed to find stale imports: %w", err)
	}
	return recs, nil
}
