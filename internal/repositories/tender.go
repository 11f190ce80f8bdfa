package repositories

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"tenderzen/smart-import/internal/models"
)

var ErrTenderExists = errors.New("a tender was already created from this import")

type TenderRepository interface {
	CreateFromImport(importID uuid.UUID, tender *models.Tender, docs []models.TenderDocument) error
	FindByID(id uuid.UUID) (*models.Tender, error)
}

type tenderRepository struct {
	db *gorm.DB
}

func NewTenderRepository(db *gorm.DB) TenderRepository {
	return &tenderRepository{db: db}
}

// CreateFromImport inserts the tender and its documents and claims the import, all in one transaction.
func (r *tenderRepository) CreateFromImport(importID uuid.UUID, tender *models.Tender, docs []models.TenderDocument) error {
	return r.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(tender).Error; err != nil {
			return fmt.Errorf("failed to create tender: %w", err)
		}

		claim := tx.Model(&models.ImportRecord{}).
			Where("id = ? AND tender_id IS NULL", importID).
			Update("tender_id", tender.ID)
		if claim.Error != nil {
			return fmt.Errorf("failed to link import: %w", claim.Error)
		}
		if claim.RowsAffected == 0 {
			return ErrTenderExists
		}

		for i := range docs {
			docs[i].TenderID = tender.ID
		}
		if len(docs) > 0 {
			if err := tx.Create(&docs).Error; err != nil {
				return fmt.Errorf("failed to link documents: %w", err)
			}
		}
		return nil
	})
}

func (r *tenderRepository) FindByID(id uuid.UUID) (*models.Tender, error) {
	var tender models.Tender
	if err := r.db.Where("id = ?", id).First(&tender).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("tender not found: %w", err)
		}
		return nil, fmt.Errorf("failed to find tender: %w", err)
	}
	return &tender, nil
}
