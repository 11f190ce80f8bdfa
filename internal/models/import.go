package models

import (
	"time"

	"github.com/google/uuid"
)

// AnalysisOptions are the options of POST /smart-import/:id/analyze.
type AnalysisOptions struct {
	ExtractCriteria       bool      `json:"extract_gunningscriteria"`
	ExtractCertifications bool      `json:"extract_certificeringen"`
	Language              string    `json:"language"`
	Model                 ModelTier `json:"model,omitempty"`
}

// DefaultAnalysisOptions mirrors what the wizard sends.
func DefaultAnalysisOptions() AnalysisOptions {
	return AnalysisOptions{
		ExtractCriteria:       true,
		ExtractCertifications: true,
		Language:              "nl",
		Model:                 TierStandard,
	}
}

// ImportRecord is one backend import session.
type ImportRecord struct {
	ID            uuid.UUID         `gorm:"type:uuid;primary_key;default:gen_random_uuid()" json:"id"`
	TenantID      uuid.UUID         `gorm:"type:uuid;not null;index" json:"tenderbureau_id"`
	Status        JobStatus         `gorm:"not null;default:'pending'" json:"status"`
	Progress      int               `gorm:"not null;default:0" json:"progress"`
	CurrentStep   string            `gorm:"type:text" json:"current_step"`
	ModelTier     ModelTier         `gorm:"type:text;default:'standard'" json:"model_tier"`
	Options       *AnalysisOptions  `gorm:"serializer:json;type:jsonb" json:"options,omitempty"`
	ExtractedData *ExtractionResult `gorm:"serializer:json;type:jsonb" json:"extracted_data,omitempty"`
	ErrorMessage  *string           `gorm:"type:text" json:"error_message,omitempty"`
	TenderID      *uuid.UUID        `gorm:"type:uuid" json:"tender_id,omitempty"`
	CreatedAt     time.Time         `gorm:"default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt     time.Time         `gorm:"default:CURRENT_TIMESTAMP" json:"updated_at"`

	Files []ImportFile `gorm:"foreignKey:ImportID" json:"files,omitempty"`
}

func (ImportRecord) TableName() string {
	return "smart_imports"
}

// Tender is the record created from a reviewed import.
type Tender struct {
	ID        uuid.UUID      `gorm:"type:uuid;primary_key;default:gen_random_uuid()" json:"id"`
	TenantID  uuid.UUID      `gorm:"type:uuid;not null;index" json:"tenderbureau_id"`
	ImportID  uuid.UUID      `gorm:"type:uuid;not null" json:"smart_import_id"`
	Name      string         `gorm:"type:text" json:"naam"`
	Phase     string         `gorm:"type:text;default:'acquisitie'" json:"fase"`
	Data      map[string]any `gorm:"serializer:json;type:jsonb" json:"data"`
	CreatedAt time.Time      `gorm:"default:CURRENT_TIMESTAMP" json:"created_at"`
}

func (Tender) TableName() string {
	return "tenders"
}

// TenderDocument links a stored import file to the tender created from it.
type TenderDocument struct {
	ID          uuid.UUID `gorm:"type:uuid;primary_key;default:gen_random_uuid()" json:"id"`
	TenderID    uuid.UUID `gorm:"type:uuid;not null;index" json:"tender_id"`
	Name        string    `gorm:"type:text" json:"naam"`
	StoragePath string    `gorm:"type:text" json:"storage_path"`
	Type        string    `gorm:"type:text;default:'overig'" json:"type"`
	Size        int64     `json:"size"`
	CreatedAt   time.Time `gorm:"default:CURRENT_TIMESTAMP" json:"created_at"`
}

func (TenderDocument) TableName() string {
	return "tender_documents"
}

type UploadResponse struct {
	ImportID string       `json:"import_id"`
	Status   JobStatus    `json:"status"`
	Files    []ImportFile `json:"files"`
}

type ReanalyzeRequest struct {
	Model ModelTier `json:"model"`
}

type FinalizeRequest struct {
	Data    map[string]any `json:"data"`
	Options map[string]any `json:"options,omitempty"`
}

type FinalizeResponse struct {
	Success         bool    `json:"success"`
	Tender          *Tender `json:"tender"`
	DocumentsLinked int     `json:"documents_linked"`
}
