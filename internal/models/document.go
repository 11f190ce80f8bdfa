package models

import (
	"time"

	"github.com/google/uuid"
)

// UploadedDocument is a file accepted into a wizard session.
type UploadedDocument struct {
	Name            string `json:"name"`
	SizeBytes       int64  `json:"size_bytes"`
	MimeOrExtension string `json:"mime_or_extension"`
	IsAdditional    bool   `json:"is_additional"`
}

// ImportFile is a stored file belonging to a backend import.
type ImportFile struct {
	ID           uuid.UUID `gorm:"type:uuid;primary_key;default:gen_random_uuid()" json:"id"`
	ImportID     uuid.UUID `gorm:"type:uuid;not null;index" json:"import_id"`
	Name         string    `gorm:"type:text" json:"name"`
	StoredName   string    `gorm:"type:text" json:"-"`
	FilePath     string    `gorm:"type:text" json:"-"`
	MimeType     string    `gorm:"type:text" json:"mime_type"`
	Size         int64     `json:"size"`
	DetectedType string    `gorm:"type:text" json:"detected_type"`
	CreatedAt    time.Time `gorm:"type:timestamp;default:now()" json:"created_at"`
}

func (f *ImportFile) TableName() string {
	return "import_files"
}
