package services

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"

	"tenderzen/smart-import/internal/models"
	"tenderzen/smart-import/internal/repositories"
)

const (
	fieldsSheet   = "Velden"
	criteriaSheet = "Gunningscriteria"
)

// ExportService renders an import's extracted data as an XLSX workbook.
type ExportService interface {
	ExportXLSX(importID uuid.UUID) ([]byte, error)
}

type exportService struct {
	importRepo repositories.ImportRepository
	logger     *zap.Logger
}

func NewExportService(importRepo repositories.ImportRepository, logger *zap.Logger) ExportService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &exportService{importRepo: importRepo, logger: logger}
}

func (s *exportService) ExportXLSX(importID uuid.UUID) ([]byte, error) {
	rec, err := s.importRepo.FindByID(importID)
	if err != nil {
		return nil, err
	}
	if !hasUsableResult(rec) || rec.ExtractedData == nil {
		return nil, fmt.Errorf("%w: import is niet voltooid (status: %s)", ErrInvalidState, rec.Status)
	}
	return RenderWorkbook(rec.ExtractedData)
}

// RenderWorkbook writes one row per catalogue field plus a criteria sheet.
func RenderWorkbook(result *models.ExtractionResult) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", fieldsSheet); err != nil {
		return nil, fmt.Errorf("rename sheet: %w", err)
	}

	write := func(sheet string, col, row int, v any) {
		cell, _ := excelize.CoordinatesToCellName(col, row)
		_ = f.SetCellValue(sheet, cell, v)
	}

	for i, h := range []string{"Groep", "Veld", "Waarde", "Betrouwbaarheid", "Bron"} {
		write(fieldsSheet, i+1, 1, h)
	}
	row := 2
	for _, spec := range models.FieldCatalog {
		field, _ := result.Field(spec.Group, spec.Name)
		write(fieldsSheet, 1, row, spec.Group)
		write(fieldsSheet, 2, row, spec.Name)
		if !field.IsEmpty() {
			write(fieldsSheet, 3, row, field.Value)
			write(fieldsSheet, 4, row, field.Confidence)
		}
		write(fieldsSheet, 5, row, field.Source)
		row++
	}
	_ = f.SetColWidth(fieldsSheet, "A", "B", 22)
	_ = f.SetColWidth(fieldsSheet, "C", "C", 48)
	_ = f.SetColWidth(fieldsSheet, "E", "E", 32)

	if len(result.Criteria) > 0 {
		if _, err := f.NewSheet(criteriaSheet); err != nil {
			return nil, fmt.Errorf("add criteria sheet: %w", err)
		}
		for i, h := range []string{"Code", "Naam", "Percentage"} {
			write(criteriaSheet, i+1, 1, h)
		}
		for i, c := range result.Criteria {
			write(criteriaSheet, 1, i+2, c.Code)
			write(criteriaSheet, 2, i+2, c.Name)
			write(criteriaSheet, 3, i+2, c.WeightPercent)
		}
		_ = f.SetColWidth(criteriaSheet, "B", "B", 40)
	}

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("xlsx write: %w", err)
	}
	return buf.Bytes(), nil
}
