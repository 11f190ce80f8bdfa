package services

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"tenderzen/smart-import/internal/models"
)

func sampleResult() *models.ExtractionResult {
	r := models.NewExtractionResult()
	r.SetField(models.GroupBasicInfo, "naam", models.ExtractedField{Value: "Renovatie Stadhuis", Confidence: 0.9, Source: "leidraad p1"})
	r.SetField(models.GroupBasicInfo, "opdrachtgever", models.ExtractedField{Value: nil})
	r.Criteria = []models.Criterion{{Code: "K1", Name: "Prijs", WeightPercent: 40}, {Code: "K2", Name: "Kwaliteit", WeightPercent: 60}}
	return r
}

func TestRenderWorkbook(t *testing.T) {
	data, err := RenderWorkbook(sampleResult())
	require.NoError(t, err)

	f, err := excelize.OpenReader(bytes.NewReader(data))
	require.NoError(t, err)
	defer f.Close()

	assert.Equal(t, []string{fieldsSheet, criteriaSheet}, f.GetSheetList())

	rows, err := f.GetRows(fieldsSheet)
	require.NoError(t, err)
	require.Len(t, rows, len(models.FieldCatalog)+1)
	assert.Equal(t, []string{"Groep", "Veld", "Waarde", "Betrouwbaarheid", "Bron"}, rows[0])
	assert.Equal(t, []string{models.GroupBasicInfo, "naam", "Renovatie Stadhuis", "0.9", "leidraad p1"}, rows[1])

	empty, err := f.GetCellValue(fieldsSheet, "C3")
	require.NoError(t, err)
	assert.Empty(t, empty)

	k2, err := f.GetCellValue(criteriaSheet, "B3")
	require.NoError(t, err)
	assert.Equal(t, "Kwaliteit", k2)
}

func TestRenderWorkbook_NoCriteriaSheetWithoutCriteria(t *testing.T) {
	data, err := RenderWorkbook(models.NewExtractionResult())
	require.NoError(t, err)

	f, err := excelize.OpenReader(bytes.NewReader(data))
	require.NoError(t, err)
	defer f.Close()

	assert.Equal(t, []string{fieldsSheet}, f.GetSheetList())
}

func TestExportXLSX_RequiresCompletedImport(t *testing.T) {
	running := record(models.StatusAnalyzing)
	done := record(models.StatusCompleted)
	done.ExtractedData = sampleResult()
	svc := NewExportService(newMemImportRepo(running, done), nil)

	_, err := svc.ExportXLSX(running.ID)
	assert.ErrorIs(t, err, ErrInvalidState)

	data, err := svc.ExportXLSX(done.ID)
	require.NoError(t, err)
	assert.NotEmpty(t, data)
}
