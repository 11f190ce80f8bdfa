package handlers

import (
	"bytes"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tenderzen/smart-import/internal/models"
	"tenderzen/smart-import/internal/repositories"
	"tenderzen/smart-import/internal/services"
)

const tenantID = "6f1c2a58-4a8e-4a53-9d0f-3b1f3c2f9e10"

type fakeImportService struct {
	records map[uuid.UUID]*models.ImportRecord

	uploadedTenant string
	uploadedNames  []string
	startedOpts    *models.AnalysisOptions
	reanalyzedTier models.ModelTier
	finalized      *models.FinalizeRequest
}

func newFakeImportService(recs ...*models.ImportRecord) *fakeImportService {
	f := &fakeImportService{records: map[uuid.UUID]*models.ImportRecord{}}
	for _, r := range recs {
		f.records[r.ID] = r
	}
	return f
}

func (f *fakeImportService) Upload(tenantID string, files []*multipart.FileHeader) (*models.ImportRecord, error) {
	f.uploadedTenant = tenantID
	rec := &models.ImportRecord{ID: uuid.New(), Status: models.StatusPending}
	for _, fh := range files {
		f.uploadedNames = append(f.uploadedNames, fh.Filename)
		rec.Files = append(rec.Files, models.ImportFile{ID: uuid.New(), ImportID: rec.ID, Name: fh.Filename, Size: fh.Size})
	}
	f.records[rec.ID] = rec
	return rec, nil
}

func (f *fakeImportService) StartAnalysis(importID uuid.UUID, opts models.AnalysisOptions) error {
	if _, err := f.Get(importID); err != nil {
		return err
	}
	f.startedOpts = &opts
	return nil
}

func (f *fakeImportService) Reanalyze(importID uuid.UUID, tier models.ModelTier) error {
	if _, err := f.Get(importID); err != nil {
		return err
	}
	f.reanalyzedTier = tier
	return nil
}

func (f *fakeImportService) Cancel(importID uuid.UUID) (models.JobStatus, error) {
	if _, err := f.Get(importID); err != nil {
		return "", err
	}
	return models.StatusCancelled, nil
}

func (f *fakeImportService) Status(importID uuid.UUID) (*models.StatusResponse, error) {
	rec, err := f.Get(importID)
	if err != nil {
		return nil, err
	}
	return &models.StatusResponse{ImportID: rec.ID.String(), Status: rec.Status, Progress: rec.Progress, Steps: []models.Step{}}, nil
}

func (f *fakeImportService) CreateTender(importID uuid.UUID, req models.FinalizeRequest) (*models.FinalizeResponse, error) {
	rec, err := f.Get(importID)
	if err != nil {
		return nil, err
	}
	if rec.Status != models.StatusCompleted {
		return nil, services.ErrInvalidState
	}
	f.finalized = &req
	name, _ := req.Data["naam"].(string)
	return &models.FinalizeResponse{Success: true, Tender: &models.Tender{ID: uuid.New(), Name: name}, DocumentsLinked: len(rec.Files)}, nil
}

func (f *fakeImportService) Get(importID uuid.UUID) (*models.ImportRecord, error) {
	rec, ok := f.records[importID]
	if !ok {
		return nil, repositories.ErrImportNotFound
	}
	return rec, nil
}

func (f *fakeImportService) Models() []services.ModelInfo {
	return []services.ModelInfo{{ID: models.TierStandard, Model: "flash"}, {ID: models.TierPro, Model: "pro"}}
}

type fakeExportService struct {
	data []byte
	err  error
}

func (f *fakeExportService) ExportXLSX(uuid.UUID) ([]byte, error) {
	return f.data, f.err
}

func newImportApp(svc services.ImportService, export services.ExportService) *fiber.App {
	app := fiber.New(fiber.Config{ErrorHandler: ErrorHandler})
	NewSmartImportHandler(svc, export).Register(app.Group("/smart-import"))
	return app
}

func doJSON(t *testing.T, app *fiber.App, method, path string, body any) (*http.Response, map[string]any) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	}
	resp, err := app.Test(req, -1)
	require.NoError(t, err)

	var out map[string]any
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	if len(raw) > 0 {
		_ = json.Unmarshal(raw, &out)
	}
	return resp, out
}

func multipartBody(t *testing.T, names ...string) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	for _, name := range names {
		part, err := w.CreateFormFile("files", name)
		require.NoError(t, err)
		_, err = part.Write([]byte("%PDF-1.4 " + name))
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())
	return &buf, w.FormDataContentType()
}

func completedRecord() *models.ImportRecord {
	id := uuid.New()
	return &models.ImportRecord{
		ID:     id,
		Status: models.StatusCompleted,
		Files:  []models.ImportFile{{ID: uuid.New(), ImportID: id, Name: "leidraad.pdf"}},
	}
}

func TestHandleUpload(t *testing.T) {
	svc := newFakeImportService()
	app := newImportApp(svc, &fakeExportService{})

	body, contentType := multipartBody(t, "leidraad.pdf", "nvi.pdf")
	req := httptest.NewRequest("POST", "/smart-import/upload?tenderbureau_id="+tenantID, body)
	req.Header.Set(fiber.HeaderContentType, contentType)

	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	require.Equal(t, fiber.StatusCreated, resp.StatusCode)

	var out models.UploadResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	assert.Equal(t, models.StatusPending, out.Status)
	assert.Len(t, out.Files, 2)
	assert.Equal(t, tenantID, svc.uploadedTenant)
	assert.Equal(t, []string{"leidraad.pdf", "nvi.pdf"}, svc.uploadedNames)
}

func TestHandleUpload_RequiresMultipart(t *testing.T) {
	app := newImportApp(newFakeImportService(), &fakeExportService{})

	resp, body := doJSON(t, app, "POST", "/smart-import/upload", map[string]string{"x": "y"})

	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "failed to parse multipart form", body["error"])
}

func TestHandleAnalyze(t *testing.T) {
	rec := completedRecord()
	svc := newFakeImportService(rec)
	app := newImportApp(svc, &fakeExportService{})

	t.Run("defaults without body", func(t *testing.T) {
		resp, body := doJSON(t, app, "POST", "/smart-import/"+rec.ID.String()+"/analyze", nil)

		require.Equal(t, fiber.StatusAccepted, resp.StatusCode)
		assert.Equal(t, string(models.StatusAnalyzing), body["status"])
		require.NotNil(t, svc.startedOpts)
		assert.Equal(t, models.DefaultAnalysisOptions(), *svc.startedOpts)
	})

	t.Run("options from body", func(t *testing.T) {
		resp, body := doJSON(t, app, "POST", "/smart-import/"+rec.ID.String()+"/analyze", map[string]any{
			"model":                    "pro",
			"extract_gunningscriteria": false,
		})

		require.Equal(t, fiber.StatusAccepted, resp.StatusCode)
		assert.Equal(t, "pro", body["model"])
		assert.Equal(t, models.TierPro, svc.startedOpts.Model)
		assert.False(t, svc.startedOpts.ExtractCriteria)
	})

	t.Run("invalid id", func(t *testing.T) {
		resp, body := doJSON(t, app, "POST", "/smart-import/not-a-uuid/analyze", nil)

		assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
		assert.Equal(t, "Invalid import ID format", body["error"])
	})

	t.Run("unknown import", func(t *testing.T) {
		resp, body := doJSON(t, app, "POST", "/smart-import/"+uuid.NewString()+"/analyze", nil)

		assert.Equal(t, fiber.StatusNotFound, resp.StatusCode)
		assert.Equal(t, float64(fiber.StatusNotFound), body["code"])
	})
}

func TestHandleReanalyze_DefaultsToPro(t *testing.T) {
	rec := completedRecord()
	svc := newFakeImportService(rec)
	app := newImportApp(svc, &fakeExportService{})

	resp, _ := doJSON(t, app, "POST", "/smart-import/"+rec.ID.String()+"/reanalyze", nil)

	assert.Equal(t, fiber.StatusAccepted, resp.StatusCode)
	assert.Equal(t, models.TierPro, svc.reanalyzedTier)
}

func TestHandleStatusAndCancel(t *testing.T) {
	rec := completedRecord()
	app := newImportApp(newFakeImportService(rec), &fakeExportService{})

	resp, body := doJSON(t, app, "GET", "/smart-import/"+rec.ID.String()+"/status", nil)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Equal(t, rec.ID.String(), body["import_id"])
	assert.Equal(t, string(models.StatusCompleted), body["status"])

	resp, body = doJSON(t, app, "POST", "/smart-import/"+rec.ID.String()+"/cancel", nil)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Equal(t, true, body["success"])
	assert.Equal(t, string(models.StatusCancelled), body["status"])
}

func TestHandleCreateTender(t *testing.T) {
	done := completedRecord()
	pending := completedRecord()
	pending.Status = models.StatusAnalyzing
	svc := newFakeImportService(done, pending)
	app := newImportApp(svc, &fakeExportService{})

	resp, body := doJSON(t, app, "POST", "/smart-import/"+done.ID.String()+"/create-tender", map[string]any{
		"data": map[string]any{"naam": "Renovatie Stadhuis"},
	})
	require.Equal(t, fiber.StatusCreated, resp.StatusCode)
	assert.Equal(t, float64(1), body["documents_linked"])
	require.NotNil(t, svc.finalized)
	assert.Equal(t, "Renovatie Stadhuis", svc.finalized.Data["naam"])

	resp, _ = doJSON(t, app, "POST", "/smart-import/"+pending.ID.String()+"/create-tender", map[string]any{"data": map[string]any{}})
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
}

func TestHandleModels(t *testing.T) {
	app := newImportApp(newFakeImportService(), &fakeExportService{})

	resp, body := doJSON(t, app, "GET", "/smart-import/models", nil)

	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Len(t, body["models"], 2)
}

func TestHandleExport(t *testing.T) {
	rec := completedRecord()
	app := newImportApp(newFakeImportService(rec), &fakeExportService{data: []byte("PK xlsx")})

	resp, err := app.Test(httptest.NewRequest("GET", "/smart-import/"+rec.ID.String()+"/export", nil))
	require.NoError(t, err)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)

	assert.Equal(t, "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", resp.Header.Get(fiber.HeaderContentType))
	assert.True(t, strings.Contains(resp.Header.Get(fiber.HeaderContentDisposition), "smart-import-"+rec.ID.String()+".xlsx"))
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, "PK xlsx", string(data))
}

func TestHandleExport_NotCompleted(t *testing.T) {
	app := newImportApp(newFakeImportService(), &fakeExportService{err: services.ErrInvalidState})

	resp, _ := doJSON(t, app, "GET", "/smart-import/"+uuid.NewString()+"/export", nil)

	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
}
