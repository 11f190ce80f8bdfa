package handlers

import (
	"encoding/json"
	"fmt"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"tenderzen/smart-import/internal/models"
	"tenderzen/smart-import/internal/services"
)

// SmartImportHandler serves the extraction backend under /smart-import.
type SmartImportHandler struct {
	importService services.ImportService
	exportService services.ExportService
}

func NewSmartImportHandler(importService services.ImportService, exportService services.ExportService) *SmartImportHandler {
	return &SmartImportHandler{
		importService: importService,
		exportService: exportService,
	}
}

// Register mounts the backend routes on r.
func (h *SmartImportHandler) Register(r fiber.Router) {
	r.Post("/upload", h.HandleUpload)
	r.Get("/models", h.HandleModels)
	r.Post("/:id/analyze", h.HandleAnalyze)
	r.Post("/:id/reanalyze", h.HandleReanalyze)
	r.Get("/:id/status", h.HandleStatus)
	r.Post("/:id/cancel", h.HandleCancel)
	r.Post("/:id/create-tender", h.HandleCreateTender)
	r.Get("/:id/export", h.HandleExport)
}

// HandleUpload handles POST /smart-import/upload?tenderbureau_id=
func (h *SmartImportHandler) HandleUpload(c *fiber.Ctx) error {
	form, err := c.MultipartForm()
	if err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "failed to parse multipart form")
	}

	rec, err := h.importService.Upload(c.Query("tenderbureau_id"), form.File["files"])
	if err != nil {
		return err
	}

	return c.Status(fiber.StatusCreated).JSON(models.UploadResponse{
		ImportID: rec.ID.String(),
		Status:   rec.Status,
		Files:    rec.Files,
	})
}

// HandleAnalyze handles POST /smart-import/:id/analyze
func (h *SmartImportHandler) HandleAnalyze(c *fiber.Ctx) error {
	importID, err := parseImportID(c)
	if err != nil {
		return err
	}

	opts := models.DefaultAnalysisOptions()
	if len(c.Body()) > 0 {
		if err := json.Unmarshal(c.Body(), &opts); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "Invalid request payload")
		}
	}

	if err := h.importService.StartAnalysis(importID, opts); err != nil {
		return err
	}

	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{
		"import_id": importID.String(),
		"status":    models.StatusAnalyzing,
		"model":     opts.Model,
		"message":   fmt.Sprintf("Analyse gestart met %s model", opts.Model),
	})
}

// HandleReanalyze handles POST /smart-import/:id/reanalyze
func (h *SmartImportHandler) HandleReanalyze(c *fiber.Ctx) error {
	importID, err := parseImportID(c)
	if err != nil {
		return err
	}

	req := models.ReanalyzeRequest{Model: models.TierPro}
	if len(c.Body()) > 0 {
		if err := json.Unmarshal(c.Body(), &req); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "Invalid request payload")
		}
	}

	if err := h.importService.Reanalyze(importID, req.Model); err != nil {
		return err
	}

	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{
		"import_id": importID.String(),
		"status":    models.StatusAnalyzing,
		"model":     req.Model,
		"message":   fmt.Sprintf("Her-analyse gestart met %s model", req.Model),
	})
}

// HandleStatus handles GET /smart-import/:id/status
func (h *SmartImportHandler) HandleStatus(c *fiber.Ctx) error {
	importID, err := parseImportID(c)
	if err != nil {
		return err
	}

	resp, err := h.importService.Status(importID)
	if err != nil {
		return err
	}
	return c.JSON(resp)
}

// HandleCancel handles POST /smart-import/:id/cancel
func (h *SmartImportHandler) HandleCancel(c *fiber.Ctx) error {
	importID, err := parseImportID(c)
	if err != nil {
		return err
	}

	status, err := h.importService.Cancel(importID)
	if err != nil {
		return err
	}

	return c.JSON(fiber.Map{
		"success":   true,
		"import_id": importID.String(),
		"status":    status,
	})
}

// HandleCreateTender handles POST /smart-import/:id/create-tender
func (h *SmartImportHandler) HandleCreateTender(c *fiber.Ctx) error {
	importID, err := parseImportID(c)
	if err != nil {
		return err
	}

	var req models.FinalizeRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "Invalid request payload")
	}

	resp, err := h.importService.CreateTender(importID, req)
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(resp)
}

// HandleModels handles GET /smart-import/models
func (h *SmartImportHandler) HandleModels(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"models": h.importService.Models(),
	})
}

// HandleExport handles GET /smart-import/:id/export
func (h *SmartImportHandler) HandleExport(c *fiber.Ctx) error {
	importID, err := parseImportID(c)
	if err != nil {
		return err
	}

	data, err := h.exportService.ExportXLSX(importID)
	if err != nil {
		return err
	}

	c.Set(fiber.HeaderContentType, "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	c.Attachment(fmt.Sprintf("smart-import-%s.xlsx", importID))
	return c.Send(data)
}

func parseImportID(c *fiber.Ctx) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return uuid.Nil, fiber.NewError(fiber.StatusBadRequest, "Invalid import ID format")
	}
	return id, nil
}
