package handlers

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"tenderzen/smart-import/internal/smartimport"
)

const keepAliveInterval = 15 * time.Second

// SessionHandler exposes import sessions over HTTP under /sessions.
type SessionHandler struct {
	registry *smartimport.Registry
	logger   *zap.Logger
}

func NewSessionHandler(registry *smartimport.Registry, logger *zap.Logger) *SessionHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SessionHandler{
		registry: registry,
		logger:   logger,
	}
}

func (h *SessionHandler) Register(r fiber.Router) {
	r.Post("/", h.HandleCreate)
	r.Get("/:id", h.HandleSnapshot)
	r.Delete("/:id", h.HandleDelete)
	r.Post("/:id/files", h.HandleStageFiles)
	r.Delete("/:id/files/:name", h.HandleRemoveFile)
	r.Post("/:id/submit", h.HandleSubmit)
	r.Post("/:id/documents", h.HandleAddDocuments)
	r.Post("/:id/reanalyze", h.HandleReanalyze)
	r.Post("/:id/cancel", h.HandleCancel)
	r.Post("/:id/dismiss", h.HandleDismiss)
	r.Put("/:id/fields/:field", h.HandleSetField)
	r.Delete("/:id/fields/:field", h.HandleClearField)
	r.Get("/:id/stats", h.HandleStats)
	r.Post("/:id/finalize", h.HandleFinalize)
	r.Get("/:id/events", h.HandleEvents)
}

type submitRequest struct {
	TenantID string `json:"tenderbureau_id"`
}

type fieldRequest struct {
	Value any `json:"value"`
}

type finalizeRequest struct {
	Options map[string]any `json:"options"`
}

// HandleCreate handles POST /sessions
func (h *SessionHandler) HandleCreate(c *fiber.Ctx) error {
	id, ctrl := h.registry.Create()
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"session_id": id.String(),
		"snapshot":   ctrl.Snapshot(),
	})
}

// HandleSnapshot handles GET /sessions/:id
func (h *SessionHandler) HandleSnapshot(c *fiber.Ctx) error {
	ctrl, err := h.session(c)
	if err != nil {
		return err
	}
	return c.JSON(ctrl.Snapshot())
}

// HandleDelete handles DELETE /sessions/:id
func (h *SessionHandler) HandleDelete(c *fiber.Ctx) error {
	id, err := parseSessionID(c)
	if err != nil {
		return err
	}
	if err := h.registry.Delete(id); err != nil {
		return err
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// HandleStageFiles handles POST /sessions/:id/files
func (h *SessionHandler) HandleStageFiles(c *fiber.Ctx) error {
	ctrl, err := h.session(c)
	if err != nil {
		return err
	}
	candidates, err := formCandidates(c)
	if err != nil {
		return err
	}

	report, err := ctrl.StageFiles(candidates)
	if err != nil {
		return err
	}
	return c.JSON(report)
}

// HandleRemoveFile handles DELETE /sessions/:id/files/:name
func (h *SessionHandler) HandleRemoveFile(c *fiber.Ctx) error {
	ctrl, err := h.session(c)
	if err != nil {
		return err
	}
	if err := ctrl.RemoveFile(c.Params("name")); err != nil {
		return err
	}
	return c.JSON(ctrl.Snapshot())
}

// HandleSubmit handles POST /sessions/:id/submit
func (h *SessionHandler) HandleSubmit(c *fiber.Ctx) error {
	ctrl, err := h.session(c)
	if err != nil {
		return err
	}

	var req submitRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "Invalid request payload")
	}
	if req.TenantID == "" {
		return fiber.NewError(fiber.StatusBadRequest, "tenderbureau_id is required")
	}

	if err := ctrl.Submit(c.UserContext(), req.TenantID); err != nil {
		return err
	}
	return c.Status(fiber.StatusAccepted).JSON(ctrl.Snapshot())
}

// HandleAddDocuments handles POST /sessions/:id/documents
func (h *SessionHandler) HandleAddDocuments(c *fiber.Ctx) error {
	ctrl, err := h.session(c)
	if err != nil {
		return err
	}
	candidates, err := formCandidates(c)
	if err != nil {
		return err
	}

	report, err := ctrl.AddDocuments(c.UserContext(), candidates)
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusAccepted).JSON(report)
}

// HandleReanalyze handles POST /sessions/:id/reanalyze
func (h *SessionHandler) HandleReanalyze(c *fiber.Ctx) error {
	ctrl, err := h.session(c)
	if err != nil {
		return err
	}
	if err := ctrl.Reanalyze(c.UserContext()); err != nil {
		return err
	}
	return c.Status(fiber.StatusAccepted).JSON(ctrl.Snapshot())
}

// HandleCancel handles POST /sessions/:id/cancel
func (h *SessionHandler) HandleCancel(c *fiber.Ctx) error {
	ctrl, err := h.session(c)
	if err != nil {
		return err
	}
	if err := ctrl.Cancel(c.UserContext()); err != nil {
		return err
	}
	return c.JSON(ctrl.Snapshot())
}

// HandleDismiss handles POST /sessions/:id/dismiss
func (h *SessionHandler) HandleDismiss(c *fiber.Ctx) error {
	ctrl, err := h.session(c)
	if err != nil {
		return err
	}
	if err := ctrl.Dismiss(); err != nil {
		return err
	}
	return c.JSON(ctrl.Snapshot())
}

// HandleSetField handles PUT /sessions/:id/fields/:field
func (h *SessionHandler) HandleSetField(c *fiber.Ctx) error {
	ctrl, err := h.session(c)
	if err != nil {
		return err
	}

	var req fieldRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "Invalid request payload")
	}
	if err := ctrl.SetEdit(c.Params("field"), req.Value); err != nil {
		return err
	}
	return c.JSON(ctrl.Stats())
}

// HandleClearField handles DELETE /sessions/:id/fields/:field
func (h *SessionHandler) HandleClearField(c *fiber.Ctx) error {
	ctrl, err := h.session(c)
	if err != nil {
		return err
	}
	ctrl.ClearEdit(c.Params("field"))
	return c.JSON(ctrl.Stats())
}

// HandleStats handles GET /sessions/:id/stats
func (h *SessionHandler) HandleStats(c *fiber.Ctx) error {
	ctrl, err := h.session(c)
	if err != nil {
		return err
	}
	return c.JSON(ctrl.Stats())
}

// HandleFinalize handles POST /sessions/:id/finalize
func (h *SessionHandler) HandleFinalize(c *fiber.Ctx) error {
	ctrl, err := h.session(c)
	if err != nil {
		return err
	}

	var req finalizeRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "Invalid request payload")
		}
	}

	resp, err := ctrl.Finalize(c.UserContext(), req.Options)
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(resp)
}

// HandleEvents handles GET /sessions/:id/events as a server-sent event stream.
// The stream starts with a snapshot and ends when the client leaves or the session closes.
func (h *SessionHandler) HandleEvents(c *fiber.Ctx) error {
	ctrl, err := h.session(c)
	if err != nil {
		return err
	}

	events, unsubscribe := ctrl.Subscribe()
	snapshot := ctrl.Snapshot()
	log := h.logger.With(zap.String("session_id", c.Params("id")))

	c.Set(fiber.HeaderContentType, "text/event-stream")
	c.Set(fiber.HeaderCacheControl, "no-cache")
	c.Set(fiber.HeaderConnection, "keep-alive")
	c.Set("X-Accel-Buffering", "no")

	c.Context().SetBodyStreamWriter(fasthttp.StreamWriter(func(w *bufio.Writer) {
		defer unsubscribe()

		if err := writeEvent(w, "snapshot", snapshot); err != nil {
			return
		}

		ticker := time.NewTicker(keepAliveInterval)
		defer ticker.Stop()

		for {
			select {
			case ev, ok := <-events:
				if !ok {
					_ = writeEvent(w, "closed", fiber.Map{})
					return
				}
				if err := writeEvent(w, string(ev.Kind), ev); err != nil {
					log.Debug("event stream closed", zap.Error(err))
					return
				}
			case <-ticker.C:
				if _, err := w.WriteString(": ping\n\n"); err != nil {
					return
				}
				if err := w.Flush(); err != nil {
					log.Debug("event stream closed", zap.Error(err))
					return
				}
			}
		}
	}))
	return nil
}

func writeEvent(w *bufio.Writer, name string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", name, data); err != nil {
		return err
	}
	return w.Flush()
}

func (h *SessionHandler) session(c *fiber.Ctx) (*smartimport.JobController, error) {
	id, err := parseSessionID(c)
	if err != nil {
		return nil, err
	}
	return h.registry.Get(id)
}

func parseSessionID(c *fiber.Ctx) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return uuid.Nil, fiber.NewError(fiber.StatusBadRequest, "Invalid session ID format")
	}
	return id, nil
}

// formCandidates reads the "files" parts into memory; the request's temp files do not outlive the handler.
func formCandidates(c *fiber.Ctx) ([]smartimport.FileCandidate, error) {
	form, err := c.MultipartForm()
	if err != nil {
		return nil, fiber.NewError(fiber.StatusBadRequest, "failed to parse multipart form")
	}

	files := form.File["files"]
	candidates := make([]smartimport.FileCandidate, 0, len(files))
	for _, fh := range files {
		data, err := readPart(fh)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", fh.Filename, err)
		}
		candidates = append(candidates, smartimport.FileCandidate{
			Name:     fh.Filename,
			Size:     fh.Size,
			MimeType: fh.Header.Get(fiber.HeaderContentType),
			Open: func() (io.ReadCloser, error) {
				return io.NopCloser(bytes.NewReader(data)), nil
			},
		})
	}
	return candidates, nil
}

func readPart(fh *multipart.FileHeader) ([]byte, error) {
	f, err := fh.Open()
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return io.ReadAll(f)
}
