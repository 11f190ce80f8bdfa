// Package client talks to the Smart Import backend over HTTP. It implements
// smartimport.ExtractionService.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"tenderzen/smart-import/internal/models"
	"tenderzen/smart-import/internal/smartimport"
)

type Config struct {
	// BaseURL is the API root, e.g. http://localhost:8080/api/v1.
	BaseURL   string
	AuthToken string
	Timeout   time.Duration
}

type Client struct {
	baseURL string
	token   string
	http    *http.Client
	logger  *zap.Logger
}

var _ smartimport.ExtractionService = (*Client)(nil)

// New builds a client. A nil httpClient gets one with cfg.Timeout (default 60s).
func New(cfg Config, httpClient *http.Client, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 60 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		token:   cfg.AuthToken,
		http:    httpClient,
		logger:  logger,
	}
}

// SubmitBatch streams the files as one multipart request.
func (c *Client) SubmitBatch(ctx context.Context, tenantID string, files []smartimport.FileCandidate) (string, error) {
	const op = "submit batch"

	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)
	go func() {
		pw.CloseWithError(writeFiles(mw, files))
	}()

	path := "/smart-import/upload?tenderbureau_id=" + url.QueryEscape(tenantID)
	var resp models.UploadResponse
	if err := c.do(ctx, op, http.MethodPost, path, pr, mw.FormDataContentType(), &resp); err != nil {
		pr.CloseWithError(err)
		return "", err
	}
	if resp.ImportID == "" {
		return "", &smartimport.TransportError{Op: op, Err: errors.New("response carries no import id")}
	}
	return resp.ImportID, nil
}

func writeFiles(mw *multipart.Writer, files []smartimport.FileCandidate) error {
	for _, f := range files {
		if err := writeFile(mw, f); err != nil {
			return err
		}
	}
	return mw.Close()
}

func writeFile(mw *multipart.Writer, f smartimport.FileCandidate) error {
	if f.Open == nil {
		return fmt.Errorf("file %s has no content", f.Name)
	}
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="files"; filename="%s"`, escapeQuotes(f.Name)))
	contentType := f.MimeType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	h.Set("Content-Type", contentType)

	part, err := mw.CreatePart(h)
	if err != nil {
		return fmt.Errorf("create part %s: %w", f.Name, err)
	}
	rc, err := f.Open()
	if err != nil {
		return fmt.Errorf("open %s: %w", f.Name, err)
	}
	defer rc.Close()
	if _, err := io.Copy(part, rc); err != nil {
		return fmt.Errorf("copy %s: %w", f.Name, err)
	}
	return nil
}

var quoteEscaper = strings.NewReplacer("\\", "\\\\", `"`, "\\\"")

func escapeQuotes(s string) string {
	return quoteEscaper.Replace(s)
}

func (c *Client) StartAnalysis(ctx context.Context, jobID string, opts models.AnalysisOptions) error {
	return c.doJSON(ctx, "start analysis", http.MethodPost, jobPath(jobID, "analyze"), opts, nil)
}

func (c *Client) GetStatus(ctx context.Context, jobID string) (*models.StatusResponse, error) {
	var resp models.StatusResponse
	if err := c.do(ctx, "get status", http.MethodGet, jobPath(jobID, "status"), nil, "", &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) Reanalyze(ctx context.Context, jobID string, tier models.ModelTier) error {
	return c.doJSON(ctx, "reanalyze", http.MethodPost, jobPath(jobID, "reanalyze"), models.ReanalyzeRequest{Model: tier}, nil)
}

func (c *Client) Cancel(ctx context.Context, jobID string) error {
	return c.do(ctx, "cancel", http.MethodPost, jobPath(jobID, "cancel"), nil, "", nil)
}

func (c *Client) Finalize(ctx context.Context, jobID string, req models.FinalizeRequest) (*models.FinalizeResponse, error) {
	var resp models.FinalizeResponse
	if err := c.doJSON(ctx, "finalize", http.MethodPost, jobPath(jobID, "create-tender"), req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func jobPath(jobID, action string) string {
	return "/smart-import/" + url.PathEscape(jobID) + "/" + action
}

func (c *Client) doJSON(ctx context.Context, op, method, path string, body, out any) error {
	bs, err := json.Marshal(body)
	if err != nil {
		return &smartimport.TransportError{Op: op, Err: fmt.Errorf("encode json: %w", err)}
	}
	return c.do(ctx, op, method, path, bytes.NewReader(bs), "application/json", out)
}

// do sends one request. Every failure is returned as a *smartimport.TransportError.
func (c *Client) do(ctx context.Context, op, method, path string, body io.Reader, contentType string, out any) error {
	reqID := uuid.New().String()
	start := time.Now()

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return &smartimport.TransportError{Op: op, Err: fmt.Errorf("build request: %w", err)}
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-ID", reqID)
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		c.logger.Debug("request failed", zap.String("op", op), zap.String("req_id", reqID), zap.Error(err))
		return &smartimport.TransportError{Op: op, Err: err}
	}
	defer func(Body io.ReadCloser) {
		if err := Body.Close(); err != nil {
			c.logger.Warn("response body close failed", zap.String("req_id", reqID), zap.Error(err))
		}
	}(resp.Body)

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return &smartimport.TransportError{Op: op, StatusCode: resp.StatusCode, Err: fmt.Errorf("read body: %w", err)}
	}

	c.logger.Debug("request done",
		zap.String("op", op),
		zap.String("req_id", reqID),
		zap.Int("status", resp.StatusCode),
		zap.Int("bytes", len(raw)),
		zap.Duration("elapsed", time.Since(start)),
	)

	if resp.StatusCode/100 != 2 {
		return &smartimport.TransportError{Op: op, StatusCode: resp.StatusCode, Err: errors.New(errorMessage(raw, resp.Status))}
	}
	if out == nil || len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return &smartimport.TransportError{Op: op, StatusCode: resp.StatusCode, Err: fmt.Errorf("decode response: %w", err)}
	}
	return nil
}

// errorMessage reads {"error": ...} bodies, and {"detail": ...} for older backends.
func errorMessage(raw []byte, fallback string) string {
	var body struct {
		Error  string `json:"error"`
		Detail string `json:"detail"`
	}
	if err := json.Unmarshal(raw, &body); err == nil {
		if body.Error != "" {
			return body.Error
		}
		if body.Detail != "" {
			return body.Detail
		}
	}
	return fallback
}
