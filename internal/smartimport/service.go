// Package smartimport is the document-import engine: it validates upload
// batches, drives remote analysis jobs through their state machine, merges
// augmentation results and stages the reviewed data for submission.
//
// The package has no presentation concerns. Callers observe it through
// Snapshot and the event channel returned by Subscribe.
package smartimport

import (
	"context"
	"io"

	"tenderzen/smart-import/internal/models"
)

// FileCandidate is a file offered for upload.
type FileCandidate struct {
	Name     string
	Size     int64
	MimeType string
	Open     func() (io.ReadCloser, error)
}

// ExtractionService is the job-oriented contract of the extraction backend.
type ExtractionService interface {
	SubmitBatch(ctx context.Context, tenantID string, files []FileCandidate) (string, error)
	StartAnalysis(ctx context.Context, jobID string, opts models.AnalysisOptions) error
	GetStatus(ctx context.Context, jobID string) (*models.StatusResponse, error)
	Reanalyze(ctx context.Context, jobID string, tier models.ModelTier) error
	Cancel(ctx context.Context, jobID string) error
	Finalize(ctx context.Context, jobID string, req models.FinalizeRequest) (*models.FinalizeResponse, error)
}

// StatusFetcher is the part of ExtractionService the poller needs.
type StatusFetcher interface {
	GetStatus(ctx context.Context, jobID string) (*models.StatusResponse, error)
}
