package smartimport

import (
	"fmt"
	"path/filepath"
	"strings"

	"tenderzen/smart-import/internal/models"
)

const megabyte = 1024 * 1024

type BatchKind string

const (
	BatchPrimary    BatchKind = "primary"
	BatchAdditional BatchKind = "additional"
)

// BatchPolicy configures what a batch accepts.
type BatchPolicy struct {
	Kind BatchKind
	// MaxFiles bounds the batch. For the primary batch files already staged count against it.
	MaxFiles int
	// AllowedTypes holds lowercased extensions without the dot.
	AllowedTypes []string
	MaxFileSize  int64
}

// DefaultPrimaryPolicy accepts up to 10 pdf, docx or zip files of at most 25MB.
func DefaultPrimaryPolicy() BatchPolicy {
	return BatchPolicy{
		Kind:         BatchPrimary,
		MaxFiles:     10,
		AllowedTypes: []string{"pdf", "docx", "zip"},
		MaxFileSize:  25 * megabyte,
	}
}

// DefaultAdditionalPolicy accepts one pdf or docx file of at most 25MB.
func DefaultAdditionalPolicy() BatchPolicy {
	return BatchPolicy{
		Kind:         BatchAdditional,
		MaxFiles:     1,
		AllowedTypes: []string{"pdf", "docx"},
		MaxFileSize:  25 * megabyte,
	}
}

var mimeTypes = map[string][]string{
	"pdf":  {"application/pdf"},
	"docx": {"application/vnd.openxmlformats-officedocument.wordprocessingml.document"},
	"zip":  {"application/zip", "application/x-zip-compressed"},
}

// Rejection is one file that was not accepted.
type Rejection struct {
	Name   string       `json:"name"`
	Reason RejectReason `json:"reason"`
	Detail string       `json:"detail,omitempty"`
}

// Err returns the rejection as a ValidationError.
func (r Rejection) Err() error {
	return &ValidationError{File: r.Name, Reason: r.Reason, Detail: r.Detail}
}

// UploadReport is the outcome of validating one batch.
type UploadReport struct {
	Accepted   []FileCandidate           `json:"-"`
	Documents  []models.UploadedDocument `json:"accepted"`
	Rejections []Rejection               `json:"rejected"`
}

// UploadCoordinator validates and de-duplicates candidate batches.
type UploadCoordinator struct{}

func NewUploadCoordinator() *UploadCoordinator {
	return &UploadCoordinator{}
}

// Validate applies policy to candidates on a best-effort basis. held are the
// documents the session already owns in either batch; inBatch is how many of
// them count against policy.MaxFiles.
func (u *UploadCoordinator) Validate(policy BatchPolicy, held []models.UploadedDocument, inBatch int, candidates []FileCandidate) UploadReport {
	report := UploadReport{}

	names := make(map[string]struct{}, len(held)+len(candidates))
	for _, d := range held {
		names[d.Name] = struct{}{}
	}

	capacity := policy.MaxFiles - inBatch
	for _, c := range candidates {
		ext, ok := policy.matchType(c)
		if !ok {
			report.Rejections = append(report.Rejections, Rejection{
				Name:   c.Name,
				Reason: RejectInvalidType,
				Detail: fmt.Sprintf("allowed: %s", strings.Join(policy.AllowedTypes, ", ")),
			})
			continue
		}
		if policy.MaxFileSize > 0 && c.Size > policy.MaxFileSize {
			report.Rejections = append(report.Rejections, Rejection{
				Name:   c.Name,
				Reason: RejectTooLarge,
				Detail: fmt.Sprintf("%.1fMB, max %dMB", float64(c.Size)/megabyte, policy.MaxFileSize/megabyte),
			})
			continue
		}
		if _, dup := names[c.Name]; dup {
			report.Rejections = append(report.Rejections, Rejection{Name: c.Name, Reason: RejectDuplicateName})
			continue
		}
		if len(report.Accepted) >= capacity {
			report.Rejections = append(report.Rejections, Rejection{
				Name:   c.Name,
				Reason: RejectBatchLimit,
				Detail: fmt.Sprintf("max %d files", policy.MaxFiles),
			})
			continue
		}

		names[c.Name] = struct{}{}
		report.Accepted = append(report.Accepted, c)
		report.Documents = append(report.Documents, models.UploadedDocument{
			Name:            c.Name,
			SizeBytes:       c.Size,
			MimeOrExtension: mimeOrExt(c, ext),
			IsAdditional:    policy.Kind == BatchAdditional,
		})
	}
	return report
}

// matchType accepts a file when either its extension or its MIME type is allowed.
func (p BatchPolicy) matchType(c FileCandidate) (string, bool) {
	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(c.Name), "."))
	mime := strings.ToLower(strings.TrimSpace(c.MimeType))
	for _, allowed := range p.AllowedTypes {
		if ext == allowed {
			return allowed, true
		}
		for _, m := range mimeTypes[allowed] {
			if mime == m {
				return allowed, true
			}
		}
	}
	return "", false
}

func mimeOrExt(c FileCandidate, ext string) string {
	if c.MimeType != "" {
		return c.MimeType
	}
	return ext
}
