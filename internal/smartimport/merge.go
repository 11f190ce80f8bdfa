package smartimport

import (
	"sort"

	"go.uber.org/zap"

	"tenderzen/smart-import/internal/models"
)

// MergeReport lists what a merge changed, as "group.field" keys.
type MergeReport struct {
	Filled   []string `json:"filled"`
	Improved []string `json:"improved"`
}

// Changed reports whether any field was adopted from the partial result.
func (r MergeReport) Changed() bool {
	return len(r.Filled) > 0 || len(r.Improved) > 0
}

// ExtractionMerger reconciles an existing result with a partial one.
type ExtractionMerger struct {
	logger *zap.Logger
}

func NewExtractionMerger(logger *zap.Logger) *ExtractionMerger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ExtractionMerger{logger: logger}
}

// Merge returns existing with partial folded in. Neither input is modified.
//
// A field is taken from partial when the existing one is empty and the new one
// is not, or when both are non-empty and the new confidence is strictly
// higher. Criteria and certifications are unioned first-seen-wins, warnings
// are unioned keeping existing order first.
func (m *ExtractionMerger) Merge(existing, partial *models.ExtractionResult) (*models.ExtractionResult, MergeReport) {
	var report MergeReport

	out := existing.Clone()
	if out == nil {
		out = models.NewExtractionResult()
	}
	if partial == nil {
		return out, report
	}

	for _, group := range models.FieldGroups {
		fields, ok := partial.Groups[group]
		if !ok {
			m.logger.Debug("partial result has no field group, skipping", zap.String("group", group))
			continue
		}

		// deterministic report order
		names := make([]string, 0, len(fields))
		for name := range fields {
			names = append(names, name)
		}
		sort.Strings(names)

		for _, name := range names {
			incoming := fields[name]
			if incoming.IsEmpty() {
				continue
			}
			current, exists := out.Field(group, name)
			switch {
			case !exists || current.IsEmpty():
				out.SetField(group, name, incoming)
				report.Filled = append(report.Filled, group+"."+name)
			case incoming.Confidence > current.Confidence:
				out.SetField(group, name, incoming)
				report.Improved = append(report.Improved, group+"."+name)
			}
		}
	}

	out.Criteria = unionCriteria(out.Criteria, partial.Criteria)
	out.Certifications = unionCertifications(out.Certifications, partial.Certifications)
	out.Warnings = unionWarnings(out.Warnings, partial.Warnings)

	return out, report
}

func unionCriteria(existing, incoming []models.Criterion) []models.Criterion {
	seen := make(map[string]struct{}, len(existing)+len(incoming))
	var out []models.Criterion
	for _, list := range [][]models.Criterion{existing, incoming} {
		for _, c := range list {
			if _, ok := seen[c.Key()]; ok {
				continue
			}
			seen[c.Key()] = struct{}{}
			out = append(out, c)
		}
	}
	return out
}

func unionCertifications(existing, incoming []models.Certification) []models.Certification {
	seen := make(map[string]struct{}, len(existing)+len(incoming))
	var out []models.Certification
	for _, list := range [][]models.Certification{existing, incoming} {
		for _, c := range list {
			if _, ok := seen[c.Name]; ok {
				continue
			}
			seen[c.Name] = struct{}{}
			out = append(out, c)
		}
	}
	return out
}

func unionWarnings(existing, incoming []string) []string {
	seen := make(map[string]struct{}, len(existing)+len(incoming))
	var out []string
	for _, list := range [][]string{existing, incoming} {
		for _, w := range list {
			if _, ok := seen[w]; ok {
				continue
			}
			seen[w] = struct{}{}
			out = append(out, w)
		}
	}
	return out
}
