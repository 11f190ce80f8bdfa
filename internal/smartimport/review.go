package smartimport

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"tenderzen/smart-import/internal/models"
)

// Confidence bucket thresholds.
const (
	HighConfidence   = 0.85
	MediumConfidence = 0.5
)

// Stats summarises a result. High+Medium+Low == Extracted <= Total.
type Stats struct {
	Total     int `json:"total"`
	Extracted int `json:"extracted"`
	High      int `json:"high"`
	Medium    int `json:"medium"`
	Low       int `json:"low"`
}

// ReviewStager holds the current result and the user's edit overlay.
// Edits never modify the result; they are applied by BuildSubmission.
type ReviewStager struct {
	mu      sync.RWMutex
	result  *models.ExtractionResult
	overlay map[string]any
}

func NewReviewStager() *ReviewStager {
	return &ReviewStager{overlay: map[string]any{}}
}

// SetResult replaces the staged result with a copy of r.
func (s *ReviewStager) SetResult(r *models.ExtractionResult) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.result = r.Clone()
}

// Result returns a copy of the staged result, or nil.
func (s *ReviewStager) Result() *models.ExtractionResult {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.result.Clone()
}

// HasResult reports whether a result has been staged.
func (s *ReviewStager) HasResult() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.result != nil
}

// SetEdit records a user value for field. Unknown fields are rejected.
func (s *ReviewStager) SetEdit(field string, value any) error {
	if _, ok := models.LookupField(field); !ok {
		return fmt.Errorf("%w: %s", ErrUnknownField, field)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.overlay[field] = value
	return nil
}

func (s *ReviewStager) ClearEdit(field string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.overlay, field)
}

// Edits returns a copy of the overlay.
func (s *ReviewStager) Edits() map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]any, len(s.overlay))
	for k, v := range s.overlay {
		out[k] = v
	}
	return out
}

// ComputeStats scans the recognised field groups of the staged result.
func (s *ReviewStager) ComputeStats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return computeStats(s.result)
}

func computeStats(r *models.ExtractionResult) Stats {
	var st Stats
	if r == nil {
		return st
	}
	for _, group := range models.FieldGroups {
		for _, f := range r.Groups[group] {
			st.Total++
			if f.IsEmpty() {
				continue
			}
			st.Extracted++
			switch {
			case f.Confidence >= HighConfidence:
				st.High++
			case f.Confidence >= MediumConfidence:
				st.Medium++
			default:
				st.Low++
			}
		}
	}
	return st
}

// BuildSubmission flattens the declared fields into the finalize payload.
// The overlay wins over the extracted value; empty values are omitted.
func (s *ReviewStager) BuildSubmission() (map[string]any, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	data := make(map[string]any, len(models.FieldCatalog))
	var errs []error
	for _, spec := range models.FieldCatalog {
		value, edited := s.overlay[spec.Name]
		if !edited {
			if f, ok := s.result.Field(spec.Group, spec.Name); ok {
				value = f.Value
			}
		}
		if models.IsEmptyValue(value) {
			continue
		}
		coerced, err := coerce(spec, value)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		data[spec.Name] = coerced
	}
	if len(errs) > 0 {
		return data, errors.Join(errs...)
	}
	return data, nil
}

func coerce(spec models.FieldSpec, value any) (any, error) {
	switch spec.Type {
	case models.FieldNumber:
		switch v := value.(type) {
		case float64:
			return v, nil
		case float32:
			return float64(v), nil
		case int:
			return float64(v), nil
		case int64:
			return float64(v), nil
		case string:
			n, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
			if err != nil {
				return nil, &CoercionError{Field: spec.Name, Value: value, Err: err}
			}
			return n, nil
		}
		return nil, &CoercionError{Field: spec.Name, Value: value, Err: fmt.Errorf("unsupported type %T", value)}
	case models.FieldDate:
		if t, ok := value.(time.Time); ok {
			return t.Format("2006-01-02"), nil
		}
	case models.FieldDateTime:
		if t, ok := value.(time.Time); ok {
			return t.Format(time.RFC3339), nil
		}
	}
	if str, ok := value.(*string); ok {
		return *str, nil
	}
	return value, nil
}
