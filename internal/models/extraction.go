package models

import (
	"encoding/json"
	"fmt"
)

// Field groups produced by the extraction backend. The set is fixed.
const (
	GroupBasicInfo = "basisgegevens"
	GroupSchedule  = "planning"
)

// FieldGroups lists the recognised field groups in display order.
var FieldGroups = []string{GroupBasicInfo, GroupSchedule}

// IsFieldGroup reports whether name is one of the recognised field groups.
func IsFieldGroup(name string) bool {
	for _, g := range FieldGroups {
		if g == name {
			return true
		}
	}
	return false
}

// ExtractedField is a single extracted data point.
type ExtractedField struct {
	Value      any     `json:"value"`
	Confidence float64 `json:"confidence"`
	Source     string  `json:"source,omitempty"`
}

// IsEmpty reports whether the field carries no extracted value. Confidence is irrelevant.
func (f ExtractedField) IsEmpty() bool {
	return IsEmptyValue(f.Value)
}

// IsEmptyValue treats nil and the empty string as "not extracted".
func IsEmptyValue(v any) bool {
	switch t := v.(type) {
	case nil:
		return true
	case string:
		return t == ""
	case *string:
		return t == nil || *t == ""
	}
	return false
}

type Criterion struct {
	Code          string  `json:"code,omitempty"`
	Name          string  `json:"naam,omitempty"`
	WeightPercent float64 `json:"percentage"`
	Confidence    float64 `json:"confidence,omitempty"`
}

// Key identifies a criterion: its code, or its name when the code is missing.
func (c Criterion) Key() string {
	if c.Code != "" {
		return c.Code
	}
	return c.Name
}

type Certification struct {
	Name       string  `json:"naam"`
	Required   bool    `json:"verplicht"`
	Confidence float64 `json:"confidence,omitempty"`
}

// ExtractionResult is the categorised output of one analysis run.
type ExtractionResult struct {
	Groups         map[string]map[string]ExtractedField
	Criteria       []Criterion
	Certifications []Certification
	Warnings       []string
}

// NewExtractionResult returns a result with every recognised group present.
func NewExtractionResult() *ExtractionResult {
	r := &ExtractionResult{Groups: make(map[string]map[string]ExtractedField, len(FieldGroups))}
	for _, g := range FieldGroups {
		r.Groups[g] = map[string]ExtractedField{}
	}
	return r
}

// Field returns the field stored under group/name.
func (r *ExtractionResult) Field(group, name string) (ExtractedField, bool) {
	if r == nil || r.Groups == nil {
		return ExtractedField{}, false
	}
	f, ok := r.Groups[group][name]
	return f, ok
}

// SetField stores a field, creating the group map if needed.
func (r *ExtractionResult) SetField(group, name string, f ExtractedField) {
	if r.Groups == nil {
		r.Groups = map[string]map[string]ExtractedField{}
	}
	if r.Groups[group] == nil {
		r.Groups[group] = map[string]ExtractedField{}
	}
	r.Groups[group][name] = f
}

// Clone returns a deep copy. Field values are scalars, so copying the structs is enough.
func (r *ExtractionResult) Clone() *ExtractionResult {
	if r == nil {
		return nil
	}
	out := &ExtractionResult{
		Groups:         make(map[string]map[string]ExtractedField, len(r.Groups)),
		Criteria:       append([]Criterion(nil), r.Criteria...),
		Certifications: append([]Certification(nil), r.Certifications...),
		Warnings:       append([]string(nil), r.Warnings...),
	}
	for g, fields := range r.Groups {
		cp := make(map[string]ExtractedField, len(fields))
		for k, v := range fields {
			cp[k] = v
		}
		out.Groups[g] = cp
	}
	return out
}

// wire shapes of the backend payload
type criteriaBlock struct {
	Criteria []Criterion `json:"criteria"`
	Source   string      `json:"source,omitempty"`
}

type certificationBlock struct {
	Required []Certification `json:"vereist"`
	Source   string          `json:"source,omitempty"`
}

const (
	keyCriteria       = "gunningscriteria"
	keyCertifications = "certificeringen"
	keyWarnings       = "warnings"
)

// MarshalJSON writes the flat backend shape: one object per group plus criteria, certifications and warnings.
func (r ExtractionResult) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(r.Groups)+3)
	for g, fields := range r.Groups {
		if fields == nil {
			fields = map[string]ExtractedField{}
		}
		out[g] = fields
	}
	criteria := r.Criteria
	if criteria == nil {
		criteria = []Criterion{}
	}
	out[keyCriteria] = criteriaBlock{Criteria: criteria}
	if len(r.Certifications) > 0 {
		out[keyCertifications] = certificationBlock{Required: r.Certifications}
	}
	warnings := r.Warnings
	if warnings == nil {
		warnings = []string{}
	}
	out[keyWarnings] = warnings
	return json.Marshal(out)
}

// UnmarshalJSON accepts the backend shape. Unknown keys and non-object field entries are skipped.
func (r *ExtractionResult) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("decode extraction result: %w", err)
	}

	res := NewExtractionResult()
	for _, g := range FieldGroups {
		block, ok := raw[g]
		if !ok || string(block) == "null" {
			continue
		}
		var entries map[string]json.RawMessage
		if err := json.Unmarshal(block, &entries); err != nil {
			continue
		}
		for name, entry := range entries {
			if len(entry) == 0 || entry[0] != '{' {
				continue
			}
			var f ExtractedField
			if err := json.Unmarshal(entry, &f); err != nil {
				continue
			}
			res.Groups[g][name] = f
		}
	}

	if block, ok := raw[keyCriteria]; ok {
		var cb criteriaBlock
		if err := json.Unmarshal(block, &cb); err == nil {
			res.Criteria = cb.Criteria
		}
	}
	if block, ok := raw[keyCertifications]; ok {
		var cb certificationBlock
		if err := json.Unmarshal(block, &cb); err == nil {
			res.Certifications = cb.Required
		}
	}
	if block, ok := raw[keyWarnings]; ok {
		var warnings []string
		if err := json.Unmarshal(block, &warnings); err == nil {
			res.Warnings = warnings
		}
	}

	*r = *res
	return nil
}
