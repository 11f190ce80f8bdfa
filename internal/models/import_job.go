package models

type JobStatus string

const (
	StatusPending   JobStatus = "pending"
	StatusUploading JobStatus = "uploading"
	StatusAnalyzing JobStatus = "analyzing"
	StatusCompleted JobStatus = "completed"
	StatusFailed    JobStatus = "failed"
	StatusCancelled JobStatus = "cancelled"
)

// IsTerminal reports whether no further transitions are expected.
func (s JobStatus) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

type ModelTier string

const (
	TierStandard ModelTier = "standard"
	TierPro      ModelTier = "pro"
)

// Valid reports whether t is a known tier.
func (t ModelTier) Valid() bool {
	return t == TierStandard || t == TierPro
}

type StepStatus string

const (
	StepPending    StepStatus = "pending"
	StepInProgress StepStatus = "in_progress"
	StepCompleted  StepStatus = "completed"
)

type Step struct {
	Name   string     `json:"name"`
	Label  string     `json:"label"`
	Status StepStatus `json:"status"`
}

// ImportJob is the client-side view of one remote analysis run.
type ImportJob struct {
	ID           string    `json:"id"`
	Status       JobStatus `json:"status"`
	Progress     int       `json:"progress"`
	Steps        []Step    `json:"steps"`
	ModelTier    ModelTier `json:"model_tier"`
	ErrorMessage string    `json:"error_message,omitempty"`
}

// Clone copies the job including its steps.
func (j *ImportJob) Clone() *ImportJob {
	if j == nil {
		return nil
	}
	cp := *j
	cp.Steps = append([]Step(nil), j.Steps...)
	return &cp
}

// StatusResponse is the body of GET /smart-import/:id/status.
type StatusResponse struct {
	ImportID      string            `json:"import_id"`
	Status        JobStatus         `json:"status"`
	Progress      int               `json:"progress"`
	CurrentStep   string            `json:"current_step,omitempty"`
	ErrorMessage  *string           `json:"error_message,omitempty"`
	ExtractedData *ExtractionResult `json:"extracted_data,omitempty"`
	ModelTier     ModelTier         `json:"model_tier,omitempty"`
	Steps         []Step            `json:"steps"`
}
