package smartimport

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidTenant     = errors.New("tenant id is not a valid identifier")
	ErrNoFiles           = errors.New("no accepted files to submit")
	ErrJobAlreadyRunning = errors.New("job already running")
	ErrInvalidTransition = errors.New("operation not allowed in current state")
	ErrNoActiveJob       = errors.New("no active job")
	ErrSessionClosed     = errors.New("session closed")
	ErrSessionNotFound   = errors.New("session not found")
	ErrUnknownField      = errors.New("unknown field")
	ErrFileNotFound      = errors.New("file not staged")
	ErrCancelled         = errors.New("job cancelled")
)

// RecoveryAction names what a caller can do after an error.
type RecoveryAction string

const (
	RecoverNone            RecoveryAction = ""
	RecoverRetryUpload     RecoveryAction = "retry-upload"
	RecoverRetryReanalysis RecoveryAction = "retry-reanalysis"
	RecoverDismiss         RecoveryAction = "dismiss"
)

// RejectReason explains why a file was not accepted into a batch.
type RejectReason string

const (
	RejectInvalidType   RejectReason = "invalid-type"
	RejectTooLarge      RejectReason = "too-large"
	RejectDuplicateName RejectReason = "duplicate-name"
	RejectBatchLimit    RejectReason = "batch-limit-exceeded"
)

// ValidationError is a per-file rejection. It never aborts the batch.
type ValidationError struct {
	File   string
	Reason RejectReason
	Detail string
}

func (e *ValidationError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%s: %s (%s)", e.File, e.Reason, e.Detail)
	}
	return fmt.Sprintf("%s: %s", e.File, e.Reason)
}

// TransportError wraps a failed call to the extraction service.
type TransportError struct {
	Op         string
	StatusCode int
	Err        error
}

func (e *TransportError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s: status %d: %v", e.Op, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// Phase tells which kind of job a failure belongs to.
type Phase string

const (
	PhaseAnalysis     Phase = "analysis"
	PhaseReanalysis   Phase = "reanalysis"
	PhaseAugmentation Phase = "augmentation"
)

// JobFailedError is a terminal failure of one job.
type JobFailedError struct {
	JobID   string
	Phase   Phase
	Message string
	Cause   error
}

func (e *JobFailedError) Error() string {
	if e.JobID == "" {
		return fmt.Sprintf("%s failed: %s", e.Phase, e.Message)
	}
	return fmt.Sprintf("%s job %s failed: %s", e.Phase, e.JobID, e.Message)
}

func (e *JobFailedError) Unwrap() error {
	return e.Cause
}

// Recovery returns the action the caller should offer.
func (e *JobFailedError) Recovery() RecoveryAction {
	switch e.Phase {
	case PhaseReanalysis:
		return RecoverRetryReanalysis
	case PhaseAugmentation:
		return RecoverDismiss
	}
	return RecoverRetryUpload
}

// CoercionError reports a value that cannot be converted to its declared field type.
type CoercionError struct {
	Field string
	Value any
	Err   error
}

func (e *CoercionError) Error() string {
	return fmt.Sprintf("field %s: cannot coerce %v: %v", e.Field, e.Value, e.Err)
}

func (e *CoercionError) Unwrap() error {
	return e.Err
}
