package models

import "time"

// OperationKind names an orchestrated multi-step operation.
type OperationKind string

const (
	OperationSave     OperationKind = "save"
	OperationRegister OperationKind = "register"
	OperationDeploy   OperationKind = "deploy"
	OperationUndeploy OperationKind = "undeploy"
	OperationDelete   OperationKind = "delete"
	OperationDetach   OperationKind = "detach"
)

// ProcessingStatus is the coarse progress of an operation.
type ProcessingStatus string

const (
	ProcessingRunning  ProcessingStatus = "running"
	ProcessingFinished ProcessingStatus = "finished"
)

// ErrorCategory classifies failures for reporting.
type ErrorCategory string

const (
	ErrorRegistration ErrorCategory = "registration"
	ErrorDeployment   ErrorCategory = "deployment"
	ErrorSave         ErrorCategory = "save"
	ErrorCascade      ErrorCategory = "cascade"
)

// ItemFailure records one failed sub-operation of a batch.
type ItemFailure struct {
	ElementID string        `json:"elementId,omitempty"`
	Category  ErrorCategory `json:"category"`
	Reason    string        `json:"reason"`
}

// ProcessingState describes an in-flight or just-completed operation.
type ProcessingState struct {
	OperationID string           `json:"operationId"`
	Kind        OperationKind    `json:"kind"`
	Status      ProcessingStatus `json:"status"`
	Finished    bool             `json:"finished"`
	Success     bool             `json:"success"`
	Message     string           `json:"message,omitempty"`

	Registered   bool `json:"registered,omitempty"`
	Deployed     bool `json:"deployed,omitempty"`
	Undeployed   bool `json:"undeployed,omitempty"`
	Deregistered bool `json:"deregistered,omitempty"`
	Saved        bool `json:"saved,omitempty"`

	Failures   []ItemFailure `json:"failures,omitempty"`
	StartedAt  time.Time     `json:"startedAt"`
	FinishedAt *time.Time    `json:"finishedAt,omitempty"`
}

// NewProcessingState returns a running state for a fresh operation.
func NewProcessingState(id string, kind OperationKind) *ProcessingState {
	return &ProcessingState{
		OperationID: id,
		Kind:        kind,
		Status:      ProcessingRunning,
		Failures:    make([]ItemFailure, 0),
		StartedAt:   time.Now(),
	}
}

// Clone returns a deep copy safe to hand to other goroutines.
func (p *ProcessingState) Clone() ProcessingState {
	out := *p
	out.Failures = append([]ItemFailure(nil), p.Failures...)
	if p.FinishedAt != nil {
		t := *p.FinishedAt
		out.FinishedAt = &t
	}
	return out
}
