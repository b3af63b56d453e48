package core

import "time"

// AttemptStatus is the outcome of one submission to the engine.
type AttemptStatus string

const (
	AttemptPending     AttemptStatus = "pending"
	AttemptSucceeded   AttemptStatus = "succeeded"
	AttemptFailed      AttemptStatus = "failed"
	AttemptHealedRetry AttemptStatus = "healed_retry"
	AttemptExhausted   AttemptStatus = "exhausted"
)

// DeploymentAttempt records one submission of a workflow definition.
// A definition accumulates 1..MaxAttempts of these per deploy call.
type DeploymentAttempt struct {
	ID             string         `json:"id"`
	WorkflowName   string         `json:"workflow_name"`
	EngineID       string         `json:"engine_id,omitempty"`
	Status         AttemptStatus  `json:"status"`
	Classification Classification `json:"classification,omitempty"`
	Diagnostic     string         `json:"diagnostic,omitempty"`
	AttemptNumber  int            `json:"attempt_number"`
	StartedAt      time.Time      `json:"started_at"`
	EndedAt        *time.Time     `json:"ended_at,omitempty"`
}

// Finish stamps the end time and final status.
func (a *DeploymentAttempt) Finish(status AttemptStatus) {
	now := time.Now()
	a.Status = status
	a.EndedAt = &now
}

// DeploymentResult is the terminal outcome of a deploy call.
type DeploymentResult struct {
	Status         AttemptStatus  `json:"status"`
	EngineID       string         `json:"engine_id,omitempty"`
	Endpoint       string         `json:"endpoint,omitempty"`
	Attempts       int            `json:"attempts"`
	Classification Classification `json:"classification,omitempty"`
	Diagnostic     string         `json:"diagnostic,omitempty"`
}

// Succeeded reports whether the deployment was accepted by the engine.
func (r *DeploymentResult) Succeeded() bool {
	return r.Status == AttemptSucceeded
}
