package models

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Status enumerates the stored lifecycle states of a report job.
type Status string

const (
	StatusQueued  Status = "queued"
	StatusSuccess Status = "success"
	StatusFailure Status = "failure"
)

// Terminal reports whether no further transition can happen from s.
func (s Status) Terminal() bool {
	return s == StatusSuccess || s == StatusFailure
}

// Job is one request to render a named template against a data payload.
type Job struct {
	ID       string         `json:"id"`
	Template string         `json:"template"`
	Data     map[string]any `json:"-"`
	Status   Status         `json:"status"`

	// ArtifactRef locates the staged document of a successful job until its
	// first retrieval, when it is replaced by Encoded.
	ArtifactRef string `json:"-"`
	Encoded     string `json:"-"`
	Error       string `json:"error,omitempty"`

	WorkerID    string     `json:"worker_id,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	RetrievedAt *time.Time `json:"retrieved_at,omitempty"`
}

// Consumed reports whether the artifact bytes have been pulled into the job.
func (j Job) Consumed() bool {
	return j.Status == StatusSuccess && j.RetrievedAt != nil
}

// Result is the terminal outcome a worker publishes for a job.
type Result struct {
	Status      Status
	ArtifactRef string
	Error       string
}

// Succeeded builds a success result pointing at a staged artifact.
func Succeeded(ref string) Result {
	return Result{Status: StatusSuccess, ArtifactRef: ref}
}

// Failed builds a failure result carrying a human readable description.
func Failed(err error) Result {
	msg := "unknown error"
	if err != nil {
		msg = err.Error()
	}
	return Result{Status: StatusFailure, Error: msg}
}

// NewJobID returns a time-ordered, globally unique job identifier.
func NewJobID() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("generate job id: %w", err)
	}
	return id.String(), nil
}
