package artifact

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// ErrNotFound marks an artifact that is not present in staging.
var ErrNotFound = errors.New("artifact not found")

// Store stages rendered documents until their first retrieval.
type Store interface {
	// Stage lets write produce the document at a local path and returns a
	// reference to the durable artifact.
	Stage(ctx context.Context, jobID string, write func(path string) error) (string, error)
	// Exists reports whether a non-empty artifact is present at ref.
	Exists(ctx context.Context, ref string) (bool, error)
	Read(ctx context.Context, ref string) ([]byte, error)
	Delete(ctx context.Context, ref string) error
}

// IOError reports a failure reading or deleting a staged artifact.
type IOError struct {
	Op  string
	Ref string
	Err error
}

func (e *IOError) Error() string {
	return fmt.Sprintf("failed to %s artifact %s: %v", e.Op, e.Ref, e.Err)
}

func (e *IOError) Unwrap() error {
	return e.Err
}

// FileName is the staged file name for a job's document.
func FileName(jobID string) string {
	return fmt.Sprintf("report_%s.pdf", jobID)
}

// Local keeps artifacts as files in a trays directory.
type Local struct {
	baseDir string
}

// NewLocal creates the trays directory if needed.
func NewLocal(baseDir string) (*Local, error) {
	if baseDir == "" {
		baseDir = "./trays"
	}
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("create trays dir: %w", err)
	}
	return &Local{baseDir: baseDir}, nil
}

func (l *Local) Stage(_ context.Context, jobID string, write func(path string) error) (string, error) {
	path := filepath.Join(l.baseDir, FileName(jobID))
	if err := write(path); err != nil {
		// drop whatever a failed compositor left behind
		_ = os.Remove(path)
		return "", err
	}
	return path, nil
}

func (l *Local) Exists(_ context.Context, ref string) (bool, error) {
	info, err := os.Stat(ref)
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, &IOError{Op: "stat", Ref: ref, Err: err}
	}
	return info.Mode().IsRegular() && info.Size() > 0, nil
}

func (l *Local) Read(_ context.Context, ref string) ([]byte, error) {
	b, err := os.ReadFile(ref)
	if errors.Is(err, os.ErrNotExist) {
		return nil, &IOError{Op: "read", Ref: ref, Err: ErrNotFound}
	}
	if err != nil {
		return nil, &IOError{Op: "read", Ref: ref, Err: err}
	}
	return b, nil
}

func (l *Local) Delete(_ context.Context, ref string) error {
	if err := os.Remove(ref); err != nil && !errors.Is(err, os.ErrNotExist) {
		return &IOError{Op: "delete", Ref: ref, Err: err}
	}
	return nil
}
