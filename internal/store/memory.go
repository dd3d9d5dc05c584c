package store

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"report-generator/internal/models"
)

var (
	// ErrNotFound is returned for ids the store has never seen or has evicted.
	ErrNotFound = errors.New("report not found")
	// ErrExists guards against reusing a job id.
	ErrExists = errors.New("job already exists")
	// ErrInvalidTransition is returned when a terminal job is completed again.
	ErrInvalidTransition = errors.New("invalid status transition")
)

type entry struct {
	mu  sync.Mutex
	job models.Job
}

// Memory is the in-process status store. The map lock only guards membership;
// each job carries its own lock so retrievals of one job never wait on another.
type Memory struct {
	mu      sync.RWMutex
	entries map[string]*entry
	now     func() time.Time
}

// NewMemory returns an empty store.
func NewMemory() *Memory {
	return &Memory{entries: make(map[string]*entry), now: time.Now}
}

func (m *Memory) lookup(id string) (*entry, error) {
	m.mu.RLock()
	e, ok := m.entries[id]
	m.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return e, nil
}

// Create registers a new job. CreatedAt is stamped when unset.
func (m *Memory) Create(job models.Job) error {
	if job.CreatedAt.IsZero() {
		job.CreatedAt = m.now().UTC()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.entries[job.ID]; ok {
		return fmt.Errorf("%w: %s", ErrExists, job.ID)
	}
	m.entries[job.ID] = &entry{job: job}
	return nil
}

// Get returns a copy of the job.
func (m *Memory) Get(id string) (models.Job, error) {
	e, err := m.lookup(id)
	if err != nil {
		return models.Job{}, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.job, nil
}

// MarkStarted records which worker picked the job up. Status stays queued
// until a terminal result is published.
func (m *Memory) MarkStarted(id, workerID string) error {
	e, err := m.lookup(id)
	if err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.job.Status.Terminal() {
		return fmt.Errorf("%w: %s is %s", ErrInvalidTransition, id, e.job.Status)
	}
	now := m.now().UTC()
	e.job.StartedAt = &now
	e.job.WorkerID = workerID
	return nil
}

// Complete publishes the terminal result of a job. A job completes once.
func (m *Memory) Complete(id string, res models.Result) error {
	if !res.Status.Terminal() {
		return fmt.Errorf("%w: %s is not terminal", ErrInvalidTransition, res.Status)
	}
	e, err := m.lookup(id)
	if err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.job.Status != models.StatusQueued {
		return fmt.Errorf("%w: %s is already %s", ErrInvalidTransition, id, e.job.Status)
	}
	now := m.now().UTC()
	e.job.Status = res.Status
	e.job.ArtifactRef = res.ArtifactRef
	e.job.Error = res.Error
	e.job.CompletedAt = &now
	return nil
}

// Update runs fn against a copy of the job while holding the job's lock and
// stores the copy only when fn succeeds. Callers of Update for the same id are
// serialized.
func (m *Memory) Update(id string, fn func(job *models.Job) error) (models.Job, error) {
	e, err := m.lookup(id)
	if err != nil {
		return models.Job{}, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	job := e.job
	if err := fn(&job); err != nil {
		return e.job, err
	}
	e.job = job
	return job, nil
}

// EvictTerminal drops terminal jobs completed before cutoff and returns them.
// Entry locks are never taken while the map lock is held, so a slow Update on
// one job does not stall Create or Get on others.
func (m *Memory) EvictTerminal(cutoff time.Time) []models.Job {
	m.mu.RLock()
	candidates := make(map[string]*entry, len(m.entries))
	for id, e := range m.entries {
		candidates[id] = e
	}
	m.mu.RUnlock()

	expired := make(map[string]struct{})
	for id, e := range candidates {
		e.mu.Lock()
		job := e.job
		e.mu.Unlock()
		if job.Status.Terminal() && job.CompletedAt != nil && job.CompletedAt.Before(cutoff) {
			expired[id] = struct{}{}
		}
	}
	if len(expired) == 0 {
		return nil
	}

	m.mu.Lock()
	removed := make([]*entry, 0, len(expired))
	for id := range expired {
		if e, ok := m.entries[id]; ok && e == candidates[id] {
			delete(m.entries, id)
			removed = append(removed, e)
		}
	}
	m.mu.Unlock()

	// re-read after removal so callers see any retrieval that finished meanwhile
	evicted := make([]models.Job, 0, len(removed))
	for _, e := range removed {
		e.mu.Lock()
		evicted = append(evicted, e.job)
		e.mu.Unlock()
	}
	return evicted
}

// Len is the number of tracked jobs.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}
