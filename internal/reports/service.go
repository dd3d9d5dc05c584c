package reports

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"report-generator/internal/artifact"
	"report-generator/internal/models"
	"report-generator/internal/queue"
	"report-generator/internal/render"
	"report-generator/internal/store"
	"report-generator/internal/telemetry"
	"report-generator/internal/worker"
)

var (
	// ErrNotFound is returned for job ids the service does not know.
	ErrNotFound = store.ErrNotFound
	// ErrShuttingDown is returned by Submit once Shutdown has begun.
	ErrShuttingDown = errors.New("reports: service is shutting down")
	// ErrNoTemplates fails Preflight when the template root is empty.
	ErrNoTemplates = errors.New("reports: no templates installed")
)

// Catalog lists and loads installed templates.
type Catalog interface {
	worker.TemplateSource
	Available() ([]string, error)
}

// Config tunes the service.
type Config struct {
	Workers         int
	DateFormat      string
	FontDir         string
	AssetDir        string
	Retention       time.Duration
	JanitorInterval time.Duration
}

// Deps are the collaborators the service drives.
type Deps struct {
	Templates Catalog
	Expander  *render.Expander
	Converter render.Converter
	Artifacts artifact.Store
	Audit     store.Auditor
	Logger    *slog.Logger
}

// Stats is an approximate snapshot for health reporting.
type Stats struct {
	Pending int `json:"queue_count"`
	Workers int `json:"worker_count"`
	Tracked int `json:"tracked"`
}

// Service accepts report jobs, renders them on a worker pool and hands each
// artifact out exactly once.
type Service struct {
	cfg       Config
	templates Catalog
	jobs      *store.Memory
	queue     *queue.Queue
	proc      *worker.Processor
	artifacts artifact.Store
	audit     store.Auditor
	logger    *slog.Logger
	now       func() time.Time

	started   atomic.Bool
	startOnce sync.Once
	stopOnce  sync.Once
	janitor   chan struct{}
	wg        sync.WaitGroup
}

// New wires a service. Nothing runs until Start.
func New(cfg Config, deps Deps) *Service {
	if deps.Audit == nil {
		deps.Audit = store.Nop{}
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	jobs := store.NewMemory()
	q := queue.New()
	proc := worker.NewProcessor(q, jobs, deps.Templates, deps.Expander, deps.Converter, deps.Artifacts,
		worker.WithWorkers(cfg.Workers),
		worker.WithLogger(deps.Logger),
		worker.WithAuditor(deps.Audit),
		worker.WithDateFormat(cfg.DateFormat),
		worker.WithAssetDirs(cfg.FontDir, cfg.AssetDir),
	)
	return &Service{
		cfg:       cfg,
		templates: deps.Templates,
		jobs:      jobs,
		queue:     q,
		proc:      proc,
		artifacts: deps.Artifacts,
		audit:     deps.Audit,
		logger:    deps.Logger,
		now:       time.Now,
		janitor:   make(chan struct{}),
	}
}

// Start launches the worker pool and, when retention is enabled, the janitor.
func (s *Service) Start(ctx context.Context) {
	s.startOnce.Do(func() {
		s.started.Store(true)
		s.proc.Start(ctx)
		if s.cfg.Retention > 0 {
			interval := s.cfg.JanitorInterval
			if interval <= 0 {
				interval = time.Minute
			}
			s.wg.Add(1)
			go s.runJanitor(ctx, interval)
		}
		s.logger.Info("report service started",
			slog.Int("workers", s.proc.Workers()),
			slog.Duration("retention", s.cfg.Retention),
		)
	})
}

// Shutdown stops intake, lets the workers finish every queued job and waits
// for them until ctx ends.
func (s *Service) Shutdown(ctx context.Context) error {
	s.stopOnce.Do(func() {
		s.queue.Close()
		close(s.janitor)
	})
	if !s.started.Load() {
		return nil
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		<-s.proc.Done()
		s.wg.Wait()
	}()

	select {
	case <-done:
		s.logger.Info("queue drained, shutdown complete")
		return nil
	case <-ctx.Done():
		s.logger.Warn("shutdown interrupted by context", slog.Int("pending", s.queue.Len()))
		return ctx.Err()
	}
}

// Submit records a queued job and hands it to the pool. It never waits for
// rendering.
func (s *Service) Submit(ctx context.Context, template string, data map[string]any) (string, error) {
	if s.queue.Closed() {
		return "", ErrShuttingDown
	}
	id, err := models.NewJobID()
	if err != nil {
		return "", err
	}
	if data == nil {
		data = map[string]any{}
	}
	job := models.Job{
		ID:        id,
		Template:  template,
		Data:      data,
		Status:    models.StatusQueued,
		CreatedAt: s.now().UTC(),
	}
	if err := s.jobs.Create(job); err != nil {
		return "", err
	}
	if err := s.queue.Push(id); err != nil {
		// lost the race with Shutdown; the job can never run
		_ = s.jobs.Complete(id, models.Failed(ErrShuttingDown))
		return "", ErrShuttingDown
	}

	telemetry.EnqueueCounter.Inc()
	telemetry.QueueDepthGauge.Set(float64(s.queue.Len()))
	s.logger.Info("report queued", slog.String("job_id", id), slog.String("template", template))
	s.record(ctx, job, store.EventEnqueued, "")
	return id, nil
}

// Status returns the job without touching its artifact.
func (s *Service) Status(_ context.Context, id string) (models.Job, error) {
	return s.jobs.Get(id)
}

// Retrieve returns the job and, for a successful job, the document bytes.
// The first call moves the artifact out of staging and caches it on the job;
// later calls serve the cache. Calls for one id are serialized. An
// *artifact.IOError leaves the job untouched so the call can be retried.
func (s *Service) Retrieve(ctx context.Context, id string) (models.Job, []byte, error) {
	var (
		body  []byte
		first bool
	)
	job, err := s.jobs.Update(id, func(job *models.Job) error {
		if job.Status != models.StatusSuccess {
			return nil
		}
		if job.Consumed() {
			decoded, err := base64.StdEncoding.DecodeString(job.Encoded)
			if err != nil {
				return fmt.Errorf("decode cached artifact: %w", err)
			}
			body = decoded
			return nil
		}

		raw, err := s.artifacts.Read(ctx, job.ArtifactRef)
		if err != nil {
			return err
		}
		if err := s.artifacts.Delete(ctx, job.ArtifactRef); err != nil {
			return err
		}
		now := s.now().UTC()
		job.Encoded = base64.StdEncoding.EncodeToString(raw)
		job.ArtifactRef = ""
		job.RetrievedAt = &now
		body = raw
		first = true
		return nil
	})
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return models.Job{}, nil, err
		}
		telemetry.Retrievals.WithLabelValues("error").Inc()
		s.logger.Error("artifact retrieval failed", slog.String("job_id", id), slog.Any("error", err))
		return job, nil, err
	}

	switch {
	case first:
		telemetry.Retrievals.WithLabelValues("first").Inc()
		s.logger.Info("artifact retrieved", slog.String("job_id", id), slog.Int("bytes", len(body)))
		s.record(ctx, job, store.EventRetrieved, "")
	case body != nil:
		telemetry.Retrievals.WithLabelValues("cached").Inc()
	default:
		telemetry.Retrievals.WithLabelValues(string(job.Status)).Inc()
	}
	return job, body, nil
}

// Stats reports queue depth and pool size.
func (s *Service) Stats() Stats {
	return Stats{
		Pending: s.queue.Len(),
		Workers: s.proc.Workers(),
		Tracked: s.jobs.Len(),
	}
}

// Templates lists installed template names.
func (s *Service) Templates() ([]string, error) {
	return s.templates.Available()
}

func (s *Service) runJanitor(ctx context.Context, interval time.Duration) {
	defer s.wg.Done()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.janitor:
			return
		case <-ticker.C:
			s.Sweep(ctx)
		}
	}
}

// Sweep evicts terminal jobs older than the retention window, deleting any
// artifact that was never retrieved. It returns the number of evicted jobs.
func (s *Service) Sweep(ctx context.Context) int {
	if s.cfg.Retention <= 0 {
		return 0
	}
	evicted := s.jobs.EvictTerminal(s.now().Add(-s.cfg.Retention))
	for _, job := range evicted {
		if job.ArtifactRef != "" {
			if err := s.artifacts.Delete(ctx, job.ArtifactRef); err != nil {
				s.logger.Warn("delete expired artifact", slog.String("job_id", job.ID), slog.Any("error", err))
			}
		}
		s.record(ctx, job, store.EventEvicted, string(job.Status))
	}
	if n := len(evicted); n > 0 {
		telemetry.Evictions.Add(float64(n))
		s.logger.Info("evicted expired jobs", slog.Int("count", n))
	}
	return len(evicted)
}

func (s *Service) record(ctx context.Context, job models.Job, event, detail string) {
	if err := s.audit.AppendAudit(ctx, job.ID, job.Template, event, detail); err != nil {
		s.logger.Warn("audit write failed", slog.String("job_id", job.ID), slog.String("event", event), slog.Any("error", err))
	}
}

// Preflight fails when the font directory (or any extra directory) is missing
// or when no template is installed.
func Preflight(templates Catalog, fontDir string, dirs ...string) ([]string, error) {
	for _, dir := range append([]string{fontDir}, dirs...) {
		if dir == "" {
			continue
		}
		info, err := os.Stat(dir)
		if err != nil {
			return nil, fmt.Errorf("preflight: %w", err)
		}
		if !info.IsDir() {
			return nil, fmt.Errorf("preflight: %s is not a directory", dir)
		}
	}
	names, err := templates.Available()
	if err != nil {
		return nil, fmt.Errorf("preflight: list templates: %w", err)
	}
	if len(names) == 0 {
		return nil, ErrNoTemplates
	}
	return names, nil
}
