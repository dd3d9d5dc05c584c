package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"report-generator/internal/artifact"
	"report-generator/internal/datatree"
	"report-generator/internal/models"
	"report-generator/internal/queue"
	"report-generator/internal/render"
	"report-generator/internal/store"
	"report-generator/internal/telemetry"
	"report-generator/internal/templates"
)

// TemplateSource resolves template names to loaded instances.
type TemplateSource interface {
	Validate(name string) error
	Load(name string) (*templates.Instance, error)
}

// JobStore is the part of the status store workers write to.
type JobStore interface {
	Get(id string) (models.Job, error)
	MarkStarted(id, workerID string) error
	Complete(id string, res models.Result) error
}

// Processor runs a fixed pool of workers that take job ids off the queue and
// render each one to a terminal status.
type Processor struct {
	queue     *queue.Queue
	jobs      JobStore
	templates TemplateSource
	expander  *render.Expander
	converter render.Converter
	artifacts artifact.Store
	audit     store.Auditor
	logger    *slog.Logger

	workers    int
	dateFormat string
	fontDir    string
	assetDir   string
	now        func() time.Time

	once sync.Once
	wg   sync.WaitGroup
	done chan struct{}
}

// Option configures a Processor.
type Option func(*Processor)

// WithWorkers sets the pool size. Values below one are ignored.
func WithWorkers(n int) Option {
	return func(p *Processor) {
		if n > 0 {
			p.workers = n
		}
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(p *Processor) {
		if l != nil {
			p.logger = l
		}
	}
}

func WithAuditor(a store.Auditor) Option {
	return func(p *Processor) {
		if a != nil {
			p.audit = a
		}
	}
}

// WithDateFormat sets the Go time layout of the date stamp handed to templates.
func WithDateFormat(layout string) Option {
	return func(p *Processor) {
		if layout != "" {
			p.dateFormat = layout
		}
	}
}

// WithAssetDirs sets the font and static asset directories exposed to templates.
func WithAssetDirs(fontDir, assetDir string) Option {
	return func(p *Processor) {
		p.fontDir = fontDir
		p.assetDir = assetDir
	}
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(p *Processor) { p.now = now }
}

// NewProcessor builds a processor. Call Start to launch the workers.
func NewProcessor(q *queue.Queue, jobs JobStore, src TemplateSource, exp *render.Expander, conv render.Converter, arts artifact.Store, opts ...Option) *Processor {
	p := &Processor{
		queue:      q,
		jobs:       jobs,
		templates:  src,
		expander:   exp,
		converter:  conv,
		artifacts:  arts,
		audit:      store.Nop{},
		logger:     slog.Default(),
		workers:    1,
		dateFormat: "January 02, 2006",
		now:        time.Now,
		done:       make(chan struct{}),
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Workers is the configured pool size.
func (p *Processor) Workers() int { return p.workers }

// Start launches the workers once. They exit when the queue is closed and
// drained, or when ctx is cancelled while they wait for work. A job already
// being rendered always runs to its terminal status.
func (p *Processor) Start(ctx context.Context) {
	p.once.Do(func() {
		for i := 0; i < p.workers; i++ {
			p.wg.Add(1)
			go p.loop(ctx, fmt.Sprintf("worker-%d", i+1))
		}
		go func() {
			p.wg.Wait()
			close(p.done)
		}()
	})
}

// Run starts the pool and blocks until every worker has stopped.
func (p *Processor) Run(ctx context.Context) error {
	p.Start(ctx)
	<-p.done
	if err := ctx.Err(); err != nil && !p.queue.Closed() {
		return err
	}
	return nil
}

// Done is closed after every worker has stopped.
func (p *Processor) Done() <-chan struct{} { return p.done }

func (p *Processor) loop(ctx context.Context, workerID string) {
	defer p.wg.Done()
	p.logger.Info("worker started", slog.String("worker_id", workerID))

	for {
		id, err := p.queue.Pop(ctx)
		if err != nil {
			if !errors.Is(err, queue.ErrClosed) && !errors.Is(err, context.Canceled) {
				p.logger.Error("dequeue failed", slog.String("worker_id", workerID), slog.Any("error", err))
			}
			break
		}
		telemetry.QueueDepthGauge.Set(float64(p.queue.Len()))
		p.safeProcess(context.WithoutCancel(ctx), workerID, id)
	}

	p.logger.Info("worker stopped", slog.String("worker_id", workerID))
}

// safeProcess keeps a panic outside the render path (store, audit, logging)
// from taking the worker goroutine down with it.
func (p *Processor) safeProcess(ctx context.Context, workerID, id string) {
	defer func() {
		if r := recover(); r != nil {
			telemetry.WorkerFailures.WithLabelValues(telemetry.ReasonPanic).Inc()
			p.logger.Error("job processing panicked",
				slog.String("job_id", id),
				slog.String("worker_id", workerID),
				slog.Any("panic", r),
				slog.String("stack", string(debug.Stack())))
		}
	}()
	p.Process(ctx, workerID, id)
}

// Process takes one job to a terminal status. It never panics and never
// returns an error: every failure becomes a failure result on the job.
func (p *Processor) Process(ctx context.Context, workerID, id string) {
	job, err := p.jobs.Get(id)
	if err != nil {
		p.logger.Error("dequeued unknown job", slog.String("job_id", id), slog.Any("error", err))
		return
	}
	log := p.logger.With(slog.String("job_id", id), slog.String("template", job.Template), slog.String("worker_id", workerID))

	if err := p.jobs.MarkStarted(id, workerID); err != nil {
		log.Warn("job already terminal, skipping", slog.Any("error", err))
		return
	}
	p.record(ctx, log, job, store.EventStarted, workerID)

	telemetry.InFlightGauge.Inc()
	start := p.now()
	ref, err := p.safeRender(ctx, log, job)
	telemetry.RenderDuration.Observe(p.now().Sub(start).Seconds())
	telemetry.InFlightGauge.Dec()

	res := models.Succeeded(ref)
	if err != nil {
		res = models.Failed(err)
	}
	if err := p.jobs.Complete(id, res); err != nil {
		log.Error("publish status failed", slog.Any("error", err))
		return
	}

	if res.Status == models.StatusSuccess {
		telemetry.WorkerSuccess.Inc()
		log.Info("report rendered", slog.String("artifact", ref), slog.Duration("took", p.now().Sub(start)))
		p.record(ctx, log, job, store.EventSucceeded, ref)
		return
	}
	telemetry.WorkerFailures.WithLabelValues(failureReason(err)).Inc()
	log.Error("report failed", slog.Any("error", err))
	p.record(ctx, log, job, store.EventFailed, res.Error)
}

func (p *Processor) record(ctx context.Context, log *slog.Logger, job models.Job, event, detail string) {
	if err := p.audit.AppendAudit(ctx, job.ID, job.Template, event, detail); err != nil {
		log.Warn("audit write failed", slog.String("event", event), slog.Any("error", err))
	}
}

// PanicError is a panic raised while rendering a job.
type PanicError struct {
	Value any
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("panic while rendering: %v", e.Value)
}

func (p *Processor) safeRender(ctx context.Context, log *slog.Logger, job models.Job) (ref string, retErr error) {
	defer func() {
		if r := recover(); r != nil {
			log.Error("render panicked", slog.Any("panic", r), slog.String("stack", string(debug.Stack())))
			ref, retErr = "", &PanicError{Value: r}
		}
	}()
	return p.render(ctx, job)
}

func (p *Processor) render(ctx context.Context, job models.Job) (string, error) {
	if err := p.templates.Validate(job.Template); err != nil {
		return "", err
	}
	tpl, err := p.templates.Load(job.Template)
	if err != nil {
		return "", err
	}

	content, err := datatree.FromAny(job.Data)
	if err != nil {
		return "", &render.RenderError{Part: "content", Err: err}
	}
	data := map[string]any{
		"date":      p.now().Format(p.dateFormat),
		"content":   content.Interface(),
		"font_dir":  p.fontDir,
		"font_DIR":  p.fontDir,
		"asset_dir": p.assetDir,
	}

	doc, err := p.expander.Expand(tpl.HTML, tpl.Style, tpl.Options, data)
	if err != nil {
		return "", err
	}

	ref, err := p.artifacts.Stage(ctx, job.ID, func(path string) error {
		return p.converter.Convert(ctx, doc, path)
	})
	if err != nil {
		return "", err
	}
	ok, err := p.artifacts.Exists(ctx, ref)
	if err != nil {
		return "", err
	}
	if !ok {
		_ = p.artifacts.Delete(ctx, ref)
		return "", &render.ConversionError{Output: ref, Err: errors.New("document was not created")}
	}
	return ref, nil
}

func failureReason(err error) string {
	var (
		missing  *templates.MissingError
		load     *templates.LoadError
		rerr     *render.RenderError
		conv     *render.ConversionError
		panicked *PanicError
	)
	switch {
	case errors.As(err, &missing), errors.As(err, &load):
		return telemetry.ReasonTemplate
	case errors.As(err, &rerr):
		return telemetry.ReasonRender
	case errors.As(err, &conv):
		return telemetry.ReasonConversion
	case errors.As(err, &panicked):
		return telemetry.ReasonPanic
	default:
		return telemetry.ReasonOther
	}
}
