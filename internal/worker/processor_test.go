package worker

import (
	"context"
	"errors"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"report-generator/internal/artifact"
	"report-generator/internal/logging"
	"report-generator/internal/models"
	"report-generator/internal/queue"
	"report-generator/internal/render"
	"report-generator/internal/store"
	"report-generator/internal/templates"
)

type fakeTemplates map[string]*templates.Instance

func (f fakeTemplates) names() []string {
	var out []string
	for n := range f {
		out = append(out, n)
	}
	return out
}

func (f fakeTemplates) Validate(name string) error {
	if _, ok := f[name]; !ok {
		return &templates.MissingError{Name: name, Available: f.names()}
	}
	return nil
}

func (f fakeTemplates) Load(name string) (*templates.Instance, error) {
	if err := f.Validate(name); err != nil {
		return nil, err
	}
	return f[name], nil
}

type converterFunc func(ctx context.Context, doc render.Output, path string) error

func (f converterFunc) Convert(ctx context.Context, doc render.Output, path string) error {
	return f(ctx, doc, path)
}

func writeHTML(_ context.Context, doc render.Output, path string) error {
	return os.WriteFile(path, []byte("%PDF-fake\n"+doc.HTML), 0o644)
}

type harness struct {
	src   fakeTemplates
	queue *queue.Queue
	jobs  *store.Memory
	proc  *Processor
}

func newHarness(t *testing.T, conv render.Converter, workers int, opts ...Option) *harness {
	t.Helper()
	exp, err := render.NewExpander("")
	if err != nil {
		t.Fatalf("expander: %v", err)
	}
	arts, err := artifact.NewLocal(t.TempDir())
	if err != nil {
		t.Fatalf("artifacts: %v", err)
	}
	src := fakeTemplates{
		"invoice": {Name: "invoice", HTML: "<p>{{ content.customer }} owes {{ content.amount }} as of {{ date }}</p>"},
	}
	q := queue.New()
	jobs := store.NewMemory()
	clock := func() time.Time { return time.Date(2026, 10, 17, 8, 0, 0, 0, time.UTC) }
	opts = append([]Option{
		WithWorkers(workers),
		WithLogger(logging.Discard()),
		WithClock(clock),
	}, opts...)
	proc := NewProcessor(q, jobs, src, exp, conv, arts, opts...)
	return &harness{src: src, queue: q, jobs: jobs, proc: proc}
}

func (h *harness) submit(t *testing.T, id, template string, data map[string]any) {
	t.Helper()
	if err := h.jobs.Create(models.Job{ID: id, Template: template, Data: data, Status: models.StatusQueued}); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := h.queue.Push(id); err != nil {
		t.Fatalf("push: %v", err)
	}
}

func (h *harness) drain(t *testing.T) {
	t.Helper()
	h.queue.Close()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	h.proc.Start(ctx)
	select {
	case <-h.proc.Done():
	case <-ctx.Done():
		t.Fatalf("workers did not drain the queue")
	}
}

func TestProcessSuccess(t *testing.T) {
	h := newHarness(t, converterFunc(writeHTML), 1)
	h.submit(t, "job-1", "invoice", map[string]any{"customer": "Acme", "amount": 42.0})
	h.drain(t)

	job, err := h.jobs.Get("job-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if job.Status != models.StatusSuccess {
		t.Fatalf("expected success, got %s (%s)", job.Status, job.Error)
	}
	if job.WorkerID != "worker-1" || job.StartedAt == nil || job.CompletedAt == nil {
		t.Fatalf("missing bookkeeping: %+v", job)
	}
	body, err := os.ReadFile(job.ArtifactRef)
	if err != nil {
		t.Fatalf("read artifact: %v", err)
	}
	if !strings.Contains(string(body), "Acme owes 42 as of October 17, 2026") {
		t.Fatalf("unexpected document %q", body)
	}
}

func TestProcessUnknownTemplate(t *testing.T) {
	h := newHarness(t, converterFunc(writeHTML), 1)
	h.submit(t, "job-1", "does-not-exist", map[string]any{})
	h.drain(t)

	job, _ := h.jobs.Get("job-1")
	if job.Status != models.StatusFailure {
		t.Fatalf("expected failure, got %s", job.Status)
	}
	if !strings.Contains(job.Error, "does-not-exist") || !strings.Contains(job.Error, "invoice") {
		t.Fatalf("error should name the template and the available set: %q", job.Error)
	}
	if job.ArtifactRef != "" {
		t.Fatalf("failed job must not reference an artifact")
	}
}

func TestProcessMissingArtifactIsConversionFailure(t *testing.T) {
	h := newHarness(t, converterFunc(func(context.Context, render.Output, string) error { return nil }), 1)
	h.submit(t, "job-1", "invoice", map[string]any{"customer": "Acme"})
	h.drain(t)

	job, _ := h.jobs.Get("job-1")
	if job.Status != models.StatusFailure || !strings.Contains(job.Error, "document was not created") {
		t.Fatalf("expected conversion failure, got %s %q", job.Status, job.Error)
	}
}

func TestPanicsDoNotKillWorkers(t *testing.T) {
	var calls int
	var mu sync.Mutex
	conv := converterFunc(func(ctx context.Context, doc render.Output, path string) error {
		mu.Lock()
		calls++
		n := calls
		mu.Unlock()
		if n%2 == 1 {
			panic("compositor exploded")
		}
		return writeHTML(ctx, doc, path)
	})
	h := newHarness(t, conv, 1)
	for _, id := range []string{"a", "b", "c", "d"} {
		h.submit(t, id, "invoice", map[string]any{"customer": id})
	}
	h.drain(t)

	want := map[string]models.Status{"a": models.StatusFailure, "b": models.StatusSuccess, "c": models.StatusFailure, "d": models.StatusSuccess}
	for id, status := range want {
		job, _ := h.jobs.Get(id)
		if job.Status != status {
			t.Fatalf("job %s: expected %s, got %s (%s)", id, status, job.Status, job.Error)
		}
		if status == models.StatusFailure && !strings.Contains(job.Error, "compositor exploded") {
			t.Fatalf("panic text should surface, got %q", job.Error)
		}
	}
}

func TestWorkersProcessEachJobOnce(t *testing.T) {
	var mu sync.Mutex
	seen := map[string]int{}
	conv := converterFunc(func(ctx context.Context, doc render.Output, path string) error {
		mu.Lock()
		seen[path]++
		mu.Unlock()
		return writeHTML(ctx, doc, path)
	})
	h := newHarness(t, conv, 4)
	for i := 0; i < 40; i++ {
		id, err := models.NewJobID()
		if err != nil {
			t.Fatalf("id: %v", err)
		}
		h.submit(t, id, "invoice", map[string]any{"customer": id})
	}
	h.drain(t)

	if len(seen) != 40 {
		t.Fatalf("expected 40 conversions, got %d", len(seen))
	}
	for path, n := range seen {
		if n != 1 {
			t.Fatalf("%s converted %d times", path, n)
		}
	}
	if h.proc.Workers() != 4 {
		t.Fatalf("unexpected worker count %d", h.proc.Workers())
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	h := newHarness(t, converterFunc(writeHTML), 2)
	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- h.proc.Run(ctx) }()

	cancel()
	select {
	case err := <-errCh:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("expected context.Canceled, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("run did not return after cancel")
	}
}

func TestFailureReason(t *testing.T) {
	cases := map[string]error{
		"template":   &templates.MissingError{Name: "x"},
		"render":     &render.RenderError{Part: "markup", Err: errors.New("bad")},
		"conversion": &render.ConversionError{Output: "out", Err: errors.New("bad")},
		"panic":      &PanicError{Value: "boom"},
		"other":      errors.New("disk full"),
	}
	for want, err := range cases {
		if got := failureReason(err); got != want {
			t.Fatalf("failureReason(%v) = %s, want %s", err, got, want)
		}
	}
}

type panickingAuditor struct {
	mu     sync.Mutex
	events []string
}

func (a *panickingAuditor) AppendAudit(_ context.Context, jobID, _, event, _ string) error {
	a.mu.Lock()
	a.events = append(a.events, jobID+":"+event)
	a.mu.Unlock()
	if jobID == "a" && event == store.EventSucceeded {
		panic("audit sink exploded")
	}
	return nil
}

func (a *panickingAuditor) Close() {}

func TestPanicOutsideRenderKeepsWorkerAlive(t *testing.T) {
	audit := &panickingAuditor{}
	h := newHarness(t, converterFunc(writeHTML), 1, WithAuditor(audit))
	h.submit(t, "a", "invoice", map[string]any{"customer": "Acme"})
	h.submit(t, "b", "invoice", map[string]any{"customer": "Globex"})
	h.drain(t)

	for _, id := range []string{"a", "b"} {
		job, _ := h.jobs.Get(id)
		if job.Status != models.StatusSuccess {
			t.Fatalf("job %s: expected success, got %s (%s)", id, job.Status, job.Error)
		}
	}
	audit.mu.Lock()
	defer audit.mu.Unlock()
	if got := audit.events[len(audit.events)-1]; got != "b:"+store.EventSucceeded {
		t.Fatalf("second job should finish after the panic, last event %q", got)
	}
}

func TestFontDirAliases(t *testing.T) {
	h := newHarness(t, converterFunc(writeHTML), 1, WithAssetDirs("/srv/fonts", "/srv/assets"))
	h.src["fonts"] = &templates.Instance{Name: "fonts", HTML: "<p>{{ font_dir }}|{{ font_DIR }}|{{ asset_dir }}</p>"}
	h.submit(t, "job-1", "fonts", map[string]any{})
	h.drain(t)

	job, _ := h.jobs.Get("job-1")
	if job.Status != models.StatusSuccess {
		t.Fatalf("expected success, got %s (%s)", job.Status, job.Error)
	}
	body, err := os.ReadFile(job.ArtifactRef)
	if err != nil {
		t.Fatalf("read artifact: %v", err)
	}
	if !strings.Contains(string(body), "/srv/fonts|/srv/fonts|/srv/assets") {
		t.Fatalf("template did not see asset dirs: %q", body)
	}
}

func TestEmptyOutputIsConversionFailure(t *testing.T) {
	var staged string
	conv := converterFunc(func(_ context.Context, _ render.Output, path string) error {
		staged = path
		return os.WriteFile(path, nil, 0o644)
	})
	h := newHarness(t, conv, 1)
	h.submit(t, "job-1", "invoice", map[string]any{"customer": "Acme"})
	h.drain(t)

	job, _ := h.jobs.Get("job-1")
	if job.Status != models.StatusFailure || !strings.Contains(job.Error, "document was not created") {
		t.Fatalf("expected conversion failure, got %s %q", job.Status, job.Error)
	}
	if _, err := os.Stat(staged); !os.IsNotExist(err) {
		t.Fatalf("empty artifact should be removed, stat err=%v", err)
	}
}
