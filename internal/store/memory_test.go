package store

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"report-generator/internal/models"
)

func newJob(t *testing.T, m *Memory, id string) {
	t.Helper()
	if err := m.Create(models.Job{ID: id, Template: "invoice", Status: models.StatusQueued}); err != nil {
		t.Fatalf("create %s: %v", id, err)
	}
}

func TestCreateAndGet(t *testing.T) {
	m := NewMemory()
	newJob(t, m, "a")

	job, err := m.Get("a")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if job.Status != models.StatusQueued || job.CreatedAt.IsZero() {
		t.Fatalf("unexpected job %+v", job)
	}
	if err := m.Create(models.Job{ID: "a"}); !errors.Is(err, ErrExists) {
		t.Fatalf("expected ErrExists, got %v", err)
	}
	if _, err := m.Get("missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestCompleteOnlyOnce(t *testing.T) {
	m := NewMemory()
	newJob(t, m, "a")

	if err := m.MarkStarted("a", "worker-1"); err != nil {
		t.Fatalf("mark started: %v", err)
	}
	if err := m.Complete("a", models.Succeeded("trays/report_a.pdf")); err != nil {
		t.Fatalf("complete: %v", err)
	}
	job, _ := m.Get("a")
	if job.Status != models.StatusSuccess || job.ArtifactRef != "trays/report_a.pdf" || job.WorkerID != "worker-1" || job.CompletedAt == nil {
		t.Fatalf("unexpected job %+v", job)
	}

	if err := m.Complete("a", models.Failed(errors.New("late"))); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
	if err := m.MarkStarted("a", "worker-2"); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
	if err := m.Complete("a", models.Result{Status: models.StatusQueued}); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("non-terminal result should be rejected, got %v", err)
	}
}

func TestUpdateCommitsOnlyOnSuccess(t *testing.T) {
	m := NewMemory()
	newJob(t, m, "a")
	_ = m.Complete("a", models.Succeeded("ref"))

	_, err := m.Update("a", func(job *models.Job) error {
		job.ArtifactRef = ""
		job.Encoded = "partial"
		return errors.New("disk on fire")
	})
	if err == nil {
		t.Fatalf("expected fn error")
	}
	job, _ := m.Get("a")
	if job.ArtifactRef != "ref" || job.Encoded != "" {
		t.Fatalf("failed update leaked into store: %+v", job)
	}

	updated, err := m.Update("a", func(job *models.Job) error {
		job.ArtifactRef = ""
		job.Encoded = "JVBERg=="
		return nil
	})
	if err != nil || updated.Encoded != "JVBERg==" {
		t.Fatalf("update: %+v %v", updated, err)
	}
	if job, _ := m.Get("a"); !job.Consumed() {
		t.Fatalf("expected consumed job, got %+v", job)
	}
}

func TestUpdateSerializesPerJob(t *testing.T) {
	m := NewMemory()
	newJob(t, m, "a")

	var active, maxActive int32
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = m.Update("a", func(*models.Job) error {
				n := atomic.AddInt32(&active, 1)
				for {
					cur := atomic.LoadInt32(&maxActive)
					if n <= cur || atomic.CompareAndSwapInt32(&maxActive, cur, n) {
						break
					}
				}
				time.Sleep(time.Millisecond)
				atomic.AddInt32(&active, -1)
				return nil
			})
		}()
	}
	wg.Wait()
	if maxActive != 1 {
		t.Fatalf("expected serialized updates, saw %d concurrent", maxActive)
	}
}

func TestEvictTerminal(t *testing.T) {
	m := NewMemory()
	base := time.Date(2026, 10, 17, 12, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return base }

	newJob(t, m, "old")
	newJob(t, m, "pending")
	_ = m.Complete("old", models.Failed(errors.New("boom")))

	m.now = func() time.Time { return base.Add(time.Hour) }
	newJob(t, m, "fresh")
	_ = m.Complete("fresh", models.Succeeded("ref"))

	evicted := m.EvictTerminal(base.Add(30 * time.Minute))
	if len(evicted) != 1 || evicted[0].ID != "old" {
		t.Fatalf("unexpected eviction %+v", evicted)
	}
	if m.Len() != 2 {
		t.Fatalf("expected 2 tracked jobs, got %d", m.Len())
	}
	if _, err := m.Get("old"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("evicted job should be gone")
	}
}

func TestEvictDoesNotStallCreateDuringSlowUpdate(t *testing.T) {
	m := NewMemory()
	base := time.Date(2026, 10, 17, 12, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return base }
	newJob(t, m, "a")
	_ = m.Complete("a", models.Succeeded("ref"))

	inUpdate := make(chan struct{})
	release := make(chan struct{})
	updated := make(chan struct{})
	go func() {
		defer close(updated)
		_, _ = m.Update("a", func(job *models.Job) error {
			close(inUpdate)
			<-release
			job.ArtifactRef = ""
			job.Encoded = "JVBERg=="
			return nil
		})
	}()
	<-inUpdate

	evicted := make(chan []models.Job, 1)
	go func() { evicted <- m.EvictTerminal(base.Add(time.Hour)) }()
	time.Sleep(20 * time.Millisecond)

	created := make(chan error, 1)
	go func() { created <- m.Create(models.Job{ID: "b", Status: models.StatusQueued}) }()
	select {
	case err := <-created:
		if err != nil {
			t.Fatalf("create: %v", err)
		}
	case <-time.After(time.Second):
		close(release)
		t.Fatalf("create stalled behind an in-flight update on another job")
	}
	if _, err := m.Get("b"); err != nil {
		t.Fatalf("get: %v", err)
	}

	close(release)
	<-updated
	select {
	case jobs := <-evicted:
		if len(jobs) != 1 || jobs[0].ID != "a" || jobs[0].Encoded != "JVBERg==" {
			t.Fatalf("expected a evicted with its latest state, got %+v", jobs)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("eviction never finished")
	}
	if m.Len() != 1 {
		t.Fatalf("expected only b to remain, got %d", m.Len())
	}
}
