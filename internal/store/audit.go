package store

import (
	"context"
	"embed"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Audit events recorded over a job's life.
const (
	EventEnqueued  = "enqueued"
	EventStarted   = "started"
	EventSucceeded = "succeeded"
	EventFailed    = "failed"
	EventRetrieved = "retrieved"
	EventEvicted   = "evicted"
)

// Auditor records job lifecycle events somewhere durable. Jobs are never
// restored from it.
type Auditor interface {
	AppendAudit(ctx context.Context, jobID, template, event, detail string) error
	Close()
}

// Nop discards audit events.
type Nop struct{}

func (Nop) AppendAudit(context.Context, string, string, string, string) error { return nil }
func (Nop) Close()                                                            {}

//go:embed migrations/*.sql
var migrationFiles embed.FS

// Audit writes job events to Postgres.
type Audit struct {
	pool *pgxpool.Pool
}

// NewAudit opens a pool against dsn. An empty dsn yields a Nop auditor.
func NewAudit(ctx context.Context, dsn string) (Auditor, error) {
	if dsn == "" {
		return Nop{}, nil
	}
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	a := &Audit{pool: pool}
	if err := a.RunMigrations(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return a, nil
}

func (a *Audit) Close() {
	if a.pool != nil {
		a.pool.Close()
	}
}

// RunMigrations executes the embedded SQL migrations in name order.
func (a *Audit) RunMigrations(ctx context.Context) error {
	entries, err := migrationFiles.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("read migrations dir: %w", err)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		content, err := migrationFiles.ReadFile("migrations/" + e.Name())
		if err != nil {
			return fmt.Errorf("read migration %s: %w", e.Name(), err)
		}
		sql := strings.TrimSpace(string(content))
		if sql == "" {
			continue
		}
		if _, err := a.pool.Exec(ctx, sql); err != nil {
			return fmt.Errorf("exec migration %s: %w", e.Name(), err)
		}
	}
	return nil
}

// AppendAudit adds an audit row.
func (a *Audit) AppendAudit(ctx context.Context, jobID, template, event, detail string) error {
	_, err := a.pool.Exec(ctx, `
		INSERT INTO audit_logs (job_id, template, event, detail, ts)
		VALUES ($1, $2, $3, $4, NOW())
	`, jobID, template, event, detail)
	if err != nil {
		return fmt.Errorf("append audit %s for %s: %w", event, jobID, err)
	}
	return nil
}

// AuditEntry is one stored audit row.
type AuditEntry struct {
	JobID    string
	Template string
	Event    string
	Detail   string
	At       time.Time
}

// History returns the events recorded for a job, oldest first.
func (a *Audit) History(ctx context.Context, jobID string) ([]AuditEntry, error) {
	rows, err := a.pool.Query(ctx, `
		SELECT job_id, template, event, detail, ts FROM audit_logs
		WHERE job_id = $1 ORDER BY id
	`, jobID)
	if err != nil {
		return nil, fmt.Errorf("query audit history: %w", err)
	}
	defer rows.Close()

	var out []AuditEntry
	for rows.Next() {
		var e AuditEntry
		if err := rows.Scan(&e.JobID, &e.Template, &e.Event, &e.Detail, &e.At); err != nil {
			return nil, fmt.Errorf("scan audit row: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
