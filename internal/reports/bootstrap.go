package reports

import (
	"context"
	"fmt"
	"log/slog"

	"report-generator/internal/artifact"
	"report-generator/internal/config"
	"report-generator/internal/render"
	"report-generator/internal/store"
	"report-generator/internal/templates"
)

// FromConfig builds a service and its collaborators from process config,
// running the startup preflight first. The returned close func releases the
// audit pool.
func FromConfig(ctx context.Context, cfg config.Config, logger *slog.Logger) (*Service, func(), error) {
	mode, err := templates.ParseMode(cfg.TemplateMode)
	if err != nil {
		return nil, nil, err
	}
	loader := templates.NewLoader(cfg.TemplateDir, mode)
	names, err := Preflight(loader, cfg.FontDir, cfg.AssetDir)
	if err != nil {
		return nil, nil, err
	}
	logger.Info("startup verification completed",
		slog.String("template_dir", cfg.TemplateDir),
		slog.String("mode", string(mode)),
		slog.Any("templates", names),
	)

	includeDir := ""
	if mode == templates.ModeDirectory {
		includeDir = cfg.TemplateDir
	}
	exp, err := render.NewExpander(includeDir)
	if err != nil {
		return nil, nil, err
	}
	conv, err := render.NewConverter(cfg.RenderEngine, cfg.RenderCommand, cfg.FontDir, cfg.RenderTimeout)
	if err != nil {
		return nil, nil, err
	}
	arts, err := artifact.New(ctx, cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("artifact store: %w", err)
	}
	audit, err := store.NewAudit(ctx, cfg.PostgresDSN)
	if err != nil {
		return nil, nil, err
	}

	svc := New(Config{
		Workers:         cfg.WorkerCount,
		DateFormat:      cfg.DateFormat,
		FontDir:         cfg.FontDir,
		AssetDir:        cfg.AssetDir,
		Retention:       cfg.JobRetention,
		JanitorInterval: cfg.JanitorInterval,
	}, Deps{
		Templates: loader,
		Expander:  exp,
		Converter: conv,
		Artifacts: arts,
		Audit:     audit,
		Logger:    logger,
	})
	return svc, audit.Close, nil
}
