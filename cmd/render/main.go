package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"report-generator/internal/config"
	"report-generator/internal/datatree"
	"report-generator/internal/logging"
	"report-generator/internal/models"
	"report-generator/internal/reports"
)

// render runs one report through the same pipeline the API uses and writes
// the document to disk.
func main() {
	var (
		template = flag.String("template", "", "template name")
		dataPath = flag.String("data", "-", "content file (.json, .yaml or .yml); - reads JSON from stdin")
		outPath  = flag.String("out", "", "output path (default report_<id>.pdf)")
		list     = flag.Bool("list", false, "list installed templates and exit")
	)
	flag.Parse()

	cfg := config.Load()
	cfg.WorkerCount = 1
	cfg.JobRetention = 0
	logger, logFile, err := logging.New("", cfg.LogLevel)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer logFile.Close()

	if err := run(cfg, logger, *template, *dataPath, *outPath, *list); err != nil {
		logger.Error("render failed", slog.Any("error", err))
		os.Exit(1)
	}
}

func run(cfg config.Config, logger *slog.Logger, template, dataPath, outPath string, list bool) error {
	ctx := context.Background()
	svc, closeSvc, err := reports.FromConfig(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeSvc()

	if list {
		names, err := svc.Templates()
		if err != nil {
			return err
		}
		fmt.Println(strings.Join(names, "\n"))
		return nil
	}
	if template == "" {
		return fmt.Errorf("-template is required")
	}
	content, err := readContent(dataPath)
	if err != nil {
		return err
	}

	id, err := svc.Submit(ctx, template, content)
	if err != nil {
		return err
	}
	svc.Start(ctx)
	if err := svc.Shutdown(ctx); err != nil {
		return err
	}

	job, body, err := svc.Retrieve(ctx, id)
	if err != nil {
		return err
	}
	if job.Status != models.StatusSuccess {
		return fmt.Errorf("job %s: %s", id, job.Error)
	}
	if outPath == "" {
		outPath = fmt.Sprintf("report_%s.pdf", id)
	}
	if err := os.WriteFile(outPath, body, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", outPath, err)
	}
	logger.Info("report written", slog.String("job_id", id), slog.String("path", outPath), slog.Int("bytes", len(body)))
	return nil
}

func readContent(path string) (map[string]any, error) {
	var raw []byte
	var err error
	if path == "-" {
		raw, err = io.ReadAll(os.Stdin)
	} else {
		raw, err = os.ReadFile(path)
	}
	if err != nil {
		return nil, fmt.Errorf("read content: %w", err)
	}

	var tree datatree.Value
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		var doc any
		if err := yaml.Unmarshal(raw, &doc); err != nil {
			return nil, fmt.Errorf("parse yaml content: %w", err)
		}
		tree, err = datatree.FromAny(doc)
	default:
		tree, err = datatree.Decode(raw)
	}
	if err != nil {
		return nil, err
	}
	if tree.Kind() != datatree.Map {
		return nil, fmt.Errorf("content must be an object, got %s", tree.Kind())
	}
	content, _ := tree.Interface().(map[string]any)
	return content, nil
}
