package calc

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/hibiken/asynq"

	"github.com/tassa-soggiorno/tassa/internal/export"
	jobmetrics "github.com/tassa-soggiorno/tassa/internal/jobs"
	"github.com/tassa-soggiorno/tassa/jobs"
)

// ExportJobConfig wires dependencies required by the PDF export worker job.
type ExportJobConfig struct {
	Service    *Service
	Renderer   *export.Renderer
	StorageDir string
	Logger     *slog.Logger
	Metrics    *jobmetrics.Metrics
}

// ExportJob renders queued calculations to PDF files in the storage dir.
type ExportJob struct {
	service    *Service
	renderer   *export.Renderer
	storageDir string
	logger     *slog.Logger
	metrics    *jobmetrics.Metrics
}

// NewExportJob constructs an ExportJob handler.
func NewExportJob(cfg ExportJobConfig) *ExportJob {
	return &ExportJob{
		service:    cfg.Service,
		renderer:   cfg.Renderer,
		storageDir: cfg.StorageDir,
		logger:     cfg.Logger,
		metrics:    cfg.Metrics,
	}
}

// Handle fulfils the asynq.HandlerFunc contract. Invalid input is not retried.
func (j *ExportJob) Handle(ctx context.Context, task *asynq.Task) (resultErr error) {
	if j == nil || j.service == nil || j.renderer == nil {
		return fmt.Errorf("export job not configured")
	}
	var payload jobs.ExportPDFPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	var req Request
	if err := json.Unmarshal(payload.Request, &req); err != nil {
		return asynq.SkipRetry
	}
	fileName, err := ExportFileName(payload.FileName)
	if err != nil {
		return fmt.Errorf("%w: %w", asynq.SkipRetry, err)
	}

	tracker := j.metrics.Track(jobs.TaskExportPDF)
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	result, err := j.service.Calculate(ctx, req)
	if err != nil {
		if IsInvalid(err) {
			return fmt.Errorf("%w: %w", asynq.SkipRetry, err)
		}
		return err
	}
	rendered, err := j.renderer.Render(ctx, result.Document)
	if err != nil {
		return err
	}
	if fileName == "" {
		fileName = result.Document.FileName("pdf")
	}
	path, err := j.save(fileName, rendered.PDF)
	if err != nil {
		return err
	}
	j.metrics.AddExported("pdf", rendered.Length)
	if j.logger != nil {
		j.logger.Info("tax report exported",
			slog.String("export_id", payload.ExportID),
			slog.String("run_id", result.RunID),
			slog.String("file", path),
		)
	}
	return nil
}

// ExportFileName reduces a caller-supplied export name to its base name. A
// blank name returns "" so the document default applies; names without a
// usable base ("..", "/") are rejected.
func ExportFileName(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", nil
	}
	base := filepath.Base(filepath.Clean(name))
	if base == "." || base == ".." || base == string(filepath.Separator) || strings.ContainsRune(base, 0) {
		return "", invalid(fmt.Sprintf("export file name %q", name))
	}
	return base, nil
}

func (j *ExportJob) save(name string, pdf []byte) (string, error) {
	dir := j.storageDir
	if strings.TrimSpace(dir) == "" {
		dir = filepath.Join(os.TempDir(), "tassa-exports")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, pdf, 0o644); err != nil {
		return "", err
	}
	return path, nil
}
