package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/tassa-soggiorno/tassa/internal/jobs"
)

var defaultJobMetrics = jobmetrics.NewMetrics(nil)

// ExportCleanupJob deletes stored report files older than the retention.
type ExportCleanupJob struct {
	Dir       string
	Retention time.Duration
	Logger    *slog.Logger
	Metrics   *jobmetrics.Metrics
	clock     func() time.Time
}

// NewExportCleanupJob wires dependencies for the cleanup handler.
func NewExportCleanupJob(dir string, retention time.Duration, logger *slog.Logger, metrics *jobmetrics.Metrics) *ExportCleanupJob {
	return &ExportCleanupJob{
		Dir:       dir,
		Retention: retention,
		Logger:    logger,
		Metrics:   metrics,
		clock: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// Handle processes cleanup tasks.
func (j *ExportCleanupJob) Handle(ctx context.Context, t *asynq.Task) (resultErr error) {
	if j == nil || strings.TrimSpace(j.Dir) == "" {
		return errors.New("export cleanup: handler not configured")
	}
	var payload ExportCleanupPayload
	if len(t.Payload()) > 0 {
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return asynq.SkipRetry
		}
	}
	retention := j.Retention
	if payload.MaxAgeHours > 0 {
		retention = time.Duration(payload.MaxAgeHours) * time.Hour
	}
	if retention <= 0 {
		return nil
	}

	tracker := j.metrics().Track(TaskExportCleanup)
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	removed, err := j.Sweep(ctx, j.now().Add(-retention))
	if err != nil {
		return err
	}
	j.logger().Info("export cleanup done", slog.Int("removed", removed), slog.Duration("retention", retention))
	return nil
}

// Sweep removes report files in Dir last modified before cutoff.
func (j *ExportCleanupJob) Sweep(ctx context.Context, cutoff time.Time) (int, error) {
	entries, err := os.ReadDir(j.Dir)
	if errors.Is(err, os.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	removed := 0
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return removed, err
		}
		if entry.IsDir() || !isReportFile(entry.Name()) {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if info.ModTime().After(cutoff) {
			continue
		}
		if err := os.Remove(filepath.Join(j.Dir, entry.Name())); err != nil && !errors.Is(err, os.ErrNotExist) {
			return removed, err
		}
		removed++
	}
	return removed, nil
}

func isReportFile(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	return ext == ".pdf" || ext == ".csv"
}

func (j *ExportCleanupJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger.With(slog.String("job", TaskExportCleanup))
	}
	return slog.Default().With(slog.String("job", TaskExportCleanup))
}

func (j *ExportCleanupJob) metrics() *jobmetrics.Metrics {
	if j.Metrics != nil {
		return j.Metrics
	}
	return defaultJobMetrics
}

func (j *ExportCleanupJob) now() time.Time {
	if j.clock != nil {
		return j.clock()
	}
	return time.Now().UTC()
}
