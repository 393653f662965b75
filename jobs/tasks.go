package jobs

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// QueueExports carries report rendering work.
	QueueExports = "exports"

	// TaskExportPDF renders a tax report to PDF and stores it.
	TaskExportPDF = "tax:export_pdf"
	// TaskExportCleanup removes stored reports past their retention.
	TaskExportCleanup = "tax:export_cleanup"
)

// ErrEmptyRequest is returned when an export payload carries no request.
var ErrEmptyRequest = errors.New("jobs: export request required")

// ExportPDFPayload describes one asynchronous PDF export. Request holds the
// JSON calculation request so the queue stays agnostic of its shape.
type ExportPDFPayload struct {
	ExportID string          `json:"export_id"`
	FileName string          `json:"file_name"`
	Request  json.RawMessage `json:"request"`
}

// NewExportPDFTask constructs an Asynq task for the exports queue.
func NewExportPDFTask(payload ExportPDFPayload) (*asynq.Task, error) {
	if len(payload.Request) == 0 {
		return nil, ErrEmptyRequest
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskExportPDF, data,
		asynq.Queue(QueueExports),
		asynq.MaxRetry(3),
		asynq.Timeout(2*time.Minute),
	), nil
}

// ExportCleanupPayload tunes a cleanup run; zero values use the job defaults.
type ExportCleanupPayload struct {
	MaxAgeHours int `json:"max_age_hours,omitempty"`
}

// NewExportCleanupTask constructs the periodic cleanup task.
func NewExportCleanupTask(payload ExportCleanupPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskExportCleanup, data, asynq.Queue(QueueDefault), asynq.MaxRetry(1)), nil
}
