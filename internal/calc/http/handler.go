package calchttp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"mime"
	"net/http"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/shopspring/decimal"

	"github.com/tassa-soggiorno/tassa/internal/booking"
	"github.com/tassa-soggiorno/tassa/internal/calc"
	"github.com/tassa-soggiorno/tassa/internal/export"
	"github.com/tassa-soggiorno/tassa/internal/levy"
	"github.com/tassa-soggiorno/tassa/internal/platform/httpx"
	"github.com/tassa-soggiorno/tassa/jobs"
)

const maxBodyBytes = 10 << 20

// Service runs calculations.
type Service interface {
	Calculate(ctx context.Context, req calc.Request) (calc.Result, error)
	Defaults() calc.PolicyInput
}

// Renderer converts documents to PDF.
type Renderer interface {
	Render(ctx context.Context, doc export.Document) (export.RenderResult, error)
}

// Enqueuer submits asynchronous PDF exports.
type Enqueuer interface {
	EnqueueExportPDF(ctx context.Context, payload jobs.ExportPDFPayload) (*asynq.TaskInfo, error)
}

// Handler serves the tax calculation endpoints.
type Handler struct {
	logger   *slog.Logger
	service  Service
	renderer Renderer
	queue    Enqueuer
	newID    func() string
}

// NewHandler builds the handler. renderer and queue may be nil, in which case
// the PDF endpoints answer 503.
func NewHandler(logger *slog.Logger, service Service, renderer Renderer, queue Enqueuer) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		logger:   logger,
		service:  service,
		renderer: renderer,
		queue:    queue,
		newID:    uuid.NewString,
	}
}

type presetsResponse struct {
	Default  string           `json:"default"`
	Defaults calc.PolicyInput `json:"defaults"`
	Presets  []levy.Preset    `json:"presets"`
}

func (h *Handler) handlePresets(w http.ResponseWriter, r *http.Request) {
	httpx.JSON(w, http.StatusOK, presetsResponse{
		Default:  levy.DefaultPresetKey,
		Defaults: h.service.Defaults(),
		Presets:  levy.Presets,
	})
}

func (h *Handler) handleCalculate(w http.ResponseWriter, r *http.Request) {
	result, ok := h.calculate(w, r)
	if !ok {
		return
	}
	w.Header().Set("X-Run-ID", result.RunID)
	httpx.JSON(w, http.StatusOK, result)
}

func (h *Handler) handleExportCSV(w http.ResponseWriter, r *http.Request) {
	sep, err := export.ParseSeparator(r.URL.Query().Get("sep"))
	if err != nil {
		httpx.RespondError(w, fmt.Errorf("%w: %w", httpx.ErrValidation, err))
		return
	}
	result, ok := h.calculate(w, r)
	if !ok {
		return
	}
	doc := result.Document
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", doc.FileName("csv")))
	w.Header().Set("X-Run-ID", result.RunID)
	if err := export.WriteCSV(w, doc, sep); err != nil {
		h.logger.Error("write tax csv", slog.String("run_id", result.RunID), slog.Any("error", err))
	}
}

func (h *Handler) handleExportPDF(w http.ResponseWriter, r *http.Request) {
	if h.renderer == nil {
		httpx.RespondError(w, fmt.Errorf("%w: pdf renderer not configured", httpx.ErrUnavailable))
		return
	}
	result, ok := h.calculate(w, r)
	if !ok {
		return
	}
	rendered, err := h.renderer.Render(r.Context(), result.Document)
	if err != nil {
		h.logger.Error("render tax pdf", slog.String("run_id", result.RunID), slog.Any("error", err))
		h.respondError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", result.Document.FileName("pdf")))
	w.Header().Set("Content-Length", strconv.FormatInt(rendered.Length, 10))
	w.Header().Set("X-Run-ID", result.RunID)
	_, _ = w.Write(rendered.PDF)
}

type enqueueResponse struct {
	ExportID string `json:"export_id"`
	TaskID   string `json:"task_id"`
	Queue    string `json:"queue"`
	FileName string `json:"file_name,omitempty"`
}

func (h *Handler) handleEnqueueExport(w http.ResponseWriter, r *http.Request) {
	if h.queue == nil {
		httpx.RespondError(w, fmt.Errorf("%w: export queue not configured", httpx.ErrUnavailable))
		return
	}
	req, err := h.decodeRequest(w, r)
	if err != nil {
		h.respondError(w, err)
		return
	}
	if _, err := req.Policy.Merge(h.service.Defaults()).Resolve(); err != nil {
		h.respondError(w, err)
		return
	}
	fileName, err := calc.ExportFileName(r.URL.Query().Get("file"))
	if err != nil {
		h.respondError(w, err)
		return
	}
	raw, err := json.Marshal(req)
	if err != nil {
		h.respondError(w, err)
		return
	}
	payload := jobs.ExportPDFPayload{
		ExportID: h.newID(),
		FileName: fileName,
		Request:  raw,
	}
	info, err := h.queue.EnqueueExportPDF(r.Context(), payload)
	if err != nil {
		h.logger.Error("enqueue tax export", slog.String("export_id", payload.ExportID), slog.Any("error", err))
		httpx.RespondError(w, fmt.Errorf("%w: %v", httpx.ErrUnavailable, err))
		return
	}
	httpx.JSON(w, http.StatusAccepted, enqueueResponse{
		ExportID: payload.ExportID,
		TaskID:   info.ID,
		Queue:    info.Queue,
		FileName: payload.FileName,
	})
}

func (h *Handler) calculate(w http.ResponseWriter, r *http.Request) (calc.Result, bool) {
	req, err := h.decodeRequest(w, r)
	if err != nil {
		h.respondError(w, err)
		return calc.Result{}, false
	}
	result, err := h.service.Calculate(r.Context(), req)
	if err != nil {
		if !calc.IsInvalid(err) {
			h.logger.Error("tax calculation failed", slog.Any("error", err))
		}
		h.respondError(w, err)
		return calc.Result{}, false
	}
	return result, true
}

// decodeRequest accepts either a JSON calculation request or a raw CSV sheet.
// For CSV bodies the policy and title come from query parameters.
func (h *Handler) decodeRequest(w http.ResponseWriter, r *http.Request) (calc.Request, error) {
	body := http.MaxBytesReader(w, r.Body, maxBodyBytes)
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	switch mediaType {
	case "text/csv", "text/plain":
		sheet, err := booking.ReadSheet(body)
		if err != nil {
			return calc.Request{}, decodeError(err)
		}
		policy, err := policyFromQuery(r)
		if err != nil {
			return calc.Request{}, err
		}
		return calc.Request{
			Title:   r.URL.Query().Get("title"),
			Headers: sheet.Headers,
			Rows:    sheet.Rows,
			Policy:  policy,
		}, nil
	case "", "application/json":
		var req calc.Request
		dec := json.NewDecoder(body)
		dec.UseNumber()
		if err := dec.Decode(&req); err != nil {
			return calc.Request{}, decodeError(err)
		}
		return req, nil
	default:
		return calc.Request{}, fmt.Errorf("%w: unsupported content type %q", httpx.ErrValidation, mediaType)
	}
}

func decodeError(err error) error {
	var tooLarge *http.MaxBytesError
	switch {
	case errors.As(err, &tooLarge):
		return fmt.Errorf("%w: limit is %d bytes", httpx.ErrTooLarge, tooLarge.Limit)
	case errors.Is(err, booking.ErrEmptySheet):
		return fmt.Errorf("%w: %w", httpx.ErrUnprocessable, err)
	default:
		return fmt.Errorf("%w: malformed body: %v", httpx.ErrValidation, err)
	}
}

func policyFromQuery(r *http.Request) (calc.PolicyInput, error) {
	q := r.URL.Query()
	in := calc.PolicyInput{
		Structure: q.Get("structure"),
		Bucketing: q.Get("bucketing"),
	}
	if v := q.Get("rate"); v != "" {
		rate, err := decimal.NewFromString(strings.ReplaceAll(v, ",", "."))
		if err != nil {
			return in, fmt.Errorf("%w: rate %q is not a number", httpx.ErrValidation, v)
		}
		in.Rate = &rate
	}
	for name, dst := range map[string]**int{"max_nights": &in.MaxNights, "min_age": &in.MinAge} {
		v := q.Get(name)
		if v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return in, fmt.Errorf("%w: %s %q is not an integer", httpx.ErrValidation, name, v)
		}
		*dst = &n
	}
	if v := q.Get("liable"); v != "" {
		in.LiableStatuses = splitList(v)
	}
	in.ExemptNames = q["exempt"]
	return in, nil
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// respondError translates calculation and rendering failures into problem
// documents: request problems are 400, unusable bookings 422, renderer 502.
func (h *Handler) respondError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, httpx.ErrValidation), errors.Is(err, httpx.ErrUnprocessable),
		errors.Is(err, httpx.ErrTooLarge), errors.Is(err, httpx.ErrUnavailable):
		httpx.RespondError(w, err)
	case errors.Is(err, export.ErrRender):
		httpx.RespondError(w, fmt.Errorf("%w: %v", httpx.ErrUpstream, err))
	default:
		switch calc.ErrorKind(err) {
		case "invalid_request":
			httpx.RespondError(w, fmt.Errorf("%w: %v", httpx.ErrValidation, err))
		case "missing_field", "invalid_date_range", "invalid_value":
			httpx.RespondError(w, fmt.Errorf("%w: %v", httpx.ErrUnprocessable, err))
		default:
			httpx.RespondError(w, err)
		}
	}
}
