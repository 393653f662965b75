package report

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
)

// PreviewFunc produces the HTML of a demonstration report.
type PreviewFunc func(ctx context.Context) (string, error)

// Handler manages report endpoints.
type Handler struct {
	client  *Client
	preview PreviewFunc
	logger  *slog.Logger
}

// NewHandler creates a report handler. preview may be nil, in which case the
// sample route is not mounted.
func NewHandler(client *Client, preview PreviewFunc, logger *slog.Logger) *Handler {
	return &Handler{client: client, preview: preview, logger: logger}
}

// MountRoutes registers report routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/ping", h.ping)
	if h.preview != nil {
		r.Get("/sample", h.sample)
	}
}

func (h *Handler) ping(w http.ResponseWriter, r *http.Request) {
	if err := h.client.Ping(r.Context()); err != nil {
		h.logger.Warn("gotenberg ping failed", slog.Any("error", err))
		http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

func (h *Handler) sample(w http.ResponseWriter, r *http.Request) {
	html, err := h.preview(r.Context())
	if err != nil {
		h.logger.Error("build sample report", slog.Any("error", err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}
	pdf, err := h.client.RenderHTML(r.Context(), html)
	if err != nil {
		h.logger.Error("render sample pdf", slog.Any("error", err))
		http.Error(w, http.StatusText(http.StatusBadGateway), http.StatusBadGateway)
		return
	}
	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition", "inline; filename=tasse_soggiorno_esempio.pdf")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(pdf)
}
