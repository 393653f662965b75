package calchttp

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/httprate"

	"github.com/tassa-soggiorno/tassa/internal/platform/httpx"
)

const (
	exportRateLimit  = 20
	exportRateWindow = time.Minute
)

// MountRoutes registers the tax endpoints. Exports share one rate limit.
func (h *Handler) MountRoutes(r chi.Router) {
	if h == nil {
		return
	}
	r.Get("/presets", h.handlePresets)
	r.Post("/calculate", h.handleCalculate)

	limiter := httprate.Limit(exportRateLimit, exportRateWindow,
		httprate.WithKeyFuncs(rateLimitKey),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			httpx.Problem(w, http.StatusTooManyRequests, "Too Many Requests", "export rate limit exceeded")
		}),
	)
	r.Group(func(gr chi.Router) {
		gr.Use(limiter)
		gr.Post("/export.csv", h.handleExportCSV)
		gr.Post("/export.pdf", h.handleExportPDF)
		gr.Post("/export/jobs", h.handleEnqueueExport)
	})
}

func rateLimitKey(r *http.Request) (string, error) {
	key, err := httprate.KeyByIP(r)
	if err != nil {
		return "", err
	}
	return "tax-export:" + key, nil
}
