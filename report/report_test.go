package report

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"
)

func fakeGotenberg(t *testing.T, healthy bool) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/health":
			if !healthy {
				w.WriteHeader(http.StatusServiceUnavailable)
				return
			}
			_, _ = w.Write([]byte(`{"status":"up"}`))
		case "/forms/chromium/convert/html":
			if !healthy {
				http.Error(w, "chromium down", http.StatusServiceUnavailable)
				return
			}
			if err := r.ParseMultipartForm(1 << 20); err != nil {
				t.Errorf("parse multipart: %v", err)
			}
			_, header, err := r.FormFile("files")
			if err != nil || header.Filename != "index.html" {
				t.Errorf("expected index.html upload, got %v %v", header, err)
			}
			_, _ = w.Write([]byte("%PDF"))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestClientRenderHTML(t *testing.T) {
	srv := fakeGotenberg(t, true)
	client := NewClient(srv.URL + "/")
	require.NoError(t, client.Ping(context.Background()))
	pdf, err := client.RenderHTML(context.Background(), "<html><body>ok</body></html>")
	require.NoError(t, err)
	require.Equal(t, "%PDF", string(pdf))
}

func TestClientSurfacesFailures(t *testing.T) {
	srv := fakeGotenberg(t, false)
	client := NewClient(srv.URL)
	require.Error(t, client.Ping(context.Background()))
	_, err := client.RenderHTML(context.Background(), "<html></html>")
	require.ErrorContains(t, err, "chromium down")

	_, err = NewClient("").RenderHTML(context.Background(), "<html></html>")
	require.Error(t, err)
}

func TestHandlerRoutes(t *testing.T) {
	srv := fakeGotenberg(t, true)
	preview := func(context.Context) (string, error) { return "<html>sample</html>", nil }
	h := NewHandler(NewClient(srv.URL), preview, slog.New(slog.NewTextHandler(io.Discard, nil)))
	router := chi.NewRouter()
	h.MountRoutes(router)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ping", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/sample", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "application/pdf", rec.Header().Get("Content-Type"))
	require.Equal(t, "%PDF", rec.Body.String())
}
