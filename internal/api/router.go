// Package api exposes upload, status and download endpoints over HTTP.
package api

import (
	"context"
	"io"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/cors"
	"github.com/rs/zerolog"

	"github.com/Mozzicato/Lumen/internal/document"
	"github.com/Mozzicato/Lumen/internal/filetype"
	"github.com/Mozzicato/Lumen/internal/logger"
	"github.com/Mozzicato/Lumen/internal/metrics"
	"github.com/Mozzicato/Lumen/internal/statuscheck"
)

type Store interface {
	Create(ctx context.Context, d document.Document) error
	Get(ctx context.Context, id string) (document.Document, bool, error)
	List(ctx context.Context, limit int) ([]document.Document, error)
}

type Queue interface {
	Enqueue(ctx context.Context, documentID string) error
}

// Uploads stores uploaded files locally.
type Uploads interface {
	Save(id, name string, r io.Reader) (string, error)
	Remove(path string) error
}

// Archiver copies an upload to durable storage.
type Archiver interface {
	Archive(ctx context.Context, key, path, contentType string, meta map[string]string) (string, error)
}

type SourceResolver interface {
	Resolve(ctx context.Context, ref string) (string, func(), error)
}

type Readiness interface {
	Summary(ctx context.Context) statuscheck.Summary
}

type Dependencies struct {
	Store          Store
	Queue          Queue
	Uploads        Uploads
	Archive        Archiver       // optional
	Sources        SourceResolver // optional; enables remote imports
	Detector       *filetype.Detector
	PageCount      func(path string) (int, error)
	Ready          Readiness // optional
	MaxUploadBytes int64
}

type Handler struct {
	deps  Dependencies
	log   zerolog.Logger
	now   func() time.Time
	newID func() string
}

func NewHandler(deps Dependencies) *Handler {
	if deps.Detector == nil {
		deps.Detector = filetype.New()
	}
	if deps.MaxUploadBytes <= 0 {
		deps.MaxUploadBytes = 50 << 20
	}
	return &Handler{
		deps:  deps,
		log:   logger.For("api"),
		now:   func() time.Time { return time.Now().UTC() },
		newID: newDocumentID,
	}
}

// NewRouter creates the HTTP router with all routes configured
func NewRouter(h *Handler) http.Handler {
	router := mux.NewRouter()
	router.Use(h.logRequests)

	router.HandleFunc("/", h.Welcome).Methods(http.MethodGet)
	router.HandleFunc("/health", h.Health).Methods(http.MethodGet)
	router.HandleFunc("/ready", h.Ready).Methods(http.MethodGet)
	router.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)

	api := router.PathPrefix("/api").Subrouter()
	api.HandleFunc("/upload", h.Upload).Methods(http.MethodPost)
	api.HandleFunc("/documents/import", h.Import).Methods(http.MethodPost)
	api.HandleFunc("/documents", h.ListDocuments).Methods(http.MethodGet)
	api.HandleFunc("/documents/{id}", h.GetDocument).Methods(http.MethodGet)
	api.HandleFunc("/documents/{id}/download", h.Download).Methods(http.MethodGet)

	c := cors.New(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{
			http.MethodGet,
			http.MethodPost,
			http.MethodOptions,
		},
		AllowedHeaders: []string{"*"},
		ExposedHeaders: []string{"Content-Disposition"},
		MaxAge:         300,
	})

	return c.Handler(router)
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (h *Handler) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		if r.URL.Path == "/metrics" || r.URL.Path == "/health" {
			return
		}
		h.log.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", rec.status).
			Dur("took", time.Since(start)).
			Msg("http request")
	})
}
