// Package api exposes the HTTP surface: CSV upload, JSON submission,
// batch status and details, the terminal CSV export, processed-image
// downloads, and cancellation.
package api

import (
	"log/slog"
	"net/http"

	"github.com/rs/cors"

	"github.com/Rohithcheryala/Image-Processing-API/blob"
	"github.com/Rohithcheryala/Image-Processing-API/intake"
)

// maxUploadBytes caps the multipart CSV upload size.
const maxUploadBytes = 16 << 20

// Server serves the HTTP API.
type Server struct {
	intake *intake.Service
	blobs  blob.Store
	logger *slog.Logger
	cors   *cors.Cors
}

// Option configures a Server.
type Option func(*Server)

// WithCORS overrides the default permissive CORS policy.
func WithCORS(c *cors.Cors) Option {
	return func(s *Server) { s.cors = c }
}

// NewServer creates an API server.
func NewServer(svc *intake.Service, blobs blob.Store, logger *slog.Logger, opts ...Option) *Server {
	s := &Server{
		intake: svc,
		blobs:  blobs,
		logger: logger,
		cors: cors.New(cors.Options{
			AllowedOrigins: []string{"*"},
			AllowedMethods: []string{http.MethodGet, http.MethodPost},
			AllowedHeaders: []string{"Content-Type"},
		}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handler returns the fully assembled http.Handler with all routes and
// CORS applied.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /api/upload", s.handleUpload)
	mux.HandleFunc("POST /api/batches", s.handleSubmit)
	mux.HandleFunc("GET /api/status/{id}", s.handleStatus)
	mux.HandleFunc("GET /api/details/{id}", s.handleDetails)
	mux.HandleFunc("GET /api/download/{id}", s.handleDownload)
	mux.HandleFunc("GET /api/image/{filename}", s.handleImage)
	mux.HandleFunc("POST /api/batches/{id}/cancel", s.handleCancel)
	mux.HandleFunc("GET /api/healthz", s.handleHealth)

	return s.cors.Handler(mux)
}
