// Package api exposes band runs over HTTP and streams finished runs over websocket.
package api

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"
	"github.com/rs/cors"

	"price-band-lab/internal/bands"
	"price-band-lab/internal/domain"
	"price-band-lab/internal/observability"
	"price-band-lab/internal/pipeline"
	"price-band-lab/internal/reporting"
	"price-band-lab/internal/storage"
	"price-band-lab/internal/verification"
)

// Options configures the Server.
type Options struct {
	Runner           *pipeline.Runner
	ObservationStore storage.ObservationStore
	RunStore         storage.RunStore
	BandStore        storage.BandStore
	Hub              *Hub
	Engine           bands.Engine // used to replay runs on /verify
	Metrics          *observability.Metrics
	Logger           *slog.Logger

	// Defaults applied when a run request omits them.
	DefaultLevel domain.Level
	DefaultK     float64

	AllowedOrigins []string
	ReadTimeout    time.Duration
	RequestTimeout time.Duration
}

// Server serves the HTTP API.
type Server struct {
	opts     Options
	reports  *reporting.Generator
	verifier *verification.Verifier
	log      *slog.Logger
}

// NewServer creates a Server.
func NewServer(opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if opts.DefaultLevel == "" {
		opts.DefaultLevel = domain.LevelGroup
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 60 * time.Second
	}

	s := &Server{
		opts: opts,
		log:  observability.Component(logger, "api"),
	}
	if opts.RunStore != nil && opts.BandStore != nil {
		s.reports = reporting.NewGenerator(opts.RunStore, opts.BandStore)
		if opts.ObservationStore != nil {
			s.verifier = verification.NewVerifier(opts.ObservationStore, opts.RunStore, opts.BandStore, opts.Engine)
		}
	}
	return s
}

// Handler builds the router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.health)
	if s.opts.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.opts.Metrics.Handler())
	}

	r.Route("/api/v1", func(r chi.Router) {
		if s.opts.Hub != nil {
			r.Method(http.MethodGet, "/stream", s.opts.Hub)
		}

		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(s.opts.RequestTimeout))
			r.Use(render.SetContentType(render.ContentTypeJSON))

			r.Get("/keys", s.listKeys)
			r.Route("/runs", func(r chi.Router) {
				r.Post("/", s.createRun)
				r.Get("/", s.listRuns)
				r.Route("/{runID}", func(r chi.Router) {
					r.Get("/", s.getRun)
					r.Get("/bands", s.getBands)
					r.Get("/summary", s.getSummary)
					r.Get("/report", s.getReport)
					r.Get("/verify", s.verifyRun)
				})
			})
		})
	})

	return cors.New(cors.Options{
		AllowedOrigins: s.opts.AllowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"*"},
		MaxAge:         3600,
	}).Handler(r)
}

// ListenAndServe runs the HTTP server until ctx is cancelled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string, shutdownTimeout time.Duration) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       s.opts.ReadTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("http server listening", slog.String("addr", addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	s.log.Info("http server shutting down")
	return srv.Shutdown(shutdownCtx)
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.log.InfoContext(r.Context(), "request",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Int("status", ww.Status()),
			slog.Duration("duration", time.Since(start)),
			slog.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}

func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	apiErr := toAPIError(err)
	if apiErr.StatusCode >= http.StatusInternalServerError {
		s.log.ErrorContext(r.Context(), "request failed",
			slog.String("path", r.URL.Path),
			slog.String("error", err.Error()),
		)
	}
	_ = render.Render(w, r, apiErr)
}
