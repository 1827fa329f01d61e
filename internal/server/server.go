package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/fmueller/whisperapi/internal/metrics"
	"github.com/fmueller/whisperapi/internal/transcription"
	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

// Transcriber runs one transcription request to completion.
type Transcriber interface {
	Transcribe(ctx context.Context, req transcription.Request) transcription.Result
}

// Limiter admits transcription requests. Refund returns one token after a
// failed request.
type Limiter interface {
	Acquire(ctx context.Context) error
	Refund()
}

type Options struct {
	Address           string
	ModelDir          string
	MaxUploadBytes    int64
	// MultipartMemory caps the bytes of non-file form fields read into
	// memory. The file part itself is streamed.
	MultipartMemory   int64
	ReadHeaderTimeout time.Duration
	ShutdownTimeout   time.Duration
	Version           string
}

type Server struct {
	opts        Options
	transcriber Transcriber
	limiter     Limiter
	metrics     *metrics.Metrics
	logger      *zap.Logger
	router      *mux.Router
}

// New wires the routes. A nil limiter admits everything; nil metrics get a
// fresh registry.
func New(opts Options, transcriber Transcriber, limiter Limiter, m *metrics.Metrics, logger *zap.Logger) *Server {
	if opts.MaxUploadBytes <= 0 {
		opts.MaxUploadBytes = 512 << 20
	}
	if opts.MultipartMemory <= 0 {
		opts.MultipartMemory = 1 << 20
	}
	if limiter == nil {
		limiter = unlimited{}
	}
	if m == nil {
		m = metrics.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &Server{
		opts:        opts,
		transcriber: transcriber,
		limiter:     limiter,
		metrics:     m,
		logger:      logger,
		router:      mux.NewRouter(),
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.router.Use(s.recordRequest)

	transcribe := s.admitted(s.handleTranscribe)
	s.router.Handle("/transcribe", transcribe).Methods(http.MethodPost)
	s.router.Handle("/", transcribe).Methods(http.MethodPost)

	s.router.HandleFunc("/", s.handleLanding).Methods(http.MethodGet)
	s.router.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	s.router.HandleFunc("/models", s.handleModels).Methods(http.MethodGet)
	s.router.HandleFunc("/languages", s.handleLanguages).Methods(http.MethodGet)
	s.router.Handle("/metrics", s.metrics.Handler()).Methods(http.MethodGet)

	s.router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, "Not found.")
	})
	s.router.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed.")
	})
}

func (s *Server) Handler() http.Handler {
	return s.router
}

// ListenAndServe serves until ctx is cancelled, then drains in-flight
// requests for up to ShutdownTimeout.
func (s *Server) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.opts.Address)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.opts.Address, err)
	}
	return s.Serve(ctx, ln)
}

func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	// In-flight requests keep running through the drain.
	base := context.WithoutCancel(ctx)
	srv := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: s.opts.ReadHeaderTimeout,
		BaseContext:       func(net.Listener) context.Context { return base },
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http server listening", zap.String("address", ln.Addr().String()))
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	s.logger.Info("shutting down http server")
	shutdownCtx := context.Background()
	if s.opts.ShutdownTimeout > 0 {
		var cancel context.CancelFunc
		shutdownCtx, cancel = context.WithTimeout(shutdownCtx, s.opts.ShutdownTimeout)
		defer cancel()
	}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown http server: %w", err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

type unlimited struct{}

func (unlimited) Acquire(context.Context) error { return nil }
func (unlimited) Refund()                       {}
