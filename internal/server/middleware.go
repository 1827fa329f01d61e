package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"runtime/debug"
	"time"

	"github.com/fmueller/whisperapi/internal/ratelimit"
	"github.com/fmueller/whisperapi/internal/transcription"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

const (
	requestIDHeader = "X-Request-Id"

	msgRateLimited = "Too many requests. Try again later."
	msgInternal    = "An unexpected error occurred."
)

type handlerFunc func(w http.ResponseWriter, r *http.Request) error

// StatusFor maps a handler error to the HTTP status and the message shown to
// the client. Errors outside the transcription taxonomy are 500 with a
// generic message.
func StatusFor(err error) (int, string) {
	var terr *transcription.Error
	if !errors.As(err, &terr) {
		return http.StatusInternalServerError, msgInternal
	}

	switch terr.Kind {
	case transcription.KindInvalidFileType:
		return http.StatusUnsupportedMediaType, terr.Message
	case transcription.KindInvalidLanguage:
		return http.StatusBadRequest, terr.Message
	case transcription.KindInvalidModel:
		return http.StatusUnprocessableEntity, terr.Message
	case transcription.KindNoFile:
		return http.StatusNotFound, terr.Message
	case transcription.KindFileProcessing:
		return http.StatusUnprocessableEntity, terr.Message
	default:
		return http.StatusInternalServerError, terr.Message
	}
}

// admitted takes a limiter token before running h. A failed or panicking
// handler gives exactly one token back and answers with the JSON error
// envelope.
func (s *Server) admitted(h handlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := s.limiter.Acquire(r.Context()); err != nil {
			if errors.Is(err, ratelimit.ErrRejected) {
				s.metrics.AdmissionRejected.Inc()
				writeError(w, http.StatusTooManyRequests, msgRateLimited)
				return
			}
			// The client went away while queued.
			writeError(w, http.StatusServiceUnavailable, msgRateLimited)
			return
		}

		s.metrics.InFlight.Inc()
		defer s.metrics.InFlight.Dec()

		err := s.invoke(h, w, r)
		if err == nil {
			return
		}

		s.refund()

		status, msg := StatusFor(err)
		fields := []zap.Field{
			zap.String("request_id", w.Header().Get(requestIDHeader)),
			zap.Int("status", status),
			zap.Error(err),
		}
		if status >= http.StatusInternalServerError {
			s.logger.Error("request failed", fields...)
		} else {
			s.logger.Info("request rejected", fields...)
		}
		writeError(w, status, msg)
	})
}

func (s *Server) invoke(h handlerFunc, w http.ResponseWriter, r *http.Request) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			if rec == http.ErrAbortHandler {
				s.refund()
				panic(rec)
			}
			s.logger.Error("handler panicked", zap.Any("panic", rec), zap.ByteString("stack", debug.Stack()))
			err = fmt.Errorf("panic: %v", rec)
		}
	}()
	return h(w, r)
}

func (s *Server) refund() {
	s.limiter.Refund()
	s.metrics.TokensRefunded.Inc()
}

// recordRequest tags the request with an id, then logs and counts it.
func (s *Server) recordRequest(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(requestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set(requestIDHeader, id)

		started := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, r)
		elapsed := time.Since(started)

		route := r.URL.Path
		if current := mux.CurrentRoute(r); current != nil {
			if tmpl, err := current.GetPathTemplate(); err == nil {
				route = tmpl
			}
		}
		s.metrics.ObserveHTTP(r.Method, route, sw.status, elapsed)
		s.logger.Info("http request",
			zap.String("request_id", id),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", sw.status),
			zap.Duration("duration", elapsed),
		)
	})
}

type statusWriter struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
}

func (w *statusWriter) WriteHeader(code int) {
	if !w.wroteHeader {
		w.status = code
		w.wroteHeader = true
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusWriter) Write(b []byte) (int, error) {
	w.wroteHeader = true
	return w.ResponseWriter.Write(b)
}

func (w *statusWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
