package server

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// RequestLogger creates a zerolog-based request logger middleware.
func RequestLogger(logger zerolog.Logger) func(next http.Handler) http.Handler {
	return middleware.RequestLogger(&requestLogFormatter{logger})
}

// requestLogFormatter implements chi's LogFormatter interface.
type requestLogFormatter struct {
	logger zerolog.Logger
}

func (f *requestLogFormatter) NewLogEntry(r *http.Request) middleware.LogEntry {
	correlationID := r.Header.Get("X-Correlation-ID")
	if correlationID == "" {
		correlationID = uuid.New().String()
	}
	r.Header.Set("X-Correlation-ID", correlationID)

	return &requestLogEntry{
		logger:        f.logger,
		correlationID: correlationID,
		method:        r.Method,
		url:           r.URL.Path,
		remoteAddr:    r.RemoteAddr,
	}
}

// requestLogEntry implements chi's LogEntry interface.
type requestLogEntry struct {
	logger        zerolog.Logger
	correlationID string
	method        string
	url           string
	remoteAddr    string
}

func (e *requestLogEntry) Write(status, bytes int, header http.Header, elapsed time.Duration, extra interface{}) {
	level := zerolog.InfoLevel
	if status >= 400 && status < 500 {
		level = zerolog.WarnLevel
	} else if status >= 500 {
		level = zerolog.ErrorLevel
	}

	e.logger.WithLevel(level).
		Str("correlation_id", e.correlationID).
		Str("method", e.method).
		Str("url", e.url).
		Str("remote_addr", e.remoteAddr).
		Int("status", status).
		Int("bytes", bytes).
		Dur("elapsed", elapsed).
		Msg("Request completed")
}

func (e *requestLogEntry) Panic(v interface{}, stack []byte) {
	e.logger.Error().
		Str("correlation_id", e.correlationID).
		Str("method", e.method).
		Str("url", e.url).
		Interface("panic", v).
		Bytes("stack", stack).
		Msg("Request panic")
}
