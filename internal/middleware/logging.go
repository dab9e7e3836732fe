package middleware

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"paycore/internal/metrics"
	"paycore/pkg/logger"
)

// LoggingMiddleware records each request in the log and the request metrics.
type LoggingMiddleware struct {
	logger  logger.Logger
	metrics *metrics.Collector
}

func NewLoggingMiddleware(log logger.Logger, m *metrics.Collector) *LoggingMiddleware {
	return &LoggingMiddleware{logger: log, metrics: m}
}

// Log wraps handlers with structured request/response logging.
func (m *LoggingMiddleware) Log(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(wrapped, r)
		duration := time.Since(start)

		route := "unmatched"
		if current := mux.CurrentRoute(r); current != nil {
			if tpl, err := current.GetPathTemplate(); err == nil {
				route = tpl
			}
		}
		m.metrics.HTTPRequest(r.Method, route, strconv.Itoa(wrapped.statusCode), duration)

		m.logger.Info("HTTP Request", map[string]interface{}{
			"method":      r.Method,
			"route":       route,
			"path":        r.URL.Path,
			"status":      wrapped.statusCode,
			"duration_ms": duration.Milliseconds(),
			"ip":          r.RemoteAddr,
			"user_agent":  r.UserAgent(),
			"request_id":  RequestIDFromContext(r.Context()),
		})
	})
}

type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (w *responseWriter) WriteHeader(statusCode int) {
	w.statusCode = statusCode
	w.ResponseWriter.WriteHeader(statusCode)
}
