package service

import (
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/doubleagent/harness/internal/monitoring"
	"github.com/doubleagent/harness/internal/state"
)

// NamespaceMiddleware reads the namespace header and injects the value
// into the request context. A missing header selects the default
// namespace; namespaces are created lazily on first use, so no
// validation happens here.
func NamespaceMiddleware(headerName string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ns := r.Header.Get(headerName)
			if ns == "" {
				ns = state.DefaultNamespace
			}
			next.ServeHTTP(w, r.WithContext(WithNamespace(r.Context(), ns)))
		})
	}
}

// statusWriter captures the response code for logging and metrics.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

// LoggingMiddleware emits one JSON access-log line per request.
func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(sw, r)

		log.Printf(`{"method":"%s","path":"%s","status":%d,"duration_ms":%d}`,
			r.Method,
			r.URL.Path,
			sw.status,
			time.Since(start).Milliseconds(),
		)
	})
}

// MetricsMiddleware records request totals and latency.
func MetricsMiddleware(m *monitoring.Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}

			next.ServeHTTP(sw, r)

			statusClass := strconv.Itoa(sw.status/100) + "xx"
			m.RecordRequest(r.Method, statusClass, time.Since(start).Seconds())
		})
	}
}

// CORSMiddleware lets browser-based agents hit the fakes directly.
func CORSMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-DoubleAgent-Namespace, X-Request-Id")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}
