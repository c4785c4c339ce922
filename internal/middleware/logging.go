package middleware

import (
	"net/http"
	"time"

	"eldervoice/internal/logger"

	"github.com/sirupsen/logrus"
)

// Logging records one line per API request with method, path, status and
// latency. The websocket endpoint is skipped: a connection lives for the
// whole call and logs through the signaling server instead.
func Logging(log *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path == "/ws" {
				next.ServeHTTP(w, r)
				return
			}

			wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
			start := time.Now()

			next.ServeHTTP(wrapped, r)

			log.Info("Request handled", logrus.Fields{
				"method":  r.Method,
				"path":    r.URL.Path,
				"status":  wrapped.statusCode,
				"elapsed": time.Since(start).String(),
				"remote":  r.RemoteAddr,
			})
		})
	}
}

type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (w *responseWriter) WriteHeader(code int) {
	w.statusCode = code
	w.ResponseWriter.WriteHeader(code)
}
