package middleware

import (
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/trace"
)

// probePrefix marks the load-balancer probe routes, which log at debug.
const probePrefix = "/v1/ops/"

// Logger writes one access log line per request, correlated with the
// request id and the active span.
func Logger(log zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			wrapped := newStatusRecorder(w)

			next.ServeHTTP(wrapped, r)

			event := log.WithLevel(accessLevel(r, wrapped.status)).
				Str("request_id", GetRequestID(r.Context()))
			if sc := trace.SpanContextFromContext(r.Context()); sc.IsValid() {
				event = event.
					Str("trace_id", sc.TraceID().String()).
					Str("span_id", sc.SpanID().String())
			}
			if provenance := wrapped.provenance(); provenance != "" {
				event = event.Str("provenance", provenance)
			}
			if r.URL.RawQuery != "" {
				event = event.Str("query", r.URL.RawQuery)
			}

			event.
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Str("route", routePattern(r)).
				Int("status", wrapped.status).
				Int64("bytes", wrapped.written).
				Dur("duration", time.Since(start)).
				Str("remote_addr", r.RemoteAddr).
				Str("user_agent", r.UserAgent()).
				Msg("request completed")
		})
	}
}

func accessLevel(r *http.Request, status int) zerolog.Level {
	switch {
	case status >= 500:
		return zerolog.ErrorLevel
	case status >= 400:
		return zerolog.WarnLevel
	case strings.HasPrefix(r.URL.Path, probePrefix):
		return zerolog.DebugLevel
	default:
		return zerolog.InfoLevel
	}
}
