package middleware

import (
	"net/http"
	"strings"

	"github.com/roadpulse/roadpulse/internal/api/models"
)

// DefaultContentType sets ct on responses whose handler does not choose
// its own Content-Type.
func DefaultContentType(ct string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if w.Header().Get("Content-Type") == "" {
				w.Header().Set("Content-Type", ct)
			}
			next.ServeHTTP(w, r)
		})
	}
}

// Accepts answers 406 when the request's Accept header admits none of
// offered. A missing Accept header admits everything.
func Accepts(offered ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			accept := r.Header.Values("Accept")
			if len(accept) == 0 || acceptsAny(strings.Join(accept, ","), offered) {
				next.ServeHTTP(w, r)
				return
			}
			problem := models.NewNotAcceptable(GetRequestID(r.Context()),
				"supported media types: "+strings.Join(offered, ", "))
			problem.Instance = r.URL.Path
			problem.Write(w)
		})
	}
}

// acceptsAny reports whether the Accept header value matches one of
// offered. Ranges with q=0 are refusals and never match.
func acceptsAny(header string, offered []string) bool {
	for _, part := range strings.Split(header, ",") {
		mediaRange, params, _ := strings.Cut(strings.TrimSpace(part), ";")
		mediaRange = strings.ToLower(strings.TrimSpace(mediaRange))
		if mediaRange == "" || refused(params) {
			continue
		}
		for _, o := range offered {
			if mediaMatches(mediaRange, o) {
				return true
			}
		}
	}
	return false
}

func refused(params string) bool {
	for _, p := range strings.Split(params, ";") {
		k, v, ok := strings.Cut(strings.TrimSpace(p), "=")
		if ok && strings.EqualFold(k, "q") {
			v = strings.TrimRight(strings.TrimSpace(v), "0")
			return v == "" || v == "." || v == "0" || v == "0."
		}
	}
	return false
}

func mediaMatches(mediaRange, offered string) bool {
	if mediaRange == "*/*" || mediaRange == offered {
		return true
	}
	typ, sub, ok := strings.Cut(mediaRange, "/")
	if !ok || sub != "*" {
		return false
	}
	return strings.HasPrefix(offered, typ+"/")
}
