package middleware

import "net/http"

// ProvenanceHeader carries the provenance ("live" or "synthetic") of the
// congestion data in a response.
const ProvenanceHeader = "X-Data-Provenance"

// StaleHeader is "true" when a response carries cached data served because
// recomputing it failed.
const StaleHeader = "X-Data-Stale"

// statusRecorder captures the status, size and provenance of a response.
// Logging, metrics, tracing and recovery all wrap the writer with it.
type statusRecorder struct {
	http.ResponseWriter
	status      int
	written     int64
	wroteHeader bool
}

func newStatusRecorder(w http.ResponseWriter) *statusRecorder {
	if rec, ok := w.(*statusRecorder); ok {
		return rec
	}
	return &statusRecorder{ResponseWriter: w, status: http.StatusOK}
}

func (rw *statusRecorder) WriteHeader(code int) {
	if !rw.wroteHeader {
		rw.status = code
		rw.wroteHeader = true
	}
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *statusRecorder) Write(b []byte) (int, error) {
	rw.wroteHeader = true
	n, err := rw.ResponseWriter.Write(b)
	rw.written += int64(n)
	return n, err
}

// Unwrap exposes the underlying writer to http.ResponseController.
func (rw *statusRecorder) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}

func (rw *statusRecorder) provenance() string {
	return rw.Header().Get(ProvenanceHeader)
}
