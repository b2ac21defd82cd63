package models

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"
)

// Problem is an RFC7807 error body, served as application/problem+json.
type Problem struct {
	Type     string       `json:"type"`
	Title    string       `json:"title"`
	Status   int          `json:"status"`
	Detail   string       `json:"detail,omitempty"`
	Instance string       `json:"instance,omitempty"`
	TraceID  string       `json:"traceId"`
	Errors   []FieldError `json:"errors,omitempty"`

	// RetryAfter, when positive, is sent as the Retry-After header.
	RetryAfter time.Duration `json:"-"`
}

// FieldError represents a validation error on a specific field.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

// Problem type URIs.
const (
	ProblemTypeValidation          = "https://api.roadpulse.jp/problems/validation-error"
	ProblemTypeNotFound            = "https://api.roadpulse.jp/problems/not-found"
	ProblemTypeMethodNotAllowed    = "https://api.roadpulse.jp/problems/method-not-allowed"
	ProblemTypeNotAcceptable       = "https://api.roadpulse.jp/problems/not-acceptable"
	ProblemTypeTooManyRequests     = "https://api.roadpulse.jp/problems/too-many-requests"
	ProblemTypeInternal            = "https://api.roadpulse.jp/problems/internal-error"
	ProblemTypeUnavailable         = "https://api.roadpulse.jp/problems/service-unavailable"
	ProblemTypeRoadDataUnavailable = "https://api.roadpulse.jp/problems/road-data-unavailable"
	ProblemTypeTLSRequired         = "https://api.roadpulse.jp/problems/tls-required"
)

// RoadDataRetryAfter is the retry hint of the "no data" problem.
const RoadDataRetryAfter = time.Minute

// NewProblem creates a new Problem with the given parameters.
func NewProblem(problemType, title string, status int, traceID string) *Problem {
	return &Problem{
		Type:    problemType,
		Title:   title,
		Status:  status,
		TraceID: traceID,
	}
}

// Write writes the Problem as JSON to the ResponseWriter.
func (p *Problem) Write(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/problem+json")
	w.Header().Set("X-Request-Id", p.TraceID)
	if p.RetryAfter > 0 {
		secs := int((p.RetryAfter + time.Second - 1) / time.Second)
		w.Header().Set("Retry-After", strconv.Itoa(secs))
	}
	w.WriteHeader(p.Status)
	_ = json.NewEncoder(w).Encode(p)
}

func newDetailed(problemType, title string, status int, traceID, detail string) *Problem {
	p := NewProblem(problemType, title, status, traceID)
	p.Detail = detail
	return p
}

// NewBadRequest creates a 400 Bad Request problem.
func NewBadRequest(traceID, detail string, errors []FieldError) *Problem {
	p := newDetailed(ProblemTypeValidation, "Validation error", http.StatusBadRequest, traceID, detail)
	p.Errors = errors
	return p
}

// NewNotFound creates a 404 Not Found problem.
func NewNotFound(traceID, detail string) *Problem {
	return newDetailed(ProblemTypeNotFound, "Not found", http.StatusNotFound, traceID, detail)
}

// NewMethodNotAllowed creates a 405 Method Not Allowed problem.
func NewMethodNotAllowed(traceID, detail string) *Problem {
	return newDetailed(ProblemTypeMethodNotAllowed, "Method not allowed", http.StatusMethodNotAllowed, traceID, detail)
}

// NewNotAcceptable creates a 406 problem for an Accept header no
// representation satisfies.
func NewNotAcceptable(traceID, detail string) *Problem {
	return newDetailed(ProblemTypeNotAcceptable, "Not acceptable", http.StatusNotAcceptable, traceID, detail)
}

// NewTLSRequired creates a 403 problem for plain-HTTP requests.
func NewTLSRequired(traceID string) *Problem {
	return newDetailed(ProblemTypeTLSRequired, "TLS required", http.StatusForbidden, traceID, "This endpoint requires HTTPS")
}

// NewTooManyRequests creates a 429 problem that asks the client to wait retryAfter.
func NewTooManyRequests(traceID, detail string, retryAfter time.Duration) *Problem {
	p := newDetailed(ProblemTypeTooManyRequests, "Too many requests", http.StatusTooManyRequests, traceID, detail)
	p.RetryAfter = retryAfter
	return p
}

// NewInternalError creates a 500 Internal Server Error problem.
func NewInternalError(traceID, detail string) *Problem {
	return newDetailed(ProblemTypeInternal, "Internal server error", http.StatusInternalServerError, traceID, detail)
}

// NewServiceUnavailable creates a 503 Service Unavailable problem.
func NewServiceUnavailable(traceID, detail string) *Problem {
	return newDetailed(ProblemTypeUnavailable, "Service unavailable", http.StatusServiceUnavailable, traceID, detail)
}

// NewRoadDataUnavailable creates a 503 problem for a run without road geometry.
// Clients render a "no data" state instead of an empty map.
func NewRoadDataUnavailable(traceID, detail string) *Problem {
	p := newDetailed(ProblemTypeRoadDataUnavailable, "Road data unavailable", http.StatusServiceUnavailable, traceID, detail)
	p.RetryAfter = RoadDataRetryAfter
	return p
}
