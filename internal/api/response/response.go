// Package response provides utilities for HTTP response handling.
package response

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/roadpulse/roadpulse/internal/api/middleware"
	"github.com/roadpulse/roadpulse/internal/api/models"
)

// Content types written by the API.
const (
	ContentTypeJSON    = "application/json"
	ContentTypeGeoJSON = "application/geo+json"
)

// ProvenanceHeader carries whether the served congestion data is live or synthetic.
const ProvenanceHeader = middleware.ProvenanceHeader

// StaleHeader marks data served from cache after a failed recomputation.
const StaleHeader = middleware.StaleHeader

// JSON writes a JSON response with the given status code.
// Includes X-Request-Id header for correlation.
func JSON(w http.ResponseWriter, r *http.Request, status int, data interface{}) {
	write(w, r, ContentTypeJSON, status, data)
}

// GeoJSON writes a GeoJSON document with the given status code.
func GeoJSON(w http.ResponseWriter, r *http.Request, status int, data interface{}) {
	write(w, r, ContentTypeGeoJSON, status, data)
}

func write(w http.ResponseWriter, r *http.Request, contentType string, status int, data interface{}) {
	requestID := middleware.GetRequestID(r.Context())
	if requestID != "" {
		w.Header().Set("X-Request-Id", requestID)
	}
	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(status)
	if data != nil {
		_ = json.NewEncoder(w).Encode(data)
	}
}

// Provenance sets the data provenance header.
func Provenance(w http.ResponseWriter, provenance string) {
	w.Header().Set(ProvenanceHeader, provenance)
}

// Stale marks the response as stale and sets Age to the data's age in
// whole seconds.
func Stale(w http.ResponseWriter, age time.Duration) {
	w.Header().Set(StaleHeader, "true")
	w.Header().Set("Age", strconv.FormatInt(int64(age/time.Second), 10))
}

// Error writes a Problem+JSON error response.
func Error(w http.ResponseWriter, r *http.Request, problem *models.Problem) {
	problem.Instance = r.URL.Path
	problem.Write(w)
}

// BadRequest writes a 400 Bad Request error response.
func BadRequest(w http.ResponseWriter, r *http.Request, detail string, errors []models.FieldError) {
	traceID := middleware.GetRequestID(r.Context())
	problem := models.NewBadRequest(traceID, detail, errors)
	Error(w, r, problem)
}

// NotFound writes a 404 Not Found error response.
func NotFound(w http.ResponseWriter, r *http.Request, detail string) {
	traceID := middleware.GetRequestID(r.Context())
	problem := models.NewNotFound(traceID, detail)
	Error(w, r, problem)
}

// MethodNotAllowed writes a 405 Method Not Allowed error response.
func MethodNotAllowed(w http.ResponseWriter, r *http.Request, detail string) {
	traceID := middleware.GetRequestID(r.Context())
	problem := models.NewMethodNotAllowed(traceID, detail)
	Error(w, r, problem)
}

// InternalError writes a 500 Internal Server Error response.
func InternalError(w http.ResponseWriter, r *http.Request, detail string) {
	traceID := middleware.GetRequestID(r.Context())
	problem := models.NewInternalError(traceID, detail)
	Error(w, r, problem)
}

// ServiceUnavailable writes a 503 Service Unavailable error response.
func ServiceUnavailable(w http.ResponseWriter, r *http.Request, detail string) {
	traceID := middleware.GetRequestID(r.Context())
	problem := models.NewServiceUnavailable(traceID, detail)
	Error(w, r, problem)
}

// RoadDataUnavailable writes the 503 "no data" problem.
func RoadDataUnavailable(w http.ResponseWriter, r *http.Request, detail string) {
	traceID := middleware.GetRequestID(r.Context())
	problem := models.NewRoadDataUnavailable(traceID, detail)
	Error(w, r, problem)
}
