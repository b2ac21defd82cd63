// Package handler provides HTTP handlers for the RoadPulse API.
package handler

import (
	"net/http"
	"time"

	"github.com/roadpulse/roadpulse/internal/api/models"
	"github.com/roadpulse/roadpulse/internal/api/response"
	"github.com/roadpulse/roadpulse/internal/provider/resilience"
	"github.com/roadpulse/roadpulse/internal/snapshot"
)

// SnapshotStatus reports the state of the congestion cache.
type SnapshotStatus interface {
	CacheStatus() snapshot.CacheStatus
}

// ProviderRegistry lists the health of upstream providers.
type ProviderRegistry interface {
	All() []resilience.ProviderHealth
}

// OpsHandler handles operational endpoints.
type OpsHandler struct {
	version   string
	buildTime string
	snapshot  SnapshotStatus
	providers ProviderRegistry
	now       func() time.Time
}

// NewOpsHandler creates a new OpsHandler. snapshot and providers may be nil.
func NewOpsHandler(version, buildTime string, snapshot SnapshotStatus, providers ProviderRegistry) *OpsHandler {
	return &OpsHandler{
		version:   version,
		buildTime: buildTime,
		snapshot:  snapshot,
		providers: providers,
		now:       time.Now,
	}
}

// HealthCheck handles GET /v1/ops/health - liveness check.
func (h *OpsHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	health := models.Health{
		Status: models.HealthStatusOK,
		Time:   models.Timestamp(h.now()),
		Details: map[string]interface{}{
			"version":   h.version,
			"buildTime": h.buildTime,
		},
	}
	response.JSON(w, r, http.StatusOK, health)
}

// ReadinessCheck handles GET /v1/ops/ready - readiness check.
// Not ready while the first run has failed and nothing is cached.
func (h *OpsHandler) ReadinessCheck(w http.ResponseWriter, r *http.Request) {
	health := models.Health{
		Status: models.HealthStatusOK,
		Time:   models.Timestamp(h.now()),
	}
	if h.snapshot == nil {
		response.JSON(w, r, http.StatusOK, health)
		return
	}

	status := h.snapshot.CacheStatus()
	health.Status = snapshotHealth(status)
	health.Details = map[string]interface{}{"hasData": status.HasData}
	if status.LastError != "" {
		health.Details["lastError"] = status.LastError
	}

	code := http.StatusOK
	if health.Status == models.HealthStatusFail {
		code = http.StatusServiceUnavailable
	}
	response.JSON(w, r, code, health)
}

// SystemStatus handles GET /v1/ops/status - provider and subsystem status.
func (h *OpsHandler) SystemStatus(w http.ResponseWriter, r *http.Request) {
	status := models.SystemStatus{
		Status:     models.HealthStatusOK,
		Time:       models.Timestamp(h.now()),
		Subsystems: []models.SubsystemStatus{},
		Providers:  []models.ProviderStatus{},
	}

	if h.snapshot != nil {
		cache := h.snapshot.CacheStatus()
		sub := models.SubsystemStatus{Name: "pipeline", Status: snapshotHealth(cache)}
		if cache.LastError != "" {
			detail := cache.LastError
			sub.Detail = &detail
		}
		status.Subsystems = append(status.Subsystems, sub)
		status.Snapshot = snapshotModel(cache)
	}

	if h.providers != nil {
		for _, p := range h.providers.All() {
			status.Providers = append(status.Providers, providerModel(p))
		}
	}

	for _, s := range status.Subsystems {
		status.Status = worst(status.Status, s.Status)
	}
	for _, p := range status.Providers {
		status.Status = worst(status.Status, p.Status)
	}

	response.JSON(w, r, http.StatusOK, status)
}

func snapshotHealth(s snapshot.CacheStatus) models.HealthStatus {
	switch {
	case !s.HasData && s.LastError != "":
		return models.HealthStatusFail
	case s.HasData && (s.IsStale || s.LastError != ""):
		return models.HealthStatusDegraded
	default:
		return models.HealthStatusOK
	}
}

func snapshotModel(s snapshot.CacheStatus) *models.SnapshotStatus {
	m := &models.SnapshotStatus{
		HasData:    s.HasData,
		RunID:      s.RunID,
		Provenance: string(s.Provenance),
		IsExpired:  s.IsExpired,
		IsStale:    s.IsStale,
		Segments:   s.Segments,
		LastError:  s.LastError,
	}
	if s.HasData {
		fetched := models.Timestamp(s.FetchedAt)
		expires := models.Timestamp(s.ExpiresAt)
		m.FetchedAt = &fetched
		m.ExpiresAt = &expires
	}
	return m
}

func providerModel(p resilience.ProviderHealth) models.ProviderStatus {
	m := models.ProviderStatus{
		Provider:     p.Name,
		CircuitState: p.CircuitState.String(),
	}
	switch p.Status() {
	case resilience.StatusUnhealthy:
		m.Status = models.HealthStatusFail
	case resilience.StatusDegraded:
		m.Status = models.HealthStatusDegraded
	default:
		m.Status = models.HealthStatusOK
	}
	if p.LastSuccessAt != nil {
		ts := models.Timestamp(*p.LastSuccessAt)
		m.LastSuccessAt = &ts
	}
	if p.LastFailureAt != nil {
		ts := models.Timestamp(*p.LastFailureAt)
		m.LastFailureAt = &ts
	}
	if p.LastError != "" {
		msg := p.LastError
		m.Message = &msg
	}
	return m
}

// worst orders OK < DEGRADED < FAIL.
func worst(a, b models.HealthStatus) models.HealthStatus {
	rank := map[models.HealthStatus]int{
		models.HealthStatusOK:       0,
		models.HealthStatusDegraded: 1,
		models.HealthStatusFail:     2,
	}
	if rank[b] > rank[a] {
		return b
	}
	return a
}
