package handlers

import (
	"context"
	"runtime"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/shirou/gopsutil/v4/load"
	"github.com/shirou/gopsutil/v4/mem"
	"gorm.io/gorm"

	"github.com/vodarr/vodarr/internal/streaming"
	"github.com/vodarr/vodarr/internal/version"
)

// HealthHandler handles the health check endpoint.
type HealthHandler struct {
	startTime time.Time
	db        *gorm.DB
	service   *streaming.Service
}

// NewHealthHandler creates a health handler.
func NewHealthHandler() *HealthHandler {
	return &HealthHandler{startTime: time.Now()}
}

// WithDB enables the database connectivity check.
func (h *HealthHandler) WithDB(db *gorm.DB) *HealthHandler {
	h.db = db
	return h
}

// WithStreamingService includes live session counts in the response.
func (h *HealthHandler) WithStreamingService(service *streaming.Service) *HealthHandler {
	h.service = service
	return h
}

// HealthResponse is the health check payload.
type HealthResponse struct {
	Status       string  `json:"status" doc:"ok or degraded"`
	Version      string  `json:"version"`
	UptimeSecs   int64   `json:"uptime_seconds"`
	Sessions     int     `json:"sessions"`
	Database     string  `json:"database,omitempty" doc:"ok or the connectivity error"`
	MemoryUsedMB uint64  `json:"memory_used_mb,omitempty"`
	Load1        float64 `json:"load_1,omitempty"`
	Goroutines   int     `json:"goroutines"`
}

// HealthOutput is the output for the health check endpoint.
type HealthOutput struct {
	Body HealthResponse
}

// Register registers the health route with the API.
func (h *HealthHandler) Register(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "getHealth",
		Method:      "GET",
		Path:        "/health",
		Summary:     "Health check",
		Description: "Returns service health, session counts, and basic system metrics.",
		Tags:        []string{"System"},
	}, h.GetHealth)
}

// GetHealth returns the health status of the service.
func (h *HealthHandler) GetHealth(ctx context.Context, _ *struct{}) (*HealthOutput, error) {
	resp := HealthResponse{
		Status:     "ok",
		Version:    version.Version,
		UptimeSecs: int64(time.Since(h.startTime).Seconds()),
		Goroutines: runtime.NumGoroutine(),
	}

	if h.service != nil {
		resp.Sessions = h.service.Count()
	}

	if h.db != nil {
		resp.Database = "ok"
		if sqlDB, err := h.db.DB(); err != nil {
			resp.Database = err.Error()
			resp.Status = "degraded"
		} else if err := sqlDB.PingContext(ctx); err != nil {
			resp.Database = err.Error()
			resp.Status = "degraded"
		}
	}

	if vm, err := mem.VirtualMemoryWithContext(ctx); err == nil {
		resp.MemoryUsedMB = vm.Used / (1024 * 1024)
	}
	if avg, err := load.AvgWithContext(ctx); err == nil {
		resp.Load1 = avg.Load1
	}

	return &HealthOutput{Body: resp}, nil
}
