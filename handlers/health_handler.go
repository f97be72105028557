package handlers

import (
	"context"
	"database/sql"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/upb/audit-quota/services/dispatch"
	"github.com/upb/audit-quota/utils"
)

// HealthResponse represents the health check response
type HealthResponse struct {
	Status    string            `json:"status"`
	Timestamp string            `json:"timestamp"`
	Checks    map[string]string `json:"checks,omitempty"`
	Dispatch  *dispatch.Stats   `json:"dispatch,omitempty"`
}

// DispatchStatter reports dispatcher counters
type DispatchStatter interface {
	Stats() dispatch.Stats
}

// HealthHandler handles health-related HTTP requests
type HealthHandler struct {
	db         *sql.DB
	dispatcher DispatchStatter
	logger     *zap.Logger
}

// NewHealthHandler creates a new HealthHandler. db and dispatcher may be nil.
func NewHealthHandler(db *sql.DB, dispatcher DispatchStatter, logger *zap.Logger) *HealthHandler {
	return &HealthHandler{
		db:         db,
		dispatcher: dispatcher,
		logger:     logger,
	}
}

// HandleHealth handles GET /healthz
// Basic health check - always returns 200 if service is running
func (h *HealthHandler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	response := HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}

	_ = utils.WriteOK(w, response)
}

// HandleReadiness handles GET /readyz
// Without a record store the service runs degraded but stays ready.
func (h *HealthHandler) HandleReadiness(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	checks := make(map[string]string)
	status := "healthy"
	httpStatus := http.StatusOK

	switch err := h.checkDatabase(ctx); {
	case h.db == nil:
		checks["database"] = "not_configured"
		status = "degraded"
	case err != nil:
		h.logger.Warn("database health check failed", zap.Error(err))
		checks["database"] = "unhealthy"
		status = "unhealthy"
		httpStatus = http.StatusServiceUnavailable
	default:
		checks["database"] = "healthy"
	}

	response := HealthResponse{
		Status:    status,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Checks:    checks,
	}

	if h.dispatcher != nil {
		stats := h.dispatcher.Stats()
		response.Dispatch = &stats
		if !stats.Started {
			checks["dispatch"] = "stopped"
			response.Status = "unhealthy"
			httpStatus = http.StatusServiceUnavailable
		} else {
			checks["dispatch"] = "running"
		}
	}

	if err := utils.WriteJSON(w, httpStatus, utils.SuccessResponse{Data: response}); err != nil {
		h.logger.Error("failed to write readiness response", zap.Error(err))
	}
}

// checkDatabase checks database connectivity
func (h *HealthHandler) checkDatabase(ctx context.Context) error {
	if h.db == nil {
		return nil
	}

	if err := h.db.PingContext(ctx); err != nil {
		return err
	}

	var result int
	if err := h.db.QueryRowContext(ctx, "SELECT 1").Scan(&result); err != nil {
		return err
	}

	return nil
}
