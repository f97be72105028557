package handlers

import (
	"context"
	"encoding/json"
	"io"
	"net/http"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/upb/audit-quota/internal/observability"
	"github.com/upb/audit-quota/models"
	"github.com/upb/audit-quota/repositories"
	"github.com/upb/audit-quota/services/dispatch"
	"github.com/upb/audit-quota/utils"
)

// CallbackRequest is the job update the workflow engine posts back
type CallbackRequest struct {
	CorrelationID string          `json:"correlation_id" validate:"required"`
	Status        string          `json:"status" validate:"required,max=64"`
	Score         *float64        `json:"score,omitempty"`
	Results       json.RawMessage `json:"results,omitempty"`
	ErrorMessage  *string         `json:"error_message,omitempty"`
}

// CallbackJobs is the part of the job store the callback needs
type CallbackJobs interface {
	GetByCorrelationID(ctx context.Context, webhookID string) (*models.AuditJob, error)
	Update(ctx context.Context, id uuid.UUID, update repositories.JobUpdate) (*models.AuditJob, error)
}

// WorkflowHandler handles requests coming from the workflow engine
type WorkflowHandler struct {
	jobs   CallbackJobs
	secret []byte
	logger *zap.Logger
}

// NewWorkflowHandler creates a new WorkflowHandler. Callbacks are refused
// while secret is empty.
func NewWorkflowHandler(jobs CallbackJobs, secret string, logger *zap.Logger) *WorkflowHandler {
	return &WorkflowHandler{
		jobs:   jobs,
		secret: []byte(secret),
		logger: logger,
	}
}

// HandleCallback handles POST /api/v1/workflow/callback
func (h *WorkflowHandler) HandleCallback(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := observability.ForRequest(ctx, h.logger)

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxRequestBody))
	if err != nil {
		_ = utils.WriteBadRequest(w, "Invalid request body", nil)
		return
	}

	if len(h.secret) == 0 || !dispatch.Verify(h.secret, body, r.Header.Get(dispatch.SignatureHeader)) {
		logger.Warn("workflow callback signature rejected")
		_ = utils.WriteUnauthorized(w, "Invalid signature")
		return
	}

	var req CallbackRequest
	if err := json.Unmarshal(body, &req); err != nil {
		_ = utils.WriteBadRequest(w, "Invalid request body", nil)
		return
	}
	if err := utils.ValidateStruct(req); err != nil {
		HandleValidationError(w, err, logger)
		return
	}

	logger = logger.With(zap.String("correlation_id", req.CorrelationID))

	job, err := h.jobs.GetByCorrelationID(ctx, req.CorrelationID)
	if err != nil {
		HandleServiceError(w, err, logger)
		return
	}
	if job == nil {
		logger.Warn("workflow callback for unknown job")
		_ = utils.WriteNotFound(w, "Audit job not found")
		return
	}

	update := repositories.JobUpdate{
		Status:       &req.Status,
		ScoreGlobal:  req.Score,
		ResultsJSON:  req.Results,
		ErrorMessage: req.ErrorMessage,
	}
	updated, err := h.jobs.Update(ctx, job.ID, update)
	if err != nil {
		HandleServiceError(w, err, logger)
		return
	}

	logger.Info("audit job updated from workflow",
		zap.String("job_id", updated.ID.String()),
		zap.String("status", updated.Status))

	_ = utils.WriteOK(w, updated)
}
