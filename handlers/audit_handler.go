package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/upb/audit-quota/internal/observability"
	"github.com/upb/audit-quota/middleware"
	"github.com/upb/audit-quota/models"
	"github.com/upb/audit-quota/services/admission"
	"github.com/upb/audit-quota/services/quota"
	"github.com/upb/audit-quota/services/status"
	"github.com/upb/audit-quota/utils"
)

// maxRequestBody caps JSON bodies, CSV uploads included
const maxRequestBody = 1 << 20

// Admitter runs the admission pipelines
type Admitter interface {
	AdmitBatch(ctx context.Context, tenant models.Tenant, req admission.BatchRequest) (*admission.BatchResult, error)
	AdmitSingle(ctx context.Context, tenant models.Tenant, req admission.SingleRequest) (*admission.SingleResult, error)
}

// StatusAggregator builds the dashboard report
type StatusAggregator interface {
	Aggregate(ctx context.Context, tenant models.Tenant) (*status.Report, error)
}

// QuotaReader reads a tenant's quota
type QuotaReader interface {
	Status(ctx context.Context, tenantKey string) (*quota.Status, error)
}

// MonthlyCounter counts a user's jobs in the current month
type MonthlyCounter interface {
	MonthlyCount(ctx context.Context, ownerID string, now time.Time) int
}

// StatusResponse is the status endpoint body
type StatusResponse struct {
	Success bool `json:"success"`
	*status.Report
}

// QuotaResponse is the quota endpoint body
type QuotaResponse struct {
	Success       bool          `json:"success"`
	Quota         *quota.Status `json:"quota"`
	MonthlyAudits int           `json:"monthly_audits"`
}

// AuditHandler handles audit admission and reporting requests
type AuditHandler struct {
	admitter   Admitter
	aggregator StatusAggregator
	quota      QuotaReader
	counter    MonthlyCounter
	logger     *zap.Logger
	now        func() time.Time
}

// NewAuditHandler creates a new AuditHandler
func NewAuditHandler(admitter Admitter, aggregator StatusAggregator, quota QuotaReader, counter MonthlyCounter, logger *zap.Logger) *AuditHandler {
	return &AuditHandler{
		admitter:   admitter,
		aggregator: aggregator,
		quota:      quota,
		counter:    counter,
		logger:     logger,
		now:        time.Now,
	}
}

// HandleBatch handles POST /api/v1/orgs/{orgSlug}/audits/batch
func (h *AuditHandler) HandleBatch(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := observability.ForRequest(ctx, h.logger)

	tenant, ok := h.tenant(w, r)
	if !ok {
		return
	}

	var req admission.BatchRequest
	if !h.decode(w, r, &req, logger) {
		return
	}

	result, err := h.admitter.AdmitBatch(ctx, tenant, req)
	if err != nil {
		HandleServiceError(w, err, logger)
		return
	}

	logger.Info("batch admitted",
		zap.String("batch_id", result.BatchID),
		zap.Int("prospects", result.TotalProspects))

	if err := utils.WriteJSON(w, http.StatusOK, result); err != nil {
		logger.Error("failed to write response", zap.Error(err))
	}
}

// HandleSingle handles POST /api/v1/orgs/{orgSlug}/audits/single
func (h *AuditHandler) HandleSingle(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := observability.ForRequest(ctx, h.logger)

	tenant, ok := h.tenant(w, r)
	if !ok {
		return
	}

	var req admission.SingleRequest
	if !h.decode(w, r, &req, logger) {
		return
	}

	result, err := h.admitter.AdmitSingle(ctx, tenant, req)
	if err != nil {
		HandleServiceError(w, err, logger)
		return
	}

	logger.Info("audit admitted",
		zap.String("job_id", result.JobID),
		zap.String("correlation_id", result.CorrelationID))

	if err := utils.WriteJSON(w, http.StatusOK, result); err != nil {
		logger.Error("failed to write response", zap.Error(err))
	}
}

// HandleStatus handles GET /api/v1/orgs/{orgSlug}/audits/status
func (h *AuditHandler) HandleStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := observability.ForRequest(ctx, h.logger)

	tenant, ok := h.tenant(w, r)
	if !ok {
		return
	}

	report, err := h.aggregator.Aggregate(ctx, tenant)
	if err != nil {
		HandleServiceError(w, err, logger)
		return
	}

	if err := utils.WriteJSON(w, http.StatusOK, StatusResponse{Success: true, Report: report}); err != nil {
		logger.Error("failed to write response", zap.Error(err))
	}
}

// HandleQuota handles GET /api/v1/orgs/{orgSlug}/quota
func (h *AuditHandler) HandleQuota(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := observability.ForRequest(ctx, h.logger)

	tenant, ok := h.tenant(w, r)
	if !ok {
		return
	}

	q, err := h.quota.Status(ctx, tenant.QuotaKey())
	if err != nil {
		HandleServiceError(w, err, logger)
		return
	}

	resp := QuotaResponse{
		Success:       true,
		Quota:         q,
		MonthlyAudits: h.counter.MonthlyCount(ctx, tenant.UserID, h.now()),
	}
	if err := utils.WriteJSON(w, http.StatusOK, resp); err != nil {
		logger.Error("failed to write response", zap.Error(err))
	}
}

func (h *AuditHandler) tenant(w http.ResponseWriter, r *http.Request) (models.Tenant, bool) {
	tenant, ok := middleware.TenantFromContext(r.Context())
	if !ok {
		h.logger.Error("missing tenant in context",
			zap.String("request_id", middleware.GetRequestIDFromContext(r.Context())))
		_ = utils.WriteUnauthorized(w, "Unauthorized")
	}
	return tenant, ok
}

func (h *AuditHandler) decode(w http.ResponseWriter, r *http.Request, dst interface{}, logger *zap.Logger) bool {
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody)).Decode(dst); err != nil {
		logger.Warn("failed to decode request body", zap.Error(err))
		_ = utils.WriteBadRequest(w, "Invalid request body", nil)
		return false
	}
	return true
}
