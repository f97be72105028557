// Package admission admits audit submissions against a tenant's quota:
// batch uploads from CSV and single-site requests.
package admission

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/upb/audit-quota/models"
	"github.com/upb/audit-quota/repositories"
	"github.com/upb/audit-quota/services"
	"github.com/upb/audit-quota/services/dispatch"
	"github.com/upb/audit-quota/services/ingest"
	"github.com/upb/audit-quota/services/jobs"
	"github.com/upb/audit-quota/services/quota"
	"github.com/upb/audit-quota/utils"
)

// AbortedMessage is recorded on jobs of a batch that failed admission
const AbortedMessage = "batch admission aborted"

// Ledger is the quota ledger as seen by admission
type Ledger interface {
	Admit(ctx context.Context, tenantKey string, units int) (*quota.Decision, error)
	Increment(ctx context.Context, tenantKey string, units int) error
}

// JobStore creates and updates audit jobs
type JobStore interface {
	Create(ctx context.Context, req jobs.NewJob) (*models.AuditJob, error)
	Update(ctx context.Context, id uuid.UUID, update repositories.JobUpdate) (*models.AuditJob, error)
	SyncUser(ctx context.Context, userID, email, fullName string)
}

// Enqueuer hands workflow messages to the background dispatcher
type Enqueuer interface {
	Enqueue(msg dispatch.Message) error
}

// Config holds admission limits
type Config struct {
	MaxBatchRows       int
	MinutesPerAudit    int
	MaxParallelInserts int
}

// BatchRequest is a CSV batch submission
type BatchRequest struct {
	CSVData   string `json:"csvData" validate:"required,min=10"`
	BatchName string `json:"batchName"`
}

// SingleRequest is a single-site submission
type SingleRequest struct {
	URL   string `json:"url" validate:"required,url"`
	Email string `json:"email" validate:"required,email"`
}

// AuditSummary describes one created job
type AuditSummary struct {
	ID     string `json:"id"`
	URL    string `json:"url"`
	Status string `json:"status"`
}

// QuotaSnapshot is the ledger after admission
type QuotaSnapshot struct {
	Used      int `json:"used"`
	Total     int `json:"total"`
	Remaining int `json:"remaining"`
}

// Subscription is the tenant's billing state
type Subscription struct {
	Tier       string `json:"tier"`
	Subscribed bool   `json:"subscribed"`
}

// BatchResult is returned by a successful batch admission
type BatchResult struct {
	Success        bool           `json:"success"`
	Message        string         `json:"message"`
	BatchID        string         `json:"batchId"`
	TotalProspects int            `json:"totalProspects"`
	EstimatedTime  string         `json:"estimatedTime"`
	Audits         []AuditSummary `json:"audits"`
	Quota          QuotaSnapshot  `json:"quota"`
	Subscription   Subscription   `json:"subscription"`
}

// SingleResult is returned by a successful single admission
type SingleResult struct {
	Success       bool          `json:"success"`
	Message       string        `json:"message"`
	JobID         string        `json:"jobId"`
	CorrelationID string        `json:"correlationId"`
	EstimatedTime string        `json:"estimatedTime"`
	Quota         QuotaSnapshot `json:"quota"`
	Subscription  Subscription  `json:"subscription"`
}

// Service runs the admission pipelines
type Service struct {
	ledger     Ledger
	jobs       JobStore
	dispatcher Enqueuer
	cfg        Config
	logger     *zap.Logger
	now        func() time.Time
	newToken   func() string
}

// NewService creates a new admission service. dispatcher may be nil.
func NewService(ledger Ledger, jobStore JobStore, dispatcher Enqueuer, cfg Config, logger *zap.Logger) *Service {
	if cfg.MaxBatchRows <= 0 {
		cfg.MaxBatchRows = ingest.MaxBatchRows
	}
	if cfg.MinutesPerAudit <= 0 {
		cfg.MinutesPerAudit = 2
	}
	if cfg.MaxParallelInserts <= 0 {
		cfg.MaxParallelInserts = 10
	}

	return &Service{
		ledger:     ledger,
		jobs:       jobStore,
		dispatcher: dispatcher,
		cfg:        cfg,
		logger:     logger,
		now:        time.Now,
		newToken:   newToken,
	}
}

// newToken returns a random id without dashes or underscores
func newToken() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

// AdmitBatch parses the CSV, checks the quota for every prospect at once,
// creates one bulk job per prospect and records the usage in one increment.
// Either every job is created and counted or the call fails.
func (s *Service) AdmitBatch(ctx context.Context, tenant models.Tenant, req BatchRequest) (*BatchResult, error) {
	if err := validate(req); err != nil {
		return nil, err
	}

	prospects, err := ingest.ParseProspectsCapped(req.CSVData, s.cfg.MaxBatchRows)
	if err != nil {
		return nil, err
	}
	if len(prospects) == 0 {
		return nil, services.NewValidationError("CSV contains no rows with a url",
			map[string]string{"csvData": "no rows with a url"})
	}
	n := len(prospects)

	key := tenant.QuotaKey()
	decision, err := s.ledger.Admit(ctx, key, n)
	if err != nil {
		return nil, err
	}
	if !decision.Allowed {
		s.logger.Info("batch denied by quota",
			zap.String("tenant", key),
			zap.Int("requested", n),
			zap.Int("available", decision.Available))
		return nil, decision.Err()
	}

	batchID := "batch_" + s.newToken()
	logger := s.logger.With(zap.String("batch_id", batchID), zap.String("user_id", tenant.UserID))

	s.jobs.SyncUser(ctx, tenant.UserID, tenant.Email, tenant.Name)

	created, err := s.createBatchJobs(ctx, tenant, batchID, prospects)
	if err != nil {
		logger.Error("batch job creation failed", zap.Error(err))
		s.abort(ctx, created, logger)
		if errors.Is(err, services.ErrStoreUnavailable) {
			return nil, err
		}
		return nil, services.WrapInternal("batch admission failed", err)
	}

	if err := s.ledger.Increment(ctx, key, n); err != nil {
		logger.Error("failed to record batch usage", zap.Int("units", n), zap.Error(err))
		s.abort(ctx, created, logger)
		return nil, err
	}

	msg, err := dispatch.NewBatchMessage(dispatch.BatchPayload{
		UserID:        tenant.UserID,
		CSVData:       req.CSVData,
		BatchName:     req.BatchName,
		OrgSlug:       tenant.OrgSlug,
		CorrelationID: batchID,
	}, s.now())
	s.enqueue(msg, err, logger)

	audits := make([]AuditSummary, n)
	for i, job := range created {
		audits[i] = AuditSummary{ID: job.ID.String(), URL: prospects[i].URL, Status: job.Status}
	}

	used := decision.Used + n
	logger.Info("batch admitted", zap.Int("prospects", n), zap.Int("quota_used", used))

	return &BatchResult{
		Success:        true,
		Message:        "Batch started",
		BatchID:        batchID,
		TotalProspects: n,
		EstimatedTime:  fmt.Sprintf("%d minutes", n*s.cfg.MinutesPerAudit),
		Audits:         audits,
		Quota:          snapshot(decision.Total, used),
		Subscription:   subscription(decision),
	}, nil
}

// createBatchJobs inserts one job per prospect concurrently. Every insert is
// attempted; created[i] is nil where insert i failed.
func (s *Service) createBatchJobs(ctx context.Context, tenant models.Tenant, batchID string, prospects []ingest.Prospect) ([]*models.AuditJob, error) {
	created := make([]*models.AuditJob, len(prospects))

	var g errgroup.Group
	g.SetLimit(s.cfg.MaxParallelInserts)

	for i, p := range prospects {
		g.Go(func() error {
			job, err := s.jobs.Create(ctx, jobs.NewJob{
				UserID:         tenant.UserID,
				URL:            p.URL,
				Email:          p.Email,
				AuditType:      models.AuditTypeBulk,
				WebhookID:      batchID + "_" + s.newToken(),
				DeliveryMethod: models.DeliveryDashboard,
			})
			if err != nil {
				return fmt.Errorf("prospect %s: %w", p.URL, err)
			}
			created[i] = job
			return nil
		})
	}

	return created, g.Wait()
}

// abort marks the jobs of a failed batch as failed. Errors are only logged.
func (s *Service) abort(ctx context.Context, created []*models.AuditJob, logger *zap.Logger) {
	failed := models.JobStatusFailed
	message := AbortedMessage

	var aborted atomic.Int32
	var g errgroup.Group
	g.SetLimit(s.cfg.MaxParallelInserts)

	for _, job := range created {
		if job == nil {
			continue
		}
		g.Go(func() error {
			_, err := s.jobs.Update(ctx, job.ID, repositories.JobUpdate{Status: &failed, ErrorMessage: &message})
			if err != nil {
				logger.Warn("failed to mark job aborted", zap.String("job_id", job.ID.String()), zap.Error(err))
				return nil
			}
			aborted.Add(1)
			return nil
		})
	}
	_ = g.Wait()

	logger.Info("batch aborted", zap.Int32("jobs_marked_failed", aborted.Load()))
}

// AdmitSingle admits one audit of the tenant
func (s *Service) AdmitSingle(ctx context.Context, tenant models.Tenant, req SingleRequest) (*SingleResult, error) {
	if err := validate(req); err != nil {
		return nil, err
	}

	key := tenant.QuotaKey()
	decision, err := s.ledger.Admit(ctx, key, 1)
	if err != nil {
		return nil, err
	}
	if !decision.Allowed {
		s.logger.Info("single audit denied by quota", zap.String("tenant", key))
		return nil, decision.Err()
	}

	correlationID := s.newToken()
	logger := s.logger.With(zap.String("correlation_id", correlationID), zap.String("user_id", tenant.UserID))

	s.jobs.SyncUser(ctx, tenant.UserID, tenant.Email, tenant.Name)

	job, err := s.jobs.Create(ctx, jobs.NewJob{
		UserID:         tenant.UserID,
		URL:            req.URL,
		Email:          req.Email,
		AuditType:      models.AuditTypeManual,
		WebhookID:      correlationID,
		DeliveryMethod: models.DeliveryDashboard,
	})
	if err != nil {
		return nil, err
	}

	if err := s.ledger.Increment(ctx, key, 1); err != nil {
		logger.Error("failed to record single audit usage", zap.Error(err))
		s.abort(ctx, []*models.AuditJob{job}, logger)
		return nil, err
	}

	msg, err := dispatch.NewSingleMessage(dispatch.SinglePayload{
		URL:           req.URL,
		Email:         req.Email,
		UserID:        tenant.UserID,
		OrgSlug:       tenant.OrgSlug,
		CorrelationID: correlationID,
	})
	s.enqueue(msg, err, logger)

	logger.Info("single audit admitted", zap.String("job_id", job.ID.String()))

	return &SingleResult{
		Success:       true,
		Message:       "Audit started",
		JobID:         job.ID.String(),
		CorrelationID: correlationID,
		EstimatedTime: fmt.Sprintf("%d-%d minutes", s.cfg.MinutesPerAudit, s.cfg.MinutesPerAudit+1),
		Quota:         snapshot(decision.Total, decision.Used+1),
		Subscription:  subscription(decision),
	}, nil
}

// enqueue hands msg to the dispatcher. Admission never fails on dispatch.
func (s *Service) enqueue(msg dispatch.Message, buildErr error, logger *zap.Logger) {
	if buildErr != nil {
		logger.Error("failed to build workflow message", zap.Error(buildErr))
		return
	}
	if s.dispatcher == nil {
		logger.Warn("no dispatcher configured, workflow not triggered")
		return
	}
	if err := s.dispatcher.Enqueue(msg); err != nil {
		logger.Warn("workflow message not queued", zap.Error(err))
	}
}

func validate(req interface{}) error {
	if err := utils.ValidateStruct(req); err != nil {
		return services.NewValidationError("Validation failed", utils.GetValidationFields(err))
	}
	return nil
}

func snapshot(total, used int) QuotaSnapshot {
	return QuotaSnapshot{Used: used, Total: total, Remaining: total - used}
}

func subscription(d *quota.Decision) Subscription {
	return Subscription{Tier: string(d.Tier), Subscribed: d.Subscribed}
}
