package jobs

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/upb/audit-quota/models"
	"github.com/upb/audit-quota/repositories"
	"github.com/upb/audit-quota/services"
	"github.com/upb/audit-quota/services/status"
)

// NewJob describes an audit job to create
type NewJob struct {
	UserID         string
	URL            string
	Email          string
	AuditType      models.AuditType
	WebhookID      string
	DeliveryMethod string
}

// Service creates, updates and reads audit jobs. When the record store is not
// configured, reads degrade to empty results and job writes fail.
type Service struct {
	jobs     repositories.AuditJobRepository
	profiles repositories.ProfileRepository
	logger   *zap.Logger
	now      func() time.Time
}

// NewService creates a new job service. repos may be nil.
func NewService(repos *repositories.Repositories, logger *zap.Logger) *Service {
	s := &Service{
		logger: logger,
		now:    time.Now,
	}
	if repos != nil {
		s.jobs = repos.AuditJobs
		s.profiles = repos.Profiles
	}
	return s
}

// Create inserts a pending job; audit type defaults to manual
func (s *Service) Create(ctx context.Context, req NewJob) (*models.AuditJob, error) {
	if s.jobs == nil {
		return nil, services.WrapError(services.ErrorTypeStoreUnavailable, "cannot create audit job", services.ErrStoreUnavailable)
	}

	job := models.NewAuditJob(req.UserID, req.URL, req.Email, req.AuditType, req.WebhookID)
	if req.DeliveryMethod != "" {
		dm := req.DeliveryMethod
		job.DeliveryMethod = &dm
	}

	stored, err := s.jobs.Create(ctx, job)
	if err != nil {
		return nil, services.WrapInternal("failed to create audit job", err)
	}
	return stored, nil
}

// Update applies status, results, score and error message to a job.
// Reaching a completed or failed status stamps completed_at.
func (s *Service) Update(ctx context.Context, id uuid.UUID, update repositories.JobUpdate) (*models.AuditJob, error) {
	if s.jobs == nil {
		return nil, services.WrapError(services.ErrorTypeStoreUnavailable, "cannot update audit job", services.ErrStoreUnavailable)
	}

	if update.Status != nil && update.CompletedAt == nil {
		switch status.Classify(*update.Status) {
		case status.Completed, status.Failed:
			now := s.now().UTC()
			update.CompletedAt = &now
		}
	}

	job, err := s.jobs.Update(ctx, id, update)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			return nil, services.WrapError(services.ErrorTypeNotFound, "audit job not found", err)
		}
		return nil, services.WrapInternal("failed to update audit job", err)
	}
	return job, nil
}

// GetByCorrelationID looks a job up by webhook id. Missing rows, a missing
// store and read errors all return (nil, nil).
func (s *Service) GetByCorrelationID(ctx context.Context, webhookID string) (*models.AuditJob, error) {
	if s.jobs == nil {
		s.logger.Warn("record store not configured, job lookup skipped")
		return nil, nil
	}

	job, err := s.jobs.GetByWebhookID(ctx, webhookID)
	if err != nil {
		s.logger.Error("failed to look up job by correlation id",
			zap.String("correlation_id", webhookID),
			zap.Error(err))
		return nil, nil
	}
	return job, nil
}

// ListForOwner returns the owner's jobs, newest first
func (s *Service) ListForOwner(ctx context.Context, ownerID string) ([]*models.AuditJob, error) {
	if s.jobs == nil {
		s.logger.Warn("record store not configured, returning no jobs")
		return []*models.AuditJob{}, nil
	}

	jobs, err := s.jobs.ListByOwner(ctx, ownerID)
	if err != nil {
		return nil, services.WrapInternal("failed to list audit jobs", err)
	}
	return jobs, nil
}

// MonthlyCount counts the owner's jobs since the first instant of now's month.
// Failures count as zero.
func (s *Service) MonthlyCount(ctx context.Context, ownerID string, now time.Time) int {
	if s.jobs == nil {
		return 0
	}

	startOfMonth := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, now.Location())
	n, err := s.jobs.CountSince(ctx, ownerID, startOfMonth)
	if err != nil {
		s.logger.Warn("failed to count monthly jobs", zap.String("user_id", ownerID), zap.Error(err))
		return 0
	}
	return n
}

// SyncUser makes sure a profile row exists for the user. It never fails the
// caller: problems are logged and swallowed.
func (s *Service) SyncUser(ctx context.Context, userID, email, fullName string) {
	if s.profiles == nil {
		s.logger.Warn("record store not configured, skipping user sync", zap.String("user_id", userID))
		return
	}

	existing, err := s.profiles.GetByUserID(ctx, userID)
	if err != nil {
		s.logger.Error("failed to read profile", zap.String("user_id", userID), zap.Error(err))
		return
	}
	if existing != nil {
		return
	}

	if err := s.profiles.Create(ctx, models.NewProfile(userID, email, fullName)); err != nil {
		s.logger.Error("failed to sync user profile", zap.String("user_id", userID), zap.Error(err))
	}
}
