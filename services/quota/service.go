package quota

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/upb/audit-quota/models"
	"github.com/upb/audit-quota/repositories"
	"github.com/upb/audit-quota/services"
)

const (
	// DefaultMonthlyQuota is the allowance of tenants without a subscriber row
	DefaultMonthlyQuota = 10

	// DefaultTier is the tier of tenants without a subscriber row
	DefaultTier = models.TierFree
)

// Status is a read-only snapshot of a tenant's ledger
type Status struct {
	Used            int                     `json:"used"`
	Total           int                     `json:"total"`
	Remaining       int                     `json:"remaining"`
	Tier            models.SubscriptionTier `json:"tier"`
	Subscribed      bool                    `json:"subscribed"`
	Exceeded        bool                    `json:"exceeded"`
	ResetDate       *time.Time              `json:"reset_date,omitempty"`
	SubscriptionEnd *time.Time              `json:"subscription_end,omitempty"`
}

// Decision is the outcome of an admission check
type Decision struct {
	Allowed    bool
	Total      int
	Used       int
	Requested  int
	Available  int
	Tier       models.SubscriptionTier
	Subscribed bool
}

// Err returns nil for an admitted request and a quota_exceeded DomainError otherwise
func (d *Decision) Err() error {
	if d.Allowed {
		return nil
	}
	return services.NewQuotaExceededError(d.Total, d.Used, d.Requested, d.Available, string(d.Tier))
}

// Service is the quota ledger. A nil subscriber repository means no record
// store is configured: reads fall back to the default allowance and writes fail.
type Service struct {
	subscribers  repositories.SubscriberRepository
	txManager    repositories.TransactionManager
	defaultQuota int
	logger       *zap.Logger
}

// NewService creates a new quota ledger. repos may be nil.
func NewService(repos *repositories.Repositories, defaultQuota int, logger *zap.Logger) *Service {
	s := &Service{
		defaultQuota: defaultQuota,
		logger:       logger,
	}
	if repos != nil {
		s.subscribers = repos.Subscribers
		s.txManager = repos.Transactions
	}
	return s
}

func (s *Service) defaultStatus() *Status {
	return &Status{
		Used:      0,
		Total:     s.defaultQuota,
		Remaining: s.defaultQuota,
		Tier:      DefaultTier,
	}
}

// Status returns the tenant's ledger snapshot. Unknown tenants, a missing
// store and read failures all yield the default free-tier allowance.
func (s *Service) Status(ctx context.Context, tenantKey string) (*Status, error) {
	if s.subscribers == nil {
		return s.defaultStatus(), nil
	}

	sub, err := s.subscribers.GetByEmail(ctx, tenantKey)
	if err != nil {
		s.logger.Warn("failed to read subscriber, using default quota",
			zap.String("tenant", tenantKey),
			zap.Error(err))
		return s.defaultStatus(), nil
	}
	if sub == nil {
		return s.defaultStatus(), nil
	}

	used := sub.Used()
	total := sub.Allowance()
	return &Status{
		Used:            used,
		Total:           total,
		Remaining:       max(0, total-used),
		Tier:            sub.Tier(),
		Subscribed:      sub.Subscribed,
		Exceeded:        used >= total,
		ResetDate:       sub.QuotaResetDate,
		SubscriptionEnd: sub.SubscriptionEnd,
	}, nil
}

// Admit decides whether units more audits fit in the tenant's allowance.
// The check is not atomic with a later Increment.
func (s *Service) Admit(ctx context.Context, tenantKey string, units int) (*Decision, error) {
	if units < 0 {
		return nil, services.NewValidationError("requested units must not be negative", nil)
	}

	status, err := s.Status(ctx, tenantKey)
	if err != nil {
		return nil, err
	}

	return evaluate(status, units), nil
}

func evaluate(status *Status, units int) *Decision {
	return &Decision{
		Allowed:    status.Used+units <= status.Total,
		Total:      status.Total,
		Used:       status.Used,
		Requested:  units,
		Available:  max(0, status.Total-status.Used),
		Tier:       status.Tier,
		Subscribed: status.Subscribed,
	}
}

// Increment adds units to quota_used. It tries the atomic stored procedure
// first and falls back to a read-modify-write, which can lose updates when
// the same tenant is incremented concurrently. Tenants without a row get a
// default free-tier row, so the allowance Status reports for them is usable.
func (s *Service) Increment(ctx context.Context, tenantKey string, units int) error {
	if s.subscribers == nil {
		return services.WrapError(services.ErrorTypeStoreUnavailable, "cannot record quota usage", services.ErrStoreUnavailable)
	}

	err := s.subscribers.IncrementQuotaUsed(ctx, tenantKey, units)
	if err == nil {
		return nil
	}

	s.logger.Warn("atomic quota increment failed, falling back to read-modify-write",
		zap.String("tenant", tenantKey),
		zap.Int("units", units),
		zap.Error(err))

	fallback := func(ctx context.Context) error {
		sub, err := s.subscribers.GetByEmail(ctx, tenantKey)
		if err != nil {
			return services.WrapInternal("failed to read quota", err)
		}
		if sub == nil {
			if _, err := s.subscribers.CreateDefault(ctx, tenantKey, s.defaultQuota, units); err != nil {
				return services.WrapInternal("failed to write quota", err)
			}
			return nil
		}
		if _, err := s.subscribers.SetQuotaUsed(ctx, tenantKey, sub.Used()+units); err != nil {
			return services.WrapInternal("failed to write quota", err)
		}
		return nil
	}

	if s.txManager == nil {
		return fallback(ctx)
	}
	return s.txManager.InTransaction(ctx, func(txCtx context.Context, _ repositories.Transaction) error {
		return fallback(txCtx)
	})
}

// Reserve admits and, when allowed, records units in one call.
// Denials return the decision together with its quota_exceeded error.
//
// TODO: fold the check into increment_quota_used as a conditional UPDATE so
// concurrent reservations for one tenant cannot overshoot the allowance.
func (s *Service) Reserve(ctx context.Context, tenantKey string, units int) (*Decision, error) {
	decision, err := s.Admit(ctx, tenantKey, units)
	if err != nil {
		return nil, err
	}
	if !decision.Allowed {
		return decision, decision.Err()
	}
	if err := s.Increment(ctx, tenantKey, units); err != nil {
		return nil, err
	}
	return decision, nil
}
