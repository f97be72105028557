package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/upb/audit-quota/models"
	"github.com/upb/audit-quota/repositories"
)

// undefinedFunction is the SQLSTATE raised when a called function does not exist
const undefinedFunction pq.ErrorCode = "42883"

const subscriberColumns = `id, email, monthly_quota, quota_used, subscription_tier, subscribed,
		       quota_reset_date, subscription_end, created_at, updated_at`

// SubscriberRepository implements the repositories.SubscriberRepository interface
type SubscriberRepository struct {
	db     *DB
	logger *zap.Logger
}

// NewSubscriberRepository creates a new subscriber repository
func NewSubscriberRepository(db *DB, logger *zap.Logger) repositories.SubscriberRepository {
	return &SubscriberRepository{
		db:     db,
		logger: logger,
	}
}

// GetByEmail retrieves a subscriber by email
func (r *SubscriberRepository) GetByEmail(ctx context.Context, email string) (*models.Subscriber, error) {
	query := `
		SELECT ` + subscriberColumns + `
		FROM subscribers
		WHERE email = $1
	`

	executor := GetExecutor(ctx, r.db)
	sub, err := scanSubscriber(executor.QueryRowContext(ctx, query, email))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get subscriber: %w", err)
	}

	return sub, nil
}

// IncrementQuotaUsed calls the increment_quota_used procedure
func (r *SubscriberRepository) IncrementQuotaUsed(ctx context.Context, email string, units int) error {
	query := `SELECT increment_quota_used($1, $2)`

	executor := GetExecutor(ctx, r.db)
	if _, err := executor.ExecContext(ctx, query, email, units); err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == undefinedFunction {
			return fmt.Errorf("increment_quota_used: %w", repositories.ErrProcedureUnavailable)
		}
		return fmt.Errorf("failed to increment quota: %w", err)
	}

	r.logger.Debug("quota incremented", zap.String("email", email), zap.Int("units", units))
	return nil
}

// SetQuotaUsed overwrites quota_used and returns the updated row
func (r *SubscriberRepository) SetQuotaUsed(ctx context.Context, email string, used int) (*models.Subscriber, error) {
	query := `
		UPDATE subscribers
		SET quota_used = $2, updated_at = CURRENT_TIMESTAMP
		WHERE email = $1
		RETURNING ` + subscriberColumns

	executor := GetExecutor(ctx, r.db)
	sub, err := scanSubscriber(executor.QueryRowContext(ctx, query, email, used))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("subscriber %s: %w", email, repositories.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to update quota: %w", err)
	}

	return sub, nil
}

// CreateDefault inserts a free-tier subscriber, or adds used to an existing row
func (r *SubscriberRepository) CreateDefault(ctx context.Context, email string, monthlyQuota, used int) (*models.Subscriber, error) {
	query := `
		INSERT INTO subscribers (email, monthly_quota, quota_used, subscription_tier)
		VALUES ($1, $2, $3, 'free')
		ON CONFLICT (email) DO UPDATE
		SET quota_used = COALESCE(subscribers.quota_used, 0) + EXCLUDED.quota_used,
		    updated_at = CURRENT_TIMESTAMP
		RETURNING ` + subscriberColumns

	executor := GetExecutor(ctx, r.db)
	sub, err := scanSubscriber(executor.QueryRowContext(ctx, query, email, monthlyQuota, used))
	if err != nil {
		return nil, fmt.Errorf("failed to create subscriber: %w", err)
	}

	r.logger.Info("default subscriber created", zap.String("email", email), zap.Int("used", used))
	return sub, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanSubscriber(row rowScanner) (*models.Subscriber, error) {
	sub := &models.Subscriber{}
	var (
		monthlyQuota, quotaUsed sql.NullInt64
		tier                    sql.NullString
		resetDate, subEnd       sql.NullTime
	)

	err := row.Scan(
		&sub.ID,
		&sub.Email,
		&monthlyQuota,
		&quotaUsed,
		&tier,
		&sub.Subscribed,
		&resetDate,
		&subEnd,
		&sub.CreatedAt,
		&sub.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if monthlyQuota.Valid {
		v := int(monthlyQuota.Int64)
		sub.MonthlyQuota = &v
	}
	if quotaUsed.Valid {
		v := int(quotaUsed.Int64)
		sub.QuotaUsed = &v
	}
	if tier.Valid {
		sub.SubscriptionTier = &tier.String
	}
	if resetDate.Valid {
		sub.QuotaResetDate = &resetDate.Time
	}
	if subEnd.Valid {
		sub.SubscriptionEnd = &subEnd.Time
	}

	return sub, nil
}
