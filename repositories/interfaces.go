package repositories

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/upb/audit-quota/models"
)

var (
	// ErrNotFound is returned by updates addressing a missing row
	ErrNotFound = errors.New("record not found")

	// ErrProcedureUnavailable is returned when a stored procedure is not installed
	ErrProcedureUnavailable = errors.New("stored procedure unavailable")
)

// TransactionManager manages database transactions
type TransactionManager interface {
	// Begin starts a new transaction
	Begin(ctx context.Context) (Transaction, error)

	// InTransaction executes a function within a transaction.
	// The ctx passed to fn carries the transaction; repositories called with
	// it run on the same connection. Commits on success, rolls back on error.
	InTransaction(ctx context.Context, fn func(ctx context.Context, tx Transaction) error) error
}

// Transaction represents a database transaction
type Transaction interface {
	// Commit commits the transaction
	Commit() error

	// Rollback rolls back the transaction
	Rollback() error

	// Context returns the transaction context
	Context() context.Context
}

// SubscriberRepository handles the quota ledger rows
type SubscriberRepository interface {
	// GetByEmail retrieves a subscriber by tenant email.
	// Returns (nil, nil) when no row exists.
	GetByEmail(ctx context.Context, email string) (*models.Subscriber, error)

	// IncrementQuotaUsed atomically adds units through the
	// increment_quota_used stored procedure
	IncrementQuotaUsed(ctx context.Context, email string, units int) error

	// SetQuotaUsed overwrites quota_used and returns the updated row
	SetQuotaUsed(ctx context.Context, email string, used int) (*models.Subscriber, error)

	// CreateDefault inserts a free-tier row with the given allowance and usage.
	// If a row for email already exists, used is added to its quota_used.
	CreateDefault(ctx context.Context, email string, monthlyQuota, used int) (*models.Subscriber, error)
}

// JobUpdate carries the mutable fields of an audit job. Nil fields are left unchanged.
type JobUpdate struct {
	Status       *string
	ResultsJSON  json.RawMessage
	ScoreGlobal  *float64
	ErrorMessage *string
	CompletedAt  *time.Time
}

// AuditJobRepository handles audit job records
type AuditJobRepository interface {
	// Create inserts a job and returns the stored row
	Create(ctx context.Context, job *models.AuditJob) (*models.AuditJob, error)

	// Update applies a JobUpdate and returns the stored row
	Update(ctx context.Context, id uuid.UUID, update JobUpdate) (*models.AuditJob, error)

	// GetByWebhookID retrieves a job by correlation id.
	// Returns (nil, nil) when no row exists.
	GetByWebhookID(ctx context.Context, webhookID string) (*models.AuditJob, error)

	// ListByOwner retrieves all jobs of a user, newest first
	ListByOwner(ctx context.Context, userID string) ([]*models.AuditJob, error)

	// CountSince counts the jobs a user created at or after since
	CountSince(ctx context.Context, userID string, since time.Time) (int, error)
}

// ProfileRepository handles user profile rows
type ProfileRepository interface {
	// GetByUserID retrieves a profile. Returns (nil, nil) when no row exists.
	GetByUserID(ctx context.Context, userID string) (*models.Profile, error)

	// Create inserts a profile
	Create(ctx context.Context, profile *models.Profile) error
}

// Repositories aggregates all repository interfaces.
// A nil *Repositories means no record store is configured.
type Repositories struct {
	Subscribers  SubscriberRepository
	AuditJobs    AuditJobRepository
	Profiles     ProfileRepository
	Transactions TransactionManager
}
