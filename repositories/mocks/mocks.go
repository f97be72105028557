// Package mocks provides testify mocks of the repository interfaces.
package mocks

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"

	"github.com/upb/audit-quota/models"
	"github.com/upb/audit-quota/repositories"
)

// SubscriberRepository is a mock of repositories.SubscriberRepository
type SubscriberRepository struct {
	mock.Mock
}

func (m *SubscriberRepository) GetByEmail(ctx context.Context, email string) (*models.Subscriber, error) {
	args := m.Called(ctx, email)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Subscriber), args.Error(1)
}

func (m *SubscriberRepository) IncrementQuotaUsed(ctx context.Context, email string, units int) error {
	args := m.Called(ctx, email, units)
	return args.Error(0)
}

func (m *SubscriberRepository) SetQuotaUsed(ctx context.Context, email string, used int) (*models.Subscriber, error) {
	args := m.Called(ctx, email, used)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Subscriber), args.Error(1)
}

func (m *SubscriberRepository) CreateDefault(ctx context.Context, email string, monthlyQuota, used int) (*models.Subscriber, error) {
	args := m.Called(ctx, email, monthlyQuota, used)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Subscriber), args.Error(1)
}

// AuditJobRepository is a mock of repositories.AuditJobRepository
type AuditJobRepository struct {
	mock.Mock
}

func (m *AuditJobRepository) Create(ctx context.Context, job *models.AuditJob) (*models.AuditJob, error) {
	args := m.Called(ctx, job)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.AuditJob), args.Error(1)
}

func (m *AuditJobRepository) Update(ctx context.Context, id uuid.UUID, update repositories.JobUpdate) (*models.AuditJob, error) {
	args := m.Called(ctx, id, update)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.AuditJob), args.Error(1)
}

func (m *AuditJobRepository) GetByWebhookID(ctx context.Context, webhookID string) (*models.AuditJob, error) {
	args := m.Called(ctx, webhookID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.AuditJob), args.Error(1)
}

func (m *AuditJobRepository) ListByOwner(ctx context.Context, userID string) ([]*models.AuditJob, error) {
	args := m.Called(ctx, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*models.AuditJob), args.Error(1)
}

func (m *AuditJobRepository) CountSince(ctx context.Context, userID string, since time.Time) (int, error) {
	args := m.Called(ctx, userID, since)
	return args.Int(0), args.Error(1)
}

// ProfileRepository is a mock of repositories.ProfileRepository
type ProfileRepository struct {
	mock.Mock
}

func (m *ProfileRepository) GetByUserID(ctx context.Context, userID string) (*models.Profile, error) {
	args := m.Called(ctx, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Profile), args.Error(1)
}

func (m *ProfileRepository) Create(ctx context.Context, profile *models.Profile) error {
	args := m.Called(ctx, profile)
	return args.Error(0)
}

// TransactionManager runs InTransaction callbacks inline with a nil transaction
type TransactionManager struct {
	mock.Mock
}

func (m *TransactionManager) Begin(ctx context.Context) (repositories.Transaction, error) {
	args := m.Called(ctx)
	if tx := args.Get(0); tx != nil {
		return tx.(repositories.Transaction), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *TransactionManager) InTransaction(ctx context.Context, fn func(ctx context.Context, tx repositories.Transaction) error) error {
	m.Called(ctx)
	return fn(ctx, nil)
}

// Repositories bundles fresh mocks into a repositories.Repositories
type Repositories struct {
	Subscribers  *SubscriberRepository
	AuditJobs    *AuditJobRepository
	Profiles     *ProfileRepository
	Transactions *TransactionManager
}

// New returns a set of empty mocks
func New() *Repositories {
	return &Repositories{
		Subscribers:  new(SubscriberRepository),
		AuditJobs:    new(AuditJobRepository),
		Profiles:     new(ProfileRepository),
		Transactions: new(TransactionManager),
	}
}

// Repos returns the mocks as the repository aggregate consumed by services
func (r *Repositories) Repos() *repositories.Repositories {
	return &repositories.Repositories{
		Subscribers:  r.Subscribers,
		AuditJobs:    r.AuditJobs,
		Profiles:     r.Profiles,
		Transactions: r.Transactions,
	}
}

// AssertExpectations asserts every mock in the set
func (r *Repositories) AssertExpectations(t mock.TestingT) {
	r.Subscribers.AssertExpectations(t)
	r.AuditJobs.AssertExpectations(t)
	r.Profiles.AssertExpectations(t)
	r.Transactions.AssertExpectations(t)
}
