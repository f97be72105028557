package postgres

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/upb/audit-quota/models"
	"github.com/upb/audit-quota/repositories"
)

func newMockDB(t *testing.T) (*DB, sqlmock.Sqlmock) {
	t.Helper()
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlDB.Close() })
	return Wrap(sqlDB, zap.NewNop()), mock
}

var subscriberCols = []string{
	"id", "email", "monthly_quota", "quota_used", "subscription_tier", "subscribed",
	"quota_reset_date", "subscription_end", "created_at", "updated_at",
}

var jobCols = []string{
	"id", "user_id", "url", "email", "status", "audit_type", "webhook_id", "delivery_method",
	"results_json", "score_global", "error_message", "is_public", "created_at", "updated_at", "completed_at",
}

func TestSubscriberRepository_GetByEmail(t *testing.T) {
	ctx := context.Background()
	now := time.Now()

	t.Run("found", func(t *testing.T) {
		db, mock := newMockDB(t)
		repo := NewSubscriberRepository(db, zap.NewNop())

		mock.ExpectQuery(regexp.QuoteMeta("FROM subscribers")).
			WithArgs("owner@acme.io").
			WillReturnRows(sqlmock.NewRows(subscriberCols).
				AddRow(uuid.New().String(), "owner@acme.io", 100, 5, "premium", true, nil, nil, now, now))

		sub, err := repo.GetByEmail(ctx, "owner@acme.io")
		require.NoError(t, err)
		require.NotNil(t, sub)
		assert.Equal(t, 100, sub.Allowance())
		assert.Equal(t, 5, sub.Used())
		assert.Equal(t, models.TierPremium, sub.Tier())
		assert.True(t, sub.Subscribed)
		assert.Nil(t, sub.QuotaResetDate)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("null counters", func(t *testing.T) {
		db, mock := newMockDB(t)
		repo := NewSubscriberRepository(db, zap.NewNop())

		mock.ExpectQuery(regexp.QuoteMeta("FROM subscribers")).
			WillReturnRows(sqlmock.NewRows(subscriberCols).
				AddRow(uuid.New().String(), "owner@acme.io", nil, nil, nil, false, nil, nil, now, now))

		sub, err := repo.GetByEmail(ctx, "owner@acme.io")
		require.NoError(t, err)
		assert.Nil(t, sub.MonthlyQuota)
		assert.Nil(t, sub.QuotaUsed)
		assert.Equal(t, models.TierFree, sub.Tier())
	})

	t.Run("missing row", func(t *testing.T) {
		db, mock := newMockDB(t)
		repo := NewSubscriberRepository(db, zap.NewNop())

		mock.ExpectQuery(regexp.QuoteMeta("FROM subscribers")).
			WillReturnRows(sqlmock.NewRows(subscriberCols))

		sub, err := repo.GetByEmail(ctx, "nobody@acme.io")
		assert.NoError(t, err)
		assert.Nil(t, sub)
	})

	t.Run("query error", func(t *testing.T) {
		db, mock := newMockDB(t)
		repo := NewSubscriberRepository(db, zap.NewNop())

		mock.ExpectQuery(regexp.QuoteMeta("FROM subscribers")).
			WillReturnError(errors.New("connection reset"))

		_, err := repo.GetByEmail(ctx, "owner@acme.io")
		assert.ErrorContains(t, err, "failed to get subscriber")
	})
}

func TestSubscriberRepository_IncrementQuotaUsed(t *testing.T) {
	ctx := context.Background()

	t.Run("calls the procedure", func(t *testing.T) {
		db, mock := newMockDB(t)
		repo := NewSubscriberRepository(db, zap.NewNop())

		mock.ExpectExec(regexp.QuoteMeta("SELECT increment_quota_used($1, $2)")).
			WithArgs("owner@acme.io", 3).
			WillReturnResult(sqlmock.NewResult(0, 1))

		require.NoError(t, repo.IncrementQuotaUsed(ctx, "owner@acme.io", 3))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("missing procedure", func(t *testing.T) {
		db, mock := newMockDB(t)
		repo := NewSubscriberRepository(db, zap.NewNop())

		mock.ExpectExec(regexp.QuoteMeta("increment_quota_used")).
			WillReturnError(&pq.Error{Code: "42883", Message: "function increment_quota_used does not exist"})

		err := repo.IncrementQuotaUsed(ctx, "owner@acme.io", 1)
		assert.ErrorIs(t, err, repositories.ErrProcedureUnavailable)
	})

	t.Run("other failure", func(t *testing.T) {
		db, mock := newMockDB(t)
		repo := NewSubscriberRepository(db, zap.NewNop())

		mock.ExpectExec(regexp.QuoteMeta("increment_quota_used")).
			WillReturnError(errors.New("timeout"))

		err := repo.IncrementQuotaUsed(ctx, "owner@acme.io", 1)
		assert.Error(t, err)
		assert.NotErrorIs(t, err, repositories.ErrProcedureUnavailable)
	})
}

func TestSubscriberRepository_SetQuotaUsed(t *testing.T) {
	ctx := context.Background()
	now := time.Now()

	t.Run("updates", func(t *testing.T) {
		db, mock := newMockDB(t)
		repo := NewSubscriberRepository(db, zap.NewNop())

		mock.ExpectQuery(regexp.QuoteMeta("UPDATE subscribers")).
			WithArgs("owner@acme.io", 8).
			WillReturnRows(sqlmock.NewRows(subscriberCols).
				AddRow(uuid.New().String(), "owner@acme.io", 100, 8, "free", false, nil, nil, now, now))

		sub, err := repo.SetQuotaUsed(ctx, "owner@acme.io", 8)
		require.NoError(t, err)
		assert.Equal(t, 8, sub.Used())
	})

	t.Run("missing row", func(t *testing.T) {
		db, mock := newMockDB(t)
		repo := NewSubscriberRepository(db, zap.NewNop())

		mock.ExpectQuery(regexp.QuoteMeta("UPDATE subscribers")).
			WillReturnRows(sqlmock.NewRows(subscriberCols))

		_, err := repo.SetQuotaUsed(ctx, "nobody@acme.io", 1)
		assert.ErrorIs(t, err, repositories.ErrNotFound)
	})
}

func TestSubscriberRepository_CreateDefault(t *testing.T) {
	ctx := context.Background()
	now := time.Now()

	t.Run("inserts a free-tier row", func(t *testing.T) {
		db, mock := newMockDB(t)
		repo := NewSubscriberRepository(db, zap.NewNop())

		mock.ExpectQuery(`(?s)INSERT INTO subscribers.*ON CONFLICT \(email\) DO UPDATE`).
			WithArgs("new@corp.io", 10, 1).
			WillReturnRows(sqlmock.NewRows(subscriberCols).
				AddRow(uuid.New().String(), "new@corp.io", 10, 1, "free", false, nil, nil, now, now))

		sub, err := repo.CreateDefault(ctx, "new@corp.io", 10, 1)
		require.NoError(t, err)
		assert.Equal(t, 10, sub.Allowance())
		assert.Equal(t, 1, sub.Used())
		assert.Equal(t, models.TierFree, sub.Tier())
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("insert failure", func(t *testing.T) {
		db, mock := newMockDB(t)
		repo := NewSubscriberRepository(db, zap.NewNop())

		mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO subscribers")).
			WillReturnError(errors.New("connection reset"))

		_, err := repo.CreateDefault(ctx, "new@corp.io", 10, 1)
		assert.Error(t, err)
	})
}

func TestAuditJobRepository_Create(t *testing.T) {
	ctx := context.Background()
	db, mock := newMockDB(t)
	repo := NewAuditJobRepository(db, zap.NewNop())

	job := models.NewAuditJob("user-1", "https://example.com", "contact@example.com", models.AuditTypeBulk, "batch_abc_1")
	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO audits")).
		WillReturnRows(sqlmock.NewRows(jobCols).AddRow(
			job.ID.String(), "user-1", "https://example.com", "contact@example.com", "pending", "bulk",
			"batch_abc_1", nil, nil, nil, nil, false, job.CreatedAt, job.UpdatedAt, nil))

	stored, err := repo.Create(ctx, job)
	require.NoError(t, err)
	assert.Equal(t, job.ID, stored.ID)
	assert.Equal(t, models.AuditTypeBulk, stored.AuditType)
	assert.Equal(t, "batch_abc_1", stored.WebhookID)
	assert.Nil(t, stored.ScoreGlobal)
	assert.Nil(t, stored.ResultsJSON)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAuditJobRepository_Update(t *testing.T) {
	ctx := context.Background()
	now := time.Now()
	id := uuid.New()

	t.Run("applies fields", func(t *testing.T) {
		db, mock := newMockDB(t)
		repo := NewAuditJobRepository(db, zap.NewNop())

		status := "completed"
		score := 87.5
		mock.ExpectQuery(regexp.QuoteMeta("UPDATE audits")).
			WillReturnRows(sqlmock.NewRows(jobCols).AddRow(
				id.String(), "user-1", "https://example.com", "contact@example.com", "completed", "manual",
				"wh", "dashboard", []byte(`{"seo":90}`), 87.5, nil, false, now, now, now))

		job, err := repo.Update(ctx, id, repositories.JobUpdate{
			Status:      &status,
			ScoreGlobal: &score,
			ResultsJSON: []byte(`{"seo":90}`),
			CompletedAt: &now,
		})
		require.NoError(t, err)
		assert.Equal(t, "completed", job.Status)
		require.NotNil(t, job.ScoreGlobal)
		assert.Equal(t, 87.5, *job.ScoreGlobal)
		assert.JSONEq(t, `{"seo":90}`, string(job.ResultsJSON))
		require.NotNil(t, job.DeliveryMethod)
		assert.Equal(t, "dashboard", *job.DeliveryMethod)
		assert.NotNil(t, job.CompletedAt)
	})

	t.Run("missing row", func(t *testing.T) {
		db, mock := newMockDB(t)
		repo := NewAuditJobRepository(db, zap.NewNop())

		mock.ExpectQuery(regexp.QuoteMeta("UPDATE audits")).
			WillReturnRows(sqlmock.NewRows(jobCols))

		_, err := repo.Update(ctx, id, repositories.JobUpdate{})
		assert.ErrorIs(t, err, repositories.ErrNotFound)
	})
}

func TestAuditJobRepository_GetByWebhookID(t *testing.T) {
	ctx := context.Background()
	db, mock := newMockDB(t)
	repo := NewAuditJobRepository(db, zap.NewNop())

	mock.ExpectQuery(regexp.QuoteMeta("WHERE webhook_id = $1")).
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows(jobCols))

	job, err := repo.GetByWebhookID(ctx, "missing")
	assert.NoError(t, err)
	assert.Nil(t, job)
}

func TestAuditJobRepository_ListByOwner(t *testing.T) {
	ctx := context.Background()
	db, mock := newMockDB(t)
	repo := NewAuditJobRepository(db, zap.NewNop())

	newer := time.Now()
	older := newer.Add(-time.Hour)
	mock.ExpectQuery(regexp.QuoteMeta("ORDER BY created_at DESC")).
		WithArgs("user-1").
		WillReturnRows(sqlmock.NewRows(jobCols).
			AddRow(uuid.New().String(), "user-1", "https://b.com", "contact@b.com", "running", "bulk",
				"batch_x_2", nil, nil, nil, nil, false, newer, newer, nil).
			AddRow(uuid.New().String(), "user-1", "https://a.com", "contact@a.com", "Terminé", "bulk",
				"batch_x_1", nil, nil, 72.0, nil, false, older, older, older))

	jobs, err := repo.ListByOwner(ctx, "user-1")
	require.NoError(t, err)
	require.Len(t, jobs, 2)
	assert.Equal(t, "https://b.com", jobs[0].URL)
	assert.Equal(t, "Terminé", jobs[1].Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAuditJobRepository_CountSince(t *testing.T) {
	ctx := context.Background()
	db, mock := newMockDB(t)
	repo := NewAuditJobRepository(db, zap.NewNop())

	since := time.Date(2026, 10, 1, 0, 0, 0, 0, time.UTC)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*)")).
		WithArgs("user-1", since).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(7))

	n, err := repo.CountSince(ctx, "user-1", since)
	require.NoError(t, err)
	assert.Equal(t, 7, n)
}

func TestProfileRepository(t *testing.T) {
	ctx := context.Background()
	db, mock := newMockDB(t)
	repo := NewProfileRepository(db, zap.NewNop())

	mock.ExpectQuery(regexp.QuoteMeta("FROM profiles")).
		WithArgs("user-1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "email", "full_name", "created_at", "updated_at"}))

	p, err := repo.GetByUserID(ctx, "user-1")
	require.NoError(t, err)
	assert.Nil(t, p)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO profiles")).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.Create(ctx, models.NewProfile("user-1", "me@acme.io", "Ada")))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTransactionManager_InTransaction(t *testing.T) {
	ctx := context.Background()

	t.Run("commits and shares the connection", func(t *testing.T) {
		db, mock := newMockDB(t)
		tm := NewTransactionManager(db, zap.NewNop())
		repo := NewSubscriberRepository(db, zap.NewNop())
		now := time.Now()

		mock.ExpectBegin()
		mock.ExpectQuery(regexp.QuoteMeta("UPDATE subscribers")).
			WillReturnRows(sqlmock.NewRows(subscriberCols).
				AddRow(uuid.New().String(), "owner@acme.io", 10, 2, "free", false, nil, nil, now, now))
		mock.ExpectCommit()

		err := tm.InTransaction(ctx, func(txCtx context.Context, tx repositories.Transaction) error {
			_, ok := GetTransactionFromContext(txCtx)
			assert.True(t, ok)
			_, err := repo.SetQuotaUsed(txCtx, "owner@acme.io", 2)
			return err
		})
		require.NoError(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("rolls back on error", func(t *testing.T) {
		db, mock := newMockDB(t)
		tm := NewTransactionManager(db, zap.NewNop())

		mock.ExpectBegin()
		mock.ExpectRollback()

		boom := errors.New("boom")
		err := tm.InTransaction(ctx, func(context.Context, repositories.Transaction) error { return boom })
		assert.ErrorIs(t, err, boom)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestDB_InitSchema(t *testing.T) {
	db, mock := newMockDB(t)

	// the procedure upserts unknown tenants instead of raising
	mock.ExpectExec(`(?s)FUNCTION increment_quota_used.*VALUES \(user_email, 10, increment_by, 'free'\).*ON CONFLICT \(email\) DO UPDATE`).
		WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, db.InitSchema(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDB_HealthCheck(t *testing.T) {
	sqlDB, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)
	defer sqlDB.Close()
	db := Wrap(sqlDB, zap.NewNop())

	mock.ExpectPing()
	mock.ExpectQuery("SELECT 1").WillReturnRows(sqlmock.NewRows([]string{"1"}).AddRow(1))

	assert.NoError(t, db.HealthCheck(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}
