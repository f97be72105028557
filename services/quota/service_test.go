package quota

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/upb/audit-quota/models"
	"github.com/upb/audit-quota/repositories/mocks"
	"github.com/upb/audit-quota/services"
)

const tenant = "owner@acme.io"

func intPtr(v int) *int       { return &v }
func strPtr(v string) *string { return &v }

func subscriber(used, total int, tier string) *models.Subscriber {
	return &models.Subscriber{
		Email:            tenant,
		QuotaUsed:        intPtr(used),
		MonthlyQuota:     intPtr(total),
		SubscriptionTier: strPtr(tier),
	}
}

func TestService_Status(t *testing.T) {
	ctx := context.Background()
	defaultStatus := &Status{Used: 0, Total: 10, Remaining: 10, Tier: models.TierFree}

	t.Run("unknown tenant gets the default allowance", func(t *testing.T) {
		m := mocks.New()
		m.Subscribers.On("GetByEmail", ctx, tenant).Return(nil, nil)

		status, err := NewService(m.Repos(), DefaultMonthlyQuota, zap.NewNop()).Status(ctx, tenant)
		require.NoError(t, err)
		assert.Equal(t, defaultStatus, status)
		assert.False(t, status.Subscribed)
		assert.False(t, status.Exceeded)
	})

	t.Run("no store configured", func(t *testing.T) {
		status, err := NewService(nil, DefaultMonthlyQuota, zap.NewNop()).Status(ctx, tenant)
		require.NoError(t, err)
		assert.Equal(t, defaultStatus, status)
	})

	t.Run("read failure degrades with a warning", func(t *testing.T) {
		core, logs := observer.New(zapcore.WarnLevel)
		m := mocks.New()
		m.Subscribers.On("GetByEmail", ctx, tenant).Return(nil, errors.New("connection refused"))

		status, err := NewService(m.Repos(), DefaultMonthlyQuota, zap.New(core)).Status(ctx, tenant)
		require.NoError(t, err)
		assert.Equal(t, defaultStatus, status)
		assert.Equal(t, 1, logs.FilterMessageSnippet("using default quota").Len())
	})

	t.Run("subscriber record", func(t *testing.T) {
		m := mocks.New()
		sub := subscriber(5, 100, "premium")
		sub.Subscribed = true
		m.Subscribers.On("GetByEmail", ctx, tenant).Return(sub, nil)

		status, err := NewService(m.Repos(), DefaultMonthlyQuota, zap.NewNop()).Status(ctx, tenant)
		require.NoError(t, err)
		assert.Equal(t, 5, status.Used)
		assert.Equal(t, 100, status.Total)
		assert.Equal(t, 95, status.Remaining)
		assert.Equal(t, models.TierPremium, status.Tier)
		assert.True(t, status.Subscribed)
		assert.False(t, status.Exceeded)
	})

	t.Run("over-consumed record clamps remaining", func(t *testing.T) {
		m := mocks.New()
		m.Subscribers.On("GetByEmail", ctx, tenant).Return(subscriber(12, 10, "free"), nil)

		status, err := NewService(m.Repos(), DefaultMonthlyQuota, zap.NewNop()).Status(ctx, tenant)
		require.NoError(t, err)
		assert.Equal(t, 0, status.Remaining)
		assert.True(t, status.Exceeded)
	})

	t.Run("null allowance on a present record is zero", func(t *testing.T) {
		m := mocks.New()
		m.Subscribers.On("GetByEmail", ctx, tenant).Return(&models.Subscriber{Email: tenant}, nil)

		status, err := NewService(m.Repos(), DefaultMonthlyQuota, zap.NewNop()).Status(ctx, tenant)
		require.NoError(t, err)
		assert.Equal(t, 0, status.Total)
		assert.True(t, status.Exceeded)
		assert.Equal(t, models.TierFree, status.Tier)
	})
}

func TestService_Admit(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name      string
		used      int
		total     int
		units     int
		allowed   bool
		available int
	}{
		{"well within allowance", 5, 100, 3, true, 95},
		{"exact boundary admits", 7, 10, 3, true, 3},
		{"one over denies", 7, 10, 4, false, 3},
		{"batch over quota", 9, 10, 3, false, 1},
		{"single at the limit denies", 10, 10, 1, false, 0},
		{"single just below the limit admits", 9, 10, 1, true, 1},
		{"zero units always admit", 10, 10, 0, true, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := mocks.New()
			m.Subscribers.On("GetByEmail", ctx, tenant).Return(subscriber(tt.used, tt.total, "basic"), nil)

			d, err := NewService(m.Repos(), DefaultMonthlyQuota, zap.NewNop()).Admit(ctx, tenant, tt.units)
			require.NoError(t, err)
			assert.Equal(t, tt.allowed, d.Allowed)
			assert.Equal(t, tt.available, d.Available)
			assert.Equal(t, tt.units, d.Requested)

			if tt.allowed {
				assert.NoError(t, d.Err())
			} else {
				assert.True(t, services.IsQuotaExceededError(d.Err()))
			}
		})
	}
}

func TestDecision_ErrDetails(t *testing.T) {
	d := evaluate(&Status{Used: 9, Total: 10, Tier: models.TierFree}, 3)

	err := d.Err()
	require.Error(t, err)
	details := services.GetErrorDetails(err)
	assert.Equal(t, 10, details["quota"])
	assert.Equal(t, 9, details["used"])
	assert.Equal(t, 3, details["requested"])
	assert.Equal(t, 1, details["available"])
	assert.Equal(t, "free", details["subscription_tier"])
}

func TestService_Increment(t *testing.T) {
	ctx := context.Background()

	t.Run("atomic procedure", func(t *testing.T) {
		m := mocks.New()
		m.Subscribers.On("IncrementQuotaUsed", ctx, tenant, 3).Return(nil)

		err := NewService(m.Repos(), DefaultMonthlyQuota, zap.NewNop()).Increment(ctx, tenant, 3)
		require.NoError(t, err)
		m.AssertExpectations(t)
		m.Subscribers.AssertNotCalled(t, "SetQuotaUsed", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("falls back to read-modify-write with a warning", func(t *testing.T) {
		core, logs := observer.New(zapcore.WarnLevel)
		m := mocks.New()
		m.Subscribers.On("IncrementQuotaUsed", ctx, tenant, 3).Return(errors.New("function does not exist"))
		m.Transactions.On("InTransaction", ctx).Return()
		m.Subscribers.On("GetByEmail", ctx, tenant).Return(subscriber(5, 100, "free"), nil)
		m.Subscribers.On("SetQuotaUsed", ctx, tenant, 8).Return(subscriber(8, 100, "free"), nil)

		err := NewService(m.Repos(), DefaultMonthlyQuota, zap.New(core)).Increment(ctx, tenant, 3)
		require.NoError(t, err)
		m.AssertExpectations(t)
		assert.Equal(t, 1, logs.FilterMessageSnippet("falling back").Len())
	})

	t.Run("fallback creates a default row for unknown tenants", func(t *testing.T) {
		m := mocks.New()
		m.Subscribers.On("IncrementQuotaUsed", ctx, tenant, 1).Return(errors.New("subscriber not found"))
		m.Transactions.On("InTransaction", ctx).Return()
		m.Subscribers.On("GetByEmail", ctx, tenant).Return(nil, nil)
		m.Subscribers.On("CreateDefault", ctx, tenant, DefaultMonthlyQuota, 1).Return(subscriber(1, 10, "free"), nil)

		err := NewService(m.Repos(), DefaultMonthlyQuota, zap.NewNop()).Increment(ctx, tenant, 1)
		require.NoError(t, err)
		m.AssertExpectations(t)
		m.Subscribers.AssertNotCalled(t, "SetQuotaUsed", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("default row failure is internal and hides the tenant", func(t *testing.T) {
		m := mocks.New()
		m.Subscribers.On("IncrementQuotaUsed", ctx, tenant, 1).Return(errors.New("subscriber not found"))
		m.Transactions.On("InTransaction", ctx).Return()
		m.Subscribers.On("GetByEmail", ctx, tenant).Return(nil, nil)
		m.Subscribers.On("CreateDefault", ctx, tenant, DefaultMonthlyQuota, 1).Return(nil, errors.New("unique violation"))

		err := NewService(m.Repos(), DefaultMonthlyQuota, zap.NewNop()).Increment(ctx, tenant, 1)
		require.True(t, services.IsInternalError(err))
		assert.False(t, services.IsNotFoundError(err))
		assert.NotContains(t, err.Error(), tenant)
	})

	t.Run("fallback write failure surfaces", func(t *testing.T) {
		m := mocks.New()
		m.Subscribers.On("IncrementQuotaUsed", ctx, tenant, 1).Return(errors.New("timeout"))
		m.Transactions.On("InTransaction", ctx).Return()
		m.Subscribers.On("GetByEmail", ctx, tenant).Return(subscriber(1, 10, "free"), nil)
		m.Subscribers.On("SetQuotaUsed", ctx, tenant, 2).Return(nil, errors.New("timeout"))

		err := NewService(m.Repos(), DefaultMonthlyQuota, zap.NewNop()).Increment(ctx, tenant, 1)
		assert.True(t, services.IsInternalError(err))
	})

	t.Run("no store configured is an error", func(t *testing.T) {
		err := NewService(nil, DefaultMonthlyQuota, zap.NewNop()).Increment(ctx, tenant, 1)
		assert.True(t, services.IsStoreUnavailableError(err))
	})
}

func TestService_Reserve(t *testing.T) {
	ctx := context.Background()

	t.Run("admitted reservation increments", func(t *testing.T) {
		m := mocks.New()
		m.Subscribers.On("GetByEmail", ctx, tenant).Return(subscriber(5, 10, "free"), nil)
		m.Subscribers.On("IncrementQuotaUsed", ctx, tenant, 5).Return(nil)

		d, err := NewService(m.Repos(), DefaultMonthlyQuota, zap.NewNop()).Reserve(ctx, tenant, 5)
		require.NoError(t, err)
		assert.True(t, d.Allowed)
		m.AssertExpectations(t)
	})

	t.Run("denied reservation does not increment", func(t *testing.T) {
		m := mocks.New()
		m.Subscribers.On("GetByEmail", ctx, tenant).Return(subscriber(9, 10, "free"), nil)

		d, err := NewService(m.Repos(), DefaultMonthlyQuota, zap.NewNop()).Reserve(ctx, tenant, 3)
		assert.True(t, services.IsQuotaExceededError(err))
		require.NotNil(t, d)
		assert.False(t, d.Allowed)
		m.Subscribers.AssertNotCalled(t, "IncrementQuotaUsed", mock.Anything, mock.Anything, mock.Anything)
	})
}
