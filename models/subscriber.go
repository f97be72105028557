package models

import (
	"time"

	"github.com/google/uuid"
)

// SubscriptionTier represents the billing tier of a subscriber
type SubscriptionTier string

const (
	TierFree       SubscriptionTier = "free"
	TierBasic      SubscriptionTier = "basic"
	TierPremium    SubscriptionTier = "premium"
	TierEnterprise SubscriptionTier = "enterprise"
)

// IsValid reports whether the tier is one of the known tiers
func (t SubscriptionTier) IsValid() bool {
	switch t {
	case TierFree, TierBasic, TierPremium, TierEnterprise:
		return true
	}
	return false
}

// Subscriber holds the monthly audit allowance of a tenant, keyed by email.
// Rows are created and reset by the billing process; this service only
// increments quota_used.
type Subscriber struct {
	ID               uuid.UUID  `json:"id" db:"id"`
	Email            string     `json:"email" db:"email"`
	MonthlyQuota     *int       `json:"monthly_quota,omitempty" db:"monthly_quota"`
	QuotaUsed        *int       `json:"quota_used,omitempty" db:"quota_used"`
	SubscriptionTier *string    `json:"subscription_tier,omitempty" db:"subscription_tier"`
	Subscribed       bool       `json:"subscribed" db:"subscribed"`
	QuotaResetDate   *time.Time `json:"quota_reset_date,omitempty" db:"quota_reset_date"`
	SubscriptionEnd  *time.Time `json:"subscription_end,omitempty" db:"subscription_end"`
	CreatedAt        time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at" db:"updated_at"`
}

// TableName returns the table name for the Subscriber model
func (Subscriber) TableName() string {
	return "subscribers"
}

// Used returns quota_used, treating NULL as zero
func (s *Subscriber) Used() int {
	if s.QuotaUsed == nil {
		return 0
	}
	return *s.QuotaUsed
}

// Allowance returns monthly_quota, treating NULL as zero
func (s *Subscriber) Allowance() int {
	if s.MonthlyQuota == nil {
		return 0
	}
	return *s.MonthlyQuota
}

// Tier returns the subscription tier, defaulting to free
func (s *Subscriber) Tier() SubscriptionTier {
	if s.SubscriptionTier == nil || *s.SubscriptionTier == "" {
		return TierFree
	}
	return SubscriptionTier(*s.SubscriptionTier)
}
