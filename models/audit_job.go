package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// AuditType represents how an audit job was submitted
type AuditType string

const (
	AuditTypeManual    AuditType = "manual"
	AuditTypeBulk      AuditType = "bulk"
	AuditTypeDiscovery AuditType = "discovery"
)

// Job status values written by this service. The workflow engine writes
// its own vocabulary afterwards; see services/status for classification.
const (
	JobStatusPending = "pending"
	JobStatusFailed  = "failed"
)

// DeliveryDashboard is the only delivery method used by submissions today
const DeliveryDashboard = "dashboard"

// AuditJob is one unit of asynchronous audit work owned by a single user.
// WebhookID is the correlation id shared with the workflow engine; batch
// jobs carry "batch_<token>_<suffix>".
type AuditJob struct {
	ID             uuid.UUID       `json:"id" db:"id"`
	UserID         string          `json:"user_id" db:"user_id"`
	URL            string          `json:"url" db:"url"`
	Email          string          `json:"email" db:"email"`
	Status         string          `json:"status" db:"status"`
	AuditType      AuditType       `json:"audit_type" db:"audit_type"`
	WebhookID      string          `json:"webhook_id" db:"webhook_id"`
	DeliveryMethod *string         `json:"delivery_method,omitempty" db:"delivery_method"`
	ResultsJSON    json.RawMessage `json:"results_json,omitempty" db:"results_json"`
	ScoreGlobal    *float64        `json:"score_global,omitempty" db:"score_global"`
	ErrorMessage   *string         `json:"error_message,omitempty" db:"error_message"`
	IsPublic       bool            `json:"is_public" db:"is_public"`
	CreatedAt      time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at" db:"updated_at"`
	CompletedAt    *time.Time      `json:"completed_at,omitempty" db:"completed_at"`
}

// TableName returns the table name for the AuditJob model
func (AuditJob) TableName() string {
	return "audits"
}

// NewAuditJob creates a pending job of the given type
func NewAuditJob(userID, url, email string, auditType AuditType, webhookID string) *AuditJob {
	now := time.Now()
	if auditType == "" {
		auditType = AuditTypeManual
	}
	return &AuditJob{
		ID:        uuid.New(),
		UserID:    userID,
		URL:       url,
		Email:     email,
		Status:    JobStatusPending,
		AuditType: auditType,
		WebhookID: webhookID,
		CreatedAt: now,
		UpdatedAt: now,
	}
}
