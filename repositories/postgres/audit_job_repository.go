package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/upb/audit-quota/models"
	"github.com/upb/audit-quota/repositories"
)

const auditJobColumns = `id, user_id, url, email, status, audit_type, webhook_id, delivery_method,
		       results_json, score_global, error_message, is_public, created_at, updated_at, completed_at`

// AuditJobRepository implements the repositories.AuditJobRepository interface
type AuditJobRepository struct {
	db     *DB
	logger *zap.Logger
}

// NewAuditJobRepository creates a new audit job repository
func NewAuditJobRepository(db *DB, logger *zap.Logger) repositories.AuditJobRepository {
	return &AuditJobRepository{
		db:     db,
		logger: logger,
	}
}

// Create inserts a job and returns the stored row
func (r *AuditJobRepository) Create(ctx context.Context, job *models.AuditJob) (*models.AuditJob, error) {
	query := `
		INSERT INTO audits (
			id, user_id, url, email, status, audit_type, webhook_id, delivery_method,
			results_json, score_global, error_message, is_public, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14
		)
		RETURNING ` + auditJobColumns

	executor := GetExecutor(ctx, r.db)
	stored, err := scanAuditJob(executor.QueryRowContext(ctx, query,
		job.ID,
		job.UserID,
		job.URL,
		job.Email,
		job.Status,
		job.AuditType,
		nullString(job.WebhookID),
		job.DeliveryMethod,
		jsonParam(job.ResultsJSON),
		job.ScoreGlobal,
		job.ErrorMessage,
		job.IsPublic,
		job.CreatedAt,
		job.UpdatedAt,
	))
	if err != nil {
		return nil, fmt.Errorf("failed to create audit job: %w", err)
	}

	r.logger.Debug("audit job created",
		zap.String("id", stored.ID.String()),
		zap.String("webhook_id", stored.WebhookID))
	return stored, nil
}

// Update applies the non-nil fields of update
func (r *AuditJobRepository) Update(ctx context.Context, id uuid.UUID, update repositories.JobUpdate) (*models.AuditJob, error) {
	query := `
		UPDATE audits
		SET status = COALESCE($2, status),
		    results_json = COALESCE($3::jsonb, results_json),
		    score_global = COALESCE($4, score_global),
		    error_message = COALESCE($5, error_message),
		    completed_at = COALESCE($6, completed_at),
		    updated_at = CURRENT_TIMESTAMP
		WHERE id = $1
		RETURNING ` + auditJobColumns

	executor := GetExecutor(ctx, r.db)
	stored, err := scanAuditJob(executor.QueryRowContext(ctx, query,
		id,
		update.Status,
		jsonParam(update.ResultsJSON),
		update.ScoreGlobal,
		update.ErrorMessage,
		update.CompletedAt,
	))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("audit job %s: %w", id, repositories.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to update audit job: %w", err)
	}

	return stored, nil
}

// GetByWebhookID retrieves a job by its correlation id
func (r *AuditJobRepository) GetByWebhookID(ctx context.Context, webhookID string) (*models.AuditJob, error) {
	query := `
		SELECT ` + auditJobColumns + `
		FROM audits
		WHERE webhook_id = $1
		LIMIT 1
	`

	executor := GetExecutor(ctx, r.db)
	job, err := scanAuditJob(executor.QueryRowContext(ctx, query, webhookID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get audit job: %w", err)
	}

	return job, nil
}

// ListByOwner retrieves all jobs of a user, newest first
func (r *AuditJobRepository) ListByOwner(ctx context.Context, userID string) ([]*models.AuditJob, error) {
	query := `
		SELECT ` + auditJobColumns + `
		FROM audits
		WHERE user_id = $1
		ORDER BY created_at DESC
	`

	executor := GetExecutor(ctx, r.db)
	rows, err := executor.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list audit jobs: %w", err)
	}
	defer rows.Close()

	jobs := make([]*models.AuditJob, 0)
	for rows.Next() {
		job, err := scanAuditJob(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan audit job: %w", err)
		}
		jobs = append(jobs, job)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating audit jobs: %w", err)
	}

	return jobs, nil
}

// CountSince counts jobs created by userID at or after since
func (r *AuditJobRepository) CountSince(ctx context.Context, userID string, since time.Time) (int, error) {
	query := `
		SELECT COUNT(*)
		FROM audits
		WHERE user_id = $1 AND created_at >= $2
	`

	var count int
	executor := GetExecutor(ctx, r.db)
	if err := executor.QueryRowContext(ctx, query, userID, since).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count audit jobs: %w", err)
	}

	return count, nil
}

func scanAuditJob(row rowScanner) (*models.AuditJob, error) {
	job := &models.AuditJob{}
	var (
		webhookID      sql.NullString
		deliveryMethod sql.NullString
		results        []byte
		score          sql.NullFloat64
		errMsg         sql.NullString
		completedAt    sql.NullTime
	)

	err := row.Scan(
		&job.ID,
		&job.UserID,
		&job.URL,
		&job.Email,
		&job.Status,
		&job.AuditType,
		&webhookID,
		&deliveryMethod,
		&results,
		&score,
		&errMsg,
		&job.IsPublic,
		&job.CreatedAt,
		&job.UpdatedAt,
		&completedAt,
	)
	if err != nil {
		return nil, err
	}

	job.WebhookID = webhookID.String
	if deliveryMethod.Valid {
		job.DeliveryMethod = &deliveryMethod.String
	}
	if len(results) > 0 {
		job.ResultsJSON = results
	}
	if score.Valid {
		job.ScoreGlobal = &score.Float64
	}
	if errMsg.Valid {
		job.ErrorMessage = &errMsg.String
	}
	if completedAt.Valid {
		job.CompletedAt = &completedAt.Time
	}

	return job, nil
}

// jsonParam sends JSON as text so it binds to a jsonb column; empty becomes NULL
func jsonParam(raw []byte) interface{} {
	if len(raw) == 0 {
		return nil
	}
	return string(raw)
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
