package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/upb/audit-quota/models"
	"github.com/upb/audit-quota/repositories"
)

// ProfileRepository implements the repositories.ProfileRepository interface
type ProfileRepository struct {
	db     *DB
	logger *zap.Logger
}

// NewProfileRepository creates a new profile repository
func NewProfileRepository(db *DB, logger *zap.Logger) repositories.ProfileRepository {
	return &ProfileRepository{
		db:     db,
		logger: logger,
	}
}

// GetByUserID retrieves a profile by user ID
func (r *ProfileRepository) GetByUserID(ctx context.Context, userID string) (*models.Profile, error) {
	query := `
		SELECT id, email, full_name, created_at, updated_at
		FROM profiles
		WHERE id = $1
	`

	executor := GetExecutor(ctx, r.db)
	p := &models.Profile{}
	err := executor.QueryRowContext(ctx, query, userID).Scan(
		&p.ID,
		&p.Email,
		&p.FullName,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get profile: %w", err)
	}

	return p, nil
}

// Create inserts a profile; a concurrent insert of the same user is not an error
func (r *ProfileRepository) Create(ctx context.Context, p *models.Profile) error {
	query := `
		INSERT INTO profiles (id, email, full_name, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO NOTHING
	`

	executor := GetExecutor(ctx, r.db)
	if _, err := executor.ExecContext(ctx, query, p.ID, p.Email, p.FullName, p.CreatedAt, p.UpdatedAt); err != nil {
		return fmt.Errorf("failed to create profile: %w", err)
	}

	r.logger.Debug("profile created", zap.String("user_id", p.ID))
	return nil
}
