package repository

import (
	"context"
	"database/sql"
	"strings"

	"ticketing/internal/database"
	apperrors "ticketing/internal/errors"
	"ticketing/internal/models"
)

type UserRepository struct {
	db *database.DB
}

func NewUserRepository(db *database.DB) *UserRepository {
	return &UserRepository{db: db}
}

func (r *UserRepository) GetByID(ctx context.Context, id int64) (*models.User, error) {
	user := &models.User{}
	query := `
		SELECT user_id, email, name, role, is_active, registered_at
		FROM users
		WHERE user_id = $1`

	err := r.db.QueryRowxContext(ctx, query, id).StructScan(user)
	if err == sql.ErrNoRows {
		return nil, nil
	}

	return user, err
}

// GetByEmail matches the address case-insensitively.
func (r *UserRepository) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	user := &models.User{}
	query := `
		SELECT user_id, email, name, role, is_active, registered_at
		FROM users
		WHERE lower(email) = lower($1)`

	err := r.db.QueryRowxContext(ctx, query, strings.TrimSpace(email)).StructScan(user)
	if err == sql.ErrNoRows {
		return nil, nil
	}

	return user, err
}

func (r *UserRepository) Create(ctx context.Context, user *models.User) error {
	query := `
		INSERT INTO users (email, name, role, is_active)
		VALUES ($1, $2, $3, $4)
		RETURNING user_id, registered_at`

	err := r.db.QueryRowContext(ctx, query,
		user.Email,
		user.Name,
		user.Role,
		user.IsActive,
	).Scan(&user.UserID, &user.RegisteredAt)
	if isErrorUniqueViolation(err) {
		return apperrors.ErrInvalidRequest
	}

	return err
}
