package identity

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"
)

// uniqueViolation is the PostgreSQL SQLSTATE for unique constraint failures
const uniqueViolation = "23505"

// DBUserStore is a UserStore backed by the users table
type DBUserStore struct {
	db *sql.DB
}

// NewDBUserStore creates a store over db
func NewDBUserStore(db *sql.DB) (*DBUserStore, error) {
	if db == nil {
		return nil, errors.New("database connection is required")
	}
	return &DBUserStore{db: db}, nil
}

func (s *DBUserStore) Create(ctx context.Context, user *User) error {
	query := `
		INSERT INTO users (id, email, display_name, password_hash, email_confirmed, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	_, err := s.db.ExecContext(ctx, query,
		user.ID, user.Email, user.DisplayName, user.PasswordHash, user.EmailConfirmed, user.CreatedAt)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && string(pqErr.Code) == uniqueViolation {
			return ErrEmailTaken
		}
		return fmt.Errorf("failed to create user: %w", err)
	}
	return nil
}

func (s *DBUserStore) GetByEmail(ctx context.Context, email string) (*User, error) {
	query := `
		SELECT id, email, display_name, password_hash, email_confirmed, created_at
		FROM users
		WHERE email = $1
	`
	return s.get(ctx, query, email)
}

func (s *DBUserStore) GetByID(ctx context.Context, id string) (*User, error) {
	query := `
		SELECT id, email, display_name, password_hash, email_confirmed, created_at
		FROM users
		WHERE id = $1
	`
	return s.get(ctx, query, id)
}

func (s *DBUserStore) UpdatePassword(ctx context.Context, id, passwordHash string) error {
	return s.update(ctx, "UPDATE users SET password_hash = $2 WHERE id = $1", id, passwordHash)
}

func (s *DBUserStore) ConfirmEmail(ctx context.Context, id string) error {
	return s.update(ctx, "UPDATE users SET email_confirmed = TRUE WHERE id = $1", id)
}

func (s *DBUserStore) get(ctx context.Context, query string, arg string) (*User, error) {
	user := &User{}
	err := s.db.QueryRowContext(ctx, query, arg).Scan(
		&user.ID, &user.Email, &user.DisplayName, &user.PasswordHash, &user.EmailConfirmed, &user.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return user, nil
}

func (s *DBUserStore) update(ctx context.Context, query string, args ...interface{}) error {
	result, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update user: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to update user: %w", err)
	}
	if n == 0 {
		return ErrUserNotFound
	}
	return nil
}
