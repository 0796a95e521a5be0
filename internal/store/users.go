package store

import (
	"context"
	"errors"
	"fmt"

	"fulfillment-service/internal/models"
)

// CreateUserIfAbsent inserts a user unless the e-mail is already registered.
// It reports whether a new row was created; an existing account is never modified.
func (q *Queries) CreateUserIfAbsent(ctx context.Context, user *models.User) (bool, error) {
	err := q.get(ctx, user, `
		INSERT INTO users (email, password_hash, first_name, last_name, role, email_verification_token_hash)
		VALUES (LOWER($1), $2, $3, $4, $5, $6)
		ON CONFLICT (email) DO NOTHING
		RETURNING id, created_at`,
		user.Email, user.PasswordHash, user.FirstName, user.LastName, user.Role, user.EmailVerificationTokenHash)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to insert user: %w", err)
	}
	return true, nil
}
