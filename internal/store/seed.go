package store

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"
	"github.com/park285/matka-round-server/internal/domain"
	"github.com/park285/matka-round-server/internal/obslog"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// EnsureAdmin creates an active administrator unless a user with that name already exists.
// An existing user is left untouched. It reports whether a user was created.
func EnsureAdmin(ctx context.Context, s Store, username, passwordHash string, balance decimal.Decimal) (bool, error) {
	username = strings.TrimSpace(username)
	if username == "" || passwordHash == "" {
		return false, domain.ErrInvalidArgs
	}
	existing, err := s.FindUserByUsername(ctx, username)
	switch {
	case err == nil:
		if !existing.IsAdmin() {
			obslog.L().Warn("seed_admin_name_taken", zap.String("username", username), zap.String("role", string(existing.Role)))
		}
		return false, nil
	case !errors.Is(err, domain.ErrUserNotFound):
		return false, err
	}

	u := &domain.User{
		ID:           uuid.NewString(),
		Username:     username,
		PasswordHash: passwordHash,
		Balance:      balance,
		Role:         domain.RoleAdmin,
		Active:       true,
	}
	if err := s.InsertUser(ctx, u); err != nil {
		return false, err
	}
	obslog.L().Info("seed_admin_created", zap.String("user_id", u.ID), zap.String("username", username))
	return true, nil
}
