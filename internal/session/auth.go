package session

import (
	"context"
	"errors"
	"strings"

	"github.com/park285/matka-round-server/internal/domain"
	"golang.org/x/crypto/bcrypt"
)

// Authenticator verifies credentials and returns the matching user.
type Authenticator interface {
	Verify(ctx context.Context, username, password string) (*domain.User, error)
}

// UserFinder is the storage lookup the bcrypt authenticator needs.
type UserFinder interface {
	FindUserByUsername(ctx context.Context, username string) (*domain.User, error)
}

// BcryptAuthenticator compares the password against the stored bcrypt hash.
type BcryptAuthenticator struct {
	users UserFinder
}

func NewBcryptAuthenticator(users UserFinder) *BcryptAuthenticator {
	return &BcryptAuthenticator{users: users}
}

// Verify maps unknown users, inactive users and wrong passwords to ErrInvalidCredentials.
func (a *BcryptAuthenticator) Verify(ctx context.Context, username, password string) (*domain.User, error) {
	username = strings.TrimSpace(username)
	if username == "" || password == "" {
		return nil, domain.ErrInvalidCredentials
	}
	u, err := a.users.FindUserByUsername(ctx, username)
	if errors.Is(err, domain.ErrUserNotFound) {
		return nil, domain.ErrInvalidCredentials
	}
	if err != nil {
		return nil, err
	}
	if !u.Active {
		return nil, domain.ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)); err != nil {
		return nil, domain.ErrInvalidCredentials
	}
	return u, nil
}

// HashPassword hashes with bcrypt; cost <= 0 selects bcrypt.DefaultCost.
func HashPassword(password string, cost int) (string, error) {
	if cost <= 0 {
		cost = bcrypt.DefaultCost
	}
	b, err := bcrypt.GenerateFromPassword([]byte(password), cost)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
