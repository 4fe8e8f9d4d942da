// Package auth handles credential checks and session login/logout.
package auth

import (
	"context"

	"golang.org/x/crypto/bcrypt"

	"github.com/atelier-erp/atelier-erp/internal/shared"
	"github.com/atelier-erp/atelier-erp/internal/users"
)

// Service wraps authentication business rules.
type Service struct {
	users *users.Service
}

// NewService constructs a new Service.
func NewService(users *users.Service) *Service {
	return &Service{users: users}
}

// Authenticate validates email/password credentials.
func (s *Service) Authenticate(ctx context.Context, email, password string) (users.User, error) {
	user, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		return users.User{}, shared.ErrInvalidCredentials
	}
	if !user.IsActive {
		return users.User{}, shared.ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return users.User{}, shared.ErrInvalidCredentials
	}
	return user, nil
}
