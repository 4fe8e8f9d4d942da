package users

import (
	"context"
	"fmt"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"github.com/atelier-erp/atelier-erp/internal/authz"
	"github.com/atelier-erp/atelier-erp/internal/platform/httpx"
)

// Service orchestrates user management.
type Service struct {
	repo *Repository
}

// NewService constructs a Service.
func NewService(repo *Repository) *Service {
	return &Service{repo: repo}
}

// List returns all users.
func (s *Service) List(ctx context.Context) ([]User, error) {
	return s.repo.ListUsers(ctx)
}

// Get fetches a user by ID.
func (s *Service) Get(ctx context.Context, id int64) (User, error) {
	return s.repo.GetUser(ctx, id)
}

// GetByEmail fetches a user by email.
func (s *Service) GetByEmail(ctx context.Context, email string) (User, error) {
	return s.repo.GetUserByEmail(ctx, strings.ToLower(strings.TrimSpace(email)))
}

// CreateInput captures a new account request.
type CreateInput struct {
	Email    string
	Name     string
	Role     authz.Role
	Password string
}

// Create registers a new account with a hashed password.
func (s *Service) Create(ctx context.Context, in CreateInput) (User, error) {
	in.Email = strings.ToLower(strings.TrimSpace(in.Email))
	in.Name = strings.TrimSpace(in.Name)
	if in.Email == "" || in.Name == "" {
		return User{}, fmt.Errorf("%w: email and name required", httpx.ErrValidation)
	}
	if len(in.Password) < 8 {
		return User{}, fmt.Errorf("%w: password must be at least 8 characters", httpx.ErrValidation)
	}
	if !authz.KnownRole(in.Role) {
		return User{}, fmt.Errorf("%w: unknown role %q", httpx.ErrValidation, in.Role)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(in.Password), bcrypt.DefaultCost)
	if err != nil {
		return User{}, err
	}
	return s.repo.CreateUser(ctx, User{
		Email:        in.Email,
		Name:         in.Name,
		Role:         in.Role,
		PasswordHash: string(hash),
		IsActive:     true,
	})
}

// SetRole reassigns a user's role.
func (s *Service) SetRole(ctx context.Context, id int64, role authz.Role) error {
	if !authz.KnownRole(role) {
		return fmt.Errorf("%w: unknown role %q", httpx.ErrValidation, role)
	}
	return s.repo.SetRole(ctx, id, role)
}

// ApproverIDs returns ids of active users whose role default grants
// approve on the resource.
func (s *Service) ApproverIDs(ctx context.Context, resource authz.Resource) ([]int64, error) {
	var roles []authz.Role
	for _, role := range authz.Roles() {
		if authz.HasPermission(role, resource, authz.ActionApprove) {
			roles = append(roles, role)
		}
	}
	if len(roles) == 0 {
		return nil, nil
	}
	return s.repo.ListUserIDsByRoles(ctx, roles)
}
