package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/odyssey-erp/odyssey-stock/internal/rbac"
	"github.com/odyssey-erp/odyssey-stock/internal/shared"
)

// CapabilityResolver loads a user's permissions once per login.
type CapabilityResolver interface {
	Resolve(ctx context.Context, userID int64) (rbac.Capabilities, error)
}

// Service wraps authentication business rules.
type Service struct {
	repo         Repository
	capabilities CapabilityResolver
}

// NewService constructs a new Service.
func NewService(repo Repository, capabilities CapabilityResolver) *Service {
	return &Service{repo: repo, capabilities: capabilities}
}

// Authenticate validates email/password credentials.
func (s *Service) Authenticate(ctx context.Context, email, password string) (*User, error) {
	user, err := s.repo.FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			return nil, shared.ErrInvalidCredentials
		}
		return nil, err
	}
	if !user.IsActive {
		return nil, shared.ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return nil, shared.ErrInvalidCredentials
	}
	return user, nil
}

// Login authenticates and resolves the caller's capabilities.
func (s *Service) Login(ctx context.Context, input LoginInput) (Principal, error) {
	user, err := s.Authenticate(ctx, input.Email, input.Password)
	if err != nil {
		return Principal{}, err
	}
	var caps rbac.Capabilities
	if s.capabilities != nil {
		caps, err = s.capabilities.Resolve(ctx, user.ID)
		if err != nil {
			return Principal{}, fmt.Errorf("auth: resolve capabilities: %w", err)
		}
	}
	return Principal{UserID: user.ID, Email: user.Email, Capabilities: caps.List()}, nil
}

// RegisterSession persists the session metadata in postgres.
func (s *Service) RegisterSession(ctx context.Context, id string, userID int64, expiresAt time.Time, ip, ua string) error {
	return s.repo.CreateSession(ctx, id, userID, expiresAt, ip, ua)
}

// RemoveSession deletes a session record from postgres.
func (s *Service) RemoveSession(ctx context.Context, id string) error {
	return s.repo.DeleteSession(ctx, id)
}
