package auth

import (
	"context"
	"errors"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/odyssey-erp/odyssey-dashboard/internal/shared"
)

// ScopeSource resolves effective permissions for a user.
type ScopeSource interface {
	EffectivePermissions(ctx context.Context, userID int64) ([]string, error)
}

// ErrInactiveUser is logged for disabled accounts; callers still answer with
// ErrInvalidCredentials.
var ErrInactiveUser = errors.New("auth: user inactive")

// dummyHash keeps unknown-email logins as slow as wrong-password ones.
var dummyHash, _ = bcrypt.GenerateFromPassword([]byte("odyssey-dummy-password"), bcrypt.DefaultCost)

// Service wraps authentication business rules.
type Service struct {
	repo   Repository
	scopes ScopeSource
}

// NewService constructs a new Service. scopes may be nil, in which case
// profiles carry no scopes.
func NewService(repo Repository, scopes ScopeSource) *Service {
	return &Service{repo: repo, scopes: scopes}
}

// Authenticate validates email/password credentials. Every failure is
// reported as shared.ErrInvalidCredentials wrapping the cause.
func (s *Service) Authenticate(ctx context.Context, email, password string) (*User, error) {
	user, err := s.repo.FindByEmail(ctx, strings.ToLower(strings.TrimSpace(email)))
	if err != nil {
		_ = bcrypt.CompareHashAndPassword(dummyHash, []byte(password))
		return nil, errors.Join(shared.ErrInvalidCredentials, err)
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return nil, shared.ErrInvalidCredentials
	}
	if !user.IsActive {
		return nil, errors.Join(shared.ErrInvalidCredentials, ErrInactiveUser)
	}
	return user, nil
}

// Profile loads the signed-in user and their effective scopes.
func (s *Service) Profile(ctx context.Context, userID int64) (Profile, error) {
	user, err := s.repo.FindByID(ctx, userID)
	if err != nil {
		return Profile{}, err
	}
	profile := Profile{UserID: user.ID, Email: user.Email, Name: user.Name, Scopes: []string{}}
	if s.scopes != nil {
		scopes, err := s.scopes.EffectivePermissions(ctx, userID)
		if err != nil {
			return Profile{}, err
		}
		if scopes != nil {
			profile.Scopes = scopes
		}
	}
	return profile, nil
}

// RegisterSession persists the session metadata in postgres.
func (s *Service) RegisterSession(ctx context.Context, id string, userID int64, expiresAt time.Time, ip, ua string) error {
	return s.repo.CreateSession(ctx, id, userID, expiresAt, ip, ua)
}

// RemoveSession deletes a session record from postgres.
func (s *Service) RemoveSession(ctx context.Context, id string) error {
	return s.repo.DeleteSession(ctx, id)
}
