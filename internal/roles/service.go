package roles

import (
	"context"
	"log/slog"
	"strings"

	"github.com/google/uuid"
)

// RepositoryPort defines data access methods for roles.
type RepositoryPort interface {
	ListRoles(ctx context.Context) ([]Role, error)
	GetRole(ctx context.Context, id string) (Role, error)
	CreateRole(ctx context.Context, role Role) (Role, error)
	DeleteRole(ctx context.Context, id string) error
}

// Invalidator drops cached permission reads after the role set changes.
type Invalidator interface {
	Invalidate(ctx context.Context) error
}

// Service handles role business logic.
type Service struct {
	repo        RepositoryPort
	invalidator Invalidator
	logger      *slog.Logger
	newID       func() string
}

// NewService builds Service instance.
func NewService(repo RepositoryPort, invalidator Invalidator, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, invalidator: invalidator, logger: logger, newID: uuid.NewString}
}

// ListRoles returns all roles.
func (s *Service) ListRoles(ctx context.Context) ([]Role, error) {
	return s.repo.ListRoles(ctx)
}

// GetRole returns one role.
func (s *Service) GetRole(ctx context.Context, id string) (Role, error) {
	return s.repo.GetRole(ctx, id)
}

// CreateRole stores a new role with no grants.
func (s *Service) CreateRole(ctx context.Context, input CreateInput) (Role, error) {
	role := Role{
		ID:    strings.TrimSpace(input.ID),
		Name:  strings.TrimSpace(input.Name),
		Code:  strings.ToUpper(strings.TrimSpace(input.Code)),
		Color: strings.TrimSpace(input.Color),
	}
	if role.ID == "" {
		role.ID = s.newID()
	}
	if role.Color == "" {
		role.Color = DefaultColor
	}
	created, err := s.repo.CreateRole(ctx, role)
	if err != nil {
		return Role{}, err
	}
	s.invalidate(ctx)
	return created, nil
}

// DeleteRole removes a role together with its grants.
func (s *Service) DeleteRole(ctx context.Context, id string) error {
	if err := s.repo.DeleteRole(ctx, id); err != nil {
		return err
	}
	s.invalidate(ctx)
	return nil
}

func (s *Service) invalidate(ctx context.Context) {
	if s.invalidator == nil {
		return
	}
	if err := s.invalidator.Invalidate(ctx); err != nil {
		s.logger.Warn("invalidate permissions cache", slog.Any("error", err))
	}
}
