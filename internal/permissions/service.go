package permissions

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/odyssey-erp/odyssey-dashboard/internal/shared"
)

// RepositoryPort abstracts repository usage for the service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	ListActions(ctx context.Context) ([]Action, error)
	ListModules(ctx context.Context) ([]Module, error)
	ListRoles(ctx context.Context) ([]Role, error)
	LoadTable(ctx context.Context) (Table, error)
	UserRoleIDs(ctx context.Context, userID int64) ([]string, error)
}

// EventPublisher hands saved-table events to background processing.
type EventPublisher interface {
	PublishGrantsReplaced(ctx context.Context, event GrantsReplacedEvent) error
}

// IdempotencyPort guards against replayed saves.
type IdempotencyPort interface {
	CheckAndInsert(ctx context.Context, key, module string) error
	Delete(ctx context.Context, key string) error
}

// MetricsPort records save outcomes.
type MetricsPort interface {
	RecordPermissionSave(outcome string, changedCells int)
}

// ServiceConfig groups optional collaborators.
type ServiceConfig struct {
	Cache       *Cache
	Events      EventPublisher
	Idempotency IdempotencyPort
	Metrics     MetricsPort
	Logger      *slog.Logger
}

// Service serves the permission catalog and persists whole-table saves.
type Service struct {
	repo        RepositoryPort
	cache       *Cache
	events      EventPublisher
	idempotency IdempotencyPort
	metrics     MetricsPort
	logger      *slog.Logger
	now         func() time.Time
}

// ErrReplayed indicates a save with an already used idempotency key.
var ErrReplayed = errors.New("permissions: save already processed")

const idempotencyModule = "permissions"

// NewService builds Service.
func NewService(repo RepositoryPort, cfg ServiceConfig) *Service {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		repo:        repo,
		cache:       cfg.Cache,
		events:      cfg.Events,
		idempotency: cfg.Idempotency,
		metrics:     cfg.Metrics,
		logger:      logger,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// Catalog returns the modules with their vocabularies and the global action
// list. Modules declaring no action inherit the global vocabulary, which
// itself falls back to DefaultActions.
func (s *Service) Catalog(ctx context.Context) (Catalog, error) {
	key, err := s.cache.BuildKey(ctx, "catalog")
	if err != nil {
		return Catalog{}, err
	}
	var catalog Catalog
	err = s.cache.FetchJSON(ctx, key, &catalog, func(ctx context.Context) (any, error) {
		return s.loadCatalog(ctx)
	})
	if err != nil {
		return Catalog{}, fmt.Errorf("permissions: load catalog: %w", err)
	}
	return catalog, nil
}

func (s *Service) loadCatalog(ctx context.Context) (Catalog, error) {
	actions, err := s.repo.ListActions(ctx)
	if err != nil {
		return Catalog{}, err
	}
	modules, err := s.repo.ListModules(ctx)
	if err != nil {
		return Catalog{}, err
	}
	return Catalog{Modules: modules, Actions: actions}.WithInheritedActions(), nil
}

// ListRoles returns every role with its grants embedded.
func (s *Service) ListRoles(ctx context.Context) ([]Role, error) {
	key, err := s.cache.BuildKey(ctx, "roles")
	if err != nil {
		return nil, err
	}
	var roles []Role
	err = s.cache.FetchJSON(ctx, key, &roles, func(ctx context.Context) (any, error) {
		return s.repo.ListRoles(ctx)
	})
	if err != nil {
		return nil, fmt.Errorf("permissions: load roles: %w", err)
	}
	return roles, nil
}

// Table returns the stored permission table.
func (s *Service) Table(ctx context.Context) (Table, error) {
	key, err := s.cache.BuildKey(ctx, "table")
	if err != nil {
		return nil, err
	}
	var table Table
	err = s.cache.FetchJSON(ctx, key, &table, func(ctx context.Context) (any, error) {
		return s.repo.LoadTable(ctx)
	})
	if err != nil {
		return nil, fmt.Errorf("permissions: load table: %w", err)
	}
	if table == nil {
		table = Table{}
	}
	return table, nil
}

// ReplaceInput carries a whole-table save request.
type ReplaceInput struct {
	ActorID        int64
	IdempotencyKey string
	Table          Table
}

// ReplaceResult summarises a save.
type ReplaceResult struct {
	Changes []CellChange
}

// ReplaceTable validates the table against the catalog and replaces every
// stored grant with it in one transaction.
func (s *Service) ReplaceTable(ctx context.Context, input ReplaceInput) (ReplaceResult, error) {
	if input.Table == nil {
		return ReplaceResult{}, fmt.Errorf("%w: permissions required", ErrInvalidTable)
	}
	if input.IdempotencyKey != "" && s.idempotency != nil {
		if err := s.idempotency.CheckAndInsert(ctx, input.IdempotencyKey, idempotencyModule); err != nil {
			if errors.Is(err, shared.ErrIdempotencyConflict) {
				return ReplaceResult{}, ErrReplayed
			}
			return ReplaceResult{}, err
		}
	}
	result, err := s.replace(ctx, input)
	if err != nil {
		s.recordSave("failure", 0)
		if input.IdempotencyKey != "" && s.idempotency != nil {
			if delErr := s.idempotency.Delete(ctx, input.IdempotencyKey); delErr != nil {
				s.logger.Warn("release idempotency key", slog.Any("error", delErr))
			}
		}
		return ReplaceResult{}, err
	}
	s.recordSave("success", len(result.Changes))

	if err := s.cache.Bump(ctx); err != nil {
		s.logger.Warn("bump permissions cache", slog.Any("error", err))
	}
	if s.events != nil && len(result.Changes) > 0 {
		event := GrantsReplacedEvent{
			ActorID:    input.ActorID,
			Changes:    result.Changes,
			RoleCount:  len(input.Table),
			ReplacedAt: s.now(),
		}
		if err := s.events.PublishGrantsReplaced(ctx, event); err != nil {
			s.logger.Warn("publish grants replaced", slog.Any("error", err))
		}
	}
	return result, nil
}

func (s *Service) replace(ctx context.Context, input ReplaceInput) (ReplaceResult, error) {
	catalog, err := s.loadCatalog(ctx)
	if err != nil {
		return ReplaceResult{}, err
	}
	roles, err := s.repo.ListRoles(ctx)
	if err != nil {
		return ReplaceResult{}, err
	}
	known := make(map[string]struct{}, len(roles))
	for _, r := range roles {
		known[r.ID] = struct{}{}
	}
	if err := input.Table.Validate(known, catalog); err != nil {
		return ReplaceResult{}, err
	}
	var result ReplaceResult
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		before, err := tx.LoadTable(ctx)
		if err != nil {
			return err
		}
		if err := tx.ReplaceGrants(ctx, input.Table); err != nil {
			return err
		}
		result.Changes = Diff(before, input.Table)
		return nil
	})
	if err != nil {
		return ReplaceResult{}, err
	}
	return result, nil
}

// EffectivePermissions returns "module.action" scopes held by the user
// through any of their roles.
func (s *Service) EffectivePermissions(ctx context.Context, userID int64) ([]string, error) {
	roleIDs, err := s.repo.UserRoleIDs(ctx, userID)
	if err != nil {
		return nil, err
	}
	if len(roleIDs) == 0 {
		return nil, nil
	}
	table, err := s.Table(ctx)
	if err != nil {
		return nil, err
	}
	return table.Scopes(roleIDs...), nil
}

// PruneOrphans removes grants left behind by vocabulary changes. A grant is
// kept exactly when ReplaceTable would accept it, so modules inheriting the
// global vocabulary keep their grants.
func (s *Service) PruneOrphans(ctx context.Context) (int64, error) {
	catalog, err := s.loadCatalog(ctx)
	if err != nil {
		return 0, fmt.Errorf("permissions: load catalog: %w", err)
	}
	var removed int64
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		current, err := tx.LoadTable(ctx)
		if err != nil {
			return err
		}
		conformed, dropped := current.Conform(catalog)
		if dropped == 0 {
			return nil
		}
		removed = int64(dropped)
		return tx.ReplaceGrants(ctx, conformed)
	})
	if err != nil {
		return 0, err
	}
	if removed > 0 {
		if err := s.cache.Bump(ctx); err != nil {
			s.logger.Warn("bump permissions cache", slog.Any("error", err))
		}
	}
	return removed, nil
}

// Invalidate drops every cached catalog read.
func (s *Service) Invalidate(ctx context.Context) error {
	return s.cache.Bump(ctx)
}

func (s *Service) recordSave(outcome string, changed int) {
	if s.metrics != nil {
		s.metrics.RecordPermissionSave(outcome, changed)
	}
}
