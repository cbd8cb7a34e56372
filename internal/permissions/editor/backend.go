package editor

import (
	"context"

	"github.com/odyssey-erp/odyssey-dashboard/internal/permissions"
)

// CatalogService is the in-process permission service the server edits against.
type CatalogService interface {
	Catalog(ctx context.Context) (permissions.Catalog, error)
	ListRoles(ctx context.Context) ([]permissions.Role, error)
	ReplaceTable(ctx context.Context, input permissions.ReplaceInput) (permissions.ReplaceResult, error)
}

// LocalBackend adapts CatalogService to Loader and Saver for one actor.
type LocalBackend struct {
	Service CatalogService
	ActorID int64
}

// ListModules implements Loader.
func (b LocalBackend) ListModules(ctx context.Context) (permissions.Catalog, error) {
	return b.Service.Catalog(ctx)
}

// ListRoles implements Loader.
func (b LocalBackend) ListRoles(ctx context.Context) ([]permissions.Role, error) {
	return b.Service.ListRoles(ctx)
}

// SavePermissions implements Saver.
func (b LocalBackend) SavePermissions(ctx context.Context, table permissions.Table) error {
	_, err := b.Service.ReplaceTable(ctx, permissions.ReplaceInput{ActorID: b.ActorID, Table: table})
	return err
}

// NewLocalFactory returns a Factory binding editors to service.
func NewLocalFactory(service CatalogService) Factory {
	return func(actorID int64) *Editor {
		backend := LocalBackend{Service: service, ActorID: actorID}
		return New(backend, backend)
	}
}
