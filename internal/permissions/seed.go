package permissions

import (
	"context"
	"fmt"
	"strings"
)

// Wildcard grants every action of a module in seed files.
const Wildcard Action = "*"

// SeedFile describes a catalog and initial grants, typically read from YAML.
type SeedFile struct {
	Actions []Action     `yaml:"actions"`
	Modules []SeedModule `yaml:"modules"`
	Roles   []SeedRole   `yaml:"roles"`
}

// SeedModule is a module entry of a SeedFile.
type SeedModule struct {
	ID          string   `yaml:"id"`
	Name        string   `yaml:"name"`
	Description string   `yaml:"description"`
	Actions     []Action `yaml:"actions"`
}

// SeedRole is a role entry of a SeedFile. Grants maps module id to actions;
// "*" expands to the module vocabulary.
type SeedRole struct {
	ID     string              `yaml:"id"`
	Name   string              `yaml:"name"`
	Code   string              `yaml:"code"`
	Color  string              `yaml:"color"`
	Grants map[string][]Action `yaml:"grants"`
}

// SeedSummary reports what Seed wrote.
type SeedSummary struct {
	Actions int
	Modules int
	Roles   int
}

// Seed upserts the catalog and the listed roles' grants in one transaction.
// Roles absent from the file keep their grants.
func (s *Service) Seed(ctx context.Context, file SeedFile) (SeedSummary, error) {
	actions := file.Actions
	if len(actions) == 0 {
		actions = DefaultActions()
	}
	modules := make(map[string]Module, len(file.Modules))
	for _, m := range file.Modules {
		id := strings.TrimSpace(m.ID)
		if id == "" {
			return SeedSummary{}, fmt.Errorf("%w: module id required", ErrInvalidTable)
		}
		vocab := m.Actions
		if len(vocab) == 0 {
			vocab = actions
		}
		modules[id] = Module{ID: id, Name: m.Name, Description: m.Description, Actions: NewGrantSet(vocab...).Sorted()}
	}
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		for i, a := range actions {
			if err := tx.UpsertAction(ctx, a, i); err != nil {
				return fmt.Errorf("seed action %s: %w", a, err)
			}
		}
		for i, m := range file.Modules {
			if err := tx.UpsertModule(ctx, modules[strings.TrimSpace(m.ID)], i); err != nil {
				return fmt.Errorf("seed module %s: %w", m.ID, err)
			}
		}
		for _, r := range file.Roles {
			role := Role{ID: r.ID, Name: r.Name, Code: r.Code, Color: r.Color}
			if role.Color == "" {
				role.Color = "#64748b"
			}
			if err := tx.UpsertRole(ctx, role); err != nil {
				return fmt.Errorf("seed role %s: %w", r.ID, err)
			}
			grants, err := expandGrants(r.Grants, modules)
			if err != nil {
				return fmt.Errorf("seed role %s: %w", r.ID, err)
			}
			if err := tx.ReplaceRoleGrants(ctx, r.ID, grants); err != nil {
				return fmt.Errorf("seed role %s grants: %w", r.ID, err)
			}
		}
		return nil
	})
	if err != nil {
		return SeedSummary{}, err
	}
	if err := s.cache.Bump(ctx); err != nil {
		return SeedSummary{}, err
	}
	return SeedSummary{Actions: len(actions), Modules: len(file.Modules), Roles: len(file.Roles)}, nil
}

func expandGrants(grants map[string][]Action, modules map[string]Module) (map[string]GrantSet, error) {
	out := make(map[string]GrantSet, len(grants))
	for moduleID, actions := range grants {
		module, ok := modules[moduleID]
		if !ok {
			return nil, fmt.Errorf("%w: unknown module %q", ErrInvalidTable, moduleID)
		}
		set := GrantSet{}
		for _, a := range actions {
			if a == Wildcard {
				set = NewGrantSet(module.Actions...)
				break
			}
			if !module.Supports(a) {
				return nil, fmt.Errorf("%w: action %q not declared by module %q", ErrInvalidTable, a, moduleID)
			}
			set[a] = struct{}{}
		}
		out[moduleID] = set
	}
	return out, nil
}

// SeedFromCatalog renders the live catalog and roles as a SeedFile, so an
// exported matrix can be seeded back.
func SeedFromCatalog(catalog Catalog, roles []Role) SeedFile {
	file := SeedFile{Actions: catalog.Actions}
	for _, m := range catalog.Modules {
		file.Modules = append(file.Modules, SeedModule{ID: m.ID, Name: m.Name, Description: m.Description, Actions: m.Actions})
	}
	for _, r := range roles {
		file.Roles = append(file.Roles, SeedRole{ID: r.ID, Name: r.Name, Code: r.Code, Color: r.Color, Grants: r.Permissions})
	}
	return file
}
