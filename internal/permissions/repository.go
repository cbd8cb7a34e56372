package permissions

import (
	"context"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/odyssey-dashboard/internal/platform/db"
)

// DBTX is satisfied by both *pgxpool.Pool and pgx.Tx.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// TxRepository exposes the statements that must run inside one transaction.
type TxRepository interface {
	LoadTable(ctx context.Context) (Table, error)
	ReplaceGrants(ctx context.Context, table Table) error
	ReplaceRoleGrants(ctx context.Context, roleID string, modules map[string]GrantSet) error
	UpsertAction(ctx context.Context, action Action, position int) error
	UpsertModule(ctx context.Context, module Module, position int) error
	UpsertRole(ctx context.Context, role Role) error
}

// Repository provides PostgreSQL backed persistence for the permission catalog.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

var psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

// WithTx runs fn inside a repeatable-read transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, queries{db: tx})
	})
}

// ListActions returns the global action vocabulary in display order.
func (r *Repository) ListActions(ctx context.Context) ([]Action, error) {
	rows, err := r.pool.Query(ctx, `SELECT name FROM permission_actions ORDER BY position, name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var actions []Action
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		actions = append(actions, Action(name))
	}
	return actions, rows.Err()
}

// ListModules returns modules with their declared actions.
func (r *Repository) ListModules(ctx context.Context) ([]Module, error) {
	rows, err := r.pool.Query(ctx, `SELECT m.id, m.name, m.description,
	COALESCE(array_agg(ma.action ORDER BY a.position, ma.action) FILTER (WHERE ma.action IS NOT NULL), '{}')
FROM permission_modules m
LEFT JOIN permission_module_actions ma ON ma.module_id = m.id
LEFT JOIN permission_actions a ON a.name = ma.action
GROUP BY m.id, m.name, m.description, m.position
ORDER BY m.position, m.id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var modules []Module
	for rows.Next() {
		var m Module
		var actions []string
		if err := rows.Scan(&m.ID, &m.Name, &m.Description, &actions); err != nil {
			return nil, err
		}
		m.Actions = make([]Action, 0, len(actions))
		for _, a := range actions {
			m.Actions = append(m.Actions, Action(a))
		}
		modules = append(modules, m)
	}
	return modules, rows.Err()
}

// ListRoles returns roles with their grants embedded.
func (r *Repository) ListRoles(ctx context.Context) ([]Role, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, name, code, color FROM roles ORDER BY name, id`)
	if err != nil {
		return nil, err
	}
	var roles []Role
	for rows.Next() {
		var role Role
		if err := rows.Scan(&role.ID, &role.Name, &role.Code, &role.Color); err != nil {
			rows.Close()
			return nil, err
		}
		roles = append(roles, role)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	table, err := queries{db: r.pool}.LoadTable(ctx)
	if err != nil {
		return nil, err
	}
	for i := range roles {
		roles[i].Permissions = table.Permissions(roles[i].ID)
	}
	return roles, nil
}

// LoadTable reads all stored grants.
func (r *Repository) LoadTable(ctx context.Context) (Table, error) {
	return queries{db: r.pool}.LoadTable(ctx)
}

// UserRoleIDs lists the roles assigned to a user.
func (r *Repository) UserRoleIDs(ctx context.Context, userID int64) ([]string, error) {
	rows, err := r.pool.Query(ctx, `SELECT role_id FROM user_roles WHERE user_id = $1 ORDER BY role_id`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

type queries struct {
	db DBTX
}

func (q queries) LoadTable(ctx context.Context) (Table, error) {
	rows, err := q.db.Query(ctx, `SELECT role_id, module_id, action FROM role_grants`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	table := make(Table)
	for rows.Next() {
		var roleID, moduleID, action string
		if err := rows.Scan(&roleID, &moduleID, &action); err != nil {
			return nil, err
		}
		modules, ok := table[roleID]
		if !ok {
			modules = make(map[string]GrantSet)
			table[roleID] = modules
		}
		set, ok := modules[moduleID]
		if !ok {
			set = GrantSet{}
			modules[moduleID] = set
		}
		set[Action(action)] = struct{}{}
	}
	return table, rows.Err()
}

func (q queries) ReplaceGrants(ctx context.Context, table Table) error {
	if _, err := q.db.Exec(ctx, `DELETE FROM role_grants`); err != nil {
		return fmt.Errorf("permissions: clear grants: %w", err)
	}
	return q.insertGrants(ctx, table)
}

func (q queries) ReplaceRoleGrants(ctx context.Context, roleID string, modules map[string]GrantSet) error {
	if _, err := q.db.Exec(ctx, `DELETE FROM role_grants WHERE role_id = $1`, roleID); err != nil {
		return fmt.Errorf("permissions: clear role grants: %w", err)
	}
	return q.insertGrants(ctx, Table{roleID: modules})
}

func (q queries) insertGrants(ctx context.Context, table Table) error {
	insert := psql.Insert("role_grants").Columns("role_id", "module_id", "action", "granted_at")
	now := time.Now().UTC()
	rowsAdded := 0
	for _, roleID := range table.RoleIDs() {
		for moduleID, set := range table[roleID] {
			for _, action := range set.Sorted() {
				insert = insert.Values(roleID, moduleID, string(action), now)
				rowsAdded++
			}
		}
	}
	if rowsAdded == 0 {
		return nil
	}
	query, args, err := insert.ToSql()
	if err != nil {
		return err
	}
	if _, err := q.db.Exec(ctx, query, args...); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23503" {
			return fmt.Errorf("%w: %s", ErrInvalidTable, pgErr.Detail)
		}
		return fmt.Errorf("permissions: insert grants: %w", err)
	}
	return nil
}

func (q queries) UpsertAction(ctx context.Context, action Action, position int) error {
	_, err := q.db.Exec(ctx, `INSERT INTO permission_actions (name, position) VALUES ($1, $2)
ON CONFLICT (name) DO UPDATE SET position = EXCLUDED.position`, string(action), position)
	return err
}

func (q queries) UpsertModule(ctx context.Context, module Module, position int) error {
	if _, err := q.db.Exec(ctx, `INSERT INTO permission_modules (id, name, description, position) VALUES ($1, $2, $3, $4)
ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, description = EXCLUDED.description, position = EXCLUDED.position`,
		module.ID, module.Name, module.Description, position); err != nil {
		return err
	}
	if _, err := q.db.Exec(ctx, `DELETE FROM permission_module_actions WHERE module_id = $1`, module.ID); err != nil {
		return err
	}
	if len(module.Actions) == 0 {
		return nil
	}
	insert := psql.Insert("permission_module_actions").Columns("module_id", "action")
	for _, a := range module.Actions {
		insert = insert.Values(module.ID, string(a))
	}
	query, args, err := insert.ToSql()
	if err != nil {
		return err
	}
	_, err = q.db.Exec(ctx, query, args...)
	return err
}

func (q queries) UpsertRole(ctx context.Context, role Role) error {
	_, err := q.db.Exec(ctx, `INSERT INTO roles (id, name, code, color, created_at, updated_at) VALUES ($1, $2, $3, $4, NOW(), NOW())
ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, code = EXCLUDED.code, color = EXCLUDED.color, updated_at = NOW()`,
		role.ID, role.Name, role.Code, role.Color)
	return err
}

var _ TxRepository = queries{}
