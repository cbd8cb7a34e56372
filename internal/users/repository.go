package users

import (
	"context"
	"strings"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository provides PostgreSQL backed persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

var psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

// ListUsers returns users with their assigned role ids.
func (r *Repository) ListUsers(ctx context.Context, filter ListFilter) ([]User, error) {
	query := psql.Select(
		"u.id", "u.email", "u.name", "u.is_active", "u.created_at", "u.updated_at",
		"COALESCE(array_agg(ur.role_id ORDER BY ur.role_id) FILTER (WHERE ur.role_id IS NOT NULL), '{}')",
	).
		From("users u").
		LeftJoin("user_roles ur ON ur.user_id = u.id").
		GroupBy("u.id").
		OrderBy("u.id")
	if search := strings.TrimSpace(filter.Search); search != "" {
		pattern := "%" + search + "%"
		query = query.Where(sq.Or{sq.ILike{"u.email": pattern}, sq.ILike{"u.name": pattern}})
	}
	if filter.ActiveOnly {
		query = query.Where(sq.Eq{"u.is_active": true})
	}
	sql, args, err := query.ToSql()
	if err != nil {
		return nil, err
	}
	rows, err := r.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var users []User
	for rows.Next() {
		var user User
		if err := rows.Scan(&user.ID, &user.Email, &user.Name, &user.IsActive, &user.CreatedAt, &user.UpdatedAt, &user.RoleIDs); err != nil {
			return nil, err
		}
		users = append(users, user)
	}
	return users, rows.Err()
}

// UpsertUser inserts a user keyed by lower-cased email, refreshing name,
// password hash and active flag when it already exists.
func (r *Repository) UpsertUser(ctx context.Context, user User, passwordHash string) (User, error) {
	err := r.pool.QueryRow(ctx, `INSERT INTO users (email, name, password_hash, is_active, created_at, updated_at)
VALUES (lower($1), $2, $3, $4, NOW(), NOW())
ON CONFLICT (email) DO UPDATE SET name = EXCLUDED.name, password_hash = EXCLUDED.password_hash,
	is_active = EXCLUDED.is_active, updated_at = NOW()
RETURNING id, email, created_at, updated_at`, user.Email, user.Name, passwordHash, user.IsActive).
		Scan(&user.ID, &user.Email, &user.CreatedAt, &user.UpdatedAt)
	if err != nil {
		return User{}, err
	}
	return user, nil
}
