package rbac

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	// ErrNotFound indicates that the requested record does not exist.
	ErrNotFound = errors.New("rbac: not found")
	// ErrUnknownSubject indicates the user or role referenced by an assignment is missing.
	ErrUnknownSubject = errors.New("rbac: unknown user or role")
)

// RepositoryPort defines data access for user-role assignments.
type RepositoryPort interface {
	AssignRole(ctx context.Context, userID int64, roleID string) error
	RemoveRole(ctx context.Context, userID int64, roleID string) (int64, error)
	ListUserRoles(ctx context.Context, userID int64) ([]UserRole, error)
}

// Service orchestrates user-role assignments.
type Service struct {
	repo RepositoryPort
}

// NewService constructs a Service.
func NewService(repo RepositoryPort) *Service {
	return &Service{repo: repo}
}

// AssignRole assigns a role to the given user. Assigning twice is a no-op.
func (s *Service) AssignRole(ctx context.Context, userID int64, roleID string) error {
	if userID <= 0 || roleID == "" {
		return ErrUnknownSubject
	}
	return s.repo.AssignRole(ctx, userID, roleID)
}

// RemoveRole removes a role from a user.
func (s *Service) RemoveRole(ctx context.Context, userID int64, roleID string) error {
	removed, err := s.repo.RemoveRole(ctx, userID, roleID)
	if err != nil {
		return err
	}
	if removed == 0 {
		return ErrNotFound
	}
	return nil
}

// ListUserRoles returns the roles assigned to a user.
func (s *Service) ListUserRoles(ctx context.Context, userID int64) ([]UserRole, error) {
	return s.repo.ListUserRoles(ctx, userID)
}

// Repository provides PostgreSQL backed persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// AssignRole inserts the assignment, ignoring duplicates.
func (r *Repository) AssignRole(ctx context.Context, userID int64, roleID string) error {
	_, err := r.pool.Exec(ctx, `INSERT INTO user_roles (user_id, role_id, created_at) VALUES ($1, $2, NOW())
ON CONFLICT (user_id, role_id) DO NOTHING`, userID, roleID)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23503" {
		return ErrUnknownSubject
	}
	return err
}

// RemoveRole deletes the assignment and reports affected rows.
func (r *Repository) RemoveRole(ctx context.Context, userID int64, roleID string) (int64, error) {
	tag, err := r.pool.Exec(ctx, `DELETE FROM user_roles WHERE user_id = $1 AND role_id = $2`, userID, roleID)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// ListUserRoles returns assignments for a user ordered by role.
func (r *Repository) ListUserRoles(ctx context.Context, userID int64) ([]UserRole, error) {
	rows, err := r.pool.Query(ctx, `SELECT user_id, role_id, created_at FROM user_roles WHERE user_id = $1 ORDER BY role_id`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []UserRole
	for rows.Next() {
		var ur UserRole
		if err := rows.Scan(&ur.UserID, &ur.RoleID, &ur.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, ur)
	}
	return out, rows.Err()
}
