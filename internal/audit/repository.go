package audit

import (
	"context"
	"encoding/json"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository reads audit_logs.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

var psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

func timelineQuery(filters TimelineFilters) sq.SelectBuilder {
	query := psql.Select(
		"a.occurred_at", "COALESCE(a.actor_id, 0)", "COALESCE(u.email, 'system')",
		"a.action", "a.entity", "a.entity_id", "a.meta",
	).
		From("audit_logs a").
		LeftJoin("users u ON u.id = a.actor_id").
		OrderBy("a.occurred_at DESC", "a.id DESC")
	if !filters.From.IsZero() {
		query = query.Where(sq.GtOrEq{"a.occurred_at": filters.From})
	}
	if !filters.To.IsZero() {
		query = query.Where(sq.Lt{"a.occurred_at": filters.To})
	}
	if filters.Actor != "" {
		query = query.Where(sq.ILike{"u.email": "%" + filters.Actor + "%"})
	}
	if filters.Entity != "" {
		query = query.Where(sq.Eq{"a.entity": filters.Entity})
	}
	if filters.Action != "" {
		query = query.Where(sq.Eq{"a.action": filters.Action})
	}
	if filters.RoleID != "" {
		query = query.Where("a.meta->>'role_id' = ?", filters.RoleID)
	}
	if filters.ModuleID != "" {
		query = query.Where("a.meta->>'module_id' = ?", filters.ModuleID)
	}
	return query
}

// TimelineWindow returns at most limit rows starting at offset.
func (r *Repository) TimelineWindow(ctx context.Context, filters TimelineFilters, offset, limit uint64) ([]TimelineRow, error) {
	return r.query(ctx, timelineQuery(filters).Offset(offset).Limit(limit))
}

// TimelineAll returns every matching row up to limit.
func (r *Repository) TimelineAll(ctx context.Context, filters TimelineFilters, limit uint64) ([]TimelineRow, error) {
	return r.query(ctx, timelineQuery(filters).Limit(limit))
}

func (r *Repository) query(ctx context.Context, query sq.SelectBuilder) ([]TimelineRow, error) {
	sql, args, err := query.ToSql()
	if err != nil {
		return nil, err
	}
	rows, err := r.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, scanTimelineRow)
}

type grantMeta struct {
	RoleID   string   `json:"role_id"`
	ModuleID string   `json:"module_id"`
	Added    []string `json:"added"`
	Removed  []string `json:"removed"`
}

func scanTimelineRow(row pgx.CollectableRow) (TimelineRow, error) {
	var (
		out  TimelineRow
		meta []byte
	)
	if err := row.Scan(&out.At, &out.ActorID, &out.Actor, &out.Action, &out.Entity, &out.EntityID, &meta); err != nil {
		return TimelineRow{}, err
	}
	var gm grantMeta
	if len(meta) > 0 && json.Unmarshal(meta, &gm) == nil {
		out.RoleID, out.ModuleID = gm.RoleID, gm.ModuleID
		out.Added, out.Removed = gm.Added, gm.Removed
	}
	return out, nil
}
