package audit

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubTimelineRepo struct {
	rows        []TimelineRow
	lastFilters TimelineFilters
	lastOffset  uint64
	lastLimit   uint64
}

func (s *stubTimelineRepo) TimelineWindow(ctx context.Context, filters TimelineFilters, offset, limit uint64) ([]TimelineRow, error) {
	s.lastFilters, s.lastOffset, s.lastLimit = filters, offset, limit
	end := offset + limit
	if end > uint64(len(s.rows)) {
		end = uint64(len(s.rows))
	}
	if offset >= end {
		return nil, nil
	}
	return s.rows[offset:end], nil
}

func (s *stubTimelineRepo) TimelineAll(ctx context.Context, filters TimelineFilters, limit uint64) ([]TimelineRow, error) {
	s.lastFilters, s.lastLimit = filters, limit
	return s.rows, nil
}

func grantRow(at string, role, module string, added ...string) TimelineRow {
	ts, _ := time.Parse(time.RFC3339, at)
	return TimelineRow{
		At: ts, ActorID: 7, Actor: "admin@example.com", Action: "permissions.update",
		Entity: "role_grant", EntityID: role + ":" + module, RoleID: role, ModuleID: module, Added: added,
	}
}

func TestServiceTimelinePaging(t *testing.T) {
	repo := &stubTimelineRepo{rows: []TimelineRow{
		grantRow("2026-03-10T10:00:00Z", "r1", "inventory", "view"),
		grantRow("2026-03-09T09:00:00Z", "r1", "reports", "export"),
		grantRow("2026-03-08T08:00:00Z", "r2", "inventory", "edit"),
	}}
	svc := NewService(repo)

	result, err := svc.Timeline(context.Background(), TimelineFilters{Page: 1, PageSize: 2, RoleID: " r1 "})
	require.NoError(t, err)
	assert.Len(t, result.Rows, 2)
	assert.Equal(t, PagingInfo{Page: 1, PageSize: 2, HasNext: true, NextPage: 2}, result.Paging)
	assert.Equal(t, uint64(3), repo.lastLimit)
	assert.Equal(t, "r1", repo.lastFilters.RoleID)

	result, err = svc.Timeline(context.Background(), TimelineFilters{Page: 2, PageSize: 2})
	require.NoError(t, err)
	assert.Len(t, result.Rows, 1)
	assert.Equal(t, uint64(2), repo.lastOffset)
	assert.Equal(t, PagingInfo{Page: 2, PageSize: 2, PrevPage: 1}, result.Paging)
}

func TestServiceTimelineClampsPaging(t *testing.T) {
	repo := &stubTimelineRepo{}
	svc := NewService(repo)

	result, err := svc.Timeline(context.Background(), TimelineFilters{Page: -1, PageSize: 500})
	require.NoError(t, err)
	assert.Equal(t, 1, result.Paging.Page)
	assert.Equal(t, maxPageSize, result.Paging.PageSize)
	assert.NotNil(t, result.Rows)
}

func TestServiceExportCapsRows(t *testing.T) {
	repo := &stubTimelineRepo{rows: []TimelineRow{grantRow("2026-03-10T10:00:00Z", "r1", "inventory", "view")}}

	rows, err := NewService(repo).Export(context.Background(), TimelineFilters{})
	require.NoError(t, err)
	assert.Len(t, rows, 1)
	assert.Equal(t, uint64(MaxExportRows), repo.lastLimit)
}

func TestTimelineQueryFilters(t *testing.T) {
	sql, args, err := timelineQuery(TimelineFilters{
		From:   time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
		Entity: "role_grant",
		RoleID: "r1",
	}).ToSql()
	require.NoError(t, err)

	assert.Contains(t, sql, "a.occurred_at >= $1")
	assert.Contains(t, sql, "a.entity = $2")
	assert.Contains(t, sql, "a.meta->>'role_id' = $3")
	assert.NotContains(t, sql, "ILIKE")
	assert.Len(t, args, 3)
}

func TestWriteCSV(t *testing.T) {
	row := grantRow("2026-03-10T10:00:00Z", "r1", "inventory", "view", "edit")
	row.Removed = []string{"delete"}

	out, err := WriteCSV([]TimelineRow{row})
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(out)), "\n")
	require.Len(t, lines, 2)
	assert.Equal(t, strings.Join(csvHeader, ","), lines[0])
	assert.Equal(t, "2026-03-10T10:00:00Z,7,admin@example.com,permissions.update,role_grant,r1:inventory,r1,inventory,view edit,delete", lines[1])
}
