package audit

import (
	"context"
	"errors"
	"strings"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
	// MaxExportRows caps a CSV export.
	MaxExportRows = 10000
)

// RepositoryPort is the storage contract of Service.
type RepositoryPort interface {
	TimelineWindow(ctx context.Context, filters TimelineFilters, offset, limit uint64) ([]TimelineRow, error)
	TimelineAll(ctx context.Context, filters TimelineFilters, limit uint64) ([]TimelineRow, error)
}

// Service pages through the audit timeline.
type Service struct {
	repo RepositoryPort
}

// NewService builds a timeline service.
func NewService(repo RepositoryPort) *Service {
	return &Service{repo: repo}
}

// Timeline returns one page. Page and page size are clamped to sane bounds.
func (s *Service) Timeline(ctx context.Context, filters TimelineFilters) (Result, error) {
	if s.repo == nil {
		return Result{}, errors.New("audit: repository not configured")
	}
	filters = normalize(filters)
	pageSize := filters.PageSize
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}
	if pageSize > maxPageSize {
		pageSize = maxPageSize
	}
	page := filters.Page
	if page <= 0 {
		page = 1
	}
	offset := uint64((page - 1) * pageSize)
	rows, err := s.repo.TimelineWindow(ctx, filters, offset, uint64(pageSize+1))
	if err != nil {
		return Result{}, err
	}
	hasNext := len(rows) > pageSize
	if hasNext {
		rows = rows[:pageSize]
	}
	if rows == nil {
		rows = []TimelineRow{}
	}
	paging := PagingInfo{Page: page, PageSize: pageSize, HasNext: hasNext}
	if page > 1 {
		paging.PrevPage = page - 1
	}
	if hasNext {
		paging.NextPage = page + 1
	}
	return Result{Rows: rows, Paging: paging}, nil
}

// Export returns every matching row up to MaxExportRows.
func (s *Service) Export(ctx context.Context, filters TimelineFilters) ([]TimelineRow, error) {
	if s.repo == nil {
		return nil, errors.New("audit: repository not configured")
	}
	return s.repo.TimelineAll(ctx, normalize(filters), MaxExportRows)
}

func normalize(filters TimelineFilters) TimelineFilters {
	filters.Actor = strings.TrimSpace(filters.Actor)
	filters.Entity = strings.TrimSpace(filters.Entity)
	filters.Action = strings.TrimSpace(filters.Action)
	filters.RoleID = strings.TrimSpace(filters.RoleID)
	filters.ModuleID = strings.TrimSpace(filters.ModuleID)
	return filters
}
