// Package audit serves the audit trail that the ledger and inventory services
// record after every committed mutation.
package audit

import (
	"context"
	"errors"
	"fmt"

	"github.com/odyssey-erp/odyssey-backoffice/internal/shared"
)

// MaxExportRows caps a single CSV export.
const MaxExportRows = 10000

// Repository reads audit_logs.
type Repository interface {
	Timeline(ctx context.Context, filters TimelineFilters) ([]TimelineRow, int, error)
	Export(ctx context.Context, filters TimelineFilters, limit int) ([]TimelineRow, error)
}

// Service coordinates audit trail lookups.
type Service struct {
	repo Repository
}

// NewService builds the audit trail service.
func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

// Timeline returns one page of the trail, newest first.
func (s *Service) Timeline(ctx context.Context, filters TimelineFilters) ([]TimelineRow, shared.Pagination, error) {
	if s == nil || s.repo == nil {
		return nil, shared.Pagination{}, errors.New("audit: repository not configured")
	}
	if err := filters.validate(); err != nil {
		return nil, shared.Pagination{}, err
	}
	filters.PageRequest = filters.PageRequest.Normalize()
	rows, total, err := s.repo.Timeline(ctx, filters)
	if err != nil {
		return nil, shared.Pagination{}, err
	}
	return rows, shared.NewPagination(filters.Page, filters.PerPage, total), nil
}

// Export returns every matching row up to MaxExportRows, newest first.
func (s *Service) Export(ctx context.Context, filters TimelineFilters) ([]TimelineRow, error) {
	if s == nil || s.repo == nil {
		return nil, errors.New("audit: repository not configured")
	}
	if err := filters.validate(); err != nil {
		return nil, err
	}
	return s.repo.Export(ctx, filters, MaxExportRows)
}

func (f TimelineFilters) validate() error {
	if !f.From.IsZero() && !f.To.IsZero() && f.From.After(f.To) {
		return fmt.Errorf("audit: %w: from is after to", shared.ErrValidation)
	}
	if f.ActorID < 0 {
		return fmt.Errorf("audit: %w: actor must be positive", shared.ErrValidation)
	}
	return nil
}
