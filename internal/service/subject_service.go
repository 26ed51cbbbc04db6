package service

import (
	"context"
	"strings"

	"github.com/noah-isme/wa-attendance-api/internal/models"
	appErrors "github.com/noah-isme/wa-attendance-api/pkg/errors"
)

type subjectLister interface {
	List(ctx context.Context, filter models.SubjectFilter) ([]models.Subject, int, error)
}

// SubjectService exposes the shared subject catalogue.
type SubjectService struct {
	repo subjectLister
}

// NewSubjectService constructs a SubjectService.
func NewSubjectService(repo subjectLister) *SubjectService {
	return &SubjectService{repo: repo}
}

// List returns subjects with pagination metadata.
func (s *SubjectService) List(ctx context.Context, filter models.SubjectFilter) ([]models.Subject, *models.Pagination, error) {
	filter.Search = strings.TrimSpace(filter.Search)
	if filter.Page < 1 {
		filter.Page = 1
	}
	if filter.PageSize <= 0 || filter.PageSize > 100 {
		filter.PageSize = 20
	}
	subjects, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list subjects")
	}
	if subjects == nil {
		subjects = []models.Subject{}
	}
	return subjects, &models.Pagination{Page: filter.Page, PageSize: filter.PageSize, TotalCount: total}, nil
}
