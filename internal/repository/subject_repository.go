package repository

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/wa-attendance-api/internal/models"
)

// SubjectRepository manages the canonical subject catalogue.
type SubjectRepository struct {
	db *sqlx.DB
}

// NewSubjectRepository constructs a SubjectRepository.
func NewSubjectRepository(db *sqlx.DB) *SubjectRepository {
	return &SubjectRepository{db: db}
}

func (r *SubjectRepository) exec(exec sqlx.ExtContext) sqlx.ExtContext {
	if exec != nil {
		return exec
	}
	return r.db
}

// FindOrCreate returns the subject with the exact code, creating it with name when missing.
// An existing subject keeps its stored name.
func (r *SubjectRepository) FindOrCreate(ctx context.Context, exec sqlx.ExtContext, code, name string) (*models.Subject, error) {
	now := time.Now().UTC()
	const query = `INSERT INTO subjects (id, code, name, total_classes, created_at, updated_at)
VALUES ($1, $2, $3, 0, $4, $4)
ON CONFLICT (code) DO UPDATE SET code = EXCLUDED.code
RETURNING id, code, name, total_classes, created_at, updated_at`
	var subject models.Subject
	if err := sqlx.GetContext(ctx, r.exec(exec), &subject, query, uuid.NewString(), code, name, now); err != nil {
		return nil, fmt.Errorf("find or create subject %s: %w", code, err)
	}
	return &subject, nil
}

// List returns subjects matching the filter.
func (r *SubjectRepository) List(ctx context.Context, filter models.SubjectFilter) ([]models.Subject, int, error) {
	args := []interface{}{}
	where := ""
	if filter.Search != "" {
		where = " WHERE (LOWER(code) LIKE $1 OR LOWER(name) LIKE $1)"
		args = append(args, "%"+strings.ToLower(filter.Search)+"%")
	}
	allowedSorts := map[string]string{
		"code":          "code",
		"name":          "name",
		"total_classes": "total_classes",
	}
	column, ok := allowedSorts[filter.SortBy]
	if !ok {
		column = "code"
	}
	order := strings.ToUpper(filter.SortOrder)
	if order != "ASC" && order != "DESC" {
		order = "ASC"
	}
	_, size, offset := paginate(filter.Page, filter.PageSize)

	query := fmt.Sprintf("SELECT id, code, name, total_classes, created_at, updated_at FROM subjects%s ORDER BY %s %s LIMIT %d OFFSET %d", where, column, order, size, offset)
	var subjects []models.Subject
	if err := r.db.SelectContext(ctx, &subjects, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list subjects: %w", err)
	}
	var total int
	if err := r.db.GetContext(ctx, &total, "SELECT COUNT(*) FROM subjects"+where, args...); err != nil {
		return nil, 0, fmt.Errorf("count subjects: %w", err)
	}
	return subjects, total, nil
}
