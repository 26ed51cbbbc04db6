package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/jmoiron/sqlx/types"

	"github.com/noah-isme/wa-attendance-api/internal/models"
)

const studentColumns = "id, phone_number, roll_number, name, semester, chat_state, temp_data, created_at, updated_at"

// StudentRepository manages persistence for student records.
type StudentRepository struct {
	db *sqlx.DB
}

// NewStudentRepository constructs a StudentRepository.
func NewStudentRepository(db *sqlx.DB) *StudentRepository {
	return &StudentRepository{db: db}
}

func (r *StudentRepository) exec(exec sqlx.ExtContext) sqlx.ExtContext {
	if exec != nil {
		return exec
	}
	return r.db
}

// List returns students matching the provided filters.
func (r *StudentRepository) List(ctx context.Context, filter models.StudentFilter) ([]models.Student, int, error) {
	args := []interface{}{}
	conditions := []string{"1=1"}
	if filter.Search != "" {
		conditions = append(conditions, fmt.Sprintf("(LOWER(name) LIKE $%d OR LOWER(roll_number) LIKE $%d OR phone_number LIKE $%d)", len(args)+1, len(args)+1, len(args)+1))
		args = append(args, "%"+strings.ToLower(filter.Search)+"%")
	}
	where := " WHERE " + strings.Join(conditions, " AND ")

	allowedSorts := map[string]string{
		"name":        "name",
		"roll_number": "roll_number",
		"created_at":  "created_at",
	}
	column, ok := allowedSorts[filter.SortBy]
	if !ok {
		column = "created_at"
	}
	order := strings.ToUpper(filter.SortOrder)
	if order != "ASC" && order != "DESC" {
		order = "DESC"
	}
	_, size, offset := paginate(filter.Page, filter.PageSize)

	query := fmt.Sprintf("SELECT %s FROM students%s ORDER BY %s %s LIMIT %d OFFSET %d", studentColumns, where, column, order, size, offset)
	var students []models.Student
	if err := r.db.SelectContext(ctx, &students, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list students: %w", err)
	}

	var total int
	if err := r.db.GetContext(ctx, &total, "SELECT COUNT(*) FROM students"+where, args...); err != nil {
		return nil, 0, fmt.Errorf("count students: %w", err)
	}
	return students, total, nil
}

// FindByID fetches a student by ID. sql.ErrNoRows is returned unwrapped when absent.
func (r *StudentRepository) FindByID(ctx context.Context, id string) (*models.Student, error) {
	var student models.Student
	if err := r.db.GetContext(ctx, &student, "SELECT "+studentColumns+" FROM students WHERE id = $1", id); err != nil {
		return nil, err
	}
	return &student, nil
}

// FindByPhone fetches a student by normalized phone number.
func (r *StudentRepository) FindByPhone(ctx context.Context, exec sqlx.ExtContext, phone string) (*models.Student, error) {
	var student models.Student
	if err := sqlx.GetContext(ctx, r.exec(exec), &student, "SELECT "+studentColumns+" FROM students WHERE phone_number = $1", phone); err != nil {
		return nil, err
	}
	return &student, nil
}

// ExistsByRollNumber checks if a roll number is taken, optionally excluding an ID.
func (r *StudentRepository) ExistsByRollNumber(ctx context.Context, exec sqlx.ExtContext, rollNumber, excludeID string) (bool, error) {
	query := "SELECT 1 FROM students WHERE roll_number = $1"
	args := []interface{}{rollNumber}
	if excludeID != "" {
		query += " AND id <> $2"
		args = append(args, excludeID)
	}
	var exists int
	if err := sqlx.GetContext(ctx, r.exec(exec), &exists, query+" LIMIT 1", args...); err != nil {
		if err == sql.ErrNoRows {
			return false, nil
		}
		return false, fmt.Errorf("check roll number: %w", err)
	}
	return true, nil
}

// Create inserts a new student record.
func (r *StudentRepository) Create(ctx context.Context, exec sqlx.ExtContext, student *models.Student) error {
	if student.ID == "" {
		student.ID = uuid.NewString()
	}
	if student.ChatState == "" {
		student.ChatState = models.ChatStateIdle
	}
	now := time.Now().UTC()
	if student.CreatedAt.IsZero() {
		student.CreatedAt = now
	}
	student.UpdatedAt = now
	const query = `INSERT INTO students (id, phone_number, roll_number, name, semester, chat_state, temp_data, created_at, updated_at)
        VALUES (:id, :phone_number, :roll_number, :name, :semester, :chat_state, :temp_data, :created_at, :updated_at)`
	if _, err := sqlx.NamedExecContext(ctx, r.exec(exec), query, student); err != nil {
		return fmt.Errorf("create student: %w", err)
	}
	return nil
}

// Update modifies the registration fields of an existing student.
func (r *StudentRepository) Update(ctx context.Context, exec sqlx.ExtContext, student *models.Student) error {
	student.UpdatedAt = time.Now().UTC()
	const query = `UPDATE students SET roll_number = :roll_number, name = :name, semester = :semester, updated_at = :updated_at WHERE id = :id`
	if _, err := sqlx.NamedExecContext(ctx, r.exec(exec), query, student); err != nil {
		return fmt.Errorf("update student: %w", err)
	}
	return nil
}

// UpdateChatState stores the conversation state and scratch data.
func (r *StudentRepository) UpdateChatState(ctx context.Context, exec sqlx.ExtContext, id string, state models.ChatState, tempData types.NullJSONText) error {
	const query = `UPDATE students SET chat_state = $2, temp_data = $3, updated_at = $4 WHERE id = $1`
	res, err := r.exec(exec).ExecContext(ctx, query, id, state, tempData, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("update chat state: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// Delete removes a student. Schedule and records cascade.
func (r *StudentRepository) Delete(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM students WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete student: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return sql.ErrNoRows
	}
	return nil
}
