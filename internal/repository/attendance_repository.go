package repository

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/noah-isme/wa-attendance-api/internal/models"
	"github.com/noah-isme/wa-attendance-api/pkg/dateutil"
)

// AttendanceRepository persists per-subject daily attendance records.
type AttendanceRepository struct {
	db *sqlx.DB
}

// NewAttendanceRepository constructs an AttendanceRepository.
func NewAttendanceRepository(db *sqlx.DB) *AttendanceRepository {
	return &AttendanceRepository{db: db}
}

const insertRecordQuery = `INSERT INTO attendance_records (id, student_id, subject_id, date, status, notes, created_at, updated_at)
VALUES ($1, $2, $3, $4::date, $5, $6, $7, $7)`

// ReplaceEntries writes records for one student and day, replacing any record of the same subject.
// Subject totals are recomputed inside the same transaction.
func (r *AttendanceRepository) ReplaceEntries(ctx context.Context, studentID string, date time.Time, records []models.AttendanceRecord) error {
	if len(records) == 0 {
		return nil
	}
	day := dateutil.Format(date)
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin replace attendance: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	affected := make([]string, 0, len(records))
	now := time.Now().UTC()
	for i := range records {
		rec := &records[i]
		if _, err := tx.ExecContext(ctx, `DELETE FROM attendance_records WHERE student_id = $1 AND subject_id = $2 AND date = $3::date`, studentID, rec.SubjectID, day); err != nil {
			return fmt.Errorf("delete attendance for subject %s: %w", rec.SubjectID, err)
		}
		if err := insertRecord(ctx, tx, studentID, day, rec, now); err != nil {
			return err
		}
		affected = append(affected, rec.SubjectID)
	}
	if err := recomputeTotals(ctx, tx, affected, now); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit replace attendance: %w", err)
	}
	committed = true
	return nil
}

// ReplaceDay removes every record of the student on date and writes records in their place.
func (r *AttendanceRepository) ReplaceDay(ctx context.Context, studentID string, date time.Time, records []models.AttendanceRecord) error {
	day := dateutil.Format(date)
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin replace attendance day: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	var removed []string
	if err := tx.SelectContext(ctx, &removed, `DELETE FROM attendance_records WHERE student_id = $1 AND date = $2::date RETURNING subject_id`, studentID, day); err != nil {
		return fmt.Errorf("clear attendance day: %w", err)
	}

	now := time.Now().UTC()
	affected := append([]string{}, removed...)
	for i := range records {
		rec := &records[i]
		if err := insertRecord(ctx, tx, studentID, day, rec, now); err != nil {
			return err
		}
		affected = append(affected, rec.SubjectID)
	}
	if err := recomputeTotals(ctx, tx, affected, now); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit replace attendance day: %w", err)
	}
	committed = true
	return nil
}

func insertRecord(ctx context.Context, tx *sqlx.Tx, studentID, day string, rec *models.AttendanceRecord, now time.Time) error {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	rec.StudentID = studentID
	rec.CreatedAt = now
	rec.UpdatedAt = now
	if _, err := tx.ExecContext(ctx, insertRecordQuery, rec.ID, studentID, rec.SubjectID, day, rec.Status, rec.Notes, now); err != nil {
		return fmt.Errorf("insert attendance for subject %s: %w", rec.SubjectID, err)
	}
	return nil
}

// recomputeTotals sets total_classes to the number of distinct dates with a held class.
func recomputeTotals(ctx context.Context, exec sqlx.ExecerContext, subjectIDs []string, now time.Time) error {
	ids := uniqueStrings(subjectIDs)
	if len(ids) == 0 {
		return nil
	}
	const query = `UPDATE subjects s SET total_classes = (
    SELECT COUNT(DISTINCT a.date) FROM attendance_records a
    WHERE a.subject_id = s.id AND a.status IN ('PRESENT', 'ABSENT')
), updated_at = $2
WHERE s.id = ANY($1)`
	if _, err := exec.ExecContext(ctx, query, pq.Array(ids), now); err != nil {
		return fmt.Errorf("recompute subject totals: %w", err)
	}
	return nil
}

// List returns a student's records, newest first.
func (r *AttendanceRepository) List(ctx context.Context, filter models.AttendanceFilter) ([]models.AttendanceRecord, int, error) {
	args := []interface{}{filter.StudentID}
	conditions := []string{"a.student_id = $1"}
	if filter.SubjectID != "" {
		args = append(args, filter.SubjectID)
		conditions = append(conditions, fmt.Sprintf("a.subject_id = $%d", len(args)))
	}
	if filter.Status != "" {
		args = append(args, filter.Status)
		conditions = append(conditions, fmt.Sprintf("a.status = $%d", len(args)))
	}
	if filter.From != nil {
		args = append(args, dateutil.Format(*filter.From))
		conditions = append(conditions, fmt.Sprintf("a.date >= $%d::date", len(args)))
	}
	if filter.To != nil {
		args = append(args, dateutil.Format(*filter.To))
		conditions = append(conditions, fmt.Sprintf("a.date <= $%d::date", len(args)))
	}
	where := " WHERE " + strings.Join(conditions, " AND ")
	_, size, offset := paginate(filter.Page, filter.PageSize)

	query := fmt.Sprintf(`SELECT a.id, a.student_id, a.subject_id, s.code AS subject_code, a.date, a.status, a.notes, a.created_at, a.updated_at
FROM attendance_records a JOIN subjects s ON s.id = a.subject_id%s
ORDER BY a.date DESC, s.code ASC LIMIT %d OFFSET %d`, where, size, offset)
	var records []models.AttendanceRecord
	if err := r.db.SelectContext(ctx, &records, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list attendance: %w", err)
	}
	var total int
	if err := r.db.GetContext(ctx, &total, "SELECT COUNT(*) FROM attendance_records a"+where, args...); err != nil {
		return nil, 0, fmt.Errorf("count attendance: %w", err)
	}
	return records, total, nil
}

// CountsByStudent tallies present and held classes per subject for a student.
func (r *AttendanceRepository) CountsByStudent(ctx context.Context, studentID string) ([]models.SubjectAttendanceCount, error) {
	const query = `SELECT subject_id,
    COUNT(*) FILTER (WHERE status = 'PRESENT') AS present,
    COUNT(*) FILTER (WHERE status IN ('PRESENT', 'ABSENT')) AS total
FROM attendance_records WHERE student_id = $1 GROUP BY subject_id`
	var counts []models.SubjectAttendanceCount
	if err := r.db.SelectContext(ctx, &counts, query, studentID); err != nil {
		return nil, fmt.Errorf("count attendance: %w", err)
	}
	return counts, nil
}

func uniqueStrings(values []string) []string {
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		if _, ok := seen[v]; ok || v == "" {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}
