package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/wa-attendance-api/internal/models"
)

// ScheduleRepository stores each student's weekly timetable.
type ScheduleRepository struct {
	db *sqlx.DB
}

// NewScheduleRepository constructs a ScheduleRepository.
func NewScheduleRepository(db *sqlx.DB) *ScheduleRepository {
	return &ScheduleRepository{db: db}
}

// Replace deletes the student's current schedule and inserts the new one. With a nil exec it
// runs in its own transaction; otherwise it joins the caller's.
func (r *ScheduleRepository) Replace(ctx context.Context, exec sqlx.ExtContext, schedule *models.Schedule) error {
	if exec != nil {
		return r.replace(ctx, exec, schedule)
	}
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin replace schedule: %w", err)
	}
	if err := r.replace(ctx, tx, schedule); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit replace schedule: %w", err)
	}
	return nil
}

func (r *ScheduleRepository) replace(ctx context.Context, tx sqlx.ExtContext, schedule *models.Schedule) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM schedules WHERE student_id = $1`, schedule.StudentID); err != nil {
		return fmt.Errorf("delete previous schedule: %w", err)
	}

	if schedule.ID == "" {
		schedule.ID = uuid.NewString()
	}
	if schedule.CreatedAt.IsZero() {
		schedule.CreatedAt = time.Now().UTC()
	}
	const insertSchedule = `INSERT INTO schedules (id, student_id, semester, confidence, created_at)
VALUES (:id, :student_id, :semester, :confidence, :created_at)`
	if _, err := sqlx.NamedExecContext(ctx, tx, insertSchedule, schedule); err != nil {
		return fmt.Errorf("insert schedule: %w", err)
	}

	const insertSubject = `INSERT INTO schedule_subjects (schedule_id, subject_id, code, name, credits, position)
VALUES (:schedule_id, :subject_id, :code, :name, :credits, :position)`
	for i := range schedule.Subjects {
		subj := &schedule.Subjects[i]
		subj.ScheduleID = schedule.ID
		subj.Position = i
		if _, err := sqlx.NamedExecContext(ctx, tx, insertSubject, subj); err != nil {
			return fmt.Errorf("insert schedule subject %s: %w", subj.Code, err)
		}
	}

	const insertSlot = `INSERT INTO schedule_time_slots (id, schedule_id, day_of_week, start_time, end_time, subject_id, position)
VALUES (:id, :schedule_id, :day_of_week, :start_time, :end_time, :subject_id, :position)`
	for i := range schedule.Slots {
		slot := &schedule.Slots[i]
		if slot.ID == "" {
			slot.ID = uuid.NewString()
		}
		slot.ScheduleID = schedule.ID
		slot.Position = i
		if _, err := sqlx.NamedExecContext(ctx, tx, insertSlot, slot); err != nil {
			return fmt.Errorf("insert time slot: %w", err)
		}
	}

	return nil
}

// FindByStudent loads the student's schedule with its subjects and slots in stored order.
// sql.ErrNoRows is returned unwrapped when the student has no schedule.
func (r *ScheduleRepository) FindByStudent(ctx context.Context, studentID string) (*models.Schedule, error) {
	var schedule models.Schedule
	if err := r.db.GetContext(ctx, &schedule, `SELECT id, student_id, semester, confidence, created_at FROM schedules WHERE student_id = $1`, studentID); err != nil {
		return nil, err
	}

	const subjectsQuery = `SELECT schedule_id, subject_id, code, name, credits, position
FROM schedule_subjects WHERE schedule_id = $1 ORDER BY position ASC`
	if err := r.db.SelectContext(ctx, &schedule.Subjects, subjectsQuery, schedule.ID); err != nil {
		return nil, fmt.Errorf("load schedule subjects: %w", err)
	}

	const slotsQuery = `SELECT t.id, t.schedule_id, t.day_of_week, t.start_time, t.end_time, t.subject_id, s.code AS subject_code, s.name AS subject_name, t.position
FROM schedule_time_slots t
JOIN subjects s ON s.id = t.subject_id
WHERE t.schedule_id = $1 ORDER BY t.position ASC`
	if err := r.db.SelectContext(ctx, &schedule.Slots, slotsQuery, schedule.ID); err != nil {
		return nil, fmt.Errorf("load schedule slots: %w", err)
	}
	return &schedule, nil
}
