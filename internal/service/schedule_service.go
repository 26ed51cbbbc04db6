package service

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/go-playground/validator/v10"
	"github.com/jmoiron/sqlx"
	"github.com/jmoiron/sqlx/types"
	"go.uber.org/zap"

	"github.com/noah-isme/wa-attendance-api/internal/dto"
	"github.com/noah-isme/wa-attendance-api/internal/models"
	"github.com/noah-isme/wa-attendance-api/pkg/cache"
	"github.com/noah-isme/wa-attendance-api/pkg/dateutil"
	appErrors "github.com/noah-isme/wa-attendance-api/pkg/errors"
)

const (
	dropReasonUnknownDay     = "unknown day"
	dropReasonMissingTime    = "missing start or end time"
	dropReasonBadTime        = "unrecognised start or end time"
	dropReasonUnknownSubject = "subject not declared on schedule"
)

// Column limits of the schedule tables.
const (
	maxSubjectCodeLen = 64
	maxSubjectNameLen = 255
	maxRollNumberLen  = 64
	maxStudentNameLen = 255
)

type subjectRepository interface {
	FindOrCreate(ctx context.Context, exec sqlx.ExtContext, code, name string) (*models.Subject, error)
}

type scheduleRepository interface {
	Replace(ctx context.Context, exec sqlx.ExtContext, schedule *models.Schedule) error
	FindByStudent(ctx context.Context, studentID string) (*models.Schedule, error)
}

type txRunner interface {
	WithinTx(ctx context.Context, fn func(exec sqlx.ExtContext) error) error
}

// ScheduleService reconciles parsed timetables into stored schedules.
type ScheduleService struct {
	students  *StudentService
	subjects  subjectRepository
	schedules scheduleRepository
	tx        txRunner
	cache     *CacheService
	validator *validator.Validate
	logger    *zap.Logger
}

// NewScheduleService constructs the schedule service.
func NewScheduleService(students *StudentService, subjects subjectRepository, schedules scheduleRepository, tx txRunner, cache *CacheService, validate *validator.Validate, logger *zap.Logger) *ScheduleService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ScheduleService{
		students:  students,
		subjects:  subjects,
		schedules: schedules,
		tx:        tx,
		cache:     cache,
		validator: validate,
		logger:    logger,
	}
}

// Ingest registers the student behind the request and replaces their schedule with the parsed one.
// Slots that cannot be reconciled are dropped and reported; an empty result is still stored.
// Registration, subjects and the schedule are written in one transaction.
func (s *ScheduleService) Ingest(ctx context.Context, req dto.IngestScheduleRequest) (*dto.IngestResult, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid schedule payload")
	}

	var result *dto.IngestResult
	err := s.withinTx(ctx, func(exec sqlx.ExtContext) error {
		var err error
		result, err = s.reconcile(ctx, exec, req.PhoneNumber, req.Parsed)
		return err
	})
	if err != nil {
		var appErr *appErrors.Error
		if errors.As(err, &appErr) {
			return nil, err
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to store schedule")
	}

	student := result.Student
	_ = s.cache.Invalidate(ctx, cache.SummaryKey(student.ID))
	s.logger.Info("schedule ingested",
		zap.String("student_id", student.ID),
		zap.Int("subjects", len(result.Schedule.Subjects)),
		zap.Int("slots", len(result.Schedule.Slots)),
		zap.Int("dropped", len(result.DroppedSlots)),
	)
	return result, nil
}

func (s *ScheduleService) withinTx(ctx context.Context, fn func(exec sqlx.ExtContext) error) error {
	if s.tx == nil {
		return fn(nil)
	}
	return s.tx.WithinTx(ctx, fn)
}

func (s *ScheduleService) reconcile(ctx context.Context, exec sqlx.ExtContext, phone string, parsed dto.ParsedSchedule) (*dto.IngestResult, error) {
	name, roll, semester := parsed.StudentDetails()
	if len(roll) > maxRollNumberLen {
		roll = ""
	}

	student, _, err := s.students.register(ctx, exec, dto.RegisterStudentRequest{
		PhoneNumber: phone,
		RollNumber:  roll,
		Name:        truncateRunes(name, maxStudentNameLen),
		Semester:    clampSemester(semester.Int()),
	})
	if err != nil {
		return nil, err
	}

	schedule := &models.Schedule{StudentID: student.ID, Semester: student.Semester, CreatedAt: time.Now().UTC()}
	if c := strings.TrimSpace(parsed.Confidence); c != "" {
		schedule.Confidence = &c
	}

	matcher := newSubjectMatcher[models.ScheduleSubject]()
	for _, declared := range parsed.Subjects {
		code := strings.TrimSpace(declared.Code)
		if code == "" {
			continue
		}
		if len(code) > maxSubjectCodeLen {
			s.logger.Warn("skipping subject with oversized code", zap.String("student_id", student.ID), zap.Int("length", len(code)))
			continue
		}
		if _, ok := matcher.exact[code]; ok {
			continue
		}
		subjectName := truncateRunes(strings.TrimSpace(declared.Name), maxSubjectNameLen)
		if subjectName == "" {
			subjectName = code
		}
		subject, err := s.subjects.FindOrCreate(ctx, exec, code, subjectName)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to store subject")
		}
		entry := models.ScheduleSubject{
			SubjectID: subject.ID,
			Code:      subject.Code,
			Name:      subjectName,
			Credits:   declared.Credits.Ptr(),
			Position:  len(schedule.Subjects),
		}
		matcher.add(code, entry)
		schedule.Subjects = append(schedule.Subjects, entry)
	}
	// Slots sometimes name the subject instead of giving its code.
	names := newSubjectMatcher[models.ScheduleSubject]()
	for _, subj := range schedule.Subjects {
		names.add(subj.Name, subj)
	}

	dropped := make([]dto.DroppedSlot, 0)
	for _, day := range parsed.Schedule {
		dayName, dayOK := dateutil.CanonicalDay(day.Day)
		for _, slot := range day.Slots {
			start, startOK := normalizeClock(slot.StartTime)
			end, endOK := normalizeClock(slot.EndTime)
			reason := ""
			subj, found := matcher.resolve(slot.Subject)
			if !found {
				subj, found = names.resolve(slot.Subject)
			}
			switch {
			case !dayOK:
				reason = dropReasonUnknownDay
			case start == "" || end == "":
				reason = dropReasonMissingTime
			case !startOK || !endOK:
				reason = dropReasonBadTime
			case !found:
				reason = dropReasonUnknownSubject
			}
			if reason != "" {
				s.logger.Warn("dropping schedule slot",
					zap.String("student_id", student.ID),
					zap.String("day", day.Day),
					zap.String("subject", slot.Subject),
					zap.String("reason", reason),
				)
				dropped = append(dropped, dto.DroppedSlot{Day: day.Day, Subject: slot.Subject, StartTime: start, EndTime: end, Reason: reason})
				continue
			}
			schedule.Slots = append(schedule.Slots, models.TimeSlot{
				DayOfWeek:   dayName,
				StartTime:   start,
				EndTime:     end,
				SubjectID:   subj.SubjectID,
				SubjectCode: subj.Code,
				SubjectName: subj.Name,
				Position:    len(schedule.Slots),
			})
		}
	}
	if schedule.Subjects == nil {
		schedule.Subjects = []models.ScheduleSubject{}
	}
	if schedule.Slots == nil {
		schedule.Slots = []models.TimeSlot{}
	}

	if err := s.schedules.Replace(ctx, exec, schedule); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to store schedule")
	}
	if err := s.students.updateState(ctx, exec, student.ID, models.ChatStateIdle, types.NullJSONText{}); err != nil {
		return nil, err
	}
	student.ChatState = models.ChatStateIdle
	student.TempData.Valid = false

	return &dto.IngestResult{
		Student:      student,
		Schedule:     schedule,
		DroppedSlots: dropped,
		Empty:        len(schedule.Slots) == 0,
	}, nil
}

// Get returns the student's schedule, or SCHEDULE_NOT_FOUND when none was uploaded.
func (s *ScheduleService) Get(ctx context.Context, studentID string) (*models.Schedule, error) {
	schedule, err := s.schedules.FindByStudent(ctx, studentID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.ErrScheduleNotFound
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load schedule")
	}
	return schedule, nil
}

// Describe renders a schedule as WhatsApp text, one block per weekday.
func (s *ScheduleService) Describe(schedule *models.Schedule) string {
	if schedule == nil || len(schedule.Slots) == 0 {
		return "Your schedule is on file but has no classes."
	}
	byDay := schedule.SlotsByDay()
	var b strings.Builder
	b.WriteString("📅 Your weekly schedule")
	for _, day := range models.Weekdays {
		slots := byDay[day]
		if len(slots) == 0 {
			continue
		}
		b.WriteString("\n\n*" + day + "*")
		for _, slot := range slots {
			b.WriteString("\n" + slot.StartTime + "-" + slot.EndTime + " " + slot.SubjectCode)
			if slot.SubjectName != "" && slot.SubjectName != slot.SubjectCode {
				b.WriteString(" (" + slot.SubjectName + ")")
			}
		}
	}
	return b.String()
}

var clockLayouts = []string{"15:04", "15.04", "3:04 PM", "3:04PM", "3:04 pm", "3:04pm", "3 PM", "3PM", "3pm", "15:04:05"}

// normalizeClock renders recognised times as HH:MM. Unrecognised input comes back trimmed with
// ok false.
func normalizeClock(raw string) (string, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", false
	}
	for _, layout := range clockLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t.Format("15:04"), true
		}
	}
	return raw, false
}

func truncateRunes(v string, max int) string {
	if utf8.RuneCountInString(v) <= max {
		return v
	}
	return string([]rune(v)[:max])
}

func clampSemester(v int) int {
	if v < 1 || v > 12 {
		return 0
	}
	return v
}
