package service

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/wa-attendance-api/internal/dto"
	"github.com/noah-isme/wa-attendance-api/internal/models"
	"github.com/noah-isme/wa-attendance-api/pkg/cache"
	"github.com/noah-isme/wa-attendance-api/pkg/dateutil"
	appErrors "github.com/noah-isme/wa-attendance-api/pkg/errors"
)

const (
	unresolvedUnknownSubject = "subject not on schedule"
	unresolvedInvalidStatus  = "invalid status"
)

type attendanceRepository interface {
	ReplaceEntries(ctx context.Context, studentID string, date time.Time, records []models.AttendanceRecord) error
	ReplaceDay(ctx context.Context, studentID string, date time.Time, records []models.AttendanceRecord) error
	List(ctx context.Context, filter models.AttendanceFilter) ([]models.AttendanceRecord, int, error)
}

// AttendanceService applies daily attendance reports against a student's schedule.
type AttendanceService struct {
	students  *StudentService
	schedules *ScheduleService
	repo      attendanceRepository
	cache     *CacheService
	metrics   *MetricsService
	validator *validator.Validate
	logger    *zap.Logger
	loc       *time.Location
	now       func() time.Time
}

// NewAttendanceService constructs the attendance recorder.
func NewAttendanceService(students *StudentService, schedules *ScheduleService, repo attendanceRepository, cache *CacheService, metrics *MetricsService, validate *validator.Validate, logger *zap.Logger, loc *time.Location) *AttendanceService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if loc == nil {
		loc = time.UTC
	}
	svc := &AttendanceService{
		students:  students,
		schedules: schedules,
		repo:      repo,
		cache:     cache,
		metrics:   metrics,
		validator: validate,
		logger:    logger,
		loc:       loc,
		now:       time.Now,
	}
	_ = svc.validator.RegisterValidation("attendance_status", func(fl validator.FieldLevel) bool {
		return models.AttendanceStatus(strings.ToUpper(fl.Field().String())).Valid()
	})
	return svc
}

// Today returns the current calendar day in the service timezone.
func (s *AttendanceService) Today() time.Time {
	return dateutil.Midnight(s.now(), s.loc)
}

// Record applies one day's report. Holiday reports replace the whole day with HOLIDAY rows for
// every subject scheduled on that weekday; other reports replace the named subjects only.
func (s *AttendanceService) Record(ctx context.Context, studentID string, req dto.RecordAttendanceRequest) (*dto.RecordResult, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid attendance payload")
	}
	if !req.IsHoliday && len(req.Entries) == 0 {
		return nil, appErrors.Clone(appErrors.ErrValidation, "no attendance entries to record")
	}
	if _, err := s.students.Get(ctx, studentID); err != nil {
		return nil, err
	}
	date, err := dateutil.Parse(req.Date, s.now(), s.loc)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "unrecognised date")
	}
	schedule, err := s.schedules.Get(ctx, studentID)
	if err != nil {
		return nil, err
	}

	weekday := date.Weekday().String()
	result := &dto.RecordResult{
		Date:       dateutil.Format(date),
		Weekday:    weekday,
		Holiday:    req.IsHoliday,
		Applied:    []dto.AppliedEntry{},
		Unresolved: []dto.UnresolvedEntry{},
	}

	if req.IsHoliday {
		subjects := schedule.SubjectsOn(weekday)
		records := make([]models.AttendanceRecord, 0, len(subjects))
		for _, subj := range subjects {
			records = append(records, models.AttendanceRecord{
				SubjectID:   subj.SubjectID,
				SubjectCode: subj.Code,
				Status:      models.AttendanceStatusHoliday,
				Notes:       models.HolidayNote,
			})
			result.Applied = append(result.Applied, dto.AppliedEntry{SubjectID: subj.SubjectID, Code: subj.Code, Name: subj.Name, Status: models.AttendanceStatusHoliday})
		}
		if err := s.repo.ReplaceDay(ctx, studentID, date, records); err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to record holiday")
		}
		s.metrics.RecordAttendanceWrites(models.AttendanceStatusHoliday, len(records))
		s.afterWrite(ctx, studentID, result)
		return result, nil
	}

	matcher := newSubjectMatcher[models.ScheduleSubject]()
	for _, subj := range schedule.Subjects {
		matcher.add(subj.Code, subj)
	}

	bySubject := make(map[string]int)
	records := make([]models.AttendanceRecord, 0, len(req.Entries))
	for _, entry := range req.Entries {
		status := models.AttendanceStatus(strings.ToUpper(strings.TrimSpace(entry.Status)))
		if !status.Valid() {
			result.Unresolved = append(result.Unresolved, dto.UnresolvedEntry{SubjectCode: entry.SubjectCode, Status: entry.Status, Reason: unresolvedInvalidStatus})
			continue
		}
		subj, ok := matcher.resolve(entry.SubjectCode)
		if !ok {
			result.Unresolved = append(result.Unresolved, dto.UnresolvedEntry{SubjectCode: entry.SubjectCode, Status: entry.Status, Reason: unresolvedUnknownSubject})
			continue
		}
		rec := models.AttendanceRecord{SubjectID: subj.SubjectID, SubjectCode: subj.Code, Status: status}
		applied := dto.AppliedEntry{SubjectID: subj.SubjectID, Code: subj.Code, Name: subj.Name, Status: status}
		// A subject named twice keeps the last status.
		if idx, seen := bySubject[subj.SubjectID]; seen {
			records[idx] = rec
			result.Applied[idx] = applied
			continue
		}
		bySubject[subj.SubjectID] = len(records)
		records = append(records, rec)
		result.Applied = append(result.Applied, applied)
	}

	if len(records) > 0 {
		if err := s.repo.ReplaceEntries(ctx, studentID, date, records); err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to record attendance")
		}
		written := make(map[models.AttendanceStatus]int)
		for _, rec := range records {
			written[rec.Status]++
		}
		for status, n := range written {
			s.metrics.RecordAttendanceWrites(status, n)
		}
		s.afterWrite(ctx, studentID, result)
	}
	if len(result.Unresolved) > 0 {
		s.logger.Warn("attendance entries unresolved",
			zap.String("student_id", studentID),
			zap.String("date", result.Date),
			zap.Int("unresolved", len(result.Unresolved)),
		)
	}
	return result, nil
}

func (s *AttendanceService) afterWrite(ctx context.Context, studentID string, result *dto.RecordResult) {
	_ = s.cache.Invalidate(ctx, cache.SummaryKey(studentID))
	s.logger.Info("attendance recorded",
		zap.String("student_id", studentID),
		zap.String("date", result.Date),
		zap.Bool("holiday", result.Holiday),
		zap.Int("applied", len(result.Applied)),
	)
}

// List returns a student's records filtered by the query.
func (s *AttendanceService) List(ctx context.Context, studentID string, query dto.AttendanceListQuery) ([]models.AttendanceRecord, *models.Pagination, error) {
	if err := s.validator.Struct(query); err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid attendance filter")
	}
	if _, err := s.students.Get(ctx, studentID); err != nil {
		return nil, nil, err
	}
	filter := models.AttendanceFilter{
		StudentID: studentID,
		SubjectID: query.SubjectID,
		Status:    models.AttendanceStatus(strings.ToUpper(query.Status)),
		Page:      query.Page,
		PageSize:  query.PageSize,
	}
	now := s.now()
	if query.From != "" {
		from, err := dateutil.Parse(query.From, now, s.loc)
		if err != nil {
			return nil, nil, appErrors.Clone(appErrors.ErrValidation, "invalid from date")
		}
		filter.From = &from
	}
	if query.To != "" {
		to, err := dateutil.Parse(query.To, now, s.loc)
		if err != nil {
			return nil, nil, appErrors.Clone(appErrors.ErrValidation, "invalid to date")
		}
		filter.To = &to
	}
	if filter.From != nil && filter.To != nil && filter.To.Before(*filter.From) {
		return nil, nil, appErrors.Clone(appErrors.ErrValidation, "to date is before from date")
	}

	records, total, err := s.repo.List(ctx, filter)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			records, total = []models.AttendanceRecord{}, 0
		} else {
			return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list attendance")
		}
	}
	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 || size > 100 {
		size = 20
	}
	return records, &models.Pagination{Page: page, PageSize: size, TotalCount: total}, nil
}
