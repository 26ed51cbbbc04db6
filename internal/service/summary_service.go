package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/wa-attendance-api/internal/models"
	"github.com/noah-isme/wa-attendance-api/pkg/cache"
	appErrors "github.com/noah-isme/wa-attendance-api/pkg/errors"
)

type attendanceCounter interface {
	CountsByStudent(ctx context.Context, studentID string) ([]models.SubjectAttendanceCount, error)
}

// SummaryService computes read-only attendance summaries from stored records.
type SummaryService struct {
	schedules *ScheduleService
	counts    attendanceCounter
	cache     *CacheService
	ttl       time.Duration
	logger    *zap.Logger
}

// NewSummaryService constructs the summary aggregator.
func NewSummaryService(schedules *ScheduleService, counts attendanceCounter, cache *CacheService, ttl time.Duration, logger *zap.Logger) *SummaryService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SummaryService{schedules: schedules, counts: counts, cache: cache, ttl: ttl, logger: logger}
}

// Summary tallies present and held classes per scheduled subject, in schedule order, plus the
// overall figure. Held classes are PRESENT or ABSENT records, so cancelled and holiday days never
// count and re-recording a day cannot inflate the total.
func (s *SummaryService) Summary(ctx context.Context, studentID string) (*models.AttendanceSummary, error) {
	key := cache.SummaryKey(studentID)
	var cached models.AttendanceSummary
	if hit, _ := s.cache.Get(ctx, key, &cached); hit {
		return &cached, nil
	}

	schedule, err := s.schedules.Get(ctx, studentID)
	if err != nil {
		return nil, err
	}
	counts, err := s.counts.CountsByStudent(ctx, studentID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to count attendance")
	}
	bySubject := make(map[string]models.SubjectAttendanceCount, len(counts))
	for _, c := range counts {
		bySubject[c.SubjectID] = c
	}

	summary := &models.AttendanceSummary{StudentID: studentID, Subjects: make([]models.SubjectSummary, 0, len(schedule.Subjects))}
	for _, subj := range schedule.Subjects {
		c := bySubject[subj.SubjectID]
		summary.Subjects = append(summary.Subjects, models.SubjectSummary{
			SubjectID:  subj.SubjectID,
			Code:       subj.Code,
			Name:       subj.Name,
			Present:    c.Present,
			Total:      c.Total,
			Percentage: models.Percentage(c.Present, c.Total),
		})
		summary.Present += c.Present
		summary.Total += c.Total
	}
	summary.Percentage = models.Percentage(summary.Present, summary.Total)

	if err := s.cache.Set(ctx, key, summary, s.ttl); err != nil {
		s.logger.Debug("summary not cached", zap.String("student_id", studentID), zap.Error(err))
	}
	return summary, nil
}
