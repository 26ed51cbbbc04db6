package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/wa-attendance-api/internal/dto"
	"github.com/noah-isme/wa-attendance-api/internal/models"
	appErrors "github.com/noah-isme/wa-attendance-api/pkg/errors"
)

type attendanceFixture struct {
	store      *memoryStore
	students   *StudentService
	schedules  *ScheduleService
	attendance *AttendanceService
	summary    *SummaryService
	cacheRepo  *memoryCacheRepo
	metrics    *MetricsService
	studentID  string
}

// newAttendanceFixture seeds a student whose Monday has CS101 9-10 and MATH201 11-12.
func newAttendanceFixture(t *testing.T) *attendanceFixture {
	t.Helper()
	store := newMemoryStore()
	cacheRepo := newMemoryCacheRepo()
	metrics := NewMetricsService()
	cache := NewCacheService(cacheRepo, metrics, time.Minute, nil, true)
	students := NewStudentService(store, cache, nil, nil, "91")
	schedules := NewScheduleService(students, store, store, store, cache, nil, nil)
	attendance := NewAttendanceService(students, schedules, attendanceRepoAdapter{store}, cache, metrics, nil, nil, time.UTC)
	attendance.now = func() time.Time { return time.Date(2024, 3, 4, 15, 0, 0, 0, time.UTC) }
	summary := NewSummaryService(schedules, store, cache, time.Minute, nil)

	parsed := mustParseSchedule(t, `{
		"rollNumber": "R1",
		"subjects": [{"code": "CS101", "name": "Programming"}, {"code": "MATH201", "name": "Calculus"}, {"code": "PH110", "name": "Physics"}],
		"schedule": [
			{"day": "Monday", "slots": [
				{"subject": "CS101", "startTime": "09:00", "endTime": "10:00"},
				{"subject": "MATH201", "startTime": "11:00", "endTime": "12:00"},
				{"subject": "CS101", "startTime": "14:00", "endTime": "15:00"}
			]},
			{"day": "Tuesday", "slots": [{"subject": "PH110", "startTime": "09:00", "endTime": "10:00"}]}
		]
	}`)
	res, err := schedules.Ingest(context.Background(), dto.IngestScheduleRequest{PhoneNumber: "919876543210", Parsed: parsed})
	require.NoError(t, err)

	return &attendanceFixture{
		store:      store,
		students:   students,
		schedules:  schedules,
		attendance: attendance,
		summary:    summary,
		cacheRepo:  cacheRepo,
		metrics:    metrics,
		studentID:  res.Student.ID,
	}
}

func TestAttendanceServiceHolidayCreatesOneRecordPerScheduledSubject(t *testing.T) {
	f := newAttendanceFixture(t)
	ctx := context.Background()

	_, err := f.attendance.Record(ctx, f.studentID, dto.RecordAttendanceRequest{
		Date:    "2024-03-04",
		Entries: []dto.AttendanceEntry{{SubjectCode: "CS101", Status: "PRESENT"}},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, f.store.totalClasses("CS101"))

	result, err := f.attendance.Record(ctx, f.studentID, dto.RecordAttendanceRequest{Date: "today", IsHoliday: true})
	require.NoError(t, err)
	assert.Equal(t, "2024-03-04", result.Date)
	assert.Equal(t, "Monday", result.Weekday)
	assert.True(t, result.Holiday)
	require.Len(t, result.Applied, 2)
	assert.Equal(t, "CS101", result.Applied[0].Code)
	assert.Equal(t, "MATH201", result.Applied[1].Code)

	records := f.store.recordsFor(f.studentID)
	require.Len(t, records, 2)
	for _, rec := range records {
		assert.Equal(t, models.AttendanceStatusHoliday, rec.Status)
		assert.Equal(t, models.HolidayNote, rec.Notes)
	}
	// the holiday replaced the PRESENT record, so no class was held that day
	assert.Equal(t, 0, f.store.totalClasses("CS101"))
	assert.Equal(t, 0, f.store.totalClasses("MATH201"))
	assert.Equal(t, 0, f.store.totalClasses("PH110"))

	summary, err := f.summary.Summary(ctx, f.studentID)
	require.NoError(t, err)
	assert.Equal(t, 0, summary.Total)
	assert.Equal(t, models.PercentageNA, summary.Percentage)
}

func TestAttendanceServiceRecordEntries(t *testing.T) {
	f := newAttendanceFixture(t)
	ctx := context.Background()

	result, err := f.attendance.Record(ctx, f.studentID, dto.RecordAttendanceRequest{
		Date: "2024-03-04",
		Entries: []dto.AttendanceEntry{
			{SubjectCode: "CS101", Status: "PRESENT"},
			{SubjectCode: "math-201", Status: "absent"},
			{SubjectCode: "BIO1", Status: "PRESENT"},
			{SubjectCode: "PH110", Status: "LATE"},
		},
	})
	require.NoError(t, err)
	require.Len(t, result.Applied, 2)
	assert.Equal(t, models.AttendanceStatusAbsent, result.Applied[1].Status)
	require.Len(t, result.Unresolved, 2)
	assert.Equal(t, unresolvedUnknownSubject, result.Unresolved[0].Reason)
	assert.Equal(t, unresolvedInvalidStatus, result.Unresolved[1].Reason)
	assert.Len(t, f.store.recordsFor(f.studentID), 2)
	assert.Equal(t, uint64(1), f.metrics.Snapshot().RecordsWritten["PRESENT"])
}

func TestAttendanceServiceRerecordingSameDayDoesNotDoubleCount(t *testing.T) {
	f := newAttendanceFixture(t)
	ctx := context.Background()
	req := dto.RecordAttendanceRequest{Date: "2024-03-04", Entries: []dto.AttendanceEntry{{SubjectCode: "CS101", Status: "ABSENT"}}}

	_, err := f.attendance.Record(ctx, f.studentID, req)
	require.NoError(t, err)
	req.Entries[0].Status = "PRESENT"
	_, err = f.attendance.Record(ctx, f.studentID, req)
	require.NoError(t, err)

	records := f.store.recordsFor(f.studentID)
	require.Len(t, records, 1)
	assert.Equal(t, models.AttendanceStatusPresent, records[0].Status)
	assert.Equal(t, 1, f.store.totalClasses("CS101"))

	summary, err := f.summary.Summary(ctx, f.studentID)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Subjects[0].Total)
	assert.Equal(t, 1, summary.Subjects[0].Present)
	assert.Equal(t, "100.00", summary.Subjects[0].Percentage)

	next := dto.RecordAttendanceRequest{Date: "2024-03-11", Entries: []dto.AttendanceEntry{{SubjectCode: "CS101", Status: "ABSENT"}}}
	_, err = f.attendance.Record(ctx, f.studentID, next)
	require.NoError(t, err)
	assert.Equal(t, 2, f.store.totalClasses("CS101"))
	_, err = f.attendance.Record(ctx, f.studentID, next)
	require.NoError(t, err)
	assert.Equal(t, 2, f.store.totalClasses("CS101"))
	assert.Len(t, f.store.recordsFor(f.studentID), 2)
}

func TestAttendanceServiceSummaryEightyPercent(t *testing.T) {
	f := newAttendanceFixture(t)
	ctx := context.Background()

	history := []struct {
		date   string
		status string
	}{
		{"2024-02-05", "PRESENT"},
		{"2024-02-12", "PRESENT"},
		{"2024-02-19", "ABSENT"},
		{"2024-02-26", "PRESENT"},
		{"2024-02-27", "CANCELLED"},
	}
	for _, h := range history {
		_, err := f.attendance.Record(ctx, f.studentID, dto.RecordAttendanceRequest{Date: h.date, Entries: []dto.AttendanceEntry{{SubjectCode: "CS101", Status: h.status}}})
		require.NoError(t, err)
	}
	before, err := f.summary.Summary(ctx, f.studentID)
	require.NoError(t, err)
	assert.Equal(t, 3, before.Subjects[0].Present)
	assert.Equal(t, 4, before.Subjects[0].Total)

	_, err = f.attendance.Record(ctx, f.studentID, dto.RecordAttendanceRequest{
		Date: "2024-03-04",
		Entries: []dto.AttendanceEntry{
			{SubjectCode: "CS101", Status: "PRESENT"},
			{SubjectCode: "MATH201", Status: "ABSENT"},
		},
	})
	require.NoError(t, err)

	after, err := f.summary.Summary(ctx, f.studentID)
	require.NoError(t, err)
	cs := after.Subjects[0]
	assert.Equal(t, "CS101", cs.Code)
	assert.Equal(t, 4, cs.Present)
	assert.Equal(t, 5, cs.Total)
	assert.Equal(t, "80.00", cs.Percentage)

	math := after.Subjects[1]
	assert.Equal(t, 0, math.Present)
	assert.Equal(t, 1, math.Total)
	assert.Equal(t, "0.00", math.Percentage)

	assert.Equal(t, models.PercentageNA, after.Subjects[2].Percentage)
	assert.Equal(t, 4, after.Present)
	assert.Equal(t, 6, after.Total)
	assert.Equal(t, "66.67", after.Percentage)
}

func TestAttendanceServiceRequiresSchedule(t *testing.T) {
	store := newMemoryStore()
	students := newTestStudentService(store)
	schedules := NewScheduleService(students, store, store, store, nil, nil, nil)
	attendance := NewAttendanceService(students, schedules, attendanceRepoAdapter{store}, nil, nil, nil, nil, time.UTC)

	student, _, err := students.Register(context.Background(), dto.RegisterStudentRequest{PhoneNumber: "919876543210"})
	require.NoError(t, err)

	_, err = attendance.Record(context.Background(), student.ID, dto.RecordAttendanceRequest{IsHoliday: true})
	assert.ErrorIs(t, err, appErrors.ErrScheduleNotFound)
	assert.Empty(t, store.recordsFor(student.ID))

	_, err = attendance.Record(context.Background(), "ghost", dto.RecordAttendanceRequest{IsHoliday: true})
	assert.ErrorIs(t, err, appErrors.ErrStudentNotFound)
}

func TestAttendanceServiceRejectsBadInput(t *testing.T) {
	f := newAttendanceFixture(t)
	ctx := context.Background()

	_, err := f.attendance.Record(ctx, f.studentID, dto.RecordAttendanceRequest{Date: "2024-03-04"})
	assert.ErrorIs(t, err, appErrors.ErrValidation)

	_, err = f.attendance.Record(ctx, f.studentID, dto.RecordAttendanceRequest{Date: "the day after", IsHoliday: true})
	assert.ErrorIs(t, err, appErrors.ErrValidation)
}

func TestAttendanceServiceStorageFailureLeavesNoRecords(t *testing.T) {
	f := newAttendanceFixture(t)
	f.store.recordErr = errors.New("tx aborted")

	_, err := f.attendance.Record(context.Background(), f.studentID, dto.RecordAttendanceRequest{IsHoliday: true})
	assert.ErrorIs(t, err, appErrors.ErrInternal)
	assert.Empty(t, f.store.recordsFor(f.studentID))
}

func TestAttendanceServiceInvalidatesSummaryCache(t *testing.T) {
	f := newAttendanceFixture(t)
	ctx := context.Background()

	_, err := f.summary.Summary(ctx, f.studentID)
	require.NoError(t, err)
	_, cached := f.cacheRepo.items["summary:"+f.studentID]
	require.True(t, cached)

	_, err = f.attendance.Record(ctx, f.studentID, dto.RecordAttendanceRequest{Entries: []dto.AttendanceEntry{{SubjectCode: "CS101", Status: "PRESENT"}}})
	require.NoError(t, err)
	_, cached = f.cacheRepo.items["summary:"+f.studentID]
	assert.False(t, cached)

	summary, err := f.summary.Summary(ctx, f.studentID)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Present)
}

func TestAttendanceServiceList(t *testing.T) {
	f := newAttendanceFixture(t)
	ctx := context.Background()
	for _, d := range []string{"2024-02-26", "2024-03-04"} {
		_, err := f.attendance.Record(ctx, f.studentID, dto.RecordAttendanceRequest{Date: d, Entries: []dto.AttendanceEntry{{SubjectCode: "CS101", Status: "PRESENT"}}})
		require.NoError(t, err)
	}

	records, pagination, err := f.attendance.List(ctx, f.studentID, dto.AttendanceListQuery{From: "2024-03-01", Status: "present"})
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, 1, pagination.TotalCount)

	_, _, err = f.attendance.List(ctx, f.studentID, dto.AttendanceListQuery{Status: "LATE"})
	assert.ErrorIs(t, err, appErrors.ErrValidation)

	_, _, err = f.attendance.List(ctx, f.studentID, dto.AttendanceListQuery{From: "2024-03-05", To: "2024-03-01"})
	assert.ErrorIs(t, err, appErrors.ErrValidation)
}
