package service

import (
	"context"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/wa-attendance-api/internal/dto"
	appErrors "github.com/noah-isme/wa-attendance-api/pkg/errors"
	"github.com/noah-isme/wa-attendance-api/pkg/storage"
)

func newExportFixture(t *testing.T) (*attendanceFixture, *ExportService, *storage.SignedURLSigner) {
	t.Helper()
	f := newAttendanceFixture(t)
	files, err := storage.NewLocalStorage(t.TempDir())
	require.NoError(t, err)
	signer := storage.NewSignedURLSigner("export-secret", time.Hour)
	svc := NewExportService(f.students, f.schedules, f.summary, files, signer, ExportConfig{PublicBaseURL: "https://bot.example.com/"}, nil)
	svc.now = func() time.Time { return time.Date(2024, 3, 6, 12, 0, 0, 0, time.UTC) }
	return f, svc, signer
}

func TestParseFormat(t *testing.T) {
	f, err := ParseFormat("")
	require.NoError(t, err)
	assert.Equal(t, dto.ExportFormatCSV, f)
	f, err = ParseFormat(" PDF ")
	require.NoError(t, err)
	assert.Equal(t, dto.ExportFormatPDF, f)
	_, err = ParseFormat("docx")
	assert.ErrorIs(t, err, appErrors.ErrValidation)
}

func TestExportServiceSummaryCSV(t *testing.T) {
	f, svc, _ := newExportFixture(t)
	ctx := context.Background()
	_, err := f.attendance.Record(ctx, f.studentID, dto.RecordAttendanceRequest{Date: "2024-03-04", Entries: []dto.AttendanceEntry{{SubjectCode: "CS101", Status: "PRESENT"}}})
	require.NoError(t, err)

	file, err := svc.Summary(ctx, f.studentID, dto.ExportFormatCSV)
	require.NoError(t, err)
	assert.Equal(t, "attendance-R1-2024-03-06.csv", file.Filename)
	assert.Equal(t, contentTypeCSV, file.ContentType)
	body := string(file.Data)
	assert.Contains(t, body, "Code,Subject,Present,Total,Percentage")
	assert.Contains(t, body, "CS101,Programming,1,1,100.00")
	assert.Contains(t, body, "PH110,Physics,0,0,N/A")
	assert.Contains(t, body, "TOTAL,,1,1,100.00")
}

func TestExportServiceSummaryBinaryFormats(t *testing.T) {
	f, svc, _ := newExportFixture(t)
	ctx := context.Background()

	pdf, err := svc.Summary(ctx, f.studentID, dto.ExportFormatPDF)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(pdf.Data), "%PDF"))

	xlsx, err := svc.Summary(ctx, f.studentID, dto.ExportFormatXLSX)
	require.NoError(t, err)
	assert.Equal(t, contentTypeXLSX, xlsx.ContentType)
	assert.True(t, strings.HasPrefix(string(xlsx.Data), "PK"))
}

func TestExportServiceScheduleICS(t *testing.T) {
	f, svc, _ := newExportFixture(t)

	file, err := svc.ScheduleICS(context.Background(), f.studentID)
	require.NoError(t, err)
	assert.Equal(t, "schedule-R1.ics", file.Filename)
	body := string(file.Data)
	assert.Contains(t, body, "BEGIN:VCALENDAR")
	assert.Equal(t, 4, strings.Count(body, "BEGIN:VEVENT"))
	assert.Contains(t, body, "RRULE:FREQ=WEEKLY")
	// Wednesday 2024-03-06: next Monday is 2024-03-11, next Tuesday 2024-03-12.
	assert.Contains(t, body, "20240311T090000")
	assert.Contains(t, body, "20240312T090000")
}

func TestExportServicePublishAndResolve(t *testing.T) {
	f, svc, _ := newExportFixture(t)
	ctx := context.Background()

	file, err := svc.Summary(ctx, f.studentID, dto.ExportFormatCSV)
	require.NoError(t, err)
	link, err := svc.Publish(ctx, f.studentID, file)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(link.URL, "https://bot.example.com/downloads/"))
	assert.Equal(t, file.Filename, link.Filename)

	handle, claims, err := svc.Resolve(link.Token)
	require.NoError(t, err)
	defer handle.Close()
	assert.Equal(t, f.studentID, claims.Owner)
	data, err := io.ReadAll(handle)
	require.NoError(t, err)
	assert.Equal(t, file.Data, data)

	_, _, err = svc.Resolve(link.Token + "x")
	assert.ErrorIs(t, err, appErrors.ErrNotFound)

	_, err = svc.Publish(ctx, f.studentID, &dto.ExportFile{Filename: "empty.csv"})
	assert.ErrorIs(t, err, appErrors.ErrValidation)
}

func TestExportServiceMissingSchedule(t *testing.T) {
	store := newMemoryStore()
	students := newTestStudentService(store)
	schedules := NewScheduleService(students, store, store, store, nil, nil, nil)
	summaries := NewSummaryService(schedules, store, nil, 0, nil)
	files, err := storage.NewLocalStorage(t.TempDir())
	require.NoError(t, err)
	svc := NewExportService(students, schedules, summaries, files, storage.NewSignedURLSigner("s", time.Hour), ExportConfig{}, nil)

	student, _, err := students.Register(context.Background(), dto.RegisterStudentRequest{PhoneNumber: "919876543210"})
	require.NoError(t, err)

	_, err = svc.Summary(context.Background(), student.ID, dto.ExportFormatCSV)
	assert.ErrorIs(t, err, appErrors.ErrScheduleNotFound)
	_, err = svc.ScheduleICS(context.Background(), student.ID)
	assert.ErrorIs(t, err, appErrors.ErrScheduleNotFound)
}

func TestSafeName(t *testing.T) {
	assert.Equal(t, "CS_2021_07", safeName("CS/2021 07"))
	assert.Equal(t, "student", safeName(""))
}
