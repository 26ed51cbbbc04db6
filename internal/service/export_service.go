package service

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/noah-isme/wa-attendance-api/internal/dto"
	"github.com/noah-isme/wa-attendance-api/pkg/dateutil"
	appErrors "github.com/noah-isme/wa-attendance-api/pkg/errors"
	"github.com/noah-isme/wa-attendance-api/pkg/export"
	"github.com/noah-isme/wa-attendance-api/pkg/storage"
)

const (
	contentTypeCSV  = "text/csv"
	contentTypePDF  = "application/pdf"
	contentTypeXLSX = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	contentTypeICS  = "text/calendar"
)

var summaryHeaders = []string{"Code", "Subject", "Present", "Total", "Percentage"}

type fileStorage interface {
	Save(filename string, data []byte) (string, error)
	Open(filename string) (*os.File, error)
	Delete(filename string) error
	CleanupOlderThan(ttl time.Duration) ([]string, error)
}

type csvRenderer interface {
	Render(data export.Dataset) ([]byte, error)
}

type pdfRenderer interface {
	Render(data export.Dataset, subtitle string) ([]byte, error)
}

type xlsxRenderer interface {
	Render(data export.Dataset) ([]byte, error)
}

type icsRenderer interface {
	Render(name, timezone string, events []export.CalendarEvent) ([]byte, error)
}

// ExportConfig tunes export behaviour.
type ExportConfig struct {
	PublicBaseURL string
	Location      *time.Location
}

// ExportService renders summaries and schedules into downloadable documents.
type ExportService struct {
	students  *StudentService
	schedules *ScheduleService
	summaries *SummaryService
	storage   fileStorage
	signer    *storage.SignedURLSigner
	csv       csvRenderer
	pdf       pdfRenderer
	xlsx      xlsxRenderer
	ics       icsRenderer
	logger    *zap.Logger
	cfg       ExportConfig
	now       func() time.Time
}

// NewExportService constructs an ExportService with the stock renderers.
func NewExportService(students *StudentService, schedules *ScheduleService, summaries *SummaryService, files fileStorage, signer *storage.SignedURLSigner, cfg ExportConfig, logger *zap.Logger) *ExportService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	return &ExportService{
		students:  students,
		schedules: schedules,
		summaries: summaries,
		storage:   files,
		signer:    signer,
		csv:       export.NewCSVExporter(),
		pdf:       export.NewPDFExporter(),
		xlsx:      export.NewXLSXExporter(),
		ics:       export.NewICSExporter(),
		logger:    logger,
		cfg:       cfg,
		now:       time.Now,
	}
}

// ParseFormat validates a requested export format. Empty means CSV.
func ParseFormat(raw string) (dto.ExportFormat, error) {
	switch f := dto.ExportFormat(strings.ToLower(strings.TrimSpace(raw))); f {
	case "":
		return dto.ExportFormatCSV, nil
	case dto.ExportFormatCSV, dto.ExportFormatPDF, dto.ExportFormatXLSX:
		return f, nil
	default:
		return "", appErrors.Clone(appErrors.ErrValidation, "format must be csv, pdf or xlsx")
	}
}

// Summary renders the student's attendance summary.
func (s *ExportService) Summary(ctx context.Context, studentID string, format dto.ExportFormat) (*dto.ExportFile, error) {
	student, err := s.students.Get(ctx, studentID)
	if err != nil {
		return nil, err
	}
	summary, err := s.summaries.Summary(ctx, studentID)
	if err != nil {
		return nil, err
	}

	dataset := export.Dataset{
		Title:   "Attendance Summary",
		Headers: summaryHeaders,
		Rows:    make([]map[string]string, 0, len(summary.Subjects)),
		Footer: map[string]string{
			"Code":       "TOTAL",
			"Present":    strconv.Itoa(summary.Present),
			"Total":      strconv.Itoa(summary.Total),
			"Percentage": summary.Percentage,
		},
	}
	for _, subj := range summary.Subjects {
		dataset.Rows = append(dataset.Rows, map[string]string{
			"Code":       subj.Code,
			"Subject":    subj.Name,
			"Present":    strconv.Itoa(subj.Present),
			"Total":      strconv.Itoa(subj.Total),
			"Percentage": subj.Percentage,
		})
	}

	today := dateutil.Format(dateutil.Midnight(s.now(), s.cfg.Location))
	base := fmt.Sprintf("attendance-%s-%s", safeName(student.RollNumber), today)

	var (
		payload     []byte
		contentType string
	)
	switch format {
	case dto.ExportFormatCSV, "":
		format = dto.ExportFormatCSV
		payload, err = s.csv.Render(dataset)
		contentType = contentTypeCSV
	case dto.ExportFormatPDF:
		subtitle := fmt.Sprintf("%s (%s) - Semester %d - %s", student.Name, student.RollNumber, student.Semester, today)
		payload, err = s.pdf.Render(dataset, subtitle)
		contentType = contentTypePDF
	case dto.ExportFormatXLSX:
		payload, err = s.xlsx.Render(dataset)
		contentType = contentTypeXLSX
	default:
		return nil, appErrors.Clone(appErrors.ErrValidation, "unsupported export format")
	}
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render export")
	}
	return &dto.ExportFile{Filename: base + "." + string(format), ContentType: contentType, Data: payload}, nil
}

// ScheduleICS renders the student's timetable as weekly recurring calendar events starting this week.
func (s *ExportService) ScheduleICS(ctx context.Context, studentID string) (*dto.ExportFile, error) {
	student, err := s.students.Get(ctx, studentID)
	if err != nil {
		return nil, err
	}
	schedule, err := s.schedules.Get(ctx, studentID)
	if err != nil {
		return nil, err
	}

	loc := s.cfg.Location
	today := dateutil.Midnight(s.now(), loc)
	events := make([]export.CalendarEvent, 0, len(schedule.Slots))
	for _, slot := range schedule.Slots {
		day, ok := dateutil.ParseWeekday(slot.DayOfWeek)
		if !ok {
			continue
		}
		start, okStart := clockOffset(slot.StartTime)
		end, okEnd := clockOffset(slot.EndTime)
		if !okStart || !okEnd || end <= start {
			continue
		}
		offset := (int(day) - int(today.Weekday()) + 7) % 7
		date := today.AddDate(0, 0, offset)
		events = append(events, export.CalendarEvent{
			UID:         slot.ID + "@wa-attendance",
			Summary:     strings.TrimSpace(slot.SubjectCode + " " + slot.SubjectName),
			Description: "Semester " + strconv.Itoa(schedule.Semester),
			Start:       date.Add(start),
			End:         date.Add(end),
			Weekly:      true,
		})
	}
	if len(events) == 0 {
		return nil, appErrors.Clone(appErrors.ErrPreconditionFailed, "schedule has no classes with valid times")
	}

	payload, err := s.ics.Render(student.Name+" timetable", loc.String(), events)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render calendar")
	}
	return &dto.ExportFile{
		Filename:    fmt.Sprintf("schedule-%s.ics", safeName(student.RollNumber)),
		ContentType: contentTypeICS,
		Data:        payload,
	}, nil
}

// Publish stores a rendered file and returns a signed link owned by studentID.
func (s *ExportService) Publish(ctx context.Context, studentID string, file *dto.ExportFile) (*dto.ExportLink, error) {
	if file == nil || len(file.Data) == 0 {
		return nil, appErrors.Clone(appErrors.ErrValidation, "nothing to publish")
	}
	name := path.Join(safeName(studentID), uuid.NewString()[:8]+"-"+file.Filename)
	relPath, err := s.storage.Save(name, file.Data)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to store export")
	}
	token, expiresAt, err := s.signer.Sign(studentID, relPath)
	if err != nil {
		_ = s.storage.Delete(relPath)
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to sign download link")
	}
	s.logger.Info("export published", zap.String("student_id", studentID), zap.String("file", relPath), zap.Time("expires_at", expiresAt))
	return &dto.ExportLink{
		URL:       strings.TrimRight(s.cfg.PublicBaseURL, "/") + "/downloads/" + token,
		Token:     token,
		Filename:  file.Filename,
		ExpiresAt: expiresAt,
	}, nil
}

// Resolve validates a download token and opens the file it grants.
func (s *ExportService) Resolve(token string) (*os.File, storage.DownloadToken, error) {
	claims, err := s.signer.Verify(token)
	if err != nil {
		if errors.Is(err, storage.ErrTokenExpired) {
			return nil, claims, appErrors.Clone(appErrors.ErrForbidden, "download link expired")
		}
		return nil, claims, appErrors.Clone(appErrors.ErrNotFound, "download link not recognised")
	}
	file, err := s.storage.Open(claims.Path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, claims, appErrors.Clone(appErrors.ErrNotFound, "export no longer available")
		}
		return nil, claims, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to open export")
	}
	return file, claims, nil
}

// Cleanup removes stored exports older than the signed link lifetime.
func (s *ExportService) Cleanup() (int, error) {
	removed, err := s.storage.CleanupOlderThan(s.signer.TTL())
	if err != nil {
		return len(removed), err
	}
	if len(removed) > 0 {
		s.logger.Info("expired exports removed", zap.Int("count", len(removed)))
	}
	return len(removed), nil
}

// clockOffset converts HH:MM into a duration after midnight.
func clockOffset(raw string) (time.Duration, bool) {
	clock, ok := normalizeClock(raw)
	if !ok {
		return 0, false
	}
	t, err := time.Parse("15:04", clock)
	if err != nil {
		return 0, false
	}
	return time.Duration(t.Hour())*time.Hour + time.Duration(t.Minute())*time.Minute, true
}

func safeName(s string) string {
	var b strings.Builder
	for _, r := range strings.TrimSpace(s) {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	if b.Len() == 0 {
		return "student"
	}
	return b.String()
}
