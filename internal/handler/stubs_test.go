package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/wa-attendance-api/internal/dto"
	"github.com/noah-isme/wa-attendance-api/internal/models"
	"github.com/noah-isme/wa-attendance-api/internal/whatsapp"
	appErrors "github.com/noah-isme/wa-attendance-api/pkg/errors"
	"github.com/noah-isme/wa-attendance-api/pkg/storage"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type envelope struct {
	Data       json.RawMessage    `json:"data"`
	Error      *appErrors.Error   `json:"error"`
	Pagination *models.Pagination `json:"pagination"`
}

func performRequest(r http.Handler, req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decodeEnvelope(t *testing.T, w *httptest.ResponseRecorder) envelope {
	t.Helper()
	var env envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env))
	return env
}

type stubStudents struct {
	students   map[string]*models.Student
	filter     models.StudentFilter
	registered []dto.RegisterStudentRequest
	created    bool
	resetIDs   []string
	err        error
}

func (s *stubStudents) List(ctx context.Context, filter models.StudentFilter) ([]models.Student, *models.Pagination, error) {
	s.filter = filter
	if s.err != nil {
		return nil, nil, s.err
	}
	out := make([]models.Student, 0, len(s.students))
	for _, st := range s.students {
		out = append(out, *st)
	}
	return out, &models.Pagination{Page: filter.Page, PageSize: filter.PageSize, TotalCount: len(out)}, nil
}

func (s *stubStudents) Get(ctx context.Context, id string) (*models.Student, error) {
	if st, ok := s.students[id]; ok {
		return st, nil
	}
	return nil, appErrors.ErrStudentNotFound
}

func (s *stubStudents) Register(ctx context.Context, req dto.RegisterStudentRequest) (*models.Student, bool, error) {
	if s.err != nil {
		return nil, false, s.err
	}
	s.registered = append(s.registered, req)
	return &models.Student{ID: "student-1", PhoneNumber: req.PhoneNumber, Name: req.Name, Semester: req.Semester}, s.created, nil
}

func (s *stubStudents) Reset(ctx context.Context, id string) error {
	if _, ok := s.students[id]; !ok {
		return appErrors.ErrStudentNotFound
	}
	s.resetIDs = append(s.resetIDs, id)
	return nil
}

type stubSchedules struct {
	schedule *models.Schedule
	ingested []dto.IngestScheduleRequest
	err      error
}

func (s *stubSchedules) Ingest(ctx context.Context, req dto.IngestScheduleRequest) (*dto.IngestResult, error) {
	if s.err != nil {
		return nil, s.err
	}
	s.ingested = append(s.ingested, req)
	return &dto.IngestResult{Schedule: s.schedule}, nil
}

func (s *stubSchedules) Get(ctx context.Context, studentID string) (*models.Schedule, error) {
	if s.schedule == nil {
		return nil, appErrors.ErrScheduleNotFound
	}
	return s.schedule, nil
}

type stubChat struct {
	reply       *dto.ChatReply
	err         error
	messages    []dto.InboundMessage
	importPhone string
	imported    []dto.Attachment
	contents    [][]byte
}

func (s *stubChat) Handle(ctx context.Context, msg dto.InboundMessage) (*dto.ChatReply, error) {
	s.messages = append(s.messages, msg)
	return s.reply, s.err
}

func (s *stubChat) ImportSchedule(ctx context.Context, phone string, attachments []dto.Attachment) (*dto.IngestResult, error) {
	s.importPhone = phone
	s.imported = attachments
	for _, att := range attachments {
		data, err := os.ReadFile(att.Path)
		if err != nil {
			return nil, err
		}
		s.contents = append(s.contents, data)
	}
	if s.err != nil {
		return nil, s.err
	}
	return &dto.IngestResult{Student: &models.Student{PhoneNumber: phone}}, nil
}

type stubAttendance struct {
	studentID string
	request   dto.RecordAttendanceRequest
	query     dto.AttendanceListQuery
	result    *dto.RecordResult
	records   []models.AttendanceRecord
	err       error
}

func (s *stubAttendance) Record(ctx context.Context, studentID string, req dto.RecordAttendanceRequest) (*dto.RecordResult, error) {
	s.studentID = studentID
	s.request = req
	return s.result, s.err
}

func (s *stubAttendance) List(ctx context.Context, studentID string, query dto.AttendanceListQuery) ([]models.AttendanceRecord, *models.Pagination, error) {
	s.studentID = studentID
	s.query = query
	if s.err != nil {
		return nil, nil, s.err
	}
	return s.records, &models.Pagination{Page: 1, PageSize: 20, TotalCount: len(s.records)}, nil
}

type stubSummaries struct {
	summary *models.AttendanceSummary
	err     error
}

func (s *stubSummaries) Summary(ctx context.Context, studentID string) (*models.AttendanceSummary, error) {
	return s.summary, s.err
}

type stubExports struct {
	format  dto.ExportFormat
	file    *dto.ExportFile
	err     error
	path    string
	token   storage.DownloadToken
	tokenOK string
}

func (s *stubExports) Summary(ctx context.Context, studentID string, format dto.ExportFormat) (*dto.ExportFile, error) {
	s.format = format
	return s.file, s.err
}

func (s *stubExports) ScheduleICS(ctx context.Context, studentID string) (*dto.ExportFile, error) {
	if s.err != nil {
		return nil, s.err
	}
	return &dto.ExportFile{Filename: "schedule.ics", ContentType: "text/calendar", Data: []byte("BEGIN:VCALENDAR")}, nil
}

func (s *stubExports) Resolve(token string) (*os.File, storage.DownloadToken, error) {
	if token != s.tokenOK {
		return nil, storage.DownloadToken{}, appErrors.Clone(appErrors.ErrForbidden, "invalid download link")
	}
	f, err := os.Open(s.path)
	if err != nil {
		return nil, storage.DownloadToken{}, appErrors.ErrNotFound
	}
	return f, s.token, nil
}

type stubSubjects struct {
	filter   models.SubjectFilter
	subjects []models.Subject
}

func (s *stubSubjects) List(ctx context.Context, filter models.SubjectFilter) ([]models.Subject, *models.Pagination, error) {
	s.filter = filter
	return s.subjects, &models.Pagination{Page: filter.Page, PageSize: filter.PageSize, TotalCount: len(s.subjects)}, nil
}

type stubDispatcher struct {
	messages []whatsapp.Message
	err      error
}

func (s *stubDispatcher) Dispatch(msg whatsapp.Message) error {
	s.messages = append(s.messages, msg)
	return s.err
}

type stubMetrics struct{}

func (stubMetrics) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("wa_http_requests_total 1\n"))
	})
}

func (stubMetrics) Snapshot() models.SystemMetrics {
	return models.SystemMetrics{RequestsTotal: 7, InboundMessages: 3}
}
