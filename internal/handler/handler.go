package handler

import (
	"context"
	"os"

	"github.com/noah-isme/wa-attendance-api/internal/dto"
	"github.com/noah-isme/wa-attendance-api/internal/models"
	"github.com/noah-isme/wa-attendance-api/internal/whatsapp"
	"github.com/noah-isme/wa-attendance-api/pkg/storage"
)

type studentService interface {
	List(ctx context.Context, filter models.StudentFilter) ([]models.Student, *models.Pagination, error)
	Get(ctx context.Context, id string) (*models.Student, error)
	Register(ctx context.Context, req dto.RegisterStudentRequest) (*models.Student, bool, error)
	Reset(ctx context.Context, id string) error
}

type scheduleService interface {
	Ingest(ctx context.Context, req dto.IngestScheduleRequest) (*dto.IngestResult, error)
	Get(ctx context.Context, studentID string) (*models.Schedule, error)
}

type chatService interface {
	Handle(ctx context.Context, msg dto.InboundMessage) (*dto.ChatReply, error)
	ImportSchedule(ctx context.Context, phone string, attachments []dto.Attachment) (*dto.IngestResult, error)
}

type attendanceService interface {
	Record(ctx context.Context, studentID string, req dto.RecordAttendanceRequest) (*dto.RecordResult, error)
	List(ctx context.Context, studentID string, query dto.AttendanceListQuery) ([]models.AttendanceRecord, *models.Pagination, error)
}

type summaryService interface {
	Summary(ctx context.Context, studentID string) (*models.AttendanceSummary, error)
}

type exportService interface {
	Summary(ctx context.Context, studentID string, format dto.ExportFormat) (*dto.ExportFile, error)
	ScheduleICS(ctx context.Context, studentID string) (*dto.ExportFile, error)
	Resolve(token string) (*os.File, storage.DownloadToken, error)
}

type subjectService interface {
	List(ctx context.Context, filter models.SubjectFilter) ([]models.Subject, *models.Pagination, error)
}

type inboundDispatcher interface {
	Dispatch(msg whatsapp.Message) error
}

// Handlers groups every HTTP handler the router mounts.
type Handlers struct {
	Webhook    *WebhookHandler
	Chat       *ChatHandler
	Student    *StudentHandler
	Schedule   *ScheduleHandler
	Attendance *AttendanceHandler
	Summary    *SummaryHandler
	Download   *DownloadHandler
	Subject    *SubjectHandler
	System     *SystemHandler
}
