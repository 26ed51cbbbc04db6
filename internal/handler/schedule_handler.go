package handler

import (
	"mime"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/wa-attendance-api/internal/dto"
	appErrors "github.com/noah-isme/wa-attendance-api/pkg/errors"
	"github.com/noah-isme/wa-attendance-api/pkg/response"
	"github.com/noah-isme/wa-attendance-api/pkg/storage"
)

// UploadLimits bounds multipart schedule uploads.
type UploadLimits struct {
	TempDir     string
	MaxFiles    int
	MaxFileSize int64
}

// ScheduleHandler exposes timetable endpoints.
type ScheduleHandler struct {
	students  studentService
	schedules scheduleService
	chat      chatService
	limits    UploadLimits
}

// NewScheduleHandler constructs ScheduleHandler.
func NewScheduleHandler(students studentService, schedules scheduleService, chat chatService, limits UploadLimits) *ScheduleHandler {
	if limits.MaxFiles <= 0 {
		limits.MaxFiles = 5
	}
	if limits.MaxFileSize <= 0 {
		limits.MaxFileSize = 10 * 1024 * 1024
	}
	return &ScheduleHandler{students: students, schedules: schedules, chat: chat, limits: limits}
}

// Ingest godoc
// @Summary Replace a student's schedule with structured timetable data
// @Tags Schedules
// @Accept json
// @Produce json
// @Param id path string true "Student ID"
// @Param payload body dto.ParsedSchedule true "Parsed timetable"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Security BearerAuth
// @Router /students/{id}/schedule [put]
func (h *ScheduleHandler) Ingest(c *gin.Context) {
	var parsed dto.ParsedSchedule
	if err := c.ShouldBindJSON(&parsed); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	student, err := h.students.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	result, err := h.schedules.Ingest(c.Request.Context(), dto.IngestScheduleRequest{PhoneNumber: student.PhoneNumber, Parsed: parsed})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, result, nil)
}

// Upload godoc
// @Summary Upload timetable images for vision parsing
// @Tags Schedules
// @Accept mpfd
// @Produce json
// @Param phone formData string true "Student phone number"
// @Param images formData file true "Timetable images or PDF (up to 5)"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 415 {object} response.Envelope
// @Failure 502 {object} response.Envelope
// @Security BearerAuth
// @Router /students/schedule/upload [post]
func (h *ScheduleHandler) Upload(c *gin.Context) {
	form, err := c.MultipartForm()
	if err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "multipart form required"))
		return
	}
	phone := strings.TrimSpace(c.PostForm("phone"))
	if phone == "" {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "phone is required"))
		return
	}
	files := make([]*multipart.FileHeader, 0, len(form.File["images"]))
	files = append(files, form.File["images"]...)
	files = append(files, form.File["images[]"]...)
	if len(files) == 0 {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "at least one image is required"))
		return
	}
	if len(files) > h.limits.MaxFiles {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "too many files"))
		return
	}

	scope, err := storage.NewScope(h.limits.TempDir, h.limits.MaxFileSize)
	if err != nil {
		response.Error(c, err)
		return
	}
	defer scope.Cleanup() //nolint:errcheck

	attachments := make([]dto.Attachment, 0, len(files))
	for _, fh := range files {
		att, err := h.stage(scope, fh)
		if err != nil {
			response.Error(c, err)
			return
		}
		attachments = append(attachments, *att)
	}

	result, err := h.chat.ImportSchedule(c.Request.Context(), phone, attachments)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, result, nil)
}

func (h *ScheduleHandler) stage(scope *storage.Scope, fh *multipart.FileHeader) (*dto.Attachment, error) {
	if fh.Size > h.limits.MaxFileSize {
		return nil, appErrors.Clone(appErrors.ErrValidation, fh.Filename+" is too large")
	}
	src, err := fh.Open()
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "failed to read upload")
	}
	defer src.Close() //nolint:errcheck

	path, err := scope.Write(fh.Filename, src)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "failed to store upload")
	}
	contentType := fh.Header.Get("Content-Type")
	if contentType == "" || contentType == "application/octet-stream" {
		contentType = mime.TypeByExtension(strings.ToLower(filepath.Ext(fh.Filename)))
	}
	return &dto.Attachment{Path: path, MimeType: contentType, Filename: fh.Filename}, nil
}

// Get godoc
// @Summary Get a student's schedule
// @Tags Schedules
// @Produce json
// @Param id path string true "Student ID"
// @Success 200 {object} response.Envelope
// @Failure 412 {object} response.Envelope
// @Security BearerAuth
// @Router /students/{id}/schedule [get]
func (h *ScheduleHandler) Get(c *gin.Context) {
	schedule, err := h.schedules.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, schedule, nil)
}
