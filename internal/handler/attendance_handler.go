package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/wa-attendance-api/internal/dto"
	appErrors "github.com/noah-isme/wa-attendance-api/pkg/errors"
	"github.com/noah-isme/wa-attendance-api/pkg/response"
)

// AttendanceHandler records and lists attendance.
type AttendanceHandler struct {
	attendance attendanceService
}

// NewAttendanceHandler constructs AttendanceHandler.
func NewAttendanceHandler(attendance attendanceService) *AttendanceHandler {
	return &AttendanceHandler{attendance: attendance}
}

// Record godoc
// @Summary Record a day's attendance
// @Description Unknown subject codes and statuses are returned under unresolved instead of failing the request.
// @Tags Attendance
// @Accept json
// @Produce json
// @Param id path string true "Student ID"
// @Param payload body dto.RecordAttendanceRequest true "Attendance"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 412 {object} response.Envelope
// @Security BearerAuth
// @Router /students/{id}/attendance [post]
func (h *AttendanceHandler) Record(c *gin.Context) {
	var req dto.RecordAttendanceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	result, err := h.attendance.Record(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, result, nil)
}

// List godoc
// @Summary List attendance records
// @Tags Attendance
// @Produce json
// @Param id path string true "Student ID"
// @Param from query string false "From date (YYYY-MM-DD)"
// @Param to query string false "To date (YYYY-MM-DD)"
// @Param status query string false "PRESENT, ABSENT, CANCELLED or HOLIDAY"
// @Param subject_id query string false "Subject ID"
// @Param page query int false "Page"
// @Param page_size query int false "Page size"
// @Success 200 {object} response.Envelope
// @Security BearerAuth
// @Router /students/{id}/attendance [get]
func (h *AttendanceHandler) List(c *gin.Context) {
	var query dto.AttendanceListQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid query"))
		return
	}
	records, pagination, err := h.attendance.List(c.Request.Context(), c.Param("id"), query)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, records, pagination)
}
