package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/wa-attendance-api/internal/service"
	"github.com/noah-isme/wa-attendance-api/pkg/response"
)

// SummaryHandler serves attendance summaries and their exports.
type SummaryHandler struct {
	summaries summaryService
	exports   exportService
}

// NewSummaryHandler constructs SummaryHandler.
func NewSummaryHandler(summaries summaryService, exports exportService) *SummaryHandler {
	return &SummaryHandler{summaries: summaries, exports: exports}
}

// Summary godoc
// @Summary Attendance summary
// @Description Percentages use two decimals; subjects with no held classes report N/A.
// @Tags Summary
// @Produce json
// @Param id path string true "Student ID"
// @Success 200 {object} response.Envelope
// @Failure 412 {object} response.Envelope
// @Security BearerAuth
// @Router /students/{id}/summary [get]
func (h *SummaryHandler) Summary(c *gin.Context) {
	summary, err := h.summaries.Summary(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, summary, nil)
}

// Export godoc
// @Summary Download the attendance summary
// @Tags Summary
// @Produce octet-stream
// @Param id path string true "Student ID"
// @Param format query string false "csv, pdf or xlsx"
// @Success 200 {file} file
// @Failure 400 {object} response.Envelope
// @Security BearerAuth
// @Router /students/{id}/summary/export [get]
func (h *SummaryHandler) Export(c *gin.Context) {
	format, err := service.ParseFormat(c.Query("format"))
	if err != nil {
		response.Error(c, err)
		return
	}
	file, err := h.exports.Summary(c.Request.Context(), c.Param("id"), format)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Attachment(c, file.Filename, file.ContentType, file.Data)
}

// Calendar godoc
// @Summary Download the weekly schedule as iCalendar
// @Tags Schedules
// @Produce text/calendar
// @Param id path string true "Student ID"
// @Success 200 {file} file
// @Failure 412 {object} response.Envelope
// @Security BearerAuth
// @Router /students/{id}/schedule.ics [get]
func (h *SummaryHandler) Calendar(c *gin.Context) {
	file, err := h.exports.ScheduleICS(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Attachment(c, file.Filename, file.ContentType, file.Data)
}
