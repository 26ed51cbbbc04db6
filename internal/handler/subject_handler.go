package handler

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/wa-attendance-api/internal/models"
	"github.com/noah-isme/wa-attendance-api/pkg/response"
)

// SubjectHandler exposes the subject catalogue.
type SubjectHandler struct {
	subjects subjectService
}

// NewSubjectHandler constructs SubjectHandler.
func NewSubjectHandler(subjects subjectService) *SubjectHandler {
	return &SubjectHandler{subjects: subjects}
}

// List godoc
// @Summary List subjects
// @Tags Subjects
// @Produce json
// @Param search query string false "Search by code or name"
// @Param page query int false "Page"
// @Param page_size query int false "Page size"
// @Param sort query string false "code, name or total_classes"
// @Param order query string false "asc or desc"
// @Success 200 {object} response.Envelope
// @Security BearerAuth
// @Router /subjects [get]
func (h *SubjectHandler) List(c *gin.Context) {
	filter := models.SubjectFilter{
		Search:    strings.TrimSpace(c.Query("search")),
		SortBy:    c.Query("sort"),
		SortOrder: c.Query("order"),
	}
	if page, err := strconv.Atoi(c.DefaultQuery("page", "1")); err == nil {
		filter.Page = page
	}
	if size, err := strconv.Atoi(c.DefaultQuery("page_size", "20")); err == nil {
		filter.PageSize = size
	}
	subjects, pagination, err := h.subjects.List(c.Request.Context(), filter)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, subjects, pagination)
}
