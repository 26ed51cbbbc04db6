package handler

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/wa-attendance-api/internal/dto"
	"github.com/noah-isme/wa-attendance-api/internal/models"
	appErrors "github.com/noah-isme/wa-attendance-api/pkg/errors"
	"github.com/noah-isme/wa-attendance-api/pkg/response"
)

// StudentHandler exposes student endpoints.
type StudentHandler struct {
	students studentService
}

// NewStudentHandler constructs StudentHandler.
func NewStudentHandler(students studentService) *StudentHandler {
	return &StudentHandler{students: students}
}

// List godoc
// @Summary List students
// @Tags Students
// @Produce json
// @Param search query string false "Search by name, roll number or phone"
// @Param page query int false "Page"
// @Param page_size query int false "Page size"
// @Param sort query string false "Sort column"
// @Param order query string false "asc or desc"
// @Success 200 {object} response.Envelope
// @Security BearerAuth
// @Router /students [get]
func (h *StudentHandler) List(c *gin.Context) {
	var filter models.StudentFilter
	filter.Search = strings.TrimSpace(c.Query("search"))
	if page, err := strconv.Atoi(c.DefaultQuery("page", "1")); err == nil {
		filter.Page = page
	}
	if size, err := strconv.Atoi(c.DefaultQuery("page_size", "20")); err == nil {
		filter.PageSize = size
	}
	filter.SortBy = c.Query("sort")
	filter.SortOrder = c.Query("order")

	students, pagination, err := h.students.List(c.Request.Context(), filter)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, students, pagination)
}

// Get godoc
// @Summary Get student detail
// @Tags Students
// @Produce json
// @Param id path string true "Student ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Security BearerAuth
// @Router /students/{id} [get]
func (h *StudentHandler) Get(c *gin.Context) {
	student, err := h.students.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, student, nil)
}

// Register godoc
// @Summary Register or update a student by phone number
// @Tags Students
// @Accept json
// @Produce json
// @Param payload body dto.RegisterStudentRequest true "Student payload"
// @Success 201 {object} response.Envelope
// @Success 200 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Security BearerAuth
// @Router /students [post]
func (h *StudentHandler) Register(c *gin.Context) {
	var req dto.RegisterStudentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	student, created, err := h.students.Register(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	if created {
		response.Created(c, student)
		return
	}
	response.JSON(c, http.StatusOK, student, nil)
}

// Delete godoc
// @Summary Delete a student with their schedule and attendance
// @Tags Students
// @Param id path string true "Student ID"
// @Success 204
// @Failure 404 {object} response.Envelope
// @Security BearerAuth
// @Router /students/{id} [delete]
func (h *StudentHandler) Delete(c *gin.Context) {
	if err := h.students.Reset(c.Request.Context(), c.Param("id")); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}
