package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/academia-crm/tuition-api/internal/middleware"
	"github.com/academia-crm/tuition-api/internal/models"
	"github.com/academia-crm/tuition-api/internal/service"
	"github.com/academia-crm/tuition-api/pkg/response"
)

// StudentHandler wires the registration read endpoints.
type StudentHandler struct {
	students *service.StudentService
}

// NewStudentHandler creates a new handler.
func NewStudentHandler(students *service.StudentService) *StudentHandler {
	return &StudentHandler{students: students}
}

// List returns students. Guardians are always scoped to their own.
func (h *StudentHandler) List(c *gin.Context) {
	claims := middleware.CurrentClaims(c)

	filter := models.StudentFilter{
		Search:    c.Query("search"),
		Page:      queryInt(c, "page", 1),
		PageSize:  queryInt(c, "page_size", 20),
		SortBy:    c.Query("sort_by"),
		SortOrder: c.Query("sort_order"),
	}
	if claims != nil && claims.Role != models.RoleAdmin {
		filter.GuardianID = claims.UserID
	}

	students, pagination, err := h.students.List(c.Request.Context(), filter)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, students, &pagination)
}

// Get returns a single registration.
func (h *StudentHandler) Get(c *gin.Context) {
	student, err := h.students.Get(c.Request.Context(), c.Param("id"), middleware.CurrentClaims(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, student, nil)
}

// DetailsPDF streams the registration sheet as a PDF download.
func (h *StudentHandler) DetailsPDF(c *gin.Context) {
	data, filename, err := h.students.DetailsPDF(c.Request.Context(), c.Param("id"), middleware.CurrentClaims(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Attachment(c, filename, "application/pdf", data)
}

func queryInt(c *gin.Context, key string, fallback int) int {
	raw := c.Query(key)
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return value
}
