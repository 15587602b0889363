package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/academia-crm/tuition-api/internal/dto"
	"github.com/academia-crm/tuition-api/internal/models"
	"github.com/academia-crm/tuition-api/internal/service"
	appErrors "github.com/academia-crm/tuition-api/pkg/errors"
	"github.com/academia-crm/tuition-api/pkg/response"
)

// ReportHandler wires the report generation endpoint.
type ReportHandler struct {
	reports *service.ReportService
}

// NewReportHandler creates a new handler.
func NewReportHandler(reports *service.ReportService) *ReportHandler {
	return &ReportHandler{reports: reports}
}

// Generate builds the requested report export and streams it as a download.
func (h *ReportHandler) Generate(c *gin.Context) {
	var req dto.GenerateReportRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid report payload"))
		return
	}

	rng, err := parseRange(req.From, req.To)
	if err != nil {
		response.Error(c, err)
		return
	}

	result, err := h.reports.Generate(c.Request.Context(), models.ReportType(req.Type), rng)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Attachment(c, result.Filename, result.ContentType, result.Data)
}

func parseRange(from, to string) (models.DateRange, error) {
	var rng models.DateRange
	if from != "" {
		parsed, err := time.Parse("2006-01-02", from)
		if err != nil {
			return rng, appErrors.Clone(appErrors.ErrInvalidRange, "start date must use the YYYY-MM-DD layout")
		}
		rng.From = parsed
	}
	if to != "" {
		parsed, err := time.Parse("2006-01-02", to)
		if err != nil {
			return rng, appErrors.Clone(appErrors.ErrInvalidRange, "end date must use the YYYY-MM-DD layout")
		}
		rng.To = parsed
	}
	return rng, nil
}
