package handler

import (
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/academia-crm/tuition-api/internal/dto"
	"github.com/academia-crm/tuition-api/internal/middleware"
	"github.com/academia-crm/tuition-api/internal/models"
	"github.com/academia-crm/tuition-api/internal/service"
	appErrors "github.com/academia-crm/tuition-api/pkg/errors"
	"github.com/academia-crm/tuition-api/pkg/response"
)

// ReceiptHandler wires the payment-proof endpoints.
type ReceiptHandler struct {
	receipts *service.ReceiptService
	students *service.StudentService
	maxBytes int64
}

// NewReceiptHandler creates a new handler.
func NewReceiptHandler(receipts *service.ReceiptService, students *service.StudentService, maxBytes int64) *ReceiptHandler {
	if maxBytes <= 0 {
		maxBytes = 5 * 1024 * 1024
	}
	return &ReceiptHandler{receipts: receipts, students: students, maxBytes: maxBytes}
}

// Upload accepts a multipart payment proof for a student. Guardians can only
// upload for their own students.
func (h *ReceiptHandler) Upload(c *gin.Context) {
	studentID := c.Param("id")
	claims := middleware.CurrentClaims(c)

	if _, err := h.students.Get(c.Request.Context(), studentID, claims); err != nil {
		response.Error(c, err)
		return
	}

	fileHeader, err := c.FormFile("file")
	if err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "missing receipt file"))
		return
	}
	if fileHeader.Size > h.maxBytes {
		response.Error(c, appErrors.ErrPayloadTooLarge)
		return
	}

	file, err := fileHeader.Open()
	if err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "unreadable receipt file"))
		return
	}
	defer file.Close()

	payload, err := io.ReadAll(io.LimitReader(file, h.maxBytes+1))
	if err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to read receipt file"))
		return
	}

	receipt, err := h.receipts.Upload(c.Request.Context(), studentID, fileHeader.Filename, payload)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, receipt)
}

// Approve transitions a receipt to approved for the requested period.
func (h *ReceiptHandler) Approve(c *gin.Context) {
	var req dto.ApproveReceiptRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid approval payload"))
		return
	}

	receipt, err := h.receipts.Approve(c.Request.Context(), c.Param("id"), models.ApprovalPeriod(req.Period))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, receipt, nil)
}

// Reject transitions a receipt to rejected.
func (h *ReceiptHandler) Reject(c *gin.Context) {
	receipt, err := h.receipts.Reject(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, receipt, nil)
}

// Delete removes a receipt and its stored payload.
func (h *ReceiptHandler) Delete(c *gin.Context) {
	if err := h.receipts.Delete(c.Request.Context(), c.Param("id")); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

// Download streams the original payload back to the caller.
func (h *ReceiptHandler) Download(c *gin.Context) {
	filename, data, err := h.receipts.Download(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Attachment(c, filename, "application/octet-stream", data)
}

// Latest returns a student's most recent receipt so guardians can check
// their enrollment status.
func (h *ReceiptHandler) Latest(c *gin.Context) {
	studentID := c.Param("id")
	claims := middleware.CurrentClaims(c)

	if _, err := h.students.Get(c.Request.Context(), studentID, claims); err != nil {
		response.Error(c, err)
		return
	}

	receipt, err := h.receipts.Latest(c.Request.Context(), studentID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, receipt, nil)
}

// Board lists every receipt grouped by state for the admin review screen.
func (h *ReceiptHandler) Board(c *gin.Context) {
	grouped, err := h.receipts.ListGrouped(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	board := dto.ReceiptBoard{
		Pending:  grouped[models.ReceiptStatePending],
		Approved: grouped[models.ReceiptStateApproved],
		Rejected: grouped[models.ReceiptStateRejected],
		Expired:  grouped[models.ReceiptStateExpired],
	}
	response.JSON(c, http.StatusOK, board, nil)
}
