package dto

import "github.com/academia-crm/tuition-api/internal/models"

// ApproveReceiptRequest carries the admin's chosen validity period.
type ApproveReceiptRequest struct {
	Period string `json:"period" binding:"required"`
}

// ReceiptBoard groups every receipt by its current state for the admin view.
type ReceiptBoard struct {
	Pending  []models.ReceiptDetail `json:"pending"`
	Approved []models.ReceiptDetail `json:"approved"`
	Rejected []models.ReceiptDetail `json:"rejected"`
	Expired  []models.ReceiptDetail `json:"expired"`
}
