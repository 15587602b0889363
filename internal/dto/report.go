package dto

// GenerateReportRequest selects a report type with an optional date range.
// Dates use the YYYY-MM-DD layout.
type GenerateReportRequest struct {
	Type string `json:"type" binding:"required"`
	From string `json:"from,omitempty"`
	To   string `json:"to,omitempty"`
}
