package models

import (
	"database/sql/driver"
	"fmt"
	"time"
)

// ReceiptState captures the payment-proof lifecycle.
type ReceiptState string

const (
	ReceiptStatePending  ReceiptState = "pending"
	ReceiptStateApproved ReceiptState = "approved"
	ReceiptStateRejected ReceiptState = "rejected"
	ReceiptStateExpired  ReceiptState = "expired"
)

// legacyStates maps the Spanish tags written by the previous system onto the
// single canonical set. Both "aprobado" and "validado" were used for approval
// at different points of the schema's history.
var legacyStates = map[string]ReceiptState{
	"pendiente": ReceiptStatePending,
	"aprobado":  ReceiptStateApproved,
	"validado":  ReceiptStateApproved,
	"rechazado": ReceiptStateRejected,
	"vencido":   ReceiptStateExpired,
}

// Scan normalises legacy tags at the store boundary.
func (s *ReceiptState) Scan(value interface{}) error {
	if value == nil {
		*s = ""
		return nil
	}
	var raw string
	switch v := value.(type) {
	case []byte:
		raw = string(v)
	case string:
		raw = v
	default:
		return fmt.Errorf("unsupported type %T for ReceiptState", value)
	}
	if canonical, ok := legacyStates[raw]; ok {
		*s = canonical
		return nil
	}
	*s = ReceiptState(raw)
	return nil
}

// Value always writes the canonical tag.
func (s ReceiptState) Value() (driver.Value, error) {
	return string(s), nil
}

// ApprovalPeriod selects how long an approved receipt stays valid.
type ApprovalPeriod string

const (
	// PeriodMinute is a short-lived period for demo and testing cycles.
	PeriodMinute    ApprovalPeriod = "minute"
	PeriodMonthly   ApprovalPeriod = "monthly"
	PeriodBimonthly ApprovalPeriod = "bimonthly"
)

// Valid reports whether the period belongs to the configured enumeration.
func (p ApprovalPeriod) Valid() bool {
	switch p {
	case PeriodMinute, PeriodMonthly, PeriodBimonthly:
		return true
	default:
		return false
	}
}

// Scan maps NULL to the empty period.
func (p *ApprovalPeriod) Scan(value interface{}) error {
	if value == nil {
		*p = ""
		return nil
	}
	switch v := value.(type) {
	case []byte:
		*p = ApprovalPeriod(v)
	case string:
		*p = ApprovalPeriod(v)
	default:
		return fmt.Errorf("unsupported type %T for ApprovalPeriod", value)
	}
	return nil
}

// Value writes NULL for the empty period.
func (p ApprovalPeriod) Value() (driver.Value, error) {
	if p == "" {
		return nil, nil
	}
	return string(p), nil
}

// Receipt represents one uploaded payment proof tied to one student.
type Receipt struct {
	ID         string         `db:"id" json:"id"`
	StudentID  string         `db:"student_id" json:"student_id"`
	FileRef    string         `db:"file_ref" json:"-"`
	Filename   string         `db:"filename" json:"filename"`
	State      ReceiptState   `db:"state" json:"state"`
	Period     ApprovalPeriod `db:"period" json:"period,omitempty"`
	UploadedAt time.Time      `db:"uploaded_at" json:"uploaded_at"`
	ExpiresAt  *time.Time     `db:"expires_at" json:"expires_at,omitempty"`
}

// ReceiptDetail enriches Receipt with owning-student info for admin listings.
type ReceiptDetail struct {
	Receipt
	StudentName  string  `db:"student_name" json:"student_name"`
	StudentEmail string  `db:"student_email" json:"student_email"`
	Matricula    *string `db:"matricula" json:"matricula,omitempty"`
}
