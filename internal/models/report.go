package models

import "time"

// ReportType enumerates the closed set of supported exports. The tags match
// the values the admin frontend has always submitted.
type ReportType string

const (
	ReportGeneralRoster       ReportType = "general-alumnos"
	ReportSiblingsEnrolled    ReportType = "hermanos-inscritos"
	ReportAllergies           ReportType = "alergias"
	ReportMedicationAllergies ReportType = "alergico-medicamentos"
	ReportReferralSources     ReportType = "enterado-academia"
	ReportExpiredAccounts     ReportType = "usuarios-vencidos"
	ReportApprovedAccounts    ReportType = "usuarios-aprobados"
	ReportRejectedAccounts    ReportType = "usuarios-rechazados"
	ReportValidatedReceipts   ReportType = "comprobantes-validados"
)

// DateRange bounds a report query. A zero To means "no range supplied".
type DateRange struct {
	From time.Time
	To   time.Time
}

// IsZero reports whether no range was supplied at all.
func (r DateRange) IsZero() bool {
	return r.From.IsZero() && r.To.IsZero()
}

// ReportExport is a rendered report ready to stream to the caller.
type ReportExport struct {
	Filename    string `json:"filename"`
	ContentType string `json:"content_type"`
	Data        []byte `json:"data"`
}

// RosterRow is the shared projection of the registration-roster reports.
type RosterRow struct {
	CourseInterest   string  `db:"course_interest"`
	ScheduleCategory string  `db:"schedule_category"`
	Matricula        *string `db:"matricula"`
	GuardianID       string  `db:"guardian_id"`
	StudentName      string  `db:"student_name"`
	Details          *string `db:"details"`
}

// GeneralRosterRow carries the latest-receipt state used to derive the
// enrollment-status label.
type GeneralRosterRow struct {
	RosterRow
	LatestState ReceiptState `db:"latest_state"`
}

// ReceiptStatusRow is the projection of the per-receipt-state account reports.
type ReceiptStatusRow struct {
	Matricula   *string   `db:"matricula"`
	StudentName string    `db:"student_name"`
	Date        time.Time `db:"date"`
}

// ValidatedReceiptRow feeds the paginated receipts document.
type ValidatedReceiptRow struct {
	Matricula   *string   `db:"matricula"`
	StudentName string    `db:"student_name"`
	ApprovedAt  time.Time `db:"approved_at"`
	FileRef     string    `db:"file_ref"`
}
