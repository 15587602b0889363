package repository

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/academia-crm/tuition-api/internal/models"
)

// ReportRepository runs the read-only dataset queries behind the report
// aggregator. It never mutates state.
type ReportRepository struct {
	db *sqlx.DB
}

// NewReportRepository constructs a ReportRepository.
func NewReportRepository(db *sqlx.DB) *ReportRepository {
	return &ReportRepository{db: db}
}

const rosterProjection = `s.course_interest, s.schedule_category, s.matricula, s.guardian_id,
        s.full_name AS student_name`

// GeneralRoster returns every student registered in range joined with the
// state of their most recent receipt.
func (r *ReportRepository) GeneralRoster(ctx context.Context, rng models.DateRange) ([]models.GeneralRosterRow, error) {
	query := fmt.Sprintf(`SELECT %s, NULL AS details, COALESCE(lr.state, '') AS latest_state
        FROM students s
        LEFT JOIN LATERAL (
            SELECT state FROM receipts WHERE student_id = s.id ORDER BY uploaded_at DESC LIMIT 1
        ) lr ON TRUE
        WHERE s.registered_at BETWEEN $1 AND $2
        ORDER BY s.course_interest, s.schedule_category`, rosterProjection)
	var rows []models.GeneralRosterRow
	if err := r.db.SelectContext(ctx, &rows, query, rng.From, rng.To); err != nil {
		return nil, fmt.Errorf("general roster: %w", err)
	}
	return rows, nil
}

// SiblingsRoster lists students whose registration declares an enrolled sibling.
func (r *ReportRepository) SiblingsRoster(ctx context.Context, rng models.DateRange) ([]models.RosterRow, error) {
	query := fmt.Sprintf(`SELECT %s, s.sibling_name AS details
        FROM students s
        WHERE s.sibling_enrolled = TRUE
          AND s.registered_at BETWEEN $1 AND $2
        ORDER BY s.course_interest, s.schedule_category`, rosterProjection)
	return r.roster(ctx, query, rng)
}

// AllergyRoster lists students with declared allergies.
func (r *ReportRepository) AllergyRoster(ctx context.Context, rng models.DateRange) ([]models.RosterRow, error) {
	query := fmt.Sprintf(`SELECT %s, s.allergy_details AS details
        FROM students s
        WHERE s.has_allergies = TRUE
          AND s.registered_at BETWEEN $1 AND $2
        ORDER BY s.course_interest, s.schedule_category`, rosterProjection)
	return r.roster(ctx, query, rng)
}

// MedicationAllergyRoster lists students allergic to medication.
func (r *ReportRepository) MedicationAllergyRoster(ctx context.Context, rng models.DateRange) ([]models.RosterRow, error) {
	query := fmt.Sprintf(`SELECT %s, s.medication_details AS details
        FROM students s
        WHERE s.medication_allergy = TRUE
          AND s.registered_at BETWEEN $1 AND $2
        ORDER BY s.course_interest, s.schedule_category`, rosterProjection)
	return r.roster(ctx, query, rng)
}

// ReferralRoster lists how each registration heard about the academy.
func (r *ReportRepository) ReferralRoster(ctx context.Context, rng models.DateRange) ([]models.RosterRow, error) {
	query := fmt.Sprintf(`SELECT %s, s.referral_source AS details
        FROM students s
        WHERE s.registered_at BETWEEN $1 AND $2
        ORDER BY s.course_interest, s.schedule_category`, rosterProjection)
	return r.roster(ctx, query, rng)
}

func (r *ReportRepository) roster(ctx context.Context, query string, rng models.DateRange) ([]models.RosterRow, error) {
	var rows []models.RosterRow
	if err := r.db.SelectContext(ctx, &rows, query, rng.From, rng.To); err != nil {
		return nil, fmt.Errorf("roster query: %w", err)
	}
	return rows, nil
}

// ExpiredAccounts returns one row per student holding an expired receipt,
// newest expiry first.
func (r *ReportRepository) ExpiredAccounts(ctx context.Context) ([]models.ReceiptStatusRow, error) {
	const query = `SELECT s.matricula, s.full_name AS student_name, MAX(r.expires_at) AS date
        FROM students s
        INNER JOIN receipts r ON r.student_id = s.id
        WHERE r.state IN ('expired', 'vencido')
        GROUP BY s.matricula, s.full_name
        ORDER BY MAX(r.expires_at) DESC`
	return r.statusRows(ctx, query)
}

// ApprovedAccounts returns one row per student holding an approved receipt,
// newest upload first. Students without an assigned matricula are skipped.
func (r *ReportRepository) ApprovedAccounts(ctx context.Context) ([]models.ReceiptStatusRow, error) {
	const query = `SELECT s.matricula, s.full_name AS student_name, MAX(r.uploaded_at) AS date
        FROM students s
        INNER JOIN receipts r ON r.student_id = s.id
        WHERE r.state IN ('approved', 'aprobado', 'validado')
          AND s.matricula IS NOT NULL
        GROUP BY s.matricula, s.full_name
        ORDER BY MAX(r.uploaded_at) DESC`
	return r.statusRows(ctx, query)
}

// RejectedAccounts returns a row per rejected receipt, newest upload first.
// Students without an assigned matricula are skipped.
func (r *ReportRepository) RejectedAccounts(ctx context.Context) ([]models.ReceiptStatusRow, error) {
	const query = `SELECT DISTINCT s.matricula, s.full_name AS student_name, r.uploaded_at AS date
        FROM students s
        INNER JOIN receipts r ON r.student_id = s.id
        WHERE r.state IN ('rejected', 'rechazado')
          AND s.matricula IS NOT NULL
        ORDER BY r.uploaded_at DESC`
	return r.statusRows(ctx, query)
}

func (r *ReportRepository) statusRows(ctx context.Context, query string) ([]models.ReceiptStatusRow, error) {
	var rows []models.ReceiptStatusRow
	if err := r.db.SelectContext(ctx, &rows, query); err != nil {
		return nil, fmt.Errorf("status report query: %w", err)
	}
	return rows, nil
}

// ValidatedReceipts returns approved receipts uploaded in range for the
// paginated receipts document, ordered by matricula.
func (r *ReportRepository) ValidatedReceipts(ctx context.Context, rng models.DateRange) ([]models.ValidatedReceiptRow, error) {
	const query = `SELECT s.matricula, s.full_name AS student_name, r.uploaded_at AS approved_at, r.file_ref
        FROM students s
        INNER JOIN receipts r ON r.student_id = s.id
        WHERE r.state IN ('approved', 'aprobado', 'validado')
          AND r.uploaded_at::date BETWEEN $1 AND $2
        ORDER BY s.matricula`
	var rows []models.ValidatedReceiptRow
	if err := r.db.SelectContext(ctx, &rows, query, rng.From, rng.To); err != nil {
		return nil, fmt.Errorf("validated receipts: %w", err)
	}
	return rows, nil
}
