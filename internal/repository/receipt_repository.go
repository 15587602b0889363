package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/academia-crm/tuition-api/internal/models"
)

const receiptColumns = "id, student_id, file_ref, filename, state, period, uploaded_at, expires_at"

// ReceiptRepository manages persistence for payment-proof records.
type ReceiptRepository struct {
	db *sqlx.DB
}

// NewReceiptRepository constructs a ReceiptRepository.
func NewReceiptRepository(db *sqlx.DB) *ReceiptRepository {
	return &ReceiptRepository{db: db}
}

// FindByID fetches a receipt by its identifier.
func (r *ReceiptRepository) FindByID(ctx context.Context, id string) (*models.Receipt, error) {
	query := fmt.Sprintf("SELECT %s FROM receipts WHERE id = $1", receiptColumns)
	var receipt models.Receipt
	if err := r.db.GetContext(ctx, &receipt, query, id); err != nil {
		return nil, err
	}
	return &receipt, nil
}

// Create inserts a new pending receipt row.
func (r *ReceiptRepository) Create(ctx context.Context, receipt *models.Receipt) error {
	if receipt.ID == "" {
		receipt.ID = uuid.NewString()
	}
	if receipt.State == "" {
		receipt.State = models.ReceiptStatePending
	}
	if receipt.UploadedAt.IsZero() {
		receipt.UploadedAt = time.Now().UTC()
	}
	const query = `INSERT INTO receipts (id, student_id, file_ref, filename, state, period, uploaded_at, expires_at)
        VALUES (:id, :student_id, :file_ref, :filename, :state, :period, :uploaded_at, :expires_at)`
	if _, err := r.db.NamedExecContext(ctx, query, receipt); err != nil {
		return fmt.Errorf("create receipt: %w", err)
	}
	return nil
}

// Approve transitions the target receipt to approved and deletes the owning
// student's other rejected/expired receipts. Both steps run in one
// transaction so a crash cannot leave the student without any record while
// the approval is still unwritten.
func (r *ReceiptRepository) Approve(ctx context.Context, id string, period models.ApprovalPeriod, expiresAt time.Time) (*models.Receipt, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin approve tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	query := fmt.Sprintf("SELECT %s FROM receipts WHERE id = $1 FOR UPDATE", receiptColumns)
	var receipt models.Receipt
	if err := tx.GetContext(ctx, &receipt, query, id); err != nil {
		return nil, err
	}

	const deleteSiblings = `DELETE FROM receipts
        WHERE student_id = $1
          AND state IN ('rejected', 'expired', 'rechazado', 'vencido')
          AND id <> $2`
	if _, err := tx.ExecContext(ctx, deleteSiblings, receipt.StudentID, id); err != nil {
		return nil, fmt.Errorf("delete superseded receipts: %w", err)
	}

	const update = `UPDATE receipts SET state = $1, period = $2, expires_at = $3 WHERE id = $4`
	if _, err := tx.ExecContext(ctx, update, models.ReceiptStateApproved, period, expiresAt, id); err != nil {
		return nil, fmt.Errorf("approve receipt: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit approve tx: %w", err)
	}

	receipt.State = models.ReceiptStateApproved
	receipt.Period = period
	receipt.ExpiresAt = &expiresAt
	return &receipt, nil
}

// Reject marks the receipt rejected and clears period and expiry. Returns
// sql.ErrNoRows when the id does not resolve.
func (r *ReceiptRepository) Reject(ctx context.Context, id string) (*models.Receipt, error) {
	query := fmt.Sprintf(`UPDATE receipts SET state = $1, period = NULL, expires_at = NULL WHERE id = $2
        RETURNING %s`, receiptColumns)
	var receipt models.Receipt
	if err := r.db.GetContext(ctx, &receipt, query, models.ReceiptStateRejected, id); err != nil {
		return nil, err
	}
	return &receipt, nil
}

// Delete removes a receipt row. Returns sql.ErrNoRows when absent.
func (r *ReceiptRepository) Delete(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, "DELETE FROM receipts WHERE id = $1", id)
	if err != nil {
		return fmt.Errorf("delete receipt: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete receipt: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// LatestByStudent fetches the most recently uploaded receipt for a student.
func (r *ReceiptRepository) LatestByStudent(ctx context.Context, studentID string) (*models.Receipt, error) {
	query := fmt.Sprintf(`SELECT %s FROM receipts WHERE student_id = $1
        ORDER BY uploaded_at DESC LIMIT 1`, receiptColumns)
	var receipt models.Receipt
	if err := r.db.GetContext(ctx, &receipt, query, studentID); err != nil {
		return nil, err
	}
	return &receipt, nil
}

// ListDetails returns every receipt joined with its owning student, most
// recent upload first.
func (r *ReceiptRepository) ListDetails(ctx context.Context) ([]models.ReceiptDetail, error) {
	const query = `SELECT r.id, r.student_id, r.file_ref, r.filename, r.state, r.period, r.uploaded_at, r.expires_at,
        s.full_name AS student_name, s.email AS student_email, s.matricula
        FROM receipts r
        INNER JOIN students s ON s.id = r.student_id
        ORDER BY r.uploaded_at DESC`
	var details []models.ReceiptDetail
	if err := r.db.SelectContext(ctx, &details, query); err != nil {
		return nil, fmt.Errorf("list receipts: %w", err)
	}
	return details, nil
}

// ExpireOverdue bulk-transitions approved receipts past their expiry to
// expired. The predicate also matches legacy approved-equivalent tags so
// imported rows that escaped normalisation still expire.
func (r *ReceiptRepository) ExpireOverdue(ctx context.Context, now time.Time) (int64, error) {
	const query = `UPDATE receipts SET state = 'expired'
        WHERE state IN ('approved', 'aprobado', 'validado')
          AND expires_at < $1`
	result, err := r.db.ExecContext(ctx, query, now)
	if err != nil {
		return 0, fmt.Errorf("expire receipts: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("expire receipts: %w", err)
	}
	return affected, nil
}

// PurgeStaleExpired deletes expired receipts uploaded before the cutoff and
// returns the removed rows so callers can discard the stored payloads.
func (r *ReceiptRepository) PurgeStaleExpired(ctx context.Context, cutoff time.Time) ([]models.Receipt, error) {
	query := fmt.Sprintf(`DELETE FROM receipts
        WHERE state IN ('expired', 'vencido')
          AND uploaded_at < $1
        RETURNING %s`, receiptColumns)
	var purged []models.Receipt
	if err := r.db.SelectContext(ctx, &purged, query, cutoff); err != nil {
		return nil, fmt.Errorf("purge receipts: %w", err)
	}
	return purged, nil
}
