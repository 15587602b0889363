package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/academia-crm/tuition-api/internal/models"
	appErrors "github.com/academia-crm/tuition-api/pkg/errors"
	"github.com/academia-crm/tuition-api/pkg/storage"
)

type receiptRepository interface {
	FindByID(ctx context.Context, id string) (*models.Receipt, error)
	Create(ctx context.Context, receipt *models.Receipt) error
	Approve(ctx context.Context, id string, period models.ApprovalPeriod, expiresAt time.Time) (*models.Receipt, error)
	Reject(ctx context.Context, id string) (*models.Receipt, error)
	Delete(ctx context.Context, id string) error
	LatestByStudent(ctx context.Context, studentID string) (*models.Receipt, error)
	ListDetails(ctx context.Context) ([]models.ReceiptDetail, error)
}

type studentReader interface {
	FindByID(ctx context.Context, id string) (*models.Student, error)
}

type payloadStore interface {
	Save(name string, data []byte) (string, error)
	Load(ref string) ([]byte, error)
	Remove(ref string) error
}

// UploadPolicy gates payloads before a receipt record is created.
type UploadPolicy struct {
	MaxFileSizeBytes int64
	AllowedMIMEs     []string
}

// ReceiptService drives the payment-proof state machine: pending receipts
// are created at upload time and only move through Approve, Reject, Delete
// or the scheduled expiry sweep.
type ReceiptService struct {
	repo     receiptRepository
	students studentReader
	payloads payloadStore
	policy   UploadPolicy
	clock    Clock
	logger   *zap.Logger
}

// NewReceiptService constructs a ReceiptService.
func NewReceiptService(repo receiptRepository, students studentReader, payloads payloadStore, policy UploadPolicy, clock Clock, logger *zap.Logger) *ReceiptService {
	if clock == nil {
		clock = SystemClock()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if policy.MaxFileSizeBytes <= 0 {
		policy.MaxFileSizeBytes = 5 * 1024 * 1024
	}
	if len(policy.AllowedMIMEs) == 0 {
		policy.AllowedMIMEs = []string{"application/pdf", "image/jpeg", "image/png"}
	}
	return &ReceiptService{repo: repo, students: students, payloads: payloads, policy: policy, clock: clock, logger: logger}
}

// Upload validates the payload and creates a new pending receipt. Existing
// receipts for the student are left untouched.
func (s *ReceiptService) Upload(ctx context.Context, studentID, filename string, payload []byte) (*models.Receipt, error) {
	if int64(len(payload)) > s.policy.MaxFileSizeBytes {
		return nil, appErrors.Clone(appErrors.ErrPayloadTooLarge,
			fmt.Sprintf("file exceeds the %d byte limit", s.policy.MaxFileSizeBytes))
	}
	mime := sniffMIME(payload, filename)
	if !s.mimeAllowed(mime) {
		return nil, appErrors.Clone(appErrors.ErrUnsupportedMedia, "only PDF, JPG and PNG files are accepted")
	}

	if _, err := s.students.FindByID(ctx, studentID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "student not found")
		}
		return nil, s.storeErr(err, "failed to load student")
	}

	now := s.clock.Now()
	name := fmt.Sprintf("receipt_%s_%d%s", studentID, now.UnixNano(), filepath.Ext(filename))
	ref, err := s.payloads.Save(name, payload)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to store payload")
	}

	receipt := &models.Receipt{
		StudentID:  studentID,
		FileRef:    ref,
		Filename:   filename,
		State:      models.ReceiptStatePending,
		UploadedAt: now,
	}
	if err := s.repo.Create(ctx, receipt); err != nil {
		// Best effort: don't leave an orphan payload behind the failed insert.
		if removeErr := s.payloads.Remove(ref); removeErr != nil {
			s.logger.Sugar().Warnw("failed to remove orphan payload", "ref", ref, "error", removeErr)
		}
		return nil, s.storeErr(err, "failed to create receipt")
	}
	return receipt, nil
}

// Approve validates the period, computes the expiry date from the current
// time and applies the transition. Deleting the student's superseded
// rejected/expired receipts and approving the target run in one transaction
// inside the repository.
func (s *ReceiptService) Approve(ctx context.Context, receiptID string, period models.ApprovalPeriod) (*models.Receipt, error) {
	if !period.Valid() {
		return nil, appErrors.Clone(appErrors.ErrInvalidPeriod, fmt.Sprintf("unknown approval period %q", period))
	}
	expiresAt := ComputeExpiry(s.clock.Now(), period)

	receipt, err := s.repo.Approve(ctx, receiptID, period, expiresAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "receipt not found")
		}
		return nil, s.storeErr(err, "failed to approve receipt")
	}

	s.logger.Sugar().Infow("receipt approved",
		"receipt_id", receipt.ID, "student_id", receipt.StudentID,
		"period", period, "expires_at", expiresAt)
	return receipt, nil
}

// Reject transitions the receipt to rejected and clears period and expiry.
// Rejecting an already-rejected receipt succeeds and changes nothing.
func (s *ReceiptService) Reject(ctx context.Context, receiptID string) (*models.Receipt, error) {
	receipt, err := s.repo.Reject(ctx, receiptID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "receipt not found")
		}
		return nil, s.storeErr(err, "failed to reject receipt")
	}
	return receipt, nil
}

// Delete removes the record and its stored payload. A payload already gone
// from disk is logged, not fatal.
func (s *ReceiptService) Delete(ctx context.Context, receiptID string) error {
	receipt, err := s.repo.FindByID(ctx, receiptID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "receipt not found")
		}
		return s.storeErr(err, "failed to load receipt")
	}

	if err := s.repo.Delete(ctx, receiptID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "receipt not found")
		}
		return s.storeErr(err, "failed to delete receipt")
	}

	if err := s.payloads.Remove(receipt.FileRef); err != nil {
		s.logger.Sugar().Warnw("failed to remove receipt payload", "receipt_id", receiptID, "ref", receipt.FileRef, "error", err)
	}
	return nil
}

// Download returns the payload bytes and original filename.
func (s *ReceiptService) Download(ctx context.Context, receiptID string) (string, []byte, error) {
	receipt, err := s.repo.FindByID(ctx, receiptID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", nil, appErrors.Clone(appErrors.ErrNotFound, "receipt not found")
		}
		return "", nil, s.storeErr(err, "failed to load receipt")
	}
	data, err := s.payloads.Load(receipt.FileRef)
	if err != nil {
		if errors.Is(err, storage.ErrPayloadMissing) {
			return "", nil, appErrors.Clone(appErrors.ErrNotFound, "receipt payload not found")
		}
		return "", nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to read payload")
	}
	return receipt.Filename, data, nil
}

// Latest returns a student's most recently uploaded receipt.
func (s *ReceiptService) Latest(ctx context.Context, studentID string) (*models.Receipt, error) {
	receipt, err := s.repo.LatestByStudent(ctx, studentID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "no receipt found for student")
		}
		return nil, s.storeErr(err, "failed to load receipt")
	}
	return receipt, nil
}

// ListGrouped returns all receipts bucketed by state for the admin board.
func (s *ReceiptService) ListGrouped(ctx context.Context) (map[models.ReceiptState][]models.ReceiptDetail, error) {
	details, err := s.repo.ListDetails(ctx)
	if err != nil {
		return nil, s.storeErr(err, "failed to list receipts")
	}
	grouped := map[models.ReceiptState][]models.ReceiptDetail{
		models.ReceiptStatePending:  {},
		models.ReceiptStateApproved: {},
		models.ReceiptStateRejected: {},
		models.ReceiptStateExpired:  {},
	}
	for _, d := range details {
		grouped[d.State] = append(grouped[d.State], d)
	}
	return grouped, nil
}

func (s *ReceiptService) mimeAllowed(mime string) bool {
	for _, allowed := range s.policy.AllowedMIMEs {
		if mime == allowed {
			return true
		}
	}
	return false
}

func (s *ReceiptService) storeErr(err error, message string) error {
	return appErrors.Wrap(err, appErrors.ErrStoreUnavailable.Code, appErrors.ErrStoreUnavailable.Status, message)
}

// ComputeExpiry maps an approval period onto its expiry timestamp.
//
// Monthly receipts are valid through the last calendar day of the month the
// approval happens in; bimonthly through the last day of the following
// month. Advancing via "first day of next month minus one day" avoids
// day-of-month overflow (approving on Jan 31 must not land in March).
func ComputeExpiry(now time.Time, period models.ApprovalPeriod) time.Time {
	switch period {
	case models.PeriodMinute:
		return now.Add(time.Minute)
	case models.PeriodMonthly:
		return lastDayOfMonth(now.Year(), now.Month(), now.Location())
	case models.PeriodBimonthly:
		firstOfNext := time.Date(now.Year(), now.Month()+1, 1, 0, 0, 0, 0, now.Location())
		return lastDayOfMonth(firstOfNext.Year(), firstOfNext.Month(), now.Location())
	default:
		return time.Time{}
	}
}

// lastDayOfMonth returns the final instant (23:59:59) of the month so a
// receipt approved on the month's last day stays valid through that day.
func lastDayOfMonth(year int, month time.Month, loc *time.Location) time.Time {
	firstOfNext := time.Date(year, month+1, 1, 0, 0, 0, 0, loc)
	return firstOfNext.Add(-time.Second)
}

// sniffMIME detects the payload's media type from content, falling back to
// the filename extension for formats DetectContentType cannot identify.
func sniffMIME(payload []byte, filename string) string {
	mime := http.DetectContentType(payload)
	if mime == "application/octet-stream" || mime == "text/plain; charset=utf-8" {
		switch filepath.Ext(filename) {
		case ".pdf":
			return "application/pdf"
		case ".jpg", ".jpeg":
			return "image/jpeg"
		case ".png":
			return "image/png"
		}
	}
	return mime
}
