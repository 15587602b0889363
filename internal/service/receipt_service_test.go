package service

import (
	"bytes"
	"context"
	"database/sql"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/academia-crm/tuition-api/internal/models"
	appErrors "github.com/academia-crm/tuition-api/pkg/errors"
	"github.com/academia-crm/tuition-api/pkg/storage"
)

type fixedClock struct {
	now time.Time
}

func (c fixedClock) Now() time.Time { return c.now }

type fakeReceiptStore struct {
	receipts map[string]*models.Receipt
	nextID   int
}

func newFakeReceiptStore() *fakeReceiptStore {
	return &fakeReceiptStore{receipts: map[string]*models.Receipt{}}
}

func (f *fakeReceiptStore) add(receipt models.Receipt) *models.Receipt {
	if receipt.ID == "" {
		f.nextID++
		receipt.ID = fmt.Sprintf("receipt-%d", f.nextID)
	}
	stored := receipt
	f.receipts[stored.ID] = &stored
	return &stored
}

func (f *fakeReceiptStore) FindByID(_ context.Context, id string) (*models.Receipt, error) {
	receipt, ok := f.receipts[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	copied := *receipt
	return &copied, nil
}

func (f *fakeReceiptStore) Create(_ context.Context, receipt *models.Receipt) error {
	f.nextID++
	receipt.ID = fmt.Sprintf("receipt-%d", f.nextID)
	stored := *receipt
	f.receipts[stored.ID] = &stored
	return nil
}

func (f *fakeReceiptStore) Approve(_ context.Context, id string, period models.ApprovalPeriod, expiresAt time.Time) (*models.Receipt, error) {
	target, ok := f.receipts[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	for otherID, other := range f.receipts {
		if otherID == id || other.StudentID != target.StudentID {
			continue
		}
		if other.State == models.ReceiptStateRejected || other.State == models.ReceiptStateExpired {
			delete(f.receipts, otherID)
		}
	}
	target.State = models.ReceiptStateApproved
	target.Period = period
	target.ExpiresAt = &expiresAt
	copied := *target
	return &copied, nil
}

func (f *fakeReceiptStore) Reject(_ context.Context, id string) (*models.Receipt, error) {
	target, ok := f.receipts[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	target.State = models.ReceiptStateRejected
	target.Period = ""
	target.ExpiresAt = nil
	copied := *target
	return &copied, nil
}

func (f *fakeReceiptStore) Delete(_ context.Context, id string) error {
	if _, ok := f.receipts[id]; !ok {
		return sql.ErrNoRows
	}
	delete(f.receipts, id)
	return nil
}

func (f *fakeReceiptStore) LatestByStudent(_ context.Context, studentID string) (*models.Receipt, error) {
	var latest *models.Receipt
	for _, receipt := range f.receipts {
		if receipt.StudentID != studentID {
			continue
		}
		if latest == nil || receipt.UploadedAt.After(latest.UploadedAt) {
			latest = receipt
		}
	}
	if latest == nil {
		return nil, sql.ErrNoRows
	}
	copied := *latest
	return &copied, nil
}

func (f *fakeReceiptStore) ListDetails(_ context.Context) ([]models.ReceiptDetail, error) {
	details := make([]models.ReceiptDetail, 0, len(f.receipts))
	for _, receipt := range f.receipts {
		details = append(details, models.ReceiptDetail{Receipt: *receipt, StudentName: "Alumno"})
	}
	return details, nil
}

type stubStudents struct {
	known map[string]bool
}

func (s stubStudents) FindByID(_ context.Context, id string) (*models.Student, error) {
	if !s.known[id] {
		return nil, sql.ErrNoRows
	}
	return &models.Student{ID: id, GuardianID: "guardian-1", FullName: "Alumno"}, nil
}

func newReceiptServiceForTest(t *testing.T, now time.Time) (*ReceiptService, *fakeReceiptStore, *storage.LocalStorage) {
	t.Helper()
	store, err := storage.NewLocalStorage(t.TempDir())
	require.NoError(t, err)
	repo := newFakeReceiptStore()
	svc := NewReceiptService(repo, stubStudents{known: map[string]bool{"student-1": true}}, store,
		UploadPolicy{MaxFileSizeBytes: 1024}, fixedClock{now: now}, zap.NewNop())
	return svc, repo, store
}

func mustTime(t *testing.T, value string) time.Time {
	t.Helper()
	parsed, err := time.Parse(time.RFC3339, value)
	require.NoError(t, err)
	return parsed
}

func TestComputeExpiry(t *testing.T) {
	cases := []struct {
		name   string
		now    string
		period models.ApprovalPeriod
		want   string
	}{
		{"monthly mid-february", "2024-02-05T10:00:00Z", models.PeriodMonthly, "2024-02-29T23:59:59Z"},
		{"monthly on last day", "2024-01-31T08:00:00Z", models.PeriodMonthly, "2024-01-31T23:59:59Z"},
		{"bimonthly from january 31", "2024-01-31T08:00:00Z", models.PeriodBimonthly, "2024-02-29T23:59:59Z"},
		{"bimonthly across year end", "2024-12-15T12:00:00Z", models.PeriodBimonthly, "2025-01-31T23:59:59Z"},
		{"minute", "2024-06-10T09:30:00Z", models.PeriodMinute, "2024-06-10T09:31:00Z"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			now := mustTime(t, tc.now)
			got := ComputeExpiry(now, tc.period)
			require.Equal(t, mustTime(t, tc.want), got)
		})
	}
}

func TestReceiptServiceApproveDeletesSuperseded(t *testing.T) {
	now := mustTime(t, "2024-02-05T10:00:00Z")
	svc, repo, _ := newReceiptServiceForTest(t, now)

	rejected := repo.add(models.Receipt{StudentID: "student-1", State: models.ReceiptStateRejected})
	expired := repo.add(models.Receipt{StudentID: "student-1", State: models.ReceiptStateExpired})
	pending := repo.add(models.Receipt{StudentID: "student-1", State: models.ReceiptStatePending})
	other := repo.add(models.Receipt{StudentID: "student-2", State: models.ReceiptStateRejected})
	target := repo.add(models.Receipt{StudentID: "student-1", State: models.ReceiptStatePending})

	approved, err := svc.Approve(context.Background(), target.ID, models.PeriodMonthly)
	require.NoError(t, err)
	require.Equal(t, models.ReceiptStateApproved, approved.State)
	require.NotNil(t, approved.ExpiresAt)
	require.Equal(t, mustTime(t, "2024-02-29T23:59:59Z"), *approved.ExpiresAt)

	require.NotContains(t, repo.receipts, rejected.ID)
	require.NotContains(t, repo.receipts, expired.ID)
	require.Contains(t, repo.receipts, pending.ID)
	require.Contains(t, repo.receipts, other.ID)
}

func TestReceiptServiceApproveInvalidPeriod(t *testing.T) {
	now := mustTime(t, "2024-02-05T10:00:00Z")
	svc, repo, _ := newReceiptServiceForTest(t, now)
	target := repo.add(models.Receipt{StudentID: "student-1", State: models.ReceiptStatePending})

	_, err := svc.Approve(context.Background(), target.ID, "quarterly")
	require.Error(t, err)
	require.Equal(t, appErrors.ErrInvalidPeriod.Code, appErrors.FromError(err).Code)
	require.Equal(t, models.ReceiptStatePending, repo.receipts[target.ID].State)
}

func TestReceiptServiceApproveMissingReceipt(t *testing.T) {
	svc, _, _ := newReceiptServiceForTest(t, mustTime(t, "2024-02-05T10:00:00Z"))
	_, err := svc.Approve(context.Background(), "missing", models.PeriodMonthly)
	require.Equal(t, appErrors.ErrNotFound.Code, appErrors.FromError(err).Code)
}

func TestReceiptServiceRejectClearsPeriodAndExpiry(t *testing.T) {
	now := mustTime(t, "2024-02-05T10:00:00Z")
	svc, repo, _ := newReceiptServiceForTest(t, now)
	expiry := mustTime(t, "2024-02-29T23:59:59Z")
	target := repo.add(models.Receipt{
		StudentID: "student-1",
		State:     models.ReceiptStateApproved,
		Period:    models.PeriodMonthly,
		ExpiresAt: &expiry,
	})

	rejected, err := svc.Reject(context.Background(), target.ID)
	require.NoError(t, err)
	require.Equal(t, models.ReceiptStateRejected, rejected.State)
	require.Empty(t, rejected.Period)
	require.Nil(t, rejected.ExpiresAt)
}

func TestReceiptServiceUploadValidation(t *testing.T) {
	now := mustTime(t, "2024-02-05T10:00:00Z")
	svc, _, _ := newReceiptServiceForTest(t, now)

	_, err := svc.Upload(context.Background(), "student-1", "big.pdf", bytes.Repeat([]byte("a"), 2048))
	require.Equal(t, appErrors.ErrPayloadTooLarge.Code, appErrors.FromError(err).Code)

	_, err = svc.Upload(context.Background(), "student-1", "notes.txt", []byte("plain text"))
	require.Equal(t, appErrors.ErrUnsupportedMedia.Code, appErrors.FromError(err).Code)
}

func TestReceiptServiceUploadCreatesPending(t *testing.T) {
	now := mustTime(t, "2024-02-05T10:00:00Z")
	svc, repo, store := newReceiptServiceForTest(t, now)

	payload := []byte("%PDF-1.4 fake receipt body")
	receipt, err := svc.Upload(context.Background(), "student-1", "recibo.pdf", payload)
	require.NoError(t, err)
	require.Equal(t, models.ReceiptStatePending, receipt.State)
	require.Empty(t, receipt.Period)
	require.Nil(t, receipt.ExpiresAt)
	require.Contains(t, repo.receipts, receipt.ID)

	saved, err := store.Load(receipt.FileRef)
	require.NoError(t, err)
	require.Equal(t, payload, saved)
}

func TestReceiptServiceUploadUnknownStudent(t *testing.T) {
	svc, _, _ := newReceiptServiceForTest(t, mustTime(t, "2024-02-05T10:00:00Z"))
	_, err := svc.Upload(context.Background(), "ghost", "recibo.pdf", []byte("%PDF-1.4"))
	require.Equal(t, appErrors.ErrNotFound.Code, appErrors.FromError(err).Code)
}

func TestReceiptServiceDeleteRemovesPayload(t *testing.T) {
	now := mustTime(t, "2024-02-05T10:00:00Z")
	svc, repo, store := newReceiptServiceForTest(t, now)

	receipt, err := svc.Upload(context.Background(), "student-1", "recibo.pdf", []byte("%PDF-1.4"))
	require.NoError(t, err)

	require.NoError(t, svc.Delete(context.Background(), receipt.ID))
	require.NotContains(t, repo.receipts, receipt.ID)

	_, err = store.Load(receipt.FileRef)
	require.ErrorIs(t, err, storage.ErrPayloadMissing)
}

func TestReceiptServiceDownloadMissingPayload(t *testing.T) {
	now := mustTime(t, "2024-02-05T10:00:00Z")
	svc, repo, _ := newReceiptServiceForTest(t, now)
	receipt := repo.add(models.Receipt{StudentID: "student-1", FileRef: "gone.pdf", Filename: "gone.pdf"})

	_, _, err := svc.Download(context.Background(), receipt.ID)
	require.Equal(t, appErrors.ErrNotFound.Code, appErrors.FromError(err).Code)
}

func TestReceiptServiceListGrouped(t *testing.T) {
	now := mustTime(t, "2024-02-05T10:00:00Z")
	svc, repo, _ := newReceiptServiceForTest(t, now)
	repo.add(models.Receipt{StudentID: "student-1", State: models.ReceiptStatePending})
	repo.add(models.Receipt{StudentID: "student-1", State: models.ReceiptStateApproved})
	repo.add(models.Receipt{StudentID: "student-2", State: models.ReceiptStateApproved})

	grouped, err := svc.ListGrouped(context.Background())
	require.NoError(t, err)
	require.Len(t, grouped[models.ReceiptStatePending], 1)
	require.Len(t, grouped[models.ReceiptStateApproved], 2)
	require.Empty(t, grouped[models.ReceiptStateRejected])
	require.Empty(t, grouped[models.ReceiptStateExpired])
}
