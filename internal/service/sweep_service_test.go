package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/academia-crm/tuition-api/internal/models"
	"github.com/academia-crm/tuition-api/pkg/storage"
)

type fakeSweepStore struct {
	receipts map[string]*models.Receipt
}

func (f *fakeSweepStore) ExpireOverdue(_ context.Context, now time.Time) (int64, error) {
	var affected int64
	for _, receipt := range f.receipts {
		if receipt.State == models.ReceiptStateApproved && receipt.ExpiresAt != nil && receipt.ExpiresAt.Before(now) {
			receipt.State = models.ReceiptStateExpired
			affected++
		}
	}
	return affected, nil
}

func (f *fakeSweepStore) PurgeStaleExpired(_ context.Context, cutoff time.Time) ([]models.Receipt, error) {
	var purged []models.Receipt
	for id, receipt := range f.receipts {
		if receipt.State == models.ReceiptStateExpired && receipt.UploadedAt.Before(cutoff) {
			purged = append(purged, *receipt)
			delete(f.receipts, id)
		}
	}
	return purged, nil
}

func newSweepServiceForTest(t *testing.T, repo *fakeSweepStore, now time.Time) (*SweepService, *storage.LocalStorage) {
	t.Helper()
	store, err := storage.NewLocalStorage(t.TempDir())
	require.NoError(t, err)
	svc := NewSweepService(repo, store, nil, fixedClock{now: now}, zap.NewNop())
	return svc, store
}

func receiptAt(t *testing.T, id, state, uploaded, expires string) *models.Receipt {
	t.Helper()
	receipt := &models.Receipt{
		ID:         id,
		StudentID:  "student-1",
		FileRef:    id + ".pdf",
		State:      models.ReceiptState(state),
		UploadedAt: mustTime(t, uploaded),
	}
	if expires != "" {
		expiry := mustTime(t, expires)
		receipt.ExpiresAt = &expiry
	}
	return receipt
}

func TestSweepServiceExpireOverdue(t *testing.T) {
	now := mustTime(t, "2024-03-01T00:01:00Z")
	repo := &fakeSweepStore{receipts: map[string]*models.Receipt{
		"overdue": receiptAt(t, "overdue", "approved", "2024-02-01T10:00:00Z", "2024-02-29T23:59:59Z"),
		"current": receiptAt(t, "current", "approved", "2024-03-01T00:00:30Z", "2024-03-31T23:59:59Z"),
		"pending": receiptAt(t, "pending", "pending", "2024-02-20T10:00:00Z", ""),
	}}
	svc, _ := newSweepServiceForTest(t, repo, now)

	affected, err := svc.ExpireOverdue(context.Background())
	require.NoError(t, err)
	require.Equal(t, int64(1), affected)
	require.Equal(t, models.ReceiptStateExpired, repo.receipts["overdue"].State)
	require.Equal(t, models.ReceiptStateApproved, repo.receipts["current"].State)
	require.Equal(t, models.ReceiptStatePending, repo.receipts["pending"].State)

	// Running again over the same data changes nothing.
	affected, err = svc.ExpireOverdue(context.Background())
	require.NoError(t, err)
	require.Zero(t, affected)
}

func TestSweepServicePurgeKeepsCurrentMonth(t *testing.T) {
	now := mustTime(t, "2024-03-05T02:00:00Z")
	repo := &fakeSweepStore{receipts: map[string]*models.Receipt{
		"stale":  receiptAt(t, "stale", "expired", "2024-01-15T10:00:00Z", "2024-01-31T23:59:59Z"),
		"recent": receiptAt(t, "recent", "expired", "2024-03-02T10:00:00Z", ""),
		"active": receiptAt(t, "active", "approved", "2024-02-10T10:00:00Z", "2024-03-31T23:59:59Z"),
	}}
	svc, store := newSweepServiceForTest(t, repo, now)

	_, err := store.Save("stale.pdf", []byte("%PDF-1.4"))
	require.NoError(t, err)

	purged, err := svc.PurgeStale(context.Background())
	require.NoError(t, err)
	require.Equal(t, int64(1), purged)

	require.NotContains(t, repo.receipts, "stale")
	require.Contains(t, repo.receipts, "recent")
	require.Contains(t, repo.receipts, "active")

	_, err = store.Load("stale.pdf")
	require.ErrorIs(t, err, storage.ErrPayloadMissing)
}

func TestSweepLifecycle(t *testing.T) {
	// A receipt approved in February expires with the March 1 sweep and is
	// eligible for that month's purge because it was uploaded before March.
	repo := &fakeSweepStore{receipts: map[string]*models.Receipt{
		"r1": receiptAt(t, "r1", "approved", "2024-02-10T09:00:00Z", "2024-02-29T23:59:59Z"),
	}}

	expireSvc, _ := newSweepServiceForTest(t, repo, mustTime(t, "2024-03-01T00:01:00Z"))
	affected, err := expireSvc.ExpireOverdue(context.Background())
	require.NoError(t, err)
	require.Equal(t, int64(1), affected)

	marchPurge, _ := newSweepServiceForTest(t, repo, mustTime(t, "2024-03-01T02:00:00Z"))
	purged, err := marchPurge.PurgeStale(context.Background())
	require.NoError(t, err)
	require.Equal(t, int64(1), purged)
	require.Empty(t, repo.receipts)
}
