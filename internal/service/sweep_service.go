package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/academia-crm/tuition-api/internal/models"
)

type sweepRepository interface {
	ExpireOverdue(ctx context.Context, now time.Time) (int64, error)
	PurgeStaleExpired(ctx context.Context, cutoff time.Time) ([]models.Receipt, error)
}

type sweepMetrics interface {
	RecordSweep(name string, affected int64)
}

// SweepService runs the scheduled receipt maintenance passes. Both passes
// are idempotent, so an extra run after a missed or duplicated trigger is
// harmless.
type SweepService struct {
	repo     sweepRepository
	payloads payloadStore
	metrics  sweepMetrics
	clock    Clock
	logger   *zap.Logger
}

// NewSweepService constructs a SweepService.
func NewSweepService(repo sweepRepository, payloads payloadStore, metrics sweepMetrics, clock Clock, logger *zap.Logger) *SweepService {
	if clock == nil {
		clock = SystemClock()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SweepService{repo: repo, payloads: payloads, metrics: metrics, clock: clock, logger: logger}
}

// ExpireOverdue transitions every approved receipt whose expiry has passed
// to expired and returns how many rows changed.
func (s *SweepService) ExpireOverdue(ctx context.Context) (int64, error) {
	now := s.clock.Now()
	affected, err := s.repo.ExpireOverdue(ctx, now)
	if err != nil {
		s.logger.Error("expiry sweep failed", zap.Error(err))
		return 0, err
	}
	if s.metrics != nil {
		s.metrics.RecordSweep("expire", affected)
	}
	if affected > 0 {
		s.logger.Info("expiry sweep completed", zap.Int64("expired", affected))
	}
	return affected, nil
}

// PurgeStale deletes expired receipts uploaded before the start of the
// current month, along with their stored payloads. Receipts that expired
// during the current month are kept so guardians can still see why their
// enrollment lapsed.
func (s *SweepService) PurgeStale(ctx context.Context) (int64, error) {
	now := s.clock.Now()
	cutoff := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, now.Location())

	purged, err := s.repo.PurgeStaleExpired(ctx, cutoff)
	if err != nil {
		s.logger.Error("purge sweep failed", zap.Error(err))
		return 0, err
	}

	for _, receipt := range purged {
		if err := s.payloads.Remove(receipt.FileRef); err != nil {
			s.logger.Warn("failed to remove purged payload",
				zap.String("receipt_id", receipt.ID), zap.String("ref", receipt.FileRef), zap.Error(err))
		}
	}

	affected := int64(len(purged))
	if s.metrics != nil {
		s.metrics.RecordSweep("purge", affected)
	}
	if affected > 0 {
		s.logger.Info("purge sweep completed",
			zap.Int64("purged", affected), zap.Time("cutoff", cutoff))
	}
	return affected, nil
}
