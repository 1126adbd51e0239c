// Package reconcileservice repairs placeholder characters against the
// external identity system and keeps player aggregates current.
package reconcileservice

import (
	"context"
	"log/slog"
	"time"

	"github.com/eveqx/corpstat/internal/app/identityservice"
	"github.com/eveqx/corpstat/internal/app/storage"
)

type ReconcileService struct {
	// Now returns the current time in UTC. Can be overwritten for tests.
	Now func() time.Time

	st  *storage.Storage
	ids *identityservice.IdentityService
}

type Params struct {
	Storage         *storage.Storage
	IdentityService *identityservice.IdentityService
}

// New returns a new instance of a reconcile service.
func New(args Params) *ReconcileService {
	return &ReconcileService{
		st:  args.Storage,
		ids: args.IdentityService,
		Now: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// ScheduleSweep runs a sweep for an upload in the background after a delay.
// An uploadID of 0 sweeps all uploads. The returned channel is closed once
// the sweep has finished or the context was canceled, so callers can wait
// for it before shutting down.
func (s *ReconcileService) ScheduleSweep(ctx context.Context, delay time.Duration, uploadID int64) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)
		t := time.NewTimer(delay)
		defer t.Stop()
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
		stats, err := s.FixOrphans(ctx, uploadID)
		if err != nil {
			slog.Error("Scheduled sweep failed", "uploadID", uploadID, "error", err)
			return
		}
		slog.Info("Scheduled sweep completed", "uploadID", uploadID, "stats", stats)
	}()
	return done
}
