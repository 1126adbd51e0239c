// Package uploadservice ingests monthly workbook uploads and turns their
// rows into records against resolved characters.
package uploadservice

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/eveqx/corpstat/internal/app"
	"github.com/eveqx/corpstat/internal/app/reconcileservice"
	"github.com/eveqx/corpstat/internal/app/storage"
)

type UploadService struct {
	// Now returns the current time in UTC. Can be overwritten for tests.
	Now func() time.Time
	// ReconcileDelay is how long after an incomplete ingestion the
	// follow-up sweep runs. Can be overwritten for tests.
	ReconcileDelay time.Duration

	st *storage.Storage
	rs *reconcileservice.ReconcileService
}

type Params struct {
	Storage          *storage.Storage
	ReconcileService *reconcileservice.ReconcileService
}

// New returns a new instance of an upload service.
func New(args Params) *UploadService {
	return &UploadService{
		st:             args.Storage,
		rs:             args.ReconcileService,
		ReconcileDelay: 5 * time.Minute,
		Now: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// DeleteUpload removes a month's upload with all its records.
func (s *UploadService) DeleteUpload(ctx context.Context, year, month int) error {
	u, err := s.st.GetMonthlyUploadByMonth(ctx, year, month)
	if errors.Is(err, app.ErrNotFound) {
		return nil
	} else if err != nil {
		return err
	}
	if err := s.st.DeleteMonthlyUpload(ctx, u.ID); err != nil {
		return fmt.Errorf("delete upload %d-%02d: %w", year, month, err)
	}
	return nil
}
