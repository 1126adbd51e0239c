package uploadservice

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/eveqx/corpstat/internal/app"
	"github.com/eveqx/corpstat/internal/app/reconcileservice"
	"github.com/eveqx/corpstat/internal/app/storage"
)

type ProcessParams struct {
	Path           string
	Year           int
	Month          int
	TaxRate        float64
	OreConvertRate float64
	UploadedBy     string
	Overwrite      bool
}

// Result reports the outcome of one processed workbook.
type Result struct {
	Upload        *app.MonthlyUpload
	ActivityCount int
	BountyCount   int
	MiningCount   int
	Sweep         reconcileservice.Stats
	// ReconcilePending is true when placeholders remain after the
	// inline sweep and a follow-up sweep has been scheduled.
	ReconcilePending bool
	// SweepDone is closed when the scheduled follow-up sweep has
	// finished. It is nil when no sweep was scheduled.
	SweepDone <-chan struct{}
}

// ProcessWorkbook ingests one monthly workbook.
//
// The three sheets are ingested concurrently, each in its own
// transaction. When any sheet fails, all partial inserts for the upload
// are wiped and the sheets are re-run sequentially. If that fails too,
// the upload is rolled back wholesale and the error wraps
// [app.ErrUpload]. After a successful ingestion the reconciliation
// sweeper runs inline for this upload.
func (s *UploadService) ProcessWorkbook(ctx context.Context, arg ProcessParams) (*Result, error) {
	wrapErr := func(err error) error {
		return fmt.Errorf("process workbook %d-%02d: %w", arg.Year, arg.Month, err)
	}
	if arg.Month < 1 || arg.Month > 12 || arg.Year < 2003 {
		return nil, wrapErr(fmt.Errorf("invalid month %d-%d: %w", arg.Year, arg.Month, app.ErrValidation))
	}
	wb, err := parseWorkbook(arg.Path)
	if err != nil {
		return nil, wrapErr(err)
	}
	existing, err := s.st.GetMonthlyUploadByMonth(ctx, arg.Year, arg.Month)
	if err == nil {
		if !arg.Overwrite {
			return nil, wrapErr(fmt.Errorf("data for %d-%02d already exists: %w", arg.Year, arg.Month, app.ErrValidation))
		}
		if err := s.st.DeleteMonthlyUpload(ctx, existing.ID); err != nil {
			return nil, wrapErr(err)
		}
	} else if !errors.Is(err, app.ErrNotFound) {
		return nil, wrapErr(err)
	}
	u, err := s.st.CreateMonthlyUpload(ctx, storage.CreateMonthlyUploadParams{
		Year:           arg.Year,
		Month:          arg.Month,
		UploadDate:     s.Now(),
		TaxRate:        arg.TaxRate,
		OreConvertRate: arg.OreConvertRate,
		UploadedBy:     arg.UploadedBy,
	})
	if err != nil {
		return nil, wrapErr(err)
	}
	if err := s.ingest(ctx, u.ID, wb); err != nil {
		if delErr := s.st.DeleteMonthlyUpload(ctx, u.ID); delErr != nil {
			slog.Error("Failed to roll back upload", "uploadID", u.ID, "error", delErr)
		}
		return nil, wrapErr(fmt.Errorf("%w: %w", app.ErrUpload, err))
	}
	slog.Info("Workbook ingested",
		"year", arg.Year, "month", arg.Month,
		"activity", len(wb.Activity), "bounty", len(wb.Bounty), "mining", len(wb.Mining),
	)
	r := &Result{
		Upload:        u,
		ActivityCount: len(wb.Activity),
		BountyCount:   len(wb.Bounty),
		MiningCount:   len(wb.Mining),
	}
	stats, err := s.rs.FixOrphans(ctx, u.ID)
	if err != nil {
		slog.Warn("Inline sweep failed. Scheduling a retry.", "uploadID", u.ID, "error", err)
		r.ReconcilePending = true
	} else {
		r.Sweep = stats
		remaining, err := s.st.ListPlaceholderCharacterIDsForUpload(ctx, u.ID)
		if err != nil {
			return nil, wrapErr(err)
		}
		r.ReconcilePending = stats.Failed > 0 || remaining.Size() > 0
	}
	if r.ReconcilePending {
		r.SweepDone = s.rs.ScheduleSweep(context.WithoutCancel(ctx), s.ReconcileDelay, u.ID)
	}
	return r, nil
}

// ingest runs the concurrent ingestion and falls back to a sequential
// re-run from a clean slate when it fails.
func (s *UploadService) ingest(ctx context.Context, uploadID int64, wb *workbook) error {
	r := newResolver(s.st)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return s.ingestActivity(gctx, r, uploadID, wb.Activity) })
	g.Go(func() error { return s.ingestBounty(gctx, r, uploadID, wb.Bounty) })
	g.Go(func() error { return s.ingestMining(gctx, r, uploadID, wb.Mining) })
	err := g.Wait()
	if err == nil {
		return nil
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	slog.Warn("Concurrent ingestion failed. Re-running sequentially.", "uploadID", uploadID, "error", err)
	if err := s.st.DeleteRecordsForUpload(ctx, uploadID); err != nil {
		return err
	}
	if err := s.ingestActivity(ctx, r, uploadID, wb.Activity); err != nil {
		return err
	}
	if err := s.ingestBounty(ctx, r, uploadID, wb.Bounty); err != nil {
		return err
	}
	return s.ingestMining(ctx, r, uploadID, wb.Mining)
}

// Each sheet worker resolves its names on the primary connection first
// and only then opens its own transaction for the record inserts.

func (s *UploadService) ingestActivity(ctx context.Context, r *resolver, uploadID int64, rows []activityRow) error {
	ids := make([]int64, len(rows))
	for i, row := range rows {
		c, err := r.resolveWithTitle(ctx, row.Name, row.Title)
		if err != nil {
			return err
		}
		ids[i] = c.ID
	}
	tx, commit, rollback, err := s.st.BeginTx(ctx)
	if err != nil {
		return err
	}
	defer rollback()
	for i, row := range rows {
		err := tx.CreateActivityRecord(ctx, storage.CreateActivityRecordParams{
			UploadID:        uploadID,
			CharacterID:     ids[i],
			CharacterName:   row.Name,
			Points:          row.Points,
			StrategicPoints: row.StrategicPoints,
		})
		if err != nil {
			return err
		}
	}
	return commit()
}

func (s *UploadService) ingestBounty(ctx context.Context, r *resolver, uploadID int64, rows []bountyRow) error {
	ids := make([]int64, len(rows))
	for i, row := range rows {
		c, err := r.resolveWithTitle(ctx, row.Name, "")
		if err != nil {
			return err
		}
		ids[i] = c.ID
	}
	tx, commit, rollback, err := s.st.BeginTx(ctx)
	if err != nil {
		return err
	}
	defer rollback()
	for i, row := range rows {
		err := tx.CreateBountyRecord(ctx, storage.CreateBountyRecordParams{
			UploadID:      uploadID,
			CharacterID:   ids[i],
			CharacterName: row.Name,
			TaxISK:        row.TaxISK,
		})
		if err != nil {
			return err
		}
	}
	return commit()
}

func (s *UploadService) ingestMining(ctx context.Context, r *resolver, uploadID int64, rows []miningRow) error {
	ids := make([]int64, len(rows))
	for i, row := range rows {
		c, err := r.resolveWithMain(ctx, row.Name, row.MainName)
		if err != nil {
			return err
		}
		ids[i] = c.ID
	}
	tx, commit, rollback, err := s.st.BeginTx(ctx)
	if err != nil {
		return err
	}
	defer rollback()
	for i, row := range rows {
		err := tx.CreateMiningRecord(ctx, storage.CreateMiningRecordParams{
			UploadID:      uploadID,
			CharacterID:   ids[i],
			CharacterName: row.Name,
			VolumeM3:      row.VolumeM3,
		})
		if err != nil {
			return err
		}
	}
	return commit()
}
