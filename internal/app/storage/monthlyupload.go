package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/eveqx/corpstat/internal/app"
)

type CreateMonthlyUploadParams struct {
	Year           int
	Month          int
	UploadDate     time.Time
	TaxRate        float64
	OreConvertRate float64
	UploadedBy     string
}

func (st *Storage) CreateMonthlyUpload(ctx context.Context, arg CreateMonthlyUploadParams) (*app.MonthlyUpload, error) {
	wrapErr := func(err error) error {
		return fmt.Errorf("CreateMonthlyUpload %+v: %w", arg, err)
	}
	if arg.Year == 0 || arg.Month < 1 || arg.Month > 12 {
		return nil, wrapErr(app.ErrInvalid)
	}
	r, err := st.q.ExecContext(ctx, `
		INSERT INTO monthly_uploads (year, month, upload_date, tax_rate, ore_convert_rate, uploaded_by)
		VALUES (?, ?, ?, ?, ?, ?);`,
		arg.Year, arg.Month, arg.UploadDate, arg.TaxRate, arg.OreConvertRate, arg.UploadedBy,
	)
	if err != nil {
		return nil, wrapErr(err)
	}
	id, err := r.LastInsertId()
	if err != nil {
		return nil, wrapErr(err)
	}
	return st.GetMonthlyUpload(ctx, id)
}

func (st *Storage) GetMonthlyUpload(ctx context.Context, id int64) (*app.MonthlyUpload, error) {
	row := st.q.QueryRowContext(ctx, `
		SELECT id, year, month, upload_date, tax_rate, ore_convert_rate, uploaded_by
		FROM monthly_uploads
		WHERE id = ?;`, id,
	)
	u, err := scanMonthlyUpload(row)
	if err != nil {
		return nil, fmt.Errorf("get MonthlyUpload %d: %w", id, convertGetError(err))
	}
	return u, nil
}

func (st *Storage) GetMonthlyUploadByMonth(ctx context.Context, year, month int) (*app.MonthlyUpload, error) {
	row := st.q.QueryRowContext(ctx, `
		SELECT id, year, month, upload_date, tax_rate, ore_convert_rate, uploaded_by
		FROM monthly_uploads
		WHERE year = ? AND month = ?;`, year, month,
	)
	u, err := scanMonthlyUpload(row)
	if err != nil {
		return nil, fmt.Errorf("get MonthlyUpload %d-%02d: %w", year, month, convertGetError(err))
	}
	return u, nil
}

func (st *Storage) ListMonthlyUploads(ctx context.Context) ([]*app.MonthlyUpload, error) {
	rows, err := st.q.QueryContext(ctx, `
		SELECT id, year, month, upload_date, tax_rate, ore_convert_rate, uploaded_by
		FROM monthly_uploads
		ORDER BY year, month;`,
	)
	if err != nil {
		return nil, fmt.Errorf("list MonthlyUploads: %w", err)
	}
	defer rows.Close()
	var uu []*app.MonthlyUpload
	for rows.Next() {
		u, err := scanMonthlyUpload(rows)
		if err != nil {
			return nil, fmt.Errorf("list MonthlyUploads: %w", err)
		}
		uu = append(uu, u)
	}
	return uu, rows.Err()
}

// DeleteMonthlyUpload removes an upload and all its records in cascade.
func (st *Storage) DeleteMonthlyUpload(ctx context.Context, id int64) error {
	_, err := st.q.ExecContext(ctx, `DELETE FROM monthly_uploads WHERE id = ?;`, id)
	if err != nil {
		return fmt.Errorf("delete MonthlyUpload %d: %w", id, err)
	}
	return nil
}

// DeleteRecordsForUpload removes all records of an upload, but keeps the
// upload itself. Used for resetting to a clean slate before a sequential
// re-import.
func (st *Storage) DeleteRecordsForUpload(ctx context.Context, uploadID int64) error {
	for _, table := range []string{"activity_records", "bounty_records", "mining_records"} {
		q := fmt.Sprintf(`DELETE FROM %s WHERE upload_id = ?;`, table)
		if _, err := st.q.ExecContext(ctx, q, uploadID); err != nil {
			return fmt.Errorf("delete records for upload %d: %w", uploadID, err)
		}
	}
	return nil
}

func scanMonthlyUpload(r rowScanner) (*app.MonthlyUpload, error) {
	var u app.MonthlyUpload
	if err := r.Scan(&u.ID, &u.Year, &u.Month, &u.UploadDate, &u.TaxRate, &u.OreConvertRate, &u.UploadedBy); err != nil {
		return nil, err
	}
	return &u, nil
}
