package storage

import (
	"context"
	"fmt"

	"github.com/ErikKalkoken/go-set"

	"github.com/eveqx/corpstat/internal/app"
)

type CreateActivityRecordParams struct {
	UploadID        int64
	CharacterID     int64
	CharacterName   string
	Points          float64
	StrategicPoints float64
}

func (st *Storage) CreateActivityRecord(ctx context.Context, arg CreateActivityRecordParams) error {
	if arg.UploadID == 0 || arg.CharacterID == 0 || arg.CharacterName == "" {
		return fmt.Errorf("CreateActivityRecord %+v: %w", arg, app.ErrInvalid)
	}
	_, err := st.q.ExecContext(ctx, `
		INSERT INTO activity_records (upload_id, character_id, character_name, points, strategic_points)
		VALUES (?, ?, ?, ?, ?);`,
		arg.UploadID, arg.CharacterID, arg.CharacterName, arg.Points, arg.StrategicPoints,
	)
	if err != nil {
		return fmt.Errorf("CreateActivityRecord %+v: %w", arg, err)
	}
	return nil
}

type CreateBountyRecordParams struct {
	UploadID      int64
	CharacterID   int64
	CharacterName string
	TaxISK        float64
}

func (st *Storage) CreateBountyRecord(ctx context.Context, arg CreateBountyRecordParams) error {
	if arg.UploadID == 0 || arg.CharacterID == 0 || arg.CharacterName == "" {
		return fmt.Errorf("CreateBountyRecord %+v: %w", arg, app.ErrInvalid)
	}
	_, err := st.q.ExecContext(ctx, `
		INSERT INTO bounty_records (upload_id, character_id, character_name, tax_isk)
		VALUES (?, ?, ?, ?);`,
		arg.UploadID, arg.CharacterID, arg.CharacterName, arg.TaxISK,
	)
	if err != nil {
		return fmt.Errorf("CreateBountyRecord %+v: %w", arg, err)
	}
	return nil
}

type CreateMiningRecordParams struct {
	UploadID      int64
	CharacterID   int64
	CharacterName string
	VolumeM3      float64
}

func (st *Storage) CreateMiningRecord(ctx context.Context, arg CreateMiningRecordParams) error {
	if arg.UploadID == 0 || arg.CharacterID == 0 || arg.CharacterName == "" {
		return fmt.Errorf("CreateMiningRecord %+v: %w", arg, app.ErrInvalid)
	}
	_, err := st.q.ExecContext(ctx, `
		INSERT INTO mining_records (upload_id, character_id, character_name, volume_m3)
		VALUES (?, ?, ?, ?);`,
		arg.UploadID, arg.CharacterID, arg.CharacterName, arg.VolumeM3,
	)
	if err != nil {
		return fmt.Errorf("CreateMiningRecord %+v: %w", arg, err)
	}
	return nil
}

func (st *Storage) ListActivityRecordsForUpload(ctx context.Context, uploadID int64) ([]*app.ActivityRecord, error) {
	rows, err := st.q.QueryContext(ctx, `
		SELECT id, upload_id, character_id, character_name, points, strategic_points
		FROM activity_records
		WHERE upload_id = ?
		ORDER BY id;`, uploadID,
	)
	if err != nil {
		return nil, fmt.Errorf("list ActivityRecords for upload %d: %w", uploadID, err)
	}
	defer rows.Close()
	var rr []*app.ActivityRecord
	for rows.Next() {
		var r app.ActivityRecord
		if err := rows.Scan(&r.ID, &r.UploadID, &r.CharacterID, &r.CharacterName, &r.Points, &r.StrategicPoints); err != nil {
			return nil, fmt.Errorf("list ActivityRecords for upload %d: %w", uploadID, err)
		}
		rr = append(rr, &r)
	}
	return rr, rows.Err()
}

func (st *Storage) ListBountyRecordsForUpload(ctx context.Context, uploadID int64) ([]*app.BountyRecord, error) {
	rows, err := st.q.QueryContext(ctx, `
		SELECT id, upload_id, character_id, character_name, tax_isk
		FROM bounty_records
		WHERE upload_id = ?
		ORDER BY id;`, uploadID,
	)
	if err != nil {
		return nil, fmt.Errorf("list BountyRecords for upload %d: %w", uploadID, err)
	}
	defer rows.Close()
	var rr []*app.BountyRecord
	for rows.Next() {
		var r app.BountyRecord
		if err := rows.Scan(&r.ID, &r.UploadID, &r.CharacterID, &r.CharacterName, &r.TaxISK); err != nil {
			return nil, fmt.Errorf("list BountyRecords for upload %d: %w", uploadID, err)
		}
		rr = append(rr, &r)
	}
	return rr, rows.Err()
}

func (st *Storage) ListMiningRecordsForUpload(ctx context.Context, uploadID int64) ([]*app.MiningRecord, error) {
	rows, err := st.q.QueryContext(ctx, `
		SELECT id, upload_id, character_id, character_name, volume_m3
		FROM mining_records
		WHERE upload_id = ?
		ORDER BY id;`, uploadID,
	)
	if err != nil {
		return nil, fmt.Errorf("list MiningRecords for upload %d: %w", uploadID, err)
	}
	defer rows.Close()
	var rr []*app.MiningRecord
	for rows.Next() {
		var r app.MiningRecord
		if err := rows.Scan(&r.ID, &r.UploadID, &r.CharacterID, &r.CharacterName, &r.VolumeM3); err != nil {
			return nil, fmt.Errorf("list MiningRecords for upload %d: %w", uploadID, err)
		}
		rr = append(rr, &r)
	}
	return rr, rows.Err()
}

// ListPlaceholderCharacterIDsForUpload returns the distinct placeholder
// characters referenced by any record of an upload.
// An uploadID of 0 considers records of all uploads.
func (st *Storage) ListPlaceholderCharacterIDsForUpload(ctx context.Context, uploadID int64) (set.Set[int64], error) {
	q := `
		SELECT character_id FROM activity_records WHERE character_id < 0 %[1]s
		UNION
		SELECT character_id FROM bounty_records WHERE character_id < 0 %[1]s
		UNION
		SELECT character_id FROM mining_records WHERE character_id < 0 %[1]s;`
	var args []any
	var filter string
	if uploadID != 0 {
		filter = "AND upload_id = ?"
		args = []any{uploadID, uploadID, uploadID}
	}
	rows, err := st.q.QueryContext(ctx, fmt.Sprintf(q, filter), args...)
	if err != nil {
		return set.Set[int64]{}, fmt.Errorf("list placeholder character ids: %w", err)
	}
	defer rows.Close()
	var ids set.Set[int64]
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return set.Set[int64]{}, fmt.Errorf("list placeholder character ids: %w", err)
		}
		ids.Add(id)
	}
	return ids, rows.Err()
}

// RepointRecords moves all records of one character to another character
// and returns how many records were moved.
func (st *Storage) RepointRecords(ctx context.Context, fromCharacterID, toCharacterID int64) (int, error) {
	wrapErr := func(err error) error {
		return fmt.Errorf("repoint records %d -> %d: %w", fromCharacterID, toCharacterID, err)
	}
	if fromCharacterID == 0 || toCharacterID == 0 {
		return 0, wrapErr(app.ErrInvalid)
	}
	var total int
	for _, table := range []string{"activity_records", "bounty_records", "mining_records", "killmails"} {
		q := fmt.Sprintf(`UPDATE %s SET character_id = ? WHERE character_id = ?;`, table)
		r, err := st.q.ExecContext(ctx, q, toCharacterID, fromCharacterID)
		if err != nil {
			return 0, wrapErr(err)
		}
		n, err := r.RowsAffected()
		if err != nil {
			return 0, wrapErr(err)
		}
		total += int(n)
	}
	return total, nil
}

// DeleteRecordsForCharacter removes all records referencing a character
// and returns how many were removed.
func (st *Storage) DeleteRecordsForCharacter(ctx context.Context, characterID int64) (int, error) {
	wrapErr := func(err error) error {
		return fmt.Errorf("delete records for character %d: %w", characterID, err)
	}
	var total int
	for _, table := range []string{"activity_records", "bounty_records", "mining_records"} {
		q := fmt.Sprintf(`DELETE FROM %s WHERE character_id = ?;`, table)
		r, err := st.q.ExecContext(ctx, q, characterID)
		if err != nil {
			return 0, wrapErr(err)
		}
		n, err := r.RowsAffected()
		if err != nil {
			return 0, wrapErr(err)
		}
		total += int(n)
	}
	return total, nil
}

// CountRecordsForCharacter returns the number of records referencing a character.
func (st *Storage) CountRecordsForCharacter(ctx context.Context, characterID int64) (int, error) {
	row := st.q.QueryRowContext(ctx, `
		SELECT
			(SELECT COUNT(*) FROM activity_records WHERE character_id = ?1)
			+ (SELECT COUNT(*) FROM bounty_records WHERE character_id = ?1)
			+ (SELECT COUNT(*) FROM mining_records WHERE character_id = ?1);`,
		characterID,
	)
	var n int
	if err := row.Scan(&n); err != nil {
		return 0, fmt.Errorf("count records for character %d: %w", characterID, err)
	}
	return n, nil
}
