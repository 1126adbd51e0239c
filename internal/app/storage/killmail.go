package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/eveqx/corpstat/internal/app"
)

type CreateKillmailParams struct {
	ID               int64
	Time             time.Time
	CharacterID      int64
	SolarSystemID    int64
	VictimShipTypeID int64
	TotalValue       float64
}

func (st *Storage) CreateKillmail(ctx context.Context, arg CreateKillmailParams) error {
	wrapErr := func(err error) error {
		return fmt.Errorf("CreateKillmail %+v: %w", arg, err)
	}
	if arg.ID == 0 || arg.CharacterID == 0 {
		return wrapErr(app.ErrInvalid)
	}
	_, err := st.q.ExecContext(ctx, `
		INSERT INTO killmails (id, killmail_time, character_id, solar_system_id, victim_ship_type_id, total_value)
		VALUES (?, ?, ?, ?, ?, ?);`,
		arg.ID, arg.Time, arg.CharacterID, arg.SolarSystemID, arg.VictimShipTypeID, arg.TotalValue,
	)
	if err != nil {
		return wrapErr(err)
	}
	return nil
}

func (st *Storage) GetKillmail(ctx context.Context, id int64) (*app.Killmail, error) {
	row := st.q.QueryRowContext(ctx, `
		SELECT id, killmail_time, character_id, solar_system_id, victim_ship_type_id, total_value
		FROM killmails
		WHERE id = ?;`, id,
	)
	var k app.Killmail
	err := row.Scan(&k.ID, &k.Time, &k.CharacterID, &k.SolarSystemID, &k.VictimShipTypeID, &k.TotalValue)
	if err != nil {
		return nil, fmt.Errorf("get Killmail %d: %w", id, convertGetError(err))
	}
	return &k, nil
}

// HasKillmail reports whether a killmail exists in storage.
func (st *Storage) HasKillmail(ctx context.Context, id int64) (bool, error) {
	row := st.q.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM killmails WHERE id = ?);`, id)
	var found bool
	if err := row.Scan(&found); err != nil {
		return false, fmt.Errorf("has Killmail %d: %w", id, err)
	}
	return found, nil
}
