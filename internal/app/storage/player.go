package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/eveqx/corpstat/internal/app"
	"github.com/eveqx/corpstat/internal/optional"
)

// SentinelPlayerTitle is the display title of the sentinel player for
// characters without a known owner. The sentinel is identified by its flag,
// never by this title.
const SentinelPlayerTitle = "查无此人"

type CreatePlayerParams struct {
	Title      string
	JoinDate   optional.Optional[time.Time]
	IsSentinel bool
}

func (st *Storage) CreatePlayer(ctx context.Context, arg CreatePlayerParams) (*app.Player, error) {
	wrapErr := func(err error) error {
		return fmt.Errorf("CreatePlayer %+v: %w", arg, err)
	}
	if arg.Title == "" {
		return nil, wrapErr(app.ErrInvalid)
	}
	r, err := st.q.ExecContext(ctx, `
		INSERT INTO players (title, join_date, is_sentinel)
		VALUES (?, ?, ?);`,
		arg.Title, optional.ToNullTime(arg.JoinDate), arg.IsSentinel,
	)
	if err != nil {
		return nil, wrapErr(err)
	}
	id, err := r.LastInsertId()
	if err != nil {
		return nil, wrapErr(err)
	}
	return st.GetPlayer(ctx, id)
}

func (st *Storage) GetPlayer(ctx context.Context, id int64) (*app.Player, error) {
	row := st.q.QueryRowContext(ctx, `
		SELECT id, title, join_date, main_character_id, is_sentinel
		FROM players
		WHERE id = ?;`, id,
	)
	p, err := scanPlayer(row)
	if err != nil {
		return nil, fmt.Errorf("get Player %d: %w", id, convertGetError(err))
	}
	return p, nil
}

// GetPlayerByTitle returns the player with the given title.
// The lookup is case sensitive, matching the exact title from the workbook.
func (st *Storage) GetPlayerByTitle(ctx context.Context, title string) (*app.Player, error) {
	row := st.q.QueryRowContext(ctx, `
		SELECT id, title, join_date, main_character_id, is_sentinel
		FROM players
		WHERE title = ?;`, title,
	)
	p, err := scanPlayer(row)
	if err != nil {
		return nil, fmt.Errorf("get Player by title %q: %w", title, convertGetError(err))
	}
	return p, nil
}

// GetSentinelPlayer returns the reserved player owning unresolved characters.
func (st *Storage) GetSentinelPlayer(ctx context.Context) (*app.Player, error) {
	row := st.q.QueryRowContext(ctx, `
		SELECT id, title, join_date, main_character_id, is_sentinel
		FROM players
		WHERE is_sentinel;`,
	)
	p, err := scanPlayer(row)
	if err != nil {
		return nil, fmt.Errorf("get sentinel player: %w", convertGetError(err))
	}
	return p, nil
}

func (st *Storage) ListPlayers(ctx context.Context) ([]*app.Player, error) {
	rows, err := st.q.QueryContext(ctx, `
		SELECT id, title, join_date, main_character_id, is_sentinel
		FROM players
		ORDER BY title;`,
	)
	if err != nil {
		return nil, fmt.Errorf("list Players: %w", err)
	}
	defer rows.Close()
	var pp []*app.Player
	for rows.Next() {
		p, err := scanPlayer(rows)
		if err != nil {
			return nil, fmt.Errorf("list Players: %w", err)
		}
		pp = append(pp, p)
	}
	return pp, rows.Err()
}

type UpdatePlayerParams struct {
	ID              int64
	JoinDate        optional.Optional[time.Time]
	MainCharacterID optional.Optional[int64]
}

// UpdatePlayer updates a player's derived fields.
// Empty optionals clear the respective column.
func (st *Storage) UpdatePlayer(ctx context.Context, arg UpdatePlayerParams) error {
	wrapErr := func(err error) error {
		return fmt.Errorf("UpdatePlayer %+v: %w", arg, err)
	}
	if arg.ID == 0 {
		return wrapErr(app.ErrInvalid)
	}
	_, err := st.q.ExecContext(ctx, `
		UPDATE players
		SET join_date = ?, main_character_id = ?
		WHERE id = ?;`,
		optional.ToNullTime(arg.JoinDate), optional.ToNullInt64(arg.MainCharacterID), arg.ID,
	)
	if err != nil {
		return wrapErr(err)
	}
	return nil
}

func (st *Storage) DeletePlayer(ctx context.Context, id int64) error {
	_, err := st.q.ExecContext(ctx, `DELETE FROM players WHERE id = ?;`, id)
	if err != nil {
		return fmt.Errorf("delete Player %d: %w", id, err)
	}
	return nil
}

// DeleteDummyPlayers removes all players without characters except the
// sentinel and returns how many were removed.
func (st *Storage) DeleteDummyPlayers(ctx context.Context) (int, error) {
	r, err := st.q.ExecContext(ctx, `
		DELETE FROM players
		WHERE NOT is_sentinel
		AND NOT EXISTS (
			SELECT 1 FROM characters WHERE characters.player_id = players.id
		);`,
	)
	if err != nil {
		return 0, fmt.Errorf("delete dummy players: %w", err)
	}
	n, err := r.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("delete dummy players: %w", err)
	}
	return int(n), nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPlayer(r rowScanner) (*app.Player, error) {
	var p app.Player
	var joinDate sql.NullTime
	var mainCharacterID sql.NullInt64
	if err := r.Scan(&p.ID, &p.Title, &joinDate, &mainCharacterID, &p.IsSentinel); err != nil {
		return nil, err
	}
	p.JoinDate = optional.FromNullTime(joinDate)
	p.MainCharacterID = optional.FromNullInt64(mainCharacterID)
	return &p, nil
}
