package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/eveqx/corpstat/internal/app"
	"github.com/eveqx/corpstat/internal/optional"
)

type CreateCharacterParams struct {
	ID       int64
	Name     string
	Title    string
	JoinDate optional.Optional[time.Time]
	PlayerID int64
}

// CreateCharacter creates a new character with a verified (positive) id.
func (st *Storage) CreateCharacter(ctx context.Context, arg CreateCharacterParams) (*app.Character, error) {
	wrapErr := func(err error) error {
		return fmt.Errorf("CreateCharacter %+v: %w", arg, err)
	}
	if arg.ID <= 0 || arg.Name == "" || arg.PlayerID == 0 {
		return nil, wrapErr(app.ErrInvalid)
	}
	if err := st.insertCharacter(ctx, arg.ID, arg); err != nil {
		return nil, wrapErr(err)
	}
	return st.GetCharacter(ctx, arg.ID)
}

// CreatePlaceholderCharacter creates a new character with a freshly allocated
// negative id. Ids are allocated from a persisted sequence, so they are unique
// and strictly decreasing even under concurrent ingestion.
func (st *Storage) CreatePlaceholderCharacter(ctx context.Context, arg CreateCharacterParams) (*app.Character, error) {
	wrapErr := func(err error) error {
		return fmt.Errorf("CreatePlaceholderCharacter %+v: %w", arg, err)
	}
	if arg.ID != 0 {
		return nil, wrapErr(app.ErrInvalid)
	}
	if arg.Name == "" || arg.PlayerID == 0 {
		return nil, wrapErr(app.ErrInvalid)
	}
	row := st.q.QueryRowContext(ctx, `
		UPDATE placeholder_sequence
		SET last_id = last_id - 1
		WHERE id = 1
		RETURNING last_id;`,
	)
	var id int64
	if err := row.Scan(&id); err != nil {
		return nil, wrapErr(err)
	}
	if err := st.insertCharacter(ctx, id, arg); err != nil {
		return nil, wrapErr(err)
	}
	return st.GetCharacter(ctx, id)
}

func (st *Storage) insertCharacter(ctx context.Context, id int64, arg CreateCharacterParams) error {
	// created_at is set explicitly with nanosecond precision,
	// because it determines the stable insertion order of a player's characters.
	_, err := st.q.ExecContext(ctx, `
		INSERT INTO characters (id, name, title, join_date, player_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?);`,
		id, arg.Name, arg.Title, optional.ToNullTime(arg.JoinDate), arg.PlayerID, time.Now().UTC(),
	)
	return err
}

func (st *Storage) GetCharacter(ctx context.Context, id int64) (*app.Character, error) {
	row := st.q.QueryRowContext(ctx, `
		SELECT id, name, title, join_date, player_id, created_at
		FROM characters
		WHERE id = ?;`, id,
	)
	c, err := scanCharacter(row)
	if err != nil {
		return nil, fmt.Errorf("get Character %d: %w", id, convertGetError(err))
	}
	return c, nil
}

// GetCharacterByName returns the character with the given name.
// The lookup is case insensitive. When both a verified character and a
// placeholder share the name the verified one wins.
func (st *Storage) GetCharacterByName(ctx context.Context, name string) (*app.Character, error) {
	row := st.q.QueryRowContext(ctx, `
		SELECT id, name, title, join_date, player_id, created_at
		FROM characters
		WHERE name = ? COLLATE NOCASE
		ORDER BY id DESC
		LIMIT 1;`, name,
	)
	c, err := scanCharacter(row)
	if err != nil {
		return nil, fmt.Errorf("get Character by name %q: %w", name, convertGetError(err))
	}
	return c, nil
}

// GetVerifiedCharacterByName is like GetCharacterByName,
// but only considers verified characters.
func (st *Storage) GetVerifiedCharacterByName(ctx context.Context, name string) (*app.Character, error) {
	row := st.q.QueryRowContext(ctx, `
		SELECT id, name, title, join_date, player_id, created_at
		FROM characters
		WHERE name = ? COLLATE NOCASE AND id > 0
		ORDER BY id
		LIMIT 1;`, name,
	)
	c, err := scanCharacter(row)
	if err != nil {
		return nil, fmt.Errorf("get verified Character by name %q: %w", name, convertGetError(err))
	}
	return c, nil
}

// ListCharactersForPlayer returns a player's characters in insertion order.
func (st *Storage) ListCharactersForPlayer(ctx context.Context, playerID int64) ([]*app.Character, error) {
	rows, err := st.q.QueryContext(ctx, `
		SELECT id, name, title, join_date, player_id, created_at
		FROM characters
		WHERE player_id = ?
		ORDER BY created_at;`, playerID,
	)
	if err != nil {
		return nil, fmt.Errorf("list Characters for player %d: %w", playerID, err)
	}
	defer rows.Close()
	return scanCharacters(rows)
}

type UpdateCharacterParams struct {
	ID       int64
	Title    string
	JoinDate optional.Optional[time.Time]
	PlayerID int64
}

// UpdateCharacter updates a character's title, join date and owning player.
// Name and id never change through this method.
func (st *Storage) UpdateCharacter(ctx context.Context, arg UpdateCharacterParams) error {
	wrapErr := func(err error) error {
		return fmt.Errorf("UpdateCharacter %+v: %w", arg, err)
	}
	if arg.ID == 0 || arg.PlayerID == 0 {
		return wrapErr(app.ErrInvalid)
	}
	_, err := st.q.ExecContext(ctx, `
		UPDATE characters
		SET title = ?, join_date = ?, player_id = ?
		WHERE id = ?;`,
		arg.Title, optional.ToNullTime(arg.JoinDate), arg.PlayerID, arg.ID,
	)
	if err != nil {
		return wrapErr(err)
	}
	return nil
}

func (st *Storage) DeleteCharacter(ctx context.Context, id int64) error {
	_, err := st.q.ExecContext(ctx, `DELETE FROM characters WHERE id = ?;`, id)
	if err != nil {
		return fmt.Errorf("delete Character %d: %w", id, err)
	}
	return nil
}

// DeleteOrphanedPlaceholders removes placeholder characters that are not
// referenced by any record and returns how many were removed.
func (st *Storage) DeleteOrphanedPlaceholders(ctx context.Context) (int, error) {
	r, err := st.q.ExecContext(ctx, `
		DELETE FROM characters
		WHERE id < 0
		AND NOT EXISTS (SELECT 1 FROM activity_records WHERE character_id = characters.id)
		AND NOT EXISTS (SELECT 1 FROM bounty_records WHERE character_id = characters.id)
		AND NOT EXISTS (SELECT 1 FROM mining_records WHERE character_id = characters.id)
		AND NOT EXISTS (SELECT 1 FROM killmails WHERE character_id = characters.id);`,
	)
	if err != nil {
		return 0, fmt.Errorf("delete orphaned placeholders: %w", err)
	}
	n, err := r.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("delete orphaned placeholders: %w", err)
	}
	return int(n), nil
}

func scanCharacter(r rowScanner) (*app.Character, error) {
	var c app.Character
	var joinDate sql.NullTime
	if err := r.Scan(&c.ID, &c.Name, &c.Title, &joinDate, &c.PlayerID, &c.CreatedAt); err != nil {
		return nil, err
	}
	c.JoinDate = optional.FromNullTime(joinDate)
	return &c, nil
}

func scanCharacters(rows *sql.Rows) ([]*app.Character, error) {
	var cc []*app.Character
	for rows.Next() {
		c, err := scanCharacter(rows)
		if err != nil {
			return nil, err
		}
		cc = append(cc, c)
	}
	return cc, rows.Err()
}
