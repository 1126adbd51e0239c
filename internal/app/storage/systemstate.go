package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/eveqx/corpstat/internal/optional"
)

// GetSystemState returns the date stored under a key.
// The result is empty when the key does not exist or holds no date.
func (st *Storage) GetSystemState(ctx context.Context, key string) (optional.Optional[time.Time], error) {
	row := st.q.QueryRowContext(ctx, `SELECT date_value FROM system_states WHERE key = ?;`, key)
	var v sql.NullTime
	err := row.Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return optional.Optional[time.Time]{}, nil
	}
	if err != nil {
		return optional.Optional[time.Time]{}, fmt.Errorf("get SystemState %q: %w", key, err)
	}
	return optional.FromNullTime(v), nil
}

// SetSystemState stores a date under a key, creating the row when needed.
func (st *Storage) SetSystemState(ctx context.Context, key string, value time.Time) error {
	_, err := st.q.ExecContext(ctx, `
		INSERT INTO system_states (key, date_value)
		VALUES (?, ?)
		ON CONFLICT (key) DO UPDATE SET date_value = excluded.date_value;`,
		key, value,
	)
	if err != nil {
		return fmt.Errorf("set SystemState %q: %w", key, err)
	}
	return nil
}
