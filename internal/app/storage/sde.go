package storage

import (
	"context"
	"fmt"

	"github.com/ErikKalkoken/go-set"

	"github.com/eveqx/corpstat/internal/app"
)

// CreateSolarSystemsMissing inserts the given solar systems unless they
// already exist and returns how many were inserted.
func (st *Storage) CreateSolarSystemsMissing(ctx context.Context, oo []app.SolarSystem) (int, error) {
	existing, err := st.listIDs(ctx, "solar_systems")
	if err != nil {
		return 0, fmt.Errorf("create missing solar systems: %w", err)
	}
	var count int
	for _, o := range oo {
		if existing.Contains(o.ID) {
			continue
		}
		_, err := st.q.ExecContext(ctx, `INSERT INTO solar_systems (id, name) VALUES (?, ?);`, o.ID, o.Name)
		if err != nil {
			return 0, fmt.Errorf("create missing solar systems: %w", err)
		}
		count++
	}
	return count, nil
}

// CreateItemTypesMissing inserts the given item types unless they already
// exist and returns how many were inserted.
func (st *Storage) CreateItemTypesMissing(ctx context.Context, oo []app.ItemType) (int, error) {
	existing, err := st.listIDs(ctx, "item_types")
	if err != nil {
		return 0, fmt.Errorf("create missing item types: %w", err)
	}
	var count int
	for _, o := range oo {
		if existing.Contains(o.ID) {
			continue
		}
		_, err := st.q.ExecContext(ctx, `INSERT INTO item_types (id, name) VALUES (?, ?);`, o.ID, o.Name)
		if err != nil {
			return 0, fmt.Errorf("create missing item types: %w", err)
		}
		count++
	}
	return count, nil
}

func (st *Storage) GetSolarSystem(ctx context.Context, id int64) (*app.SolarSystem, error) {
	row := st.q.QueryRowContext(ctx, `SELECT id, name FROM solar_systems WHERE id = ?;`, id)
	var o app.SolarSystem
	if err := row.Scan(&o.ID, &o.Name); err != nil {
		return nil, fmt.Errorf("get SolarSystem %d: %w", id, convertGetError(err))
	}
	return &o, nil
}

func (st *Storage) GetItemType(ctx context.Context, id int64) (*app.ItemType, error) {
	row := st.q.QueryRowContext(ctx, `SELECT id, name FROM item_types WHERE id = ?;`, id)
	var o app.ItemType
	if err := row.Scan(&o.ID, &o.Name); err != nil {
		return nil, fmt.Errorf("get ItemType %d: %w", id, convertGetError(err))
	}
	return &o, nil
}

func (st *Storage) listIDs(ctx context.Context, table string) (set.Set[int64], error) {
	rows, err := st.q.QueryContext(ctx, fmt.Sprintf(`SELECT id FROM %s;`, table))
	if err != nil {
		return set.Set[int64]{}, err
	}
	defer rows.Close()
	var ids set.Set[int64]
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return set.Set[int64]{}, err
		}
		ids.Add(id)
	}
	return ids, rows.Err()
}
