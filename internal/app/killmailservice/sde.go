package killmailservice

import (
	"compress/bzip2"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"slices"
	"strconv"
	"time"

	"github.com/eveqx/corpstat/internal/app"
)

const sdeBaseURL = "https://www.fuzzwork.co.uk/dump/latest"

// SDEStats reports how many reference rows a static data update added.
type SDEStats struct {
	SolarSystems int
	ItemTypes    int
}

// UpdateSDE refreshes the solar system and item type reference data from
// the latest static data export dumps and records the update date.
func (s *KillmailService) UpdateSDE(ctx context.Context) (SDEStats, error) {
	var stats SDEStats
	systems, err := s.fetchReferenceRows(ctx, sdeBaseURL+"/mapSolarSystems.csv.bz2", "solarSystemID", "solarSystemName")
	if err != nil {
		return stats, fmt.Errorf("update SDE: %w", err)
	}
	stats.SolarSystems, err = s.st.CreateSolarSystemsMissing(ctx, toSolarSystems(systems))
	if err != nil {
		return stats, fmt.Errorf("update SDE: %w", err)
	}
	slog.Info("Solar systems updated", "added", stats.SolarSystems)
	items, err := s.fetchReferenceRows(ctx, sdeBaseURL+"/invTypes.csv.bz2", "typeID", "typeName")
	if err != nil {
		return stats, fmt.Errorf("update SDE: %w", err)
	}
	stats.ItemTypes, err = s.st.CreateItemTypesMissing(ctx, toItemTypes(items))
	if err != nil {
		return stats, fmt.Errorf("update SDE: %w", err)
	}
	slog.Info("Item types updated", "added", stats.ItemTypes)
	now := s.Now().In(s.location)
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	if err := s.st.SetSystemState(ctx, app.StateSDEVersion, today); err != nil {
		return stats, fmt.Errorf("update SDE: %w", err)
	}
	return stats, nil
}

type referenceRow struct {
	id   int64
	name string
}

// fetchReferenceRows downloads a bz2-compressed CSV dump and extracts the
// id and name columns identified by header name.
func (s *KillmailService) fetchReferenceRows(ctx context.Context, url, idColumn, nameColumn string) ([]referenceRow, error) {
	slog.Info("Downloading reference data", "url", url)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status for %s: %s", url, resp.Status)
	}
	r := csv.NewReader(bzip2.NewReader(resp.Body))
	r.FieldsPerRecord = -1
	header, err := r.Read()
	if err != nil {
		return nil, fmt.Errorf("read header of %s: %w", url, err)
	}
	idIdx := slices.Index(header, idColumn)
	nameIdx := slices.Index(header, nameColumn)
	if idIdx < 0 || nameIdx < 0 {
		return nil, fmt.Errorf("columns %s, %s not found in %s", idColumn, nameColumn, url)
	}
	var rows []referenceRow
	for {
		record, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", url, err)
		}
		if len(record) <= max(idIdx, nameIdx) {
			continue
		}
		id, err := strconv.ParseInt(record[idIdx], 10, 64)
		if err != nil {
			continue
		}
		rows = append(rows, referenceRow{id: id, name: record[nameIdx]})
	}
	return rows, nil
}

func toSolarSystems(rows []referenceRow) []app.SolarSystem {
	oo := make([]app.SolarSystem, 0, len(rows))
	for _, r := range rows {
		oo = append(oo, app.SolarSystem{ID: r.id, Name: r.name})
	}
	return oo
}

func toItemTypes(rows []referenceRow) []app.ItemType {
	oo := make([]app.ItemType, 0, len(rows))
	for _, r := range rows {
		oo = append(oo, app.ItemType{ID: r.id, Name: r.name})
	}
	return oo
}
