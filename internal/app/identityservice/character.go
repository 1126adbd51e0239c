package identityservice

import (
	"cmp"
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"time"

	"github.com/antihax/goesi/esi"

	"github.com/eveqx/corpstat/internal/app"
	"github.com/eveqx/corpstat/internal/optional"
)

// LookupCharacterID resolves a character name to its authoritative id.
// A name the external system does not know yields [app.ErrNotFound].
// Transport failures surface as errors after the retries are exhausted,
// so callers can tell an unknown name from an unreachable service.
func (s *IdentityService) LookupCharacterID(ctx context.Context, name string) (int64, error) {
	var r esi.PostUniverseIdsOk
	err := s.withRetry(ctx, "LookupCharacterID", func() (*http.Response, error) {
		var resp *http.Response
		var err error
		r, resp, err = s.esiClient.ESI.UniverseApi.PostUniverseIds(ctx, []string{name}, nil)
		return resp, err
	})
	if err != nil {
		return 0, fmt.Errorf("lookup character %q: %w", name, err)
	}
	if len(r.Characters) == 0 {
		return 0, fmt.Errorf("lookup character %q: %w", name, app.ErrNotFound)
	}
	return int64(r.Characters[0].Id), nil
}

// FetchCharacter returns the details for a character id.
// The join date is the start of the character's earliest membership in
// the configured corporation and stays empty for characters that never
// joined it.
func (s *IdentityService) FetchCharacter(ctx context.Context, characterID int64) (*app.CharacterInfo, error) {
	wrapErr := func(err error) error {
		return fmt.Errorf("fetch character %d: %w", characterID, err)
	}
	var r esi.GetCharactersCharacterIdOk
	var status int
	err := s.withRetry(ctx, "FetchCharacter", func() (*http.Response, error) {
		var resp *http.Response
		var err error
		r, resp, err = s.esiClient.ESI.CharacterApi.GetCharactersCharacterId(ctx, int32(characterID), nil)
		if resp != nil {
			status = resp.StatusCode
		}
		return resp, err
	})
	if err != nil {
		if status == http.StatusNotFound {
			return nil, wrapErr(app.ErrNotFound)
		}
		return nil, wrapErr(err)
	}
	joinDate, err := s.fetchJoinDate(ctx, characterID)
	if err != nil {
		return nil, wrapErr(err)
	}
	return &app.CharacterInfo{
		ID:       characterID,
		Name:     r.Name,
		Title:    r.Title,
		JoinDate: joinDate,
	}, nil
}

// fetchJoinDate returns the start date of a character's earliest
// membership record for the configured corporation.
func (s *IdentityService) fetchJoinDate(ctx context.Context, characterID int64) (optional.Optional[time.Time], error) {
	var empty optional.Optional[time.Time]
	var items []esi.GetCharactersCharacterIdCorporationhistory200Ok
	err := s.withRetry(ctx, "fetchJoinDate", func() (*http.Response, error) {
		var resp *http.Response
		var err error
		items, resp, err = s.esiClient.ESI.CharacterApi.GetCharactersCharacterIdCorporationhistory(ctx, int32(characterID), nil)
		return resp, err
	})
	if err != nil {
		if ctx.Err() != nil {
			return empty, ctx.Err()
		}
		slog.Warn("Failed to fetch corporation history", "characterID", characterID, "error", err)
		return empty, nil
	}
	items = slices.DeleteFunc(items, func(x esi.GetCharactersCharacterIdCorporationhistory200Ok) bool {
		return int64(x.CorporationId) != s.corporationID
	})
	if len(items) == 0 {
		return empty, nil
	}
	// the lowest record id is the character's first stint in the corporation
	earliest := slices.MinFunc(items, func(a, b esi.GetCharactersCharacterIdCorporationhistory200Ok) int {
		return cmp.Compare(a.RecordId, b.RecordId)
	})
	return optional.New(earliest.StartDate), nil
}

// LookupAllianceID returns the id of the alliance a corporation
// currently belongs to or zero for an unallied corporation.
func (s *IdentityService) LookupAllianceID(ctx context.Context, corporationID int64) (int64, error) {
	var r esi.GetCorporationsCorporationIdOk
	err := s.withRetry(ctx, "LookupAllianceID", func() (*http.Response, error) {
		var resp *http.Response
		var err error
		r, resp, err = s.esiClient.ESI.CorporationApi.GetCorporationsCorporationId(ctx, int32(corporationID), nil)
		return resp, err
	})
	if err != nil {
		return 0, fmt.Errorf("lookup alliance for corporation %d: %w", corporationID, err)
	}
	return int64(r.AllianceId), nil
}
