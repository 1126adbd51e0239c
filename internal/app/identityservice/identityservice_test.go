package identityservice_test

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/antihax/goesi"
	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eveqx/corpstat/internal/app"
	"github.com/eveqx/corpstat/internal/app/identityservice"
)

const corporationID = 98000001

func newTestService() *identityservice.IdentityService {
	return identityservice.New(identityservice.Params{
		ESIClient:     goesi.NewAPIClient(nil, ""),
		Limiter:       identityservice.NoLimit,
		CorporationID: corporationID,
		Retry: identityservice.RetryPolicy{
			MaxAttempts:   2,
			BaseDelay:     time.Millisecond,
			MaxDelay:      time.Millisecond,
			RateLimitWait: time.Millisecond,
		},
	})
}

func TestLookupCharacterID(t *testing.T) {
	httpmock.Activate()
	defer httpmock.DeactivateAndReset()
	s := newTestService()
	ctx := context.Background()
	t.Run("should resolve a known name", func(t *testing.T) {
		// given
		httpmock.Reset()
		httpmock.RegisterResponder(
			"POST",
			"https://esi.evetech.net/v1/universe/ids/",
			httpmock.NewJsonResponderOrPanic(200, map[string]any{
				"characters": []map[string]any{
					{"id": 95465499, "name": "CCP Bartender"},
				},
			}))
		// when
		id, err := s.LookupCharacterID(ctx, "CCP Bartender")
		// then
		if assert.NoError(t, err) {
			assert.EqualValues(t, 95465499, id)
		}
	})
	t.Run("should report unknown names as not found", func(t *testing.T) {
		httpmock.Reset()
		httpmock.RegisterResponder(
			"POST",
			"https://esi.evetech.net/v1/universe/ids/",
			httpmock.NewJsonResponderOrPanic(200, map[string]any{}))
		_, err := s.LookupCharacterID(ctx, "No Such Pilot")
		assert.ErrorIs(t, err, app.ErrNotFound)
	})
	t.Run("should surface transport failures after retries are exhausted", func(t *testing.T) {
		httpmock.Reset()
		httpmock.RegisterResponder(
			"POST",
			"https://esi.evetech.net/v1/universe/ids/",
			httpmock.NewStringResponder(500, "internal error"))
		_, err := s.LookupCharacterID(ctx, "CCP Bartender")
		if assert.Error(t, err) {
			assert.NotErrorIs(t, err, app.ErrNotFound)
			assert.Equal(t, 2, httpmock.GetTotalCallCount())
		}
	})
	t.Run("should retry after an error limited response", func(t *testing.T) {
		// given
		httpmock.Reset()
		ok, err := httpmock.NewJsonResponse(200, map[string]any{
			"characters": []map[string]any{
				{"id": 95465499, "name": "CCP Bartender"},
			},
		})
		require.NoError(t, err)
		httpmock.RegisterResponder(
			"POST",
			"https://esi.evetech.net/v1/universe/ids/",
			httpmock.ResponderFromMultipleResponses([]*http.Response{
				httpmock.NewStringResponse(420, "error limited"),
				ok,
			}))
		// when
		id, err := s.LookupCharacterID(ctx, "CCP Bartender")
		// then
		if assert.NoError(t, err) {
			assert.EqualValues(t, 95465499, id)
		}
	})
}

func TestFetchCharacter(t *testing.T) {
	httpmock.Activate()
	defer httpmock.DeactivateAndReset()
	s := newTestService()
	ctx := context.Background()
	const characterID = 95465499
	t.Run("should return details with join date from earliest membership", func(t *testing.T) {
		// given
		httpmock.Reset()
		httpmock.RegisterResponder(
			"GET",
			fmt.Sprintf("https://esi.evetech.net/v5/characters/%d/", characterID),
			httpmock.NewJsonResponderOrPanic(200, map[string]any{
				"birthday":       "2015-03-24T11:37:00Z",
				"corporation_id": corporationID,
				"name":           "CCP Bartender",
				"title":          "Bartender",
			}))
		httpmock.RegisterResponder(
			"GET",
			fmt.Sprintf("https://esi.evetech.net/v1/characters/%d/corporationhistory/", characterID),
			httpmock.NewJsonResponderOrPanic(200, []map[string]any{
				{
					"corporation_id": corporationID,
					"record_id":      502,
					"start_date":     "2024-03-01T12:00:00Z",
				},
				{
					"corporation_id": 109299958,
					"record_id":      501,
					"start_date":     "2023-06-01T12:00:00Z",
				},
				{
					"corporation_id": corporationID,
					"record_id":      500,
					"start_date":     "2022-01-15T12:00:00Z",
				},
			}))
		// when
		x, err := s.FetchCharacter(ctx, characterID)
		// then
		if assert.NoError(t, err) {
			assert.Equal(t, "CCP Bartender", x.Name)
			assert.Equal(t, "Bartender", x.Title)
			assert.Equal(t, time.Date(2022, 1, 15, 12, 0, 0, 0, time.UTC), x.JoinDate.MustValue())
		}
	})
	t.Run("should leave join date empty for outsiders", func(t *testing.T) {
		// given
		httpmock.Reset()
		httpmock.RegisterResponder(
			"GET",
			fmt.Sprintf("https://esi.evetech.net/v5/characters/%d/", characterID),
			httpmock.NewJsonResponderOrPanic(200, map[string]any{
				"corporation_id": 109299958,
				"name":           "CCP Bartender",
			}))
		httpmock.RegisterResponder(
			"GET",
			fmt.Sprintf("https://esi.evetech.net/v1/characters/%d/corporationhistory/", characterID),
			httpmock.NewJsonResponderOrPanic(200, []map[string]any{
				{
					"corporation_id": 109299958,
					"record_id":      501,
					"start_date":     "2023-06-01T12:00:00Z",
				},
			}))
		// when
		x, err := s.FetchCharacter(ctx, characterID)
		// then
		if assert.NoError(t, err) {
			assert.True(t, x.JoinDate.IsEmpty())
		}
	})
	t.Run("should report deleted characters as not found", func(t *testing.T) {
		httpmock.Reset()
		httpmock.RegisterResponder(
			"GET",
			fmt.Sprintf("https://esi.evetech.net/v5/characters/%d/", characterID),
			httpmock.NewStringResponder(404, "not found"))
		_, err := s.FetchCharacter(ctx, characterID)
		assert.ErrorIs(t, err, app.ErrNotFound)
	})
}

func TestLookupAllianceID(t *testing.T) {
	httpmock.Activate()
	defer httpmock.DeactivateAndReset()
	s := newTestService()
	ctx := context.Background()
	t.Run("should return the alliance of a corporation", func(t *testing.T) {
		// given
		httpmock.Reset()
		httpmock.RegisterResponder(
			"GET",
			fmt.Sprintf("https://esi.evetech.net/v4/corporations/%d/", corporationID),
			httpmock.NewJsonResponderOrPanic(200, map[string]any{
				"alliance_id": 99000006,
				"name":        "C C P",
				"ticker":      "CCP",
			}))
		// when
		id, err := s.LookupAllianceID(ctx, corporationID)
		// then
		if assert.NoError(t, err) {
			assert.EqualValues(t, 99000006, id)
		}
	})
}

func TestKillmailValue(t *testing.T) {
	httpmock.Activate()
	defer httpmock.DeactivateAndReset()
	s := newTestService()
	ctx := context.Background()
	t.Run("should return the appraised value", func(t *testing.T) {
		// given
		httpmock.Reset()
		httpmock.RegisterResponder(
			"GET",
			"https://zkillboard.com/api/killID/123456789/",
			httpmock.NewJsonResponderOrPanic(200, []map[string]any{
				{
					"killmail_id": 123456789,
					"zkb":         map[string]any{"totalValue": 1500000.5},
				},
			}))
		// when
		v, err := s.KillmailValue(ctx, 123456789)
		// then
		if assert.NoError(t, err) {
			assert.Equal(t, 1500000.5, v)
		}
	})
	t.Run("should return error for malformed responses", func(t *testing.T) {
		httpmock.Reset()
		httpmock.RegisterResponder(
			"GET",
			"https://zkillboard.com/api/killID/123456789/",
			httpmock.NewStringResponder(200, "not json"))
		_, err := s.KillmailValue(ctx, 123456789)
		assert.Error(t, err)
	})
}

func TestSaveCorporationLogo(t *testing.T) {
	httpmock.Activate()
	defer httpmock.DeactivateAndReset()
	s := newTestService()
	ctx := context.Background()
	t.Run("should write the logo to the given path", func(t *testing.T) {
		// given
		httpmock.Reset()
		logo := []byte{0x89, 'P', 'N', 'G'}
		httpmock.RegisterResponder(
			"GET",
			fmt.Sprintf("https://images.evetech.net/corporations/%d/logo?size=256", corporationID),
			httpmock.NewBytesResponder(200, logo))
		path := filepath.Join(t.TempDir(), "logo.png")
		// when
		err := s.SaveCorporationLogo(ctx, corporationID, path)
		// then
		if assert.NoError(t, err) {
			data, err := os.ReadFile(path)
			require.NoError(t, err)
			assert.Equal(t, logo, data)
		}
	})
}
