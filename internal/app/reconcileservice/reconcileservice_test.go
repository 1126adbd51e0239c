package reconcileservice_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/antihax/goesi"
	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eveqx/corpstat/internal/app"
	"github.com/eveqx/corpstat/internal/app/identityservice"
	"github.com/eveqx/corpstat/internal/app/reconcileservice"
	"github.com/eveqx/corpstat/internal/app/storage"
	"github.com/eveqx/corpstat/internal/app/storage/testutil"
	"github.com/eveqx/corpstat/internal/optional"
)

const corporationID = 98000001

func newServices(st *storage.Storage) *reconcileservice.ReconcileService {
	ids := identityservice.New(identityservice.Params{
		ESIClient:     goesi.NewAPIClient(nil, ""),
		CorporationID: corporationID,
		Retry: identityservice.RetryPolicy{
			MaxAttempts:   1,
			BaseDelay:     time.Millisecond,
			MaxDelay:      time.Millisecond,
			RateLimitWait: time.Millisecond,
		},
	})
	return reconcileservice.New(reconcileservice.Params{
		Storage:         st,
		IdentityService: ids,
	})
}

func registerNameLookup(name string, characterID int64) {
	body := map[string]any{}
	if characterID != 0 {
		body["characters"] = []map[string]any{{"id": characterID, "name": name}}
	}
	httpmock.RegisterResponder(
		"POST",
		"https://esi.evetech.net/v1/universe/ids/",
		httpmock.NewJsonResponderOrPanic(200, body))
}

func registerCharacterDetail(characterID int64, name, title string, joinDate string) {
	httpmock.RegisterResponder(
		"GET",
		fmt.Sprintf("https://esi.evetech.net/v5/characters/%d/", characterID),
		httpmock.NewJsonResponderOrPanic(200, map[string]any{
			"corporation_id": corporationID,
			"name":           name,
			"title":          title,
		}))
	httpmock.RegisterResponder(
		"GET",
		fmt.Sprintf("https://esi.evetech.net/v1/characters/%d/corporationhistory/", characterID),
		httpmock.NewJsonResponderOrPanic(200, []map[string]any{
			{
				"corporation_id": corporationID,
				"record_id":      500,
				"start_date":     joinDate,
			},
		}))
}

func TestFixOrphans(t *testing.T) {
	db, st, factory := testutil.NewDBInMemory()
	defer db.Close()
	httpmock.Activate()
	defer httpmock.DeactivateAndReset()
	s := newServices(st)
	ctx := context.Background()
	t.Run("should repoint to a locally verified character without network", func(t *testing.T) {
		// given
		testutil.MustTruncateTables(db)
		httpmock.Reset()
		verified := factory.CreateCharacter(storage.CreateCharacterParams{Name: "Bob"})
		placeholder := factory.CreatePlaceholderCharacter(storage.CreateCharacterParams{Name: "bob"})
		u := factory.CreateMonthlyUpload()
		factory.CreateActivityRecord(storage.CreateActivityRecordParams{
			UploadID: u.ID, CharacterID: placeholder.ID, CharacterName: "bob",
		})
		// when
		stats, err := s.FixOrphans(ctx, u.ID)
		// then
		if assert.NoError(t, err) {
			assert.Equal(t, reconcileservice.Stats{Checked: 1, Fixed: 1}, stats)
			assert.Equal(t, 0, httpmock.GetTotalCallCount())
			rr, err := st.ListActivityRecordsForUpload(ctx, u.ID)
			require.NoError(t, err)
			assert.Equal(t, verified.ID, rr[0].CharacterID)
			_, err = st.GetCharacter(ctx, placeholder.ID)
			assert.ErrorIs(t, err, app.ErrNotFound)
		}
	})
	t.Run("should delete records of unknown names", func(t *testing.T) {
		// given
		testutil.MustTruncateTables(db)
		httpmock.Reset()
		placeholder := factory.CreatePlaceholderCharacter(storage.CreateCharacterParams{Name: "Gone Pilot"})
		u := factory.CreateMonthlyUpload()
		factory.CreateBountyRecord(storage.CreateBountyRecordParams{
			UploadID: u.ID, CharacterID: placeholder.ID, CharacterName: "Gone Pilot",
		})
		registerNameLookup("Gone Pilot", 0)
		// when
		stats, err := s.FixOrphans(ctx, u.ID)
		// then
		if assert.NoError(t, err) {
			assert.Equal(t, reconcileservice.Stats{Checked: 1, Deleted: 1}, stats)
			rr, err := st.ListBountyRecordsForUpload(ctx, u.ID)
			require.NoError(t, err)
			assert.Empty(t, rr)
			_, err = st.GetCharacter(ctx, placeholder.ID)
			assert.ErrorIs(t, err, app.ErrNotFound)
		}
	})
	t.Run("should materialize an unseen character and recompute its player", func(t *testing.T) {
		// given
		testutil.MustTruncateTables(db)
		httpmock.Reset()
		sentinel := factory.CreateSentinelPlayer()
		placeholder := factory.CreatePlaceholderCharacter(storage.CreateCharacterParams{
			Name: "New Pilot", PlayerID: sentinel.ID,
		})
		u := factory.CreateMonthlyUpload()
		factory.CreateActivityRecord(storage.CreateActivityRecordParams{
			UploadID: u.ID, CharacterID: placeholder.ID, CharacterName: "New Pilot",
		})
		registerNameLookup("New Pilot", 95000001)
		registerCharacterDetail(95000001, "New Pilot", "Alpha Squad", "2024-02-01T12:00:00Z")
		// when
		stats, err := s.FixOrphans(ctx, u.ID)
		// then
		if assert.NoError(t, err) {
			assert.Equal(t, reconcileservice.Stats{Checked: 1, Fixed: 1}, stats)
			c, err := st.GetCharacter(ctx, 95000001)
			require.NoError(t, err)
			assert.Equal(t, "New Pilot", c.Name)
			assert.Equal(t, time.Date(2024, 2, 1, 12, 0, 0, 0, time.UTC), c.JoinDate.MustValue())
			p, err := st.GetPlayerByTitle(ctx, "Alpha Squad")
			require.NoError(t, err)
			assert.Equal(t, p.ID, c.PlayerID)
			assert.Equal(t, c.ID, p.MainCharacterID.MustValue())
			assert.Equal(t, c.JoinDate.MustValue(), p.JoinDate.MustValue())
			rr, err := st.ListActivityRecordsForUpload(ctx, u.ID)
			require.NoError(t, err)
			assert.Equal(t, c.ID, rr[0].CharacterID)
		}
	})
	t.Run("should repoint to an already known id", func(t *testing.T) {
		// given
		testutil.MustTruncateTables(db)
		httpmock.Reset()
		verified := factory.CreateCharacter(storage.CreateCharacterParams{Name: "Renamed Pilot"})
		placeholder := factory.CreatePlaceholderCharacter(storage.CreateCharacterParams{Name: "Old Name"})
		u := factory.CreateMonthlyUpload()
		factory.CreateMiningRecord(storage.CreateMiningRecordParams{
			UploadID: u.ID, CharacterID: placeholder.ID, CharacterName: "Old Name",
		})
		registerNameLookup("Old Name", verified.ID)
		// when
		stats, err := s.FixOrphans(ctx, u.ID)
		// then
		if assert.NoError(t, err) {
			assert.Equal(t, reconcileservice.Stats{Checked: 1, Fixed: 1}, stats)
			rr, err := st.ListMiningRecordsForUpload(ctx, u.ID)
			require.NoError(t, err)
			assert.Equal(t, verified.ID, rr[0].CharacterID)
		}
	})
	t.Run("should isolate failures per placeholder", func(t *testing.T) {
		// given
		testutil.MustTruncateTables(db)
		httpmock.Reset()
		verified := factory.CreateCharacter(storage.CreateCharacterParams{Name: "Good Pilot"})
		good := factory.CreatePlaceholderCharacter(storage.CreateCharacterParams{Name: "good pilot"})
		bad := factory.CreatePlaceholderCharacter(storage.CreateCharacterParams{Name: "Bad Pilot"})
		u := factory.CreateMonthlyUpload()
		factory.CreateActivityRecord(storage.CreateActivityRecordParams{
			UploadID: u.ID, CharacterID: good.ID, CharacterName: good.Name,
		})
		factory.CreateActivityRecord(storage.CreateActivityRecordParams{
			UploadID: u.ID, CharacterID: bad.ID, CharacterName: bad.Name,
		})
		httpmock.RegisterResponder(
			"POST",
			"https://esi.evetech.net/v1/universe/ids/",
			httpmock.NewStringResponder(400, "bad request"))
		// when
		stats, err := s.FixOrphans(ctx, u.ID)
		// then
		if assert.NoError(t, err) {
			assert.Equal(t, reconcileservice.Stats{Checked: 2, Fixed: 1, Failed: 1}, stats)
			rr, err := st.ListActivityRecordsForUpload(ctx, u.ID)
			require.NoError(t, err)
			ids := make([]int64, 0, len(rr))
			for _, r := range rr {
				ids = append(ids, r.CharacterID)
			}
			assert.ElementsMatch(t, []int64{verified.ID, bad.ID}, ids)
			_, err = st.GetCharacter(ctx, bad.ID)
			assert.NoError(t, err)
		}
	})
	t.Run("is idempotent", func(t *testing.T) {
		// given
		testutil.MustTruncateTables(db)
		httpmock.Reset()
		factory.CreateCharacter(storage.CreateCharacterParams{Name: "Bob"})
		placeholder := factory.CreatePlaceholderCharacter(storage.CreateCharacterParams{Name: "bob"})
		u := factory.CreateMonthlyUpload()
		factory.CreateActivityRecord(storage.CreateActivityRecordParams{
			UploadID: u.ID, CharacterID: placeholder.ID, CharacterName: "bob",
		})
		_, err := s.FixOrphans(ctx, u.ID)
		require.NoError(t, err)
		// when
		stats, err := s.FixOrphans(ctx, u.ID)
		// then
		if assert.NoError(t, err) {
			assert.Equal(t, reconcileservice.Stats{}, stats)
		}
	})
}

func TestScheduleSweep(t *testing.T) {
	db, st, factory := testutil.NewDBInMemory()
	defer db.Close()
	httpmock.Activate()
	defer httpmock.DeactivateAndReset()
	s := newServices(st)
	ctx := context.Background()
	t.Run("should run the sweep after the delay and close the channel", func(t *testing.T) {
		// given
		testutil.MustTruncateTables(db)
		httpmock.Reset()
		verified := factory.CreateCharacter(storage.CreateCharacterParams{Name: "Bob"})
		placeholder := factory.CreatePlaceholderCharacter(storage.CreateCharacterParams{Name: "Bob"})
		u := factory.CreateMonthlyUpload()
		factory.CreateActivityRecord(storage.CreateActivityRecordParams{
			UploadID: u.ID, CharacterID: placeholder.ID, CharacterName: "Bob",
		})
		// when
		done := s.ScheduleSweep(ctx, time.Millisecond, u.ID)
		// then
		<-done
		assert.Equal(t, 0, httpmock.GetTotalCallCount())
		rr, err := st.ListActivityRecordsForUpload(ctx, u.ID)
		require.NoError(t, err)
		assert.Equal(t, verified.ID, rr[0].CharacterID)
		_, err = st.GetCharacter(ctx, placeholder.ID)
		assert.ErrorIs(t, err, app.ErrNotFound)
	})
	t.Run("should not sweep when the context is canceled", func(t *testing.T) {
		// given
		testutil.MustTruncateTables(db)
		httpmock.Reset()
		placeholder := factory.CreatePlaceholderCharacter(storage.CreateCharacterParams{Name: "Bob"})
		u := factory.CreateMonthlyUpload()
		factory.CreateActivityRecord(storage.CreateActivityRecordParams{
			UploadID: u.ID, CharacterID: placeholder.ID, CharacterName: "Bob",
		})
		ctx2, cancel := context.WithCancel(ctx)
		cancel()
		// when
		done := s.ScheduleSweep(ctx2, time.Hour, u.ID)
		// then
		<-done
		_, err := st.GetCharacter(ctx, placeholder.ID)
		assert.NoError(t, err)
	})
}

func TestRecomputePlayer(t *testing.T) {
	db, st, factory := testutil.NewDBInMemory()
	defer db.Close()
	s := newServices(st)
	ctx := context.Background()
	t.Run("should pick earliest join date and matching main", func(t *testing.T) {
		// given
		testutil.MustTruncateTables(db)
		p := factory.CreatePlayer()
		factory.CreateCharacter(storage.CreateCharacterParams{
			PlayerID: p.ID, JoinDate: optional.New(time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)),
		})
		first := factory.CreateCharacter(storage.CreateCharacterParams{
			PlayerID: p.ID, JoinDate: optional.New(time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC)),
		})
		// when
		err := s.RecomputePlayer(ctx, p.ID)
		// then
		if assert.NoError(t, err) {
			p2, err := st.GetPlayer(ctx, p.ID)
			require.NoError(t, err)
			assert.Equal(t, time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC), p2.JoinDate.MustValue())
			assert.Equal(t, first.ID, p2.MainCharacterID.MustValue())
		}
	})
	t.Run("should fall back to first created character as main", func(t *testing.T) {
		// given
		testutil.MustTruncateTables(db)
		p := factory.CreatePlayer()
		first := factory.CreateCharacter(storage.CreateCharacterParams{PlayerID: p.ID})
		factory.CreateCharacter(storage.CreateCharacterParams{PlayerID: p.ID})
		// when
		err := s.RecomputePlayer(ctx, p.ID)
		// then
		if assert.NoError(t, err) {
			p2, err := st.GetPlayer(ctx, p.ID)
			require.NoError(t, err)
			assert.Equal(t, first.ID, p2.MainCharacterID.MustValue())
			assert.True(t, p2.JoinDate.IsEmpty())
		}
	})
	t.Run("should keep an existing join date when no character has one", func(t *testing.T) {
		// given
		testutil.MustTruncateTables(db)
		d := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
		p := factory.CreatePlayer(storage.CreatePlayerParams{JoinDate: optional.New(d)})
		factory.CreateCharacter(storage.CreateCharacterParams{PlayerID: p.ID})
		// when
		err := s.RecomputePlayer(ctx, p.ID)
		// then
		if assert.NoError(t, err) {
			p2, err := st.GetPlayer(ctx, p.ID)
			require.NoError(t, err)
			assert.Equal(t, d, p2.JoinDate.MustValue())
		}
	})
	t.Run("should do nothing for a player without characters", func(t *testing.T) {
		testutil.MustTruncateTables(db)
		p := factory.CreatePlayer()
		err := s.RecomputePlayer(ctx, p.ID)
		if assert.NoError(t, err) {
			p2, err := st.GetPlayer(ctx, p.ID)
			require.NoError(t, err)
			assert.True(t, p2.MainCharacterID.IsEmpty())
		}
	})
	t.Run("can clear a join date", func(t *testing.T) {
		// given
		testutil.MustTruncateTables(db)
		p := factory.CreatePlayer(storage.CreatePlayerParams{
			JoinDate: optional.New(time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)),
		})
		// when
		err := s.ClearJoinDate(ctx, p.ID)
		// then
		if assert.NoError(t, err) {
			p2, err := st.GetPlayer(ctx, p.ID)
			require.NoError(t, err)
			assert.True(t, p2.JoinDate.IsEmpty())
		}
	})
}
