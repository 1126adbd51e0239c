package storage_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eveqx/corpstat/internal/app"
	"github.com/eveqx/corpstat/internal/app/storage"
	"github.com/eveqx/corpstat/internal/app/storage/testutil"
	"github.com/eveqx/corpstat/internal/optional"
)

func TestCharacter(t *testing.T) {
	db, st, factory := testutil.NewDBInMemory()
	defer db.Close()
	ctx := context.Background()
	t.Run("can create new verified character", func(t *testing.T) {
		// given
		testutil.MustTruncateTables(db)
		player := factory.CreatePlayer()
		joinDate := factory.RandomTime()
		arg := storage.CreateCharacterParams{
			ID:       95000001,
			Name:     "Alice",
			Title:    "Wing Commander",
			JoinDate: optional.New(joinDate),
			PlayerID: player.ID,
		}
		// when
		got, err := st.CreateCharacter(ctx, arg)
		// then
		if assert.NoError(t, err) {
			assert.EqualValues(t, 95000001, got.ID)
			assert.False(t, got.IsPlaceholder())
			assert.Equal(t, "Alice", got.Name)
			assert.Equal(t, "Wing Commander", got.Title)
			assert.Equal(t, joinDate, got.JoinDate.MustValue())
			assert.Equal(t, player.ID, got.PlayerID)
		}
	})
	t.Run("should refuse to create verified character with invalid id", func(t *testing.T) {
		testutil.MustTruncateTables(db)
		player := factory.CreatePlayer()
		_, err := st.CreateCharacter(ctx, storage.CreateCharacterParams{
			ID:       -5,
			Name:     "Bob",
			PlayerID: player.ID,
		})
		assert.ErrorIs(t, err, app.ErrInvalid)
	})
	t.Run("placeholders get unique decreasing negative ids", func(t *testing.T) {
		// given
		testutil.MustTruncateTables(db)
		player := factory.CreatePlayer()
		// when
		c1, err := st.CreatePlaceholderCharacter(ctx, storage.CreateCharacterParams{
			Name: "Alice", PlayerID: player.ID,
		})
		require.NoError(t, err)
		c2, err := st.CreatePlaceholderCharacter(ctx, storage.CreateCharacterParams{
			Name: "Bob", PlayerID: player.ID,
		})
		require.NoError(t, err)
		// then
		assert.True(t, c1.IsPlaceholder())
		assert.True(t, c2.IsPlaceholder())
		assert.Less(t, c2.ID, c1.ID)
	})
	t.Run("can find character by name ignoring case", func(t *testing.T) {
		// given
		testutil.MustTruncateTables(db)
		c := factory.CreateCharacter(storage.CreateCharacterParams{Name: "Jita Trader"})
		// when
		got, err := st.GetCharacterByName(ctx, "jita trader")
		// then
		if assert.NoError(t, err) {
			assert.Equal(t, c.ID, got.ID)
		}
	})
	t.Run("verified character wins over placeholder with same name", func(t *testing.T) {
		// given
		testutil.MustTruncateTables(db)
		factory.CreatePlaceholderCharacter(storage.CreateCharacterParams{Name: "Bob"})
		verified := factory.CreateCharacter(storage.CreateCharacterParams{Name: "bob"})
		// when
		got, err := st.GetCharacterByName(ctx, "BOB")
		// then
		if assert.NoError(t, err) {
			assert.Equal(t, verified.ID, got.ID)
		}
		got2, err := st.GetVerifiedCharacterByName(ctx, "BOB")
		if assert.NoError(t, err) {
			assert.Equal(t, verified.ID, got2.ID)
		}
	})
	t.Run("should return not found error", func(t *testing.T) {
		testutil.MustTruncateTables(db)
		_, err := st.GetCharacterByName(ctx, "nobody")
		assert.ErrorIs(t, err, app.ErrNotFound)
	})
	t.Run("can update title, join date and player", func(t *testing.T) {
		// given
		testutil.MustTruncateTables(db)
		c := factory.CreateCharacter()
		player := factory.CreatePlayer()
		joinDate := factory.RandomTime()
		// when
		err := st.UpdateCharacter(ctx, storage.UpdateCharacterParams{
			ID:       c.ID,
			Title:    "CEO",
			JoinDate: optional.New(joinDate),
			PlayerID: player.ID,
		})
		// then
		if assert.NoError(t, err) {
			got, err := st.GetCharacter(ctx, c.ID)
			require.NoError(t, err)
			assert.Equal(t, "CEO", got.Title)
			assert.Equal(t, joinDate, got.JoinDate.MustValue())
			assert.Equal(t, player.ID, got.PlayerID)
			assert.Equal(t, c.Name, got.Name)
		}
	})
	t.Run("deleting a player cascades to its characters", func(t *testing.T) {
		// given
		testutil.MustTruncateTables(db)
		player := factory.CreatePlayer()
		c := factory.CreateCharacter(storage.CreateCharacterParams{PlayerID: player.ID})
		// when
		err := st.DeletePlayer(ctx, player.ID)
		// then
		if assert.NoError(t, err) {
			_, err := st.GetCharacter(ctx, c.ID)
			assert.ErrorIs(t, err, app.ErrNotFound)
		}
	})
	t.Run("can delete orphaned placeholders only", func(t *testing.T) {
		// given
		testutil.MustTruncateTables(db)
		orphan := factory.CreatePlaceholderCharacter()
		referenced := factory.CreatePlaceholderCharacter()
		factory.CreateActivityRecord(storage.CreateActivityRecordParams{
			CharacterID:   referenced.ID,
			CharacterName: referenced.Name,
		})
		verified := factory.CreateCharacter()
		// when
		n, err := st.DeleteOrphanedPlaceholders(ctx)
		// then
		if assert.NoError(t, err) {
			assert.Equal(t, 1, n)
			_, err := st.GetCharacter(ctx, orphan.ID)
			assert.ErrorIs(t, err, app.ErrNotFound)
			_, err = st.GetCharacter(ctx, referenced.ID)
			assert.NoError(t, err)
			_, err = st.GetCharacter(ctx, verified.ID)
			assert.NoError(t, err)
		}
	})
	t.Run("characters are listed in insertion order", func(t *testing.T) {
		// given
		testutil.MustTruncateTables(db)
		player := factory.CreatePlayer()
		c1 := factory.CreateCharacter(storage.CreateCharacterParams{ID: 99_000_005, PlayerID: player.ID})
		c2 := factory.CreateCharacter(storage.CreateCharacterParams{ID: 90_000_001, PlayerID: player.ID})
		// when
		got, err := st.ListCharactersForPlayer(ctx, player.ID)
		// then
		if assert.NoError(t, err) && assert.Len(t, got, 2) {
			assert.Equal(t, c1.ID, got[0].ID)
			assert.Equal(t, c2.ID, got[1].ID)
		}
	})
}
