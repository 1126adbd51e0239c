package reconcileservice

import (
	"context"
	"fmt"
	"time"

	"github.com/eveqx/corpstat/internal/app"
	"github.com/eveqx/corpstat/internal/app/storage"
	"github.com/eveqx/corpstat/internal/optional"
)

// RecomputePlayer refreshes a player's derived fields from its characters.
//
// The join date becomes the earliest join date over all characters. It is
// left unchanged when no character has one, so a manually set date survives.
// The main character is the one with the earliest join date, or the first
// created one when no character has a join date. The operation is idempotent.
func (s *ReconcileService) RecomputePlayer(ctx context.Context, playerID int64) error {
	return recomputePlayer(ctx, s.st, playerID)
}

func recomputePlayer(ctx context.Context, st *storage.Storage, playerID int64) error {
	wrapErr := func(err error) error {
		return fmt.Errorf("recompute player %d: %w", playerID, err)
	}
	p, err := st.GetPlayer(ctx, playerID)
	if err != nil {
		return wrapErr(err)
	}
	cc, err := st.ListCharactersForPlayer(ctx, playerID)
	if err != nil {
		return wrapErr(err)
	}
	if len(cc) == 0 {
		return nil
	}
	var joinDate optional.Optional[time.Time]
	var main *app.Character
	for _, c := range cc {
		d, err := c.JoinDate.Value()
		if err != nil {
			continue
		}
		if v, err := joinDate.Value(); err != nil || d.Before(v) {
			joinDate = optional.New(d)
		}
		if main == nil || d.Before(main.JoinDate.MustValue()) {
			main = c
		}
	}
	if joinDate.IsEmpty() {
		joinDate = p.JoinDate
	}
	if main == nil {
		main = cc[0]
	}
	arg := storage.UpdatePlayerParams{
		ID:              playerID,
		JoinDate:        joinDate,
		MainCharacterID: optional.New(main.ID),
	}
	if err := st.UpdatePlayer(ctx, arg); err != nil {
		return wrapErr(err)
	}
	return nil
}

// ClearJoinDate resets a player's join date while keeping the main character.
func (s *ReconcileService) ClearJoinDate(ctx context.Context, playerID int64) error {
	p, err := s.st.GetPlayer(ctx, playerID)
	if err != nil {
		return fmt.Errorf("clear join date for player %d: %w", playerID, err)
	}
	arg := storage.UpdatePlayerParams{
		ID:              playerID,
		JoinDate:        optional.Optional[time.Time]{},
		MainCharacterID: p.MainCharacterID,
	}
	if err := s.st.UpdatePlayer(ctx, arg); err != nil {
		return fmt.Errorf("clear join date for player %d: %w", playerID, err)
	}
	return nil
}
