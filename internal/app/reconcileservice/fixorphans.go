package reconcileservice

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/ErikKalkoken/go-set"

	"github.com/eveqx/corpstat/internal/app"
	"github.com/eveqx/corpstat/internal/app/storage"
)

// Stats reports the outcome of a sweep.
type Stats struct {
	Checked int // placeholders examined
	Fixed   int // records re-pointed at a verified character
	Failed  int // placeholders that could not be processed and remain
	Deleted int // placeholders removed together with their records
}

type outcome int

const (
	outcomeRepoint outcome = iota + 1
	outcomeMaterialize
	outcomeDrop
)

// action is one planned mutation for a placeholder.
// Planning does all network work up front, so that every action
// can later be applied in a single transaction.
type action struct {
	placeholder *app.Character
	outcome     outcome
	targetID    int64              // existing verified character to re-point to
	info        *app.CharacterInfo // detail for a character to materialize
}

// FixOrphans attempts to resolve all placeholder characters referenced
// by records of an upload. An uploadID of 0 sweeps all uploads.
//
// A placeholder whose name is meanwhile known locally or resolvable
// remotely has its records re-pointed at the verified character and is
// removed. A name the identity system does not know loses its records.
// Failures are isolated per placeholder and reported in the stats.
// The sweep is idempotent: a repeated run finds nothing left to fix.
func (s *ReconcileService) FixOrphans(ctx context.Context, uploadID int64) (Stats, error) {
	var stats Stats
	wrapErr := func(err error) error {
		return fmt.Errorf("fix orphans for upload %d: %w", uploadID, err)
	}
	placeholderIDs, err := s.st.ListPlaceholderCharacterIDsForUpload(ctx, uploadID)
	if err != nil {
		return stats, wrapErr(err)
	}
	var actions []action
	for id := range placeholderIDs.All() {
		stats.Checked++
		a, err := s.plan(ctx, id)
		if err != nil {
			if ctx.Err() != nil {
				return stats, ctx.Err()
			}
			slog.Warn("Failed to plan fix for placeholder", "characterID", id, "error", err)
			stats.Failed++
			continue
		}
		actions = append(actions, a)
	}
	if err := s.apply(ctx, actions, &stats); err != nil {
		return stats, wrapErr(err)
	}
	slog.Info("Sweep completed", "uploadID", uploadID, "stats", stats)
	return stats, nil
}

// plan decides what to do about one placeholder. Only reads and
// network lookups, no mutations.
func (s *ReconcileService) plan(ctx context.Context, placeholderID int64) (action, error) {
	c, err := s.st.GetCharacter(ctx, placeholderID)
	if err != nil {
		return action{}, err
	}
	// a character of the same name may have been verified since
	verified, err := s.st.GetVerifiedCharacterByName(ctx, c.Name)
	if err == nil {
		return action{placeholder: c, outcome: outcomeRepoint, targetID: verified.ID}, nil
	} else if !errors.Is(err, app.ErrNotFound) {
		return action{}, err
	}
	characterID, err := s.ids.LookupCharacterID(ctx, c.Name)
	if errors.Is(err, app.ErrNotFound) {
		return action{placeholder: c, outcome: outcomeDrop}, nil
	} else if err != nil {
		return action{}, err
	}
	_, err = s.st.GetCharacter(ctx, characterID)
	if err == nil {
		return action{placeholder: c, outcome: outcomeRepoint, targetID: characterID}, nil
	} else if !errors.Is(err, app.ErrNotFound) {
		return action{}, err
	}
	info, err := s.ids.FetchCharacter(ctx, characterID)
	if errors.Is(err, app.ErrNotFound) {
		return action{placeholder: c, outcome: outcomeDrop}, nil
	} else if err != nil {
		return action{}, err
	}
	return action{placeholder: c, outcome: outcomeMaterialize, info: info}, nil
}

// apply runs all planned actions in one transaction. A failing action
// is logged and counted, but does not abort the others. The final
// cleanup of record-less placeholders and the recompute of affected
// players happen in the same transaction.
func (s *ReconcileService) apply(ctx context.Context, actions []action, stats *Stats) error {
	tx, commit, rollback, err := s.st.BeginTx(ctx)
	if err != nil {
		return err
	}
	defer rollback()
	var affectedPlayers set.Set[int64]
	for _, a := range actions {
		playerIDs, err := applyAction(ctx, tx, a)
		if err != nil {
			slog.Warn("Failed to apply fix for placeholder",
				"characterID", a.placeholder.ID, "name", a.placeholder.Name, "error", err,
			)
			stats.Failed++
			continue
		}
		if a.outcome == outcomeDrop {
			stats.Deleted++
		} else {
			stats.Fixed++
		}
		affectedPlayers.AddSeq(playerIDs.All())
	}
	n, err := tx.DeleteOrphanedPlaceholders(ctx)
	if err != nil {
		return err
	}
	stats.Deleted += n
	for id := range affectedPlayers.All() {
		if err := recomputePlayer(ctx, tx, id); err != nil {
			return err
		}
	}
	return commit()
}

// applyAction executes one action and returns the ids of the players
// whose aggregates are affected.
func applyAction(ctx context.Context, tx *storage.Storage, a action) (set.Set[int64], error) {
	var players set.Set[int64]
	players.Add(a.placeholder.PlayerID)
	switch a.outcome {
	case outcomeRepoint:
		target, err := tx.GetCharacter(ctx, a.targetID)
		if err != nil {
			return players, err
		}
		players.Add(target.PlayerID)
		if _, err := tx.RepointRecords(ctx, a.placeholder.ID, a.targetID); err != nil {
			return players, err
		}
		if err := tx.DeleteCharacter(ctx, a.placeholder.ID); err != nil {
			return players, err
		}
	case outcomeMaterialize:
		player, err := playerForTitle(ctx, tx, a.info.Title)
		if err != nil {
			return players, err
		}
		players.Add(player.ID)
		c, err := tx.CreateCharacter(ctx, storage.CreateCharacterParams{
			ID:       a.info.ID,
			Name:     a.info.Name,
			Title:    a.info.Title,
			JoinDate: a.info.JoinDate,
			PlayerID: player.ID,
		})
		if err != nil {
			return players, err
		}
		if _, err := tx.RepointRecords(ctx, a.placeholder.ID, c.ID); err != nil {
			return players, err
		}
		if err := tx.DeleteCharacter(ctx, a.placeholder.ID); err != nil {
			return players, err
		}
	case outcomeDrop:
		if _, err := tx.DeleteRecordsForCharacter(ctx, a.placeholder.ID); err != nil {
			return players, err
		}
		if err := tx.DeleteCharacter(ctx, a.placeholder.ID); err != nil {
			return players, err
		}
	}
	return players, nil
}

// playerForTitle returns the player with the given title, creating it
// when needed. A blank title maps to the sentinel player.
func playerForTitle(ctx context.Context, tx *storage.Storage, title string) (*app.Player, error) {
	if title == "" {
		return tx.GetSentinelPlayer(ctx)
	}
	p, err := tx.GetPlayerByTitle(ctx, title)
	if err == nil {
		return p, nil
	} else if !errors.Is(err, app.ErrNotFound) {
		return nil, err
	}
	return tx.CreatePlayer(ctx, storage.CreatePlayerParams{Title: title})
}
