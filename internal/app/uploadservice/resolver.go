package uploadservice

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/sync/singleflight"

	"github.com/eveqx/corpstat/internal/app"
	"github.com/eveqx/corpstat/internal/app/storage"
)

// resolver turns raw workbook names into characters.
// Unknown names become placeholders with a freshly allocated negative id.
// The resolver never calls the network; verification is the sweeper's job.
type resolver struct {
	st  *storage.Storage
	sfg *singleflight.Group
}

func newResolver(st *storage.Storage) *resolver {
	return &resolver{st: st, sfg: new(singleflight.Group)}
}

// resolveWithTitle returns the character with the given name, creating a
// placeholder owned by the player with hintTitle when none exists.
// A blank hint assigns the placeholder to the sentinel player.
// The lookup is case-insensitive and concurrent calls for the same name
// are collapsed into one.
func (r *resolver) resolveWithTitle(ctx context.Context, name, hintTitle string) (*app.Character, error) {
	return r.resolve(ctx, name, func(ctx context.Context) (int64, error) {
		return r.playerIDForTitle(ctx, hintTitle)
	})
}

// resolveWithMain is resolveWithTitle with an indirect owner hint:
// the placeholder joins the player owning the character named mainName.
// An unknown or blank main name assigns the sentinel player.
func (r *resolver) resolveWithMain(ctx context.Context, name, mainName string) (*app.Character, error) {
	return r.resolve(ctx, name, func(ctx context.Context) (int64, error) {
		if mainName != "" {
			main, err := r.st.GetCharacterByName(ctx, mainName)
			if err == nil {
				return main.PlayerID, nil
			} else if !errors.Is(err, app.ErrNotFound) {
				return 0, err
			}
		}
		return r.playerIDForTitle(ctx, "")
	})
}

func (r *resolver) resolve(ctx context.Context, name string, ownerID func(context.Context) (int64, error)) (*app.Character, error) {
	key := strings.ToLower(name)
	x, err, _ := r.sfg.Do(key, func() (any, error) {
		c, err := r.st.GetCharacterByName(ctx, name)
		if err == nil {
			return c, nil
		} else if !errors.Is(err, app.ErrNotFound) {
			return nil, err
		}
		playerID, err := ownerID(ctx)
		if err != nil {
			return nil, err
		}
		c, err = r.st.CreatePlaceholderCharacter(ctx, storage.CreateCharacterParams{
			Name:     name,
			PlayerID: playerID,
		})
		if err != nil {
			return nil, err
		}
		return c, nil
	})
	if err != nil {
		return nil, fmt.Errorf("resolve character %q: %w", name, err)
	}
	return x.(*app.Character), nil
}

// playerIDForTitle returns the id of the player with the given title,
// creating the player when needed. A blank title maps to the sentinel.
func (r *resolver) playerIDForTitle(ctx context.Context, title string) (int64, error) {
	if title == "" {
		p, err := r.st.GetSentinelPlayer(ctx)
		if err != nil {
			return 0, err
		}
		return p.ID, nil
	}
	p, err := r.st.GetPlayerByTitle(ctx, title)
	if err == nil {
		return p.ID, nil
	} else if !errors.Is(err, app.ErrNotFound) {
		return 0, err
	}
	p, err = r.st.CreatePlayer(ctx, storage.CreatePlayerParams{Title: title})
	if err != nil {
		// another worker may have created the player in the meantime
		if p2, err2 := r.st.GetPlayerByTitle(ctx, title); err2 == nil {
			return p2.ID, nil
		}
		return 0, err
	}
	return p.ID, nil
}
