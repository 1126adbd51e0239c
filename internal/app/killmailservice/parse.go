package killmailservice

import (
	"archive/tar"
	"compress/bzip2"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/eveqx/corpstat/internal/app"
	"github.com/eveqx/corpstat/internal/app/storage"
)

const feedBaseURL = "https://data.everef.net/killmails"

const killmailTimeLayout = "2006-01-02T15:04:05Z"

// Stats reports the outcome of a feed pass.
type Stats struct {
	Processed int // killmails seen in the archive
	Inserted  int // killmails credited to a corporation member
	Failed    int // days that could not be ingested (backfill only)
}

func (s Stats) add(other Stats) Stats {
	return Stats{
		Processed: s.Processed + other.Processed,
		Inserted:  s.Inserted + other.Inserted,
		Failed:    s.Failed + other.Failed,
	}
}

type killmailFeedEntry struct {
	KillmailID    int64          `json:"killmail_id"`
	KillmailTime  string         `json:"killmail_time"`
	SolarSystemID int64          `json:"solar_system_id"`
	Attackers     []feedAttacker `json:"attackers"`
	Victim        struct {
		AllianceID    int64 `json:"alliance_id"`
		CorporationID int64 `json:"corporation_id"`
		ShipTypeID    int64 `json:"ship_type_id"`
	} `json:"victim"`
}

type feedAttacker struct {
	CharacterID   int64 `json:"character_id"`
	CorporationID int64 `json:"corporation_id"`
	FinalBlow     bool  `json:"final_blow"`
}

// ParseDate downloads the killmail archive for one day and stores every
// kill where the final blow belongs to a corporation member.
// Independent corporations only record kills on their own members, while
// allied corporations record kills on targets outside their alliance.
func (s *KillmailService) ParseDate(ctx context.Context, day time.Time) (Stats, error) {
	var stats Stats
	wrapErr := func(err error) error {
		return fmt.Errorf("parse killmails for %s: %w", day.Format(time.DateOnly), err)
	}
	url := s.feedURL(day)
	slog.Info("Downloading killmail archive", "url", url)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return stats, wrapErr(err)
	}
	resp, err := s.httpClient.Do(req)
	if err != nil {
		return stats, wrapErr(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return stats, wrapErr(fmt.Errorf("unexpected status: %s", resp.Status))
	}
	tr := tar.NewReader(bzip2.NewReader(resp.Body))
	for {
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return stats, wrapErr(err)
		}
		if hdr.Typeflag != tar.TypeReg || !strings.HasSuffix(hdr.Name, ".json") {
			continue
		}
		var entry killmailFeedEntry
		if err := json.NewDecoder(tr).Decode(&entry); err != nil {
			slog.Warn("Skipping malformed killmail file", "file", hdr.Name, "error", err)
			continue
		}
		stats.Processed++
		inserted, err := s.storeKillmail(ctx, entry)
		if err != nil {
			return stats, wrapErr(fmt.Errorf("killmail %d: %w", entry.KillmailID, err))
		}
		if inserted {
			stats.Inserted++
		}
	}
	if err := s.st.SetSystemState(ctx, app.StateLatestUpdate, day); err != nil {
		return stats, wrapErr(err)
	}
	slog.Info("Killmail archive processed", "date", day.Format(time.DateOnly), "processed", stats.Processed, "inserted", stats.Inserted)
	return stats, nil
}

func (s *KillmailService) feedURL(day time.Time) string {
	return fmt.Sprintf("%s/%d/killmails-%s.tar.bz2", feedBaseURL, day.Year(), day.Format(time.DateOnly))
}

// storeKillmail records one feed entry when it credits a corporation member.
func (s *KillmailService) storeKillmail(ctx context.Context, entry killmailFeedEntry) (bool, error) {
	attacker, found := finalBlowAttacker(entry)
	if !found || attacker.CorporationID != s.corporationID || attacker.CharacterID == 0 {
		return false, nil
	}
	if s.isIndependent() {
		if entry.Victim.CorporationID != s.corporationID {
			return false, nil
		}
	} else if entry.Victim.AllianceID == s.allianceID {
		return false, nil
	}
	exists, err := s.st.HasKillmail(ctx, entry.KillmailID)
	if err != nil {
		return false, err
	}
	if exists {
		return false, nil
	}
	killmailTime, err := time.Parse(killmailTimeLayout, entry.KillmailTime)
	if err != nil {
		return false, err
	}
	if err := s.ensureCharacter(ctx, attacker.CharacterID); err != nil {
		if errors.Is(err, app.ErrNotFound) {
			slog.Warn("Character not found in identity system, skipping killmail", "characterID", attacker.CharacterID, "killmailID", entry.KillmailID)
			return false, nil
		}
		return false, err
	}
	value, err := s.ids.KillmailValue(ctx, entry.KillmailID)
	if err != nil {
		return false, err
	}
	err = s.st.CreateKillmail(ctx, storage.CreateKillmailParams{
		ID:               entry.KillmailID,
		Time:             killmailTime.In(s.location),
		CharacterID:      attacker.CharacterID,
		SolarSystemID:    entry.SolarSystemID,
		VictimShipTypeID: entry.Victim.ShipTypeID,
		TotalValue:       value,
	})
	if err != nil {
		return false, err
	}
	return true, nil
}

func finalBlowAttacker(entry killmailFeedEntry) (feedAttacker, bool) {
	for _, a := range entry.Attackers {
		if a.FinalBlow {
			return a, true
		}
	}
	return feedAttacker{}, false
}

// ensureCharacter makes sure the character exists in storage, fetching it
// from the identity system and attaching it to a player when needed.
func (s *KillmailService) ensureCharacter(ctx context.Context, characterID int64) error {
	_, err := s.st.GetCharacter(ctx, characterID)
	if err == nil {
		return nil
	}
	if !errors.Is(err, app.ErrNotFound) {
		return err
	}
	info, err := s.ids.FetchCharacter(ctx, characterID)
	if err != nil {
		return err
	}
	playerID, err := s.playerForTitle(ctx, info.Title)
	if err != nil {
		return err
	}
	_, err = s.st.CreateCharacter(ctx, storage.CreateCharacterParams{
		ID:       info.ID,
		Name:     info.Name,
		Title:    info.Title,
		JoinDate: info.JoinDate,
		PlayerID: playerID,
	})
	return err
}

// playerForTitle returns the player owning the given title, creating it
// when missing. Characters without a title belong to the sentinel player.
func (s *KillmailService) playerForTitle(ctx context.Context, title string) (int64, error) {
	if title == "" {
		p, err := s.st.GetSentinelPlayer(ctx)
		if err != nil {
			return 0, err
		}
		return p.ID, nil
	}
	p, err := s.st.GetPlayerByTitle(ctx, title)
	if err == nil {
		return p.ID, nil
	}
	if !errors.Is(err, app.ErrNotFound) {
		return 0, err
	}
	p, err = s.st.CreatePlayer(ctx, storage.CreatePlayerParams{Title: title})
	if err != nil {
		return 0, err
	}
	return p.ID, nil
}

// Backfill ingests every day between from and to inclusive.
// Days that fail are logged and skipped so one missing archive does not
// stop the run.
func (s *KillmailService) Backfill(ctx context.Context, from, to time.Time) (Stats, error) {
	var total Stats
	for day := from; !day.After(to); day = day.AddDate(0, 0, 1) {
		if err := ctx.Err(); err != nil {
			return total, err
		}
		stats, err := s.ParseDate(ctx, day)
		total = total.add(stats)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return total, err
			}
			slog.Error("Backfill day failed", "date", day.Format(time.DateOnly), "error", err)
			total.Failed++
		}
	}
	return total, nil
}
