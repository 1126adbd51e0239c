package uploadservice

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"strconv"
	"time"

	"github.com/eveqx/corpstat/internal/app"
)

// Player statuses reported in the monthly summary.
const (
	StatusQualified    = "合格"
	StatusNewPlayer    = "新人保护"
	StatusLowIncome    = "低收入豁免"
	statusFinePrefix   = "罚款："
	qualifiedPoints    = 3.0
	newPlayerDays      = 90
	fineIncomeFloorISK = 1_000_000_000
)

// PlayerSummary is one player's aggregated month.
type PlayerSummary struct {
	PlayerID        int64
	Title           string
	MainCharacter   string
	Points          float64
	StrategicPoints float64
	TaxISK          float64
	MiningVolumeM3  float64
	IncomeISK       float64
	Status          string
}

// Summary is the per-player rollup of one upload.
type Summary struct {
	Upload  *app.MonthlyUpload
	Players []PlayerSummary
}

// Summary aggregates an upload's records by player, sorted by activity
// points in descending order.
//
// Income is the sum of bounty tax scaled back by the tax rate and mined
// volume at the ore conversion rate. The status follows the corporation
// rules: enough points qualifies outright, players who joined less than
// 90 days before the month are protected, and of the rest only those
// with at least a billion ISK of income are fined by their missing
// points.
func (s *UploadService) Summary(ctx context.Context, uploadID int64) (*Summary, error) {
	wrapErr := func(err error) error {
		return fmt.Errorf("summary for upload %d: %w", uploadID, err)
	}
	u, err := s.st.GetMonthlyUpload(ctx, uploadID)
	if err != nil {
		return nil, wrapErr(err)
	}
	agg := newAggregator(s.st)
	aa, err := s.st.ListActivityRecordsForUpload(ctx, uploadID)
	if err != nil {
		return nil, wrapErr(err)
	}
	for _, r := range aa {
		p, err := agg.playerFor(ctx, r.CharacterID)
		if err != nil {
			return nil, wrapErr(err)
		}
		p.Points += r.Points
		p.StrategicPoints += r.StrategicPoints
	}
	bb, err := s.st.ListBountyRecordsForUpload(ctx, uploadID)
	if err != nil {
		return nil, wrapErr(err)
	}
	for _, r := range bb {
		p, err := agg.playerFor(ctx, r.CharacterID)
		if err != nil {
			return nil, wrapErr(err)
		}
		p.TaxISK += r.TaxISK
	}
	mm, err := s.st.ListMiningRecordsForUpload(ctx, uploadID)
	if err != nil {
		return nil, wrapErr(err)
	}
	for _, r := range mm {
		p, err := agg.playerFor(ctx, r.CharacterID)
		if err != nil {
			return nil, wrapErr(err)
		}
		p.MiningVolumeM3 += r.VolumeM3
	}
	monthStart := time.Date(u.Year, time.Month(u.Month), 1, 0, 0, 0, 0, time.UTC)
	players := make([]PlayerSummary, 0, len(agg.players))
	for id, p := range agg.players {
		var taxIncome float64
		if u.TaxRate > 0 {
			taxIncome = p.TaxISK / u.TaxRate
		}
		p.IncomeISK = taxIncome + p.MiningVolumeM3*u.OreConvertRate
		p.Status = playerStatus(*p, agg.joinDates[id], monthStart)
		players = append(players, *p)
	}
	slices.SortFunc(players, func(a, b PlayerSummary) int {
		if c := cmp.Compare(b.Points, a.Points); c != 0 {
			return c
		}
		return cmp.Compare(a.Title, b.Title)
	})
	return &Summary{Upload: u, Players: players}, nil
}

func playerStatus(p PlayerSummary, joinDate time.Time, monthStart time.Time) string {
	if p.Points >= qualifiedPoints {
		return StatusQualified
	}
	if !joinDate.IsZero() && monthStart.Sub(joinDate) < newPlayerDays*24*time.Hour {
		return StatusNewPlayer
	}
	if p.IncomeISK >= fineIncomeFloorISK {
		return statusFinePrefix + strconv.FormatFloat(qualifiedPoints-p.Points, 'g', -1, 64)
	}
	return StatusLowIncome
}

// aggregator accumulates per-player summaries, caching the character
// and player lookups along the way.
type aggregator struct {
	st         storageReader
	players    map[int64]*PlayerSummary
	joinDates  map[int64]time.Time
	characters map[int64]*app.Character
}

type storageReader interface {
	GetCharacter(ctx context.Context, id int64) (*app.Character, error)
	GetPlayer(ctx context.Context, id int64) (*app.Player, error)
}

func newAggregator(st storageReader) *aggregator {
	return &aggregator{
		st:         st,
		players:    make(map[int64]*PlayerSummary),
		joinDates:  make(map[int64]time.Time),
		characters: make(map[int64]*app.Character),
	}
}

// playerFor returns the summary bucket of the player owning a character.
func (a *aggregator) playerFor(ctx context.Context, characterID int64) (*PlayerSummary, error) {
	c, ok := a.characters[characterID]
	if !ok {
		var err error
		c, err = a.st.GetCharacter(ctx, characterID)
		if err != nil {
			return nil, err
		}
		a.characters[characterID] = c
	}
	if p, ok := a.players[c.PlayerID]; ok {
		return p, nil
	}
	player, err := a.st.GetPlayer(ctx, c.PlayerID)
	if err != nil {
		return nil, err
	}
	ps := &PlayerSummary{PlayerID: player.ID, Title: player.Title}
	if id, err := player.MainCharacterID.Value(); err == nil {
		main, err := a.st.GetCharacter(ctx, id)
		if err == nil {
			ps.MainCharacter = main.Name
		}
	}
	a.joinDates[player.ID] = player.JoinDate.ValueOrZero()
	a.players[player.ID] = ps
	return ps, nil
}
