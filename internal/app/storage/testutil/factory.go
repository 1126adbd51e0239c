package testutil

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync/atomic"
	"time"

	"github.com/icrowley/fake"

	"github.com/eveqx/corpstat/internal/app"
	"github.com/eveqx/corpstat/internal/app/storage"
)

const startIDCharacter = 90_000_001

// Factory creates test objects in storage. Empty fields are filled with
// sensible defaults.
type Factory struct {
	st *storage.Storage

	characterID atomic.Int64
	killmailID  atomic.Int64
	uniqueID    atomic.Int64
}

func NewFactory(st *storage.Storage) *Factory {
	f := &Factory{st: st}
	f.characterID.Store(startIDCharacter)
	f.killmailID.Store(10_000_001)
	return f
}

func (f *Factory) RandomTime() time.Time {
	hours := time.Duration(rand.IntN(100_000))
	seconds := time.Duration(rand.IntN(3600))
	d := hours*time.Hour + seconds*time.Second
	return time.Now().Add(-d).UTC()
}

func (f *Factory) uniqueName(base string) string {
	return fmt.Sprintf("%s %d", base, f.uniqueID.Add(1))
}

func (f *Factory) CreatePlayer(args ...storage.CreatePlayerParams) *app.Player {
	var arg storage.CreatePlayerParams
	if len(args) > 0 {
		arg = args[0]
	}
	if arg.Title == "" {
		arg.Title = f.uniqueName(fake.Company())
	}
	ctx := context.Background()
	p, err := f.st.CreatePlayer(ctx, arg)
	if err != nil {
		panic(err)
	}
	return p
}

// CreateSentinelPlayer returns the sentinel player, provisioning it when needed.
func (f *Factory) CreateSentinelPlayer() *app.Player {
	ctx := context.Background()
	p, err := f.st.GetSentinelPlayer(ctx)
	if err == nil {
		return p
	}
	if !errors.Is(err, app.ErrNotFound) {
		panic(err)
	}
	p, err = f.st.CreatePlayer(ctx, storage.CreatePlayerParams{
		Title:      storage.SentinelPlayerTitle,
		IsSentinel: true,
	})
	if err != nil {
		panic(err)
	}
	return p
}

func (f *Factory) CreateCharacter(args ...storage.CreateCharacterParams) *app.Character {
	var arg storage.CreateCharacterParams
	if len(args) > 0 {
		arg = args[0]
	}
	if arg.ID == 0 {
		arg.ID = f.characterID.Add(1)
	}
	if arg.Name == "" {
		arg.Name = f.uniqueName(fake.FullName())
	}
	if arg.PlayerID == 0 {
		arg.PlayerID = f.CreatePlayer().ID
	}
	ctx := context.Background()
	c, err := f.st.CreateCharacter(ctx, arg)
	if err != nil {
		panic(err)
	}
	return c
}

func (f *Factory) CreatePlaceholderCharacter(args ...storage.CreateCharacterParams) *app.Character {
	var arg storage.CreateCharacterParams
	if len(args) > 0 {
		arg = args[0]
	}
	if arg.Name == "" {
		arg.Name = f.uniqueName(fake.FullName())
	}
	if arg.PlayerID == 0 {
		arg.PlayerID = f.CreateSentinelPlayer().ID
	}
	ctx := context.Background()
	c, err := f.st.CreatePlaceholderCharacter(ctx, arg)
	if err != nil {
		panic(err)
	}
	return c
}

func (f *Factory) CreateMonthlyUpload(args ...storage.CreateMonthlyUploadParams) *app.MonthlyUpload {
	var arg storage.CreateMonthlyUploadParams
	if len(args) > 0 {
		arg = args[0]
	}
	if arg.Year == 0 {
		// spread over months and years to keep the unique pair constraint happy
		n := f.uniqueID.Add(1)
		arg.Year = 2000 + int(n/12)
		arg.Month = int(n%12) + 1
	}
	if arg.UploadDate.IsZero() {
		arg.UploadDate = time.Now().UTC()
	}
	if arg.TaxRate == 0 {
		arg.TaxRate = 0.1
	}
	if arg.OreConvertRate == 0 {
		arg.OreConvertRate = 100
	}
	if arg.UploadedBy == "" {
		arg.UploadedBy = fake.UserName()
	}
	ctx := context.Background()
	u, err := f.st.CreateMonthlyUpload(ctx, arg)
	if err != nil {
		panic(err)
	}
	return u
}

func (f *Factory) CreateActivityRecord(args ...storage.CreateActivityRecordParams) storage.CreateActivityRecordParams {
	var arg storage.CreateActivityRecordParams
	if len(args) > 0 {
		arg = args[0]
	}
	if arg.UploadID == 0 {
		arg.UploadID = f.CreateMonthlyUpload().ID
	}
	var name string
	if arg.CharacterID == 0 {
		c := f.CreateCharacter()
		arg.CharacterID = c.ID
		name = c.Name
	}
	if arg.CharacterName == "" {
		if name == "" {
			name = fake.FullName()
		}
		arg.CharacterName = name
	}
	ctx := context.Background()
	if err := f.st.CreateActivityRecord(ctx, arg); err != nil {
		panic(err)
	}
	return arg
}

func (f *Factory) CreateBountyRecord(args ...storage.CreateBountyRecordParams) storage.CreateBountyRecordParams {
	var arg storage.CreateBountyRecordParams
	if len(args) > 0 {
		arg = args[0]
	}
	if arg.UploadID == 0 {
		arg.UploadID = f.CreateMonthlyUpload().ID
	}
	var name string
	if arg.CharacterID == 0 {
		c := f.CreateCharacter()
		arg.CharacterID = c.ID
		name = c.Name
	}
	if arg.CharacterName == "" {
		if name == "" {
			name = fake.FullName()
		}
		arg.CharacterName = name
	}
	ctx := context.Background()
	if err := f.st.CreateBountyRecord(ctx, arg); err != nil {
		panic(err)
	}
	return arg
}

func (f *Factory) CreateMiningRecord(args ...storage.CreateMiningRecordParams) storage.CreateMiningRecordParams {
	var arg storage.CreateMiningRecordParams
	if len(args) > 0 {
		arg = args[0]
	}
	if arg.UploadID == 0 {
		arg.UploadID = f.CreateMonthlyUpload().ID
	}
	var name string
	if arg.CharacterID == 0 {
		c := f.CreateCharacter()
		arg.CharacterID = c.ID
		name = c.Name
	}
	if arg.CharacterName == "" {
		if name == "" {
			name = fake.FullName()
		}
		arg.CharacterName = name
	}
	ctx := context.Background()
	if err := f.st.CreateMiningRecord(ctx, arg); err != nil {
		panic(err)
	}
	return arg
}

func (f *Factory) CreateSolarSystem(args ...app.SolarSystem) *app.SolarSystem {
	var arg app.SolarSystem
	if len(args) > 0 {
		arg = args[0]
	}
	if arg.ID == 0 {
		arg.ID = 30_000_000 + f.uniqueID.Add(1)
	}
	if arg.Name == "" {
		arg.Name = f.uniqueName(fake.City())
	}
	ctx := context.Background()
	if _, err := f.st.CreateSolarSystemsMissing(ctx, []app.SolarSystem{arg}); err != nil {
		panic(err)
	}
	return &arg
}

func (f *Factory) CreateItemType(args ...app.ItemType) *app.ItemType {
	var arg app.ItemType
	if len(args) > 0 {
		arg = args[0]
	}
	if arg.ID == 0 {
		arg.ID = 100 + f.uniqueID.Add(1)
	}
	if arg.Name == "" {
		arg.Name = f.uniqueName(fake.Product())
	}
	ctx := context.Background()
	if _, err := f.st.CreateItemTypesMissing(ctx, []app.ItemType{arg}); err != nil {
		panic(err)
	}
	return &arg
}

func (f *Factory) CreateKillmail(args ...storage.CreateKillmailParams) *app.Killmail {
	var arg storage.CreateKillmailParams
	if len(args) > 0 {
		arg = args[0]
	}
	if arg.ID == 0 {
		arg.ID = f.killmailID.Add(1)
	}
	if arg.Time.IsZero() {
		arg.Time = f.RandomTime()
	}
	if arg.CharacterID == 0 {
		arg.CharacterID = f.CreateCharacter().ID
	}
	if arg.SolarSystemID == 0 {
		arg.SolarSystemID = f.CreateSolarSystem().ID
	}
	if arg.VictimShipTypeID == 0 {
		arg.VictimShipTypeID = f.CreateItemType().ID
	}
	if arg.TotalValue == 0 {
		arg.TotalValue = rand.Float64() * 1_000_000_000
	}
	ctx := context.Background()
	if err := f.st.CreateKillmail(ctx, arg); err != nil {
		panic(err)
	}
	k, err := f.st.GetKillmail(ctx, arg.ID)
	if err != nil {
		panic(err)
	}
	return k
}
