// Corpstat is a command line service that reconciles monthly corporation
// spreadsheets and the daily killmail feed into per-player statistics.
package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"time"

	"github.com/antihax/goesi"
	"github.com/dustin/go-humanize"
	"github.com/hashicorp/go-retryablehttp"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/eveqx/corpstat/internal/app"
	"github.com/eveqx/corpstat/internal/app/identityservice"
	"github.com/eveqx/corpstat/internal/app/killmailservice"
	"github.com/eveqx/corpstat/internal/app/reconcileservice"
	"github.com/eveqx/corpstat/internal/app/storage"
	"github.com/eveqx/corpstat/internal/app/uploadservice"
	"github.com/eveqx/corpstat/internal/config"
)

const defaultUserAgent = "corpstat (https://github.com/eveqx/corpstat)"

// defined flags
var (
	levelFlag   logLevelFlag
	configFlag  = flag.String("config", "config.yaml", "Path to the configuration file")
	logFileFlag = flag.Bool("logfile", false, "Write logs to a rotating file instead of the console")
)

func init() {
	levelFlag.value = slog.LevelInfo
	flag.Var(&levelFlag, "loglevel", "set log level")
}

func usage() {
	fmt.Fprintf(flag.CommandLine.Output(), `Usage: corpstat [flags] <command> [command flags]

Commands:
  initdb     Initialize the database (-drop recreates it)
  upload     Ingest a monthly spreadsheet
  summary    Print the player summary for one month, or list all uploads
  players    List all players with their main character
  fixorphans Resolve placeholder characters
  parse      Ingest the killmail feed for one day
  backfill   Ingest the killmail feed for a date range
  updatesde  Refresh solar system and item type reference data
  cleanup    Remove players without characters

Flags:
`)
	flag.PrintDefaults()
}

func main() {
	flag.Usage = usage
	flag.Parse()
	slog.SetLogLoggerLevel(levelFlag.value)
	if *logFileFlag {
		log.SetOutput(&lumberjack.Logger{
			Filename:   "corpstat.log",
			MaxSize:    50, // megabytes
			MaxBackups: 3,
		})
	}
	if err := run(flag.Args()); err != nil {
		log.Fatal(err)
	}
}

func run(args []string) error {
	if len(args) == 0 {
		usage()
		return errors.New("missing command")
	}
	cfg, err := config.Load(*configFlag)
	if err != nil {
		return err
	}
	command, args := args[0], args[1:]
	if command == "initdb" {
		return cmdInitDB(cfg, args)
	}
	e, err := newEnv(context.Background(), cfg)
	if err != nil {
		return err
	}
	defer e.db.Close()
	ctx := context.Background()
	switch command {
	case "upload":
		return cmdUpload(ctx, e, args)
	case "summary":
		return cmdSummary(ctx, e, args)
	case "players":
		return cmdPlayers(ctx, e)
	case "fixorphans":
		return cmdFixOrphans(ctx, e, args)
	case "parse":
		return cmdParse(ctx, e, args)
	case "backfill":
		return cmdBackfill(ctx, e, args)
	case "updatesde":
		return cmdUpdateSDE(ctx, e)
	case "cleanup":
		return cmdCleanup(ctx, e)
	default:
		usage()
		return fmt.Errorf("unknown command: %s", command)
	}
}

// env bundles the wired services for the command handlers.
type env struct {
	cfg *config.Config
	db  *sql.DB
	st  *storage.Storage
	ids *identityservice.IdentityService
	us  *uploadservice.UploadService
	rs  *reconcileservice.ReconcileService
	ks  *killmailservice.KillmailService
	loc *time.Location
}

func newEnv(ctx context.Context, cfg *config.Config) (*env, error) {
	db, err := storage.InitDB(cfg.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("initialize database %s: %w", cfg.DatabasePath, err)
	}
	st := storage.New(db)
	rc := retryablehttp.NewClient()
	rc.Logger = slog.Default()
	rc.ResponseLogHook = logResponse
	httpClient := rc.StandardClient()
	userAgent := cfg.UserAgent
	if userAgent == "" {
		userAgent = defaultUserAgent
	}
	esiClient := goesi.NewAPIClient(httpClient, userAgent)
	ids := identityservice.New(identityservice.Params{
		ESIClient:     esiClient,
		HTTPClient:    httpClient,
		Limiter:       identityservice.NewLimiter(cfg.RequestsPerSecond),
		CorporationID: cfg.CorporationID,
	})
	allianceID, err := cfg.EnsureAllianceID(ctx, ids, *configFlag)
	if err != nil {
		db.Close()
		return nil, err
	}
	loc, err := cfg.Location()
	if err != nil {
		db.Close()
		return nil, err
	}
	rs := reconcileservice.New(reconcileservice.Params{
		Storage:         st,
		IdentityService: ids,
	})
	us := uploadservice.New(uploadservice.Params{
		Storage:          st,
		ReconcileService: rs,
	})
	ks := killmailservice.New(killmailservice.Params{
		Storage:         st,
		IdentityService: ids,
		HTTPClient:      httpClient,
		CorporationID:   cfg.CorporationID,
		AllianceID:      allianceID,
		Location:        loc,
	})
	ensureCorporationLogo(ctx, ids, cfg.CorporationID)
	return &env{cfg: cfg, db: db, st: st, ids: ids, us: us, rs: rs, ks: ks, loc: loc}, nil
}

// ensureCorporationLogo downloads the corporation logo once for use by
// report tooling. A failed download is not fatal.
func ensureCorporationLogo(ctx context.Context, ids *identityservice.IdentityService, corporationID int64) {
	const path = "logo.png"
	if _, err := os.Stat(path); err == nil {
		return
	}
	if err := ids.SaveCorporationLogo(ctx, corporationID, path); err != nil {
		slog.Warn("Failed to download corporation logo", "error", err)
	}
}

func cmdInitDB(cfg *config.Config, args []string) error {
	fs := flag.NewFlagSet("initdb", flag.ExitOnError)
	drop := fs.Bool("drop", false, "Delete the existing database first")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *drop {
		for _, suffix := range []string{"", "-wal", "-shm"} {
			if err := os.Remove(cfg.DatabasePath + suffix); err != nil && !errors.Is(err, os.ErrNotExist) {
				return err
			}
		}
	}
	db, err := storage.InitDB(cfg.DatabasePath)
	if err != nil {
		return err
	}
	defer db.Close()
	st := storage.New(db)
	ctx := context.Background()
	_, err = st.GetSentinelPlayer(ctx)
	if errors.Is(err, app.ErrNotFound) {
		_, err = st.CreatePlayer(ctx, storage.CreatePlayerParams{
			Title:      storage.SentinelPlayerTitle,
			IsSentinel: true,
		})
	}
	if err != nil {
		return err
	}
	fmt.Println("Initialized database.")
	return nil
}

func cmdUpload(ctx context.Context, e *env, args []string) error {
	fs := flag.NewFlagSet("upload", flag.ExitOnError)
	file := fs.String("file", "", "Path to the spreadsheet")
	year := fs.Int("year", 0, "Year of the reporting month")
	month := fs.Int("month", 0, "Reporting month (1-12)")
	tax := fs.Float64("tax", 0.1, "Corporation tax rate")
	ore := fs.Float64("ore", 0, "Ore conversion rate in ISK per m3")
	by := fs.String("by", "", "Name of the uploader")
	overwrite := fs.Bool("overwrite", false, "Replace an existing upload for the same month")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *file == "" {
		return errors.New("upload: -file is required")
	}
	r, err := e.us.ProcessWorkbook(ctx, uploadservice.ProcessParams{
		Path:           *file,
		Year:           *year,
		Month:          *month,
		TaxRate:        *tax,
		OreConvertRate: *ore,
		UploadedBy:     *by,
		Overwrite:      *overwrite,
	})
	if err != nil {
		return err
	}
	fmt.Printf("Ingested %d activity, %d bounty and %d mining rows for %d-%02d\n",
		r.ActivityCount, r.BountyCount, r.MiningCount, r.Upload.Year, r.Upload.Month)
	fmt.Printf("Reconciliation: %d checked, %d fixed, %d deleted, %d failed\n",
		r.Sweep.Checked, r.Sweep.Fixed, r.Sweep.Deleted, r.Sweep.Failed)
	if r.ReconcilePending {
		fmt.Println("Some characters could not be resolved yet, waiting for the scheduled sweep.")
		<-r.SweepDone
	}
	return nil
}

func cmdSummary(ctx context.Context, e *env, args []string) error {
	fs := flag.NewFlagSet("summary", flag.ExitOnError)
	year := fs.Int("year", 0, "Year of the reporting month")
	month := fs.Int("month", 0, "Reporting month (1-12)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *year == 0 || *month == 0 {
		return listUploads(ctx, e)
	}
	u, err := e.st.GetMonthlyUploadByMonth(ctx, *year, *month)
	if err != nil {
		return err
	}
	s, err := e.us.Summary(ctx, u.ID)
	if err != nil {
		return err
	}
	fmt.Printf("%s %d-%02d, uploaded %s by %s\n", e.cfg.SiteName,
		u.Year, u.Month, u.UploadDate.Format(time.DateOnly), u.UploadedBy)
	fmt.Printf("%-30s %8s %8s %16s %16s  %s\n", "Player", "PAP", "Str.PAP", "Income (ISK)", "Mined (m3)", "Status")
	for _, p := range s.Players {
		fmt.Printf("%-30s %8.1f %8.1f %16s %16s  %s\n",
			p.Title, p.Points, p.StrategicPoints,
			humanize.CommafWithDigits(p.IncomeISK, 0),
			humanize.CommafWithDigits(p.MiningVolumeM3, 0),
			p.Status)
	}
	return nil
}

// listUploads prints all past uploads. Used by cmdSummary when no
// reporting month is given.
func listUploads(ctx context.Context, e *env) error {
	uu, err := e.st.ListMonthlyUploads(ctx)
	if err != nil {
		return err
	}
	if len(uu) == 0 {
		fmt.Println("No uploads yet")
		return nil
	}
	fmt.Printf("%-8s %-12s %-12s %8s  %s\n", "Month", "Uploaded", "By", "Tax", "Ore rate")
	for _, u := range uu {
		fmt.Printf("%d-%02d  %-12s %-12s %7.1f%%  %.0f\n",
			u.Year, u.Month, u.UploadDate.Format(time.DateOnly), u.UploadedBy,
			u.TaxRate*100, u.OreConvertRate)
	}
	return nil
}

func cmdPlayers(ctx context.Context, e *env) error {
	pp, err := e.st.ListPlayers(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("%-30s %-12s %s\n", "Player", "Joined", "Main character")
	for _, p := range pp {
		if p.IsSentinel {
			continue
		}
		joined := "-"
		if v, err := p.JoinDate.Value(); err == nil {
			joined = v.Format(time.DateOnly)
		}
		main := "-"
		if id, err := p.MainCharacterID.Value(); err == nil {
			c, err := e.st.GetCharacter(ctx, id)
			if err != nil {
				return err
			}
			main = c.Name
		}
		fmt.Printf("%-30s %-12s %s\n", p.Title, joined, main)
	}
	return nil
}

func cmdFixOrphans(ctx context.Context, e *env, args []string) error {
	fs := flag.NewFlagSet("fixorphans", flag.ExitOnError)
	uploadID := fs.Int64("upload", 0, "Limit the sweep to one upload id (0 = all)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	stats, err := e.rs.FixOrphans(ctx, *uploadID)
	if err != nil {
		return err
	}
	fmt.Printf("Checked %d placeholders: %d fixed, %d deleted, %d failed\n",
		stats.Checked, stats.Fixed, stats.Deleted, stats.Failed)
	return nil
}

func cmdParse(ctx context.Context, e *env, args []string) error {
	fs := flag.NewFlagSet("parse", flag.ExitOnError)
	if err := fs.Parse(args); err != nil {
		return err
	}
	day := time.Now().In(e.loc)
	if fs.NArg() > 0 {
		var err error
		day, err = time.Parse(time.DateOnly, fs.Arg(0))
		if err != nil {
			return fmt.Errorf("parse: bad date %q: %w", fs.Arg(0), err)
		}
	}
	day = time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, time.UTC)
	stats, err := e.ks.ParseDate(ctx, day)
	if err != nil {
		return err
	}
	fmt.Printf("Processed %d killmails, inserted %d\n", stats.Processed, stats.Inserted)
	return nil
}

func cmdBackfill(ctx context.Context, e *env, args []string) error {
	fs := flag.NewFlagSet("backfill", flag.ExitOnError)
	fromFlag := fs.String("from", "", "First day to ingest (default: day after the latest update)")
	toFlag := fs.String("to", "", "Last day to ingest (default: today)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	from, err := backfillStart(ctx, e, *fromFlag)
	if err != nil {
		return err
	}
	to := time.Now().In(e.loc)
	if *toFlag != "" {
		to, err = time.Parse(time.DateOnly, *toFlag)
		if err != nil {
			return fmt.Errorf("backfill: bad date %q: %w", *toFlag, err)
		}
	}
	to = time.Date(to.Year(), to.Month(), to.Day(), 0, 0, 0, 0, time.UTC)
	stats, err := e.ks.Backfill(ctx, from, to)
	if err != nil {
		return err
	}
	fmt.Printf("Processed %d killmails, inserted %d, %d days failed\n",
		stats.Processed, stats.Inserted, stats.Failed)
	return nil
}

// backfillStart determines the first day to ingest. Without an explicit
// date it continues after the latest processed day, or starts at the
// configured start date on a fresh database.
func backfillStart(ctx context.Context, e *env, flagValue string) (time.Time, error) {
	if flagValue != "" {
		from, err := time.Parse(time.DateOnly, flagValue)
		if err != nil {
			return time.Time{}, fmt.Errorf("backfill: bad date %q: %w", flagValue, err)
		}
		return from, nil
	}
	latest, err := e.st.GetSystemState(ctx, app.StateLatestUpdate)
	if err != nil {
		return time.Time{}, err
	}
	if !latest.IsEmpty() {
		return latest.ValueOrZero().AddDate(0, 0, 1), nil
	}
	if e.cfg.StartDate != "" {
		return e.cfg.StartDay()
	}
	return time.Time{}, errors.New("backfill: no start date, set -from or start_date in the config")
}

func cmdUpdateSDE(ctx context.Context, e *env) error {
	stats, err := e.ks.UpdateSDE(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("Added %s solar systems and %s item types\n",
		humanize.Comma(int64(stats.SolarSystems)), humanize.Comma(int64(stats.ItemTypes)))
	return nil
}

func cmdCleanup(ctx context.Context, e *env) error {
	count, err := e.ks.CleanupDummyPlayers(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("Removed %d players without characters\n", count)
	return nil
}
