// opsctl is the operator's command line for the trading bot: inspect
// health, flip the kill switch, and clear ticker quarantines without
// touching the running process.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"equity-trading-bot/config"
	"equity-trading-bot/internal/database"
	"equity-trading-bot/internal/ignore"
	"equity-trading-bot/internal/logging"
	"equity-trading-bot/internal/sentinel"
)

func usage() {
	fmt.Fprintf(os.Stderr, `Usage: opsctl <command> [flags]

Commands:
  status                 show latest health, kill switch, and open positions
  kill -reason <text>    engage the kill switch (halts all trading)
  resume                 release the kill switch
  ignore-reset -ticker T clear a ticker from the ignore list
  watch-add -ticker T [-tier N] [-notes ...]  add or retier a universe member
  watch-remove -ticker T                      drop a ticker from the universe
`)
}

func main() {
	godotenv.Load()

	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	cfg := config.Load()
	var err error
	switch os.Args[1] {
	case "status":
		err = cmdStatus(ctx, cfg)
	case "kill":
		fs := flag.NewFlagSet("kill", flag.ExitOnError)
		reason := fs.String("reason", "manual halt", "why trading is being stopped")
		fs.Parse(os.Args[2:])
		err = cmdKill(ctx, cfg, *reason)
	case "resume":
		err = cmdResume(ctx, cfg)
	case "ignore-reset":
		fs := flag.NewFlagSet("ignore-reset", flag.ExitOnError)
		ticker := fs.String("ticker", "", "ticker to clear")
		fs.Parse(os.Args[2:])
		if *ticker == "" {
			fs.Usage()
			os.Exit(2)
		}
		err = cmdIgnoreReset(ctx, cfg, *ticker)
	case "watch-add":
		fs := flag.NewFlagSet("watch-add", flag.ExitOnError)
		ticker := fs.String("ticker", "", "ticker to add")
		tier := fs.Int("tier", 2, "scan tier (1 scans every cycle, 2 only on GREEN)")
		notes := fs.String("notes", "", "free-form note")
		fs.Parse(os.Args[2:])
		if *ticker == "" {
			fs.Usage()
			os.Exit(2)
		}
		err = cmdWatchAdd(ctx, cfg, *ticker, *tier, *notes)
	case "watch-remove":
		fs := flag.NewFlagSet("watch-remove", flag.ExitOnError)
		ticker := fs.String("ticker", "", "ticker to remove")
		fs.Parse(os.Args[2:])
		if *ticker == "" {
			fs.Usage()
			os.Exit(2)
		}
		err = cmdWatchRemove(ctx, cfg, *ticker)
	default:
		usage()
		os.Exit(2)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "opsctl: %v\n", err)
		os.Exit(1)
	}
}

func openRedis(cfg *config.Config) (*redis.Client, error) {
	if cfg.RedisConfig.URL == "" {
		return nil, fmt.Errorf("REDIS_URL is required for this command")
	}
	opts, err := redis.ParseURL(cfg.RedisConfig.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid REDIS_URL: %w", err)
	}
	return redis.NewClient(opts), nil
}

func openRepo(ctx context.Context, cfg *config.Config) (*database.Repository, func(), error) {
	if cfg.DatabaseConfig.URL == "" {
		return nil, nil, fmt.Errorf("DB_PATH is required for this command")
	}
	logger := logging.New("warn", false)
	db, err := database.NewDB(ctx, cfg.DatabaseConfig.URL, logger)
	if err != nil {
		return nil, nil, err
	}
	return database.NewRepository(db), db.Close, nil
}

func cmdStatus(ctx context.Context, cfg *config.Config) error {
	repo, closeDB, err := openRepo(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeDB()

	health, err := repo.LatestHealth(ctx)
	if err != nil {
		return err
	}
	if health == nil {
		fmt.Println("health:      UNKNOWN (no cycles recorded)")
	} else {
		fmt.Printf("health:      %s (%s)\n", health.State, health.Timestamp.Format(time.RFC3339))
		if health.Reason != "" {
			fmt.Printf("reason:      %s\n", health.Reason)
		}
		fmt.Printf("api calls:   %d this cycle\n", health.APICallsCycle)
		fmt.Printf("data errors: %d today\n", health.DataErrorsToday)
		fmt.Printf("ignored:     %d tickers\n", health.IgnoreListSize)
	}

	positions, err := repo.GetActivePositions(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("positions:   %d active\n", len(positions))
	for _, p := range positions {
		fmt.Printf("  %-10s %-6s %s qty=%.0f entry=%.2f\n",
			p.TicketID, p.Ticker, p.Status, p.Quantity, p.EntryPrice)
	}

	rdb, err := openRedis(cfg)
	if err != nil {
		fmt.Printf("killswitch:  unavailable (%v)\n", err)
		return nil
	}
	defer rdb.Close()
	engaged, reason, err := sentinel.NewKillSwitch(rdb).Engaged(ctx)
	if err != nil {
		return err
	}
	if engaged {
		fmt.Printf("killswitch:  ENGAGED (%s)\n", reason)
	} else {
		fmt.Println("killswitch:  disengaged")
	}
	return nil
}

func cmdKill(ctx context.Context, cfg *config.Config, reason string) error {
	rdb, err := openRedis(cfg)
	if err != nil {
		return err
	}
	defer rdb.Close()
	if err := sentinel.NewKillSwitch(rdb).Engage(ctx, reason); err != nil {
		return err
	}
	fmt.Printf("kill switch engaged: %s\n", reason)
	return nil
}

func cmdResume(ctx context.Context, cfg *config.Config) error {
	rdb, err := openRedis(cfg)
	if err != nil {
		return err
	}
	defer rdb.Close()
	if err := sentinel.NewKillSwitch(rdb).Release(ctx); err != nil {
		return err
	}
	fmt.Println("kill switch released")
	return nil
}

func cmdWatchAdd(ctx context.Context, cfg *config.Config, ticker string, tier int, notes string) error {
	if tier != 1 && tier != 2 {
		return fmt.Errorf("tier must be 1 or 2, got %d", tier)
	}
	repo, closeDB, err := openRepo(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeDB()
	item := &database.WatchItem{Ticker: ticker, Tier: tier, Notes: notes, AddedAt: time.Now().UTC()}
	if err := repo.UpsertWatchItem(ctx, item); err != nil {
		return err
	}
	fmt.Printf("%s on the watch list at tier %d\n", ticker, tier)
	return nil
}

func cmdWatchRemove(ctx context.Context, cfg *config.Config, ticker string) error {
	repo, closeDB, err := openRepo(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeDB()
	if err := repo.RemoveWatchItem(ctx, ticker); err != nil {
		return err
	}
	fmt.Printf("%s removed from the watch list\n", ticker)
	return nil
}

func cmdIgnoreReset(ctx context.Context, cfg *config.Config, ticker string) error {
	repo, closeDB, err := openRepo(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeDB()
	logger := logging.New("warn", false)
	if err := ignore.NewList(repo, logger).Reset(ctx, ticker); err != nil {
		return err
	}
	fmt.Printf("%s cleared from the ignore list\n", ticker)
	return nil
}
