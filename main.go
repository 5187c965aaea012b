package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"equity-trading-bot/config"
	"equity-trading-bot/internal/api"
	"equity-trading-bot/internal/broker"
	"equity-trading-bot/internal/clock"
	"equity-trading-bot/internal/cooldown"
	"equity-trading-bot/internal/database"
	"equity-trading-bot/internal/executor"
	"equity-trading-bot/internal/exits"
	"equity-trading-bot/internal/ignore"
	"equity-trading-bot/internal/limits"
	"equity-trading-bot/internal/lock"
	"equity-trading-bot/internal/logging"
	"equity-trading-bot/internal/market"
	"equity-trading-bot/internal/orchestrator"
	"equity-trading-bot/internal/pricecache"
	"equity-trading-bot/internal/reconcile"
	"equity-trading-bot/internal/risk"
	"equity-trading-bot/internal/sentinel"
	"equity-trading-bot/internal/sheets"
	sigproc "equity-trading-bot/internal/signal"
	"equity-trading-bot/internal/sizer"
	"equity-trading-bot/internal/universe"
	"equity-trading-bot/internal/vault"
)

// Exit codes. Operators and the supervisor script key off these.
const (
	exitOK       = 0
	exitLockHeld = 1
	exitConfig   = 2
	exitInternal = 3
)

func main() {
	os.Exit(run())
}

func run() int {
	godotenv.Load()
	cfg := config.Load()
	logger := logging.New(cfg.LoggingConfig.Level, cfg.LoggingConfig.JSONFormat)

	if err := cfg.Validate(); err != nil {
		logger.Error().Err(err).Msg("invalid configuration")
		return exitConfig
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	session, err := clock.NewSession(clock.DefaultCalendar2026())
	if err != nil {
		logger.Error().Err(err).Msg("session calendar failed to load")
		return exitConfig
	}

	if cfg.VaultConfig.Enabled && !cfg.BrokerConfig.MockMode {
		if err := loadVaultCredentials(ctx, cfg, logger); err != nil {
			logger.Error().Err(err).Msg("vault credential fetch failed")
			return exitConfig
		}
	}

	db, err := database.NewDB(ctx, cfg.DatabaseConfig.URL, logger)
	if err != nil {
		logger.Error().Err(err).Msg("database connection failed")
		return exitConfig
	}
	defer db.Close()

	if err := db.RunMigrations(ctx); err != nil {
		logger.Error().Err(err).Msg("migrations failed")
		return exitInternal
	}
	repo := database.NewRepository(db)

	var rdb *redis.Client
	if cfg.RedisConfig.URL != "" {
		opts, err := redis.ParseURL(cfg.RedisConfig.URL)
		if err != nil {
			logger.Error().Err(err).Msg("invalid REDIS_URL")
			return exitConfig
		}
		rdb = redis.NewClient(opts)
		defer rdb.Close()
	} else {
		logger.Warn().Msg("Redis not configured, price cache runs on Postgres only and the kill switch is unavailable")
	}

	rate := sentinel.NewRateWindow(time.Minute)
	trading, data := newBrokerClients(cfg, rate, logger)

	cooldowns := cooldown.NewMap(repo, logger)
	ignores := ignore.NewList(repo, logger)
	limiter := limits.NewChecker(repo, cfg.RiskConfig.DailyLossLimit, cfg.RiskConfig.DailyProfitCap, logger)
	sz := sizer.New(cfg.TradingConfig.MaxPerTrade, cfg.RiskConfig.RiskPerTradePct)
	gate := risk.NewGate(repo, ignores, cooldowns, limiter, sz,
		cfg.TradingConfig.Capital, cfg.RiskConfig.MaxPositions, logger)

	processor := sigproc.NewProcessor(repo, cooldowns,
		cfg.TradingConfig.KIVTimeout, cfg.TradingConfig.ConfirmedTimeout,
		cfg.TradingConfig.BouncePct, logger)
	cache := pricecache.New(rdb, repo, data, cfg.TradingConfig.PriceCacheTTL, logger)
	exec := executor.New(trading, repo, cooldowns, logger)
	exitMon := exits.NewMonitor(repo, cache, exec, session,
		cfg.TradingConfig.ForceCloseMinutes, cfg.TradingConfig.PreCloseWarningMinutes, logger)
	reconciler := reconcile.New(trading, repo, logger)
	detector := market.NewDetector(data, logger)
	kill := sentinel.NewKillSwitch(rdb)
	health := sentinel.New(repo, rate,
		cfg.SentinelConfig.APIRateLimit, cfg.SentinelConfig.MaxDataErrorsDay,
		cfg.SentinelConfig.MaxConsecutiveFailures, detector, kill, logger)
	scanner := universe.NewScanner(repo, cache, data, processor, ignores, logger)

	var exporter orchestrator.Exporter
	if cfg.SheetEnabled() {
		sheetClient, err := sheets.NewClient(cfg.SheetConfig.ClientEmail, cfg.SheetConfig.PrivateKey, cfg.SheetConfig.SheetID)
		if err != nil {
			logger.Error().Err(err).Msg("sheet client setup failed")
			return exitConfig
		}
		exporter = sheets.NewExporter(sheetClient, repo, logger)
	}

	if cfg.SeedFile != "" {
		seeder := sigproc.NewSeeder(processor, logger)
		res, err := seeder.SeedFromFile(ctx, cfg.SeedFile)
		if err != nil {
			logger.Error().Err(err).Str("path", cfg.SeedFile).Msg("signal seed failed")
			return exitConfig
		}
		logger.Info().Int("added", res.Added).Int("existing", res.Existing).
			Int("rejected", res.Rejected).Msg("signals seeded")
	}

	// Adopt any orders left pending by a previous run before trading resumes.
	if err := exec.Recover(ctx); err != nil {
		logger.Error().Err(err).Msg("pending order recovery failed")
		return exitInternal
	}

	if cfg.ServerConfig.Port > 0 {
		srv := api.NewServer(repo, kill, cfg.ServerConfig.Port, logger)
		go func() {
			if err := srv.Start(); err != nil {
				logger.Error().Err(err).Msg("operator API stopped")
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				logger.Error().Err(err).Msg("operator API shutdown failed")
			}
		}()
	}

	orch := orchestrator.New(orchestrator.Deps{
		Session:    session,
		Lock:       lock.New(cfg.LockPath, logger),
		Health:     health,
		Reconciler: reconciler,
		ExitMon:    exitMon,
		Trader:     exec,
		Scanner:    scanner,
		Signals:    processor,
		Gate:       gate,
		Prices:     cache,
		Volatility: scanner,
		Exporter:   exporter,
	}, logger)

	if cfg.RunOnce {
		if _, err := orch.RunCycle(ctx); err != nil {
			return exitCode(err, logger)
		}
		logger.Info().Msg("single cycle complete")
		return exitOK
	}

	if err := orch.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return exitCode(err, logger)
	}
	logger.Info().Msg("shutdown complete")
	return exitOK
}

func exitCode(err error, logger zerolog.Logger) int {
	if errors.Is(err, orchestrator.ErrLockContended) {
		logger.Error().Err(err).Msg("another instance holds the run lock")
		return exitLockHeld
	}
	logger.Error().Err(err).Msg("orchestrator failed")
	return exitInternal
}

// newBrokerClients builds the trading and data clients. Mock mode returns a
// single in-memory simulator serving both roles.
func newBrokerClients(cfg *config.Config, rate *sentinel.RateWindow, logger zerolog.Logger) (broker.TradingClient, broker.DataClient) {
	if cfg.BrokerConfig.MockMode {
		logger.Warn().Msg("running against the simulated broker")
		mock := broker.NewMockClient()
		return mock, mock
	}
	b := cfg.BrokerConfig
	trading := broker.NewHTTPClient(b.BaseURL, b.TradingKey, b.SecretKey, rate, logger)
	data := broker.NewDataHTTPClient(b.DataURL, b.DataKey, b.SecretKey, b.DataFeed, rate, logger)
	return trading, data
}

// loadVaultCredentials overwrites the broker key material in cfg with the
// values stored in Vault.
func loadVaultCredentials(ctx context.Context, cfg *config.Config, logger zerolog.Logger) error {
	vc, err := vault.NewClient(cfg.VaultConfig)
	if err != nil {
		return err
	}
	creds, err := vc.BrokerCredentials(ctx)
	if err != nil {
		return err
	}
	cfg.BrokerConfig.TradingKey = creds.TradingKey
	cfg.BrokerConfig.SecretKey = creds.SecretKey
	cfg.BrokerConfig.DataKey = creds.DataKey
	logger.Info().Msg("broker credentials loaded from Vault")
	return nil
}
