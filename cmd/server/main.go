// Package main is the entry point for the portview valuation server. It
// serves portfolio valuations computed from a transaction ledger against a
// locally cached copy of daily market data, refreshing the cache at most
// once per symbol per calendar day.
package main

import (
	"context"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/portview/portview/internal/clients/yahoo"
	"github.com/portview/portview/internal/config"
	"github.com/portview/portview/internal/database"
	"github.com/portview/portview/internal/modules/currency"
	"github.com/portview/portview/internal/modules/ledger"
	ledgerhandlers "github.com/portview/portview/internal/modules/ledger/handlers"
	"github.com/portview/portview/internal/modules/prices"
	"github.com/portview/portview/internal/modules/valuation"
	valuationhandlers "github.com/portview/portview/internal/modules/valuation/handlers"
	"github.com/portview/portview/internal/scheduler"
	"github.com/portview/portview/internal/server"
	"github.com/portview/portview/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fallbackLog := logger.New(logger.Config{
			Level:  "info",
			Pretty: true,
		})
		fallbackLog.Fatal().Err(err).Msg("Failed to load configuration")
	}

	log := logger.New(logger.Config{
		Level:  cfg.LogLevel,
		Pretty: cfg.DevMode,
	})

	log.Info().Msg("Starting portview")

	// Two databases: the price cache is cheap to rebuild, the transaction
	// ledger is the source of truth and runs a stricter durability profile.
	pricesDB, err := database.New(database.Config{
		Path:    filepath.Join(cfg.DataDir, "prices.db"),
		Profile: database.ProfileCache,
		Name:    "prices",
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open prices database")
	}
	defer pricesDB.Close()

	ledgerDB, err := database.New(database.Config{
		Path:    filepath.Join(cfg.DataDir, "ledger.db"),
		Profile: database.ProfileLedger,
		Name:    "ledger",
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open ledger database")
	}
	defer ledgerDB.Close()

	for _, db := range []*database.DB{pricesDB, ledgerDB} {
		if err := db.Migrate(); err != nil {
			log.Fatal().Err(err).Str("database", db.Name()).Msg("Failed to migrate database")
		}
	}

	// Market data provider client. All outbound calls are serialized and
	// rate limited here, however many callers fan out above it.
	yahooClient := yahoo.NewClient(yahoo.Config{
		Concurrency: cfg.MarketConcurrency,
		Delay:       cfg.MarketDelay,
		Timeout:     cfg.MarketTimeout,
	}, log)
	defer yahooClient.Close()

	priceStore := prices.NewStore(pricesDB.Conn(), log)
	priceManager := prices.NewManager(priceStore, yahooClient, log)
	normalizer := currency.NewNormalizer(priceManager, log)
	ledgerRepo := ledger.NewRepository(ledgerDB.Conn(), log)
	valuationService := valuation.NewService(ledgerRepo, priceManager, normalizer, log)

	// Nightly cache warm so morning requests are pure cache hits
	sched := scheduler.New(log)
	refreshJob := scheduler.NewRefreshJob(ledgerRepo, priceManager, log)
	if err := sched.AddJob(cfg.RefreshCronSpec, refreshJob); err != nil {
		log.Fatal().Err(err).Str("schedule", cfg.RefreshCronSpec).Msg("Failed to register refresh job")
	}
	sched.Start()
	defer sched.Stop()

	srv := server.New(server.Config{
		Log:               log,
		PricesDB:          pricesDB,
		LedgerDB:          ledgerDB,
		Port:              cfg.Port,
		DevMode:           cfg.DevMode,
		LedgerHandlers:    ledgerhandlers.NewHandler(ledgerRepo, log),
		ValuationHandlers: valuationhandlers.NewHandler(valuationService, cfg.ReportingCurrency, log),
	})

	serverErr := make(chan error, 1)
	go func() {
		serverErr <- srv.Start()
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serverErr:
		log.Fatal().Err(err).Msg("HTTP server failed")
	case sig := <-quit:
		log.Info().Str("signal", sig.String()).Msg("Shutdown signal received")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown failed")
	}

	log.Info().Msg("Shutdown complete")
}
