// Command tidepool runs the AMM/DCA core daemon against a simulated
// ledger backend: it resolves pools, schedules DCA strategies and
// serves read-only status endpoints.
//
// Usage:
//
//	tidepool --config config.yaml
//	tidepool (uses CLI flags)
package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"tidepool/config"
	"tidepool/internal/domain"
	"tidepool/internal/ledger"
	"tidepool/internal/services/dca"
	"tidepool/internal/services/liquidity"
	"tidepool/internal/services/locator"
	"tidepool/internal/services/poolstate"
	"tidepool/internal/services/quote"
	"tidepool/internal/services/reconciler"
	"tidepool/internal/web"
)

func main() {
	cfg, err := config.Get()
	if err != nil {
		log.Fatal(err)
	}

	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatal(err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	backend := ledger.NewSim(logger.Named("ledger"))
	defer backend.Close()

	loc, err := locator.New(locator.Config{
		WALDir:   cfg.WALDir,
		Network:  cfg.Network,
		CacheTTL: cfg.LocatorCacheTTL,
	}, backend, logger.Named("locator"))
	if err != nil {
		logger.Fatal("failed to create locator", zap.Error(err))
	}
	defer loc.Close()

	for _, e := range cfg.Registry {
		loc.Register(domain.CoinType(e.CoinA), domain.CoinType(e.CoinB), domain.PoolID(e.PoolID))
	}

	reader := poolstate.NewReader(backend, cfg.PoolCacheTTL, logger.Named("poolstate"))
	quotes := quote.NewEngine(loc, reader, domain.CoinType(cfg.BridgeCoin), logger.Named("quote"))
	pools := liquidity.NewService(backend, loc, reader, logger.Named("liquidity"))

	for _, g := range cfg.GenesisPools {
		if _, err := pools.CreatePool(ctx, domain.CoinType(g.CoinA), domain.CoinType(g.CoinB), g.AmountA, g.AmountB); err != nil {
			logger.Fatal("failed to seed genesis pool", zap.Error(err),
				zap.String("coin_a", g.CoinA), zap.String("coin_b", g.CoinB))
		}
	}

	journal, err := dca.OpenJournal(cfg.WALDir)
	if err != nil {
		logger.Fatal("failed to open dca journal", zap.Error(err))
	}
	defer journal.Close()

	engine := dca.NewEngine(backend, loc, reader, quotes, journal, logger.Named("dca"))

	for _, spec := range cfg.Strategies {
		params, err := spec.Params()
		if err != nil {
			logger.Fatal("invalid strategy spec", zap.Error(err), zap.String("name", spec.Name))
		}
		if _, err := engine.Create(ctx, params, spec.Funding); err != nil {
			logger.Fatal("failed to create strategy", zap.Error(err), zap.String("name", spec.Name))
		}
	}

	rec := reconciler.New(backend.Events(), loc, reader, journal, logger.Named("reconciler"))
	go func() {
		if err := rec.Run(ctx); err != nil && ctx.Err() == nil {
			logger.Error("reconciler stopped", zap.Error(err))
		}
	}()

	scheduler := dca.NewScheduler(engine, cfg.PollInterval, logger.Named("scheduler"))
	go func() {
		if err := scheduler.Run(ctx); err != nil && ctx.Err() == nil {
			logger.Error("scheduler stopped", zap.Error(err))
		}
	}()

	server := web.NewServer(cfg.ListenAddr, engine, reader, logger.Named("web"))
	if err := server.Start(ctx); err != nil {
		logger.Fatal("status server failed", zap.Error(err))
	}
}
