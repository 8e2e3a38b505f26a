package app

import (
	"context"
	"fmt"
	"path/filepath"

	"backlab/internal/api"
	"backlab/internal/backtest"
	blcfg "backlab/internal/config"
	"backlab/internal/logger"
	"backlab/internal/market"
	"backlab/internal/strategy"

	"golang.org/x/sync/errgroup"
)

// App wires the platform: config, stores, market data service, backtest
// runner and the HTTP API.
type App struct {
	cfg        *blcfg.Config
	candles    *market.Store
	strategies *strategy.Store
	results    *backtest.ResultStore
	svc        *market.Service
	runner     *backtest.Runner
	server     *api.Server
}

func NewApp(cfg *blcfg.Config) (*App, error) {
	if cfg == nil {
		return nil, fmt.Errorf("nil config")
	}
	logger.SetLevel(cfg.App.LogLevel)

	candleStore, err := market.NewStore(filepath.Join(cfg.Data.Root, "candles"))
	if err != nil {
		return nil, fmt.Errorf("candle store: %w", err)
	}
	strategyStore, err := strategy.NewStore(filepath.Join(cfg.Data.Root, "strategies.db"))
	if err != nil {
		return nil, fmt.Errorf("strategy store: %w", err)
	}
	resultStore, err := backtest.NewResultStore(filepath.Join(cfg.Data.Root, "backtests.db"))
	if err != nil {
		return nil, fmt.Errorf("result store: %w", err)
	}

	binance := market.NewBinanceSource(market.BinanceConfig{
		BaseURL:     cfg.Binance.BaseURL,
		HTTPTimeout: cfg.Binance.HTTPTimeout,
	})
	svc, err := market.NewService(market.ServiceConfig{
		Store:           candleStore,
		Sources:         map[string]market.CandleSource{binance.Name(): binance},
		DefaultExchange: binance.Name(),
		RateLimitPerMin: cfg.Binance.RateLimitPerMin,
		MaxBatch:        cfg.Binance.MaxBatch,
		MaxConcurrent:   cfg.Binance.MaxConcurrent,
	})
	if err != nil {
		return nil, fmt.Errorf("market service: %w", err)
	}

	hub := backtest.NewHub()
	engine := backtest.NewEngine(resultStore, strategyStore, svc, hub)
	runner := backtest.NewRunner(engine, resultStore, backtest.RunnerConfig{
		MaxConcurrent: cfg.Backtest.MaxConcurrent,
		RunTimeout:    cfg.Backtest.RunTimeout,
		QueueBackoff:  cfg.Backtest.QueueBackoff,
	})

	server, err := api.NewServer(api.Config{
		Addr:       cfg.Server.Addr,
		Strategies: strategyStore,
		Market:     svc,
		Results:    resultStore,
		Runner:     runner,
		Hub:        hub,
	})
	if err != nil {
		return nil, fmt.Errorf("http server: %w", err)
	}

	return &App{
		cfg:        cfg,
		candles:    candleStore,
		strategies: strategyStore,
		results:    resultStore,
		svc:        svc,
		runner:     runner,
		server:     server,
	}, nil
}

// Run starts the HTTP server and requeues interrupted runs, blocking
// until ctx is canceled or a component fails.
func (a *App) Run(ctx context.Context) error {
	if a == nil || a.cfg == nil {
		return fmt.Errorf("app not initialized")
	}
	group, ctx := errgroup.WithContext(ctx)
	a.svc.SetContext(ctx)
	a.runner.SetContext(ctx)

	if err := a.runner.ResumePending(ctx); err != nil {
		logger.Warnf("[app] requeue of interrupted runs failed: %v", err)
	}

	group.Go(func() error {
		if err := a.server.Start(ctx); err != nil {
			return fmt.Errorf("http server error: %w", err)
		}
		return nil
	})
	group.Go(func() error {
		<-ctx.Done()
		a.runner.Wait()
		return nil
	})

	err := group.Wait()
	a.close()
	return err
}

func (a *App) close() {
	if err := a.candles.Close(); err != nil {
		logger.Warnf("[app] closing candle store: %v", err)
	}
	if err := a.strategies.Close(); err != nil {
		logger.Warnf("[app] closing strategy store: %v", err)
	}
	if err := a.results.Close(); err != nil {
		logger.Warnf("[app] closing result store: %v", err)
	}
}
