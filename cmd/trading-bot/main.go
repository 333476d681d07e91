package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"

	"github.com/brianpgerson/claude-moneymaker/internal/allocator"
	"github.com/brianpgerson/claude-moneymaker/internal/brain"
	"github.com/brianpgerson/claude-moneymaker/internal/config"
	"github.com/brianpgerson/claude-moneymaker/internal/engine"
	"github.com/brianpgerson/claude-moneymaker/internal/exchange"
	"github.com/brianpgerson/claude-moneymaker/internal/executor"
	"github.com/brianpgerson/claude-moneymaker/internal/logger"
	"github.com/brianpgerson/claude-moneymaker/internal/market"
	"github.com/brianpgerson/claude-moneymaker/internal/portfolio"
	"github.com/brianpgerson/claude-moneymaker/internal/postgres"
	"github.com/brianpgerson/claude-moneymaker/internal/server"
	"github.com/brianpgerson/claude-moneymaker/internal/store"
)

const _botCfgFilePath = "./configs/bot.yaml"

func main() {
	zapLogger, loggerSync, err := logger.NewZapLogger(logger.Info)
	if err != nil {
		log.Fatalf("%s: can't init logger", err)
	}
	defer loggerSync()

	if err := godotenv.Load(); err != nil {
		zapLogger.Warnf("can't detect .env file")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg, err := config.LoadBotConfig(_botCfgFilePath)
	if err != nil {
		zapLogger.Fatalf("%s: can't load bot cfg", err)
	}
	zapLogger.Infof("starting in %s mode, base currency %s", cfg.Mode, cfg.BaseCurrency)

	pgConfig := postgres.NewConfigFromEnv().Setup()
	zapLogger.Debugf("trying to connect to db with: %s", pgConfig)
	db, err := postgres.NewDB(pgConfig)
	if err != nil {
		zapLogger.Fatalf("%s: can't connect to db", err)
	}
	defer db.Close()

	botStore := store.NewStore(db, zapLogger)
	if err := botStore.InitSchema(ctx); err != nil {
		zapLogger.Fatalf("%s: can't init schema", err)
	}

	ledger := portfolio.NewLedger(botStore, cfg.BaseCurrency, cfg.InitialCapital, zapLogger)
	if err := ledger.Restore(ctx); err != nil {
		zapLogger.Fatalf("%s: can't restore portfolio", err)
	}

	binance := exchange.NewBinance(cfg.Exchange, cfg.BaseCurrency, zapLogger)
	exec := executor.NewExecutor(cfg.Mode, cfg.Trading, cfg.BaseCurrency, binance, zapLogger)
	defer exec.Close()

	marketProvider := market.NewProvider(binance, cfg.BaseCurrency, zapLogger)
	defer marketProvider.Close()

	decider, err := brain.NewBrain(ctx, cfg.Brain, cfg.Trading.MaxPositionPct, zapLogger)
	if err != nil {
		zapLogger.Fatalf("%s: can't create decision service", err)
	}

	capitalAllocator := allocator.NewCapitalAllocator(cfg.Allocator, botStore, zapLogger)
	capitalAllocator.RegisterStrategy(engine.StrategyBrain, 1.0)

	botEngine := engine.NewEngine(cfg, ledger, exec, marketProvider, decider, capitalAllocator, botStore, zapLogger)

	scheduler := cron.New()
	scheduler.Schedule(cron.Every(cfg.LoopInterval), cron.FuncJob(func() {
		summary, err := botEngine.RunCycle(ctx)
		if err != nil {
			zapLogger.Errorf("%s: cycle failed", err)
			return
		}
		zapLogger.Infof("cycle %d done: %d orders, total value %.2f %s, %d warnings",
			summary.Cycle, len(summary.Orders), summary.Portfolio.TotalValue, cfg.BaseCurrency, len(summary.Warnings))
		for _, w := range summary.Warnings {
			zapLogger.Warnf("cycle %d: %s", summary.Cycle, w)
		}
	}))
	scheduler.Start()

	httpServer := server.NewHTTPServer(ctx, cfg.ServerPort, server.NewStatusHandler(botEngine, capitalAllocator, botStore, zapLogger))
	go func() {
		zapLogger.Infof("status server listening on :%s", cfg.ServerPort)
		if err := httpServer.Run(ctx); err != nil {
			zapLogger.Errorf("%s: http server stopped", err)
		}
	}()

	<-ctx.Done()
	zapLogger.Infof("start graceful shutdown")

	stopCtx := scheduler.Stop()
	select {
	case <-stopCtx.Done():
	case <-time.After(30 * time.Second):
		zapLogger.Warnf("gave up waiting for running cycle")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := botEngine.Close(shutdownCtx); err != nil {
		zapLogger.Errorf("%s: can't write final snapshot", err)
	}
}
