// Package main запускает HTTP-сервер сервиса призового пула.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ndmitriev/prizepool-system/internal/config"
	"github.com/ndmitriev/prizepool-system/internal/emergency"
	"github.com/ndmitriev/prizepool-system/internal/handler"
	"github.com/ndmitriev/prizepool-system/internal/middleware"
	"github.com/ndmitriev/prizepool-system/internal/pool"
	"github.com/ndmitriev/prizepool-system/internal/randomness"
	"github.com/ndmitriev/prizepool-system/internal/repository"
	"github.com/ndmitriev/prizepool-system/internal/scheduler"
	"github.com/ndmitriev/prizepool-system/internal/service"
	"github.com/ndmitriev/prizepool-system/internal/strategy"
	"github.com/ndmitriev/prizepool-system/internal/yieldsource"
)

func main() {
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	sugar := logger.Sugar()

	cfg, err := config.Parse()
	if err != nil {
		sugar.Fatalw("configuration error", "error", err.Error())
	}

	repo, err := repository.NewPostgresRepository(cfg.DatabaseURI)
	if err != nil {
		sugar.Fatalw("database initialization error", "error", err.Error())
	}
	defer repo.Close()

	// Внешний источник доходности подключается по адресу; без адреса
	// используется встроенное симулируемое хранилище.
	var source yieldsource.Source
	var simVault *yieldsource.SimulatedVault
	if cfg.YieldSourceAddress != "" {
		source = yieldsource.NewClient(cfg.YieldSourceAddress)
	} else {
		simVault = yieldsource.NewSimulatedVault()
		source = simVault
	}

	var random randomness.Source
	if cfg.RandomnessAddress != "" {
		random = randomness.NewClient(cfg.RandomnessAddress)
	} else {
		random = randomness.NewBlockSource(time.Duration(cfg.BlockIntervalSec) * time.Second)
	}

	dist, err := strategy.NewFixedRatioDistribution(cfg.SavingsPercent, cfg.LotteryPercent, cfg.TreasuryPercent)
	if err != nil {
		sugar.Fatalw("distribution configuration error", "error", err.Error())
	}

	p := pool.New(
		pool.Config{
			MinDeposit:   int64(cfg.MinDeposit * 100),
			DrawInterval: cfg.DrawInterval,
		},
		pool.Options{
			Logger:       logger,
			Source:       source,
			Random:       random,
			Distribution: dist,
			Winners:      strategy.NewWeightedSingleWinner(),
			Emergency:    emergency.DefaultConfig(),
			WinnerSink:   service.NewWinnerRecorder(repo),
		},
	)

	svc := service.NewService(repo, p, logger)
	if simVault != nil {
		svc.WithSimulatedVault(simVault)
	}
	defer svc.Close()

	authMiddleware := middleware.NewAuthMiddleware(cfg.AuthSecret)
	h := handler.NewHandler(svc, logger, authMiddleware, cfg.AdminKey)

	r := h.SetupRouter()

	server := &http.Server{
		Addr:    cfg.RunAddress,
		Handler: r,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	sched := scheduler.New(ctx, svc, logger)
	if err := sched.RegisterAll(cfg.RewardsCron, cfg.DrawCron, cfg.HealthCheckCron); err != nil {
		sugar.Fatalw("scheduler configuration error", "error", err.Error())
	}

	g, ctx := errgroup.WithContext(ctx)

	// Запуск планировщика периодических задач
	g.Go(func() error {
		sched.Start()
		<-ctx.Done()
		sched.Stop()
		return nil
	})

	// Запуск HTTP-сервера
	g.Go(func() error {
		sugar.Infow("starting prizepool server", "addr", cfg.RunAddress)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	// Graceful shutdown при отмене контекста (сигнал или ошибка в другой горутине)
	g.Go(func() error {
		<-ctx.Done()
		sugar.Info("shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown error: %w", err)
		}
		sugar.Info("server stopped gracefully")
		return nil
	})

	if err := g.Wait(); err != nil {
		sugar.Fatalw("application terminated with error", "error", err)
	}
}
