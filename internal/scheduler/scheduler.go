// Package scheduler управляет периодическими задачами пула: обработкой
// доходности, запуском и завершением розыгрышей, проверкой здоровья.
package scheduler

import (
	"context"
	"errors"
	"fmt"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/ndmitriev/prizepool-system/internal/model"
	"github.com/ndmitriev/prizepool-system/internal/pool"
	"github.com/ndmitriev/prizepool-system/internal/randomness"
)

// Service — контракт бизнес-логики, управляемой планировщиком.
type Service interface {
	ProcessRewards(ctx context.Context) (model.DistributionPlan, error)
	StartDraw(ctx context.Context) (model.PrizeDrawReceipt, error)
	CompleteDraw(ctx context.Context) (model.DrawOutcome, error)
	CheckEmergency(ctx context.Context) model.PoolState
}

// Scheduler запускает периодические задачи пула по cron-расписаниям.
type Scheduler struct {
	cron *cron.Cron
	svc  Service
	log  *zap.Logger
	ctx  context.Context
}

// New создаёт планировщик поверх сервиса.
func New(ctx context.Context, svc Service, log *zap.Logger) *Scheduler {
	if log == nil {
		log = zap.NewNop()
	}
	return &Scheduler{
		cron: cron.New(),
		svc:  svc,
		log:  log,
		ctx:  ctx,
	}
}

// RegisterAll регистрирует задачи по переданным cron-выражениям.
func (s *Scheduler) RegisterAll(rewardsSpec, drawSpec, healthSpec string) error {
	if _, err := s.cron.AddFunc(rewardsSpec, s.rewardsTask); err != nil {
		return fmt.Errorf("register rewards task: %w", err)
	}
	if _, err := s.cron.AddFunc(drawSpec, s.drawTask); err != nil {
		return fmt.Errorf("register draw task: %w", err)
	}
	if _, err := s.cron.AddFunc(healthSpec, s.healthTask); err != nil {
		return fmt.Errorf("register health task: %w", err)
	}
	return nil
}

// Start запускает планировщик.
func (s *Scheduler) Start() {
	s.cron.Start()
	s.log.Info("scheduler started")
}

// Stop останавливает планировщик, дожидаясь выполняющихся задач.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
	s.log.Info("scheduler stopped")
}

func (s *Scheduler) rewardsTask() {
	plan, err := s.svc.ProcessRewards(s.ctx)
	if err != nil {
		s.log.Error("rewards processing failed", zap.Error(err))
		return
	}
	if plan.Total() > 0 {
		s.log.Info("rewards processed on schedule",
			zap.Int64("savings", plan.Savings),
			zap.Int64("lottery", plan.Lottery),
			zap.Int64("treasury", plan.Treasury),
		)
	}
}

// drawTask ведёт двухфазный протокол розыгрыша: сначала пытается завершить
// незавершённый розыгрыш, затем начать новый. Ожидаемые состояния протокола
// (интервал не истёк, случайность не финализирована, нет незавершённого
// розыгрыша) не считаются ошибками.
func (s *Scheduler) drawTask() {
	outcome, err := s.svc.CompleteDraw(s.ctx)
	switch {
	case err == nil:
		s.log.Info("draw completed on schedule",
			zap.Uint64("round", outcome.Round),
			zap.Int("winners", len(outcome.Winners)),
		)
		return
	case errors.Is(err, pool.ErrNoDrawInProgress):
	case errors.Is(err, randomness.ErrNotFinalized):
		// Случайность ещё не раскрыта: попытка повторится следующим тиком.
		return
	default:
		s.log.Error("draw completion failed", zap.Error(err))
		return
	}

	receipt, err := s.svc.StartDraw(s.ctx)
	switch {
	case err == nil:
		s.log.Info("draw started on schedule",
			zap.Uint64("round", receipt.Round),
			zap.Int64("prize", receipt.PrizeAmount),
		)
	case errors.Is(err, pool.ErrDrawIntervalNotElapsed),
		errors.Is(err, pool.ErrEmptyPrizePool),
		errors.Is(err, pool.ErrDrawNotAllowed),
		errors.Is(err, pool.ErrDrawInProgress):
	default:
		s.log.Error("draw start failed", zap.Error(err))
	}
}

func (s *Scheduler) healthTask() {
	state := s.svc.CheckEmergency(s.ctx)
	if state != model.PoolStateNormal {
		s.log.Warn("pool is degraded", zap.String("state", string(state)))
	}
}
