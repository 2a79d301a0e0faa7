// Package service реализует бизнес-логику сервиса призового пула:
// регистрацию вкладчиков, операции с пулом и журналирование.
package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"math"
	"time"

	"go.uber.org/zap"

	"github.com/ndmitriev/prizepool-system/internal/model"
	"github.com/ndmitriev/prizepool-system/internal/pool"
	"github.com/ndmitriev/prizepool-system/internal/repository"
	"github.com/ndmitriev/prizepool-system/internal/yieldsource"
)

// ErrNoSimulatedVault возвращается при попытке начислить симулируемую
// доходность сервису, подключённому к внешнему источнику.
var ErrNoSimulatedVault = errors.New("yield source is external")

// ErrInvalidCredentials возвращается при неверной паре логин/пароль.
var ErrInvalidCredentials = errors.New("invalid credentials")

// Repository описывает контракт доступа к данным, используемый сервисом.
type Repository interface {
	Close() error
	CreateUser(ctx context.Context, login string, passwordHash []byte) (int64, error)
	GetUserByLogin(ctx context.Context, login string) (*model.User, error)
	RecordOperation(ctx context.Context, userID int64, opType model.OperationType, amountCents int64) error
	GetOperationsByUser(ctx context.Context, userID int64) ([]model.Operation, error)
	RecordDrawStarted(ctx context.Context, round uint64, prizeCents int64, requestID string) error
	RecordDrawCompleted(ctx context.Context, round uint64) error
	RecordWinner(ctx context.Context, round uint64, winnerID, amountCents int64, nftIDs []uint64) error
	GetRecentWinners(ctx context.Context, limit int) ([]repository.DrawWinner, error)
	RecordStateTransition(ctx context.Context, state model.PoolState, reason string) error
}

// Service содержит бизнес-логику сервиса призового пула.
type Service struct {
	repo Repository
	pool *pool.Pool
	log  *zap.Logger

	// simVault заполнен только при встроенном источнике доходности;
	// нужен административному начислению симулируемой доходности.
	simVault *yieldsource.SimulatedVault
}

// NewService создаёт новый сервис поверх пула и репозитория.
func NewService(repo Repository, p *pool.Pool, log *zap.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{
		repo: repo,
		pool: p,
		log:  log,
	}
}

// WithSimulatedVault подключает встроенный источник доходности для
// административного начисления.
func (s *Service) WithSimulatedVault(v *yieldsource.SimulatedVault) *Service {
	s.simVault = v
	return s
}

// AddSimulatedYield начисляет доходность встроенному источнику.
func (s *Service) AddSimulatedYield(amount float64) error {
	if s.simVault == nil {
		return ErrNoSimulatedVault
	}
	cents := toCents(amount)
	if cents <= 0 {
		return pool.ErrInvalidAmount
	}
	s.simVault.AddYield(cents)
	return nil
}

// SetTreasuryEnabled включает или отключает пересылку казначейской части.
// Включённый получатель журналирует каждую пересылку.
func (s *Service) SetTreasuryEnabled(enabled bool) {
	if enabled {
		s.pool.SetTreasuryRecipient(&treasuryRecorder{repo: s.repo, log: s.log})
	} else {
		s.pool.SetTreasuryRecipient(nil)
	}
}

// treasuryRecorder — получатель казначейской части, фиксирующий пересылки
// в журнале операций.
type treasuryRecorder struct {
	repo Repository
	log  *zap.Logger
}

func (t *treasuryRecorder) Forward(amount int64) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := t.repo.RecordOperation(ctx, 0, model.OperationTreasury, amount); err != nil {
		t.log.Warn("treasury journal failed", zap.Error(err))
	}
	return nil
}

// Close закрывает ресурсы сервиса.
func (s *Service) Close() error {
	if s.repo != nil {
		return s.repo.Close()
	}
	return nil
}

// RegisterUser регистрирует нового пользователя.
func (s *Service) RegisterUser(ctx context.Context, login, password string) (int64, error) {
	hashed := hashPassword(login, password)
	id, err := s.repo.CreateUser(ctx, login, hashed)
	if err != nil {
		if errors.Is(err, repository.ErrUserExists) {
			return 0, repository.ErrUserExists
		}
		return 0, err
	}
	return id, nil
}

// AuthenticateUser проверяет логин и пароль пользователя и возвращает его идентификатор.
func (s *Service) AuthenticateUser(ctx context.Context, login, password string) (int64, error) {
	u, err := s.repo.GetUserByLogin(ctx, login)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return 0, ErrInvalidCredentials
		}
		return 0, err
	}

	hashed := hashPassword(login, password)
	if hex.EncodeToString(hashed) != hex.EncodeToString(u.PasswordHash) {
		return 0, ErrInvalidCredentials
	}

	return u.ID, nil
}

func hashPassword(login, password string) []byte {
	sum := sha256.Sum256([]byte(login + ":" + password))
	return sum[:]
}

// toCents переводит сумму из единиц актива в базовые единицы учёта.
func toCents(amount float64) int64 {
	return int64(math.Round(amount * 100))
}

// Deposit вносит депозит пользователя в пул и журналирует операцию.
func (s *Service) Deposit(ctx context.Context, userID int64, amount float64) error {
	cents := toCents(amount)
	if err := s.pool.Deposit(userID, cents); err != nil {
		return err
	}
	if err := s.repo.RecordOperation(ctx, userID, model.OperationDeposit, cents); err != nil {
		s.log.Warn("deposit journal failed", zap.Int64("userID", userID), zap.Error(err))
	}
	return nil
}

// Withdraw выводит средства пользователя из пула. Нулевой фактический итог
// при неликвидном источнике — успешный результат, журналируемый отдельным
// типом операции.
func (s *Service) Withdraw(ctx context.Context, userID int64, amount float64) (model.WithdrawalResult, error) {
	result, err := s.pool.Withdraw(userID, toCents(amount))
	if err != nil {
		return result, err
	}

	opType := model.OperationWithdraw
	if result.Actual == 0 {
		opType = model.OperationWithdrawFailed
	}
	if err := s.repo.RecordOperation(ctx, userID, opType, result.Actual); err != nil {
		s.log.Warn("withdrawal journal failed", zap.Int64("userID", userID), zap.Error(err))
	}
	return result, nil
}

// GetBalance возвращает состояние вкладчика в пуле.
func (s *Service) GetBalance(ctx context.Context, userID int64) (*model.Balance, error) {
	balance, err := s.pool.BalanceOf(userID)
	if err != nil {
		return nil, err
	}
	return &balance, nil
}

// GetOperationsByUser возвращает журнал операций пользователя.
func (s *Service) GetOperationsByUser(ctx context.Context, userID int64) ([]model.Operation, error) {
	return s.repo.GetOperationsByUser(ctx, userID)
}

// ProcessRewards собирает и распределяет накопленную доходность.
func (s *Service) ProcessRewards(ctx context.Context) (model.DistributionPlan, error) {
	plan, err := s.pool.ProcessRewards()
	if err != nil {
		return plan, err
	}
	if plan.Total() > 0 {
		if err := s.repo.RecordOperation(ctx, 0, model.OperationYield, plan.Total()); err != nil {
			s.log.Warn("yield journal failed", zap.Error(err))
		}
	}
	return plan, nil
}

// StartDraw начинает розыгрыш и фиксирует раунд в хранилище.
func (s *Service) StartDraw(ctx context.Context) (model.PrizeDrawReceipt, error) {
	receipt, err := s.pool.StartDraw()
	if err != nil {
		return receipt, err
	}
	if err := s.repo.RecordDrawStarted(ctx, receipt.Round, receipt.PrizeAmount, receipt.RequestID); err != nil {
		s.log.Warn("draw round journal failed", zap.Uint64("round", receipt.Round), zap.Error(err))
	}
	return receipt, nil
}

// CompleteDraw завершает розыгрыш и фиксирует итог раунда.
func (s *Service) CompleteDraw(ctx context.Context) (model.DrawOutcome, error) {
	outcome, err := s.pool.CompleteDraw()
	if err != nil {
		return outcome, err
	}
	if err := s.repo.RecordDrawCompleted(ctx, outcome.Round); err != nil {
		s.log.Warn("draw completion journal failed", zap.Uint64("round", outcome.Round), zap.Error(err))
	}
	for i, winnerID := range outcome.Winners {
		if err := s.repo.RecordOperation(ctx, winnerID, model.OperationPrize, outcome.Amounts[i]); err != nil {
			s.log.Warn("prize journal failed", zap.Int64("winnerID", winnerID), zap.Error(err))
		}
	}
	return outcome, nil
}

// CheckEmergency прогоняет автоматические переходы аварийного механизма.
func (s *Service) CheckEmergency(ctx context.Context) model.PoolState {
	before := s.pool.EmergencyInfo().State
	after := s.pool.CheckEmergency()
	if after != before {
		if err := s.repo.RecordStateTransition(ctx, after, "automatic transition"); err != nil {
			s.log.Warn("state transition journal failed", zap.Error(err))
		}
	}
	return after
}

// SetEmergencyState выполняет ручной переход состояния пула с аудитом.
func (s *Service) SetEmergencyState(ctx context.Context, state model.PoolState, reason string) error {
	if err := s.pool.SetEmergencyState(state, reason); err != nil {
		return err
	}
	if err := s.repo.RecordStateTransition(ctx, state, reason); err != nil {
		s.log.Warn("state transition journal failed", zap.Error(err))
	}
	return nil
}

// Stats возвращает агрегированную статистику пула.
func (s *Service) Stats() model.PoolStats { return s.pool.Stats() }

// DrawStatus возвращает состояние протокола розыгрыша.
func (s *Service) DrawStatus() model.DrawStatus { return s.pool.DrawStatus() }

// EmergencyInfo возвращает состояние аварийного механизма.
func (s *Service) EmergencyInfo() model.EmergencyInfo { return s.pool.EmergencyInfo() }

// TreasuryStats возвращает статистику казначейской части.
func (s *Service) TreasuryStats() model.TreasuryStats { return s.pool.TreasuryStats() }

// PreviewDeposit возвращает количество долей за депозит по текущему курсу.
func (s *Service) PreviewDeposit(amount float64) (int64, error) {
	return s.pool.PreviewDeposit(toCents(amount))
}

// GetRecentWinners возвращает последних победителей розыгрышей.
func (s *Service) GetRecentWinners(ctx context.Context, limit int) ([]repository.DrawWinner, error) {
	return s.repo.GetRecentWinners(ctx, limit)
}

// PendingNFTs возвращает NFT-призы пользователя, ожидающие получения.
func (s *Service) PendingNFTs(userID int64) []model.NFTPrize {
	return s.pool.PendingNFTs(userID)
}

// ClaimPendingNFT выдаёт пользователю выигранный NFT по индексу очереди.
func (s *Service) ClaimPendingNFT(userID int64, index int) (model.NFTPrize, error) {
	return s.pool.ClaimPendingNFT(userID, index)
}

// AvailableNFTPrizeIDs возвращает идентификаторы NFT в призовом эскроу.
func (s *Service) AvailableNFTPrizeIDs() []uint64 {
	return s.pool.AvailableNFTPrizeIDs()
}

// FundPrizePool зачисляет спонсорское финансирование в призовое хранилище.
func (s *Service) FundPrizePool(amount float64) error {
	return s.pool.FundPrizePool(toCents(amount))
}

// DepositNFTPrize помещает NFT в призовой эскроу.
func (s *Service) DepositNFTPrize(prize model.NFTPrize) error {
	return s.pool.DepositNFTPrize(prize)
}

// WithdrawNFTPrize изымает NFT из призового эскроу.
func (s *Service) WithdrawNFTPrize(id uint64) (model.NFTPrize, error) {
	return s.pool.WithdrawNFTPrize(id)
}

// SetBonusWeight задаёт бонусный лотерейный вес получателя.
func (s *Service) SetBonusWeight(userID, weight int64) error {
	return s.pool.SetBonusWeight(userID, weight)
}

// SetDrawInterval изменяет минимальный интервал между розыгрышами.
func (s *Service) SetDrawInterval(interval time.Duration) error {
	return s.pool.SetDrawInterval(interval)
}

// WinnerRecorder адаптирует репозиторий к приёмнику победителей пула.
type WinnerRecorder struct {
	repo Repository
}

// NewWinnerRecorder создаёт приёмник победителей поверх репозитория.
func NewWinnerRecorder(repo Repository) *WinnerRecorder {
	return &WinnerRecorder{repo: repo}
}

// RecordWinner сохраняет победителя раунда с коротким собственным таймаутом:
// запись не должна удерживать блокировку пула дольше необходимого.
func (w *WinnerRecorder) RecordWinner(round uint64, winnerID, amount int64, nftIDs []uint64) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return w.repo.RecordWinner(ctx, round, winnerID, amount, nftIDs)
}
