package pool

import (
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/ndmitriev/prizepool-system/internal/model"
	"github.com/ndmitriev/prizepool-system/internal/strategy"
)

// Stats возвращает агрегированную статистику пула в единицах актива.
func (p *Pool) Stats() model.PoolStats {
	p.mu.Lock()
	defer p.mu.Unlock()

	return model.PoolStats{
		State:               p.emergency.State(),
		TotalDeposited:      float64(p.totalDeposited) / 100,
		TotalStaked:         float64(p.totalStaked) / 100,
		PendingLotteryYield: float64(p.pendingLotteryYield) / 100,
		PrizeVault:          float64(p.lottery.Vault()) / 100,
		RegisteredUserCount: len(p.registered),
		Round:               p.round,
	}
}

// DrawStatus возвращает состояние протокола розыгрыша.
func (p *Pool) DrawStatus() model.DrawStatus {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.now()
	next := p.lastDrawTime.Add(p.cfg.DrawInterval)
	return model.DrawStatus{
		IsDrawInProgress: p.receipt != nil,
		CanDrawNow: p.receipt == nil &&
			p.emergency.State() == model.PoolStateNormal &&
			!now.Before(next),
		Round:        p.round,
		LastDrawTime: p.lastDrawTime,
		NextDrawTime: next,
	}
}

// EmergencyInfo возвращает состояние аварийного механизма.
func (p *Pool) EmergencyInfo() model.EmergencyInfo {
	p.mu.Lock()
	defer p.mu.Unlock()

	cfg := p.emergency.Config()
	state := p.emergency.State()
	info := model.EmergencyInfo{
		State:               state,
		IsNormal:            state == model.PoolStateNormal,
		HealthScore:         p.emergency.HealthScore(p.source.Balance(), p.totalStaked),
		ConsecutiveFailures: p.emergency.ConsecutiveFailures(),
		Reason:              p.emergency.Reason(),
		AutoRecoveryEnabled: cfg.AutoRecoveryEnabled,
	}
	if state != model.PoolStateNormal {
		info.EnteredAt = p.emergency.EnteredAt()
	}
	if state == model.PoolStatePartial {
		info.PartialModeDepositCap = float64(cfg.PartialModeDepositCap) / 100
	}
	return info
}

// TreasuryStats возвращает статистику казначейской части доходности.
func (p *Pool) TreasuryStats() model.TreasuryStats {
	p.mu.Lock()
	defer p.mu.Unlock()

	return model.TreasuryStats{
		HasRecipient:   p.treasury != nil,
		TotalForwarded: float64(p.totalTreasuryForwarded) / 100,
	}
}

// BalanceOf возвращает состояние вкладчика: стоимость долей, количество
// долей и суммарные выигрыши за всё время.
func (p *Pool) BalanceOf(userID int64) (model.Balance, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	redeemable, err := p.savings.RedeemableValue(userID)
	if err != nil {
		return model.Balance{}, fmt.Errorf("redeemable value: %w", err)
	}
	return model.Balance{
		Deposits:       float64(p.principal[userID]) / 100,
		ShareValue:     float64(redeemable) / 100,
		Shares:         p.savings.Shares(userID),
		LifetimePrizes: float64(p.lifetimePrizes[userID]) / 100,
	}, nil
}

// IsRegistered сообщает, вносил ли получатель хотя бы один депозит.
func (p *Pool) IsRegistered(userID int64) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.registered[userID]
}

// PendingNFTs возвращает очередь NFT-призов, ожидающих получения.
func (p *Pool) PendingNFTs(userID int64) []model.NFTPrize {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lottery.PendingNFTs(userID)
}

// ClaimPendingNFT выдаёт получателю выигранный NFT по индексу очереди.
func (p *Pool) ClaimPendingNFT(userID int64, index int) (model.NFTPrize, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lottery.ClaimPendingNFT(userID, index)
}

// AvailableNFTPrizeIDs возвращает идентификаторы NFT в призовом эскроу.
func (p *Pool) AvailableNFTPrizeIDs() []uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lottery.AvailableNFTIDs()
}

// SetEmergencyState выполняет ручной переход аварийного состояния.
func (p *Pool) SetEmergencyState(state model.PoolState, reason string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.emergency.SetState(state, reason, p.now()); err != nil {
		return err
	}
	p.log.Warn("pool state changed manually",
		zap.String("state", string(state)),
		zap.String("reason", reason),
	)
	return nil
}

// FundPrizePool зачисляет спонсорское финансирование в призовое хранилище.
func (p *Pool) FundPrizePool(amount int64) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if amount <= 0 {
		return ErrInvalidAmount
	}
	p.lottery.FundPrizePool(amount)
	p.log.Info("prize pool funded", zap.Int64("amount", amount))
	return nil
}

// DepositNFTPrize помещает NFT в призовой эскроу.
func (p *Pool) DepositNFTPrize(prize model.NFTPrize) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lottery.DepositNFTPrize(prize)
}

// WithdrawNFTPrize изымает NFT из призового эскроу.
func (p *Pool) WithdrawNFTPrize(id uint64) (model.NFTPrize, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lottery.WithdrawNFTPrize(id)
}

// SetTreasuryRecipient настраивает получателя казначейской части.
// Nil-получатель отключает пересылку: казначейская часть остаётся в
// источнике доходности до следующей настройки.
func (p *Pool) SetTreasuryRecipient(recipient TreasuryRecipient) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.treasury = recipient
	p.log.Info("treasury recipient updated", zap.Bool("hasRecipient", recipient != nil))
}

// SetBonusWeight задаёт бонусный лотерейный вес получателя; ноль удаляет запись.
func (p *Pool) SetBonusWeight(userID, weight int64) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if weight < 0 {
		return ErrInvalidAmount
	}
	if weight == 0 {
		delete(p.bonusWeight, userID)
	} else {
		p.bonusWeight[userID] = weight
	}
	p.log.Info("bonus weight updated", zap.Int64("userID", userID), zap.Int64("weight", weight))
	return nil
}

// SetDrawInterval изменяет минимальный интервал между розыгрышами.
func (p *Pool) SetDrawInterval(interval time.Duration) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if interval <= 0 {
		return fmt.Errorf("%w: interval must be positive", ErrInvalidAmount)
	}
	p.cfg.DrawInterval = interval
	p.log.Info("draw interval updated", zap.Duration("interval", interval))
	return nil
}

// SetWinnerStrategy заменяет стратегию выбора победителей. Уже начатый
// розыгрыш завершится новой стратегией: снимок ставок и приз зафиксированы
// квитанцией, стратегия применяется только в CompleteDraw.
func (p *Pool) SetWinnerStrategy(s strategy.WinnerSelectionStrategy) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if s == nil {
		return fmt.Errorf("winner strategy must not be nil")
	}
	p.winners = s
	p.log.Info("winner selection strategy replaced")
	return nil
}

// SetDistributionStrategy заменяет стратегию распределения доходности.
func (p *Pool) SetDistributionStrategy(s strategy.DistributionStrategy) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if s == nil {
		return fmt.Errorf("distribution strategy must not be nil")
	}
	p.dist = s
	p.log.Info("distribution strategy replaced")
	return nil
}
