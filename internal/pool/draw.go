package pool

import (
	"errors"
	"fmt"

	"github.com/holiman/uint256"
	"go.uber.org/zap"

	"github.com/ndmitriev/prizepool-system/internal/model"
	"github.com/ndmitriev/prizepool-system/internal/randomness"
)

// StartDraw начинает розыгрыш: регистрирует запрос случайности,
// материализует отложенную лотерейную доходность в призовое хранилище,
// фиксирует снимок взвешенных по времени ставок с учётом бонусных весов и
// открывает новую эпоху без зазора. Возвращает копию квитанции розыгрыша.
func (p *Pool) StartDraw() (model.PrizeDrawReceipt, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.receipt != nil {
		return model.PrizeDrawReceipt{}, ErrDrawInProgress
	}
	if state := p.emergency.State(); state != model.PoolStateNormal {
		return model.PrizeDrawReceipt{}, fmt.Errorf("%w: state %s", ErrDrawNotAllowed, state)
	}
	now := p.now()
	if now.Before(p.lastDrawTime.Add(p.cfg.DrawInterval)) {
		return model.PrizeDrawReceipt{}, fmt.Errorf("%w: next draw at %s",
			ErrDrawIntervalNotElapsed, p.lastDrawTime.Add(p.cfg.DrawInterval))
	}

	// Перепроверка аварийного срабатывания непосредственно перед розыгрышем:
	// деградировавший пул не должен раздавать призы.
	if p.emergency.CheckAutoTrigger(p.source.Balance(), p.totalStaked, now) {
		p.log.Warn("draw aborted: emergency mode auto-triggered", zap.String("reason", p.emergency.Reason()))
		return model.PrizeDrawReceipt{}, ErrEmergencyTriggered
	}

	// Заведомо пустой призовой фонд отклоняется до любых побочных эффектов.
	if p.lottery.Vault() <= 0 && p.pendingLotteryYield <= 0 {
		return model.PrizeDrawReceipt{}, ErrEmptyPrizePool
	}

	// Случайность запрашивается до материализации: отказ оракула оставляет
	// реестр нетронутым.
	requestID, err := p.random.RequestRandomness()
	if err != nil {
		return model.PrizeDrawReceipt{}, fmt.Errorf("request randomness: %w", err)
	}

	// Материализация отложенной лотерейной доходности в призовое хранилище.
	// При неликвидном источнике и пустом хранилище попытка отклоняется:
	// реестр не изменился, невостребованный запрос случайности истекает
	// на стороне оракула.
	if p.pendingLotteryYield > 0 {
		actual := p.source.WithdrawAvailable(p.pendingLotteryYield)
		p.lottery.FundPrizePool(actual)
		p.pendingLotteryYield -= actual
	}
	prize := p.lottery.Vault()
	if prize <= 0 {
		return model.PrizeDrawReceipt{}, ErrEmptyPrizePool
	}

	epochStart := p.savings.EpochStart()
	stakes := p.savings.SnapshotStakes(now)

	// Бонусный вес масштабируется длительностью завершаемой эпохи: он
	// соизмерим со ставкой вкладчика, державшего столько же долей всю эпоху.
	if duration := now.Unix() - epochStart.Unix(); duration > 0 {
		for userID, weight := range p.bonusWeight {
			if weight <= 0 || !p.registered[userID] {
				continue
			}
			bonus := new(uint256.Int).Mul(
				uint256.NewInt(uint64(weight)),
				uint256.NewInt(uint64(duration)),
			)
			if stake, ok := stakes[userID]; ok {
				stake.Add(stake, bonus)
			} else {
				stakes[userID] = bonus
			}
		}
	}

	// Новая эпоха открывается тем же моментом: зазора, в котором время
	// не учитывается ни одной эпохой, не существует.
	p.savings.StartNewPeriod(now)

	p.round++
	p.lastDrawTime = now
	p.receipt = &model.PrizeDrawReceipt{
		Round:       p.round,
		PrizeAmount: prize,
		Stakes:      stakes,
		RequestID:   requestID,
		RequestedAt: now,
		NFTIDs:      p.lottery.AvailableNFTIDs(),
	}

	p.log.Info("draw started",
		zap.Uint64("round", p.round),
		zap.Int64("prize", prize),
		zap.Int("participants", len(stakes)),
		zap.String("requestID", requestID),
	)
	return *p.receipt, nil
}

// CompleteDraw завершает розыгрыш: раскрывает случайность, выбирает
// победителей и зачисляет призы как новые компаундирующие депозиты.
// Пока случайность не финализирована, квитанция сохраняется и вызов можно
// повторять; пустой список победителей всё равно закрывает раунд.
func (p *Pool) CompleteDraw() (model.DrawOutcome, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.receipt == nil {
		return model.DrawOutcome{}, ErrNoDrawInProgress
	}

	value, err := p.random.FulfillRandomRequest(p.receipt.RequestID)
	if err != nil {
		if errors.Is(err, randomness.ErrNotFinalized) {
			return model.DrawOutcome{}, fmt.Errorf("%w: round %d", err, p.receipt.Round)
		}
		return model.DrawOutcome{}, fmt.Errorf("fulfill randomness: %w", err)
	}

	// NFT могли быть изъяты администратором после начала розыгрыша:
	// стратегии предлагается только всё ещё доступное подмножество.
	available := make([]uint64, 0, len(p.receipt.NFTIDs))
	for _, id := range p.receipt.NFTIDs {
		if p.lottery.HasNFTPrize(id) {
			available = append(available, id)
		}
	}

	result, err := p.winners.SelectWinners(value, p.receipt.Stakes, p.receipt.PrizeAmount, available)
	if err != nil {
		// Ошибка стратегии детерминирована: повтор с той же случайностью не
		// поможет, поэтому раунд закрывается без выплат.
		round := p.receipt.Round
		p.receipt = nil
		p.log.Error("draw finalized without winners", zap.Uint64("round", round), zap.Error(err))
		return model.DrawOutcome{Round: round, CompletedAt: p.now()}, fmt.Errorf("select winners: %w", err)
	}

	now := p.now()
	outcome := model.DrawOutcome{
		Round:       p.receipt.Round,
		PrizeAmount: p.receipt.PrizeAmount,
		Winners:     result.Winners,
		Amounts:     result.Amounts,
		NFTIDs:      make([][]uint64, len(result.Winners)),
		CompletedAt: now,
	}

	for i, winnerID := range result.Winners {
		amount := result.Amounts[i]
		if amount > 0 {
			if err := p.awardCashPrizeLocked(winnerID, amount); err != nil {
				p.log.Error("cash prize award failed",
					zap.Uint64("round", outcome.Round),
					zap.Int64("winnerID", winnerID),
					zap.Int64("amount", amount),
					zap.Error(err),
				)
				outcome.Amounts[i] = 0
			}
		}

		var granted []uint64
		if i < len(result.NFTIDs) {
			granted = p.grantNFTsLocked(winnerID, result.NFTIDs[i])
		}
		outcome.NFTIDs[i] = granted

		if p.winnerSink != nil {
			if err := p.winnerSink.RecordWinner(outcome.Round, winnerID, outcome.Amounts[i], granted); err != nil {
				p.log.Warn("winner record failed", zap.Int64("winnerID", winnerID), zap.Error(err))
			}
		}
	}

	p.receipt = nil
	p.log.Info("draw completed",
		zap.Uint64("round", outcome.Round),
		zap.Int64("prize", outcome.PrizeAmount),
		zap.Int("winners", len(outcome.Winners)),
	)
	return outcome, nil
}

// awardCashPrizeLocked зачисляет денежный приз как новый депозит победителя:
// приз списывается с призового хранилища, чеканится в доли и возвращается
// в источник доходности, где продолжает компаундировать.
func (p *Pool) awardCashPrizeLocked(winnerID, amount int64) error {
	if _, err := p.lottery.AwardPrize(amount, nil); err != nil {
		return fmt.Errorf("award prize: %w", err)
	}
	if _, err := p.savings.Deposit(winnerID, amount, p.now()); err != nil {
		// Хранилище уже списано: приз возвращается обратно, раунд
		// продолжается для остальных победителей.
		p.lottery.FundPrizePool(amount)
		return fmt.Errorf("mint prize shares: %w", err)
	}

	p.source.DepositCapacity(amount)
	p.totalStaked += amount
	p.totalDeposited += amount
	p.principal[winnerID] += amount
	p.lifetimePrizes[winnerID] += amount
	p.registered[winnerID] = true
	return nil
}

// grantNFTsLocked переносит назначенные NFT из эскроу в очередь победителя,
// пропуская уже недоступные идентификаторы.
func (p *Pool) grantNFTsLocked(winnerID int64, ids []uint64) []uint64 {
	granted := make([]uint64, 0, len(ids))
	for _, id := range ids {
		prize, err := p.lottery.WithdrawNFTPrize(id)
		if err != nil {
			continue
		}
		p.lottery.StorePendingNFT(winnerID, prize)
		granted = append(granted, id)
	}
	return granted
}
