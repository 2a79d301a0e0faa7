package pool

import (
	"errors"
	"testing"
	"time"

	"github.com/ndmitriev/prizepool-system/internal/emergency"
	"github.com/ndmitriev/prizepool-system/internal/model"
	"github.com/ndmitriev/prizepool-system/internal/randomness"
	"github.com/ndmitriev/prizepool-system/internal/savings"
	"github.com/ndmitriev/prizepool-system/internal/strategy"
	"github.com/ndmitriev/prizepool-system/internal/yieldsource"
)

// stubRandom — детерминированный источник случайности с управляемой
// финализацией.
type stubRandom struct {
	value      uint64
	finalized  bool
	requests   int
	requestErr error
}

func (s *stubRandom) RequestRandomness() (string, error) {
	if s.requestErr != nil {
		return "", s.requestErr
	}
	s.requests++
	return "req-1", nil
}

func (s *stubRandom) FulfillRandomRequest(string) (uint64, error) {
	if !s.finalized {
		return 0, randomness.ErrNotFinalized
	}
	return s.value, nil
}

// stubTreasury накапливает пересланные казначейские суммы.
type stubTreasury struct {
	forwarded int64
	err       error
}

func (s *stubTreasury) Forward(amount int64) error {
	if s.err != nil {
		return s.err
	}
	s.forwarded += amount
	return nil
}

type testPool struct {
	*Pool
	vault   *yieldsource.SimulatedVault
	random  *stubRandom
	clock   *time.Time
	advance func(d time.Duration)
}

func newTestPool(t *testing.T) *testPool {
	t.Helper()

	dist, err := strategy.NewFixedRatioDistribution(0.4, 0.4, 0.2)
	if err != nil {
		t.Fatalf("distribution: %v", err)
	}

	current := time.Unix(1_700_000_000, 0)
	vault := yieldsource.NewSimulatedVault()
	random := &stubRandom{}

	p := New(
		Config{MinDeposit: 1_00, DrawInterval: time.Hour},
		Options{
			Source:       vault,
			Random:       random,
			Distribution: dist,
			Winners:      strategy.NewWeightedSingleWinner(),
			Emergency:    emergency.DefaultConfig(),
			Clock:        func() time.Time { return current },
		},
	)
	return &testPool{
		Pool:    p,
		vault:   vault,
		random:  random,
		clock:   &current,
		advance: func(d time.Duration) { current = current.Add(d) },
	}
}

func TestDepositAndWithdraw(t *testing.T) {
	tp := newTestPool(t)

	if err := tp.Deposit(1, 100_00); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if err := tp.Deposit(1, 50); !errors.Is(err, emergency.ErrBelowMinimum) {
		t.Fatalf("expected ErrBelowMinimum, got %v", err)
	}
	if tp.vault.Balance() != 100_00 {
		t.Fatalf("expected vault balance 10000, got %d", tp.vault.Balance())
	}

	result, err := tp.Withdraw(1, 40_00)
	if err != nil {
		t.Fatalf("withdraw: %v", err)
	}
	if result.Actual != 40_00 || result.FromPrincipal != 40_00 || result.FromInterest != 0 {
		t.Fatalf("unexpected result: %+v", result)
	}

	balance, err := tp.BalanceOf(1)
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if balance.Deposits != 60.0 {
		t.Fatalf("expected deposits 60.0, got %f", balance.Deposits)
	}

	if _, err := tp.Withdraw(2, 10_00); !errors.Is(err, savings.ErrInsufficientShares) {
		t.Fatalf("expected ErrInsufficientShares, got %v", err)
	}
	if _, err := tp.Withdraw(1, 1000_00); !errors.Is(err, savings.ErrInsufficientBalance) {
		t.Fatalf("expected ErrInsufficientBalance, got %v", err)
	}
}

func TestProcessRewardsSplit(t *testing.T) {
	tp := newTestPool(t)
	treasury := &stubTreasury{}
	tp.SetTreasuryRecipient(treasury)

	if err := tp.Deposit(1, 100_00); err != nil {
		t.Fatalf("deposit u1: %v", err)
	}
	if err := tp.Deposit(2, 300_00); err != nil {
		t.Fatalf("deposit u2: %v", err)
	}

	tp.vault.AddYield(50_00)
	plan, err := tp.ProcessRewards()
	if err != nil {
		t.Fatalf("process rewards: %v", err)
	}
	if plan.Savings != 20_00 || plan.Lottery != 20_00 || plan.Treasury != 10_00 {
		t.Fatalf("unexpected plan: %+v", plan)
	}
	if treasury.forwarded != 10_00 {
		t.Fatalf("expected treasury 1000, got %d", treasury.forwarded)
	}

	stats := tp.Stats()
	if stats.TotalStaked != 420.0 {
		t.Fatalf("expected staked 420.0, got %f", stats.TotalStaked)
	}
	if stats.TotalDeposited != 400.0 {
		t.Fatalf("expected deposited 400.0, got %f", stats.TotalDeposited)
	}
	if stats.PendingLotteryYield != 20.0 {
		t.Fatalf("expected pending lottery 20.0, got %f", stats.PendingLotteryYield)
	}

	// Доходность полностью распределена: повторный вызов — no-op.
	plan, err = tp.ProcessRewards()
	if err != nil {
		t.Fatalf("second process: %v", err)
	}
	if plan.Total() != 0 {
		t.Fatalf("expected empty plan, got %+v", plan)
	}
}

func TestProcessRewardsWithoutRecipientKeepsTreasuryStaked(t *testing.T) {
	tp := newTestPool(t)

	if err := tp.Deposit(1, 100_00); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	tp.vault.AddYield(50_00)

	if _, err := tp.ProcessRewards(); err != nil {
		t.Fatalf("process rewards: %v", err)
	}

	ts := tp.TreasuryStats()
	if ts.HasRecipient || ts.TotalForwarded != 0 {
		t.Fatalf("unexpected treasury stats: %+v", ts)
	}
	// Казначейская часть осталась в источнике и вернётся в расчёт.
	if tp.vault.Balance() != 150_00 {
		t.Fatalf("expected vault 15000, got %d", tp.vault.Balance())
	}
}

func TestWithdrawIlliquidSource(t *testing.T) {
	tp := newTestPool(t)

	if err := tp.Deposit(1, 100_00); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	tp.vault.SetLiquidityRatio(0)

	result, err := tp.Withdraw(1, 50_00)
	if err != nil {
		t.Fatalf("illiquid withdrawal must succeed with zero result, got %v", err)
	}
	if result.Actual != 0 || result.FromInterest != 0 || result.FromPrincipal != 0 {
		t.Fatalf("expected zero result, got %+v", result)
	}

	// Доли не сожжены, счётчик неудач вырос ровно на единицу.
	balance, err := tp.BalanceOf(1)
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if balance.Shares != 100_00 {
		t.Fatalf("expected shares intact, got %d", balance.Shares)
	}
	if info := tp.EmergencyInfo(); info.ConsecutiveFailures != 1 {
		t.Fatalf("expected 1 failure, got %d", info.ConsecutiveFailures)
	}

	// Успешный вывод сбрасывает счётчик.
	tp.vault.SetLiquidityRatio(1)
	if _, err := tp.Withdraw(1, 50_00); err != nil {
		t.Fatalf("withdraw after recovery: %v", err)
	}
	if info := tp.EmergencyInfo(); info.ConsecutiveFailures != 0 {
		t.Fatalf("expected reset failures, got %d", info.ConsecutiveFailures)
	}
}

func TestWithdrawFailuresEscalateToEmergency(t *testing.T) {
	tp := newTestPool(t)

	if err := tp.Deposit(1, 100_00); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	tp.vault.SetLiquidityRatio(0)

	for i := 0; i < 3; i++ {
		if _, err := tp.Withdraw(1, 10_00); err != nil {
			t.Fatalf("withdraw %d: %v", i, err)
		}
	}

	info := tp.EmergencyInfo()
	if info.State != model.PoolStateEmergency {
		t.Fatalf("expected emergency state, got %s", info.State)
	}
	// В аварийном режиме депозиты запрещены, выводы остаются разрешены.
	if err := tp.Deposit(2, 100_00); !errors.Is(err, emergency.ErrDepositsDisabled) {
		t.Fatalf("expected ErrDepositsDisabled, got %v", err)
	}
	if _, err := tp.Withdraw(1, 10_00); err != nil {
		t.Fatalf("withdrawals must stay open in emergency: %v", err)
	}
	// Счётчик не растёт вне обычного режима.
	if got := tp.EmergencyInfo().ConsecutiveFailures; got != 3 {
		t.Fatalf("expected failures frozen at 3, got %d", got)
	}
}

func TestDrawLifecycle(t *testing.T) {
	tp := newTestPool(t)

	if err := tp.Deposit(1, 100_00); err != nil {
		t.Fatalf("deposit u1: %v", err)
	}
	if err := tp.Deposit(2, 300_00); err != nil {
		t.Fatalf("deposit u2: %v", err)
	}
	tp.vault.AddYield(50_00)
	if _, err := tp.ProcessRewards(); err != nil {
		t.Fatalf("process rewards: %v", err)
	}

	tp.advance(2 * time.Hour)

	receipt, err := tp.StartDraw()
	if err != nil {
		t.Fatalf("start draw: %v", err)
	}
	if receipt.Round != 1 {
		t.Fatalf("expected round 1, got %d", receipt.Round)
	}
	if receipt.PrizeAmount != 20_00 {
		t.Fatalf("expected prize 2000, got %d", receipt.PrizeAmount)
	}
	if len(receipt.Stakes) != 2 {
		t.Fatalf("expected 2 participants, got %d", len(receipt.Stakes))
	}
	if _, err := tp.StartDraw(); !errors.Is(err, ErrDrawInProgress) {
		t.Fatalf("expected ErrDrawInProgress, got %v", err)
	}

	// До финализации случайности квитанция сохраняется.
	if _, err := tp.CompleteDraw(); !errors.Is(err, randomness.ErrNotFinalized) {
		t.Fatalf("expected ErrNotFinalized, got %v", err)
	}
	if !tp.DrawStatus().IsDrawInProgress {
		t.Fatalf("receipt must survive unfinalized completion")
	}

	// Нулевое значение попадает в вес первого участника.
	tp.random.finalized = true
	tp.random.value = 0

	outcome, err := tp.CompleteDraw()
	if err != nil {
		t.Fatalf("complete draw: %v", err)
	}
	if len(outcome.Winners) != 1 || outcome.Winners[0] != 1 {
		t.Fatalf("expected winner 1, got %+v", outcome.Winners)
	}
	if outcome.Amounts[0] != 20_00 {
		t.Fatalf("expected amount 2000, got %d", outcome.Amounts[0])
	}
	if tp.DrawStatus().IsDrawInProgress {
		t.Fatalf("receipt must be consumed")
	}

	// Приз зачислен как новый депозит победителя.
	balance, err := tp.BalanceOf(1)
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if balance.LifetimePrizes != 20.0 {
		t.Fatalf("expected lifetime prizes 20.0, got %f", balance.LifetimePrizes)
	}
	if balance.Deposits != 120.0 {
		t.Fatalf("expected deposits 120.0, got %f", balance.Deposits)
	}
	if balance.Shares <= 100_00 {
		t.Fatalf("expected minted prize shares, got %d", balance.Shares)
	}

	stats := tp.Stats()
	if stats.TotalStaked != 440.0 {
		t.Fatalf("expected staked 440.0, got %f", stats.TotalStaked)
	}
	if stats.PendingLotteryYield != 0 {
		t.Fatalf("expected pending lottery drained, got %f", stats.PendingLotteryYield)
	}
	if stats.Round != 1 {
		t.Fatalf("expected round 1, got %d", stats.Round)
	}
}

func TestDrawGating(t *testing.T) {
	tp := newTestPool(t)

	if err := tp.Deposit(1, 100_00); err != nil {
		t.Fatalf("deposit: %v", err)
	}

	// Интервал ещё не истёк.
	if _, err := tp.StartDraw(); !errors.Is(err, ErrDrawIntervalNotElapsed) {
		t.Fatalf("expected ErrDrawIntervalNotElapsed, got %v", err)
	}

	// Без доходности призовой фонд пуст.
	tp.advance(2 * time.Hour)
	if _, err := tp.StartDraw(); !errors.Is(err, ErrEmptyPrizePool) {
		t.Fatalf("expected ErrEmptyPrizePool, got %v", err)
	}

	// Вне обычного режима розыгрыш запрещён.
	tp.vault.AddYield(50_00)
	if _, err := tp.ProcessRewards(); err != nil {
		t.Fatalf("process rewards: %v", err)
	}
	if err := tp.SetEmergencyState(model.PoolStatePaused, "maintenance"); err != nil {
		t.Fatalf("pause: %v", err)
	}
	if _, err := tp.StartDraw(); !errors.Is(err, ErrDrawNotAllowed) {
		t.Fatalf("expected ErrDrawNotAllowed, got %v", err)
	}
	if err := tp.Deposit(2, 100_00); !errors.Is(err, emergency.ErrPoolPaused) {
		t.Fatalf("expected ErrPoolPaused, got %v", err)
	}

	if _, err := tp.CompleteDraw(); !errors.Is(err, ErrNoDrawInProgress) {
		t.Fatalf("expected ErrNoDrawInProgress, got %v", err)
	}
}

func TestStartDrawRandomnessErrorLeavesStateIntact(t *testing.T) {
	tp := newTestPool(t)

	if err := tp.Deposit(1, 100_00); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	tp.vault.AddYield(50_00)
	if _, err := tp.ProcessRewards(); err != nil {
		t.Fatalf("process rewards: %v", err)
	}
	tp.advance(2 * time.Hour)

	tp.random.requestErr = errors.New("oracle unavailable")
	if _, err := tp.StartDraw(); err == nil {
		t.Fatalf("expected randomness request error")
	}

	// Отказ оракула не трогает реестр: отложенная доходность не
	// материализована, раунд не открыт, эпоха не перезапущена.
	stats := tp.Stats()
	if stats.PendingLotteryYield != 20.0 {
		t.Fatalf("expected pending lottery intact 20.0, got %f", stats.PendingLotteryYield)
	}
	if stats.PrizeVault != 0 {
		t.Fatalf("expected empty prize vault, got %f", stats.PrizeVault)
	}
	if stats.Round != 0 {
		t.Fatalf("expected round 0, got %d", stats.Round)
	}
	if tp.DrawStatus().IsDrawInProgress {
		t.Fatalf("no receipt must exist after a failed start")
	}

	// Повторная попытка после восстановления оракула проходит.
	tp.random.requestErr = nil
	receipt, err := tp.StartDraw()
	if err != nil {
		t.Fatalf("start draw after oracle recovery: %v", err)
	}
	if receipt.PrizeAmount != 20_00 {
		t.Fatalf("expected prize 2000, got %d", receipt.PrizeAmount)
	}
}

func TestDrawAwardsNFTPrizes(t *testing.T) {
	tp := newTestPool(t)

	if err := tp.DepositNFTPrize(model.NFTPrize{ID: 7, Name: "golden ticket"}); err != nil {
		t.Fatalf("deposit nft: %v", err)
	}
	if err := tp.Deposit(1, 100_00); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	tp.vault.AddYield(50_00)
	if _, err := tp.ProcessRewards(); err != nil {
		t.Fatalf("process rewards: %v", err)
	}
	tp.advance(2 * time.Hour)

	if _, err := tp.StartDraw(); err != nil {
		t.Fatalf("start draw: %v", err)
	}
	tp.random.finalized = true

	outcome, err := tp.CompleteDraw()
	if err != nil {
		t.Fatalf("complete draw: %v", err)
	}
	if len(outcome.NFTIDs) != 1 || len(outcome.NFTIDs[0]) != 1 || outcome.NFTIDs[0][0] != 7 {
		t.Fatalf("expected nft 7 awarded, got %+v", outcome.NFTIDs)
	}

	// NFT ждёт получения в очереди победителя, эскроу пуст.
	pending := tp.PendingNFTs(outcome.Winners[0])
	if len(pending) != 1 || pending[0].ID != 7 {
		t.Fatalf("unexpected pending queue: %+v", pending)
	}
	if ids := tp.AvailableNFTPrizeIDs(); len(ids) != 0 {
		t.Fatalf("expected empty escrow, got %v", ids)
	}

	prize, err := tp.ClaimPendingNFT(outcome.Winners[0], 0)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if prize.ID != 7 {
		t.Fatalf("expected nft 7, got %d", prize.ID)
	}
	if left := tp.PendingNFTs(outcome.Winners[0]); len(left) != 0 {
		t.Fatalf("expected drained queue, got %+v", left)
	}
}

func TestDepositCompoundsPendingYield(t *testing.T) {
	tp := newTestPool(t)

	if err := tp.Deposit(1, 100_00); err != nil {
		t.Fatalf("deposit u1: %v", err)
	}
	tp.vault.AddYield(50_00)

	// Депозит сам обрабатывает накопленную доходность: новый вкладчик
	// покупает доли по уже выросшему курсу.
	if err := tp.Deposit(2, 100_00); err != nil {
		t.Fatalf("deposit u2: %v", err)
	}

	b1, err := tp.BalanceOf(1)
	if err != nil {
		t.Fatalf("balance u1: %v", err)
	}
	b2, err := tp.BalanceOf(2)
	if err != nil {
		t.Fatalf("balance u2: %v", err)
	}
	if b2.Shares >= b1.Shares {
		t.Fatalf("late depositor must get fewer shares: %d vs %d", b2.Shares, b1.Shares)
	}
	if b1.ShareValue <= b2.ShareValue {
		t.Fatalf("early depositor must hold accrued yield: %f vs %f", b1.ShareValue, b2.ShareValue)
	}
}

func TestPreviewDeposit(t *testing.T) {
	tp := newTestPool(t)

	shares, err := tp.PreviewDeposit(100_00)
	if err != nil {
		t.Fatalf("preview: %v", err)
	}
	if shares != 100_00 {
		t.Fatalf("expected 1:1 on empty pool, got %d", shares)
	}
	if _, err := tp.PreviewDeposit(0); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("expected ErrInvalidAmount, got %v", err)
	}
}
