package savings

import (
	"errors"
	"testing"
	"time"

	"github.com/holiman/uint256"
)

var epoch0 = time.Unix(1_700_000_000, 0)

func at(seconds int64) time.Time {
	return epoch0.Add(time.Duration(seconds) * time.Second)
}

func TestDepositAndWithdraw(t *testing.T) {
	d := NewDistributor(epoch0)

	shares, err := d.Deposit(1, 10000, epoch0)
	if err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if shares != 10000 {
		t.Fatalf("expected 10000 shares on first deposit, got %d", shares)
	}
	if d.TotalShares() != 10000 || d.TotalAssets() != 10000 {
		t.Fatalf("totals mismatch: shares=%d assets=%d", d.TotalShares(), d.TotalAssets())
	}

	burned, err := d.Withdraw(1, 2500, at(10))
	if err != nil {
		t.Fatalf("withdraw: %v", err)
	}
	if burned != 2500 {
		t.Fatalf("expected 2500 shares burned, got %d", burned)
	}
	if d.TotalAssets() != 7500 {
		t.Fatalf("expected totalAssets 7500, got %d", d.TotalAssets())
	}
}

func TestWithdrawErrors(t *testing.T) {
	d := NewDistributor(epoch0)

	if _, err := d.Withdraw(1, 100, epoch0); !errors.Is(err, ErrInsufficientShares) {
		t.Fatalf("expected ErrInsufficientShares, got %v", err)
	}

	if _, err := d.Deposit(1, 1000, epoch0); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if _, err := d.Withdraw(1, 5000, at(1)); !errors.Is(err, ErrInsufficientBalance) {
		t.Fatalf("expected ErrInsufficientBalance, got %v", err)
	}
}

func TestAccrueYieldRaisesSharePrice(t *testing.T) {
	d := NewDistributor(epoch0)

	// Без долей в обращении доходность не зачисляется: у неё нет претендентов.
	d.AccrueYield(500)
	if d.TotalAssets() != 0 {
		t.Fatalf("accrue without shares must be a no-op, got totalAssets %d", d.TotalAssets())
	}

	if _, err := d.Deposit(1, 1000, epoch0); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	d.AccrueYield(500)

	value, err := d.RedeemableValue(1)
	if err != nil {
		t.Fatalf("redeemable: %v", err)
	}
	if value != 1500 {
		t.Fatalf("expected redeemable 1500 after yield, got %d", value)
	}
}

func TestInvariantSumOfRedeemables(t *testing.T) {
	d := NewDistributor(epoch0)

	users := []int64{1, 2, 3}
	deposits := []int64{10000, 30000, 12345}
	for i, u := range users {
		if _, err := d.Deposit(u, deposits[i], at(int64(i))); err != nil {
			t.Fatalf("deposit user %d: %v", u, err)
		}
	}
	d.AccrueYield(7777)
	if _, err := d.Withdraw(2, 5000, at(100)); err != nil {
		t.Fatalf("withdraw: %v", err)
	}

	var sum int64
	for _, u := range users {
		v, err := d.RedeemableValue(u)
		if err != nil {
			t.Fatalf("redeemable user %d: %v", u, err)
		}
		sum += v
	}
	if sum > d.TotalAssets() {
		t.Fatalf("sum of redeemables %d exceeds totalAssets %d", sum, d.TotalAssets())
	}
	if d.TotalAssets()-sum > int64(len(users)) {
		t.Fatalf("ledger leaks more than rounding dust: sum=%d totalAssets=%d", sum, d.TotalAssets())
	}
}

func TestTWABFullEpoch(t *testing.T) {
	d := NewDistributor(epoch0)

	const amount, duration = 1000, 3600
	if _, err := d.Deposit(1, amount, epoch0); err != nil {
		t.Fatalf("deposit: %v", err)
	}

	snapshot := d.SnapshotStakes(at(duration))
	want := uint256.NewInt(amount * duration)
	if snapshot[1].Cmp(want) != 0 {
		t.Fatalf("full-epoch stake: expected %s, got %s", want, snapshot[1])
	}
}

func TestTWABMidEpochJoin(t *testing.T) {
	d := NewDistributor(epoch0)

	if _, err := d.Deposit(1, 1000, epoch0); err != nil {
		t.Fatalf("deposit 1: %v", err)
	}
	// Второй вкладчик с тем же размером входит на середине эпохи.
	if _, err := d.Deposit(2, 1000, at(1800)); err != nil {
		t.Fatalf("deposit 2: %v", err)
	}

	snapshot := d.SnapshotStakes(at(3600))
	full := uint256.NewInt(1000 * 3600)
	half := uint256.NewInt(1000 * 1800)
	if snapshot[1].Cmp(full) != 0 {
		t.Fatalf("expected full stake %s, got %s", full, snapshot[1])
	}
	if snapshot[2].Cmp(half) != 0 {
		t.Fatalf("expected half stake %s, got %s", half, snapshot[2])
	}
}

func TestStartNewPeriodLazyReset(t *testing.T) {
	d := NewDistributor(epoch0)

	if _, err := d.Deposit(1, 1000, epoch0); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	d.AccumulateTime(1, at(100))
	d.StartNewPeriod(at(100))

	// Накопление новой эпохи стартует от её начала, прошлая ставка сброшена.
	snapshot := d.SnapshotStakes(at(160))
	want := uint256.NewInt(1000 * 60)
	if snapshot[1].Cmp(want) != 0 {
		t.Fatalf("expected fresh-epoch stake %s, got %s", want, snapshot[1])
	}
	if d.EpochID() != 2 {
		t.Fatalf("expected epoch 2, got %d", d.EpochID())
	}
}

func TestAccumulationNeverSpansEpochBoundary(t *testing.T) {
	d := NewDistributor(epoch0)

	if _, err := d.Deposit(1, 1000, epoch0); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	// Вкладчика не касались до границы эпохи: прошлое время теряется,
	// отсчёт новой эпохи идёт от её начала, а не от lastUpdate.
	d.StartNewPeriod(at(1000))

	snapshot := d.SnapshotStakes(at(1100))
	want := uint256.NewInt(1000 * 100)
	if snapshot[1].Cmp(want) != 0 {
		t.Fatalf("expected %s, got %s", want, snapshot[1])
	}
}

func TestCalculateStakeAtTimeIsPure(t *testing.T) {
	d := NewDistributor(epoch0)

	if _, err := d.Deposit(1, 500, epoch0); err != nil {
		t.Fatalf("deposit: %v", err)
	}

	projected := d.CalculateStakeAtTime(1, at(200))
	want := uint256.NewInt(500 * 200)
	if projected.Cmp(want) != 0 {
		t.Fatalf("expected projection %s, got %s", want, projected)
	}

	// Проекция не должна мутировать накопитель.
	again := d.CalculateStakeAtTime(1, at(200))
	if again.Cmp(want) != 0 {
		t.Fatalf("projection must be repeatable, got %s", again)
	}
}
