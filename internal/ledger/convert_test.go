package ledger

import (
	"errors"
	"math"
	"testing"
)

func TestConvertToSharesFirstDeposit(t *testing.T) {
	// При пустом пуле цена доли равна единице: amount * (0+1)/(0+1).
	shares, err := ConvertToShares(10000, 0, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if shares != 10000 {
		t.Fatalf("expected 10000 shares, got %d", shares)
	}
}

func TestShareAssetRoundTrip(t *testing.T) {
	tests := []struct {
		name        string
		amount      int64
		totalShares int64
		totalAssets int64
	}{
		{name: "empty pool", amount: 500, totalShares: 0, totalAssets: 0},
		{name: "balanced pool", amount: 12345, totalShares: 100000, totalAssets: 100000},
		{name: "appreciated pool", amount: 777, totalShares: 100000, totalAssets: 150000},
		{name: "large values", amount: 1 << 40, totalShares: 1 << 50, totalAssets: 1 << 51},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			shares, err := ConvertToShares(tt.amount, tt.totalShares, tt.totalAssets)
			if err != nil {
				t.Fatalf("ConvertToShares: %v", err)
			}
			back, err := ConvertToAssets(shares, tt.totalShares, tt.totalAssets)
			if err != nil {
				t.Fatalf("ConvertToAssets: %v", err)
			}
			diff := tt.amount - back
			if diff < 0 {
				diff = -diff
			}
			// Два округления вниз теряют не больше одной единицы на каждое.
			if diff > 2 {
				t.Fatalf("round trip deviates by %d (amount=%d, back=%d)", diff, tt.amount, back)
			}
			if back > tt.amount {
				t.Fatalf("round trip must not mint value: %d -> %d", tt.amount, back)
			}
		})
	}
}

func TestConvertToSharesMonotonic(t *testing.T) {
	const totalShares, totalAssets = 100000, 173503

	prev := int64(-1)
	for amount := int64(0); amount <= 10000; amount += 97 {
		shares, err := ConvertToShares(amount, totalShares, totalAssets)
		if err != nil {
			t.Fatalf("amount %d: %v", amount, err)
		}
		if shares < prev {
			t.Fatalf("shares decreased: amount=%d shares=%d prev=%d", amount, shares, prev)
		}
		prev = shares
	}
}

func TestConvertOverflow(t *testing.T) {
	// Цена доли сильно завышена: маленький итог активов при огромном итоге долей.
	_, err := ConvertToShares(math.MaxInt64, math.MaxInt64, 1)
	if !errors.Is(err, ErrOverflow) {
		t.Fatalf("expected ErrOverflow, got %v", err)
	}

	max := MaxSafeDeposit(math.MaxInt64, 1)
	if max >= math.MaxInt64 {
		t.Fatalf("max safe deposit must shrink with inflated share price, got %d", max)
	}
	if _, err := ConvertToShares(max, math.MaxInt64, 1); err != nil {
		t.Fatalf("amount at the bound must convert, got %v", err)
	}
}

func TestConvertNegativeInput(t *testing.T) {
	if _, err := ConvertToShares(-1, 0, 0); !errors.Is(err, ErrNegativeInput) {
		t.Fatalf("expected ErrNegativeInput, got %v", err)
	}
	if _, err := ConvertToAssets(-1, 0, 0); !errors.Is(err, ErrNegativeInput) {
		t.Fatalf("expected ErrNegativeInput, got %v", err)
	}
}

func TestSharesForWithdrawal(t *testing.T) {
	// Без виртуального смещения: 50 * 1000 / 2000 = 25 долей.
	shares, err := SharesForWithdrawal(50, 1000, 2000)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if shares != 25 {
		t.Fatalf("expected 25 shares, got %d", shares)
	}

	if _, err := SharesForWithdrawal(50, 0, 0); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState, got %v", err)
	}
}

func TestInflationAttackResistance(t *testing.T) {
	// Классическая атака: атакующий вносит 1 единицу и "дарит" пулу крупную
	// сумму, взвинчивая цену доли так, чтобы депозит жертвы округлился в ноль.
	const donation = 1_000_000

	// Без смещения жертва получила бы floor(donation * 1 / (1 + donation)) == 0
	// долей. Виртуальное смещение удерживает чеканку ненулевой.
	victim, err := ConvertToShares(donation, 1, 1+donation)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if victim == 0 {
		t.Fatalf("victim deposit must not round to zero shares")
	}
}

func TestRedeemableAssets(t *testing.T) {
	assets, err := RedeemableAssets(25, 1000, 2000)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if assets != 50 {
		t.Fatalf("expected 50, got %d", assets)
	}

	assets, err = RedeemableAssets(10, 0, 0)
	if err != nil || assets != 0 {
		t.Fatalf("expected 0 without shares outstanding, got %d, %v", assets, err)
	}
}
