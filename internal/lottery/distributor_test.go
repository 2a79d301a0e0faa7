package lottery

import (
	"errors"
	"testing"

	"github.com/ndmitriev/prizepool-system/internal/model"
	"github.com/ndmitriev/prizepool-system/internal/yieldsource"
)

func TestFundPrizePool(t *testing.T) {
	d := NewDistributor()

	d.FundPrizePool(500)
	d.FundPrizePool(0)
	d.FundPrizePool(-10)

	if d.Vault() != 500 {
		t.Fatalf("expected vault 500, got %d", d.Vault())
	}
}

func TestAwardPrizeFromVaultOnly(t *testing.T) {
	d := NewDistributor()
	d.FundPrizePool(1000)

	fromSource, err := d.AwardPrize(700, nil)
	if err != nil {
		t.Fatalf("award: %v", err)
	}
	if fromSource != 0 {
		t.Fatalf("expected nothing from live source, got %d", fromSource)
	}
	if d.Vault() != 300 {
		t.Fatalf("expected vault 300, got %d", d.Vault())
	}
}

func TestAwardPrizePrefersLiveSource(t *testing.T) {
	d := NewDistributor()
	d.FundPrizePool(100)

	vault := yieldsource.NewSimulatedVault()
	vault.AddYield(500)

	fromSource, err := d.AwardPrize(550, vault)
	if err != nil {
		t.Fatalf("award: %v", err)
	}
	if fromSource != 500 {
		t.Fatalf("expected 500 pulled from live source, got %d", fromSource)
	}
	if d.Vault() != 50 {
		t.Fatalf("expected vault to cover 50 shortfall, got %d left of 100", d.Vault())
	}
	if vault.Balance() != 0 {
		t.Fatalf("expected source drained, got %d", vault.Balance())
	}
}

func TestAwardPrizeInsufficient(t *testing.T) {
	d := NewDistributor()
	d.FundPrizePool(100)

	vault := yieldsource.NewSimulatedVault()
	vault.AddYield(100)

	if _, err := d.AwardPrize(300, vault); !errors.Is(err, ErrInsufficientPrizePool) {
		t.Fatalf("expected ErrInsufficientPrizePool, got %v", err)
	}
	// Неудачное покрытие не должно трогать хранилище.
	if d.Vault() != 100 {
		t.Fatalf("vault mutated on failed award: %d", d.Vault())
	}
}

func TestNFTEscrow(t *testing.T) {
	d := NewDistributor()

	prize := model.NFTPrize{ID: 7, Name: "Lucky Prize", Description: "draw reward"}
	if err := d.DepositNFTPrize(prize); err != nil {
		t.Fatalf("deposit nft: %v", err)
	}
	if err := d.DepositNFTPrize(prize); !errors.Is(err, ErrNFTExists) {
		t.Fatalf("expected ErrNFTExists, got %v", err)
	}

	ids := d.AvailableNFTIDs()
	if len(ids) != 1 || ids[0] != 7 {
		t.Fatalf("unexpected available ids: %v", ids)
	}

	got, err := d.WithdrawNFTPrize(7)
	if err != nil {
		t.Fatalf("withdraw nft: %v", err)
	}
	if got.Name != "Lucky Prize" {
		t.Fatalf("unexpected prize: %+v", got)
	}
	if _, err := d.WithdrawNFTPrize(7); !errors.Is(err, ErrNFTNotFound) {
		t.Fatalf("expected ErrNFTNotFound, got %v", err)
	}
}

func TestPendingNFTQueue(t *testing.T) {
	d := NewDistributor()

	d.StorePendingNFT(1, model.NFTPrize{ID: 10})
	d.StorePendingNFT(1, model.NFTPrize{ID: 11})

	if _, err := d.ClaimPendingNFT(1, 5); !errors.Is(err, ErrInvalidIndex) {
		t.Fatalf("expected ErrInvalidIndex, got %v", err)
	}
	if _, err := d.ClaimPendingNFT(2, 0); !errors.Is(err, ErrInvalidIndex) {
		t.Fatalf("expected ErrInvalidIndex for empty queue, got %v", err)
	}

	prize, err := d.ClaimPendingNFT(1, 0)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if prize.ID != 10 {
		t.Fatalf("expected prize 10, got %d", prize.ID)
	}

	rest := d.PendingNFTs(1)
	if len(rest) != 1 || rest[0].ID != 11 {
		t.Fatalf("unexpected remaining queue: %+v", rest)
	}
}
