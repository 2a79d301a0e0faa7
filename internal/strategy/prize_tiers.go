package strategy

import (
	"errors"
	"fmt"
	"math/rand"

	"github.com/holiman/uint256"

	"github.com/ndmitriev/prizepool-system/internal/model"
)

// ErrInvalidTiers возвращается при некорректной конфигурации уровней призов.
var ErrInvalidTiers = errors.New("invalid prize tiers")

// PrizeTier описывает один уровень фиксированных призов: Count победителей
// по Amount каждому.
type PrizeTier struct {
	Amount int64
	Count  int
}

// FixedPrizeTiers раздаёт фиксированные призы по уровням, выбирая
// победителей той же взвешенной выборкой без возвращения.
type FixedPrizeTiers struct {
	tiers []PrizeTier
}

// NewFixedPrizeTiers создаёт стратегию уровней и валидирует их при конструировании.
func NewFixedPrizeTiers(tiers []PrizeTier) (*FixedPrizeTiers, error) {
	if len(tiers) == 0 {
		return nil, fmt.Errorf("%w: empty tiers", ErrInvalidTiers)
	}
	for _, tier := range tiers {
		if tier.Amount <= 0 || tier.Count <= 0 {
			return nil, fmt.Errorf("%w: tier %+v", ErrInvalidTiers, tier)
		}
	}
	out := make([]PrizeTier, len(tiers))
	copy(out, tiers)
	return &FixedPrizeTiers{tiers: out}, nil
}

// requiredTotal возвращает суммарную стоимость всех уровней.
func (s *FixedPrizeTiers) requiredTotal() int64 {
	var sum int64
	for _, tier := range s.tiers {
		sum += tier.Amount * int64(tier.Count)
	}
	return sum
}

func (s *FixedPrizeTiers) winnersNeeded() int {
	var n int
	for _, tier := range s.tiers {
		n += tier.Count
	}
	return n
}

// SelectWinners раздаёт призы уровень за уровнем. Недостаточный призовой
// фонд или нехватка вкладчиков деградируют до пустого результата:
// розыгрыш завершается вхолостую, а не падает.
func (s *FixedPrizeTiers) SelectWinners(seed uint64, stakes map[int64]*uint256.Int, totalPrize int64, availableNFTs []uint64) (model.WinnerSelectionResult, error) {
	cands := sortedCandidates(stakes)
	if len(cands) == 0 {
		return model.WinnerSelectionResult{}, nil
	}
	if totalPrize < s.requiredTotal() || s.winnersNeeded() > len(cands) {
		return model.WinnerSelectionResult{}, nil
	}

	rng := rand.New(rand.NewSource(int64(seed)))
	winners := drawWithoutReplacement(rng, cands, s.winnersNeeded())

	amounts := make([]int64, 0, len(winners))
	for _, tier := range s.tiers {
		for i := 0; i < tier.Count; i++ {
			amounts = append(amounts, tier.Amount)
		}
	}

	return model.WinnerSelectionResult{
		Winners: winners,
		Amounts: amounts,
		NFTIDs:  assignNFTs(len(winners), availableNFTs),
	}, nil
}
