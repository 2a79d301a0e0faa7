package strategy

import (
	"github.com/holiman/uint256"

	"github.com/ndmitriev/prizepool-system/internal/model"
)

// WeightedSingleWinner выбирает одного победителя с вероятностью,
// пропорциональной его взвешенной по времени ставке. Победитель получает
// весь приз и все доступные NFT.
type WeightedSingleWinner struct{}

// NewWeightedSingleWinner создаёт стратегию одного взвешенного победителя.
func NewWeightedSingleWinner() *WeightedSingleWinner {
	return &WeightedSingleWinner{}
}

// SelectWinners выбирает победителя по кумулятивным суммам ставок:
// случайное значение масштабируется в [0, totalStake), побеждает первая
// корзина, превысившая его.
func (s *WeightedSingleWinner) SelectWinners(seed uint64, stakes map[int64]*uint256.Int, totalPrize int64, availableNFTs []uint64) (model.WinnerSelectionResult, error) {
	cands := sortedCandidates(stakes)
	if len(cands) == 0 {
		return model.WinnerSelectionResult{}, nil
	}

	idx := 0
	if len(cands) > 1 {
		total := totalStake(cands)
		if !total.IsZero() {
			scaled := new(uint256.Int).Mod(uint256.NewInt(seed), total)
			idx = pickWeighted(scaled, cands)
		}
		// При нулевых ставках всех участников побеждает первый — вырожденный
		// случай честности, зафиксированный поведением, а не ошибкой.
	}

	nfts := make([]uint64, len(availableNFTs))
	copy(nfts, availableNFTs)

	return model.WinnerSelectionResult{
		Winners: []int64{cands[idx].id},
		Amounts: []int64{totalPrize},
		NFTIDs:  [][]uint64{nfts},
	}, nil
}
