package strategy

import (
	"math/rand"
	"sort"

	"github.com/holiman/uint256"

	"github.com/ndmitriev/prizepool-system/internal/model"
)

// WinnerSelectionStrategy выбирает победителей розыгрыша.
// Результат детерминирован при фиксированных seed, ставках и списке NFT;
// побочных эффектов нет. Весом кандидата служит его взвешенная по времени
// ставка за эпоху, а не мгновенный баланс.
type WinnerSelectionStrategy interface {
	SelectWinners(seed uint64, stakes map[int64]*uint256.Int, totalPrize int64, availableNFTs []uint64) (model.WinnerSelectionResult, error)
}

// candidate — участник розыгрыша с его ставкой.
type candidate struct {
	id    int64
	stake *uint256.Int
}

// sortedCandidates выстраивает участников по возрастанию идентификатора:
// порядок обхода входит в детерминированный контракт стратегий.
func sortedCandidates(stakes map[int64]*uint256.Int) []candidate {
	cands := make([]candidate, 0, len(stakes))
	for id, stake := range stakes {
		s := stake
		if s == nil {
			s = uint256.NewInt(0)
		}
		cands = append(cands, candidate{id: id, stake: s})
	}
	sort.Slice(cands, func(i, j int) bool { return cands[i].id < cands[j].id })
	return cands
}

func totalStake(cands []candidate) *uint256.Int {
	total := uint256.NewInt(0)
	for _, c := range cands {
		total.Add(total, c.stake)
	}
	return total
}

// pickWeighted возвращает индекс первого кандидата, чья кумулятивная сумма
// превышает value. При нулевой суммарной ставке побеждает первый кандидат —
// вырожденный запасной вариант.
func pickWeighted(value *uint256.Int, cands []candidate) int {
	cum := uint256.NewInt(0)
	for i, c := range cands {
		cum.Add(cum, c.stake)
		if cum.Gt(value) {
			return i
		}
	}
	return 0
}

// randBelow возвращает детерминированное псевдослучайное значение в [0, total).
func randBelow(rng *rand.Rand, total *uint256.Int) *uint256.Int {
	v := &uint256.Int{rng.Uint64(), rng.Uint64(), rng.Uint64(), rng.Uint64()}
	return v.Mod(v, total)
}

// drawWithoutReplacement выбирает count победителей взвешенной выборкой без
// возвращения: после каждого выбора победитель исключается, кумулятивные
// суммы пересчитываются. Псевдослучайный поток засеян один раз.
func drawWithoutReplacement(rng *rand.Rand, cands []candidate, count int) []int64 {
	remaining := make([]candidate, len(cands))
	copy(remaining, cands)

	winners := make([]int64, 0, count)
	for len(winners) < count && len(remaining) > 0 {
		total := totalStake(remaining)
		var idx int
		if total.IsZero() {
			idx = 0
		} else {
			idx = pickWeighted(randBelow(rng, total), remaining)
		}
		winners = append(winners, remaining[idx].id)
		remaining = append(remaining[:idx], remaining[idx+1:]...)
	}
	return winners
}

// assignNFTs раздаёт по одному доступному NFT на победителя в порядке выбора.
func assignNFTs(winnerCount int, availableNFTs []uint64) [][]uint64 {
	out := make([][]uint64, winnerCount)
	for i := range out {
		if i < len(availableNFTs) {
			out[i] = []uint64{availableNFTs[i]}
		}
	}
	return out
}
