package strategy

import (
	"errors"
	"fmt"
	"math"
	"math/rand"

	"github.com/holiman/uint256"

	"github.com/ndmitriev/prizepool-system/internal/model"
)

// ErrSplitDeviation возвращается, если остаток последнего победителя
// отклоняется от его настроенной доли сильнее допустимого.
var ErrSplitDeviation = errors.New("final split deviates from configured share")

// maxSplitDeviationRatio — допустимое отклонение остатка последнего
// победителя от его настроенной доли (1% от призового фонда).
const maxSplitDeviationRatio = 0.01

// MultiWinnerSplit делит приз между несколькими победителями, выбранными
// взвешенной выборкой без возвращения. Поток псевдослучайности засевается
// один раз значением розыгрыша: внешняя случайность на каждого победителя
// не запрашивается.
type MultiWinnerSplit struct {
	splits []float64
}

// NewMultiWinnerSplit создаёт стратегию с долями splits (по одной на
// победителя); доли обязаны давать в сумме ровно 1.0.
func NewMultiWinnerSplit(splits []float64) (*MultiWinnerSplit, error) {
	if len(splits) == 0 {
		return nil, fmt.Errorf("%w: empty splits", ErrInvalidPercentages)
	}
	sum := 0.0
	for _, s := range splits {
		if s <= 0 {
			return nil, fmt.Errorf("%w: non-positive split", ErrInvalidPercentages)
		}
		sum += s
	}
	if math.Abs(sum-1.0) > percentTolerance {
		return nil, fmt.Errorf("%w: got %.10f", ErrInvalidPercentages, sum)
	}
	out := make([]float64, len(splits))
	copy(out, splits)
	return &MultiWinnerSplit{splits: out}, nil
}

// SelectWinners выбирает до len(splits) различных победителей. Если
// вкладчиков меньше настроенного числа, приз получают все вкладчики.
// Последний победитель получает остаток приза после предыдущих долей,
// чтобы округление не теряло средства.
func (s *MultiWinnerSplit) SelectWinners(seed uint64, stakes map[int64]*uint256.Int, totalPrize int64, availableNFTs []uint64) (model.WinnerSelectionResult, error) {
	cands := sortedCandidates(stakes)
	if len(cands) == 0 {
		return model.WinnerSelectionResult{}, nil
	}

	count := len(s.splits)
	if count > len(cands) {
		count = len(cands)
	}

	rng := rand.New(rand.NewSource(int64(seed)))
	winners := drawWithoutReplacement(rng, cands, count)

	amounts := make([]int64, len(winners))
	var distributed int64
	for i := range winners {
		if i < len(winners)-1 {
			amounts[i] = int64(math.Floor(float64(totalPrize) * s.splits[i]))
			distributed += amounts[i]
		}
	}
	remainder := totalPrize - distributed
	amounts[len(amounts)-1] = remainder

	// Проверка отклонения имеет смысл только при полном числе победителей:
	// при усечённом списке остаток закономерно превышает настроенную долю.
	if len(winners) == len(s.splits) {
		expected := float64(totalPrize) * s.splits[len(s.splits)-1]
		if math.Abs(float64(remainder)-expected) > float64(totalPrize)*maxSplitDeviationRatio {
			return model.WinnerSelectionResult{}, fmt.Errorf("%w: remainder %d, expected %.2f", ErrSplitDeviation, remainder, expected)
		}
	}

	return model.WinnerSelectionResult{
		Winners: winners,
		Amounts: amounts,
		NFTIDs:  assignNFTs(len(winners), availableNFTs),
	}, nil
}
