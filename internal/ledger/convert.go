// Package ledger содержит арифметику конвертации долей и активов пула.
//
// Все вычисления выполняются в uint256, чтобы произведение двух int64
// не переполнялось, а результат проверяется на выход за пределы int64.
// К обоим итогам при конвертации добавляется виртуальное смещение,
// защищающее цену доли от манипуляции первым вкладчиком.
package ledger

import (
	"errors"
	"math"

	"github.com/holiman/uint256"
)

// VirtualOffset — виртуальное смещение, добавляемое к totalShares и
// totalAssets при конвертации (одна базовая единица).
const VirtualOffset = 1

var (
	// ErrOverflow возвращается, если результат конвертации выходит за безопасный диапазон.
	ErrOverflow = errors.New("conversion overflows safe range")
	// ErrNegativeInput возвращается при отрицательном входном значении.
	ErrNegativeInput = errors.New("negative input")
	// ErrInvalidState возвращается при конвертации с нулевыми итогами там, где они обязаны быть ненулевыми.
	ErrInvalidState = errors.New("invalid ledger state")
)

var maxInt64 = uint256.NewInt(math.MaxInt64)

// ConvertToShares вычисляет количество долей за депозит amount:
// shares = amount * (totalShares + V) / (totalAssets + V), с округлением вниз.
func ConvertToShares(amount, totalShares, totalAssets int64) (int64, error) {
	if amount < 0 || totalShares < 0 || totalAssets < 0 {
		return 0, ErrNegativeInput
	}
	if amount == 0 {
		return 0, nil
	}
	num := uint256.NewInt(uint64(totalShares) + VirtualOffset)
	den := uint256.NewInt(uint64(totalAssets) + VirtualOffset)
	if uint256.NewInt(uint64(amount)).Gt(maxSafeInput(num, den)) {
		return 0, ErrOverflow
	}
	return mulDiv(uint256.NewInt(uint64(amount)), num, den)
}

// ConvertToAssets вычисляет стоимость долей в активе:
// assets = shares * (totalAssets + V) / (totalShares + V), с округлением вниз.
func ConvertToAssets(shares, totalShares, totalAssets int64) (int64, error) {
	if shares < 0 || totalShares < 0 || totalAssets < 0 {
		return 0, ErrNegativeInput
	}
	if shares == 0 {
		return 0, nil
	}
	num := uint256.NewInt(uint64(totalAssets) + VirtualOffset)
	den := uint256.NewInt(uint64(totalShares) + VirtualOffset)
	if uint256.NewInt(uint64(shares)).Gt(maxSafeInput(num, den)) {
		return 0, ErrOverflow
	}
	return mulDiv(uint256.NewInt(uint64(shares)), num, den)
}

// SharesForWithdrawal вычисляет количество долей, сжигаемых при выводе amount:
// shares = amount * totalShares / totalAssets, без виртуального смещения,
// что соответствует пропорциональному погашению.
func SharesForWithdrawal(amount, totalShares, totalAssets int64) (int64, error) {
	if amount < 0 {
		return 0, ErrNegativeInput
	}
	if totalShares <= 0 || totalAssets <= 0 {
		return 0, ErrInvalidState
	}
	if amount == 0 {
		return 0, nil
	}
	num := uint256.NewInt(uint64(totalShares))
	den := uint256.NewInt(uint64(totalAssets))
	if uint256.NewInt(uint64(amount)).Gt(maxSafeInput(num, den)) {
		return 0, ErrOverflow
	}
	return mulDiv(uint256.NewInt(uint64(amount)), num, den)
}

// RedeemableAssets вычисляет сумму, доступную держателю долей к выводу:
// assets = shares * totalAssets / totalShares, без виртуального смещения.
func RedeemableAssets(shares, totalShares, totalAssets int64) (int64, error) {
	if shares < 0 || totalAssets < 0 {
		return 0, ErrNegativeInput
	}
	if totalShares <= 0 {
		return 0, nil
	}
	num := uint256.NewInt(uint64(totalAssets))
	den := uint256.NewInt(uint64(totalShares))
	if uint256.NewInt(uint64(shares)).Gt(maxSafeInput(num, den)) {
		return 0, ErrOverflow
	}
	return mulDiv(uint256.NewInt(uint64(shares)), num, den)
}

// MaxSafeDeposit возвращает максимальную сумму депозита, конвертация которой
// гарантированно не переполнит int64 при текущих итогах.
func MaxSafeDeposit(totalShares, totalAssets int64) int64 {
	if totalShares < 0 || totalAssets < 0 {
		return 0
	}
	num := uint256.NewInt(uint64(totalShares) + VirtualOffset)
	den := uint256.NewInt(uint64(totalAssets) + VirtualOffset)
	bound := maxSafeInput(num, den)
	if bound.Gt(maxInt64) {
		return math.MaxInt64
	}
	return int64(bound.Uint64())
}

// maxSafeInput возвращает границу x, при которой x*num/den ещё помещается в int64.
func maxSafeInput(num, den *uint256.Int) *uint256.Int {
	bound := new(uint256.Int).Mul(maxInt64, den)
	return bound.Div(bound, num)
}

func mulDiv(x, num, den *uint256.Int) (int64, error) {
	res := new(uint256.Int).Mul(x, num)
	res.Div(res, den)
	if res.Gt(maxInt64) {
		return 0, ErrOverflow
	}
	return int64(res.Uint64()), nil
}
