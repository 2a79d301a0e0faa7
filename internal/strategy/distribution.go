// Package strategy содержит стратегии пула: разбиение доходности на части
// и выбор победителей розыгрыша по взвешенным по времени ставкам.
package strategy

import (
	"errors"
	"fmt"
	"math"

	"github.com/ndmitriev/prizepool-system/internal/model"
)

// ErrInvalidPercentages возвращается, если доли распределения не образуют ровно единицу.
var ErrInvalidPercentages = errors.New("percentages must sum to exactly 1.0")

const percentTolerance = 1e-9

// DistributionStrategy разбивает собранную доходность на накопительную,
// лотерейную и казначейскую части.
type DistributionStrategy interface {
	CalculateDistribution(totalAmount int64) model.DistributionPlan
}

// FixedRatioDistribution — чистое мультипликативное разбиение по
// фиксированным долям, сумма которых обязана равняться 1.0.
type FixedRatioDistribution struct {
	savings  float64
	lottery  float64
	treasury float64
}

// NewFixedRatioDistribution создаёт разбиение и валидирует доли при конструировании.
func NewFixedRatioDistribution(savings, lottery, treasury float64) (*FixedRatioDistribution, error) {
	if savings < 0 || lottery < 0 || treasury < 0 {
		return nil, fmt.Errorf("%w: negative percentage", ErrInvalidPercentages)
	}
	if math.Abs(savings+lottery+treasury-1.0) > percentTolerance {
		return nil, fmt.Errorf("%w: got %.10f", ErrInvalidPercentages, savings+lottery+treasury)
	}
	return &FixedRatioDistribution{savings: savings, lottery: lottery, treasury: treasury}, nil
}

// CalculateDistribution разбивает totalAmount по долям. Казначейская часть
// получает остаток, поэтому сумма частей всегда равна totalAmount.
func (f *FixedRatioDistribution) CalculateDistribution(totalAmount int64) model.DistributionPlan {
	if totalAmount <= 0 {
		return model.DistributionPlan{}
	}
	savings := int64(math.Floor(float64(totalAmount) * f.savings))
	lottery := int64(math.Floor(float64(totalAmount) * f.lottery))
	return model.DistributionPlan{
		Savings:  savings,
		Lottery:  lottery,
		Treasury: totalAmount - savings - lottery,
	}
}
