// Package yieldsource описывает контракт внешнего источника доходности
// и содержит его реализации: встроенное симулируемое хранилище и
// HTTP-адаптер к внешнему сервису.
package yieldsource

import "sync"

// Source — контракт источника доходности, потребляемый пулом.
// Вызовы считаются потенциально неуспешными: депозит — best-effort,
// ноль из WithdrawAvailable — корректный итог "сейчас неликвиден".
type Source interface {
	// Balance возвращает полный баланс средств пула в источнике.
	Balance() int64
	// DepositCapacity передаёт amount в источник без гарантий: источником
	// истины служит баланс после вызова.
	DepositCapacity(amount int64)
	// MinimumAvailable возвращает ликвидность, доступную к выводу сейчас;
	// оценка может быть консервативно занижена.
	MinimumAvailable() int64
	// WithdrawAvailable выводит не более maxAmount и возвращает фактическую сумму.
	WithdrawAvailable(maxAmount int64) int64
}

// SimulatedVault — встроенный источник доходности с управляемой ликвидностью.
// Используется при отсутствии внешнего адреса и в тестах.
type SimulatedVault struct {
	mu             sync.Mutex
	balance        int64
	liquidityRatio float64
}

// NewSimulatedVault создаёт источник с полной ликвидностью.
func NewSimulatedVault() *SimulatedVault {
	return &SimulatedVault{liquidityRatio: 1.0}
}

// Balance возвращает полный баланс хранилища.
func (v *SimulatedVault) Balance() int64 {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.balance
}

// DepositCapacity зачисляет amount в хранилище.
func (v *SimulatedVault) DepositCapacity(amount int64) {
	if amount <= 0 {
		return
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	v.balance += amount
}

// MinimumAvailable возвращает ликвидную часть баланса.
func (v *SimulatedVault) MinimumAvailable() int64 {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.available()
}

// WithdrawAvailable выводит не более maxAmount из ликвидной части.
func (v *SimulatedVault) WithdrawAvailable(maxAmount int64) int64 {
	if maxAmount <= 0 {
		return 0
	}
	v.mu.Lock()
	defer v.mu.Unlock()

	actual := v.available()
	if actual > maxAmount {
		actual = maxAmount
	}
	v.balance -= actual
	return actual
}

// AddYield симулирует начисление доходности источником.
func (v *SimulatedVault) AddYield(amount int64) {
	if amount <= 0 {
		return
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	v.balance += amount
}

// SetLiquidityRatio задаёт долю баланса, доступную к выводу (0..1).
func (v *SimulatedVault) SetLiquidityRatio(ratio float64) {
	if ratio < 0 {
		ratio = 0
	}
	if ratio > 1 {
		ratio = 1
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	v.liquidityRatio = ratio
}

func (v *SimulatedVault) available() int64 {
	return int64(float64(v.balance) * v.liquidityRatio)
}
