// Package emergency реализует аварийный механизм пула: оценку здоровья
// источника доходности и машину состояний Normal/Paused/Emergency/Partial.
package emergency

import (
	"errors"
	"fmt"
	"time"

	"github.com/ndmitriev/prizepool-system/internal/model"
)

var (
	// ErrInvalidTransition возвращается при недопустимом ручном переходе состояния.
	ErrInvalidTransition = errors.New("invalid state transition")
	// ErrPoolPaused возвращается, когда пул на паузе отклоняет операцию.
	ErrPoolPaused = errors.New("pool is paused")
	// ErrDepositsDisabled возвращается на депозит в аварийном режиме.
	ErrDepositsDisabled = errors.New("deposits disabled in emergency mode")
	// ErrBelowMinimum возвращается на депозит меньше минимального.
	ErrBelowMinimum = errors.New("deposit below minimum")
	// ErrAboveDepositCap возвращается на депозит выше лимита частичного режима.
	ErrAboveDepositCap = errors.New("deposit above partial mode cap")
)

// autoRecoveryHealth — здоровье, при котором восстановление срабатывает немедленно.
const autoRecoveryHealth = 0.9

// Config — неизменяемые параметры аварийного механизма.
type Config struct {
	// MinHealthScore — здоровье, ниже которого срабатывает авто-переход в аварийный режим.
	MinHealthScore float64
	// MaxConsecutiveFailures — число подряд неудачных выводов для авто-перехода.
	MaxConsecutiveFailures int
	// BalanceThreshold — доля totalStaked, которую баланс источника обязан покрывать.
	BalanceThreshold float64
	// AutoRecoveryEnabled разрешает автоматический выход из аварийного режима.
	AutoRecoveryEnabled bool
	// MinRecoveryHealth — минимальное здоровье для восстановления по истечении MaxEmergencyDuration.
	MinRecoveryHealth float64
	// MaxEmergencyDuration — срок, после которого восстановление допускается при пониженном здоровье.
	MaxEmergencyDuration time.Duration
	// PartialModeDepositCap — потолок депозита в частичном режиме, базовые единицы.
	PartialModeDepositCap int64
}

// DefaultConfig возвращает параметры аварийного механизма по умолчанию.
func DefaultConfig() Config {
	return Config{
		MinHealthScore:         0.5,
		MaxConsecutiveFailures: 3,
		BalanceThreshold:       0.95,
		AutoRecoveryEnabled:    true,
		MinRecoveryHealth:      0.5,
		MaxEmergencyDuration:   24 * time.Hour,
		PartialModeDepositCap:  100_00,
	}
}

// Machine — машина аварийных состояний пула.
type Machine struct {
	config    Config
	state     model.PoolState
	reason    string
	enteredAt time.Time

	consecutiveFailures int
}

// NewMachine создаёт машину в обычном режиме.
func NewMachine(cfg Config) *Machine {
	return &Machine{config: cfg, state: model.PoolStateNormal}
}

// State возвращает текущее состояние.
func (m *Machine) State() model.PoolState { return m.state }

// Reason возвращает причину последнего перехода из обычного режима.
func (m *Machine) Reason() string { return m.reason }

// EnteredAt возвращает момент последнего перехода из обычного режима.
func (m *Machine) EnteredAt() time.Time { return m.enteredAt }

// Config возвращает параметры механизма.
func (m *Machine) Config() Config { return m.config }

// ConsecutiveFailures возвращает число подряд неудачных выводов.
func (m *Machine) ConsecutiveFailures() int { return m.consecutiveFailures }

// RecordWithdrawFailure фиксирует неудачный вывод. Счётчик растёт только в
// обычном режиме: деградировавший пул не набирает повторные срабатывания.
func (m *Machine) RecordWithdrawFailure() {
	if m.state == model.PoolStateNormal {
		m.consecutiveFailures++
	}
}

// ResetFailures сбрасывает счётчик после успешного вывода.
func (m *Machine) ResetFailures() {
	m.consecutiveFailures = 0
}

// HealthScore оценивает здоровье источника доходности:
// половина веса — покрытие totalStaked балансом, половина — история выводов.
func (m *Machine) HealthScore(sourceBalance, totalStaked int64) float64 {
	balanceOK := 1.0
	if totalStaked > 0 && float64(sourceBalance) < m.config.BalanceThreshold*float64(totalStaked) {
		balanceOK = 0.0
	}
	return 0.5*balanceOK + 0.5*(1.0/float64(1+m.consecutiveFailures))
}

// CheckAutoTrigger выполняет автоматический переход Normal -> EmergencyMode
// при просевшем здоровье или превышении лимита неудачных выводов.
// Возвращает true, если переход произошёл.
func (m *Machine) CheckAutoTrigger(sourceBalance, totalStaked int64, now time.Time) bool {
	if m.state != model.PoolStateNormal {
		return false
	}
	health := m.HealthScore(sourceBalance, totalStaked)
	if health >= m.config.MinHealthScore && m.consecutiveFailures < m.config.MaxConsecutiveFailures {
		return false
	}
	m.state = model.PoolStateEmergency
	m.reason = fmt.Sprintf("auto trigger: health %.2f, consecutive failures %d", health, m.consecutiveFailures)
	m.enteredAt = now
	return true
}

// CheckAutoRecovery выполняет автоматический переход EmergencyMode -> Normal:
// немедленно при здоровье от 0.9, либо по истечении MaxEmergencyDuration при
// здоровье не ниже MinRecoveryHealth. Возвращает true, если переход произошёл.
func (m *Machine) CheckAutoRecovery(sourceBalance, totalStaked int64, now time.Time) bool {
	if m.state != model.PoolStateEmergency || !m.config.AutoRecoveryEnabled {
		return false
	}
	health := m.HealthScore(sourceBalance, totalStaked)
	if health >= autoRecoveryHealth {
		m.recover()
		return true
	}
	if now.Sub(m.enteredAt) >= m.config.MaxEmergencyDuration && health >= m.config.MinRecoveryHealth {
		m.recover()
		return true
	}
	return false
}

func (m *Machine) recover() {
	m.state = model.PoolStateNormal
	m.reason = ""
	m.consecutiveFailures = 0
}

// SetState выполняет ручной переход. Допустимы только переходы из Normal в
// любой из деградированных режимов и из любого режима обратно в Normal.
func (m *Machine) SetState(state model.PoolState, reason string, now time.Time) error {
	if state == m.state {
		return fmt.Errorf("%w: already in %s", ErrInvalidTransition, state)
	}
	switch state {
	case model.PoolStateNormal:
		m.recover()
		return nil
	case model.PoolStatePaused, model.PoolStateEmergency, model.PoolStatePartial:
		if m.state != model.PoolStateNormal {
			return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, m.state, state)
		}
		m.state = state
		m.reason = reason
		m.enteredAt = now
		return nil
	default:
		return fmt.Errorf("%w: unknown state %q", ErrInvalidTransition, state)
	}
}

// CanDeposit проверяет допустимость депозита amount в текущем состоянии.
func (m *Machine) CanDeposit(amount, minDeposit int64) error {
	switch m.state {
	case model.PoolStateNormal:
		if amount < minDeposit {
			return fmt.Errorf("%w: amount %d, minimum %d", ErrBelowMinimum, amount, minDeposit)
		}
		return nil
	case model.PoolStatePartial:
		if amount > m.config.PartialModeDepositCap {
			return fmt.Errorf("%w: amount %d, cap %d", ErrAboveDepositCap, amount, m.config.PartialModeDepositCap)
		}
		return nil
	case model.PoolStateEmergency:
		return ErrDepositsDisabled
	default:
		return ErrPoolPaused
	}
}

// CanWithdraw проверяет допустимость вывода: отклоняется только пауза.
func (m *Machine) CanWithdraw() error {
	if m.state == model.PoolStatePaused {
		return ErrPoolPaused
	}
	return nil
}
