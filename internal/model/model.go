// Package model содержит доменные сущности сервиса призовых накоплений.
package model

import (
	"time"

	"github.com/holiman/uint256"
)

// User представляет зарегистрированного вкладчика пула.
type User struct {
	ID           int64
	Login        string
	PasswordHash []byte
	CreatedAt    time.Time
}

// PoolState описывает режим работы пула.
type PoolState string

const (
	// PoolStateNormal — обычный режим: депозиты и выводы разрешены.
	PoolStateNormal PoolState = "NORMAL"
	// PoolStatePaused — пул на паузе: все операции отклоняются.
	PoolStatePaused PoolState = "PAUSED"
	// PoolStateEmergency — аварийный режим: депозиты запрещены, выводы разрешены.
	PoolStateEmergency PoolState = "EMERGENCY"
	// PoolStatePartial — частичный режим: депозиты ограничены лимитом.
	PoolStatePartial PoolState = "PARTIAL"
)

// DistributionPlan описывает разбиение собранной доходности на части.
// Все суммы в базовых единицах (сотых долях единицы актива).
type DistributionPlan struct {
	Savings  int64
	Lottery  int64
	Treasury int64
}

// Total возвращает сумму всех частей плана.
func (p DistributionPlan) Total() int64 {
	return p.Savings + p.Lottery + p.Treasury
}

// WinnerSelectionResult содержит результат выбора победителей розыгрыша.
// Списки выровнены по индексу: Winners[i] получает Amounts[i] и NFTIDs[i].
type WinnerSelectionResult struct {
	Winners []int64
	Amounts []int64
	NFTIDs  [][]uint64
}

// IsEmpty сообщает, что победители не выбраны.
func (r WinnerSelectionResult) IsEmpty() bool {
	return len(r.Winners) == 0
}

// PrizeDrawReceipt фиксирует начатый розыгрыш между startDraw и completeDraw.
// Снимок ставок и сумма приза уже зафиксированы, осталось дождаться случайности.
type PrizeDrawReceipt struct {
	Round       uint64
	PrizeAmount int64
	Stakes      map[int64]*uint256.Int
	RequestID   string
	RequestedAt time.Time
	NFTIDs      []uint64
}

// WithdrawalResult описывает фактический итог запроса на вывод.
// Actual == 0 — корректный успешный итог при неликвидном источнике доходности.
type WithdrawalResult struct {
	Requested     int64
	Actual        int64
	FromInterest  int64
	FromPrincipal int64
}

// NFTPrize описывает невзаимозаменяемый приз, находящийся на хранении пула.
type NFTPrize struct {
	ID          uint64
	Name        string
	Description string
}

// Balance содержит текущее состояние вкладчика в пуле.
type Balance struct {
	Deposits       float64 `json:"deposits"`
	ShareValue     float64 `json:"share_value"`
	Shares         int64   `json:"shares"`
	LifetimePrizes float64 `json:"lifetime_prizes"`
}

// PoolStats содержит агрегированную статистику пула.
type PoolStats struct {
	State               PoolState `json:"state"`
	TotalDeposited      float64   `json:"total_deposited"`
	TotalStaked         float64   `json:"total_staked"`
	PendingLotteryYield float64   `json:"pending_lottery_yield"`
	PrizeVault          float64   `json:"prize_vault"`
	RegisteredUserCount int       `json:"registered_user_count"`
	Round               uint64    `json:"round"`
}

// DrawStatus содержит состояние протокола розыгрыша.
type DrawStatus struct {
	IsDrawInProgress bool      `json:"is_draw_in_progress"`
	CanDrawNow       bool      `json:"can_draw_now"`
	Round            uint64    `json:"round"`
	LastDrawTime     time.Time `json:"last_draw_time"`
	NextDrawTime     time.Time `json:"next_draw_time"`
}

// TreasuryStats содержит статистику казначейской части доходности.
type TreasuryStats struct {
	HasRecipient   bool    `json:"has_recipient"`
	TotalForwarded float64 `json:"total_forwarded"`
}

// EmergencyInfo содержит состояние аварийного механизма пула.
type EmergencyInfo struct {
	State                 PoolState `json:"state"`
	IsNormal              bool      `json:"is_normal"`
	HealthScore           float64   `json:"health_score"`
	ConsecutiveFailures   int       `json:"consecutive_failures"`
	Reason                string    `json:"reason,omitempty"`
	EnteredAt             time.Time `json:"entered_at,omitzero"`
	AutoRecoveryEnabled   bool      `json:"auto_recovery_enabled"`
	PartialModeDepositCap float64   `json:"partial_mode_deposit_cap,omitempty"`
}

// DrawOutcome описывает завершённый раунд розыгрыша для журнала и событий.
type DrawOutcome struct {
	Round       uint64
	PrizeAmount int64
	Winners     []int64
	Amounts     []int64
	NFTIDs      [][]uint64
	CompletedAt time.Time
}

// OperationType описывает тип операции в журнале пула.
type OperationType string

const (
	OperationDeposit        OperationType = "DEPOSIT"
	OperationWithdraw       OperationType = "WITHDRAW"
	OperationWithdrawFailed OperationType = "WITHDRAW_FAILED"
	OperationYield          OperationType = "YIELD"
	OperationPrize          OperationType = "PRIZE"
	OperationTreasury       OperationType = "TREASURY"
)

// Operation описывает одну запись журнала операций пула.
type Operation struct {
	UserID      int64
	Type        OperationType
	Amount      float64
	ProcessedAt time.Time
}
