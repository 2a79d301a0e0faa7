// Package savings реализует долевой реестр накопительной части пула
// и накопитель взвешенной по времени ставки (TWAB) для розыгрышей.
package savings

import (
	"errors"
	"fmt"
	"time"

	"github.com/holiman/uint256"

	"github.com/ndmitriev/prizepool-system/internal/ledger"
)

var (
	// ErrInsufficientShares возвращается при выводе без долей на счёте.
	ErrInsufficientShares = errors.New("receiver has no shares")
	// ErrInsufficientBalance возвращается, если сумма вывода превышает стоимость долей.
	ErrInsufficientBalance = errors.New("withdrawal exceeds redeemable balance")
	// ErrInvalidState возвращается при выводе из реестра с нулевыми итогами.
	ErrInvalidState = errors.New("ledger totals are zero")
	// ErrAmountTooSmall возвращается, если депозит округляется в ноль долей.
	ErrAmountTooSmall = errors.New("deposit converts to zero shares")
)

// account хранит доли вкладчика и его TWAB-накопитель текущей эпохи.
// Поле epochID служит штампом версии: несовпадение с эпохой реестра
// означает, что накопитель устарел и лениво обнуляется при первом касании.
type account struct {
	shares     int64
	cumulative *uint256.Int
	lastUpdate int64
	epochID    uint64
}

// Distributor — долевой реестр: totalShares/totalAssets плюс TWAB-подсистема.
// Мутируется только владеющим пулом, собственной блокировки не имеет.
type Distributor struct {
	totalShares int64
	totalAssets int64
	accounts    map[int64]*account

	epochID    uint64
	epochStart int64
}

// NewDistributor создаёт пустой реестр с началом первой эпохи в момент now.
func NewDistributor(now time.Time) *Distributor {
	return &Distributor{
		accounts:   make(map[int64]*account),
		epochID:    1,
		epochStart: now.Unix(),
	}
}

// TotalShares возвращает общее количество долей в обращении.
func (d *Distributor) TotalShares() int64 { return d.totalShares }

// TotalAssets возвращает стоимость активов, принадлежащих вкладчикам.
func (d *Distributor) TotalAssets() int64 { return d.totalAssets }

// EpochID возвращает номер текущей эпохи.
func (d *Distributor) EpochID() uint64 { return d.epochID }

// EpochStart возвращает момент начала текущей эпохи.
func (d *Distributor) EpochStart() time.Time { return time.Unix(d.epochStart, 0) }

// Shares возвращает количество долей вкладчика.
func (d *Distributor) Shares(userID int64) int64 {
	if acc, ok := d.accounts[userID]; ok {
		return acc.shares
	}
	return 0
}

// RedeemableValue возвращает стоимость долей вкладчика без виртуального смещения.
func (d *Distributor) RedeemableValue(userID int64) (int64, error) {
	acc, ok := d.accounts[userID]
	if !ok {
		return 0, nil
	}
	return ledger.RedeemableAssets(acc.shares, d.totalShares, d.totalAssets)
}

// Deposit чеканит доли за amount по текущему курсу с виртуальным смещением.
// Перед чеканкой фиксируется накопленное время вкладчика.
func (d *Distributor) Deposit(userID, amount int64, now time.Time) (int64, error) {
	shares, err := ledger.ConvertToShares(amount, d.totalShares, d.totalAssets)
	if err != nil {
		return 0, fmt.Errorf("convert to shares: %w", err)
	}
	if shares == 0 {
		return 0, ErrAmountTooSmall
	}

	acc := d.account(userID)
	d.accumulate(acc, now.Unix())

	acc.shares += shares
	d.totalShares += shares
	d.totalAssets += amount
	return shares, nil
}

// Withdraw сжигает доли на сумму amount (без виртуального смещения при расчёте).
// Возвращает количество сожжённых долей.
func (d *Distributor) Withdraw(userID, amount int64, now time.Time) (int64, error) {
	acc, ok := d.accounts[userID]
	if !ok || acc.shares == 0 {
		return 0, ErrInsufficientShares
	}
	if d.totalShares == 0 || d.totalAssets == 0 {
		return 0, ErrInvalidState
	}

	redeemable, err := ledger.RedeemableAssets(acc.shares, d.totalShares, d.totalAssets)
	if err != nil {
		return 0, fmt.Errorf("redeemable assets: %w", err)
	}
	if amount > redeemable {
		return 0, fmt.Errorf("%w: requested %d, redeemable %d", ErrInsufficientBalance, amount, redeemable)
	}

	burn, err := ledger.SharesForWithdrawal(amount, d.totalShares, d.totalAssets)
	if err != nil {
		return 0, fmt.Errorf("shares for withdrawal: %w", err)
	}
	if burn > acc.shares {
		burn = acc.shares
	}

	d.accumulate(acc, now.Unix())

	acc.shares -= burn
	d.totalShares -= burn
	d.totalAssets -= amount
	return burn, nil
}

// AccrueYield увеличивает totalAssets без чеканки долей: так внешняя
// доходность поднимает цену доли для всех. Без долей в обращении — no-op,
// чтобы доходность не осталась без претендентов.
func (d *Distributor) AccrueYield(amount int64) {
	if amount <= 0 || d.totalShares == 0 {
		return
	}
	d.totalAssets += amount
}

// AccumulateTime фиксирует накопленное время вкладчика на момент now.
func (d *Distributor) AccumulateTime(userID int64, now time.Time) {
	if acc, ok := d.accounts[userID]; ok {
		d.accumulate(acc, now.Unix())
	}
}

// StartNewPeriod открывает новую эпоху с началом в момент now.
// Накопители вкладчиков не обнуляются немедленно: штамп эпохи
// инвалидирует их лениво при следующем касании.
func (d *Distributor) StartNewPeriod(now time.Time) {
	d.epochID++
	d.epochStart = now.Unix()
}

// CalculateStakeAtTime возвращает проекцию ставки вкладчика на момент at,
// не изменяя состояние. Используется для оценки без мутации реестра.
func (d *Distributor) CalculateStakeAtTime(userID int64, at time.Time) *uint256.Int {
	acc, ok := d.accounts[userID]
	if !ok {
		return uint256.NewInt(0)
	}

	stake := uint256.NewInt(0)
	from := d.epochStart
	if acc.epochID == d.epochID {
		stake.Set(acc.cumulative)
		if acc.lastUpdate > from {
			from = acc.lastUpdate
		}
	}

	target := at.Unix()
	if target > from && acc.shares > 0 {
		delta := new(uint256.Int).Mul(
			uint256.NewInt(uint64(acc.shares)),
			uint256.NewInt(uint64(target-from)),
		)
		stake.Add(stake, delta)
	}
	return stake
}

// SnapshotStakes фиксирует время всех вкладчиков на момент now и возвращает
// копию их накопленных ставок текущей эпохи.
func (d *Distributor) SnapshotStakes(now time.Time) map[int64]*uint256.Int {
	ts := now.Unix()
	snapshot := make(map[int64]*uint256.Int, len(d.accounts))
	for userID, acc := range d.accounts {
		d.accumulate(acc, ts)
		snapshot[userID] = new(uint256.Int).Set(acc.cumulative)
	}
	return snapshot
}

func (d *Distributor) account(userID int64) *account {
	acc, ok := d.accounts[userID]
	if !ok {
		acc = &account{
			cumulative: uint256.NewInt(0),
			lastUpdate: d.epochStart,
			epochID:    d.epochID,
		}
		d.accounts[userID] = acc
	}
	return acc
}

// accumulate добавляет shares*elapsed к накопителю. Отсчёт ведётся от
// позднего из (начало эпохи, последнее обновление), поэтому накопление
// никогда не пересекает границу эпох.
func (d *Distributor) accumulate(acc *account, now int64) {
	if acc.epochID != d.epochID {
		acc.cumulative.Clear()
		acc.epochID = d.epochID
		acc.lastUpdate = d.epochStart
	}

	from := d.epochStart
	if acc.lastUpdate > from {
		from = acc.lastUpdate
	}
	if now > from {
		if acc.shares > 0 {
			delta := new(uint256.Int).Mul(
				uint256.NewInt(uint64(acc.shares)),
				uint256.NewInt(uint64(now-from)),
			)
			acc.cumulative.Add(acc.cumulative, delta)
		}
		acc.lastUpdate = now
	}
}
