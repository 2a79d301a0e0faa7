// Package pool реализует оркестратор призового накопительного пула:
// депозиты, выводы, обработку доходности и двухфазный розыгрыш.
//
// Все операции выполняются как дискретные последовательные транзакции над
// общим состоянием: мьютекс гарантирует, что ни один вызов не видит
// частично обновлённый реестр. Единственное документированное исключение
// из принципа "всё или ничего" — частичный или нулевой вывод при
// неликвидном источнике доходности, который сам по себе является полным
// успешным итогом вызова.
package pool

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ndmitriev/prizepool-system/internal/emergency"
	"github.com/ndmitriev/prizepool-system/internal/ledger"
	"github.com/ndmitriev/prizepool-system/internal/lottery"
	"github.com/ndmitriev/prizepool-system/internal/model"
	"github.com/ndmitriev/prizepool-system/internal/randomness"
	"github.com/ndmitriev/prizepool-system/internal/savings"
	"github.com/ndmitriev/prizepool-system/internal/strategy"
	"github.com/ndmitriev/prizepool-system/internal/yieldsource"
)

var (
	// ErrInvalidAmount возвращается на неположительную сумму операции.
	ErrInvalidAmount = errors.New("amount must be positive")
	// ErrDrawInProgress возвращается при попытке начать розыгрыш поверх незавершённого.
	ErrDrawInProgress = errors.New("draw already in progress")
	// ErrNoDrawInProgress возвращается при завершении розыгрыша без квитанции.
	ErrNoDrawInProgress = errors.New("no draw in progress")
	// ErrDrawIntervalNotElapsed возвращается, если интервал с прошлого розыгрыша не истёк.
	ErrDrawIntervalNotElapsed = errors.New("draw interval has not elapsed")
	// ErrDrawNotAllowed возвращается при попытке розыгрыша вне обычного режима.
	ErrDrawNotAllowed = errors.New("draw requires normal state")
	// ErrEmptyPrizePool возвращается, если материализованный призовой фонд пуст.
	ErrEmptyPrizePool = errors.New("materialized prize pool is empty")
	// ErrEmergencyTriggered возвращается, если розыгрыш прерван аварийным срабатыванием.
	ErrEmergencyTriggered = errors.New("draw aborted by emergency trigger")
)

// TreasuryRecipient принимает казначейскую часть обработанной доходности.
type TreasuryRecipient interface {
	Forward(amount int64) error
}

// WinnerSink фиксирует победителей розыгрышей во внешнем хранилище.
type WinnerSink interface {
	RecordWinner(round uint64, winnerID int64, amount int64, nftIDs []uint64) error
}

// Config — параметры пула.
type Config struct {
	// MinDeposit — минимальный депозит в обычном режиме, базовые единицы.
	MinDeposit int64
	// DrawInterval — минимальный интервал между розыгрышами.
	DrawInterval time.Duration
}

// Options — зависимости пула. Nil-поля заменяются безопасными значениями
// по умолчанию, опциональные коллабораторы остаются пустыми.
type Options struct {
	Logger       *zap.Logger
	Source       yieldsource.Source
	Random       randomness.Source
	Distribution strategy.DistributionStrategy
	Winners      strategy.WinnerSelectionStrategy
	Emergency    emergency.Config
	WinnerSink   WinnerSink
	Treasury     TreasuryRecipient
	Clock        func() time.Time
}

// Pool — оркестратор пула. Владеет реестрами и инвариантами учёта:
// totalStaked >= totalDeposited (разница — реинвестированная доходность),
// totalStaked согласован с депозитами и выводами против источника.
type Pool struct {
	mu  sync.Mutex
	log *zap.Logger
	cfg Config

	savings   *savings.Distributor
	lottery   *lottery.Distributor
	emergency *emergency.Machine
	dist      strategy.DistributionStrategy
	winners   strategy.WinnerSelectionStrategy
	source    yieldsource.Source
	random    randomness.Source

	winnerSink WinnerSink
	treasury   TreasuryRecipient

	receipt      *model.PrizeDrawReceipt
	round        uint64
	lastDrawTime time.Time

	totalDeposited         int64
	totalStaked            int64
	pendingLotteryYield    int64
	totalTreasuryForwarded int64

	principal      map[int64]int64
	lifetimePrizes map[int64]int64
	bonusWeight    map[int64]int64
	registered     map[int64]bool

	now func() time.Time
}

// New создаёт пул с указанными параметрами и зависимостями.
func New(cfg Config, opts Options) *Pool {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	if opts.Source == nil {
		opts.Source = yieldsource.NewSimulatedVault()
	}
	now := opts.Clock()

	return &Pool{
		log:            opts.Logger,
		cfg:            cfg,
		savings:        savings.NewDistributor(now),
		lottery:        lottery.NewDistributor(),
		emergency:      emergency.NewMachine(opts.Emergency),
		dist:           opts.Distribution,
		winners:        opts.Winners,
		source:         opts.Source,
		random:         opts.Random,
		winnerSink:     opts.WinnerSink,
		treasury:       opts.Treasury,
		lastDrawTime:   now,
		principal:      make(map[int64]int64),
		lifetimePrizes: make(map[int64]int64),
		bonusWeight:    make(map[int64]int64),
		registered:     make(map[int64]bool),
		now:            opts.Clock,
	}
}

// Deposit вносит amount от имени userID. Перед чеканкой долей
// обрабатывается накопленная доходность, чтобы новый вкладчик не размывал
// доходность, принадлежащую существующим держателям.
func (p *Pool) Deposit(userID, amount int64) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if amount <= 0 {
		return ErrInvalidAmount
	}
	p.emergency.CheckAutoRecovery(p.source.Balance(), p.totalStaked, p.now())
	if err := p.emergency.CanDeposit(amount, p.cfg.MinDeposit); err != nil {
		return err
	}

	p.processRewardsLocked()

	shares, err := p.savings.Deposit(userID, amount, p.now())
	if err != nil {
		return fmt.Errorf("mint shares: %w", err)
	}

	p.source.DepositCapacity(amount)
	p.totalStaked += amount
	p.totalDeposited += amount
	p.principal[userID] += amount
	p.registered[userID] = true

	p.log.Info("deposit accepted",
		zap.Int64("userID", userID),
		zap.Int64("amount", amount),
		zap.Int64("shares", shares),
	)
	return nil
}

// Withdraw выводит amount в пользу userID. Ликвидность источника
// проверяется до любой мутации реестра: при неликвидном источнике вызов
// успешно завершается нулевым результатом, счётчик неудач растёт и может
// эскалировать в автоматический аварийный режим. При частичном
// удовлетворении доли сжигаются на фактически полученную сумму, причём
// доходная часть расходуется раньше основной.
func (p *Pool) Withdraw(userID, amount int64) (model.WithdrawalResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	result := model.WithdrawalResult{Requested: amount}

	if amount <= 0 {
		return result, ErrInvalidAmount
	}
	p.emergency.CheckAutoRecovery(p.source.Balance(), p.totalStaked, p.now())
	if err := p.emergency.CanWithdraw(); err != nil {
		return result, err
	}

	// Чистые проверки без мутаций: доли и достаточность баланса.
	if p.savings.Shares(userID) == 0 {
		return result, savings.ErrInsufficientShares
	}
	redeemable, err := p.savings.RedeemableValue(userID)
	if err != nil {
		return result, fmt.Errorf("redeemable value: %w", err)
	}
	if amount > redeemable {
		return result, fmt.Errorf("%w: requested %d, redeemable %d", savings.ErrInsufficientBalance, amount, redeemable)
	}

	if p.source.MinimumAvailable() <= 0 {
		return p.withdrawalFailedLocked(userID, result), nil
	}
	actual := p.source.WithdrawAvailable(amount)
	if actual <= 0 {
		return p.withdrawalFailedLocked(userID, result), nil
	}

	burned, err := p.savings.Withdraw(userID, actual, p.now())
	if err != nil {
		// Средства уже изъяты из источника: возвращаем их, чтобы
		// totalStaked остался согласованным с балансом источника.
		p.source.DepositCapacity(actual)
		return result, fmt.Errorf("burn shares: %w", err)
	}

	interest := redeemable - p.principal[userID]
	if interest < 0 {
		interest = 0
	}
	result.Actual = actual
	result.FromInterest = actual
	if result.FromInterest > interest {
		result.FromInterest = interest
	}
	result.FromPrincipal = actual - result.FromInterest

	p.totalStaked -= actual
	p.totalDeposited -= result.FromPrincipal
	p.principal[userID] -= result.FromPrincipal
	p.emergency.ResetFailures()

	p.log.Info("withdrawal completed",
		zap.Int64("userID", userID),
		zap.Int64("requested", amount),
		zap.Int64("actual", actual),
		zap.Int64("burnedShares", burned),
	)
	return result, nil
}

// withdrawalFailedLocked оформляет неликвидный вывод: сигнал, инкремент
// счётчика (только в обычном режиме) и нулевой успешный результат.
func (p *Pool) withdrawalFailedLocked(userID int64, result model.WithdrawalResult) model.WithdrawalResult {
	p.emergency.RecordWithdrawFailure()
	p.log.Warn("withdrawal failed: yield source illiquid",
		zap.Int64("userID", userID),
		zap.Int64("requested", result.Requested),
		zap.Int("consecutiveFailures", p.emergency.ConsecutiveFailures()),
	)
	if p.emergency.CheckAutoTrigger(p.source.Balance(), p.totalStaked, p.now()) {
		p.log.Warn("emergency mode auto-triggered", zap.String("reason", p.emergency.Reason()))
	}
	return result
}

// ProcessRewards собирает доходность источника и разбивает её по стратегии
// распределения. Нулевая доходность — no-op.
func (p *Pool) ProcessRewards() (model.DistributionPlan, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.processRewardsLocked(), nil
}

func (p *Pool) processRewardsLocked() model.DistributionPlan {
	if p.dist == nil {
		return model.DistributionPlan{}
	}

	balance := p.source.Balance()
	available := balance - p.totalStaked - p.pendingLotteryYield
	if available <= 0 {
		return model.DistributionPlan{}
	}

	plan := p.dist.CalculateDistribution(available)

	// Накопительная часть зачисляется в реестр и остаётся в источнике.
	if plan.Savings > 0 && p.savings.TotalShares() > 0 {
		p.savings.AccrueYield(plan.Savings)
		p.totalStaked += plan.Savings
	} else {
		// Без держателей долей накопительная часть остаётся в источнике
		// и вернётся в расчёт доступной доходности следующим вызовом.
		plan.Savings = 0
	}

	// Лотерейная часть остаётся в источнике и продолжает приносить доход
	// до материализации розыгрышем; учитывается виртуально.
	p.pendingLotteryYield += plan.Lottery

	// Казначейская часть выводится и пересылается только при настроенном
	// получателе, иначе остаётся в источнике до следующего расчёта.
	if plan.Treasury > 0 && p.treasury != nil {
		actual := p.source.WithdrawAvailable(plan.Treasury)
		if actual > 0 {
			if err := p.treasury.Forward(actual); err != nil {
				p.log.Error("treasury forward failed", zap.Error(err), zap.Int64("amount", actual))
				p.source.DepositCapacity(actual)
			} else {
				p.totalTreasuryForwarded += actual
			}
		}
	}

	p.log.Info("rewards processed",
		zap.Int64("available", available),
		zap.Int64("savings", plan.Savings),
		zap.Int64("lottery", plan.Lottery),
		zap.Int64("treasury", plan.Treasury),
	)
	return plan
}

// CheckEmergency прогоняет автоматические переходы аварийного механизма:
// срабатывание из обычного режима и восстановление из аварийного.
// Возвращает текущее состояние.
func (p *Pool) CheckEmergency() model.PoolState {
	p.mu.Lock()
	defer p.mu.Unlock()

	balance := p.source.Balance()
	now := p.now()
	if p.emergency.CheckAutoTrigger(balance, p.totalStaked, now) {
		p.log.Warn("emergency mode auto-triggered", zap.String("reason", p.emergency.Reason()))
	}
	if p.emergency.CheckAutoRecovery(balance, p.totalStaked, now) {
		p.log.Info("emergency mode auto-recovered")
	}
	return p.emergency.State()
}

// PreviewDeposit возвращает количество долей за депозит amount по текущему
// курсу, не изменяя состояние.
func (p *Pool) PreviewDeposit(amount int64) (int64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if amount <= 0 {
		return 0, ErrInvalidAmount
	}
	shares, err := ledger.ConvertToShares(amount, p.savings.TotalShares(), p.savings.TotalAssets())
	if err != nil {
		return 0, fmt.Errorf("convert to shares: %w", err)
	}
	return shares, nil
}
