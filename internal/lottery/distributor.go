// Package lottery реализует призовой фонд пула: денежное хранилище,
// эскроу NFT-призов и очереди призов, ожидающих получения.
package lottery

import (
	"errors"
	"fmt"
	"sort"

	"github.com/ndmitriev/prizepool-system/internal/model"
	"github.com/ndmitriev/prizepool-system/internal/yieldsource"
)

var (
	// ErrInsufficientPrizePool возвращается, если приз не покрывается ни живым
	// источником доходности, ни статическим хранилищем.
	ErrInsufficientPrizePool = errors.New("prize pool cannot cover award")
	// ErrInvalidIndex возвращается при получении NFT по несуществующему индексу очереди.
	ErrInvalidIndex = errors.New("pending prize index out of range")
	// ErrNFTNotFound возвращается при обращении к отсутствующему в эскроу NFT.
	ErrNFTNotFound = errors.New("nft prize not found")
	// ErrNFTExists возвращается при повторном депозите NFT с тем же идентификатором.
	ErrNFTExists = errors.New("nft prize already escrowed")
)

// Distributor — призовой фонд: денежное хранилище и эскроу NFT.
// Мутируется только владеющим пулом.
type Distributor struct {
	vault     int64
	nftPrizes map[uint64]model.NFTPrize
	pending   map[int64][]model.NFTPrize
}

// NewDistributor создаёт пустой призовой фонд.
func NewDistributor() *Distributor {
	return &Distributor{
		nftPrizes: make(map[uint64]model.NFTPrize),
		pending:   make(map[int64][]model.NFTPrize),
	}
}

// Vault возвращает баланс денежного призового хранилища.
func (d *Distributor) Vault() int64 { return d.vault }

// FundPrizePool зачисляет amount в призовое хранилище: спонсорское
// финансирование или материализованная доходность розыгрыша.
func (d *Distributor) FundPrizePool(amount int64) {
	if amount <= 0 {
		return
	}
	d.vault += amount
}

// AwardPrize покрывает приз amount, предпочитая живой источник доходности:
// средства продолжают приносить доход до момента выплаты. Хранилище
// расходуется только на недостающую часть. Возвращает сумму, изъятую из
// живого источника (остальное списано с хранилища).
func (d *Distributor) AwardPrize(amount int64, source yieldsource.Source) (int64, error) {
	if amount <= 0 {
		return 0, nil
	}

	available := int64(0)
	if source != nil {
		available = source.MinimumAvailable()
	}
	fromSource := amount
	if fromSource > available {
		fromSource = available
	}
	shortfall := amount - fromSource
	if shortfall > d.vault {
		return 0, fmt.Errorf("%w: amount %d, live %d, vault %d", ErrInsufficientPrizePool, amount, available, d.vault)
	}

	if fromSource > 0 {
		actual := source.WithdrawAvailable(fromSource)
		// Источник мог отдать меньше заявленного: добираем из хранилища.
		if actual < fromSource {
			extra := fromSource - actual
			if shortfall+extra > d.vault {
				return actual, fmt.Errorf("%w: source honored %d of %d", ErrInsufficientPrizePool, actual, fromSource)
			}
			shortfall += extra
			fromSource = actual
		}
	}

	d.vault -= shortfall
	return fromSource, nil
}

// DepositNFTPrize помещает NFT в эскроу доступных призов.
func (d *Distributor) DepositNFTPrize(prize model.NFTPrize) error {
	if _, ok := d.nftPrizes[prize.ID]; ok {
		return fmt.Errorf("%w: id %d", ErrNFTExists, prize.ID)
	}
	d.nftPrizes[prize.ID] = prize
	return nil
}

// WithdrawNFTPrize изымает NFT из эскроу доступных призов.
func (d *Distributor) WithdrawNFTPrize(id uint64) (model.NFTPrize, error) {
	prize, ok := d.nftPrizes[id]
	if !ok {
		return model.NFTPrize{}, fmt.Errorf("%w: id %d", ErrNFTNotFound, id)
	}
	delete(d.nftPrizes, id)
	return prize, nil
}

// HasNFTPrize сообщает, доступен ли NFT с данным идентификатором.
func (d *Distributor) HasNFTPrize(id uint64) bool {
	_, ok := d.nftPrizes[id]
	return ok
}

// AvailableNFTIDs возвращает отсортированные идентификаторы доступных NFT.
func (d *Distributor) AvailableNFTIDs() []uint64 {
	ids := make([]uint64, 0, len(d.nftPrizes))
	for id := range d.nftPrizes {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// StorePendingNFT откладывает выигранный NFT в очередь получателя.
// Розыгрыш не выполняет атомарную передачу: получение — отдельный шаг.
func (d *Distributor) StorePendingNFT(userID int64, prize model.NFTPrize) {
	d.pending[userID] = append(d.pending[userID], prize)
}

// PendingNFTs возвращает копию очереди призов получателя.
func (d *Distributor) PendingNFTs(userID int64) []model.NFTPrize {
	queue := d.pending[userID]
	out := make([]model.NFTPrize, len(queue))
	copy(out, queue)
	return out
}

// ClaimPendingNFT выдаёт получателю приз по индексу очереди.
func (d *Distributor) ClaimPendingNFT(userID int64, index int) (model.NFTPrize, error) {
	queue := d.pending[userID]
	if index < 0 || index >= len(queue) {
		return model.NFTPrize{}, fmt.Errorf("%w: index %d, queue length %d", ErrInvalidIndex, index, len(queue))
	}
	prize := queue[index]
	d.pending[userID] = append(queue[:index], queue[index+1:]...)
	return prize, nil
}
