// Package randomness реализует источник случайности по схеме commit/reveal:
// запрос фиксируется в текущем блоке, значение доступно только после его
// финализации.
package randomness

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrNotFinalized возвращается, пока блок с запросом не финализирован.
	ErrNotFinalized = errors.New("commit block not finalized yet")
	// ErrUnknownRequest возвращается для неизвестного или уже использованного запроса.
	ErrUnknownRequest = errors.New("unknown randomness request")
)

// Source — контракт источника случайности для двухфазного розыгрыша.
type Source interface {
	// RequestRandomness фиксирует запрос и возвращает его идентификатор.
	RequestRandomness() (string, error)
	// FulfillRandomRequest раскрывает значение запроса; до финализации
	// блока запроса возвращает ErrNotFinalized. Запрос потребляется один раз.
	FulfillRandomRequest(requestID string) (uint64, error)
}

// BlockSource — встроенный источник с симулируемой высотой блока:
// высота растёт с течением времени, значение выводится из секрета
// источника и "хеша" блока, следующего за блоком запроса.
type BlockSource struct {
	mu            sync.Mutex
	secret        [32]byte
	genesis       time.Time
	blockInterval time.Duration
	requests      map[string]uint64

	now func() time.Time
}

// NewBlockSource создаёт источник с указанным интервалом блока.
func NewBlockSource(blockInterval time.Duration) *BlockSource {
	s := &BlockSource{
		genesis:       time.Now(),
		blockInterval: blockInterval,
		requests:      make(map[string]uint64),
		now:           time.Now,
	}
	_, _ = rand.Read(s.secret[:])
	return s
}

func (s *BlockSource) height() uint64 {
	elapsed := s.now().Sub(s.genesis)
	if elapsed < 0 {
		return 0
	}
	return uint64(elapsed / s.blockInterval)
}

// RequestRandomness фиксирует запрос в текущем блоке.
func (s *BlockSource) RequestRandomness() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := uuid.NewString()
	s.requests[id] = s.height()
	return id, nil
}

// FulfillRandomRequest раскрывает значение после финализации блока запроса.
func (s *BlockSource) FulfillRandomRequest(requestID string) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	commitBlock, ok := s.requests[requestID]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrUnknownRequest, requestID)
	}
	if s.height() <= commitBlock {
		return 0, ErrNotFinalized
	}

	h := sha256.New()
	h.Write(s.secret[:])
	h.Write([]byte(requestID))
	var block [8]byte
	binary.BigEndian.PutUint64(block[:], commitBlock+1)
	h.Write(block[:])

	delete(s.requests, requestID)
	return binary.BigEndian.Uint64(h.Sum(nil)[:8]), nil
}
