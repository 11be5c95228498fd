package quotecache

import (
	"math"
	"sync/atomic"
	"time"

	"deal_guardian/internal/models"
)

// Field — имя поля котировки в тиковых апдейтах.
type Field string

const (
	FieldBid  Field = "bid"
	FieldAsk  Field = "ask"
	FieldLast Field = "last"

	FieldBidSize      Field = "bid_size"
	FieldAskSize      Field = "ask_size"
	FieldVolume       Field = "volume"
	FieldOpenInterest Field = "open_interest"
)

// quoteEntry держит каждое поле отдельным атомиком: тиковый писатель
// публикует одно поле одним atomic store, читатель собирает снэпшот
// атомарными load'ами. Ни одна сторона не берёт локов — читатель может
// увидеть поля из разных тиков, но никогда порванное значение.
type quoteEntry struct {
	bid  atomic.Uint64
	ask  atomic.Uint64
	last atomic.Uint64

	bidSize      atomic.Uint64
	askSize      atomic.Uint64
	volume       atomic.Uint64
	openInterest atomic.Uint64

	iv    atomic.Uint64
	delta atomic.Uint64
	gamma atomic.Uint64
	vega  atomic.Uint64
	theta atomic.Uint64

	updatedNano atomic.Int64 // 0 = ещё не было ни одного тика
}

func storeF(a *atomic.Uint64, v float64) { a.Store(math.Float64bits(v)) }
func loadF(a *atomic.Uint64) float64     { return math.Float64frombits(a.Load()) }

func (e *quoteEntry) touch() { e.updatedNano.Store(time.Now().UnixNano()) }

func (e *quoteEntry) set(f Field, v float64) bool {
	switch f {
	case FieldBid:
		storeF(&e.bid, v)
	case FieldAsk:
		storeF(&e.ask, v)
	case FieldLast:
		storeF(&e.last, v)
	case FieldBidSize:
		storeF(&e.bidSize, v)
	case FieldAskSize:
		storeF(&e.askSize, v)
	case FieldVolume:
		storeF(&e.volume, v)
	case FieldOpenInterest:
		storeF(&e.openInterest, v)
	default:
		return false
	}
	e.touch()
	return true
}

func (e *quoteEntry) setGreeks(iv, delta, gamma, vega, theta float64) {
	storeF(&e.iv, iv)
	storeF(&e.delta, delta)
	storeF(&e.gamma, gamma)
	storeF(&e.vega, vega)
	storeF(&e.theta, theta)
	e.touch()
}

func (e *quoteEntry) snapshot() models.Quote {
	q := models.Quote{
		Bid:          loadF(&e.bid),
		Ask:          loadF(&e.ask),
		Last:         loadF(&e.last),
		BidSize:      loadF(&e.bidSize),
		AskSize:      loadF(&e.askSize),
		Volume:       loadF(&e.volume),
		OpenInterest: loadF(&e.openInterest),
		IV:           loadF(&e.iv),
		Delta:        loadF(&e.delta),
		Gamma:        loadF(&e.gamma),
		Vega:         loadF(&e.vega),
		Theta:        loadF(&e.theta),
	}
	if n := e.updatedNano.Load(); n != 0 {
		q.UpdatedAt = time.Unix(0, n)
	}
	return q
}
