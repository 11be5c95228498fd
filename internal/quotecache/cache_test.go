package quotecache

import (
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"deal_guardian/internal/models"
	"deal_guardian/pkg/logger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMain(m *testing.M) {
	if err := logger.Init(); err != nil {
		panic(err)
	}
	os.Exit(m.Run())
}

type fakeFeed struct {
	mu      sync.Mutex
	subs    map[int64]models.Contract
	cancels []int64
	failSub bool
}

func newFakeFeed() *fakeFeed {
	return &fakeFeed{subs: make(map[int64]models.Contract)}
}

func (f *fakeFeed) Subscribe(reqID int64, c models.Contract) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failSub {
		return fmt.Errorf("feed down")
	}
	f.subs[reqID] = c
	return nil
}

func (f *fakeFeed) Cancel(reqID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.subs, reqID)
	f.cancels = append(f.cancels, reqID)
	return nil
}

func (f *fakeFeed) liveSubs() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.subs)
}

func aapl() models.Contract {
	return models.Contract{Symbol: "AAPL", SecType: models.SecStock, Exchange: "SMART", Currency: "USD"}
}

func TestSubscribeIdempotent(t *testing.T) {
	feed := newFakeFeed()
	c := NewCache(feed, NewCountingLimiter(10))

	id1, err := c.Subscribe(aapl(), "AAPL")
	require.NoError(t, err)
	id2, err := c.Subscribe(aapl(), "AAPL")
	require.NoError(t, err)

	assert.Equal(t, id1, id2)
	assert.Equal(t, 1, feed.liveSubs())
	assert.Equal(t, 1, c.Len())
}

func TestSubscribeRefusedByLimiter(t *testing.T) {
	feed := newFakeFeed()
	c := NewCache(feed, NewCountingLimiter(1))

	_, err := c.Subscribe(aapl(), "AAPL")
	require.NoError(t, err)

	_, err = c.Subscribe(models.Contract{Symbol: "MSFT", SecType: models.SecStock}, "MSFT")
	require.ErrorIs(t, err, ErrRefused)

	// отказ не оставляет следов
	assert.Equal(t, 1, feed.liveSubs())
	_, ok := c.Get("MSFT")
	assert.False(t, ok)
}

func TestSubscribeFeedErrorReleasesSlot(t *testing.T) {
	feed := newFakeFeed()
	lim := NewCountingLimiter(1)
	c := NewCache(feed, lim)

	feed.failSub = true
	_, err := c.Subscribe(aapl(), "AAPL")
	require.Error(t, err)
	assert.Equal(t, 0, lim.Used())

	feed.failSub = false
	_, err = c.Subscribe(aapl(), "AAPL")
	require.NoError(t, err)
}

func TestUnsubscribe(t *testing.T) {
	feed := newFakeFeed()
	lim := NewCountingLimiter(5)
	c := NewCache(feed, lim)

	id, err := c.Subscribe(aapl(), "AAPL")
	require.NoError(t, err)

	c.Unsubscribe("AAPL")
	assert.Equal(t, 0, feed.liveSubs())
	assert.Equal(t, 0, lim.Used())
	assert.Contains(t, feed.cancels, id)

	_, ok := c.Get("AAPL")
	assert.False(t, ok)

	// повторная отписка — no-op
	c.Unsubscribe("AAPL")
}

func TestUpdateUnknownReqIDDropped(t *testing.T) {
	c := NewCache(newFakeFeed(), NewCountingLimiter(5))

	// reqID, которого никогда не было: молча пропускаем
	c.UpdatePrice(999, FieldBid, 1.23)
	c.UpdateGreeks(999, 0.3, 0.5, 0.1, 0.2, -0.05)
}

func TestResubscribeAllPreservesQuotes(t *testing.T) {
	feed := newFakeFeed()
	c := NewCache(feed, NewCountingLimiter(5))

	oldID, err := c.Subscribe(aapl(), "AAPL")
	require.NoError(t, err)

	c.UpdatePrice(oldID, FieldBid, 1.11)
	c.UpdatePrice(oldID, FieldAsk, 1.13)

	require.NoError(t, c.ResubscribeAll())

	newID, ok := c.Subscribed("AAPL")
	require.True(t, ok)
	assert.NotEqual(t, oldID, newID)

	// один живой фидовый id на ключ
	assert.Equal(t, 1, feed.liveSubs())

	// старые значения не потеряны
	q, ok := c.Get("AAPL")
	require.True(t, ok)
	assert.Equal(t, 1.11, q.Bid)
	assert.Equal(t, 1.13, q.Ask)

	// старый id мёртв, новый живой
	c.UpdatePrice(oldID, FieldBid, 9.99)
	q, _ = c.Get("AAPL")
	assert.Equal(t, 1.11, q.Bid)

	c.UpdatePrice(newID, FieldBid, 1.20)
	q, _ = c.Get("AAPL")
	assert.Equal(t, 1.20, q.Bid)
}

func TestQuoteAgeResetsOnTick(t *testing.T) {
	feed := newFakeFeed()
	c := NewCache(feed, NewCountingLimiter(5))

	id, err := c.Subscribe(aapl(), "AAPL")
	require.NoError(t, err)

	// до первого тика котировка считается бесконечно старой
	q, ok := c.Get("AAPL")
	require.True(t, ok)
	assert.True(t, q.UpdatedAt.IsZero())

	c.UpdatePrice(id, FieldLast, 1.0)
	q, _ = c.Get("AAPL")
	age1 := q.Age()

	time.Sleep(20 * time.Millisecond)
	q, _ = c.Get("AAPL")
	age2 := q.Age()
	assert.Greater(t, age2, age1)

	c.UpdatePrice(id, FieldLast, 1.01)
	q, _ = c.Get("AAPL")
	assert.Less(t, q.Age(), age2)
}

func TestGetAll(t *testing.T) {
	feed := newFakeFeed()
	c := NewCache(feed, NewCountingLimiter(5))

	id1, _ := c.Subscribe(aapl(), "AAPL")
	id2, _ := c.Subscribe(models.Contract{Symbol: "MSFT", SecType: models.SecStock}, "MSFT")

	c.UpdatePrice(id1, FieldLast, 180)
	c.UpdateSize(id2, FieldBidSize, 300)

	all := c.GetAll()
	require.Len(t, all, 2)
	assert.Equal(t, 180.0, all["AAPL"].Last)
	assert.Equal(t, 300.0, all["MSFT"].BidSize)
}

// Писатель-фид и читатель-шедулер молотят одновременно: читатель никогда
// не должен увидеть порванное значение поля.
func TestConcurrentTicksAndReads(t *testing.T) {
	feed := newFakeFeed()
	c := NewCache(feed, NewCountingLimiter(5))

	id, err := c.Subscribe(aapl(), "AAPL")
	require.NoError(t, err)

	const iters = 5000
	done := make(chan struct{})

	go func() {
		defer close(done)
		for i := 0; i < iters; i++ {
			if i%2 == 0 {
				c.UpdatePrice(id, FieldBid, 1.0)
			} else {
				c.UpdatePrice(id, FieldBid, 2.0)
			}
		}
	}()

	for {
		select {
		case <-done:
			return
		default:
		}
		q, ok := c.Get("AAPL")
		require.True(t, ok)
		if q.Bid != 0 {
			// только целиком опубликованные значения
			require.True(t, q.Bid == 1.0 || q.Bid == 2.0, "torn read: %v", q.Bid)
		}
	}
}

func TestCountingLimiter(t *testing.T) {
	lim := NewCountingLimiter(2)

	assert.True(t, lim.Acquire())
	assert.True(t, lim.Acquire())
	assert.False(t, lim.Acquire())

	lim.Release()
	assert.True(t, lim.Acquire())
	assert.Equal(t, 2, lim.Used())
}
