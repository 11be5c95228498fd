package runner

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"deal_guardian/internal/models"
	"deal_guardian/internal/modules/config"
	"deal_guardian/internal/positionstore"
	"deal_guardian/internal/quotecache"
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

// flakyFeed имитирует фид, который на старте ещё не подключился.
type flakyFeed struct {
	mu   sync.Mutex
	fail bool
	subs map[int64]models.Contract
}

func newFlakyFeed(fail bool) *flakyFeed {
	return &flakyFeed{fail: fail, subs: make(map[int64]models.Contract)}
}

func (f *flakyFeed) setFail(v bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fail = v
}

func (f *flakyFeed) Subscribe(reqID int64, c models.Contract) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return fmt.Errorf("feed: not connected")
	}
	f.subs[reqID] = c
	return nil
}

func (f *flakyFeed) Cancel(reqID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.subs, reqID)
	return nil
}

type memNotify struct {
	mu   sync.Mutex
	msgs []string
}

func (n *memNotify) Send(msg string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.msgs = append(n.msgs, msg)
}

func (n *memNotify) Sendf(format string, args ...any) { n.Send(fmt.Sprintf(format, args...)) }

func testManager(t *testing.T, feed *flakyFeed) (*Manager, *positionstore.Store) {
	t.Helper()
	cfg := &config.Config{StaleQuote: time.Minute}
	store := positionstore.NewStore(filepath.Join(t.TempDir(), "positions.json"))
	cache := quotecache.NewCache(feed, quotecache.NewCountingLimiter(10))
	return NewManager(cfg, store, cache, NewLogGateway(), &memNotify{}), store
}

func aaplEntry() (models.Entry, models.Contract, models.RiskConfig) {
	risk, _ := models.ResolvePreset("mid")
	return models.Entry{Side: models.SideBuy, Qty: 10, Price: 1.00},
		models.Contract{Symbol: "AAPL", SecType: models.SecStock, Exchange: "SMART", Currency: "USD"},
		risk
}

// Рестарт с ещё не подключившимся фидом: Recover возвращает ошибку по
// недобранным записям и добирает их на ретрае, когда фид поднялся.
func TestRecoverRetriesUntilFeedReady(t *testing.T) {
	feed := newFlakyFeed(true)
	m, store := testManager(t, feed)

	entry, contract, risk := aaplEntry()
	require.NoError(t, store.Add("p1", entry, contract, risk))

	err := m.Recover()
	require.Error(t, err, "unguarded positions must surface as an error")
	assert.Equal(t, 0, m.Len())

	// фид всё ещё лежит — повторная попытка честно фейлится
	require.Error(t, m.Recover())

	feed.setFail(false)
	require.NoError(t, m.Recover())
	assert.Equal(t, 1, m.Len())

	// идемпотентность: поднятые позиции не трогаем
	require.NoError(t, m.Recover())
	assert.Equal(t, 1, m.Len())
}

func TestOpenUnwindsSubscriptionOnStoreError(t *testing.T) {
	feed := newFlakyFeed(false)
	m, store := testManager(t, feed)

	entry, contract, risk := aaplEntry()
	require.NoError(t, store.Add("p1", entry, contract, risk))

	// id уже занят в сторе — подписка не должна утечь
	err := m.Open("p1", entry, contract, risk)
	require.Error(t, err)
	assert.Equal(t, 0, m.Len())
	assert.Empty(t, feed.subs)
}
