package quotecache

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"deal_guardian/internal/models"
	"deal_guardian/pkg/logger"
)

// ErrRefused — лимитер не дал слот под новую подписку.
var ErrRefused = errors.New("quotecache: subscription refused by limiter")

// Feed — фидовая сторона подписок. Реализует её websocket-клиент.
type Feed interface {
	Subscribe(reqID int64, c models.Contract) error
	Cancel(reqID int64) error
}

type subscription struct {
	reqID    int64
	contract models.Contract
	entry    *quoteEntry
}

// Cache превращает push-поток тиков в point-in-time чтения.
//
// Контракт по конкурентности: тики пишет ровно один фид-контекст,
// читает горячий eval-контекст. Оба ходят только через sync.Map и
// атомики quoteEntry — мьютекс subs берут лишь редкие мутации таблицы
// подписок (subscribe/unsubscribe/resubscribe).
type Cache struct {
	feed    Feed
	limiter Limiter

	mu   sync.Mutex               // только таблица подписок
	subs map[string]*subscription // key -> подписка

	byKey sync.Map // string key -> *quoteEntry
	byReq sync.Map // int64 reqID -> *quoteEntry

	nextReq atomic.Int64
}

func NewCache(feed Feed, limiter Limiter) *Cache {
	return &Cache{
		feed:    feed,
		limiter: limiter,
		subs:    make(map[string]*subscription),
	}
}

// Subscribe открывает фидовую подписку под ключ.
// Идемпотентен: повторный вызов по живому ключу возвращает существующий id.
func (c *Cache) Subscribe(contract models.Contract, key string) (reqID int64, err error) {
	defer func() {
		if err != nil && !errors.Is(err, ErrRefused) {
			err = fmt.Errorf("Cache.Subscribe: %w", err)
		}
	}()

	c.mu.Lock()
	defer c.mu.Unlock()

	if sub, ok := c.subs[key]; ok {
		return sub.reqID, nil
	}

	if !c.limiter.Acquire() {
		return 0, ErrRefused
	}

	id := c.nextReq.Add(1)
	entry := &quoteEntry{}

	if err := c.feed.Subscribe(id, contract); err != nil {
		c.limiter.Release()
		return 0, err
	}

	c.subs[key] = &subscription{reqID: id, contract: contract, entry: entry}
	c.byKey.Store(key, entry)
	c.byReq.Store(id, entry)

	return id, nil
}

// Unsubscribe снимает подписку; по неизвестному ключу — no-op.
func (c *Cache) Unsubscribe(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.unsubscribeLocked(key)
}

func (c *Cache) UnsubscribeAll() {
	c.mu.Lock()
	defer c.mu.Unlock()

	for key := range c.subs {
		c.unsubscribeLocked(key)
	}
}

func (c *Cache) unsubscribeLocked(key string) {
	sub, ok := c.subs[key]
	if !ok {
		return
	}

	if err := c.feed.Cancel(sub.reqID); err != nil {
		logger.Error("cancel feed req %d (%s): %v", sub.reqID, key, err)
	}

	delete(c.subs, key)
	c.byKey.Delete(key)
	c.byReq.Delete(sub.reqID)
	c.limiter.Release()
}

// ResubscribeAll переоткрывает все подписки после реконнекта фида:
// новые request id, те же ключи, накопленные котировки не трогаем —
// читатели продолжают видеть последние значения до свежих тиков.
func (c *Cache) ResubscribeAll() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var firstErr error
	for key, sub := range c.subs {
		// старый id после реконнекта мёртв, cancel — best effort
		_ = c.feed.Cancel(sub.reqID)
		c.byReq.Delete(sub.reqID)

		id := c.nextReq.Add(1)
		if err := c.feed.Subscribe(id, sub.contract); err != nil {
			logger.Error("resubscribe %s: %v", key, err)
			if firstErr == nil {
				firstErr = fmt.Errorf("Cache.ResubscribeAll: %s: %w", key, err)
			}
			continue
		}

		sub.reqID = id
		c.byReq.Store(id, sub.entry)
	}

	return firstErr
}

// UpdatePrice — тиковый путь, без локов. Неизвестный reqID молча
// дропаем: гонка с unsubscribe/reconnect, это штатно.
func (c *Cache) UpdatePrice(reqID int64, field Field, value float64) {
	v, ok := c.byReq.Load(reqID)
	if !ok {
		return
	}
	v.(*quoteEntry).set(field, value)
}

func (c *Cache) UpdateSize(reqID int64, field Field, value float64) {
	c.UpdatePrice(reqID, field, value)
}

func (c *Cache) UpdateGreeks(reqID int64, iv, delta, gamma, vega, theta float64) {
	v, ok := c.byReq.Load(reqID)
	if !ok {
		return
	}
	v.(*quoteEntry).setGreeks(iv, delta, gamma, vega, theta)
}

// Get — lock-free point read для горячего eval-пути.
func (c *Cache) Get(key string) (models.Quote, bool) {
	v, ok := c.byKey.Load(key)
	if !ok {
		return models.Quote{}, false
	}
	return v.(*quoteEntry).snapshot(), true
}

func (c *Cache) GetAll() map[string]models.Quote {
	out := make(map[string]models.Quote)
	c.byKey.Range(func(k, v any) bool {
		out[k.(string)] = v.(*quoteEntry).snapshot()
		return true
	})
	return out
}

// Subscribed возвращает текущий reqID ключа (для интроспекции и тестов).
func (c *Cache) Subscribed(key string) (int64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	sub, ok := c.subs[key]
	if !ok {
		return 0, false
	}
	return sub.reqID, true
}

func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.subs)
}
