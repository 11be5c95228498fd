package runner

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"deal_guardian/internal/guardian"
	"deal_guardian/internal/models"
	"deal_guardian/internal/modules/config"
	"deal_guardian/internal/notify"
	"deal_guardian/internal/positionstore"
	"deal_guardian/internal/quotecache"
	"deal_guardian/pkg/logger"
)

// Manager владеет гардианами и маршрутизирует события гейтвея к ним.
// Шедулер дёргает EvaluateAll последовательно, так что каждый гардиан
// видит свои вызовы из одного потока — как и требует его контракт.
type Manager struct {
	cfg   *config.Config
	store *positionstore.Store
	cache *quotecache.Cache
	gw    Gateway
	n     notify.Notifier

	mu        sync.Mutex
	guardians map[string]*guardian.Guardian
	routes    map[string]string // order id -> position id
}

func NewManager(cfg *config.Config, store *positionstore.Store, cache *quotecache.Cache, gw Gateway, n notify.Notifier) *Manager {
	return &Manager{
		cfg:       cfg,
		store:     store,
		cache:     cache,
		gw:        gw,
		n:         n,
		guardians: make(map[string]*guardian.Guardian),
		routes:    make(map[string]string),
	}
}

// Open ставит новую позицию под охрану: подписка на котировки,
// запись в стор, гардиан в мапу.
func (m *Manager) Open(id string, entry models.Entry, contract models.Contract, risk models.RiskConfig) (err error) {
	defer func() {
		if err != nil {
			err = fmt.Errorf("Manager.Open: %w", err)
		}
	}()

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.guardians[id]; ok {
		return fmt.Errorf("guardian already running for position %s", id)
	}

	key := contract.CacheKey()
	if _, err := m.cache.Subscribe(contract, key); err != nil {
		if errors.Is(err, quotecache.ErrRefused) {
			return fmt.Errorf("no feed capacity for %s: %w", key, err)
		}
		return err
	}

	if err := m.store.Add(id, entry, contract, risk); err != nil {
		m.cache.Unsubscribe(key)
		return err
	}

	m.guardians[id] = guardian.New(id, entry, contract, risk, m.store, m.cfg.StaleQuote)
	logger.Info("manager: position %s under guard (%s %s qty=%g @ %.4f)", id, entry.Side, key, entry.Qty, entry.Price)

	return nil
}

// OpenPreset — Open с резолвом именованного риск-бандла.
func (m *Manager) OpenPreset(id string, entry models.Entry, contract models.Contract, presetKey string) error {
	cfg, ok := models.ResolvePreset(presetKey)
	if !ok {
		return fmt.Errorf("Manager.OpenPreset: unknown preset %q", presetKey)
	}
	return m.Open(id, entry, contract, cfg)
}

// Recover поднимает гардианы по active-записям стора после рестарта.
// Идемпотентен: уже поднятые позиции пропускает, так что вызывающий
// обязан ретраить его, пока все записи не встанут под охрану — на
// старте фид мог ещё не подключиться и подписки не пройдут.
func (m *Manager) Recover() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var failed []string
	for _, rec := range m.store.Active() {
		if _, ok := m.guardians[rec.ID]; ok {
			continue
		}

		key := rec.Contract.CacheKey()
		if _, err := m.cache.Subscribe(rec.Contract, key); err != nil {
			logger.Error("manager: recover %s: subscribe %s: %v", rec.ID, key, err)
			failed = append(failed, rec.ID)
			continue
		}

		m.guardians[rec.ID] = guardian.Restore(rec, m.store, m.cfg.StaleQuote)
		logger.Info("manager: recovered position %s (%s, remaining=%g)", rec.ID, key, rec.Runtime.Remaining)
	}

	if len(failed) > 0 {
		return fmt.Errorf("Manager.Recover: %d position(s) left unguarded: %s", len(failed), strings.Join(failed, ", "))
	}
	return nil
}

// EvaluateAll — один проход шедулера по всем гардианам.
func (m *Manager) EvaluateAll(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for id, g := range m.guardians {
		q, ok := m.cache.Get(g.CacheKey())
		if !ok {
			continue
		}

		req := g.Evaluate(q)
		if req != nil {
			m.submitLocked(ctx, g, req)
		}

		if g.Completed() {
			m.retireLocked(id, g)
		}
	}
}

func (m *Manager) submitLocked(ctx context.Context, g *guardian.Guardian, req *models.OrderRequest) {
	orderID, err := m.gw.Submit(ctx, req)
	if err != nil {
		logger.Error("manager: submit for %s: %v", g.ID(), err)
		// смерть до привязки id — уровень перевзведётся
		g.OnOrderDeath(models.OrderDeath{Reason: err.Error()})
		return
	}

	g.OnOrderSubmitted(orderID)
	m.routes[orderID] = g.ID()

	m.n.Sendf("📤 [%s] выход отправлен: %s %g (%s)", g.CacheKey(), req.Side, req.Qty, req.Reason)
}

func (m *Manager) retireLocked(id string, g *guardian.Guardian) {
	// последний гардиан на этом ключе забирает подписку с собой
	key := g.CacheKey()
	shared := false
	for otherID, other := range m.guardians {
		if otherID != id && other.CacheKey() == key {
			shared = true
			break
		}
	}
	if !shared {
		m.cache.Unsubscribe(key)
	}

	delete(m.guardians, id)
	m.n.Sendf("🏁 [%s] позиция %s полностью закрыта", key, id)
}

// HandleFill маршрутизирует фил к породившему ордер гардиану.
func (m *Manager) HandleFill(ev models.FillEvent) {
	m.mu.Lock()
	defer m.mu.Unlock()

	posID, ok := m.routes[ev.OrderID]
	if !ok {
		return
	}
	g, ok := m.guardians[posID]
	if !ok {
		delete(m.routes, ev.OrderID)
		return
	}

	g.OnFill(ev)
	if ev.Remaining <= 0 {
		delete(m.routes, ev.OrderID)
	}
}

// HandleOrderDeath: cancel/reject — гардиан перевзведёт уровень.
func (m *Manager) HandleOrderDeath(ev models.OrderDeath) {
	m.mu.Lock()
	defer m.mu.Unlock()

	posID, ok := m.routes[ev.OrderID]
	if !ok {
		return
	}
	delete(m.routes, ev.OrderID)

	if g, ok := m.guardians[posID]; ok {
		g.OnOrderDeath(ev)
		m.n.Sendf("⚰️ [%s] ордер %s умер (%s), уровень перевзведён", g.CacheKey(), ev.OrderID, ev.Reason)
	}
}

func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.guardians)
}
