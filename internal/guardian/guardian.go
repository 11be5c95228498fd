package guardian

import (
	"math"
	"time"

	"deal_guardian/internal/models"
	"deal_guardian/pkg/logger"
)

// Store — то, что гардиану нужно от позиционного стора.
type Store interface {
	UpdateRuntimeState(id string, st models.GuardianState) error
	AppendFill(id string, f models.Fill) error
	MarkClosed(id string) error
}

// pendingOrder связывает ордер гейтвея с уровнем, который его породил.
type pendingOrder struct {
	orderID  string
	level    *level
	levelIdx int
	expected float64
	filled   float64
}

// Guardian охраняет одну открытую позицию: смотрит котировки, сам
// просит частичные/полные выходы и ведёт учёт разрешённого к выходу
// против реально исполненного.
//
// Evaluate/OnOrderSubmitted/OnFill/OnOrderDeath зовёт один шедулер
// последовательно — внутренних локов нет намеренно, это и даёт
// race-free правило "одно действие за тик".
type Guardian struct {
	id       string
	entry    models.Entry
	contract models.Contract
	cfg      models.RiskConfig

	levels []*level

	remaining     float64
	highWater     float64 // цена-экстремум; для шорта это low-water
	trailingArmed bool
	trailingStop  float64
	completed     bool

	unmapped *pendingOrder            // TRIGGERED, ещё без order id
	pendings map[string]*pendingOrder // order id -> pending

	store      Store
	staleQuote time.Duration
}

func New(id string, entry models.Entry, contract models.Contract, cfg models.RiskConfig, store Store, staleQuote time.Duration) *Guardian {
	return &Guardian{
		id:         id,
		entry:      entry,
		contract:   contract,
		cfg:        cfg,
		levels:     buildLevels(cfg),
		remaining:  entry.Qty,
		highWater:  entry.Price,
		pendings:   make(map[string]*pendingOrder),
		store:      store,
		staleQuote: staleQuote,
	}
}

// Restore поднимает гардиан из записи стора после рестарта процесса.
// Незакрытые pending-ордера не восстанавливаем: их судьбу доиграет
// гейтвей, уровень в TRIGGERED/PARTIAL без ордера перевзводим.
func Restore(rec models.PositionRecord, store Store, staleQuote time.Duration) *Guardian {
	g := New(rec.ID, rec.Entry, rec.Contract, rec.Risk, store, staleQuote)

	rt := rec.Runtime
	if rt.Remaining > 0 || rt.Completed {
		g.remaining = rt.Remaining
	}
	if rt.HighWater != 0 {
		g.highWater = rt.HighWater
	}
	g.trailingArmed = rt.TrailingArmed
	g.trailingStop = rt.TrailingStop
	g.completed = rt.Completed

	for i, snap := range rt.Levels {
		if i >= len(g.levels) {
			break
		}
		lv := levelFromSnapshot(snap)
		// in-flight состояния после рестарта откатываем на перевзвод
		if lv.state == Triggered || lv.state == Partial {
			lv.state = Armed
		}
		g.levels[i] = lv
	}

	return g
}

func (g *Guardian) ID() string         { return g.id }
func (g *Guardian) Completed() bool    { return g.completed }
func (g *Guardian) Remaining() float64 { return g.remaining }
func (g *Guardian) CacheKey() string   { return g.contract.CacheKey() }

// State — снэпшот рантайма для зеркалирования в стор.
func (g *Guardian) State() models.GuardianState {
	st := models.GuardianState{
		Remaining:     g.remaining,
		HighWater:     g.highWater,
		TrailingArmed: g.trailingArmed,
		TrailingStop:  g.trailingStop,
		Completed:     g.completed,
	}
	for _, lv := range g.levels {
		st.Levels = append(st.Levels, lv.snapshot())
	}
	return st
}

// Evaluate — один тик охраны. Возвращает заявку на выход либо nil.
// Протухшая или отсутствующая котировка — не ошибка, просто пропуск тика.
func (g *Guardian) Evaluate(q models.Quote) *models.OrderRequest {
	if g.completed || g.remaining <= 0 {
		return nil
	}
	if q.UpdatedAt.IsZero() || q.Age() > g.staleQuote {
		return nil
	}
	// пока висит TRIGGERED без order id — новых действий не начинаем,
	// иначе привязка id станет неоднозначной
	if g.unmapped != nil {
		return nil
	}

	px := q.Mid()
	if px <= 0 {
		return nil
	}

	pnl := g.pnlPct(px)
	g.updateHighWater(px)

	// 1) стопы, в объявленном порядке; первый взведённый и сработавший
	// уровень — единственное действие этого тика
	for i, lv := range g.levels {
		if lv.kind != KindStop || lv.state != Armed {
			continue
		}
		if pnl <= lv.triggerPct {
			return g.fire(i, lv, q, px, pnl)
		}
	}

	// 2) тейки
	for i, lv := range g.levels {
		if lv.kind != KindTarget || lv.state != Armed {
			continue
		}
		if pnl >= lv.triggerPct {
			return g.fire(i, lv, q, px, pnl)
		}
	}

	// 3) трейлинг
	return g.evalTrailing(q, px, pnl)
}

func (g *Guardian) evalTrailing(q models.Quote, px, pnl float64) *models.OrderRequest {
	tr := g.cfg.Trailing
	if tr == nil {
		return nil
	}

	idx, lv := g.trailingLevel()
	if lv == nil || lv.state != Armed {
		return nil
	}

	if !g.trailingArmed {
		if pnl >= tr.ActivationPct {
			g.trailingArmed = true
			g.trailingStop = g.trailLine()
			logger.Info("guardian %s: trailing armed, stop=%.6f hw=%.6f", g.id, g.trailingStop, g.highWater)
			g.persistState()
		}
		return nil
	}

	// линия только поджимается к экстремуму, обратно не отпускаем
	line := g.trailLine()
	if g.entry.IsLong() {
		if line > g.trailingStop {
			g.trailingStop = line
			g.persistState()
		}
		if px <= g.trailingStop {
			return g.fire(idx, lv, q, px, pnl)
		}
	} else {
		if g.trailingStop == 0 || line < g.trailingStop {
			g.trailingStop = line
			g.persistState()
		}
		if px >= g.trailingStop {
			return g.fire(idx, lv, q, px, pnl)
		}
	}

	return nil
}

func (g *Guardian) trailingLevel() (int, *level) {
	for i, lv := range g.levels {
		if lv.kind == KindTrailing {
			return i, lv
		}
	}
	return -1, nil
}

func (g *Guardian) trailLine() float64 {
	frac := g.cfg.Trailing.TrailPct / 100
	if g.entry.IsLong() {
		return g.highWater * (1 - frac)
	}
	return g.highWater * (1 + frac)
}

func (g *Guardian) pnlPct(px float64) float64 {
	if g.entry.Price <= 0 {
		return 0
	}
	pnl := (px - g.entry.Price) / g.entry.Price * 100
	if !g.entry.IsLong() {
		pnl = -pnl
	}
	return pnl
}

func (g *Guardian) updateHighWater(px float64) {
	if g.entry.IsLong() {
		if px > g.highWater {
			g.highWater = px
		}
	} else {
		if g.highWater == 0 || px < g.highWater {
			g.highWater = px
		}
	}
}

// outstanding — объём, уже авторизованный на живых ордерах, но ещё
// не исполненный. Резервирует остаток от повторной авторизации.
func (g *Guardian) outstanding() float64 {
	var total float64
	for _, po := range g.pendings {
		total += po.expected - po.filled
	}
	return total
}

// exitQty: уровень выходит exit_pct от свободного остатка (остаток минус
// зарезервированное на висящих ордерах), минимум один контракт;
// округлённое "почти всё" добиваем до полного остатка, чтобы не
// оставлять пыль. Последняя ступень и exit_pct>=100 выходят всем
// свободным. Сумма авторизаций никогда не превышает объём позиции.
func (g *Guardian) exitQty(idx int, lv *level) float64 {
	avail := g.remaining - g.outstanding()
	if avail <= 0 {
		return 0
	}
	if lv.exitPct >= 100 || g.isFinalLadderRung(idx, lv) {
		return avail
	}
	qty := math.Round(avail * lv.exitPct / 100)
	if qty < 1 {
		qty = 1
	}
	if qty >= avail {
		qty = avail
	}
	return qty
}

func (g *Guardian) isFinalLadderRung(idx int, lv *level) bool {
	if lv.kind != KindStop {
		return false
	}
	for i := idx + 1; i < len(g.levels); i++ {
		if g.levels[i].kind == KindStop {
			return false
		}
	}
	return true
}

func (g *Guardian) fire(idx int, lv *level, q models.Quote, px, pnl float64) *models.OrderRequest {
	qty := g.exitQty(idx, lv)
	if qty <= 0 {
		return nil
	}

	if err := lv.transition(Triggered); err != nil {
		logger.Error("guardian %s: %v", g.id, err)
		return nil
	}

	req := g.buildExit(lv, q, qty, pnl)
	g.unmapped = &pendingOrder{level: lv, levelIdx: idx, expected: qty}

	logger.Info("guardian %s: %s fired pnl=%.2f%% qty=%g px=%.6f (%s)",
		g.id, lv.kind, pnl, qty, px, req.Reason)
	g.persistState()

	return req
}

// OnOrderSubmitted привязывает выданный гейтвеем order id к
// единственному немапленному TRIGGERED-уровню.
func (g *Guardian) OnOrderSubmitted(orderID string) {
	if g.unmapped == nil {
		logger.Error("guardian %s: order id %s without pending level", g.id, orderID)
		return
	}
	g.unmapped.orderID = orderID
	g.pendings[orderID] = g.unmapped
	g.unmapped = nil
}

// OnFill аккумулирует исполнение; дубликаты и нулевые дельты игнорируем.
func (g *Guardian) OnFill(ev models.FillEvent) {
	po, ok := g.pendings[ev.OrderID]
	if !ok {
		return
	}

	delta := ev.CumFilled - po.filled
	if delta <= 0 {
		return
	}
	po.filled = ev.CumFilled

	if delta > g.remaining {
		delta = g.remaining
	}
	g.remaining -= delta

	fill := models.Fill{
		Time:   time.Now(),
		Level:  po.levelIdx,
		Qty:    delta,
		Price:  ev.AvgPrice,
		PnLPct: g.pnlPct(ev.AvgPrice),
	}
	if err := g.store.AppendFill(g.id, fill); err != nil {
		logger.Error("guardian %s: append fill: %v", g.id, err)
	}

	if ev.Remaining <= 0 {
		if err := po.level.transition(Filled); err != nil {
			logger.Error("guardian %s: %v", g.id, err)
		}
		delete(g.pendings, ev.OrderID)
	} else {
		if po.level.state != Partial {
			if err := po.level.transition(Partial); err != nil {
				logger.Error("guardian %s: %v", g.id, err)
			}
		}
	}

	if g.remaining <= 0 {
		g.remaining = 0
		g.completed = true
		if err := g.store.MarkClosed(g.id); err != nil {
			logger.Error("guardian %s: mark closed: %v", g.id, err)
		}
		logger.Info("guardian %s: position fully exited", g.id)
	}

	g.persistState()
}

// OnOrderDeath: ордер умер (cancel/reject) — уровень перевзводим,
// pending выбрасываем. Локально это не фатально.
func (g *Guardian) OnOrderDeath(ev models.OrderDeath) {
	if g.unmapped != nil && g.unmapped.orderID == "" {
		// смерть до привязки id — гейтвей отверг на сабмите
		if err := g.unmapped.level.transition(Armed); err != nil {
			logger.Error("guardian %s: %v", g.id, err)
		}
		g.unmapped = nil
		g.persistState()
		return
	}

	po, ok := g.pendings[ev.OrderID]
	if !ok {
		return
	}
	if err := po.level.transition(Armed); err != nil {
		logger.Error("guardian %s: %v", g.id, err)
	}
	delete(g.pendings, ev.OrderID)

	logger.Info("guardian %s: order %s died (%s), level re-armed", g.id, ev.OrderID, ev.Reason)
	g.persistState()
}

func (g *Guardian) persistState() {
	if err := g.store.UpdateRuntimeState(g.id, g.State()); err != nil {
		logger.Error("guardian %s: persist state: %v", g.id, err)
	}
}
