package guardian

import (
	"os"
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

// memStore записывает всё, что гардиан зеркалит в стор.
type memStore struct {
	state  models.GuardianState
	fills  []models.Fill
	closed bool
}

func (s *memStore) UpdateRuntimeState(_ string, st models.GuardianState) error {
	s.state = st
	return nil
}

func (s *memStore) AppendFill(_ string, f models.Fill) error {
	s.fills = append(s.fills, f)
	return nil
}

func (s *memStore) MarkClosed(string) error {
	s.closed = true
	return nil
}

func optContract() models.Contract {
	return models.Contract{
		Symbol: "AAPL", SecType: models.SecOption, Exchange: "SMART", Currency: "USD",
		Strike: 190, Expiry: "20261218", Right: models.RightCall, Multiplier: 100,
	}
}

func longEntry(qty float64) models.Entry {
	return models.Entry{Side: models.SideBuy, Qty: qty, Price: 1.00}
}

func quoteAt(mid float64) models.Quote {
	return models.Quote{Bid: mid - 0.01, Ask: mid + 0.01, Last: mid, UpdatedAt: time.Now()}
}

func marketExec() models.ExecHints {
	return models.ExecHints{OrderType: models.OrderMarket}
}

func fill(orderID string, cum, avg, remaining float64) models.FillEvent {
	return models.FillEvent{OrderID: orderID, CumFilled: cum, AvgPrice: avg, Remaining: remaining, Status: "FILLED"}
}

// Сценарий из практики: лонг-опцион, вход $1.00, лесенка стопов
// [(-20%, 50%), (-40%, 100%)], путь цены -25% затем -45%.
func TestLadderedStopScenario(t *testing.T) {
	store := &memStore{}
	cfg := models.RiskConfig{
		StopLoss: models.StopConfig{Mode: models.StopLaddered, Rungs: []models.Rung{
			{TriggerPct: -20, ExitPct: 50},
			{TriggerPct: -40, ExitPct: 100},
		}},
		Exec: marketExec(),
	}
	g := New("pos-1", longEntry(10), optContract(), cfg, store, time.Minute)

	// -25%: первая ступень, половина исходного объёма
	req := g.Evaluate(quoteAt(0.75))
	require.NotNil(t, req)
	assert.Equal(t, models.SideSell, req.Side)
	assert.Equal(t, 5.0, req.Qty)

	g.OnOrderSubmitted("o1")
	g.OnFill(fill("o1", 5, 0.75, 0))
	assert.Equal(t, 5.0, g.Remaining())
	assert.False(t, g.Completed())

	// -45%: вторая ступень добивает весь остаток
	req = g.Evaluate(quoteAt(0.55))
	require.NotNil(t, req)
	assert.Equal(t, 5.0, req.Qty)

	g.OnOrderSubmitted("o2")
	g.OnFill(fill("o2", 5, 0.55, 0))

	assert.True(t, g.Completed())
	assert.Equal(t, 0.0, g.Remaining())
	assert.True(t, store.closed)
	require.Len(t, store.fills, 2)
	assert.Equal(t, 0, store.fills[0].Level)
	assert.Equal(t, 1, store.fills[1].Level)

	// завершённый гардиан больше не действует
	assert.Nil(t, g.Evaluate(quoteAt(0.10)))
}

// Трейлинг activation=25, trail=15: рост до +40% взводит (HW=1.40),
// откат до +23% не трогает (линия 1.40*0.85=1.19), +18% — полный выход.
func TestTrailingStopScenario(t *testing.T) {
	store := &memStore{}
	cfg := models.RiskConfig{
		Trailing: &models.TrailingConfig{ActivationPct: 25, TrailPct: 15},
		Exec:     marketExec(),
	}
	g := New("pos-2", longEntry(10), optContract(), cfg, store, time.Minute)

	// до активации ничего не происходит
	assert.Nil(t, g.Evaluate(quoteAt(1.10)))
	assert.False(t, store.state.TrailingArmed)

	// +40%: взвод, выхода нет
	assert.Nil(t, g.Evaluate(quoteAt(1.40)))
	assert.True(t, store.state.TrailingArmed)
	assert.InDelta(t, 1.19, store.state.TrailingStop, 1e-9)

	// откат к +23%: выше линии, тишина; линия не отпускается
	assert.Nil(t, g.Evaluate(quoteAt(1.23)))
	assert.InDelta(t, 1.19, store.state.TrailingStop, 1e-9)

	// +18%: пробой линии — выходим всем
	req := g.Evaluate(quoteAt(1.18))
	require.NotNil(t, req)
	assert.Equal(t, 10.0, req.Qty)
	assert.Equal(t, models.SideSell, req.Side)
}

// Линия трейлинга монотонна: новый максимум поджимает, откат не отпускает.
func TestTrailingLineMonotonic(t *testing.T) {
	store := &memStore{}
	cfg := models.RiskConfig{
		Trailing: &models.TrailingConfig{ActivationPct: 10, TrailPct: 10},
		Exec:     marketExec(),
	}
	g := New("pos-3", longEntry(10), optContract(), cfg, store, time.Minute)

	require.Nil(t, g.Evaluate(quoteAt(1.20))) // взвод, линия 1.08
	prev := store.state.TrailingStop

	path := []float64{1.30, 1.25, 1.50, 1.45, 1.60}
	for _, px := range path {
		g.Evaluate(quoteAt(px))
		assert.GreaterOrEqual(t, store.state.TrailingStop, prev, "line loosened at %v", px)
		prev = store.state.TrailingStop
	}
	assert.InDelta(t, 1.60*0.90, prev, 1e-9)
}

// Одно действие за тик: на -45% стреляет только первая взведённая
// ступень, вторая ждёт следующего тика.
func TestOneActionPerTick(t *testing.T) {
	store := &memStore{}
	cfg := models.RiskConfig{
		StopLoss: models.StopConfig{Mode: models.StopLaddered, Rungs: []models.Rung{
			{TriggerPct: -20, ExitPct: 50},
			{TriggerPct: -40, ExitPct: 100},
		}},
		Exec: marketExec(),
	}
	g := New("pos-4", longEntry(10), optContract(), cfg, store, time.Minute)

	req := g.Evaluate(quoteAt(0.55))
	require.NotNil(t, req)
	assert.Equal(t, 5.0, req.Qty) // первая ступень, не вторая

	// пока order id не привязан — новых действий нет
	assert.Nil(t, g.Evaluate(quoteAt(0.55)))

	g.OnOrderSubmitted("o1")
	g.OnFill(fill("o1", 5, 0.55, 0))

	// следующий тик: вторая ступень добивает
	req = g.Evaluate(quoteAt(0.55))
	require.NotNil(t, req)
	assert.Equal(t, 5.0, req.Qty)
}

func TestProfitTargetsFireInDeclaredOrder(t *testing.T) {
	store := &memStore{}
	cfg := models.RiskConfig{
		Targets: []models.Rung{
			{TriggerPct: 30, ExitPct: 50},
			{TriggerPct: 60, ExitPct: 100},
		},
		Exec: marketExec(),
	}
	g := New("pos-5", longEntry(10), optContract(), cfg, store, time.Minute)

	assert.Nil(t, g.Evaluate(quoteAt(1.10)))

	req := g.Evaluate(quoteAt(1.70)) // оба триггера позади, стреляет первый
	require.NotNil(t, req)
	assert.Equal(t, 5.0, req.Qty)
}

// Умерший без исполнения ордер перевзводит уровень, и тот может
// выстрелить снова; FILLED-уровень не стреляет никогда.
func TestOrderDeathRearms(t *testing.T) {
	store := &memStore{}
	cfg := models.RiskConfig{
		StopLoss: models.StopConfig{Mode: models.StopSimple, TriggerPct: -20},
		Exec:     marketExec(),
	}
	g := New("pos-6", longEntry(10), optContract(), cfg, store, time.Minute)

	req := g.Evaluate(quoteAt(0.75))
	require.NotNil(t, req)
	g.OnOrderSubmitted("o1")

	// TRIGGERED уровень не стреляет повторно
	assert.Nil(t, g.Evaluate(quoteAt(0.70)))

	g.OnOrderDeath(models.OrderDeath{OrderID: "o1", Reason: "cancelled"})

	req = g.Evaluate(quoteAt(0.70))
	require.NotNil(t, req, "re-armed level must fire again")
	g.OnOrderSubmitted("o2")
	g.OnFill(fill("o2", 10, 0.70, 0))
	assert.True(t, g.Completed())

	assert.Nil(t, g.Evaluate(quoteAt(0.10)))
}

func TestPartialFillAccrual(t *testing.T) {
	store := &memStore{}
	cfg := models.RiskConfig{
		StopLoss: models.StopConfig{Mode: models.StopSimple, TriggerPct: -20},
		Exec:     marketExec(),
	}
	g := New("pos-7", longEntry(10), optContract(), cfg, store, time.Minute)

	require.NotNil(t, g.Evaluate(quoteAt(0.75)))
	g.OnOrderSubmitted("o1")

	g.OnFill(models.FillEvent{OrderID: "o1", CumFilled: 4, AvgPrice: 0.75, Remaining: 6})
	assert.Equal(t, 6.0, g.Remaining())

	// дубликат нотификации — ноль дельты, игнор
	g.OnFill(models.FillEvent{OrderID: "o1", CumFilled: 4, AvgPrice: 0.75, Remaining: 6})
	assert.Equal(t, 6.0, g.Remaining())
	require.Len(t, store.fills, 1)

	g.OnFill(fill("o1", 10, 0.74, 0))
	assert.True(t, g.Completed())
	require.Len(t, store.fills, 2)

	// сумма филов никогда не превышает исходный объём
	var total float64
	for _, f := range store.fills {
		total += f.Qty
	}
	assert.Equal(t, 10.0, total)
}

// exit_pct от остатка: минимум один контракт, "почти всё" добивается
// до целого остатка — пыли не остаётся.
func TestExitQuantityRounding(t *testing.T) {
	store := &memStore{}
	cfg := models.RiskConfig{
		Targets: []models.Rung{
			{TriggerPct: 10, ExitPct: 50},
			{TriggerPct: 20, ExitPct: 50},
			{TriggerPct: 30, ExitPct: 50},
		},
		Exec: marketExec(),
	}
	g := New("pos-8", models.Entry{Side: models.SideBuy, Qty: 3, Price: 1.00}, optContract(), cfg, store, time.Minute)

	req := g.Evaluate(quoteAt(1.15))
	require.NotNil(t, req)
	assert.Equal(t, 2.0, req.Qty) // round(1.5) = 2
	g.OnOrderSubmitted("o1")
	g.OnFill(fill("o1", 2, 1.15, 0))

	req = g.Evaluate(quoteAt(1.25))
	require.NotNil(t, req)
	assert.Equal(t, 1.0, req.Qty) // round(0.5) -> минимум 1, равно остатку
	g.OnOrderSubmitted("o2")
	g.OnFill(fill("o2", 1, 1.25, 0))

	assert.True(t, g.Completed())
}

// Пока ордер ранней ступени стоит неисполненным, глубокая ступень
// авторизует только свободный остаток: суммарная авторизация по всем
// ордерам никогда не превышает объём позиции.
func TestWorkingOrderCapsAuthorization(t *testing.T) {
	store := &memStore{}
	cfg := models.RiskConfig{
		StopLoss: models.StopConfig{Mode: models.StopLaddered, Rungs: []models.Rung{
			{TriggerPct: -20, ExitPct: 50},
			{TriggerPct: -40, ExitPct: 100},
		}},
		Exec: marketExec(),
	}
	g := New("pos-14", longEntry(10), optContract(), cfg, store, time.Minute)

	req := g.Evaluate(quoteAt(0.75))
	require.NotNil(t, req)
	assert.Equal(t, 5.0, req.Qty)
	g.OnOrderSubmitted("o1") // ордер живёт, филов нет

	// глубокая ступень видит только свободные 10-5
	req = g.Evaluate(quoteAt(0.55))
	require.NotNil(t, req)
	assert.Equal(t, 5.0, req.Qty, "working order quantity must stay reserved")
	g.OnOrderSubmitted("o2")

	g.OnFill(fill("o1", 5, 0.75, 0))
	g.OnFill(fill("o2", 5, 0.55, 0))
	assert.True(t, g.Completed())

	var total float64
	for _, f := range store.fills {
		total += f.Qty
	}
	assert.Equal(t, 10.0, total)
}

// Весь объём на висящем ордере — другие уровни молчат и остаются
// взведёнными; смерть ордера освобождает объём.
func TestNoFireWhenAllQuantityReserved(t *testing.T) {
	store := &memStore{}
	cfg := models.RiskConfig{
		Targets: []models.Rung{
			{TriggerPct: 10, ExitPct: 100},
			{TriggerPct: 20, ExitPct: 100},
		},
		Exec: marketExec(),
	}
	g := New("pos-15", longEntry(10), optContract(), cfg, store, time.Minute)

	req := g.Evaluate(quoteAt(1.15))
	require.NotNil(t, req)
	assert.Equal(t, 10.0, req.Qty)
	g.OnOrderSubmitted("o1")

	// второй тейк сработал бы, но свободного объёма нет
	assert.Nil(t, g.Evaluate(quoteAt(1.25)))

	g.OnOrderDeath(models.OrderDeath{OrderID: "o1", Reason: "cancelled"})

	req = g.Evaluate(quoteAt(1.25))
	require.NotNil(t, req)
	assert.Equal(t, 10.0, req.Qty)
}

func TestShortPositionSides(t *testing.T) {
	store := &memStore{}
	cfg := models.RiskConfig{
		StopLoss: models.StopConfig{Mode: models.StopSimple, TriggerPct: -20},
		Trailing: &models.TrailingConfig{ActivationPct: 25, TrailPct: 15},
		Exec:     marketExec(),
	}
	entry := models.Entry{Side: models.SideSell, Qty: 10, Price: 1.00}
	g := New("pos-9", entry, optContract(), cfg, store, time.Minute)

	// для шорта рост цены — убыток
	req := g.Evaluate(quoteAt(1.25))
	require.NotNil(t, req)
	assert.Equal(t, models.SideBuy, req.Side, "short exits with buy-to-cover")
}

func TestShortTrailing(t *testing.T) {
	store := &memStore{}
	cfg := models.RiskConfig{
		Trailing: &models.TrailingConfig{ActivationPct: 25, TrailPct: 15},
		Exec:     marketExec(),
	}
	entry := models.Entry{Side: models.SideSell, Qty: 10, Price: 1.00}
	g := New("pos-10", entry, optContract(), cfg, store, time.Minute)

	// падение до 0.70: +30% PnL, взвод; low-water = 0.70, линия 0.805
	assert.Nil(t, g.Evaluate(quoteAt(0.70)))
	assert.True(t, store.state.TrailingArmed)
	assert.InDelta(t, 0.805, store.state.TrailingStop, 1e-9)

	// отскок выше линии — выход
	req := g.Evaluate(quoteAt(0.81))
	require.NotNil(t, req)
	assert.Equal(t, models.SideBuy, req.Side)
	assert.Equal(t, 10.0, req.Qty)
}

func TestStaleOrMissingQuoteSkipsTick(t *testing.T) {
	store := &memStore{}
	cfg := models.RiskConfig{
		StopLoss: models.StopConfig{Mode: models.StopSimple, TriggerPct: -20},
		Exec:     marketExec(),
	}
	g := New("pos-11", longEntry(10), optContract(), cfg, store, 50*time.Millisecond)

	// пустая котировка (ни одного тика)
	assert.Nil(t, g.Evaluate(models.Quote{}))

	// протухшая
	q := quoteAt(0.50)
	q.UpdatedAt = time.Now().Add(-time.Second)
	assert.Nil(t, g.Evaluate(q))

	// свежая — работает
	assert.NotNil(t, g.Evaluate(quoteAt(0.50)))
}

func TestStopCheckedBeforeTargetAndTrailing(t *testing.T) {
	store := &memStore{}
	cfg := models.RiskConfig{
		StopLoss: models.StopConfig{Mode: models.StopSimple, TriggerPct: -20},
		Targets:  []models.Rung{{TriggerPct: 30, ExitPct: 100}},
		Trailing: &models.TrailingConfig{ActivationPct: 25, TrailPct: 15},
		Exec:     marketExec(),
	}
	g := New("pos-12", longEntry(10), optContract(), cfg, store, time.Minute)

	req := g.Evaluate(quoteAt(0.75))
	require.NotNil(t, req)
	assert.Contains(t, req.Reason, "stop")
}

func TestRestoreFromRecord(t *testing.T) {
	store := &memStore{}
	cfg := models.RiskConfig{
		StopLoss: models.StopConfig{Mode: models.StopLaddered, Rungs: []models.Rung{
			{TriggerPct: -20, ExitPct: 50},
			{TriggerPct: -40, ExitPct: 100},
		}},
		Exec: marketExec(),
	}

	rec := models.PositionRecord{
		ID:       "pos-13",
		Status:   models.PositionActive,
		Entry:    longEntry(10),
		Contract: optContract(),
		Risk:     cfg,
		Runtime: models.GuardianState{
			Remaining: 5,
			HighWater: 1.10,
			Levels: []models.LevelSnapshot{
				{Kind: "stop", TriggerPct: -20, ExitPct: 50, State: "FILLED"},
				{Kind: "stop", TriggerPct: -40, ExitPct: 100, State: "TRIGGERED"},
			},
		},
	}

	g := Restore(rec, store, time.Minute)
	assert.Equal(t, 5.0, g.Remaining())

	// FILLED остаётся мёртвым, in-flight TRIGGERED перевзведён
	req := g.Evaluate(quoteAt(0.55))
	require.NotNil(t, req)
	assert.Equal(t, 5.0, req.Qty) // стреляет вторая ступень, добивает остаток
}

func TestIllegalTransitionRejected(t *testing.T) {
	lv := &level{kind: KindStop, state: Filled}
	assert.Error(t, lv.transition(Triggered))
	assert.Equal(t, Filled, lv.state)

	lv = &level{kind: KindStop, state: Armed}
	assert.Error(t, lv.transition(Filled), "armed cannot jump to filled")
	require.NoError(t, lv.transition(Triggered))
	require.NoError(t, lv.transition(Partial))
	require.NoError(t, lv.transition(Armed)) // смерть ордера после частичного исполнения
}
