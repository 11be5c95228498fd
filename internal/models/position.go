package models

import "time"

type PositionStatus string

const (
	PositionActive PositionStatus = "active"
	PositionClosed PositionStatus = "closed"
)

// Entry описывает вход: его сделала внешняя стратегия, мы только охраняем.
type Entry struct {
	Side  Side    `json:"side"` // BUY = long, SELL = short
	Qty   float64 `json:"qty"`
	Price float64 `json:"price"`
}

func (e Entry) IsLong() bool { return e.Side == SideBuy }

// Fill — одна запись в фил-логе позиции.
type Fill struct {
	Time   time.Time `json:"time"`
	Level  int       `json:"level"`
	Qty    float64   `json:"qty"`
	Price  float64   `json:"price"`
	PnLPct float64   `json:"pnl_pct"`
}

// LevelSnapshot — сериализуемое состояние одного уровня.
type LevelSnapshot struct {
	Kind       string  `json:"kind"` // stop | target | trailing
	TriggerPct float64 `json:"trigger_pct"`
	ExitPct    float64 `json:"exit_pct"`
	State      string  `json:"state"`
}

// GuardianState — рантайм-стейт гардиана, зеркалится в стор на каждом переходе.
type GuardianState struct {
	Remaining     float64         `json:"remaining"`
	HighWater     float64         `json:"high_water"` // для шорта это low-water
	TrailingArmed bool            `json:"trailing_armed"`
	TrailingStop  float64         `json:"trailing_stop,omitempty"`
	Completed     bool            `json:"completed"`
	Levels        []LevelSnapshot `json:"levels,omitempty"`
}

// PositionRecord — то, что лежит в сторе. Владеет им один гардиан,
// стор только сериализует.
type PositionRecord struct {
	ID        string         `json:"id"`
	Status    PositionStatus `json:"status"`
	CreatedAt time.Time      `json:"created_at"`
	ClosedAt  *time.Time     `json:"closed_at,omitempty"`

	Entry    Entry      `json:"entry"`
	Contract Contract   `json:"contract"`
	Risk     RiskConfig `json:"risk"`

	Runtime GuardianState `json:"runtime"`
	Fills   []Fill        `json:"fills,omitempty"`
}
