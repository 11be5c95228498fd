package models

type StopMode string

const (
	StopNone     StopMode = "none"
	StopSimple   StopMode = "simple"
	StopLaddered StopMode = "laddered"
)

type OrderType string

const (
	OrderMarket OrderType = "MKT"
	OrderLimit  OrderType = "LMT"
)

// Rung — одна ступень: триггер по проценту PnL и доля остатка на выход.
type Rung struct {
	TriggerPct float64 `json:"trigger_pct"` // -20 => сработает на -20% PnL
	ExitPct    float64 `json:"exit_pct"`    // 50 => выйти половиной остатка
}

type StopConfig struct {
	Mode       StopMode `json:"mode"`
	TriggerPct float64  `json:"trigger_pct,omitempty"` // simple
	Rungs      []Rung   `json:"rungs,omitempty"`       // laddered
}

// Ladder возвращает ступени в едином виде независимо от режима.
func (s StopConfig) Ladder() []Rung {
	switch s.Mode {
	case StopSimple:
		return []Rung{{TriggerPct: s.TriggerPct, ExitPct: 100}}
	case StopLaddered:
		return s.Rungs
	default:
		return nil
	}
}

type TrailingConfig struct {
	ActivationPct float64 `json:"activation_pct"` // взводим при достижении
	TrailPct      float64 `json:"trail_pct"`      // отступ от экстремума
}

type ExecHints struct {
	OrderType   OrderType `json:"order_type"`
	OffsetTicks float64   `json:"offset_ticks,omitempty"` // для LMT: сдвиг от best bid/ask
}

// RiskConfig резолвится один раз при создании позиции и дальше не меняется.
type RiskConfig struct {
	StopLoss StopConfig      `json:"stop_loss"`
	Targets  []Rung          `json:"targets,omitempty"`
	Trailing *TrailingConfig `json:"trailing,omitempty"`
	Exec     ExecHints       `json:"exec"`
}
