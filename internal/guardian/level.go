package guardian

import (
	"fmt"

	"deal_guardian/internal/models"
)

// LevelState — состояние одного уровня выхода.
// Переходы строго: Armed -> Triggered -> Partial -> Filled,
// плюс откат Triggered/Partial -> Armed если ордер умер без исполнения.
type LevelState int

const (
	Armed LevelState = iota
	Triggered
	Partial
	Filled
)

func (s LevelState) String() string {
	switch s {
	case Armed:
		return "ARMED"
	case Triggered:
		return "TRIGGERED"
	case Partial:
		return "PARTIAL"
	case Filled:
		return "FILLED"
	default:
		return fmt.Sprintf("LevelState(%d)", int(s))
	}
}

func parseLevelState(s string) LevelState {
	switch s {
	case "TRIGGERED":
		return Triggered
	case "PARTIAL":
		return Partial
	case "FILLED":
		return Filled
	default:
		return Armed
	}
}

type LevelKind int

const (
	KindStop LevelKind = iota
	KindTarget
	KindTrailing
)

func (k LevelKind) String() string {
	switch k {
	case KindStop:
		return "stop"
	case KindTarget:
		return "target"
	case KindTrailing:
		return "trailing"
	default:
		return fmt.Sprintf("LevelKind(%d)", int(k))
	}
}

func parseLevelKind(s string) LevelKind {
	switch s {
	case "target":
		return KindTarget
	case "trailing":
		return KindTrailing
	default:
		return KindStop
	}
}

// level — один экземпляр правила выхода.
type level struct {
	kind       LevelKind
	triggerPct float64
	exitPct    float64
	state      LevelState
}

var levelTransitions = map[LevelState][]LevelState{
	Armed:     {Triggered},
	Triggered: {Partial, Filled, Armed},
	Partial:   {Partial, Filled, Armed},
	Filled:    nil, // терминальное
}

// transition отвергает нелегальные переходы вместо молчаливой порчи стейта.
func (l *level) transition(to LevelState) error {
	for _, ok := range levelTransitions[l.state] {
		if ok == to {
			l.state = to
			return nil
		}
	}
	return fmt.Errorf("level %s: illegal transition %s -> %s", l.kind, l.state, to)
}

func (l *level) snapshot() models.LevelSnapshot {
	return models.LevelSnapshot{
		Kind:       l.kind.String(),
		TriggerPct: l.triggerPct,
		ExitPct:    l.exitPct,
		State:      l.state.String(),
	}
}

func levelFromSnapshot(s models.LevelSnapshot) *level {
	return &level{
		kind:       parseLevelKind(s.Kind),
		triggerPct: s.TriggerPct,
		exitPct:    s.ExitPct,
		state:      parseLevelState(s.State),
	}
}

// buildLevels разворачивает риск-конфиг в упорядоченный список уровней:
// сначала стопы, потом тейки, в конце трейлинг. Порядок = порядок проверки.
func buildLevels(cfg models.RiskConfig) []*level {
	var out []*level
	for _, r := range cfg.StopLoss.Ladder() {
		out = append(out, &level{kind: KindStop, triggerPct: r.TriggerPct, exitPct: r.ExitPct})
	}
	for _, r := range cfg.Targets {
		out = append(out, &level{kind: KindTarget, triggerPct: r.TriggerPct, exitPct: r.ExitPct})
	}
	if cfg.Trailing != nil {
		out = append(out, &level{kind: KindTrailing, triggerPct: cfg.Trailing.ActivationPct, exitPct: 100})
	}
	return out
}
