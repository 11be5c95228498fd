package models

type Preset struct {
	Name        string
	Description string
	Config      RiskConfig
}

// Presets — статический реестр именованных риск-бандлов.
// Резолвим по ключу один раз при создании позиции, в горячем пути
// evaluate() никаких лукапов по строке нет.
var Presets = map[string]Preset{
	"safe": {
		Name:        "🟢 Консервативный",
		Description: "Узкий стоп, ранняя фиксация прибыли",
		Config: RiskConfig{
			StopLoss: StopConfig{Mode: StopSimple, TriggerPct: -15},
			Targets: []Rung{
				{TriggerPct: 20, ExitPct: 50},
				{TriggerPct: 40, ExitPct: 100},
			},
			Trailing: &TrailingConfig{ActivationPct: 20, TrailPct: 10},
			Exec:     ExecHints{OrderType: OrderLimit, OffsetTicks: 2},
		},
	},
	"mid": {
		Name:        "🟡 Средний",
		Description: "Лесенка по стопу, трейлинг после +25%",
		Config: RiskConfig{
			StopLoss: StopConfig{Mode: StopLaddered, Rungs: []Rung{
				{TriggerPct: -20, ExitPct: 50},
				{TriggerPct: -40, ExitPct: 100},
			}},
			Targets: []Rung{
				{TriggerPct: 50, ExitPct: 50},
			},
			Trailing: &TrailingConfig{ActivationPct: 25, TrailPct: 15},
			Exec:     ExecHints{OrderType: OrderLimit, OffsetTicks: 2},
		},
	},
	"aggr": {
		Name:        "🔴 Агрессивный",
		Description: "Широкий стоп, выход только по трейлингу",
		Config: RiskConfig{
			StopLoss: StopConfig{Mode: StopSimple, TriggerPct: -50},
			Trailing: &TrailingConfig{ActivationPct: 40, TrailPct: 20},
			Exec:     ExecHints{OrderType: OrderMarket},
		},
	},
}

// ResolvePreset возвращает копию конфига пресета.
func ResolvePreset(key string) (RiskConfig, bool) {
	p, ok := Presets[key]
	if !ok {
		return RiskConfig{}, false
	}
	cfg := p.Config
	if p.Config.Trailing != nil {
		tr := *p.Config.Trailing
		cfg.Trailing = &tr
	}
	cfg.Targets = append([]Rung(nil), p.Config.Targets...)
	cfg.StopLoss.Rungs = append([]Rung(nil), p.Config.StopLoss.Rungs...)
	return cfg, true
}
