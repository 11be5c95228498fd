package helper

import (
	"math"

	"deal_guardian/internal/models"
)

func RoundDownToTick(px, tick float64) float64 {
	if tick <= 0 {
		return px
	}
	steps := math.Floor(px/tick + 1e-12)
	return steps * tick
}

func RoundUpToTick(px, tick float64) float64 {
	if tick <= 0 {
		return px
	}
	steps := math.Ceil(px/tick - 1e-12)
	return steps * tick
}

func RoundToTick(px, tick float64) float64 {
	if tick <= 0 {
		return px
	}
	steps := math.Round(px / tick)
	return steps * tick
}

// futuresTicks — биржевые инкременты для фьючерсов, у которых шаг не 1 цент.
// Длинные бонды ходят тридцатьвторыми, десятилетки — шестьдесятчетвёртыми.
var futuresTicks = map[string]float64{
	"ES": 0.25,
	"NQ": 0.25,
	"YM": 1.0,
	"GC": 0.10,
	"SI": 0.005,
	"CL": 0.01,
	"6E": 0.00005,
	"6J": 0.0000005,
	"ZB": 1.0 / 32.0,
	"ZN": 1.0 / 64.0,
}

// TickSize — шаг цены инструмента; по умолчанию 1 цент.
func TickSize(c models.Contract) float64 {
	if c.SecType == models.SecFuture {
		if t, ok := futuresTicks[c.Symbol]; ok {
			return t
		}
	}
	return 0.01
}
