package guardian

import (
	"fmt"

	"deal_guardian/internal/helper"
	"deal_guardian/internal/models"
)

// buildExit собирает заявку на выход. Для LMT цена ставится near-touch:
// продаём по bid + offset тиков (чуть агрессивно в сторону ask),
// откупаем шорт по ask - offset тиков. Всё округляем к шагу инструмента.
func (g *Guardian) buildExit(lv *level, q models.Quote, qty, pnl float64) *models.OrderRequest {
	side := models.SideSell
	if !g.entry.IsLong() {
		side = models.SideBuy
	}

	req := &models.OrderRequest{
		Side:     side,
		Type:     g.cfg.Exec.OrderType,
		Qty:      qty,
		Contract: g.contract,
		TIF:      "DAY",
		Reason:   fmt.Sprintf("%s@%.1f%% exit=%.0f%% pnl=%.2f%%", lv.kind, lv.triggerPct, lv.exitPct, pnl),
	}

	if req.Type != models.OrderLimit {
		req.Type = models.OrderMarket
		return req
	}

	tick := helper.TickSize(g.contract)
	offset := g.cfg.Exec.OffsetTicks * tick

	var px float64
	if side == models.SideSell {
		if q.Bid <= 0 {
			// пустой стакан — лимитку не из чего строить, уходим маркетом
			req.Type = models.OrderMarket
			return req
		}
		px = q.Bid + offset
	} else {
		if q.Ask <= 0 {
			req.Type = models.OrderMarket
			return req
		}
		px = q.Ask - offset
	}

	if px <= 0 {
		req.Type = models.OrderMarket
		return req
	}

	req.LimitPrice = helper.RoundToTick(px, tick)
	return req
}
