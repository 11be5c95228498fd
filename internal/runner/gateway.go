package runner

import (
	"context"
	"fmt"
	"sync/atomic"

	"deal_guardian/internal/models"
	"deal_guardian/pkg/logger"
)

// Gateway — внешний ордер-гейтвей. Протокол брокера не наш: раннер
// только сабмитит заявку и получает назад order id; филы и смерти
// ордеров гейтвей доставляет через HandleFill/HandleOrderDeath.
type Gateway interface {
	Submit(ctx context.Context, req *models.OrderRequest) (orderID string, err error)
}

// LogGateway — дефолт для standalone-запуска: только логирует.
// Встраивающее приложение подменяет его реальным гейтвеем через fx.
type LogGateway struct {
	seq atomic.Int64
}

func NewLogGateway() *LogGateway { return &LogGateway{} }

func (g *LogGateway) Submit(_ context.Context, req *models.OrderRequest) (string, error) {
	id := fmt.Sprintf("log-%d", g.seq.Add(1))
	logger.Info("gateway(log): %s %s %g %s lmt=%.6f tif=%s reason=%q -> %s",
		req.Side, req.Type, req.Qty, req.Contract.CacheKey(), req.LimitPrice, req.TIF, req.Reason, id)
	return id, nil
}
