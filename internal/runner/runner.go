package runner

import (
	"context"
	"time"

	"deal_guardian/internal/locks"
	"deal_guardian/internal/modules/config"
	healthsvc "deal_guardian/internal/modules/health/service"
	"deal_guardian/internal/notify"
	"deal_guardian/pkg/logger"
)

// Runner — периодический драйвер охраны. Во флоте процессов, смотрящих
// в одну базу, работает ровно один: цикл обёрнут в lease-based лок,
// остальные стоят в стэндбае и пробуют забрать лок по истечении TTL.
type Runner struct {
	cfg   *config.Config
	mgr   *Manager
	locks *locks.Service
	n     notify.Notifier
	state *healthsvc.State
}

func NewRunner(cfg *config.Config, mgr *Manager, locks *locks.Service, n notify.Notifier, state *healthsvc.State) *Runner {
	return &Runner{
		cfg:   cfg,
		mgr:   mgr,
		locks: locks,
		n:     n,
		state: state,
	}
}

func (r *Runner) Start(ctx context.Context) {
	for {
		acquired, err := r.locks.Acquire(ctx, r.cfg.LockName, r.cfg.LockTTL)
		if err != nil {
			logger.Error("runner: acquire lock: %v", err)
		}
		if !acquired {
			// не ошибка: этот сервис уже крутит другой инстанс.
			// стоим в стэндбае до следующего шанса, без tight loop
			select {
			case <-ctx.Done():
				return
			case <-time.After(r.cfg.LockTTL):
				continue
			}
		}

		r.n.Sendf("🚀 guardian-раннер активен (%s), интервал %s", r.locks.Holder(), r.cfg.EvalInterval)
		r.lead(ctx)

		_ = r.locks.Release(ctx, r.cfg.LockName)
		r.state.SetReady(false)

		select {
		case <-ctx.Done():
			return
		default:
		}
	}
}

// lead — защищённый цикл: оценка гардианов + продление lease.
// Потеря lease обязана остановить цикл, эксклюзивности больше нет.
func (r *Runner) lead(ctx context.Context) {
	// фид на старте мог ещё не подключиться: недобранные записи
	// ретраим на каждом тике, пока охрана не станет полной
	recovered := r.recover()
	r.state.SetReady(recovered)

	evalT := time.NewTicker(r.cfg.EvalInterval)
	defer evalT.Stop()
	renewT := time.NewTicker(r.cfg.LockRenewInterval)
	defer renewT.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case <-evalT.C:
			if !recovered {
				recovered = r.recover()
				r.state.SetReady(recovered)
			}
			r.mgr.EvaluateAll(ctx)
			r.state.SetGuardians(r.mgr.Len())

		case <-renewT.C:
			if err := r.locks.Renew(ctx, r.cfg.LockName); err != nil {
				logger.Error("runner: lease lost, standing down: %v", err)
				r.n.Sendf("⚠️ lease %q потерян, раннер останавливается", r.cfg.LockName)
				return
			}
		}
	}
}

func (r *Runner) recover() bool {
	if err := r.mgr.Recover(); err != nil {
		logger.Error("runner: %v", err)
		return false
	}
	return true
}
