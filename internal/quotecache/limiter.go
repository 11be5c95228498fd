package quotecache

import "sync/atomic"

// Limiter — общий бюджет фидовых линий; кэш платит слот за каждую
// открытую подписку и возвращает его при отписке.
type Limiter interface {
	Acquire() bool
	Release()
}

type CountingLimiter struct {
	max  int32
	used atomic.Int32
}

func NewCountingLimiter(max int) *CountingLimiter {
	return &CountingLimiter{max: int32(max)}
}

func (l *CountingLimiter) Acquire() bool {
	if l.used.Add(1) > l.max {
		l.used.Add(-1)
		return false
	}
	return true
}

func (l *CountingLimiter) Release() {
	if l.used.Add(-1) < 0 {
		l.used.Add(1)
	}
}

func (l *CountingLimiter) Used() int { return int(l.used.Load()) }
