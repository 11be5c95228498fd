package models

import "time"

// LockRecord — строка таблицы service_locks.
type LockRecord struct {
	Name        string    `json:"name"`
	Holder      string    `json:"holder"` // host:pid
	AcquiredAt  time.Time `json:"acquired_at"`
	ExpiresAt   time.Time `json:"expires_at"`
	HeartbeatAt time.Time `json:"heartbeat_at"`
	Metadata    []byte    `json:"metadata,omitempty"`
}

func (l LockRecord) HeldFor() time.Duration { return time.Since(l.AcquiredAt) }

func (l LockRecord) ExpiresIn() time.Duration {
	d := time.Until(l.ExpiresAt)
	if d < 0 {
		return 0
	}
	return d
}

func (l LockRecord) Expired() bool { return time.Now().After(l.ExpiresAt) }
