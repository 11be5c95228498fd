package locks

import (
	"context"
	"errors"
	"fmt"
	"time"

	"deal_guardian/internal/models"
	"deal_guardian/pkg/db"

	"github.com/jackc/pgx/v5"
)

const schema = `
CREATE TABLE IF NOT EXISTS service_locks (
    name         text PRIMARY KEY,
    holder       text NOT NULL,
    acquired_at  timestamptz NOT NULL,
    expires_at   timestamptz NOT NULL,
    heartbeat_at timestamptz NOT NULL,
    metadata     jsonb
);`

// PgRepo — постгресовая реализация Repo поверх TxManager.
// Вся гарантия взаимного исключения — транзакция БД, TTL даёт только
// liveness (восстановление после падения держателя), не safety.
type PgRepo struct {
	tx db.TxManager
}

func NewPgRepo(tx db.TxManager) *PgRepo {
	return &PgRepo{tx: tx}
}

func (r *PgRepo) EnsureSchema(ctx context.Context) error {
	_, err := r.tx.Conn().Exec(ctx, schema)
	if err != nil {
		return fmt.Errorf("PgRepo.EnsureSchema: %w", err)
	}
	return nil
}

func (r *PgRepo) TryAcquire(ctx context.Context, rec models.LockRecord) (acquired bool, err error) {
	defer func() {
		if err != nil {
			err = fmt.Errorf("PgRepo.TryAcquire: %w", err)
		}
	}()

	err = r.tx.RunMaster(ctx, func(ctx context.Context, tx pgx.Tx) error {
		// оппортунистически жнём протухшую запись
		if _, err := tx.Exec(ctx,
			`DELETE FROM service_locks WHERE name = $1 AND expires_at < now()`,
			rec.Name,
		); err != nil {
			return err
		}

		tag, err := tx.Exec(ctx,
			`INSERT INTO service_locks (name, holder, acquired_at, expires_at, heartbeat_at, metadata)
			 VALUES ($1, $2, $3, $4, $5, $6)
			 ON CONFLICT (name) DO NOTHING`,
			rec.Name, rec.Holder, rec.AcquiredAt, rec.ExpiresAt, rec.HeartbeatAt, rec.Metadata,
		)
		if err != nil {
			return err
		}
		acquired = tag.RowsAffected() == 1
		return nil
	})

	return acquired, err
}

func (r *PgRepo) Renew(ctx context.Context, name, holder string, expiresAt, heartbeatAt time.Time) (renewed bool, err error) {
	defer func() {
		if err != nil {
			err = fmt.Errorf("PgRepo.Renew: %w", err)
		}
	}()

	tag, err := r.tx.Conn().Exec(ctx,
		`UPDATE service_locks SET expires_at = $3, heartbeat_at = $4
		 WHERE name = $1 AND holder = $2`,
		name, holder, expiresAt, heartbeatAt,
	)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (r *PgRepo) Release(ctx context.Context, name, holder string) (err error) {
	defer func() {
		if err != nil {
			err = fmt.Errorf("PgRepo.Release: %w", err)
		}
	}()

	_, err = r.tx.Conn().Exec(ctx,
		`DELETE FROM service_locks WHERE name = $1 AND holder = $2`,
		name, holder,
	)
	return err
}

func (r *PgRepo) ForceRelease(ctx context.Context, name string) (err error) {
	defer func() {
		if err != nil {
			err = fmt.Errorf("PgRepo.ForceRelease: %w", err)
		}
	}()

	_, err = r.tx.Conn().Exec(ctx, `DELETE FROM service_locks WHERE name = $1`, name)
	return err
}

func (r *PgRepo) Get(ctx context.Context, name string) (rec *models.LockRecord, err error) {
	defer func() {
		if err != nil {
			err = fmt.Errorf("PgRepo.Get: %w", err)
		}
	}()

	row := r.tx.Conn().QueryRow(ctx,
		`SELECT name, holder, acquired_at, expires_at, heartbeat_at, metadata
		 FROM service_locks WHERE name = $1`,
		name,
	)

	var out models.LockRecord
	if err := row.Scan(&out.Name, &out.Holder, &out.AcquiredAt, &out.ExpiresAt, &out.HeartbeatAt, &out.Metadata); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &out, nil
}

func (r *PgRepo) List(ctx context.Context) (recs []models.LockRecord, err error) {
	defer func() {
		if err != nil {
			err = fmt.Errorf("PgRepo.List: %w", err)
		}
	}()

	rows, err := r.tx.Conn().Query(ctx,
		`SELECT name, holder, acquired_at, expires_at, heartbeat_at, metadata
		 FROM service_locks ORDER BY name`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var rec models.LockRecord
		if err := rows.Scan(&rec.Name, &rec.Holder, &rec.AcquiredAt, &rec.ExpiresAt, &rec.HeartbeatAt, &rec.Metadata); err != nil {
			return nil, err
		}
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}
