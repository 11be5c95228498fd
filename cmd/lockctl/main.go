package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"deal_guardian/internal/locks"
	"deal_guardian/internal/models"
	"deal_guardian/pkg/db"
	"deal_guardian/pkg/logger"

	"github.com/pkg/errors"
	"github.com/spf13/viper"
)

// lockctl — операционная утилита для таблицы service_locks:
//
//	lockctl list
//	lockctl get <name>
//	lockctl force-release <name>
func main() {
	if err := logger.Init(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	viper.SetDefault("dsn", "postgres://localhost:5432/deal_guardian?sslmode=disable")
	_ = viper.BindEnv("dsn", "DATABASE_DSN")

	if len(os.Args) < 2 {
		return errors.New("usage: lockctl <list|get|force-release> [name]")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := db.NewPool(ctx, db.PoolConfig{DSN: viper.GetString("dsn")})
	if err != nil {
		return errors.Wrap(err, "create pool")
	}
	defer pool.Close()

	repo := locks.NewPgRepo(db.NewPgTxManager(pool))

	switch os.Args[1] {
	case "list":
		recs, err := repo.List(ctx)
		if err != nil {
			return errors.Wrap(err, "list locks")
		}
		if len(recs) == 0 {
			fmt.Println("no locks held")
			return nil
		}
		for _, rec := range recs {
			printLock(rec)
		}
		return nil

	case "get":
		if len(os.Args) < 3 {
			return errors.New("usage: lockctl get <name>")
		}
		rec, err := repo.Get(ctx, os.Args[2])
		if err != nil {
			return errors.Wrap(err, "get lock")
		}
		if rec == nil {
			fmt.Printf("lock %q is not held\n", os.Args[2])
			return nil
		}
		printLock(*rec)
		return nil

	case "force-release":
		if len(os.Args) < 3 {
			return errors.New("usage: lockctl force-release <name>")
		}
		if err := repo.ForceRelease(ctx, os.Args[2]); err != nil {
			return errors.Wrap(err, "force release")
		}
		fmt.Printf("lock %q force-released\n", os.Args[2])
		return nil

	default:
		return errors.Errorf("unknown command %q", os.Args[1])
	}
}

func printLock(rec models.LockRecord) {
	status := "live"
	if rec.Expired() {
		status = "EXPIRED"
	}
	fmt.Printf("%-24s holder=%-24s held-for=%-12s expires-in=%-12s heartbeat=%s [%s]\n",
		rec.Name, rec.Holder,
		rec.HeldFor().Truncate(time.Second),
		rec.ExpiresIn().Truncate(time.Second),
		rec.HeartbeatAt.Format(time.RFC3339),
		status,
	)
}
