// Standalone expired-reservation sweeper, meant for cron or a sidecar when
// the in-process ticker is disabled. Uses plain database/sql so it can run
// against the pooler without GORM in the mix.
package main

import (
	"context"
	"database/sql"
	"flag"
	"log"
	"os"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/joho/godotenv"
)

const sweepSQL = `
	UPDATE marketplace.plots
	SET status = 'available', locked_by = NULL, locked_until = NULL
	WHERE status = 'locked' AND locked_until <= now()
`

func main() {
	_ = godotenv.Load(".env.local")

	var (
		dsn         = flag.String("dsn", os.Getenv("DATABASE_URL"), "Postgres DSN (default: env DATABASE_URL)")
		interval    = flag.Duration("interval", 0, "sweep repeatedly at this interval (0 = run once)")
		advisoryKey = flag.Int64("advisory-lock", 0, "Optional Postgres advisory lock key so only one sweeper runs. 0 = disabled")
	)
	flag.Parse()

	if *dsn == "" {
		log.Fatal("--dsn not provided and DATABASE_URL not set")
	}

	db, err := sql.Open("pgx", *dsn)
	if err != nil {
		log.Fatal("open: ", err)
	}
	defer db.Close()

	ctx := context.Background()

	if *advisoryKey != 0 {
		var got bool
		if err := db.QueryRowContext(ctx, `SELECT pg_try_advisory_lock($1)`, *advisoryKey).Scan(&got); err != nil {
			log.Fatal("advisory lock: ", err)
		}
		if !got {
			log.Println("another sweeper holds the advisory lock, exiting")
			return
		}
	}

	for {
		res, err := db.ExecContext(ctx, sweepSQL)
		if err != nil {
			log.Fatal("sweep: ", err)
		}
		released, _ := res.RowsAffected()
		log.Printf("released %d expired locks", released)

		if *interval <= 0 {
			return
		}
		time.Sleep(*interval)
	}
}
