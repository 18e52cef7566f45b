// Command sweeper runs a single reservation-expiry sweep and exits. It is
// the entry point wired to cron; the server runs the same sweep on its own
// interval, so overlapping runs are harmless.
package main

import (
	"context"
	"database/sql"
	"flag"
	"os"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/hirebirhan/amtradingplc-sub002/internal/adapter/storage"
	"github.com/hirebirhan/amtradingplc-sub002/internal/config"
	"github.com/hirebirhan/amtradingplc-sub002/internal/core/service"
)

func main() {
	configPath := flag.String("config", "", "path to YAML config file")
	dryRun := flag.Bool("dry-run", false, "report what would expire without releasing anything")
	flag.Parse()

	logger := zerolog.New(os.Stderr).With().Timestamp().Logger()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load config")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	db, err := sql.Open("mysql", cfg.MySQLDSN)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to open mysql")
	}
	defer db.Close()
	if err := db.PingContext(ctx); err != nil {
		logger.Fatal().Err(err).Msg("failed to ping mysql")
	}

	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	defer rdb.Close()
	if err := rdb.Ping(ctx).Err(); err != nil {
		logger.Fatal().Err(err).Msg("failed to connect redis")
	}

	reservationStore := storage.NewMySQLReservationStore(db)
	redisAdapter := storage.NewRedisAdapter(rdb)
	reaper := service.NewReaper(reservationStore, redisAdapter, logger, cfg.Reaper.Interval, cfg.Reaper.BatchSize)

	if *dryRun {
		n, err := reaper.DryRun(ctx)
		if err != nil {
			logger.Fatal().Err(err).Msg("dry run failed")
		}
		logger.Info().Int("due", n).Msg("reservations due for expiry")
		return
	}

	n, err := reaper.RunOnce(ctx)
	if err != nil {
		logger.Fatal().Err(err).Int("released", n).Msg("sweep failed")
	}
	logger.Info().Int("released", n).Msg("sweep complete")
}
