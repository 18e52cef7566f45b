package main

import (
	"context"
	"database/sql"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/hirebirhan/amtradingplc-sub002/internal/adapter/handler"
	"github.com/hirebirhan/amtradingplc-sub002/internal/adapter/storage"
	"github.com/hirebirhan/amtradingplc-sub002/internal/config"
	"github.com/hirebirhan/amtradingplc-sub002/internal/core/service"
)

func main() {
	configPath := flag.String("config", "", "path to YAML config file")
	flag.Parse()

	logger := newLogger(os.Getenv("LOG_LEVEL"))

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load config")
	}
	logger = newLogger(cfg.LogLevel)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize MySQL
	db, err := sql.Open("mysql", cfg.MySQLDSN)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to open mysql")
	}
	db.SetMaxOpenConns(50)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		logger.Fatal().Err(err).Msg("failed to ping mysql")
	}
	logger.Info().Msg("connected to mysql")

	// Initialize Redis
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		PoolSize: 100,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		logger.Fatal().Err(err).Msg("failed to connect redis")
	}
	logger.Info().Msg("connected to redis")

	// Initialize adapters
	mysqlAdapter := storage.NewMySQLAdapter(db, logger)
	reservationStore := storage.NewMySQLReservationStore(db)
	transferStore := storage.NewMySQLTransferStore(db, mysqlAdapter)
	redisAdapter := storage.NewRedisAdapter(rdb)

	// Initialize services
	stockService := service.NewStockService(mysqlAdapter, reservationStore, redisAdapter, logger)
	reservationService := service.NewReservationService(reservationStore, mysqlAdapter, logger)
	transferService := service.NewTransferService(transferStore, reservationStore, redisAdapter, logger)
	reaper := service.NewReaper(reservationStore, redisAdapter, logger, cfg.Reaper.Interval, cfg.Reaper.BatchSize)

	// Start the expiry reaper
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		reaper.Run(ctx)
	}()

	// Initialize HTTP server
	httpHandler := handler.NewHTTPHandler(stockService, reservationService, transferService, reaper)
	mux := http.NewServeMux()
	httpHandler.Register(mux)

	httpServer := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: mux,
	}

	go func() {
		logger.Info().Str("addr", cfg.HTTPAddr).Msg("http server listening")
		if err := httpServer.ListenAndServe(); err != http.ErrServerClosed {
			logger.Error().Err(err).Msg("http server error")
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	httpServer.Shutdown(shutdownCtx)
	logger.Info().Msg("http server stopped")

	cancel()
	wg.Wait()
	logger.Info().Msg("reaper stopped")

	rdb.Close()
	db.Close()
	logger.Info().Msg("connections closed")
}

func newLogger(level string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}
	return zerolog.New(os.Stdout).Level(lvl).With().Timestamp().Logger()
}
