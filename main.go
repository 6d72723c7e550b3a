package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"townmarket/internal/config"
	"townmarket/internal/database/db_client"
	"townmarket/internal/http/http_server"
	"townmarket/internal/redis/bidlimiter"
	"townmarket/internal/redis/paymenttimer"
	"townmarket/internal/redis/redis_client"
	"townmarket/internal/redis/watcher/paymentwatcher"
	"townmarket/internal/services/bidding"
	"townmarket/internal/services/permission"
	"townmarket/internal/services/settlement"
	"townmarket/internal/sweeper"
)

var (
	Log, _ = zap.NewDevelopment()
)

func main() {
	defer Log.Sync()
	zap.ReplaceGlobals(Log)

	// 1. Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		Log.Fatal("Failed to load configuration", zap.Error(err))
	}
	Log.Debug("Configuration loaded successfully", zap.Any("config", cfg))

	// 2. Context with signal handling
	ctx, stop := signal.NotifyContext(context.Background(),
		os.Interrupt, syscall.SIGINT, syscall.SIGTERM,
	)
	defer stop()

	// 3. Postgres db client
	pgDb, err := db_client.Open(cfg.PostgresHost, cfg.PostgresPort,
		cfg.PostgresUser, cfg.PostgresPassword, cfg.PostgresDb)
	if err != nil {
		Log.Fatal("pg-open", zap.Error(err))
	}
	defer pgDb.Close()

	// 4. Redis is optional: without it the rate limiter reads the bid
	// ledger and deadline enforcement relies on the sweep alone.
	var redisClient *redis.Client
	if cfg.RedisHost != "" {
		redisClient, err = redis_client.NewRedisClient(cfg.RedisHost, int(cfg.RedisPort))
		if err != nil {
			Log.Fatal("Failed to create Redis client", zap.Error(err))
		}
		defer redisClient.Close()
		Log.Debug("Redis client created successfully")
	}

	// 5. Services
	gate := permission.NewTrustTierGate(pgDb)

	var limiter bidding.Limiter
	var timer settlement.DeadlineTimer
	if redisClient != nil {
		limiter = bidlimiter.New(redisClient, cfg.BidRateWindow)
		timer = paymenttimer.New(redisClient)
	} else {
		limiter = bidding.NewLedgerLimiter(pgDb)
	}

	biddingService := bidding.NewBiddingService(pgDb, gate, limiter, cfg.BidRateWindow)
	settlementService := settlement.NewSettlementService(pgDb, gate, timer, cfg.PaymentWindow)

	// 6. Background: key-expiry watcher for prompt deadline enforcement
	if redisClient != nil {
		go paymentwatcher.Run(ctx, redisClient, settlementService)
	}

	// 7. Background: overdue-payment sweep (the durable fallback)
	sweeper.Run(ctx, pgDb, settlementService, cfg.SweepInterval, cfg.SweepWorkers)

	// 8. HTTP server
	httpServer := http_server.NewHttpServer(ctx, cfg.HttpServerPort, biddingService, settlementService)
	if err := httpServer.Start(); err != nil {
		Log.Fatal("Failed to start HTTP server", zap.Error(err))
	}
}
