package main

import (
	"context"   // context package is needed for Redis operations
	"errors"    // errors.Is for server shutdown
	"net/http"  // HTTP server
	"os"        // Signal handling
	"os/signal" // Signal handling
	"syscall"   // SIGTERM
	"time"      // Timeouts and tickers

	"gamebridge/internal/api"        // Custom package for API handlers
	"gamebridge/internal/chain"      // Chain parsing sidecar client
	"gamebridge/internal/config"     // Custom package for configuration
	"gamebridge/internal/escrow"     // Wager escrow and settlement
	"gamebridge/internal/events"     // Operational event publishing
	kafkapub "gamebridge/internal/events/kafka"
	"gamebridge/internal/ledger"     // Balance mutations and audit
	"gamebridge/internal/middleware" // Custom package for middleware
	"gamebridge/internal/notify"     // Connected-player pushes
	"gamebridge/internal/ratelimit"  // Verification rate limiting
	"gamebridge/internal/store/gormstore"
	"gamebridge/internal/utils"  // Redis cache helpers
	"gamebridge/internal/verify" // Transfer verification
	"gamebridge/internal/wallet" // Custodial signer clients
	"gamebridge/internal/withdraw"

	"github.com/gin-gonic/gin"      // Gin web framework
	"github.com/redis/go-redis/v9"  // Redis client
	"github.com/shopspring/decimal" // Fake custodial seed balance
	"github.com/sirupsen/logrus"    // Logrus for structured logging
)

// Main function to set up and run the server
func main() {
	cfg := config.LoadConfig() // Load configuration

	// Setup logger
	logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	// Connect to the database
	st, err := gormstore.Open(cfg.DSN())
	if err != nil {
		logrus.Fatalf("failed to connect to DB: %v", err) // Fatal error if DB connection fails
	}

	// Setup Redis client
	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr, // Redis server address
		Password: cfg.RedisPass, // Redis password
		DB:       cfg.RedisDB,   // Redis database number
	})

	// Test Redis connection
	if _, err := redisClient.Ping(context.Background()).Result(); err != nil {
		logrus.Fatalf("failed to connect to Redis: %v", err)
	}

	// Operational events go to Kafka when brokers are configured
	var pub events.Publisher = events.Noop{}
	if len(cfg.KafkaBrokers) > 0 {
		kp := kafkapub.NewPublisher(cfg.KafkaBrokers, events.TopicOperational)
		defer kp.Close()
		pub = kp
	}

	// Custodial signer: HTTP sidecar in production, in-memory fake for
	// local development
	var custodial wallet.Custodial
	if cfg.CustodialURL != "" {
		custodial = wallet.NewHTTPCustodial(cfg.CustodialURL)
	} else {
		logrus.Warn("CUSTODIAL_URL not set, using in-memory fake custodial wallet")
		custodial = wallet.NewFake(decimal.New(1, 9))
	}

	// Core services
	led := ledger.New(st, pub)
	led.SetInvalidator(func(w string) {
		// Drop the cached balance after every applied mutation
		if err := utils.DeleteCache(context.Background(), redisClient, utils.BalanceKey(w)); err != nil {
			logrus.WithError(err).Warn("balance cache invalidation failed")
		}
	})

	// One per-identity window shared by verification and balance checks
	limiter := ratelimit.NewRedis(redisClient, "rl", cfg.RateLimit, cfg.RateWindow)
	guard := verify.NewReplayGuard(st)
	verifier := verify.New(chain.NewHTTPClient(cfg.ChainRPCURL), guard, limiter, st, pub)

	registry := notify.NewRegistry()
	queue := withdraw.NewQueue(st, led, custodial, registry, pub, withdraw.Config{
		MinWithdrawal:       cfg.MinWithdrawal,
		RakeBps:             cfg.RakeBps,
		ChainUnitsPerPebble: cfg.ChainUnitsPerPebble,
		LiquidityBuffer:     cfg.LiquidityBuffer,
	})
	coordinator := escrow.NewCoordinator(led, st, custodial, pub)

	// A crash mid-payout leaves rows in processing; put them back in
	// line before the sweep starts
	if _, err := queue.Recover(context.Background()); err != nil {
		logrus.Fatalf("failed to recover withdrawal queue: %v", err)
	}

	// Set Mode to Release if in production
	if cfg.IsProd {
		gin.SetMode(gin.ReleaseMode)
	}

	// Setup Gin
	r := gin.Default() // Gin router instance

	// Set trusted proxies for Gin
	if err := r.SetTrustedProxies([]string{"127.0.0.1"}); err != nil {
		logrus.Fatalf("failed to set trusted proxies: %v", err)
	}

	// Auth routes
	r.POST("/auth/login", api.LoginHandler(st, cfg.Network, cfg.JWTSecret)) // Signed-intent login

	// Wallet routes (protected by JWT)
	walletGroup := r.Group("/wallet")
	walletGroup.Use(middleware.JWTAuthMiddleware(cfg.JWTSecret))
	walletGroup.GET("", api.BalanceHandler(st, redisClient, limiter))                       // Balance endpoint
	walletGroup.POST("/deposit", api.DepositHandler(verifier, led, st, registry, cfg))      // Token deposit endpoint
	walletGroup.POST("/deposit/native", api.NativeDepositHandler(verifier, led, st, registry, cfg))
	walletGroup.POST("/withdraw", api.WithdrawHandler(queue))                 // Withdrawal endpoint
	walletGroup.DELETE("/withdraw/:id", api.CancelWithdrawalHandler(queue))   // Cancel endpoint
	walletGroup.GET("/withdrawals", api.ListWithdrawalsHandler(queue))        // Withdrawal list endpoint
	walletGroup.GET("/audit", api.AuditHistoryHandler(st, redisClient))       // Audit history endpoint
	walletGroup.GET("/notifications", api.NotificationsHandler(registry))     // WebSocket push endpoint

	// Match routes (protected by JWT)
	matchGroup := r.Group("/match")
	matchGroup.Use(middleware.JWTAuthMiddleware(cfg.JWTSecret))
	matchGroup.POST("/accept", api.AcceptWagerHandler(coordinator, verifier, cfg)) // Accept wager endpoint
	matchGroup.POST("/settle", api.SettleMatchHandler(coordinator))                // Settle match endpoint

	// Admin routes (protected, admin only)
	adminGroup := r.Group("/admin")
	adminGroup.Use(middleware.JWTAuthMiddleware(cfg.JWTSecret), middleware.AdminOnlyMiddleware(st))
	adminGroup.GET("/queue", api.QueueStatusHandler(queue, custodial))              // Queue status endpoint
	adminGroup.GET("/audit", api.ListAuditHandler(st, redisClient))                 // Audit log endpoint
	adminGroup.POST("/unlock", api.UnlockHandler(custodial, cfg.UnlockHash))        // Custodial unlock endpoint
	adminGroup.POST("/queue/process", api.ProcessQueueHandler(queue, cfg.SweepBatch)) // Manual sweep endpoint

	// Background sweep: drain the withdrawal queue as liquidity allows
	sweepCtx, stopSweep := context.WithCancel(context.Background())
	go func() {
		ticker := time.NewTicker(cfg.SweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-sweepCtx.Done():
				return
			case <-ticker.C:
				if n, err := queue.ProcessQueue(sweepCtx, cfg.SweepBatch); err != nil {
					logrus.WithError(err).Error("withdrawal sweep failed")
				} else if n > 0 {
					logrus.WithField("processed", n).Info("withdrawal sweep completed payouts")
				}
			}
		}
	}()

	srv := &http.Server{Addr: ":" + cfg.AppPort, Handler: r}
	go func() {
		logrus.Info("Server running on " + cfg.AppPort) // Log server start
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logrus.Fatalf("server error: %v", err)
		}
	}()

	// Graceful shutdown on SIGINT/SIGTERM
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logrus.Info("shutting down")

	stopSweep()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logrus.Errorf("forced shutdown: %v", err)
	}
}
