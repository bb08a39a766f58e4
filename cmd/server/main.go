package main

import (
	"context"
	"database/sql"
	"log"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/redis/go-redis/v9"

	_ "github.com/lib/pq" // PostgreSQL driver

	"github.com/ignite/blast-orchestrator/internal/antidetect"
	"github.com/ignite/blast-orchestrator/internal/api"
	"github.com/ignite/blast-orchestrator/internal/config"
	"github.com/ignite/blast-orchestrator/internal/emitter"
	"github.com/ignite/blast-orchestrator/internal/health"
	"github.com/ignite/blast-orchestrator/internal/pacing"
	"github.com/ignite/blast-orchestrator/internal/pkg/clock"
	"github.com/ignite/blast-orchestrator/internal/pkg/logger"
	"github.com/ignite/blast-orchestrator/internal/repository/postgres"
	"github.com/ignite/blast-orchestrator/internal/runner"
	"github.com/ignite/blast-orchestrator/internal/service/campaign"
	"github.com/ignite/blast-orchestrator/internal/transport"
	"github.com/ignite/blast-orchestrator/internal/validation"
)

func main() {
	cfgPath := os.Getenv("CONFIG_PATH")
	if cfgPath == "" {
		if _, err := os.Stat("config/config.yaml"); err == nil {
			cfgPath = "config/config.yaml"
		}
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	if os.Getenv("LOG_DEBUG") == "true" {
		logger.SetLevel(logger.DEBUG)
	}

	db, err := sql.Open("postgres", cfg.Database.URL)
	if err != nil {
		log.Fatalf("open database: %v", err)
	}
	db.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	db.SetMaxIdleConns(cfg.Database.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.Database.ConnMaxLifetime)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	if err := db.PingContext(pingCtx); err != nil {
		cancel()
		log.Fatalf("ping database: %v", err)
	}
	cancel()

	if err := postgres.Migrate(ctx, db); err != nil {
		log.Fatalf("migrate: %v", err)
	}

	var rdb *redis.Client
	if cfg.Redis.Enabled && cfg.Redis.URL != "" {
		opts, err := redis.ParseURL(cfg.Redis.URL)
		if err != nil {
			log.Fatalf("parse redis url: %v", err)
		}
		rdb = redis.NewClient(opts)
		if err := rdb.Ping(ctx).Err(); err != nil {
			logger.Warn("redis unavailable, degrading to local mode", "error", err.Error())
			rdb = nil
		}
	}

	clk := clock.New()
	repo := postgres.NewCampaignRepo(db)
	queueStore := postgres.NewQueueStore(db)
	cache := validation.NewCache(rdb, postgres.NewValidationStore(db), clk)

	var scores health.ScoreStore = health.NewMemoryStore()
	if rdb != nil {
		scores = health.NewRedisStore(rdb)
	}

	hub := emitter.NewHub()
	sinks := emitter.Multi{hub}
	if cfg.Events.SQSQueueURL != "" {
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Events.AWSRegion))
		if err != nil {
			log.Fatalf("load aws config: %v", err)
		}
		sinks = append(sinks, emitter.NewSQSForwarder(sqs.NewFromConfig(awsCfg), cfg.Events.SQSQueueURL))
		logger.Info("sqs event forwarding enabled", "queue_url", cfg.Events.SQSQueueURL)
	}

	deps := runner.Deps{
		Repo:        repo,
		Queue:       queueStore,
		Cache:       cache,
		Transport:   transport.NewGatewayClient(cfg.Gateway.BaseURL, cfg.Gateway.APIKey, cfg.Gateway.SendTimeout),
		Pacing:      pacing.NewController(),
		Health:      health.NewMonitor(scores, rand.New(rand.NewSource(time.Now().UnixNano()))),
		Detect:      antidetect.NewEngine(rand.New(rand.NewSource(time.Now().UnixNano()))),
		Events:      sinks,
		Clock:       clk,
		SendTimeout: cfg.Gateway.SendTimeout,
		Seed:        time.Now().UnixNano(),
	}

	mgr := runner.NewManager(deps, rdb, db)
	if err := mgr.BootRecovery(ctx, cfg.Recovery.StaleAge); err != nil {
		log.Fatalf("boot recovery: %v", err)
	}
	go mgr.RunResumeScheduler(ctx, 30*time.Second)
	go mgr.RunQueueRecovery(ctx, cfg.Recovery.Interval, cfg.Recovery.StaleAge)

	emergency := runner.NewEmergencyMonitor(mgr, sinks, clk,
		cfg.Emergency.SweepInterval, cfg.Emergency.MinSample,
		cfg.Emergency.PauseFailureRate, cfg.Emergency.WarnFailureRate)
	go emergency.Run(ctx)

	svc := campaign.NewService(repo, queueStore)
	server := api.NewServer(svc, mgr, hub, cfg.Server.AllowedOrigins)
	server.SetValidation(ctx, cache, deps.Transport)

	httpSrv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           server.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server listening", "addr", cfg.Server.Addr)
		errCh <- httpSrv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-errCh:
		log.Fatalf("server: %v", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown", "error", err.Error())
	}

	// Workers halt without transitions: campaigns stay running in the
	// database and the next process adopts them on boot.
	mgr.Shutdown(shutdownCtx)
	logger.Info("shutdown complete")
}
