package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"github.com/pulselabs/pulse/internal/auth"
	"github.com/pulselabs/pulse/internal/config"
	"github.com/pulselabs/pulse/internal/gateway"
	"github.com/pulselabs/pulse/internal/guard"
	"github.com/pulselabs/pulse/internal/metering"
	"github.com/pulselabs/pulse/internal/pricing"
	"github.com/pulselabs/pulse/internal/router"
	"github.com/pulselabs/pulse/internal/server"
	"github.com/pulselabs/pulse/internal/store"
	"github.com/pulselabs/pulse/internal/store/migrate"
	"github.com/pulselabs/pulse/internal/vault"
	"github.com/pulselabs/pulse/internal/webhook"

	// Register all providers via init()
	_ "github.com/pulselabs/pulse/internal/provider/anthropic"
	_ "github.com/pulselabs/pulse/internal/provider/mistral"
	_ "github.com/pulselabs/pulse/internal/provider/openai"
)

func main() {
	configPath := flag.String("config", "pulse.yaml", "path to config YAML")
	flag.Parse()

	// Best effort: a missing .env is fine.
	if err := godotenv.Load(); err == nil {
		log.Println("loaded .env")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	// Store: Postgres when configured, in-memory otherwise.
	var st store.Store
	if cfg.Database != "" {
		pool, err := pgxpool.New(ctx, cfg.Database)
		if err != nil {
			log.Fatalf("connect database: %v", err)
		}
		defer pool.Close()

		if err := pool.Ping(ctx); err != nil {
			log.Fatalf("ping database: %v", err)
		}
		log.Println("database connected")

		if err := migrate.RunMigrations(ctx, pool); err != nil {
			log.Fatalf("migration failed: %v", err)
		}
		log.Println("migrations complete")

		st = store.NewQueries(pool)
	} else {
		log.Println("warn: no database_url configured, using in-memory store")
		st = store.NewMemory()
	}

	// Rate limiter: Redis-backed when configured so concurrent instances
	// agree on counts.
	var limiter guard.RateLimiter
	if cfg.Redis != "" {
		opts, err := redis.ParseURL(cfg.Redis)
		if err != nil {
			log.Fatalf("parse redis_url: %v", err)
		}
		rdb := redis.NewClient(opts)
		if err := rdb.Ping(ctx).Err(); err != nil {
			log.Fatalf("ping redis: %v", err)
		}
		defer rdb.Close()
		log.Println("redis connected")
		limiter = guard.NewRedisRateLimiter(rdb)
	} else {
		log.Println("warn: no redis_url configured, rate limits are per-instance")
		limiter = guard.NewMemoryRateLimiter()
	}

	prices := pricing.Default()
	if cfg.PricingPath != "" {
		prices, err = pricing.Load(cfg.PricingPath)
		if err != nil {
			log.Fatalf("load pricing table: %v", err)
		}
		log.Printf("pricing table loaded from %s", cfg.PricingPath)
	}

	v := vault.New(cfg.MasterKey)
	meter := metering.New(st, prices, webhook.NewSender(), cfg.Gateway.MeterFailuresAt)
	gw := gateway.New(auth.New(st), limiter, guard.NewCostGate(st), router.New(st, v), meter,
		gateway.Options{RequireAttribution: cfg.Gateway.RequireAttribution})

	srv := server.New(server.Config{
		Gateway:  gw,
		Store:    st,
		Vault:    v,
		AdminKey: cfg.AdminKey,
	})

	httpServer := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      srv,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 120 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh

		log.Println("shutting down...")
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()

		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			log.Printf("shutdown error: %v", err)
		}

		// Let in-flight metering and webhook deliveries settle.
		select {
		case <-meter.Done():
		case <-shutdownCtx.Done():
		}
		cancel()
	}()

	log.Printf("pulse gateway listening on %s", httpServer.Addr)
	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("server error: %v", err)
	}
}
