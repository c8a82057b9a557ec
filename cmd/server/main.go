package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"schoolhub/access/internal/auth"
	"schoolhub/access/internal/authz"
	"schoolhub/access/internal/config"
	"schoolhub/access/internal/db"
	internalhttp "schoolhub/access/internal/http"
	"schoolhub/access/internal/ratelimit"
	"schoolhub/access/internal/repository"
	"schoolhub/access/internal/session"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config load failed: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("config invalid: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := db.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("db connection failed: %v", err)
	}
	defer pool.Close()

	store := repository.NewStore(pool)

	var limiter ratelimit.Limiter
	if cfg.RedisAddr != "" {
		redisClient := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
		})
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		if err := redisClient.Ping(pingCtx).Err(); err != nil {
			cancel()
			log.Fatalf("redis ping failed: %v", err)
		}
		cancel()
		defer func() {
			if err := redisClient.Close(); err != nil {
				log.Printf("redis close error: %v", err)
			}
		}()
		limiter = ratelimit.NewRedisLimiter(redisClient, ratelimit.Policy{
			MaxAttempts: cfg.LoginMaxAttempts,
			Window:      cfg.LoginAttemptWindow,
			Lockout:     cfg.LoginLockout,
		})
	} else {
		limiter = ratelimit.NewMemoryLimiter(ratelimit.Policy{
			MaxAttempts: cfg.LoginMaxAttempts,
			Window:      cfg.LoginAttemptWindow,
			Lockout:     cfg.LoginLockout,
		})
	}

	// Sessions normally live in Postgres; SESSION_STATE_FILE switches to
	// a local JSON file for single-node deployments.
	var sessionStore session.Store = store
	if cfg.SessionStateFile != "" {
		sessionStore = session.NewFileStore(cfg.SessionStateFile)
	}
	sessions := session.NewManager(sessionStore, session.Config{
		Duration:      cfg.SessionDuration,
		WarnBefore:    cfg.SessionWarnBefore,
		WatchInterval: cfg.SessionWatchInterval,
	})

	verifier := auth.NewVerifier(store, limiter, sessions, cfg.VerifyTimeout)

	engine := authz.NewEngine(store)
	if err := engine.LoadAll(ctx); err != nil {
		log.Fatalf("permission load failed: %v", err)
	}

	server := internalhttp.NewServer(cfg, verifier, sessions, engine)
	defer server.Close()

	httpServer := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           server.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		log.Printf("access listening on %s", cfg.HTTPAddr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("http server error: %v", err)
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown error: %v", err)
	}
}
