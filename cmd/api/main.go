package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/geocoder89/accounthub/internal/accounts"
	"github.com/geocoder89/accounthub/internal/config"
	"github.com/geocoder89/accounthub/internal/db"
	httpx "github.com/geocoder89/accounthub/internal/http"
	"github.com/geocoder89/accounthub/internal/http/handlers"
	"github.com/geocoder89/accounthub/internal/http/middlewares"
	"github.com/geocoder89/accounthub/internal/observability"
	"github.com/geocoder89/accounthub/internal/redisclient"
	"github.com/geocoder89/accounthub/internal/repo/memory"
	"github.com/geocoder89/accounthub/internal/repo/postgres"
	"github.com/geocoder89/accounthub/internal/security"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

func main() {
	// Load the config set up
	cfg := config.Load()

	// start up the observability logger
	log := observability.NewLogger(cfg.Env, cfg.LogLevel)
	log = log.With("service", cfg.OTelServiceName)
	slog.SetDefault(log)

	if cfg.OTelEnabled {
		ctx, cancel := config.WithTimeout(5 * time.Second)
		shutdownTracer, err := observability.InitTracer(ctx, observability.TracerConfig{
			ServiceName: cfg.OTelServiceName,
			Endpoint:    cfg.OTelEndpoint,
			Environment: cfg.Env,
		})
		cancel()

		if err != nil {
			log.Error("otel init failed", "err", err)
			os.Exit(1)
		}

		defer func() {
			ctx, cancel := config.WithTimeout(5 * time.Second)
			defer cancel()
			_ = shutdownTracer(ctx)
		}()
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	prom := observability.NewProm(reg)

	// store selection
	var (
		store  accounts.Store
		checks []handlers.Check
	)

	switch cfg.StoreDriver {
	case config.StoreDriverMemory:
		mem := memory.NewUsersRepo()
		store = mem
		checks = append(checks, handlers.Check{Name: "store", Ping: mem.Ping})
		log.Warn("using in-memory store, accounts are lost on restart")

	case config.StoreDriverPostgres:
		ctx, cancel := config.WithTimeout(10 * time.Second)
		pool, err := db.NewPool(ctx, db.PoolConfig{URL: cfg.DBURL, MaxConns: cfg.DBMaxConns})
		if err != nil {
			cancel()
			log.Error("db connect failed", "err", err)
			os.Exit(1)
		}
		defer pool.Close()

		if err := db.Migrate(ctx, pool); err != nil {
			cancel()
			log.Error("db migrate failed", "err", err)
			os.Exit(1)
		}
		cancel()

		repo := postgres.NewUsersRepo(pool, prom)
		store = repo
		checks = append(checks, handlers.Check{Name: "db", Ping: repo.Ping})

	default:
		log.Error("unknown store driver", "driver", cfg.StoreDriver)
		os.Exit(1)
	}

	hasher, err := security.NewHasher(cfg.BcryptCost)
	if err != nil {
		log.Error("hasher init failed", "err", err)
		os.Exit(1)
	}
	log.Info("password hasher ready", "bcrypt_cost", hasher.Cost())

	svc := accounts.NewService(store, hasher,
		accounts.WithStoreTimeout(cfg.StoreTimeout),
		accounts.WithLogger(log),
		accounts.WithProm(prom),
	)

	if cfg.AdminEmail != "" && cfg.AdminPassword != "" {
		ctx, cancel := config.WithTimeout(10 * time.Second)
		err := svc.EnsureAdmin(ctx, cfg.AdminEmail, cfg.AdminPassword, cfg.AdminRole)
		cancel()

		if err != nil {
			log.Error("bootstrap admin failed", "err", err)
			os.Exit(1)
		}
	}

	// login throttling, shared across instances when redis is configured
	var limiter middlewares.Limiter
	if cfg.LoginRateLimit > 0 {
		limiter = middlewares.NewRateLimiter(cfg.LoginRateLimit, cfg.LoginRateWindow)

		if cfg.RedisAddr != "" {
			rdb := redisclient.New(redisclient.Config{
				Addr:     cfg.RedisAddr,
				Password: cfg.RedisPassword,
				DB:       cfg.RedisDB,
			})
			defer rdb.Close()

			ctx, cancel := config.WithTimeout(2 * time.Second)
			err := rdb.Ping(ctx)
			cancel()

			if err != nil {
				log.Warn("redis unavailable, login limiter stays in-process", "addr", cfg.RedisAddr, "err", err)
			} else {
				limiter = redisclient.NewWindowLimiter(rdb, "accounthub:login", cfg.LoginRateLimit, cfg.LoginRateWindow)
				checks = append(checks, handlers.Check{Name: "redis", Ping: rdb.Ping})
			}
		}
	}

	// set up routers with the log
	router := httpx.NewRouter(log, cfg, httpx.Deps{
		Accounts:     svc,
		Prom:         prom,
		Gatherer:     reg,
		LoginLimiter: limiter,
		Checks:       checks,
	})

	// server set up
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	serverErr := make(chan error, 1)

	go func() {
		log.Info("server starting", "port", cfg.Port, "env", cfg.Env, "store", cfg.StoreDriver)
		err := srv.ListenAndServe()

		if err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()

	// Graceful shutdown

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-stop:
		log.Info("server shutting down")
	case err := <-serverErr:
		log.Error("server failed", "err", err)
	}

	shutdownCh := make(chan struct{})

	go func() {
		defer close(shutdownCh)

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := srv.Shutdown(ctx); err != nil {
			log.Error("graceful shutdown failed", "err", err)
		}
	}()

	select {
	case <-shutdownCh:
		log.Info("shutdown complete")

	case <-time.After(12 * time.Second):
		log.Error("shutdown timed out")
	}
}
