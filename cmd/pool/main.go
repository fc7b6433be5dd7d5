package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"

	"pawpool/internal/gateway"
	"pawpool/internal/handler"
	"pawpool/internal/middleware"
	"pawpool/internal/notification"
	"pawpool/internal/pool"
	"pawpool/internal/repository/postgres"
	"pawpool/internal/scheduler"
	"pawpool/pkg/cache"
	"pawpool/pkg/config"
	"pawpool/pkg/logger"
	"pawpool/pkg/validator"
)

func main() {
	cfg := config.Load()
	log := logger.New("pool-service")

	if err := cfg.ValidateCore(); err != nil {
		log.Fatal("Invalid configuration", map[string]interface{}{"error": err.Error()})
	}

	log.Info("Starting Pool Service", map[string]interface{}{
		"port":     cfg.Server.Port,
		"currency": cfg.Pool.Currency,
	})

	db, err := sqlx.Connect("postgres", cfg.Database.URL)
	if err != nil {
		log.Fatal("Failed to connect to database", map[string]interface{}{"error": err.Error()})
	}
	defer db.Close()

	db.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	db.SetMaxIdleConns(cfg.Database.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.Database.ConnMaxLifetime)
	log.Info("Database connected", nil)

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.URL,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err := redisClient.Ping(context.Background()).Err(); err != nil {
		log.Fatal("Failed to connect to Redis", map[string]interface{}{"error": err.Error()})
	}
	defer redisClient.Close()
	log.Info("Redis connected", nil)

	repo := postgres.NewPoolRepository(db)
	gw := gateway.NewPayMongoClient(cfg.Gateway.BaseURL, cfg.Gateway.SecretKey, cfg.Gateway.RefundReason, cfg.Gateway.Timeout, log)
	statsCache := cache.NewFromClient(redisClient, "pool:")
	hub := notification.NewHub(log, 256)
	defer hub.Close()

	poolService := pool.NewService(repo, gw, statsCache, hub, pool.ConfigFrom(cfg), log)

	jobsCfg := scheduler.Config{
		RetryBatchSize:    cfg.Pool.RetryBatchSize,
		ReconcileInterval: cfg.Pool.ReconcileInterval,
	}
	if cfg.Pool.RetryEnabled {
		jobsCfg.RetryInterval = cfg.Pool.RetryInterval
	}
	jobs := scheduler.NewScheduler(poolService, jobsCfg, log)
	jobsCtx, stopJobs := context.WithCancel(context.Background())
	defer stopJobs()
	jobs.Start(jobsCtx)

	blacklist := middleware.NewRedisTokenBlacklist(redisClient)
	val := validator.New()
	routes := handler.Routes{
		Pool:     handler.NewPoolHandler(poolService, val, log),
		Disputes: handler.NewDisputeHandler(poolService, val, log),
		Admin:    handler.NewAdminHandler(poolService, val, log),
		Stream:   handler.NewStreamHandler(hub, log),
		Session:  handler.NewSessionHandler(blacklist, log, cfg.JWT.Expiration),
	}

	r := mux.NewRouter()
	r.Use(middleware.CORS)
	r.Use(middleware.SecurityHeaders)
	r.Use(middleware.Recovery(log))
	r.Use(middleware.CorrelationID)
	r.Use(middleware.NewLoggingMiddleware(log).Log)
	r.Use(middleware.BodyLimit(1 << 20))
	r.Use(middleware.NewRateLimiter(redisClient, "global", cfg.RateLimit.GlobalPerMinute, time.Minute).Limit)

	r.HandleFunc("/health", healthCheck).Methods(http.MethodGet)
	r.HandleFunc("/ready", readyCheck(db, redisClient)).Methods(http.MethodGet)

	authMW := middleware.NewAuthMiddleware(cfg.JWT.Secret).WithBlacklist(blacklist)
	idemMW := middleware.NewIdempotencyMiddleware(redisClient, cfg.Pool.IdempotencyTTL)

	api := r.PathPrefix("/api/v1").Subrouter()
	api.Use(authMW.Authenticate)
	api.Use(middleware.NewRateLimiter(redisClient, "api", cfg.RateLimit.APIPerMinute, time.Minute).Limit)
	api.Use(idemMW.Require)
	routes.Register(api, middleware.NewAuditMiddleware(log).Audit)

	srv := &http.Server{
		Addr:         fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.Port),
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		log.Info("Pool service started", map[string]interface{}{"address": srv.Addr})
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("Server failed to start", map[string]interface{}{"error": err.Error()})
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down pool service...", nil)

	jobs.Stop()
	hub.Close()

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Error("Pool service forced to shutdown", map[string]interface{}{"error": err.Error()})
	}

	log.Info("Pool service stopped gracefully", nil)
}

func healthCheck(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"healthy","service":"pool","timestamp":"` + time.Now().UTC().Format(time.RFC3339) + `"}`))
}

func readyCheck(db *sqlx.DB, rdb *redis.Client) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if err := db.PingContext(r.Context()); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte(`{"status":"not ready","reason":"database unavailable"}`))
			return
		}
		if err := rdb.Ping(r.Context()).Err(); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte(`{"status":"not ready","reason":"redis unavailable"}`))
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ready","service":"pool"}`))
	}
}
