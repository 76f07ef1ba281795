package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"

	"github.com/ayush/library-catalog/backend/internal/auth"
	"github.com/ayush/library-catalog/backend/internal/config"
	"github.com/ayush/library-catalog/backend/internal/graph"
	"github.com/ayush/library-catalog/backend/internal/logging"
	"github.com/ayush/library-catalog/backend/internal/middleware"
	"github.com/ayush/library-catalog/backend/internal/pubsub"
	"github.com/ayush/library-catalog/backend/internal/store"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("%v", err)
	}
	logger, err := logging.New(cfg.LogLevel)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer logger.Sync()

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	// ── MongoDB ──────────────────────────────────────────────
	mongoClient, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.MongoURI))
	if err != nil {
		logger.Fatal("mongo connect", zap.Error(err))
	}
	defer mongoClient.Disconnect(context.Background())
	if err := mongoClient.Ping(ctx, nil); err != nil {
		logger.Fatal("mongo ping", zap.Error(err))
	}
	mongoStore := store.NewMongoStore(mongoClient.Database(cfg.MongoDB))
	if err := mongoStore.EnsureIndexes(ctx); err != nil {
		logger.Fatal("mongo indexes", zap.Error(err))
	}

	// ── Users ────────────────────────────────────────────────
	var users graph.UserStore = mongoStore
	if cfg.UserBackend == config.UserBackendPostgres {
		pgPool, err := pgxpool.New(ctx, cfg.PostgresDSN)
		if err != nil {
			logger.Fatal("postgres connect", zap.Error(err))
		}
		defer pgPool.Close()
		pgStore := store.NewPostgresUserStore(pgPool)
		if err := pgStore.Migrate(ctx); err != nil {
			logger.Fatal("postgres migrate", zap.Error(err))
		}
		users = pgStore
	}
	logger.Info("user storage", zap.String("backend", cfg.UserBackend))

	creds, err := auth.NewCredentials(cfg.JWTSecret, cfg.LoginPassword)
	if err != nil {
		logger.Fatal("credentials", zap.Error(err))
	}

	// ── Notifications ────────────────────────────────────────
	bus := pubsub.NewBus(logger)
	defer bus.Close()
	publisher := pubsub.Local(bus)

	if cfg.RedisAddr != "" {
		rdb, err := store.NewRedisClient(ctx, cfg.RedisAddr, cfg.RedisPassword)
		if err != nil {
			logger.Fatal("redis connect", zap.Error(err))
		}
		defer rdb.Close()

		relay := pubsub.NewRedisRelay(rdb, cfg.RedisChannel, bus, logger)
		ready := make(chan struct{})
		go func() {
			if err := relay.Run(ctx, ready); err != nil {
				logger.Error("relay stopped", zap.Error(err))
			}
		}()
		select {
		case <-ready:
		case <-time.After(10 * time.Second):
			logger.Fatal("relay did not subscribe", zap.String("channel", cfg.RedisChannel))
		}
		publisher = relay
	}

	// ── GraphQL ──────────────────────────────────────────────
	resolver := graph.NewResolver(mongoStore, mongoStore, users, creds, publisher, bus, logger)
	engine, err := graph.NewEngine(resolver)
	if err != nil {
		logger.Fatal("build schema", zap.Error(err))
	}
	gqlHandler := graph.NewHandler(engine, creds, users, cfg.AllowedOrigins, logger)

	// ── Router ───────────────────────────────────────────────
	r := chi.NewRouter()
	r.Use(middleware.RequestLog(logger))
	r.Use(chimw.Recoverer)
	r.Use(chimw.RealIP)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Authorization", "X-Request-Id"},
		ExposedHeaders:   []string{"X-Request-Id"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Health check
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok"}`))
	})

	r.With(middleware.Session(creds, users, logger)).Handle("/graphql", gqlHandler)

	// ── Server ───────────────────────────────────────────────
	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("library catalog listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server error", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down")
	stop()
	shutCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutCtx); err != nil {
		logger.Warn("shutdown", zap.Error(err))
	}
}
