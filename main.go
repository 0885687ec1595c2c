package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-redis/redis/v8"
	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"

	"ms-reservation/internal/auth"
	"ms-reservation/internal/catalog"
	"ms-reservation/internal/config"
	"ms-reservation/internal/database/migrations"
	"ms-reservation/internal/kafka"
	"ms-reservation/internal/logger"
	"ms-reservation/internal/models"
	"ms-reservation/internal/reservation"
	"ms-reservation/internal/reservation/api"
	"ms-reservation/internal/reservation/db"
	rediswrap "ms-reservation/internal/reservation/redis"
	"ms-reservation/internal/tickets/qr"
)

func connectPostgres(cfg config.DatabaseConfig, log *logger.Logger) *bun.DB {
	var sqldb *sql.DB
	var err error

	for i := 0; i < cfg.ConnectTries; i++ {
		log.Info("DATABASE", fmt.Sprintf("Attempting to connect to PostgreSQL (attempt %d/%d)", i+1, cfg.ConnectTries))
		sqldb, err = sql.Open("postgres", cfg.DSN)
		if err == nil {
			if err = sqldb.Ping(); err == nil {
				break
			}
			sqldb.Close()
		}
		log.Error("DATABASE", fmt.Sprintf("Failed to connect to PostgreSQL: %v", err))
		if i < cfg.ConnectTries-1 {
			time.Sleep(2 * time.Second)
		}
	}
	if err != nil || sqldb == nil {
		log.Fatal("DATABASE", fmt.Sprintf("Failed to connect to PostgreSQL after %d attempts: %v", cfg.ConnectTries, err))
		return nil
	}

	sqldb.SetMaxOpenConns(cfg.MaxOpenConns)
	sqldb.SetMaxIdleConns(cfg.MaxIdleConns)
	sqldb.SetConnMaxLifetime(cfg.MaxLifetime)

	log.Info("DATABASE", "PostgreSQL connection successful")
	return bun.NewDB(sqldb, pgdialect.New())
}

func connectRedis(ctx context.Context, cfg config.RedisConfig, log *logger.Logger) *redis.Client {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		log.Fatal("REDIS", fmt.Sprintf("Redis connection error: %v", err))
	}

	if cfg.ExpiryNotifications {
		if err := client.ConfigSet(ctx, "notify-keyspace-events", "Ex").Err(); err != nil {
			log.Warn("REDIS", fmt.Sprintf("Failed to enable keyspace notifications: %v", err))
		}
	}

	log.Info("REDIS", fmt.Sprintf("Redis connection successful to %s (DB: %d)", cfg.Addr, cfg.DB))
	return client
}

func runMigrations(bunDB *bun.DB, log *logger.Logger) {
	runner := migrations.NewRunner(bunDB, log)
	defer func() {
		if err := runner.Close(); err != nil {
			log.Warn("MIGRATE", fmt.Sprintf("Failed to close migrator: %v", err))
		}
	}()
	if err := runner.MigrateUp(); err != nil {
		log.Fatal("MIGRATE", fmt.Sprintf("Migration failed: %v", err))
	}
}

func main() {
	envErr := godotenv.Load()
	cfg := config.Load()

	log := logger.NewLogger(logger.Options{
		Dir:      cfg.Log.Dir,
		Service:  cfg.Log.Service,
		MinLevel: logger.ParseLevel(cfg.Log.Level),
	})
	defer log.Close()
	if envErr != nil {
		log.Warn("CONFIG", ".env file not found, using environment variables")
	}
	log.Info("APP", "Starting reservation service")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	bunDB := connectPostgres(cfg.Database, log)
	defer bunDB.Close()
	if cfg.Database.AutoMigrate {
		runMigrations(bunDB, log)
	}

	redisClient := connectRedis(ctx, cfg.Redis, log)
	defer redisClient.Close()

	store := rediswrap.NewRedis(redisClient, log, cfg.Reservation.HoldTTL, cfg.Tickets.NumberPrefix)
	service := reservation.NewService(
		db.NewLedger(bunDB),
		store,
		catalog.NewCatalog(bunDB),
		catalog.NewDirectory(bunDB),
		reservation.Options{
			HoldTTL:          cfg.Reservation.HoldTTL,
			OperationTimeout: cfg.Reservation.OperationTimeout,
			IntentGrace:      cfg.Reservation.IntentGrace,
			SettleGrace:      cfg.Reservation.SettleGrace,
			SweepBatch:       cfg.Reservation.SweepBatch,
		},
		log,
	)
	if cfg.Tickets.QRSecret != "" {
		service.Tickets = qr.NewQRGenerator(cfg.Tickets.QRSecret)
	} else {
		log.Warn("CONFIG", "QR_SECRET_KEY not set, tickets are issued without QR codes")
	}

	if cfg.Kafka.Enabled {
		if err := kafka.EnsureTopicsExist(cfg.Kafka.Brokers, cfg.Kafka.Topics.All(), log); err != nil {
			log.Warn("KAFKA", fmt.Sprintf("Topic creation might have failed: %v", err))
		}

		producer := kafka.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.Topics, log)
		defer producer.Close()
		service.Events = producer

		consumer := kafka.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.Topics.EventPublished, cfg.Kafka.GroupID, log)
		defer consumer.Close()
		go func() {
			err := consumer.Start(ctx, func(ctx context.Context, event models.EventPublished) error {
				return service.InitializeInventory(ctx, event.EventID)
			})
			if err != nil {
				log.Error("KAFKA", fmt.Sprintf("Event consumer stopped: %v", err))
			}
		}()
	} else {
		log.Warn("KAFKA", "Kafka disabled, reservation events are not published")
	}

	seeded, err := service.BootstrapInventory(ctx)
	if err != nil {
		log.Error("APP", fmt.Sprintf("Inventory bootstrap incomplete: %v", err))
	} else {
		log.Info("APP", fmt.Sprintf("Inventory bootstrapped for %d event(s)", seeded))
	}

	if cfg.Redis.ExpiryNotifications {
		go func() {
			err := store.ListenHoldExpiry(ctx, func(ctx context.Context, attendeeID, eventID string) {
				if err := service.ExpireHold(ctx, attendeeID, eventID); err != nil {
					log.Error("REDIS", fmt.Sprintf("Failed to expire hold of %s on event %s: %v", attendeeID, eventID, err))
				}
			})
			if err != nil {
				log.Error("REDIS", fmt.Sprintf("Hold expiry listener stopped: %v", err))
			}
		}()
	}

	go reservation.NewReaper(service, cfg.Reservation.SweepInterval, log).Run(ctx)

	authenticator, err := auth.NewAuthenticator(ctx, cfg.Auth, log)
	if err != nil {
		log.Fatal("AUTH", fmt.Sprintf("Failed to initialise authentication: %v", err))
	}

	handler := api.NewHandler(service, log)

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(handler.RequestLogger)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if err := redisClient.Ping(r.Context()).Err(); err != nil {
			http.Error(w, "redis unavailable", http.StatusServiceUnavailable)
			return
		}
		if err := bunDB.PingContext(r.Context()); err != nil {
			http.Error(w, "database unavailable", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	})

	r.Group(func(r chi.Router) {
		r.Use(authenticator.Middleware)
		r.Mount("/api", handler.Routes())
	})

	if cfg.Auth.AdminToken == "" {
		log.Warn("AUTH", "ADMIN_TOKEN not set, operator routes reject every request")
	}
	r.With(auth.RequireAdminToken(cfg.Auth.AdminToken, log)).Mount("/admin", handler.AdminRoutes())

	server := &http.Server{
		Addr:         cfg.Server.Port,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		log.Info("HTTP", fmt.Sprintf("Reservation service running on %s", cfg.Server.Port))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("HTTP", fmt.Sprintf("HTTP server error: %v", err))
			stop()
		}
	}()

	<-ctx.Done()
	log.Info("APP", "Shutdown signal received, initiating graceful shutdown")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("HTTP", fmt.Sprintf("Server shutdown failed: %v", err))
	} else {
		log.Info("HTTP", "Reservation service shutdown complete")
	}
}
