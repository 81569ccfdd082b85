package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/SherClockHolmes/webpush-go"
	"github.com/go-redis/redis/v8"
	"github.com/joho/godotenv"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"bus-tracking-backend/config"
	"bus-tracking-backend/internal/api"
	"bus-tracking-backend/internal/classify"
	"bus-tracking-backend/internal/db"
	"bus-tracking-backend/internal/events"
	"bus-tracking-backend/internal/ingest"
	"bus-tracking-backend/internal/lease"
	"bus-tracking-backend/internal/notification"
	"bus-tracking-backend/internal/oracle"
	"bus-tracking-backend/internal/store"
	"bus-tracking-backend/internal/telemetry"
	"bus-tracking-backend/internal/tracking"
)

func main() {
	logger := log.New(os.Stdout, "busd ", log.LstdFlags)

	// Secrets may live in a local .env during development.
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		logger.Printf("ignoring .env: %v", err)
	}

	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "./config/config.yaml"
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		logger.Fatalf("failed to load configuration from %s: %v", configPath, err)
	}
	logger.Printf("configuration loaded successfully from %s", configPath)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	shutdownTelemetry, err := telemetry.Init(ctx, cfg.Telemetry)
	if err != nil {
		logger.Fatalf("failed to initialize telemetry: %v", err)
	}

	gormDB, err := db.Init(&cfg.Database)
	if err != nil {
		logger.Fatalf("failed to initialize database: %v", err)
	}
	logger.Println("database initialized successfully")
	appStore := store.NewGormStore(gormDB)

	provider := newProvider(cfg.Oracle)
	logger.Printf("distance provider: %s (cache ttl %s)", cfg.Oracle.Provider, cfg.Oracle.CacheTTL)

	// Pushes are optional; notifications are still recorded without VAPID keys.
	var pushes notification.Enqueuer
	var webpushOptions *webpush.Options
	if cfg.Push.PublicKey != "" && cfg.Push.PrivateKey != "" {
		webpushOptions = &webpush.Options{
			VAPIDPublicKey:  cfg.Push.PublicKey,
			VAPIDPrivateKey: cfg.Push.PrivateKey,
			Subscriber:      cfg.Push.Subject,
			TTL:             cfg.Push.TTL,
		}
		pool := notification.NewWorkerPool(cfg.WorkerPool.Size, cfg.WorkerPool.QueueSize, appStore, webpushOptions)
		pool.Start(ctx)
		pushes = pool
	} else {
		logger.Println("VAPID keys not configured; device pushes are disabled")
	}
	dispatcher := notification.NewDispatcher(appStore, pushes)

	locker, closeLocker := newLocker(ctx, cfg.Redis, logger)
	defer closeLocker()

	engine := tracking.NewEngine(appStore, provider, dispatcher, cfg.Tracking)
	monitor := tracking.NewMonitor(ctx, engine, locker, cfg.Tracking)
	if cfg.Tracking.ResumeOnStart {
		n, err := monitor.Resume(ctx, appStore)
		if err != nil {
			logger.Printf("failed to resume monitoring: %v", err)
		} else {
			logger.Printf("resumed monitoring for %d buses", n)
		}
	}

	classifier := classify.NewClassifier(provider, cfg.School.Location(), cfg.Tracking.ClassifyThresholdMeters)
	eventSvc := events.NewService(appStore, classifier, provider, dispatcher, monitor)

	var subscriber *ingest.Subscriber
	if cfg.MQTT.Enabled {
		subscriber = ingest.NewSubscriber(cfg.MQTT, appStore, eventSvc)
		if err := subscriber.Connect(10 * time.Second); err != nil {
			// Auto-reconnect is only armed after a first successful connect.
			logger.Fatalf("failed to connect to MQTT broker: %v", err)
		}
	}

	handler := api.NewHandler(appStore, engine, monitor, eventSvc, webpushOptions)
	router := api.NewRouter(handler, cfg.Server)
	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: otelhttp.NewHandler(router, "busd"),
	}

	go func() {
		logger.Printf("HTTP server starting on port %d", cfg.Server.Port)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatalf("HTTP server ListenAndServe: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	<-stop
	logger.Println("Shutdown signal received, stopping services...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Printf("HTTP server Shutdown: %v", err)
	}
	if subscriber != nil {
		subscriber.Disconnect()
	}
	monitor.Shutdown()
	cancel()
	if err := shutdownTelemetry(shutdownCtx); err != nil {
		logger.Printf("telemetry shutdown: %v", err)
	}

	logger.Println("Server gracefully stopped")
}

func newProvider(cfg config.OracleConfig) oracle.Provider {
	var p oracle.Provider
	switch cfg.Provider {
	case "haversine":
		p = oracle.NewHaversine(cfg.AverageSpeedKmh)
	default:
		p = oracle.NewGoogleClient(cfg)
	}
	return oracle.NewCached(p, cfg.CacheTTL)
}

// newLocker shares monitor leases through Redis when configured so that only
// one replica runs a bus's loop.
func newLocker(ctx context.Context, cfg config.RedisConfig, logger *log.Logger) (lease.Locker, func()) {
	if cfg.Addr == "" {
		return lease.NewLocal(), func() {}
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		logger.Fatalf("failed to reach redis at %s: %v", cfg.Addr, err)
	}
	logger.Printf("monitor leases shared through redis at %s", cfg.Addr)
	return lease.NewRedis(client), func() { client.Close() }
}
