// Courtyard - Booking policy enforcement for shared court facilities.

package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/opencourt/courtyard/internal/api"
	"github.com/opencourt/courtyard/internal/booking"
	"github.com/opencourt/courtyard/internal/bus"
	"github.com/opencourt/courtyard/internal/cache"
	"github.com/opencourt/courtyard/internal/domain"
	"github.com/opencourt/courtyard/internal/ratelimit"
	"github.com/opencourt/courtyard/internal/repository"
	"github.com/opencourt/courtyard/internal/rules"
	"github.com/opencourt/courtyard/internal/strikes"
	"github.com/opencourt/courtyard/internal/worker"
)

// Version information (set via ldflags)
var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

func main() {
	// Initialize structured logger
	logLevel := slog.LevelInfo
	if os.Getenv("COURTYARD_DEBUG") == "true" {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(logger)

	slog.Info("starting courtyard",
		"version", Version,
		"commit", Commit,
		"build_date", BuildDate,
	)

	// Load configuration
	cfg := domain.DefaultConfig()

	// Check for Pro tier via environment
	if os.Getenv("COURTYARD_TIER") == "pro" {
		cfg = domain.ProConfig()
		slog.Info("running in Pro tier mode")
	}
	applyEnvOverrides(cfg)

	slog.Info("configuration loaded",
		"tier", cfg.Tier,
		"repository", cfg.Repository.Driver,
		"cache", cfg.Cache.Type,
		"eventbus", cfg.EventBus.Type,
	)

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		slog.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	// Initialize Repository
	repo, err := repository.New(cfg.Repository)
	if err != nil {
		slog.Error("failed to initialize repository", "error", err)
		os.Exit(1)
	}
	defer repo.Close()
	slog.Info("repository initialized", "driver", cfg.Repository.Driver)

	// Initialize Cache
	cacheImpl, err := cache.New(cfg.Cache)
	if err != nil {
		slog.Error("failed to initialize cache", "error", err)
		os.Exit(1)
	}
	defer cacheImpl.Close()
	slog.Info("cache initialized", "type", cfg.Cache.Type)

	// Initialize EventBus
	busImpl, err := bus.New(cfg.EventBus)
	if err != nil {
		slog.Error("failed to initialize event bus", "error", err)
		os.Exit(1)
	}
	defer busImpl.Close()
	slog.Info("event bus initialized", "type", cfg.EventBus.Type)

	// Rate limiter: Redis sliding window when the cache carries a Redis
	// connection, otherwise the persistent action log.
	var limiter ratelimit.Limiter = ratelimit.NewLogLimiter(repo)
	if rc, ok := cacheImpl.(ratelimit.RedisClientProvider); ok {
		limiter = ratelimit.NewRedisLimiter(rc.Client(), 0)
		slog.Info("rate limiter using redis sliding window")
	}

	// Strike tracker and lockout derivation
	tracker := strikes.NewTracker(repo, busImpl, logger)

	// Custom advisory rule engine (CEL)
	customEngine, err := rules.NewCustomEngine(logger)
	if err != nil {
		slog.Error("failed to initialize custom rule engine", "error", err)
		os.Exit(1)
	}

	// Rule engine over the built-in catalog
	engine := rules.NewEngine(customEngine, logger)
	slog.Info("rule engine initialized")

	// Booking pipeline
	builder := booking.NewContextBuilder(repo, tracker, limiter)
	service := booking.NewService(repo, cacheImpl, busImpl, engine, builder, tracker, limiter, logger)

	// Async worker: notification dispatch and cross-node cache invalidation
	var asyncWorker *worker.Worker
	facilityIDs := splitList(os.Getenv("COURTYARD_FACILITIES"))
	if len(facilityIDs) > 0 {
		asyncWorker = worker.NewWorker(busImpl, cacheImpl, logger)
		if err := asyncWorker.Start(worker.Config{FacilityIDs: facilityIDs}); err != nil {
			slog.Error("failed to start async worker", "error", err)
		} else {
			slog.Info("async worker started", "facility_count", len(facilityIDs))
		}
	}

	// Initialize Server
	srv := api.NewServer(cfg.Server, repo, cacheImpl, busImpl, service, customEngine, tracker, Version)

	// Start Server in goroutine
	go func() {
		if err := srv.Start(); err != nil && err != http.ErrServerClosed {
			slog.Error("server failed", "error", err)
			os.Exit(1)
		}
	}()

	slog.Info("courtyard is ready",
		"host", cfg.Server.Host,
		"port", cfg.Server.Port,
	)

	printBanner(cfg, Version)

	// Wait for shutdown signal
	<-ctx.Done()
	slog.Info("shutting down...")

	if asyncWorker != nil {
		asyncWorker.Stop()
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
	}

	slog.Info("courtyard shutdown complete")
}

// applyEnvOverrides lets deployments adjust individual settings without a
// config file.
func applyEnvOverrides(cfg *domain.Config) {
	if v := os.Getenv("COURTYARD_SQLITE_PATH"); v != "" {
		cfg.Repository.SQLitePath = v
	}
	if v := os.Getenv("COURTYARD_POSTGRES_HOST"); v != "" {
		cfg.Repository.PostgresHost = v
	}
	if v := os.Getenv("COURTYARD_POSTGRES_USER"); v != "" {
		cfg.Repository.PostgresUser = v
	}
	if v := os.Getenv("COURTYARD_POSTGRES_PASSWORD"); v != "" {
		cfg.Repository.PostgresPassword = v
	}
	if v := os.Getenv("COURTYARD_POSTGRES_DB"); v != "" {
		cfg.Repository.PostgresDB = v
	}
	if v := os.Getenv("COURTYARD_REDIS_ADDR"); v != "" {
		cfg.Cache.RedisAddr = v
	}
	if v := os.Getenv("COURTYARD_REDIS_PASSWORD"); v != "" {
		cfg.Cache.RedisPassword = v
	}
	if v := os.Getenv("COURTYARD_NATS_URL"); v != "" {
		cfg.EventBus.NATSUrl = v
	}
	if v := os.Getenv("COURTYARD_NATS_TOKEN"); v != "" {
		cfg.EventBus.NATSToken = v
	}
	if v := os.Getenv("COURTYARD_PORT"); v != "" {
		var port int
		if _, err := fmt.Sscanf(v, "%d", &port); err == nil && port > 0 {
			cfg.Server.Port = port
		}
	}
}

func splitList(raw string) []string {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func printBanner(cfg *domain.Config, version string) {
	fmt.Println()
	fmt.Println("  courtyard - booking policy engine")
	fmt.Println()
	fmt.Printf("  Version:  %s\n", version)
	fmt.Printf("  Tier:     %s\n", cfg.Tier)
	fmt.Printf("  Server:   http://%s:%d\n", cfg.Server.Host, cfg.Server.Port)
	fmt.Println()
	fmt.Println("  Endpoints:")
	fmt.Println("    POST /evaluate              - Dry-run a booking request")
	fmt.Println("    POST /bookings              - Evaluate and commit a booking")
	fmt.Println("    POST /bookings/{id}/cancel  - Cancel a booking")
	fmt.Println("    GET  /rules                 - Rule catalog")
	fmt.Println("    GET  /rules/effective       - Effective facility rule set")
	fmt.Println("    PUT  /rules/{code}          - Override a rule")
	fmt.Println("    POST /rules/bulk            - Replace overrides atomically")
	fmt.Println("    POST /rules/custom          - Add a custom advisory rule")
	fmt.Println("    GET  /settings              - Facility settings")
	fmt.Println("    POST /tiers                 - Create a membership tier")
	fmt.Println("    POST /households            - Create a household")
	fmt.Println("    POST /strikes               - Issue a strike")
	fmt.Println("    GET  /strikes/status        - Derived lockout status")
	fmt.Println("    GET  /health                - Health check")
	fmt.Println()
}
