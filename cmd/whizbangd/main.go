// whizbangd hosts one coordinator instance end to end: a migrated
// Postgres pool, a transport (AMQP or in-memory), a flush strategy
// driving pkg/engine's delivery loop, a perspective poller, and the
// admin/health HTTP surface. It mirrors cmd/tarsy/main.go's shape —
// flag-parsed config directory, godotenv, gin — generalized from one
// product's service wiring to the engine's own.
package main

import (
	"context"
	"flag"
	"log"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/whizbang-lib/whizbang/pkg/api"
	"github.com/whizbang-lib/whizbang/pkg/coordinator"
	"github.com/whizbang-lib/whizbang/pkg/database"
	"github.com/whizbang-lib/whizbang/pkg/dispatcher"
	"github.com/whizbang-lib/whizbang/pkg/engine"
	"github.com/whizbang-lib/whizbang/pkg/lifecycle"
	"github.com/whizbang-lib/whizbang/pkg/models"
	"github.com/whizbang-lib/whizbang/pkg/perspective"
	"github.com/whizbang-lib/whizbang/pkg/strategy"
	"github.com/whizbang-lib/whizbang/pkg/transport"
	"github.com/whizbang-lib/whizbang/pkg/transport/amqprabbit"
	"github.com/whizbang-lib/whizbang/pkg/transport/inmem"
	"github.com/whizbang-lib/whizbang/pkg/version"
)

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func main() {
	configDir := flag.String("config-dir",
		getEnv("CONFIG_DIR", "./deploy/config"),
		"Path to configuration directory")
	flag.Parse()

	envPath := filepath.Join(*configDir, ".env")
	if err := godotenv.Load(envPath); err != nil {
		log.Printf("Warning: Could not load %s file: %v", envPath, err)
		log.Printf("Continuing with existing environment variables...")
	} else {
		log.Printf("Loaded environment from %s", envPath)
	}

	httpPort := getEnv("HTTP_PORT", "8080")
	gin.SetMode(getEnv("GIN_MODE", "debug"))

	ctx := context.Background()

	dbCfg, err := database.LoadConfigFromEnv()
	if err != nil {
		log.Fatalf("loading database config: %v", err)
	}
	dbClient, err := database.NewClient(ctx, dbCfg)
	if err != nil {
		log.Fatalf("connecting to database: %v", err)
	}
	defer dbClient.Close()

	coord := coordinator.New(dbClient.DB())

	tr, err := buildTransport(ctx)
	if err != nil {
		log.Fatalf("building transport: %v", err)
	}

	instance := models.ServiceInstance{
		ID:          uuid.New().String(),
		ServiceName: getEnv("WHIZBANG_SERVICE_NAME", "whizbangd"),
		HostName:    hostnameOrDefault(),
		ProcessID:   os.Getpid(),
	}

	batchCfg := models.DefaultBatchConfig()
	lifecycleRegistry := lifecycle.NewRegistry()

	// Interval.Start is deliberately not used here: its own ticker would
	// discard every WorkBatch it flushes, and pkg/engine needs that batch
	// to actually deliver the work it names. engine.Poller drives the
	// same Flush method on its own tick instead, so every flush's result
	// reaches the transport and local handlers.
	flushPeriod := envDuration("WHIZBANG_FLUSH_INTERVAL", strategy.DefaultFlushInterval)
	strat := strategy.NewInterval(coord, lifecycleRegistry, instance, batchCfg, "default", flushPeriod)

	disp := dispatcher.New(strat)

	eng := engine.New(tr, disp, strat, false)
	deliveryPoller := engine.NewPoller(strat, eng, flushPeriod)
	deliveryPoller.Start(ctx)

	perspectiveRegistry := perspective.NewRegistry()
	perspectiveStore := perspective.NewSQLStore(dbClient.DB())
	perspectiveRunner := perspective.NewRunner(coord, coord, perspectiveRegistry, perspectiveStore)
	perspectivePoller := perspective.NewPoller(coord, perspectiveRunner, instance, batchCfg, flushPeriod)
	perspectivePoller.Start(ctx)

	slog.Info("whizbangd started", "version", version.Full(), "http_port", httpPort, "flush_period", flushPeriod)

	srv := api.NewServer(dbClient.DB(), coord, tr)
	if err := srv.Run(":" + httpPort); err != nil {
		log.Fatalf("HTTP server failed: %v", err)
	}
}

// buildTransport selects the amqprabbit adapter when WHIZBANG_AMQP_URL
// is set, falling back to the dependency-free in-memory transport
// otherwise — so the binary runs end to end with zero external
// infrastructure until a broker is actually configured.
func buildTransport(ctx context.Context) (transport.Transport, error) {
	url := os.Getenv("WHIZBANG_AMQP_URL")
	if url == "" {
		return inmem.New(), nil
	}

	exchange := getEnv("WHIZBANG_AMQP_EXCHANGE", "whizbang")
	adapter := amqprabbit.New(url, exchange, amqprabbit.RealDialer{})
	if err := adapter.Connect(ctx); err != nil {
		return nil, err
	}
	return adapter, nil
}

func hostnameOrDefault() string {
	h, err := os.Hostname()
	if err != nil {
		return "unknown"
	}
	return h
}

func envDuration(key string, fallback time.Duration) time.Duration {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return fallback
	}
	return d
}
