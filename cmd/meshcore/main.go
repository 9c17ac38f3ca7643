// Gray Logic Mesh Core - radio mesh network coordinator
//
// This is the main entry point for the mesh core. It owns the registry of
// devices on a low-power radio mesh, reacts to joins and leaves reported by a
// radio daemon over MQTT, drives device initialization and removal, and
// exposes the registry over HTTP.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"

	_ "github.com/nerrad567/gray-logic-mesh/migrations"

	"github.com/nerrad567/gray-logic-mesh/internal/api"
	"github.com/nerrad567/gray-logic-mesh/internal/bridges/radio"
	"github.com/nerrad567/gray-logic-mesh/internal/device"
	"github.com/nerrad567/gray-logic-mesh/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-mesh/internal/infrastructure/database"
	"github.com/nerrad567/gray-logic-mesh/internal/infrastructure/influxdb"
	"github.com/nerrad567/gray-logic-mesh/internal/infrastructure/logging"
	"github.com/nerrad567/gray-logic-mesh/internal/infrastructure/mqtt"
	"github.com/nerrad567/gray-logic-mesh/internal/mesh"
	"github.com/nerrad567/gray-logic-mesh/internal/telemetry"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"     // Semantic version (e.g., "1.0.0")
	commit  = "unknown" // Git commit hash
	date    = "unknown" // Build date
)

const (
	// defaultConfigPath is used when MESHCORE_CONFIG is unset.
	defaultConfigPath = "configs/config.yaml"

	// registrySampleInterval is how often the registry size is written to InfluxDB.
	registrySampleInterval = time.Minute
)

func main() {
	// Create a context that cancels on interrupt signals (Ctrl+C, SIGTERM)
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the actual application logic, separated from main for testability.
//
// Parameters:
//   - ctx: Context for cancellation and shutdown signals
//
// Returns:
//   - error: nil on clean shutdown, or error describing failure
func run(ctx context.Context) error { //nolint:gocognit,gocyclo // linear startup sequence
	// Use default logger until config is loaded
	log := logging.Default()
	log.Info("starting mesh core",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log.Info("configuration loaded", "path", configPath)

	log = logging.New(cfg.Logging, version)
	defer log.Close()
	log.Info("logger initialised",
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
		"output", cfg.Logging.Output,
	)

	// Open database
	db, err := database.Open(ctx, database.Config{
		Path:        cfg.Database.Path,
		WALMode:     cfg.Database.WALMode,
		BusyTimeout: cfg.Database.BusyTimeout,
	})
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer func() {
		log.Info("closing database")
		if closeErr := db.Close(); closeErr != nil {
			log.Error("error closing database", "error", closeErr)
		}
	}()
	log.Info("database connected", "path", cfg.Database.Path)

	if migrateErr := db.Migrate(ctx); migrateErr != nil {
		return fmt.Errorf("running migrations: %w", migrateErr)
	}
	log.Info("database migrations complete")

	// Connect to InfluxDB (optional)
	var influxClient *influxdb.Client
	if cfg.InfluxDB.Enabled {
		influxClient, err = influxdb.Connect(ctx, cfg.InfluxDB)
		if err != nil {
			return fmt.Errorf("connecting to InfluxDB: %w", err)
		}
		defer func() {
			log.Info("closing InfluxDB connection")
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
		influxClient.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})
		log.Info("InfluxDB connected",
			"url", cfg.InfluxDB.URL,
			"org", cfg.InfluxDB.Org,
			"bucket", cfg.InfluxDB.Bucket,
		)
	} else {
		log.Info("InfluxDB disabled")
	}

	// Metrics
	metricsRegistry := prometheus.NewRegistry()
	metricsRegistry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	var sink telemetry.EventSink
	if influxClient != nil {
		sink = influxClient
	}
	recorder := telemetry.NewRecorder(metricsRegistry, sink)

	// Coordinator and restored registry
	coord := mesh.NewCoordinator(mesh.Options{
		Retry: mesh.RetryPolicy{
			MaxAttempts:     cfg.Network.Retry.MaxAttempts,
			InitialInterval: cfg.Network.Retry.InitialInterval,
			MaxInterval:     cfg.Network.Retry.MaxInterval,
			Multiplier:      cfg.Network.Retry.Multiplier,
		},
		LeaveTimeout: cfg.Network.LeaveTimeout,
		Observer:     recorder,
	})
	coord.SetLogger(log)

	persister := device.NewPersister(device.NewSQLiteRepository(db.DB))
	persister.SetLogger(log)

	stored, err := persister.Load(ctx)
	if err != nil {
		return fmt.Errorf("restoring registry: %w", err)
	}
	coord.Restore(stored)

	persister.Attach(coord.Events())
	if _, attachErr := recorder.Attach(coord.Events(), coord); attachErr != nil {
		return fmt.Errorf("attaching telemetry: %w", attachErr)
	}

	// Connect to MQTT broker
	mqttClient, err := mqtt.Connect(ctx, cfg.MQTT)
	if err != nil {
		return fmt.Errorf("connecting to MQTT: %w", err)
	}
	defer func() {
		log.Info("disconnecting from MQTT")
		if closeErr := mqttClient.Close(); closeErr != nil {
			log.Error("error closing MQTT", "error", closeErr)
		}
	}()
	mqttClient.SetLogger(log)
	mqttClient.SetOnConnect(func() {
		log.Info("MQTT reconnected")
	})
	mqttClient.SetOnDisconnect(func(err error) {
		log.Warn("MQTT disconnected", "error", err)
	})
	log.Info("MQTT connected",
		"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
		"client_id", cfg.MQTT.Broker.ClientID,
	)

	mqttAdapter := &mqttBridgeAdapter{client: mqttClient}

	republisher := radio.NewRepublisher(mqttAdapter, mqttClient.QoS(), 0)
	republisher.SetLogger(log)
	republisher.Start()
	defer func() {
		republisher.Stop()
		if dropped := republisher.Dropped(); dropped > 0 {
			log.Warn("lifecycle events dropped before republishing", "count", dropped)
		}
	}()
	republisher.Attach(coord.Events())

	// Radio bridge
	bridge, err := startRadioBridge(ctx, cfg, coord, mqttAdapter, log)
	if err != nil {
		return fmt.Errorf("starting radio bridge: %w", err)
	}
	defer func() {
		log.Info("stopping radio bridge")
		bridge.Stop()
	}()

	if err := healthCheck(ctx, db, mqttClient, influxClient); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("all health checks passed")

	// HTTP API
	checks := map[string]api.HealthCheck{
		"database": db.HealthCheck,
		"mqtt":     mqttClient.HealthCheck,
	}
	if influxClient != nil {
		checks["influxdb"] = influxClient.HealthCheck
	}

	server, err := api.New(api.Deps{
		Config:   cfg.API,
		WS:       cfg.WebSocket,
		Security: cfg.Security,
		Network:  cfg.Network,
		Logger:   log,
		Mesh:     coord,
		Gatherer: metricsRegistry,
		Checks:   checks,
		Version:  version,
	})
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}
	if err := server.Start(ctx); err != nil {
		return fmt.Errorf("starting API server: %w", err)
	}
	defer func() {
		if closeErr := server.Close(); closeErr != nil {
			log.Error("error closing API server", "error", closeErr)
		}
	}()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return startNetwork(gctx, cfg.Network, coord, log)
	})

	if influxClient != nil {
		g.Go(func() error {
			sampleRegistry(gctx, influxClient, coord)
			return nil
		})
	}

	log.Info("initialisation complete, waiting for shutdown signal")

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	<-ctx.Done()

	// Deferred cleanup runs in reverse order: API, bridge, republisher,
	// MQTT, InfluxDB, database, logger.
	log.Info("shutdown signal received, cleaning up")
	return nil
}

// getConfigPath returns the configuration file path.
// Uses MESHCORE_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("MESHCORE_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// healthCheck verifies all infrastructure connections are healthy.
//
// Parameters:
//   - ctx: Context for timeout/cancellation
//   - db: Database connection to check
//   - mqttClient: MQTT client to check
//   - influxClient: InfluxDB client to check (may be nil if disabled)
//
// Returns:
//   - error: First health check failure, or nil if all healthy
func healthCheck(ctx context.Context, db *database.DB, mqttClient *mqtt.Client, influxClient *influxdb.Client) error {
	if err := db.HealthCheck(ctx); err != nil {
		return fmt.Errorf("database: %w", err)
	}

	if err := mqttClient.HealthCheck(ctx); err != nil {
		return fmt.Errorf("mqtt: %w", err)
	}

	if influxClient != nil {
		if err := influxClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("influxdb: %w", err)
		}
	}

	return nil
}

// startRadioBridge creates the MQTT-backed radio bridge and installs it as the
// coordinator's transport and initializer.
func startRadioBridge(ctx context.Context, cfg *config.Config, coord *mesh.Coordinator, client radio.MQTTClient, log *logging.Logger) (*radio.Bridge, error) {
	bridge, err := radio.NewBridge(radio.BridgeOptions{
		BridgeID:       cfg.Network.BridgeID,
		MQTTClient:     client,
		Coordinator:    coord,
		QoS:            byte(cfg.MQTT.QoS), //nolint:gosec // validated 0-2
		RequestTimeout: cfg.Network.RequestTimeout,
		Logger:         log,
	})
	if err != nil {
		return nil, fmt.Errorf("creating radio bridge: %w", err)
	}

	if err := bridge.Start(ctx); err != nil {
		return nil, err
	}

	coord.SetTransport(bridge)
	coord.SetInitializer(bridge)
	log.Info("radio bridge started", "bridge_id", cfg.Network.BridgeID)

	return bridge, nil
}

// startNetwork brings the radio up. When the radio has no usable network and
// auto_form is enabled, a network is formed from the configured parameters
// and startup is retried once.
func startNetwork(ctx context.Context, cfg config.NetworkConfig, coord *mesh.Coordinator, log *logging.Logger) error {
	err := coord.Startup(ctx, false)
	if err == nil {
		log.Info("radio network up")
		return nil
	}
	if !cfg.AutoForm || ctx.Err() != nil {
		return fmt.Errorf("radio startup: %w", err)
	}

	log.Warn("radio startup failed, forming a new network", "error", err, "channel", cfg.Channel)

	params, err := networkParams(cfg)
	if err != nil {
		return err
	}
	if err := coord.FormNetwork(ctx, params); err != nil {
		return fmt.Errorf("radio network formation: %w", err)
	}
	if err := coord.Startup(ctx, false); err != nil {
		return fmt.Errorf("radio startup after formation: %w", err)
	}

	log.Info("radio network formed and up", "channel", cfg.Channel)
	return nil
}

// networkParams converts the network config section into formation parameters.
func networkParams(cfg config.NetworkConfig) (mesh.NetworkParams, error) {
	panID, err := cfg.ParsePANID()
	if err != nil {
		return mesh.NetworkParams{}, err
	}

	params := mesh.NetworkParams{
		Channel: uint8(cfg.Channel), //nolint:gosec // validated 11-26
		PANID:   panID,
	}
	if cfg.ExtendedPANID != "" {
		params.ExtendedPANID, err = mesh.ParseEUI64(cfg.ExtendedPANID)
		if err != nil {
			return mesh.NetworkParams{}, fmt.Errorf("parsing extended_pan_id: %w", err)
		}
	}
	return params, nil
}

// sampleRegistry writes the registry size to InfluxDB until ctx is done.
func sampleRegistry(ctx context.Context, client *influxdb.Client, devices telemetry.DeviceCounter) {
	ticker := time.NewTicker(registrySampleInterval)
	defer ticker.Stop()

	for {
		client.WriteRegistrySize(devices.DeviceCount())
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// mqttBridgeAdapter adapts the infrastructure MQTT client to the radio
// bridge's MQTTClient interface. The difference is the Subscribe handler
// signature:
// - Infrastructure mqtt: func(topic, payload []byte) error
// - Radio bridge expects: func(topic, payload []byte)
type mqttBridgeAdapter struct {
	client *mqtt.Client
}

// Publish implements radio.MQTTClient.
func (a *mqttBridgeAdapter) Publish(topic string, payload []byte, qos byte, retained bool) error {
	return a.client.Publish(topic, payload, qos, retained)
}

// Subscribe implements radio.MQTTClient.
func (a *mqttBridgeAdapter) Subscribe(topic string, qos byte, handler func(topic string, payload []byte)) error {
	return a.client.Subscribe(topic, qos, func(t string, p []byte) error {
		handler(t, p)
		return nil
	})
}

// IsConnected implements radio.MQTTClient.
func (a *mqttBridgeAdapter) IsConnected() bool {
	return a.client.IsConnected()
}
