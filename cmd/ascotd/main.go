// Ascot Gateway - Local Smart Device Gateway
//
// This is the main entry point for the Ascot gateway daemon. The
// gateway discovers Ascot devices on the local network via DNS-SD,
// resolves their capability manifests over HTTP, tracks their health,
// and exposes a command surface to wall panels (HTTP/WebSocket) and
// automation (MQTT). It is designed for offline-first operation: no
// cloud dependency, everything on the LAN.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/ascotlab/ascot-gateway/internal/api"
	"github.com/ascotlab/ascot-gateway/internal/bridge"
	"github.com/ascotlab/ascot-gateway/internal/device"
	"github.com/ascotlab/ascot-gateway/internal/discovery"
	"github.com/ascotlab/ascot-gateway/internal/dispatch"
	"github.com/ascotlab/ascot-gateway/internal/gateway"
	"github.com/ascotlab/ascot-gateway/internal/infrastructure/config"
	"github.com/ascotlab/ascot-gateway/internal/infrastructure/database"
	"github.com/ascotlab/ascot-gateway/internal/infrastructure/influxdb"
	"github.com/ascotlab/ascot-gateway/internal/infrastructure/logging"
	"github.com/ascotlab/ascot-gateway/internal/infrastructure/mqtt"
	"github.com/ascotlab/ascot-gateway/internal/resolve"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"     // Semantic version (e.g., "1.0.0")
	commit  = "unknown" // Git commit hash
	date    = "unknown" // Build date
)

// Default configuration file path
const defaultConfigPath = "configs/config.yaml"

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
// Returning an error allows main to handle exit codes consistently.
func run(ctx context.Context) error {
	// Use default logger until config is loaded
	log := logging.Default()
	log.Info("starting Ascot gateway",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	// Load configuration
	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log.Info("configuration loaded", "path", configPath)

	// Reinitialise logger with config settings
	log = logging.New(cfg.Logging, version)
	log.Info("logger initialised",
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
	)

	// Open database
	db, err := database.Open(database.Config{
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

	// Device registry, backed by SQLite so known devices survive restarts
	store, err := device.NewSQLiteStore(ctx, db.DB)
	if err != nil {
		return fmt.Errorf("preparing device store: %w", err)
	}

	registry := device.NewRegistry(device.Options{
		Store:       store,
		MaxFailures: cfg.Registry.MaxFailures,
		QueueSize:   cfg.Registry.PersistQueue,
	})
	registry.SetLogger(log.With("component", "registry"))
	defer registry.Close()

	// Manifest resolver
	resolver := resolve.NewResolver(resolve.Options{
		Timeout:      cfg.GetResolverTimeout(),
		Retries:      cfg.Resolver.Retries,
		InitialDelay: cfg.GetResolverRetryDelay(),
		MaxBodyBytes: cfg.Resolver.MaxBodyBytes,
	})
	resolver.SetLogger(log.With("component", "resolve"))

	// Command dispatcher
	dispatcher := dispatch.NewDispatcher(dispatch.Options{
		Registry: registry,
		Timeout:  cfg.GetDispatchTimeout(),
	})
	dispatcher.SetLogger(log.With("component", "dispatch"))

	// DNS-SD discovery
	discoveryLog := log.With("component", "discovery")
	browser := discovery.NewDNSSDBrowser(cfg.Discovery.Service, cfg.Discovery.Domain, cfg.Resolver.ManifestPath)
	browser.SetLogger(discoveryLog)

	listener := discovery.NewListener(discovery.Options{
		Browser:      browser,
		Buffer:       cfg.Discovery.Buffer,
		InitialDelay: cfg.GetDiscoveryInitialDelay(),
		MaxDelay:     cfg.GetDiscoveryMaxDelay(),
		MaxAttempts:  cfg.Discovery.Retry.MaxAttempts,
	})
	listener.SetLogger(discoveryLog)

	// Gateway orchestrator
	gw, err := gateway.NewGateway(gateway.Options{
		Registry:              registry,
		Resolver:              resolver,
		Dispatcher:            dispatcher,
		Events:                listener.Events(),
		StaleAfter:            cfg.GetStaleAfter(),
		SweepInterval:         cfg.GetSweepInterval(),
		MaxConcurrentResolves: cfg.Resolver.MaxConcurrent,
	})
	if err != nil {
		return fmt.Errorf("creating gateway: %w", err)
	}
	gw.SetLogger(log.With("component", "gateway"))

	// Connect to MQTT broker and attach the automation bridge (optional)
	var mqttClient *mqtt.Client
	var mqttBridge *bridge.Bridge
	if cfg.MQTT.Enabled {
		mqttClient, err = mqtt.Connect(cfg.MQTT)
		if err != nil {
			return fmt.Errorf("connecting to MQTT: %w", err)
		}
		defer func() {
			log.Info("disconnecting from MQTT")
			if closeErr := mqttClient.Close(); closeErr != nil {
				log.Error("error closing MQTT", "error", closeErr)
			}
		}()
		log.Info("MQTT connected",
			"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
			"client_id", cfg.MQTT.Broker.ClientID,
		)

		mqttClient.SetOnConnect(func() {
			log.Info("MQTT reconnected")
		})
		mqttClient.SetOnDisconnect(func(err error) {
			log.Warn("MQTT disconnected", "error", err)
		})

		mqttBridge, err = bridge.NewBridge(bridge.Options{
			Client:          mqttClient,
			Dispatcher:      gw,
			Devices:         gw,
			Prefix:          cfg.MQTT.TopicPrefix,
			QoS:             byte(cfg.MQTT.QoS),
			DispatchTimeout: cfg.GetDispatchTimeout(),
		})
		if err != nil {
			return fmt.Errorf("creating MQTT bridge: %w", err)
		}
		mqttBridge.SetLogger(log.With("component", "bridge"))
		gw.AddSink(mqttBridge)
	} else {
		log.Info("MQTT bridge disabled")
	}

	// Connect to InfluxDB and attach the metrics sink (optional)
	var influxClient *influxdb.Client
	if cfg.InfluxDB.Enabled {
		influxClient, err = influxdb.Connect(cfg.InfluxDB)
		if err != nil {
			return fmt.Errorf("connecting to InfluxDB: %w", err)
		}
		defer func() {
			log.Info("closing InfluxDB connection")
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
		log.Info("InfluxDB connected",
			"url", cfg.InfluxDB.URL,
			"org", cfg.InfluxDB.Org,
			"bucket", cfg.InfluxDB.Bucket,
		)

		influxClient.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})

		gw.AddSink(&metricsSink{client: influxClient})
	} else {
		log.Info("InfluxDB disabled")
	}

	// WebSocket hub relays gateway events to connected panels
	var hub *api.Hub
	if cfg.API.Enabled {
		hub = api.NewHub(cfg.WebSocket, log)
		gw.AddSink(hub)
	}

	// All sinks attached; Start seeds the registry from the store and
	// schedules resolution for the persisted devices
	if err := gw.Start(ctx); err != nil {
		return fmt.Errorf("starting gateway: %w", err)
	}
	defer func() {
		log.Info("stopping gateway")
		gw.Stop()
	}()

	if mqttBridge != nil {
		if startErr := mqttBridge.Start(); startErr != nil {
			return fmt.Errorf("starting MQTT bridge: %w", startErr)
		}
		defer func() {
			log.Info("stopping MQTT bridge")
			mqttBridge.Stop()
		}()
		log.Info("MQTT bridge started", "prefix", cfg.MQTT.TopicPrefix)
	}

	// Discovery runs until shutdown; a persistent browse failure takes
	// the process down so a supervisor can restart it.
	eg, egCtx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		return listener.Run(egCtx)
	})

	// HTTP API server (optional)
	if cfg.API.Enabled {
		apiServer, apiErr := api.New(api.Deps{
			Config:  cfg.API,
			WS:      cfg.WebSocket,
			Logger:  log,
			Gateway: gw,
			Hub:     hub,
			Version: version,
		})
		if apiErr != nil {
			return fmt.Errorf("creating API server: %w", apiErr)
		}
		if startErr := apiServer.Start(ctx); startErr != nil {
			return fmt.Errorf("starting API server: %w", startErr)
		}
		defer func() {
			log.Info("stopping API server")
			if closeErr := apiServer.Close(); closeErr != nil {
				log.Error("error closing API server", "error", closeErr)
			}
		}()
	} else {
		log.Info("API server disabled")
	}

	// Verify all connections are healthy
	if err := healthCheck(ctx, db, mqttClient, influxClient); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("all health checks passed")

	log.Info("initialisation complete, waiting for shutdown signal")

	// Blocks until the context is cancelled or discovery gives up.
	if err := eg.Wait(); err != nil {
		return fmt.Errorf("discovery stopped: %w", err)
	}

	log.Info("shutdown signal received, cleaning up")

	// Deferred Close() calls will run in reverse order:
	// 1. API server (if enabled)
	// 2. MQTT bridge, gateway
	// 3. InfluxDB, MQTT client (if enabled)
	// 4. Registry, database

	log.Info("Ascot gateway stopped")
	return nil
}

// getConfigPath returns the configuration file path.
// Uses ASCOT_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("ASCOT_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// healthCheck verifies all infrastructure connections are healthy.
// The MQTT and InfluxDB clients may be nil when disabled.
func healthCheck(ctx context.Context, db *database.DB, mqttClient *mqtt.Client, influxClient *influxdb.Client) error {
	if err := db.HealthCheck(ctx); err != nil {
		return fmt.Errorf("database: %w", err)
	}

	if mqttClient != nil {
		if err := mqttClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("mqtt: %w", err)
		}
	}

	if influxClient != nil {
		if err := influxClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("influxdb: %w", err)
		}
	}

	return nil
}

// metricsSink forwards gateway events to InfluxDB. Writes go through
// the client's batched write API, so HandleEvent never blocks.
type metricsSink struct {
	client *influxdb.Client
}

// HandleEvent implements gateway.Sink.
func (m *metricsSink) HandleEvent(event gateway.Event) {
	switch event.Type {
	case gateway.EventDeviceResolved:
		actions := 0
		if event.Device != nil && event.Device.Manifest != nil {
			actions = len(event.Device.Manifest.Actions)
		}
		m.client.WriteResolve(event.DeviceID, "ok", event.DurationMS, actions)

	case gateway.EventDeviceHealth:
		m.client.WriteHealth(event.DeviceID, string(event.Health))

	case gateway.EventCommandResult:
		if event.Outcome != nil {
			m.client.WriteDispatch(
				event.Outcome.DeviceID,
				event.Outcome.Action,
				string(event.Outcome.Status),
				event.Outcome.DurationMS,
			)
		}
	}
}
