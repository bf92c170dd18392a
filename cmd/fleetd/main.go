// fleetd is the kiosk fleet server.
//
// It pairs displays with organisations, holds their realtime links, tracks
// heartbeats and relays operator commands. SQLite is the only hard
// dependency; Redis, MQTT and InfluxDB are switched on in config.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/Trivenidigital/Vizora-sub012/internal/api"
	"github.com/Trivenidigital/Vizora-sub012/internal/audit"
	"github.com/Trivenidigital/Vizora-sub012/internal/display"
	"github.com/Trivenidigital/Vizora-sub012/internal/fleet"
	"github.com/Trivenidigital/Vizora-sub012/internal/infrastructure/config"
	"github.com/Trivenidigital/Vizora-sub012/internal/infrastructure/database"
	"github.com/Trivenidigital/Vizora-sub012/internal/infrastructure/influxdb"
	"github.com/Trivenidigital/Vizora-sub012/internal/infrastructure/logging"
	"github.com/Trivenidigital/Vizora-sub012/internal/infrastructure/mqtt"
	"github.com/Trivenidigital/Vizora-sub012/internal/infrastructure/redis"
	"github.com/Trivenidigital/Vizora-sub012/internal/pairing"
	"github.com/Trivenidigital/Vizora-sub012/migrations"
)

// Version information, set at build time via ldflags:
// go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

const defaultConfigPath = "configs/fleetd.yaml"

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the application logic, separated from main for testability.
func run(ctx context.Context) error {
	log := logging.Default()
	log.Info("starting fleetd",
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

	log = logging.New(cfg.Logging, "fleetd", version)
	log.Info("logger initialised",
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
	)

	db, err := database.Open(cfg.Database)
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

	if migrateErr := db.Migrate(ctx, migrations.FS); migrateErr != nil {
		return fmt.Errorf("running migrations: %w", migrateErr)
	}
	log.Info("database migrations complete")

	health := map[string]api.HealthChecker{"database": db}

	registry := display.NewRegistry(display.NewSQLiteRepository(db.DB))
	registry.SetLogger(log)

	// Shared store (optional)
	var pairingStore pairing.Store = pairing.NewMemoryStore()
	var fleetStore fleet.Store = fleet.NewMemoryStore()
	if cfg.Redis.Enabled {
		redisClient, redisErr := redis.Connect(ctx, cfg.Redis)
		if redisErr != nil {
			return fmt.Errorf("connecting to Redis: %w", redisErr)
		}
		defer func() {
			log.Info("closing Redis connection")
			if closeErr := redisClient.Close(); closeErr != nil {
				log.Error("error closing Redis", "error", closeErr)
			}
		}()
		log.Info("Redis connected", "addr", cfg.Redis.Addr)

		fleetStore = fleet.NewRedisStore(redisClient.Client)
		if cfg.Pairing.Store == "redis" {
			pairingStore = pairing.NewRedisStore(redisClient.Client)
		}
		health["redis"] = redisClient
	} else {
		log.Info("Redis disabled, using in-process stores")
	}

	pairingSvc := pairing.NewService(pairingStore, registry, pairing.Config{
		WebURL:        cfg.Pairing.WebURL,
		DeviceSecret:  cfg.Security.JWT.DeviceSecret,
		SweepInterval: cfg.GetSweepInterval(),
		TokenTTL:      cfg.GetDeviceTokenTTL(),
	})
	pairingSvc.SetLogger(log.With("component", "pairing"))

	fleetSvc := fleet.NewService(fleetStore, registry, cfg.GetHeartbeatInterval())
	fleetSvc.SetLogger(log.With("component", "fleet"))

	// Message bus (optional)
	var mqttClient *mqtt.Client
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
		mqttClient.SetLogger(log.With("component", "mqtt"))
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

		fleetSvc.SetPublisher(mqttClient, mqttClient.Topics())
		if subErr := fleetSvc.SubscribeCommands(mqttClient, mqttClient.Topics()); subErr != nil {
			return fmt.Errorf("subscribing to display commands: %w", subErr)
		}
		health["mqtt"] = mqttClient
	} else {
		log.Info("MQTT disabled")
	}

	// Time series (optional)
	if cfg.InfluxDB.Enabled {
		influxClient, influxErr := influxdb.Connect(cfg.InfluxDB)
		if influxErr != nil {
			return fmt.Errorf("connecting to InfluxDB: %w", influxErr)
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

		fleetSvc.SetMetricsWriter(influxClient)
		health["influxdb"] = influxClient
	} else {
		log.Info("InfluxDB disabled")
	}

	if err := healthCheck(ctx, health); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("all health checks passed")

	deps := api.Deps{
		Config:    cfg.API,
		WS:        cfg.WebSocket,
		Security:  cfg.Security,
		Logger:    log,
		Displays:  registry,
		Pairing:   pairingSvc,
		Fleet:     fleetSvc,
		AuditRepo: audit.NewSQLiteRepository(db.DB),
		DB:        db.DB,
		Health:    health,
		Version:   version,
	}
	if mqttClient != nil {
		deps.MQTT = mqttClient
	}

	apiServer, err := api.New(deps)
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}
	if err := apiServer.Start(ctx); err != nil {
		return fmt.Errorf("starting API server: %w", err)
	}
	defer func() {
		if closeErr := apiServer.Close(); closeErr != nil {
			log.Error("error closing API server", "error", closeErr)
		}
	}()

	log.Info("initialisation complete, waiting for shutdown signal", "address", apiServer.Addr())

	<-ctx.Done()

	log.Info("shutdown signal received, cleaning up")
	return nil
}

// getConfigPath returns FLEETD_CONFIG if set, otherwise the default path.
func getConfigPath() string {
	if path := os.Getenv("FLEETD_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// healthCheck verifies every enabled dependency once before serving.
func healthCheck(ctx context.Context, checks map[string]api.HealthChecker) error {
	for name, hc := range checks {
		if err := hc.HealthCheck(ctx); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
	}
	return nil
}
