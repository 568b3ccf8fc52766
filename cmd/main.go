package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/pflag"

	"github.com/tejusbharadwaj/dsmr2mqtt/internal/config"
	"github.com/tejusbharadwaj/dsmr2mqtt/internal/database"
	"github.com/tejusbharadwaj/dsmr2mqtt/internal/engine"
	server "github.com/tejusbharadwaj/dsmr2mqtt/internal/grpc"
	"github.com/tejusbharadwaj/dsmr2mqtt/internal/mapper"
	"github.com/tejusbharadwaj/dsmr2mqtt/internal/metrics"
	"github.com/tejusbharadwaj/dsmr2mqtt/internal/persistence"
	"github.com/tejusbharadwaj/dsmr2mqtt/internal/publisher"
	"github.com/tejusbharadwaj/dsmr2mqtt/internal/scheduler"
	"github.com/tejusbharadwaj/dsmr2mqtt/internal/telegram"
)

// Command dsmr2mqtt bridges DSMR smart meter telegrams onto MQTT.
//
// The bridge supports:
//   - Republishing every telegram field under a canonical topic
//   - Daily consumption and delivery per tariff, plus merged totals
//   - Daily gas consumption and instantaneous gas flow rate
//   - Baselines persisted across restarts
//   - Optional Kafka bus, Postgres/InfluxDB day history, Prometheus
//     metrics and gRPC health
//
// Usage:
//
//	dsmr2mqtt [flags]
//
// The flags are:
//
//	--config string
//	      path to config file (default "config.yaml", skipped if missing)
//	--device string
//	      P1 serial device, "-" reads standard input
//	--baud int
//	      P1 line speed (default 115200)
//
// Every configuration key can also be set through DSMR_* environment
// variables, e.g. DSMR_MQTT_HOST.
func main() {
	flags := pflag.NewFlagSet("dsmr2mqtt", pflag.ExitOnError)
	configPath := flags.String("config", "config.yaml", "path to config file")
	config.RegisterFlags(flags)
	flags.Parse(os.Args[1:])

	path := *configPath
	if _, err := os.Stat(path); err != nil && !flags.Changed("config") {
		path = ""
	}

	appConfig, err := config.Load(path, flags)
	if err != nil {
		logrus.Fatalf("Failed to load configuration: %v", err)
	}

	logger := newLogger(appConfig.Logging)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	pub, err := createPublisher(appConfig, logger)
	if err != nil {
		logger.Fatalf("Failed to create publisher: %v", err)
	}
	defer pub.Close()

	history, err := createHistory(ctx, appConfig.History, logger)
	if err != nil {
		logger.Fatalf("Failed to create history storage: %v", err)
	}
	defer history.Close()

	var store persistence.SnapshotStore = persistence.NopStore{}
	if appConfig.Persistence.Enabled {
		store = persistence.NewFileStore(appConfig.Persistence.Path, logger)
	}

	health := server.NewHealthChecker()

	eng, err := engine.New(engine.Options{
		ReportInterval: appConfig.ReportInterval(),
		GasInterval:    appConfig.GasInterval(),
		DailyMerged:    appConfig.Report.DailyMerged,
		Location:       time.Local,
	}, engine.Deps{
		Mapper:    mapper.New(appConfig.DSMR.TopicRoot, time.Local),
		Publisher: pub,
		Store:     store,
		History:   history,
		Metrics:   m,
		Status:    health,
		Logger:    logger,
	})
	if err != nil {
		logger.Fatalf("Failed to create engine: %v", err)
	}

	device, err := telegram.OpenDevice(appConfig.DSMR.Device, appConfig.DSMR.Baud)
	if err != nil {
		logger.Fatalf("Failed to open P1 device: %v", err)
	}
	defer device.Close()

	// Start background services
	errChan := make(chan error, 2)

	if appConfig.Metrics.Address != "" {
		go serveMetrics(ctx, appConfig.Metrics.Address, reg, logger)
	}

	if appConfig.Health.Port > 0 {
		serverConfig := server.DefaultServerConfig()
		serverConfig.Port = appConfig.Health.Port

		srv, err := server.SetupServer(health, serverConfig, logger, reg)
		if err != nil {
			logger.Fatalf("Failed to setup health server: %v", err)
		}
		go func() {
			if err := server.Serve(ctx, srv, serverConfig.Port, logger); err != nil {
				errChan <- fmt.Errorf("health server error: %w", err)
			}
		}()
	}

	sched := scheduler.NewScheduler(logger)
	if err := sched.Start(); err != nil {
		logger.Fatalf("Failed to start scheduler: %v", err)
	}
	defer sched.Stop()

	logger.WithFields(logrus.Fields{
		"device":     appConfig.DSMR.Device,
		"baud":       appConfig.DSMR.Baud,
		"topic_root": appConfig.DSMR.TopicRoot,
		"interval":   appConfig.ReportInterval().String(),
	}).Info("Starting dsmr2mqtt")

	go func() {
		errChan <- eng.Run(ctx, telegram.NewP1Reader(device), sched.Ticks())
	}()

	if err := <-errChan; err != nil {
		logger.Fatalf("Service error: %v", err)
	}
	logger.Info("Shutdown complete")
}

func newLogger(cfg config.LoggingConfig) *logrus.Logger {
	logger := logrus.New()
	if cfg.Format == "text" {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	} else {
		logger.SetFormatter(&logrus.JSONFormatter{})
	}

	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		logger.WithField("level", cfg.Level).Warn("Unknown log level, using info")
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)
	return logger
}

// Create the bus publisher(s)
func createPublisher(cfg *config.Config, logger *logrus.Logger) (publisher.Publisher, error) {
	var pubs publisher.Multi

	if cfg.MQTT.Host != "" {
		mqttConfig := publisher.MQTTConfig{
			Host:     cfg.MQTT.Host,
			Port:     cfg.MQTT.Port,
			ClientID: cfg.MQTT.ClientID,
			QoS:      byte(cfg.MQTT.QoS),
			Retain:   cfg.MQTT.Retain,
			Timeout:  cfg.MQTT.PublishTimeout,
		}
		if cfg.MQTT.Username != "" {
			mqttConfig.Credentials = &publisher.Credentials{
				Username: cfg.MQTT.Username,
				Password: cfg.MQTT.Password,
			}
		}
		p, err := publisher.Connect(mqttConfig, logger)
		if err != nil {
			return nil, err
		}
		pubs = append(pubs, p)
	}

	if cfg.Kafka.Enabled {
		p, err := publisher.NewKafkaPublisher(publisher.KafkaConfig{
			Brokers: cfg.Kafka.Brokers,
			Topic:   cfg.Kafka.Topic,
			Timeout: cfg.MQTT.PublishTimeout,
		}, logger)
		if err != nil {
			pubs.Close()
			return nil, err
		}
		pubs = append(pubs, p)
	}

	if len(pubs) == 1 {
		return pubs[0], nil
	}
	return pubs, nil
}

// Create the configured history repositories
func createHistory(ctx context.Context, cfg config.HistoryConfig, logger *logrus.Logger) (database.Histories, error) {
	var repos database.Histories

	if cfg.PostgresDSN != "" {
		repo, err := database.NewPostgresRepo(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, err
		}
		logger.Info("Recording daily history in Postgres")
		repos = append(repos, repo)
	}

	if cfg.InfluxURL != "" {
		repo, err := database.NewInfluxRepo(ctx, database.InfluxConfig{
			URL:    cfg.InfluxURL,
			Org:    cfg.InfluxOrg,
			Token:  cfg.InfluxToken,
			Bucket: cfg.InfluxBucket,
		})
		if err != nil {
			repos.Close()
			return nil, err
		}
		logger.Info("Recording daily history in InfluxDB")
		repos = append(repos, repo)
	}

	return repos, nil
}

// serveMetrics runs the /metrics endpoint. A failure only loses metrics,
// the bridge keeps running.
func serveMetrics(ctx context.Context, addr string, reg *prometheus.Registry, logger *logrus.Logger) {
	if err := metrics.Serve(ctx, addr, reg, logger); err != nil {
		logger.WithError(err).WithField("address", addr).Error("Metrics server stopped")
	}
}
