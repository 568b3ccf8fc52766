package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// ErrInvalid is wrapped by every validation failure.
var ErrInvalid = errors.New("invalid configuration")

// Config holds all configuration for our application
type Config struct {
	MQTT        MQTTConfig        `mapstructure:"mqtt"`
	Kafka       KafkaConfig       `mapstructure:"kafka"`
	DSMR        DSMRConfig        `mapstructure:"dsmr"`
	Report      ReportConfig      `mapstructure:"report"`
	Persistence PersistenceConfig `mapstructure:"persistence"`
	History     HistoryConfig     `mapstructure:"history"`
	Metrics     MetricsConfig     `mapstructure:"metrics"`
	Health      HealthConfig      `mapstructure:"health"`
	Logging     LoggingConfig     `mapstructure:"logging"`
}

type MQTTConfig struct {
	Host           string        `mapstructure:"host"`
	Port           int           `mapstructure:"port"`
	ClientID       string        `mapstructure:"client_id"`
	Username       string        `mapstructure:"username"`
	Password       string        `mapstructure:"password"`
	QoS            int           `mapstructure:"qos"`
	Retain         bool          `mapstructure:"retain"`
	PublishTimeout time.Duration `mapstructure:"publish_timeout"`
}

type KafkaConfig struct {
	Enabled bool     `mapstructure:"enabled"`
	Brokers []string `mapstructure:"brokers"`
	Topic   string   `mapstructure:"topic"`
}

type DSMRConfig struct {
	Device    string `mapstructure:"device"`
	Baud      int    `mapstructure:"baud"`
	TopicRoot string `mapstructure:"topic_root"`
}

type ReportConfig struct {
	IntervalSeconds    int  `mapstructure:"interval_seconds"`
	GasIntervalSeconds int  `mapstructure:"gas_interval_seconds"`
	DailyMerged        bool `mapstructure:"daily_merged"`
}

type PersistenceConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

// HistoryConfig selects where closed days are recorded. Empty values
// disable the corresponding sink.
type HistoryConfig struct {
	PostgresDSN  string `mapstructure:"postgres_dsn"`
	InfluxURL    string `mapstructure:"influx_url"`
	InfluxToken  string `mapstructure:"influx_token"`
	InfluxOrg    string `mapstructure:"influx_org"`
	InfluxBucket string `mapstructure:"influx_bucket"`
}

type MetricsConfig struct {
	Address string `mapstructure:"address"`
}

type HealthConfig struct {
	Port int `mapstructure:"port"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// flagKeys maps command-line flags onto configuration keys.
var flagKeys = map[string]string{
	"mqtt-host":          "mqtt.host",
	"mqtt-port":          "mqtt.port",
	"mqtt-client-id":     "mqtt.client_id",
	"mqtt-username":      "mqtt.username",
	"mqtt-password":      "mqtt.password",
	"device":             "dsmr.device",
	"baud":               "dsmr.baud",
	"topic-root":         "dsmr.topic_root",
	"report-interval":    "report.interval_seconds",
	"gas-interval":       "report.gas_interval_seconds",
	"persistence-path":   "persistence.path",
	"metrics-address":    "metrics.address",
	"health-port":        "health.port",
	"log-level":          "logging.level",
	"log-format":         "logging.format",
	"persistence-enable": "persistence.enabled",
}

// RegisterFlags declares the command-line flags understood by Load.
func RegisterFlags(fs *pflag.FlagSet) {
	fs.String("mqtt-host", "", "MQTT broker host")
	fs.Int("mqtt-port", 0, "MQTT broker port")
	fs.String("mqtt-client-id", "", "MQTT client id")
	fs.String("mqtt-username", "", "MQTT username")
	fs.String("mqtt-password", "", "MQTT password")
	fs.String("device", "", "P1 serial device")
	fs.Int("baud", 0, "P1 serial line speed")
	fs.String("topic-root", "", "Root of the published topic namespace")
	fs.Int("report-interval", 0, "Minimum seconds between processed telegrams")
	fs.Int("gas-interval", 0, "Seconds between gas flow rate recomputations")
	fs.String("persistence-path", "", "Snapshot file for daily baselines")
	fs.Bool("persistence-enable", true, "Persist daily baselines")
	fs.String("metrics-address", "", "Listen address for /metrics (empty disables)")
	fs.Int("health-port", 0, "gRPC health service port (0 disables)")
	fs.String("log-level", "", "Log level")
	fs.String("log-format", "", "Log format: json or text")
}

// Load reads configuration from defaults, an optional YAML file (with
// ${VAR} expansion), DSMR_* environment variables and explicitly set
// flags, in increasing order of precedence.
func Load(path string, flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("DSMR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}

		// Expand environment variables
		expanded := os.ExpandEnv(string(data))

		v.SetConfigType("yaml")
		if err := v.ReadConfig(strings.NewReader(expanded)); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	if flags != nil {
		for name, key := range flagKeys {
			if f := flags.Lookup(name); f != nil && f.Changed {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, fmt.Errorf("failed to bind flag %s: %w", name, err)
				}
			}
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

// Validate checks value ranges the engine relies on.
func (c *Config) Validate() error {
	if c.MQTT.Host == "" && !c.Kafka.Enabled {
		return fmt.Errorf("%w: mqtt.host is empty and kafka is disabled", ErrInvalid)
	}
	if c.MQTT.Port <= 0 || c.MQTT.Port > 65535 {
		return fmt.Errorf("%w: mqtt.port %d out of range", ErrInvalid, c.MQTT.Port)
	}
	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		return fmt.Errorf("%w: mqtt.qos must be 0, 1 or 2", ErrInvalid)
	}
	if c.Report.IntervalSeconds < 0 {
		return fmt.Errorf("%w: report.interval_seconds must not be negative", ErrInvalid)
	}
	if c.Report.GasIntervalSeconds <= 0 {
		return fmt.Errorf("%w: report.gas_interval_seconds must be positive", ErrInvalid)
	}
	if c.Persistence.Enabled && c.Persistence.Path == "" {
		return fmt.Errorf("%w: persistence.path is required when persistence is enabled", ErrInvalid)
	}
	if c.Kafka.Enabled && (len(c.Kafka.Brokers) == 0 || c.Kafka.Topic == "") {
		return fmt.Errorf("%w: kafka.brokers and kafka.topic are required", ErrInvalid)
	}
	if c.DSMR.Baud <= 0 {
		return fmt.Errorf("%w: dsmr.baud must be positive", ErrInvalid)
	}
	if c.DSMR.TopicRoot == "" {
		return fmt.Errorf("%w: dsmr.topic_root is empty", ErrInvalid)
	}
	return nil
}

// ReportInterval is the minimum spacing of fully processed telegrams.
func (c *Config) ReportInterval() time.Duration {
	return time.Duration(c.Report.IntervalSeconds) * time.Second
}

// GasInterval is the flow-rate debounce interval.
func (c *Config) GasInterval() time.Duration {
	return time.Duration(c.Report.GasIntervalSeconds) * time.Second
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("mqtt.host", "mqtt")
	v.SetDefault("mqtt.port", 1883)
	v.SetDefault("mqtt.client_id", "dsmr2mqtt")
	v.SetDefault("mqtt.username", "")
	v.SetDefault("mqtt.password", "")
	v.SetDefault("mqtt.qos", 0)
	v.SetDefault("mqtt.retain", false)
	v.SetDefault("mqtt.publish_timeout", 5*time.Second)

	v.SetDefault("kafka.enabled", false)
	v.SetDefault("kafka.brokers", []string{})
	v.SetDefault("kafka.topic", "dsmr")

	v.SetDefault("dsmr.device", "/dev/ttyUSB0")
	v.SetDefault("dsmr.baud", 115200)
	v.SetDefault("dsmr.topic_root", "dsmr")

	v.SetDefault("report.interval_seconds", 15)
	v.SetDefault("report.gas_interval_seconds", 60)
	v.SetDefault("report.daily_merged", true)

	v.SetDefault("persistence.enabled", true)
	v.SetDefault("persistence.path", "dsmr2mqtt.json")

	v.SetDefault("history.postgres_dsn", "")
	v.SetDefault("history.influx_url", "")
	v.SetDefault("history.influx_token", "")
	v.SetDefault("history.influx_org", "")
	v.SetDefault("history.influx_bucket", "")

	v.SetDefault("metrics.address", ":2112")
	v.SetDefault("health.port", 0)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
}
