//go:build integration
// +build integration

package integration_test

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tejusbharadwaj/dsmr2mqtt/internal/database"
	"github.com/tejusbharadwaj/dsmr2mqtt/internal/engine"
	"github.com/tejusbharadwaj/dsmr2mqtt/internal/mapper"
	"github.com/tejusbharadwaj/dsmr2mqtt/internal/metrics"
	"github.com/tejusbharadwaj/dsmr2mqtt/internal/models"
	"github.com/tejusbharadwaj/dsmr2mqtt/internal/persistence"
	"github.com/tejusbharadwaj/dsmr2mqtt/internal/publisher"
	"github.com/tejusbharadwaj/dsmr2mqtt/internal/telegram"
)

// Helper function to get environment variables with defaults
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func newLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.DebugLevel)
	return logger
}

func postgresConnStr() string {
	return fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=disable",
		getEnvOrDefault("DB_HOST", "db"),
		getEnvOrDefault("DB_PORT", "5432"),
		getEnvOrDefault("DB_USER", "dsmr"),
		getEnvOrDefault("DB_PASSWORD", "dsmr"),
		getEnvOrDefault("DB_NAME", "dsmr"),
	)
}

func TestPostgresRecordDay(t *testing.T) {
	ctx := context.Background()
	connStr := postgresConnStr()

	repo, err := database.NewPostgresRepo(ctx, connStr)
	require.NoError(t, err)
	defer repo.Close()

	db, err := sql.Open("postgres", connStr)
	require.NoError(t, err)
	defer db.Close()

	_, err = db.Exec("TRUNCATE TABLE day_consumption")
	require.NoError(t, err)

	rec := database.DailyRecord{
		Day:               models.Day{Year: 2024, Month: time.March, Day: 9},
		Electricity1:      0.5,
		ElectricityMerged: 0.5,
		Gas:               1.25,
		ClosedAt:          time.Now(),
	}
	require.NoError(t, repo.RecordDay(ctx, rec))

	rec.Electricity1 = 0.523
	rec.ElectricityMerged = 0.523
	require.NoError(t, repo.RecordDay(ctx, rec))

	var (
		rows   int
		merged float64
		gas    float64
	)
	err = db.QueryRow("SELECT count(*), max(electricity_merged), max(gas) FROM day_consumption").Scan(&rows, &merged, &gas)
	require.NoError(t, err)
	assert.Equal(t, 1, rows)
	assert.Equal(t, 0.523, merged)
	assert.Equal(t, 1.25, gas)
}

type collector struct {
	mu     sync.Mutex
	topics map[string]string
}

func (c *collector) handle(_ mqtt.Client, msg mqtt.Message) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.topics[msg.Topic()] = string(msg.Payload())
}

func (c *collector) get(topic string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.topics[topic]
	return v, ok
}

func subscribe(t *testing.T, host string, port int, root string) *collector {
	t.Helper()

	c := &collector{topics: map[string]string{}}
	opts := mqtt.NewClientOptions().
		AddBroker(fmt.Sprintf("tcp://%s:%d", host, port)).
		SetClientID("dsmr2mqtt-integration-sub")
	client := mqtt.NewClient(opts)

	token := client.Connect()
	require.True(t, token.WaitTimeout(5*time.Second))
	require.NoError(t, token.Error())
	t.Cleanup(func() { client.Disconnect(250) })

	token = client.Subscribe(root+"/#", 1, c.handle)
	require.True(t, token.WaitTimeout(5*time.Second))
	require.NoError(t, token.Error())
	return c
}

func p1Frame(low, gas string) string {
	return strings.Join([]string{
		"/ISK5\\2M550T-1012",
		"",
		"1-3:0.2.8(50)",
		"1-0:1.8.1(" + low + "*kWh)",
		"1-0:1.7.0(00.452*kW)",
		"0-1:24.2.1(240310093000W)(" + gas + "*m3)",
		"!",
		"",
	}, "\r\n")
}

func TestBridgeEndToEnd(t *testing.T) {
	host := getEnvOrDefault("MQTT_HOST", "mqtt")
	port, err := strconv.Atoi(getEnvOrDefault("MQTT_PORT", "1883"))
	require.NoError(t, err)

	root := fmt.Sprintf("dsmrtest%d", time.Now().UnixNano())
	received := subscribe(t, host, port, root)
	logger := newLogger()

	pub, err := publisher.Connect(publisher.MQTTConfig{
		Host:     host,
		Port:     port,
		ClientID: "dsmr2mqtt-integration-pub",
		QoS:      1,
		Timeout:  5 * time.Second,
	}, logger)
	require.NoError(t, err)
	defer pub.Close()

	path := filepath.Join(t.TempDir(), "snapshot.json")
	store := persistence.NewFileStore(path, logger)
	require.NoError(t, store.Save(persistence.Snapshot{ElectricityLow: 100, Gas: 500}, time.Now()))

	eng, err := engine.New(engine.Options{
		GasInterval: time.Minute,
		DailyMerged: true,
	}, engine.Deps{
		Mapper:    mapper.New(root, time.Local),
		Publisher: pub,
		Store:     store,
		Metrics:   metrics.New(prometheus.NewRegistry()),
		Logger:    logger,
	})
	require.NoError(t, err)

	src := telegram.NewP1Reader(strings.NewReader(p1Frame("000100.523", "00500.250")))
	err = eng.Run(context.Background(), src, nil)
	require.ErrorIs(t, err, io.EOF)

	expected := map[string]string{
		root + "/meter-stats/dsmr_version":                "50",
		root + "/reading/electricity_delivered_1":         "100.523",
		root + "/reading/electricity_currently_delivered": "0.452",
		root + "/consumption/gas/delivered":               "500.250",
		root + "/day-consumption/electricity1":            "0.523",
		root + "/day-consumption/electricity_merged":      "0.523",
		root + "/day-consumption/gas":                     "0.250",
	}
	require.Eventually(t, func() bool {
		for topic := range expected {
			if _, ok := received.get(topic); !ok {
				return false
			}
		}
		return true
	}, 10*time.Second, 100*time.Millisecond)

	for topic, payload := range expected {
		got, _ := received.get(topic)
		assert.Equal(t, payload, got, topic)
	}
	_, ok := received.get(root + "/consumption/gas/read_at")
	assert.True(t, ok)

	snapshot, ok := store.Load()
	require.True(t, ok)
	assert.Equal(t, 100.0, snapshot.ElectricityLow)
}
