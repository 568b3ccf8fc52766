package database

import (
	"context"
	"fmt"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// InfluxConfig holds InfluxDB-related configuration
type InfluxConfig struct {
	URL    string
	Org    string
	Token  string
	Bucket string
}

// InfluxRepo implements HistoryRepository on InfluxDB v2. Each day is one
// point of measurement "day_consumption" stamped at local midnight.
type InfluxRepo struct {
	client   influxdb2.Client
	writeAPI api.WriteAPIBlocking
	loc      *time.Location
}

// NewInfluxRepo initializes the InfluxDB v2 client and verifies connectivity
func NewInfluxRepo(ctx context.Context, cfg InfluxConfig) (*InfluxRepo, error) {
	client := influxdb2.NewClient(cfg.URL, cfg.Token)

	if _, err := client.Health(ctx); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to InfluxDB: %w", err)
	}

	return &InfluxRepo{
		client:   client,
		writeAPI: client.WriteAPIBlocking(cfg.Org, cfg.Bucket),
		loc:      time.Local,
	}, nil
}

func (r *InfluxRepo) RecordDay(ctx context.Context, rec DailyRecord) error {
	point := write.NewPoint(
		"day_consumption",
		map[string]string{
			"day": rec.Day.String(),
		},
		map[string]interface{}{
			"electricity1":                rec.Electricity1,
			"electricity2":                rec.Electricity2,
			"electricity1_returned":       rec.Electricity1Returned,
			"electricity2_returned":       rec.Electricity2Returned,
			"electricity_merged":          rec.ElectricityMerged,
			"electricity_returned_merged": rec.ReturnedMerged,
			"gas":                         rec.Gas,
		},
		rec.Day.Start(r.loc),
	)

	if err := r.writeAPI.WritePoint(ctx, point); err != nil {
		return fmt.Errorf("failed to write day %s to InfluxDB: %w", rec.Day, err)
	}
	return nil
}

// Close closes the InfluxDB client
func (r *InfluxRepo) Close() error {
	r.client.Close()
	return nil
}
