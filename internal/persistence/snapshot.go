//go:generate go run github.com/golang/mock/mockgen -destination=./mocks/snapshot.go -package=mocks . SnapshotStore

// Package persistence keeps the day-start baselines on disk so that daily
// deltas survive a restart.
//
// The snapshot is a small JSON document:
//
//	{
//	  "electricity_low_value": 1234.567,
//	  "electricity_high_value": 2345.678,
//	  "electricity_delivered_low_value": 12.3,
//	  "electricity_delivered_high_value": 45.6,
//	  "gas_meter_value": 500.01,
//	  "file_date": "2024-03-10 00:00:04"
//	}
//
// It is replaced atomically (write temp file, fsync, rename) so a
// concurrent reader never sees a partial document.
package persistence

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/tejusbharadwaj/dsmr2mqtt/internal/accumulator"
	"github.com/tejusbharadwaj/dsmr2mqtt/internal/models"
)

// FileDateLayout is the layout of the informational file_date key.
const FileDateLayout = "2006-01-02 15:04:05"

// SnapshotStore defines the interface for loading and saving baselines.
type SnapshotStore interface {
	// Load returns the stored snapshot. ok is false when nothing usable was
	// stored; the returned snapshot is then zeroed.
	Load() (snapshot Snapshot, ok bool)

	// Save replaces the stored snapshot, stamping it with now.
	Save(snapshot Snapshot, now time.Time) error
}

// Snapshot is the on-disk mirror of the accumulator baselines.
type Snapshot struct {
	ElectricityLow           float64 `json:"electricity_low_value"`
	ElectricityHigh          float64 `json:"electricity_high_value"`
	ElectricityDeliveredLow  float64 `json:"electricity_delivered_low_value"`
	ElectricityDeliveredHigh float64 `json:"electricity_delivered_high_value"`
	Gas                      float64 `json:"gas_meter_value"`
	FileDate                 string  `json:"file_date"`
}

// FromBaselines builds a snapshot from accumulator baselines. Missing
// categories are stored as zero.
func FromBaselines(b map[accumulator.Category]decimal.Decimal) Snapshot {
	f := func(c accumulator.Category) float64 {
		v, ok := b[c]
		if !ok {
			return 0
		}
		return v.InexactFloat64()
	}
	return Snapshot{
		ElectricityLow:           f(accumulator.ConsumptionLow),
		ElectricityHigh:          f(accumulator.ConsumptionHigh),
		ElectricityDeliveredLow:  f(accumulator.DeliveryLow),
		ElectricityDeliveredHigh: f(accumulator.DeliveryHigh),
		Gas:                      f(accumulator.Gas),
	}
}

// Baselines converts the snapshot back into accumulator baselines. A zero
// value means "no baseline recorded" and is left out.
func (s Snapshot) Baselines() map[accumulator.Category]decimal.Decimal {
	out := make(map[accumulator.Category]decimal.Decimal)
	for c, v := range map[accumulator.Category]float64{
		accumulator.ConsumptionLow:  s.ElectricityLow,
		accumulator.ConsumptionHigh: s.ElectricityHigh,
		accumulator.DeliveryLow:     s.ElectricityDeliveredLow,
		accumulator.DeliveryHigh:    s.ElectricityDeliveredHigh,
		accumulator.Gas:             s.Gas,
	} {
		if v > 0 {
			out[c] = decimal.NewFromFloat(v)
		}
	}
	return out
}

// Day returns the calendar date of file_date, interpreted in loc.
func (s Snapshot) Day(loc *time.Location) (models.Day, bool) {
	t, err := time.ParseInLocation(FileDateLayout, s.FileDate, loc)
	if err != nil {
		return models.Day{}, false
	}
	return models.DayOf(t), true
}

func (s Snapshot) valid() bool {
	return s.ElectricityLow >= 0 && s.ElectricityHigh >= 0 &&
		s.ElectricityDeliveredLow >= 0 && s.ElectricityDeliveredHigh >= 0 &&
		s.Gas >= 0
}

// NopStore is used when persistence is disabled.
type NopStore struct{}

func (NopStore) Load() (Snapshot, bool)         { return Snapshot{}, false }
func (NopStore) Save(Snapshot, time.Time) error { return nil }

// Compile-time interface implementation check
var (
	_ SnapshotStore = NopStore{}
	_ SnapshotStore = (*FileStore)(nil)
)
