// Package mapper translates raw DSMR telegram fields into canonical bus topics.
//
// The table is static. Every identifier resolves to exactly one of three
// results:
//   - Published: forward under the returned topic with the normalized value
//   - Ignored: known field that is intentionally not forwarded
//   - Unmapped: identifier unknown to this table
package mapper

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/tejusbharadwaj/dsmr2mqtt/internal/models"
)

// Kind tags the outcome of mapping a single field.
type Kind int

const (
	Unmapped Kind = iota
	Ignored
	Published
)

func (k Kind) String() string {
	switch k {
	case Published:
		return "published"
	case Ignored:
		return "ignored"
	default:
		return "unmapped"
	}
}

// Derived topics, relative to the topic root.
const (
	TopicGasReadAt           = "consumption/gas/read_at"
	TopicGasCurrentlyDeliver = "consumption/gas/currently_delivered"

	TopicDayElectricity1         = "day-consumption/electricity1"
	TopicDayElectricity2         = "day-consumption/electricity2"
	TopicDayElectricity1Returned = "day-consumption/electricity1_returned"
	TopicDayElectricity2Returned = "day-consumption/electricity2_returned"
	TopicDayElectricityMerged    = "day-consumption/electricity_merged"
	TopicDayReturnedMerged       = "day-consumption/electricity_returned_merged"
	TopicDayGas                  = "day-consumption/gas"
)

// ErrMalformedValue is returned when a known field carries a value that
// cannot be normalized.
var ErrMalformedValue = errors.New("malformed field value")

type valueKind int

const (
	kindText valueKind = iota
	kindNumber
	kindTimestamp
)

type entry struct {
	topic string // empty: ignored
	kind  valueKind
}

var table = map[string]entry{
	"P1_MESSAGE_HEADER":    {"meter-stats/dsmr_version", kindText},
	"P1_MESSAGE_TIMESTAMP": {"reading/timestamp", kindTimestamp},
	"EQUIPMENT_IDENTIFIER": {"meter-stats/dsmr_meter_id", kindText},
	"DEVICE_TYPE":          {"meter-stats/dsmr_meter_type", kindText},

	"ELECTRICITY_USED_TARIFF_1":      {"reading/electricity_delivered_1", kindNumber},
	"ELECTRICITY_USED_TARIFF_2":      {"reading/electricity_delivered_2", kindNumber},
	"ELECTRICITY_DELIVERED_TARIFF_1": {"reading/electricity_returned_1", kindNumber},
	"ELECTRICITY_DELIVERED_TARIFF_2": {"reading/electricity_returned_2", kindNumber},
	"ELECTRICITY_ACTIVE_TARIFF":      {"meter-stats/electricity_tariff", kindText},
	"CURRENT_ELECTRICITY_USAGE":      {"reading/electricity_currently_delivered", kindNumber},
	"CURRENT_ELECTRICITY_DELIVERY":   {"reading/electricity_currently_returned", kindNumber},

	"LONG_POWER_FAILURE_COUNT":  {"meter-stats/long_power_failure_count", kindNumber},
	"SHORT_POWER_FAILURE_COUNT": {"meter-stats/power_failure_count", kindNumber},
	"VOLTAGE_SAG_L1_COUNT":      {"meter-stats/voltage_sag_count_l1", kindNumber},
	"VOLTAGE_SAG_L2_COUNT":      {"meter-stats/voltage_sag_count_l2", kindNumber},
	"VOLTAGE_SAG_L3_COUNT":      {"meter-stats/voltage_sag_count_l3", kindNumber},
	"VOLTAGE_SWELL_L1_COUNT":    {"meter-stats/voltage_swell_count_l1", kindNumber},
	"VOLTAGE_SWELL_L2_COUNT":    {"meter-stats/voltage_swell_count_l2", kindNumber},
	"VOLTAGE_SWELL_L3_COUNT":    {"meter-stats/voltage_swell_count_l3", kindNumber},

	"INSTANTANEOUS_VOLTAGE_L1":               {"reading/phase_voltage_l1", kindNumber},
	"INSTANTANEOUS_VOLTAGE_L2":               {"reading/phase_voltage_l2", kindNumber},
	"INSTANTANEOUS_VOLTAGE_L3":               {"reading/phase_voltage_l3", kindNumber},
	"INSTANTANEOUS_CURRENT_L1":               {"reading/phase_power_current_l1", kindNumber},
	"INSTANTANEOUS_CURRENT_L2":               {"reading/phase_power_current_l2", kindNumber},
	"INSTANTANEOUS_CURRENT_L3":               {"reading/phase_power_current_l3", kindNumber},
	"INSTANTANEOUS_ACTIVE_POWER_L1_POSITIVE": {"reading/phase_currently_delivered_l1", kindNumber},
	"INSTANTANEOUS_ACTIVE_POWER_L2_POSITIVE": {"reading/phase_currently_delivered_l2", kindNumber},
	"INSTANTANEOUS_ACTIVE_POWER_L3_POSITIVE": {"reading/phase_currently_delivered_l3", kindNumber},
	"INSTANTANEOUS_ACTIVE_POWER_L1_NEGATIVE": {"reading/phase_currently_returned_l1", kindNumber},
	"INSTANTANEOUS_ACTIVE_POWER_L2_NEGATIVE": {"reading/phase_currently_returned_l2", kindNumber},
	"INSTANTANEOUS_ACTIVE_POWER_L3_NEGATIVE": {"reading/phase_currently_returned_l3", kindNumber},

	"EQUIPMENT_IDENTIFIER_GAS": {"meter-stats/gas_meter_id", kindText},
	"HOURLY_GAS_METER_READING": {"consumption/gas/delivered", kindNumber},

	"TEXT_MESSAGE_CODE":       {},
	"TEXT_MESSAGE":            {},
	"POWER_EVENT_FAILURE_LOG": {},
}

// Result is the tagged outcome of Map.
type Result struct {
	Kind Kind
	models.Reading
}

// Mapper resolves raw identifiers against the static table and prefixes
// topics with the configured root.
type Mapper struct {
	root string
	loc  *time.Location
}

// New returns a Mapper publishing under root (e.g. "dsmr"). Meter
// timestamps are interpreted in loc; nil means time.Local.
func New(root string, loc *time.Location) *Mapper {
	if loc == nil {
		loc = time.Local
	}
	return &Mapper{root: strings.TrimSuffix(root, "/"), loc: loc}
}

// Topic joins the root with a relative topic.
func (m *Mapper) Topic(relative string) string {
	return m.root + "/" + relative
}

// Map classifies a raw field. The error is non-nil only for known fields
// whose value could not be normalized; the caller skips that field.
func (m *Mapper) Map(field, raw string) (Result, error) {
	e, ok := table[field]
	if !ok {
		return Result{Kind: Unmapped}, nil
	}
	if e.topic == "" {
		return Result{Kind: Ignored}, nil
	}

	value, err := m.normalize(e.kind, raw)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %s=%q: %v", ErrMalformedValue, field, raw, err)
	}
	return Result{
		Kind:    Published,
		Reading: models.Reading{Topic: m.Topic(e.topic), Value: value},
	}, nil
}

// Known reports whether field is part of the table.
func Known(field string) bool {
	_, ok := table[field]
	return ok
}

func (m *Mapper) normalize(kind valueKind, raw string) (models.Value, error) {
	raw = strings.TrimSpace(raw)
	switch kind {
	case kindNumber:
		d, err := ParseNumber(raw)
		if err != nil {
			return models.Value{}, err
		}
		return models.NumberValue(d), nil
	case kindTimestamp:
		t, err := ParseTimestamp(raw, m.loc)
		if err != nil {
			return models.Value{}, err
		}
		return models.TextValue(t.Format(time.RFC3339)), nil
	default:
		return models.TextValue(raw), nil
	}
}

const timestampLayout = "060102150405"

// ParseNumber parses a COSEM numeric value such as "001234.567*kWh",
// dropping the unit suffix.
func ParseNumber(raw string) (decimal.Decimal, error) {
	if i := strings.IndexByte(raw, '*'); i >= 0 {
		raw = raw[:i]
	}
	return decimal.NewFromString(raw)
}

// ParseTimestamp parses a P1 timestamp "YYMMDDhhmmssX" where X is S
// (summer) or W (winter). The flag picks the offset for the wall-clock hour
// that occurs twice when daylight saving time ends.
func ParseTimestamp(raw string, loc *time.Location) (time.Time, error) {
	var flag byte
	if len(raw) == 13 {
		flag = raw[12]
		if flag != 'S' && flag != 'W' {
			return time.Time{}, fmt.Errorf("unknown dst flag %q", flag)
		}
		raw = raw[:12]
	}

	t, err := time.ParseInLocation(timestampLayout, raw, loc)
	if err != nil {
		return time.Time{}, err
	}

	var alt time.Time
	switch {
	case flag == 'S' && !t.IsDST():
		alt = t.Add(-time.Hour)
	case flag == 'W' && t.IsDST():
		alt = t.Add(time.Hour)
	default:
		return t, nil
	}
	if alt.IsDST() != t.IsDST() && alt.Format(timestampLayout) == raw {
		return alt, nil
	}
	return t, nil
}
