package mapper

import (
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMap(t *testing.T) {
	m := New("dsmr", time.UTC)

	tests := []struct {
		name      string
		field     string
		raw       string
		wantKind  Kind
		wantTopic string
		wantValue string
	}{
		{
			name:      "tariff counter strips unit",
			field:     "ELECTRICITY_USED_TARIFF_1",
			raw:       "001234.567*kWh",
			wantKind:  Published,
			wantTopic: "dsmr/reading/electricity_delivered_1",
			wantValue: "1234.567",
		},
		{
			name:      "trailing zeros kept",
			field:     "CURRENT_ELECTRICITY_DELIVERY",
			raw:       "00.000*kW",
			wantKind:  Published,
			wantTopic: "dsmr/reading/electricity_currently_returned",
			wantValue: "0.000",
		},
		{
			name:      "gas counter",
			field:     "HOURLY_GAS_METER_READING",
			raw:       "00500.010*m3",
			wantKind:  Published,
			wantTopic: "dsmr/consumption/gas/delivered",
			wantValue: "500.010",
		},
		{
			name:      "failure count",
			field:     "SHORT_POWER_FAILURE_COUNT",
			raw:       "00007",
			wantKind:  Published,
			wantTopic: "dsmr/meter-stats/power_failure_count",
			wantValue: "7",
		},
		{
			name:      "tariff indicator stays text",
			field:     "ELECTRICITY_ACTIVE_TARIFF",
			raw:       "0002",
			wantKind:  Published,
			wantTopic: "dsmr/meter-stats/electricity_tariff",
			wantValue: "0002",
		},
		{
			name:      "timestamp normalized",
			field:     "P1_MESSAGE_TIMESTAMP",
			raw:       "231019143005S",
			wantKind:  Published,
			wantTopic: "dsmr/reading/timestamp",
			wantValue: "2023-10-19T14:30:05Z",
		},
		{
			name:     "text message ignored",
			field:    "TEXT_MESSAGE",
			raw:      "hello",
			wantKind: Ignored,
		},
		{
			name:     "failure log ignored",
			field:    "POWER_EVENT_FAILURE_LOG",
			raw:      "(2)(0-0:96.7.19)",
			wantKind: Ignored,
		},
		{
			name:     "unknown field",
			field:    "FOO_BAR",
			raw:      "1",
			wantKind: Unmapped,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := m.Map(tt.field, tt.raw)
			require.NoError(t, err)
			assert.Equal(t, tt.wantKind, res.Kind)
			if tt.wantKind == Published {
				assert.Equal(t, tt.wantTopic, res.Topic)
				assert.Equal(t, tt.wantValue, res.Value.String())
			}
		})
	}
}

func TestMapMalformedValue(t *testing.T) {
	m := New("dsmr", time.UTC)

	_, err := m.Map("INSTANTANEOUS_VOLTAGE_L1", "abc*V")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrMalformedValue)

	_, err = m.Map("P1_MESSAGE_TIMESTAMP", "231019143005X")
	assert.ErrorIs(t, err, ErrMalformedValue)
}

func TestTopicRootTrailingSlash(t *testing.T) {
	m := New("home/dsmr/", time.UTC)
	assert.Equal(t, "home/dsmr/day-consumption/gas", m.Topic(TopicDayGas))
}

func TestTableCoversKnownFields(t *testing.T) {
	assert.GreaterOrEqual(t, len(table), 30)
	assert.True(t, Known("EQUIPMENT_IDENTIFIER_GAS"))
	assert.False(t, Known("FOO_BAR"))
}

func TestParseTimestampDSTFlag(t *testing.T) {
	loc, err := time.LoadLocation("Europe/Amsterdam")
	require.NoError(t, err)

	tests := []struct {
		raw  string
		want string
	}{
		{"241027023000S", "2024-10-27T02:30:00+02:00"},
		{"241027023000W", "2024-10-27T02:30:00+01:00"},
		{"240310093000W", "2024-03-10T09:30:00+01:00"},
		{"240710093000S", "2024-07-10T09:30:00+02:00"},
		{"240710093000", "2024-07-10T09:30:00+02:00"},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			got, err := ParseTimestamp(tt.raw, loc)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got.Format(time.RFC3339))
		})
	}

	s, err := ParseTimestamp("241027023000S", loc)
	require.NoError(t, err)
	w, err := ParseTimestamp("241027023000W", loc)
	require.NoError(t, err)
	assert.Equal(t, time.Hour, w.Sub(s))
}
