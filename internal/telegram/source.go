// Package telegram reads DSMR P1 telegrams and turns them into raw
// (identifier, value) pairs.
package telegram

import (
	"context"
	"errors"

	"github.com/tejusbharadwaj/dsmr2mqtt/internal/models"
)

// ErrDecode marks a malformed telegram. The caller skips it and keeps
// reading; any other error from Next is fatal.
var ErrDecode = errors.New("telegram decode error")

// Source defines the interface of a blocking, non-restartable telegram stream.
type Source interface {
	// Next blocks until the next complete telegram is available.
	Next(ctx context.Context) (models.Telegram, error)
}

// Identifiers for OBIS references, in the naming used by the field mapper.
var obisFields = map[string]string{
	"1-3:0.2.8":   "P1_MESSAGE_HEADER",
	"0-0:1.0.0":   "P1_MESSAGE_TIMESTAMP",
	"0-0:96.1.1":  "EQUIPMENT_IDENTIFIER",
	"1-0:1.8.1":   "ELECTRICITY_USED_TARIFF_1",
	"1-0:1.8.2":   "ELECTRICITY_USED_TARIFF_2",
	"1-0:2.8.1":   "ELECTRICITY_DELIVERED_TARIFF_1",
	"1-0:2.8.2":   "ELECTRICITY_DELIVERED_TARIFF_2",
	"0-0:96.14.0": "ELECTRICITY_ACTIVE_TARIFF",
	"1-0:1.7.0":   "CURRENT_ELECTRICITY_USAGE",
	"1-0:2.7.0":   "CURRENT_ELECTRICITY_DELIVERY",
	"0-0:96.7.21": "SHORT_POWER_FAILURE_COUNT",
	"0-0:96.7.9":  "LONG_POWER_FAILURE_COUNT",
	"1-0:99.97.0": "POWER_EVENT_FAILURE_LOG",
	"1-0:32.32.0": "VOLTAGE_SAG_L1_COUNT",
	"1-0:52.32.0": "VOLTAGE_SAG_L2_COUNT",
	"1-0:72.32.0": "VOLTAGE_SAG_L3_COUNT",
	"1-0:32.36.0": "VOLTAGE_SWELL_L1_COUNT",
	"1-0:52.36.0": "VOLTAGE_SWELL_L2_COUNT",
	"1-0:72.36.0": "VOLTAGE_SWELL_L3_COUNT",
	"0-0:96.13.1": "TEXT_MESSAGE_CODE",
	"0-0:96.13.0": "TEXT_MESSAGE",
	"0-1:24.1.0":  "DEVICE_TYPE",
	"1-0:32.7.0":  "INSTANTANEOUS_VOLTAGE_L1",
	"1-0:52.7.0":  "INSTANTANEOUS_VOLTAGE_L2",
	"1-0:72.7.0":  "INSTANTANEOUS_VOLTAGE_L3",
	"1-0:31.7.0":  "INSTANTANEOUS_CURRENT_L1",
	"1-0:51.7.0":  "INSTANTANEOUS_CURRENT_L2",
	"1-0:71.7.0":  "INSTANTANEOUS_CURRENT_L3",
	"1-0:21.7.0":  "INSTANTANEOUS_ACTIVE_POWER_L1_POSITIVE",
	"1-0:41.7.0":  "INSTANTANEOUS_ACTIVE_POWER_L2_POSITIVE",
	"1-0:61.7.0":  "INSTANTANEOUS_ACTIVE_POWER_L3_POSITIVE",
	"1-0:22.7.0":  "INSTANTANEOUS_ACTIVE_POWER_L1_NEGATIVE",
	"1-0:42.7.0":  "INSTANTANEOUS_ACTIVE_POWER_L2_NEGATIVE",
	"1-0:62.7.0":  "INSTANTANEOUS_ACTIVE_POWER_L3_NEGATIVE",
	"0-1:96.1.0":  "EQUIPMENT_IDENTIFIER_GAS",
	"0-1:24.2.1":  "HOURLY_GAS_METER_READING",
}

// FieldForOBIS returns the identifier for an OBIS reference. Unknown
// references are returned unchanged so they surface as unmapped fields.
func FieldForOBIS(obis string) string {
	if id, ok := obisFields[obis]; ok {
		return id
	}
	return obis
}
