// Package dsmr2mqtt bridges DSMR smart-meter telegrams onto a publish/subscribe bus.
//
// # Architecture
//
// The service is structured into several key packages:
//   - telegram: P1 frame reader producing raw telegrams
//   - mapper: static table from raw field identifiers to canonical topics
//   - accumulator: daily deltas, gas flow rate and day rollover
//   - persistence: durable JSON snapshot of the day-start baselines
//   - publisher: MQTT (and optional Kafka) delivery of (topic, payload) pairs
//   - database: optional history of closed days in Postgres or InfluxDB
//   - engine: the single loop tying all of the above together
//   - scheduler: periodic ticks so rollover happens without telegrams
//   - metrics, grpc: Prometheus collectors and the gRPC health service
//
// Key Features
//
//   - Canonical topics:
//     Every known telegram field is republished under
//     <root>/reading/*, <root>/meter-stats/* or <root>/consumption/gas/*.
//
//   - Daily consumption:
//     Cumulative tariff counters are turned into per-day deltas published
//     under <root>/day-consumption/*. Deltas reset once per calendar day.
//
//   - Restart safety:
//     Day-start baselines are stored in a snapshot file that is rewritten
//     atomically at every rollover and at shutdown.
//
// Example Usage
//
//	dsmr2mqtt --config config.yaml --mqtt-host broker.local --device /dev/ttyUSB0
package dsmr2mqtt
