package storage

import (
	_ "embed"
)

//go:embed schema.sql
var initSchemaSQL string

const (
	insertSessionSQL = `
INSERT INTO sessions (id,
                      start_time,
                      vehicle_type,
                      connection,
                      config)
VALUES (?, ?, ?, ?, ?)`

	endSessionSQL = `
UPDATE sessions
SET end_time = ?
WHERE id = ?
  AND end_time IS NULL`

	selectSessionSQL = `
SELECT id,
       start_time,
       end_time,
       vehicle_type,
       connection,
       config
FROM sessions
WHERE id = ?`

	selectSessionsSQL = `
SELECT id,
       start_time,
       end_time,
       vehicle_type,
       connection,
       config
FROM sessions
ORDER BY start_time`

	insertTelemetrySQL = `
INSERT INTO telemetry (session_id,
                       timestamp,
                       latitude,
                       longitude,
                       altitude,
                       absolute_altitude,
                       roll,
                       pitch,
                       yaw,
                       heading,
                       speed,
                       airspeed,
                       climb_rate,
                       throttle,
                       battery_voltage,
                       battery_remaining,
                       satellites,
                       fix_type,
                       flight_mode,
                       armed,
                       radio_rssi)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	insertEventSQL = `
INSERT INTO events (session_id,
                    timestamp,
                    level,
                    message)
VALUES (?, ?, ?, ?)`

	selectEventsSQL = `
SELECT timestamp,
       level,
       message
FROM events
WHERE session_id = ?
ORDER BY timestamp, id`

	selectTrackBoundsSQL = `
SELECT MIN(timestamp),
       MAX(timestamp)
FROM telemetry
WHERE session_id = ?`

	selectTrackSQL = `
SELECT timestamp,
       latitude,
       longitude,
       altitude,
       absolute_altitude,
       roll,
       pitch,
       yaw,
       heading,
       speed,
       airspeed,
       climb_rate,
       throttle,
       battery_voltage,
       battery_remaining,
       satellites,
       fix_type,
       flight_mode,
       armed,
       radio_rssi
FROM telemetry
WHERE session_id = ?
  AND timestamp BETWEEN ? AND ?
ORDER BY timestamp, id`
)
