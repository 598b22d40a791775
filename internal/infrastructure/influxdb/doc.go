// Package influxdb records display telemetry in InfluxDB.
//
// It wraps the official influxdb-client-go v2 library. The bridge writes two
// measurements:
//
//	display_commands    one point per command (tags: display_id, mac_address,
//	                    command, result; fields: duration_ms, count)
//	display_connection  one point per connection-state change (tags:
//	                    display_id, mac_address, state; fields: connected,
//	                    retry_count)
//
// The client is optional: Connect returns ErrDisabled when influxdb.enabled
// is false, and the bridge runs without telemetry.
package influxdb
