// Package influxdb provides InfluxDB connectivity for the Ascot gateway.
//
// It wraps the official influxdb-client-go v2 library with gateway-specific
// patterns for connection management, metric writing, and health monitoring.
//
// # Purpose
//
// This package handles time-series storage of gateway observability data:
//   - Command dispatch outcomes and latency
//   - Capability manifest fetch outcomes
//   - Device health transitions
//
// # Usage
//
//	cfg := config.InfluxDBConfig{
//	    Enabled: true,
//	    URL:     "http://localhost:8086",
//	    Token:   "your-token",
//	    Org:     "ascot",
//	    Bucket:  "gateway",
//	}
//
//	client, err := influxdb.Connect(cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	client.WriteDispatch("kitchen-light", "on", "ok", 42)
//
// # Thread Safety
//
// All methods are safe for concurrent use from multiple goroutines.
// The underlying write API uses non-blocking batched writes.
//
// # Error Handling
//
// Write operations are non-blocking and batch errors are surfaced via the
// SetOnError callback. Connection and health check errors are returned
// directly. The sink is optional: when disabled in config, Connect returns
// ErrDisabled and the caller simply skips the wiring.
package influxdb
