// Package influxdb records relay telemetry in InfluxDB v2.
//
// Measurements:
//
//   - device_status: one point per online/offline transition
//     (tag device_id, field online = 1 or 0)
//   - command_result: one point per resolved command
//     (tags device_id, command, status; fields count, latency_ms)
//
// Every point also carries the relay tag when a site ID is configured.
// Writes are batched and never block the relay; failures are reported
// through SetOnError.
//
//	client, err := influxdb.Connect(cfg.InfluxDB, cfg.Site.ID)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//	client.DeviceStatus("dev-1", true)
package influxdb
