// Package mqtt connects the relay to an MQTT broker.
//
// Every broadcast the relay sends to its WebSocket connections is also
// published, unchanged, on {prefix}/{site}/events/{message type}. The
// relay's own liveness is a retained message on {prefix}/{site}/system/status,
// backed by a last will so a crashed relay still shows as offline.
//
// When command intake is enabled, upstream systems may publish a
// CommandRequest to {prefix}/{site}/commands/{deviceId}. The relay stores
// and routes it exactly like a command created over HTTP and answers on
// .../commands/{deviceId}/reply.
//
//	client, err := mqtt.Connect(cfg.MQTT, cfg.Site.ID)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//	client.PublishEvent("DEVICE_REMOVED", body)
package mqtt
