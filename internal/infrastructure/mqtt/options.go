package mqtt

import (
	"crypto/tls"
	"encoding/json"
	"fmt"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/nerrad567/relayhub/internal/infrastructure/config"
)

const (
	connectTimeout = 10 * time.Second
	publishTimeout = 5 * time.Second
	keepAlive      = 60 * time.Second

	// quiesceMillis is how long Disconnect waits for in-flight work.
	quiesceMillis = 1000

	// maxPayload matches the default message size limit of common brokers.
	maxPayload = 1 << 20

	// presenceQoS is fixed at 1 so the broker keeps retrying the status
	// message even when events go out at QoS 0.
	presenceQoS = 1
)

// newClientOptions translates the mqtt config section into paho options,
// including the last will that marks this relay offline if it vanishes.
func newClientOptions(cfg config.MQTTConfig, topics Topics) *pahomqtt.ClientOptions {
	scheme := "tcp"
	if cfg.Broker.TLS {
		scheme = "ssl"
	}

	opts := pahomqtt.NewClientOptions().
		AddBroker(fmt.Sprintf("%s://%s:%d", scheme, cfg.Broker.Host, cfg.Broker.Port)).
		SetClientID(cfg.Broker.ClientID).
		SetCleanSession(true).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(time.Duration(cfg.Reconnect.InitialDelay) * time.Second).
		SetMaxReconnectInterval(time.Duration(cfg.Reconnect.MaxDelay) * time.Second).
		SetConnectTimeout(connectTimeout).
		SetKeepAlive(keepAlive).
		// Handlers publish replies and wait for the ack, which would
		// deadlock paho's ordered delivery goroutine.
		SetOrderMatters(false)

	if cfg.Auth.Username != "" {
		opts.SetUsername(cfg.Auth.Username)
		opts.SetPassword(cfg.Auth.Password)
	}
	if cfg.Broker.TLS {
		opts.SetTLSConfig(&tls.Config{MinVersion: tls.VersionTLS12})
	}

	will := presence{State: "offline", ClientID: cfg.Broker.ClientID, Reason: "connection_lost"}
	opts.SetBinaryWill(topics.Status(), will.encode(), presenceQoS, true)
	return opts
}

// presence is the retained body of the status topic.
type presence struct {
	State     string    `json:"status"`
	ClientID  string    `json:"client_id"`
	Reason    string    `json:"reason,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

func (p presence) encode() []byte {
	if p.Timestamp.IsZero() {
		p.Timestamp = time.Now().UTC()
	}
	b, _ := json.Marshal(p) //nolint:errchkjson // fixed struct of strings and a time
	return b
}
