package mqtt

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/nerrad567/relayhub/internal/infrastructure/config"
)

// Logger is the subset of logging.Logger the client reports through.
type Logger interface {
	Error(msg string, args ...any)
	Warn(msg string, args ...any)
}

// MessageHandler processes one inbound message. A returned error is logged.
type MessageHandler func(topic string, payload []byte) error

// Client is the relay's link to the MQTT broker. It mirrors events,
// maintains a retained presence message and, when asked, accepts
// commands from upstream systems.
//
// All methods are safe for concurrent use.
type Client struct {
	conn     pahomqtt.Client
	topics   Topics
	qos      byte
	clientID string
	online   atomic.Bool

	mu     sync.RWMutex
	routes map[string]MessageHandler // restored after every reconnect
	onUp   func()
	onDown func(error)
	log    Logger
}

// Connect dials the broker and waits for the first session. The broker
// is reconnected in the background after that.
func Connect(cfg config.MQTTConfig, siteID string) (*Client, error) {
	c := &Client{
		topics:   NewTopics(cfg.TopicPrefix, siteID),
		qos:      byte(cfg.QoS), //nolint:gosec // G115: validated by config
		clientID: cfg.Broker.ClientID,
		routes:   make(map[string]MessageHandler),
	}

	opts := newClientOptions(cfg, c.topics).
		SetOnConnectHandler(func(pahomqtt.Client) { c.sessionUp() }).
		SetConnectionLostHandler(func(_ pahomqtt.Client, err error) { c.sessionDown(err) }).
		SetReconnectingHandler(func(pahomqtt.Client, *pahomqtt.ClientOptions) {
			c.warn("MQTT reconnecting", "broker", cfg.Broker.Host)
		})

	c.conn = pahomqtt.NewClient(opts)
	tok := c.conn.Connect()
	if !tok.WaitTimeout(connectTimeout) {
		c.conn.Disconnect(0)
		return nil, fmt.Errorf("%w: no session after %v", ErrConnectionFailed, connectTimeout)
	}
	if err := tok.Error(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}

	// The connect handler runs asynchronously; report connected now.
	c.online.Store(true)
	return c, nil
}

func (c *Client) sessionUp() {
	c.online.Store(true)

	c.mu.RLock()
	for topic, h := range c.routes {
		c.conn.Subscribe(topic, c.qos, c.dispatch(h))
	}
	up := c.onUp
	c.mu.RUnlock()

	c.conn.Publish(c.topics.Status(), presenceQoS, true,
		presence{State: "online", ClientID: c.clientID}.encode())

	if up != nil {
		up()
	}
}

func (c *Client) sessionDown(err error) {
	c.online.Store(false)

	c.mu.RLock()
	down := c.onDown
	c.mu.RUnlock()
	if down != nil {
		down(err)
	}
}

// Close replaces the retained presence with a graceful offline message
// and disconnects.
func (c *Client) Close() error {
	if c.conn == nil {
		return nil
	}
	if c.IsConnected() {
		off := presence{State: "offline", ClientID: c.clientID, Reason: "shutdown"}
		c.conn.Publish(c.topics.Status(), presenceQoS, true, off.encode()).WaitTimeout(publishTimeout)
	}
	c.conn.Disconnect(quiesceMillis)
	c.online.Store(false)
	return nil
}

// HealthCheck reports ErrNotConnected while the broker link is down.
func (c *Client) HealthCheck(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("mqtt health check: %w", err)
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}
	return nil
}

// IsConnected reports the last known link state.
func (c *Client) IsConnected() bool {
	return c.conn != nil && c.online.Load() && c.conn.IsConnected()
}

// Topics returns the topic builder for this relay instance.
func (c *Client) Topics() Topics {
	return c.topics
}

// SetOnConnect registers fn to run after every (re)connect.
func (c *Client) SetOnConnect(fn func()) {
	c.mu.Lock()
	c.onUp = fn
	c.mu.Unlock()
}

// SetOnDisconnect registers fn to run when the link drops.
func (c *Client) SetOnDisconnect(fn func(err error)) {
	c.mu.Lock()
	c.onDown = fn
	c.mu.Unlock()
}

func (c *Client) SetLogger(l Logger) {
	c.mu.Lock()
	c.log = l
	c.mu.Unlock()
}

func (c *Client) logger() Logger {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.log
}

func (c *Client) warn(msg string, args ...any) {
	if l := c.logger(); l != nil {
		l.Warn(msg, args...)
	}
}

// dispatch adapts h to paho, logging its errors and containing panics.
func (c *Client) dispatch(h MessageHandler) pahomqtt.MessageHandler {
	return func(_ pahomqtt.Client, msg pahomqtt.Message) {
		defer func() {
			if r := recover(); r != nil {
				if l := c.logger(); l != nil {
					l.Error("MQTT handler panicked", "topic", msg.Topic(), "panic", r)
				}
			}
		}()
		if err := h(msg.Topic(), msg.Payload()); err != nil {
			c.warn("MQTT handler failed", "topic", msg.Topic(), "error", err)
		}
	}
}
