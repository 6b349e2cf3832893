package relay

import (
	"errors"
	"net"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Transport is the send side of one connection.
type Transport interface {
	// Send enqueues one frame. It never blocks longer than the configured
	// send timeout and returns ErrTransportClosed or ErrSendBufferFull when
	// the frame was not accepted.
	Send(data []byte) error

	// IsOpen reports whether the connection can still accept frames.
	IsOpen() bool

	// Close shuts the connection down. Safe to call more than once and
	// from any goroutine.
	Close()
}

// TransportConfig bounds a WebSocket connection's resources.
type TransportConfig struct {
	SendBuffer     int
	SendTimeout    time.Duration // 0 drops immediately when the buffer is full
	MaxMessageSize int64
	PingInterval   time.Duration
	PongTimeout    time.Duration
	WriteTimeout   time.Duration
}

// Transport defaults.
const (
	defaultSendBuffer     = 256
	defaultMaxMessageSize = 64 * 1024
	defaultPingInterval   = 30 * time.Second
	defaultPongTimeout    = 10 * time.Second
	defaultWriteTimeout   = 10 * time.Second
)

func (c TransportConfig) withDefaults() TransportConfig {
	if c.SendBuffer <= 0 {
		c.SendBuffer = defaultSendBuffer
	}
	if c.MaxMessageSize <= 0 {
		c.MaxMessageSize = defaultMaxMessageSize
	}
	if c.PingInterval <= 0 {
		c.PingInterval = defaultPingInterval
	}
	if c.PongTimeout <= 0 {
		c.PongTimeout = defaultPongTimeout
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = defaultWriteTimeout
	}
	return c
}

// WSTransport is a gorilla/websocket connection with a bounded outbound
// queue drained by a dedicated write pump.
type WSTransport struct {
	conn *websocket.Conn
	cfg  TransportConfig

	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once
}

// NewWSTransport wraps an upgraded connection. Call Run to start it.
func NewWSTransport(conn *websocket.Conn, cfg TransportConfig) *WSTransport {
	cfg = cfg.withDefaults()
	return &WSTransport{
		conn: conn,
		cfg:  cfg,
		send: make(chan []byte, cfg.SendBuffer),
		done: make(chan struct{}),
	}
}

// Send enqueues data for the write pump.
// The send channel is never closed; done signals shutdown instead, so a
// Send racing Close cannot panic.
func (t *WSTransport) Send(data []byte) error {
	select {
	case <-t.done:
		return ErrTransportClosed
	default:
	}

	select {
	case t.send <- data:
		return nil
	default:
	}

	if t.cfg.SendTimeout <= 0 {
		return ErrSendBufferFull
	}

	timer := time.NewTimer(t.cfg.SendTimeout)
	defer timer.Stop()
	select {
	case t.send <- data:
		return nil
	case <-t.done:
		return ErrTransportClosed
	case <-timer.C:
		return ErrSendBufferFull
	}
}

// IsOpen reports whether Close has not been called yet.
func (t *WSTransport) IsOpen() bool {
	select {
	case <-t.done:
		return false
	default:
		return true
	}
}

// Close stops the write pump, which sends a close frame and closes the
// socket; the read pump then fails and Run returns.
func (t *WSTransport) Close() {
	t.closeOnce.Do(func() {
		close(t.done)
	})
}

// Run drives the connection until it ends. The write pump runs on its own
// goroutine; the read pump runs on the caller's and hands every data frame
// to onMessage. Run returns the error that ended the read loop.
func (t *WSTransport) Run(onMessage func([]byte)) error {
	go t.writePump()
	err := t.readPump(onMessage)
	t.Close()
	return err
}

func (t *WSTransport) readPump(onMessage func([]byte)) error {
	defer t.conn.Close()

	t.conn.SetReadLimit(t.cfg.MaxMessageSize)
	wait := t.cfg.PingInterval + t.cfg.PongTimeout
	//nolint:errcheck // Best-effort deadline on connection setup
	t.conn.SetReadDeadline(time.Now().Add(wait))
	t.conn.SetPongHandler(func(string) error {
		return t.conn.SetReadDeadline(time.Now().Add(wait))
	})

	for {
		_, message, err := t.conn.ReadMessage()
		if err != nil {
			return err
		}
		// Any client frame counts as liveness, not just pongs.
		//nolint:errcheck // Best-effort deadline reset
		t.conn.SetReadDeadline(time.Now().Add(wait))
		onMessage(message)
	}
}

func (t *WSTransport) writePump() {
	ticker := time.NewTicker(t.cfg.PingInterval)
	defer func() {
		ticker.Stop()
		t.conn.Close()
		t.Close()
	}()

	for {
		select {
		case <-t.done:
			//nolint:errcheck // Best-effort close frame
			t.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(t.cfg.WriteTimeout))
			return
		case message := <-t.send:
			//nolint:errcheck // Best-effort deadline; write error caught below
			t.conn.SetWriteDeadline(time.Now().Add(t.cfg.WriteTimeout))
			if err := t.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			//nolint:errcheck // Best-effort deadline; ping error caught below
			t.conn.SetWriteDeadline(time.Now().Add(t.cfg.WriteTimeout))
			if err := t.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// isGracefulClose reports whether a read error is an orderly shutdown
// rather than a transport fault.
func isGracefulClose(err error) bool {
	return err == nil ||
		websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) ||
		errors.Is(err, net.ErrClosed)
}
