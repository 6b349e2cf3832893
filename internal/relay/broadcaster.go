package relay

import (
	"encoding/json"
	"sync"

	"github.com/nerrad567/relayhub/internal/infrastructure/logging"
)

// EventSink receives a copy of every broadcast, e.g. an MQTT mirror.
type EventSink interface {
	PublishEvent(eventType string, payload []byte) error
}

// Broadcaster fans messages out to every registered connection.
type Broadcaster struct {
	registry *Registry
	logger   *logging.Logger
	metrics  *Metrics
	mirror   *eventMirror
}

// newBroadcaster creates a broadcaster over registry. mirror may be nil.
func newBroadcaster(registry *Registry, logger *logging.Logger, metrics *Metrics, mirror *eventMirror) *Broadcaster {
	return &Broadcaster{registry: registry, logger: logger, metrics: metrics, mirror: mirror}
}

// Broadcast marshals msg once and enqueues it on every open connection
// except exclude. Per-connection failures are logged and skipped; the
// broadcaster never unregisters a connection. It returns how many
// connections accepted the frame.
func (b *Broadcaster) Broadcast(msg Outbound, exclude Handle) int {
	data, err := json.Marshal(msg)
	if err != nil {
		b.logger.Error("failed to marshal broadcast message", "type", msg.MessageType(), "error", err)
		return 0
	}

	sent := 0
	for _, peer := range b.registry.All() {
		if peer.Handle == exclude || !peer.Transport.IsOpen() {
			continue
		}
		if err := peer.Transport.Send(data); err != nil {
			b.metrics.sendFailed("broadcast")
			b.logger.Debug("broadcast send failed", "handle", peer.Handle, "type", msg.MessageType(), "error", err)
			continue
		}
		sent++
	}

	b.metrics.broadcast(sent)
	b.logger.Debug("broadcast sent", "type", msg.MessageType(), "recipients", sent)

	b.mirror.publish(string(msg.MessageType()), data)
	return sent
}

// ─── Event mirror ───────────────────────────────────────────────────

type mirroredEvent struct {
	eventType string
	payload   []byte
}

// eventMirror forwards broadcasts to an EventSink on its own goroutine so
// a slow broker never stalls a broadcast. Events are dropped when the
// queue is full.
type eventMirror struct {
	sink   EventSink
	logger *logging.Logger
	queue  chan mirroredEvent

	// mu orders enqueues against stop: once closed is set nothing more
	// reaches the queue, and run drains everything queued before it.
	mu       sync.RWMutex
	closed   bool
	stopOnce sync.Once
	stopped  chan struct{}
	done     chan struct{}
}

const defaultMirrorBuffer = 1024

func newEventMirror(sink EventSink, buffer int, logger *logging.Logger) *eventMirror {
	if buffer <= 0 {
		buffer = defaultMirrorBuffer
	}
	m := &eventMirror{
		sink:    sink,
		logger:  logger,
		queue:   make(chan mirroredEvent, buffer),
		stopped: make(chan struct{}),
		done:    make(chan struct{}),
	}
	go m.run()
	return m
}

func (m *eventMirror) publish(eventType string, payload []byte) {
	if m == nil {
		return
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		m.logger.Warn("event mirror stopped, dropping event", "type", eventType)
		return
	}
	select {
	case m.queue <- mirroredEvent{eventType: eventType, payload: payload}:
	default:
		m.logger.Warn("event mirror queue full, dropping event", "type", eventType)
	}
}

func (m *eventMirror) run() {
	defer close(m.done)
	for {
		select {
		case ev := <-m.queue:
			m.forward(ev)
		case <-m.stopped:
			// Drain what was queued before the stop.
			for {
				select {
				case ev := <-m.queue:
					m.forward(ev)
				default:
					return
				}
			}
		}
	}
}

func (m *eventMirror) forward(ev mirroredEvent) {
	if err := m.sink.PublishEvent(ev.eventType, ev.payload); err != nil {
		m.logger.Warn("event mirror publish failed", "type", ev.eventType, "error", err)
	}
}

// stop flushes queued events and waits for the forwarding goroutine.
func (m *eventMirror) stop() {
	if m == nil {
		return
	}
	m.stopOnce.Do(func() {
		m.mu.Lock()
		m.closed = true
		m.mu.Unlock()
		close(m.stopped)
	})
	<-m.done
}
