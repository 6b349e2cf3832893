package mqtt

import "fmt"

// PublishEvent mirrors one relay event to {prefix}/{site}/events/{eventType}.
// Events are never retained: they describe a transition, not a state.
func (c *Client) PublishEvent(eventType string, payload []byte) error {
	if eventType == "" {
		return ErrInvalidTopic
	}
	return c.publish(c.topics.Event(eventType), payload, false)
}

func (c *Client) publish(topic string, payload []byte, retained bool) error {
	switch {
	case topic == "":
		return ErrInvalidTopic
	case len(payload) > maxPayload:
		return fmt.Errorf("%w: %d bytes", ErrPayloadTooLarge, len(payload))
	case !c.IsConnected():
		return ErrNotConnected
	}

	tok := c.conn.Publish(topic, c.qos, retained, payload)
	if !tok.WaitTimeout(publishTimeout) {
		return fmt.Errorf("%w: %s: no ack after %v", ErrPublishFailed, topic, publishTimeout)
	}
	if err := tok.Error(); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrPublishFailed, topic, err)
	}
	return nil
}

// subscribe routes topic to h and remembers the route for reconnects.
func (c *Client) subscribe(topic string, h MessageHandler) error {
	if topic == "" {
		return ErrInvalidTopic
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}

	tok := c.conn.Subscribe(topic, c.qos, c.dispatch(h))
	if !tok.WaitTimeout(publishTimeout) {
		return fmt.Errorf("%w: %s: no ack after %v", ErrSubscribeFailed, topic, publishTimeout)
	}
	if err := tok.Error(); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrSubscribeFailed, topic, err)
	}

	c.mu.Lock()
	c.routes[topic] = h
	c.mu.Unlock()
	return nil
}
