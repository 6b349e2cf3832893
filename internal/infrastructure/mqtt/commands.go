package mqtt

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// commandTimeout bounds the store work done for one inbound command.
const commandTimeout = 10 * time.Second

// CommandRequest is the body published to {prefix}/{site}/commands/{deviceId}.
type CommandRequest struct {
	Command string          `json:"command"`
	Payload json.RawMessage `json:"payload,omitempty"`

	// CorrelationID is echoed in the reply so callers can match them up.
	CorrelationID string `json:"correlationId,omitempty"`
}

// CommandReply is published to {prefix}/{site}/commands/{deviceId}/reply.
type CommandReply struct {
	CorrelationID string `json:"correlationId,omitempty"`
	DeviceID      string `json:"deviceId"`
	CommandID     int64  `json:"commandId,omitempty"`
	Delivered     bool   `json:"delivered"`
	Error         string `json:"error,omitempty"`
}

// CommandFunc creates and routes one command for deviceID.
type CommandFunc func(ctx context.Context, deviceID string, req CommandRequest) (id int64, delivered bool, err error)

// ServeCommands subscribes to command requests for every device and
// hands each to fn. The outcome is published as a CommandReply.
func (c *Client) ServeCommands(fn CommandFunc) error {
	return c.subscribe(c.topics.CommandRequests(), func(topic string, payload []byte) error {
		deviceID, reply := handleCommand(c.topics, fn, topic, payload)
		if deviceID == "" {
			return fmt.Errorf("%w: topic %s", ErrInvalidTopic, topic)
		}
		body, err := json.Marshal(reply)
		if err != nil {
			return fmt.Errorf("encoding command reply: %w", err)
		}
		return c.publish(c.topics.CommandReply(deviceID), body, false)
	})
}

// handleCommand decodes one request and runs fn. It returns an empty
// deviceID when the topic is not a command request.
func handleCommand(topics Topics, fn CommandFunc, topic string, payload []byte) (string, CommandReply) {
	deviceID, ok := topics.DeviceFromCommand(topic)
	if !ok {
		return "", CommandReply{}
	}
	reply := CommandReply{DeviceID: deviceID}

	var req CommandRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		reply.Error = fmt.Errorf("%w: %w", ErrBadCommand, err).Error()
		return deviceID, reply
	}
	reply.CorrelationID = req.CorrelationID

	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()

	id, delivered, err := fn(ctx, deviceID, req)
	if err != nil {
		reply.Error = err.Error()
		return deviceID, reply
	}
	reply.CommandID = id
	reply.Delivered = delivered
	return deviceID, reply
}
