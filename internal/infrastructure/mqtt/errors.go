package mqtt

import "errors"

var (
	// ErrNotConnected means the broker link is down. Callers treat it as
	// transient: the client reconnects on its own.
	ErrNotConnected = errors.New("mqtt: not connected")

	// ErrConnectionFailed wraps the reason the first dial did not succeed.
	ErrConnectionFailed = errors.New("mqtt: connection failed")

	ErrPublishFailed   = errors.New("mqtt: publish failed")
	ErrSubscribeFailed = errors.New("mqtt: subscribe failed")

	// ErrInvalidTopic is returned for an empty topic or event type.
	ErrInvalidTopic = errors.New("mqtt: invalid topic")

	// ErrPayloadTooLarge is returned before anything is sent to the broker.
	ErrPayloadTooLarge = errors.New("mqtt: payload too large")

	// ErrBadCommand marks a command request that could not be decoded.
	ErrBadCommand = errors.New("mqtt: malformed command request")
)
