package relay

import "errors"

var (
	// ErrTransportClosed is returned when sending on a closed connection.
	ErrTransportClosed = errors.New("relay: transport closed")

	// ErrSendBufferFull is returned when a connection's outbound queue
	// stayed full for the whole send timeout.
	ErrSendBufferFull = errors.New("relay: send buffer full")

	// ErrMalformedMessage is returned for inbound frames that are not valid
	// JSON objects or miss required fields.
	ErrMalformedMessage = errors.New("relay: malformed message")

	// ErrUnknownMessageType is returned for inbound frames with an
	// unrecognised type.
	ErrUnknownMessageType = errors.New("relay: unknown message type")
)
