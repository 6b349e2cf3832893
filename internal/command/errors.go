package command

import "errors"

var (
	// ErrCommandNotFound is returned when a command ID does not exist
	// (or does not target the responding device).
	ErrCommandNotFound = errors.New("command: not found")

	// ErrAlreadyTerminal is returned when resolving a command that is
	// already completed or failed.
	ErrAlreadyTerminal = errors.New("command: already resolved")

	// ErrInvalidCommand is returned when command validation fails.
	ErrInvalidCommand = errors.New("command: invalid")

	// ErrInvalidStatus is returned for a resolution status other than
	// completed or failed.
	ErrInvalidStatus = errors.New("command: invalid status")
)
