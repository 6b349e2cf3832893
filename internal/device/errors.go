package device

import "errors"

// Domain errors for the device package.
//
// These errors can be checked using errors.Is() for error handling:
//
//	if errors.Is(err, device.ErrDeviceNotFound) {
//	    // handle not found case
//	}
var (
	// ErrDeviceNotFound is returned when a device ID does not exist.
	ErrDeviceNotFound = errors.New("device: not found")

	// ErrDeviceExists is returned when creating a device whose DeviceID is taken.
	ErrDeviceExists = errors.New("device: already exists")

	// ErrInvalidDevice is returned when device validation fails.
	ErrInvalidDevice = errors.New("device: invalid")

	// ErrInvalidStatus is returned for a status other than online or offline.
	ErrInvalidStatus = errors.New("device: invalid status")

	// ErrCodeNotFound is returned when a registration code does not exist.
	ErrCodeNotFound = errors.New("device: registration code not found")

	// ErrCodeUsed is returned when a registration code was already redeemed.
	ErrCodeUsed = errors.New("device: registration code already used")

	// ErrCodeExpired is returned when a registration code is past its expiry.
	ErrCodeExpired = errors.New("device: registration code expired")
)
