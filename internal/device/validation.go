package device

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/google/uuid"
)

const (
	maxDeviceIDLength = 64
	maxNameLength     = 100

	// maxInfoKeys bounds a single DEVICE_INFO payload.
	maxInfoKeys = 100

	registrationCodeLength = 8
)

var deviceIDRegex = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._:-]*$`)

// ValidateDeviceID checks an agent-supplied device identity.
func ValidateDeviceID(id string) error {
	if id == "" {
		return fmt.Errorf("%w: device_id is required", ErrInvalidDevice)
	}
	if len(id) > maxDeviceIDLength {
		return fmt.Errorf("%w: device_id exceeds %d characters", ErrInvalidDevice, maxDeviceIDLength)
	}
	if !deviceIDRegex.MatchString(id) {
		return fmt.Errorf("%w: device_id %q contains invalid characters", ErrInvalidDevice, id)
	}
	return nil
}

// ValidateDevice checks a device before it is created.
func ValidateDevice(d *Device) error {
	if err := ValidateDeviceID(d.DeviceID); err != nil {
		return err
	}
	if len(strings.TrimSpace(d.Name)) > maxNameLength {
		return fmt.Errorf("%w: name exceeds %d characters", ErrInvalidDevice, maxNameLength)
	}
	if d.Status != "" && !d.Status.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidStatus, d.Status)
	}
	return ValidateInfo(d.Info)
}

// ValidateInfo bounds the size of agent-reported metadata.
func ValidateInfo(info Info) error {
	if len(info) > maxInfoKeys {
		return fmt.Errorf("%w: info has %d keys, max %d", ErrInvalidDevice, len(info), maxInfoKeys)
	}
	return nil
}

// GenerateDeviceID returns a new random device identity.
func GenerateDeviceID() string {
	return "dev-" + uuid.NewString()[:8]
}

// GenerateRegistrationCode returns a short, upper-case, random code.
func GenerateRegistrationCode() string {
	return strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:registrationCodeLength])
}
