package display

import (
	"fmt"
	"strings"
)

const (
	maxNicknameLength   = 100
	maxIdentifierLength = 128
)

// Validate checks the fields every persisted display must satisfy.
func (d *Display) Validate() error {
	if strings.TrimSpace(d.ID) == "" {
		return fmt.Errorf("%w: id is required", ErrInvalid)
	}
	if strings.TrimSpace(d.DeviceIdentifier) == "" {
		return fmt.Errorf("%w: device identifier is required", ErrInvalid)
	}
	if len(d.DeviceIdentifier) > maxIdentifierLength {
		return fmt.Errorf("%w: device identifier exceeds %d characters", ErrInvalid, maxIdentifierLength)
	}
	if strings.TrimSpace(d.Nickname) == "" {
		return fmt.Errorf("%w: nickname is required", ErrInvalid)
	}
	if len(d.Nickname) > maxNicknameLength {
		return fmt.Errorf("%w: nickname exceeds %d characters", ErrInvalid, maxNicknameLength)
	}
	if !d.Status.IsValid() {
		return fmt.Errorf("%w: unknown status %q", ErrInvalid, d.Status)
	}
	if d.Credential != "" && d.OrganizationID == "" {
		return fmt.Errorf("%w: a paired display must belong to an organisation", ErrInvalid)
	}
	return nil
}
