package security

import (
	"errors"
	"fmt"
)

var ErrInvalidSELinuxMode = errors.New("invalid SELinux mode")

// SELinuxMode is the state of SELinux on the installed system.
type SELinuxMode int32

const (
	// SELinuxDefault keeps the configuration of the installed system.
	SELinuxDefault    SELinuxMode = -1
	SELinuxDisabled   SELinuxMode = 0
	SELinuxEnforcing  SELinuxMode = 1
	SELinuxPermissive SELinuxMode = 2
)

func (m SELinuxMode) String() string {
	switch m {
	case SELinuxDefault:
		return "default"
	case SELinuxDisabled:
		return "disabled"
	case SELinuxEnforcing:
		return "enforcing"
	case SELinuxPermissive:
		return "permissive"
	default:
		return fmt.Sprintf("SELinuxMode(%d)", int32(m))
	}
}

func (m SELinuxMode) Valid() bool {
	return m >= SELinuxDefault && m <= SELinuxPermissive
}

// ParseSELinuxMode is the inverse of String.
func ParseSELinuxMode(s string) (SELinuxMode, error) {
	for m := SELinuxDefault; m <= SELinuxPermissive; m++ {
		if m.String() == s {
			return m, nil
		}
	}
	return SELinuxDefault, fmt.Errorf("%w: %q", ErrInvalidSELinuxMode, s)
}
