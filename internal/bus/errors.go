package bus

import (
	"errors"
	"fmt"
	"sync"
)

var (
	ErrUnknownObject  = errors.New("unknown object")
	ErrUnknownMember  = errors.New("unknown member")
	ErrInvalidArgs    = errors.New("invalid arguments")
	ErrObjectExists   = errors.New("object already published")
	ErrServiceExists  = errors.New("service name already registered")
	ErrPropertyAccess = errors.New("property is not writable")
)

// DefaultErrorName is used for errors without a registered name.
var DefaultErrorName = ModulusNamespace.Join("Error").InterfaceName()

// Error is the reply of a failed remote call. It carries the registered
// error name and the message only; the original error value does not cross
// the bus. Unwrap returns the sentinel registered for Name, so callers can
// still use errors.Is on well known errors.
type Error struct {
	Name    string
	Message string
	kind    error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	return e.Name + ": " + e.Message
}

func (e *Error) Unwrap() error { return e.kind }

type errorMapping struct {
	name string
	kind error
}

var (
	registryMx sync.RWMutex
	registry   []errorMapping
)

func init() {
	RegisterError(ModulusNamespace.Join("Error", "UnknownObject").InterfaceName(), ErrUnknownObject)
	RegisterError(ModulusNamespace.Join("Error", "UnknownMember").InterfaceName(), ErrUnknownMember)
	RegisterError(ModulusNamespace.Join("Error", "InvalidArgs").InterfaceName(), ErrInvalidArgs)
	RegisterError(ModulusNamespace.Join("Error", "PropertyAccess").InterfaceName(), ErrPropertyAccess)
}

// RegisterError maps errors matching kind (errors.Is) to a remote error name.
// Registering the same name again replaces the previous mapping.
func RegisterError(name string, kind error) {
	registryMx.Lock()
	defer registryMx.Unlock()
	for i, m := range registry {
		if m.name == name {
			registry[i].kind = kind
			return
		}
	}
	registry = append(registry, errorMapping{name: name, kind: kind})
}

// ErrorName returns the remote name of err.
func ErrorName(err error) string {
	registryMx.RLock()
	defer registryMx.RUnlock()
	for _, m := range registry {
		if errors.Is(err, m.kind) {
			return m.name
		}
	}
	return DefaultErrorName
}

func toRemoteError(err error) error {
	if err == nil {
		return nil
	}
	var remote *Error
	if errors.As(err, &remote) {
		return remote
	}
	name := ErrorName(err)
	return &Error{
		Name:    name,
		Message: err.Error(),
		kind:    kindOf(name),
	}
}

func kindOf(name string) error {
	registryMx.RLock()
	defer registryMx.RUnlock()
	for _, m := range registry {
		if m.name == name {
			return m.kind
		}
	}
	return nil
}

func invalidArgs(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidArgs, fmt.Sprintf(format, args...))
}
