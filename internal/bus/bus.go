// Package bus is the in-process message bus modules are published on.
//
// Objects are addressed by object paths and expose members through an
// explicit Call/Get dispatch, there is no reflection involved. Errors
// returned by objects are converted to *Error replies, so callers only see
// registered error names, never the original error values.
//
// Property changes and signals are pushed to subscribers as Messages. This is
// the remote half of the property notification; the local half is the
// signal package.
package bus

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/CZERTAINLY/Modulus/internal/signal"
)

// Object is anything which can be published on the bus.
type Object interface {
	InterfaceName() string
	Call(ctx context.Context, member string, args []any) (any, error)
	Get(ctx context.Context, property string) (any, error)
}

type MessageKind int

const (
	KindSignal MessageKind = iota
	KindPropertiesChanged
)

// Message is a notification pushed from an object to subscribers.
type Message struct {
	Kind      MessageKind
	Path      string
	Interface string
	Member    string
	Changed   map[string]any
	Body      []any
}

type Bus struct {
	mx       sync.RWMutex
	objects  map[string]Object
	services map[string]struct{}
	messages signal.Signal[Message]
}

func New() *Bus {
	return &Bus{
		objects:  make(map[string]Object),
		services: make(map[string]struct{}),
	}
}

// PublishObject makes obj reachable at path.
func (b *Bus) PublishObject(path string, obj Object) error {
	b.mx.Lock()
	defer b.mx.Unlock()
	if _, ok := b.objects[path]; ok {
		return fmt.Errorf("%w: %s", ErrObjectExists, path)
	}
	b.objects[path] = obj
	slog.Debug("object published", "path", path, "interface", obj.InterfaceName())
	return nil
}

// UnpublishObject removes the object at path. Unknown paths are ignored.
func (b *Bus) UnpublishObject(path string) {
	b.mx.Lock()
	defer b.mx.Unlock()
	delete(b.objects, path)
}

// RegisterService claims a service name.
func (b *Bus) RegisterService(name string) error {
	b.mx.Lock()
	defer b.mx.Unlock()
	if _, ok := b.services[name]; ok {
		return fmt.Errorf("%w: %s", ErrServiceExists, name)
	}
	b.services[name] = struct{}{}
	slog.Debug("service registered", "service", name)
	return nil
}

func (b *Bus) HasService(name string) bool {
	b.mx.RLock()
	defer b.mx.RUnlock()
	_, ok := b.services[name]
	return ok
}

// Paths returns the sorted paths of all published objects.
func (b *Bus) Paths() []string {
	b.mx.RLock()
	defer b.mx.RUnlock()
	ret := make([]string, 0, len(b.objects))
	for path := range b.objects {
		ret = append(ret, path)
	}
	sort.Strings(ret)
	return ret
}

func (b *Bus) object(path string) (Object, error) {
	b.mx.RLock()
	defer b.mx.RUnlock()
	obj, ok := b.objects[path]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownObject, path)
	}
	return obj, nil
}

// Call invokes member on the object at path. Calls are not serialized by
// the bus; objects guard their own state.
func (b *Bus) Call(ctx context.Context, path, member string, args ...any) (any, error) {
	obj, err := b.object(path)
	if err != nil {
		return nil, toRemoteError(err)
	}
	ret, err := obj.Call(ctx, member, args)
	if err != nil {
		slog.DebugContext(ctx, "call failed", "path", path, "member", member, "error", err)
		return nil, toRemoteError(err)
	}
	return ret, nil
}

// Get reads a property of the object at path.
func (b *Bus) Get(ctx context.Context, path, property string) (any, error) {
	obj, err := b.object(path)
	if err != nil {
		return nil, toRemoteError(err)
	}
	ret, err := obj.Get(ctx, property)
	if err != nil {
		return nil, toRemoteError(err)
	}
	return ret, nil
}

// Subscribe delivers every message to fn until ctx is done.
func (b *Bus) Subscribe(ctx context.Context, fn func(Message)) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if fn == nil {
		return invalidArgs("nil subscriber")
	}
	h := b.messages.Connect(fn)
	context.AfterFunc(ctx, func() { b.messages.Disconnect(h) })
	return nil
}

// EmitPropertiesChanged notifies subscribers about new property values.
func (b *Bus) EmitPropertiesChanged(path, iface string, changed map[string]any) {
	b.messages.Emit(Message{
		Kind:      KindPropertiesChanged,
		Path:      path,
		Interface: iface,
		Member:    "PropertiesChanged",
		Changed:   changed,
	})
}

// EmitSignal notifies subscribers about a signal of the object at path.
func (b *Bus) EmitSignal(path, iface, member string, body ...any) {
	b.messages.Emit(Message{
		Kind:      KindSignal,
		Path:      path,
		Interface: iface,
		Member:    member,
		Body:      body,
	})
}
