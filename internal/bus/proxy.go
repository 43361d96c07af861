package bus

import (
	"context"
	"fmt"
)

// Proxy is a client side handle of a published object.
type Proxy struct {
	bus  *Bus
	path string
}

func NewProxy(b *Bus, path string) Proxy {
	return Proxy{bus: b, path: path}
}

func (p Proxy) Path() string { return p.path }

func (p Proxy) Call(ctx context.Context, member string, args ...any) (any, error) {
	return p.bus.Call(ctx, p.path, member, args...)
}

func (p Proxy) Get(ctx context.Context, property string) (any, error) {
	return p.bus.Get(ctx, p.path, property)
}

// CallAs calls member and converts the reply to T.
func CallAs[T any](ctx context.Context, p Proxy, member string, args ...any) (T, error) {
	var zero T
	v, err := p.Call(ctx, member, args...)
	if err != nil {
		return zero, err
	}
	return as[T](v, p.path, member)
}

// GetAs reads property and converts the value to T.
func GetAs[T any](ctx context.Context, p Proxy, property string) (T, error) {
	var zero T
	v, err := p.Get(ctx, property)
	if err != nil {
		return zero, err
	}
	return as[T](v, p.path, property)
}

func as[T any](v any, path, member string) (T, error) {
	var zero T
	if v == nil {
		return zero, nil
	}
	ret, ok := v.(T)
	if !ok {
		return zero, fmt.Errorf("%s.%s: unexpected reply type %T", path, member, v)
	}
	return ret, nil
}

// Arg returns the i-th call argument as T, or ErrInvalidArgs.
func Arg[T any](args []any, i int) (T, error) {
	var zero T
	if i >= len(args) {
		return zero, invalidArgs("missing argument %d", i)
	}
	v, ok := args[i].(T)
	if !ok {
		return zero, invalidArgs("argument %d: expected %T, got %T", i, zero, args[i])
	}
	return v, nil
}
