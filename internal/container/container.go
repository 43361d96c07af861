// Package container publishes objects created by modules (tasks, sources)
// on the bus and translates between those objects and their object paths.
//
// Every container publishes under <namespace>/<basename>/<n>, where n grows
// monotonically and is never reused. Publishing an object which is already
// registered returns its existing path.
package container

import (
	"errors"
	"fmt"
	"strconv"
	"sync"

	"github.com/CZERTAINLY/Modulus/internal/bus"
)

var ErrNoNamespace = errors.New("container namespace is not set")

// WrapFunc builds the bus object published for obj at path.
type WrapFunc[T any] func(path string, obj T) bus.Object

// Releaser is implemented by published objects holding connections to the
// object they wrap. Release is called when the object is unpublished.
type Releaser interface {
	Release()
}

type Container[T comparable] struct {
	bus      *bus.Bus
	basename string
	wrap     WrapFunc[T]

	mx        sync.Mutex
	namespace bus.Namespace
	counter   int
	paths     map[T]string
	objects   map[string]T
	wrapped   map[string]bus.Object
}

func New[T comparable](b *bus.Bus, basename string, wrap WrapFunc[T]) *Container[T] {
	return &Container[T]{
		bus:      b,
		basename: basename,
		wrap:     wrap,
		paths:    make(map[T]string),
		objects:  make(map[string]T),
		wrapped:  make(map[string]bus.Object),
	}
}

// SetNamespace sets the namespace used by subsequent publications.
// Objects published earlier keep their paths.
func (c *Container[T]) SetNamespace(ns bus.Namespace) {
	c.mx.Lock()
	defer c.mx.Unlock()
	c.namespace = ns.Join()
}

// ToObjectPath publishes obj if needed and returns its path.
func (c *Container[T]) ToObjectPath(obj T) (string, error) {
	c.mx.Lock()
	defer c.mx.Unlock()
	return c.publish(obj)
}

// ToObjectPathList publishes objs and returns paths in the same order.
func (c *Container[T]) ToObjectPathList(objs []T) ([]string, error) {
	c.mx.Lock()
	defer c.mx.Unlock()
	ret := make([]string, 0, len(objs))
	for _, obj := range objs {
		path, err := c.publish(obj)
		if err != nil {
			return nil, err
		}
		ret = append(ret, path)
	}
	return ret, nil
}

// FromObjectPath returns the object registered at path.
func (c *Container[T]) FromObjectPath(path string) (T, error) {
	c.mx.Lock()
	defer c.mx.Unlock()
	obj, ok := c.objects[path]
	if !ok {
		var zero T
		return zero, fmt.Errorf("%w: %s", bus.ErrUnknownObject, path)
	}
	return obj, nil
}

func (c *Container[T]) FromObjectPathList(paths []string) ([]T, error) {
	ret := make([]T, 0, len(paths))
	for _, path := range paths {
		obj, err := c.FromObjectPath(path)
		if err != nil {
			return nil, err
		}
		ret = append(ret, obj)
	}
	return ret, nil
}

// Release unpublishes the object at path and releases its wrapper. Unknown
// paths are ignored.
func (c *Container[T]) Release(path string) {
	c.mx.Lock()
	defer c.mx.Unlock()
	obj, ok := c.objects[path]
	if !ok {
		return
	}
	w := c.wrapped[path]
	delete(c.objects, path)
	delete(c.paths, obj)
	delete(c.wrapped, path)
	c.bus.UnpublishObject(path)
	if r, ok := w.(Releaser); ok {
		r.Release()
	}
}

func (c *Container[T]) Len() int {
	c.mx.Lock()
	defer c.mx.Unlock()
	return len(c.objects)
}

func (c *Container[T]) publish(obj T) (string, error) {
	if path, ok := c.paths[obj]; ok {
		return path, nil
	}
	if len(c.namespace) == 0 {
		return "", ErrNoNamespace
	}

	c.counter++
	path := c.namespace.Join(c.basename, strconv.Itoa(c.counter)).ObjectPath()
	w := c.wrap(path, obj)
	if err := c.bus.PublishObject(path, w); err != nil {
		if r, ok := w.(Releaser); ok {
			r.Release()
		}
		return "", fmt.Errorf("publishing %s: %w", c.basename, err)
	}
	c.paths[obj] = path
	c.objects[path] = obj
	c.wrapped[path] = w
	return path, nil
}
