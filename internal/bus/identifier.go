package bus

import "strings"

// Namespace is a dotted name space shared by service names, interface names
// and object paths, e.g. com.czertainly.Modulus.Modules.Security maps to
// /com/czertainly/Modulus/Modules/Security.
type Namespace []string

// Join returns a new namespace extended by names.
func (n Namespace) Join(names ...string) Namespace {
	out := make(Namespace, 0, len(n)+len(names))
	out = append(out, n...)
	for _, name := range names {
		if name != "" {
			out = append(out, name)
		}
	}
	return out
}

func (n Namespace) ObjectPath() string {
	return "/" + strings.Join(n, "/")
}

func (n Namespace) InterfaceName() string {
	return strings.Join(n, ".")
}

func (n Namespace) ServiceName() string {
	return strings.Join(n, ".")
}

func (n Namespace) String() string { return n.InterfaceName() }

// ObjectIdentifier names an object published within a namespace.
// An empty Basename identifies the namespace object itself.
type ObjectIdentifier struct {
	Namespace Namespace
	Basename  string
}

func (o ObjectIdentifier) full() Namespace {
	return o.Namespace.Join(o.Basename)
}

func (o ObjectIdentifier) ObjectPath() string { return o.full().ObjectPath() }

func (o ObjectIdentifier) InterfaceName() string { return o.full().InterfaceName() }

// ServiceIdentifier names a module service: its bus name and its main object.
type ServiceIdentifier struct {
	Namespace Namespace
}

func (s ServiceIdentifier) ServiceName() string { return s.Namespace.ServiceName() }

func (s ServiceIdentifier) ObjectPath() string { return s.Namespace.ObjectPath() }

func (s ServiceIdentifier) InterfaceName() string { return s.Namespace.InterfaceName() }
