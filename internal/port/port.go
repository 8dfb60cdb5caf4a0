// Package port implements typed, named data-flow slots on behaviour tree
// nodes. An input port reads the cached value of at most one upstream output
// port and falls back to its locally configured default.
package port

import (
	"errors"
	"fmt"
	"reflect"
)

var (
	ErrTypeMismatch     = errors.New("port: output type is not assignable to input type")
	ErrAlreadyConnected = errors.New("port: input already has an upstream connection")
	ErrDirection        = errors.New("port: connection must run from an output to an input")
	ErrNotFound         = errors.New("port: not found")
	ErrDuplicate        = errors.New("port: duplicate port name")
	ErrInvalid          = errors.New("port: invalid descriptor")
)

// ConnectError describes a rejected connection.
type ConnectError struct {
	From Link
	To   Link
	Err  error
}

func (e *ConnectError) Error() string {
	return fmt.Sprintf("connect %s.%s -> %s.%s: %v", e.From.Node, e.From.Port, e.To.Node, e.To.Port, e.Err)
}

func (e *ConnectError) Unwrap() error {
	return e.Err
}

// Link addresses a port by owning node id and port name.
type Link struct {
	Node string `json:"node" yaml:"node"`
	Port string `json:"port" yaml:"port"`
}

// Descriptor statically declares a port on a leaf type.
type Descriptor struct {
	Name    string
	Input   bool
	Type    reflect.Type
	Default any
}

// In declares an input port of type T with a default value.
func In[T any](name string, def T) Descriptor {
	return Descriptor{Name: name, Input: true, Type: reflect.TypeFor[T](), Default: def}
}

// Out declares an output port of type T.
func Out[T any](name string) Descriptor {
	return Descriptor{Name: name, Type: reflect.TypeFor[T]()}
}

// Validate checks a descriptor list once, at tree construction time.
func Validate(ds []Descriptor) error {
	seen := make(map[string]struct{}, len(ds))
	var errs []error
	for _, d := range ds {
		switch {
		case d.Name == "":
			errs = append(errs, fmt.Errorf("%w: empty name", ErrInvalid))
			continue
		case d.Type == nil:
			errs = append(errs, fmt.Errorf("%w: port %q has no data type", ErrInvalid, d.Name))
		case d.Input && d.Default != nil && !reflect.TypeOf(d.Default).AssignableTo(d.Type):
			errs = append(errs, fmt.Errorf("%w: port %q default %T is not a %s", ErrInvalid, d.Name, d.Default, d.Type))
		}
		if _, dup := seen[d.Name]; dup {
			errs = append(errs, fmt.Errorf("%w: %q", ErrDuplicate, d.Name))
		}
		seen[d.Name] = struct{}{}
	}
	return errors.Join(errs...)
}

// Port is one instantiated slot owned by a node.
type Port struct {
	Owner   string
	Name    string
	Input   bool
	Type    reflect.Type
	Default any

	source    *Link
	value     any
	hasValue  bool
	consumers int
}

// New instantiates a descriptor for the node with id owner.
func New(owner string, d Descriptor) *Port {
	return &Port{
		Owner:   owner,
		Name:    d.Name,
		Input:   d.Input,
		Type:    d.Type,
		Default: d.Default,
	}
}

// Connect wires this input to the output out. On error neither port is
// modified.
func (p *Port) Connect(out *Port) error {
	cerr := func(err error) error {
		return &ConnectError{
			From: Link{Node: out.Owner, Port: out.Name},
			To:   Link{Node: p.Owner, Port: p.Name},
			Err:  err,
		}
	}
	if !p.Input || out.Input {
		return cerr(ErrDirection)
	}
	if p.source != nil {
		return cerr(ErrAlreadyConnected)
	}
	if !out.Type.AssignableTo(p.Type) {
		return cerr(fmt.Errorf("%w: %s -> %s", ErrTypeMismatch, out.Type, p.Type))
	}
	p.source = &Link{Node: out.Owner, Port: out.Name}
	out.consumers++
	return nil
}

// Source returns the upstream link of a connected input.
func (p *Port) Source() (Link, bool) {
	if p.source == nil {
		return Link{}, false
	}
	return *p.source, true
}

// Consumers returns how many inputs read this output.
func (p *Port) Consumers() int {
	return p.consumers
}

// Set caches a value on an output port.
func (p *Port) Set(v any) error {
	if p.Input {
		return fmt.Errorf("set %s.%s: %w", p.Owner, p.Name, ErrDirection)
	}
	if v != nil && !reflect.TypeOf(v).AssignableTo(p.Type) {
		return fmt.Errorf("set %s.%s: %w: %T -> %s", p.Owner, p.Name, ErrTypeMismatch, v, p.Type)
	}
	p.value = v
	p.hasValue = true
	return nil
}

// Value returns the cached value of an output port.
func (p *Port) Value() (any, bool) {
	return p.value, p.hasValue
}

// Clear drops the cached output value.
func (p *Port) Clear() {
	p.value = nil
	p.hasValue = false
}

// Resolver finds output ports by link.
type Resolver interface {
	OutputPort(link Link) (*Port, bool)
}

// Resolve returns the upstream cached value when this input is connected
// and the upstream has produced one, otherwise the local default. It never
// mutates either port.
func (p *Port) Resolve(r Resolver) (any, bool) {
	if p.source != nil && r != nil {
		if up, ok := r.OutputPort(*p.source); ok {
			if v, ok := up.Value(); ok {
				return v, true
			}
		}
	}
	if p.Default != nil {
		return p.Default, true
	}
	return nil, false
}

// ResolveAs is Resolve with a type assertion.
func ResolveAs[T any](p *Port, r Resolver) (T, bool) {
	var zero T
	v, ok := p.Resolve(r)
	if !ok {
		return zero, false
	}
	t, ok := v.(T)
	if !ok {
		return zero, false
	}
	return t, true
}
