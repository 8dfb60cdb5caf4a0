// Package blackboard provides the hierarchical key/value store shared by the
// nodes of a behaviour tree.
//
// Reads fall back to the parent chain; writes always land in the local map of
// the instance they are called on, so a child blackboard shadows its parent
// without ever mutating it.
//
// A Blackboard created without ThreadSafe performs no locking and must only be
// touched from the goroutine that ticks the tree. With ThreadSafe every map
// access is guarded by one mutex per instance, and listeners are always
// invoked after the lock has been released so a listener may call Set.
package blackboard

import (
	"errors"
	"fmt"
	"sync"
)

var (
	// ErrKeyNotFound is returned when a local key does not exist.
	ErrKeyNotFound = errors.New("blackboard: key not found")
	// ErrKeyExists is returned by Rename when the target key already exists.
	ErrKeyExists = errors.New("blackboard: key already exists")
	// ErrParentCycle is returned by SetParent when the parent chain would loop.
	ErrParentCycle = errors.New("blackboard: parent chain would form a cycle")
)

// Listener observes a value change. newValue is nil when the key was removed.
type Listener func(key string, oldValue, newValue any)

type listener struct {
	id uint64
	fn Listener
}

// Blackboard is a typed key/value store with an optional parent for reads.
type Blackboard struct {
	mu     *sync.Mutex
	values map[string]any
	order  []string
	parent *Blackboard
	types  *TypeRegistry

	nextID    uint64
	global    []listener
	listeners map[string][]listener
}

// Option configures a Blackboard.
type Option func(*Blackboard)

// ThreadSafe guards every map access with a per-instance mutex.
func ThreadSafe() Option {
	return func(b *Blackboard) {
		b.mu = new(sync.Mutex)
	}
}

// WithParent sets the read-fallback parent.
func WithParent(parent *Blackboard) Option {
	return func(b *Blackboard) {
		b.parent = parent
	}
}

// WithTypes sets the type registry used by GetEntries and RestoreEntries.
func WithTypes(types *TypeRegistry) Option {
	return func(b *Blackboard) {
		b.types = types
	}
}

// New creates an empty blackboard.
func New(opts ...Option) *Blackboard {
	b := &Blackboard{
		values:    make(map[string]any),
		listeners: make(map[string][]listener),
		types:     DefaultTypes,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

func (b *Blackboard) lock() {
	if b.mu != nil {
		b.mu.Lock()
	}
}

func (b *Blackboard) unlock() {
	if b.mu != nil {
		b.mu.Unlock()
	}
}

// IsThreadSafe reports whether the blackboard was created with ThreadSafe.
func (b *Blackboard) IsThreadSafe() bool {
	return b.mu != nil
}

// Parent returns the read-fallback parent, or nil.
func (b *Blackboard) Parent() *Blackboard {
	b.lock()
	defer b.unlock()
	return b.parent
}

// SetParent replaces the read-fallback parent. Passing nil detaches the
// blackboard from its hierarchy.
func (b *Blackboard) SetParent(parent *Blackboard) error {
	for p := parent; p != nil; p = p.Parent() {
		if p == b {
			return ErrParentCycle
		}
	}
	b.lock()
	b.parent = parent
	b.unlock()
	return nil
}

// Set overwrites the local entry for key and notifies listeners.
func (b *Blackboard) Set(key string, value any) {
	b.lock()
	old, existed := b.values[key]
	if !existed {
		b.order = append(b.order, key)
	}
	b.values[key] = value
	fns := b.listenersFor(key)
	b.unlock()

	for _, fn := range fns {
		fn(key, old, value)
	}
}

// Lookup searches the local map, then the parent chain.
func (b *Blackboard) Lookup(key string) (any, bool) {
	for bb := b; bb != nil; {
		bb.lock()
		v, ok := bb.values[key]
		parent := bb.parent
		bb.unlock()
		if ok {
			return v, true
		}
		bb = parent
	}
	return nil, false
}

// Contains reports whether key exists in the local map.
func (b *Blackboard) Contains(key string) bool {
	b.lock()
	defer b.unlock()
	_, ok := b.values[key]
	return ok
}

// Remove deletes key from the local map. Inherited values become visible
// again. Listeners are notified with a nil new value.
func (b *Blackboard) Remove(key string) bool {
	b.lock()
	old, ok := b.values[key]
	if !ok {
		b.unlock()
		return false
	}
	delete(b.values, key)
	b.order = removeKey(b.order, key)
	fns := b.listenersFor(key)
	b.unlock()

	for _, fn := range fns {
		fn(key, old, nil)
	}
	return true
}

// Rename moves a local entry to a new key, keeping its position in the
// entry order.
func (b *Blackboard) Rename(from, to string) error {
	if from == to {
		if !b.Contains(from) {
			return fmt.Errorf("rename %q: %w", from, ErrKeyNotFound)
		}
		return nil
	}

	b.lock()
	v, ok := b.values[from]
	if !ok {
		b.unlock()
		return fmt.Errorf("rename %q: %w", from, ErrKeyNotFound)
	}
	if _, exists := b.values[to]; exists {
		b.unlock()
		return fmt.Errorf("rename %q to %q: %w", from, to, ErrKeyExists)
	}
	delete(b.values, from)
	b.values[to] = v
	for i, k := range b.order {
		if k == from {
			b.order[i] = to
			break
		}
	}
	fromFns := b.listenersFor(from)
	toFns := b.listenersFor(to)
	b.unlock()

	for _, fn := range fromFns {
		fn(from, v, nil)
	}
	for _, fn := range toFns {
		fn(to, nil, v)
	}
	return nil
}

// Clone copies the local entries into a new blackboard with the same parent
// and locking mode. Listeners are not copied.
func (b *Blackboard) Clone() *Blackboard {
	b.lock()
	defer b.unlock()

	c := &Blackboard{
		values:    make(map[string]any, len(b.values)),
		order:     append([]string(nil), b.order...),
		parent:    b.parent,
		types:     b.types,
		listeners: make(map[string][]listener),
	}
	if b.mu != nil {
		c.mu = new(sync.Mutex)
	}
	for k, v := range b.values {
		c.values[k] = v
	}
	return c
}

// Keys returns the local keys in insertion order.
func (b *Blackboard) Keys() []string {
	b.lock()
	defer b.unlock()
	return append([]string(nil), b.order...)
}

// Len returns the number of local entries.
func (b *Blackboard) Len() int {
	b.lock()
	defer b.unlock()
	return len(b.values)
}

// Snapshot returns a shallow copy of the local entries.
func (b *Blackboard) Snapshot() map[string]any {
	b.lock()
	defer b.unlock()
	out := make(map[string]any, len(b.values))
	for k, v := range b.values {
		out[k] = v
	}
	return out
}

// Visible returns every value visible from this blackboard, local entries
// shadowing inherited ones.
func (b *Blackboard) Visible() map[string]any {
	var chain []*Blackboard
	for bb := b; bb != nil; bb = bb.Parent() {
		chain = append(chain, bb)
	}
	out := make(map[string]any)
	for i := len(chain) - 1; i >= 0; i-- {
		for k, v := range chain[i].Snapshot() {
			out[k] = v
		}
	}
	return out
}

// OnValueChanged registers a listener for every key. The returned function
// unregisters it.
func (b *Blackboard) OnValueChanged(fn Listener) func() {
	b.lock()
	b.nextID++
	id := b.nextID
	b.global = append(b.global, listener{id: id, fn: fn})
	b.unlock()

	return func() {
		b.lock()
		b.global = dropListener(b.global, id)
		b.unlock()
	}
}

// RegisterListener registers a listener for a single key. The returned
// function unregisters it.
func (b *Blackboard) RegisterListener(key string, fn Listener) func() {
	b.lock()
	b.nextID++
	id := b.nextID
	b.listeners[key] = append(b.listeners[key], listener{id: id, fn: fn})
	b.unlock()

	return func() {
		b.lock()
		remaining := dropListener(b.listeners[key], id)
		if len(remaining) == 0 {
			delete(b.listeners, key)
		} else {
			b.listeners[key] = remaining
		}
		b.unlock()
	}
}

// listenersFor copies the listeners to notify for key. Caller holds the lock.
func (b *Blackboard) listenersFor(key string) []Listener {
	perKey := b.listeners[key]
	if len(b.global) == 0 && len(perKey) == 0 {
		return nil
	}
	fns := make([]Listener, 0, len(b.global)+len(perKey))
	for _, l := range b.global {
		fns = append(fns, l.fn)
	}
	for _, l := range perKey {
		fns = append(fns, l.fn)
	}
	return fns
}

func dropListener(ls []listener, id uint64) []listener {
	out := ls[:0]
	for _, l := range ls {
		if l.id != id {
			out = append(out, l)
		}
	}
	return out
}

func removeKey(keys []string, key string) []string {
	for i, k := range keys {
		if k == key {
			return append(keys[:i], keys[i+1:]...)
		}
	}
	return keys
}

// Set stores a typed value. It is a convenience over (*Blackboard).Set.
func Set[T any](b *Blackboard, key string, value T) {
	b.Set(key, value)
}

// TryGet resolves key through the parent chain and asserts its type. It
// returns false when the chain misses or the visible value is not a T.
func TryGet[T any](b *Blackboard, key string) (T, bool) {
	var zero T
	v, ok := b.Lookup(key)
	if !ok {
		return zero, false
	}
	t, ok := v.(T)
	if !ok {
		return zero, false
	}
	return t, true
}

// Get is TryGet without the presence flag.
func Get[T any](b *Blackboard, key string) T {
	v, _ := TryGet[T](b, key)
	return v
}
