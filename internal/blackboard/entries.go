package blackboard

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"sync"
	"time"
)

// ErrUnknownType is returned when a value or type tag has no registered codec.
var ErrUnknownType = errors.New("blackboard: unknown value type")

// NilType is the tag used for entries holding a nil value.
const NilType = "nil"

// Container tags. Their elements are stored with their own type tags so
// nested values come back with the Go type they were set with.
const (
	ListType = "[]any"
	MapType  = "map[string]any"
)

// Entry is the persisted form of one local blackboard value.
type Entry struct {
	Key   string          `json:"key"`
	Type  string          `json:"type"`
	Value json.RawMessage `json:"value"`
}

type decoder func(raw json.RawMessage) (any, error)

// TypeRegistry maps type tags to Go types for the persistence hook.
type TypeRegistry struct {
	mu     sync.RWMutex
	byTag  map[string]decoder
	byType map[reflect.Type]string
}

// DefaultTypes is used by blackboards created without WithTypes.
var DefaultTypes = NewTypeRegistry()

// NewTypeRegistry returns a registry with the built-in scalar and container
// types registered.
func NewTypeRegistry() *TypeRegistry {
	r := &TypeRegistry{
		byTag:  make(map[string]decoder),
		byType: make(map[reflect.Type]string),
	}
	RegisterType[string](r, "string")
	RegisterType[bool](r, "bool")
	RegisterType[int](r, "int")
	RegisterType[int64](r, "int64")
	RegisterType[float64](r, "float64")
	RegisterType[time.Duration](r, "duration")
	RegisterType[[]string](r, "[]string")
	r.byType[reflect.TypeFor[[]any]()] = ListType
	r.byType[reflect.TypeFor[map[string]any]()] = MapType
	return r
}

// RegisterType binds tag to T. Registering a tag again replaces it.
func RegisterType[T any](r *TypeRegistry, tag string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byTag[tag] = func(raw json.RawMessage) (any, error) {
		var v T
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, err
		}
		return v, nil
	}
	r.byType[reflect.TypeFor[T]()] = tag
}

// TagOf returns the registered tag for v's dynamic type.
func (r *TypeRegistry) TagOf(v any) (string, bool) {
	if v == nil {
		return NilType, true
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	tag, ok := r.byType[reflect.TypeOf(v)]
	return tag, ok
}

// element is the persisted form of a value nested in a container.
type element struct {
	Type  string          `json:"type"`
	Value json.RawMessage `json:"value"`
}

// Encode returns the tag and JSON form of v.
func (r *TypeRegistry) Encode(v any) (string, json.RawMessage, error) {
	tag, ok := r.TagOf(v)
	if !ok {
		return "", nil, fmt.Errorf("%T: %w", v, ErrUnknownType)
	}

	var (
		raw []byte
		err error
	)
	switch tag {
	case ListType:
		list := v.([]any)
		if list == nil {
			raw = []byte("null")
			break
		}
		elems := make([]element, len(list))
		for i, item := range list {
			if elems[i].Type, elems[i].Value, err = r.Encode(item); err != nil {
				return "", nil, fmt.Errorf("index %d: %w", i, err)
			}
		}
		raw, err = json.Marshal(elems)
	case MapType:
		m := v.(map[string]any)
		if m == nil {
			raw = []byte("null")
			break
		}
		elems := make(map[string]element, len(m))
		for k, item := range m {
			var e element
			if e.Type, e.Value, err = r.Encode(item); err != nil {
				return "", nil, fmt.Errorf("key %q: %w", k, err)
			}
			elems[k] = e
		}
		raw, err = json.Marshal(elems)
	default:
		raw, err = json.Marshal(v)
	}
	if err != nil {
		return "", nil, fmt.Errorf("failed to marshal %T: %w", v, err)
	}
	return tag, raw, nil
}

// Decode turns a persisted value back into its registered Go type.
func (r *TypeRegistry) Decode(tag string, raw json.RawMessage) (any, error) {
	switch tag {
	case NilType:
		return nil, nil
	case ListType:
		var elems []element
		if err := json.Unmarshal(raw, &elems); err != nil {
			return nil, err
		}
		if elems == nil {
			return []any(nil), nil
		}
		list := make([]any, len(elems))
		for i, e := range elems {
			v, err := r.Decode(e.Type, e.Value)
			if err != nil {
				return nil, fmt.Errorf("index %d: %w", i, err)
			}
			list[i] = v
		}
		return list, nil
	case MapType:
		var elems map[string]element
		if err := json.Unmarshal(raw, &elems); err != nil {
			return nil, err
		}
		if elems == nil {
			return map[string]any(nil), nil
		}
		m := make(map[string]any, len(elems))
		for k, e := range elems {
			v, err := r.Decode(e.Type, e.Value)
			if err != nil {
				return nil, fmt.Errorf("key %q: %w", k, err)
			}
			m[k] = v
		}
		return m, nil
	}

	r.mu.RLock()
	dec, ok := r.byTag[tag]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("decode tag %q: %w", tag, ErrUnknownType)
	}
	return dec(raw)
}

// GetEntries serialises the local entries in insertion order. Values whose
// type is not registered make the whole call fail.
func (b *Blackboard) GetEntries() ([]Entry, error) {
	b.lock()
	keys := append([]string(nil), b.order...)
	values := make([]any, len(keys))
	for i, k := range keys {
		values[i] = b.values[k]
	}
	b.unlock()

	entries := make([]Entry, 0, len(keys))
	for i, key := range keys {
		tag, raw, err := b.types.Encode(values[i])
		if err != nil {
			return nil, fmt.Errorf("entry %q: %w", key, err)
		}
		entries = append(entries, Entry{Key: key, Type: tag, Value: raw})
	}
	return entries, nil
}

// RestoreEntries writes the given entries into the local map in order,
// notifying listeners as Set does. Entries that cannot be decoded are
// skipped and reported in the returned error.
func (b *Blackboard) RestoreEntries(entries []Entry) error {
	var errs []error
	for _, e := range entries {
		v, err := b.types.Decode(e.Type, e.Value)
		if err != nil {
			errs = append(errs, fmt.Errorf("entry %q: %w", e.Key, err))
			continue
		}
		b.Set(e.Key, v)
	}
	return errors.Join(errs...)
}
