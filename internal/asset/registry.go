package asset

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/mitchellh/mapstructure"

	"github.com/AaronLay10/SentientTree/internal/bt"
)

var (
	ErrDuplicateType = errors.New("asset: type already registered")
	ErrUnknownType   = errors.New("asset: unknown node type")
	ErrWrongKind     = errors.New("asset: type has a different kind")
)

// Config is the free-form configuration of an authored node or service.
type Config map[string]any

// Decode copies the config into the struct pointed to by out. Duration
// fields accept strings such as "1.5s"; unknown keys are rejected.
func (c Config) Decode(out any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		),
		WeaklyTypedInput: true,
		ErrorUnused:      true,
		Result:           out,
	})
	if err != nil {
		return err
	}
	return dec.Decode(map[string]any(c))
}

type (
	CompositeFactory func(cfg Config) (bt.CompositePolicy, error)
	DecoratorFactory func(cfg Config) (bt.DecoratorPolicy, error)
	ActionFactory    func(cfg Config) (bt.Action, error)
	ConditionFactory func(cfg Config) (bt.Condition, error)
	ServiceFactory   func(cfg Config) (bt.ServiceBehavior, error)
)

// TypeInfo describes a registered type for listings.
type TypeInfo struct {
	ID          string  `json:"id"`
	Kind        bt.Kind `json:"kind"`
	Description string  `json:"description"`
}

type entry struct {
	info      TypeInfo
	composite CompositeFactory
	decorator DecoratorFactory
	action    ActionFactory
	condition ConditionFactory
	service   ServiceFactory
}

// Registry maps stable type ids to node factories.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*entry
}

// NewRegistry returns a registry holding the built-in composites and
// decorators.
func NewRegistry() *Registry {
	r := &Registry{entries: make(map[string]*entry)}
	registerBuiltins(r)
	return r
}

func (r *Registry) add(e *entry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.entries[e.info.ID]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateType, e.info.ID)
	}
	r.entries[e.info.ID] = e
	return nil
}

func (r *Registry) RegisterComposite(id, desc string, f CompositeFactory) error {
	return r.add(&entry{info: TypeInfo{ID: id, Kind: bt.KindComposite, Description: desc}, composite: f})
}

func (r *Registry) RegisterDecorator(id, desc string, f DecoratorFactory) error {
	return r.add(&entry{info: TypeInfo{ID: id, Kind: bt.KindDecorator, Description: desc}, decorator: f})
}

func (r *Registry) RegisterAction(id, desc string, f ActionFactory) error {
	return r.add(&entry{info: TypeInfo{ID: id, Kind: bt.KindAction, Description: desc}, action: f})
}

func (r *Registry) RegisterCondition(id, desc string, f ConditionFactory) error {
	return r.add(&entry{info: TypeInfo{ID: id, Kind: bt.KindCondition, Description: desc}, condition: f})
}

func (r *Registry) RegisterService(id, desc string, f ServiceFactory) error {
	return r.add(&entry{info: TypeInfo{ID: id, Kind: bt.KindService, Description: desc}, service: f})
}

// Lookup returns the description of a registered type.
func (r *Registry) Lookup(id string) (TypeInfo, bool) {
	e, ok := r.get(id)
	if !ok {
		return TypeInfo{}, false
	}
	return e.info, true
}

// Types lists every registered type ordered by id.
func (r *Registry) Types() []TypeInfo {
	r.mu.RLock()
	out := make([]TypeInfo, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e.info)
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (r *Registry) get(id string) (*entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[id]
	return e, ok
}

// newNode instantiates the node for spec. Subtrees are handled by the
// builder.
func (r *Registry) newNode(spec *Node, children []*bt.Node, child *bt.Node) (*bt.Node, error) {
	e, ok := r.get(spec.Type)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownType, spec.Type)
	}
	cfg := Config(spec.Config)
	if cfg == nil {
		cfg = Config{}
	}

	var n *bt.Node
	switch e.info.Kind {
	case bt.KindComposite:
		p, err := e.composite(cfg)
		if err != nil {
			return nil, err
		}
		n = bt.NewComposite(spec.ID, p, children...)
	case bt.KindDecorator:
		p, err := e.decorator(cfg)
		if err != nil {
			return nil, err
		}
		n = bt.NewDecorator(spec.ID, p, child)
	case bt.KindAction:
		a, err := e.action(cfg)
		if err != nil {
			return nil, err
		}
		n = bt.NewAction(spec.ID, a)
	case bt.KindCondition:
		c, err := e.condition(cfg)
		if err != nil {
			return nil, err
		}
		n = bt.NewCondition(spec.ID, c)
	default:
		return nil, fmt.Errorf("%w: %s is a %s", ErrWrongKind, spec.Type, e.info.Kind)
	}
	n.Name = spec.Name
	n.Type = spec.Type
	n.Meta = spec.Metadata
	return n, nil
}

func (r *Registry) newService(spec *Service) (bt.ServiceBehavior, error) {
	e, ok := r.get(spec.Type)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownType, spec.Type)
	}
	if e.info.Kind != bt.KindService {
		return nil, fmt.Errorf("%w: %s is a %s", ErrWrongKind, spec.Type, e.info.Kind)
	}
	cfg := Config(spec.Config)
	if cfg == nil {
		cfg = Config{}
	}
	return e.service(cfg)
}
