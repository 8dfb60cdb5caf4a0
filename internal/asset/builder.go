package asset

import (
	"fmt"
	"reflect"
	"time"

	"github.com/google/uuid"
	"github.com/mitchellh/mapstructure"

	"github.com/AaronLay10/SentientTree/internal/blackboard"
	"github.com/AaronLay10/SentientTree/internal/bt"
	"github.com/AaronLay10/SentientTree/internal/port"
)

// Build validates doc and instantiates the tree with id treeID. Every subtree
// reference gets its own instance of the referenced tree. Authored blackboard
// values seed keys the root blackboard does not already hold, so a restored
// blackboard passed with bt.WithBlackboard keeps its values.
func Build(doc *Document, reg *Registry, treeID string, opts ...bt.Option) (*bt.Tree, error) {
	if err := Validate(doc, reg); err != nil {
		return nil, err
	}
	spec, ok := doc.Tree(treeID)
	if !ok {
		return nil, &ValidationError{Tree: treeID, Err: ErrUnknownTree}
	}

	b := &builder{doc: doc, reg: reg}
	root, err := b.nodes(spec, []string{spec.ID})
	if err != nil {
		return nil, err
	}

	t, err := bt.NewTree(root, append([]bt.Option{bt.WithID(spec.ID)}, opts...)...)
	if err != nil {
		return nil, err
	}
	if err := b.finish(t, spec); err != nil {
		return nil, err
	}
	return t, nil
}

type builder struct {
	doc *Document
	reg *Registry
}

// nodes instantiates the node graph of spec and returns its root.
func (b *builder) nodes(spec *Tree, stack []string) (*bt.Node, error) {
	built := make(map[string]*bt.Node, len(spec.Nodes))

	var build func(id string) (*bt.Node, error)
	build = func(id string) (*bt.Node, error) {
		if n, ok := built[id]; ok {
			return n, nil
		}
		ns, ok := spec.Node(id)
		if !ok {
			return nil, &ValidationError{Tree: spec.ID, Node: id, Err: ErrMissingNode}
		}

		var n *bt.Node
		var err error
		if ns.Type == SubTreeType {
			n, err = b.subtree(spec, ns, stack)
		} else {
			var children []*bt.Node
			for _, c := range ns.Children {
				cn, err := build(c)
				if err != nil {
					return nil, err
				}
				children = append(children, cn)
			}
			var child *bt.Node
			if ns.Child != "" {
				if child, err = build(ns.Child); err != nil {
					return nil, err
				}
			}
			n, err = b.reg.newNode(ns, children, child)
		}
		if err != nil {
			return nil, &ValidationError{Tree: spec.ID, Node: id, Err: err}
		}

		if n.Meta.GUID == "" {
			n.Meta.GUID = uuid.NewString()
		}
		for i := range ns.Services {
			s, err := b.service(&ns.Services[i])
			if err != nil {
				return nil, &ValidationError{Tree: spec.ID, Node: id, Err: err}
			}
			n.WithService(s)
		}
		built[id] = n
		return n, nil
	}
	return build(spec.Root)
}

func (b *builder) subtree(outer *Tree, ns *Node, stack []string) (*bt.Node, error) {
	var cfg subTreeConfig
	if err := Config(ns.Config).Decode(&cfg); err != nil {
		return nil, err
	}
	mode, err := bt.ParseBlackboardMode(cfg.Mode)
	if err != nil {
		return nil, err
	}
	for _, id := range stack {
		if id == cfg.Tree {
			return nil, fmt.Errorf("%w: %v", ErrSubTreeCycle, append(stack, cfg.Tree))
		}
	}
	inner, ok := b.doc.Tree(cfg.Tree)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnresolvedSubTree, cfg.Tree)
	}

	root, err := b.nodes(inner, append(stack, inner.ID))
	if err != nil {
		return nil, err
	}
	t, err := bt.NewTree(root, bt.WithID(outer.ID+"/"+ns.ID))
	if err != nil {
		return nil, err
	}
	if err := b.finish(t, inner); err != nil {
		return nil, err
	}

	n := bt.NewSubTree(ns.ID, t, mode)
	n.Name = ns.Name
	n.Type = SubTreeType
	n.Meta = ns.Metadata
	return n, nil
}

func (b *builder) service(spec *Service) (*bt.Service, error) {
	var interval time.Duration
	if spec.Interval != "" {
		d, err := time.ParseDuration(spec.Interval)
		if err != nil {
			return nil, fmt.Errorf("service %s interval: %w", spec.Type, err)
		}
		interval = d
	}
	behavior, err := b.reg.newService(spec)
	if err != nil {
		return nil, err
	}
	name := spec.Name
	if name == "" {
		name = spec.Type
	}
	return bt.NewService(name, interval, behavior), nil
}

// finish applies port defaults, links and initial blackboard values.
func (b *builder) finish(t *bt.Tree, spec *Tree) error {
	for i := range spec.Nodes {
		ns := &spec.Nodes[i]
		if len(ns.Ports) == 0 {
			continue
		}
		n, ok := t.Node(ns.ID)
		if !ok {
			continue
		}
		for name, raw := range ns.Ports {
			p, ok := n.Port(name)
			if !ok || !p.Input {
				return &ValidationError{Tree: spec.ID, Node: ns.ID, Err: fmt.Errorf("%w: input %s", port.ErrNotFound, name)}
			}
			v, err := portValue(p.Type, raw)
			if err != nil {
				return &ValidationError{Tree: spec.ID, Node: ns.ID, Err: fmt.Errorf("port %s: %w", name, err)}
			}
			p.Default = v
		}
	}

	for _, l := range spec.Links {
		if err := t.Connect(l.From, l.To); err != nil {
			return &ValidationError{Tree: spec.ID, Err: err}
		}
	}

	seed(t.Blackboard(), spec.Blackboard)
	return nil
}

func seed(bb *blackboard.Blackboard, values map[string]any) {
	for k, v := range values {
		if !bb.Contains(k) {
			bb.Set(k, v)
		}
	}
}

// portValue converts an authored literal to the declared port type.
func portValue(typ reflect.Type, raw any) (any, error) {
	if raw != nil && reflect.TypeOf(raw).AssignableTo(typ) {
		return raw, nil
	}
	out := reflect.New(typ)
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook:       mapstructure.StringToTimeDurationHookFunc(),
		WeaklyTypedInput: true,
		Result:           out.Interface(),
	})
	if err != nil {
		return nil, err
	}
	if err := dec.Decode(raw); err != nil {
		return nil, fmt.Errorf("%w: %T -> %s", port.ErrTypeMismatch, raw, typ)
	}
	return out.Elem().Interface(), nil
}
