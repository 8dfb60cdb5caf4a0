package asset

import (
	"errors"
	"fmt"

	"github.com/AaronLay10/SentientTree/internal/bt"
)

var (
	ErrDuplicateNode     = errors.New("asset: duplicate node id")
	ErrDuplicateTree     = errors.New("asset: duplicate tree id")
	ErrUnknownTree       = errors.New("asset: unknown tree id")
	ErrMissingNode       = errors.New("asset: reference to a missing node")
	ErrMissingRoot       = errors.New("asset: tree has no root")
	ErrMissingChild      = errors.New("asset: decorator has no child")
	ErrNoChildren        = errors.New("asset: composite has no children")
	ErrUnexpectedChild   = errors.New("asset: node kind takes no children")
	ErrUnresolvedSubTree = errors.New("asset: subtree references an unknown tree")
	ErrSubTreeCycle      = errors.New("asset: subtree references form a cycle")
	ErrUnreachable       = errors.New("asset: node is not reachable from the root")
	ErrMultipleParents   = errors.New("asset: node has more than one parent")
)

// ValidationError locates a problem in a document.
type ValidationError struct {
	Tree string
	Node string
	Err  error
}

func (e *ValidationError) Error() string {
	if e.Node == "" {
		return fmt.Sprintf("tree %s: %v", e.Tree, e.Err)
	}
	return fmt.Sprintf("tree %s node %s: %v", e.Tree, e.Node, e.Err)
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

type subTreeConfig struct {
	Tree string `mapstructure:"tree"`
	Mode string `mapstructure:"mode"`
}

// Validate checks the structure of every tree in doc against reg. All
// problems are reported, joined.
func Validate(doc *Document, reg *Registry) error {
	var errs []error
	seenTrees := make(map[string]bool)
	for i := range doc.Trees {
		t := &doc.Trees[i]
		if seenTrees[t.ID] {
			errs = append(errs, &ValidationError{Tree: t.ID, Err: ErrDuplicateTree})
			continue
		}
		seenTrees[t.ID] = true
		errs = append(errs, validateTree(doc, t, reg)...)
	}
	for i := range doc.Trees {
		if err := checkSubTreeCycles(doc, doc.Trees[i].ID, nil); err != nil {
			errs = append(errs, err)
			break
		}
	}
	return errors.Join(errs...)
}

func validateTree(doc *Document, t *Tree, reg *Registry) []error {
	var errs []error
	fail := func(node string, err error) {
		errs = append(errs, &ValidationError{Tree: t.ID, Node: node, Err: err})
	}

	ids := make(map[string]bool, len(t.Nodes))
	for _, n := range t.Nodes {
		if ids[n.ID] {
			fail(n.ID, ErrDuplicateNode)
		}
		ids[n.ID] = true
	}
	if t.Root == "" {
		fail("", ErrMissingRoot)
	} else if !ids[t.Root] {
		fail(t.Root, fmt.Errorf("%w: root %s", ErrMissingNode, t.Root))
	}

	parents := make(map[string]string)
	claim := func(parent, child string) {
		if !ids[child] {
			fail(parent, fmt.Errorf("%w: %s", ErrMissingNode, child))
			return
		}
		if prev, ok := parents[child]; ok || child == t.Root {
			if child == t.Root {
				prev = "root"
			}
			fail(child, fmt.Errorf("%w: %s and %s", ErrMultipleParents, prev, parent))
			return
		}
		parents[child] = parent
	}

	for i := range t.Nodes {
		n := &t.Nodes[i]
		info, ok := reg.Lookup(n.Type)
		if !ok {
			fail(n.ID, fmt.Errorf("%w: %s", ErrUnknownType, n.Type))
			continue
		}
		switch info.Kind {
		case bt.KindComposite:
			if len(n.Children) == 0 {
				fail(n.ID, ErrNoChildren)
			}
			if n.Child != "" {
				fail(n.ID, fmt.Errorf("%w: composites use children", ErrUnexpectedChild))
			}
			for _, c := range n.Children {
				claim(n.ID, c)
			}
		case bt.KindDecorator:
			if len(n.Children) > 0 {
				fail(n.ID, fmt.Errorf("%w: decorators use child", ErrUnexpectedChild))
			}
			if n.Type == SubTreeType {
				var cfg subTreeConfig
				if err := Config(n.Config).Decode(&cfg); err != nil {
					fail(n.ID, err)
				} else if _, ok := doc.Tree(cfg.Tree); !ok {
					fail(n.ID, fmt.Errorf("%w: %q", ErrUnresolvedSubTree, cfg.Tree))
				} else if _, err := bt.ParseBlackboardMode(cfg.Mode); err != nil {
					fail(n.ID, err)
				}
				if n.Child != "" {
					fail(n.ID, fmt.Errorf("%w: subtree", ErrUnexpectedChild))
				}
				break
			}
			if n.Child == "" {
				fail(n.ID, ErrMissingChild)
			} else {
				claim(n.ID, n.Child)
			}
		case bt.KindAction, bt.KindCondition:
			if len(n.Children) > 0 || n.Child != "" {
				fail(n.ID, ErrUnexpectedChild)
			}
		case bt.KindService:
			fail(n.ID, fmt.Errorf("%w: %s is a service", ErrWrongKind, n.Type))
		}
		for _, s := range n.Services {
			sinfo, ok := reg.Lookup(s.Type)
			if !ok {
				fail(n.ID, fmt.Errorf("%w: service %s", ErrUnknownType, s.Type))
			} else if sinfo.Kind != bt.KindService {
				fail(n.ID, fmt.Errorf("%w: %s is a %s", ErrWrongKind, s.Type, sinfo.Kind))
			}
		}
	}

	for _, n := range t.Nodes {
		if n.ID == t.Root {
			continue
		}
		if _, ok := parents[n.ID]; !ok {
			fail(n.ID, ErrUnreachable)
		}
	}
	return errs
}

func checkSubTreeCycles(doc *Document, id string, stack []string) error {
	for _, s := range stack {
		if s == id {
			return &ValidationError{Tree: id, Err: fmt.Errorf("%w: %v", ErrSubTreeCycle, append(stack, id))}
		}
	}
	t, ok := doc.Tree(id)
	if !ok {
		return nil
	}
	stack = append(stack, id)
	for _, n := range t.Nodes {
		if n.Type != SubTreeType {
			continue
		}
		var cfg subTreeConfig
		if Config(n.Config).Decode(&cfg) != nil {
			continue
		}
		if err := checkSubTreeCycles(doc, cfg.Tree, stack); err != nil {
			return err
		}
	}
	return nil
}
