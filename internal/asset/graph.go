// Package asset loads authored behaviour tree documents and builds runnable
// trees from them through an explicit type registry.
package asset

import (
	"github.com/AaronLay10/SentientTree/internal/bt"
	"github.com/AaronLay10/SentientTree/internal/port"
)

// SubTreeType is the reserved node type that references another tree of the
// same document by id.
const SubTreeType = "subtree"

// Document is the top-level container loaded from YAML or JSON.
type Document struct {
	Version int    `yaml:"version" json:"version"`
	Trees   []Tree `yaml:"trees" json:"trees"`
}

// Tree is one authored tree. Nodes reference each other by id.
type Tree struct {
	ID          string         `yaml:"id" json:"id"`
	Name        string         `yaml:"name,omitempty" json:"name,omitempty"`
	Description string         `yaml:"description,omitempty" json:"description,omitempty"`
	Root        string         `yaml:"root" json:"root"`
	Blackboard  map[string]any `yaml:"blackboard,omitempty" json:"blackboard,omitempty"`
	Nodes       []Node         `yaml:"nodes" json:"nodes"`
	Links       []Link         `yaml:"links,omitempty" json:"links,omitempty"`
}

// Node is one authored node. Composites list Children, decorators name a
// single Child. The subtree type takes "tree" and "mode" in its config.
// Ports overrides the default values of declared input ports.
type Node struct {
	ID       string         `yaml:"id" json:"id"`
	Type     string         `yaml:"type" json:"type"`
	Name     string         `yaml:"name,omitempty" json:"name,omitempty"`
	Children []string       `yaml:"children,omitempty" json:"children,omitempty"`
	Child    string         `yaml:"child,omitempty" json:"child,omitempty"`
	Services []Service      `yaml:"services,omitempty" json:"services,omitempty"`
	Config   map[string]any `yaml:"config,omitempty" json:"config,omitempty"`
	Ports    map[string]any `yaml:"ports,omitempty" json:"ports,omitempty"`
	Metadata bt.Metadata    `yaml:"metadata,omitempty" json:"metadata,omitempty"`
}

// Service attaches a periodic side task to its node.
type Service struct {
	Type     string         `yaml:"type" json:"type"`
	Name     string         `yaml:"name,omitempty" json:"name,omitempty"`
	Interval string         `yaml:"interval,omitempty" json:"interval,omitempty"`
	Config   map[string]any `yaml:"config,omitempty" json:"config,omitempty"`
}

// Link is a data-flow connection from an output port to an input port.
type Link struct {
	From port.Link `yaml:"from" json:"from"`
	To   port.Link `yaml:"to" json:"to"`
}

// Tree looks up a tree by id.
func (d *Document) Tree(id string) (*Tree, bool) {
	for i := range d.Trees {
		if d.Trees[i].ID == id {
			return &d.Trees[i], true
		}
	}
	return nil, false
}

// Node looks up a node by id.
func (t *Tree) Node(id string) (*Node, bool) {
	for i := range t.Nodes {
		if t.Nodes[i].ID == id {
			return &t.Nodes[i], true
		}
	}
	return nil, false
}
