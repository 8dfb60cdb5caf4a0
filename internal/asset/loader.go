package asset

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Load reads a tree document from a .json, .yaml or .yml file.
func Load(path string) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read tree asset: %w", err)
	}

	format := "yaml"
	if strings.EqualFold(filepath.Ext(path), ".json") {
		format = "json"
	}
	return Parse(data, format)
}

// Parse decodes a tree document in the given format ("yaml" or "json").
func Parse(data []byte, format string) (*Document, error) {
	var doc Document
	switch format {
	case "json":
		dec := json.NewDecoder(bytes.NewReader(data))
		dec.UseNumber()
		if err := dec.Decode(&doc); err != nil {
			return nil, fmt.Errorf("failed to parse tree asset JSON: %w", err)
		}
		normalizeDocument(&doc)
	case "yaml":
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("failed to parse tree asset YAML: %w", err)
		}
	default:
		return nil, fmt.Errorf("unknown tree asset format: %s", format)
	}

	if doc.Version != 1 {
		return nil, fmt.Errorf("unsupported tree asset version: %d", doc.Version)
	}

	return &doc, nil
}

// normalizeDocument replaces json.Number values in the loosely typed maps
// with int or float64, the types yaml.v3 produces for the same literals.
func normalizeDocument(doc *Document) {
	for i := range doc.Trees {
		t := &doc.Trees[i]
		normalizeMap(t.Blackboard)
		for j := range t.Nodes {
			n := &t.Nodes[j]
			normalizeMap(n.Config)
			normalizeMap(n.Ports)
			for k := range n.Services {
				normalizeMap(n.Services[k].Config)
			}
		}
	}
}

func normalizeMap(m map[string]any) {
	for k, v := range m {
		m[k] = normalizeNumber(v)
	}
}

func normalizeNumber(v any) any {
	switch v := v.(type) {
	case json.Number:
		if i, err := strconv.ParseInt(v.String(), 10, 0); err == nil {
			return int(i)
		}
		if f, err := v.Float64(); err == nil {
			return f
		}
		return v.String()
	case []any:
		for i := range v {
			v[i] = normalizeNumber(v[i])
		}
	case map[string]any:
		normalizeMap(v)
	}
	return v
}
