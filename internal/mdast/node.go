// Package mdast models the markdown document tree that fluidimg rewrites.
//
// The shape follows the mdast/unist JSON format so trees produced by other
// tools can be fed in directly. Parse builds the same shape from markdown
// source with goldmark.
package mdast

import (
	"encoding/json"
	"fmt"
	"io"
	"maps"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"
)

// Node kinds the transform cares about. Any other kind is passed through.
const (
	KindRoot           = "root"
	KindParagraph      = "paragraph"
	KindText           = "text"
	KindImage          = "image"
	KindImageReference = "imageReference"
	KindDefinition     = "definition"
	KindLink           = "link"
	// KindJSX is an embedded-markup node whose Value is raw tag text.
	KindJSX = "jsx"
	// KindContainer is the generic container a parent is demoted to.
	KindContainer = "div"
)

// Node is a single document tree node. Fields that do not apply to a kind are
// left empty.
type Node struct {
	Type          string         `json:"type"                    yaml:"type"`
	Children      []*Node        `json:"children,omitempty"      yaml:"children,omitempty"`
	Value         string         `json:"value,omitempty"         yaml:"value,omitempty"`
	URL           string         `json:"url,omitempty"           yaml:"url,omitempty"`
	Title         string         `json:"title,omitempty"         yaml:"title,omitempty"`
	Alt           string         `json:"alt,omitempty"           yaml:"alt,omitempty"`
	Identifier    string         `json:"identifier,omitempty"    yaml:"identifier,omitempty"`
	Label         string         `json:"label,omitempty"         yaml:"label,omitempty"`
	ReferenceType string         `json:"referenceType,omitempty" yaml:"referenceType,omitempty"`
	Depth         int            `json:"depth,omitempty"         yaml:"depth,omitempty"`
	Ordered       bool           `json:"ordered,omitempty"       yaml:"ordered,omitempty"`
	Start         int            `json:"start,omitempty"         yaml:"start,omitempty"`
	Lang          string         `json:"lang,omitempty"          yaml:"lang,omitempty"`
	Position      *Position      `json:"position,omitempty"      yaml:"position,omitempty"`
	Data          map[string]any `json:"data,omitempty"          yaml:"data,omitempty"`

	// Extra holds decoded keys the fields above do not carry, such as a code
	// block's meta or an mdx element's attributes. They are written back
	// unchanged on encode.
	Extra map[string]json.RawMessage `json:"-" yaml:"-"`
}

type plainNode Node

// emits reports whether encoding n writes key from one of its own fields.
func (n *Node) emits(key string) bool {
	switch key {
	case "type":
		return true
	case "children":
		return len(n.Children) > 0
	case "value":
		return n.Value != ""
	case "url":
		return n.URL != ""
	case "title":
		return n.Title != ""
	case "alt":
		return n.Alt != ""
	case "identifier":
		return n.Identifier != ""
	case "label":
		return n.Label != ""
	case "referenceType":
		return n.ReferenceType != ""
	case "depth":
		return n.Depth != 0
	case "ordered":
		return n.Ordered
	case "start":
		return n.Start != 0
	case "lang":
		return n.Lang != ""
	case "position":
		return n.Position != nil
	case "data":
		return len(n.Data) > 0
	}
	return false
}

// extraKeys returns the keys of Extra not written by n's fields, sorted.
func (n *Node) extraKeys() []string {
	var keys []string
	for k := range n.Extra {
		if !n.emits(k) {
			keys = append(keys, k)
		}
	}
	slices.Sort(keys)
	return keys
}

// UnmarshalJSON decodes a node, keeping every key its fields would not
// write back in Extra. That includes known keys holding zero values, so
// "ordered": false survives a round trip.
func (n *Node) UnmarshalJSON(data []byte) error {
	var p plainNode
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*n = Node(p)
	n.Extra = nil
	for k, v := range raw {
		if n.emits(k) {
			continue
		}
		if n.Extra == nil {
			n.Extra = make(map[string]json.RawMessage)
		}
		n.Extra[k] = v
	}
	return nil
}

// MarshalJSON encodes the node's fields followed by its Extra keys.
func (n Node) MarshalJSON() ([]byte, error) {
	b, err := json.Marshal(plainNode(n))
	if err != nil {
		return nil, err
	}
	keys := n.extraKeys()
	if len(keys) == 0 {
		return b, nil
	}
	b = b[:len(b)-1]
	for _, k := range keys {
		name, err := json.Marshal(k)
		if err != nil {
			return nil, err
		}
		if len(b) > 1 {
			b = append(b, ',')
		}
		b = append(b, name...)
		b = append(b, ':')
		b = append(b, n.Extra[k]...)
	}
	return append(b, '}'), nil
}

// MarshalYAML encodes the node's fields followed by its Extra keys.
func (n Node) MarshalYAML() (any, error) {
	var out yaml.Node
	if err := out.Encode(plainNode(n)); err != nil {
		return nil, err
	}
	for _, k := range n.extraKeys() {
		var v any
		if err := json.Unmarshal(n.Extra[k], &v); err != nil {
			return nil, fmt.Errorf("field %q: %w", k, err)
		}
		var key, value yaml.Node
		key.SetString(k)
		if err := value.Encode(v); err != nil {
			return nil, fmt.Errorf("field %q: %w", k, err)
		}
		out.Content = append(out.Content, &key, &value)
	}
	return &out, nil
}

// Position is the source span of a node.
type Position struct {
	Start Point `json:"start"         yaml:"start"`
	End   Point `json:"end,omitzero"  yaml:"end,omitempty"`
}

// Point is a location in the source. Line and Column are 1-based.
type Point struct {
	Line   int `json:"line"             yaml:"line"`
	Column int `json:"column"           yaml:"column"`
	Offset int `json:"offset,omitempty" yaml:"offset,omitempty"`
}

// String renders the point as line:column.
func (p Point) String() string {
	return fmt.Sprintf("%d:%d", p.Line, p.Column)
}

// Describe returns a short human-readable identification of n for error
// messages, e.g. `image "./a.png" at 3:1`.
func (n *Node) Describe() string {
	var b strings.Builder
	b.WriteString(n.Type)
	switch {
	case n.URL != "":
		fmt.Fprintf(&b, " %q", n.URL)
	case n.Identifier != "":
		fmt.Fprintf(&b, " [%s]", n.Identifier)
	}
	if n.Position != nil {
		b.WriteString(" at ")
		b.WriteString(n.Position.Start.String())
	}
	return b.String()
}

// VisitFunc is called for every node with its parent (nil for the root).
// Returning false skips the node's children.
type VisitFunc func(n, parent *Node) bool

// Walk visits root and its descendants depth-first in document order.
func Walk(root *Node, fn VisitFunc) {
	walk(root, nil, fn)
}

func walk(n, parent *Node, fn VisitFunc) {
	if n == nil {
		return
	}
	if !fn(n, parent) {
		return
	}
	for _, c := range n.Children {
		walk(c, n, fn)
	}
}

// Clone returns a deep copy of n. Data and Extra maps are copied one level
// deep.
func (n *Node) Clone() *Node {
	if n == nil {
		return nil
	}
	c := *n
	if n.Position != nil {
		p := *n.Position
		c.Position = &p
	}
	if n.Data != nil {
		c.Data = make(map[string]any, len(n.Data))
		for k, v := range n.Data {
			c.Data[k] = v
		}
	}
	c.Extra = maps.Clone(n.Extra)
	if n.Children != nil {
		c.Children = make([]*Node, len(n.Children))
		for i, child := range n.Children {
			c.Children[i] = child.Clone()
		}
	}
	return &c
}

// Decode reads a JSON encoded tree.
func Decode(r io.Reader) (*Node, error) {
	var root Node
	if err := json.NewDecoder(r).Decode(&root); err != nil {
		return nil, fmt.Errorf("decoding tree: %w", err)
	}
	if root.Type == "" {
		return nil, fmt.Errorf("decoding tree: root node has no type")
	}
	return &root, nil
}
