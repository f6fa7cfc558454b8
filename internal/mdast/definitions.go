package mdast

import (
	"strings"

	"golang.org/x/text/cases"
)

// fold performs Unicode case folding as CommonMark requires for label
// matching. cases.Caser is stateful, so each call gets its own.
func fold(s string) string {
	return cases.Fold().String(s)
}

// NormalizeIdentifier maps a reference label to its lookup key: surrounding
// whitespace trimmed, inner whitespace runs collapsed to one space, and the
// result case folded.
func NormalizeIdentifier(label string) string {
	return fold(strings.Join(strings.Fields(label), " "))
}

// Definitions is a document-wide table from reference identifier to the
// definition node that declares it.
type Definitions struct {
	byID map[string]*Node
}

// CollectDefinitions walks root once and records every definition node. When
// an identifier is defined twice the first definition in document order wins.
func CollectDefinitions(root *Node) *Definitions {
	d := &Definitions{byID: make(map[string]*Node)}
	Walk(root, func(n, _ *Node) bool {
		if n.Type != KindDefinition {
			return true
		}
		id := NormalizeIdentifier(n.Identifier)
		if id == "" {
			id = NormalizeIdentifier(n.Label)
		}
		if _, dup := d.byID[id]; !dup && id != "" {
			d.byID[id] = n
		}
		return true
	})
	return d
}

// Lookup returns the definition for identifier, if any.
func (d *Definitions) Lookup(identifier string) (*Node, bool) {
	def, ok := d.byID[NormalizeIdentifier(identifier)]
	return def, ok
}

// Len returns the number of distinct identifiers in the table.
func (d *Definitions) Len() int {
	return len(d.byID)
}
