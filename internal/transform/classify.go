package transform

import (
	"slices"

	"github.com/aellingwood/fluidimg/internal/mdast"
)

// Classification is the result of one pass over a document tree.
type Classification struct {
	// Markdown holds direct image nodes followed by image reference nodes.
	Markdown []*mdast.Node
	// Markup holds embedded-markup nodes.
	Markup []*mdast.Node
	// Demote holds the parents that may become generic containers, each once,
	// in document order.
	Demote []*mdast.Node
	// Parents maps each matched node to its entry in Demote.
	Parents map[*mdast.Node]*mdast.Node
}

// demoted returns the entries of Demote with at least one rewritten child.
func (c Classification) demoted(rewritten []*mdast.Node) []*mdast.Node {
	hit := make(map[*mdast.Node]bool)
	for _, n := range rewritten {
		if p, ok := c.Parents[n]; ok {
			hit[p] = true
		}
	}
	var out []*mdast.Node
	for _, p := range c.Demote {
		if hit[p] {
			out = append(out, p)
		}
	}
	return out
}

// Classify walks root once and sorts image-bearing nodes into buckets. Every
// image reference gets the url and title of its definition assigned; a
// reference without a definition is left with an empty url and fails
// resolution later.
//
// When demoteParents is set, the parent of every matched node is recorded
// as a demotion candidate unless it is the root or an embedded-markup node.
// A candidate is only demoted once one of its matched children is rewritten.
func Classify(root *mdast.Node, demoteParents bool) Classification {
	var (
		direct, refs, markup []*mdast.Node
		demote               []*mdast.Node
		parents              = make(map[*mdast.Node]*mdast.Node)
	)

	mdast.Walk(root, func(n, parent *mdast.Node) bool {
		switch n.Type {
		case mdast.KindImage:
			direct = append(direct, n)
		case mdast.KindImageReference:
			refs = append(refs, n)
		case mdast.KindJSX:
			markup = append(markup, n)
		default:
			return true
		}
		if demoteParents && parent != nil && parent != root && parent.Type != mdast.KindJSX {
			if !slices.Contains(demote, parent) {
				demote = append(demote, parent)
			}
			parents[n] = parent
		}
		return true
	})

	if len(refs) > 0 {
		defs := mdast.CollectDefinitions(root)
		for _, ref := range refs {
			ref.URL, ref.Title = "", ""
			id := ref.Identifier
			if id == "" {
				id = ref.Label
			}
			if def, ok := defs.Lookup(id); ok {
				ref.URL = def.URL
				ref.Title = def.Title
			}
		}
	}

	return Classification{
		Markdown: append(direct, refs...),
		Markup:   markup,
		Demote:   demote,
		Parents:  parents,
	}
}
