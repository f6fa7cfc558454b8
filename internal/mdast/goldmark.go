package mdast

import (
	"bytes"
	"cmp"
	"slices"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/extension"
	extast "github.com/yuin/goldmark/extension/ast"
	"github.com/yuin/goldmark/parser"
	"github.com/yuin/goldmark/text"
)

// Reference types for imageReference nodes.
const (
	ReferenceFull      = "full"
	ReferenceCollapsed = "collapsed"
	ReferenceShortcut  = "shortcut"
)

// Parser converts markdown source into a document tree using goldmark with
// the GFM extensions enabled.
type Parser struct {
	md goldmark.Markdown
}

// NewParser creates a Parser.
func NewParser() *Parser {
	md := goldmark.New(
		goldmark.WithExtensions(
			extension.GFM,
		),
	)
	return &Parser{md: md}
}

// Parse converts markdown source into a root node. Raw HTML, both block and
// inline, becomes jsx nodes. Link reference definitions, which goldmark keeps
// out of its tree, are appended to the root as definition nodes, and images
// written in reference form become imageReference nodes.
func (p *Parser) Parse(source []byte) *Node {
	pc := parser.NewContext()
	doc := p.md.Parser().Parse(text.NewReader(source), parser.WithContext(pc))

	c := &converter{source: source, lines: lineStarts(source)}
	root := &Node{Type: KindRoot, Children: c.children(doc)}

	refs := pc.References()
	slices.SortFunc(refs, func(a, b parser.Reference) int {
		return cmp.Compare(string(a.Label()), string(b.Label()))
	})
	for _, ref := range refs {
		root.Children = append(root.Children, &Node{
			Type:       KindDefinition,
			Identifier: NormalizeIdentifier(string(ref.Label())),
			Label:      string(ref.Label()),
			URL:        string(ref.Destination()),
			Title:      string(ref.Title()),
		})
	}
	return root
}

// Parse converts markdown source into a document tree with a default Parser.
func Parse(source []byte) *Node {
	return NewParser().Parse(source)
}

type converter struct {
	source []byte
	lines  []int // byte offset of the start of each line
}

func (c *converter) children(n ast.Node) []*Node {
	var out []*Node
	for child := n.FirstChild(); child != nil; child = child.NextSibling() {
		out = append(out, c.convert(child)...)
	}
	return out
}

// convert maps one goldmark node to zero or more tree nodes. A text node with
// a hard line break yields the text followed by a break node.
func (c *converter) convert(n ast.Node) []*Node {
	switch v := n.(type) {
	case *ast.Text:
		value := string(v.Segment.Value(c.source))
		if v.SoftLineBreak() {
			value += "\n"
		}
		out := []*Node{{Type: KindText, Value: value, Position: c.position(v.Segment.Start)}}
		if v.HardLineBreak() {
			out = append(out, &Node{Type: "break"})
		}
		return out
	case *ast.String:
		return []*Node{{Type: KindText, Value: string(v.Value)}}
	case *ast.Heading:
		return []*Node{{Type: "heading", Depth: v.Level, Children: c.children(v), Position: c.blockPosition(v)}}
	case *ast.Paragraph, *ast.TextBlock:
		return []*Node{{Type: KindParagraph, Children: c.children(v), Position: c.blockPosition(v)}}
	case *ast.FencedCodeBlock:
		return []*Node{{Type: "code", Lang: string(v.Language(c.source)), Value: c.lineText(v), Position: c.blockPosition(v)}}
	case *ast.CodeBlock:
		return []*Node{{Type: "code", Value: c.lineText(v), Position: c.blockPosition(v)}}
	case *ast.HTMLBlock:
		value := c.lineText(v)
		if v.HasClosure() {
			value += "\n" + strings.TrimRight(string(v.ClosureLine.Value(c.source)), "\n")
		}
		return []*Node{{Type: KindJSX, Value: value, Position: c.blockPosition(v)}}
	case *ast.RawHTML:
		var buf bytes.Buffer
		for i := 0; i < v.Segments.Len(); i++ {
			seg := v.Segments.At(i)
			buf.Write(seg.Value(c.source))
		}
		node := &Node{Type: KindJSX, Value: buf.String()}
		if v.Segments.Len() > 0 {
			node.Position = c.position(v.Segments.At(0).Start)
		}
		return []*Node{node}
	case *ast.Emphasis:
		kind := "emphasis"
		if v.Level == 2 {
			kind = "strong"
		}
		return []*Node{{Type: kind, Children: c.children(v)}}
	case *ast.CodeSpan:
		return []*Node{{Type: "inlineCode", Value: plainText(v, c.source)}}
	case *ast.Link:
		return []*Node{{Type: KindLink, URL: string(v.Destination), Title: string(v.Title), Children: c.children(v)}}
	case *ast.AutoLink:
		return []*Node{{
			Type:     KindLink,
			URL:      string(v.URL(c.source)),
			Children: []*Node{{Type: KindText, Value: string(v.Label(c.source))}},
		}}
	case *ast.Image:
		return []*Node{c.image(v)}
	case *ast.List:
		return []*Node{{Type: "list", Ordered: v.IsOrdered(), Start: v.Start, Children: c.children(v)}}
	case *extast.Strikethrough:
		return []*Node{{Type: "delete", Children: c.children(v)}}
	}

	node := &Node{Type: kindName(n.Kind()), Children: c.children(n)}
	if n.Type() == ast.TypeBlock {
		node.Position = c.blockPosition(n)
	}
	return []*Node{node}
}

// image converts an image, telling inline images apart from reference images
// by looking at the source after the closing bracket of the alt text.
func (c *converter) image(v *ast.Image) *Node {
	alt := plainText(v, c.source)
	start, stop, ok := textSpan(v)
	node := &Node{
		Type:  KindImage,
		URL:   string(v.Destination),
		Title: string(v.Title),
		Alt:   alt,
	}
	if !ok {
		return node
	}
	node.Position = c.position(start)

	closing := indexUnescaped(c.source, stop, ']')
	if closing < 0 {
		return node
	}
	next := closing + 1
	switch {
	case next < len(c.source) && c.source[next] == '(':
		return node
	case next < len(c.source) && c.source[next] == '[':
		end := indexUnescaped(c.source, next+1, ']')
		if end < 0 {
			return node
		}
		label := string(c.source[next+1 : end])
		node.ReferenceType = ReferenceFull
		if strings.TrimSpace(label) == "" {
			label = c.altLabel(start, closing)
			node.ReferenceType = ReferenceCollapsed
		}
		node.Label = label
	default:
		node.Label = c.altLabel(start, closing)
		node.ReferenceType = ReferenceShortcut
	}

	// The definition table is the single source of url and title for
	// reference images, so they are cleared here.
	node.Type = KindImageReference
	node.Identifier = NormalizeIdentifier(node.Label)
	node.URL = ""
	node.Title = ""
	return node
}

// altLabel returns the raw source between "![" and the closing bracket, which
// is the label of collapsed and shortcut references.
func (c *converter) altLabel(textStart, closing int) string {
	open := textStart
	for open >= 2 && !(c.source[open-2] == '!' && c.source[open-1] == '[') {
		open--
	}
	if open < 2 {
		return ""
	}
	return string(c.source[open:closing])
}

func (c *converter) lineText(n ast.Node) string {
	var buf bytes.Buffer
	lines := n.Lines()
	for i := 0; i < lines.Len(); i++ {
		line := lines.At(i)
		buf.Write(line.Value(c.source))
	}
	return strings.TrimRight(buf.String(), "\n")
}

func (c *converter) blockPosition(n ast.Node) *Position {
	lines := n.Lines()
	if lines == nil || lines.Len() == 0 {
		return nil
	}
	return c.position(lines.At(0).Start)
}

// position converts a byte offset into a 1-based line and column.
func (c *converter) position(offset int) *Position {
	line, _ := slices.BinarySearch(c.lines, offset+1)
	return &Position{Start: Point{
		Line:   line,
		Column: offset - c.lines[line-1] + 1,
		Offset: offset,
	}}
}

func lineStarts(source []byte) []int {
	starts := []int{0}
	for i, b := range source {
		if b == '\n' {
			starts = append(starts, i+1)
		}
	}
	return starts
}

// textSpan returns the smallest start and largest stop offsets of the text
// segments below n.
func textSpan(n ast.Node) (start, stop int, ok bool) {
	start = -1
	_ = ast.Walk(n, func(child ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		if t, isText := child.(*ast.Text); isText {
			if start < 0 || t.Segment.Start < start {
				start = t.Segment.Start
			}
			if t.Segment.Stop > stop {
				stop = t.Segment.Stop
			}
		}
		return ast.WalkContinue, nil
	})
	return start, stop, start >= 0
}

// plainText collects the text of every descendant of n.
func plainText(n ast.Node, source []byte) string {
	var buf strings.Builder
	for c := n.FirstChild(); c != nil; c = c.NextSibling() {
		switch t := c.(type) {
		case *ast.Text:
			buf.Write(t.Segment.Value(source))
			if t.SoftLineBreak() {
				buf.WriteByte(' ')
			}
		case *ast.String:
			buf.Write(t.Value)
		default:
			buf.WriteString(plainText(c, source))
		}
	}
	return buf.String()
}

// indexUnescaped returns the index of the first b at or after from that is
// not preceded by a backslash, or -1.
func indexUnescaped(source []byte, from int, b byte) int {
	for i := from; i < len(source); i++ {
		switch source[i] {
		case '\\':
			i++
		case b:
			return i
		case '\n':
			if i+1 < len(source) && source[i+1] == '\n' {
				return -1
			}
		}
	}
	return -1
}

// kindName turns a goldmark kind such as "ThematicBreak" into the mdast
// style "thematicBreak".
func kindName(k ast.NodeKind) string {
	s := k.String()
	if s == "" {
		return s
	}
	return strings.ToLower(s[:1]) + s[1:]
}
