// Package markup finds element tags inside raw embedded markup and edits that
// markup by byte offset without reflowing anything else.
package markup

import (
	"strconv"
	"strings"

	"golang.org/x/net/html"
)

// Tag is one opening (or self-closing) tag found in raw markup.
type Tag struct {
	// Name is the tag name exactly as written in the source.
	Name string
	// Start is the byte offset of the tag's '<'.
	Start int
	// End is the byte offset just past the tag's '>'.
	End int
	// Attrs holds attribute values keyed by lower-cased attribute name.
	// Values have character references decoded.
	Attrs map[string]string
	// SelfClosing is set for tags written as <Name ... />.
	SelfClosing bool
}

// Attr returns the value of the named attribute and whether it is present.
func (t Tag) Attr(name string) (string, bool) {
	v, ok := t.Attrs[strings.ToLower(name)]
	return v, ok
}

// NameEnd returns the offset just past the tag name, which is where new
// attributes are inserted.
func (t Tag) NameEnd() int {
	return t.Start + len(t.Name) + 1
}

// Scan returns every opening tag named name in raw, in document order. Name
// matching is case-sensitive as in JSX, so Img does not match img.
//
// Attribute values may be quoted strings or JSX expressions in braces. An
// expression value is returned without its outer braces, and a string literal
// expression such as {"./a.png"} is unquoted.
func Scan(raw, name string) []Tag {
	if name == "" {
		return nil
	}
	var tags []Tag
	z := html.NewTokenizer(strings.NewReader(maskExpressions(raw)))
	offset := 0
	for {
		tt := z.Next()
		if tt == html.ErrorToken {
			return tags
		}
		start := offset
		offset += len(z.Raw())

		if tt != html.StartTagToken && tt != html.SelfClosingTagToken {
			continue
		}
		// <Title /> or <Style> is a component, not a raw-text element, and
		// a self-closing tag has no content at all.
		if tt == html.SelfClosingTagToken || !isLower(sourceName(raw, start)) {
			z.NextIsNotRawText()
		}
		if !hasName(raw, start, name) {
			continue
		}
		tags = append(tags, Tag{
			Name:        name,
			Start:       start,
			End:         offset,
			Attrs:       parseAttrs(raw[start+1+len(name) : offset]),
			SelfClosing: tt == html.SelfClosingTagToken,
		})
	}
}

// hasName reports whether the tag starting at raw[start] ('<') is spelled
// exactly name followed by a tag-name terminator.
func hasName(raw string, start int, name string) bool {
	end := start + 1 + len(name)
	if end > len(raw) || raw[start+1:end] != name {
		return false
	}
	return end == len(raw) || isTerminator(raw[end])
}

func isTerminator(c byte) bool {
	switch c {
	case ' ', '\t', '\n', '\r', '\f', '/', '>':
		return true
	}
	return false
}

func isSpace(c byte) bool {
	switch c {
	case ' ', '\t', '\n', '\r', '\f':
		return true
	}
	return false
}

// sourceName returns the tag name as written at raw[start] ('<').
func sourceName(raw string, start int) string {
	end := start + 1
	for end < len(raw) && !isTerminator(raw[end]) {
		end++
	}
	return raw[start+1 : end]
}

func isLower(s string) bool {
	return s == strings.ToLower(s)
}

// maskExpressions replaces every brace expression used as an attribute
// value with a quoted run of the same byte length, so the tokenizer sees an
// ordinary quoted attribute and reports offsets that are valid in raw. Text
// outside tags and quoted values are left alone.
func maskExpressions(raw string) string {
	var b []byte
	inTag := false
	for i := 0; i < len(raw); i++ {
		c := raw[i]
		if !inTag {
			if c == '<' && i+1 < len(raw) && isLetter(raw[i+1]) {
				inTag = true
			}
			continue
		}
		switch c {
		case '>':
			inTag = false
		case '"', '\'':
			if end := strings.IndexByte(raw[i+1:], c); end >= 0 {
				i += end + 1
			}
		case '=':
			j := i + 1
			for j < len(raw) && isSpace(raw[j]) {
				j++
			}
			if j >= len(raw) || raw[j] != '{' {
				continue
			}
			end := closingBrace(raw, j)
			if end < 0 {
				continue
			}
			if b == nil {
				b = []byte(raw)
			}
			b[j], b[end] = '"', '"'
			for k := j + 1; k < end; k++ {
				b[k] = 'x'
			}
			i = end
		}
	}
	if b == nil {
		return raw
	}
	return string(b)
}

func isLetter(c byte) bool {
	return 'a' <= c && c <= 'z' || 'A' <= c && c <= 'Z'
}

// closingBrace returns the index of the brace closing the one at s[open],
// skipping string literals, or -1 when it is never closed.
func closingBrace(s string, open int) int {
	depth := 0
	for i := open; i < len(s); i++ {
		switch c := s[i]; c {
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return i
			}
		case '"', '\'', '`':
			for i++; i < len(s) && s[i] != c; i++ {
				if s[i] == '\\' {
					i++
				}
			}
		}
	}
	return -1
}

// parseAttrs reads the attributes of a tag from the text between its name
// and its closing '>'. Keys are lower-cased; the first occurrence wins.
func parseAttrs(s string) map[string]string {
	attrs := make(map[string]string)
	i := 0
	for i < len(s) {
		for i < len(s) && (isSpace(s[i]) || s[i] == '/') {
			i++
		}
		if i >= len(s) || s[i] == '>' {
			break
		}

		start := i
		for i < len(s) && !isSpace(s[i]) && s[i] != '=' && s[i] != '>' && s[i] != '/' {
			i++
		}
		key := strings.ToLower(s[start:i])
		if key == "" {
			// A stray '=' or similar; skip it.
			i++
			continue
		}

		j := i
		for j < len(s) && isSpace(s[j]) {
			j++
		}
		var val string
		if j < len(s) && s[j] == '=' {
			i = j + 1
			for i < len(s) && isSpace(s[i]) {
				i++
			}
			val, i = attrValue(s, i)
		}
		if _, dup := attrs[key]; !dup {
			attrs[key] = val
		}
	}
	return attrs
}

// attrValue reads the attribute value starting at s[i] and returns it with
// the index just past it.
func attrValue(s string, i int) (string, int) {
	if i >= len(s) {
		return "", i
	}
	switch q := s[i]; q {
	case '"', '\'':
		end := strings.IndexByte(s[i+1:], q)
		if end < 0 {
			return html.UnescapeString(s[i+1:]), len(s)
		}
		return html.UnescapeString(s[i+1 : i+1+end]), i + end + 2
	case '{':
		end := closingBrace(s, i)
		if end < 0 {
			return expression(s[i+1:]), len(s)
		}
		return expression(s[i+1 : end]), end + 1
	}
	start := i
	for i < len(s) && !isSpace(s[i]) && s[i] != '>' {
		i++
	}
	return html.UnescapeString(s[start:i]), i
}

// expression returns the text of a JSX attribute expression, unquoting it
// when it is a single string literal.
func expression(expr string) string {
	expr = strings.TrimSpace(expr)
	if len(expr) >= 2 {
		switch expr[0] {
		case '"', '`':
			if v, err := strconv.Unquote(expr); err == nil {
				return v
			}
		case '\'':
			if expr[len(expr)-1] == '\'' && !strings.ContainsRune(expr[1:len(expr)-1], '\'') {
				return expr[1 : len(expr)-1]
			}
		}
	}
	return expr
}
