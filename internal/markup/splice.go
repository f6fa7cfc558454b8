package markup

import (
	"cmp"
	"slices"
)

// Insertion is a piece of text to insert at a byte offset of the original
// string.
type Insertion struct {
	Offset int
	Text   string
}

// InsertAt returns s with value inserted before byte index. An index outside
// s is clamped to its bounds.
func InsertAt(s string, index int, value string) string {
	index = max(0, min(index, len(s)))
	return s[:index] + value + s[index:]
}

// Apply inserts every edit into s. Offsets refer to the original s; edits are
// applied from the highest offset down so pending offsets stay valid.
func Apply(s string, edits []Insertion) string {
	if len(edits) == 0 {
		return s
	}
	sorted := slices.Clone(edits)
	slices.SortStableFunc(sorted, func(a, b Insertion) int {
		return cmp.Compare(b.Offset, a.Offset)
	})
	for _, e := range sorted {
		s = InsertAt(s, e.Offset, e.Text)
	}
	return s
}
