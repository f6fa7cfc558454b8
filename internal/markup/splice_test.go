package markup

import (
	"strings"
	"testing"
)

func TestInsertAt(t *testing.T) {
	tests := []struct {
		s     string
		index int
		value string
		want  string
	}{
		{"<Img/>", 4, " a", "<Img a/>"},
		{"abc", 0, "X", "Xabc"},
		{"abc", 3, "X", "abcX"},
		{"abc", -5, "X", "Xabc"},
		{"abc", 99, "X", "abcX"},
	}
	for _, tt := range tests {
		if got := InsertAt(tt.s, tt.index, tt.value); got != tt.want {
			t.Errorf("InsertAt(%q, %d, %q) = %q, want %q", tt.s, tt.index, tt.value, got, tt.want)
		}
	}
}

func TestApplyKeepsOffsetsValid(t *testing.T) {
	raw := `<Img src="a.png" /> mid <Img src="bb.png" alt="x"/> tail <Img src="ccc.png"></Img>`
	tags := Scan(raw, "Img")
	if len(tags) != 3 {
		t.Fatalf("expected 3 tags, got %d", len(tags))
	}

	attrs := []string{` m={1}`, ` m={"two":2}`, ` m={"three":[3,3,3]}`}
	var edits []Insertion
	for i, tag := range tags {
		edits = append(edits, Insertion{Offset: tag.NameEnd(), Text: attrs[i]})
	}

	got := Apply(raw, edits)
	want := `<Img m={1} src="a.png" /> mid <Img m={"two":2} src="bb.png" alt="x"/> tail <Img m={"three":[3,3,3]} src="ccc.png"></Img>`
	if got != want {
		t.Errorf("Apply() =\n%s\nwant\n%s", got, want)
	}

	// Edits given in any order produce the same result.
	reversed := []Insertion{edits[1], edits[2], edits[0]}
	if again := Apply(raw, reversed); again != want {
		t.Errorf("Apply() depends on edit order:\n%s", again)
	}

	if !strings.Contains(got, " mid ") || !strings.HasSuffix(got, "</Img>") {
		t.Error("content between tags was not preserved")
	}
}

func TestApplyNoEdits(t *testing.T) {
	if got := Apply("unchanged", nil); got != "unchanged" {
		t.Errorf("Apply() = %q", got)
	}
}
