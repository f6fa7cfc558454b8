package mdast

import (
	"strings"
	"testing"
)

func TestSplitFrontMatterYAML(t *testing.T) {
	raw := []byte("---\ntitle: Post\nfluid:\n  maxWidth: 400\n---\n![a](a.png)\n")

	meta, body, err := SplitFrontMatter(raw)
	if err != nil {
		t.Fatalf("SplitFrontMatter() error = %v", err)
	}
	if meta["title"] != "Post" {
		t.Errorf("title = %v", meta["title"])
	}
	fluid, ok := meta["fluid"].(map[string]any)
	if !ok || fluid["maxWidth"] != 400 {
		t.Errorf("fluid = %#v", meta["fluid"])
	}
	if string(body) != "![a](a.png)\n" {
		t.Errorf("body = %q", body)
	}
}

func TestSplitFrontMatterTOML(t *testing.T) {
	raw := []byte("+++\ntitle = \"Post\"\n[output]\nwithWebp = true\n+++\nbody\n")

	meta, body, err := SplitFrontMatter(raw)
	if err != nil {
		t.Fatalf("SplitFrontMatter() error = %v", err)
	}
	output, ok := meta["output"].(map[string]any)
	if !ok || output["withWebp"] != true {
		t.Errorf("output = %#v", meta["output"])
	}
	if string(body) != "body\n" {
		t.Errorf("body = %q", body)
	}
}

func TestSplitFrontMatterNone(t *testing.T) {
	raw := []byte("# Just markdown\n")
	meta, body, err := SplitFrontMatter(raw)
	if err != nil || meta != nil || string(body) != string(raw) {
		t.Errorf("got %v, %q, %v", meta, body, err)
	}
}

func TestSplitFrontMatterUnclosed(t *testing.T) {
	_, _, err := SplitFrontMatter([]byte("---\ntitle: x\nno closing\n"))
	if err == nil || !strings.Contains(err.Error(), "closing") {
		t.Errorf("expected closing delimiter error, got %v", err)
	}
}
