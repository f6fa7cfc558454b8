package transform

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/yuin/goldmark/util"

	"github.com/aellingwood/fluidimg/internal/config"
	"github.com/aellingwood/fluidimg/internal/errors"
	"github.com/aellingwood/fluidimg/internal/image"
	"github.com/aellingwood/fluidimg/internal/markup"
	"github.com/aellingwood/fluidimg/internal/mdast"
)

// Inline option attributes read from matched tags.
const (
	// OptionsAttribute carries {"fluid": {...}, "output": {...}} as JSON.
	OptionsAttribute = "image-options"
	// LegacyOptionsAttribute carries a flat sizing object as JSON.
	LegacyOptionsAttribute = "fluid"
)

// mutateMarkdown computes the replacement of a direct image or image
// reference node. A nil edit means the node stays as it is.
func (t *Transformer) mutateMarkdown(ctx context.Context, doc Document, cfg config.Config, node *mdast.Node) (func(), error) {
	md, err := t.derive(ctx, doc, cfg, node.URL)
	if err != nil {
		return nil, fail(doc, node.Describe(), err)
	}
	if md == nil {
		return nil, nil
	}

	tag, err := synthesize(cfg, node.Alt, node.Title, md)
	if err != nil {
		return nil, fail(doc, node.Describe(), err)
	}
	t.logger.Debug("rewrote image", "document", doc.name(), "src", node.URL, "element", cfg.ElementName)

	return func() {
		*node = mdast.Node{
			Type:     mdast.KindJSX,
			Value:    tag,
			Position: node.Position,
			Data:     node.Data,
		}
	}, nil
}

// markupResult is the outcome of processing one embedded-markup node.
type markupResult struct {
	edit      func()
	tags      int
	rewritten int
}

// mutateMarkup computes the new raw text of an embedded-markup node. Tags are
// handled from the last to the first so each insertion leaves the offsets of
// the tags before it valid.
func (t *Transformer) mutateMarkup(ctx context.Context, doc Document, cfg config.Config, node *mdast.Node) (markupResult, error) {
	tags := markup.Scan(node.Value, cfg.ElementName)
	res := markupResult{tags: len(tags)}

	var edits []markup.Insertion
	for i := len(tags) - 1; i >= 0; i-- {
		tag := tags[i]
		where := fmt.Sprintf("%s <%s> at byte %d", node.Describe(), tag.Name, tag.Start)

		// Already rewritten.
		if _, ok := tag.Attr(cfg.MetadataAttribute); ok {
			continue
		}

		layers, err := inlineLayers(tag)
		if err != nil {
			return res, fail(doc, where, err)
		}
		occurrence := cfg
		if len(layers) > 0 {
			occurrence = config.Merge(cfg, layers...)
		}

		src, _ := tag.Attr("src")
		md, err := t.derive(ctx, doc, occurrence, src)
		if err != nil {
			return res, fail(doc, where, err)
		}
		if md == nil {
			continue
		}

		attr, err := metadataAttr(cfg.MetadataAttribute, md)
		if err != nil {
			return res, fail(doc, where, err)
		}
		edits = append(edits, markup.Insertion{Offset: tag.NameEnd(), Text: " " + attr})
		t.logger.Debug("rewrote tag", "document", doc.name(), "src", src, "offset", tag.Start)
	}

	if len(edits) == 0 {
		return res, nil
	}
	value := markup.Apply(node.Value, edits)
	res.rewritten = len(edits)
	res.edit = func() { node.Value = value }
	return res, nil
}

// inlineLayers parses the per-occurrence options of tag. The legacy sizing
// attribute is applied below the structured one when both are present.
func inlineLayers(tag markup.Tag) ([]config.Layer, error) {
	var layers []config.Layer

	if raw, ok := tag.Attr(LegacyOptionsAttribute); ok {
		var sizing config.Values
		if err := json.Unmarshal([]byte(raw), &sizing); err != nil {
			return nil, errors.Wrap(errors.ErrCodeInvalidOptions, err, "parsing %s attribute %q", LegacyOptionsAttribute, raw)
		}
		layers = append(layers, config.Layer{Fluid: sizing})
	}

	if raw, ok := tag.Attr(OptionsAttribute); ok {
		var opts struct {
			Fluid  config.Values `json:"fluid"`
			Output config.Values `json:"output"`
		}
		if err := json.Unmarshal([]byte(raw), &opts); err != nil {
			return nil, errors.Wrap(errors.ErrCodeInvalidOptions, err, "parsing %s attribute %q", OptionsAttribute, raw)
		}
		layers = append(layers, config.Layer{Fluid: opts.Fluid, Output: opts.Output})
	}

	return layers, nil
}

// synthesize builds the tag that replaces a markdown image:
//
//	<Img alt="Cat" title="A cat" metadata={{...}}></Img>
//
// alt and title are omitted when empty.
func synthesize(cfg config.Config, alt, title string, md *image.Metadata) (string, error) {
	attr, err := metadataAttr(cfg.MetadataAttribute, md)
	if err != nil {
		return "", err
	}

	var b bytes.Buffer
	b.WriteString("<")
	b.WriteString(cfg.ElementName)
	if alt != "" {
		b.WriteString(` alt="`)
		b.Write(util.EscapeHTML([]byte(alt)))
		b.WriteString(`"`)
	}
	if title != "" {
		b.WriteString(` title="`)
		b.Write(util.EscapeHTML([]byte(title)))
		b.WriteString(`"`)
	}
	b.WriteString(" ")
	b.WriteString(attr)
	b.WriteString("></")
	b.WriteString(cfg.ElementName)
	b.WriteString(">")
	return b.String(), nil
}

// metadataAttr renders name={JSON}. encoding/json escapes <, > and & so the
// value cannot close the surrounding tag.
func metadataAttr(name string, md *image.Metadata) (string, error) {
	data, err := json.Marshal(md)
	if err != nil {
		return "", errors.Wrap(errors.ErrCodeInternal, err, "encoding image metadata")
	}
	return name + "={" + string(data) + "}", nil
}
