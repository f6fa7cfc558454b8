package mdast

import (
	"bytes"
	"fmt"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// Front matter delimiters.
var (
	yamlDelimiter = []byte("---")
	tomlDelimiter = []byte("+++")
)

// SplitFrontMatter detects and parses front matter at the top of a markdown
// document. YAML uses --- delimiters and TOML uses +++. It returns the parsed
// metadata, the remaining body, and any parse error.
//
// Without front matter it returns nil metadata and the full content as body.
func SplitFrontMatter(raw []byte) (metadata map[string]any, body []byte, err error) {
	trimmed := bytes.TrimLeft(raw, " \t\n\r")

	var delimiter []byte
	var format string

	switch {
	case bytes.HasPrefix(trimmed, yamlDelimiter):
		delimiter = yamlDelimiter
		format = "yaml"
	case bytes.HasPrefix(trimmed, tomlDelimiter):
		delimiter = tomlDelimiter
		format = "toml"
	default:
		return nil, raw, nil
	}

	rest := trimmed[len(delimiter):]
	nlIdx := bytes.IndexByte(rest, '\n')
	if nlIdx == -1 {
		// Only the opening delimiter, no closing one.
		return nil, raw, nil
	}
	rest = rest[nlIdx+1:]

	fm, after, ok := bytes.Cut(rest, delimiter)
	if !ok {
		return nil, raw, fmt.Errorf("closing front matter delimiter %q not found", string(delimiter))
	}

	nlIdx = bytes.IndexByte(after, '\n')
	if nlIdx == -1 {
		body = nil
	} else {
		body = after[nlIdx+1:]
	}

	metadata = make(map[string]any)
	if len(bytes.TrimSpace(fm)) == 0 {
		return metadata, body, nil
	}

	switch format {
	case "yaml":
		if err := yaml.Unmarshal(fm, &metadata); err != nil {
			return nil, nil, fmt.Errorf("parsing YAML front matter: %w", err)
		}
	case "toml":
		if err := toml.Unmarshal(fm, &metadata); err != nil {
			return nil, nil, fmt.Errorf("parsing TOML front matter: %w", err)
		}
	}

	return metadata, body, nil
}
