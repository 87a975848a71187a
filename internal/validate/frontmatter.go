package validate

import (
	"bytes"
	"errors"
	"fmt"

	"gopkg.in/yaml.v3"
)

var (
	errNoHeader         = errors.New("missing header block (file must start with a --- delimited YAML front matter)")
	errUnterminated     = errors.New("header block is not terminated by a closing ---")
	errHeaderNotMapping = errors.New("header block must be a YAML mapping")
)

// parseHeader extracts the leading YAML front matter of a definition file.
func parseHeader(content []byte) (map[string]interface{}, error) {
	content = bytes.TrimPrefix(content, []byte("\xef\xbb\xbf"))
	content = bytes.ReplaceAll(content, []byte("\r\n"), []byte("\n"))

	if !bytes.HasPrefix(content, []byte("---\n")) {
		return nil, errNoHeader
	}

	rest := content[4:]
	var block []byte
	switch {
	case bytes.HasPrefix(rest, []byte("---\n")) || bytes.Equal(rest, []byte("---")):
		block = nil
	default:
		end := bytes.Index(rest, []byte("\n---\n"))
		if end < 0 {
			if bytes.HasSuffix(rest, []byte("\n---")) {
				end = len(rest) - 4
			} else {
				return nil, errUnterminated
			}
		}
		block = rest[:end]
	}

	header := make(map[string]interface{})
	if len(bytes.TrimSpace(block)) == 0 {
		return header, nil
	}

	var node interface{}
	if err := yaml.Unmarshal(block, &node); err != nil {
		return nil, fmt.Errorf("invalid YAML in header block: %w", err)
	}
	m, ok := node.(map[string]interface{})
	if !ok {
		return nil, errHeaderNotMapping
	}
	return m, nil
}

// stringField returns a trimmed string value and whether the key was present.
func stringField(m map[string]interface{}, key string) (string, bool) {
	v, ok := m[key]
	if !ok || v == nil {
		return "", ok
	}
	switch val := v.(type) {
	case string:
		return trim(val), true
	case int, int64, float64, bool:
		return fmt.Sprint(val), true
	}
	return "", true
}
