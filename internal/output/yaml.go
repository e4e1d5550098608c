package output

import (
	"bufio"
	"io"

	"gopkg.in/yaml.v3"
)

// YAMLEncoder writes YAML output.
type YAMLEncoder struct {
	w      *bufio.Writer
	indent int
}

// NewYAMLEncoder creates a YAML encoder indenting by indent spaces
// (2 when indent < 1).
func NewYAMLEncoder(w io.Writer, indent int) *YAMLEncoder {
	if indent < 1 {
		indent = 2
	}
	return &YAMLEncoder{
		w:      bufio.NewWriter(w),
		indent: indent,
	}
}

// Encode writes v as a single YAML document.
func (e *YAMLEncoder) Encode(v any) error {
	encoder := yaml.NewEncoder(e.w)
	encoder.SetIndent(e.indent)

	if err := encoder.Encode(v); err != nil {
		return err
	}
	if err := encoder.Close(); err != nil {
		return err
	}

	return e.w.Flush()
}
