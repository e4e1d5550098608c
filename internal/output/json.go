package output

import (
	"bufio"
	"encoding/json"
	"io"
)

// JSONEncoder writes JSON output.
type JSONEncoder struct {
	w      *bufio.Writer
	pretty bool
	indent string
}

// NewJSONEncoder creates a JSON encoder.
func NewJSONEncoder(w io.Writer, pretty bool, indent string) *JSONEncoder {
	return &JSONEncoder{
		w:      bufio.NewWriter(w),
		pretty: pretty,
		indent: indent,
	}
}

// Encode writes v followed by a newline.
func (e *JSONEncoder) Encode(v any) error {
	var output []byte
	var err error
	if e.pretty {
		output, err = json.MarshalIndent(v, "", e.indent)
	} else {
		output, err = json.Marshal(v)
	}
	if err != nil {
		return err
	}

	if _, err := e.w.Write(output); err != nil {
		return err
	}
	if _, err := e.w.WriteString("\n"); err != nil {
		return err
	}

	return e.w.Flush()
}
