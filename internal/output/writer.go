// Package output handles run summary formatting and writing.
package output

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// Format represents output format types.
type Format string

const (
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
)

// ParseFormat accepts a format name case-insensitively; "yml" means YAML.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "json":
		return FormatJSON, nil
	case "yaml", "yml":
		return FormatYAML, nil
	default:
		return "", fmt.Errorf("unsupported output format: %s", s)
	}
}

// Extension returns the file extension for the format, with its dot.
func (f Format) Extension() string {
	if f == FormatYAML {
		return ".yaml"
	}
	return ".json"
}

// Encoder serializes one document.
type Encoder interface {
	// Encode writes v as a complete document.
	Encode(v any) error
}

// EncoderOption configures an encoder.
type EncoderOption func(*encoderConfig)

type encoderConfig struct {
	pretty bool
	indent string
}

// WithPretty enables pretty-printing.
func WithPretty(enabled bool) EncoderOption {
	return func(c *encoderConfig) {
		c.pretty = enabled
	}
}

// WithIndent sets the indentation string.
func WithIndent(indent string) EncoderOption {
	return func(c *encoderConfig) {
		c.indent = indent
	}
}

// NewEncoder creates an encoder for the specified format.
func NewEncoder(w io.Writer, format Format, opts ...EncoderOption) (Encoder, error) {
	cfg := &encoderConfig{
		pretty: true,
		indent: "  ",
	}
	for _, opt := range opts {
		opt(cfg)
	}

	switch format {
	case FormatJSON:
		return NewJSONEncoder(w, cfg.pretty, cfg.indent), nil
	case FormatYAML:
		return NewYAMLEncoder(w, len(cfg.indent)), nil
	default:
		return nil, fmt.Errorf("unsupported output format: %s", format)
	}
}

// WriteFile encodes v to path. The document is written to a temporary file
// in the same directory and renamed into place, so readers never see a
// partial file.
func WriteFile(path string, format Format, v any, opts ...EncoderOption) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	defer func() { _ = os.Remove(tmp.Name()) }()

	enc, err := NewEncoder(tmp, format, opts...)
	if err != nil {
		_ = tmp.Close()
		return err
	}
	if err := enc.Encode(v); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("encode %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}
