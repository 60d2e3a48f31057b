// Package output renders CLI listings.
package output

import (
	"encoding/json"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/nmtlab/nmtgate/internal/keystore"
	"github.com/nmtlab/nmtgate/internal/share"
)

// Format represents an output format.
type Format string

const (
	FormatTable    Format = "table"
	FormatJSON     Format = "json"
	FormatYAML     Format = "yaml"
	FormatMarkdown Format = "markdown"
)

// Formatter renders key and share listings.
type Formatter interface {
	FormatKeys(keys []keystore.Redacted) (string, error)
	FormatShares(shares []share.Summary) (string, error)
}

// ParseFormat validates and normalizes a format string.
func ParseFormat(value string) (Format, error) {
	normalized := strings.ToLower(strings.TrimSpace(value))
	switch normalized {
	case "", string(FormatTable):
		return FormatTable, nil
	case string(FormatJSON):
		return FormatJSON, nil
	case string(FormatYAML), "yml":
		return FormatYAML, nil
	case string(FormatMarkdown), "md":
		return FormatMarkdown, nil
	default:
		return "", fmt.Errorf("unsupported output format: %s", value)
	}
}

// NewFormatter returns a formatter for the requested format.
func NewFormatter(format Format) Formatter {
	switch format {
	case FormatJSON:
		return &JSONFormatter{Indent: true}
	case FormatYAML:
		return &YAMLFormatter{}
	case FormatMarkdown:
		return &TableFormatter{Markdown: true}
	default:
		return &TableFormatter{}
	}
}

// JSONFormatter renders listings as JSON.
type JSONFormatter struct {
	Indent bool
}

func (f *JSONFormatter) FormatKeys(keys []keystore.Redacted) (string, error) {
	if keys == nil {
		keys = []keystore.Redacted{}
	}
	return f.encode(keys)
}

func (f *JSONFormatter) FormatShares(shares []share.Summary) (string, error) {
	if shares == nil {
		shares = []share.Summary{}
	}
	return f.encode(shares)
}

func (f *JSONFormatter) encode(v any) (string, error) {
	var (
		data []byte
		err  error
	)
	if f.Indent {
		data, err = json.MarshalIndent(v, "", "  ")
	} else {
		data, err = json.Marshal(v)
	}
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// YAMLFormatter renders listings as YAML.
type YAMLFormatter struct{}

func (YAMLFormatter) FormatKeys(keys []keystore.Redacted) (string, error) {
	return encodeYAML(keys)
}

func (YAMLFormatter) FormatShares(shares []share.Summary) (string, error) {
	return encodeYAML(shares)
}

func encodeYAML(v any) (string, error) {
	data, err := yaml.Marshal(v)
	if err != nil {
		return "", err
	}
	return strings.TrimRight(string(data), "\n"), nil
}
