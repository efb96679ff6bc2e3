// Package output provides formatters for displaying volumes and pools in
// various formats (table, YAML, JSON).
package output

import (
	"fmt"

	"github.com/jbweber/ingot/internal/pool"
	"github.com/jbweber/ingot/internal/volume"
)

// Format represents an output format type.
type Format string

const (
	// FormatTable is a human-readable table format.
	FormatTable Format = "table"
	// FormatYAML is the record format, one document per item.
	FormatYAML Format = "yaml"
	// FormatJSON is a JSON format for machine consumption.
	FormatJSON Format = "json"
)

// Formatter formats volumes and pools for output.
type Formatter interface {
	// FormatVolume formats a single volume.
	FormatVolume(vol volume.Summary) (string, error)

	// FormatVolumeList formats a list of volumes.
	FormatVolumeList(vols []volume.Summary) (string, error)

	// FormatPoolList formats pool summaries.
	FormatPoolList(pools []pool.Summary) (string, error)
}

// Options contains options for formatting output.
type Options struct {
	// Format specifies the output format.
	Format Format
	// NoHeaders omits headers in table format.
	NoHeaders bool
	// Bytes prints exact byte counts in table format.
	Bytes bool
}

// NewFormatter creates a new Formatter based on the specified format.
func NewFormatter(opts Options) (Formatter, error) {
	switch opts.Format {
	case FormatTable:
		return &TableFormatter{NoHeaders: opts.NoHeaders, Bytes: opts.Bytes}, nil
	case FormatYAML:
		return &YAMLFormatter{}, nil
	case FormatJSON:
		return &JSONFormatter{}, nil
	default:
		return nil, fmt.Errorf("unsupported output format: %s (supported: table, yaml, json)", opts.Format)
	}
}

// ValidateFormat checks if a format string is valid.
func ValidateFormat(format string) error {
	f := Format(format)
	switch f {
	case FormatTable, FormatYAML, FormatJSON:
		return nil
	default:
		return fmt.Errorf("invalid format: %s (valid formats: table, yaml, json)", format)
	}
}

// Summaries projects volumes to their summaries.
func Summaries(vols []*volume.Volume) []volume.Summary {
	out := make([]volume.Summary, 0, len(vols))
	for _, vol := range vols {
		out = append(out, vol.Summary())
	}
	return out
}
