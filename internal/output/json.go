package output

import (
	"encoding/json"
	"fmt"

	"github.com/jbweber/ingot/internal/pool"
	"github.com/jbweber/ingot/internal/volume"
)

// JSONFormatter formats resources as JSON.
type JSONFormatter struct{}

// FormatVolume formats a single volume as JSON.
func (f *JSONFormatter) FormatVolume(vol volume.Summary) (string, error) {
	return marshalJSON(vol, "volume")
}

// FormatVolumeList formats volumes as a JSON array.
func (f *JSONFormatter) FormatVolumeList(vols []volume.Summary) (string, error) {
	if len(vols) == 0 {
		return "[]\n", nil
	}
	return marshalJSON(vols, "volumes")
}

// FormatPoolList formats pool summaries as a JSON array.
func (f *JSONFormatter) FormatPoolList(pools []pool.Summary) (string, error) {
	if len(pools) == 0 {
		return "[]\n", nil
	}
	return marshalJSON(pools, "pools")
}

func marshalJSON(v any, what string) (string, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal %s to JSON: %w", what, err)
	}
	return string(data) + "\n", nil
}
