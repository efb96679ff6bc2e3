package output

import (
	"bytes"
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/jbweber/ingot/internal/pool"
	"github.com/jbweber/ingot/internal/volume"
)

// YAMLFormatter formats resources as YAML.
type YAMLFormatter struct{}

// FormatVolume formats a single volume as YAML, in the same shape as its
// on-disk record.
func (f *YAMLFormatter) FormatVolume(vol volume.Summary) (string, error) {
	data, err := yaml.Marshal(vol)
	if err != nil {
		return "", fmt.Errorf("failed to marshal volume to YAML: %w", err)
	}
	return string(data), nil
}

// FormatVolumeList formats volumes as a YAML stream (documents separated
// by ---).
func (f *YAMLFormatter) FormatVolumeList(vols []volume.Summary) (string, error) {
	return yamlStream(len(vols), func(i int) (any, string) {
		return vols[i], vols[i].Name
	})
}

// FormatPoolList formats pool summaries as a YAML stream.
func (f *YAMLFormatter) FormatPoolList(pools []pool.Summary) (string, error) {
	return yamlStream(len(pools), func(i int) (any, string) {
		return pools[i], pools[i].Name
	})
}

func yamlStream(n int, item func(i int) (any, string)) (string, error) {
	var buf bytes.Buffer

	for i := 0; i < n; i++ {
		v, name := item(i)
		data, err := yaml.Marshal(v)
		if err != nil {
			return "", fmt.Errorf("failed to marshal %s to YAML: %w", name, err)
		}

		if i > 0 {
			buf.WriteString("---\n")
		}
		buf.Write(data)
	}

	return buf.String(), nil
}
