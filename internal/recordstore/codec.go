package recordstore

import (
	"encoding/json"

	"gopkg.in/yaml.v3"
)

// Codec encodes records to and from file contents.
type Codec interface {
	Marshal(v any) ([]byte, error)
	Unmarshal(data []byte, v any) error
	// Ext is the file extension, including the dot.
	Ext() string
}

// YAMLCodec stores records as YAML documents.
type YAMLCodec struct{}

func (YAMLCodec) Marshal(v any) ([]byte, error)      { return yaml.Marshal(v) }
func (YAMLCodec) Unmarshal(data []byte, v any) error { return yaml.Unmarshal(data, v) }
func (YAMLCodec) Ext() string                        { return ".yaml" }

// JSONCodec stores records as JSON objects.
type JSONCodec struct{}

func (JSONCodec) Marshal(v any) ([]byte, error)      { return json.MarshalIndent(v, "", "  ") }
func (JSONCodec) Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }
func (JSONCodec) Ext() string                        { return ".json" }
