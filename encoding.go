package recordstore

import (
	"encoding/json"
)

// Marshaler encodes the JSON side files: id generator state and config.
type Marshaler interface {
	Marshal(v any) ([]byte, error)
	Unmarshal(data []byte, v any) error
}

type jsonMarshaler struct{}

// DefaultMarshaler writes indented JSON.
var DefaultMarshaler Marshaler = jsonMarshaler{}

func (jsonMarshaler) Marshal(v any) ([]byte, error) {
	return json.MarshalIndent(v, "", "  ")
}

func (jsonMarshaler) Unmarshal(data []byte, v any) error {
	return json.Unmarshal(data, v)
}
