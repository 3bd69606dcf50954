package scalemap

import (
	"encoding/json"
)

var (
	jsonMarshal   func(v any) ([]byte, error)
	jsonUnmarshal func(data []byte, v any) error
)

// SetDefaultJSONMarshal sets the default JSON serialization and deserialization functions.
// If not set, the standard library is used by default.
func SetDefaultJSONMarshal(marshal func(v any) ([]byte, error), unmarshal func(data []byte, v any) error) {
	jsonMarshal, jsonUnmarshal = marshal, unmarshal
}

func marshalMap[K comparable, V any](a map[K]V) ([]byte, error) {
	if jsonMarshal != nil {
		return jsonMarshal(a)
	}
	return json.Marshal(a)
}

func unmarshalMap[K comparable, V any](data []byte) (map[K]V, error) {
	var a map[K]V
	if jsonUnmarshal != nil {
		if err := jsonUnmarshal(data, &a); err != nil {
			return nil, err
		}
		return a, nil
	}
	if err := json.Unmarshal(data, &a); err != nil {
		return nil, err
	}
	return a, nil
}

// MarshalJSON JSON serialization
func (m *Map[K, V]) MarshalJSON() ([]byte, error) {
	return marshalMap(m.ToMap())
}

// UnmarshalJSON JSON deserialization. Decoded entries are stored on top of
// the existing ones.
func (m *Map[K, V]) UnmarshalJSON(data []byte) error {
	a, err := unmarshalMap[K, V](data)
	if err != nil {
		return err
	}
	m.FromMap(a)
	return nil
}

// MarshalJSON JSON serialization
func (m *ConcurrentMap[K, V]) MarshalJSON() ([]byte, error) {
	return marshalMap(m.ToMap())
}

// UnmarshalJSON JSON deserialization. Decoded entries are stored on top of
// the existing ones.
func (m *ConcurrentMap[K, V]) UnmarshalJSON(data []byte) error {
	a, err := unmarshalMap[K, V](data)
	if err != nil {
		return err
	}
	m.FromMap(a)
	return nil
}
