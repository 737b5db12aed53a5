package codec

import (
	jsoniter "github.com/json-iterator/go"
)

var j = jsoniter.ConfigCompatibleWithStandardLibrary

// JSONSerialization is the default serializer. json-iterator decodes
// several times faster than the reflection-heavy standard package and
// stays wire-compatible with it.
type JSONSerialization struct{}

// Unmarshal decodes JSON into body.
func (s *JSONSerialization) Unmarshal(in []byte, body interface{}) error {
	return j.Unmarshal(in, body)
}

// Marshal encodes body as JSON.
func (s *JSONSerialization) Marshal(body interface{}) ([]byte, error) {
	return j.Marshal(body)
}

// Textual reports that JSON output is UTF-8 text.
func (s *JSONSerialization) Textual() bool {
	return true
}
