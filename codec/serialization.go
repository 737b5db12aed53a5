// Package codec
package codec

import "errors"

type Serializer interface {
	Unmarshal(in []byte, body interface{}) error
	Marshal(body interface{}) (out []byte, err error)
}

// Textual is an optional Serializer capability. A serializer whose encoded
// output is valid UTF-8 text reports it so the message layer can use text
// framing; everything else travels as binary.
type Textual interface {
	Textual() bool
}

// Tracer is an optional Serializer capability. After every successful
// Marshal the message layer hands the original body and the encoded bytes
// to OnSerialized. Purely observational; it cannot fail the send.
type Tracer interface {
	OnSerialized(body interface{}, data []byte)
}

// IsTextual reports whether s declares textual output.
func IsTextual(s Serializer) bool {
	t, ok := s.(Textual)
	return ok && t.Textual()
}

var serializers = map[string]Serializer{
	"json":        &JSONSerialization{},
	"protobuf":    &ProtobufSerialization{},
	"messagepack": &MessagePackSerialization{},
	"cbor":        NewCBORSerialization(),
}

func RegisterSerializer(serializationType string, s Serializer) {
	serializers[serializationType] = s
}

func GetSerializer(serializationType string) Serializer {
	return serializers[serializationType]
}

func Unmarshal(serializationType string, in []byte, body interface{}) error {
	if body == nil {
		return nil
	}
	if len(in) == 0 {
		return nil
	}

	s := GetSerializer(serializationType)
	if s == nil {
		return errors.New("serializer not registered")
	}

	return s.Unmarshal(in, body)
}

func Marshal(serializationType string, body interface{}) ([]byte, error) {
	if body == nil {
		return nil, nil
	}
	s := GetSerializer(serializationType)
	if s == nil {
		return nil, errors.New("serializer not registered")
	}
	return s.Marshal(body)
}
