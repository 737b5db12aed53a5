package codec

import (
	"github.com/vmihailenco/msgpack/v5"
)

// MessagePackSerialization encodes bodies as MessagePack, a denser
// binary cousin of JSON. Binary output, so it claims no Textual
// capability.
type MessagePackSerialization struct{}

func (p *MessagePackSerialization) Unmarshal(in []byte, body interface{}) error {
	return msgpack.Unmarshal(in, body)
}

func (p *MessagePackSerialization) Marshal(body interface{}) ([]byte, error) {
	return msgpack.Marshal(body)
}
