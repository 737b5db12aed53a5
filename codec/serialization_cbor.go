package codec

import (
	cbor "github.com/fxamacker/cbor/v2"
)

// CBORSerialization encodes with the canonical profile (RFC 8949) so the
// same body always produces the same bytes across nodes.
type CBORSerialization struct {
	enc cbor.EncMode
	dec cbor.DecMode
}

func NewCBORSerialization() *CBORSerialization {
	enc, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(err)
	}
	dec, err := cbor.DecOptions{}.DecMode()
	if err != nil {
		panic(err)
	}
	return &CBORSerialization{enc: enc, dec: dec}
}

func (c *CBORSerialization) Unmarshal(in []byte, body interface{}) error {
	return c.dec.Unmarshal(in, body)
}

func (c *CBORSerialization) Marshal(body interface{}) ([]byte, error) {
	return c.enc.Marshal(body)
}
