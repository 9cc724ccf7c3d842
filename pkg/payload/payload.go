// Package payload encodes the auxiliary key-value bag carried between turns.
//
// The engine treats the encoded bytes as opaque; only handlers decode them.
// Encoding uses CBOR Core Deterministic Encoding, so equal bags produce equal bytes.
package payload

import (
	"fmt"
	"reflect"

	"github.com/fxamacker/cbor/v2"
)

// Bag is the decoded form of a payload.
type Bag map[string]any

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error
	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("payload: CBOR encoder initialization failed: " + err.Error())
	}
	decMode, err = cbor.DecOptions{
		// Nested maps decode as map[string]any instead of map[any]any.
		DefaultMapType: reflect.TypeOf(map[string]any(nil)),
	}.DecMode()
	if err != nil {
		panic("payload: CBOR decoder initialization failed: " + err.Error())
	}
}

// Encode serializes a bag. A nil or empty bag encodes to nil.
func Encode(b Bag) ([]byte, error) {
	if len(b) == 0 {
		return nil, nil
	}
	data, err := encMode.Marshal(map[string]any(b))
	if err != nil {
		return nil, fmt.Errorf("encode payload: %w", err)
	}
	return data, nil
}

// Decode parses a payload. Empty input yields an empty bag.
func Decode(data []byte) (Bag, error) {
	b := Bag{}
	if len(data) == 0 {
		return b, nil
	}
	if err := decMode.Unmarshal(data, &b); err != nil {
		return nil, fmt.Errorf("decode payload: %w", err)
	}
	return b, nil
}

// Merge decodes data, applies the updates and re-encodes the result.
func Merge(data []byte, updates Bag) ([]byte, error) {
	b, err := Decode(data)
	if err != nil {
		return nil, err
	}
	for k, v := range updates {
		b[k] = v
	}
	return Encode(b)
}

// String returns the string value stored under key, if any.
func (b Bag) String(key string) string {
	if v, ok := b[key].(string); ok {
		return v
	}
	return ""
}
