package queue

import (
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
)

// Encode serializes a token for transport.
func Encode(t Token) ([]byte, error) {
	b, err := msgpack.Marshal(t)
	if err != nil {
		return nil, fmt.Errorf("imgproc/queue: encode token: %w", err)
	}
	return b, nil
}

// Decode deserializes a token produced by Encode.
func Decode(b []byte) (Token, error) {
	var t Token
	if err := msgpack.Unmarshal(b, &t); err != nil {
		return Token{}, fmt.Errorf("imgproc/queue: decode token: %w", err)
	}
	return t, nil
}
