package util

import (
	"encoding/json"
	"fmt"
)

// EncoderDecoder converts values to the bytes stored in JSON columns and
// redis payloads.
type EncoderDecoder[T any] interface {
	Encode(value T) ([]byte, error)
	Decode(data []byte) (*T, error)
}

type JsonEncDec[T any] struct{}

var _ EncoderDecoder[map[string]any] = new(JsonEncDec[map[string]any])

func NewJsonEncoderDecoder[T any]() *JsonEncDec[T] {
	return &JsonEncDec[T]{}
}

func (c *JsonEncDec[T]) Encode(value T) ([]byte, error) {
	return json.Marshal(value)
}

func (c *JsonEncDec[T]) Decode(data []byte) (*T, error) {
	out := new(T)
	if err := json.Unmarshal(data, out); err != nil {
		return nil, fmt.Errorf("decoding %T: %w", *out, err)
	}
	return out, nil
}

// Clone returns a deep copy of v with values typed as they come back from
// storage (numbers as float64, nested objects as map[string]any).
func (c *JsonEncDec[T]) Clone(v *T) (*T, error) {
	data, err := c.Encode(*v)
	if err != nil {
		return nil, err
	}
	return c.Decode(data)
}
