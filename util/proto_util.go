package util

import (
	"encoding/json"

	"google.golang.org/protobuf/types/known/structpb"
)

var structCodec = NewJsonEncoderDecoder[map[string]any]()

// ToStruct converts v to a structpb.Struct through its JSON form, so structs
// are keyed by their json tags.
func ToStruct(v any) (*structpb.Struct, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	m, err := structCodec.Decode(b)
	if err != nil {
		return nil, err
	}
	return structpb.NewStruct(*m)
}

func FromStruct(s *structpb.Struct) map[string]any {
	if s == nil {
		return map[string]any{}
	}
	return s.AsMap()
}
