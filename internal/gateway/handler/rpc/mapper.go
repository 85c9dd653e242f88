package rpc

import (
	"encoding/json"
	"fmt"
	"strings"

	"google.golang.org/protobuf/types/known/structpb"
)

// toStruct renders any JSON-encodable value as a protobuf Struct.
func toStruct(v any) (*structpb.Struct, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode response: %w", err)
	}
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, fmt.Errorf("encode response: %w", err)
	}
	return structpb.NewStruct(m)
}

func stringField(msg *structpb.Struct, key string) string {
	return strings.TrimSpace(msg.GetFields()[key].GetStringValue())
}

func numberField(msg *structpb.Struct, key string) float64 {
	return msg.GetFields()[key].GetNumberValue()
}
