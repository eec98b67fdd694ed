package query

import (
	"encoding/base64"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// Cursor is the decoded form of an opaque pagination token
type Cursor struct {
	Key   map[string]keyValue `json:"key"`
	Index string              `json:"index,omitempty"`
}

// keyValue holds one key attribute. Key attributes are always S, N or B.
type keyValue struct {
	S *string `json:"S,omitempty"`
	N *string `json:"N,omitempty"`
	B []byte  `json:"B,omitempty"`
}

// EncodeCursor encodes a LastEvaluatedKey into a URL-safe token.
// An empty key encodes to the empty string.
func EncodeCursor(lastKey map[string]types.AttributeValue, indexName string) (string, error) {
	if len(lastKey) == 0 {
		return "", nil
	}

	cursor := Cursor{
		Key:   make(map[string]keyValue, len(lastKey)),
		Index: indexName,
	}
	for name, av := range lastKey {
		switch v := av.(type) {
		case *types.AttributeValueMemberS:
			cursor.Key[name] = keyValue{S: &v.Value}
		case *types.AttributeValueMemberN:
			cursor.Key[name] = keyValue{N: &v.Value}
		case *types.AttributeValueMemberB:
			cursor.Key[name] = keyValue{B: v.Value}
		default:
			return "", fmt.Errorf("failed to encode cursor: key attribute %s has unsupported type %T", name, av)
		}
	}

	data, err := json.Marshal(cursor)
	if err != nil {
		return "", fmt.Errorf("failed to marshal cursor: %w", err)
	}

	return base64.URLEncoding.EncodeToString(data), nil
}

// DecodeCursor decodes a token produced by EncodeCursor. The empty token decodes to nil.
func DecodeCursor(encoded string) (*Cursor, error) {
	if encoded == "" {
		return nil, nil
	}

	data, err := base64.URLEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("failed to decode cursor: %w", err)
	}

	var cursor Cursor
	if err := json.Unmarshal(data, &cursor); err != nil {
		return nil, fmt.Errorf("failed to unmarshal cursor: %w", err)
	}

	return &cursor, nil
}

// ToAttributeValues converts the cursor back into an ExclusiveStartKey
func (c *Cursor) ToAttributeValues() (map[string]types.AttributeValue, error) {
	if c == nil || len(c.Key) == 0 {
		return nil, nil
	}

	result := make(map[string]types.AttributeValue, len(c.Key))
	for name, kv := range c.Key {
		switch {
		case kv.S != nil:
			result[name] = &types.AttributeValueMemberS{Value: *kv.S}
		case kv.N != nil:
			result[name] = &types.AttributeValueMemberN{Value: *kv.N}
		case kv.B != nil:
			result[name] = &types.AttributeValueMemberB{Value: kv.B}
		default:
			return nil, fmt.Errorf("cursor attribute %s has no value", name)
		}
	}

	return result, nil
}

// DecodeStartKey decodes a token straight into an ExclusiveStartKey
func DecodeStartKey(encoded string) (map[string]types.AttributeValue, error) {
	cursor, err := DecodeCursor(encoded)
	if err != nil {
		return nil, err
	}
	return cursor.ToAttributeValues()
}
