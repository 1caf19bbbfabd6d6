package dynamo

import (
	"encoding/base64"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// EncodeCursor turns a LastEvaluatedKey into an opaque URL-safe token.
// Only string key attributes are supported, which is all this table uses.
func EncodeCursor(key map[string]types.AttributeValue) (string, error) {
	if len(key) == 0 {
		return "", nil
	}
	var flat map[string]string
	if err := attributevalue.UnmarshalMap(key, &flat); err != nil {
		return "", fmt.Errorf("encode cursor: %w", err)
	}
	raw, err := json.Marshal(flat)
	if err != nil {
		return "", fmt.Errorf("encode cursor: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(raw), nil
}

func DecodeCursor(cursor string) (map[string]types.AttributeValue, error) {
	if cursor == "" {
		return nil, nil
	}
	raw, err := base64.RawURLEncoding.DecodeString(cursor)
	if err != nil {
		return nil, fmt.Errorf("decode cursor: %w", err)
	}
	var flat map[string]string
	if err := json.Unmarshal(raw, &flat); err != nil {
		return nil, fmt.Errorf("decode cursor: %w", err)
	}
	if len(flat) == 0 {
		return nil, fmt.Errorf("decode cursor: empty key")
	}
	key, err := attributevalue.MarshalMap(flat)
	if err != nil {
		return nil, fmt.Errorf("decode cursor: %w", err)
	}
	return key, nil
}
