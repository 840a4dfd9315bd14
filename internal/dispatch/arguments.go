package dispatch

import (
	"encoding/json"
	"errors"
)

var errNotObject = errors.New("arguments must be a JSON object")

// NormalizeArguments turns the arguments a provider returned into the mapping
// passed to the tool. Text is JSON-decoded, a mapping is used as is and nil
// means no arguments. Decoding the text form of a mapping yields the same result
// as passing the mapping itself.
func NormalizeArguments(toolName string, raw any) (map[string]any, error) {
	switch v := raw.(type) {
	case nil:
		return map[string]any{}, nil
	case map[string]any:
		if v == nil {
			return map[string]any{}, nil
		}
		return v, nil
	case map[string]string:
		out := make(map[string]any, len(v))
		for k, s := range v {
			out[k] = s
		}
		return out, nil
	case string:
		return decodeArguments(toolName, v)
	case json.RawMessage:
		return decodeArguments(toolName, string(v))
	case []byte:
		return decodeArguments(toolName, string(v))
	default:
		return nil, &UnsupportedArgumentShapeError{Tool: toolName, Value: raw}
	}
}

func decodeArguments(toolName, text string) (map[string]any, error) {
	var decoded any
	if err := json.Unmarshal([]byte(text), &decoded); err != nil {
		return nil, &MalformedArgumentsError{Tool: toolName, Raw: text, Err: err}
	}
	obj, ok := decoded.(map[string]any)
	if !ok {
		return nil, &MalformedArgumentsError{Tool: toolName, Raw: text, Err: errNotObject}
	}
	return obj, nil
}
