package core

import (
	"encoding/json"

	"am2302-go/errcode"
)

// As[T] asserts a payload to the concrete value type T.
// Pointers are not accepted. A nil payload is treated as the zero value of T.
func As[T any](v any) (T, errcode.Code) {
	var zero T
	if v == nil {
		return zero, ""
	}
	t, ok := v.(T)
	if !ok {
		return zero, errcode.InvalidPayload
	}
	return t, ""
}

// DecodeParams accepts builder params either as the typed struct (or a
// pointer to it) or as JSON left undecoded by the config service.
func DecodeParams[T any](v any) (T, error) {
	var out T
	switch p := v.(type) {
	case T:
		return p, nil
	case *T:
		if p == nil {
			return out, errcode.InvalidParams
		}
		return *p, nil
	case json.RawMessage:
		return out, unmarshalParams(p, &out)
	case []byte:
		return out, unmarshalParams(p, &out)
	case map[string]any:
		raw, err := json.Marshal(p)
		if err != nil {
			return out, errcode.InvalidParams
		}
		return out, unmarshalParams(raw, &out)
	default:
		return out, errcode.InvalidParams
	}
}

func unmarshalParams(raw []byte, out any) error {
	if err := json.Unmarshal(raw, out); err != nil {
		return &errcode.E{C: errcode.InvalidParams, Op: "params", Msg: err.Error(), Err: err}
	}
	return nil
}
