package starlarklib

import (
	"encoding/json"
	"fmt"
	"math"

	"go.starlark.net/starlark"
	"go.starlark.net/starlarkstruct"
)

// ToGo converts a starlark value into plain Go values that encoding/json
// understands.
func ToGo(v starlark.Value) (any, error) {
	switch val := v.(type) {
	case starlark.NoneType:
		return nil, nil
	case starlark.String:
		return string(val), nil
	case starlark.Bool:
		return bool(val), nil
	case starlark.Int:
		if i, ok := val.Int64(); ok {
			return i, nil
		}
		return nil, fmt.Errorf("integer %s out of range", val)
	case starlark.Float:
		return float64(val), nil
	case *starlark.List:
		return iterableToGo(val, val.Len())
	case starlark.Tuple:
		return iterableToGo(val, val.Len())
	case *starlark.Dict:
		out := make(map[string]any, val.Len())
		for _, item := range val.Items() {
			key, ok := item[0].(starlark.String)
			if !ok {
				return nil, fmt.Errorf("dict keys must be strings, got %s", item[0].Type())
			}
			gv, err := ToGo(item[1])
			if err != nil {
				return nil, fmt.Errorf("%s: %w", key, err)
			}
			out[string(key)] = gv
		}
		return out, nil
	case *starlarkstruct.Struct:
		d := starlark.StringDict{}
		val.ToStringDict(d)
		out := make(map[string]any, len(d))
		for k, fv := range d {
			gv, err := ToGo(fv)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", k, err)
			}
			out[k] = gv
		}
		return out, nil
	default:
		return nil, fmt.Errorf("cannot convert %s to a Go value", v.Type())
	}
}

func iterableToGo(it starlark.Iterable, n int) ([]any, error) {
	out := make([]any, 0, n)
	iter := it.Iterate()
	defer iter.Done()
	var item starlark.Value
	for iter.Next(&item) {
		gv, err := ToGo(item)
		if err != nil {
			return nil, err
		}
		out = append(out, gv)
	}
	return out, nil
}

// FromGo converts decoded JSON style Go values into starlark values. Whole
// float64 numbers become ints.
func FromGo(v any) starlark.Value {
	switch val := v.(type) {
	case nil:
		return starlark.None
	case string:
		return starlark.String(val)
	case bool:
		return starlark.Bool(val)
	case int:
		return starlark.MakeInt(val)
	case int64:
		return starlark.MakeInt64(val)
	case float64:
		if val == math.Trunc(val) && math.Abs(val) < 1<<53 {
			return starlark.MakeInt64(int64(val))
		}
		return starlark.Float(val)
	case json.Number:
		if i, err := val.Int64(); err == nil {
			return starlark.MakeInt64(i)
		}
		f, _ := val.Float64()
		return starlark.Float(f)
	case []any:
		list := make([]starlark.Value, len(val))
		for i, item := range val {
			list[i] = FromGo(item)
		}
		return starlark.NewList(list)
	case map[string]any:
		dict := starlark.NewDict(len(val))
		for k, item := range val {
			_ = dict.SetKey(starlark.String(k), FromGo(item))
		}
		return dict
	default:
		return starlark.String(fmt.Sprintf("%v", v))
	}
}

// FromJSON decodes data into starlark values.
func FromJSON(data []byte) (starlark.Value, error) {
	var decoded any
	if err := json.Unmarshal(data, &decoded); err != nil {
		return nil, err
	}
	return FromGo(decoded), nil
}
