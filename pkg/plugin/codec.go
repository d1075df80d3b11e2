package starlarklib

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"go.starlark.net/starlark"
	"go.starlark.net/starlarkstruct"
)

type builtinFunc = func(*starlark.Thread, *starlark.Builtin, starlark.Tuple, []starlark.Tuple) (starlark.Value, error)

func module(name string, members map[string]builtinFunc) *starlarkstruct.Module {
	dict := make(starlark.StringDict, len(members))
	for member, fn := range members {
		dict[member] = starlark.NewBuiltin(name+"."+member, fn)
	}
	return &starlarkstruct.Module{Name: name, Members: dict}
}

func makeJSONModule() *starlarkstruct.Module {
	return module("json", map[string]builtinFunc{
		"encode": jsonEncode,
		"decode": jsonDecode,
		"get":    jsonGet,
	})
}

func jsonEncode(_ *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var (
		value  starlark.Value
		indent int
	)
	if err := starlark.UnpackArgs(fn.Name(), args, kwargs, "value", &value, "indent?", &indent); err != nil {
		return nil, err
	}

	v, err := ToGo(value)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", fn.Name(), err)
	}

	var data []byte
	if indent > 0 {
		data, err = json.MarshalIndent(v, "", strings.Repeat(" ", indent))
	} else {
		data, err = json.Marshal(v)
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", fn.Name(), err)
	}
	return starlark.String(data), nil
}

func jsonDecode(_ *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var data string
	if err := starlark.UnpackArgs(fn.Name(), args, kwargs, "data", &data); err != nil {
		return nil, err
	}

	v, err := FromJSON([]byte(data))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", fn.Name(), err)
	}
	return v, nil
}

// jsonGet walks a dotted path such as "ContactInfos.de.City" or
// "GpsInfo.0.Latitude" through decoded dicts and lists. Missing steps yield
// default.
func jsonGet(_ *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var (
		doc  starlark.Value
		path string
		def  starlark.Value = starlark.None
	)
	if err := starlark.UnpackArgs(fn.Name(), args, kwargs, "doc", &doc, "path", &path, "default?", &def); err != nil {
		return nil, err
	}

	cur := doc
	for _, step := range strings.Split(path, ".") {
		switch c := cur.(type) {
		case *starlark.Dict:
			v, found, err := c.Get(starlark.String(step))
			if err != nil {
				return nil, fmt.Errorf("%s: %w", fn.Name(), err)
			}
			if !found {
				return def, nil
			}
			cur = v
		case *starlark.List:
			i, err := strconv.Atoi(step)
			if err != nil || i < 0 || i >= c.Len() {
				return def, nil
			}
			cur = c.Index(i)
		default:
			return def, nil
		}
	}
	if cur == starlark.None {
		return def, nil
	}
	return cur, nil
}

func makeBase64Module() *starlarkstruct.Module {
	return module("base64", map[string]builtinFunc{
		"encode": func(_ *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
			data, enc, err := unpackBase64(fn, args, kwargs)
			if err != nil {
				return nil, err
			}
			return starlark.String(enc.EncodeToString([]byte(data))), nil
		},
		"decode": func(_ *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
			data, enc, err := unpackBase64(fn, args, kwargs)
			if err != nil {
				return nil, err
			}
			decoded, err := enc.DecodeString(data)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", fn.Name(), err)
			}
			return starlark.String(decoded), nil
		},
	})
}

func unpackBase64(fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (string, *base64.Encoding, error) {
	var (
		data    string
		urlSafe bool
	)
	if err := starlark.UnpackArgs(fn.Name(), args, kwargs, "data", &data, "url?", &urlSafe); err != nil {
		return "", nil, err
	}
	if urlSafe {
		return data, base64.URLEncoding, nil
	}
	return data, base64.StdEncoding, nil
}
