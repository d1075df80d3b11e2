// Package starlarklib provides the builtins available to parser scripts.
package starlarklib

import (
	"go.starlark.net/starlark"
	"go.starlark.net/starlarkstruct"
	"go.uber.org/zap"
)

func MakeBuiltins() starlark.StringDict {
	return starlark.StringDict{
		"struct": starlark.NewBuiltin("struct", starlarkstruct.Make),
		"json":   makeJSONModule(),
		"base64": makeBase64Module(),
		"time":   makeTimeModule(),
		"hash":   makeHashModule(),
	}
}

// NewThread returns a thread whose print statements go to logger.
func NewThread(name string, logger *zap.Logger) *starlark.Thread {
	return &starlark.Thread{
		Name: name,
		Print: func(thread *starlark.Thread, msg string) {
			if logger != nil {
				logger.Info(msg, zap.String("script", thread.Name))
			}
		},
	}
}
