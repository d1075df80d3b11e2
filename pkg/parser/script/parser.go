// Package script parses payloads with a Starlark script. The script must
// define parse(payload, previous) and return a dict shaped like the
// canonical entity JSON. The settings map of the parser config is visible to
// the script as config.
package script

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"codeberg.org/opendatahub/odhsync/pkg/entity"
	"codeberg.org/opendatahub/odhsync/pkg/parser"
	starlarklib "codeberg.org/opendatahub/odhsync/pkg/plugin"
	"codeberg.org/opendatahub/odhsync/pkg/source"
	"go.starlark.net/starlark"
	"go.starlark.net/syntax"
	"go.uber.org/zap"
)

func init() {
	parser.MustRegister("script", New)
}

const defaultMaxSteps = 10_000_000

type Parser struct {
	name     string
	parse    starlark.Callable
	maxSteps uint64
	logger   *zap.Logger
}

func New(config map[string]any, logger *zap.Logger) (parser.Parser, error) {
	name, content, err := loadScript(config)
	if err != nil {
		return nil, err
	}

	opts := &syntax.FileOptions{
		Set:             true,
		GlobalReassign:  true,
		TopLevelControl: true,
		Recursion:       true,
		While:           true,
	}

	settings, _ := config["settings"].(map[string]any)
	predeclared := starlarklib.MakeBuiltins()
	settingsValue := starlarklib.FromGo(settings)
	settingsValue.Freeze()
	predeclared["config"] = settingsValue

	thread := starlarklib.NewThread(name, logger)
	globals, err := starlark.ExecFileOptions(opts, thread, name, content, predeclared)
	if err != nil {
		return nil, fmt.Errorf("failed to execute starlark script: %w", err)
	}
	globals.Freeze()

	fn, ok := globals["parse"]
	if !ok {
		return nil, fmt.Errorf("starlark script missing required function: parse")
	}
	callable, ok := fn.(starlark.Callable)
	if !ok {
		return nil, fmt.Errorf("parse is not callable")
	}

	maxSteps := uint64(defaultMaxSteps)
	switch v := config["maxSteps"].(type) {
	case int:
		maxSteps = uint64(v)
	case int64:
		maxSteps = uint64(v)
	case uint64:
		maxSteps = v
	case float64:
		maxSteps = uint64(v)
	}

	return &Parser{
		name:     name,
		parse:    callable,
		maxSteps: maxSteps,
		logger:   logger,
	}, nil
}

func loadScript(config map[string]any) (string, []byte, error) {
	if path, ok := config["path"].(string); ok && path != "" {
		content, err := os.ReadFile(path)
		if err != nil {
			return "", nil, fmt.Errorf("failed to read starlark script: %w", err)
		}
		return filepath.Base(path), content, nil
	}
	if src, ok := config["script"].(string); ok && src != "" {
		return "inline.star", []byte(src), nil
	}
	return "", nil, fmt.Errorf("either path or script must be configured")
}

func (p *Parser) Parse(ctx context.Context, raw source.RawPayload, previous *entity.Entity) (*entity.Entity, error) {
	payload, err := p.payloadValue(raw)
	if err != nil {
		return nil, err
	}

	prev := starlark.Value(starlark.None)
	if previous != nil {
		data, err := json.Marshal(previous)
		if err != nil {
			return nil, fmt.Errorf("failed to encode previous entity: %w", err)
		}
		if prev, err = starlarklib.FromJSON(data); err != nil {
			return nil, fmt.Errorf("failed to convert previous entity: %w", err)
		}
	}

	thread := starlarklib.NewThread(p.name, p.logger)
	thread.SetMaxExecutionSteps(p.maxSteps)

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			thread.Cancel(ctx.Err().Error())
		case <-done:
		}
	}()

	result, err := starlark.Call(thread, p.parse, starlark.Tuple{payload, prev}, nil)
	if err != nil {
		return nil, fmt.Errorf("parse failed for %s: %w", raw.ID, err)
	}

	return toEntity(result, raw.ID)
}

func (p *Parser) payloadValue(raw source.RawPayload) (starlark.Value, error) {
	d := starlark.NewDict(5)
	_ = d.SetKey(starlark.String("id"), starlark.String(raw.ID))
	_ = d.SetKey(starlark.String("url"), starlark.String(raw.URL))
	_ = d.SetKey(starlark.String("format"), starlark.String(raw.Format))
	_ = d.SetKey(starlark.String("data"), starlark.String(raw.Data))

	decoded := starlark.Value(starlark.None)
	if raw.Format == "" || raw.Format == "json" {
		v, err := starlarklib.FromJSON(raw.Data)
		if err != nil {
			return nil, fmt.Errorf("failed to decode payload %s: %w", raw.ID, err)
		}
		decoded = v
	}
	_ = d.SetKey(starlark.String("json"), decoded)
	return d, nil
}

func toEntity(v starlark.Value, id string) (*entity.Entity, error) {
	if v == starlark.None {
		return nil, fmt.Errorf("parse returned None for %s", id)
	}
	gv, err := starlarklib.ToGo(v)
	if err != nil {
		return nil, fmt.Errorf("failed to convert parse result for %s: %w", id, err)
	}
	if _, ok := gv.(map[string]any); !ok {
		return nil, fmt.Errorf("parse must return a dict, got %s", v.Type())
	}

	data, err := json.Marshal(gv)
	if err != nil {
		return nil, fmt.Errorf("failed to encode parse result for %s: %w", id, err)
	}
	var e entity.Entity
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, fmt.Errorf("failed to decode parse result for %s: %w", id, err)
	}
	if e.ID == "" {
		e.ID = id
	}
	return &e, nil
}
