package json

import (
	"context"
	"encoding/json"
	"fmt"

	"codeberg.org/opendatahub/odhsync/pkg/entity"
	"codeberg.org/opendatahub/odhsync/pkg/parser"
	"codeberg.org/opendatahub/odhsync/pkg/source"
	"go.uber.org/zap"
)

func init() {
	parser.MustRegister("json", New)
}

// Parser decodes payloads that already are canonical entity JSON. Top level
// fields listed in defaults are filled in when the payload lacks them.
type Parser struct {
	defaults map[string]any
	logger   *zap.Logger
}

func New(config map[string]any, logger *zap.Logger) (parser.Parser, error) {
	p := &Parser{logger: logger}

	if raw, ok := config["defaults"]; ok {
		defaults, ok := raw.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("defaults must be a map, got %T", raw)
		}
		p.defaults = defaults
	}
	return p, nil
}

func (p *Parser) Parse(ctx context.Context, raw source.RawPayload, previous *entity.Entity) (*entity.Entity, error) {
	if raw.Format != "" && raw.Format != "json" {
		return nil, fmt.Errorf("unsupported payload format %s", raw.Format)
	}

	data := raw.Data
	if len(p.defaults) > 0 {
		var fields map[string]any
		if err := json.Unmarshal(data, &fields); err != nil {
			return nil, fmt.Errorf("failed to decode payload %s: %w", raw.ID, err)
		}
		for k, v := range p.defaults {
			if _, ok := fields[k]; !ok {
				fields[k] = v
			}
		}
		var err error
		if data, err = json.Marshal(fields); err != nil {
			return nil, fmt.Errorf("failed to encode payload %s: %w", raw.ID, err)
		}
	}

	var e entity.Entity
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, fmt.Errorf("failed to decode entity %s: %w", raw.ID, err)
	}
	if e.ID == "" {
		e.ID = raw.ID
	}

	p.logger.Debug("Parsed entity", zap.String("id", e.ID), zap.String("type", e.Type))
	return &e, nil
}
