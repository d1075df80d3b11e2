package merge

import (
	"context"
	"fmt"
	"time"

	"codeberg.org/opendatahub/odhsync/pkg/entity"
)

type LocationResolver interface {
	Resolve(ctx context.Context, e *entity.Entity) (*entity.LocationInfo, error)
}

type DistanceCalculator interface {
	Calculate(ctx context.Context, e *entity.Entity) (*entity.DistanceInfo, error)
}

// Context carries what a rule may need besides the two entities.
type Context struct {
	context.Context
	// Source is the name of the importing source.
	Source   string
	Now      time.Time
	Location LocationResolver
	Distance DistanceCalculator
}

func NewContext(ctx context.Context, source string) *Context {
	return &Context{
		Context: ctx,
		Source:  source,
		Now:     time.Now(),
	}
}

func configString(config map[string]any, key string) (string, bool) {
	val, ok := config[key]
	if !ok {
		return "", false
	}
	str, ok := val.(string)
	return str, ok
}

func configInt(config map[string]any, key string) (int, bool, error) {
	val, ok := config[key]
	if !ok {
		return 0, false, nil
	}
	switch v := val.(type) {
	case int:
		return v, true, nil
	case int64:
		return int(v), true, nil
	case uint64:
		return int(v), true, nil
	case float64:
		return int(v), true, nil
	default:
		return 0, false, fmt.Errorf("%s must be a number, got %T", key, val)
	}
}

func configStrings(config map[string]any, key string) ([]string, error) {
	val, ok := config[key]
	if !ok {
		return nil, nil
	}
	switch v := val.(type) {
	case []string:
		return v, nil
	case string:
		return []string{v}, nil
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			s, ok := item.(string)
			if !ok {
				return nil, fmt.Errorf("%s must be a list of strings, got %T", key, item)
			}
			out = append(out, s)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("%s must be a list of strings, got %T", key, val)
	}
}
