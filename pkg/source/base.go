package source

import (
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// BaseSource holds the name, config and logger shared by client
// implementations.
type BaseSource struct {
	name   string
	config map[string]any
	mu     sync.RWMutex
	logger *zap.Logger
}

func NewBaseSource(name string, logger *zap.Logger) *BaseSource {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &BaseSource{
		name:   name,
		logger: logger.With(zap.String("source", name)),
	}
}

func (b *BaseSource) Name() string {
	return b.name
}

func (b *BaseSource) Logger() *zap.Logger {
	return b.logger
}

func (b *BaseSource) GetConfig(key string) (any, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	val, ok := b.config[key]
	return val, ok
}

func (b *BaseSource) GetStringConfig(key string) (string, error) {
	val, ok := b.GetConfig(key)
	if !ok {
		return "", fmt.Errorf("config key %s not found", key)
	}
	str, ok := val.(string)
	if !ok {
		return "", fmt.Errorf("config key %s is not a string", key)
	}
	return str, nil
}

func (b *BaseSource) GetStringConfigOr(key, fallback string) string {
	str, err := b.GetStringConfig(key)
	if err != nil || str == "" {
		return fallback
	}
	return str
}

func (b *BaseSource) GetIntConfig(key string, fallback int) int {
	val, ok := b.GetConfig(key)
	if !ok {
		return fallback
	}
	switch v := val.(type) {
	case int:
		return v
	case int64:
		return int(v)
	case uint64:
		return int(v)
	case float64:
		return int(v)
	default:
		return fallback
	}
}

func (b *BaseSource) GetDurationConfig(key string, fallback time.Duration) (time.Duration, error) {
	val, ok := b.GetConfig(key)
	if !ok {
		return fallback, nil
	}
	str, ok := val.(string)
	if !ok {
		return 0, fmt.Errorf("config key %s is not a duration string", key)
	}
	d, err := time.ParseDuration(str)
	if err != nil {
		return 0, fmt.Errorf("config key %s: %w", key, err)
	}
	return d, nil
}

func (b *BaseSource) GetStringMapConfig(key string) map[string]string {
	val, ok := b.GetConfig(key)
	if !ok {
		return nil
	}
	out := make(map[string]string)
	switch m := val.(type) {
	case map[string]string:
		for k, v := range m {
			out[k] = v
		}
	case map[string]any:
		for k, v := range m {
			out[k] = fmt.Sprint(v)
		}
	}
	return out
}

func (b *BaseSource) SetConfig(config map[string]any) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.config = config
}
