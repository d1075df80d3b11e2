package source

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBaseSource_Name(t *testing.T) {
	b := NewBaseSource("test-source", nil)
	assert.Equal(t, "test-source", b.Name())
	assert.NotNil(t, b.Logger())
}

func TestBaseSource_Config(t *testing.T) {
	b := NewBaseSource("test", nil)

	b.SetConfig(map[string]any{
		"key1":    "value1",
		"key2":    42,
		"key3":    float64(7),
		"timeout": "5s",
		"headers": map[string]any{"X-Key": "abc", "X-Num": 1},
	})

	val, ok := b.GetConfig("key1")
	assert.True(t, ok)
	assert.Equal(t, "value1", val)

	str, err := b.GetStringConfig("key1")
	assert.NoError(t, err)
	assert.Equal(t, "value1", str)

	_, ok = b.GetConfig("nonexistent")
	assert.False(t, ok)

	_, err = b.GetStringConfig("key2")
	assert.Error(t, err)

	assert.Equal(t, "fallback", b.GetStringConfigOr("missing", "fallback"))
	assert.Equal(t, 42, b.GetIntConfig("key2", 0))
	assert.Equal(t, 7, b.GetIntConfig("key3", 0))
	assert.Equal(t, 9, b.GetIntConfig("key1", 9))

	d, err := b.GetDurationConfig("timeout", time.Second)
	assert.NoError(t, err)
	assert.Equal(t, 5*time.Second, d)

	_, err = b.GetDurationConfig("key1", time.Second)
	assert.Error(t, err)

	assert.Equal(t, map[string]string{"X-Key": "abc", "X-Num": "1"}, b.GetStringMapConfig("headers"))
}
