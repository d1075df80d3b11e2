package source

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type mockClient struct {
	*BaseSource
	connected bool
}

func newMockClient(name string, config map[string]any, logger *zap.Logger) (Client, error) {
	return &mockClient{BaseSource: NewBaseSource(name, logger)}, nil
}

func (m *mockClient) Connect(ctx context.Context) error {
	m.connected = true
	return nil
}

func (m *mockClient) FetchAll(ctx context.Context, filter Filter) ([]RawPayload, error) {
	return nil, nil
}

func (m *mockClient) FetchOne(ctx context.Context, id string) (RawPayload, error) {
	return RawPayload{}, ErrNotFound
}

func (m *mockClient) FetchChangedSince(ctx context.Context, t time.Time) ([]string, error) {
	return nil, nil
}

func (m *mockClient) FetchDeletedSince(ctx context.Context, t time.Time) ([]string, error) {
	return nil, nil
}

func (m *mockClient) Close() error {
	m.connected = false
	return nil
}

func TestRegistry_Register(t *testing.T) {
	registry := NewRegistry()

	err := registry.Register("mock", newMockClient)
	require.NoError(t, err)

	err = registry.Register("mock", newMockClient)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "already registered")
}

func TestRegistry_Create(t *testing.T) {
	registry := NewRegistry()
	require.NoError(t, registry.Register("mock", newMockClient))

	c, err := registry.Create(context.Background(), "mock", "dss", map[string]any{}, nil)
	require.NoError(t, err)
	assert.Equal(t, "dss", c.Name())
	assert.True(t, c.(*mockClient).connected)

	_, err = registry.Create(context.Background(), "nonexistent", "dss", nil, nil)
	assert.Error(t, err)
}

func TestRegistry_ListAndHas(t *testing.T) {
	registry := NewRegistry()
	require.NoError(t, registry.Register("mock2", newMockClient))
	require.NoError(t, registry.Register("mock1", newMockClient))

	assert.Equal(t, []string{"mock1", "mock2"}, registry.List())
	assert.True(t, registry.Has("mock1"))
	assert.False(t, registry.Has("nonexistent"))
}

func TestStatusError_IsNotFound(t *testing.T) {
	tests := []struct {
		code int
		want bool
	}{
		{http.StatusNotFound, true},
		{http.StatusForbidden, true},
		{http.StatusGone, true},
		{http.StatusInternalServerError, false},
		{http.StatusUnauthorized, false},
	}

	for _, tt := range tests {
		t.Run(http.StatusText(tt.code), func(t *testing.T) {
			err := fmt.Errorf("wrapped: %w", &StatusError{StatusCode: tt.code, URL: "http://x"})
			assert.Equal(t, tt.want, IsNotFound(err))
		})
	}
}

func TestRetry(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), 3, time.Millisecond, time.Millisecond, func() error {
		calls++
		return errors.New("boom")
	})
	assert.Error(t, err)
	assert.Equal(t, 3, calls)

	calls = 0
	err = Retry(context.Background(), 3, time.Millisecond, time.Millisecond, func() error {
		calls++
		return ErrNotFound
	})
	assert.True(t, IsNotFound(err))
	assert.Equal(t, 1, calls)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err = Retry(ctx, 3, time.Hour, time.Hour, func() error { return errors.New("boom") })
	assert.ErrorIs(t, err, context.Canceled)
}
