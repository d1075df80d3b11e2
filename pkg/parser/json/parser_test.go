package json

import (
	"context"
	"testing"

	"codeberg.org/opendatahub/odhsync/pkg/entity"
	"codeberg.org/opendatahub/odhsync/pkg/parser"
	"codeberg.org/opendatahub/odhsync/pkg/source"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestParser_Parse(t *testing.T) {
	p, err := New(map[string]any{
		"defaults": map[string]any{"Type": "event", "Active": true, "Source": "lts"},
	}, zap.NewNop())
	require.NoError(t, err)

	e, err := p.Parse(context.Background(), source.RawPayload{
		ID:     "E1",
		Format: "json",
		Data: []byte(`{
			"Source": "eurac",
			"TagIds": ["Events"],
			"Properties": {"kind": "event", "data": {"AgeTo": 12}}
		}`),
	}, nil)
	require.NoError(t, err)

	assert.Equal(t, "E1", e.ID)
	assert.Equal(t, "event", e.Type)
	assert.True(t, e.Active)
	assert.Equal(t, "eurac", e.Source, "payload values win over defaults")
	assert.Equal(t, []string{"Events"}, e.TagIDs)
	require.Equal(t, entity.KindEvent, e.Properties.Kind)
	assert.Equal(t, 12, e.Properties.Event.AgeTo)
}

func TestParser_Errors(t *testing.T) {
	p, err := New(nil, zap.NewNop())
	require.NoError(t, err)

	tests := []struct {
		name string
		raw  source.RawPayload
	}{
		{name: "bad json", raw: source.RawPayload{ID: "x", Data: []byte(`{`)}},
		{name: "xml", raw: source.RawPayload{ID: "x", Format: "xml", Data: []byte(`<a/>`)}},
		{name: "unknown kind", raw: source.RawPayload{ID: "x", Data: []byte(`{"Properties":{"kind":"ship"}}`)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := p.Parse(context.Background(), tt.raw, nil)
			assert.Error(t, err)
		})
	}
}

func TestNew_RejectsBadDefaults(t *testing.T) {
	_, err := New(map[string]any{"defaults": "x"}, zap.NewNop())
	assert.Error(t, err)
}

func TestRegistered(t *testing.T) {
	assert.True(t, parser.Has("json"))

	p, err := parser.Create("json", nil, zap.NewNop())
	require.NoError(t, err)

	e, err := p.Parse(context.Background(), source.RawPayload{ID: "A", Data: []byte(`{}`)}, nil)
	require.NoError(t, err)
	assert.Equal(t, "A", e.ID)
}
