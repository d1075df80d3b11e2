package parser

import (
	"context"
	"errors"
	"testing"

	"codeberg.org/opendatahub/odhsync/pkg/entity"
	"codeberg.org/opendatahub/odhsync/pkg/source"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeParser struct {
	e   *entity.Entity
	err error
}

func (f *fakeParser) Parse(ctx context.Context, raw source.RawPayload, previous *entity.Entity) (*entity.Entity, error) {
	return f.e, f.err
}

func TestRegistry(t *testing.T) {
	r := NewRegistry()
	factory := func(config map[string]any, logger *zap.Logger) (Parser, error) {
		return &fakeParser{e: &entity.Entity{}}, nil
	}

	require.NoError(t, r.Register("fake", factory))
	assert.Error(t, r.Register("fake", factory))
	assert.True(t, r.Has("fake"))
	assert.Equal(t, []string{"fake"}, r.List())

	p, err := r.Create("fake", nil, nil)
	require.NoError(t, err)
	assert.NotNil(t, p)

	_, err = r.Create("missing", nil, zap.NewNop())
	assert.Error(t, err)
}

func TestValidated(t *testing.T) {
	tests := []struct {
		name    string
		inner   *fakeParser
		wantID  string
		wantErr bool
	}{
		{name: "fills id", inner: &fakeParser{e: &entity.Entity{}}, wantID: "R1"},
		{name: "keeps id", inner: &fakeParser{e: &entity.Entity{ID: "X"}}, wantID: "X"},
		{name: "nil entity", inner: &fakeParser{}, wantErr: true},
		{name: "inner error", inner: &fakeParser{err: errors.New("boom")}, wantErr: true},
		{
			name:    "broken properties",
			inner:   &fakeParser{e: &entity.Entity{Properties: entity.Properties{Kind: entity.KindEvent}}},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := &Validated{Parser: tt.inner}
			e, err := v.Parse(context.Background(), source.RawPayload{ID: "R1"}, nil)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantID, e.ID)
		})
	}
}
