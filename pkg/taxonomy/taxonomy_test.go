package taxonomy

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"codeberg.org/opendatahub/odhsync/pkg/entity"
	"codeberg.org/opendatahub/odhsync/pkg/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSnapshot_Lookup(t *testing.T) {
	snap := NewSnapshot([]Tag{
		{ID: "skiing", Source: "idm", Codes: map[string][]string{"lts": {"B0A7F1"}}},
		{ID: "Winter", Source: "idm"},
	})

	tag, ok := snap.Lookup("lts", "b0a7f1")
	require.True(t, ok)
	assert.Equal(t, "skiing", tag.ID)

	tag, ok = snap.Lookup("dss", "winter")
	require.True(t, ok)
	assert.Equal(t, "Winter", tag.ID)

	_, ok = snap.Lookup("dss", "B0A7F1")
	assert.False(t, ok)

	var empty *Snapshot
	_, ok = empty.Lookup("lts", "skiing")
	assert.False(t, ok)
	assert.Equal(t, 0, empty.Len())
}

func TestTag_DisplayName(t *testing.T) {
	tag := Tag{ID: "x", Name: map[string]string{"de": "Skifahren", "it": "Sci"}}
	assert.Equal(t, "Sci", tag.DisplayName("it"))
	assert.Equal(t, "Skifahren", tag.DisplayName("fr"))
	assert.Equal(t, "x", Tag{ID: "x"}.DisplayName("en"))
}

func TestFileProvider_Load(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "taxonomy.yaml")
	doc := `
tags:
  - id: skiing
    name:
      en: Skiing
    parents: [winter]
    publishDataWithTagOn:
      suedtirol.info: true
      idm-marketplace: false
  - id: winter
    source: lts
`
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o644))

	snap, err := NewFileProvider(path).Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, snap.Len())

	tag, ok := snap.Get("skiing")
	require.True(t, ok)
	assert.Equal(t, DefaultSource, tag.Source)
	assert.Equal(t, []string{"winter"}, tag.Parents)
	assert.False(t, tag.PublishDataWithTagOn["idm-marketplace"])

	winter, _ := snap.Get("winter")
	assert.Equal(t, "lts", winter.Source)
}

func TestFileProvider_MissingID(t *testing.T) {
	path := filepath.Join(t.TempDir(), "taxonomy.yaml")
	require.NoError(t, os.WriteFile(path, []byte("tags:\n  - name: {en: x}\n"), 0o644))

	_, err := NewFileProvider(path).Load(context.Background())
	assert.Error(t, err)
}

func TestStoreProvider_Load(t *testing.T) {
	ctx := context.Background()
	repo := store.NewMemoryStore()

	_, err := repo.UpsertCompare(ctx, &entity.Entity{
		ID:     "summer",
		Type:   "tag",
		Source: "idm",
		Detail: map[string]entity.Detail{"en": {Title: "Summer"}},
		Properties: entity.TagOf(&entity.TagProperties{
			Parents:              []string{"season"},
			PublishDataWithTagOn: map[string]bool{"suedtirol.info": true},
		}),
	}, store.CompareOptions{})
	require.NoError(t, err)

	snap, err := NewStoreProvider(repo).Load(ctx)
	require.NoError(t, err)

	tag, ok := snap.Get("summer")
	require.True(t, ok)
	assert.Equal(t, "Summer", tag.DisplayName("en"))
	assert.Equal(t, []string{"season"}, tag.Parents)
	assert.True(t, tag.PublishDataWithTagOn["suedtirol.info"])
}
