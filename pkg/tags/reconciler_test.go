package tags

import (
	"testing"

	"codeberg.org/opendatahub/odhsync/pkg/entity"
	"codeberg.org/opendatahub/odhsync/pkg/taxonomy"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testTaxonomy() *taxonomy.Snapshot {
	return taxonomy.NewSnapshot([]taxonomy.Tag{
		{ID: "skiing", Source: "idm", Types: []string{"activity"}, Parents: []string{"winter"},
			Name: map[string]string{"en": "Skiing"}, Codes: map[string][]string{"lts": {"B0A7"}}},
		{ID: "winter", Source: "idm", Parents: []string{"season"}},
		{ID: "season", Source: "idm"},
		// cycle
		{ID: "a", Source: "idm", Parents: []string{"b"}},
		{ID: "b", Source: "idm", Parents: []string{"a"}},
	})
}

func TestReconciler_ResolvesParents(t *testing.T) {
	r := NewReconciler(testTaxonomy())
	e := &entity.Entity{Source: "lts", TagIDs: []string{"B0A7"}}

	r.Resolve(e, nil)

	assert.Equal(t, []string{"season", "skiing", "winter"}, e.TagIDs)
	require.Len(t, e.Tags, 3)
	assert.Equal(t, "skiing", e.Tags[0].ID)
	assert.Equal(t, "Skiing", e.Tags[0].Name)
	assert.Equal(t, "activity", e.Tags[0].Type)
	assert.Equal(t, "idm", e.Tags[0].Source)
}

func TestReconciler_CycleTerminates(t *testing.T) {
	r := NewReconciler(testTaxonomy())
	e := &entity.Entity{Source: "lts", TagIDs: []string{"a"}}

	r.Resolve(e, nil)

	assert.Equal(t, []string{"a", "b"}, e.TagIDs)
}

func TestReconciler_UnknownTagKeepsEntitySource(t *testing.T) {
	r := NewReconciler(testTaxonomy())
	e := &entity.Entity{Source: "dss", TagIDs: []string{"lift", "lift", "LIFT"}}

	r.Resolve(e, nil)

	require.Len(t, e.Tags, 1)
	assert.Equal(t, "dss", e.Tags[0].Source)
	assert.Equal(t, []string{"lift"}, e.TagIDs)
}

func TestReconciler_PreservesTagEntry(t *testing.T) {
	r := NewReconciler(testTaxonomy())
	old := &entity.Entity{Tags: []entity.TagRef{
		{ID: "stars", Source: "editor", TagEntry: "4"},
		{ID: "season", Source: "idm", TagEntry: "all-year"},
	}}
	e := &entity.Entity{Source: "lts", TagIDs: []string{"stars", "winter"}}

	r.Resolve(e, old)

	stars, ok := e.Tag("stars")
	require.True(t, ok)
	assert.Equal(t, "4", stars.TagEntry)
	assert.Equal(t, "editor", stars.Source)

	season, ok := e.Tag("season")
	require.True(t, ok)
	assert.Equal(t, "all-year", season.TagEntry)
}

func TestReconciler_NilTaxonomy(t *testing.T) {
	r := NewReconciler(nil)
	e := &entity.Entity{Source: "lts", TagIDs: []string{"x"}}

	r.Resolve(e, nil)

	assert.Equal(t, []string{"x"}, e.TagIDs)
}
