package entity

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProperties_JSONRoundTrip(t *testing.T) {
	begin := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	e := &Entity{
		ID:     "EVT1",
		Type:   "event",
		Active: true,
		Properties: EventOf(&EventProperties{
			AgeFrom:   6,
			DateBegin: &begin,
			Dates: []EventDate{
				{DayRID: "D1", From: begin, To: begin.Add(2 * time.Hour)},
			},
		}),
	}

	data, err := json.Marshal(e)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"kind":"event"`)

	var decoded Entity
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, KindEvent, decoded.Properties.Kind)
	require.NotNil(t, decoded.Properties.Event)
	assert.Nil(t, decoded.Properties.Poi)
	assert.Empty(t, cmp.Diff(e.Properties.Event, decoded.Properties.Event))
}

func TestProperties_EmptyKind(t *testing.T) {
	data, err := json.Marshal(&Entity{ID: "A"})
	require.NoError(t, err)

	var decoded Entity
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, KindNone, decoded.Properties.Kind)
	assert.NoError(t, decoded.Properties.Validate())
}

func TestProperties_UnknownKind(t *testing.T) {
	var p Properties
	err := json.Unmarshal([]byte(`{"kind":"spaceship","data":{}}`), &p)
	assert.Error(t, err)
}

func TestProperties_Validate(t *testing.T) {
	tests := []struct {
		name    string
		props   Properties
		wantErr bool
	}{
		{name: "none", props: Properties{}},
		{name: "poi", props: PoiOf(&PoiProperties{})},
		{name: "kind without variant", props: Properties{Kind: KindPoi}, wantErr: true},
		{name: "wrong variant", props: Properties{Kind: KindPoi, Event: &EventProperties{}}, wantErr: true},
		{
			name:    "two variants",
			props:   Properties{Kind: KindPoi, Poi: &PoiProperties{}, Event: &EventProperties{}},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.props.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestEntity_CloneIsDeep(t *testing.T) {
	e := &Entity{
		ID:         "A",
		TagIDs:     []string{"x"},
		Mapping:    map[string]map[string]string{"lts": {"rid": "1"}},
		Properties: PoiOf(&PoiProperties{AgeFrom: 3, Categories: []string{"c"}}),
	}

	c := e.Clone()
	c.TagIDs[0] = "y"
	c.Mapping["lts"]["rid"] = "2"
	c.Properties.Poi.AgeFrom = 9
	c.Properties.Poi.Categories[0] = "d"

	assert.Equal(t, "x", e.TagIDs[0])
	assert.Equal(t, "1", e.Mapping["lts"]["rid"])
	assert.Equal(t, 3, e.Properties.Poi.AgeFrom)
	assert.Equal(t, "c", e.Properties.Poi.Categories[0])
}

func TestEntity_AddTagID(t *testing.T) {
	e := &Entity{}
	e.AddTagID("Museums")
	e.AddTagID("museums")
	e.AddTagID("")

	assert.Equal(t, []string{"Museums"}, e.TagIDs)
}

func TestIntField(t *testing.T) {
	p := EventOf(&EventProperties{AgeFrom: 4})

	v, ok := p.IntField("ageFrom")
	assert.True(t, ok)
	assert.Equal(t, 4, v)

	assert.True(t, p.SetIntField("ageTo", 12))
	assert.Equal(t, 12, p.Event.AgeTo)

	_, ok = p.IntField("capacity")
	assert.False(t, ok)
}

func TestStoredID(t *testing.T) {
	assert.Equal(t, "ABC", StoredID("abc", IDStyleUpper, ModeNormal))
	assert.Equal(t, "abc_REDUCED", StoredID("ABC", IDStyleLower, ModeReduced))
	assert.Equal(t, "abc_REDUCED", ReducedID("abc_REDUCED"))
	assert.True(t, IsReducedID("x_reduced"))
}

func TestParseSyncMode(t *testing.T) {
	m, err := ParseSyncMode("opendata")
	require.NoError(t, err)
	assert.Equal(t, ModeReduced, m)

	_, err = ParseSyncMode("bogus")
	assert.Error(t, err)
}
