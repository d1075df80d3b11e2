package manifest

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"codeberg.org/opendatahub/odhsync/pkg/entity"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const eventsManifest = `
apiVersion: odhsync.io/v1
kind: ImportSource
metadata:
  name: lts-events
  labels:
    team: data
spec:
  source: lts
  interface: lts.events
  entityType: event
  idStyle: upper
  deletion: hard
  mode: reduced
  syncPeriod: 15m
  workers: 4
  fetchTimeout: 45s
  client:
    type: rest
    config:
      baseURL: ${LTS_BASE_URL}
      retries: 5
  parser:
    type: script
    config:
      path: /etc/odhsync/events.star
  mergeRules:
    - name: tags
      type: redactional-tags
    - name: dates
      type: date-retention
      config:
        lookbackMonths: 3
  compare:
    diff: false
    images: true
  constraints:
    denyCreate: true
`

func TestParser_Parse_ImportSource(t *testing.T) {
	t.Setenv("LTS_BASE_URL", "https://lts.example.com/api")

	src, err := NewParser().Parse([]byte(eventsManifest))
	require.NoError(t, err)

	assert.Equal(t, "lts-events", src.Name)
	assert.Equal(t, "data", src.Labels["team"])
	assert.Equal(t, "lts", src.Spec.Source)
	assert.Equal(t, "lts.events", src.Spec.Interface)
	assert.Equal(t, 4, src.Spec.Workers)
	assert.Equal(t, entity.IDStyleUpper, src.Spec.IDs())
	assert.Equal(t, "https://lts.example.com/api", src.Spec.Client.Config["baseURL"])
	assert.EqualValues(t, 5, src.Spec.Client.Config["retries"])
	require.Len(t, src.Spec.MergeRules, 2)
	assert.EqualValues(t, 3, src.Spec.MergeRules[1].Config["lookbackMonths"])

	mode, err := src.Spec.SyncMode()
	require.NoError(t, err)
	assert.Equal(t, entity.ModeReduced, mode)

	deletion, err := src.Spec.DeletionMode()
	require.NoError(t, err)
	assert.Equal(t, entity.DeletionHard, deletion)

	assert.Equal(t, 15*time.Minute, src.Spec.Period(time.Hour))
	assert.Equal(t, 45*time.Second, src.Spec.Timeout(time.Minute))
	assert.False(t, src.Spec.Compare.DiffEnabled())
	assert.True(t, src.Spec.Compare.Images)
	assert.True(t, src.Spec.Constraints.DenyCreate)
}

func TestParser_Parse_Defaults(t *testing.T) {
	src, err := NewParser().Parse([]byte(`
apiVersion: odhsync.io/v1
kind: ImportSource
metadata:
  name: dss-lifts
spec:
  source: dss
  entityType: odhactivitypoi
  client:
    type: file
  parser:
    type: json
`))
	require.NoError(t, err)

	mode, _ := src.Spec.SyncMode()
	deletion, _ := src.Spec.DeletionMode()
	assert.Equal(t, entity.ModeNormal, mode)
	assert.Equal(t, entity.DeletionSoft, deletion)
	assert.True(t, src.Spec.Compare.DiffEnabled())
	assert.Equal(t, time.Hour, src.Spec.Period(time.Hour))
}

func TestParser_Parse_UnknownKind(t *testing.T) {
	_, err := NewParser().Parse([]byte("apiVersion: odhsync.io/v1\nkind: SyncTarget\n"))
	assert.ErrorContains(t, err, "unknown manifest kind")
}

func TestParser_ParseDirectory(t *testing.T) {
	dir := t.TempDir()
	write := func(name, sourceName string) {
		content := "apiVersion: odhsync.io/v1\nkind: ImportSource\nmetadata:\n  name: " + sourceName +
			"\nspec:\n  source: lts\n  entityType: event\n  client:\n    type: rest\n  parser:\n    type: json\n"
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
	}
	write("a.yaml", "a")
	write("b.yml", "b")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "README.md"), []byte("ignored"), 0o644))

	manifests, err := NewParser().ParseDirectory(dir)
	require.NoError(t, err)
	require.Len(t, manifests, 2)
	assert.Equal(t, "a", manifests[0].Name)
	assert.Equal(t, "b", manifests[1].Name)

	write("c.yaml", "a")
	_, err = NewParser().ParseDirectory(dir)
	assert.ErrorContains(t, err, "defined in")
}

func TestMarshal_RoundTrip(t *testing.T) {
	p := NewParser()
	src, err := p.Parse([]byte(eventsManifest))
	require.NoError(t, err)

	data, err := Marshal(src)
	require.NoError(t, err)

	again, err := p.Parse(data)
	require.NoError(t, err)
	assert.Equal(t, src.Spec, again.Spec)
	assert.Equal(t, src.Name, again.Name)
}
