package starlarklib

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.starlark.net/starlark"
	"go.uber.org/zap"
)

func run(t *testing.T, script string) starlark.StringDict {
	t.Helper()
	thread := NewThread("test", zap.NewNop())
	globals, err := starlark.ExecFile(thread, "test.star", script, MakeBuiltins())
	require.NoError(t, err)
	return globals
}

func TestJSONModule(t *testing.T) {
	globals := run(t, `
decoded = json.decode('{"a": 1, "b": [true, null], "c": 1.5}')
encoded = json.encode({"x": decoded["a"]})
`)
	decoded, err := ToGo(globals["decoded"])
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"a": int64(1), "b": []any{true, nil}, "c": 1.5}, decoded)
	assert.Equal(t, starlark.String(`{"x":1}`), globals["encoded"])
}

func TestTimeModule(t *testing.T) {
	globals := run(t, `
local = time.parse("2006-01-02 15:04", "2024-07-01 10:30", timezone="Europe/Rome")
utc = time.format(local, "2006-01-02T15:04", timezone="UTC")
later = time.add("2024-07-01T00:00:00Z", "36h")
ts = time.unix("1970-01-01T00:01:00Z")
day = time.day("2024-07-01T23:30:00Z", timezone="Europe/Rome")
`)
	assert.Equal(t, starlark.String("2024-07-01T10:30:00+02:00"), globals["local"])
	assert.Equal(t, starlark.String("2024-07-01T08:30"), globals["utc"])
	assert.Equal(t, starlark.String("2024-07-02T12:00:00Z"), globals["later"])
	assert.Equal(t, starlark.MakeInt(60), globals["ts"])
	assert.Equal(t, starlark.String("2024-07-02T00:00:00+02:00"), globals["day"])
}

func TestHashAndBase64Modules(t *testing.T) {
	globals := run(t, `
sha = hash.sha256("abc")
md = hash.md5("abc")
xx = hash.xxhash("abc")
k1 = hash.key("lts", 42)
k2 = hash.key("lts", 42)
k3 = hash.key("lts", 43)
b = base64.decode(base64.encode("odh"))
`)
	assert.Equal(t, starlark.String("ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad"), globals["sha"])
	assert.Equal(t, starlark.String("900150983cd24fb0d6963f7d28e17f72"), globals["md"])
	assert.NotEmpty(t, string(globals["xx"].(starlark.String)))
	assert.Equal(t, globals["k1"], globals["k2"])
	assert.NotEqual(t, globals["k1"], globals["k3"])
	assert.Equal(t, starlark.String("odh"), globals["b"])
}

func TestToGo_RejectsNonStringKeys(t *testing.T) {
	d := starlark.NewDict(1)
	require.NoError(t, d.SetKey(starlark.MakeInt(1), starlark.True))
	_, err := ToGo(d)
	assert.Error(t, err)
}

func TestJSONGet(t *testing.T) {
	globals := run(t, `
doc = json.decode('{"ContactInfos": {"de": {"City": "Bozen"}}, "GpsInfo": [{"Latitude": 46.5}], "Empty": null}')
city = json.get(doc, "ContactInfos.de.City")
lat = json.get(doc, "GpsInfo.0.Latitude")
missing = json.get(doc, "ContactInfos.it.City", default="n/a")
outOfRange = json.get(doc, "GpsInfo.3.Latitude")
empty = json.get(doc, "Empty", default="")
`)
	assert.Equal(t, starlark.String("Bozen"), globals["city"])
	assert.Equal(t, starlark.Float(46.5), globals["lat"])
	assert.Equal(t, starlark.String("n/a"), globals["missing"])
	assert.Equal(t, starlark.None, globals["outOfRange"])
	assert.Equal(t, starlark.String(""), globals["empty"])
}
