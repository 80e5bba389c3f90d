package pathutil

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSanitizeFilename(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		in   string
		want string
	}{
		{"colon", "foo: bar", "foo - bar"},
		{"question_and_star", "foo? bar*baz", "foo barbaz"},
		{"angle_and_pipe", "a<b>c|d", "a-b-c-d"},
		{"quote", `say "hi"`, "say 'hi'"},
		{"trailing_dot_space", "trailing. ", "trailing"},
		{"reserved_name", "CON", "_CON"},
		{"reserved_name_with_ext", "con.txt", "_con.txt"},
		{"control_char", "foo\x01bar", "foo_bar"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tc.want, SanitizeFilename(tc.in))
		})
	}
}

func TestSanitizeFilenameIdempotent(t *testing.T) {
	t.Parallel()

	inputs := []string{"foo: bar?*baz", "CON", "trailing. ", `"quoted"`, "normal-name.zip"}
	for _, in := range inputs {
		once := SanitizeFilename(in)
		twice := SanitizeFilename(once)
		assert.Equal(t, once, twice, "SanitizeFilename must be idempotent for %q", in)
	}
}

func TestEscapeNameSlashes(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "a//b//c", EscapeNameSlashes("a/b/c"))
}

func TestSanitizePathPreservesSeparators(t *testing.T) {
	t.Parallel()

	got := SanitizePath("SetA/Carol: of/pack?.7z")
	assert.Equal(t, "SetA/Carol - of/pack.7z", got)
}

func TestSanitizePathEscapedSlashBecomesDash(t *testing.T) {
	t.Parallel()

	escaped := EscapeNameSlashes("AC/DC") // "AC//DC"
	full := "Drive/" + escaped + "/song.ini"
	got := SanitizePath(full)
	// The doubled slash stays inside the component and each half becomes
	// '-', yielding double dashes.
	assert.Equal(t, "Drive/AC--DC/song.ini", got)
}

func TestNormalizePathKeyCaseAndUnicode(t *testing.T) {
	t.Parallel()

	nfc := "Café/Song.ini" // precomposed e-acute
	nfd := "Café/Song.ini" // e + combining acute accent
	assert.Equal(t, NormalizePathKey(nfc), NormalizePathKey(nfd))
	assert.Equal(t, NormalizePathKey("Foo/Bar"), NormalizePathKey("foo/bar"))
}

func TestTruncateMarkerBase(t *testing.T) {
	t.Parallel()

	short := "Drive_Setlist_pack.7z"
	assert.Equal(t, short, TruncateMarkerBase("Drive/Setlist/pack.7z", short))

	long := make([]byte, 260)
	for i := range long {
		long[i] = 'a'
	}

	truncated := TruncateMarkerBase("Drive/Setlist/"+string(long), string(long))
	require.LessOrEqual(t, len(truncated), 230)
	assert.Contains(t, truncated, "_")
}

type fakeManifestFile struct {
	key      string
	modified int64
	id       string
}

func (f fakeManifestFile) PathKey() string     { return f.key }
func (f fakeManifestFile) ModifiedUnix() int64 { return f.modified }

func TestDedupeByNewest(t *testing.T) {
	t.Parallel()

	files := []fakeManifestFile{
		{key: "set/carol of", modified: 100, id: "a"},
		{key: "set/carol of", modified: 200, id: "b"},
		{key: "set/other", modified: 50, id: "c"},
	}

	out := DedupeByNewest(files)
	require.Len(t, out, 2)
	assert.Equal(t, "b", out[0].id)
	assert.Equal(t, "c", out[1].id)
}

func TestDedupeByNewestIdempotent(t *testing.T) {
	t.Parallel()

	files := []fakeManifestFile{
		{key: "a", modified: 1, id: "x"},
		{key: "a", modified: 2, id: "y"},
	}

	once := DedupeByNewest(files)
	twice := DedupeByNewest(once)
	assert.Equal(t, once, twice)
}
