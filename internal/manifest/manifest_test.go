package manifest

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	apperrors "github.com/lupppig/dotvault/internal/errors"
	"github.com/lupppig/dotvault/internal/identity"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func homeFixture(t *testing.T) (identity.Identity, []string) {
	t.Helper()
	home := t.TempDir()
	writeFile(t, filepath.Join(home, ".zshrc"), "export EDITOR=vim")
	writeFile(t, filepath.Join(home, ".vimrc"), "set number")
	writeFile(t, filepath.Join(home, ".ssh", "config"), "Host *")
	writeFile(t, filepath.Join(home, ".ssh", "keys", "id_ed25519"), "KEY")

	locations := []string{
		filepath.Join(home, ".zshrc"),
		filepath.Join(home, ".vimrc"),
		filepath.Join(home, ".ssh"),
		filepath.Join(home, ".ssh"), // duplicate
		filepath.Join(home, ".gnupg"),
	}
	return identity.Identity{User: "alice", HomeDir: home}, locations
}

func TestBuild(t *testing.T) {
	id, locations := homeFixture(t)
	home := id.HomeDir

	m, err := Build(locations, id)
	require.NoError(t, err)

	assert.False(t, m.Existing())
	assert.Equal(t, CurrentVersion, m.Version())
	assert.Equal(t, "alice", m.OldUser())
	assert.Equal(t, home, m.OldUserHomeDir())
	assert.Equal(t, []string{
		filepath.Join(home, ".gnupg"),
		filepath.Join(home, ".ssh"),
		filepath.Join(home, ".vimrc"),
		filepath.Join(home, ".zshrc"),
	}, m.Locations())

	files := m.AllBackupFiles()
	assert.Equal(t, []string{
		filepath.Join(home, ".ssh", "config"),
		filepath.Join(home, ".ssh", "keys", "id_ed25519"),
		filepath.Join(home, ".vimrc"),
		filepath.Join(home, ".zshrc"),
	}, files)

	digests := m.FileDigests()
	require.Len(t, digests, len(files))
	for _, f := range files {
		want, err := FileDigest(f)
		require.NoError(t, err)
		assert.Equal(t, want, digests[f])
	}
}

func TestBuild_Frozen(t *testing.T) {
	id, locations := homeFixture(t)
	m, err := Build(locations, id)
	require.NoError(t, err)

	files := m.AllBackupFiles()
	files[0] = "/tampered"
	digests := m.FileDigests()
	for k := range digests {
		delete(digests, k)
	}
	locs := m.Locations()
	locs[0] = "/tampered"

	assert.NotEqual(t, "/tampered", m.AllBackupFiles()[0])
	assert.NotEqual(t, "/tampered", m.Locations()[0])
	assert.Len(t, m.FileDigests(), len(m.AllBackupFiles()))
}

func TestBuild_Options(t *testing.T) {
	home := t.TempDir()
	f := filepath.Join(home, "only")
	writeFile(t, f, "x")

	var called []string
	var seen []string
	m, err := Build([]string{home}, identity.Identity{User: "u", HomeDir: home},
		WithLister(func(locs []string) ([]string, error) {
			called = locs
			return []string{f, f}, nil
		}),
		OnDigest(func(p string) { seen = append(seen, p) }),
	)
	require.NoError(t, err)
	assert.Equal(t, []string{home}, called)
	assert.Equal(t, []string{f}, m.AllBackupFiles())
	assert.Equal(t, []string{f}, seen)
}

func TestBuild_RelativeHome(t *testing.T) {
	_, err := Build(nil, identity.Identity{User: "u", HomeDir: "relative"})
	assert.True(t, apperrors.IsType(err, apperrors.TypeConfig))
}

func TestEncode_SortedKeys(t *testing.T) {
	id, locations := homeFixture(t)
	m, err := Build(locations, id)
	require.NoError(t, err)

	data, err := m.Encode()
	require.NoError(t, err)

	text := string(data)
	order := []string{`"backup_locations"`, `"file_digests"`, `"old_user"`, `"old_user_home_dir"`, `"version"`}
	last := -1
	for _, key := range order {
		i := strings.Index(text, key)
		require.NotEqual(t, -1, i, key)
		assert.Greater(t, i, last, key)
		last = i
	}
	assert.NotContains(t, text, "all_backup_files")
	assert.True(t, strings.HasPrefix(text, "{\n  \"backup_locations\""))

	var raw map[string]any
	require.NoError(t, json.Unmarshal(data, &raw))
	assert.Len(t, raw, 5)
}

func TestDecode_RoundTrip(t *testing.T) {
	id, locations := homeFixture(t)
	m, err := Build(locations, id)
	require.NoError(t, err)
	data, err := m.Encode()
	require.NoError(t, err)

	got, err := Decode(data)
	require.NoError(t, err)

	assert.True(t, got.Existing())
	assert.Equal(t, m.Locations(), got.Locations())
	assert.Equal(t, m.OldUser(), got.OldUser())
	assert.Equal(t, m.OldUserHomeDir(), got.OldUserHomeDir())
	assert.Equal(t, m.AllBackupFiles(), got.AllBackupFiles())
	assert.Equal(t, m.FileDigests(), got.FileDigests())
}

func TestDecode_MissingVersionIsOne(t *testing.T) {
	m, err := Decode([]byte(`{
  "backup_locations": ["/home/a/.zshrc"],
  "file_digests": {"/home/a/.zshrc": "` + strings.Repeat("0", 64) + `"},
  "old_user": "a",
  "old_user_home_dir": "/home/a"
}`))
	require.NoError(t, err)
	assert.Equal(t, 1, m.Version())
	assert.Equal(t, []string{"/home/a/.zshrc"}, m.AllBackupFiles())

	sum, ok := m.Digest("/home/a/.zshrc")
	assert.True(t, ok)
	assert.Equal(t, strings.Repeat("0", 64), sum)
}

func TestDecode_Invalid(t *testing.T) {
	digest := strings.Repeat("a", 64)

	tests := []struct {
		name string
		data string
	}{
		{"not json", `{invalid json`},
		{"future version", `{"old_user_home_dir": "/home/a", "version": 2}`},
		{"zero version", `{"old_user_home_dir": "/home/a", "version": 0}`},
		{"missing home", `{"backup_locations": []}`},
		{"relative home", `{"old_user_home_dir": "home/a"}`},
		{"relative location", `{"old_user_home_dir": "/home/a", "backup_locations": [".zshrc"]}`},
		{"duplicate location", `{"old_user_home_dir": "/home/a", "backup_locations": ["/home/a/x", "/home/a/x"]}`},
		{"relative file", `{"old_user_home_dir": "/home/a", "file_digests": {"x": "` + digest + `"}}`},
		{"bad digest", `{"old_user_home_dir": "/home/a", "file_digests": {"/home/a/x": "XYZ"}}`},
		{"dot-dot location", `{"old_user_home_dir": "/", "backup_locations": ["/../../victim.txt"]}`},
		{"unclean location", `{"old_user_home_dir": "/home/a", "backup_locations": ["/home/a/../b/.zshrc"]}`},
		{"root location", `{"old_user_home_dir": "/home/a", "backup_locations": ["/"]}`},
		{"dot-dot file", `{"old_user_home_dir": "/home/a", "file_digests": {"/home/a/../../etc/passwd": "` + digest + `"}}`},
		{"trailing slash file", `{"old_user_home_dir": "/home/a", "file_digests": {"/home/a/x/": "` + digest + `"}}`},
		{"uppercase digest", `{"old_user_home_dir": "/home/a", "file_digests": {"/home/a/x": "` + strings.Repeat("A", 64) + `"}}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode([]byte(tt.data))
			require.Error(t, err)
			assert.True(t, apperrors.IsType(err, apperrors.TypeCorruptArchive))
		})
	}
}

func TestFileDigest(t *testing.T) {
	path := filepath.Join(t.TempDir(), "f")
	writeFile(t, path, "hello")

	sum, err := FileDigest(path)
	require.NoError(t, err)
	assert.Equal(t, "2cf24dba5fb0a30e26e83b2ac5b9e29e1b161e5c1fa7425e73043362938b9824", sum)

	again, err := FileDigest(path)
	require.NoError(t, err)
	assert.Equal(t, sum, again)

	fromReader, err := CalculateChecksum(strings.NewReader("hello"))
	require.NoError(t, err)
	assert.Equal(t, sum, fromReader)

	_, err = FileDigest(filepath.Join(t.TempDir(), "missing"))
	assert.Error(t, err)
}
