package tests

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/lupppig/dotvault/internal/archive"
	"github.com/lupppig/dotvault/internal/manifest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestArchiveCompressions(t *testing.T) {
	alice, files := macHome(t, "alice")
	m, err := manifest.Build(locationsOf(alice), alice)
	require.NoError(t, err)

	for _, c := range []archive.Compression{archive.Deflate, archive.Store, archive.Zstd} {
		t.Run(string(c), func(t *testing.T) {
			data, err := archive.Assemble(m, archive.WithCompression(c))
			require.NoError(t, err)

			if c != archive.Zstd {
				// plain zip methods stay readable by any zip tool
				entries := zipEntries(t, data)
				assert.Equal(t, files[".vimrc"], string(entries[archive.EntryName(filepath.Join(alice.HomeDir, ".vimrc"))]))
			}

			dir := t.TempDir()
			got, err := archive.Disassemble(data, dir)
			require.NoError(t, err)
			assert.Equal(t, m.FileDigests(), got.FileDigests())

			for rel, content := range files {
				b, err := os.ReadFile(archive.ExtractedPath(dir, filepath.Join(alice.HomeDir, rel)))
				require.NoError(t, err)
				assert.Equal(t, content, string(b))
			}
		})
	}
}

func TestStoreIsLargerThanDeflate(t *testing.T) {
	alice, _ := macHome(t, "alice")
	writeFile(t, filepath.Join(alice.HomeDir, ".zsh_history"), string(make([]byte, 64<<10)))
	locs := append(locationsOf(alice), filepath.Join(alice.HomeDir, ".zsh_history"))
	m, err := manifest.Build(locs, alice)
	require.NoError(t, err)

	stored, err := archive.Assemble(m, archive.WithCompression(archive.Store))
	require.NoError(t, err)
	deflated, err := archive.Assemble(m, archive.WithCompression(archive.Deflate))
	require.NoError(t, err)
	zstd, err := archive.Assemble(m, archive.WithCompression(archive.Zstd))
	require.NoError(t, err)

	assert.Greater(t, len(stored), len(deflated))
	assert.Greater(t, len(stored), len(zstd))
}
