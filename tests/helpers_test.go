package tests

import (
	"archive/zip"
	"bytes"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/lupppig/dotvault/internal/crypto"
	"github.com/lupppig/dotvault/internal/identity"
	"github.com/lupppig/dotvault/internal/logger"
	"github.com/stretchr/testify/require"
)

var cheapKDF = crypto.KDFParams{N: 1 << 10, R: 8, P: 1}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func readFile(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return string(data)
}

// macHome lays out the five dotfiles used by the end-to-end scenarios under
// <tmp>/Users/<user>.
func macHome(t *testing.T, user string) (identity.Identity, map[string]string) {
	t.Helper()
	home := filepath.Join(t.TempDir(), "Users", user)
	files := map[string]string{
		".zshrc":            "export PATH=$HOME/bin:$PATH\n",
		".vimrc":            "syntax on\nset number\n",
		".gitconfig":        "[user]\n\tname = " + user + "\n",
		".ssh/config":       "Host github.com\n  IdentityFile ~/.ssh/id_ed25519\n",
		".vim/colors/x.vim": "hi Comment ctermfg=grey\n",
	}
	for rel, content := range files {
		writeFile(t, filepath.Join(home, rel), content)
	}
	return identity.Identity{User: user, HomeDir: home}, files
}

func locationsOf(id identity.Identity) []string {
	return []string{
		filepath.Join(id.HomeDir, ".zshrc"),
		filepath.Join(id.HomeDir, ".vimrc"),
		filepath.Join(id.HomeDir, ".gitconfig"),
		filepath.Join(id.HomeDir, ".ssh"),
		filepath.Join(id.HomeDir, ".vim"),
	}
}

func emptyHome(t *testing.T, user string) identity.Identity {
	t.Helper()
	home := filepath.Join(t.TempDir(), "Users", user)
	require.NoError(t, os.MkdirAll(home, 0o755))
	return identity.Identity{User: user, HomeDir: home}
}

func testLogger(buf *bytes.Buffer) *logger.Logger {
	return logger.New(logger.Config{Writer: buf, NoColor: true})
}

// zipEntries returns the entry names of an archive and their contents.
func zipEntries(t *testing.T, data []byte) map[string][]byte {
	t.Helper()
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		// absolute entry names are reported but the reader is still usable
		require.ErrorIs(t, err, zip.ErrInsecurePath)
	}
	out := make(map[string][]byte)
	for _, f := range zr.File {
		rc, err := f.Open()
		require.NoError(t, err)
		b, err := io.ReadAll(rc)
		rc.Close()
		require.NoError(t, err)
		out[f.Name] = b
	}
	return out
}

// replaceEntry rewrites data with the entry called name holding content.
func replaceEntry(t *testing.T, data []byte, name string, content []byte) []byte {
	t.Helper()
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		require.ErrorIs(t, err, zip.ErrInsecurePath)
	}

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for _, f := range zr.File {
		w, err := zw.CreateHeader(&zip.FileHeader{Name: f.Name, Method: zip.Deflate})
		require.NoError(t, err)
		if f.Name == name {
			_, err = w.Write(content)
			require.NoError(t, err)
			continue
		}
		rc, err := f.Open()
		require.NoError(t, err)
		_, err = io.Copy(w, rc)
		rc.Close()
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

func withCheapKDF() crypto.Option {
	return crypto.WithKDFParams(cheapKDF)
}
