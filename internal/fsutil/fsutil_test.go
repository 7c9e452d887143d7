package fsutil

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestListFiles(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "a.txt"), "a")
	writeFile(t, filepath.Join(root, "b.txt"), "b")
	writeFile(t, filepath.Join(root, "sub", "c.txt"), "c")
	writeFile(t, filepath.Join(root, "sub", "deeper", "d.txt"), "d")
	require.NoError(t, os.MkdirAll(filepath.Join(root, "empty"), 0o755))
	require.NoError(t, os.Symlink(filepath.Join(root, "missing"), filepath.Join(root, "broken")))
	require.NoError(t, os.Symlink(filepath.Join(root, "a.txt"), filepath.Join(root, "link.txt")))

	files, err := ListFiles([]string{
		root,
		filepath.Join(root, "sub"), // overlaps root
		filepath.Join(root, "a.txt"),
		filepath.Join(root, "does-not-exist"),
	})
	require.NoError(t, err)

	assert.Equal(t, []string{
		filepath.Join(root, "a.txt"),
		filepath.Join(root, "b.txt"),
		filepath.Join(root, "link.txt"),
		filepath.Join(root, "sub", "c.txt"),
		filepath.Join(root, "sub", "deeper", "d.txt"),
	}, files)
}

func TestListFiles_Empty(t *testing.T) {
	files, err := ListFiles([]string{filepath.Join(t.TempDir(), "nothing")})
	require.NoError(t, err)
	assert.Empty(t, files)
}

func TestPathType(t *testing.T) {
	root := t.TempDir()
	file := filepath.Join(root, "f")
	writeFile(t, file, "x")

	assert.Equal(t, "File", PathType(file))
	assert.Equal(t, "Directory", PathType(root))
	assert.Equal(t, "N/A", PathType(filepath.Join(root, "nope")))
}

func TestCreateBackup_File(t *testing.T) {
	root := t.TempDir()
	path := filepath.Join(root, ".zshrc")
	writeFile(t, path, "export A=1")

	snap, err := CreateBackup(path, "2026-10-14")
	require.NoError(t, err)
	assert.Equal(t, path+"_2026-10-14", snap)

	data, err := os.ReadFile(snap)
	require.NoError(t, err)
	assert.Equal(t, "export A=1", string(data))

	// a second snapshot with the same suffix does not clobber the first
	writeFile(t, path, "export A=2")
	snap2, err := CreateBackup(path, "2026-10-14")
	require.NoError(t, err)
	assert.Equal(t, path+"_2026-10-14.1", snap2)

	data, err = os.ReadFile(snap)
	require.NoError(t, err)
	assert.Equal(t, "export A=1", string(data))
}

func TestCreateBackup_Directory(t *testing.T) {
	root := t.TempDir()
	dir := filepath.Join(root, ".ssh")
	writeFile(t, filepath.Join(dir, "config"), "Host *")
	writeFile(t, filepath.Join(dir, "keys", "id_ed25519"), "KEY")
	require.NoError(t, os.Symlink("config", filepath.Join(dir, "config.link")))

	snap, err := CreateBackup(dir, "snap")
	require.NoError(t, err)

	data, err := os.ReadFile(filepath.Join(snap, "keys", "id_ed25519"))
	require.NoError(t, err)
	assert.Equal(t, "KEY", string(data))

	link, err := os.Readlink(filepath.Join(snap, "config.link"))
	require.NoError(t, err)
	assert.Equal(t, "config", link)
}

func TestCreateBackup_Missing(t *testing.T) {
	_, err := CreateBackup(filepath.Join(t.TempDir(), "gone"), "x")
	assert.Error(t, err)
}

func TestMove(t *testing.T) {
	root := t.TempDir()
	src := filepath.Join(root, "scratch", "home", "a", ".vimrc")
	writeFile(t, src, "set nu")
	dst := filepath.Join(root, "new-home", "nested", ".vimrc")

	require.NoError(t, Move(src, dst))

	data, err := os.ReadFile(dst)
	require.NoError(t, err)
	assert.Equal(t, "set nu", string(data))

	exists, err := Exists(src)
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestCopyFile_PreservesMode(t *testing.T) {
	root := t.TempDir()
	src := filepath.Join(root, "id_rsa")
	require.NoError(t, os.WriteFile(src, []byte("secret"), 0o600))

	dst := filepath.Join(root, "copy")
	require.NoError(t, CopyFile(src, dst))

	info, err := os.Stat(dst)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
}

func TestListFiles_SymlinkedLocation(t *testing.T) {
	root := t.TempDir()
	target := filepath.Join(root, "dropbox", "vim")
	writeFile(t, filepath.Join(target, "colors", "theme.vim"), "hi")
	home := filepath.Join(root, "home")
	require.NoError(t, os.MkdirAll(home, 0o755))
	require.NoError(t, os.Symlink(target, filepath.Join(home, ".vim")))

	files, err := ListFiles([]string{filepath.Join(home, ".vim")})
	require.NoError(t, err)
	assert.Equal(t, []string{filepath.Join(home, ".vim", "colors", "theme.vim")}, files)
}
