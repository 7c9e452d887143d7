package fsutil

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"syscall"
	"time"
)

// SnapshotTimeFormat is the default suffix layout for CreateBackup.
const SnapshotTimeFormat = "2006-01-02_15-04-05"

// CreateBackup copies path to a sibling "<path>_<suffix>" and returns the new
// path. An empty suffix means the current time. If the sibling is taken a
// counter is appended so an earlier snapshot is never overwritten. Files are
// copied with their mode, directories recursively, and a symlink at path is
// recreated as a symlink.
func CreateBackup(path, suffix string) (string, error) {
	if suffix == "" {
		suffix = time.Now().Format(SnapshotTimeFormat)
	}

	info, err := os.Lstat(path)
	if err != nil {
		return "", err
	}

	target := fmt.Sprintf("%s_%s", path, suffix)
	for i := 1; ; i++ {
		exists, err := Exists(target)
		if err != nil {
			return "", err
		}
		if !exists {
			break
		}
		target = fmt.Sprintf("%s_%s.%d", path, suffix, i)
	}

	switch {
	case info.Mode()&fs.ModeSymlink != 0:
		err = copySymlink(path, target)
	case info.IsDir():
		err = CopyDir(path, target)
	case info.Mode().IsRegular():
		err = CopyFile(path, target)
	default:
		return "", fmt.Errorf("%s is neither a file nor a directory", path)
	}
	if err != nil {
		return "", err
	}
	return target, nil
}

// Move renames src to dst, creating dst's parent directories. When src and dst
// are on different devices it falls back to copy and remove.
func Move(src, dst string) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}

	err := os.Rename(src, dst)
	if err == nil || !errors.Is(err, syscall.EXDEV) {
		return err
	}

	info, err := os.Lstat(src)
	if err != nil {
		return err
	}
	switch {
	case info.Mode()&fs.ModeSymlink != 0:
		err = copySymlink(src, dst)
	case info.IsDir():
		err = CopyDir(src, dst)
	default:
		err = CopyFile(src, dst)
	}
	if err != nil {
		return err
	}
	return os.RemoveAll(src)
}

// CopyFile copies the content and permission bits of src to dst.
func CopyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	info, err := in.Stat()
	if err != nil {
		return err
	}

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, info.Mode().Perm())
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

// CopyDir recursively copies the tree at src to dst.
func CopyDir(src, dst string) error {
	return filepath.WalkDir(src, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}

		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)

		switch {
		case d.IsDir():
			info, err := d.Info()
			if err != nil {
				return err
			}
			return os.MkdirAll(target, info.Mode().Perm()|0o700)
		case d.Type()&fs.ModeSymlink != 0:
			return copySymlink(path, target)
		case d.Type().IsRegular():
			return CopyFile(path, target)
		}
		// sockets, fifos and devices are not copied
		return nil
	})
}

func copySymlink(src, dst string) error {
	link, err := os.Readlink(src)
	if err != nil {
		return err
	}
	return os.Symlink(link, dst)
}
