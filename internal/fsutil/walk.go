// Package fsutil holds the filesystem collaborators used by backup and restore:
// file enumeration, pre-overwrite snapshots and moves.
package fsutil

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
)

// ListFiles expands locations into the regular files reachable from them.
// Directories are walked without depth limit; a regular file is returned as is.
// Missing paths, broken symlinks and special files are skipped. A symlink that
// resolves to a regular file is listed under its own path; symlinked directories
// are not descended into. The result is absolute, deduplicated and sorted.
func ListFiles(locations []string) ([]string, error) {
	seen := make(map[string]struct{})
	var files []string

	add := func(p string) {
		if _, ok := seen[p]; ok {
			return
		}
		seen[p] = struct{}{}
		files = append(files, p)
	}

	for _, loc := range locations {
		abs, err := filepath.Abs(loc)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve %q: %w", loc, err)
		}

		info, err := os.Stat(abs)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return nil, fmt.Errorf("failed to stat %s: %w", abs, err)
		}

		if info.Mode().IsRegular() {
			add(abs)
			continue
		}
		if !info.IsDir() {
			continue
		}

		// A location that is itself a symlinked directory is walked through its
		// target, but files are still listed under the location's own path.
		root, err := filepath.EvalSymlinks(abs)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve %s: %w", abs, err)
		}

		err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				if errors.Is(err, fs.ErrNotExist) {
					return nil
				}
				return err
			}
			rel, err := filepath.Rel(root, path)
			if err != nil {
				return err
			}
			listed := filepath.Join(abs, rel)

			switch {
			case d.Type().IsRegular():
				add(listed)
			case d.Type()&fs.ModeSymlink != 0:
				if target, err := os.Stat(path); err == nil && target.Mode().IsRegular() {
					add(listed)
				}
			}
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("failed to walk %s: %w", abs, err)
		}
	}

	sort.Strings(files)
	return files, nil
}

// PathType describes what lives at path: "File", "Directory" or "N/A".
func PathType(path string) string {
	info, err := os.Stat(path)
	switch {
	case err != nil:
		return "N/A"
	case info.IsDir():
		return "Directory"
	case info.Mode().IsRegular():
		return "File"
	default:
		return "N/A"
	}
}

// Exists reports whether anything, including a dangling symlink, is at path.
func Exists(path string) (bool, error) {
	_, err := os.Lstat(path)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	return false, err
}
