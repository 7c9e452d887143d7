// Package manifest describes what a backup archive contains: the locations it
// was taken from, the account it belonged to and a digest for every file.
package manifest

import (
	"encoding/json"
	"fmt"
	"maps"
	"path/filepath"
	"slices"

	apperrors "github.com/lupppig/dotvault/internal/errors"
	"github.com/lupppig/dotvault/internal/fsutil"
	"github.com/lupppig/dotvault/internal/identity"
)

const (
	// FileName is the archive entry holding the serialized manifest.
	FileName = "manifest.json"

	// LegacyFileName is the manifest entry of archives written before the
	// versioned schema. Those archives are not readable.
	LegacyFileName = "info.json"

	CurrentVersion = 1
)

// Manifest is immutable once built or decoded. All accessors return copies.
type Manifest struct {
	locations []string
	oldUser   string
	oldHome   string
	files     []string
	digests   map[string]string
	version   int
	existing  bool
}

// Lister expands backup locations into the regular files beneath them.
type Lister func(locations []string) ([]string, error)

type buildOptions struct {
	lister   Lister
	onDigest func(path string)
}

type BuildOption func(*buildOptions)

// WithLister replaces fsutil.ListFiles as the file enumeration provider.
func WithLister(l Lister) BuildOption {
	return func(o *buildOptions) { o.lister = l }
}

// OnDigest is called after each file has been digested.
func OnDigest(fn func(path string)) BuildOption {
	return func(o *buildOptions) { o.onDigest = fn }
}

// Build walks locations and digests every regular file found. Locations are made
// absolute and deduplicated; ones that do not exist are kept in the manifest but
// contribute no files.
func Build(locations []string, id identity.Identity, opts ...BuildOption) (*Manifest, error) {
	o := buildOptions{lister: fsutil.ListFiles}
	for _, opt := range opts {
		opt(&o)
	}

	if id.HomeDir == "" || !filepath.IsAbs(id.HomeDir) {
		return nil, apperrors.New(apperrors.TypeConfig,
			fmt.Sprintf("home directory %q must be an absolute path", id.HomeDir), "")
	}

	locs := make([]string, 0, len(locations))
	for _, loc := range locations {
		abs, err := filepath.Abs(loc)
		if err != nil {
			return nil, apperrors.Wrap(err, apperrors.TypeConfig,
				fmt.Sprintf("invalid backup location %q", loc), "")
		}
		locs = append(locs, abs)
	}
	slices.Sort(locs)
	locs = slices.Compact(locs)

	listed, err := o.lister(locs)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.TypeResource, "failed to enumerate backup files", "")
	}
	files := slices.Clone(listed)
	slices.Sort(files)
	files = slices.Compact(files)

	digests := make(map[string]string, len(files))
	for _, f := range files {
		sum, err := FileDigest(f)
		if err != nil {
			return nil, apperrors.Wrap(err, apperrors.TypeResource,
				fmt.Sprintf("failed to digest %s", f), "")
		}
		digests[f] = sum
		if o.onDigest != nil {
			o.onDigest(f)
		}
	}

	return &Manifest{
		locations: locs,
		oldUser:   id.User,
		oldHome:   filepath.Clean(id.HomeDir),
		files:     files,
		digests:   digests,
		version:   CurrentVersion,
	}, nil
}

func (m *Manifest) Locations() []string { return slices.Clone(m.locations) }

func (m *Manifest) OldUser() string { return m.oldUser }

func (m *Manifest) OldUserHomeDir() string { return m.oldHome }

// AllBackupFiles is the sorted set of files the archive holds. It is derived
// from the digest keys and never serialized.
func (m *Manifest) AllBackupFiles() []string { return slices.Clone(m.files) }

func (m *Manifest) FileDigests() map[string]string { return maps.Clone(m.digests) }

// Digest returns the recorded digest for path.
func (m *Manifest) Digest(path string) (string, bool) {
	d, ok := m.digests[path]
	return d, ok
}

func (m *Manifest) Version() int { return m.version }

// Existing reports whether the manifest was decoded from an archive rather
// than built from the filesystem.
func (m *Manifest) Existing() bool { return m.existing }

// wire is the on-disk shape. Fields are declared in key order so the output is
// sorted; encoding/json sorts the digest map itself.
type wire struct {
	BackupLocations []string          `json:"backup_locations"`
	FileDigests     map[string]string `json:"file_digests"`
	OldUser         string            `json:"old_user"`
	OldUserHomeDir  string            `json:"old_user_home_dir"`
	Version         *int              `json:"version,omitempty"`
}

func (m *Manifest) MarshalJSON() ([]byte, error) {
	v := m.version
	digests := m.digests
	if digests == nil {
		digests = map[string]string{}
	}
	locs := m.locations
	if locs == nil {
		locs = []string{}
	}
	return json.Marshal(wire{
		BackupLocations: locs,
		FileDigests:     digests,
		OldUser:         m.oldUser,
		OldUserHomeDir:  m.oldHome,
		Version:         &v,
	})
}

// Encode returns the manifest.json content, indented by two spaces.
func (m *Manifest) Encode() ([]byte, error) {
	return json.MarshalIndent(m, "", "  ")
}

// Decode reconstructs a manifest from manifest.json content. It does not touch
// the filesystem.
func Decode(data []byte) (*Manifest, error) {
	var w wire
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, corrupt(err, "manifest is not valid JSON")
	}

	version := 1
	if w.Version != nil {
		version = *w.Version
	}
	if version < 1 || version > CurrentVersion {
		return nil, corrupt(nil, fmt.Sprintf("unsupported manifest version %d", version))
	}

	if w.OldUserHomeDir == "" || !filepath.IsAbs(w.OldUserHomeDir) {
		return nil, corrupt(nil, fmt.Sprintf("old_user_home_dir %q is not an absolute path", w.OldUserHomeDir))
	}

	locs, err := checkPaths(w.BackupLocations, "backup location")
	if err != nil {
		return nil, err
	}

	files := make([]string, 0, len(w.FileDigests))
	for path, sum := range w.FileDigests {
		if !validDigest(sum) {
			return nil, corrupt(nil, fmt.Sprintf("invalid digest %q for %s", sum, path))
		}
		files = append(files, path)
	}
	files, err = checkPaths(files, "file")
	if err != nil {
		return nil, err
	}

	return &Manifest{
		locations: locs,
		oldUser:   w.OldUser,
		oldHome:   filepath.Clean(w.OldUserHomeDir),
		files:     files,
		digests:   maps.Clone(w.FileDigests),
		version:   version,
		existing:  true,
	}, nil
}

func checkPaths(paths []string, kind string) ([]string, error) {
	out := slices.Clone(paths)
	slices.Sort(out)
	for i, p := range out {
		if !filepath.IsAbs(p) {
			return nil, corrupt(nil, fmt.Sprintf("%s %q is not an absolute path", kind, p))
		}
		// paths are stored clean; "/../x" would resolve outside the scratch dir
		if filepath.Clean(p) != p || p == string(filepath.Separator) {
			return nil, corrupt(nil, fmt.Sprintf("%s %q is not a clean path", kind, p))
		}
		if i > 0 && out[i-1] == p {
			return nil, corrupt(nil, fmt.Sprintf("duplicate %s %q", kind, p))
		}
	}
	if out == nil {
		out = []string{}
	}
	return out, nil
}

func validDigest(s string) bool {
	if len(s) != 64 {
		return false
	}
	for _, c := range s {
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return false
		}
	}
	return true
}

func corrupt(err error, msg string) error {
	if err == nil {
		return apperrors.New(apperrors.TypeCorruptArchive, msg, apperrors.ErrCorruptArchive.Hint)
	}
	return apperrors.Wrap(err, apperrors.TypeCorruptArchive, msg, apperrors.ErrCorruptArchive.Hint)
}
