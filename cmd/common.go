package cmd

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/lupppig/dotvault/internal/archive"
	"github.com/lupppig/dotvault/internal/catalog"
	"github.com/lupppig/dotvault/internal/config"
	"github.com/lupppig/dotvault/internal/crypto"
	apperrors "github.com/lupppig/dotvault/internal/errors"
	"github.com/lupppig/dotvault/internal/identity"
	"github.com/lupppig/dotvault/internal/storage"
)

var (
	backupFile   string
	showProgress bool
)

// resolveLocations makes every location absolute, treating relative entries as
// relative to home, and drops duplicates while keeping the first occurrence.
func resolveLocations(home string, groups ...[]string) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, locs := range groups {
		for _, loc := range locs {
			if loc == "" {
				continue
			}
			if !filepath.IsAbs(loc) {
				loc = filepath.Join(home, loc)
			}
			loc = filepath.Clean(loc)
			if _, ok := seen[loc]; ok {
				continue
			}
			seen[loc] = struct{}{}
			out = append(out, loc)
		}
	}
	return out
}

// configuredLocations returns the configured backup locations resolved against
// the home directory of id.
func configuredLocations(cfg *config.Config, id identity.Identity, extra []string) []string {
	base := cfg.Backup.Locations
	if len(base) == 0 {
		base = config.DefaultLocations
	}
	return resolveLocations(id.HomeDir, base, extra)
}

// newStorage returns the local storage for dir, audited when enabled.
func newStorage(cfg *config.Config, dir string) storage.Storage {
	local := storage.NewLocalStorage(dir)
	if cfg.Audit {
		return storage.NewAuditStorage(local)
	}
	return local
}

// openCatalog returns nil when the catalog is disabled.
func openCatalog(cfg *config.Config) (*catalog.Catalog, error) {
	if !cfg.Catalog.Enabled {
		return nil, nil
	}
	c, err := catalog.Open(cfg.Catalog.Path)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.TypeResource, "failed to open backup catalog", "Set catalog.enabled to false to run without history.")
	}
	return c, nil
}

// splitTarget separates an archive path into the storage directory and the
// file name inside it.
func splitTarget(path string) (string, string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", "", apperrors.Wrap(err, apperrors.TypeConfig, "invalid backup file path", "")
	}
	return filepath.Dir(abs), filepath.Base(abs), nil
}

// readArchive loads an archive from disk and classifies it by its file name.
func readArchive(path string) (archive.Blob, error) {
	if path == "" {
		return nil, apperrors.New(apperrors.TypeConfig, "--backup-file is required", "")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, apperrors.Wrap(err, apperrors.TypeResource, "backup file not found", "Check the path passed to --backup-file.")
		}
		return nil, apperrors.Wrap(err, apperrors.TypeResource, "failed to read backup file", "")
	}
	return archive.Classify(filepath.Base(path), data), nil
}

// kdfParams is the scrypt cost every seal and open uses. Envelopes do not
// record it, so it is not configurable; tests lower it.
var kdfParams = crypto.DefaultKDFParams

func withKDF() crypto.Option {
	return crypto.WithKDFParams(kdfParams)
}

func absDir(dir string) (string, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return "", apperrors.Wrap(err, apperrors.TypeConfig, "invalid directory", "")
	}
	return abs, nil
}
