package backup

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/klauspost/compress/flate"
	"github.com/lupppig/dotvault/internal/archive"
	"github.com/lupppig/dotvault/internal/catalog"
	apperrors "github.com/lupppig/dotvault/internal/errors"
	"github.com/lupppig/dotvault/internal/fsutil"
	"github.com/lupppig/dotvault/internal/manifest"
	"github.com/lupppig/dotvault/internal/storage"
)

type BackupManager struct {
	Options  BackupOptions
	storage  storage.Storage
	recorder Recorder
}

type BackupResult struct {
	Location string
	Name     string
	Sealed   bool
	Manifest *manifest.Manifest
	Size     int64
	SHA256   string
	Entry    *catalog.Entry
}

func NewBackupManager(opts BackupOptions, s storage.Storage) *BackupManager {
	return &BackupManager{Options: opts, storage: s}
}

func (m *BackupManager) GetStorage() storage.Storage {
	return m.storage
}

// SetRecorder makes Run record every saved archive.
func (m *BackupManager) SetRecorder(r Recorder) {
	m.recorder = r
}

// DefaultFileName names an archive after the moment it was taken.
func DefaultFileName(t time.Time) string {
	return fmt.Sprintf("dotvault-%s.zip", t.Format(fsutil.SnapshotTimeFormat))
}

// Run builds the manifest, assembles the archive, seals it when a password is
// set and saves it to storage.
func (m *BackupManager) Run(ctx context.Context) (*BackupResult, error) {
	l := orDiscard(m.Options.Logger)

	name := m.Options.FileName
	if name == "" {
		name = DefaultFileName(time.Now())
	}
	sealed := len(m.Options.Password) > 0
	if sealed {
		name = archive.SealedName(name)
	}

	l.Debug("Backup process started", "locations", len(m.Options.Locations), "sealed", sealed)

	files, err := fsutil.ListFiles(m.Options.Locations)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.TypeResource, "failed to enumerate backup files", "")
	}
	bar := AddFilesBar(m.Options.Progress, "Digesting", len(files))
	man, err := manifest.Build(m.Options.Locations, m.Options.Identity,
		manifest.WithLister(func([]string) ([]string, error) { return files, nil }),
		manifest.OnDigest(func(string) { increment(bar) }),
	)
	finish(bar)
	if err != nil {
		return nil, err
	}

	for _, loc := range man.Locations() {
		if ok, _ := fsutil.Exists(loc); !ok {
			l.Warn("Backup location does not exist, skipping", "path", loc)
		}
	}

	result := &BackupResult{Name: name, Sealed: sealed, Manifest: man}

	if m.Options.DryRun {
		for _, f := range man.AllBackupFiles() {
			l.Debug("[DRY-RUN] Would archive", "path", f)
		}
		l.Info(fmt.Sprintf("[DRY-RUN] Would write '%s'", name),
			"files", len(man.AllBackupFiles()), "locations", len(man.Locations()), "sealed", sealed)
		return result, nil
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	data, err := archive.Assemble(man, archive.WithCompression(m.Options.Compression), archive.WithLevel(m.level()))
	if err != nil {
		return nil, err
	}

	if sealed {
		l.Info("Sealing archive")
		s, err := archive.Seal(archive.Unsealed(data), m.Options.Password, kdfOption(m.Options.KDF))
		if err != nil {
			return nil, err
		}
		data = s.Bytes()
	}

	sum, err := manifest.CalculateChecksum(bytes.NewReader(data))
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.TypeInternal, "failed to checksum archive", "")
	}

	saveBar := AddBytesBar(m.Options.Progress, "Saving", int64(len(data)))
	location, err := m.storage.Save(ctx, name, NewProgressReader(bytes.NewReader(data), saveBar))
	finish(saveBar)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.TypeResource, "storage save failed", "Check that the output directory is writable.")
	}

	result.Location = location
	result.Size = int64(len(data))
	result.SHA256 = sum

	if m.recorder != nil {
		entry, err := m.recorder.Record(ctx, catalog.Entry{
			Path:          location,
			Sealed:        sealed,
			FileCount:     len(man.AllBackupFiles()),
			Locations:     man.Locations(),
			ArchiveSHA256: sum,
			Size:          result.Size,
		})
		if err != nil {
			l.Warn("Failed to record backup in catalog", "error", err)
		} else {
			result.Entry = &entry
		}
	}

	l.Info("Backup saved successfully", "location", location, "files", len(man.AllBackupFiles()), "size", result.Size)
	return result, nil
}

func (m *BackupManager) level() int {
	if m.Options.Level == 0 {
		return flate.DefaultCompression
	}
	return m.Options.Level
}
