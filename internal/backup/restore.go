package backup

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/lupppig/dotvault/internal/archive"
	apperrors "github.com/lupppig/dotvault/internal/errors"
	"github.com/lupppig/dotvault/internal/fsutil"
	"github.com/lupppig/dotvault/internal/manifest"
)

type State string

const (
	StateUnsealing  State = "Unsealing"
	StateExtracting State = "Extracting"
	StateVerifying  State = "Verifying"
	StateRelocating State = "Relocating"
	StateDone       State = "Done"
	StateFailed     State = "Failed"
)

type Move struct {
	From string
	To   string
}

// RestoreReport describes how far a restore got. On failure ScratchDir and
// Snapshots are left on disk for manual recovery.
type RestoreReport struct {
	State      State
	FailedIn   State
	ScratchDir string
	Manifest   *manifest.Manifest
	Verified   int
	Moves      []Move
	Snapshots  []string
	Skipped    []string
}

type RestoreManager struct {
	Options RestoreOptions
}

func NewRestoreManager(opts RestoreOptions) *RestoreManager {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &RestoreManager{Options: opts}
}

// Run unseals, extracts and verifies blob, then moves every backed up location
// to its place under the current home directory.
func (m *RestoreManager) Run(ctx context.Context, blob archive.Blob) (*RestoreReport, error) {
	return m.run(ctx, blob, true)
}

// Verify runs a restore up to and including digest verification. Nothing
// outside the scratch directory is touched and the scratch directory is
// removed afterwards.
func (m *RestoreManager) Verify(ctx context.Context, blob archive.Blob) (*RestoreReport, error) {
	return m.run(ctx, blob, false)
}

func (m *RestoreManager) run(ctx context.Context, blob archive.Blob, relocate bool) (*RestoreReport, error) {
	l := orDiscard(m.Options.Logger)
	report := &RestoreReport{State: StateUnsealing}

	fail := func(err error) (*RestoreReport, error) {
		report.FailedIn = report.State
		report.State = StateFailed
		l.Error("Restore failed", "state", report.FailedIn, "error", err)
		if report.ScratchDir != "" {
			l.Warn("Scratch directory kept for inspection", "path", report.ScratchDir)
		}
		return report, withRecoveryHint(err, report)
	}

	// Unsealing
	var data []byte
	switch b := blob.(type) {
	case archive.Sealed:
		if len(m.Options.Password) == 0 {
			return fail(apperrors.New(apperrors.TypeAuthentication, "password required to open a sealed archive",
				"Pass the password with -p or use -P to be prompted."))
		}
		l.Info("Unsealing archive")
		u, err := archive.Open(b, m.Options.Password, kdfOption(m.Options.KDF))
		if err != nil {
			return fail(err)
		}
		data = u.Bytes()
	case archive.Unsealed:
		if len(m.Options.Password) > 0 {
			l.Warn("Archive is not sealed, ignoring password")
		}
		data = b.Bytes()
	default:
		return fail(apperrors.New(apperrors.TypeInternal, fmt.Sprintf("unknown archive type %T", blob), ""))
	}

	if err := ctx.Err(); err != nil {
		return fail(err)
	}

	// Extracting
	report.State = StateExtracting
	scratch, err := os.MkdirTemp(m.Options.TempDir, "dotvault-restore-*")
	if err != nil {
		return fail(apperrors.Wrap(err, apperrors.TypeResource, "failed to create scratch directory", ""))
	}
	report.ScratchDir = scratch
	l.Debug("Extracting archive", "scratch", scratch)

	man, err := archive.Disassemble(data, scratch)
	if err != nil {
		return fail(err)
	}
	report.Manifest = man

	if err := ctx.Err(); err != nil {
		return fail(err)
	}

	// Verifying
	report.State = StateVerifying
	if err := m.verify(man, scratch, report); err != nil {
		return fail(err)
	}
	l.Info("Integrity verification passed", "files", report.Verified)

	if err := ctx.Err(); err != nil {
		return fail(err)
	}

	if relocate {
		report.State = StateRelocating
		if err := m.relocate(man, scratch, report); err != nil {
			return fail(err)
		}
	}

	if err := os.RemoveAll(scratch); err != nil {
		l.Warn("Failed to remove scratch directory", "path", scratch, "error", err)
	} else {
		report.ScratchDir = ""
	}
	report.State = StateDone
	if relocate && !m.Options.DryRun {
		l.Info("Restore completed successfully", "moved", len(report.Moves), "snapshots", len(report.Snapshots))
	}
	return report, nil
}

func (m *RestoreManager) verify(man *manifest.Manifest, scratch string, report *RestoreReport) error {
	files := man.AllBackupFiles()
	bar := AddFilesBar(m.Options.Progress, "Verifying", len(files))
	defer finish(bar)

	for _, f := range files {
		want, _ := man.Digest(f)
		path, err := archive.ScratchPath(scratch, f)
		if err != nil {
			return err
		}
		got, err := manifest.FileDigest(path)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return apperrors.New(apperrors.TypeIntegrity,
					fmt.Sprintf("INTEGRITY FAILURE: %s is listed in the manifest but missing from the archive", f),
					apperrors.ErrIntegrityMismatch.Hint)
			}
			return apperrors.Wrap(err, apperrors.TypeResource, fmt.Sprintf("failed to digest extracted %s", f), "")
		}
		if got != want {
			return apperrors.New(apperrors.TypeIntegrity,
				fmt.Sprintf("INTEGRITY FAILURE: %s checksum mismatch (expected %s, got %s)", f, want, got),
				apperrors.ErrIntegrityMismatch.Hint)
		}
		report.Verified++
		increment(bar)
	}
	return nil
}

func (m *RestoreManager) relocate(man *manifest.Manifest, scratch string, report *RestoreReport) error {
	l := orDiscard(m.Options.Logger)
	oldHome := man.OldUserHomeDir()
	suffix := m.Options.Now().Format(fsutil.SnapshotTimeFormat)

	for _, loc := range man.Locations() {
		src, err := archive.ScratchPath(scratch, loc)
		if err != nil {
			return err
		}
		dst := m.Options.Identity.Rebase(loc, oldHome)

		ok, err := fsutil.Exists(src)
		if err != nil {
			return relocationError(err, loc, "failed to inspect extracted copy")
		}
		if !ok {
			l.Warn("Location not present in archive, skipping", "path", loc)
			report.Skipped = append(report.Skipped, loc)
			continue
		}
		if dst == filepath.Clean(loc) && oldHome != filepath.Clean(m.Options.Identity.HomeDir) {
			l.Warn("Location is outside the old home directory and is restored in place", "path", loc)
		}

		if m.Options.DryRun {
			l.Info(fmt.Sprintf("[DRY-RUN] Moving '%s' to '%s'", src, dst))
			continue
		}

		exists, err := fsutil.Exists(dst)
		if err != nil {
			return relocationError(err, loc, "failed to inspect destination")
		}
		if exists {
			snap, err := fsutil.CreateBackup(dst, suffix)
			if err != nil {
				return relocationError(err, loc, fmt.Sprintf("failed to snapshot existing %s", dst))
			}
			report.Snapshots = append(report.Snapshots, snap)
			l.Info(fmt.Sprintf("Backed up existing '%s' to '%s'", dst, snap))

			if err := os.RemoveAll(dst); err != nil {
				return relocationError(err, loc, fmt.Sprintf("failed to remove existing %s", dst))
			}
		}

		l.Info(fmt.Sprintf("Moving '%s' to '%s'", src, dst), "location", loc)
		if err := fsutil.Move(src, dst); err != nil {
			return relocationError(err, loc, fmt.Sprintf("failed to move %s", dst))
		}
		report.Moves = append(report.Moves, Move{From: src, To: dst})
	}
	return nil
}

func relocationError(err error, loc, msg string) error {
	return apperrors.Wrap(err, apperrors.TypeRelocation, fmt.Sprintf("%s (location %s)", msg, loc), apperrors.ErrRelocation.Hint)
}

// withRecoveryHint points the user at whatever the failed run left behind.
func withRecoveryHint(err error, report *RestoreReport) error {
	if report.ScratchDir == "" && len(report.Snapshots) == 0 {
		return err
	}

	var appErr *apperrors.AppError
	if !errors.As(err, &appErr) {
		appErr = apperrors.Wrap(err, apperrors.TypeInternal, "restore failed", "")
	}

	hint := apperrors.Hint(appErr)
	if report.ScratchDir != "" {
		hint = joinHint(hint, fmt.Sprintf("Extracted files are kept in %s.", report.ScratchDir))
	}
	if len(report.Snapshots) > 0 {
		hint = joinHint(hint, fmt.Sprintf("Snapshots of overwritten paths: %v.", report.Snapshots))
	}
	appErr.Hint = hint
	return appErr
}

func joinHint(a, b string) string {
	if a == "" {
		return b
	}
	return a + " " + b
}
