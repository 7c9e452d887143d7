package tests

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/lupppig/dotvault/internal/archive"
	"github.com/lupppig/dotvault/internal/backup"
	apperrors "github.com/lupppig/dotvault/internal/errors"
	"github.com/lupppig/dotvault/internal/manifest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func assembled(t *testing.T) ([]byte, map[string]string, string) {
	t.Helper()
	alice, files := macHome(t, "alice")
	m, err := manifest.Build(locationsOf(alice), alice)
	require.NoError(t, err)
	data, err := archive.Assemble(m)
	require.NoError(t, err)
	return data, files, alice.HomeDir
}

func TestOverwriteSafety_OneSnapshotPerReplacedPath(t *testing.T) {
	data, files, _ := assembled(t)

	bob := emptyHome(t, "bob")
	writeFile(t, filepath.Join(bob.HomeDir, ".zshrc"), "bob's own zshrc\n")
	now := time.Date(2026, 10, 14, 9, 30, 0, 0, time.UTC)

	var logs bytes.Buffer
	report, err := backup.NewRestoreManager(backup.RestoreOptions{
		Identity: bob,
		TempDir:  t.TempDir(),
		Logger:   testLogger(&logs),
		Now:      func() time.Time { return now },
	}).Run(context.Background(), archive.Unsealed(data))
	require.NoError(t, err)

	snap := filepath.Join(bob.HomeDir, ".zshrc_2026-10-14_09-30-00")
	assert.Equal(t, []string{snap}, report.Snapshots)
	assert.Equal(t, "bob's own zshrc\n", readFile(t, snap))
	assert.Equal(t, files[".zshrc"], readFile(t, filepath.Join(bob.HomeDir, ".zshrc")))
	assert.Contains(t, logs.String(), "Backed up existing '"+filepath.Join(bob.HomeDir, ".zshrc")+"'")

	// restoring again keeps the first snapshot and adds exactly one more
	writeFile(t, filepath.Join(bob.HomeDir, ".zshrc"), "edited again\n")
	report, err = backup.NewRestoreManager(backup.RestoreOptions{
		Identity: bob,
		TempDir:  t.TempDir(),
		Now:      func() time.Time { return now },
	}).Run(context.Background(), archive.Unsealed(data))
	require.NoError(t, err)
	assert.Equal(t, "bob's own zshrc\n", readFile(t, snap))

	var zshrcSnaps []string
	for _, s := range report.Snapshots {
		if strings.HasPrefix(filepath.Base(s), ".zshrc_") {
			zshrcSnaps = append(zshrcSnaps, s)
		}
	}
	require.Len(t, zshrcSnaps, 1)
	assert.Equal(t, snap+".1", zshrcSnaps[0])
	assert.Equal(t, "edited again\n", readFile(t, zshrcSnaps[0]))
}

func TestCorruptManifestDigest_FailsBeforeRelocation(t *testing.T) {
	data, _, oldHome := assembled(t)

	entries := zipEntries(t, data)
	var raw map[string]any
	require.NoError(t, json.Unmarshal(entries[manifest.FileName], &raw))
	digests := raw["file_digests"].(map[string]any)
	victim := filepath.Join(oldHome, ".gitconfig")
	require.Contains(t, digests, victim)
	digests[victim] = strings.Repeat("0", 64)
	tampered, err := json.MarshalIndent(raw, "", "  ")
	require.NoError(t, err)

	corrupted := replaceEntry(t, data, manifest.FileName, tampered)

	bob := emptyHome(t, "bob")
	writeFile(t, filepath.Join(bob.HomeDir, ".zshrc"), "keep me\n")

	report, err := backup.NewRestoreManager(backup.RestoreOptions{
		Identity: bob,
		TempDir:  t.TempDir(),
	}).Run(context.Background(), archive.Unsealed(corrupted))
	require.Error(t, err)
	assert.True(t, apperrors.IsType(err, apperrors.TypeIntegrity))
	assert.Contains(t, err.Error(), "INTEGRITY FAILURE")
	assert.Equal(t, backup.StateVerifying, report.FailedIn)
	assert.Empty(t, report.Moves)

	assert.Equal(t, "keep me\n", readFile(t, filepath.Join(bob.HomeDir, ".zshrc")))
	left, err := os.ReadDir(bob.HomeDir)
	require.NoError(t, err)
	assert.Len(t, left, 1, "nothing may be relocated after a digest mismatch")
}

func TestCorruptArchive_IsNotReportedAsWrongPassword(t *testing.T) {
	data, _, _ := assembled(t)
	truncated := data[:len(data)/2]

	_, err := backup.NewRestoreManager(backup.RestoreOptions{
		Identity: emptyHome(t, "bob"),
		TempDir:  t.TempDir(),
	}).Verify(context.Background(), archive.Classify("truncated.zip", truncated))
	require.Error(t, err)
	assert.True(t, apperrors.IsType(err, apperrors.TypeCorruptArchive))
	assert.False(t, apperrors.IsType(err, apperrors.TypeAuthentication))
}

func TestTamperedSealedArchive_FailsAuthentication(t *testing.T) {
	data, _, _ := assembled(t)
	sealed, err := archive.Seal(archive.Unsealed(data), []byte("pw"), withCheapKDF())
	require.NoError(t, err)

	for _, pos := range []int{0, 40, len(sealed) / 2, len(sealed) - 1} {
		flipped := bytes.Clone(sealed)
		flipped[pos] ^= 0x01
		_, err := archive.Open(flipped, []byte("pw"), withCheapKDF())
		require.Error(t, err, "flip at %d", pos)
		assert.True(t, apperrors.IsType(err, apperrors.TypeAuthentication))
	}

	_, err = archive.Open(sealed[:20], []byte("pw"), withCheapKDF())
	require.Error(t, err)
	assert.True(t, apperrors.IsType(err, apperrors.TypeMalformedEnvelope))
}
