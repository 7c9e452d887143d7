// Package archive packs a manifest and the files it names into a zip and
// unpacks it again beneath a scratch directory.
package archive

import (
	"archive/zip"
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/zstd"
	apperrors "github.com/lupppig/dotvault/internal/errors"
	"github.com/lupppig/dotvault/internal/manifest"
)

type Compression string

const (
	Deflate Compression = "deflate"
	Store   Compression = "store"
	Zstd    Compression = "zstd"
)

func ParseCompression(s string) (Compression, error) {
	switch c := Compression(strings.ToLower(strings.TrimSpace(s))); c {
	case "", Deflate:
		return Deflate, nil
	case Store, Zstd:
		return c, nil
	}
	return "", apperrors.New(apperrors.TypeConfig,
		fmt.Sprintf("unsupported archive compression %q", s),
		"Use one of: deflate, store, zstd.")
}

func (c Compression) method() uint16 {
	switch c {
	case Store:
		return zip.Store
	case Zstd:
		return zstd.ZipMethodWinZip
	default:
		return zip.Deflate
	}
}

type options struct {
	compression Compression
	level       int
	onEntry     func(name string)
}

type Option func(*options)

func WithCompression(c Compression) Option {
	return func(o *options) { o.compression = c }
}

// WithLevel sets the deflate level (flate.BestSpeed..flate.BestCompression).
func WithLevel(level int) Option {
	return func(o *options) { o.level = level }
}

// OnEntry is called after each file entry is written or extracted.
func OnEntry(fn func(name string)) Option {
	return func(o *options) { o.onEntry = fn }
}

func newOptions(opts []Option) options {
	o := options{compression: Deflate, level: flate.DefaultCompression}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// Assemble writes every file of m under its absolute path, followed by
// manifest.json.
func Assemble(m *manifest.Manifest, opts ...Option) ([]byte, error) {
	o := newOptions(opts)

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	level := o.level
	zw.RegisterCompressor(zip.Deflate, func(w io.Writer) (io.WriteCloser, error) {
		return flate.NewWriter(w, level)
	})
	zw.RegisterCompressor(zstd.ZipMethodWinZip, zstd.ZipCompressor())

	for _, path := range m.AllBackupFiles() {
		if err := addFile(zw, path, o.compression.method()); err != nil {
			zw.Close()
			return nil, err
		}
		if o.onEntry != nil {
			o.onEntry(path)
		}
	}

	data, err := m.Encode()
	if err != nil {
		zw.Close()
		return nil, apperrors.Wrap(err, apperrors.TypeInternal, "failed to encode manifest", "")
	}
	w, err := zw.CreateHeader(&zip.FileHeader{Name: manifest.FileName, Method: zip.Deflate})
	if err != nil {
		zw.Close()
		return nil, apperrors.Wrap(err, apperrors.TypeInternal, "failed to create manifest entry", "")
	}
	if _, err := w.Write(data); err != nil {
		zw.Close()
		return nil, apperrors.Wrap(err, apperrors.TypeInternal, "failed to write manifest entry", "")
	}

	if err := zw.Close(); err != nil {
		return nil, apperrors.Wrap(err, apperrors.TypeInternal, "failed to finalize archive", "")
	}
	return buf.Bytes(), nil
}

func addFile(zw *zip.Writer, path string, method uint16) error {
	f, err := os.Open(path)
	if err != nil {
		return apperrors.Wrap(err, apperrors.TypeResource, fmt.Sprintf("failed to open %s", path), "")
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return apperrors.Wrap(err, apperrors.TypeResource, fmt.Sprintf("failed to stat %s", path), "")
	}
	header, err := zip.FileInfoHeader(info)
	if err != nil {
		return apperrors.Wrap(err, apperrors.TypeInternal, fmt.Sprintf("failed to prepare archive header for %s", path), "")
	}
	header.Name = EntryName(path)
	header.Method = method

	w, err := zw.CreateHeader(header)
	if err != nil {
		return apperrors.Wrap(err, apperrors.TypeInternal, fmt.Sprintf("failed to create archive entry for %s", path), "")
	}
	if _, err := io.Copy(w, f); err != nil {
		return apperrors.Wrap(err, apperrors.TypeResource, fmt.Sprintf("failed to write %s to archive", path), "")
	}
	return nil
}

// EntryName is the zip entry name of an absolute file path; the leading slash
// is kept.
func EntryName(path string) string {
	return filepath.ToSlash(filepath.Clean(path))
}

// ExtractedPath is where Disassemble places the entry for path beneath dir.
func ExtractedPath(dir, path string) string {
	return filepath.Join(dir, filepath.FromSlash(path))
}

// ScratchPath is ExtractedPath for paths read from an archive. It fails with
// CorruptArchive when the result would not lie strictly beneath dir.
func ScratchPath(dir, path string) (string, error) {
	root, err := filepath.Abs(dir)
	if err != nil {
		return "", apperrors.Wrap(err, apperrors.TypeResource, "invalid scratch directory", "")
	}
	target := ExtractedPath(root, path)
	rel, err := filepath.Rel(root, target)
	if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", corrupt(nil, fmt.Sprintf("archive path %q escapes the extraction directory", path))
	}
	return target, nil
}

// Disassemble extracts every entry of data beneath dir and returns the decoded
// manifest.
func Disassemble(data []byte, dir string, opts ...Option) (*manifest.Manifest, error) {
	o := newOptions(opts)

	zr, err := newReader(data)
	if err != nil {
		return nil, err
	}
	mf, err := findManifest(zr)
	if err != nil {
		return nil, err
	}

	root, err := filepath.Abs(dir)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.TypeResource, "invalid scratch directory", "")
	}

	for _, f := range zr.File {
		if f == mf {
			continue
		}
		if err := extract(f, root); err != nil {
			return nil, err
		}
		if o.onEntry != nil {
			o.onEntry(f.Name)
		}
	}

	return decodeManifest(mf)
}

// ReadManifest decodes manifest.json without extracting anything.
func ReadManifest(data []byte) (*manifest.Manifest, error) {
	zr, err := newReader(data)
	if err != nil {
		return nil, err
	}
	mf, err := findManifest(zr)
	if err != nil {
		return nil, err
	}
	return decodeManifest(mf)
}

func newReader(data []byte) (*zip.Reader, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	// Absolute entry names are expected; ErrInsecurePath still returns a usable
	// reader and every name is checked against the scratch dir on extraction.
	if err != nil && !errors.Is(err, zip.ErrInsecurePath) {
		return nil, corrupt(err, "archive is not a valid zip file")
	}
	zr.RegisterDecompressor(zip.Deflate, flate.NewReader)
	zr.RegisterDecompressor(zstd.ZipMethodWinZip, zstd.ZipDecompressor())
	zr.RegisterDecompressor(zstd.ZipMethodPKWare, zstd.ZipDecompressor())
	return zr, nil
}

func findManifest(zr *zip.Reader) (*zip.File, error) {
	var legacy bool
	for _, f := range zr.File {
		switch f.Name {
		case manifest.FileName:
			return f, nil
		case manifest.LegacyFileName:
			legacy = true
		}
	}
	if legacy {
		return nil, corrupt(nil, "archive uses the unsupported info.json format")
	}
	return nil, corrupt(nil, "archive has no manifest.json")
}

func decodeManifest(f *zip.File) (*manifest.Manifest, error) {
	rc, err := f.Open()
	if err != nil {
		return nil, corrupt(err, "failed to open manifest.json")
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, corrupt(err, "failed to read manifest.json")
	}
	return manifest.Decode(data)
}

func extract(f *zip.File, root string) error {
	target, err := ScratchPath(root, f.Name)
	if err != nil {
		return err
	}

	if f.FileInfo().IsDir() {
		if err := os.MkdirAll(target, 0o755); err != nil {
			return apperrors.Wrap(err, apperrors.TypeResource, fmt.Sprintf("failed to create %s", target), "")
		}
		return nil
	}

	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return apperrors.Wrap(err, apperrors.TypeResource, fmt.Sprintf("failed to create %s", filepath.Dir(target)), "")
	}

	rc, err := f.Open()
	if err != nil {
		return corrupt(err, fmt.Sprintf("failed to open archive entry %s", f.Name))
	}
	defer rc.Close()

	mode := f.Mode().Perm()
	if mode == 0 {
		mode = 0o600
	}
	dst, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, mode)
	if err != nil {
		return apperrors.Wrap(err, apperrors.TypeResource, fmt.Sprintf("failed to create %s", target), "")
	}
	if _, err := io.Copy(dst, rc); err != nil {
		dst.Close()
		return corrupt(err, fmt.Sprintf("failed to extract %s", f.Name))
	}
	if err := dst.Close(); err != nil {
		return apperrors.Wrap(err, apperrors.TypeResource, fmt.Sprintf("failed to write %s", target), "")
	}
	return nil
}

func corrupt(err error, msg string) error {
	if err == nil {
		return apperrors.New(apperrors.TypeCorruptArchive, msg, apperrors.ErrCorruptArchive.Hint)
	}
	return apperrors.Wrap(err, apperrors.TypeCorruptArchive, msg, apperrors.ErrCorruptArchive.Hint)
}
