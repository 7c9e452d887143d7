package backup

import (
	"context"
	"time"

	"github.com/lupppig/dotvault/internal/archive"
	"github.com/lupppig/dotvault/internal/catalog"
	"github.com/lupppig/dotvault/internal/crypto"
	"github.com/lupppig/dotvault/internal/identity"
	"github.com/lupppig/dotvault/internal/logger"
	"github.com/vbauerster/mpb/v8"
)

type BackupOptions struct {
	Locations   []string
	Identity    identity.Identity
	FileName    string // ".enc" is appended when sealing
	Password    []byte
	Compression archive.Compression
	Level       int
	KDF         crypto.KDFParams
	DryRun      bool
	Progress    *mpb.Progress
	Logger      *logger.Logger
}

type RestoreOptions struct {
	Identity identity.Identity
	Password []byte
	KDF      crypto.KDFParams
	DryRun   bool
	TempDir  string // parent of the scratch directory, os.TempDir() when empty
	Progress *mpb.Progress
	Logger   *logger.Logger
	Now      func() time.Time
}

// Recorder stores a finished backup run.
type Recorder interface {
	Record(ctx context.Context, e catalog.Entry) (catalog.Entry, error)
}

// Catalog is the part of the catalog prune needs.
type Catalog interface {
	List(ctx context.Context) ([]catalog.Entry, error)
	Delete(ctx context.Context, id string) error
}

func kdfOption(p crypto.KDFParams) crypto.Option {
	if p == (crypto.KDFParams{}) {
		p = crypto.DefaultKDFParams
	}
	return crypto.WithKDFParams(p)
}

func orDiscard(l *logger.Logger) *logger.Logger {
	if l == nil {
		return logger.Discard()
	}
	return l
}
