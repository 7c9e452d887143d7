package archive

import (
	"strings"

	"github.com/lupppig/dotvault/internal/crypto"
)

// SealedSuffix marks a sealed archive file. It is the only signal used to tell
// sealed from unsealed archives.
const SealedSuffix = ".enc"

// Blob is an archive file's content, either Sealed or Unsealed.
type Blob interface {
	Bytes() []byte
	IsSealed() bool
}

// Unsealed is a plain zip archive.
type Unsealed []byte

// Sealed is an envelope around an Unsealed archive.
type Sealed []byte

func (u Unsealed) Bytes() []byte { return u }
func (Unsealed) IsSealed() bool  { return false }

func (s Sealed) Bytes() []byte { return s }
func (Sealed) IsSealed() bool  { return true }

// Classify tags data read from the file called name.
func Classify(name string, data []byte) Blob {
	if strings.HasSuffix(name, SealedSuffix) {
		return Sealed(data)
	}
	return Unsealed(data)
}

func Seal(u Unsealed, password []byte, opts ...crypto.Option) (Sealed, error) {
	b, err := crypto.Seal(u, password, opts...)
	if err != nil {
		return nil, err
	}
	return Sealed(b), nil
}

func Open(s Sealed, password []byte, opts ...crypto.Option) (Unsealed, error) {
	b, err := crypto.Open(s, password, opts...)
	if err != nil {
		return nil, err
	}
	return Unsealed(b), nil
}

// SealedName appends SealedSuffix unless name already carries it.
func SealedName(name string) string {
	if strings.HasSuffix(name, SealedSuffix) {
		return name
	}
	return name + SealedSuffix
}

// UnsealedName strips SealedSuffix.
func UnsealedName(name string) string {
	return strings.TrimSuffix(name, SealedSuffix)
}
