package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"fmt"
	"io"

	apperrors "github.com/lupppig/dotvault/internal/errors"
)

// Envelope layout: Salt (32) + Nonce (16) + Ciphertext (len(plaintext)) + Tag (16).
const (
	SaltSize    = KeySize
	NonceSize   = 16
	TagSize     = 16
	HeaderSize  = SaltSize + NonceSize
	MinimumSize = HeaderSize + TagSize
)

// Envelope is the positional view of a sealed blob. Its slices alias the
// parsed buffer.
type Envelope struct {
	Salt       []byte
	Nonce      []byte
	Ciphertext []byte
	Tag        []byte
}

// ParseEnvelope splits b into its fields. It never truncates: anything shorter
// than MinimumSize is malformed.
func ParseEnvelope(b []byte) (Envelope, error) {
	if len(b) < MinimumSize {
		return Envelope{}, apperrors.Wrap(
			fmt.Errorf("got %d bytes, need at least %d", len(b), MinimumSize),
			apperrors.TypeMalformedEnvelope,
			"malformed envelope",
			apperrors.ErrMalformedEnvelope.Hint,
		)
	}
	tagStart := len(b) - TagSize
	return Envelope{
		Salt:       b[:SaltSize],
		Nonce:      b[SaltSize:HeaderSize],
		Ciphertext: b[HeaderSize:tagStart],
		Tag:        b[tagStart:],
	}, nil
}

// Bytes reassembles the envelope.
func (e Envelope) Bytes() []byte {
	out := make([]byte, 0, len(e.Salt)+len(e.Nonce)+len(e.Ciphertext)+len(e.Tag))
	out = append(out, e.Salt...)
	out = append(out, e.Nonce...)
	out = append(out, e.Ciphertext...)
	return append(out, e.Tag...)
}

type options struct {
	params KDFParams
	rand   io.Reader
}

type Option func(*options)

// WithKDFParams overrides DefaultKDFParams.
func WithKDFParams(p KDFParams) Option {
	return func(o *options) { o.params = p }
}

// WithRand sets the randomness source for salt and nonce.
func WithRand(r io.Reader) Option {
	return func(o *options) { o.rand = r }
}

func newOptions(opts []Option) options {
	o := options{params: DefaultKDFParams, rand: rand.Reader}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// Seal encrypts plaintext under a key derived from password with a fresh salt
// and a fresh nonce, and returns salt + nonce + ciphertext + tag.
func Seal(plaintext, password []byte, opts ...Option) ([]byte, error) {
	o := newOptions(opts)

	salt := make([]byte, SaltSize)
	if _, err := io.ReadFull(o.rand, salt); err != nil {
		return nil, apperrors.Wrap(err, apperrors.TypeInternal, "failed to generate salt", "")
	}
	key, salt, err := o.params.DeriveKey(password, salt, KeySize)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.TypeInternal, "failed to derive key", "")
	}

	nonce := make([]byte, NonceSize)
	if _, err := io.ReadFull(o.rand, nonce); err != nil {
		return nil, apperrors.Wrap(err, apperrors.TypeInternal, "failed to generate nonce", "")
	}

	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}

	out := make([]byte, 0, HeaderSize+len(plaintext)+TagSize)
	out = append(out, salt...)
	out = append(out, nonce...)
	return gcm.Seal(out, nonce, plaintext, nil), nil
}

// Open reverses Seal. A wrong password and a tampered envelope both fail with
// an Authentication error and no plaintext.
func Open(envelope, password []byte, opts ...Option) ([]byte, error) {
	env, err := ParseEnvelope(envelope)
	if err != nil {
		return nil, err
	}

	o := newOptions(opts)
	key, _, err := o.params.DeriveKey(password, env.Salt, KeySize)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.TypeInternal, "failed to derive key", "")
	}

	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}

	// gcm.Open wants ciphertext and tag contiguous, which they are in envelope.
	sealed := envelope[HeaderSize:]
	plaintext, err := gcm.Open(nil, env.Nonce, sealed, nil)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.TypeAuthentication,
			"decryption failed: invalid password or tampered data",
			apperrors.ErrAuthentication.Hint)
	}
	return plaintext, nil
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.TypeInternal, "failed to create cipher", "")
	}
	gcm, err := cipher.NewGCMWithNonceSize(block, NonceSize)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.TypeInternal, "failed to create GCM", "")
	}
	return gcm, nil
}
