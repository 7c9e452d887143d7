package crypto

import (
	"crypto/rand"
	"fmt"

	"golang.org/x/crypto/scrypt"
)

const KeySize = 32 // AES-256

// KDFParams are the scrypt cost parameters.
type KDFParams struct {
	N int // CPU/memory cost, a power of two
	R int // block size
	P int // parallelization
}

// DefaultKDFParams is what every archive is sealed with. Envelopes do not
// record the parameters, so archives only open with the same values. Deriving
// a key with it costs about 1 GiB of memory.
var DefaultKDFParams = KDFParams{N: 1 << 20, R: 8, P: 1}

func (p KDFParams) Validate() error {
	if p.N <= 1 || p.N&(p.N-1) != 0 {
		return fmt.Errorf("scrypt N must be a power of two greater than 1, got %d", p.N)
	}
	if p.R <= 0 || p.P <= 0 {
		return fmt.Errorf("scrypt r and p must be positive, got r=%d p=%d", p.R, p.P)
	}
	return nil
}

// DeriveKey derives keyLen bytes from password and salt with DefaultKDFParams.
// A nil salt is replaced by keyLen fresh random bytes. The salt actually used is
// returned so the caller can store it next to the ciphertext.
func DeriveKey(password, salt []byte, keyLen int) ([]byte, []byte, error) {
	return DefaultKDFParams.DeriveKey(password, salt, keyLen)
}

func (p KDFParams) DeriveKey(password, salt []byte, keyLen int) ([]byte, []byte, error) {
	if err := p.Validate(); err != nil {
		return nil, nil, err
	}
	if keyLen <= 0 {
		keyLen = KeySize
	}

	if salt == nil {
		salt = make([]byte, keyLen)
		if _, err := rand.Read(salt); err != nil {
			return nil, nil, fmt.Errorf("failed to generate salt: %w", err)
		}
	}

	key, err := scrypt.Key(password, salt, p.N, p.R, p.P, keyLen)
	if err != nil {
		return nil, nil, fmt.Errorf("key derivation failed: %w", err)
	}
	return key, salt, nil
}
