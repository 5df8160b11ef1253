package ciphers

import (
	"crypto/rand"
	"fmt"
)

const (
	// SaltSize is the fixed salt length stored with every encrypted
	// database, regardless of cipher family.
	SaltSize = 16

	// MinPageSize is the smallest page a cipher will transform.
	MinPageSize = 512

	// saltHeaderSize is the plaintext region at the start of page 1 that
	// holds the salt and is never encrypted.
	saltHeaderSize = 16
)

var (
	ErrUnsupportedCipher    = fmt.Errorf("unsupported cipher")
	ErrInvalidPageSize      = fmt.Errorf("invalid page size")
	ErrInvalidKey           = fmt.Errorf("invalid encryption key")
	ErrAuthenticationFailed = fmt.Errorf("authentication failed - wrong key or corrupted page")
)

// PageCipher encrypts and decrypts single database pages. Implementations
// keep the transform length-preserving: the ciphertext of a page is
// exactly as long as the page, with per-page material (IV, nonce, tag,
// HMAC) stored in the reserved region at the page end. The first 16 bytes
// of page 1 hold the plaintext salt and are never transformed.
//
// A PageCipher is constructed from an immutable parameter snapshot and is
// safe for use without additional locking as long as pages are not shared
// between concurrent calls.
type PageCipher interface {
	// Encrypt transforms page in place semantics: it returns a new buffer
	// of identical length holding the encrypted page.
	Encrypt(page []byte, pageNo uint32) ([]byte, error)

	// Decrypt reverses Encrypt. Returns ErrAuthenticationFailed when the
	// family authenticates pages and verification fails.
	Decrypt(page []byte, pageNo uint32) ([]byte, error)

	// Reserved returns the number of bytes this cipher needs at the end
	// of every page.
	Reserved() int

	// Name returns the cipher family name.
	Name() string
}

// HMACToggler is implemented by families whose page authentication can be
// switched off at runtime, so damaged databases stay readable for
// recovery. Toggling must happen between page operations, not during one.
type HMACToggler interface {
	SetHMACCheck(enabled bool)
}

// Config carries the resolved parameter bundle a cipher is built from.
// Params is a snapshot taken under the registry lock; the cipher never
// reads the registry again.
type Config struct {
	Name      string
	Params    map[string]int
	HMACCheck bool
}

// New constructs a PageCipher for the named family from passphrase and
// salt. The salt must be SaltSize bytes.
func New(cfg Config, passphrase, salt []byte) (PageCipher, error) {
	if len(salt) != SaltSize {
		return nil, fmt.Errorf("%w: salt must be %d bytes", ErrInvalidKey, SaltSize)
	}
	if len(passphrase) == 0 {
		return nil, fmt.Errorf("%w: empty passphrase", ErrInvalidKey)
	}

	switch cfg.Name {
	case "aes128cbc":
		return newAESCBC(cfg, passphrase, salt, 16)
	case "aes256cbc":
		return newAESCBC(cfg, passphrase, salt, 32)
	case "chacha20":
		return newChaCha20(cfg, passphrase, salt)
	case "sqlcipher":
		return newSQLCipher(cfg, passphrase, salt)
	case "rc4":
		return newRC4(cfg, passphrase, salt)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedCipher, cfg.Name)
	}
}

// GenerateSalt generates a cryptographically secure random salt
func GenerateSalt() ([]byte, error) {
	salt := make([]byte, SaltSize)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("failed to generate salt: %w", err)
	}
	return salt, nil
}

// pageOffset returns the first byte of a page that is subject to the
// transform. Page 1 keeps its salt header in plaintext.
func pageOffset(pageNo uint32) int {
	if pageNo == 1 {
		return saltHeaderSize
	}
	return 0
}

func checkPage(page []byte, reserved int) error {
	if len(page) < MinPageSize || len(page) < saltHeaderSize+reserved {
		return fmt.Errorf("%w: %d bytes", ErrInvalidPageSize, len(page))
	}
	return nil
}

func param(params map[string]int, name string, dflt int) int {
	if v, ok := params[name]; ok {
		return v
	}
	return dflt
}
