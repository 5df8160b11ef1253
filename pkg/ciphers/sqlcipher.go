package ciphers

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"hash"
)

// hmac_pgno modes: how the page number is fed into the page HMAC.
const (
	hmacPgnoNative = 0
	hmacPgnoLE     = 1
	hmacPgnoBE     = 2
)

// sqlCipher reproduces the SQLCipher page format: AES-256-CBC with a
// random per-page IV, optionally followed by an HMAC over ciphertext and
// IV. The encryption key comes from PBKDF2 over the passphrase; the HMAC
// key is derived from the encryption key with a masked salt and a short
// iteration count, exactly as the historical generations did.
type sqlCipher struct {
	block        cipher.Block
	hmacKey      []byte
	hmacUse      bool
	hmacCheck    bool
	hmacAlgo     int
	hmacPgnoMode int
	reserve      int
}

func newSQLCipher(cfg Config, passphrase, salt []byte) (*sqlCipher, error) {
	kdfIter := param(cfg.Params, "kdf_iter", 256000)
	fastIter := param(cfg.Params, "fast_kdf_iter", 2)
	kdfAlgo := param(cfg.Params, "kdf_algorithm", AlgoSHA512)
	hmacAlgo := param(cfg.Params, "hmac_algorithm", AlgoSHA512)
	hmacUse := param(cfg.Params, "hmac_use", 1) != 0
	saltMask := byte(param(cfg.Params, "hmac_salt_mask", 0x3a))

	key := DeriveKey(kdfAlgo, passphrase, salt, kdfIter, 32)

	var hmacKey []byte
	if hmacUse {
		maskedSalt := make([]byte, len(salt))
		for i, b := range salt {
			maskedSalt[i] = b ^ saltMask
		}
		hmacKey = DeriveKey(kdfAlgo, key, maskedSalt, fastIter, 32)
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create AES cipher: %w", err)
	}

	reserve := aesIVSize
	if hmacUse {
		reserve += hmacSize(hmacAlgo)
		// SQLCipher rounds the reserve up to a 16-byte boundary.
		if rem := reserve % 16; rem != 0 {
			reserve += 16 - rem
		}
	}

	return &sqlCipher{
		block:        block,
		hmacKey:      hmacKey,
		hmacUse:      hmacUse,
		hmacCheck:    cfg.HMACCheck,
		hmacAlgo:     hmacAlgo,
		hmacPgnoMode: param(cfg.Params, "hmac_pgno", hmacPgnoLE),
		reserve:      reserve,
	}, nil
}

func (c *sqlCipher) Name() string  { return "sqlcipher" }
func (c *sqlCipher) Reserved() int { return c.reserve }

func (c *sqlCipher) Encrypt(page []byte, pageNo uint32) ([]byte, error) {
	if err := checkPage(page, c.reserve); err != nil {
		return nil, err
	}
	offset := pageOffset(pageNo)
	payloadLen := len(page) - offset - c.reserve
	if payloadLen%aes.BlockSize != 0 {
		return nil, fmt.Errorf("%w: payload not block-aligned", ErrInvalidPageSize)
	}

	iv := make([]byte, aesIVSize)
	if _, err := rand.Read(iv); err != nil {
		return nil, fmt.Errorf("failed to generate IV: %w", err)
	}

	out := make([]byte, len(page))
	copy(out[:offset], page[:offset])
	cipher.NewCBCEncrypter(c.block, iv).CryptBlocks(out[offset:offset+payloadLen], page[offset:offset+payloadLen])
	copy(out[offset+payloadLen:], iv)

	if c.hmacUse {
		tag := c.pageHMAC(out[offset:offset+payloadLen+aesIVSize], pageNo)
		copy(out[offset+payloadLen+aesIVSize:], tag)
	}
	return out, nil
}

// SetHMACCheck enables or disables page tag verification on decrypt.
func (c *sqlCipher) SetHMACCheck(enabled bool) {
	c.hmacCheck = enabled
}

func (c *sqlCipher) Decrypt(page []byte, pageNo uint32) ([]byte, error) {
	if err := checkPage(page, c.reserve); err != nil {
		return nil, err
	}
	offset := pageOffset(pageNo)
	payloadLen := len(page) - offset - c.reserve

	if c.hmacUse && c.hmacCheck {
		want := c.pageHMAC(page[offset:offset+payloadLen+aesIVSize], pageNo)
		got := page[offset+payloadLen+aesIVSize : offset+payloadLen+aesIVSize+len(want)]
		if !hmac.Equal(want, got) {
			return nil, ErrAuthenticationFailed
		}
	}

	iv := page[offset+payloadLen : offset+payloadLen+aesIVSize]
	out := make([]byte, len(page))
	copy(out[:offset], page[:offset])
	cipher.NewCBCDecrypter(c.block, iv).CryptBlocks(out[offset:offset+payloadLen], page[offset:offset+payloadLen])
	copy(out[offset+payloadLen:], page[offset+payloadLen:])
	return out, nil
}

// pageHMAC computes the page authentication tag over ciphertext plus IV
// plus the page number in the configured byte order.
func (c *sqlCipher) pageHMAC(data []byte, pageNo uint32) []byte {
	m := hmac.New(hashFor(c.hmacAlgo), c.hmacKey)
	m.Write(data)

	var pgno [4]byte
	switch c.hmacPgnoMode {
	case hmacPgnoBE:
		binary.BigEndian.PutUint32(pgno[:], pageNo)
	default:
		binary.LittleEndian.PutUint32(pgno[:], pageNo)
	}
	m.Write(pgno[:])
	return m.Sum(nil)
}

func hmacSize(algo int) int {
	var h hash.Hash
	switch algo {
	case AlgoSHA1:
		h = hashFor(AlgoSHA1)()
	case AlgoSHA512:
		h = hashFor(AlgoSHA512)()
	default:
		h = hashFor(AlgoSHA256)()
	}
	return h.Size()
}
