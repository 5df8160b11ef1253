package ciphers

import (
	"crypto/rc4"
	"crypto/sha1"
	"encoding/binary"
	"fmt"
)

// rc4Cipher reproduces the legacy RC4 page format used by an early
// encryption extension. The page key mixes the derived key with the page
// number so identical pages do not produce identical ciphertext. RC4 is
// kept strictly for reading and rewriting old databases; it offers no
// authentication and should never be selected for new data.
type rc4Cipher struct {
	key []byte
}

func newRC4(cfg Config, passphrase, salt []byte) (*rc4Cipher, error) {
	// The historical format used a single SHA1-folded key, not PBKDF2.
	h := sha1.New()
	h.Write(passphrase)
	h.Write(salt)
	return &rc4Cipher{key: h.Sum(nil)}, nil
}

func (c *rc4Cipher) Name() string  { return "rc4" }
func (c *rc4Cipher) Reserved() int { return 0 }

func (c *rc4Cipher) Encrypt(page []byte, pageNo uint32) ([]byte, error) {
	return c.transform(page, pageNo)
}

func (c *rc4Cipher) Decrypt(page []byte, pageNo uint32) ([]byte, error) {
	return c.transform(page, pageNo)
}

// transform applies the symmetric RC4 keystream.
func (c *rc4Cipher) transform(page []byte, pageNo uint32) ([]byte, error) {
	if err := checkPage(page, 0); err != nil {
		return nil, err
	}
	offset := pageOffset(pageNo)

	var pgno [4]byte
	binary.LittleEndian.PutUint32(pgno[:], pageNo)
	h := sha1.New()
	h.Write(c.key)
	h.Write(pgno[:])
	pageKey := h.Sum(nil)

	stream, err := rc4.NewCipher(pageKey)
	if err != nil {
		return nil, fmt.Errorf("failed to create RC4 cipher: %w", err)
	}

	out := make([]byte, len(page))
	copy(out[:offset], page[:offset])
	stream.XORKeyStream(out[offset:], page[offset:])
	return out, nil
}
