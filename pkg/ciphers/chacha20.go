package ciphers

import (
	"crypto/cipher"
	"crypto/rand"
	"encoding/binary"
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"
)

// chacha20 reserve layout: 12-byte nonce, 16-byte Poly1305 tag, 4 bytes
// unused padding to keep the reserve size a multiple of 16.
const chachaReserve = 32

// chaCha20 implements the chacha20 family: ChaCha20-Poly1305 with a
// random per-page nonce and the page number bound as associated data, so
// a page cannot be relocated without detection.
type chaCha20 struct {
	aead cipher.AEAD
}

func newChaCha20(cfg Config, passphrase, salt []byte) (*chaCha20, error) {
	iter := param(cfg.Params, "kdf_iter", 64007)
	key := DeriveKey(AlgoSHA256, passphrase, salt, iter, chacha20poly1305.KeySize)

	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create chacha20 cipher: %w", err)
	}
	return &chaCha20{aead: aead}, nil
}

func (c *chaCha20) Name() string  { return "chacha20" }
func (c *chaCha20) Reserved() int { return chachaReserve }

func (c *chaCha20) Encrypt(page []byte, pageNo uint32) ([]byte, error) {
	if err := checkPage(page, c.Reserved()); err != nil {
		return nil, err
	}
	offset := pageOffset(pageNo)
	payloadLen := len(page) - offset - chachaReserve

	nonce := make([]byte, chacha20poly1305.NonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}

	var ad [4]byte
	binary.LittleEndian.PutUint32(ad[:], pageNo)

	// Seal output is payload + 16-byte tag.
	sealed := c.aead.Seal(nil, nonce, page[offset:offset+payloadLen], ad[:])

	out := make([]byte, len(page))
	copy(out[:offset], page[:offset])
	copy(out[offset:], sealed)
	copy(out[offset+payloadLen+16:], nonce)
	return out, nil
}

func (c *chaCha20) Decrypt(page []byte, pageNo uint32) ([]byte, error) {
	if err := checkPage(page, c.Reserved()); err != nil {
		return nil, err
	}
	offset := pageOffset(pageNo)
	payloadLen := len(page) - offset - chachaReserve

	nonce := page[offset+payloadLen+16 : offset+payloadLen+16+chacha20poly1305.NonceSize]

	var ad [4]byte
	binary.LittleEndian.PutUint32(ad[:], pageNo)

	opened, err := c.aead.Open(nil, nonce, page[offset:offset+payloadLen+16], ad[:])
	if err != nil {
		return nil, ErrAuthenticationFailed
	}

	out := make([]byte, len(page))
	copy(out[:offset], page[:offset])
	copy(out[offset:], opened)
	copy(out[offset+payloadLen:], page[offset+payloadLen:])
	return out, nil
}
