package ciphers

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"fmt"
)

const aesIVSize = 16

// aesCBC implements the aes128cbc and aes256cbc families: AES in CBC mode
// with a random per-page IV stored in the reserved region. These families
// carry no authentication tag; tampering surfaces as garbage page content
// at a higher layer, matching the historical format.
type aesCBC struct {
	name  string
	block cipher.Block
}

func newAESCBC(cfg Config, passphrase, salt []byte, keyLen int) (*aesCBC, error) {
	// aes128cbc has no kdf_iter parameter; its historical scheme used a
	// fixed iteration count.
	iter := param(cfg.Params, "kdf_iter", 4001)
	key := DeriveKey(AlgoSHA256, passphrase, salt, iter, keyLen)

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create AES cipher: %w", err)
	}
	return &aesCBC{name: cfg.Name, block: block}, nil
}

func (c *aesCBC) Name() string  { return c.name }
func (c *aesCBC) Reserved() int { return aesIVSize }

func (c *aesCBC) Encrypt(page []byte, pageNo uint32) ([]byte, error) {
	if err := checkPage(page, c.Reserved()); err != nil {
		return nil, err
	}
	offset := pageOffset(pageNo)
	payloadLen := len(page) - offset - aesIVSize
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
	return out, nil
}

func (c *aesCBC) Decrypt(page []byte, pageNo uint32) ([]byte, error) {
	if err := checkPage(page, c.Reserved()); err != nil {
		return nil, err
	}
	offset := pageOffset(pageNo)
	payloadLen := len(page) - offset - aesIVSize
	if payloadLen%aes.BlockSize != 0 {
		return nil, fmt.Errorf("%w: payload not block-aligned", ErrInvalidPageSize)
	}

	iv := page[offset+payloadLen:]
	out := make([]byte, len(page))
	copy(out[:offset], page[:offset])
	cipher.NewCBCDecrypter(c.block, iv[:aesIVSize]).CryptBlocks(out[offset:offset+payloadLen], page[offset:offset+payloadLen])
	copy(out[offset+payloadLen:], iv)
	return out, nil
}
