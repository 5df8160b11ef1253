package ciphers

import (
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"hash"

	"golang.org/x/crypto/pbkdf2"
)

// Algorithm codes for DeriveKey, matching the cipher parameter values of
// kdf_algorithm and hmac_algorithm.
const (
	AlgoSHA1   = 0
	AlgoSHA256 = 1
	AlgoSHA512 = 2
)

// KeyDeriver turns a passphrase and salt into key material. The default
// implementation is PBKDF2; it is an interface so embedders can plug in
// hardware-backed derivation.
type KeyDeriver interface {
	Derive(passphrase, salt []byte, iter, keyLen int) []byte
}

// DeriveKey derives keyLen bytes from passphrase and salt using PBKDF2
// with the given hash algorithm and iteration count.
func DeriveKey(algo int, passphrase, salt []byte, iter, keyLen int) []byte {
	return pbkdf2.Key(passphrase, salt, iter, keyLen, hashFor(algo))
}

// PBKDF2Deriver is the default KeyDeriver.
type PBKDF2Deriver struct {
	Algo int
}

// Derive implements KeyDeriver.
func (d PBKDF2Deriver) Derive(passphrase, salt []byte, iter, keyLen int) []byte {
	return DeriveKey(d.Algo, passphrase, salt, iter, keyLen)
}

func hashFor(algo int) func() hash.Hash {
	switch algo {
	case AlgoSHA1:
		return sha1.New
	case AlgoSHA512:
		return sha512.New
	default:
		return sha256.New
	}
}
