package cipherconfig

import "math"

// Catalog indices of the built-in cipher families. Index 1 is the first
// catalog entry; the common parameter table occupies slot 0.
const (
	CipherAES128CBC = 1
	CipherAES256CBC = 2
	CipherChaCha20  = 3
	CipherSQLCipher = 4
	CipherRC4       = 5
)

// Common parameter names.
const (
	ParamCipher    = "cipher"
	ParamHMACCheck = "hmac_check"
)

// Key derivation and HMAC algorithm codes shared by the sqlcipher family
// parameters kdf_algorithm and hmac_algorithm.
const (
	AlgoSHA1   = 0
	AlgoSHA256 = 1
	AlgoSHA512 = 2
)

// MaxParamValue is the upper bound used by parameters without a natural
// maximum. Kept at 32 bits for compatibility with the on-disk formats this
// package reproduces.
const MaxParamValue = math.MaxInt32

// cipherDef pairs a cipher family name with its parameter table.
type cipherDef struct {
	name   string
	params *Table
}

// builtinCommon returns the connection-independent parameter table.
// The cipher selector stores a 1-based catalog index.
func builtinCommon() *Table {
	return newTable([]Param{
		{Name: ParamCipher, Value: CipherChaCha20, Default: CipherChaCha20, Min: 1, Max: 5},
		{Name: ParamHMACCheck, Value: 1, Default: 1, Min: 0, Max: 1},
	})
}

// builtinCiphers returns the built-in cipher catalog with the historical
// defaults of each family. Order defines the canonical catalog indices.
func builtinCiphers() []cipherDef {
	return []cipherDef{
		{
			name: "aes128cbc",
			params: newTable([]Param{
				{Name: "legacy", Value: 0, Default: 0, Min: 0, Max: 1},
				{Name: "legacy_page_size", Value: 0, Default: 0, Min: 0, Max: 65536},
			}),
		},
		{
			name: "aes256cbc",
			params: newTable([]Param{
				{Name: "kdf_iter", Value: 4001, Default: 4001, Min: 1, Max: MaxParamValue},
				{Name: "legacy", Value: 0, Default: 0, Min: 0, Max: 1},
				{Name: "legacy_page_size", Value: 0, Default: 0, Min: 0, Max: 65536},
			}),
		},
		{
			name: "chacha20",
			params: newTable([]Param{
				{Name: "kdf_iter", Value: 64007, Default: 64007, Min: 1, Max: MaxParamValue},
				{Name: "legacy", Value: 0, Default: 0, Min: 0, Max: 1},
				{Name: "legacy_page_size", Value: 0, Default: 0, Min: 0, Max: 65536},
			}),
		},
		{
			name: "sqlcipher",
			params: newTable([]Param{
				{Name: "kdf_iter", Value: 256000, Default: 256000, Min: 1, Max: MaxParamValue},
				{Name: "fast_kdf_iter", Value: 2, Default: 2, Min: 1, Max: MaxParamValue},
				{Name: "hmac_use", Value: 1, Default: 1, Min: 0, Max: 1},
				{Name: "hmac_pgno", Value: 1, Default: 1, Min: 0, Max: 2},
				{Name: "hmac_salt_mask", Value: 0x3a, Default: 0x3a, Min: 0, Max: 255},
				{Name: "legacy", Value: 0, Default: 0, Min: 0, Max: SQLCipherVersionMax},
				{Name: "legacy_page_size", Value: 0, Default: 0, Min: 0, Max: 65536},
				{Name: "kdf_algorithm", Value: AlgoSHA512, Default: AlgoSHA512, Min: AlgoSHA1, Max: AlgoSHA512},
				{Name: "hmac_algorithm", Value: AlgoSHA512, Default: AlgoSHA512, Min: AlgoSHA1, Max: AlgoSHA512},
				{Name: "plaintext_header_size", Value: 0, Default: 0, Min: 0, Max: 100},
			}),
		},
		{
			name: "rc4",
			params: newTable([]Param{
				{Name: "legacy", Value: 1, Default: 1, Min: 1, Max: 1},
				{Name: "legacy_page_size", Value: 0, Default: 0, Min: 0, Max: 65536},
			}),
		},
	}
}
