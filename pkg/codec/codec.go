package codec

import (
	"fmt"

	"github.com/dd0wney/cluso-pagecrypt/pkg/ciphers"
)

var (
	ErrConnectionClosed = fmt.Errorf("connection is closed")
	ErrUnknownSchema    = fmt.Errorf("unknown database schema")
	ErrRekeyInProgress  = fmt.Errorf("rekey already in progress")
	ErrNoRekey          = fmt.Errorf("no rekey in progress")
	ErrNoCipher         = fmt.Errorf("no cipher selected")
	ErrPassphraseNeeded = fmt.Errorf("database is encrypted and needs a passphrase")
)

// cipherState is one fully-resolved cipher: the family name, the
// parameter bundle snapshot it was built from, its salt and the page
// transform. The snapshot is taken under the registry lock at
// construction; page operations never touch the registry again.
type cipherState struct {
	name   string
	params map[string]int
	salt   []byte
	pc     ciphers.PageCipher
}

func newCipherState(name string, params map[string]int, hmacCheck bool, passphrase string, salt []byte) (*cipherState, error) {
	pc, err := ciphers.New(ciphers.Config{Name: name, Params: params, HMACCheck: hmacCheck}, []byte(passphrase), salt)
	if err != nil {
		return nil, err
	}
	return &cipherState{name: name, params: params, salt: salt, pc: pc}, nil
}

// Codec is the per-database cryptographic state: a read cipher for pages
// already on disk and, while a rekey is running, a write cipher for pages
// being rewritten. All access is serialized by the owning connection's
// lock.
//
// States: plain (read == nil, not rekeying), encrypted (read != nil, not
// rekeying), rekeying (write side live; write == nil means the target is
// plaintext). Commit and rollback are single state swaps.
type Codec struct {
	rekeying bool
	read     *cipherState
	write    *cipherState
	// rewritten tracks pages already converted to the write state during
	// an incremental rekey, so reads pick the correct side.
	rewritten map[uint32]bool
}

// IsEncrypted reports whether committed pages are encrypted.
func (c *Codec) IsEncrypted() bool {
	return c != nil && c.read != nil
}

// IsRekeying reports whether a rekey is in progress.
func (c *Codec) IsRekeying() bool {
	return c != nil && c.rekeying
}

// Salt returns the salt a provenance query should report: the write
// cipher's salt during a rekey, the read cipher's otherwise, nil for a
// plaintext database. A rekey whose target is plaintext has no write
// cipher and reports nil.
func (c *Codec) Salt() []byte {
	if c == nil {
		return nil
	}
	if c.rekeying {
		if c.write == nil {
			return nil
		}
		return c.write.salt
	}
	if c.read != nil {
		return c.read.salt
	}
	return nil
}

// writeState returns the cipher state new page writes must use.
func (c *Codec) writeState() *cipherState {
	if c.rekeying {
		return c.write
	}
	return c.read
}

// readState returns the cipher state a read of page pageNo must use.
func (c *Codec) readState(pageNo uint32) *cipherState {
	if c.rekeying && c.rewritten[pageNo] {
		return c.write
	}
	return c.read
}

// beginRekey installs the write state. target == nil rekeys to plaintext.
func (c *Codec) beginRekey(target *cipherState) error {
	if c.rekeying {
		return ErrRekeyInProgress
	}
	c.rekeying = true
	c.write = target
	c.rewritten = make(map[uint32]bool)
	return nil
}

// commitRekey promotes the write state to the read state.
func (c *Codec) commitRekey() error {
	if !c.rekeying {
		return ErrNoRekey
	}
	c.read = c.write
	c.write = nil
	c.rekeying = false
	c.rewritten = nil
	return nil
}

// rollbackRekey discards the write state, leaving the read state intact.
func (c *Codec) rollbackRekey() error {
	if !c.rekeying {
		return ErrNoRekey
	}
	c.write = nil
	c.rekeying = false
	c.rewritten = nil
	return nil
}
