package codec

import (
	"fmt"
	"time"

	"github.com/dd0wney/cluso-pagecrypt/pkg/logging"
)

// BeginRekey starts re-encrypting a schema's file under the cipher the
// connection's registry currently selects, keyed by the new passphrase.
// An empty passphrase decrypts the file to plaintext. Until CommitRekey
// runs, already-converted pages are read with the new cipher and the rest
// with the old one; RollbackRekey restores everything from the journal.
func (c *Connection) BeginRekey(schema, passphrase string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	df, err := c.file(schema)
	if err != nil {
		return err
	}
	key := schemaKey(schema)
	if _, ok := c.rekeys[key]; ok {
		return ErrRekeyInProgress
	}

	target, err := c.newWriteState(passphrase)
	if err != nil {
		return err
	}

	headerRaw := make([]byte, df.header.pageSize)
	if _, err := df.f.ReadAt(headerRaw, 0); err != nil {
		return fmt.Errorf("snapshot header: %w", err)
	}
	j, err := newRekeyJournal(df.path)
	if err != nil {
		return err
	}
	if err := j.Record(0, headerRaw); err != nil {
		j.Discard()
		return err
	}
	if err := df.codec.beginRekey(target); err != nil {
		j.Discard()
		return err
	}
	c.rekeys[key] = j

	name := "plaintext"
	if target != nil {
		name = target.name
	}
	c.log.Info("rekey started", logging.Schema(key), logging.Cipher(name))
	return nil
}

// CommitRekey rewrites every page not already converted, persists the new
// header and promotes the new cipher to the read state.
func (c *Connection) CommitRekey(schema string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	start := time.Now()
	df, err := c.file(schema)
	if err != nil {
		return err
	}
	key := schemaKey(schema)
	j, ok := c.rekeys[key]
	if !ok {
		return ErrNoRekey
	}

	var pages uint32
	for pageNo := uint32(1); pageNo <= df.header.pageCount; pageNo++ {
		if df.codec.rewritten[pageNo] {
			continue
		}
		data, err := df.readPage(pageNo)
		if err != nil {
			c.mtr.RecordRekey("failed", time.Since(start), int(pages))
			return fmt.Errorf("rekey page %d: %w", pageNo, err)
		}
		if err := c.journalPreImage(df, j, pageNo); err != nil {
			c.mtr.RecordRekey("failed", time.Since(start), int(pages))
			return err
		}
		if err := df.writePage(pageNo, data); err != nil {
			c.mtr.RecordRekey("failed", time.Since(start), int(pages))
			return fmt.Errorf("rekey page %d: %w", pageNo, err)
		}
		pages++
	}

	target := df.codec.write
	if target != nil {
		df.header.encrypted = true
		df.header.salt = target.salt
		df.header.cipher = target.name
		df.header.params = target.params
	} else {
		df.header.encrypted = false
		df.header.salt = nil
		df.header.cipher = ""
		df.header.params = nil
	}
	if err := df.writeHeader(); err != nil {
		c.mtr.RecordRekey("failed", time.Since(start), int(pages))
		return err
	}
	if err := df.codec.commitRekey(); err != nil {
		return err
	}
	delete(c.rekeys, key)
	if err := j.Discard(); err != nil {
		c.log.Warn("rekey journal cleanup failed", logging.Schema(key), logging.Error(err))
	}
	c.mtr.RecordRekey("committed", time.Since(start), int(pages))
	c.log.Info("rekey committed",
		logging.Schema(key),
		logging.Uint32("pages_rewritten", pages),
		logging.Duration("elapsed", time.Since(start)))
	return nil
}

// RollbackRekey restores journaled pre-images and discards the new
// cipher, leaving the file exactly as it was before BeginRekey.
func (c *Connection) RollbackRekey(schema string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	df, err := c.file(schema)
	if err != nil {
		return err
	}
	key := schemaKey(schema)
	j, ok := c.rekeys[key]
	if !ok {
		return ErrNoRekey
	}
	j.writer.Flush()
	j.file.Close()
	if err := restoreJournal(j.path, df); err != nil {
		return fmt.Errorf("rekey rollback: %w", err)
	}
	if err := df.codec.rollbackRekey(); err != nil {
		return err
	}
	delete(c.rekeys, key)
	c.mtr.RecordRekey("rolled_back", 0, 0)
	c.log.Info("rekey rolled back", logging.Schema(key))
	return nil
}

// Rekey re-encrypts a schema's file in one shot: begin, rewrite all
// pages, commit. On any failure the file is rolled back.
func (c *Connection) Rekey(schema, passphrase string) error {
	if err := c.BeginRekey(schema, passphrase); err != nil {
		return err
	}
	if err := c.CommitRekey(schema); err != nil {
		if rbErr := c.RollbackRekey(schema); rbErr != nil {
			return fmt.Errorf("%w (rollback also failed: %v)", err, rbErr)
		}
		return err
	}
	return nil
}
