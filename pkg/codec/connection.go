package codec

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/dd0wney/cluso-pagecrypt/pkg/cipherconfig"
	"github.com/dd0wney/cluso-pagecrypt/pkg/ciphers"
	"github.com/dd0wney/cluso-pagecrypt/pkg/logging"
	"github.com/dd0wney/cluso-pagecrypt/pkg/metrics"
)

// MainSchema is the schema name of the database a connection was opened
// on. Attached databases get their own schema names.
const MainSchema = "main"

// Connection owns a private copy of the cipher configuration plus the
// database files attached to it. Configuration changes on one connection
// never leak into another; only default-prefixed writes against the
// global registry are shared, and those only reach connections opened
// afterwards.
type Connection struct {
	id       uuid.UUID
	mu       sync.Mutex
	registry *cipherconfig.Registry
	files    map[string]*databaseFile
	rekeys   map[string]*rekeyJournal
	log      logging.Logger
	mtr      *metrics.Registry
	closed   bool
}

type openOptions struct {
	passphrase string
	pageSize   int
	log        logging.Logger
	mtr        *metrics.Registry
}

// Option configures Open and Attach.
type Option func(*openOptions)

// WithPassphrase supplies the passphrase used to derive page keys.
func WithPassphrase(p string) Option {
	return func(o *openOptions) { o.passphrase = p }
}

// WithPageSize sets the page size for newly created files.
func WithPageSize(n int) Option {
	return func(o *openOptions) { o.pageSize = n }
}

// WithLogger overrides the connection logger.
func WithLogger(l logging.Logger) Option {
	return func(o *openOptions) { o.log = l }
}

// WithMetrics overrides the metrics registry.
func WithMetrics(m *metrics.Registry) Option {
	return func(o *openOptions) { o.mtr = m }
}

// Open opens or creates the database named by dsn and returns a
// connection bound to it. The dsn may carry cipher configuration in its
// query string ("file:db?cipher=chacha20&kdf_iter=100000"); an unknown
// cipher name there fails the open. The connection starts from a private
// clone of the global defaults.
func Open(dsn string, opts ...Option) (*Connection, error) {
	o := openOptions{pageSize: DefaultPageSize, log: logging.DefaultLogger(), mtr: metrics.DefaultRegistry()}
	for _, opt := range opts {
		opt(&o)
	}

	registry := cipherconfig.Global().Clone()
	path, err := cipherconfig.ConfigureFromDSN(registry, dsn, false)
	if err != nil {
		return nil, err
	}

	conn := &Connection{
		id:       uuid.New(),
		registry: registry,
		files:    make(map[string]*databaseFile),
		rekeys:   make(map[string]*rekeyJournal),
		log:      o.log.With(logging.Component("codec")),
		mtr:      o.mtr,
	}
	if err := conn.attachLocked(MainSchema, path, &o); err != nil {
		return nil, err
	}
	conn.mtr.ConnectionOpened()
	conn.log.Info("connection opened",
		logging.String("connection_id", conn.id.String()),
		logging.Path(path),
		logging.Bool("encrypted", conn.files[MainSchema].codec.IsEncrypted()))
	return conn, nil
}

// Attach opens another database file under the given schema name. The
// attached file shares the connection's configuration registry, and its
// dsn query string runs through the same auto-configuration as Open.
func (c *Connection) Attach(schema, dsn string, opts ...Option) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrConnectionClosed
	}
	key := schemaKey(schema)
	if schema == "" || key == MainSchema {
		return fmt.Errorf("invalid attach schema %q", schema)
	}
	if _, ok := c.files[key]; ok {
		return fmt.Errorf("schema %q already attached", schema)
	}
	path, err := cipherconfig.ConfigureFromDSN(c.registry, dsn, false)
	if err != nil {
		return err
	}
	o := openOptions{pageSize: DefaultPageSize, log: c.log, mtr: c.mtr}
	for _, opt := range opts {
		opt(&o)
	}
	return c.attachLocked(key, path, &o)
}

func (c *Connection) attachLocked(schema, path string, o *openOptions) error {
	// A journal left behind by an interrupted rekey is rolled back before
	// the file is used.
	df, fresh, err := openDatabaseFile(path)
	if err != nil {
		return err
	}
	if !fresh {
		if _, statErr := os.Stat(journalPath(path)); statErr == nil {
			c.log.Warn("rolling back interrupted rekey", logging.Path(path))
			if err := restoreJournal(journalPath(path), df); err != nil {
				df.close()
				return fmt.Errorf("recover interrupted rekey: %w", err)
			}
		}
	}

	if fresh {
		state, err := c.newWriteState(o.passphrase)
		if err != nil {
			df.close()
			return err
		}
		if err := df.create(o.pageSize, state); err != nil {
			df.close()
			return err
		}
	} else if df.header.encrypted {
		if o.passphrase == "" {
			df.close()
			return ErrPassphraseNeeded
		}
		state, err := stateFromHeader(df.header, o.passphrase, c.hmacCheck())
		if err != nil {
			df.close()
			return err
		}
		df.codec = &Codec{read: state}
		if err := c.verifyPassphrase(df, schema); err != nil {
			df.close()
			return err
		}
	}
	c.files[schema] = df
	return nil
}

// newWriteState resolves the connection's selected cipher into a fresh
// cipher state with a new random salt. Returns nil when no passphrase is
// given, which creates a plaintext database.
func (c *Connection) newWriteState(passphrase string) (*cipherState, error) {
	if passphrase == "" {
		return nil, nil
	}
	name, params, hmacCheck := c.registry.SelectedSnapshot()
	if name == "" {
		return nil, ErrNoCipher
	}
	salt, err := ciphers.GenerateSalt()
	if err != nil {
		return nil, err
	}
	return newCipherState(name, params, hmacCheck, passphrase, salt)
}

// stateFromHeader rebuilds the cipher state an existing file was written
// with, from the parameter bundle persisted in its header.
func stateFromHeader(h *fileHeader, passphrase string, hmacCheck bool) (*cipherState, error) {
	return newCipherState(h.cipher, h.params, hmacCheck, passphrase, h.salt)
}

// verifyPassphrase test-decrypts the first data page so that ciphers with
// authentication reject a wrong passphrase at open instead of on first
// use. Ciphers without authentication cannot detect it here.
func (c *Connection) verifyPassphrase(df *databaseFile, schema string) error {
	if df.header.pageCount == 0 {
		return nil
	}
	if _, err := df.readPage(1); err != nil {
		c.mtr.RecordAuthFailure()
		c.log.Warn("passphrase verification failed",
			logging.Schema(schema), logging.Error(err))
		return err
	}
	return nil
}

func (c *Connection) hmacCheck() bool {
	v, err := c.registry.Get(cipherconfig.ParamHMACCheck)
	if err != nil {
		return true
	}
	return v != 0
}

// ID returns the connection's unique identifier.
func (c *Connection) ID() uuid.UUID {
	return c.id
}

// Registry exposes the connection's private configuration registry.
func (c *Connection) Registry() *cipherconfig.Registry {
	return c.registry
}

// Schemas returns the attached schema names, main first.
func (c *Connection) Schemas() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := []string{}
	if _, ok := c.files[MainSchema]; ok {
		out = append(out, MainSchema)
	}
	for name := range c.files {
		if name != MainSchema {
			out = append(out, name)
		}
	}
	return out
}

// Detach closes and removes an attached database. The main database
// cannot be detached.
func (c *Connection) Detach(schema string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrConnectionClosed
	}
	key := schemaKey(schema)
	if key == MainSchema {
		return fmt.Errorf("cannot detach %q", MainSchema)
	}
	df, ok := c.files[key]
	if !ok {
		return ErrUnknownSchema
	}
	if j, ok := c.rekeys[key]; ok {
		j.writer.Flush()
		j.file.Close()
		restoreJournal(j.path, df)
		df.codec.rollbackRekey()
		delete(c.rekeys, key)
	}
	delete(c.files, key)
	return df.close()
}

// file returns the database file for a schema, defaulting to main.
func (c *Connection) file(schema string) (*databaseFile, error) {
	if c.closed {
		return nil, ErrConnectionClosed
	}
	if schema == "" {
		schema = MainSchema
	}
	df, ok := c.files[strings.ToLower(schema)]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownSchema, schema)
	}
	return df, nil
}

// ReadPage returns the usable bytes of one data page, decrypted.
func (c *Connection) ReadPage(schema string, pageNo uint32) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	df, err := c.file(schema)
	if err != nil {
		return nil, err
	}
	c.syncHMACCheck(df)
	data, err := df.readPage(pageNo)
	if err != nil {
		if errors.Is(err, ciphers.ErrAuthenticationFailed) {
			c.mtr.RecordAuthFailure()
			c.log.Warn("page authentication failed",
				logging.Schema(schemaKey(schema)), logging.PageNo(pageNo))
		}
		return nil, err
	}
	if state := df.codec.readState(pageNo); state != nil {
		c.mtr.RecordPageDecrypted(state.name)
	}
	return data, nil
}

// WritePage encrypts and writes one data page. During a rekey the page is
// journaled first and written with the new cipher.
func (c *Connection) WritePage(schema string, pageNo uint32, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	df, err := c.file(schema)
	if err != nil {
		return err
	}
	key := schemaKey(schema)
	if j, ok := c.rekeys[key]; ok {
		if err := c.journalPreImage(df, j, pageNo); err != nil {
			return err
		}
	}
	if err := df.writePage(pageNo, data); err != nil {
		return err
	}
	if state := df.codec.writeState(); state != nil {
		c.mtr.RecordPageEncrypted(state.name)
	}
	return nil
}

// journalPreImage records the raw pre-image of a page the first time a
// rekey touches it. Pages beyond the current page count are new and have
// nothing to journal.
func (c *Connection) journalPreImage(df *databaseFile, j *rekeyJournal, pageNo uint32) error {
	if df.codec.rewritten[pageNo] || pageNo > df.header.pageCount {
		return nil
	}
	raw, err := df.readRaw(pageNo)
	if err != nil {
		return err
	}
	return j.Record(pageNo, raw)
}

// syncHMACCheck pushes the registry's current hmac_check value into the
// read cipher, so disabling verification takes effect without reopening.
func (c *Connection) syncHMACCheck(df *databaseFile) {
	state := df.codec.read
	if state == nil {
		return
	}
	if t, ok := state.pc.(ciphers.HMACToggler); ok {
		t.SetHMACCheck(c.hmacCheck())
	}
}

// PageCount returns the number of data pages in a schema's file.
func (c *Connection) PageCount(schema string) (uint32, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	df, err := c.file(schema)
	if err != nil {
		return 0, err
	}
	return df.header.pageCount, nil
}

// UsablePageSize returns the bytes available to callers per data page.
func (c *Connection) UsablePageSize(schema string) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	df, err := c.file(schema)
	if err != nil {
		return 0, err
	}
	return df.header.usable(), nil
}

// CipherName returns the family a schema's pages are encrypted with, or
// an empty string for a plaintext database.
func (c *Connection) CipherName(schema string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	df, err := c.file(schema)
	if err != nil {
		return "", err
	}
	if df.codec.read == nil {
		return "", nil
	}
	return df.codec.read.name, nil
}

// IsEncrypted reports whether a schema's committed pages are encrypted.
func (c *Connection) IsEncrypted(schema string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	df, err := c.file(schema)
	if err != nil {
		return false, err
	}
	return df.codec.IsEncrypted(), nil
}

// Close rolls back any in-progress rekeys, closes all attached files and
// releases the connection. The configuration clone dies with it.
func (c *Connection) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrConnectionClosed
	}
	var firstErr error
	for schema, j := range c.rekeys {
		j.writer.Flush()
		j.file.Close()
		if df, ok := c.files[schema]; ok {
			if err := restoreJournal(j.path, df); err != nil && firstErr == nil {
				firstErr = err
			}
			df.codec.rollbackRekey()
		}
	}
	c.rekeys = nil
	for _, df := range c.files {
		if err := df.close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	c.files = nil
	c.closed = true
	c.mtr.ConnectionClosed()
	c.log.Info("connection closed", logging.String("connection_id", c.id.String()))
	return firstErr
}

func schemaKey(schema string) string {
	if schema == "" {
		return MainSchema
	}
	return strings.ToLower(schema)
}
