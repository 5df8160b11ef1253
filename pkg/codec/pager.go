package codec

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"os"
	"sort"

	"github.com/dd0wney/cluso-pagecrypt/pkg/ciphers"
)

const (
	// DefaultPageSize is the page size new database files are created with.
	DefaultPageSize = 4096

	// reserveBytes is carved off the end of every data page for cipher
	// material (IV, nonce, tag, HMAC). It is fixed at file creation so a
	// rekey between cipher families never changes the usable page size.
	reserveBytes = 96

	headerMagic   = "CPGHDR01"
	formatVersion = 1

	maxCipherName = 16
	maxParams     = 64
)

var (
	ErrBadHeader       = fmt.Errorf("database header is malformed")
	ErrHeaderChecksum  = fmt.Errorf("database header checksum mismatch")
	ErrPageOutOfRange  = fmt.Errorf("page number out of range")
	ErrPageTooLarge    = fmt.Errorf("page data exceeds usable page size")
	ErrBadPageSize     = fmt.Errorf("unsupported page size")
	ErrUnsupportedFile = fmt.Errorf("unsupported database file format")

	// plainSalt marks an unencrypted file. A real salt is random, so the
	// all-zero pattern cannot collide with one in practice.
	plainSalt = make([]byte, ciphers.SaltSize)
)

// fileHeader is the plaintext self-description at the start of every
// database file. For an encrypted file it carries the salt, the cipher
// family name and the parameter bundle the pages were written with, so
// reopening needs only the passphrase.
type fileHeader struct {
	salt      []byte
	pageSize  uint32
	pageCount uint32
	encrypted bool
	cipher    string
	params    map[string]int
}

func (h *fileHeader) usable() int {
	return int(h.pageSize) - reserveBytes
}

// marshal renders the header into a full page-size buffer. Layout:
// salt[16], magic[8], version u32, pageSize u32, pageCount u32,
// encrypted u8, cipher name (len u8 + bytes), param count u32 followed by
// (name len u8, name, value i64) entries in sorted order, crc32 u32 over
// everything after the salt.
func (h *fileHeader) marshal() ([]byte, error) {
	if len(h.cipher) > maxCipherName {
		return nil, fmt.Errorf("%w: cipher name too long", ErrBadHeader)
	}
	if len(h.params) > maxParams {
		return nil, fmt.Errorf("%w: too many parameters", ErrBadHeader)
	}

	buf := bytes.NewBuffer(make([]byte, 0, h.pageSize))
	if h.encrypted {
		buf.Write(h.salt)
	} else {
		buf.Write(plainSalt)
	}
	body := bytes.NewBuffer(nil)
	body.WriteString(headerMagic)
	binary.Write(body, binary.LittleEndian, uint32(formatVersion))
	binary.Write(body, binary.LittleEndian, h.pageSize)
	binary.Write(body, binary.LittleEndian, h.pageCount)
	if h.encrypted {
		body.WriteByte(1)
	} else {
		body.WriteByte(0)
	}
	body.WriteByte(byte(len(h.cipher)))
	body.WriteString(h.cipher)

	names := make([]string, 0, len(h.params))
	for name := range h.params {
		names = append(names, name)
	}
	sort.Strings(names)
	binary.Write(body, binary.LittleEndian, uint32(len(names)))
	for _, name := range names {
		body.WriteByte(byte(len(name)))
		body.WriteString(name)
		binary.Write(body, binary.LittleEndian, int64(h.params[name]))
	}
	binary.Write(body, binary.LittleEndian, crc32.ChecksumIEEE(body.Bytes()))

	buf.Write(body.Bytes())
	if buf.Len() > int(h.pageSize) {
		return nil, fmt.Errorf("%w: header exceeds page size", ErrBadHeader)
	}
	page := make([]byte, h.pageSize)
	copy(page, buf.Bytes())
	return page, nil
}

func parseHeader(page []byte) (*fileHeader, error) {
	if len(page) < ciphers.SaltSize+len(headerMagic)+13 {
		return nil, ErrBadHeader
	}
	h := &fileHeader{salt: append([]byte(nil), page[:ciphers.SaltSize]...)}
	body := page[ciphers.SaltSize:]
	if string(body[:len(headerMagic)]) != headerMagic {
		return nil, ErrUnsupportedFile
	}
	r := bytes.NewReader(body[len(headerMagic):])
	var version uint32
	if err := binary.Read(r, binary.LittleEndian, &version); err != nil {
		return nil, ErrBadHeader
	}
	if version != formatVersion {
		return nil, fmt.Errorf("%w: format version %d", ErrUnsupportedFile, version)
	}
	if err := binary.Read(r, binary.LittleEndian, &h.pageSize); err != nil {
		return nil, ErrBadHeader
	}
	if err := binary.Read(r, binary.LittleEndian, &h.pageCount); err != nil {
		return nil, ErrBadHeader
	}
	flag, err := r.ReadByte()
	if err != nil {
		return nil, ErrBadHeader
	}
	h.encrypted = flag == 1
	nameLen, err := r.ReadByte()
	if err != nil || int(nameLen) > maxCipherName {
		return nil, ErrBadHeader
	}
	name := make([]byte, nameLen)
	if _, err := r.Read(name); err != nil {
		return nil, ErrBadHeader
	}
	h.cipher = string(name)
	var count uint32
	if err := binary.Read(r, binary.LittleEndian, &count); err != nil || count > maxParams {
		return nil, ErrBadHeader
	}
	h.params = make(map[string]int, count)
	for i := uint32(0); i < count; i++ {
		pl, err := r.ReadByte()
		if err != nil {
			return nil, ErrBadHeader
		}
		pn := make([]byte, pl)
		if _, err := r.Read(pn); err != nil {
			return nil, ErrBadHeader
		}
		var v int64
		if err := binary.Read(r, binary.LittleEndian, &v); err != nil {
			return nil, ErrBadHeader
		}
		h.params[string(pn)] = int(v)
	}
	// The checksum sits right after the last param entry, before padding;
	// everything up to it is checksummed.
	bodyLen := len(body) - r.Len()
	var stored uint32
	if err := binary.Read(r, binary.LittleEndian, &stored); err != nil {
		return nil, ErrBadHeader
	}
	if crc32.ChecksumIEEE(body[:bodyLen]) != stored {
		return nil, ErrHeaderChecksum
	}
	if h.pageSize < ciphers.MinPageSize || h.pageSize%256 != 0 {
		return nil, ErrBadPageSize
	}
	return h, nil
}

// databaseFile is one paged store attached to a connection under a schema
// name. Page 1 of the file holds the plaintext header; data pages are
// numbered from 1 and stored at offset pageNo*pageSize. All methods are
// called with the owning connection's lock held.
type databaseFile struct {
	path   string
	f      *os.File
	header *fileHeader
	codec  *Codec
}

func openDatabaseFile(path string) (*databaseFile, bool, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o600)
	if err != nil {
		return nil, false, fmt.Errorf("open database file: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, false, err
	}
	df := &databaseFile{path: path, f: f, codec: &Codec{}}
	if info.Size() == 0 {
		return df, true, nil
	}
	// The header never needs more than one default-size page, but the file's
	// own page size may be smaller.
	headerLen := int64(DefaultPageSize)
	if info.Size() < headerLen {
		headerLen = info.Size()
	}
	page := make([]byte, headerLen)
	if _, err := f.ReadAt(page, 0); err != nil {
		f.Close()
		return nil, false, fmt.Errorf("read database header: %w", err)
	}
	h, err := parseHeader(page)
	if err != nil {
		f.Close()
		return nil, false, err
	}
	df.header = h
	return df, false, nil
}

// create writes the header for a brand-new file. state == nil creates a
// plaintext database.
func (d *databaseFile) create(pageSize int, state *cipherState) error {
	if pageSize < ciphers.MinPageSize || pageSize%256 != 0 {
		return ErrBadPageSize
	}
	h := &fileHeader{pageSize: uint32(pageSize)}
	if state != nil {
		h.encrypted = true
		h.salt = state.salt
		h.cipher = state.name
		h.params = state.params
	}
	d.header = h
	d.codec = &Codec{read: state}
	return d.writeHeader()
}

func (d *databaseFile) writeHeader() error {
	page, err := d.header.marshal()
	if err != nil {
		return err
	}
	if _, err := d.f.WriteAt(page, 0); err != nil {
		return fmt.Errorf("write database header: %w", err)
	}
	return nil
}

func (d *databaseFile) pageOffset(pageNo uint32) int64 {
	return int64(pageNo) * int64(d.header.pageSize)
}

// filePageNo converts a 1-based data page number into the file-level page
// number the ciphers bind to. The header occupies file page 1, so its
// plaintext-salt handling never applies to data pages.
func filePageNo(pageNo uint32) uint32 {
	return pageNo + 1
}

func (d *databaseFile) checkPageNo(pageNo uint32, forWrite bool) error {
	if pageNo == 0 {
		return ErrPageOutOfRange
	}
	if forWrite {
		// Writes may extend the file by exactly one page.
		if pageNo > d.header.pageCount+1 {
			return ErrPageOutOfRange
		}
		return nil
	}
	if pageNo > d.header.pageCount {
		return ErrPageOutOfRange
	}
	return nil
}

// readRaw returns the on-disk bytes of a data page, untransformed.
func (d *databaseFile) readRaw(pageNo uint32) ([]byte, error) {
	page := make([]byte, d.header.pageSize)
	if _, err := d.f.ReadAt(page, d.pageOffset(pageNo)); err != nil {
		return nil, fmt.Errorf("read page %d: %w", pageNo, err)
	}
	return page, nil
}

func (d *databaseFile) writeRaw(pageNo uint32, page []byte) error {
	if _, err := d.f.WriteAt(page, d.pageOffset(pageNo)); err != nil {
		return fmt.Errorf("write page %d: %w", pageNo, err)
	}
	if pageNo > d.header.pageCount {
		d.header.pageCount = pageNo
		return d.writeHeader()
	}
	return nil
}

// readPage reads and decodes one data page, returning the usable bytes.
func (d *databaseFile) readPage(pageNo uint32) ([]byte, error) {
	if err := d.checkPageNo(pageNo, false); err != nil {
		return nil, err
	}
	raw, err := d.readRaw(pageNo)
	if err != nil {
		return nil, err
	}
	state := d.codec.readState(pageNo)
	if state == nil {
		return raw[:d.header.usable()], nil
	}
	plain, err := state.pc.Decrypt(raw, filePageNo(pageNo))
	if err != nil {
		return nil, err
	}
	return plain[:d.header.usable()], nil
}

// writePage encodes and writes one data page. data shorter than the
// usable size is zero padded.
func (d *databaseFile) writePage(pageNo uint32, data []byte) error {
	if err := d.checkPageNo(pageNo, true); err != nil {
		return err
	}
	if len(data) > d.header.usable() {
		return ErrPageTooLarge
	}
	page := make([]byte, d.header.pageSize)
	copy(page, data)
	state := d.codec.writeState()
	if state != nil {
		enc, err := state.pc.Encrypt(page, filePageNo(pageNo))
		if err != nil {
			return err
		}
		page = enc
	}
	if err := d.writeRaw(pageNo, page); err != nil {
		return err
	}
	if d.codec.IsRekeying() {
		d.codec.rewritten[pageNo] = true
	}
	return nil
}

func (d *databaseFile) close() error {
	return d.f.Close()
}
