package codec

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"io"
	"os"

	"github.com/golang/snappy"
)

// rekeyJournal records snappy-compressed pre-images of pages overwritten
// during an in-progress rekey, so a rollback can restore the raw bytes
// exactly as they were. The journal lives next to the database file and
// is deleted on commit or rollback. A journal left behind by a crash is
// replayed the next time the file is opened.
type rekeyJournal struct {
	path   string
	file   *os.File
	writer *bufio.Writer
}

// journalEntry is one pre-image: the page number and the raw on-disk
// bytes before the rekey touched the page.
type journalEntry struct {
	PageNo   uint32
	Raw      []byte
	Checksum uint32
}

func journalPath(dbPath string) string {
	return dbPath + "-rekey"
}

func newRekeyJournal(dbPath string) (*rekeyJournal, error) {
	path := journalPath(dbPath)
	file, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC|os.O_APPEND, 0o600)
	if err != nil {
		return nil, fmt.Errorf("failed to create rekey journal: %w", err)
	}
	return &rekeyJournal{path: path, file: file, writer: bufio.NewWriter(file)}, nil
}

// Record appends the pre-image of one page.
// Format: [PageNo:4][DataLen:4][Data:N][Checksum:4], checksum over the
// compressed bytes.
func (j *rekeyJournal) Record(pageNo uint32, raw []byte) error {
	compressed := snappy.Encode(nil, raw)

	if err := binary.Write(j.writer, binary.BigEndian, pageNo); err != nil {
		return err
	}
	if err := binary.Write(j.writer, binary.BigEndian, uint32(len(compressed))); err != nil {
		return err
	}
	if _, err := j.writer.Write(compressed); err != nil {
		return err
	}
	if err := binary.Write(j.writer, binary.BigEndian, crc32.ChecksumIEEE(compressed)); err != nil {
		return err
	}
	if err := j.writer.Flush(); err != nil {
		return err
	}
	return j.file.Sync()
}

// ReadAll returns every recorded pre-image in write order.
func readJournal(path string) ([]*journalEntry, error) {
	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	defer file.Close()

	reader := bufio.NewReader(file)
	entries := make([]*journalEntry, 0)
	for {
		entry := &journalEntry{}
		if err := binary.Read(reader, binary.BigEndian, &entry.PageNo); err != nil {
			if err == io.EOF {
				break
			}
			return nil, err
		}
		var dataLen uint32
		if err := binary.Read(reader, binary.BigEndian, &dataLen); err != nil {
			return nil, err
		}
		compressed := make([]byte, dataLen)
		if _, err := io.ReadFull(reader, compressed); err != nil {
			return nil, err
		}
		if err := binary.Read(reader, binary.BigEndian, &entry.Checksum); err != nil {
			return nil, err
		}
		if crc32.ChecksumIEEE(compressed) != entry.Checksum {
			return nil, fmt.Errorf("checksum mismatch for journaled page %d", entry.PageNo)
		}
		raw, err := snappy.Decode(nil, compressed)
		if err != nil {
			return nil, fmt.Errorf("failed to decompress journaled page %d: %w", entry.PageNo, err)
		}
		entry.Raw = raw
		entries = append(entries, entry)
	}
	return entries, nil
}

// Discard closes and deletes the journal.
func (j *rekeyJournal) Discard() error {
	j.writer.Flush()
	j.file.Close()
	if err := os.Remove(j.path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// restoreJournal replays pre-images back into the database file and then
// removes the journal. Entry page 0 is the header page pre-image written
// at rekey start; restoring it rolls back the page count and cipher
// description as well. Pages appended during the rekey have no pre-image
// and are cut off by the final truncate.
func restoreJournal(path string, d *databaseFile) error {
	entries, err := readJournal(path)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return err
		}
		return nil
	}
	for _, entry := range entries {
		if _, err := d.f.WriteAt(entry.Raw, d.pageOffset(entry.PageNo)); err != nil {
			return fmt.Errorf("restore page %d: %w", entry.PageNo, err)
		}
	}
	page := make([]byte, d.header.pageSize)
	if _, err := d.f.ReadAt(page, 0); err != nil {
		return err
	}
	h, err := parseHeader(page)
	if err != nil {
		return err
	}
	d.header = h
	if err := d.f.Truncate(int64(h.pageCount+1) * int64(h.pageSize)); err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}
