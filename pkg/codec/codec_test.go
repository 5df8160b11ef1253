package codec

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/dd0wney/cluso-pagecrypt/pkg/cipherconfig"
	"github.com/dd0wney/cluso-pagecrypt/pkg/ciphers"
	"github.com/dd0wney/cluso-pagecrypt/pkg/logging"
)

func testDBPath(t *testing.T) string {
	t.Helper()
	return filepath.Join(t.TempDir(), "test.db")
}

func mustOpen(t *testing.T, dsn string, opts ...Option) *Connection {
	t.Helper()
	opts = append(opts, WithLogger(logging.NewNopLogger()))
	conn, err := Open(dsn, opts...)
	if err != nil {
		t.Fatalf("Open(%q) failed: %v", dsn, err)
	}
	return conn
}

func fillPages(t *testing.T, conn *Connection, schema string, n int) [][]byte {
	t.Helper()
	pages := make([][]byte, n)
	for i := 0; i < n; i++ {
		data := []byte(fmt.Sprintf("page %d payload", i+1))
		if err := conn.WritePage(schema, uint32(i+1), data); err != nil {
			t.Fatalf("WritePage(%d) failed: %v", i+1, err)
		}
		pages[i] = data
	}
	return pages
}

func checkPages(t *testing.T, conn *Connection, schema string, want [][]byte) {
	t.Helper()
	for i, expected := range want {
		got, err := conn.ReadPage(schema, uint32(i+1))
		if err != nil {
			t.Fatalf("ReadPage(%d) failed: %v", i+1, err)
		}
		if !bytes.HasPrefix(got, expected) {
			t.Errorf("page %d: got %q, want prefix %q", i+1, got[:len(expected)], expected)
		}
	}
}

func TestPlaintextRoundTrip(t *testing.T) {
	path := testDBPath(t)
	conn := mustOpen(t, path)
	pages := fillPages(t, conn, "", 4)
	checkPages(t, conn, "", pages)

	if enc, _ := conn.IsEncrypted(""); enc {
		t.Error("plaintext database reported as encrypted")
	}
	if err := conn.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	conn = mustOpen(t, path)
	defer conn.Close()
	checkPages(t, conn, "", pages)
}

func TestEncryptedCreateAndReopenWithPassphraseOnly(t *testing.T) {
	path := testDBPath(t)
	conn := mustOpen(t, "file:"+path+"?cipher=chacha20&kdf_iter=10000", WithPassphrase("secret"))
	pages := fillPages(t, conn, "", 3)
	if enc, _ := conn.IsEncrypted(""); !enc {
		t.Fatal("database should be encrypted")
	}
	conn.Close()

	// Reopen knows nothing but the passphrase; cipher and parameters come
	// from the file header.
	conn = mustOpen(t, path, WithPassphrase("secret"))
	defer conn.Close()
	checkPages(t, conn, "", pages)
}

func TestEncryptedPagesAreNotPlaintextOnDisk(t *testing.T) {
	path := testDBPath(t)
	conn := mustOpen(t, path, WithPassphrase("secret"))
	payload := []byte("very recognizable plaintext payload")
	if err := conn.WritePage("", 1, payload); err != nil {
		t.Fatalf("WritePage failed: %v", err)
	}
	conn.Close()

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile failed: %v", err)
	}
	if bytes.Contains(raw, payload) {
		t.Error("payload found in cleartext on disk")
	}
}

func TestWrongPassphraseFailsOpen(t *testing.T) {
	path := testDBPath(t)
	conn := mustOpen(t, path, WithPassphrase("secret"))
	fillPages(t, conn, "", 1)
	conn.Close()

	_, err := Open(path, WithPassphrase("wrong"), WithLogger(logging.NewNopLogger()))
	if !errors.Is(err, ciphers.ErrAuthenticationFailed) {
		t.Fatalf("expected authentication failure, got %v", err)
	}
}

func TestEncryptedOpenWithoutPassphrase(t *testing.T) {
	path := testDBPath(t)
	conn := mustOpen(t, path, WithPassphrase("secret"))
	conn.Close()

	_, err := Open(path, WithLogger(logging.NewNopLogger()))
	if !errors.Is(err, ErrPassphraseNeeded) {
		t.Fatalf("expected ErrPassphraseNeeded, got %v", err)
	}
}

func TestOpenUnknownCipherInDSN(t *testing.T) {
	path := testDBPath(t)
	_, err := Open("file:"+path+"?cipher=nonsense", WithPassphrase("x"), WithLogger(logging.NewNopLogger()))
	if !errors.Is(err, cipherconfig.ErrUnknownCipher) {
		t.Fatalf("expected ErrUnknownCipher, got %v", err)
	}
}

func TestDSNConfiguresConnectionRegistry(t *testing.T) {
	path := testDBPath(t)
	conn := mustOpen(t, "file:"+path+"?cipher=sqlcipher&legacy=3", WithPassphrase("pw"))
	defer conn.Close()

	_, name := conn.Registry().SelectedCipher()
	if name != "sqlcipher" {
		t.Fatalf("selected cipher = %q, want sqlcipher", name)
	}
	iter, err := conn.Registry().GetCipherParam("sqlcipher", "kdf_iter")
	if err != nil {
		t.Fatalf("GetCipherParam failed: %v", err)
	}
	if iter != 64000 {
		t.Errorf("kdf_iter = %d, want 64000 from sqlcipher generation 3", iter)
	}
}

func TestConnectionScopeIsolation(t *testing.T) {
	p1, p2 := testDBPath(t), filepath.Join(t.TempDir(), "other.db")
	c1 := mustOpen(t, p1)
	defer c1.Close()
	c2 := mustOpen(t, p2)
	defer c2.Close()

	if _, err := c1.Registry().Set("hmac_check", 0); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	v, err := c2.Registry().Get("hmac_check")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if v != 1 {
		t.Errorf("hmac_check leaked across connections: got %d", v)
	}
}

func TestRekeyPlaintextToEncrypted(t *testing.T) {
	path := testDBPath(t)
	conn := mustOpen(t, path)
	pages := fillPages(t, conn, "", 6)

	if err := conn.BeginRekey("", "newsecret"); err != nil {
		t.Fatalf("BeginRekey failed: %v", err)
	}
	// A page written mid-rekey goes down under the new cipher and must
	// still read back before the commit.
	updated := []byte("page 5 rewritten during rekey")
	if err := conn.WritePage("", 5, updated); err != nil {
		t.Fatalf("WritePage during rekey failed: %v", err)
	}
	pages[4] = updated
	checkPages(t, conn, "", pages)

	if err := conn.CommitRekey(""); err != nil {
		t.Fatalf("CommitRekey failed: %v", err)
	}
	checkPages(t, conn, "", pages)
	if enc, _ := conn.IsEncrypted(""); !enc {
		t.Fatal("database should be encrypted after rekey")
	}
	conn.Close()

	conn = mustOpen(t, path, WithPassphrase("newsecret"))
	defer conn.Close()
	checkPages(t, conn, "", pages)
}

func TestRekeyRollbackRestoresOriginal(t *testing.T) {
	path := testDBPath(t)
	conn := mustOpen(t, path)
	pages := fillPages(t, conn, "", 4)

	if err := conn.BeginRekey("", "secret"); err != nil {
		t.Fatalf("BeginRekey failed: %v", err)
	}
	for i := 0; i < 3; i++ {
		if err := conn.WritePage("", uint32(i+1), []byte("scrambled")); err != nil {
			t.Fatalf("WritePage failed: %v", err)
		}
	}
	if err := conn.RollbackRekey(""); err != nil {
		t.Fatalf("RollbackRekey failed: %v", err)
	}
	checkPages(t, conn, "", pages)
	if enc, _ := conn.IsEncrypted(""); enc {
		t.Error("database should still be plaintext after rollback")
	}
	if _, err := os.Stat(journalPath(path)); !os.IsNotExist(err) {
		t.Error("rekey journal not cleaned up after rollback")
	}
	conn.Close()

	conn = mustOpen(t, path)
	defer conn.Close()
	checkPages(t, conn, "", pages)
}

func TestRekeyEncryptedToPlaintext(t *testing.T) {
	path := testDBPath(t)
	conn := mustOpen(t, path, WithPassphrase("secret"))
	pages := fillPages(t, conn, "", 3)

	if err := conn.Rekey("", ""); err != nil {
		t.Fatalf("Rekey to plaintext failed: %v", err)
	}
	if enc, _ := conn.IsEncrypted(""); enc {
		t.Fatal("database should be plaintext after decrypting rekey")
	}
	conn.Close()

	conn = mustOpen(t, path)
	defer conn.Close()
	checkPages(t, conn, "", pages)
}

func TestSaltIsNilDuringRekeyToPlaintext(t *testing.T) {
	path := testDBPath(t)
	conn := mustOpen(t, path, WithPassphrase("secret"))
	defer conn.Close()
	fillPages(t, conn, "", 3)

	if salt := CodecData(conn, "", "cipher_salt"); salt == nil {
		t.Fatal("encrypted database should expose a salt")
	}
	if err := conn.BeginRekey("", ""); err != nil {
		t.Fatalf("BeginRekey failed: %v", err)
	}
	// The write side has no cipher while decrypting, so there is no salt
	// to report.
	if salt := CodecData(conn, "", "cipher_salt"); salt != nil {
		t.Errorf("salt during decrypting rekey = %x, want nil", salt)
	}
	if err := conn.CommitRekey(""); err != nil {
		t.Fatalf("CommitRekey failed: %v", err)
	}
	if salt := CodecData(conn, "", "cipher_salt"); salt != nil {
		t.Errorf("salt after decrypting rekey = %x, want nil", salt)
	}
}

func TestRekeyBetweenCipherFamilies(t *testing.T) {
	path := testDBPath(t)
	conn := mustOpen(t, "file:"+path+"?cipher=aes256cbc", WithPassphrase("old"))
	pages := fillPages(t, conn, "", 5)

	if _, err := conn.Registry().SetCipherByName("sqlcipher", false); err != nil {
		t.Fatalf("SetCipherByName failed: %v", err)
	}
	if err := conn.Rekey("", "new"); err != nil {
		t.Fatalf("Rekey failed: %v", err)
	}
	checkPages(t, conn, "", pages)
	conn.Close()

	conn = mustOpen(t, path, WithPassphrase("new"))
	defer conn.Close()
	checkPages(t, conn, "", pages)
	salt := CodecData(conn, "", "raw:cipher_salt")
	if len(salt) != ciphers.SaltSize {
		t.Errorf("salt length = %d, want %d", len(salt), ciphers.SaltSize)
	}
}

func TestCloseRollsBackPendingRekey(t *testing.T) {
	path := testDBPath(t)
	conn := mustOpen(t, path)
	pages := fillPages(t, conn, "", 3)
	if err := conn.BeginRekey("", "secret"); err != nil {
		t.Fatalf("BeginRekey failed: %v", err)
	}
	if err := conn.WritePage("", 2, []byte("half converted")); err != nil {
		t.Fatalf("WritePage failed: %v", err)
	}
	conn.Close()

	conn = mustOpen(t, path)
	defer conn.Close()
	checkPages(t, conn, "", pages)
}

func TestCodecDataSalt(t *testing.T) {
	path := testDBPath(t)
	conn := mustOpen(t, path, WithPassphrase("secret"))
	defer conn.Close()

	hexSalt := CodecData(conn, "", "cipher_salt")
	if len(hexSalt) != 2*ciphers.SaltSize {
		t.Fatalf("hex salt length = %d, want %d", len(hexSalt), 2*ciphers.SaltSize)
	}
	for _, b := range hexSalt {
		if !((b >= '0' && b <= '9') || (b >= 'a' && b <= 'f')) {
			t.Fatalf("hex salt contains non lowercase-hex byte %q", b)
		}
	}
	raw := CodecData(conn, "", "raw:cipher_salt")
	if len(raw) != ciphers.SaltSize {
		t.Fatalf("raw salt length = %d, want %d", len(raw), ciphers.SaltSize)
	}
	if CodecData(conn, "", "no_such_param") != nil {
		t.Error("unknown provenance parameter should return nil")
	}
	if CodecData(conn, "nosuchschema", "cipher_salt") != nil {
		t.Error("unknown schema should return nil")
	}
}

func TestCodecDataPlaintextIsNil(t *testing.T) {
	conn := mustOpen(t, testDBPath(t))
	defer conn.Close()
	if CodecData(conn, "", "cipher_salt") != nil {
		t.Error("plaintext database should have no salt")
	}
}

func TestAttachDetach(t *testing.T) {
	dir := t.TempDir()
	conn := mustOpen(t, filepath.Join(dir, "main.db"))
	defer conn.Close()

	auxPath := filepath.Join(dir, "aux.db")
	if err := conn.Attach("aux", auxPath, WithPassphrase("auxsecret")); err != nil {
		t.Fatalf("Attach failed: %v", err)
	}
	pages := fillPages(t, conn, "aux", 2)
	checkPages(t, conn, "aux", pages)

	if enc, _ := conn.IsEncrypted("aux"); !enc {
		t.Error("attached database should be encrypted")
	}
	if enc, _ := conn.IsEncrypted(""); enc {
		t.Error("main database should be plaintext")
	}

	if err := conn.Detach("aux"); err != nil {
		t.Fatalf("Detach failed: %v", err)
	}
	if _, err := conn.ReadPage("aux", 1); !errors.Is(err, ErrUnknownSchema) {
		t.Errorf("expected ErrUnknownSchema after detach, got %v", err)
	}
	if err := conn.Detach("main"); err == nil {
		t.Error("detaching main should fail")
	}
}

func TestConfigProgrammaticAPI(t *testing.T) {
	conn := mustOpen(t, testDBPath(t))
	defer conn.Close()

	if got := Config(conn, "hmac_check", -1); got != 1 {
		t.Errorf("hmac_check = %d, want 1", got)
	}
	if got := Config(conn, "hmac_check", 0); got != 0 {
		t.Errorf("set hmac_check returned %d, want 0", got)
	}
	if got := Config(conn, "no_such_param", -1); got != -1 {
		t.Errorf("unknown parameter should return -1, got %d", got)
	}
	// Out of range updates are rejected with the sentinel.
	if got := Config(conn, "cipher", 99); got != -1 {
		t.Errorf("out of range cipher index should return -1, got %d", got)
	}
	if got := ConfigCipher(conn, "sqlcipher", "kdf_iter", 12000); got != 12000 {
		t.Errorf("ConfigCipher set returned %d, want 12000", got)
	}
	if got := ConfigCipher(conn, "nonsense", "kdf_iter", -1); got != -1 {
		t.Errorf("unknown cipher should return -1, got %d", got)
	}
}

func TestPageBoundsAndSizing(t *testing.T) {
	conn := mustOpen(t, testDBPath(t))
	defer conn.Close()

	usable, err := conn.UsablePageSize("")
	if err != nil {
		t.Fatalf("UsablePageSize failed: %v", err)
	}
	if usable != DefaultPageSize-reserveBytes {
		t.Errorf("usable = %d, want %d", usable, DefaultPageSize-reserveBytes)
	}
	if err := conn.WritePage("", 1, make([]byte, usable+1)); !errors.Is(err, ErrPageTooLarge) {
		t.Errorf("oversized write: got %v, want ErrPageTooLarge", err)
	}
	if err := conn.WritePage("", 0, []byte("x")); !errors.Is(err, ErrPageOutOfRange) {
		t.Errorf("page 0 write: got %v, want ErrPageOutOfRange", err)
	}
	if err := conn.WritePage("", 5, []byte("x")); !errors.Is(err, ErrPageOutOfRange) {
		t.Errorf("sparse write: got %v, want ErrPageOutOfRange", err)
	}
	if _, err := conn.ReadPage("", 1); !errors.Is(err, ErrPageOutOfRange) {
		t.Errorf("read past end: got %v, want ErrPageOutOfRange", err)
	}
}

func TestHeaderRoundTrip(t *testing.T) {
	h := &fileHeader{
		salt:      bytes.Repeat([]byte{0xab}, ciphers.SaltSize),
		pageSize:  DefaultPageSize,
		pageCount: 17,
		encrypted: true,
		cipher:    "chacha20",
		params:    map[string]int{"kdf_iter": 64007, "legacy": 0},
	}
	page, err := h.marshal()
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}
	if len(page) != DefaultPageSize {
		t.Fatalf("header page length = %d, want %d", len(page), DefaultPageSize)
	}
	got, err := parseHeader(page)
	if err != nil {
		t.Fatalf("parseHeader failed: %v", err)
	}
	if !bytes.Equal(got.salt, h.salt) || got.pageCount != 17 || got.cipher != "chacha20" {
		t.Errorf("header mismatch: %+v", got)
	}
	if got.params["kdf_iter"] != 64007 {
		t.Errorf("kdf_iter = %d, want 64007", got.params["kdf_iter"])
	}

	page[ciphers.SaltSize+10] ^= 0xff
	if _, err := parseHeader(page); err == nil {
		t.Error("corrupted header should fail to parse")
	}
}

func TestHMACCheckToggleAllowsDamagedRead(t *testing.T) {
	path := testDBPath(t)
	conn := mustOpen(t, "file:"+path+"?cipher=sqlcipher", WithPassphrase("secret"))
	defer conn.Close()
	fillPages(t, conn, "", 2)

	// Corrupt page 2's stored tag on disk.
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		t.Fatalf("reopen file: %v", err)
	}
	// Tag lives in the reserved region at the very end of the page.
	if _, err := f.WriteAt([]byte{0xff, 0xff, 0xff, 0xff}, int64(3*DefaultPageSize)-8); err != nil {
		t.Fatalf("corrupt page: %v", err)
	}
	f.Close()

	if _, err := conn.ReadPage("", 2); !errors.Is(err, ciphers.ErrAuthenticationFailed) {
		t.Fatalf("expected authentication failure, got %v", err)
	}
	if _, err := conn.Registry().Set("hmac_check", 0); err != nil {
		t.Fatalf("Set hmac_check failed: %v", err)
	}
	if _, err := conn.ReadPage("", 2); err != nil {
		t.Errorf("read with hmac_check off should succeed, got %v", err)
	}
}
