package cipherconfig

import (
	"errors"
	"os"
	"sync"
	"testing"

	"github.com/dd0wney/cluso-pagecrypt/pkg/logging"
)

func TestMain(m *testing.M) {
	SetLogger(logging.NewNopLogger())
	os.Exit(m.Run())
}

func TestDefaults(t *testing.T) {
	r := NewRegistry()

	idx, name := r.SelectedCipher()
	if idx != CipherChaCha20 || name != "chacha20" {
		t.Errorf("selected cipher = (%d, %q), want (%d, chacha20)", idx, name, CipherChaCha20)
	}
	v, err := r.Get(ParamHMACCheck)
	if err != nil || v != 1 {
		t.Errorf("hmac_check = (%d, %v), want 1", v, err)
	}
}

func TestSetUpdatesCurrentOnly(t *testing.T) {
	r := NewRegistry()

	if _, err := r.Set(ParamCipher, CipherSQLCipher); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	cur, _ := r.Get(ParamCipher)
	dflt, _ := r.Get("default:" + ParamCipher)
	if cur != CipherSQLCipher || dflt != CipherChaCha20 {
		t.Errorf("current = %d, default = %d; want %d and untouched %d",
			cur, dflt, CipherSQLCipher, CipherChaCha20)
	}
}

func TestDefaultWriteUpdatesBothSlots(t *testing.T) {
	r := NewRegistry()

	if _, err := r.Set("default:"+ParamCipher, CipherRC4); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	cur, _ := r.Get(ParamCipher)
	dflt, _ := r.Get("default:" + ParamCipher)
	if cur != CipherRC4 || dflt != CipherRC4 {
		t.Errorf("current = %d, default = %d; want both %d", cur, dflt, CipherRC4)
	}
}

func TestHMACCheckDefaultIsPinned(t *testing.T) {
	r := NewRegistry()

	// A default-addressed write still updates the current value, but the
	// stored default never moves.
	v, err := r.Set("default:"+ParamHMACCheck, 0)
	if err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if v != 0 {
		t.Errorf("returned value = %d, want 0", v)
	}
	cur, _ := r.Get(ParamHMACCheck)
	dflt, _ := r.Get("default:" + ParamHMACCheck)
	if cur != 0 {
		t.Errorf("current = %d, want 0", cur)
	}
	if dflt != 1 {
		t.Errorf("default = %d, want pinned 1", dflt)
	}
}

func TestRangeViolationLeavesValueUnchanged(t *testing.T) {
	r := NewRegistry()

	before, _ := r.Get(ParamCipher)
	v, err := r.Set(ParamCipher, 99)
	if !errors.Is(err, ErrValueOutOfRange) {
		t.Fatalf("expected ErrValueOutOfRange, got %v", err)
	}
	if v != -1 {
		t.Errorf("failure sentinel = %d, want -1", v)
	}
	after, _ := r.Get(ParamCipher)
	if after != before {
		t.Errorf("value changed on rejected update: %d -> %d", before, after)
	}
}

func TestMinMaxAddressDegradesToRead(t *testing.T) {
	r := NewRegistry()

	v, err := r.Set("min:"+ParamCipher, 42)
	if err != nil {
		t.Fatalf("min-addressed set should not error: %v", err)
	}
	if v != 1 {
		t.Errorf("min bound = %d, want 1", v)
	}
	v, err = r.Set("max:"+ParamCipher, 42)
	if err != nil || v != 5 {
		t.Errorf("max bound = (%d, %v), want 5", v, err)
	}
	cur, _ := r.Get(ParamCipher)
	if cur != CipherChaCha20 {
		t.Errorf("value mutated by bound-addressed write: %d", cur)
	}
}

func TestUnknownNames(t *testing.T) {
	r := NewRegistry()

	if _, err := r.Get("no_such"); !errors.Is(err, ErrUnknownParameter) {
		t.Errorf("Get unknown: %v", err)
	}
	if _, err := r.Set("no_such", 1); !errors.Is(err, ErrUnknownParameter) {
		t.Errorf("Set unknown: %v", err)
	}
	if _, err := r.GetCipherParam("nonsense", "kdf_iter"); !errors.Is(err, ErrUnknownCipher) {
		t.Errorf("GetCipherParam unknown cipher: %v", err)
	}
	if _, err := r.GetCipherParam("chacha20", "hmac_use"); !errors.Is(err, ErrUnknownParameter) {
		t.Errorf("GetCipherParam unknown param: %v", err)
	}
}

func TestCaseInsensitiveLookup(t *testing.T) {
	r := NewRegistry()

	if _, err := r.Get("HMAC_CHECK"); err != nil {
		t.Errorf("upper-case lookup failed: %v", err)
	}
	if _, err := r.GetCipherParam("SQLCipher", "KDF_Iter"); err != nil {
		t.Errorf("mixed-case cipher param lookup failed: %v", err)
	}
}

func TestCipherCatalogIndexing(t *testing.T) {
	r := NewRegistry()

	names := r.CipherNames()
	want := []string{"aes128cbc", "aes256cbc", "chacha20", "sqlcipher", "rc4"}
	if len(names) != len(want) {
		t.Fatalf("catalog length = %d, want %d", len(names), len(want))
	}
	for i, n := range want {
		if names[i] != n {
			t.Errorf("catalog[%d] = %q, want %q", i, names[i], n)
		}
		idx, ok := r.CipherIndex(n)
		if !ok || idx != i+1 {
			t.Errorf("CipherIndex(%q) = (%d, %v), want %d", n, idx, ok, i+1)
		}
		back, ok := r.CipherName(i + 1)
		if !ok || back != n {
			t.Errorf("CipherName(%d) = (%q, %v), want %q", i+1, back, ok, n)
		}
	}
	if _, ok := r.CipherName(0); ok {
		t.Error("index 0 should not resolve; the catalog is 1-based")
	}
	if _, ok := r.CipherName(len(want) + 1); ok {
		t.Error("index past the catalog end should not resolve")
	}
}

func TestSetCipherByName(t *testing.T) {
	r := NewRegistry()

	idx, err := r.SetCipherByName("sqlcipher", false)
	if err != nil || idx != CipherSQLCipher {
		t.Fatalf("SetCipherByName = (%d, %v)", idx, err)
	}
	if _, name := r.SelectedCipher(); name != "sqlcipher" {
		t.Errorf("selected = %q, want sqlcipher", name)
	}
	before, _ := r.Get(ParamCipher)
	if _, err := r.SetCipherByName("nonsense", false); !errors.Is(err, ErrUnknownCipher) {
		t.Errorf("expected ErrUnknownCipher, got %v", err)
	}
	if after, _ := r.Get(ParamCipher); after != before {
		t.Error("rejected name mutated the selector")
	}
}

func TestGlobalScopeRejectsCurrentWrites(t *testing.T) {
	g := newBuiltinRegistry()
	g.global = true

	if _, err := g.Set(ParamHMACCheck, 0); !errors.Is(err, ErrGlobalScope) {
		t.Errorf("global current write: got %v, want ErrGlobalScope", err)
	}
	if _, err := g.SetCipherParam("chacha20", "kdf_iter", 1000); !errors.Is(err, ErrGlobalScope) {
		t.Errorf("global cipher current write: got %v, want ErrGlobalScope", err)
	}
	// Default-scope writes and all reads stay available.
	if _, err := g.Set("default:"+ParamCipher, CipherAES256CBC); err != nil {
		t.Errorf("global default write failed: %v", err)
	}
	if _, err := g.SetCipherParam("chacha20", "default:kdf_iter", 100000); err != nil {
		t.Errorf("global cipher default write failed: %v", err)
	}
	if v, err := g.Get(ParamCipher); err != nil || v != CipherAES256CBC {
		t.Errorf("global read = (%d, %v)", v, err)
	}
}

func TestCloneIsolation(t *testing.T) {
	g := newBuiltinRegistry()
	g.global = true
	if _, err := g.Set("default:"+ParamCipher, CipherSQLCipher); err != nil {
		t.Fatalf("seed default failed: %v", err)
	}

	c1 := g.Clone()
	c2 := g.Clone()

	// Clones start from the source's defaults and are connection-scoped.
	if _, name := c1.SelectedCipher(); name != "sqlcipher" {
		t.Errorf("clone selected = %q, want sqlcipher", name)
	}
	if _, err := c1.Set(ParamCipher, CipherRC4); err != nil {
		t.Fatalf("clone current write failed: %v", err)
	}
	if _, name := c2.SelectedCipher(); name != "sqlcipher" {
		t.Error("mutation of one clone leaked into a sibling")
	}
	if _, name := g.SelectedCipher(); name != "sqlcipher" {
		t.Error("mutation of a clone leaked into the source")
	}

	// And later source mutations never reach existing clones.
	if _, err := g.Set("default:"+ParamCipher, CipherAES128CBC); err != nil {
		t.Fatalf("source default write failed: %v", err)
	}
	if _, name := c2.SelectedCipher(); name != "sqlcipher" {
		t.Error("source mutation leaked into an existing clone")
	}
}

func TestSelectedSnapshot(t *testing.T) {
	r := NewRegistry()
	if _, err := r.SetCipherByName("sqlcipher", false); err != nil {
		t.Fatal(err)
	}
	if _, err := r.Set(ParamHMACCheck, 0); err != nil {
		t.Fatal(err)
	}

	name, params, hmacCheck := r.SelectedSnapshot()
	if name != "sqlcipher" {
		t.Errorf("name = %q", name)
	}
	if hmacCheck {
		t.Error("hmacCheck should be false")
	}
	if params["kdf_iter"] != 256000 {
		t.Errorf("kdf_iter = %d, want 256000", params["kdf_iter"])
	}
	// The snapshot is a copy; mutating it must not touch the registry.
	params["kdf_iter"] = 1
	if v, _ := r.GetCipherParam("sqlcipher", "kdf_iter"); v != 256000 {
		t.Error("snapshot mutation reached the registry")
	}
}

func TestConcurrentAccess(t *testing.T) {
	r := NewRegistry()
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				r.Set(ParamCipher, 1+(n+j)%5)
				v, err := r.Get(ParamCipher)
				if err != nil || v < 1 || v > 5 {
					t.Errorf("torn read: (%d, %v)", v, err)
					return
				}
				r.SelectedSnapshot()
				r.GetCipherParam("sqlcipher", "kdf_iter")
			}
		}(i)
	}
	wg.Wait()
}
