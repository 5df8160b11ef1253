package cipherconfig

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/dd0wney/cluso-pagecrypt/pkg/logging"
	"github.com/dd0wney/cluso-pagecrypt/pkg/metrics"
)

var (
	ErrUnknownParameter = fmt.Errorf("unknown parameter")
	ErrUnknownCipher    = fmt.Errorf("unknown cipher")
	ErrValueOutOfRange  = fmt.Errorf("value out of range")
	ErrGlobalScope      = fmt.Errorf("current-value mutation requires a connection")
	ErrLegacyVersion    = fmt.Errorf("legacy version out of range")
)

// logger receives one warning per rejected configuration attempt. The
// channel is advisory; callers still get the error.
var (
	logger logging.Logger = logging.NewDefaultLogger()
	mtr                   = metrics.DefaultRegistry()
)

// SetLogger replaces the diagnostic logger for this package.
func SetLogger(l logging.Logger) {
	logger = l
}

// Registry is one cipher catalog plus the common parameter table. The
// process-wide instance returned by Global seeds a value copy for every
// new connection; per-connection instances are created with Clone.
//
// Every public accessor holds the registry lock for the entire
// resolve-validate-write sequence, so a concurrent reader observes either
// the fully-old or the fully-new (value, default) pair, never a mix.
type Registry struct {
	mu      sync.RWMutex
	global  bool
	common  *Table
	ciphers []cipherDef
}

var (
	globalRegistry *Registry
	globalOnce     sync.Once
)

// Global returns the process-wide registry, constructed once with the
// built-in defaults. Default-value mutations to it seed future
// per-connection registries; current-value mutations are rejected because
// a current value has no meaning without a connection.
func Global() *Registry {
	globalOnce.Do(func() {
		globalRegistry = newBuiltinRegistry()
		globalRegistry.global = true
	})
	return globalRegistry
}

// NewRegistry returns a fresh connection-scoped registry with the built-in
// defaults, independent of the global instance. Connections normally use
// Global().Clone() instead; this constructor exists for embedders that
// want full isolation.
func NewRegistry() *Registry {
	return newBuiltinRegistry()
}

func newBuiltinRegistry() *Registry {
	return &Registry{
		common:  builtinCommon(),
		ciphers: builtinCiphers(),
	}
}

// Clone returns a connection-scoped value copy of the registry. Later
// mutations of the source are invisible to the clone and vice versa.
func (r *Registry) Clone() *Registry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := &Registry{
		common:  r.common.clone(),
		ciphers: make([]cipherDef, len(r.ciphers)),
	}
	for i, cd := range r.ciphers {
		out.ciphers[i] = cipherDef{name: cd.name, params: cd.params.clone()}
	}
	return out
}

func (r *Registry) scope() string {
	if r.global {
		return "global"
	}
	return "connection"
}

// Get resolves rawName against the common parameter table and returns the
// addressed slot (current, default, min or max).
func (r *Registry) Get(rawName string) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.common.get(ParseAddr(rawName))
}

// Set resolves rawName against the common parameter table and writes
// value. The write is accepted only inside [min, max]; a min:/max:
// address degrades to a read of that bound. The default of hmac_check is
// pinned: default:-addressed writes update only its current value.
func (r *Registry) Set(rawName string, value int) (int, error) {
	a := ParseAddr(rawName)

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.global && a.Writable() && !a.HasDefault {
		mtr.RecordConfigRejection("scope")
		logger.Warn("global current-value mutation rejected", logging.ParamName(a.Name))
		return -1, fmt.Errorf("%w: %q", ErrGlobalScope, a.Name)
	}

	pin := a.HasDefault && strings.EqualFold(a.Name, ParamHMACCheck)
	v, err := r.common.set(a, value, pin)
	if err != nil {
		mtr.RecordConfigRejection(rejectionReason(err))
		logger.Warn("parameter update rejected",
			logging.ParamName(a.Name), logging.Int("value", value), logging.Error(err))
		return -1, err
	}
	if a.Writable() {
		mtr.RecordConfigUpdate(r.scope())
	}
	return v, nil
}

// GetCipherParam resolves rawName against the named cipher's parameter
// table and returns the addressed slot.
func (r *Registry) GetCipherParam(cipherName, rawName string) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	cd := r.cipherByName(cipherName)
	if cd == nil {
		return -1, fmt.Errorf("%w: %q", ErrUnknownCipher, cipherName)
	}
	return cd.params.get(ParseAddr(rawName))
}

// SetCipherParam resolves rawName against the named cipher's parameter
// table and writes value, under the same range rules as Set. Writing the
// sqlcipher family's legacy parameter applies the whole historical bundle
// for that generation as one unit.
func (r *Registry) SetCipherParam(cipherName, rawName string, value int) (int, error) {
	a := ParseAddr(rawName)

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.global && a.Writable() && !a.HasDefault {
		mtr.RecordConfigRejection("scope")
		logger.Warn("global current-value mutation rejected",
			logging.Cipher(cipherName), logging.ParamName(a.Name))
		return -1, fmt.Errorf("%w: %q", ErrGlobalScope, a.Name)
	}

	cd := r.cipherByName(cipherName)
	if cd == nil {
		mtr.RecordConfigRejection("unknown_cipher")
		logger.Warn("unknown cipher", logging.Cipher(cipherName), logging.ParamName(a.Name))
		return -1, fmt.Errorf("%w: %q", ErrUnknownCipher, cipherName)
	}

	if strings.EqualFold(cd.name, "sqlcipher") && strings.EqualFold(a.Name, "legacy") && a.Writable() {
		if err := r.applySQLCipherVersionLocked(value, a.HasDefault); err != nil {
			mtr.RecordConfigRejection("legacy_version")
			logger.Warn("legacy version rejected", logging.Int("version", value), logging.Error(err))
			return -1, err
		}
		mtr.RecordConfigUpdate(r.scope())
		return value, nil
	}

	v, err := cd.params.set(a, value, false)
	if err != nil {
		mtr.RecordConfigRejection(rejectionReason(err))
		logger.Warn("cipher parameter update rejected", logging.Cipher(cd.name),
			logging.ParamName(a.Name), logging.Int("value", value), logging.Error(err))
		return -1, err
	}
	if a.Writable() {
		mtr.RecordConfigUpdate(r.scope())
	}
	return v, nil
}

// CipherNames returns the catalog entries in canonical order.
func (r *Registry) CipherNames() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]string, len(r.ciphers))
	for i, cd := range r.ciphers {
		out[i] = cd.name
	}
	return out
}

// CipherIndex translates a cipher name to its 1-based catalog index.
func (r *Registry) CipherIndex(name string) (int, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for i, cd := range r.ciphers {
		if strings.EqualFold(cd.name, name) {
			return i + 1, true
		}
	}
	return 0, false
}

// CipherName translates a 1-based catalog index to the cipher name.
func (r *Registry) CipherName(index int) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if index < 1 || index > len(r.ciphers) {
		return "", false
	}
	return r.ciphers[index-1].name, true
}

// ParamNames returns the named cipher's parameter names in table order.
func (r *Registry) ParamNames(cipherName string) ([]string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	cd := r.cipherByName(cipherName)
	if cd == nil {
		return nil, false
	}
	return cd.params.names(), true
}

// IsCommonParam reports whether the bare name of rawName addresses a
// common parameter.
func (r *Registry) IsCommonParam(rawName string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.common.lookup(ParseAddr(rawName).Name) >= 0
}

// SelectedCipher returns the current value of the cipher selector and the
// catalog name it denotes.
func (r *Registry) SelectedCipher() (int, string) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	v, err := r.common.get(Addr{Name: ParamCipher})
	if err != nil || v < 1 || v > len(r.ciphers) {
		return 0, ""
	}
	return v, r.ciphers[v-1].name
}

// SetCipherByName resolves name against the catalog and stores its index
// in the cipher selector. Unresolved names are rejected without mutation.
// Returns the stored catalog index.
func (r *Registry) SetCipherByName(name string, asDefault bool) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	idx := 0
	for i, cd := range r.ciphers {
		if strings.EqualFold(cd.name, name) {
			idx = i + 1
			break
		}
	}
	if idx == 0 {
		mtr.RecordConfigRejection("unknown_cipher")
		logger.Warn("unknown cipher", logging.Cipher(name))
		return -1, fmt.Errorf("%w: %q", ErrUnknownCipher, name)
	}

	a := Addr{Name: ParamCipher, HasDefault: asDefault}
	if _, err := r.common.set(a, idx, false); err != nil {
		return -1, err
	}
	mtr.RecordConfigUpdate(r.scope())
	return idx, nil
}

// CipherSnapshot returns a copy of the named cipher's current parameter
// values, for constructing a cipher state outside the registry lock.
func (r *Registry) CipherSnapshot(cipherName string) (map[string]int, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	cd := r.cipherByName(cipherName)
	if cd == nil {
		return nil, false
	}
	return cd.params.snapshot(), true
}

// SelectedSnapshot returns the currently selected cipher's name and a
// copy of its parameter values, plus the hmac_check flag, taken under one
// lock acquisition.
func (r *Registry) SelectedSnapshot() (string, map[string]int, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	v, err := r.common.get(Addr{Name: ParamCipher})
	if err != nil || v < 1 || v > len(r.ciphers) {
		return "", nil, true
	}
	hc, _ := r.common.get(Addr{Name: ParamHMACCheck})
	cd := r.ciphers[v-1]
	return cd.name, cd.params.snapshot(), hc != 0
}

// cipherByName returns the catalog entry for name, or nil. Caller holds
// the lock.
func (r *Registry) cipherByName(name string) *cipherDef {
	for i := range r.ciphers {
		if strings.EqualFold(r.ciphers[i].name, name) {
			return &r.ciphers[i]
		}
	}
	return nil
}

func rejectionReason(err error) string {
	switch {
	case errors.Is(err, ErrValueOutOfRange):
		return "range"
	case errors.Is(err, ErrUnknownParameter):
		return "unknown_parameter"
	default:
		return "other"
	}
}
