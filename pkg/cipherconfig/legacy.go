package cipherconfig

import (
	"fmt"

	"github.com/dd0wney/cluso-pagecrypt/pkg/logging"
)

// SQLCipherVersionMax is the highest supported legacy on-disk generation
// of the sqlcipher family.
const SQLCipherVersionMax = 4

// legacyBundle is the fixed parameter bundle of one historical sqlcipher
// generation. The values reproduce the original extension's formats
// exactly and must not be adjusted.
type legacyBundle struct {
	pageSize    int
	kdfIter     int
	fastKdfIter int
	hmacUse     int
	kdfAlgo     int
	hmacAlgo    int
}

var sqlcipherVersions = [SQLCipherVersionMax + 1]legacyBundle{
	1: {pageSize: 1024, kdfIter: 4000, fastKdfIter: 2, hmacUse: 0, kdfAlgo: AlgoSHA1, hmacAlgo: AlgoSHA1},
	2: {pageSize: 1024, kdfIter: 4000, fastKdfIter: 2, hmacUse: 1, kdfAlgo: AlgoSHA1, hmacAlgo: AlgoSHA1},
	3: {pageSize: 1024, kdfIter: 64000, fastKdfIter: 2, hmacUse: 1, kdfAlgo: AlgoSHA1, hmacAlgo: AlgoSHA1},
	4: {pageSize: 4096, kdfIter: 256000, fastKdfIter: 2, hmacUse: 1, kdfAlgo: AlgoSHA512, hmacAlgo: AlgoSHA512},
}

// legacyGoverned lists the sqlcipher parameters the version mapper owns.
// Connection-string auto-configuration skips these keys when a valid
// legacy version was applied, so the bundle wins over individual keys.
var legacyGoverned = map[string]bool{
	"legacy":           true,
	"legacy_page_size": true,
	"kdf_iter":         true,
	"fast_kdf_iter":    true,
	"hmac_use":         true,
	"hmac_pgno":        true,
	"hmac_salt_mask":   true,
	"kdf_algorithm":    true,
	"hmac_algorithm":   true,
}

// ApplySQLCipherVersion sets the sqlcipher family's parameters to the
// exact historical values of the given legacy generation, as one unit
// under a single lock acquisition. An out-of-range version mutates
// nothing.
func (r *Registry) ApplySQLCipherVersion(version int, asDefault bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.applySQLCipherVersionLocked(version, asDefault); err != nil {
		mtr.RecordConfigRejection("legacy_version")
		logger.Warn("legacy version rejected", logging.Int("version", version), logging.Error(err))
		return err
	}
	mtr.RecordConfigUpdate(r.scope())
	return nil
}

func (r *Registry) applySQLCipherVersionLocked(version int, asDefault bool) error {
	if version < 1 || version > SQLCipherVersionMax {
		return fmt.Errorf("%w: %d not in [1..%d]", ErrLegacyVersion, version, SQLCipherVersionMax)
	}

	cd := r.cipherByName("sqlcipher")
	if cd == nil {
		return fmt.Errorf("%w: %q", ErrUnknownCipher, "sqlcipher")
	}

	b := sqlcipherVersions[version]
	for _, p := range []struct {
		name  string
		value int
	}{
		{"legacy", version},
		{"legacy_page_size", b.pageSize},
		{"kdf_iter", b.kdfIter},
		{"fast_kdf_iter", b.fastKdfIter},
		{"hmac_use", b.hmacUse},
		{"hmac_pgno", 1},
		{"hmac_salt_mask", 0x3a},
		{"kdf_algorithm", b.kdfAlgo},
		{"hmac_algorithm", b.hmacAlgo},
	} {
		a := Addr{Name: p.name, HasDefault: asDefault}
		if _, err := cd.params.set(a, p.value, false); err != nil {
			// Bundle values are within the fixed table ranges; a failure
			// here is a programming error in the tables above.
			return err
		}
	}
	return nil
}
