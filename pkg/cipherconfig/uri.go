package cipherconfig

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/dd0wney/cluso-pagecrypt/pkg/logging"
)

// ParseDSN splits a storage locator into a file path and its query
// parameters. Both plain paths and file: URIs are accepted; a locator
// without a query configures nothing.
func ParseDSN(dsn string) (string, url.Values, error) {
	rest := strings.TrimPrefix(dsn, "file:")

	path := rest
	query := url.Values{}
	if i := strings.IndexByte(rest, '?'); i >= 0 {
		path = rest[:i]
		q, err := url.ParseQuery(rest[i+1:])
		if err != nil {
			return "", nil, fmt.Errorf("invalid connection string: %w", err)
		}
		query = q
	}
	return path, query, nil
}

// AutoConfigure applies the connection-string parameters to the registry.
// Without a "cipher" key nothing is configured and nil is returned. An
// unknown cipher name is the one hard failure: the connection cannot
// encrypt correctly without a resolvable cipher. Every other invalid
// value is logged and skipped.
//
// asDefault selects whether values land in the default slots (configuring
// future attachments) or the current slots (configuring this attachment).
func AutoConfigure(r *Registry, query url.Values, asDefault bool) error {
	cipherName := query.Get("cipher")
	if cipherName == "" {
		return nil
	}

	idx, ok := r.CipherIndex(cipherName)
	if !ok {
		mtr.RecordURIError()
		logger.Warn("unknown cipher in connection string", logging.Cipher(cipherName))
		return fmt.Errorf("%w: %q", ErrUnknownCipher, cipherName)
	}
	canonical, _ := r.CipherName(idx)

	if asDefault {
		r.Set("default:"+ParamCipher, idx)
	} else {
		r.Set(ParamCipher, idx)
	}

	if !boolOption(query, ParamHMACCheck, true) {
		r.Set(ParamHMACCheck, 0)
	}

	// The sqlcipher legacy version maps to a whole parameter bundle and
	// wins over any individually-specified key it governs.
	legacyApplied := false
	if strings.EqualFold(canonical, "sqlcipher") {
		if v, ok := intOption(query, "legacy"); ok && v > 0 {
			if err := r.ApplySQLCipherVersion(v, asDefault); err == nil {
				legacyApplied = true
			}
		}
	}

	names, _ := r.ParamNames(canonical)
	for _, name := range names {
		if legacyApplied && legacyGoverned[strings.ToLower(name)] {
			continue
		}
		v, ok := intOption(query, name)
		if !ok || v < 0 {
			continue
		}
		addr := name
		if asDefault {
			addr = "default:" + name
		}
		// Range violations are already logged by SetCipherParam and do
		// not abort configuration of the remaining keys.
		r.SetCipherParam(canonical, addr, v)
	}
	return nil
}

// ConfigureFromDSN parses dsn and applies its parameters, returning the
// bare file path.
func ConfigureFromDSN(r *Registry, dsn string, asDefault bool) (string, error) {
	path, query, err := ParseDSN(dsn)
	if err != nil {
		return "", err
	}
	if err := AutoConfigure(r, query, asDefault); err != nil {
		return "", err
	}
	return path, nil
}

// intOption returns the named query parameter as an integer. Unparsable
// values count as absent, matching the original extension's treatment of
// non-numeric URI values.
func intOption(query url.Values, name string) (int, bool) {
	s := query.Get(name)
	if s == "" {
		return 0, false
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return 0, false
	}
	return v, true
}

// boolOption parses the named query parameter as a boolean the way SQLite
// parses URI booleans: on/off, yes/no, true/false (case-insensitive) or
// any integer, where nonzero means true.
func boolOption(query url.Values, name string, dflt bool) bool {
	s := query.Get(name)
	if s == "" {
		return dflt
	}
	switch strings.ToLower(s) {
	case "on", "yes", "true":
		return true
	case "off", "no", "false":
		return false
	}
	if v, err := strconv.Atoi(s); err == nil {
		return v != 0
	}
	return dflt
}
