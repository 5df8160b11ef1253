package codec

import (
	"encoding/hex"
	"strings"

	"github.com/dd0wney/cluso-pagecrypt/pkg/cipherconfig"
)

// Config reads or updates a common configuration parameter. A nil
// connection addresses the global registry, where only default-prefixed
// names are writable. newValue < 0 reads; newValue >= 0 attempts an
// update and returns the stored value afterwards, or -1 when the update
// was rejected. Use the registry methods directly when the error cause
// matters.
func Config(conn *Connection, paramName string, newValue int) int {
	r := registryFor(conn)
	if newValue < 0 {
		v, err := r.Get(paramName)
		if err != nil {
			return -1
		}
		return v
	}
	v, err := r.Set(paramName, newValue)
	if err != nil {
		return -1
	}
	return v
}

// ConfigCipher reads or updates a parameter of the named cipher family,
// with the same value conventions as Config.
func ConfigCipher(conn *Connection, cipherName, paramName string, newValue int) int {
	r := registryFor(conn)
	if newValue < 0 {
		v, err := r.GetCipherParam(cipherName, paramName)
		if err != nil {
			return -1
		}
		return v
	}
	v, err := r.SetCipherParam(cipherName, paramName, newValue)
	if err != nil {
		return -1
	}
	return v
}

func registryFor(conn *Connection) *cipherconfig.Registry {
	if conn == nil {
		return cipherconfig.Global()
	}
	return conn.registry
}

// CodecData returns codec provenance for a schema of the connection.
// "cipher_salt" yields the salt as lowercase hex; the "raw:" prefix
// ("raw:cipher_salt") yields the raw bytes. Returns nil for plaintext
// databases, unknown schemas and unknown parameter names.
func CodecData(conn *Connection, schema, paramName string) []byte {
	if conn == nil {
		return nil
	}
	conn.mu.Lock()
	defer conn.mu.Unlock()

	raw := false
	if rest, ok := strings.CutPrefix(paramName, "raw:"); ok {
		raw = true
		paramName = rest
	}
	if paramName != "cipher_salt" {
		return nil
	}
	df, err := conn.file(schema)
	if err != nil {
		return nil
	}
	salt := df.codec.Salt()
	if salt == nil {
		return nil
	}
	if raw {
		return append([]byte(nil), salt...)
	}
	return []byte(hex.EncodeToString(salt))
}
