package cipherconfig

import (
	"fmt"
	"os"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/dd0wney/cluso-pagecrypt/pkg/logging"
)

// Defaults is the YAML shape of a global-defaults file:
//
//	cipher: chacha20
//	hmac_check: true
//	ciphers:
//	  chacha20:
//	    kdf_iter: 200000
//	  sqlcipher:
//	    legacy: 4
type Defaults struct {
	Cipher    string                    `yaml:"cipher" validate:"omitempty,printascii"`
	HMACCheck *bool                     `yaml:"hmac_check"`
	Ciphers   map[string]map[string]int `yaml:"ciphers" validate:"omitempty,dive,keys,printascii,endkeys,required"`
}

var validate = validator.New()

// LoadDefaults reads a YAML defaults file and applies it to the global
// registry as default-scope writes, under the same range and pin rules as
// any other mutation path.
func LoadDefaults(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read defaults file: %w", err)
	}

	var d Defaults
	if err := yaml.Unmarshal(data, &d); err != nil {
		return fmt.Errorf("failed to parse defaults file: %w", err)
	}
	return ApplyDefaults(Global(), &d)
}

// ApplyDefaults applies a parsed defaults document to a registry. An
// unknown cipher name fails hard, mirroring connection-string
// auto-configuration; individual out-of-range values are logged and
// skipped.
func ApplyDefaults(r *Registry, d *Defaults) error {
	if err := validate.Struct(d); err != nil {
		return fmt.Errorf("invalid defaults document: %w", err)
	}

	if d.Cipher != "" {
		if _, err := r.SetCipherByName(d.Cipher, true); err != nil {
			return err
		}
	}

	// The hmac_check default is pinned; only the explicit false case is
	// applied, and only to the current value.
	if d.HMACCheck != nil && !*d.HMACCheck && !r.global {
		r.Set(ParamHMACCheck, 0)
	}

	for cipherName, params := range d.Ciphers {
		if _, ok := r.CipherIndex(cipherName); !ok {
			return fmt.Errorf("%w: %q", ErrUnknownCipher, cipherName)
		}
		for name, value := range params {
			if _, err := r.SetCipherParam(cipherName, "default:"+name, value); err != nil {
				logger.Warn("defaults file entry skipped", logging.Cipher(cipherName),
					logging.ParamName(name), logging.Int("value", value), logging.Error(err))
			}
		}
	}
	return nil
}
