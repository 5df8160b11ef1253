// Package sqlext exposes the cipher configuration as SQL-callable
// functions for any database engine that can bind Go functions. The
// package does not depend on a specific driver; hosts implement
// FunctionBinder and get the full accessor surface registered against a
// connection.
package sqlext

import (
	"fmt"
	"strings"

	"github.com/dd0wney/cluso-pagecrypt/pkg/cipherconfig"
	"github.com/dd0wney/cluso-pagecrypt/pkg/codec"
	"github.com/dd0wney/cluso-pagecrypt/pkg/logging"
)

// Value is a SQL value crossing the function boundary: nil, int64,
// string or []byte.
type Value interface{}

// Function is a SQL-callable function. Returning a nil Value yields SQL
// NULL.
type Function func(args ...Value) (Value, error)

// FunctionBinder registers SQL functions with a host database engine.
// minArgs and maxArgs bound the accepted argument counts.
type FunctionBinder interface {
	BindFunction(name string, minArgs, maxArgs int, fn Function) error
}

var ErrBadArgument = fmt.Errorf("invalid sql function argument")

const (
	// FuncToken is the introspection hook: a zero-argument function
	// returning an opaque token identifying the bound registry.
	FuncToken = "pagecrypt_token"

	// FuncConfig is the get/set accessor:
	//   FuncConfig()                          -> registry token
	//   FuncConfig(param)                     -> common parameter value
	//   FuncConfig(cipher)                    -> that cipher's parameter names
	//   FuncConfig(param, value)              -> set common parameter
	//   FuncConfig('cipher', name)            -> select cipher family by name
	//   FuncConfig(cipher, param)             -> cipher parameter value
	//   FuncConfig(cipher, param, value)      -> set cipher parameter
	FuncConfig = "pagecrypt_config"

	// FuncCodecData is the provenance accessor:
	//   FuncCodecData(param)          -> value for schema "main"
	//   FuncCodecData(param, schema)  -> value for the named schema
	FuncCodecData = "pagecrypt_codec_data"
)

const (
	paramCipherList = "cipher_list"
	paramParamList  = "param_list"
)

// Register binds the accessor functions for one connection. A nil
// connection binds the global registry; its provenance accessor always
// returns NULL.
func Register(b FunctionBinder, conn *codec.Connection) error {
	if err := b.BindFunction(FuncToken, 0, 0, tokenFunc(conn)); err != nil {
		return err
	}
	if err := b.BindFunction(FuncConfig, 0, 3, configFunc(conn)); err != nil {
		return err
	}
	return b.BindFunction(FuncCodecData, 1, 2, codecDataFunc(conn))
}

func registryFor(conn *codec.Connection) *cipherconfig.Registry {
	if conn == nil {
		return cipherconfig.Global()
	}
	return conn.Registry()
}

// token identifies the registry a zero-argument call addresses, so SQL
// callers can tell connections apart without reaching into internals.
func token(conn *codec.Connection) Value {
	if conn == nil {
		return "global"
	}
	return conn.ID().String()
}

func tokenFunc(conn *codec.Connection) Function {
	return func(args ...Value) (Value, error) {
		return token(conn), nil
	}
}

func configFunc(conn *codec.Connection) Function {
	return func(args ...Value) (Value, error) {
		r := registryFor(conn)
		switch len(args) {
		case 0:
			return token(conn), nil
		case 1:
			name, err := textArg(args[0])
			if err != nil {
				return nil, err
			}
			return getCommon(r, name)
		case 2:
			first, err := textArg(args[0])
			if err != nil {
				return nil, err
			}
			// A text second argument either selects the cipher family
			// by name or addresses a cipher parameter; a numeric one
			// updates a common parameter.
			if second, ok := asText(args[1]); ok {
				addr := cipherconfig.ParseAddr(first)
				if strings.EqualFold(addr.Name, cipherconfig.ParamCipher) {
					return setCipherName(r, first, addr, second)
				}
				return getCipherParam(r, first, second)
			}
			value, err := intArg(args[1])
			if err != nil {
				return nil, err
			}
			return setCommon(r, first, value)
		case 3:
			cipherName, err := textArg(args[0])
			if err != nil {
				return nil, err
			}
			paramName, err := textArg(args[1])
			if err != nil {
				return nil, err
			}
			value, err := intArg(args[2])
			if err != nil {
				return nil, err
			}
			v, err := r.SetCipherParam(cipherName, paramName, value)
			if err != nil {
				logging.Warn("sql config rejected",
					logging.Cipher(cipherName), logging.ParamName(paramName), logging.Error(err))
				return nil, nil
			}
			return int64(v), nil
		}
		return nil, fmt.Errorf("%w: want 0 to 3 arguments", ErrBadArgument)
	}
}

// getCommon resolves a one-argument call. The cipher selector reads back
// as the family name of the addressed slot's value; a bare cipher family
// name enumerates that cipher's parameters; cipher_list enumerates the
// catalog.
func getCommon(r *cipherconfig.Registry, name string) (Value, error) {
	addr := cipherconfig.ParseAddr(name)
	switch strings.ToLower(addr.Name) {
	case cipherconfig.ParamCipher:
		v, err := r.Get(name)
		if err != nil {
			return nil, nil
		}
		cipherName, ok := r.CipherName(v)
		if !ok {
			return nil, nil
		}
		return cipherName, nil
	case paramCipherList:
		return joined(r.CipherNames()), nil
	}
	if v, err := r.Get(name); err == nil {
		return int64(v), nil
	}
	if name == addr.Name {
		if names, ok := r.ParamNames(name); ok {
			return joined(names), nil
		}
	}
	return nil, nil
}

// setCipherName selects the cipher family by name and reads back the
// canonical catalog name. A min: or max: prefixed address is read-only,
// so the call degrades to a read of the addressed slot.
func setCipherName(r *cipherconfig.Registry, raw string, addr cipherconfig.Addr, name string) (Value, error) {
	if !addr.Writable() {
		return getCommon(r, raw)
	}
	idx, err := r.SetCipherByName(name, addr.HasDefault)
	if err != nil {
		logging.Warn("sql config rejected",
			logging.ParamName(cipherconfig.ParamCipher), logging.Cipher(name), logging.Error(err))
		return nil, nil
	}
	canonical, _ := r.CipherName(idx)
	return canonical, nil
}

// setCommon resolves a two-argument common update. Setting the cipher
// accepts a 1-based catalog index and reads back as the family name.
func setCommon(r *cipherconfig.Registry, name string, value int) (Value, error) {
	addr := cipherconfig.ParseAddr(name)
	if strings.EqualFold(addr.Name, cipherconfig.ParamCipher) {
		v, err := r.Set(name, value)
		if err != nil {
			return nil, nil
		}
		cipherName, ok := r.CipherName(v)
		if !ok {
			return nil, nil
		}
		return cipherName, nil
	}
	v, err := r.Set(name, value)
	if err != nil {
		return nil, nil
	}
	return int64(v), nil
}

func getCipherParam(r *cipherconfig.Registry, cipherName, paramName string) (Value, error) {
	if strings.EqualFold(paramName, paramParamList) {
		names, ok := r.ParamNames(cipherName)
		if !ok {
			return nil, nil
		}
		return joined(names), nil
	}
	v, err := r.GetCipherParam(cipherName, paramName)
	if err != nil {
		return nil, nil
	}
	return int64(v), nil
}

func codecDataFunc(conn *codec.Connection) Function {
	return func(args ...Value) (Value, error) {
		name, err := textArg(args[0])
		if err != nil {
			return nil, err
		}
		schema := ""
		if len(args) == 2 {
			if schema, err = textArg(args[1]); err != nil {
				return nil, err
			}
		}
		data := codec.CodecData(conn, schema, name)
		if data == nil {
			return nil, nil
		}
		if strings.HasPrefix(name, "raw:") {
			return data, nil
		}
		return string(data), nil
	}
}

func joined(names []string) Value {
	if len(names) == 0 {
		return nil
	}
	return strings.Join(names, ",")
}

func asText(v Value) (string, bool) {
	switch t := v.(type) {
	case string:
		return t, true
	case []byte:
		return string(t), true
	}
	return "", false
}

func textArg(v Value) (string, error) {
	s, ok := asText(v)
	if !ok {
		return "", fmt.Errorf("%w: expected text, got %T", ErrBadArgument, v)
	}
	return s, nil
}

func intArg(v Value) (int, error) {
	switch t := v.(type) {
	case int64:
		return int(t), nil
	case int:
		return t, nil
	}
	return 0, fmt.Errorf("%w: expected integer, got %T", ErrBadArgument, v)
}
