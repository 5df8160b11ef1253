package cipherconfig

import "strings"

// Slot identifies which view of a parameter an address selects.
type Slot int

const (
	SlotCurrent Slot = iota
	SlotDefault
	SlotMin
	SlotMax
)

// String returns the slot name as used in parameter addresses.
func (s Slot) String() string {
	switch s {
	case SlotDefault:
		return "default"
	case SlotMin:
		return "min"
	case SlotMax:
		return "max"
	default:
		return "current"
	}
}

// Addr is a parsed parameter address: the bare parameter name plus the
// optional "default:", "min:" and "max:" prefixes.
type Addr struct {
	Name       string
	HasDefault bool
	HasMin     bool
	HasMax     bool
}

// ParseAddr parses the prefix mini-protocol. Prefixes are stripped
// case-insensitively in the fixed order default, min, max, each at most
// once. Combining prefixes is accepted for compatibility with prior
// implementations even though it is not an intended use.
func ParseAddr(raw string) Addr {
	a := Addr{}
	rest := raw
	if s, ok := stripPrefixFold(rest, "default:"); ok {
		a.HasDefault = true
		rest = s
	}
	if s, ok := stripPrefixFold(rest, "min:"); ok {
		a.HasMin = true
		rest = s
	}
	if s, ok := stripPrefixFold(rest, "max:"); ok {
		a.HasMax = true
		rest = s
	}
	a.Name = rest
	return a
}

// Slot resolves the addressed view. When prefixes are combined the
// precedence is default over min over max over current; this ordering is a
// compatibility requirement and must not change.
func (a Addr) Slot() Slot {
	switch {
	case a.HasDefault:
		return SlotDefault
	case a.HasMin:
		return SlotMin
	case a.HasMax:
		return SlotMax
	default:
		return SlotCurrent
	}
}

// Writable reports whether a write may target this address. The min and
// max bounds are read-only views.
func (a Addr) Writable() bool {
	return !a.HasMin && !a.HasMax
}

// Bare reports whether the address carries no prefix at all.
func (a Addr) Bare() bool {
	return !a.HasDefault && !a.HasMin && !a.HasMax
}

func stripPrefixFold(s, prefix string) (string, bool) {
	if len(s) >= len(prefix) && strings.EqualFold(s[:len(prefix)], prefix) {
		return s[len(prefix):], true
	}
	return s, false
}
