package cipherconfig

import (
	"fmt"
	"strings"
)

// Param is a single named, range-bounded integer setting.
// Invariant: Min <= Value <= Max and Min <= Default <= Max.
type Param struct {
	Name    string
	Value   int
	Default int
	Min     int
	Max     int
}

// Table is an ordered set of parameters. Iteration order is declaration
// order; lookup is case-insensitive. A Table carries no lock of its own -
// the owning Registry serializes access.
type Table struct {
	params []Param
	index  map[string]int // lower-case name -> position
}

func newTable(params []Param) *Table {
	t := &Table{
		params: make([]Param, len(params)),
		index:  make(map[string]int, len(params)),
	}
	copy(t.params, params)
	for i, p := range t.params {
		if p.Min > p.Max || p.Value < p.Min || p.Value > p.Max || p.Default < p.Min || p.Default > p.Max {
			panic(fmt.Sprintf("cipherconfig: parameter %q violates range invariant", p.Name))
		}
		t.index[strings.ToLower(p.Name)] = i
	}
	return t
}

// lookup returns the position of the named parameter, or -1 if unknown.
func (t *Table) lookup(name string) int {
	i, ok := t.index[strings.ToLower(name)]
	if !ok {
		return -1
	}
	return i
}

func (t *Table) clone() *Table {
	return newTable(t.params)
}

// names returns the parameter names in declaration order.
func (t *Table) names() []string {
	out := make([]string, len(t.params))
	for i, p := range t.params {
		out[i] = p.Name
	}
	return out
}

// snapshot returns a copy of the current values keyed by parameter name.
func (t *Table) snapshot() map[string]int {
	out := make(map[string]int, len(t.params))
	for _, p := range t.params {
		out[p.Name] = p.Value
	}
	return out
}

// get returns the value of the slot addressed by a.
func (t *Table) get(a Addr) (int, error) {
	i := t.lookup(a.Name)
	if i < 0 {
		return -1, fmt.Errorf("%w: %q", ErrUnknownParameter, a.Name)
	}
	p := &t.params[i]
	switch a.Slot() {
	case SlotDefault:
		return p.Default, nil
	case SlotMin:
		return p.Min, nil
	case SlotMax:
		return p.Max, nil
	default:
		return p.Value, nil
	}
}

// set applies a write of value to the slot addressed by a. A min:/max:
// address degrades the request to a read of that bound; no mutation occurs
// and no error is reported. An accepted write always updates the current
// value, and additionally the default when the default: prefix is present,
// unless pinDefault suppresses the default update for this parameter.
func (t *Table) set(a Addr, value int, pinDefault bool) (int, error) {
	i := t.lookup(a.Name)
	if i < 0 {
		return -1, fmt.Errorf("%w: %q", ErrUnknownParameter, a.Name)
	}
	p := &t.params[i]
	if !a.Writable() {
		return t.get(a)
	}
	if value < p.Min || value > p.Max {
		return -1, fmt.Errorf("%w: %d for %q outside [%d..%d]",
			ErrValueOutOfRange, value, a.Name, p.Min, p.Max)
	}
	if a.HasDefault && !pinDefault {
		p.Default = value
	}
	p.Value = value
	return value, nil
}
