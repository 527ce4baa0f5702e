package stringtable

import (
	"fmt"

	"github.com/dolthub/swiss"
)

// Table deduplicates strings into stable int32 handles.
// Handles are assigned sequentially in insertion order and never change
// for the lifetime of the table. The table owns the string storage: every
// other profile table refers to strings by handle only.
//
// Table is not safe for concurrent mutation. A table that is no longer
// mutated may be shared between readers.
type Table struct {
	table   *swiss.Map[string, int32]
	entries []string
}

func New(strings ...string) *Table {
	t := &Table{
		table:   swiss.NewMap[string, int32](uint32(max(len(strings), 16))),
		entries: make([]string, 0, len(strings)),
	}
	for _, s := range strings {
		t.Intern(s)
	}
	return t
}

// Intern returns the handle of s, adding it to the table if needed.
func (t *Table) Intern(s string) int32 {
	ref, exists := t.table.Get(s)
	if !exists {
		ref = int32(len(t.entries))
		t.entries = append(t.entries, s)
		t.table.Put(s, ref)
	}
	return ref
}

// Index returns the handle of s without modifying the table.
func (t *Table) Index(s string) (int32, bool) {
	return t.table.Get(s)
}

// Lookup returns the string referenced by h.
func (t *Table) Lookup(h int32) string {
	if h < 0 || int(h) >= len(t.entries) {
		panic(fmt.Sprintf("string handle %d out of range [0, %d)", h, len(t.entries)))
	}
	return t.entries[h]
}

// LookupOr returns the string referenced by h, or def if h is negative.
func (t *Table) LookupOr(h int32, def string) string {
	if h < 0 {
		return def
	}
	return t.Lookup(h)
}

func (t *Table) Len() int { return len(t.entries) }

// Strings returns a copy of the table entries, indexed by handle.
func (t *Table) Strings() []string {
	s := make([]string, len(t.entries))
	copy(s, t.entries)
	return s
}

// Clone returns an independent copy of the table. Handles valid in t
// are valid in the copy and reference the same strings.
func (t *Table) Clone() *Table {
	c := &Table{
		table:   swiss.NewMap[string, int32](uint32(max(len(t.entries), 16))),
		entries: make([]string, len(t.entries), len(t.entries)+len(t.entries)/4),
	}
	copy(c.entries, t.entries)
	for i, s := range c.entries {
		c.table.Put(s, int32(i))
	}
	return c
}
