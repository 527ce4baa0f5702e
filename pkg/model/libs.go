package model

import "sort"

// Lib is a binary mapped into the profiled process.
type Lib struct {
	Start      uint64
	End        uint64
	Offset     uint64
	Name       string
	DebugName  string
	Path       string
	BreakpadID string
}

// FileOffset converts an address inside the library to an offset in its
// file, the form symbol servers and fallback names use.
func (l Lib) FileOffset(addr uint64) uint64 { return addr - l.Start + l.Offset }

// Libs is sorted by Start; address ranges do not overlap.
type Libs []Lib

// IndexForAddress returns the index of the library containing addr,
// or -1 if no library does.
func (l Libs) IndexForAddress(addr uint64) int {
	i := sort.Search(len(l), func(i int) bool { return l[i].End > addr })
	if i < len(l) && l[i].Start <= addr {
		return i
	}
	return -1
}

func (l Libs) Sort() {
	sort.Slice(l, func(i, j int) bool { return l[i].Start < l[j].Start })
}
