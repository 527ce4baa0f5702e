package model

import "github.com/dolthub/swiss"

// StackTableBuilder builds a StackTable where every (prefix, frame)
// pair appears at most once. Rows are created in topological order.
type StackTableBuilder struct {
	table *StackTable
	index *swiss.Map[uint64, int32]
}

func NewStackTableBuilder(size int) *StackTableBuilder {
	if size < 1 {
		size = 1
	}
	return &StackTableBuilder{
		table: &StackTable{
			Prefix: make([]int32, 0, size),
			Frame:  make([]int32, 0, size),
		},
		index: swiss.NewMap[uint64, int32](uint32(size)),
	}
}

// PairKey packs two indices, either of which may be None, into a map key.
func PairKey(a, b int32) uint64 {
	return uint64(uint32(a))<<32 | uint64(uint32(b))
}

// Append returns the stack index for frame on top of prefix.
func (b *StackTableBuilder) Append(prefix, frame int32) int32 {
	k := PairKey(prefix, frame)
	if i, ok := b.index.Get(k); ok {
		return i
	}
	i := b.table.Append(prefix, frame)
	b.index.Put(k, i)
	return i
}

// AppendPath appends frames root first and returns the leaf stack index.
func (b *StackTableBuilder) AppendPath(prefix int32, frames []int32) int32 {
	for _, f := range frames {
		prefix = b.Append(prefix, f)
	}
	return prefix
}

func (b *StackTableBuilder) Build() *StackTable { return b.table }
