package callnode

import (
	"encoding/binary"
	"strconv"
	"strings"

	"github.com/cespare/xxhash/v2"
)

// Path is a sequence of function indices from a root to a call node.
// Unlike call-node indices, paths survive rebuilds of the call-node table,
// which is why selection and expansion state is kept as paths.
type Path []int32

func (p Path) Equal(o Path) bool {
	if len(p) != len(o) {
		return false
	}
	for i := range p {
		if p[i] != o[i] {
			return false
		}
	}
	return true
}

// IsPrefixOf reports whether p is a prefix of o.
func (p Path) IsPrefixOf(o Path) bool {
	return len(p) <= len(o) && p.Equal(o[:len(p)])
}

// Parent returns the path of the parent node, or nil for a root.
func (p Path) Parent() Path {
	if len(p) < 2 {
		return nil
	}
	return p[:len(p)-1]
}

func (p Path) String() string {
	var b strings.Builder
	for i, fn := range p {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.Itoa(int(fn)))
	}
	return b.String()
}

// Rewrite substitutes functions according to oldToNew. If no function in
// the path is affected, the original path is returned unchanged (the same
// backing array) and the second result is false.
func (p Path) Rewrite(oldToNew map[int32]int32) (Path, bool) {
	var r Path
	for i, fn := range p {
		n, ok := oldToNew[fn]
		if !ok || n == fn {
			continue
		}
		if r == nil {
			r = make(Path, len(p))
			copy(r, p)
		}
		r[i] = n
	}
	if r == nil {
		return p, false
	}
	return r, true
}

// PathHasher hashes paths with xxhash.
type PathHasher struct {
	hash *xxhash.Digest
	b    [4]byte
}

func (h *PathHasher) Hash(p Path) uint64 {
	if h.hash == nil {
		h.hash = xxhash.New()
	} else {
		h.hash.Reset()
	}
	for _, fn := range p {
		binary.LittleEndian.PutUint32(h.b[:], uint32(fn))
		_, _ = h.hash.Write(h.b[:])
	}
	return h.hash.Sum64()
}

// PathSet is a set of paths, used to persist expanded call nodes.
type PathSet struct {
	hasher PathHasher
	paths  map[uint64][]Path
	size   int
}

func NewPathSet(paths ...Path) *PathSet {
	s := &PathSet{paths: make(map[uint64][]Path, len(paths))}
	for _, p := range paths {
		s.Add(p)
	}
	return s
}

func (s *PathSet) Add(p Path) bool {
	h := s.hasher.Hash(p)
	for _, x := range s.paths[h] {
		if x.Equal(p) {
			return false
		}
	}
	c := make(Path, len(p))
	copy(c, p)
	s.paths[h] = append(s.paths[h], c)
	s.size++
	return true
}

func (s *PathSet) Has(p Path) bool {
	for _, x := range s.paths[s.hasher.Hash(p)] {
		if x.Equal(p) {
			return true
		}
	}
	return false
}

func (s *PathSet) Remove(p Path) bool {
	h := s.hasher.Hash(p)
	bucket := s.paths[h]
	for i, x := range bucket {
		if x.Equal(p) {
			bucket = append(bucket[:i], bucket[i+1:]...)
			if len(bucket) == 0 {
				delete(s.paths, h)
			} else {
				s.paths[h] = bucket
			}
			s.size--
			return true
		}
	}
	return false
}

func (s *PathSet) Len() int { return s.size }

// Paths returns the paths of the set in no particular order.
func (s *PathSet) Paths() []Path {
	r := make([]Path, 0, s.size)
	for _, b := range s.paths {
		r = append(r, b...)
	}
	return r
}

// Rewrite returns a new set with every path rewritten according to
// oldToNew. Paths that collapse onto the same path are stored once.
func (s *PathSet) Rewrite(oldToNew map[int32]int32) *PathSet {
	r := NewPathSet()
	for _, b := range s.paths {
		for _, p := range b {
			np, _ := p.Rewrite(oldToNew)
			r.Add(np)
		}
	}
	return r
}
