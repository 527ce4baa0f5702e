package callnode

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPath_Rewrite(t *testing.T) {
	merge := map[int32]int32{7: 2}

	p := Path{0, 7, 3}
	r, changed := p.Rewrite(merge)
	require.True(t, changed)
	assert.Equal(t, Path{0, 2, 3}, r)
	assert.Equal(t, Path{0, 7, 3}, p, "the source path must not be modified")

	u := Path{0, 1, 3}
	r, changed = u.Rewrite(merge)
	require.False(t, changed)
	assert.Equal(t, Path{0, 1, 3}, r)
	assert.Same(t, &u[0], &r[0], "unaffected paths keep their backing array")
}

func TestPath_Helpers(t *testing.T) {
	p := Path{1, 2, 3}
	assert.True(t, Path{1, 2}.IsPrefixOf(p))
	assert.True(t, Path{}.IsPrefixOf(p))
	assert.False(t, Path{2}.IsPrefixOf(p))
	assert.False(t, Path{1, 2, 3, 4}.IsPrefixOf(p))
	assert.Equal(t, Path{1, 2}, p.Parent())
	assert.Nil(t, Path{1}.Parent())
	assert.Equal(t, "1,2,3", p.String())
}

func TestPathSet(t *testing.T) {
	s := NewPathSet(Path{0}, Path{0, 1}, Path{0, 1})
	assert.Equal(t, 2, s.Len())
	assert.True(t, s.Has(Path{0, 1}))
	assert.False(t, s.Has(Path{1, 0}))

	assert.True(t, s.Add(Path{0, 7}))
	assert.False(t, s.Add(Path{0, 7}))

	r := s.Rewrite(map[int32]int32{7: 1})
	assert.Equal(t, 2, r.Len(), "paths collapsing onto the same path are stored once")
	assert.True(t, r.Has(Path{0, 1}))
	assert.False(t, r.Has(Path{0, 7}))
	assert.Equal(t, 3, s.Len())

	assert.True(t, s.Remove(Path{0}))
	assert.False(t, s.Remove(Path{0}))
	assert.ElementsMatch(t, []Path{{0, 1}, {0, 7}}, s.Paths())
}

func TestPathSet_CopiesInput(t *testing.T) {
	p := Path{0, 1}
	s := NewPathSet(p)
	p[1] = 5
	assert.True(t, s.Has(Path{0, 1}))
}
