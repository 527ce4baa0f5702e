package calltree

import "sync"

// stack is a LIFO used for iterative depth-first traversals.
type stack[T any] []T

func (s *stack[T]) push(v T) { *s = append(*s, v) }

func (s *stack[T]) pop() (v T, ok bool) {
	n := len(*s)
	if n == 0 {
		return v, false
	}
	v = (*s)[n-1]
	*s = (*s)[:n-1]
	return v, true
}

var nodeStackPool = sync.Pool{
	New: func() any { return new(stack[int32]) },
}

func nodeStackFromPool() *stack[int32] {
	s := nodeStackPool.Get().(*stack[int32])
	*s = (*s)[:0]
	return s
}
