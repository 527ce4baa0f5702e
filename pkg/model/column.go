package model

import (
	"sort"

	"golang.org/x/exp/constraints"
)

// sliceColumn returns a copy of c[start:end], or nil for an absent column.
func sliceColumn[T any](c []T, start, end int) []T {
	if c == nil {
		return nil
	}
	s := make([]T, end-start)
	copy(s, c[start:end])
	return s
}

func cloneColumn[T any](c []T) []T {
	if c == nil {
		return nil
	}
	s := make([]T, len(c))
	copy(s, c)
	return s
}

// searchFirst returns the first index i in the sorted column c
// such that c[i] >= v, or len(c) if there is none.
func searchFirst[T constraints.Ordered](c []T, v T) int {
	return sort.Search(len(c), func(i int) bool { return c[i] >= v })
}

func isSorted[T constraints.Ordered](c []T) bool {
	for i := 1; i < len(c); i++ {
		if c[i] < c[i-1] {
			return false
		}
	}
	return true
}

// SearchFirst is the exported form of searchFirst for time columns.
func SearchFirst(c []float64, v float64) int { return searchFirst(c, v) }
