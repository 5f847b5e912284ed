// Package bitset implements a growable, machine-word-backed bit set used by
// the dataflow analyses (liveness, reaching definitions) over virtual
// register and instruction ids.
package bitset

import "math/bits"

const wordBits = 64

// Set is a bit set backed by a slice of uint64 words.
type Set struct {
	words []uint64
}

// New returns a Set with room for at least n bits, all initially clear.
func New(n int) *Set {
	return &Set{words: make([]uint64, wordsFor(n))}
}

func wordsFor(n int) int {
	if n <= 0 {
		return 0
	}
	return (n + wordBits - 1) / wordBits
}

func (s *Set) grow(word int) {
	if word < len(s.words) {
		return
	}
	grown := make([]uint64, word+1)
	copy(grown, s.words)
	s.words = grown
}

// Set adds bit i to the set.
func (s *Set) Set(i int) {
	w, b := i/wordBits, uint(i%wordBits)
	s.grow(w)
	s.words[w] |= 1 << b
}

// Clear removes bit i from the set.
func (s *Set) Clear(i int) {
	w, b := i/wordBits, uint(i%wordBits)
	if w >= len(s.words) {
		return
	}
	s.words[w] &^= 1 << b
}

// Test reports whether bit i is set.
func (s *Set) Test(i int) bool {
	w, b := i/wordBits, uint(i%wordBits)
	if w >= len(s.words) {
		return false
	}
	return s.words[w]&(1<<b) != 0
}

// Or sets s to s | other, growing s if needed. Reports whether s changed.
func (s *Set) Or(other *Set) bool {
	if len(other.words) > len(s.words) {
		s.grow(len(other.words) - 1)
	}
	changed := false
	for i, w := range other.words {
		if s.words[i]|w != s.words[i] {
			s.words[i] |= w
			changed = true
		}
	}
	return changed
}

// AndNot sets s to s &^ other (set subtraction). Reports whether s changed.
func (s *Set) AndNot(other *Set) bool {
	changed := false
	n := len(s.words)
	if len(other.words) < n {
		n = len(other.words)
	}
	for i := 0; i < n; i++ {
		nv := s.words[i] &^ other.words[i]
		if nv != s.words[i] {
			s.words[i] = nv
			changed = true
		}
	}
	return changed
}

// Equal reports whether s and other contain the same bits.
func (s *Set) Equal(other *Set) bool {
	n := len(s.words)
	if len(other.words) > n {
		n = len(other.words)
	}
	for i := 0; i < n; i++ {
		var a, b uint64
		if i < len(s.words) {
			a = s.words[i]
		}
		if i < len(other.words) {
			b = other.words[i]
		}
		if a != b {
			return false
		}
	}
	return true
}

// Clone returns an independent copy of s.
func (s *Set) Clone() *Set {
	c := &Set{words: make([]uint64, len(s.words))}
	copy(c.words, s.words)
	return c
}

// PopCount returns the number of set bits.
func (s *Set) PopCount() int {
	n := 0
	for _, w := range s.words {
		n += bits.OnesCount64(w)
	}
	return n
}

// Elems returns the sorted list of set bit indices.
func (s *Set) Elems() []int {
	var out []int
	for wi, w := range s.words {
		for w != 0 {
			b := bits.TrailingZeros64(w)
			out = append(out, wi*wordBits+b)
			w &^= 1 << uint(b)
		}
	}
	return out
}
