package set

import (
	"math/bits"

	"tlog.app/go/tlog/tlwire"
)

type (
	// Bitmap is a growable set of small non-negative integers.
	// The zero value is an empty set.
	Bitmap struct {
		b []uint64
	}
)

func Of(xs ...int) (s Bitmap) {
	for _, x := range xs {
		s.Set(x)
	}

	return s
}

func (s *Bitmap) Set(i int) {
	w, m := ij(i)

	for w >= len(s.b) {
		s.b = append(s.b, 0)
	}

	s.b[w] |= m
}

func (s *Bitmap) Clear(i int) {
	w, m := ij(i)
	if w >= len(s.b) {
		return
	}

	s.b[w] &^= m
}

func (s Bitmap) IsSet(i int) bool {
	w, m := ij(i)
	if w >= len(s.b) {
		return false
	}

	return s.b[w]&m != 0
}

// Or adds every member of x and reports whether s grew.
func (s *Bitmap) Or(x Bitmap) (changed bool) {
	for len(s.b) < len(x.b) {
		s.b = append(s.b, 0)
	}

	for i, w := range x.b {
		if s.b[i]|w != s.b[i] {
			changed = true
		}

		s.b[i] |= w
	}

	return changed
}

func (s *Bitmap) AndNot(x Bitmap) {
	for i := 0; i < len(s.b) && i < len(x.b); i++ {
		s.b[i] &^= x.b[i]
	}
}

func (s Bitmap) Intersects(x Bitmap) bool {
	for i := 0; i < len(s.b) && i < len(x.b); i++ {
		if s.b[i]&x.b[i] != 0 {
			return true
		}
	}

	return false
}

func (s Bitmap) Copy() Bitmap {
	if s.b == nil {
		return Bitmap{}
	}

	return Bitmap{b: append([]uint64{}, s.b...)}
}

func (s Bitmap) Size() (n int) {
	for _, w := range s.b {
		n += bits.OnesCount64(w)
	}

	return n
}

func (s Bitmap) Equal(x Bitmap) bool {
	l := max(len(s.b), len(x.b))

	for i := 0; i < l; i++ {
		if s.word(i) != x.word(i) {
			return false
		}
	}

	return true
}

// Range calls f for members in increasing order until f returns false.
func (s Bitmap) Range(f func(i int) bool) {
	for i, w := range s.b {
		for w != 0 {
			j := bits.TrailingZeros64(w)
			w &^= 1 << j

			if !f(i*64 + j) {
				return
			}
		}
	}
}

func (s Bitmap) Slice() (r []int) {
	s.Range(func(i int) bool {
		r = append(r, i)
		return true
	})

	return r
}

func (s Bitmap) TlogAppend(b []byte) []byte {
	var e tlwire.LowEncoder

	b = e.AppendTag(b, tlwire.Array, -1)

	s.Range(func(i int) bool {
		b = e.AppendInt(b, i)
		return true
	})

	return e.AppendBreak(b)
}

func (s Bitmap) word(i int) uint64 {
	if i < len(s.b) {
		return s.b[i]
	}

	return 0
}

func ij(pos int) (int, uint64) {
	return pos / 64, 1 << (pos % 64)
}
