package liveness

import (
	"fmt"
	"sort"

	"tlog.app/go/tlog/tlwire"

	"github.com/slowlang/capc/compiler/ir"
	"github.com/slowlang/capc/compiler/set"
)

type (
	// Analysis is the liveness state at one program point
	// together with the conflicts collected so far.
	// It's driven backwards: start from the exit set of an effect,
	// Define what it writes, then Use what it reads.
	Analysis struct {
		idx  *index
		live set.Bitmap
		g    *Graph
	}
)

func New() *Analysis {
	idx := newIndex()

	return &Analysis{
		idx: idx,
		g:   &Graph{idx: idx},
	}
}

// Define marks ls as dead and records their conflicts
// with everything that stays live across the definition.
func (a *Analysis) Define(ls ...ir.Location) {
	for _, l := range ls {
		a.live.Clear(a.idx.id(l))
	}

	live := a.Live()

	for _, l := range ls {
		a.g.Insert(l, live...)
	}
}

// Use marks the locations among srcs as possibly used later.
func (a *Analysis) Use(srcs ...ir.Source) {
	for _, l := range ir.Locations(srcs...) {
		i := a.idx.id(l)

		a.live.Set(i)
		a.g.row(i)
	}
}

// Reset forgets the live set. Nothing after a return is reachable.
func (a *Analysis) Reset() {
	a.live = set.Bitmap{}
}

func (a *Analysis) Clone() *Analysis {
	return &Analysis{
		idx:  a.idx,
		live: a.live.Copy(),
		g:    a.g.Clone(),
	}
}

// Union merges the state computed along another path.
func (a *Analysis) Union(b *Analysis) {
	a.live.Or(b.live)
	a.g.Union(b.g)
}

func (a *Analysis) IsLive(l ir.Location) bool {
	i, ok := a.idx.lookup(l)
	return ok && a.live.IsSet(i)
}

// Live returns the possibly used locations in a deterministic order.
func (a *Analysis) Live() []ir.Location {
	r := make([]ir.Location, 0, a.live.Size())

	a.live.Range(func(i int) bool {
		r = append(r, a.idx.locs[i])
		return true
	})

	sort.Slice(r, func(i, j int) bool {
		return ir.Compare(r[i], r[j]) < 0
	})

	return r
}

func (a *Analysis) Graph() *Graph {
	return a.g
}

func (a *Analysis) TlogAppend(b []byte) []byte {
	var e tlwire.LowEncoder

	b = e.AppendTag(b, tlwire.Array, -1)

	for _, l := range a.Live() {
		b = e.AppendString(b, fmt.Sprint(l))
	}

	return e.AppendBreak(b)
}
