package liveness

import (
	"fmt"
	"sort"

	"nikand.dev/go/heap"
	"tlog.app/go/tlog/tlwire"

	"github.com/slowlang/capc/compiler/ir"
	"github.com/slowlang/capc/compiler/set"
)

type (
	// Graph is an undirected interference graph over locations.
	// Distinct physical locations always conflict; those edges are implicit.
	Graph struct {
		idx *index
		adj []set.Bitmap
	}

	Conflict struct {
		A, B ir.Location
	}

	index struct {
		ids  map[ir.Location]int
		locs []ir.Location
	}

	node struct {
		loc ir.Location
		deg int
	}
)

func NewGraph() *Graph {
	return &Graph{idx: newIndex()}
}

// Insert adds edges between a and every member of bs except a itself.
// a is recorded as a node even if bs is empty.
func (g *Graph) Insert(a ir.Location, bs ...ir.Location) {
	ai := g.idx.id(a)
	g.row(ai)

	for _, b := range bs {
		bi := g.idx.id(b)

		if ai == bi || ir.IsPhysical(a) && ir.IsPhysical(b) {
			continue
		}

		g.row(ai).Set(bi)
		g.row(bi).Set(ai)
	}
}

// Contains reports whether a conflicts with any of bs.
func (g *Graph) Contains(a ir.Location, bs ...ir.Location) bool {
	ai, aok := g.idx.lookup(a)

	for _, b := range bs {
		if a == b {
			continue
		}

		if ir.IsPhysical(a) && ir.IsPhysical(b) {
			return true
		}

		bi, bok := g.idx.lookup(b)

		if aok && bok && g.rowAt(ai).IsSet(bi) {
			return true
		}
	}

	return false
}

// Union adds every node and edge of h to g.
func (g *Graph) Union(h *Graph) {
	if g.idx == h.idx {
		for i, r := range h.adj {
			g.row(i).Or(r)
		}

		return
	}

	for i, l := range h.idx.locs {
		g.Insert(l)

		h.rowAt(i).Range(func(j int) bool {
			g.Insert(l, h.idx.locs[j])
			return true
		})
	}
}

func (g *Graph) Degree(l ir.Location) int {
	i, ok := g.idx.lookup(l)
	if !ok {
		return 0
	}

	return g.rowAt(i).Size()
}

func (g *Graph) Has(l ir.Location) bool {
	_, ok := g.idx.lookup(l)
	return ok
}

func (g *Graph) Neighbours(l ir.Location) []ir.Location {
	i, ok := g.idx.lookup(l)
	if !ok {
		return nil
	}

	return g.sorted(g.rowAt(i))
}

// ByIncreasingDegree orders every known location by degree, then by identity.
func (g *Graph) ByIncreasingDegree() []ir.Location {
	h := heap.Heap[node]{Less: nodeLess}

	for i, l := range g.idx.locs {
		h.Push(node{loc: l, deg: g.rowAt(i).Size()})
	}

	r := make([]ir.Location, 0, h.Len())

	for h.Len() != 0 {
		r = append(r, h.Pop().loc)
	}

	return r
}

// Conflicts lists explicit edges, each once, in a deterministic order.
func (g *Graph) Conflicts() (r []Conflict) {
	for i, row := range g.adj {
		row.Range(func(j int) bool {
			if j > i {
				a, b := g.idx.locs[i], g.idx.locs[j]

				if ir.Compare(a, b) > 0 {
					a, b = b, a
				}

				r = append(r, Conflict{A: a, B: b})
			}

			return true
		})
	}

	sort.Slice(r, func(i, j int) bool {
		if c := ir.Compare(r[i].A, r[j].A); c != 0 {
			return c < 0
		}

		return ir.Compare(r[i].B, r[j].B) < 0
	})

	return r
}

// SafelyCoalescable is the Briggs test: a and b may share a home
// if the merged node has fewer than k abstract neighbours of degree k or more.
// Physical neighbours are precoloured and don't compete for registers.
func (g *Graph) SafelyCoalescable(a, b ir.Location, k int) bool {
	if g.Contains(a, b) {
		return false
	}

	var n set.Bitmap

	ai, aok := g.idx.lookup(a)
	bi, bok := g.idx.lookup(b)

	if aok {
		n.Or(g.rowAt(ai))
		n.Clear(ai)
	}

	if bok {
		n.Or(g.rowAt(bi))
		n.Clear(bi)
	}

	significant := 0

	n.Range(func(i int) bool {
		if !ir.IsPhysical(g.idx.locs[i]) && g.rowAt(i).Size() >= k {
			significant++
		}

		return significant < k
	})

	return significant < k
}

func (g *Graph) Clone() *Graph {
	cp := &Graph{idx: g.idx, adj: make([]set.Bitmap, len(g.adj))}

	for i, r := range g.adj {
		cp.adj[i] = r.Copy()
	}

	return cp
}

func (g *Graph) TlogAppend(b []byte) []byte {
	var e tlwire.LowEncoder

	b = e.AppendTag(b, tlwire.Array, -1)

	for _, c := range g.Conflicts() {
		b = e.AppendString(b, fmt.Sprintf("%v-%v", c.A, c.B))
	}

	return e.AppendBreak(b)
}

func (g *Graph) row(i int) *set.Bitmap {
	for len(g.adj) <= i {
		g.adj = append(g.adj, set.Bitmap{})
	}

	return &g.adj[i]
}

func (g *Graph) rowAt(i int) set.Bitmap {
	if i < len(g.adj) {
		return g.adj[i]
	}

	return set.Bitmap{}
}

func (g *Graph) sorted(s set.Bitmap) []ir.Location {
	r := make([]ir.Location, 0, s.Size())

	s.Range(func(i int) bool {
		r = append(r, g.idx.locs[i])
		return true
	})

	sort.Slice(r, func(i, j int) bool {
		return ir.Compare(r[i], r[j]) < 0
	})

	return r
}

func nodeLess(d []node, i, j int) bool {
	if d[i].deg != d[j].deg {
		return d[i].deg < d[j].deg
	}

	return ir.Compare(d[i].loc, d[j].loc) < 0
}

func newIndex() *index {
	return &index{ids: make(map[ir.Location]int)}
}

func (x *index) id(l ir.Location) int {
	if i, ok := x.ids[l]; ok {
		return i
	}

	i := len(x.locs)

	x.ids[l] = i
	x.locs = append(x.locs, l)

	return i
}

func (x *index) lookup(l ir.Location) (int, bool) {
	i, ok := x.ids[l]
	return i, ok
}
