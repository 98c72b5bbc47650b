package alloc

import (
	"context"
	"fmt"

	"tlog.app/go/errors"
	"tlog.app/go/loc"
	"tlog.app/go/tlog"
	"tlog.app/go/tlog/tlwire"

	"github.com/slowlang/capc/compiler/conv"
	"github.com/slowlang/capc/compiler/ir"
	"github.com/slowlang/capc/compiler/liveness"
)

type (
	// Assignments maps the abstract locations of one procedure
	// to registers and frame cells.
	Assignments struct {
		conv  conv.Convention
		graph *liveness.Graph

		homes     map[ir.Abstract]ir.Location
		occupants map[ir.Register][]ir.Location

		frame ir.Frame
	}
)

var ErrConflictingAssignment = errors.New("conflicting locations share a register")

// New assigns parameters first, then every other location of graph
// in increasing degree order. A location gets the first assignable register
// that neither conflicts with it nor holds a conflicting location,
// or a fresh frame cell if there is none.
func New(ctx context.Context, c conv.Convention, params []ir.Parameter, g *liveness.Graph) (a *Assignments, err error) {
	tr, ctx := tlog.SpawnFromContextAndWrap(ctx, "assign locations", "params", len(params))
	defer tr.Finish("err", &err)

	asg := c.Assign(params)

	a = &Assignments{
		conv:      c,
		graph:     g,
		homes:     make(map[ir.Abstract]ir.Location),
		occupants: make(map[ir.Register][]ir.Location),
		frame:     asg.Frame,
	}

	for _, fa := range asg.ViaFrame {
		a.homes[fa.Parameter.Location] = fa.Cell
	}

	for _, ra := range asg.ViaRegisters {
		p := ra.Parameter.Location

		if _, ok := a.homes[p]; ok {
			return nil, errors.New("parameter %v declared twice", p)
		}

		if a.fits(p, ra.Register) {
			a.put(p, ra.Register)
		}
	}

	for _, l := range g.ByIncreasingDegree() {
		x, ok := l.(ir.Abstract)
		if !ok {
			continue
		}

		if _, ok := a.homes[x]; ok {
			continue
		}

		a.assign(x)
	}

	if tr.If("dump_alloc") {
		for _, l := range g.ByIncreasingDegree() {
			if x, ok := l.(ir.Abstract); ok {
				tr.Printw("home", "loc", x, "home", a.homes[x], "degree", g.Degree(x))
			}
		}
	}

	tr.Printw("assigned", "locations", len(a.homes), "frame", a.frame)

	return a, nil
}

// Home returns the physical location of l.
// Physical locations are their own homes; an abstract location
// never seen before is assigned on first query.
func (a *Assignments) Home(l ir.Location) ir.Location {
	x, ok := l.(ir.Abstract)
	if !ok {
		return l
	}

	if h, ok := a.homes[x]; ok {
		return h
	}

	h := a.assign(x)

	tlog.V("alloc_lazy").Printw("lazily assigned", "loc", x, "home", h, "from", loc.Caller(1))

	return h
}

// HomeOf is Home for sources; constants pass through.
func (a *Assignments) HomeOf(s ir.Source) ir.Source {
	if l, ok := s.(ir.Location); ok {
		return a.Home(l)
	}

	return s
}

// Frame is the frame layout including every spill so far.
func (a *Assignments) Frame() ir.Frame {
	return a.frame
}

// Check verifies that no two conflicting locations share a register.
func (a *Assignments) Check() error {
	for _, c := range a.graph.Conflicts() {
		ha, hb := a.Home(c.A), a.Home(c.B)

		if ha != hb {
			continue
		}

		return errors.Wrap(ErrConflictingAssignment, "%v and %v in %v", c.A, c.B, ha)
	}

	return nil
}

func (a *Assignments) assign(x ir.Abstract) ir.Location {
	for _, r := range a.conv.Assignable {
		if a.fits(x, r) {
			a.put(x, r)
			return r
		}
	}

	cell := a.frame.Allocate()
	a.homes[x] = cell

	return cell
}

func (a *Assignments) fits(x ir.Abstract, r ir.Register) bool {
	return !a.graph.Contains(x, r) && !a.graph.Contains(x, a.occupants[r]...)
}

func (a *Assignments) put(x ir.Abstract, r ir.Register) {
	a.homes[x] = r
	a.occupants[r] = append(a.occupants[r], x)
}

func (a *Assignments) TlogAppend(b []byte) []byte {
	var e tlwire.Encoder

	b = e.AppendMap(b, -1)

	for _, l := range a.graph.ByIncreasingDegree() {
		x, ok := l.(ir.Abstract)
		if !ok {
			continue
		}

		if h, ok := a.homes[x]; ok {
			b = e.AppendKey(b, string(x))
			b = e.AppendString(b, fmt.Sprint(h))
		}
	}

	return e.AppendBreak(b)
}
