package fl

import (
	"context"
	"fmt"

	"tlog.app/go/errors"
	"tlog.app/go/tlog"

	"github.com/slowlang/capc/compiler/config"
	"github.com/slowlang/capc/compiler/ir"
	"github.com/slowlang/capc/compiler/rv"
)

type (
	// selector turns one routine into instructions.
	// t0-t2 are its scratch registers, t3 reaches offsets
	// too far for an immediate.
	selector struct {
		name  string
		frame ir.Frame

		alloc    ir.Register
		heapOnly bool

		labels int
		out    []rv.Instruction

		err error
	}
)

// Lower selects instructions for every routine.
// Frame cells live below the frame base: offset o is at cfp-o-16.
func (p *Program) Lower(ctx context.Context, cfg *config.Config) (_ *rv.Program, err error) {
	tr, ctx := tlog.SpawnFromContextAndWrap(ctx, "lower fl", "procedures", len(p.Procedures))
	defer tr.Finish("err", &err)

	res := &rv.Program{}

	err = p.routines(func(r *Procedure) error {
		s := &selector{
			name:     r.Name,
			frame:    r.Frame,
			alloc:    ir.SP,
			heapOnly: cfg.HeapOnly(),
		}

		if s.heapOnly {
			s.alloc = ir.TP
		}

		s.effect(r.Effect)

		if s.err != nil {
			return errors.Wrap(s.err, "routine %v", r.Name)
		}

		tr.V("select").Printw("selected", "routine", r.Name, "instructions", len(s.out))

		res.Routines = append(res.Routines, rv.Routine{Name: r.Name, Instructions: s.out})

		return nil
	})
	if err != nil {
		return nil, err
	}

	return res, nil
}

func (s *selector) effect(e Effect) {
	switch e := e.(type) {
	case Do:
		for _, x := range e.Effects {
			s.effect(x)
		}
	case Set:
		s.set(e.To, e.From)
	case Compute:
		if err := ir.CheckOperation(e.Operation); err != nil {
			s.fail("%v", err)
			return
		}

		l := s.source(e.Lhs, ir.T0)
		r := s.source(e.Rhs, ir.T1)

		rd := ir.T2
		if reg, ok := e.To.(ir.Register); ok {
			rd = reg
		}

		s.emit(rv.Operation{Operation: e.Operation, Rd: rd, Rs1: l, Rs2: r})
		s.store(e.To, rd)
	case If:
		els, end := s.label(), s.label()

		s.branch(e.Predicate, els, false)
		s.effect(e.Then)
		s.emit(rv.Jump{Target: end}, rv.Label{Name: els})
		s.effect(e.Else)
		s.emit(rv.Label{Name: end})
	case PushFrame:
		a := s.frame.Arguments

		s.offset(ir.T0, s.alloc, a)
		s.storeAt(ir.FP, ir.T0, cellOffset(s.frame.SavedFramePointer()))
		s.storeAt(ir.RA, ir.T0, cellOffset(s.frame.SavedReturnAddress()))
		s.emit(rv.Move{Rd: ir.FP, Rs: ir.T0})
		s.offset(s.alloc, ir.FP, -s.frame.Size)
	case PopFrame:
		s.loadFrom(ir.RA, ir.FP, cellOffset(s.frame.SavedReturnAddress()))

		if !s.heapOnly {
			s.offset(s.alloc, ir.FP, -s.frame.Arguments)
		}

		s.loadFrom(ir.FP, ir.FP, cellOffset(s.frame.SavedFramePointer()))
	case PushArguments:
		s.offset(s.alloc, s.alloc, -e.Bytes)
	case SetArgument:
		r := s.source(e.From, ir.T0)

		s.storeAt(r, s.alloc, e.Offset)
	case PopArguments:
		if !s.heapOnly {
			s.offset(s.alloc, s.alloc, e.Bytes)
		}
	case Call:
		s.emit(rv.Call{Target: e.Procedure})
	case Return:
		s.emit(rv.Return{})
	default:
		s.fail("unsupported effect: %T", e)
	}
}

func (s *selector) set(to ir.Location, from ir.Source) {
	rd, ok := to.(ir.Register)
	if !ok {
		s.store(to, s.source(from, ir.T0))
		return
	}

	switch from := from.(type) {
	case ir.Constant:
		s.emit(rv.LoadImmediate{Rd: rd, Value: int64(from)})
	case ir.Register:
		if from != rd {
			s.emit(rv.Move{Rd: rd, Rs: from})
		}
	case ir.FrameCell:
		s.loadFrom(rd, ir.FP, cellOffset(from))
	default:
		s.fail("unexpected source %v", from)
	}
}

// branch jumps to target when p evaluates to when.
func (s *selector) branch(p ir.Predicate, target string, when bool) {
	switch p := p.(type) {
	case ir.Truth:
		if p.Value == when {
			s.emit(rv.Jump{Target: target})
		}
	case ir.Comparison:
		rel := p.Relation
		if !rel.Valid() {
			s.fail("unknown relation %q", rel)
			return
		}

		if !when {
			rel = rel.Negate()
		}

		l := s.source(p.Lhs, ir.T0)
		r := s.source(p.Rhs, ir.T1)

		s.emit(rv.Branch{Relation: rel, Rs1: l, Rs2: r, Target: target})
	case ir.Negation:
		s.branch(p.Predicate, target, !when)
	default:
		s.fail("unsupported predicate: %T", p)
	}
}

// source puts src in a register, using scratch if it's not in one already.
func (s *selector) source(src ir.Source, scratch ir.Register) ir.Register {
	switch src := src.(type) {
	case ir.Constant:
		if src == 0 {
			return ir.Zero
		}

		s.emit(rv.LoadImmediate{Rd: scratch, Value: int64(src)})

		return scratch
	case ir.Register:
		return src
	case ir.FrameCell:
		s.loadFrom(scratch, ir.FP, cellOffset(src))

		return scratch
	}

	s.fail("unexpected source %v", src)

	return ir.Zero
}

func (s *selector) store(to ir.Location, r ir.Register) {
	switch to := to.(type) {
	case ir.Register:
		if to != r {
			s.emit(rv.Move{Rd: to, Rs: r})
		}
	case ir.FrameCell:
		s.storeAt(r, ir.FP, cellOffset(to))
	default:
		s.fail("unexpected destination %v", to)
	}
}

// offset sets rd to rs moved by off bytes.
func (s *selector) offset(rd, rs ir.Register, off int) {
	if rv.FitsImmediate(off) {
		s.emit(rv.OffsetCapability{Rd: rd, Rs: rs, Offset: off})
		return
	}

	s.emit(
		rv.LoadImmediate{Rd: ir.T3, Value: int64(off)},
		rv.OffsetCapabilityBy{Rd: rd, Rs: rs, By: ir.T3},
	)
}

// address returns a base and an immediate which together reach base+off.
func (s *selector) address(base ir.Register, off int) (ir.Register, int) {
	if rv.FitsImmediate(off) {
		return base, off
	}

	s.offset(ir.T3, base, off)

	return ir.T3, 0
}

func (s *selector) loadFrom(rd, base ir.Register, off int) {
	base, off = s.address(base, off)

	s.emit(rv.LoadCapability{Rd: rd, Base: base, Offset: off})
}

func (s *selector) storeAt(rs, base ir.Register, off int) {
	base, off = s.address(base, off)

	s.emit(rv.StoreCapability{Rs: rs, Base: base, Offset: off})
}

func (s *selector) label() string {
	s.labels++

	return fmt.Sprintf(".L%s.%d", s.name, s.labels)
}

func (s *selector) emit(xs ...rv.Instruction) {
	s.out = append(s.out, xs...)
}

func (s *selector) fail(format string, args ...any) {
	if s.err == nil {
		s.err = errors.New(format, args...)
	}
}

func cellOffset(c ir.FrameCell) int {
	return -c.Offset - ir.SlotSize
}
