package fl

import (
	"context"

	"tlog.app/go/errors"
	"tlog.app/go/tlog"

	"github.com/slowlang/capc/compiler/config"
	"github.com/slowlang/capc/compiler/ir"
)

type (
	// machine runs frame level programs with the memory layout
	// the instruction selector produces.
	machine struct {
		procs       map[string]*Procedure
		calleeSaved []ir.Register

		regs [ir.NumRegisters]int64
		mem  map[int64]int64

		// alloc is the register frames and argument buffers are carved from.
		alloc    ir.Register
		heapOnly bool

		depth   int
		returns int64
	}
)

const (
	stackTop = 1 << 30
	heapBase = 1 << 20

	maxDepth = 10000

	returnSentinel = -1
	garbage        = 0x5a5a5a5a
)

var ErrSimulation = errors.New("simulation failed")

// Simulate runs p and returns the value the entry routine returns.
// Caller-saved registers are scrambled after every call and
// callee-saved ones are checked, so convention violations surface as errors.
func Simulate(ctx context.Context, p *Program, cfg *config.Config) (res int64, err error) {
	tr, ctx := tlog.SpawnFromContextAndWrap(ctx, "simulate")
	defer tr.Finish("err", &err)

	err = p.Validate(ctx, cfg)
	if err != nil {
		return 0, errors.Wrap(err, "validate")
	}

	m := &machine{
		procs:       map[string]*Procedure{},
		calleeSaved: cfg.Convention().CalleeSaved,
		mem:         map[int64]int64{},
		alloc:       ir.SP,
		heapOnly:    cfg.HeapOnly(),
	}

	for i := range p.Procedures {
		m.procs[p.Procedures[i].Name] = &p.Procedures[i]
	}

	m.regs[ir.SP] = stackTop

	if m.heapOnly {
		m.alloc = ir.TP
		m.regs[ir.TP] = heapBase
	}

	for i, r := range m.calleeSaved {
		m.regs[r] = int64(1000 + i)
	}

	m.regs[ir.RA] = returnSentinel
	saved := m.regs

	err = m.routine(&Procedure{Name: ir.EntryPoint, Frame: p.Frame, Effect: p.Effect})
	if err != nil {
		return 0, err
	}

	err = m.preserved(ir.EntryPoint, saved)
	if err != nil {
		return 0, err
	}

	if m.regs[ir.RA] != returnSentinel {
		return 0, errors.Wrap(ErrSimulation, "return address is not restored")
	}

	res = m.regs[ir.A0]

	tr.Printw("simulated", "result", res)

	return res, nil
}

func (m *machine) routine(r *Procedure) error {
	done, err := m.run(r, r.Effect)
	if err != nil {
		return errors.Wrap(err, "%v", r.Name)
	}

	if !done {
		return errors.Wrap(ErrSimulation, "%v: fell off the end", r.Name)
	}

	return nil
}

func (m *machine) run(r *Procedure, e Effect) (done bool, err error) {
	switch e := e.(type) {
	case Do:
		for _, x := range e.Effects {
			done, err = m.run(r, x)
			if err != nil || done {
				return done, err
			}
		}
	case Set:
		m.write(e.To, m.read(e.From))
	case Compute:
		m.write(e.To, e.Operation.Apply(m.read(e.Lhs), m.read(e.Rhs)))
	case If:
		if ir.Evaluate(e.Predicate, m.read) {
			return m.run(r, e.Then)
		}

		return m.run(r, e.Else)
	case PushFrame:
		fp := m.regs[m.alloc] + int64(r.Frame.Arguments)

		m.store(fp, r.Frame.SavedFramePointer(), m.regs[ir.FP])
		m.store(fp, r.Frame.SavedReturnAddress(), m.regs[ir.RA])

		m.regs[ir.FP] = fp
		m.regs[m.alloc] = fp - int64(r.Frame.Size)
	case PopFrame:
		fp := m.regs[ir.FP]

		m.regs[ir.RA] = m.load(fp, r.Frame.SavedReturnAddress())

		if !m.heapOnly {
			m.regs[m.alloc] = fp - int64(r.Frame.Arguments)
		}

		m.regs[ir.FP] = m.load(fp, r.Frame.SavedFramePointer())
	case PushArguments:
		m.regs[m.alloc] -= int64(e.Bytes)
	case SetArgument:
		m.mem[m.regs[m.alloc]+int64(e.Offset)] = m.read(e.From)
	case PopArguments:
		if !m.heapOnly {
			m.regs[m.alloc] += int64(e.Bytes)
		}
	case Call:
		return false, m.call(e.Procedure)
	case Return:
		return true, nil
	default:
		return false, errors.New("unsupported effect: %T", e)
	}

	return false, nil
}

func (m *machine) call(name string) error {
	callee, ok := m.procs[name]
	if !ok {
		return errors.Wrap(ErrSimulation, "call to unknown procedure %v", name)
	}

	if m.depth >= maxDepth {
		return errors.Wrap(ErrSimulation, "call depth exceeded")
	}

	m.depth++
	defer func() { m.depth-- }()

	m.returns++
	ret := m.returns

	m.regs[ir.RA] = ret
	saved := m.regs

	err := m.routine(callee)
	if err != nil {
		return err
	}

	if m.regs[ir.RA] != ret {
		return errors.Wrap(ErrSimulation, "%v: return address is not restored", name)
	}

	err = m.preserved(name, saved)
	if err != nil {
		return err
	}

	for r := ir.T0; r <= ir.T2; r++ {
		m.regs[r] = garbage
	}

	for r := ir.A1; r <= ir.A7; r++ {
		m.regs[r] = garbage
	}

	for r := ir.T3; r <= ir.T6; r++ {
		m.regs[r] = garbage
	}

	return nil
}

func (m *machine) preserved(name string, saved [ir.NumRegisters]int64) error {
	for _, r := range append([]ir.Register{ir.SP, ir.FP}, m.calleeSaved...) {
		if r == m.alloc && m.heapOnly {
			continue
		}

		if m.regs[r] != saved[r] {
			return errors.Wrap(ErrSimulation, "%v: callee-saved register %v is not preserved", name, r)
		}
	}

	return nil
}

func (m *machine) read(s ir.Source) int64 {
	switch s := s.(type) {
	case ir.Constant:
		return int64(s)
	case ir.Register:
		if s == ir.Zero {
			return 0
		}

		return m.regs[s]
	case ir.FrameCell:
		return m.load(m.regs[ir.FP], s)
	}

	panic(s)
}

func (m *machine) write(l ir.Location, v int64) {
	switch l := l.(type) {
	case ir.Register:
		if l != ir.Zero {
			m.regs[l] = v
		}
	case ir.FrameCell:
		m.store(m.regs[ir.FP], l, v)
	default:
		panic(l)
	}
}

func (m *machine) load(fp int64, c ir.FrameCell) int64 {
	return m.mem[cellAddress(fp, c)]
}

func (m *machine) store(fp int64, c ir.FrameCell, v int64) {
	m.mem[cellAddress(fp, c)] = v
}

// cellAddress is where a frame cell lives relative to the frame base.
func cellAddress(fp int64, c ir.FrameCell) int64 {
	return fp - int64(c.Offset) - ir.SlotSize
}
