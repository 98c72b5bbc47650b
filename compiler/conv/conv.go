package conv

import (
	"tlog.app/go/tlog/tlwire"

	"github.com/slowlang/capc/compiler/ir"
)

type (
	// Convention is the register protocol both sides of a call agree on.
	Convention struct {
		Arguments   []ir.Register
		Result      ir.Register
		CalleeSaved []ir.Register
		CallerSaved []ir.Register

		// Assignable is the order the allocator tries registers in.
		Assignable []ir.Register
	}

	// Assignment binds a procedure's parameters to physical locations.
	Assignment struct {
		ViaRegisters []RegisterAssignment
		ViaFrame     []FrameAssignment

		Frame ir.Frame
	}

	RegisterAssignment struct {
		Parameter ir.Parameter
		Register  ir.Register
	}

	FrameAssignment struct {
		Parameter ir.Parameter

		// Cell is the callee's view of the slot.
		Cell ir.FrameCell

		// CallerOffset is the slot's offset from the caller's stack pointer
		// right after the argument buffer is pushed.
		CallerOffset int
	}
)

var (
	DefaultArguments = []ir.Register{ir.A0, ir.A1, ir.A2, ir.A3, ir.A4, ir.A5, ir.A6, ir.A7}

	calleeSaved = []ir.Register{ir.S1, ir.S2, ir.S3, ir.S4, ir.S5, ir.S6, ir.S7, ir.S8, ir.S9, ir.S10, ir.S11}
)

// New makes the convention passing parameters in args.
// Temporaries t0-t6 are left out of every class: they are scratch
// registers of the instruction selector.
func New(args []ir.Register) Convention {
	c := Convention{
		Arguments:   append([]ir.Register{}, args...),
		Result:      ir.A0,
		CalleeSaved: append([]ir.Register{}, calleeSaved...),
		CallerSaved: append([]ir.Register{}, DefaultArguments...),
	}

	c.Assignable = append(c.Assignable, c.CallerSaved...)
	c.Assignable = append(c.Assignable, c.CalleeSaved...)

	return c
}

// Assign splits params into a register-resident prefix and a frame-resident rest.
// Frame-resident parameters get cells in declaration order, followed by
// the saved frame pointer and return address cells.
func (c Convention) Assign(params []ir.Parameter) (a Assignment) {
	for i, p := range params {
		if i < len(c.Arguments) {
			a.ViaRegisters = append(a.ViaRegisters, RegisterAssignment{Parameter: p, Register: c.Arguments[i]})
			continue
		}

		a.ViaFrame = append(a.ViaFrame, FrameAssignment{Parameter: p, Cell: a.Frame.Allocate()})
	}

	a.Frame.Arguments = a.Frame.Size

	for i := range a.ViaFrame {
		fa := &a.ViaFrame[i]
		fa.CallerOffset = a.Frame.Arguments - fa.Cell.Offset - ir.SlotSize
	}

	a.Frame.Allocate() // saved fp
	a.Frame.Allocate() // saved ra

	return a
}

// ArgumentBytes is the size of the buffer the caller pushes.
func (a Assignment) ArgumentBytes() int {
	return a.Frame.Arguments
}

// Registers lists parameter registers in order.
func (a Assignment) Registers() []ir.Register {
	r := make([]ir.Register, len(a.ViaRegisters))

	for i, ra := range a.ViaRegisters {
		r[i] = ra.Register
	}

	return r
}

func (c Convention) IsCalleeSaved(r ir.Register) bool {
	return contains(c.CalleeSaved, r)
}

func (c Convention) IsCallerSaved(r ir.Register) bool {
	return contains(c.CallerSaved, r)
}

func (a Assignment) TlogAppend(b []byte) []byte {
	var e tlwire.Encoder

	b = e.AppendMap(b, 3)
	b = e.AppendKeyInt(b, "registers", len(a.ViaRegisters))
	b = e.AppendKeyInt(b, "frame", len(a.ViaFrame))
	b = e.AppendKeyInt(b, "bytes", a.ArgumentBytes())

	return b
}

func contains(rs []ir.Register, r ir.Register) bool {
	for _, x := range rs {
		if x == r {
			return true
		}
	}

	return false
}
