// Package rv is the ground level: CHERI-RISC-V instructions
// operating on capability registers in purecap mode.
package rv

import (
	"github.com/nikandfor/hacked/hfmt"

	"github.com/slowlang/capc/compiler/format"
	"github.com/slowlang/capc/compiler/ir"
)

type (
	Program struct {
		Routines []Routine
	}

	Routine struct {
		Name         string
		Instructions []Instruction
	}

	Instruction interface {
		appendAsm(b []byte) []byte
	}

	Label struct {
		Name string
	}

	LoadImmediate struct {
		Rd    ir.Register
		Value int64
	}

	Move struct {
		Rd, Rs ir.Register
	}

	Operation struct {
		Operation    ir.BinaryOperator
		Rd, Rs1, Rs2 ir.Register
	}

	LoadCapability struct {
		Rd, Base ir.Register
		Offset   int
	}

	StoreCapability struct {
		Rs, Base ir.Register
		Offset   int
	}

	OffsetCapability struct {
		Rd, Rs ir.Register
		Offset int
	}

	// OffsetCapabilityBy moves Rs by the integer in By.
	OffsetCapabilityBy struct {
		Rd, Rs, By ir.Register
	}

	Branch struct {
		Relation ir.Relation
		Rs1, Rs2 ir.Register
		Target   string
	}

	Jump struct {
		Target string
	}

	Call struct {
		Target string
	}

	Return struct{}
)

var codec = format.Variants[Instruction](ir.Variants(format.New()),
	Label{}, LoadImmediate{}, Move{}, Operation{},
	LoadCapability{}, StoreCapability{}, OffsetCapability{}, OffsetCapabilityBy{},
	Branch{}, Jump{}, Call{}, Return{},
)

var branches = map[ir.Relation]string{
	ir.Eq: "beq",
	ir.Ne: "bne",
	ir.Lt: "blt",
	ir.Le: "ble",
	ir.Gt: "bgt",
	ir.Ge: "bge",
}

func Decode(data []byte) (*Program, error) {
	var p Program

	err := codec.Decode(data, &p)
	if err != nil {
		return nil, err
	}

	return &p, nil
}

func (p *Program) Encode(width int) ([]byte, error) {
	return codec.Encode(p, width)
}

// Immediates of clc, csc and cincoffset are signed 12 bits.
const (
	MinImmediate = -1 << 11
	MaxImmediate = 1<<11 - 1
)

func FitsImmediate(x int) bool {
	return x >= MinImmediate && x <= MaxImmediate
}

// Symbol is the assembly symbol of a routine.
// The prefix keeps routines apart from C library symbols.
func Symbol(name string) string {
	return "capc." + name
}

func (x Label) appendAsm(b []byte) []byte {
	return hfmt.Appendf(b, "%s:\n", x.Name)
}

func (x LoadImmediate) appendAsm(b []byte) []byte {
	return hfmt.Appendf(b, "\tli\t%v, %d\n", x.Rd, x.Value)
}

func (x Move) appendAsm(b []byte) []byte {
	return hfmt.Appendf(b, "\tcmove\t%s, %s\n", x.Rd.Capability(), x.Rs.Capability())
}

func (x Operation) appendAsm(b []byte) []byte {
	return hfmt.Appendf(b, "\t%s\t%v, %v, %v\n", x.Operation, x.Rd, x.Rs1, x.Rs2)
}

func (x LoadCapability) appendAsm(b []byte) []byte {
	return hfmt.Appendf(b, "\tclc\t%s, %d(%s)\n", x.Rd.Capability(), x.Offset, x.Base.Capability())
}

func (x StoreCapability) appendAsm(b []byte) []byte {
	return hfmt.Appendf(b, "\tcsc\t%s, %d(%s)\n", x.Rs.Capability(), x.Offset, x.Base.Capability())
}

func (x OffsetCapability) appendAsm(b []byte) []byte {
	return hfmt.Appendf(b, "\tcincoffset\t%s, %s, %d\n", x.Rd.Capability(), x.Rs.Capability(), x.Offset)
}

func (x OffsetCapabilityBy) appendAsm(b []byte) []byte {
	return hfmt.Appendf(b, "\tcincoffset\t%s, %s, %v\n", x.Rd.Capability(), x.Rs.Capability(), x.By)
}

func (x Branch) appendAsm(b []byte) []byte {
	return hfmt.Appendf(b, "\t%s\t%v, %v, %s\n", branches[x.Relation], x.Rs1, x.Rs2, x.Target)
}

func (x Jump) appendAsm(b []byte) []byte {
	return hfmt.Appendf(b, "\tj\t%s\n", x.Target)
}

func (x Call) appendAsm(b []byte) []byte {
	return hfmt.Appendf(b, "\tcjal\tcra, %s\n", Symbol(x.Target))
}

func (x Return) appendAsm(b []byte) []byte {
	return append(b, "\tcret\n"...)
}
