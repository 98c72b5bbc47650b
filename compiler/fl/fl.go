// Package fl is the frame locations level.
// Every location is physical: a register or a cell of the current frame.
package fl

import (
	"github.com/slowlang/capc/compiler/format"
	"github.com/slowlang/capc/compiler/ir"
)

type (
	Program struct {
		Frame      ir.Frame
		Effect     Effect
		Procedures []Procedure
	}

	Procedure struct {
		Name   string
		Frame  ir.Frame
		Effect Effect
	}

	Effect interface {
		effect()
	}

	Do struct {
		Effects []Effect
	}

	Set struct {
		To   ir.Location
		From ir.Source
	}

	Compute struct {
		To        ir.Location
		Lhs       ir.Source
		Operation ir.BinaryOperator
		Rhs       ir.Source
	}

	If struct {
		Predicate ir.Predicate
		Then      Effect
		Else      Effect
	}

	// PushFrame saves the caller's frame base and return address
	// and makes room for the current procedure's frame.
	PushFrame struct{}

	PopFrame struct{}

	// PushArguments reserves the buffer frame-resident arguments go into.
	PushArguments struct {
		Bytes int
	}

	// SetArgument writes into the argument buffer at Offset from its bottom.
	SetArgument struct {
		Offset int
		From   ir.Source
	}

	PopArguments struct {
		Bytes int
	}

	Call struct {
		Procedure string
	}

	Return struct{}
)

var codec = format.Variants[Effect](ir.Variants(format.New()),
	Do{}, Set{}, Compute{}, If{},
	PushFrame{}, PopFrame{},
	PushArguments{}, SetArgument{}, PopArguments{},
	Call{}, Return{},
)

func (Do) effect()            {}
func (Set) effect()           {}
func (Compute) effect()       {}
func (If) effect()            {}
func (PushFrame) effect()     {}
func (PopFrame) effect()      {}
func (PushArguments) effect() {}
func (SetArgument) effect()   {}
func (PopArguments) effect()  {}
func (Call) effect()          {}
func (Return) effect()        {}

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

// routines calls f for the entry routine and then every procedure.
func (p *Program) routines(f func(r *Procedure) error) error {
	main := Procedure{Name: ir.EntryPoint, Frame: p.Frame, Effect: p.Effect}

	err := f(&main)

	p.Frame, p.Effect = main.Frame, main.Effect

	if err != nil {
		return err
	}

	for i := range p.Procedures {
		err = f(&p.Procedures[i])
		if err != nil {
			return err
		}
	}

	return nil
}

func terminates(e Effect) bool {
	switch e := e.(type) {
	case Return:
		return true
	case Do:
		for _, x := range e.Effects {
			if terminates(x) {
				return true
			}
		}
	case If:
		return terminates(e.Then) && terminates(e.Else)
	}

	return false
}
