// Package cc is the calling convention level: the highest level,
// with procedures taking typed parameters and calls passing arguments.
package cc

import (
	"github.com/slowlang/capc/compiler/format"
	"github.com/slowlang/capc/compiler/ir"
)

type (
	Program struct {
		Effect     Effect
		Procedures []Procedure
	}

	Procedure struct {
		Name       string
		Parameters []ir.Parameter
		Result     ir.DataType
		Effect     Effect
	}

	Effect interface {
		effect()
	}

	Do struct {
		Effects []Effect
	}

	Set struct {
		To   ir.Abstract
		From ir.Source
	}

	Compute struct {
		To        ir.Abstract
		Lhs       ir.Source
		Operation ir.BinaryOperator
		Rhs       ir.Source
	}

	If struct {
		Predicate ir.Predicate
		Then      Effect
		Else      Effect
	}

	// Call invokes a procedure. An empty Result discards the returned value.
	Call struct {
		Procedure string
		Arguments []ir.Source
		Result    ir.Abstract
	}

	Return struct {
		Result ir.Source
	}
)

var codec = format.Variants[Effect](ir.Variants(format.New()),
	Do{}, Set{}, Compute{}, If{}, Call{}, Return{},
)

func (Do) effect()      {}
func (Set) effect()     {}
func (Compute) effect() {}
func (If) effect()      {}
func (Call) effect()    {}
func (Return) effect()  {}

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
	main := Procedure{Name: ir.EntryPoint, Result: ir.S32, Effect: p.Effect}

	err := f(&main)

	p.Effect = main.Effect

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

// names lists every abstract location e mentions.
func names(e Effect, add func(ir.Abstract)) {
	src := func(ss ...ir.Source) {
		for _, s := range ss {
			if a, ok := s.(ir.Abstract); ok {
				add(a)
			}
		}
	}

	switch e := e.(type) {
	case Do:
		for _, x := range e.Effects {
			names(x, add)
		}
	case Set:
		src(e.To, e.From)
	case Compute:
		src(e.To, e.Lhs, e.Rhs)
	case If:
		src(ir.Sources(e.Predicate)...)
		names(e.Then, add)
		names(e.Else, add)
	case Call:
		src(e.Arguments...)
		src(e.Result)
	case Return:
		src(e.Result)
	}
}
