// Package al is the abstract locations level.
// The calling convention is explicit here: registers, argument buffers
// and scope brackets appear as effects, but values still live in
// unbounded abstract locations until they are assigned homes.
package al

import (
	"github.com/slowlang/capc/compiler/format"
	"github.com/slowlang/capc/compiler/ir"
)

type (
	Program struct {
		Locals     []Declaration
		Effect     Effect
		Procedures []Procedure
	}

	Procedure struct {
		Name       string
		Parameters []ir.Parameter
		Locals     []Declaration
		Effect     Effect
	}

	Declaration struct {
		Location ir.Abstract
		Type     ir.DataType
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

	// PushScope starts a region where callee-saved registers are ours.
	PushScope struct{}

	// PopScope ends it; callee-saved registers must hold the caller's values again.
	PopScope struct{}

	PushArguments struct {
		Bytes int
	}

	SetArgument struct {
		Offset int
		From   ir.Source
	}

	PopArguments struct {
		Bytes int
	}

	// Call reads Parameters and clobbers every caller-saved register.
	Call struct {
		Procedure  string
		Parameters []ir.Register
	}

	// Return leaves with the result in the result register.
	Return struct{}
)

var codec = format.Variants[Effect](ir.Variants(format.New()),
	Do{}, Set{}, Compute{}, If{},
	PushScope{}, PopScope{},
	PushArguments{}, SetArgument{}, PopArguments{},
	Call{}, Return{},
)

func (Do) effect()            {}
func (Set) effect()           {}
func (Compute) effect()       {}
func (If) effect()            {}
func (PushScope) effect()     {}
func (PopScope) effect()      {}
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
	main := Procedure{Name: ir.EntryPoint, Locals: p.Locals, Effect: p.Effect}

	err := f(&main)

	p.Locals, p.Effect = main.Locals, main.Effect

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

// mapSources rewrites every source and destination of e.
// f must map locations to locations.
func mapSources(e Effect, f func(ir.Source) ir.Source) Effect {
	loc := func(l ir.Location) ir.Location {
		return f(l).(ir.Location)
	}

	switch e := e.(type) {
	case Do:
		r := make([]Effect, len(e.Effects))

		for i, x := range e.Effects {
			r[i] = mapSources(x, f)
		}

		return Do{Effects: r}
	case Set:
		return Set{To: loc(e.To), From: f(e.From)}
	case Compute:
		return Compute{To: loc(e.To), Lhs: f(e.Lhs), Operation: e.Operation, Rhs: f(e.Rhs)}
	case If:
		return If{
			Predicate: ir.MapSources(e.Predicate, f),
			Then:      mapSources(e.Then, f),
			Else:      mapSources(e.Else, f),
		}
	case SetArgument:
		return SetArgument{Offset: e.Offset, From: f(e.From)}
	}

	return e
}

// walk calls f for e and every effect nested in it.
func walk(e Effect, f func(Effect)) {
	f(e)

	switch e := e.(type) {
	case Do:
		for _, x := range e.Effects {
			walk(x, f)
		}
	case If:
		walk(e.Then, f)
		walk(e.Else, f)
	}
}

func sources(e Effect) []ir.Source {
	switch e := e.(type) {
	case Set:
		return []ir.Source{e.To, e.From}
	case Compute:
		return []ir.Source{e.To, e.Lhs, e.Rhs}
	case If:
		return ir.Sources(e.Predicate)
	case SetArgument:
		return []ir.Source{e.From}
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
