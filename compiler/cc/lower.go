package cc

import (
	"context"
	"sort"

	"tlog.app/go/errors"
	"tlog.app/go/tlog"

	"github.com/slowlang/capc/compiler/al"
	"github.com/slowlang/capc/compiler/config"
	"github.com/slowlang/capc/compiler/conv"
	"github.com/slowlang/capc/compiler/ir"
)

type (
	lowering struct {
		r     *Procedure
		conv  conv.Convention
		procs map[string]*Procedure

		bag    *ir.Bag
		types  map[ir.Abstract]ir.DataType
		params map[ir.Abstract]bool

		// saved[i] holds the caller's value of conv.CalleeSaved[i].
		saved []ir.Abstract
	}
)

// Lower makes the calling convention explicit.
// Each routine saves callee-saved registers into fresh locations,
// binds its parameters and restores the registers before returning.
// Calls write frame-resident arguments first and register ones last.
func (p *Program) Lower(ctx context.Context, cfg *config.Config) (_ *al.Program, err error) {
	tr, ctx := tlog.SpawnFromContextAndWrap(ctx, "lower cc", "procedures", len(p.Procedures))
	defer tr.Finish("err", &err)

	procs := make(map[string]*Procedure, len(p.Procedures))

	for i := range p.Procedures {
		procs[p.Procedures[i].Name] = &p.Procedures[i]
	}

	c := cfg.Convention()
	res := &al.Program{}

	err = p.routines(func(r *Procedure) error {
		l := &lowering{
			r:      r,
			conv:   c,
			procs:  procs,
			bag:    ir.NewBag(),
			types:  make(map[ir.Abstract]ir.DataType),
			params: make(map[ir.Abstract]bool),
		}

		body, err := l.routine()
		if err != nil {
			return errors.Wrap(err, "procedure %v", r.Name)
		}

		if tr.If("dump_types") {
			tr.Printw("types", "routine", r.Name, "locals", len(l.types))
		}

		if r.Name == ir.EntryPoint {
			res.Locals, res.Effect = l.locals(), body
			return nil
		}

		res.Procedures = append(res.Procedures, al.Procedure{
			Name:       r.Name,
			Parameters: r.Parameters,
			Locals:     l.locals(),
			Effect:     body,
		})

		return nil
	})
	if err != nil {
		return nil, err
	}

	return res, nil
}

func (l *lowering) routine() (_ al.Effect, err error) {
	for _, x := range l.r.Parameters {
		l.bag.Add(string(x.Location))
	}

	names(l.r.Effect, func(a ir.Abstract) {
		l.bag.Add(string(a))
	})

	for _, x := range l.r.Parameters {
		if l.params[x.Location] {
			return nil, errors.Wrap(ErrDuplicateName, "parameter %v", x.Location)
		}

		l.params[x.Location] = true
		l.types[x.Location] = x.Type
	}

	r := []al.Effect{al.PushScope{}}

	for _, reg := range l.conv.CalleeSaved {
		s := l.bag.Unique("saved_" + reg.String())

		l.types[s] = ir.Capability
		l.saved = append(l.saved, s)

		r = append(r, al.Set{To: s, From: reg})
	}

	// frame-resident parameters already live in their cells
	for _, ra := range l.conv.Assign(l.r.Parameters).ViaRegisters {
		r = append(r, al.Set{To: ra.Parameter.Location, From: ra.Register})
	}

	body, err := l.effect(l.r.Effect)
	if err != nil {
		return nil, err
	}

	return al.Do{Effects: append(r, body)}, nil
}

func (l *lowering) effect(e Effect) (_ al.Effect, err error) {
	switch e := e.(type) {
	case Do:
		r := make([]al.Effect, len(e.Effects))

		for i, x := range e.Effects {
			r[i], err = l.effect(x)
			if err != nil {
				return nil, err
			}
		}

		return al.Do{Effects: r}, nil
	case Set:
		t, err := l.typeOf(e.From)
		if err != nil {
			return nil, err
		}

		err = l.define(e.To, t)
		if err != nil {
			return nil, err
		}

		return al.Set{To: e.To, From: e.From}, nil
	case Compute:
		for _, s := range []ir.Source{e.Lhs, e.Rhs} {
			err = l.expect(s, ir.S32)
			if err != nil {
				return nil, errors.Wrap(err, "operand of %v", e.Operation)
			}
		}

		err = l.define(e.To, ir.S32)
		if err != nil {
			return nil, err
		}

		return al.Compute{To: e.To, Lhs: e.Lhs, Operation: e.Operation, Rhs: e.Rhs}, nil
	case If:
		for _, s := range ir.Sources(e.Predicate) {
			err = l.expect(s, ir.S32)
			if err != nil {
				return nil, errors.Wrap(err, "predicate")
			}
		}

		then, err := l.effect(e.Then)
		if err != nil {
			return nil, err
		}

		els, err := l.effect(e.Else)
		if err != nil {
			return nil, err
		}

		return al.If{Predicate: e.Predicate, Then: then, Else: els}, nil
	case Call:
		return l.call(e)
	case Return:
		return l.ret(e)
	case nil:
		return al.Do{}, nil
	}

	return nil, errors.Wrap(ErrMalformedEffect, "effect %T", e)
}

func (l *lowering) call(e Call) (al.Effect, error) {
	callee, ok := l.procs[e.Procedure]
	if !ok {
		return nil, errors.Wrap(ErrUnrecognisedProcedure, "%v", e.Procedure)
	}

	if len(e.Arguments) != len(callee.Parameters) {
		return nil, errors.Wrap(ErrTypeMismatch, "%v takes %d arguments, got %d", e.Procedure, len(callee.Parameters), len(e.Arguments))
	}

	for i, arg := range e.Arguments {
		err := l.expect(arg, callee.Parameters[i].Type)
		if err != nil {
			return nil, errors.Wrap(err, "argument %d of %v", i, e.Procedure)
		}
	}

	asg := l.conv.Assign(callee.Parameters)
	bytes := asg.ArgumentBytes()

	var r []al.Effect

	if bytes != 0 {
		r = append(r, al.PushArguments{Bytes: bytes})
	}

	for j, fa := range asg.ViaFrame {
		r = append(r, al.SetArgument{Offset: fa.CallerOffset, From: e.Arguments[len(asg.ViaRegisters)+j]})
	}

	for i, ra := range asg.ViaRegisters {
		arg := e.Arguments[i]

		if reg, ok := arg.(ir.Register); ok {
			for _, prev := range asg.ViaRegisters[:i] {
				if prev.Register == reg {
					return nil, errors.Wrap(ErrOverwrittenArgument, "argument %d of %v reads %v", i, e.Procedure, reg)
				}
			}
		}

		r = append(r, al.Set{To: ra.Register, From: arg})
	}

	r = append(r, al.Call{Procedure: e.Procedure, Parameters: asg.Registers()})

	if bytes != 0 {
		r = append(r, al.PopArguments{Bytes: bytes})
	}

	if e.Result != "" {
		err := l.define(e.Result, callee.Result)
		if err != nil {
			return nil, err
		}

		r = append(r, al.Set{To: e.Result, From: l.conv.Result})
	}

	return al.Do{Effects: r}, nil
}

func (l *lowering) ret(e Return) (al.Effect, error) {
	err := l.expect(e.Result, l.r.Result)
	if err != nil {
		return nil, errors.Wrap(err, "result")
	}

	r := []al.Effect{al.Set{To: l.conv.Result, From: e.Result}}

	for i, reg := range l.conv.CalleeSaved {
		r = append(r, al.Set{To: reg, From: l.saved[i]})
	}

	r = append(r, al.PopScope{}, al.Return{})

	return al.Do{Effects: r}, nil
}

// typeOf returns the type of s.
// Registers may hold anything and have no type.
func (l *lowering) typeOf(s ir.Source) (ir.DataType, error) {
	switch s := s.(type) {
	case ir.Constant:
		return ir.S32, nil
	case ir.Abstract:
		t, ok := l.types[s]
		if !ok {
			return "", errors.Wrap(ErrUndefinedLocation, "%v", s)
		}

		return t, nil
	case ir.Register:
		return "", nil
	}

	return "", errors.Wrap(ErrMalformedEffect, "source %v", s)
}

func (l *lowering) expect(s ir.Source, t ir.DataType) error {
	st, err := l.typeOf(s)
	if err != nil {
		return err
	}

	if st != "" && st != t {
		return errors.Wrap(ErrTypeMismatch, "%v is %v, want %v", s, st, t)
	}

	return nil
}

func (l *lowering) define(a ir.Abstract, t ir.DataType) error {
	if t == "" {
		t = ir.S32
	}

	if was, ok := l.types[a]; ok && was != t {
		return errors.Wrap(ErrTypeMismatch, "%v is %v, assigned %v", a, was, t)
	}

	l.types[a] = t

	return nil
}

// locals lists the declarations of non-parameter locations by name.
func (l *lowering) locals() []al.Declaration {
	var r []al.Declaration

	for a, t := range l.types {
		if !l.params[a] {
			r = append(r, al.Declaration{Location: a, Type: t})
		}
	}

	sort.Slice(r, func(i, j int) bool {
		return r[i].Location < r[j].Location
	})

	return r
}
