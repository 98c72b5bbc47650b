package al

import (
	"context"

	"github.com/hashicorp/go-multierror"
	"tlog.app/go/errors"
	"tlog.app/go/tlog"

	"github.com/slowlang/capc/compiler/config"
	"github.com/slowlang/capc/compiler/conv"
	"github.com/slowlang/capc/compiler/ir"
	"github.com/slowlang/capc/compiler/liveness"
)

var (
	ErrUndefinedLocation   = errors.New("undeclared location")
	ErrDuplicateName       = errors.New("duplicate name")
	ErrUnknownProcedure    = errors.New("unknown procedure")
	ErrNonterminating      = errors.New("some execution paths do not terminate")
	ErrUnassignableStorage = errors.New("location outside of the calling convention")
	ErrMalformedEffect     = errors.New("malformed effect")
)

// Analyse computes liveness backwards from the end of r
// and returns the analysis at its entry.
func Analyse(r *Procedure, c conv.Convention) *liveness.Analysis {
	a := liveness.New()

	analyse(r.Effect, a, c)

	return a
}

func analyse(e Effect, a *liveness.Analysis, c conv.Convention) {
	switch e := e.(type) {
	case Do:
		for i := len(e.Effects) - 1; i >= 0; i-- {
			analyse(e.Effects[i], a, c)
		}
	case Set:
		a.Define(e.To)
		a.Use(e.From)
	case Compute:
		a.Define(e.To)
		a.Use(e.Lhs, e.Rhs)
	case If:
		then := a.Clone()

		analyse(e.Then, then, c)
		analyse(e.Else, a, c)

		a.Union(then)
		a.Use(ir.Sources(e.Predicate)...)
	case PushScope:
		a.Define(locations(c.CalleeSaved)...)
	case PopScope:
		a.Use(sourcesOf(c.CalleeSaved)...)
	case SetArgument:
		a.Use(e.From)
	case Call:
		a.Define(locations(c.CallerSaved)...)
		a.Use(sourcesOf(e.Parameters)...)
	case Return:
		a.Reset()
		a.Use(c.Result)
	}
}

// Optimise merges copy-related locations that may safely share a home
// and drops the copies that become trivial.
func (p *Program) Optimise(ctx context.Context, cfg *config.Config) (changed bool) {
	tr := tlog.SpanFromContext(ctx)
	c := cfg.Convention()

	_ = p.routines(func(r *Procedure) error {
		n := r.coalesce(c)

		var ch bool
		r.Effect, ch = simplify(r.Effect)

		if n != 0 {
			tr.V("coalesce").Printw("coalesced", "routine", r.Name, "merges", n)
		}

		changed = changed || ch || n != 0

		return nil
	})

	return changed
}

func (r *Procedure) coalesce(c conv.Convention) (merges int) {
	for {
		g := Analyse(r, c).Graph()

		from, to, ok := r.candidate(g, c)
		if !ok {
			return merges
		}

		r.rename(from, to)
		merges++
	}
}

// candidate finds the first copy whose ends may be merged.
// It returns the abstract location to drop and its replacement.
func (r *Procedure) candidate(g *liveness.Graph, c conv.Convention) (from ir.Abstract, to ir.Location, ok bool) {
	params := map[ir.Abstract]bool{}
	for _, p := range r.Parameters {
		params[p.Location] = true
	}

	types := map[ir.Abstract]ir.DataType{}
	for _, d := range r.Locals {
		types[d.Location] = d.Type
	}

	assignable := map[ir.Register]bool{}
	for _, reg := range c.Assignable {
		assignable[reg] = true
	}

	mergeable := func(l ir.Location) bool {
		switch l := l.(type) {
		case ir.Abstract:
			_, declared := types[l]
			return declared && !params[l]
		case ir.Register:
			return assignable[l]
		}

		return false
	}

	walk(r.Effect, func(e Effect) {
		s, isSet := e.(Set)
		if ok || !isSet {
			return
		}

		src, isLoc := s.From.(ir.Location)
		if !isLoc || src == s.To || !mergeable(src) || !mergeable(s.To) {
			return
		}

		da, dabs := s.To.(ir.Abstract)
		sa, sabs := src.(ir.Abstract)

		switch {
		case !dabs && !sabs:
			return
		case dabs && sabs && types[da] != types[sa]:
			return
		}

		if !g.SafelyCoalescable(s.To, src, len(c.Assignable)) {
			return
		}

		if sabs {
			from, to = sa, s.To
		} else {
			from, to = da, src
		}

		ok = true
	})

	return from, to, ok
}

func (r *Procedure) rename(from ir.Abstract, to ir.Location) {
	r.Effect = mapSources(r.Effect, func(s ir.Source) ir.Source {
		if s == ir.Source(from) {
			return to
		}

		return s
	})

	locals := r.Locals[:0:0]

	for _, d := range r.Locals {
		if d.Location != from {
			locals = append(locals, d)
		}
	}

	r.Locals = locals
}

// simplify drops copies to self, flattens sequences,
// removes effects after a return and decided branches.
func simplify(e Effect) (Effect, bool) {
	switch e := e.(type) {
	case Do:
		var r []Effect
		changed := false

		for i, x := range e.Effects {
			x, ch := simplify(x)
			changed = changed || ch

			if d, ok := x.(Do); ok {
				r = append(r, d.Effects...)
				changed = true
			} else {
				r = append(r, x)
			}

			if terminates(x) && i+1 < len(e.Effects) {
				changed = true
				break
			}
		}

		if len(r) == 1 {
			return r[0], true
		}

		return Do{Effects: r}, changed
	case Set:
		if ir.Source(e.To) == e.From {
			return Do{}, true
		}
	case If:
		pred, changed := ir.Simplify(e.Predicate)

		if t, ok := pred.(ir.Truth); ok {
			if t.Value {
				return e.Then, true
			}

			return e.Else, true
		}

		then, tch := simplify(e.Then)
		els, ech := simplify(e.Else)

		return If{Predicate: pred, Then: then, Else: els}, changed || tch || ech
	}

	return e, false
}

// Validate checks every abstract location is declared once,
// calls name existing procedures, operations and relations are known
// and every path returns.
func (p *Program) Validate(ctx context.Context, cfg *config.Config) error {
	var errs *multierror.Error

	fail := func(r *Procedure, err error, format string, args ...any) {
		errs = multierror.Append(errs, errors.Wrap(errors.Wrap(err, format, args...), "procedure %v", r.Name))
	}

	procs := map[string]bool{ir.EntryPoint: true}

	for _, r := range p.Procedures {
		if procs[r.Name] {
			errs = multierror.Append(errs, errors.Wrap(ErrDuplicateName, "procedure %v", r.Name))
		}

		procs[r.Name] = true
	}

	c := cfg.Convention()

	_ = p.routines(func(r *Procedure) error {
		declared := map[ir.Abstract]bool{}

		declare := func(l ir.Abstract) {
			if declared[l] {
				fail(r, ErrDuplicateName, "location %v", l)
			}

			declared[l] = true
		}

		for _, x := range r.Parameters {
			declare(x.Location)
		}

		for _, d := range r.Locals {
			declare(d.Location)
		}

		walk(r.Effect, func(e Effect) {
			for _, s := range sources(e) {
				switch l := s.(type) {
				case ir.Abstract:
					if !declared[l] {
						fail(r, ErrUndefinedLocation, "%v", l)
					}
				case ir.Register:
					if !c.IsCalleeSaved(l) && !c.IsCallerSaved(l) {
						fail(r, ErrUnassignableStorage, "register %v", l)
					}
				}
			}

			switch e := e.(type) {
			case Call:
				if e.Procedure == ir.EntryPoint || !procs[e.Procedure] {
					fail(r, ErrUnknownProcedure, "%v", e.Procedure)
				}
			case Compute:
				if err := ir.CheckOperation(e.Operation); err != nil {
					fail(r, ErrMalformedEffect, "%v", err)
				}
			case If:
				if err := ir.CheckPredicate(e.Predicate); err != nil {
					fail(r, ErrMalformedEffect, "%v", err)
				}
			}
		})

		if !terminates(r.Effect) {
			fail(r, ErrNonterminating, "body")
		}

		return nil
	})

	return errs.ErrorOrNil()
}

func locations(rs []ir.Register) []ir.Location {
	r := make([]ir.Location, len(rs))

	for i, x := range rs {
		r[i] = x
	}

	return r
}

func sourcesOf(rs []ir.Register) []ir.Source {
	r := make([]ir.Source, len(rs))

	for i, x := range rs {
		r[i] = x
	}

	return r
}
