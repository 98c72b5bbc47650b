package cc

import (
	"context"

	"github.com/hashicorp/go-multierror"
	"tlog.app/go/errors"
	"tlog.app/go/tlog"

	"github.com/slowlang/capc/compiler/config"
	"github.com/slowlang/capc/compiler/ir"
)

var (
	ErrNonterminating        = errors.New("some execution paths do not terminate")
	ErrDuplicateName         = errors.New("duplicate procedure name")
	ErrUnrecognisedProcedure = errors.New("unrecognised procedure")
	ErrOverwrittenArgument   = errors.New("argument register already overwritten")
	ErrTypeMismatch          = errors.New("location used with an incompatible type")
	ErrUndefinedLocation     = errors.New("location read before it is assigned")
	ErrMalformedEffect       = errors.New("malformed effect")
)

// Optimise folds constants, decides constant branches,
// removes copies to self and unreachable effects, and flattens sequences.
func (p *Program) Optimise(ctx context.Context, cfg *config.Config) (changed bool) {
	_ = p.routines(func(r *Procedure) error {
		var ch bool

		r.Effect, ch = optimise(r.Effect)
		changed = changed || ch

		return nil
	})

	if changed {
		tlog.SpanFromContext(ctx).V("optimise").Printw("cc optimised")
	}

	return changed
}

func optimise(e Effect) (Effect, bool) {
	switch e := e.(type) {
	case Do:
		var r []Effect
		changed := false

		for i, x := range e.Effects {
			x, ch := optimise(x)
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
	case Compute:
		l, lok := e.Lhs.(ir.Constant)
		r, rok := e.Rhs.(ir.Constant)

		if lok && rok && e.Operation.Valid() {
			return Set{To: e.To, From: ir.Constant(e.Operation.Apply(int64(l), int64(r)))}, true
		}
	case If:
		pred, changed := ir.Simplify(e.Predicate)

		if t, ok := pred.(ir.Truth); ok {
			if t.Value {
				return e.Then, true
			}

			return e.Else, true
		}

		then, tch := optimise(e.Then)
		els, ech := optimise(e.Else)

		return If{Predicate: pred, Then: then, Else: els}, changed || tch || ech
	}

	return e, false
}

// Validate checks procedure names are unique, every path returns
// and operators, relations and types are known.
func (p *Program) Validate(ctx context.Context, cfg *config.Config) error {
	var errs *multierror.Error

	seen := map[string]bool{ir.EntryPoint: true}

	for _, r := range p.Procedures {
		if seen[r.Name] {
			errs = multierror.Append(errs, errors.Wrap(ErrDuplicateName, "%v", r.Name))
		}

		seen[r.Name] = true
	}

	_ = p.routines(func(r *Procedure) error {
		fail := func(err error) {
			errs = multierror.Append(errs, errors.Wrap(err, "procedure %v", r.Name))
		}

		if !terminates(r.Effect) {
			fail(ErrNonterminating)
		}

		if !r.Result.Valid() {
			fail(errors.Wrap(ErrMalformedEffect, "result type %q", r.Result))
		}

		for _, x := range r.Parameters {
			if !x.Type.Valid() {
				fail(errors.Wrap(ErrMalformedEffect, "parameter %v type %q", x.Location, x.Type))
			}
		}

		check(r.Effect, fail)

		return nil
	})

	return errs.ErrorOrNil()
}

func check(e Effect, fail func(error)) {
	switch e := e.(type) {
	case Do:
		for _, x := range e.Effects {
			check(x, fail)
		}
	case Compute:
		if err := ir.CheckOperation(e.Operation); err != nil {
			fail(errors.Wrap(ErrMalformedEffect, "%v", err))
		}
	case If:
		if err := ir.CheckPredicate(e.Predicate); err != nil {
			fail(errors.Wrap(ErrMalformedEffect, "%v", err))
		}

		check(e.Then, fail)
		check(e.Else, fail)
	case Set, Call, Return:
	default:
		fail(errors.Wrap(ErrMalformedEffect, "effect %T", e))
	}
}
