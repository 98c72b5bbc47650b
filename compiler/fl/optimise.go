package fl

import (
	"context"

	"github.com/hashicorp/go-multierror"
	"tlog.app/go/errors"
	"tlog.app/go/tlog"

	"github.com/slowlang/capc/compiler/config"
	"github.com/slowlang/capc/compiler/ir"
)

var (
	ErrAbstractLocation = errors.New("abstract location at frame level")
	ErrUnbalancedScope  = errors.New("unbalanced frame scope")
	ErrNonterminating   = errors.New("some execution paths do not terminate")
	ErrDuplicateName    = errors.New("duplicate procedure name")
	ErrMalformedEffect  = errors.New("malformed effect")
)

// Optimise drops copies to self, flattens sequences
// and removes branches decided by constants.
func (p *Program) Optimise(ctx context.Context, cfg *config.Config) (changed bool) {
	_ = p.routines(func(r *Procedure) error {
		var ch bool

		r.Effect, ch = optimise(r.Effect)
		changed = changed || ch

		return nil
	})

	if changed {
		tlog.SpanFromContext(ctx).V("optimise").Printw("fl optimised")
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

// Validate checks that only physical locations are used,
// operations and relations are known, every path returns
// and frames are pushed and popped exactly once.
func (p *Program) Validate(ctx context.Context, cfg *config.Config) error {
	var errs *multierror.Error

	names := map[string]bool{}

	_ = p.routines(func(r *Procedure) error {
		if names[r.Name] {
			errs = multierror.Append(errs, errors.Wrap(ErrDuplicateName, "%v", r.Name))
		}

		names[r.Name] = true

		c := checker{name: r.Name, errs: errs}

		if !terminates(r.Effect) {
			c.fail(ErrNonterminating, "")
		}

		c.scope(r.Effect, false)

		errs = c.errs

		return nil
	})

	return errs.ErrorOrNil()
}

type checker struct {
	name string
	errs *multierror.Error
}

func (c *checker) scope(e Effect, in bool) (out, done bool) {
	switch e := e.(type) {
	case Do:
		for _, x := range e.Effects {
			in, done = c.scope(x, in)
			if done {
				break
			}
		}

		return in, done
	case Set:
		c.locations(in, e.To, e.From)
	case Compute:
		c.locations(in, e.To, e.Lhs, e.Rhs)

		if err := ir.CheckOperation(e.Operation); err != nil {
			c.fail(ErrMalformedEffect, "%v", err)
		}
	case SetArgument:
		c.locations(in, e.From)
	case If:
		c.locations(in, ir.Sources(e.Predicate)...)

		if err := ir.CheckPredicate(e.Predicate); err != nil {
			c.fail(ErrMalformedEffect, "%v", err)
		}

		t, tdone := c.scope(e.Then, in)
		f, fdone := c.scope(e.Else, in)

		switch {
		case tdone && fdone:
			return in, true
		case tdone:
			return f, false
		case fdone:
			return t, false
		case t != f:
			c.fail(ErrUnbalancedScope, "branches leave the frame differently")
		}

		return t, false
	case PushFrame:
		if in {
			c.fail(ErrUnbalancedScope, "frame pushed twice")
		}

		return true, false
	case PopFrame:
		if !in {
			c.fail(ErrUnbalancedScope, "frame popped before push")
		}

		return false, false
	case Call:
		if !in {
			c.fail(ErrUnbalancedScope, "call to %v outside of frame", e.Procedure)
		}
	case Return:
		if in {
			c.fail(ErrUnbalancedScope, "return without popping frame")
		}

		return in, true
	}

	return in, false
}

func (c *checker) locations(in bool, srcs ...ir.Source) {
	for _, s := range srcs {
		switch l := s.(type) {
		case ir.Abstract:
			c.fail(ErrAbstractLocation, "%v", l)
		case ir.FrameCell:
			if !in {
				c.fail(ErrUnbalancedScope, "%v accessed outside of frame", l)
			}
		}
	}
}

func (c *checker) fail(err error, format string, args ...any) {
	if format != "" {
		err = errors.Wrap(err, format, args...)
	}

	c.errs = multierror.Append(c.errs, errors.Wrap(err, "procedure %v", c.name))
}
