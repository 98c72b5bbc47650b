package al

import (
	"context"

	"tlog.app/go/errors"
	"tlog.app/go/tlog"

	"github.com/slowlang/capc/compiler/alloc"
	"github.com/slowlang/capc/compiler/config"
	"github.com/slowlang/capc/compiler/fl"
	"github.com/slowlang/capc/compiler/ir"
)

// Lower assigns every abstract location a register or a frame cell
// and rewrites each routine in terms of those homes.
func (p *Program) Lower(ctx context.Context, cfg *config.Config) (_ *fl.Program, err error) {
	tr, ctx := tlog.SpawnFromContextAndWrap(ctx, "lower al", "procedures", len(p.Procedures))
	defer tr.Finish("err", &err)

	c := cfg.Convention()
	res := &fl.Program{}

	err = p.routines(func(r *Procedure) error {
		a := Analyse(r, c)

		if tr.If("dump_liveness") {
			tr.Printw("liveness", "routine", r.Name, "entry", a, "conflicts", a.Graph())
		}

		asg, err := alloc.New(ctx, c, r.Parameters, a.Graph())
		if err != nil {
			return errors.Wrap(err, "procedure %v", r.Name)
		}

		body := lower(r.Effect, asg)

		if cfg.Validate {
			err = asg.Check()
			if err != nil {
				return errors.Wrap(err, "procedure %v", r.Name)
			}
		}

		if r.Name == ir.EntryPoint {
			res.Frame, res.Effect = asg.Frame(), body
			return nil
		}

		res.Procedures = append(res.Procedures, fl.Procedure{
			Name:   r.Name,
			Frame:  asg.Frame(),
			Effect: body,
		})

		return nil
	})
	if err != nil {
		return nil, err
	}

	return res, nil
}

func lower(e Effect, asg *alloc.Assignments) fl.Effect {
	switch e := e.(type) {
	case Do:
		r := make([]fl.Effect, len(e.Effects))

		for i, x := range e.Effects {
			r[i] = lower(x, asg)
		}

		return fl.Do{Effects: r}
	case Set:
		return fl.Set{To: asg.Home(e.To), From: asg.HomeOf(e.From)}
	case Compute:
		return fl.Compute{To: asg.Home(e.To), Lhs: asg.HomeOf(e.Lhs), Operation: e.Operation, Rhs: asg.HomeOf(e.Rhs)}
	case If:
		return fl.If{
			Predicate: ir.MapSources(e.Predicate, asg.HomeOf),
			Then:      lower(e.Then, asg),
			Else:      lower(e.Else, asg),
		}
	case PushScope:
		return fl.PushFrame{}
	case PopScope:
		return fl.PopFrame{}
	case PushArguments:
		return fl.PushArguments{Bytes: e.Bytes}
	case SetArgument:
		return fl.SetArgument{Offset: e.Offset, From: asg.HomeOf(e.From)}
	case PopArguments:
		return fl.PopArguments{Bytes: e.Bytes}
	case Call:
		return fl.Call{Procedure: e.Procedure}
	case Return:
		return fl.Return{}
	case nil:
		return fl.Do{}
	}

	panic(e)
}
