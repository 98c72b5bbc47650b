package stage

import (
	"context"

	"tlog.app/go/errors"
	"tlog.app/go/tlog"

	"github.com/slowlang/capc/compiler/config"
)

type (
	// Targets are what a reduction produces.
	Targets struct {
		Levels []string
		Binary bool
	}

	Snapshot struct {
		Level string
		Data  []byte
	}

	Result struct {
		// Snapshots are in chain order.
		Snapshots []Snapshot
		Binary    []byte
	}
)

// Reduce decodes data as a program of the source level and walks it
// down the chain, snapshotting every requested level on the way.
// It stops once nothing more is requested.
func Reduce(ctx context.Context, source string, data []byte, t Targets, cfg *config.Config) (res *Result, err error) {
	tr, ctx := tlog.SpawnFromContextAndWrap(ctx, "reduce", "source", source, "levels", t.Levels, "binary", t.Binary)
	defer tr.Finish("err", &err)

	from, err := Lookup(source)
	if err != nil {
		return nil, errors.Wrap(err, "source")
	}

	want := map[int]bool{}

	for _, name := range t.Levels {
		i, err := Lookup(name)
		if err != nil {
			return nil, errors.Wrap(err, "target")
		}

		if i < from {
			return nil, errors.Wrap(ErrUnreachedLevel, "%v from %v", Chain[i].Name, Chain[from].Name)
		}

		want[i] = true
	}

	p, err := Chain[from].decode(data)
	if err != nil {
		return nil, errors.Wrap(err, "decode %v", Chain[from].Name)
	}

	res = &Result{}

	err = reduce(ctx, from, p, want, t.Binary, cfg, res)
	if err != nil {
		return nil, err
	}

	return res, nil
}

func reduce(ctx context.Context, i int, p Program, want map[int]bool, binary bool, cfg *config.Config, res *Result) (err error) {
	l := Chain[i]

	tr, ctx := tlog.SpawnFromContextAndWrap(ctx, "level", "level", l.Name)
	defer tr.Finish("err", &err)

	if cfg.Optimise {
		rounds := 0

		for rounds < cfg.OptimisationRounds && p.Optimise(ctx, cfg) {
			rounds++
		}

		tr.V("optimise").Printw("optimised", "rounds", rounds)
	}

	if cfg.Validate {
		err = p.Validate(ctx, cfg)
		if err != nil {
			return errors.Wrap(err, "level %v: validate", l.Name)
		}
	}

	if want[i] {
		data, err := p.Encode(cfg.MaximumLineLength)
		if err != nil {
			return errors.Wrap(err, "level %v: encode", l.Name)
		}

		res.Snapshots = append(res.Snapshots, Snapshot{Level: l.Name, Data: data})
		delete(want, i)
	}

	if len(want) == 0 && !binary {
		return nil
	}

	if l.IsGround() {
		res.Binary, err = l.assemble(ctx, p, cfg)
		if err != nil {
			return errors.Wrap(err, "level %v: assemble", l.Name)
		}

		return nil
	}

	next, err := l.lower(ctx, p, cfg)
	if err != nil {
		return errors.Wrap(err, "level %v: lower", l.Name)
	}

	return reduce(ctx, i+1, next, want, binary, cfg, res)
}
