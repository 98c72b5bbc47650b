package stage

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/slowlang/capc/compiler/al"
	"github.com/slowlang/capc/compiler/cc"
	"github.com/slowlang/capc/compiler/config"
	"github.com/slowlang/capc/compiler/fl"
	"github.com/slowlang/capc/compiler/ir"
)

func fib() *cc.Program {
	n := ir.Abstract("n")

	return &cc.Program{
		Effect: cc.Do{Effects: []cc.Effect{
			cc.Call{Procedure: "fib", Arguments: []ir.Source{ir.Constant(10)}, Result: "r"},
			cc.Return{Result: ir.Abstract("r")},
		}},
		Procedures: []cc.Procedure{{
			Name:       "fib",
			Parameters: []ir.Parameter{{Location: n, Type: ir.S32}},
			Result:     ir.S32,
			Effect: cc.If{
				Predicate: ir.Comparison{Lhs: n, Relation: ir.Lt, Rhs: ir.Constant(2)},
				Then:      cc.Return{Result: n},
				Else: cc.Do{Effects: []cc.Effect{
					cc.Compute{To: "a", Lhs: n, Operation: ir.Sub, Rhs: ir.Constant(1)},
					cc.Call{Procedure: "fib", Arguments: []ir.Source{ir.Abstract("a")}, Result: "x"},
					cc.Compute{To: "b", Lhs: n, Operation: ir.Sub, Rhs: ir.Constant(2)},
					cc.Call{Procedure: "fib", Arguments: []ir.Source{ir.Abstract("b")}, Result: "y"},
					cc.Compute{To: "s", Lhs: ir.Abstract("x"), Operation: ir.Add, Rhs: ir.Abstract("y")},
					cc.Return{Result: ir.Abstract("s")},
				}},
			},
		}},
	}
}

// pressure keeps twelve values live at once in the callee
// while the caller holds a value across the call.
func pressure() *cc.Program {
	x := ir.Abstract("x")

	var body []cc.Effect
	var vs []ir.Abstract

	for i := 1; i <= 12; i++ {
		v := ir.Abstract("v" + string(rune('a'+i-1)))
		vs = append(vs, v)

		body = append(body, cc.Compute{To: v, Lhs: x, Operation: ir.Add, Rhs: ir.Constant(i)})
	}

	sum := ir.Abstract("sum")
	body = append(body, cc.Set{To: sum, From: ir.Constant(0)})

	for _, v := range vs {
		body = append(body, cc.Compute{To: sum, Lhs: sum, Operation: ir.Add, Rhs: v})
	}

	body = append(body, cc.Return{Result: sum})

	return &cc.Program{
		Effect: cc.Do{Effects: []cc.Effect{
			cc.Set{To: "a", From: ir.Constant(5)},
			cc.Call{Procedure: "f", Arguments: []ir.Source{ir.Constant(1)}, Result: "r"},
			cc.Compute{To: "t", Lhs: ir.Abstract("a"), Operation: ir.Add, Rhs: ir.Abstract("r")},
			cc.Return{Result: ir.Abstract("t")},
		}},
		Procedures: []cc.Procedure{{
			Name:       "f",
			Parameters: []ir.Parameter{{Location: x, Type: ir.S32}},
			Result:     ir.S32,
			Effect:     cc.Do{Effects: body},
		}},
	}
}

// wide passes ten arguments so some of them go through the frame.
func wide() *cc.Program {
	var params []ir.Parameter
	var args []ir.Source
	var body []cc.Effect

	sum := ir.Abstract("sum")
	body = append(body, cc.Set{To: sum, From: ir.Constant(0)})

	for i := 0; i < 10; i++ {
		p := ir.Abstract("p" + string(rune('a'+i)))

		params = append(params, ir.Parameter{Location: p, Type: ir.S32})
		args = append(args, ir.Constant(1<<i))

		body = append(body, cc.Compute{To: sum, Lhs: sum, Operation: ir.Add, Rhs: p})
	}

	body = append(body, cc.Return{Result: sum})

	return &cc.Program{
		Effect: cc.Do{Effects: []cc.Effect{
			cc.Call{Procedure: "sum", Arguments: args, Result: "r"},
			cc.Return{Result: ir.Abstract("r")},
		}},
		Procedures: []cc.Procedure{{
			Name:       "sum",
			Parameters: params,
			Result:     ir.S32,
			Effect:     cc.Do{Effects: body},
		}},
	}
}

func configs() map[string]*config.Config {
	def := config.Default()

	noargs := config.Default()
	noargs.ArgumentRegisters = nil

	heap := config.Default()
	heap.CallingConvention = config.HeapOnly
	heap.ArgumentRegisters = []ir.Register{ir.A0, ir.A1}

	plain := config.Default()
	plain.Optimise = false

	return map[string]*config.Config{
		"default":     def,
		"no_args":     noargs,
		"heap_only":   heap,
		"unoptimised": plain,
	}
}

func run(t *testing.T, p *cc.Program, cfg *config.Config) int64 {
	t.Helper()

	ctx := context.Background()

	data, err := p.Encode(cfg.MaximumLineLength)
	require.NoError(t, err)

	res, err := Reduce(ctx, "CC", data, Targets{Levels: []string{"FL"}}, cfg)
	require.NoError(t, err)
	require.Len(t, res.Snapshots, 1)

	q, err := fl.Decode(res.Snapshots[0].Data)
	require.NoError(t, err)

	v, err := fl.Simulate(ctx, q, cfg)
	require.NoError(t, err, "%s", res.Snapshots[0].Data)

	return v
}

func TestPrograms(t *testing.T) {
	for name, cfg := range configs() {
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, int64(55), run(t, fib(), cfg), "fib")
			assert.Equal(t, int64(95), run(t, pressure(), cfg), "pressure")
			assert.Equal(t, int64(1023), run(t, wide(), cfg), "wide")
		})
	}
}

func TestSnapshotsMatchFullRun(t *testing.T) {
	ctx := context.Background()
	cfg := config.Default()

	data, err := fib().Encode(cfg.MaximumLineLength)
	require.NoError(t, err)

	full, err := Reduce(ctx, "CC", data, Targets{Levels: []string{"cc", "AL", "FL", "RV"}, Binary: true}, cfg)
	require.NoError(t, err)
	require.Len(t, full.Snapshots, 4)
	require.NotEmpty(t, full.Binary)

	for i, s := range full.Snapshots {
		assert.Equal(t, Chain[i].Name, s.Level)

		one, err := Reduce(ctx, "CC", data, Targets{Levels: []string{s.Level}}, cfg)
		require.NoError(t, err)
		require.Len(t, one.Snapshots, 1)
		assert.Nil(t, one.Binary)

		assert.Equal(t, string(s.Data), string(one.Snapshots[0].Data), "level %v", s.Level)

		// resuming from a snapshot reaches the same binary
		rest, err := Reduce(ctx, s.Level, s.Data, Targets{Binary: true}, cfg)
		require.NoError(t, err)

		assert.Equal(t, string(full.Binary), string(rest.Binary), "from %v", s.Level)
	}
}

func TestReduceErrors(t *testing.T) {
	ctx := context.Background()
	cfg := config.Default()

	data, err := fib().Encode(80)
	require.NoError(t, err)

	_, err = Reduce(ctx, "CC", data, Targets{Levels: []string{"FK"}}, cfg)
	assert.ErrorIs(t, err, ErrUnknownLevel)
	assert.ErrorContains(t, err, "did you mean FL")

	_, err = Reduce(ctx, "AL", data, Targets{Levels: []string{"CC"}}, cfg)
	assert.ErrorIs(t, err, ErrUnreachedLevel)

	bad := fib()
	bad.Procedures[0].Effect = cc.Do{}

	data, err = bad.Encode(80)
	require.NoError(t, err)

	_, err = Reduce(ctx, "CC", data, Targets{Binary: true}, cfg)
	assert.ErrorIs(t, err, cc.ErrNonterminating)
}

func TestReduceUnknownOperators(t *testing.T) {
	ctx := context.Background()
	cfg := config.Default()

	lte := ir.Comparison{Lhs: ir.Constant(1), Relation: "lte", Rhs: ir.Constant(2)}

	ccp := &cc.Program{Effect: cc.If{
		Predicate: lte,
		Then:      cc.Return{Result: ir.Constant(1)},
		Else:      cc.Return{Result: ir.Constant(2)},
	}}

	alp := &al.Program{Effect: al.Do{Effects: []al.Effect{
		al.PushScope{},
		al.Compute{To: ir.A0, Lhs: ir.Constant(6), Operation: "div", Rhs: ir.Constant(3)},
		al.If{Predicate: lte, Then: al.Do{}, Else: al.Do{}},
		al.PopScope{},
		al.Return{},
	}}}

	flp := &fl.Program{
		Frame: ir.Frame{Size: 2 * ir.SlotSize},
		Effect: fl.Do{Effects: []fl.Effect{
			fl.PushFrame{},
			fl.Compute{To: ir.A0, Lhs: ir.Constant(6), Operation: "div", Rhs: ir.Constant(3)},
			fl.PopFrame{},
			fl.Return{},
		}},
	}

	for _, tc := range []struct {
		level string
		p     interface{ Encode(int) ([]byte, error) }
		err   error
	}{
		{"CC", ccp, cc.ErrMalformedEffect},
		{"AL", alp, al.ErrMalformedEffect},
		{"FL", flp, fl.ErrMalformedEffect},
	} {
		data, err := tc.p.Encode(80)
		require.NoError(t, err, tc.level)

		res, err := Reduce(ctx, tc.level, data, Targets{Binary: true}, cfg)
		assert.ErrorIs(t, err, tc.err, tc.level)
		assert.Nil(t, res, tc.level)

		unchecked := config.Default()
		unchecked.Validate = false

		assert.NotPanics(t, func() {
			_, err = Reduce(ctx, tc.level, data, Targets{Binary: true}, unchecked)
		}, tc.level)
		assert.Error(t, err, tc.level)
	}
}

func TestLookup(t *testing.T) {
	for i, name := range Names() {
		j, err := Lookup(name)
		require.NoError(t, err)
		assert.Equal(t, i, j)
	}

	assert.True(t, Chain[len(Chain)-1].IsGround())
	assert.False(t, Chain[0].IsGround())

	_, err := Lookup("rw")
	assert.ErrorIs(t, err, ErrUnknownLevel)
	assert.ErrorContains(t, err, "did you mean RV")
}
