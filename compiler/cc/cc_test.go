package cc

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/slowlang/capc/compiler/al"
	"github.com/slowlang/capc/compiler/config"
	"github.com/slowlang/capc/compiler/ir"
)

func params(n int) (r []ir.Parameter) {
	for i := 0; i < n; i++ {
		r = append(r, ir.Parameter{Location: ir.Abstract(string(rune('a' + i))), Type: ir.S32})
	}

	return r
}

func flatten(e al.Effect) (r []al.Effect) {
	if d, ok := e.(al.Do); ok {
		for _, x := range d.Effects {
			r = append(r, flatten(x)...)
		}

		return r
	}

	return []al.Effect{e}
}

func TestValidateRejectsFallingOffTheEnd(t *testing.T) {
	ctx := context.Background()

	p := &Program{
		Effect: Return{Result: ir.Constant(0)},
		Procedures: []Procedure{{
			Name:       "f",
			Parameters: params(1),
			Result:     ir.S32,
			Effect: If{
				Predicate: ir.Comparison{Lhs: ir.Abstract("a"), Relation: ir.Lt, Rhs: ir.Constant(0)},
				Then:      Return{Result: ir.Constant(1)},
				Else:      Do{},
			},
		}},
	}

	err := p.Validate(ctx, config.Default())
	assert.ErrorIs(t, err, ErrNonterminating)
}

func TestValidateDuplicateNames(t *testing.T) {
	ctx := context.Background()

	p := &Program{
		Effect: Return{Result: ir.Constant(0)},
		Procedures: []Procedure{
			{Name: "f", Result: ir.S32, Effect: Return{Result: ir.Constant(1)}},
			{Name: "f", Result: ir.S32, Effect: Return{Result: ir.Constant(2)}},
			{Name: ir.EntryPoint, Result: ir.S32, Effect: Return{Result: ir.Constant(3)}},
		},
	}

	err := p.Validate(ctx, config.Default())
	assert.ErrorIs(t, err, ErrDuplicateName)
}

func TestOptimise(t *testing.T) {
	ctx := context.Background()

	p := &Program{
		Effect: Do{Effects: []Effect{
			Compute{To: "x", Lhs: ir.Constant(2), Operation: ir.Mul, Rhs: ir.Constant(3)},
			Set{To: "x", From: ir.Abstract("x")},
			If{
				Predicate: ir.Negation{Predicate: ir.Comparison{Lhs: ir.Constant(1), Relation: ir.Gt, Rhs: ir.Constant(2)}},
				Then:      Return{Result: ir.Abstract("x")},
				Else:      Return{Result: ir.Constant(0)},
			},
			Set{To: "y", From: ir.Constant(1)},
		}},
	}

	for p.Optimise(ctx, config.Default()) {
	}

	assert.Equal(t, Do{Effects: []Effect{
		Set{To: "x", From: ir.Constant(6)},
		Return{Result: ir.Abstract("x")},
	}}, p.Effect)
}

func TestLowerCallSequence(t *testing.T) {
	ctx := context.Background()

	args := []ir.Source{}
	for i := 0; i < 10; i++ {
		args = append(args, ir.Constant(i))
	}

	p := &Program{
		Effect: Do{Effects: []Effect{
			Call{Procedure: "f", Arguments: args, Result: "r"},
			Return{Result: ir.Abstract("r")},
		}},
		Procedures: []Procedure{{
			Name:       "f",
			Parameters: params(10),
			Result:     ir.S32,
			Effect:     Return{Result: ir.Abstract("j")},
		}},
	}

	res, err := p.Lower(ctx, config.Default())
	require.NoError(t, err)

	c := config.Default().Convention()
	es := flatten(res.Effect)

	require.Greater(t, len(es), 1+len(c.CalleeSaved))
	assert.Equal(t, al.PushScope{}, es[0])

	for i, reg := range c.CalleeSaved {
		assert.Equal(t, al.Set{To: ir.Abstract("saved_" + reg.String()), From: reg}, es[1+i])
	}

	es = es[1+len(c.CalleeSaved):]

	want := []al.Effect{
		al.PushArguments{Bytes: 32},
		al.SetArgument{Offset: 16, From: ir.Constant(8)},
		al.SetArgument{Offset: 0, From: ir.Constant(9)},
	}

	for i, reg := range c.Arguments {
		want = append(want, al.Set{To: reg, From: ir.Constant(i)})
	}

	want = append(want,
		al.Call{Procedure: "f", Parameters: c.Arguments},
		al.PopArguments{Bytes: 32},
		al.Set{To: ir.Abstract("r"), From: ir.A0},
		al.Set{To: ir.A0, From: ir.Abstract("r")},
	)

	require.Greater(t, len(es), len(want))
	assert.Equal(t, want, es[:len(want)])

	assert.Equal(t, []al.Declaration{{Location: "r", Type: ir.S32}}, declaredExceptSaved(res.Locals))

	require.Len(t, res.Procedures, 1)
	assert.Equal(t, params(10), res.Procedures[0].Parameters)

	fes := flatten(res.Procedures[0].Effect)
	assert.Equal(t, al.Set{To: ir.Abstract("a"), From: ir.A0}, fes[1+len(c.CalleeSaved)])
	assert.Equal(t, al.Return{}, fes[len(fes)-1])
	assert.Equal(t, al.PopScope{}, fes[len(fes)-2])
}

func declaredExceptSaved(ds []al.Declaration) (r []al.Declaration) {
	for _, d := range ds {
		if d.Type != ir.Capability {
			r = append(r, d)
		}
	}

	return r
}

func TestLowerSavedNamesAvoidUserNames(t *testing.T) {
	ctx := context.Background()

	p := &Program{
		Effect: Do{Effects: []Effect{
			Set{To: "saved_s1", From: ir.Constant(1)},
			Return{Result: ir.Abstract("saved_s1")},
		}},
	}

	res, err := p.Lower(ctx, config.Default())
	require.NoError(t, err)

	es := flatten(res.Effect)
	assert.Equal(t, al.Set{To: ir.Abstract("saved_s1$1"), From: ir.S1}, es[1])
	assert.Contains(t, res.Locals, al.Declaration{Location: "saved_s1", Type: ir.S32})
}

func TestLowerErrors(t *testing.T) {
	ctx := context.Background()

	g := Procedure{Name: "g", Parameters: params(2), Result: ir.S32, Effect: Return{Result: ir.Abstract("a")}}
	h := Procedure{Name: "h", Parameters: []ir.Parameter{{Location: "c", Type: ir.Capability}}, Result: ir.S32, Effect: Return{Result: ir.Constant(0)}}

	for _, tc := range []struct {
		name string
		body Effect
		err  error
	}{
		{"unrecognised", Do{Effects: []Effect{
			Call{Procedure: "nope", Result: "r"},
			Return{Result: ir.Abstract("r")},
		}}, ErrUnrecognisedProcedure},
		{"overwritten_argument", Do{Effects: []Effect{
			Call{Procedure: "g", Arguments: []ir.Source{ir.A1, ir.A0}, Result: "r"},
			Return{Result: ir.Abstract("r")},
		}}, ErrOverwrittenArgument},
		{"arity", Do{Effects: []Effect{
			Call{Procedure: "g", Arguments: []ir.Source{ir.Constant(1)}},
			Return{Result: ir.Constant(0)},
		}}, ErrTypeMismatch},
		{"argument_type", Do{Effects: []Effect{
			Call{Procedure: "h", Arguments: []ir.Source{ir.Constant(1)}},
			Return{Result: ir.Constant(0)},
		}}, ErrTypeMismatch},
		{"undefined", Return{Result: ir.Abstract("x")}, ErrUndefinedLocation},
	} {
		t.Run(tc.name, func(t *testing.T) {
			p := &Program{Effect: tc.body, Procedures: []Procedure{g, h}}

			_, err := p.Lower(ctx, config.Default())
			assert.ErrorIs(t, err, tc.err)
		})
	}
}

func TestLowerArgumentMayReadItsOwnRegister(t *testing.T) {
	ctx := context.Background()

	p := &Program{
		Effect: Do{Effects: []Effect{
			Call{Procedure: "g", Arguments: []ir.Source{ir.A0, ir.A1}, Result: "r"},
			Return{Result: ir.Abstract("r")},
		}},
		Procedures: []Procedure{{Name: "g", Parameters: params(2), Result: ir.S32, Effect: Return{Result: ir.Abstract("b")}}},
	}

	_, err := p.Lower(ctx, config.Default())
	assert.NoError(t, err)
}

func TestLowerTypeMismatch(t *testing.T) {
	ctx := context.Background()

	p := &Program{
		Effect: Return{Result: ir.Constant(0)},
		Procedures: []Procedure{{
			Name:       "f",
			Parameters: []ir.Parameter{{Location: "c", Type: ir.Capability}},
			Result:     ir.S32,
			Effect: Do{Effects: []Effect{
				Compute{To: "x", Lhs: ir.Abstract("c"), Operation: ir.Add, Rhs: ir.Constant(1)},
				Return{Result: ir.Abstract("x")},
			}},
		}},
	}

	_, err := p.Lower(ctx, config.Default())
	assert.ErrorIs(t, err, ErrTypeMismatch)
}

func TestCodec(t *testing.T) {
	p, err := Decode([]byte(`
effect:
  do:
    effects:
    - call: {procedure: id, arguments: [{constant: 7}], result: r}
    - return: {result: {abstract: r}}
procedures:
- name: id
  parameters: [{location: x, type: s32}]
  result: s32
  effect: {return: {result: {abstract: x}}}
`))
	require.NoError(t, err)

	assert.Equal(t, &Program{
		Effect: Do{Effects: []Effect{
			Call{Procedure: "id", Arguments: []ir.Source{ir.Constant(7)}, Result: "r"},
			Return{Result: ir.Abstract("r")},
		}},
		Procedures: []Procedure{{
			Name:       "id",
			Parameters: []ir.Parameter{{Location: "x", Type: ir.S32}},
			Result:     ir.S32,
			Effect:     Return{Result: ir.Abstract("x")},
		}},
	}, p)

	data, err := p.Encode(80)
	require.NoError(t, err)

	q, err := Decode(data)
	require.NoError(t, err)

	assert.Equal(t, p, q)
}

func TestUnknownOperatorsSurviveOptimise(t *testing.T) {
	ctx := context.Background()
	cfg := config.Default()

	p := &Program{
		Effect: Do{Effects: []Effect{
			Compute{To: "x", Lhs: ir.Constant(6), Operation: "div", Rhs: ir.Constant(3)},
			If{
				Predicate: ir.Negation{Predicate: ir.Comparison{Lhs: ir.Constant(1), Relation: "lte", Rhs: ir.Constant(2)}},
				Then:      Return{Result: ir.Abstract("x")},
				Else:      Return{Result: ir.Constant(2)},
			},
		}},
	}

	for p.Optimise(ctx, cfg) {
	}

	err := p.Validate(ctx, cfg)
	assert.ErrorIs(t, err, ErrMalformedEffect)
	assert.ErrorContains(t, err, "div")
	assert.ErrorContains(t, err, "lte")
}
