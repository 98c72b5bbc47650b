package rv

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/slowlang/capc/compiler/config"
	"github.com/slowlang/capc/compiler/ir"
)

func program() *Program {
	return &Program{Routines: []Routine{
		{Name: ir.EntryPoint, Instructions: []Instruction{
			Call{Target: "one"},
			Branch{Relation: ir.Lt, Rs1: ir.A0, Rs2: ir.Zero, Target: ".Lmain.1"},
			Jump{Target: ".Lmain.2"},
			Label{Name: ".Lmain.2"},
			Move{Rd: ir.A0, Rs: ir.A0},
			Label{Name: ".Lmain.1"},
			Return{},
		}},
		{Name: "one", Instructions: []Instruction{
			LoadImmediate{Rd: ir.A0, Value: 1},
			Return{},
		}},
	}}
}

func TestOptimise(t *testing.T) {
	ctx := context.Background()

	p := program()

	assert.True(t, p.Optimise(ctx, config.Default()))
	assert.False(t, p.Optimise(ctx, config.Default()))

	assert.Equal(t, []Instruction{
		Call{Target: "one"},
		Branch{Relation: ir.Lt, Rs1: ir.A0, Rs2: ir.Zero, Target: ".Lmain.1"},
		Label{Name: ".Lmain.2"},
		Label{Name: ".Lmain.1"},
		Return{},
	}, p.Routines[0].Instructions)
}

func TestValidate(t *testing.T) {
	ctx := context.Background()
	cfg := config.Default()

	require.NoError(t, program().Validate(ctx, cfg))

	p := program()
	p.Routines[0].Instructions = append(p.Routines[0].Instructions, Jump{Target: ".Lnowhere"}, Call{Target: "two"})

	err := p.Validate(ctx, cfg)
	assert.ErrorIs(t, err, ErrUndefinedLabel)

	p = program()
	p.Routines[1].Name = ir.EntryPoint

	err = p.Validate(ctx, cfg)
	assert.ErrorIs(t, err, ErrDuplicateLabel)

	for _, x := range []Instruction{
		Operation{Operation: "div", Rd: ir.A0, Rs1: ir.T0, Rs2: ir.T1},
		Branch{Relation: "lte", Rs1: ir.A0, Rs2: ir.Zero, Target: ".Lmain.1"},
		LoadCapability{Rd: ir.T0, Base: ir.FP, Offset: -4096},
		StoreCapability{Rs: ir.T0, Base: ir.SP, Offset: MaxImmediate + 1},
		OffsetCapability{Rd: ir.SP, Rs: ir.SP, Offset: MinImmediate - 16},
	} {
		p = program()
		p.Routines[1].Instructions = append([]Instruction{x}, p.Routines[1].Instructions...)

		err = p.Validate(ctx, cfg)
		assert.ErrorIs(t, err, ErrMalformed, "%v", x)
	}

	p = program()
	p.Routines[1].Instructions = append([]Instruction{
		LoadCapability{Rd: ir.T0, Base: ir.FP, Offset: MinImmediate},
		OffsetCapability{Rd: ir.SP, Rs: ir.SP, Offset: MaxImmediate},
	}, p.Routines[1].Instructions...)

	assert.NoError(t, p.Validate(ctx, cfg))
}

func TestAssemble(t *testing.T) {
	ctx := context.Background()

	cfg := config.Default()

	b, err := program().Assemble(ctx, cfg)
	require.NoError(t, err)

	s := string(b)
	assert.Contains(t, s, "\nmain:\n")
	assert.Contains(t, s, "\ncapc.main:\n")
	assert.Contains(t, s, "\tcjal\tcra, capc.one\n")
	assert.Contains(t, s, "\tblt\ta0, zero, .Lmain.1\n")
	assert.Contains(t, s, "\tcmove\tca0, ca0\n")
	assert.Contains(t, s, "\tli\ta0, 1\n")
	assert.NotContains(t, s, "tohost")

	cfg.Target = config.Sail
	cfg.CallingConvention = config.HeapOnly

	b, err = program().Assemble(ctx, cfg)
	require.NoError(t, err)

	s = string(b)
	assert.Contains(t, s, "_start:\n")
	assert.Contains(t, s, "tohost:\n")
	assert.Contains(t, s, "\tcllc\tctp, heap_top\n")
	assert.NotContains(t, s, "\nmain:\n")
}

func TestInstructions(t *testing.T) {
	for _, tc := range []struct {
		x    Instruction
		want string
	}{
		{LoadCapability{Rd: ir.RA, Base: ir.FP, Offset: -48}, "\tclc\tcra, -48(cfp)\n"},
		{StoreCapability{Rs: ir.S1, Base: ir.SP, Offset: 16}, "\tcsc\tcs1, 16(csp)\n"},
		{OffsetCapability{Rd: ir.SP, Rs: ir.FP, Offset: -32}, "\tcincoffset\tcsp, cfp, -32\n"},
		{OffsetCapabilityBy{Rd: ir.SP, Rs: ir.FP, By: ir.T3}, "\tcincoffset\tcsp, cfp, t3\n"},
		{Operation{Operation: ir.Sub, Rd: ir.A0, Rs1: ir.T0, Rs2: ir.T1}, "\tsub\ta0, t0, t1\n"},
		{Return{}, "\tcret\n"},
	} {
		assert.Equal(t, tc.want, string(tc.x.appendAsm(nil)))
	}
}

func TestCodec(t *testing.T) {
	p := program()

	data, err := p.Encode(60)
	require.NoError(t, err)

	q, err := Decode(data)
	require.NoError(t, err)

	assert.Equal(t, p, q)
}
