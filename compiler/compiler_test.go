package compiler

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/slowlang/capc/compiler/cc"
	"github.com/slowlang/capc/compiler/config"
	"github.com/slowlang/capc/compiler/ir"
	"github.com/slowlang/capc/compiler/stage"
)

func TestSourceLevel(t *testing.T) {
	assert.Equal(t, "AL", SourceLevel("prog.al"))
	assert.Equal(t, "FL", SourceLevel("dir.x/prog.Fl"))
	assert.Equal(t, "CC", SourceLevel("prog.yaml"))
	assert.Equal(t, "CC", SourceLevel("prog"))
}

func TestCompileFile(t *testing.T) {
	ctx := context.Background()
	cfg := config.Default()

	p := &cc.Program{
		Effect: cc.Do{Effects: []cc.Effect{
			cc.Set{To: "x", From: ir.Constant(2)},
			cc.Compute{To: "y", Lhs: ir.Abstract("x"), Operation: ir.Mul, Rhs: ir.Constant(21)},
			cc.Return{Result: ir.Abstract("y")},
		}},
	}

	data, err := p.Encode(cfg.MaximumLineLength)
	require.NoError(t, err)

	name := filepath.Join(t.TempDir(), "answer.cc")

	err = os.WriteFile(name, data, 0o644)
	require.NoError(t, err)

	res, err := CompileFile(ctx, name, "", stage.Targets{Levels: []string{"AL"}, Binary: true}, cfg)
	require.NoError(t, err)

	require.Len(t, res.Snapshots, 1)
	assert.Equal(t, "AL", res.Snapshots[0].Level)
	assert.Contains(t, string(res.Binary), "capc.main:")

	_, err = CompileFile(ctx, filepath.Join(t.TempDir(), "missing.cc"), "", stage.Targets{Binary: true}, cfg)
	assert.Error(t, err)
}
