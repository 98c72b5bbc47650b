package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/slowlang/capc/compiler/ir"
)

func TestDefault(t *testing.T) {
	c := Default()

	require.NoError(t, c.Check())

	assert.Equal(t, CheriBSD, c.Target)
	assert.False(t, c.HeapOnly())
	assert.Equal(t, c.ArgumentRegisters, c.Convention().Arguments)
}

func TestParseOverridesDefaults(t *testing.T) {
	c, err := Parse([]byte(`
target: Sail
callingConvention: heapOnly
argumentRegisters: [a0, a1, a2]
optimise: false
`))
	require.NoError(t, err)

	assert.Equal(t, Sail, c.Target)
	assert.True(t, c.HeapOnly())
	assert.Equal(t, []ir.Register{ir.A0, ir.A1, ir.A2}, c.ArgumentRegisters)
	assert.False(t, c.Optimise)
	assert.True(t, c.Validate, "kept default")
	assert.Equal(t, 80, c.MaximumLineLength)
}

func TestParseRejects(t *testing.T) {
	for _, data := range []string{
		"target: x86",
		"callingConvention: fast",
		"argumentRegisters: [a0, a0]",
		"argumentRegisters: [s1]",
		"argumentRegisters: [q7]",
		"optimisationRounds: 0",
	} {
		_, err := Parse([]byte(data))
		assert.Error(t, err, data)
	}
}

func TestLoad(t *testing.T) {
	name := filepath.Join(t.TempDir(), "capc.yaml")

	err := os.WriteFile(name, []byte("maximumLineLength: 120\n"), 0o644)
	require.NoError(t, err)

	c, err := Load(name)
	require.NoError(t, err)

	assert.Equal(t, 120, c.MaximumLineLength)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
