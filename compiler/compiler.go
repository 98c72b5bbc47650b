package compiler

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"tlog.app/go/errors"
	"tlog.app/go/tlog"

	"github.com/slowlang/capc/compiler/config"
	"github.com/slowlang/capc/compiler/stage"
)

// CompileFile reduces the program in the named file.
// An empty from takes the source level from the file extension.
func CompileFile(ctx context.Context, name, from string, t stage.Targets, cfg *config.Config) (res *stage.Result, err error) {
	text, err := os.ReadFile(name)
	if err != nil {
		return nil, errors.Wrap(err, "read file")
	}

	tlog.SpanFromContext(ctx).Printw("read file", "size", len(text), "name", name)

	if from == "" {
		from = SourceLevel(name)
	}

	return Compile(ctx, from, text, t, cfg)
}

func Compile(ctx context.Context, from string, text []byte, t stage.Targets, cfg *config.Config) (res *stage.Result, err error) {
	tr, ctx := tlog.SpawnFromContextAndWrap(ctx, "compile", "from", from)
	defer tr.Finish("err", &err)

	res, err = stage.Reduce(ctx, from, text, t, cfg)
	if err != nil {
		return nil, errors.Wrap(err, "reduce")
	}

	return res, nil
}

// SourceLevel guesses the level of a file by its extension: prog.al is AL.
// Unknown extensions are taken for the highest level.
func SourceLevel(name string) string {
	ext := strings.TrimPrefix(filepath.Ext(name), ".")

	if _, err := stage.Lookup(ext); ext != "" && err == nil {
		return strings.ToUpper(ext)
	}

	return stage.Chain[0].Name
}
