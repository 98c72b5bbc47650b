package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"golang.org/x/sync/errgroup"
	"nikand.dev/go/cli"
	"tlog.app/go/errors"
	"tlog.app/go/tlog"

	"github.com/slowlang/capc/compiler"
	"github.com/slowlang/capc/compiler/config"
	"github.com/slowlang/capc/compiler/fl"
	"github.com/slowlang/capc/compiler/stage"
)

func main() {
	compileCmd := &cli.Command{
		Name:        "compile",
		Description: "reduce programs, printing requested levels and the assembly listing",
		Action:      compileAct,
		Args:        cli.Args{},
		Flags: []*cli.Flag{
			cli.NewFlag("from", "", "source level (by file extension if empty)"),
			cli.NewFlag("to", "", "comma separated levels to print"),
			cli.NewFlag("binary", true, "print the assembly listing"),
			cli.NewFlag("output,o", "", "write the assembly listing to the file instead of stdout"),
			cli.NewFlag("simulate", false, "run the frame level program and print the result"),
		},
	}

	simulateCmd := &cli.Command{
		Name:        "simulate",
		Description: "run programs on the frame level machine",
		Action:      simulateAct,
		Args:        cli.Args{},
		Flags: []*cli.Flag{
			cli.NewFlag("from", "", "source level (by file extension if empty)"),
		},
	}

	levelsCmd := &cli.Command{
		Name:        "levels",
		Description: "list levels from the highest to the ground one",
		Action:      levelsAct,
	}

	app := &cli.Command{
		Name:        "capc",
		Description: "capc is a CHERI-RISC-V compiler backend",
		Before:      before,
		Flags: []*cli.Flag{
			cli.NewFlag("config,c", "", "configuration file"),
			cli.NewFlag("target", "", "override target: CheriBSD or Sail"),
			cli.NewFlag("convention", "", "override calling convention: conventional or heapOnly"),
			cli.NewFlag("verbosity,v", "", "tlog verbosity filter"),
			cli.HelpFlag,
		},
		Commands: []*cli.Command{
			compileCmd,
			simulateCmd,
			levelsCmd,
		},
	}

	cli.RunAndExit(app, os.Args, os.Environ())
}

func before(c *cli.Command) error {
	tlog.SetVerbosity(c.String("verbosity"))

	return nil
}

func loadConfig(c *cli.Command) (cfg *config.Config, err error) {
	cfg = config.Default()

	if name := c.String("config"); name != "" {
		cfg, err = config.Load(name)
		if err != nil {
			return nil, err
		}
	}

	if t := c.String("target"); t != "" {
		cfg.Target = config.Target(t)
	}

	if cv := c.String("convention"); cv != "" {
		cfg.CallingConvention = config.Convention(cv)
	}

	err = cfg.Check()
	if err != nil {
		return nil, errors.Wrap(err, "config")
	}

	return cfg, nil
}

func compileAct(c *cli.Command) (err error) {
	ctx := context.Background()
	ctx = tlog.ContextWithSpan(ctx, tlog.Root())

	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}

	var levels []string

	if to := c.String("to"); to != "" {
		levels = strings.Split(to, ",")
	}

	simulate := c.Bool("simulate")

	if simulate {
		levels = append(levels, "FL")
	}

	t := stage.Targets{Levels: levels, Binary: c.Bool("binary")}

	res, err := compileFiles(ctx, c.Args, c.String("from"), t, cfg)
	if err != nil {
		return err
	}

	if out := c.String("output"); out != "" && len(res) != 1 {
		return errors.New("--output needs exactly one input file")
	}

	for i, r := range res {
		name := c.Args[i]

		for _, s := range r.Snapshots {
			if simulate && s.Level == "FL" && !requested(c.String("to"), "FL") {
				continue
			}

			fmt.Printf("# %v: %v\n%s\n", name, s.Level, s.Data)
		}

		if simulate {
			v, err := simulateSnapshot(ctx, r, cfg)
			if err != nil {
				return errors.Wrap(err, "simulate %v", name)
			}

			fmt.Printf("# %v: result %d\n", name, v)
		}

		if r.Binary == nil {
			continue
		}

		if out := c.String("output"); out != "" {
			err = os.WriteFile(out, r.Binary, 0o644)
			if err != nil {
				return errors.Wrap(err, "write output")
			}

			continue
		}

		fmt.Printf("%s", r.Binary)
	}

	return nil
}

func simulateAct(c *cli.Command) (err error) {
	ctx := context.Background()
	ctx = tlog.ContextWithSpan(ctx, tlog.Root())

	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}

	res, err := compileFiles(ctx, c.Args, c.String("from"), stage.Targets{Levels: []string{"FL"}}, cfg)
	if err != nil {
		return err
	}

	for i, r := range res {
		v, err := simulateSnapshot(ctx, r, cfg)
		if err != nil {
			return errors.Wrap(err, "simulate %v", c.Args[i])
		}

		fmt.Printf("%v: %d\n", c.Args[i], v)
	}

	return nil
}

func levelsAct(c *cli.Command) error {
	for _, l := range stage.Chain {
		fmt.Printf("%-4s %s\n", l.Name, l.Description)
	}

	return nil
}

// compileFiles compiles independent files concurrently.
// Results are in the order of names.
func compileFiles(ctx context.Context, names []string, from string, t stage.Targets, cfg *config.Config) ([]*stage.Result, error) {
	res := make([]*stage.Result, len(names))

	var g errgroup.Group

	for i, name := range names {
		i, name := i, name

		g.Go(func() (err error) {
			res[i], err = compiler.CompileFile(ctx, name, from, t, cfg)
			if err != nil {
				return errors.Wrap(err, "compile %v", name)
			}

			return nil
		})
	}

	err := g.Wait()
	if err != nil {
		return nil, err
	}

	return res, nil
}

func simulateSnapshot(ctx context.Context, r *stage.Result, cfg *config.Config) (int64, error) {
	for _, s := range r.Snapshots {
		if s.Level != "FL" {
			continue
		}

		p, err := fl.Decode(s.Data)
		if err != nil {
			return 0, errors.Wrap(err, "decode")
		}

		return fl.Simulate(ctx, p, cfg)
	}

	return 0, errors.New("no frame level snapshot")
}

func requested(to, level string) bool {
	for _, l := range strings.Split(to, ",") {
		if strings.EqualFold(l, level) {
			return true
		}
	}

	return false
}
