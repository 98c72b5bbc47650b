// Package stage chains the levels of the compiler together.
//
//	CC -> AL -> FL -> RV -> assembly
//
// Every level optimises, validates and lowers itself into the next one.
// The ground level assembles instead of lowering.
package stage

import (
	"context"
	"strings"

	"github.com/texttheater/golang-levenshtein/levenshtein"
	"tlog.app/go/errors"

	"github.com/slowlang/capc/compiler/al"
	"github.com/slowlang/capc/compiler/cc"
	"github.com/slowlang/capc/compiler/config"
	"github.com/slowlang/capc/compiler/fl"
	"github.com/slowlang/capc/compiler/rv"
)

type (
	// Program is a program of any level.
	Program interface {
		Optimise(ctx context.Context, cfg *config.Config) bool
		Validate(ctx context.Context, cfg *config.Config) error
		Encode(width int) ([]byte, error)
	}

	// Stage is a level lowering into L.
	Stage[L Program] interface {
		Program
		Lower(ctx context.Context, cfg *config.Config) (L, error)
	}

	Ground interface {
		Program
		Assemble(ctx context.Context, cfg *config.Config) ([]byte, error)
	}

	Level struct {
		Name        string
		Description string

		decode   func(data []byte) (Program, error)
		lower    func(ctx context.Context, p Program, cfg *config.Config) (Program, error)
		assemble func(ctx context.Context, p Program, cfg *config.Config) ([]byte, error)
	}
)

var (
	ErrUnknownLevel   = errors.New("unknown level")
	ErrUnreachedLevel = errors.New("level is not reached from the source level")
)

// Chain lists levels from the highest to the ground one.
var Chain = []Level{
	link[*cc.Program, *al.Program]("CC", "calling convention: procedures with typed parameters", cc.Decode),
	link[*al.Program, *fl.Program]("AL", "abstract locations: explicit registers and scopes", al.Decode),
	link[*fl.Program, *rv.Program]("FL", "frame locations: registers and frame cells only", fl.Decode),
	ground[*rv.Program]("RV", "CHERI-RISC-V instructions", rv.Decode),
}

func link[P Stage[L], L Program](name, desc string, decode func([]byte) (P, error)) Level {
	return Level{
		Name:        name,
		Description: desc,
		decode: func(data []byte) (Program, error) {
			p, err := decode(data)
			if err != nil {
				return nil, err
			}

			return p, nil
		},
		lower: func(ctx context.Context, p Program, cfg *config.Config) (Program, error) {
			l, err := p.(P).Lower(ctx, cfg)
			if err != nil {
				return nil, err
			}

			return l, nil
		},
	}
}

func ground[P Ground](name, desc string, decode func([]byte) (P, error)) Level {
	return Level{
		Name:        name,
		Description: desc,
		decode: func(data []byte) (Program, error) {
			p, err := decode(data)
			if err != nil {
				return nil, err
			}

			return p, nil
		},
		assemble: func(ctx context.Context, p Program, cfg *config.Config) ([]byte, error) {
			return p.(P).Assemble(ctx, cfg)
		},
	}
}

// IsGround reports whether l is the last level of the chain.
func (l Level) IsGround() bool {
	return l.lower == nil
}

// Lookup finds a level by name, ignoring case.
func Lookup(name string) (int, error) {
	for i, l := range Chain {
		if strings.EqualFold(l.Name, name) {
			return i, nil
		}
	}

	best, dist := "", -1
	want := []rune(strings.ToUpper(name))

	for _, l := range Chain {
		d := levenshtein.DistanceForStrings(want, []rune(l.Name), levenshtein.DefaultOptions)

		if dist < 0 || d < dist {
			best, dist = l.Name, d
		}
	}

	return -1, errors.Wrap(ErrUnknownLevel, "%q (did you mean %v?)", name, best)
}

// Names lists level names in chain order.
func Names() []string {
	r := make([]string, len(Chain))

	for i, l := range Chain {
		r[i] = l.Name
	}

	return r
}
