package config

import (
	"os"

	"gopkg.in/yaml.v3"
	"tlog.app/go/errors"

	"github.com/slowlang/capc/compiler/conv"
	"github.com/slowlang/capc/compiler/ir"
)

type (
	Target     string
	Convention string

	// Config is the compilation configuration shared by every level.
	Config struct {
		Target            Target        `yaml:"target"`
		CallingConvention Convention    `yaml:"callingConvention"`
		ArgumentRegisters []ir.Register `yaml:"argumentRegisters"`

		Optimise bool `yaml:"optimise"`
		Validate bool `yaml:"validate"`

		MaximumLineLength  int `yaml:"maximumLineLength"`
		OptimisationRounds int `yaml:"optimisationRounds"`
	}
)

const (
	CheriBSD Target = "CheriBSD"
	Sail     Target = "Sail"
)

const (
	Conventional Convention = "conventional"
	HeapOnly     Convention = "heapOnly"
)

func Default() *Config {
	return &Config{
		Target:             CheriBSD,
		CallingConvention:  Conventional,
		ArgumentRegisters:  append([]ir.Register{}, conv.DefaultArguments...),
		Optimise:           true,
		Validate:           true,
		MaximumLineLength:  80,
		OptimisationRounds: 64,
	}
}

// Load reads a YAML file over the defaults.
func Load(name string) (*Config, error) {
	data, err := os.ReadFile(name)
	if err != nil {
		return nil, errors.Wrap(err, "read config")
	}

	return Parse(data)
}

func Parse(data []byte) (*Config, error) {
	c := Default()

	err := yaml.Unmarshal(data, c)
	if err != nil {
		return nil, errors.Wrap(err, "parse config")
	}

	err = c.Check()
	if err != nil {
		return nil, err
	}

	return c, nil
}

func (c *Config) Check() error {
	switch c.Target {
	case CheriBSD, Sail:
	default:
		return errors.New("unknown target: %q", c.Target)
	}

	switch c.CallingConvention {
	case Conventional, HeapOnly:
	default:
		return errors.New("unknown calling convention: %q", c.CallingConvention)
	}

	cv := conv.New(nil)
	seen := map[ir.Register]bool{}

	for _, r := range c.ArgumentRegisters {
		if !cv.IsCallerSaved(r) {
			return errors.New("argument register %v is not caller-saved", r)
		}

		if seen[r] {
			return errors.New("argument register %v listed twice", r)
		}

		seen[r] = true
	}

	if c.OptimisationRounds <= 0 {
		return errors.New("optimisation rounds must be positive")
	}

	return nil
}

// Convention is the calling convention every level lowers with.
func (c *Config) Convention() conv.Convention {
	return conv.New(c.ArgumentRegisters)
}

func (c *Config) HeapOnly() bool {
	return c.CallingConvention == HeapOnly
}
