package rv

import (
	"context"

	"github.com/hashicorp/go-multierror"
	"github.com/nikandfor/hacked/hfmt"
	"tlog.app/go/errors"
	"tlog.app/go/tlog"

	"github.com/slowlang/capc/compiler/config"
	"github.com/slowlang/capc/compiler/ir"
)

var (
	ErrUndefinedLabel = errors.New("undefined label")
	ErrDuplicateLabel = errors.New("duplicate label")
	ErrMalformed      = errors.New("malformed instruction")
)

const (
	stackSize = 1 << 16
	heapSize  = 1 << 20
)

// Optimise removes jumps to the very next instruction and moves to self.
func (p *Program) Optimise(ctx context.Context, cfg *config.Config) (changed bool) {
	for i := range p.Routines {
		r := &p.Routines[i]

		var out []Instruction

		for j, x := range r.Instructions {
			switch x := x.(type) {
			case Jump:
				if j+1 < len(r.Instructions) && r.Instructions[j+1] == Instruction(Label{Name: x.Target}) {
					changed = true
					continue
				}
			case Move:
				if x.Rd == x.Rs {
					changed = true
					continue
				}
			}

			out = append(out, x)
		}

		r.Instructions = out
	}

	return changed
}

// Validate checks labels are unique, every jump target exists,
// operations and relations are known and immediates fit.
func (p *Program) Validate(ctx context.Context, cfg *config.Config) error {
	var errs *multierror.Error

	routines := map[string]bool{}

	for _, r := range p.Routines {
		if routines[r.Name] {
			errs = multierror.Append(errs, errors.Wrap(ErrDuplicateLabel, "routine %v", r.Name))
		}

		routines[r.Name] = true
	}

	if !routines[ir.EntryPoint] {
		errs = multierror.Append(errs, errors.Wrap(ErrUndefinedLabel, "no %v routine", ir.EntryPoint))
	}

	for _, r := range p.Routines {
		labels := map[string]bool{}

		for _, x := range r.Instructions {
			l, ok := x.(Label)
			if !ok {
				continue
			}

			if labels[l.Name] {
				errs = multierror.Append(errs, errors.Wrap(ErrDuplicateLabel, "%v: %v", r.Name, l.Name))
			}

			labels[l.Name] = true
		}

		for _, x := range r.Instructions {
			if err := check(x); err != nil {
				errs = multierror.Append(errs, errors.Wrap(err, "%v", r.Name))
			}
		}

		for _, x := range r.Instructions {
			var target string
			known := labels

			switch x := x.(type) {
			case Jump:
				target = x.Target
			case Branch:
				target = x.Target
			case Call:
				target, known = x.Target, routines
			default:
				continue
			}

			if !known[target] {
				errs = multierror.Append(errs, errors.Wrap(ErrUndefinedLabel, "%v: %v", r.Name, target))
			}
		}
	}

	return errs.ErrorOrNil()
}

func check(x Instruction) error {
	var off int

	switch x := x.(type) {
	case Operation:
		if err := ir.CheckOperation(x.Operation); err != nil {
			return errors.Wrap(ErrMalformed, "%v", err)
		}

		return nil
	case Branch:
		if !x.Relation.Valid() {
			return errors.Wrap(ErrMalformed, "unknown relation %q", x.Relation)
		}

		return nil
	case LoadCapability:
		off = x.Offset
	case StoreCapability:
		off = x.Offset
	case OffsetCapability:
		off = x.Offset
	default:
		return nil
	}

	if !FitsImmediate(off) {
		return errors.Wrap(ErrMalformed, "offset %d out of range", off)
	}

	return nil
}

// Assemble renders the assembly listing for the configured target.
func (p *Program) Assemble(ctx context.Context, cfg *config.Config) (b []byte, err error) {
	tr, ctx := tlog.SpawnFromContextAndWrap(ctx, "assemble", "target", cfg.Target, "routines", len(p.Routines))
	defer tr.Finish("err", &err)

	b = hfmt.Appendf(b, "# target %v, %v calling convention\n\n", cfg.Target, cfg.CallingConvention)

	switch cfg.Target {
	case config.Sail:
		b = appendSailPrelude(b, cfg)
	case config.CheriBSD:
		b = appendHostedPrelude(b, cfg)
	default:
		return nil, errors.New("unsupported target: %v", cfg.Target)
	}

	for _, r := range p.Routines {
		sym := Symbol(r.Name)

		b = hfmt.Appendf(b, "\n\t.p2align\t2\n\t.type\t%s, @function\n%s:\n", sym, sym)

		for _, x := range r.Instructions {
			b = x.appendAsm(b)
		}

		b = hfmt.Appendf(b, "\t.size\t%s, .-%s\n", sym, sym)
	}

	b = appendData(b, cfg)

	tr.Printw("assembled", "size", len(b))

	return b, nil
}

func appendSailPrelude(b []byte, cfg *config.Config) []byte {
	b = append(b, "\t.section\t.text.init\n\t.globl\t_start\n_start:\n"...)
	b = append(b, "\tcllc\tcsp, stack_top\n"...)

	if cfg.HeapOnly() {
		b = append(b, "\tcllc\tctp, heap_top\n"...)
	}

	b = hfmt.Appendf(b, "\tcjal\tcra, %s\n", Symbol(ir.EntryPoint))
	b = append(b, "\tslli\ta0, a0, 1\n\tori\ta0, a0, 1\n"...)
	b = append(b, "\tcllc\tct0, tohost\n\tcsd\ta0, 0(ct0)\n1:\tj\t1b\n"...)

	return append(b, "\n\t.text\n"...)
}

func appendHostedPrelude(b []byte, cfg *config.Config) []byte {
	b = append(b, "\t.text\n\t.globl\tmain\n\t.p2align\t2\n\t.type\tmain, @function\nmain:\n"...)
	b = append(b, "\tcincoffset\tcsp, csp, -32\n\tcsc\tcra, 0(csp)\n"...)

	if cfg.HeapOnly() {
		b = append(b, "\tcsc\tctp, 16(csp)\n\tcllc\tctp, heap_top\n"...)
	}

	b = hfmt.Appendf(b, "\tcjal\tcra, %s\n", Symbol(ir.EntryPoint))

	if cfg.HeapOnly() {
		b = append(b, "\tclc\tctp, 16(csp)\n"...)
	}

	b = append(b, "\tclc\tcra, 0(csp)\n\tcincoffset\tcsp, csp, 32\n\tcret\n"...)

	return append(b, "\t.size\tmain, .-main\n"...)
}

func appendData(b []byte, cfg *config.Config) []byte {
	if cfg.HeapOnly() {
		b = hfmt.Appendf(b, "\n\t.bss\n\t.p2align\t4\nheap:\n\t.space\t%d\nheap_top:\n", heapSize)
	}

	if cfg.Target != config.Sail {
		return b
	}

	b = hfmt.Appendf(b, "\n\t.bss\n\t.p2align\t4\nstack:\n\t.space\t%d\nstack_top:\n", stackSize)
	b = append(b, "\n\t.section\t.tohost, \"aw\", @progbits\n\t.p2align\t6\n"...)
	b = append(b, "\t.globl\ttohost\ntohost:\n\t.dword\t0\n\t.globl\tfromhost\nfromhost:\n\t.dword\t0\n"...)

	return b
}
