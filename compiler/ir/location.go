package ir

import (
	"fmt"
	"strconv"
	"strings"

	"tlog.app/go/errors"
)

type (
	// Source is anything an effect can read: a constant or a location.
	Source interface {
		source()
	}

	// Location is a storage cell: abstract until allocation, physical after.
	Location interface {
		Source
		location()
	}

	Constant int64

	// Abstract is a symbolic unbounded location name.
	Abstract string

	// Register is a RISC-V integer register number (x0..x31).
	// Under CHERI every one of them holds a capability.
	Register uint8

	// FrameCell is a slot in the current activation's frame.
	// Offsets are measured downwards from the frame base.
	FrameCell struct {
		Offset int
	}
)

const (
	Zero Register = iota
	RA
	SP
	GP
	TP
	T0
	T1
	T2
	FP
	S1
	A0
	A1
	A2
	A3
	A4
	A5
	A6
	A7
	S2
	S3
	S4
	S5
	S6
	S7
	S8
	S9
	S10
	S11
	T3
	T4
	T5
	T6

	NumRegisters = 32
)

var registerNames = [NumRegisters]string{
	"zero", "ra", "sp", "gp", "tp", "t0", "t1", "t2",
	"fp", "s1", "a0", "a1", "a2", "a3", "a4", "a5",
	"a6", "a7", "s2", "s3", "s4", "s5", "s6", "s7",
	"s8", "s9", "s10", "s11", "t3", "t4", "t5", "t6",
}

func (Constant) source()  {}
func (Abstract) source()  {}
func (Register) source()  {}
func (FrameCell) source() {}

func (Abstract) location()  {}
func (Register) location()  {}
func (FrameCell) location() {}

func (c Constant) String() string { return strconv.FormatInt(int64(c), 10) }
func (a Abstract) String() string { return string(a) }

func (r Register) String() string {
	if int(r) < len(registerNames) {
		return registerNames[r]
	}

	return fmt.Sprintf("x%d", int(r))
}

// Capability is the register name as CHERI assembly spells it.
func (r Register) Capability() string {
	if r == Zero {
		return "cnull"
	}

	return "c" + r.String()
}

func (r Register) MarshalText() ([]byte, error) {
	if int(r) >= NumRegisters {
		return nil, errors.New("bad register: %d", int(r))
	}

	return []byte(r.String()), nil
}

func (r *Register) UnmarshalText(b []byte) error {
	x, err := ParseRegister(string(b))
	if err != nil {
		return err
	}

	*r = x

	return nil
}

// ParseRegister accepts ABI names, x-numbers and the s0 alias of fp.
func ParseRegister(s string) (Register, error) {
	s = strings.TrimPrefix(strings.ToLower(s), "c")

	if s == "s0" {
		return FP, nil
	}

	for i, n := range registerNames {
		if n == s {
			return Register(i), nil
		}
	}

	if strings.HasPrefix(s, "x") {
		n, err := strconv.Atoi(s[1:])
		if err == nil && n >= 0 && n < NumRegisters {
			return Register(n), nil
		}
	}

	return 0, errors.New("unknown register: %q", s)
}

func (c FrameCell) String() string { return fmt.Sprintf("frame[%d]", c.Offset) }

// IsPhysical reports whether l is a register or a frame cell.
func IsPhysical(l Location) bool {
	_, ok := l.(Abstract)
	return !ok
}

// Compare defines a total order over locations:
// registers, then frame cells, then abstract locations by name.
func Compare(a, b Location) int {
	ka, kb := kind(a), kind(b)
	if ka != kb {
		return ka - kb
	}

	switch a := a.(type) {
	case Register:
		return int(a) - int(b.(Register))
	case FrameCell:
		return a.Offset - b.(FrameCell).Offset
	case Abstract:
		return strings.Compare(string(a), string(b.(Abstract)))
	}

	return 0
}

func kind(l Location) int {
	switch l.(type) {
	case Register:
		return 0
	case FrameCell:
		return 1
	default:
		return 2
	}
}

// Locations returns the locations among srcs.
func Locations(srcs ...Source) (r []Location) {
	for _, s := range srcs {
		if l, ok := s.(Location); ok {
			r = append(r, l)
		}
	}

	return r
}
