package ir

import "tlog.app/go/errors"

type (
	DataType       string
	BinaryOperator string
	Relation       string

	// Parameter is a procedure-visible formal.
	Parameter struct {
		Location Abstract
		Type     DataType
	}
)

const (
	S32        DataType = "s32"
	Capability DataType = "cap"
)

const (
	Add BinaryOperator = "add"
	Sub BinaryOperator = "sub"
	Mul BinaryOperator = "mul"
	And BinaryOperator = "and"
	Or  BinaryOperator = "or"
	Xor BinaryOperator = "xor"
	Sll BinaryOperator = "sll"
	Srl BinaryOperator = "srl"
	Sra BinaryOperator = "sra"
)

const (
	Eq Relation = "eq"
	Ne Relation = "ne"
	Lt Relation = "lt"
	Le Relation = "le"
	Gt Relation = "gt"
	Ge Relation = "ge"
)

func (t DataType) Valid() bool {
	return t == S32 || t == Capability
}

func (op BinaryOperator) Valid() bool {
	switch op {
	case Add, Sub, Mul, And, Or, Xor, Sll, Srl, Sra:
		return true
	}

	return false
}

func CheckOperation(op BinaryOperator) error {
	if !op.Valid() {
		return errors.New("unknown operation %q", op)
	}

	return nil
}

// Apply evaluates op the way a 64-bit register machine does.
// Validation rejects unknown operations before anything applies them.
func (op BinaryOperator) Apply(a, b int64) int64 {
	switch op {
	case Add:
		return a + b
	case Sub:
		return a - b
	case Mul:
		return a * b
	case And:
		return a & b
	case Or:
		return a | b
	case Xor:
		return a ^ b
	case Sll:
		return a << (b & 63)
	case Srl:
		return int64(uint64(a) >> (b & 63))
	case Sra:
		return a >> (b & 63)
	}

	panic(op)
}

func (r Relation) Valid() bool {
	switch r {
	case Eq, Ne, Lt, Le, Gt, Ge:
		return true
	}

	return false
}

// Holds panics on unknown relations, which validation rejects.
func (r Relation) Holds(a, b int64) bool {
	switch r {
	case Eq:
		return a == b
	case Ne:
		return a != b
	case Lt:
		return a < b
	case Le:
		return a <= b
	case Gt:
		return a > b
	case Ge:
		return a >= b
	}

	panic(r)
}

// Negate panics on unknown relations, which validation rejects.
func (r Relation) Negate() Relation {
	switch r {
	case Eq:
		return Ne
	case Ne:
		return Eq
	case Lt:
		return Ge
	case Le:
		return Gt
	case Gt:
		return Le
	case Ge:
		return Lt
	}

	panic(r)
}

// Swap returns the relation that holds with operands exchanged.
func (r Relation) Swap() Relation {
	switch r {
	case Lt:
		return Gt
	case Le:
		return Ge
	case Gt:
		return Lt
	case Ge:
		return Le
	}

	return r
}
