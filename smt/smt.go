// Package smt defines the abstract interface the symbolic execution engine
// uses to construct SMT terms, independent of any particular solver. A
// concrete Builder (the cgo Z3 adapter in symbmc/z3, or the pure-Go
// reference Builder in this package) turns the calls into that solver's own
// AST representation.
package smt

import "math/big"

// Sort is an SMT sort: a bit-vector of some width, the Boolean sort, or a
// floating-point sort (which every Builder is required to alias to a
// bit-vector sort of width e+s, since the encoder never hands a solver a
// native FP term — floating point is always already lowered to bit-vectors
// before it reaches this interface).
type Sort interface {
	sort()
	String() string
}

// BVSort is a bit-vector sort of the given width.
type BVSort struct {
	Width  uint
	Signed bool
}

func (BVSort) sort() {}

// String returns "(_ BitVec width)" annotated with signedness for display.
func (s BVSort) String() string {
	if s.Signed {
		return "(_ SBitVec " + itoa(s.Width) + ")"
	}
	return "(_ BitVec " + itoa(s.Width) + ")"
}

// BoolSort is the Boolean sort.
type BoolSort struct{}

func (BoolSort) sort()          {}
func (BoolSort) String() string { return "Bool" }

// FPSort is a floating-point sort with e exponent bits and s significand
// bits (including the implicit bit), aliased by every Builder to a
// BVSort of width e+s.
type FPSort struct {
	Exponent   uint
	Significand uint
}

func (FPSort) sort() {}

func (s FPSort) String() string {
	return "(_ FloatingPoint " + itoa(s.Exponent) + " " + itoa(s.Significand) + ")"
}

// AsBVSort returns the bit-vector sort an FPSort is aliased to.
func (s FPSort) AsBVSort() BVSort {
	return BVSort{Width: s.Exponent + s.Significand, Signed: false}
}

// Kind enumerates the function symbols mk_func_app can apply.
type Kind int

const (
	EQ Kind = iota
	NOT
	AND
	OR
	XOR
	BVADD
	BVSUB
	BVMUL
	BVUDIV
	BVSDIV
	BVUREM
	BVSREM
	BVSHL
	BVLSHR
	BVASHR
	BVAND
	BVOR
	BVXOR
	BVNOT
	BVNEG
	BVULT
	BVULE
	BVSLT
	BVSLE
	CONCAT
)

var kindNames = [...]string{
	EQ: "EQ", NOT: "NOT", AND: "AND", OR: "OR", XOR: "XOR",
	BVADD: "BVADD", BVSUB: "BVSUB", BVMUL: "BVMUL", BVUDIV: "BVUDIV", BVSDIV: "BVSDIV",
	BVUREM: "BVUREM", BVSREM: "BVSREM", BVSHL: "BVSHL", BVLSHR: "BVLSHR", BVASHR: "BVASHR",
	BVAND: "BVAND", BVOR: "BVOR", BVXOR: "BVXOR", BVNOT: "BVNOT", BVNEG: "BVNEG",
	BVULT: "BVULT", BVULE: "BVULE", BVSLT: "BVSLT", BVSLE: "BVSLE", CONCAT: "CONCAT",
}

// String returns the function symbol's mnemonic.
func (k Kind) String() string {
	if int(k) >= 0 && int(k) < len(kindNames) && kindNames[k] != "" {
		return kindNames[k]
	}
	return "Kind<?>"
}

// Term is an SMT term constructed through a Builder. Terms are immutable
// and, per solver adapter, structurally interned: two calls building the
// same term from the same Builder may return the identical value.
type Term interface {
	Sort() Sort
	String() string
}

// Builder constructs SMT terms. Every method is pure with respect to the
// caller: it returns a new (or interned) Term and never mutates one it was
// given.
type Builder interface {
	MkBVSort(width uint, signed bool) Sort
	MkBoolSort() Sort
	MkFPSort(exponent, significand uint) Sort

	MkSMTBV(sort Sort, value *big.Int) Term
	MkSMTBool(value bool) Term
	MkSMTSymbol(name string, sort Sort) Term

	MkExtract(x Term, hi, lo uint) Term
	MkConcat(a, b Term) Term
	MkZeroExt(x Term, n uint) Term
	MkSignExt(x Term, n uint) Term
	MkBVRedOr(x Term) Term
	MkBVRedAnd(x Term) Term
	MkIte(cond, then, els Term) Term
	MkFuncApp(sort Sort, kind Kind, args ...Term) Term
}

// Solver decides satisfiability of a set of asserted terms and, if
// satisfiable, offers a model. This is the boundary the equation trace's
// discharge step (assert every guard-implied assumption/assertion, ask for
// satisfiability of the negated assertions) is built on.
type Solver interface {
	Assert(t Term)
	CheckSat() (Result, error)
	ModelValue(t Term) (*big.Int, error)
	Close() error
}

// Result is the three-valued outcome of a satisfiability check, matching
// what a real SMT solver reports (sat/unsat/unknown, the last covering
// timeouts and resource limits alike at this layer).
type Result int

const (
	Unknown Result = iota
	Sat
	Unsat
)

func (r Result) String() string {
	switch r {
	case Sat:
		return "sat"
	case Unsat:
		return "unsat"
	default:
		return "unknown"
	}
}

func itoa(w uint) string {
	if w == 0 {
		return "0"
	}
	var buf [20]byte
	i := len(buf)
	for w > 0 {
		i--
		buf[i] = byte('0' + w%10)
		w /= 10
	}
	return string(buf[i:])
}
