package smt

import (
	"fmt"
	"math/big"
)

// MockBuilder is a pure-Go reference Builder used by tests and by any
// caller that wants to inspect the constructed AST without linking a real
// solver. It never proves anything itself; Solve always reports Unknown.
// Terms are plain tagged structs, mirroring the tagged-struct style the
// engine's own bit-vector expression IR uses for the same reason: cheap
// structural comparison and a readable String() form.
type MockBuilder struct {
	symbols map[string]Term
}

// NewMockBuilder returns a new, empty reference builder.
func NewMockBuilder() *MockBuilder {
	return &MockBuilder{symbols: make(map[string]Term)}
}

type mockTerm struct {
	sort Sort
	repr string
}

func (t *mockTerm) Sort() Sort     { return t.sort }
func (t *mockTerm) String() string { return t.repr }

func (b *MockBuilder) MkBVSort(width uint, signed bool) Sort { return BVSort{Width: width, Signed: signed} }
func (b *MockBuilder) MkBoolSort() Sort                      { return BoolSort{} }
func (b *MockBuilder) MkFPSort(e, s uint) Sort               { return FPSort{Exponent: e, Significand: s} }

func (b *MockBuilder) MkSMTBV(sort Sort, value *big.Int) Term {
	return &mockTerm{sort: sort, repr: fmt.Sprintf("(_ bv%s %s)", value.String(), sort)}
}

func (b *MockBuilder) MkSMTBool(value bool) Term {
	return &mockTerm{sort: BoolSort{}, repr: fmt.Sprintf("%t", value)}
}

func (b *MockBuilder) MkSMTSymbol(name string, sort Sort) Term {
	if t, ok := b.symbols[name]; ok {
		return t
	}
	t := &mockTerm{sort: sort, repr: name}
	b.symbols[name] = t
	return t
}

func (b *MockBuilder) MkExtract(x Term, hi, lo uint) Term {
	return &mockTerm{sort: BVSort{Width: hi - lo + 1}, repr: fmt.Sprintf("((_ extract %d %d) %s)", hi, lo, x)}
}

func (b *MockBuilder) MkConcat(a, bb Term) Term {
	aw := a.Sort().(BVSort).Width
	bw := bb.Sort().(BVSort).Width
	return &mockTerm{sort: BVSort{Width: aw + bw}, repr: fmt.Sprintf("(concat %s %s)", a, bb)}
}

func (b *MockBuilder) MkZeroExt(x Term, n uint) Term {
	w := x.Sort().(BVSort).Width
	return &mockTerm{sort: BVSort{Width: w + n}, repr: fmt.Sprintf("((_ zero_extend %d) %s)", n, x)}
}

func (b *MockBuilder) MkSignExt(x Term, n uint) Term {
	w := x.Sort().(BVSort).Width
	return &mockTerm{sort: BVSort{Width: w + n, Signed: true}, repr: fmt.Sprintf("((_ sign_extend %d) %s)", n, x)}
}

func (b *MockBuilder) MkBVRedOr(x Term) Term {
	return &mockTerm{sort: BVSort{Width: 1}, repr: fmt.Sprintf("(bvredor %s)", x)}
}

func (b *MockBuilder) MkBVRedAnd(x Term) Term {
	return &mockTerm{sort: BVSort{Width: 1}, repr: fmt.Sprintf("(bvredand %s)", x)}
}

func (b *MockBuilder) MkIte(cond, then, els Term) Term {
	return &mockTerm{sort: then.Sort(), repr: fmt.Sprintf("(ite %s %s %s)", cond, then, els)}
}

func (b *MockBuilder) MkFuncApp(sort Sort, kind Kind, args ...Term) Term {
	repr := "(" + kind.String()
	for _, a := range args {
		repr += " " + a.String()
	}
	repr += ")"
	return &mockTerm{sort: sort, repr: repr}
}

// MockSolver pairs with MockBuilder for tests that need a Solver without a
// real backend: it records every asserted term and always reports Unknown.
type MockSolver struct {
	Asserted []Term
}

// NewMockSolver returns a new, empty reference solver.
func NewMockSolver() *MockSolver { return &MockSolver{} }

func (s *MockSolver) Assert(t Term) { s.Asserted = append(s.Asserted, t) }

func (s *MockSolver) CheckSat() (Result, error) { return Unknown, nil }

func (s *MockSolver) ModelValue(t Term) (*big.Int, error) {
	return nil, fmt.Errorf("smt: mock solver has no model")
}

func (s *MockSolver) Close() error { return nil }
