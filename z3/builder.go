package z3

/*
#include <z3.h>
*/
import "C"

import (
	"fmt"
	"math/big"
	"unsafe"

	"github.com/symbmc/symbmc/smt"
)

// Ensure Context implements smt.Builder.
var _ smt.Builder = (*Context)(nil)

// term wraps a Z3_ast together with the sort it was built at, satisfying
// smt.Term. Sort is tracked in Go rather than re-queried from Z3 on every
// call, since the FPA encoder consults it frequently while assembling a
// rounding cascade.
type term struct {
	ast  C.Z3_ast
	sort smt.Sort
}

func (t *term) Sort() smt.Sort { return t.sort }
func (t *term) String() string { return t.sort.String() }

func asTerm(t smt.Term) *term {
	zt, ok := t.(*term)
	if !ok {
		panic(fmt.Sprintf("z3: term %v not built by this Context", t))
	}
	return zt
}

// MkBVSort returns a bit-vector sort descriptor. The underlying Z3_sort is
// constructed lazily wherever the sort is actually needed, since a width is
// enough to reconstruct it deterministically.
func (ctx *Context) MkBVSort(width uint, signed bool) smt.Sort {
	return smt.BVSort{Width: width, Signed: signed}
}

// MkBoolSort returns the Boolean sort descriptor.
func (ctx *Context) MkBoolSort() smt.Sort { return smt.BoolSort{} }

// MkFPSort returns a floating-point sort descriptor, aliased to a bit-vector
// sort of width exponent+significand everywhere it reaches Z3.
func (ctx *Context) MkFPSort(exponent, significand uint) smt.Sort {
	return smt.FPSort{Exponent: exponent, Significand: significand}
}

// zSortOf returns the Z3_sort backing an smt.Sort descriptor.
func (ctx *Context) zSortOf(sort smt.Sort) (C.Z3_sort, error) {
	switch sort := sort.(type) {
	case smt.BVSort:
		return ctx.makeBVSort(sort.Width)
	case smt.BoolSort:
		s := C.Z3_mk_bool_sort(ctx.raw)
		return s, ctx.err("Z3_mk_bool_sort")
	case smt.FPSort:
		return ctx.makeBVSort(sort.AsBVSort().Width)
	default:
		return nil, fmt.Errorf("z3: unsupported sort %v", sort)
	}
}

// MkSMTBV returns a bit-vector numeral of value at sort's width.
func (ctx *Context) MkSMTBV(sort smt.Sort, value *big.Int) smt.Term {
	zsort, err := ctx.zSortOf(sort)
	if err != nil {
		panic(err)
	}
	cstr := C.CString(value.String())
	defer C.free(unsafe.Pointer(cstr))
	ast := C.Z3_mk_numeral(ctx.raw, cstr, zsort)
	if err := ctx.err("Z3_mk_numeral"); err != nil {
		panic(err)
	}
	return &term{ast: ast, sort: sort}
}

// MkSMTBool returns a Boolean constant.
func (ctx *Context) MkSMTBool(value bool) smt.Term {
	var ast C.Z3_ast
	var err error
	if value {
		ast, err = ctx.makeTrue()
	} else {
		ast, err = ctx.makeFalse()
	}
	if err != nil {
		panic(err)
	}
	return &term{ast: ast, sort: smt.BoolSort{}}
}

// MkSMTSymbol returns a free constant of the given sort.
func (ctx *Context) MkSMTSymbol(name string, sort smt.Sort) smt.Term {
	zsort, err := ctx.zSortOf(sort)
	if err != nil {
		panic(err)
	}
	cname := C.CString(name)
	defer C.free(unsafe.Pointer(cname))
	sym := C.Z3_mk_string_symbol(ctx.raw, cname)
	ast := C.Z3_mk_const(ctx.raw, sym, zsort)
	if err := ctx.err("Z3_mk_const"); err != nil {
		panic(err)
	}
	return &term{ast: ast, sort: sort}
}

// MkExtract returns bits [hi:lo] of x.
func (ctx *Context) MkExtract(x smt.Term, hi, lo uint) smt.Term {
	zx := asTerm(x)
	ast := C.Z3_mk_extract(ctx.raw, C.uint(hi), C.uint(lo), zx.ast)
	if err := ctx.err("Z3_mk_extract"); err != nil {
		panic(err)
	}
	return &term{ast: ast, sort: smt.BVSort{Width: hi - lo + 1}}
}

// MkConcat returns a concat with a as the most-significant half.
func (ctx *Context) MkConcat(a, b smt.Term) smt.Term {
	za, zb := asTerm(a), asTerm(b)
	ast := C.Z3_mk_concat(ctx.raw, za.ast, zb.ast)
	if err := ctx.err("Z3_mk_concat"); err != nil {
		panic(err)
	}
	return &term{ast: ast, sort: smt.BVSort{Width: bvWidth(za.sort) + bvWidth(zb.sort)}}
}

// MkZeroExt zero-extends x by n bits.
func (ctx *Context) MkZeroExt(x smt.Term, n uint) smt.Term {
	zx := asTerm(x)
	ast := C.Z3_mk_zero_ext(ctx.raw, C.uint(n), zx.ast)
	if err := ctx.err("Z3_mk_zero_ext"); err != nil {
		panic(err)
	}
	return &term{ast: ast, sort: smt.BVSort{Width: bvWidth(zx.sort) + n}}
}

// MkSignExt sign-extends x by n bits.
func (ctx *Context) MkSignExt(x smt.Term, n uint) smt.Term {
	zx := asTerm(x)
	ast := C.Z3_mk_sign_ext(ctx.raw, C.uint(n), zx.ast)
	if err := ctx.err("Z3_mk_sign_ext"); err != nil {
		panic(err)
	}
	return &term{ast: ast, sort: smt.BVSort{Width: bvWidth(zx.sort) + n}}
}

// MkIte returns an if-then-else term; its sort is then's.
func (ctx *Context) MkIte(cond, then, els smt.Term) smt.Term {
	zc, zt, ze := asTerm(cond), asTerm(then), asTerm(els)
	ast := C.Z3_mk_ite(ctx.raw, zc.ast, zt.ast, ze.ast)
	if err := ctx.err("Z3_mk_ite"); err != nil {
		panic(err)
	}
	return &term{ast: ast, sort: zt.sort}
}

func bvWidth(s smt.Sort) uint {
	bv, ok := s.(smt.BVSort)
	if !ok {
		panic(fmt.Sprintf("z3: expected bit-vector sort, got %v", s))
	}
	return bv.Width
}
