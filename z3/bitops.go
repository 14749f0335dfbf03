package z3

/*
#include <z3.h>
*/
import "C"

import (
	"fmt"

	"github.com/symbmc/symbmc/smt"
)

// MkBVRedOr reduces x's bits with OR to a single-bit result. Z3 exposes this
// natively; no AND/OR-tree synthesis is needed the way it would be against a
// solver lacking the reduction operators.
func (ctx *Context) MkBVRedOr(x smt.Term) smt.Term {
	zx := asTerm(x)
	ast := C.Z3_mk_bvredor(ctx.raw, zx.ast)
	if err := ctx.err("Z3_mk_bvredor"); err != nil {
		panic(err)
	}
	return &term{ast: ast, sort: smt.BVSort{Width: 1}}
}

// MkBVRedAnd reduces x's bits with AND to a single-bit result.
func (ctx *Context) MkBVRedAnd(x smt.Term) smt.Term {
	zx := asTerm(x)
	ast := C.Z3_mk_bvredand(ctx.raw, zx.ast)
	if err := ctx.err("Z3_mk_bvredand"); err != nil {
		panic(err)
	}
	return &term{ast: ast, sort: smt.BVSort{Width: 1}}
}

// MkFuncApp applies one of the fixed function symbols from smt.Kind. AND/OR/
// XOR/NOT act on Bool-sorted args, the BV* kinds on bit-vector args; the two
// families never overlap for a single kind, so no sort inspection is needed
// to pick the Z3 primitive.
func (ctx *Context) MkFuncApp(sort smt.Sort, kind smt.Kind, args ...smt.Term) smt.Term {
	zargs := make([]C.Z3_ast, len(args))
	for i, a := range args {
		zargs[i] = asTerm(a).ast
	}

	var ast C.Z3_ast
	var op string
	switch kind {
	case smt.EQ:
		ast, op = C.Z3_mk_eq(ctx.raw, zargs[0], zargs[1]), "Z3_mk_eq"
	case smt.NOT:
		ast, op = C.Z3_mk_not(ctx.raw, zargs[0]), "Z3_mk_not"
	case smt.AND:
		ast, op = C.Z3_mk_and(ctx.raw, C.uint(len(zargs)), &zargs[0]), "Z3_mk_and"
	case smt.OR:
		ast, op = C.Z3_mk_or(ctx.raw, C.uint(len(zargs)), &zargs[0]), "Z3_mk_or"
	case smt.XOR:
		ast, op = C.Z3_mk_xor(ctx.raw, zargs[0], zargs[1]), "Z3_mk_xor"
	case smt.BVADD:
		ast, op = C.Z3_mk_bvadd(ctx.raw, zargs[0], zargs[1]), "Z3_mk_bvadd"
	case smt.BVSUB:
		ast, op = C.Z3_mk_bvsub(ctx.raw, zargs[0], zargs[1]), "Z3_mk_bvsub"
	case smt.BVMUL:
		ast, op = C.Z3_mk_bvmul(ctx.raw, zargs[0], zargs[1]), "Z3_mk_bvmul"
	case smt.BVUDIV:
		ast, op = C.Z3_mk_bvudiv(ctx.raw, zargs[0], zargs[1]), "Z3_mk_bvudiv"
	case smt.BVSDIV:
		ast, op = C.Z3_mk_bvsdiv(ctx.raw, zargs[0], zargs[1]), "Z3_mk_bvsdiv"
	case smt.BVUREM:
		ast, op = C.Z3_mk_bvurem(ctx.raw, zargs[0], zargs[1]), "Z3_mk_bvurem"
	case smt.BVSREM:
		ast, op = C.Z3_mk_bvsrem(ctx.raw, zargs[0], zargs[1]), "Z3_mk_bvsrem"
	case smt.BVSHL:
		ast, op = C.Z3_mk_bvshl(ctx.raw, zargs[0], zargs[1]), "Z3_mk_bvshl"
	case smt.BVLSHR:
		ast, op = C.Z3_mk_bvlshr(ctx.raw, zargs[0], zargs[1]), "Z3_mk_bvlshr"
	case smt.BVASHR:
		ast, op = C.Z3_mk_bvashr(ctx.raw, zargs[0], zargs[1]), "Z3_mk_bvashr"
	case smt.BVAND:
		ast, op = C.Z3_mk_bvand(ctx.raw, zargs[0], zargs[1]), "Z3_mk_bvand"
	case smt.BVOR:
		ast, op = C.Z3_mk_bvor(ctx.raw, zargs[0], zargs[1]), "Z3_mk_bvor"
	case smt.BVXOR:
		ast, op = C.Z3_mk_bvxor(ctx.raw, zargs[0], zargs[1]), "Z3_mk_bvxor"
	case smt.BVNOT:
		ast, op = C.Z3_mk_bvnot(ctx.raw, zargs[0]), "Z3_mk_bvnot"
	case smt.BVNEG:
		ast, op = C.Z3_mk_bvneg(ctx.raw, zargs[0]), "Z3_mk_bvneg"
	case smt.BVULT:
		ast, op = C.Z3_mk_bvult(ctx.raw, zargs[0], zargs[1]), "Z3_mk_bvult"
	case smt.BVULE:
		ast, op = C.Z3_mk_bvule(ctx.raw, zargs[0], zargs[1]), "Z3_mk_bvule"
	case smt.BVSLT:
		ast, op = C.Z3_mk_bvslt(ctx.raw, zargs[0], zargs[1]), "Z3_mk_bvslt"
	case smt.BVSLE:
		ast, op = C.Z3_mk_bvsle(ctx.raw, zargs[0], zargs[1]), "Z3_mk_bvsle"
	case smt.CONCAT:
		ast, op = C.Z3_mk_concat(ctx.raw, zargs[0], zargs[1]), "Z3_mk_concat"
	default:
		panic(fmt.Sprintf("z3: unsupported func app kind %s", kind))
	}
	if err := ctx.err(op); err != nil {
		panic(err)
	}
	return &term{ast: ast, sort: sort}
}
