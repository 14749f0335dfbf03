package z3

import (
	"fmt"
	"strings"
	"time"
	"unsafe"

	"github.com/symbmc/symbmc"
	"github.com/symbmc/symbmc/fpa"
	"github.com/symbmc/symbmc/smt"
)

/*
#cgo LDFLAGS: -lz3
#include <z3.h>
#include <stdlib.h>
#include <stdio.h>
*/
import "C"

// Ensure solver implements interface.
var _ symbmc.Solver = (*Solver)(nil)

// Solver represents a solver that uses an embedded Z3 solver.
type Solver struct {
	ctx   *Context
	stats Stats
}

// NewSolver returns a new instance of Solver.
func NewSolver() *Solver {
	return &Solver{
		ctx: NewContext(),
	}
}

// Close deletes the underlying Z3 context.
func (s *Solver) Close() error {
	return s.ctx.Close()
}

// Stats returns statistics for the solver.
func (s *Solver) Stats() Stats {
	return s.stats
}

func (s *Solver) Solve(constraints []symbmc.Expr, arrays []*symbmc.Array) (satisfiable bool, values [][]byte, err error) {
	t := time.Now()
	defer func() {
		s.stats.SolveN++
		s.stats.SolveTime += time.Since(t)
	}()

	solver := C.Z3_mk_solver(s.ctx.raw)
	if err := s.ctx.err("Z3_mk_solver"); err != nil {
		return false, nil, err
	}
	C.Z3_solver_inc_ref(s.ctx.raw, solver)
	defer C.Z3_solver_dec_ref(s.ctx.raw, solver)

	for _, constraint := range constraints {
		z3Constraint, err := s.ctx.toAST(constraint)
		if err != nil {
			return false, nil, err
		}
		C.Z3_solver_assert(s.ctx.raw, solver, z3Constraint)
		if err := s.ctx.err("Z3_solver_assert"); err != nil {
			return false, nil, err
		}
	}

	ret := C.Z3_solver_check(s.ctx.raw, solver)
	if err := s.ctx.err("Z3_solver_check"); err != nil {
		return false, nil, err
	}
	switch ret {
	case C.Z3_L_FALSE:
		return false, nil, nil
	case C.Z3_L_UNDEF:
		reason := C.GoString(C.Z3_solver_get_reason_unknown(s.ctx.raw, solver))
		return false, nil, unknownReasonToErr(reason)
	}
	if len(arrays) == 0 {
		return true, nil, nil // sat with no symbolic byte arrays to report a witness for
	}

	model := C.Z3_solver_get_model(s.ctx.raw, solver)
	if err := s.ctx.err("Z3_solver_get_model"); err != nil {
		return true, nil, err
	}

	values, err = s.ctx.eval(model, arrays)
	if err != nil {
		return true, nil, err
	}
	return true, values, nil
}

// unknownReasonToErr classifies Z3's free-text "reason unknown" string
// (there is no dedicated status code for why the solver gave up) into one
// of the sentinel errors callers switch on, falling back to a plain
// wrapped error for a reason string Z3 hasn't been observed to emit here.
func unknownReasonToErr(reason string) error {
	switch {
	case strings.Contains(reason, "timeout"):
		return symbmc.ErrSolverTimeout
	case strings.Contains(reason, "canceled"):
		return symbmc.ErrSolverCanceled
	case strings.Contains(reason, "(resource limits reached)"):
		return symbmc.ErrSolverResourceLimit
	case strings.Contains(reason, "unknown"):
		return symbmc.ErrSolverUnknown
	default:
		return fmt.Errorf("z3: %s", reason)
	}
}

// Context represents a Z3 context object that is used for constructing expressions.
type Context struct {
	raw C.Z3_context
}

// NewContext returns a new instance of Context.
func NewContext() *Context {
	config := C.Z3_mk_config()
	defer C.Z3_del_config(config)

	raw := C.Z3_mk_context(config)
	C.Z3_set_error_handler(raw, nil)
	C.Z3_set_ast_print_mode(raw, C.Z3_PRINT_SMTLIB2_COMPLIANT)
	return &Context{raw: raw}
}

// Close deletes the underlying Z3 context.
func (ctx *Context) Close() error {
	C.Z3_del_context(ctx.raw)
	return ctx.err("Z3_del_context")
}

// err returns the error for the last API call. Returns nil if last call was successful.
func (ctx *Context) err(op string) error {
	if code := C.Z3_get_error_code(ctx.raw); code != C.Z3_OK {
		return &Error{Code: int(code), Op: op, Message: C.GoString(C.Z3_get_error_msg(ctx.raw, code))}
	}
	return nil
}

// toAST returns a new instance of Z3_ast and its width from a symbmc expression.
func (ctx *Context) toAST(expr symbmc.Expr) (C.Z3_ast, error) {
	switch expr := expr.(type) {
	case *symbmc.ConstantExpr:
		return ctx.toConstantAST(expr)
	case *symbmc.NotOptimizedExpr:
		return ctx.toAST(expr.Src)
	case *symbmc.SelectExpr:
		return ctx.toSelectAST(expr)
	case *symbmc.ConcatExpr:
		return ctx.toConcatAST(expr)
	case *symbmc.ExtractExpr:
		return ctx.toExtractAST(expr)
	case *symbmc.CastExpr:
		return ctx.toCastAST(expr)
	case *symbmc.NotExpr:
		return ctx.toNotAST(expr)
	case *symbmc.BinaryExpr:
		return ctx.toBinaryAST(expr)
	case *symbmc.FPExpr:
		return ctx.toFPExprAST(expr)
	default:
		return nil, fmt.Errorf("ctx.Context.toAST: invalid expression type: %T", expr)
	}
}

// toFPExprAST lowers a floating-point operation to bit-vector logic via the
// fpa encoder, using ctx itself as the encoder's smt.Builder so the result
// lands in the same Z3 context as the rest of the path's constraints.
func (ctx *Context) toFPExprAST(expr *symbmc.FPExpr) (C.Z3_ast, error) {
	enc := fpa.New(ctx)

	terms := make([]smt.Term, len(expr.Args))
	for i, a := range expr.Args {
		ast, err := ctx.toAST(a)
		if err != nil {
			return nil, err
		}
		terms[i] = &term{ast: ast, sort: smt.BVSort{Width: symbmc.ExprWidth(a)}}
	}

	var result smt.Term
	switch expr.Op {
	case symbmc.FPNeg:
		result = enc.Neg(expr.Format, terms[0])
	case symbmc.FPAbs:
		result = enc.Abs(expr.Format, terms[0])
	case symbmc.FPAdd:
		result = enc.Add(expr.Format, expr.RM, terms[0], terms[1])
	case symbmc.FPSub:
		result = enc.Sub(expr.Format, expr.RM, terms[0], terms[1])
	case symbmc.FPMul:
		result = enc.Mul(expr.Format, expr.RM, terms[0], terms[1])
	case symbmc.FPDiv:
		result = enc.Div(expr.Format, expr.RM, terms[0], terms[1])
	case symbmc.FPSqrt:
		result = enc.Sqrt(expr.Format, expr.RM, terms[0])
	case symbmc.FPToSBVOp:
		result = enc.FPToSBV(expr.Format, expr.RM, terms[0], expr.Width)
	case symbmc.FPToUBVOp:
		result = enc.FPToUBV(expr.Format, expr.RM, terms[0], expr.Width)
	case symbmc.SBVToFPOp:
		result = enc.SBVToFP(expr.Format, expr.RM, terms[0])
	case symbmc.UBVToFPOp:
		result = enc.UBVToFP(expr.Format, expr.RM, terms[0])
	case symbmc.FPToFPOp:
		if expr.ToFormat == nil {
			return nil, fmt.Errorf("z3: %s missing target format", expr.Op)
		}
		result = enc.FPToFP(expr.Format, *expr.ToFormat, expr.RM, terms[0])
	case symbmc.FPEq:
		result = enc.Eq(expr.Format, terms[0], terms[1])
	case symbmc.FPLt:
		result = enc.Lt(expr.Format, terms[0], terms[1])
	case symbmc.FPGt:
		result = enc.Gt(expr.Format, terms[0], terms[1])
	case symbmc.FPLe:
		result = enc.Le(expr.Format, terms[0], terms[1])
	case symbmc.FPGe:
		result = enc.Ge(expr.Format, terms[0], terms[1])
	case symbmc.FPIsNaN:
		result = enc.IsNaN(expr.Format, terms[0])
	case symbmc.FPIsInf:
		result = enc.IsInf(expr.Format, terms[0])
	case symbmc.FPIsZero:
		result = enc.IsZero(expr.Format, terms[0])
	case symbmc.FPIsNormal:
		result = enc.IsNormal(expr.Format, terms[0])
	case symbmc.FPIsDenormal:
		result = enc.IsDenormal(expr.Format, terms[0])
	case symbmc.FPIsPositive:
		result = enc.IsPositive(expr.Format, terms[0])
	case symbmc.FPIsNegative:
		result = enc.IsNegative(expr.Format, terms[0])
	default:
		return nil, fmt.Errorf("z3: unsupported fp op %s", expr.Op)
	}
	return asTerm(result).ast, nil
}

func (ctx *Context) toConstantAST(expr *symbmc.ConstantExpr) (C.Z3_ast, error) {
	if expr.Width == 1 {
		if expr.IsTrue() {
			return ctx.makeTrue()
		}
		return ctx.makeFalse()
	} else if expr.Width <= 32 {
		return ctx.makeUint(expr.Width, uint32(expr.Value))
	} else if expr.Width <= 64 {
		return ctx.makeUint64(expr.Width, expr.Value)
	}
	return nil, fmt.Errorf("z3.Context.toConstantAST: invalid expression width: %d", expr.Width)
}

func (ctx *Context) toSelectAST(expr *symbmc.SelectExpr) (C.Z3_ast, error) {
	array, err := ctx.makeArrayWithUpdate(expr.Array, expr.Array.Updates)
	if err != nil {
		return nil, err
	}
	index, err := ctx.toAST(expr.Index)
	if err != nil {
		return nil, err
	}
	return C.Z3_mk_select(ctx.raw, array, index), ctx.err("Z3_mk_select")
}

func (ctx *Context) toConcatAST(expr *symbmc.ConcatExpr) (C.Z3_ast, error) {
	msb, err := ctx.toAST(expr.MSB)
	if err != nil {
		return nil, err
	}
	lsb, err := ctx.toAST(expr.LSB)
	if err != nil {
		return nil, err
	}
	return C.Z3_mk_concat(ctx.raw, msb, lsb), ctx.err("Z3_mk_concat")
}

func (ctx *Context) toExtractAST(expr *symbmc.ExtractExpr) (C.Z3_ast, error) {
	src, err := ctx.toAST(expr.Expr)
	if err != nil {
		return nil, err
	}

	// If extracting single bit, use EQ expression to convert to bool sort.
	if expr.Width == 1 {
		extractExpr := C.Z3_mk_extract(ctx.raw, C.uint(expr.Offset), C.uint(expr.Offset), src)
		if err := ctx.err("Z3_mk_extract[bool]"); err != nil {
			return nil, err
		}
		one, err := ctx.makeUint64(1, 1)
		if err != nil {
			return nil, err
		}
		return C.Z3_mk_eq(ctx.raw, extractExpr, one), ctx.err("Z3_mk_eq")
	}

	return C.Z3_mk_extract(ctx.raw, C.uint(expr.Offset+expr.Width-1), C.uint(expr.Offset), src), ctx.err("Z3_mk_extract")
}

// toCastAST widens expr.Src to expr.Width. A 1-bit boolean source has no
// bit pattern of its own to extend, so both the signed and unsigned paths
// fall through to an if-then-else picking the widened true/false value
// directly; a wider source just extends (sign or zero, per expr.Signed).
func (ctx *Context) toCastAST(expr *symbmc.CastExpr) (C.Z3_ast, error) {
	src, err := ctx.toAST(expr.Src)
	if err != nil {
		return nil, err
	}

	if symbmc.ExprWidth(expr.Src) == 1 {
		var trueVal uint64 = 1
		if expr.Signed {
			trueVal = uint64(int64(-1))
		}
		whenTrue, err := ctx.makeUint64(expr.Width, trueVal)
		if err != nil {
			return nil, err
		}
		whenFalse, err := ctx.makeUint64(expr.Width, 0)
		if err != nil {
			return nil, err
		}
		return C.Z3_mk_ite(ctx.raw, src, whenTrue, whenFalse), ctx.err("Z3_mk_ite")
	}

	if expr.Signed {
		return C.Z3_mk_sign_ext(ctx.raw, C.uint(expr.Width-uint(ctx.bvSize(src))), src), ctx.err("Z3_mk_sign_ext")
	}
	padding, err := ctx.makeUint64(expr.Width-ctx.bvSize(src), 0)
	if err != nil {
		return nil, err
	}
	return C.Z3_mk_concat(ctx.raw, padding, src), ctx.err("Z3_mk_concat")
}

func (ctx *Context) toNotAST(expr *symbmc.NotExpr) (C.Z3_ast, error) {
	src, err := ctx.toAST(expr.Expr)
	if err != nil {
		return nil, err
	}

	// If boolean, use boolean NOT operation.
	if symbmc.ExprWidth(expr.Expr) == 1 {
		return C.Z3_mk_not(ctx.raw, src), ctx.err("Z3_mk_not")
	}
	return C.Z3_mk_bvnot(ctx.raw, src), ctx.err("Z3_mk_bvnot")
}

// bvBinaryOps maps a bit-vector binary operator directly to the Z3
// constructor that builds it. Every op in this table follows the same
// shape (lower both operands, make one Z3 call), so toBinaryAST resolves
// through here instead of carrying a hand-written wrapper method per
// operator; only AND/OR/XOR/EQ need special-casing below, since C's
// booleans and Z3's Bool sort both ride the same 1-bit BV expressions
// this engine uses everywhere else, and need their own logical (not
// bitwise) Z3 constructors when that bit is what's being combined.
var bvBinaryOps = map[symbmc.BinaryOp]func(C.Z3_context, C.Z3_ast, C.Z3_ast) C.Z3_ast{
	symbmc.ADD:  C.Z3_mk_bvadd,
	symbmc.SUB:  C.Z3_mk_bvsub,
	symbmc.MUL:  C.Z3_mk_bvmul,
	symbmc.UDIV: C.Z3_mk_bvudiv,
	symbmc.SDIV: C.Z3_mk_bvsdiv,
	symbmc.UREM: C.Z3_mk_bvurem,
	symbmc.SREM: C.Z3_mk_bvsrem,
	symbmc.SHL:  C.Z3_mk_bvshl,
	symbmc.LSHR: C.Z3_mk_bvlshr,
	symbmc.ASHR: C.Z3_mk_bvashr,
	symbmc.ULT:  C.Z3_mk_bvult,
	symbmc.ULE:  C.Z3_mk_bvule,
	symbmc.SLT:  C.Z3_mk_bvslt,
	symbmc.SLE:  C.Z3_mk_bvsle,
}

func (ctx *Context) toBinaryAST(expr *symbmc.BinaryExpr) (C.Z3_ast, error) {
	lhs, err := ctx.toAST(expr.LHS)
	if err != nil {
		return nil, err
	}
	rhs, err := ctx.toAST(expr.RHS)
	if err != nil {
		return nil, err
	}
	isBool := symbmc.ExprWidth(expr.LHS) == 1

	switch expr.Op {
	case symbmc.AND:
		if !isBool {
			return C.Z3_mk_bvand(ctx.raw, lhs, rhs), ctx.err("Z3_mk_bvand")
		}
		args := [2]C.Z3_ast{lhs, rhs}
		return C.Z3_mk_and(ctx.raw, 2, &args[0]), ctx.err("Z3_mk_and")
	case symbmc.OR:
		if !isBool {
			return C.Z3_mk_bvor(ctx.raw, lhs, rhs), ctx.err("Z3_mk_bvor")
		}
		args := [2]C.Z3_ast{lhs, rhs}
		return C.Z3_mk_or(ctx.raw, 2, &args[0]), ctx.err("Z3_mk_or")
	case symbmc.XOR:
		if !isBool {
			return C.Z3_mk_bvxor(ctx.raw, lhs, rhs), ctx.err("Z3_mk_bvxor")
		}
		notRHS := C.Z3_mk_not(ctx.raw, rhs)
		if err := ctx.err("Z3_mk_not"); err != nil {
			return nil, err
		}
		return C.Z3_mk_ite(ctx.raw, lhs, notRHS, rhs), ctx.err("Z3_mk_ite")
	case symbmc.EQ:
		if isBool {
			return C.Z3_mk_iff(ctx.raw, lhs, rhs), ctx.err("Z3_mk_iff")
		}
		return C.Z3_mk_eq(ctx.raw, lhs, rhs), ctx.err("Z3_mk_eq")
	}

	mk, ok := bvBinaryOps[expr.Op]
	if !ok {
		return nil, fmt.Errorf("ctx.Context.toBinaryAST: unexpected operation: %s", expr.Op)
	}
	return mk(ctx.raw, lhs, rhs), ctx.err("z3 binary op " + expr.Op.String())
}

func (ctx *Context) makeTrue() (C.Z3_ast, error) {
	return C.Z3_mk_true(ctx.raw), ctx.err("Z3_mk_true")
}

func (ctx *Context) makeFalse() (C.Z3_ast, error) {
	return C.Z3_mk_false(ctx.raw), ctx.err("Z3_mk_false")
}

func (ctx *Context) makeBVSort(width uint) (C.Z3_sort, error) {
	return C.Z3_mk_bv_sort(ctx.raw, C.uint(width)), ctx.err("Z3_mk_bv_sort")
}

func (ctx *Context) makeUint(width uint, value uint32) (C.Z3_ast, error) {
	t, err := ctx.makeBVSort(width)
	if err != nil {
		return nil, err
	}
	return C.Z3_mk_unsigned_int(ctx.raw, C.uint(value), t), ctx.err("Z3_mk_unsigned_int")
}

func (ctx *Context) makeUint64(width uint, value uint64) (C.Z3_ast, error) {
	t, err := ctx.makeBVSort(width)
	if err != nil {
		return nil, err
	}
	return C.Z3_mk_unsigned_int64(ctx.raw, C.ulonglong(value), t), ctx.err("Z3_mk_unsigned_int64")
}

func (ctx *Context) bvSize(expr C.Z3_ast) uint {
	t := C.Z3_get_sort(ctx.raw, expr)
	if err := ctx.err("Z3_get_sort"); err != nil {
		panic(err)
	}
	return ctx.bvSortSize(t)
}

// bvSortSize returns the size of t in bits. Panic if t is not a bit-vector sort.
func (ctx *Context) bvSortSize(t C.Z3_sort) uint {
	sz := uint(C.Z3_get_bv_sort_size(ctx.raw, t))
	if err := ctx.err("Z3_get_bv_sort_size"); err != nil {
		panic(err)
	}
	return sz
}

// makeArrayConst returns the root constant array with no updates.
func (ctx *Context) makeArrayConst(array *symbmc.Array) (C.Z3_ast, error) {
	// Construct array sort.
	domainSort := C.Z3_mk_bv_sort(ctx.raw, C.uint(symbmc.Width64))
	if err := ctx.err("Z3_mk_bv_sort[domain]"); err != nil {
		return nil, err
	}
	rangeSort := C.Z3_mk_bv_sort(ctx.raw, C.uint(symbmc.Width8))
	if err := ctx.err("Z3_mk_bv_sort[range]"); err != nil {
		return nil, err
	}
	arraySort := C.Z3_mk_array_sort(ctx.raw, domainSort, rangeSort)
	if err := ctx.err("Z3_mk_array_sort"); err != nil {
		return nil, err
	}

	// Construct Z3 string for name.
	cname := C.CString(arrayName(array))
	defer C.free(unsafe.Pointer(cname))
	nameSymbol := C.Z3_mk_string_symbol(ctx.raw, cname)

	return C.Z3_mk_const(ctx.raw, nameSymbol, arraySort), ctx.err("Z3_mk_const")
}

// makeArrayWithUpdate returns an array with updates recursively applied.
func (ctx *Context) makeArrayWithUpdate(root *symbmc.Array, upd *symbmc.ArrayUpdate) (C.Z3_ast, error) {
	if upd == nil {
		return ctx.makeArrayConst(root)
	}

	array, err := ctx.makeArrayWithUpdate(root, upd.Next)
	if err != nil {
		return nil, err
	}
	index, err := ctx.toAST(upd.Index)
	if err != nil {
		return nil, err
	}
	value, err := ctx.toAST(upd.Value)
	if err != nil {
		return nil, err
	}
	return C.Z3_mk_store(ctx.raw, array, index, value), ctx.err("Z3_mk_store")
}

// eval evaluates arrays into their initial byte slice values.
func (ctx *Context) eval(model C.Z3_model, arrays []*symbmc.Array) ([][]byte, error) {
	values := make([][]byte, 0, len(arrays))
	for _, array := range arrays {
		value, err := ctx.evalArray(model, array)
		if err != nil {
			return nil, err
		}
		values = append(values, value)
	}
	return values, nil
}

// evalArray evaluates a single array into its initial byte slice value.
func (ctx *Context) evalArray(model C.Z3_model, array *symbmc.Array) ([]byte, error) {
	value := make([]byte, 0, array.Size)
	for offset := uint(0); offset < array.Size; offset++ {
		// Generate a reference to the root array.
		z3Array, err := ctx.makeArrayConst(array)
		if err != nil {
			return nil, err
		}
		z3Offset, err := ctx.makeUint64(64, uint64(offset))
		if err != nil {
			return nil, err
		}

		// Generate an expression to select a single byte from the array.
		z3Select := C.Z3_mk_select(ctx.raw, z3Array, z3Offset)
		if err := ctx.err("Z3_mk_select"); err != nil {
			return nil, err
		}

		// Evaluate the expression against the Z3 model.
		var z3Expr C.Z3_ast
		C.Z3_model_eval(ctx.raw, model, z3Select, C.bool(true), &z3Expr)
		if err := ctx.err("Z3_model_eval"); err != nil {
			return nil, err
		}

		// Extract the byte from the evaluation.
		var z3Byte C.int
		C.Z3_get_numeral_int(ctx.raw, z3Expr, &z3Byte)
		if err := ctx.err("Z3_get_numeral_int"); err != nil {
			return nil, err
		}
		value = append(value, byte(z3Byte))
	}
	return value, nil
}

func arrayName(array *symbmc.Array) string {
	return fmt.Sprintf("A%d", array.ID)
}

// Error represents an error from the Z3 API.
type Error struct {
	Code    int
	Op      string
	Message string
}

// Error returns the error as a string.
func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s (%d)", e.Op, e.Message, e.Code)
}

// Possible error codes.
const (
	ErrorCodeOK = iota
	ErrorCodeSortError
	ErrorCodeIOB
	ErrorCodeInvalidArg
	ErrorCodeParserError
	ErrorCodeNoParser
	ErrorCodeInvalidPattern
	ErrorCodeMemoutFail
	ErrorCodeFileAccessError
	ErrorCodeInternalFatal
	ErrorCodeInvalidUsage
	ErrorCodeDecRefError
	ErrorCodeException
)

type Stats struct {
	SolveN    int
	SolveTime time.Duration
}
