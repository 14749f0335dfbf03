package main

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/symbmc/symbmc"
)

// decodeProgram reads a whole GOTO program from r: a labelled set of
// functions plus the entry function's name, built from RefExpr/AddrOfExpr/
// DerefExpr rather than already-versioned identifiers, the same source-level
// vocabulary a real GOTO-IR construction pass would emit (out of scope
// here, per the linkage contract library/library.go documents for the
// prelinked C-library bodies it loads).
//
// The wire format mirrors library.Decode's length-prefixed style but covers
// the fuller instruction and expression vocabulary a whole program needs:
// branching, loops, declarations and assertions. FUNCTION_CALL and the
// exception instructions (THROW/CATCH) are intentionally not supported by
// this loader: expanding them needs the value-set/candidate-list machinery
// executor.go already implements at runtime, not a static decode step, so a
// program exercising them is built directly as Go literals (as the root
// symbmc package's executor tests do) rather than round-tripped through
// this codec.
//
//	string         entry function name
//	uint32         function count
//	repeated function record:
//	  string       name
//	  uint32       return width (0 = void)
//	  uint32       parameter count
//	  repeated:    string parameter name
//	  uint32       instruction count
//	  repeated:    encoded instruction (see decodeInstr)
func decodeProgram(r io.Reader) (*symbmc.Program, error) {
	br := bufio.NewReader(r)

	entry, err := readString(br)
	if err != nil {
		return nil, fmt.Errorf("decoding entry function name: %w", err)
	}
	prog := symbmc.NewProgram(entry)

	count, err := readU32(br)
	if err != nil {
		return nil, fmt.Errorf("decoding function count: %w", err)
	}
	for i := uint32(0); i < count; i++ {
		fn, err := decodeFunc(br)
		if err != nil {
			return nil, fmt.Errorf("decoding function %d: %w", i, err)
		}
		prog.AddFunction(fn)
	}
	return prog, nil
}

func decodeFunc(r *bufio.Reader) (*symbmc.Function, error) {
	name, err := readString(r)
	if err != nil {
		return nil, err
	}
	returnWidth, err := readU32(r)
	if err != nil {
		return nil, err
	}
	paramCount, err := readU32(r)
	if err != nil {
		return nil, err
	}
	params := make([]string, paramCount)
	for i := range params {
		if params[i], err = readString(r); err != nil {
			return nil, err
		}
	}
	instrCount, err := readU32(r)
	if err != nil {
		return nil, err
	}
	body := make([]*symbmc.Instruction, instrCount)
	for i := range body {
		if body[i], err = decodeInstr(r); err != nil {
			return nil, fmt.Errorf("instruction %d: %w", i, err)
		}
	}
	return &symbmc.Function{Name: name, Params: params, Body: body, ReturnWidth: uint(returnWidth)}, nil
}

// Instruction tags, one per InstrKind this loader supports.
const (
	tagAssign byte = iota
	tagAssume
	tagAssert
	tagGotoUncond
	tagGotoCond
	tagReturn
	tagReturnVoid
	tagDecl
	tagDead
	tagSkip
	tagEndFunction
	tagAtomicBegin
	tagAtomicEnd
)

func decodeInstr(r *bufio.Reader) (*symbmc.Instruction, error) {
	tag, err := r.ReadByte()
	if err != nil {
		return nil, err
	}
	loc, err := readString(r)
	if err != nil {
		return nil, err
	}

	in := &symbmc.Instruction{Loc: loc}
	switch tag {
	case tagAssign:
		in.Kind = symbmc.ASSIGN
		if in.LHS, err = decodeExpr(r); err != nil {
			return nil, err
		}
		if in.RHS, err = decodeExpr(r); err != nil {
			return nil, err
		}
	case tagAssume:
		in.Kind = symbmc.ASSUME
		if in.RHS, err = decodeExpr(r); err != nil {
			return nil, err
		}
	case tagAssert:
		in.Kind = symbmc.ASSERT
		if in.RHS, err = decodeExpr(r); err != nil {
			return nil, err
		}
		if in.Message, err = readString(r); err != nil {
			return nil, err
		}
	case tagGotoUncond:
		in.Kind = symbmc.GOTO
		target, err := readU32(r)
		if err != nil {
			return nil, err
		}
		in.Targets = []int{int(target)}
	case tagGotoCond:
		in.Kind = symbmc.GOTO
		if in.RHS, err = decodeExpr(r); err != nil {
			return nil, err
		}
		taken, err := readU32(r)
		if err != nil {
			return nil, err
		}
		fallthru, err := readU32(r)
		if err != nil {
			return nil, err
		}
		in.Targets = []int{int(taken), int(fallthru)}
	case tagReturn:
		in.Kind = symbmc.RETURN
		if in.RHS, err = decodeExpr(r); err != nil {
			return nil, err
		}
	case tagReturnVoid:
		in.Kind = symbmc.RETURN
	case tagDecl:
		in.Kind = symbmc.DECL
		if in.Symbol, err = readString(r); err != nil {
			return nil, err
		}
		width, err := readU32(r)
		if err != nil {
			return nil, err
		}
		in.Width = uint(width)
	case tagDead:
		in.Kind = symbmc.DEAD
		if in.Symbol, err = readString(r); err != nil {
			return nil, err
		}
	case tagSkip:
		in.Kind = symbmc.SKIP
	case tagEndFunction:
		in.Kind = symbmc.END_FUNCTION
	case tagAtomicBegin:
		in.Kind = symbmc.ATOMIC_BEGIN
	case tagAtomicEnd:
		in.Kind = symbmc.ATOMIC_END
	default:
		return nil, fmt.Errorf("unknown instruction tag %d", tag)
	}
	return in, nil
}

// Expression tags, covering the source-level (pre-rename) vocabulary a
// GOTO-IR construction pass emits: RefExpr/AddrOfExpr/DerefExpr rather than
// IdentExpr, which only ever arises internally once symex versions a name.
const (
	exprTagConstant byte = iota
	exprTagRef
	exprTagAddrOf
	exprTagDeref
	exprTagBinary
	exprTagNot
	exprTagCast
	exprTagExtract
	exprTagConcat
	exprTagIte
)

func decodeExpr(r *bufio.Reader) (symbmc.Expr, error) {
	tag, err := r.ReadByte()
	if err != nil {
		return nil, err
	}
	switch tag {
	case exprTagConstant:
		value, err := readU64(r)
		if err != nil {
			return nil, err
		}
		width, err := readU32(r)
		if err != nil {
			return nil, err
		}
		return symbmc.NewConstantExpr(value, uint(width)), nil
	case exprTagRef:
		name, err := readString(r)
		if err != nil {
			return nil, err
		}
		width, err := readU32(r)
		if err != nil {
			return nil, err
		}
		return symbmc.NewRefExpr(name, uint(width)), nil
	case exprTagAddrOf:
		name, err := readString(r)
		if err != nil {
			return nil, err
		}
		return symbmc.NewAddrOfExpr(name), nil
	case exprTagDeref:
		name, err := readString(r)
		if err != nil {
			return nil, err
		}
		width, err := readU32(r)
		if err != nil {
			return nil, err
		}
		return symbmc.NewDerefExpr(name, uint(width)), nil
	case exprTagBinary:
		op, err := readU32(r)
		if err != nil {
			return nil, err
		}
		lhs, err := decodeExpr(r)
		if err != nil {
			return nil, err
		}
		rhs, err := decodeExpr(r)
		if err != nil {
			return nil, err
		}
		return symbmc.NewBinaryExpr(symbmc.BinaryOp(op), lhs, rhs), nil
	case exprTagNot:
		inner, err := decodeExpr(r)
		if err != nil {
			return nil, err
		}
		return symbmc.NewNotExpr(inner), nil
	case exprTagCast:
		src, err := decodeExpr(r)
		if err != nil {
			return nil, err
		}
		width, err := readU32(r)
		if err != nil {
			return nil, err
		}
		signed, err := r.ReadByte()
		if err != nil {
			return nil, err
		}
		return symbmc.NewCastExpr(src, uint(width), signed != 0), nil
	case exprTagExtract:
		inner, err := decodeExpr(r)
		if err != nil {
			return nil, err
		}
		offset, err := readU32(r)
		if err != nil {
			return nil, err
		}
		width, err := readU32(r)
		if err != nil {
			return nil, err
		}
		return symbmc.NewExtractExpr(inner, uint(offset), uint(width)), nil
	case exprTagConcat:
		msb, err := decodeExpr(r)
		if err != nil {
			return nil, err
		}
		lsb, err := decodeExpr(r)
		if err != nil {
			return nil, err
		}
		return symbmc.NewConcatExpr(msb, lsb), nil
	case exprTagIte:
		cond, err := decodeExpr(r)
		if err != nil {
			return nil, err
		}
		then, err := decodeExpr(r)
		if err != nil {
			return nil, err
		}
		els, err := decodeExpr(r)
		if err != nil {
			return nil, err
		}
		return symbmc.NewIteExpr(cond, then, els), nil
	default:
		return nil, fmt.Errorf("unknown expression tag %d", tag)
	}
}

func readU32(r io.Reader) (uint32, error) {
	var buf [4]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(buf[:]), nil
}

func readU64(r io.Reader) (uint64, error) {
	var buf [8]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint64(buf[:]), nil
}

func readString(r io.Reader) (string, error) {
	n, err := readU32(r)
	if err != nil {
		return "", err
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", err
	}
	return string(buf), nil
}
