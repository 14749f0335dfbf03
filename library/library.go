// Package library implements the linkage contract for the prelinked C
// standard-library model: given a user program and a library of already
// compiled function bodies for a target bit width, it imports exactly the
// symbols the user program references but never defines, and recurses
// into whatever those bodies themselves reference, until nothing new is
// pulled in.
//
// Building the library bodies themselves (a real libc lowered to the GOTO
// schema) is out of scope here, the same way the C frontend that produces
// the user's own program is: this package only implements the loader's
// wire format and the fixed-point linking algorithm, decoding into the
// engine's own Function/Instruction/Expr types rather than a foreign
// schema, since those are the only GOTO schema this rendition defines.
package library

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"sort"

	"github.com/symbmc/symbmc"
)

// Library is a name-indexed set of prelinked function bodies for one
// target bit width.
type Library struct {
	Width     uint
	Functions map[string]*symbmc.Function
}

// Loader reads Libraries from length-prefixed blobs, one per target width,
// mirroring the per-width prelinked binary buffers the original tool
// links against (a separate translation unit per width rather than one
// blob with width branching baked in).
type Loader struct {
	sources map[uint]io.ReaderAt
}

// NewLoader returns a loader with no registered sources.
func NewLoader() *Loader {
	return &Loader{sources: make(map[uint]io.ReaderAt)}
}

// Register associates a blob source with a target width. Load(width)
// fails until a source has been registered for that width.
func (l *Loader) Register(width uint, src io.ReaderAt) {
	l.sources[width] = src
}

// Load decodes the library blob registered for width.
func (l *Loader) Load(width uint) (*Library, error) {
	src, ok := l.sources[width]
	if !ok {
		return nil, fmt.Errorf("library: no source registered for width %d", width)
	}
	return Decode(io.NewSectionReader(src, 0, 1<<62), width)
}

// Decode reads the length-prefixed function-record format from r:
//
//	uint32          function count
//	repeated function record:
//	  uint32        name length, name bytes
//	  uint32        return width (0 = void)
//	  uint32        parameter count
//	  repeated:     uint32 name length, name bytes
//	  uint32        instruction count
//	  repeated:     encoded instruction (see decodeInstruction)
func Decode(r io.Reader, width uint) (*Library, error) {
	br := bufio.NewReader(r)
	lib := &Library{Width: width, Functions: make(map[string]*symbmc.Function)}

	count, err := readU32(br)
	if err != nil {
		return nil, fmt.Errorf("library: reading function count: %w", err)
	}

	for i := uint32(0); i < count; i++ {
		fn, err := decodeFunction(br)
		if err != nil {
			return nil, fmt.Errorf("library: decoding function %d: %w", i, err)
		}
		lib.Functions[fn.Name] = fn
	}
	return lib, nil
}

func decodeFunction(r *bufio.Reader) (*symbmc.Function, error) {
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
		p, err := readString(r)
		if err != nil {
			return nil, err
		}
		params[i] = p
	}
	instrCount, err := readU32(r)
	if err != nil {
		return nil, err
	}
	body := make([]*symbmc.Instruction, instrCount)
	for i := range body {
		in, err := decodeInstruction(r)
		if err != nil {
			return nil, err
		}
		body[i] = in
	}
	return &symbmc.Function{Name: name, Params: params, Body: body, ReturnWidth: uint(returnWidth)}, nil
}

// Instruction tags in the wire format. Only the subset of InstrKind and
// Expr shapes a prelinked stub body plausibly needs is supported: constant
// arithmetic, references, casts and a return. A body needing anything
// richer (array-backed loops, calls into the user program) is authored
// directly as Go literals in tests instead of round-tripped through this
// codec, the same way the rest of this engine's GOTO IR is.
const (
	tagAssign byte = iota
	tagReturn
	tagSkip
)

const (
	exprTagConstant byte = iota
	exprTagRef
	exprTagBinary
	exprTagCast
	exprTagNot
)

func decodeInstruction(r *bufio.Reader) (*symbmc.Instruction, error) {
	tag, err := r.ReadByte()
	if err != nil {
		return nil, err
	}
	switch tag {
	case tagAssign:
		lhs, err := decodeExpr(r)
		if err != nil {
			return nil, err
		}
		rhs, err := decodeExpr(r)
		if err != nil {
			return nil, err
		}
		return &symbmc.Instruction{Kind: symbmc.ASSIGN, LHS: lhs, RHS: rhs}, nil
	case tagReturn:
		rhs, err := decodeExpr(r)
		if err != nil {
			return nil, err
		}
		return &symbmc.Instruction{Kind: symbmc.RETURN, RHS: rhs}, nil
	case tagSkip:
		return &symbmc.Instruction{Kind: symbmc.SKIP}, nil
	default:
		return nil, fmt.Errorf("library: unknown instruction tag %d", tag)
	}
}

func decodeExpr(r *bufio.Reader) (symbmc.Expr, error) {
	tag, err := r.ReadByte()
	if err != nil {
		return nil, err
	}
	switch tag {
	case exprTagConstant:
		width, err := readU32(r)
		if err != nil {
			return nil, err
		}
		value, err := readU64(r)
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
	case exprTagCast:
		width, err := readU32(r)
		if err != nil {
			return nil, err
		}
		signedByte, err := r.ReadByte()
		if err != nil {
			return nil, err
		}
		src, err := decodeExpr(r)
		if err != nil {
			return nil, err
		}
		return symbmc.NewCastExpr(src, uint(width), signedByte != 0), nil
	case exprTagNot:
		src, err := decodeExpr(r)
		if err != nil {
			return nil, err
		}
		return symbmc.NewNotExpr(src), nil
	default:
		return nil, fmt.Errorf("library: unknown expr tag %d", tag)
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

// Link implements the linkage contract: every symbol the user program
// references but does not itself define (a FUNCTION_CALL callee with no
// matching entry in program.Functions) is imported from lib, and the
// closure is repeated over the newly imported bodies' own references,
// until a fixed point. A symbol already defined in program always wins,
// even if the library also provides one.
func Link(program *symbmc.Program, lib *Library) []string {
	imported := make([]string, 0)
	frontier := referencedButUndefined(program)

	for len(frontier) > 0 {
		next := make(map[string]bool)
		for name := range frontier {
			if _, ok := program.Lookup(name); ok {
				continue
			}
			fn, ok := lib.Functions[name]
			if !ok {
				continue
			}
			program.AddFunction(fn)
			imported = append(imported, name)
			for callee := range calleesOf(fn) {
				if _, ok := program.Lookup(callee); !ok {
					next[callee] = true
				}
			}
		}
		frontier = next
	}

	sort.Strings(imported)
	return imported
}

func referencedButUndefined(program *symbmc.Program) map[string]bool {
	refs := make(map[string]bool)
	for _, fn := range program.Functions {
		for callee := range calleesOf(fn) {
			if _, ok := program.Lookup(callee); !ok {
				refs[callee] = true
			}
		}
	}
	return refs
}

func calleesOf(fn *symbmc.Function) map[string]bool {
	callees := make(map[string]bool)
	for _, in := range fn.Body {
		if in.Kind != symbmc.FUNCTION_CALL {
			continue
		}
		if ref, ok := in.Callee.(*symbmc.RefExpr); ok {
			callees[ref.L0] = true
		}
	}
	return callees
}
