package symbmc

import "fmt"

// InstrKind identifies the operation an Instruction performs.
type InstrKind int

const (
	ASSIGN InstrKind = iota
	ASSUME
	ASSERT
	GOTO
	FUNCTION_CALL
	RETURN
	DECL
	DEAD
	SKIP
	END_FUNCTION
	THROW
	CATCH
	ATOMIC_BEGIN
	ATOMIC_END
)

var instrKindNames = [...]string{
	ASSIGN:        "ASSIGN",
	ASSUME:        "ASSUME",
	ASSERT:        "ASSERT",
	GOTO:          "GOTO",
	FUNCTION_CALL: "FUNCTION_CALL",
	RETURN:        "RETURN",
	DECL:          "DECL",
	DEAD:          "DEAD",
	SKIP:          "SKIP",
	END_FUNCTION:  "END_FUNCTION",
	THROW:         "THROW",
	CATCH:         "CATCH",
	ATOMIC_BEGIN:  "ATOMIC_BEGIN",
	ATOMIC_END:    "ATOMIC_END",
}

// String returns the mnemonic for the instruction kind.
func (k InstrKind) String() string {
	if k >= 0 && int(k) < len(instrKindNames) && instrKindNames[k] != "" {
		return instrKindNames[k]
	}
	return fmt.Sprintf("InstrKind<%d>", k)
}

// Instruction is one step of a GOTO function body. Rather than a class per
// kind, it is a flat record whose fields are populated according to Kind —
// most fields are zero for most kinds. The GOTO program is read-only input
// to the interpreter and is never mutated during symex.
type Instruction struct {
	Kind InstrKind
	Loc  string // source location, for diagnostics and counterexamples

	// LHS is the assignment target for ASSIGN and FUNCTION_CALL(lhs?, ...).
	// Nil when there is no assignment target.
	LHS Expr

	// RHS carries the per-kind primary operand:
	//   ASSIGN: the value being assigned
	//   ASSUME, ASSERT, GOTO (conditional): the boolean condition
	//   RETURN: the returned value (nil for a void return)
	//   THROW: the thrown value
	RHS Expr

	// Symbol carries a name whose meaning depends on Kind:
	//   DECL, DEAD: the L0 identifier
	//   THROW, CATCH: the exception tag
	Symbol string

	// Width is the declared bit width of Symbol, populated for DECL. The
	// GOTO-IR construction pass (out of scope here) has already resolved
	// the C type to a concrete width; the interpreter never infers one.
	Width uint

	// Message is the diagnostic string attached to an ASSERT.
	Message string

	// Callee and Args are populated for FUNCTION_CALL. Callee is a function
	// symbol expression for a direct call, or a pointer-typed expression
	// for an indirect call through a function pointer.
	Callee Expr
	Args   []Expr

	// Targets holds successor instruction indices within the same
	// function's Body. GOTO uses one entry for an unconditional jump or
	// two for a conditional jump (RHS != nil): [taken, fallthrough].
	Targets []int

	// Install is true for a CATCH that installs a catch_map entry and
	// false for one that removes it.
	Install bool
}

// String returns a debug rendering of the instruction.
func (in *Instruction) String() string {
	switch in.Kind {
	case ASSIGN:
		return fmt.Sprintf("ASSIGN %s := %s", in.LHS, in.RHS)
	case ASSUME:
		return fmt.Sprintf("ASSUME %s", in.RHS)
	case ASSERT:
		return fmt.Sprintf("ASSERT %s, %q", in.RHS, in.Message)
	case GOTO:
		if in.RHS != nil {
			return fmt.Sprintf("GOTO %s ? %v : %v", in.RHS, in.Targets[0], in.Targets[1])
		}
		return fmt.Sprintf("GOTO %v", in.Targets[0])
	case FUNCTION_CALL:
		if in.LHS != nil {
			return fmt.Sprintf("CALL %s := %s(%v)", in.LHS, in.Callee, in.Args)
		}
		return fmt.Sprintf("CALL %s(%v)", in.Callee, in.Args)
	case RETURN:
		return fmt.Sprintf("RETURN %s", in.RHS)
	case DECL:
		return fmt.Sprintf("DECL %s", in.Symbol)
	case DEAD:
		return fmt.Sprintf("DEAD %s", in.Symbol)
	case SKIP:
		return "SKIP"
	case END_FUNCTION:
		return "END_FUNCTION"
	case THROW:
		return fmt.Sprintf("THROW %s(%s)", in.Symbol, in.RHS)
	case CATCH:
		if in.Install {
			return fmt.Sprintf("CATCH+ %s -> %v", in.Symbol, in.Targets)
		}
		return fmt.Sprintf("CATCH- %s", in.Symbol)
	case ATOMIC_BEGIN:
		return "ATOMIC_BEGIN"
	case ATOMIC_END:
		return "ATOMIC_END"
	default:
		return fmt.Sprintf("<invalid instruction kind %d>", in.Kind)
	}
}

// Function is a labelled sequence of instructions plus its parameter list.
type Function struct {
	Name   string
	Params []string // L0 names, in declaration order
	Body   []*Instruction

	// ReturnWidth is the function's declared return width, 0 for void.
	// FUNCTION_CALL's function-pointer expansion uses it to drop
	// candidates whose return type cannot match the call site's expected
	// assignment target before building the disjunction of calls.
	ReturnWidth uint
}

// At returns the instruction at index i.
func (f *Function) At(i int) *Instruction {
	return f.Body[i]
}

// Len returns the number of instructions in the function body.
func (f *Function) Len() int {
	return len(f.Body)
}

// PC addresses a single instruction within a program: the function it
// belongs to and its index in that function's body. PC doubles as the
// stable key for unwind counters and goto-state merge maps, since an
// instruction's identity within a single-function body never changes
// across a symex run — the program is read-only.
type PC struct {
	Function string
	Index    int
}

// String returns the printed form of the PC.
func (pc PC) String() string {
	return fmt.Sprintf("%s:%d", pc.Function, pc.Index)
}

// Program is a labelled set of functions plus the designated entry point.
type Program struct {
	Functions map[string]*Function
	Entry     string
}

// NewProgram returns an empty program with the given entry function name.
func NewProgram(entry string) *Program {
	return &Program{Functions: make(map[string]*Function), Entry: entry}
}

// AddFunction registers fn in the program.
func (p *Program) AddFunction(fn *Function) {
	p.Functions[fn.Name] = fn
}

// Lookup returns the function named name, if the program defines one.
func (p *Program) Lookup(name string) (*Function, bool) {
	fn, ok := p.Functions[name]
	return fn, ok
}

// Instr returns the instruction addressed by pc. It panics if pc addresses
// a function or index the program does not contain, since a well-formed
// program never produces an out-of-range PC.
func (p *Program) Instr(pc PC) *Instruction {
	fn, ok := p.Functions[pc.Function]
	assert(ok, "goto_ir: unknown function %q", pc.Function)
	assert(pc.Index >= 0 && pc.Index < len(fn.Body), "goto_ir: pc out of range: %s", pc)
	return fn.Body[pc.Index]
}
