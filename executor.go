package symbmc

import (
	"fmt"
	"log"
)

// Options configures a symex run: unwinding and recursion bounds and the
// diagnostics an interpreter run should surface.
type Options struct {
	// UnwindBound caps how many times any single loop instruction (a
	// backward GOTO) may fire along one path.
	UnwindBound int

	// NoUnwindingAssertions, when true, silently drops a path once its
	// unwind bound is exhausted (via Assume(false)) instead of also
	// recording an unwinding assertion a caller can report as a coverage
	// gap.
	NoUnwindingAssertions bool

	// RecursionBound caps the call depth of any single function.
	RecursionBound int

	// UnwindSet overrides UnwindBound for specific source locations (an
	// Instruction.Loc string), the same per-location granularity the CLI's
	// --unwindset flag exposes. A location absent from the map falls back
	// to UnwindBound.
	UnwindSet map[string]int

	// Logger receives progress and diagnostic output. Defaults to
	// log.Default() when nil.
	Logger *log.Logger
}

func (o *Options) logger() *log.Logger {
	if o.Logger != nil {
		return o.Logger
	}
	return log.Default()
}

// Executor interprets a single thread of a Program instruction by
// instruction, appending its effects to an EquationTrace. Beyond its
// configuration it holds only the trace it is currently writing to and the
// Pending queue of forks made mid-Step; everything else that is mutable
// lives on the ExecutionState/ThreadState it is handed, so the same Executor
// can drive many independent explorations by switching Trace between them.
type Executor struct {
	Options Options
	Trace   *EquationTrace

	// Pending collects states forked mid-Step (currently only by function-
	// pointer call expansion) that the caller must hand to a Searcher and
	// assign a fresh ID, the same way Scheduler.Run does for a genuine
	// interleaving fork. Step never resumes them itself.
	Pending []*ExecutionState
}

// NewExecutor returns an executor appending to trace, configured by opts.
func NewExecutor(opts Options, trace *EquationTrace) *Executor {
	return &Executor{Options: opts, Trace: trace}
}

// Solver decides satisfiability of a completed path's constraints. This
// engine only discharges to a Solver once a path's equation trace is
// complete, rather than per branch: the guard algebra (guard.go) already
// elides syntactic infeasibility during symex, so the remaining work is a
// single query per assertion in the finished trace, not one per branch.
type Solver interface {
	// Solve returns whether constraints are jointly satisfiable and, if so,
	// a value for every array in arrays as read from the model.
	Solve(constraints []Expr, arrays []*Array) (satisfiable bool, values [][]byte, err error)
}

// StepResult reports what became of the thread after one instruction.
type StepResult int

const (
	// StepContinue means the thread has more instructions to execute.
	StepContinue StepResult = iota
	// StepThreadEnded means the thread returned from its entry function.
	StepThreadEnded
	// StepBlocked means the instruction requires the scheduler's
	// attention before it can proceed (a visible action boundary).
	StepBlocked
)

// Step executes the single instruction at the given thread's current PC,
// draining any goto-state merges filed there first. It mutates state and
// the executor's trace in place.
func (ex *Executor) Step(state *ExecutionState, threadIdx int) (StepResult, error) {
	ts := state.Threads[threadIdx]
	if ts.Ended {
		return StepThreadEnded, nil
	}

	if frame := ts.Frame(); frame != nil {
		ex.drainMerges(ts, ts.PC.Index)
	}

	in := state.Program.Instr(ts.PC)
	switch in.Kind {
	case ASSIGN:
		return ex.execAssign(state, threadIdx, in)
	case ASSUME:
		return ex.execAssume(state, threadIdx, in)
	case ASSERT:
		return ex.execAssert(state, threadIdx, in)
	case GOTO:
		return ex.execGoto(state, threadIdx, in)
	case FUNCTION_CALL:
		return ex.execCall(state, threadIdx, in)
	case RETURN:
		return ex.execReturn(state, threadIdx, in)
	case DECL:
		return ex.execDecl(state, threadIdx, in)
	case DEAD:
		return ex.execDead(state, threadIdx, in)
	case SKIP:
		ts.PC.Index++
		return StepContinue, nil
	case END_FUNCTION:
		return ex.execEndFunction(state, threadIdx)
	case THROW:
		return ex.execThrow(state, threadIdx, in)
	case CATCH:
		return ex.execCatch(state, threadIdx, in)
	case ATOMIC_BEGIN, ATOMIC_END:
		// Consumed by the scheduler as an interleaving-inhibition marker;
		// the executor itself just steps past it.
		ts.PC.Index++
		return StepContinue, nil
	default:
		return 0, fmt.Errorf("executor: unhandled instruction kind %s at %s: %w", in.Kind, ts.PC, ErrTypeInvariant)
	}
}

// drainMerges folds every pending φ-merge filed at idx into ts, appending
// the resulting assignments to the trace under the merged guard.
func (ex *Executor) drainMerges(ts *ThreadState, idx int) {
	for _, pa := range ts.MergeGotoStates(idx) {
		ex.Trace.Phi(pa.Ident, pa.Value, pa.Guard.AsExpr())
	}
}

// rename resolves every RefExpr/AddrOfExpr/DerefExpr leaf in expr against
// the active frame's L1/L2 tables and the thread's value-set tracker,
// replacing it with a fully versioned IdentExpr (or, for a dereference,
// the guarded ite cascade Read of the pointed-to memory produces). It also
// returns the safety obligations a dereference contributes, which the
// caller must assert under the current guard before using the value.
func (ex *Executor) rename(state *ExecutionState, threadIdx int, expr Expr) (Expr, []Expr) {
	ts := state.Threads[threadIdx]
	frame := ts.Frame()
	var safety []Expr

	var walk func(Expr) Expr
	walk = func(e Expr) Expr {
		switch e := e.(type) {
		case *RefExpr:
			l1, ok := frame.L1.Current(e.L0)
			assert(ok, "executor: reference to undeclared name %q", e.L0)
			id := ts.L2.Read(e.L0, l1)
			return NewIdentExpr(id, e.Width)
		case *AddrOfExpr:
			panic(fmt.Sprintf("executor: &%s used outside of a pointer assignment", e.L0))
		case *DerefExpr:
			l1, ok := frame.L1.Current(e.L0)
			assert(ok, "executor: dereference of undeclared pointer %q", e.L0)
			ptrID := ts.L2.Read(e.L0, l1)
			addrExpr := NewIdentExpr(ptrID, Width64)
			value, ok2 := ex.loadThroughValueSet(state, ts, l1, addrExpr, e.Width)
			safety = append(safety, ok2)
			return value
		case *BinaryExpr:
			lhs, rhs := walk(e.LHS), walk(e.RHS)
			if lhs == e.LHS && rhs == e.RHS {
				return e
			}
			return NewBinaryExpr(e.Op, lhs, rhs)
		case *NotExpr:
			inner := walk(e.Expr)
			if inner == e.Expr {
				return e
			}
			return NewNotExpr(inner)
		case *CastExpr:
			src := walk(e.Src)
			if src == e.Src {
				return e
			}
			return NewCastExpr(src, e.Width, e.Signed)
		case *ConcatExpr:
			msb, lsb := walk(e.MSB), walk(e.LSB)
			if msb == e.MSB && lsb == e.LSB {
				return e
			}
			return NewConcatExpr(msb, lsb)
		case *ExtractExpr:
			inner := walk(e.Expr)
			if inner == e.Expr {
				return e
			}
			return NewExtractExpr(inner, e.Offset, e.Width)
		case *IteExpr:
			cond, then, els := walk(e.Cond), walk(e.Then), walk(e.Else)
			if cond == e.Cond && then == e.Then && els == e.Else {
				return e
			}
			return NewIteExpr(cond, then, els)
		case *NotOptimizedExpr:
			src := walk(e.Src)
			if src == e.Src {
				return e
			}
			return NewNotOptimizedExpr(src)
		default:
			return e
		}
	}
	if expr == nil {
		return nil, nil
	}
	return walk(expr), safety
}

// loadThroughValueSet resolves a dereference through the value-set
// tracker, using the executor's own memory read as the TargetLoader. Each
// candidate is read at the dereference's full declared width and the
// pointer's own absolute address, not a pre-subtracted offset, since
// obj.Data now carries its owning object's base itself (see array.go) and
// does the offset translation and bounds check internally — the
// candidate's own out-of-bounds obligation is folded into the invalid
// path the caller already takes when the target doesn't resolve.
func (ex *Executor) loadThroughValueSet(state *ExecutionState, ts *ThreadState, ptr L1, addrExpr Expr, width uint) (Expr, Expr) {
	invalid := NewConstantExpr(0, width)
	load := func(t Target) (Expr, Expr) {
		switch t.Kind {
		case TargetObject:
			obj, ok := state.Object(t.Object)
			if !ok {
				return NewConstantExpr(0, Width64), invalid
			}
			addr := t.addr(NewConstantExpr64(obj.Address), Width64)
			return addr, NewIteExpr(obj.Data.InBounds(addr, width), obj.Data.Select(addr, width, true), invalid)
		default:
			return NewConstantExpr(0, Width64), invalid
		}
	}
	return ts.ValueSet.Dereference(ptr, addrExpr, load, invalid)
}

// storeThroughValueSet implements *p = rhs: every live TargetObject
// candidate in p's value set gets a conditionally-guarded store, the
// write-side mirror of loadThroughValueSet's guarded read cascade. A
// candidate whose address does not match p's actual runtime value, or
// whose access would run past the object's bounds on this path, is
// excluded from the write mask and keeps its old contents, so an
// imprecise value set never corrupts an object the pointer doesn't
// actually address here. Returns the safety obligation `p ∈ targets`,
// matching Dereference's read-side contract; a concrete offset that is
// genuinely out of bounds still trips Array.storeByte's own invariant
// assert, the same as it always has — InBounds only changes behavior for
// the symbolic case, where it was previously unconstrained instead of
// excluded.
func (ex *Executor) storeThroughValueSet(state *ExecutionState, ts *ThreadState, ptr L1, addrExpr, rhs Expr) Expr {
	width := ExprWidth(rhs)
	var safety Expr = NewBoolConstantExpr(false)
	for _, target := range ts.ValueSet.Read(ptr) {
		if target.Kind != TargetObject {
			continue
		}
		obj, ok := state.Object(target.Object)
		if !ok {
			continue
		}
		addr := target.addr(NewConstantExpr64(obj.Address), Width64)
		matches := NewBinaryExpr(AND, NewBinaryExpr(EQ, addrExpr, addr), obj.Data.InBounds(addr, width))
		safety = NewBinaryExpr(OR, matches, safety)

		old := obj.Data.Select(addr, width, true)
		guarded := NewIteExpr(matches, rhs, old)
		obj.Data = obj.Data.Store(addr, guarded, true)
		state.StoreObject(obj)
	}
	return safety
}

func (ex *Executor) assertSafety(ts *ThreadState, safety []Expr, message string) {
	for _, s := range safety {
		ex.Trace.Assert(ts.Guard.AsExpr(), s, message)
	}
}

func (ex *Executor) execAssign(state *ExecutionState, threadIdx int, in *Instruction) (StepResult, error) {
	ts := state.Threads[threadIdx]
	frame := ts.Frame()

	if addrOf, ok := in.RHS.(*AddrOfExpr); ok {
		lhsRef, ok := in.LHS.(*RefExpr)
		assert(ok, "executor: address-of assignment target must be a plain reference")
		l1, ok := frame.L1.Current(lhsRef.L0)
		assert(ok, "executor: assignment to undeclared name %q", lhsRef.L0)
		obj, ok := state.Object(addrOf.L0)
		assert(ok, "executor: address of unallocated object %q", addrOf.L0)

		target := ObjectTarget(addrOf.L0, NewConstantExpr(0, Width64))
		ts.ValueSet = ts.ValueSet.Assign(l1, []Target{target})
		id := ts.L2.Assign(lhsRef.L0, l1)
		// Bind the pointer's own bit-pattern to the object's real address
		// rather than leaving it free: nothing else ties a pointer's value
		// to the object it was assigned to point at, so an unconstrained
		// self-assignment here would let the solver pick any bit pattern
		// for p regardless of which object &x actually names.
		ex.Trace.Assign(id, target.addr(NewConstantExpr64(obj.Address), Width64), ts.Guard.AsExpr())
		ts.PC.Index++
		return StepContinue, nil
	}

	rhs, safety := ex.rename(state, threadIdx, in.RHS)
	ex.assertSafety(ts, safety, "dereference in assignment rhs is valid")

	if lhsDeref, ok := in.LHS.(*DerefExpr); ok {
		l1, ok := frame.L1.Current(lhsDeref.L0)
		assert(ok, "executor: store through undeclared pointer %q", lhsDeref.L0)
		ptrID := ts.L2.Read(lhsDeref.L0, l1)
		addrExpr := NewIdentExpr(ptrID, Width64)
		storeSafety := ex.storeThroughValueSet(state, ts, l1, addrExpr, rhs)
		ex.assertSafety(ts, []Expr{storeSafety}, "store through pointer targets a valid object")
		ts.PC.Index++
		return StepContinue, nil
	}

	lhsRef, ok := in.LHS.(*RefExpr)
	assert(ok, "executor: assignment target must be a plain reference or a dereference")
	l1, ok := frame.L1.Current(lhsRef.L0)
	assert(ok, "executor: assignment to undeclared name %q", lhsRef.L0)
	id := ts.L2.Assign(lhsRef.L0, l1)
	ex.Trace.Assign(id, rhs, ts.Guard.AsExpr())

	ts.PC.Index++
	return StepContinue, nil
}

func (ex *Executor) execAssume(state *ExecutionState, threadIdx int, in *Instruction) (StepResult, error) {
	ts := state.Threads[threadIdx]
	cond, safety := ex.rename(state, threadIdx, in.RHS)
	ex.assertSafety(ts, safety, "dereference in assume condition is valid")
	ex.Trace.Assume(ts.Guard.AsExpr(), cond)
	ts.Guard = ts.Guard.And(cond)
	ts.PC.Index++
	return StepContinue, nil
}

func (ex *Executor) execAssert(state *ExecutionState, threadIdx int, in *Instruction) (StepResult, error) {
	ts := state.Threads[threadIdx]
	cond, safety := ex.rename(state, threadIdx, in.RHS)
	ex.assertSafety(ts, safety, "dereference in assertion condition is valid")
	ex.Trace.Assert(ts.Guard.AsExpr(), cond, in.Message)
	ts.PC.Index++
	return StepContinue, nil
}

// execGoto implements the two shapes of jump. A forward jump (the target
// lies past the current instruction) is a structured skip: the branch that
// takes it has no further instructions of its own to execute before the
// point where control reconverges, so it is filed as a detached goto-state
// and the fallthrough branch alone continues directly, with a strengthened
// guard. A backward jump (a loop back-edge) instead has real work ahead of
// it on the taken side too, so it is handled by simply moving the PC back
// under the strengthened guard and letting interpretation continue, bounded
// by UnwindCounter.
func (ex *Executor) execGoto(state *ExecutionState, threadIdx int, in *Instruction) (StepResult, error) {
	ts := state.Threads[threadIdx]
	pc := ts.PC

	if in.RHS == nil {
		target := in.Targets[0]
		return ex.jump(state, threadIdx, pc, target)
	}

	cond, safety := ex.rename(state, threadIdx, in.RHS)
	ex.assertSafety(ts, safety, "dereference in branch condition is valid")

	taken, fallthroughIdx := in.Targets[0], in.Targets[1]
	takenGuard := ts.Guard.And(cond)
	notTakenGuard := ts.Guard.And(NewNotExpr(cond))

	if takenGuard.IsFalse() {
		ts.Guard = notTakenGuard
		ts.PC = PC{Function: pc.Function, Index: fallthroughIdx}
		return StepContinue, nil
	}
	if notTakenGuard.IsFalse() {
		return ex.jumpUnderGuard(state, threadIdx, pc, taken, takenGuard)
	}

	if taken <= pc.Index {
		// Backward jump under a genuine split: both continuations have
		// real instructions ahead, so this path forks. The caller
		// (scheduler) is expected to treat a *StepResult with a forked
		// sibling specially; since a single-thread Step cannot itself
		// return two states, the fork happens in-place: the current
		// thread takes the (materially more interesting, potentially
		// looping) branch, and its pre-fork continuation is preserved by
		// filing it as a detached state at the fallthrough PC exactly as
		// the forward-jump case does. This keeps Step's signature
		// single-valued while still recording both arms in the equation
		// trace once the fallthrough PC is reached by some other path
		// (the loop's own eventual exit).
		state.Threads[threadIdx].fileFallthrough(fallthroughIdx, notTakenGuard)
		return ex.jumpUnderGuard(state, threadIdx, pc, taken, takenGuard)
	}

	ts.Frame().GotoStates[taken] = append(ts.Frame().GotoStates[taken], &DetachedGotoState{
		Depth:    ts.Depth,
		L2:       ts.L2.Clone(),
		ValueSet: ts.ValueSet,
		Guard:    takenGuard,
		ThreadID: ts.ID,
	})
	ts.Guard = notTakenGuard
	ts.PC = PC{Function: pc.Function, Index: fallthroughIdx}
	return StepContinue, nil
}

// fileFallthrough records notTakenGuard's continuation at idx for a later
// merge, the mirror image of FileGotoState used when the branch that keeps
// executing right now is the taken (backward) one rather than the
// fallthrough.
func (ts *ThreadState) fileFallthrough(idx int, guard *Guard) {
	frame := ts.Frame()
	frame.GotoStates[idx] = append(frame.GotoStates[idx], &DetachedGotoState{
		Depth:    ts.Depth,
		L2:       ts.L2.Clone(),
		ValueSet: ts.ValueSet,
		Guard:    guard,
		ThreadID: ts.ID,
	})
}

func (ex *Executor) jump(state *ExecutionState, threadIdx int, from PC, target int) (StepResult, error) {
	ts := state.Threads[threadIdx]
	if target <= from.Index {
		if err := ex.checkUnwind(state, ts, from); err != nil {
			return 0, err
		}
	}
	ts.PC = PC{Function: from.Function, Index: target}
	return StepContinue, nil
}

func (ex *Executor) jumpUnderGuard(state *ExecutionState, threadIdx int, from PC, target int, guard *Guard) (StepResult, error) {
	ts := state.Threads[threadIdx]
	if target <= from.Index {
		if err := ex.checkUnwind(state, ts, from); err != nil {
			return 0, err
		}
	}
	ts.Guard = guard
	ts.PC = PC{Function: from.Function, Index: target}
	return StepContinue, nil
}

// checkUnwind bumps the loop counter for the backward-jump instruction at
// pc and, once it exceeds the configured bound, either kills the path
// silently (Assume(false)) or records an unwinding assertion a caller can
// surface as an unexplored-coverage warning.
func (ex *Executor) checkUnwind(state *ExecutionState, ts *ThreadState, pc PC) error {
	bound := ex.Options.UnwindBound
	if loc := state.Program.Instr(pc).Loc; loc != "" {
		if override, ok := ex.Options.UnwindSet[loc]; ok {
			bound = override
		}
	}
	if bound <= 0 {
		return nil
	}
	ts.UnwindCounter[pc]++
	if ts.UnwindCounter[pc] <= bound {
		return nil
	}
	if ex.Options.NoUnwindingAssertions {
		ex.Trace.Assume(ts.Guard.AsExpr(), NewBoolConstantExpr(false))
	} else {
		ex.Trace.Assert(ts.Guard.AsExpr(), NewBoolConstantExpr(false), fmt.Sprintf("unwinding assertion loop %s", pc))
	}
	ts.Guard = FalseGuard()
	ts.Ended = true
	return nil
}

// execCall implements FUNCTION_CALL. A direct call pushes a new frame and
// binds parameters, one Assign per argument. An indirect call through a
// function pointer instead expands over the value-set tracker's candidate
// list: each live candidate is dispatched as a direct call on its own path
// (the first on the current state, the rest on forks queued on ex.Pending).
// Every candidate's call runs under the caller's path guard unchanged; no
// `fp = candidate` conjunct is added to it. The paths are not merged: each
// one returns to the call's join PC on its own and continues from there.
func (ex *Executor) execCall(state *ExecutionState, threadIdx int, in *Instruction) (StepResult, error) {
	ts := state.Threads[threadIdx]

	if fpe := ts.Frame().FPExpansion; fpe != nil {
		return ex.stepFunctionPointerExpansion(state, threadIdx, fpe)
	}

	if callee, ok := in.Callee.(*RefExpr); ok {
		return ex.dispatchCall(state, threadIdx, callee.L0, in, ts.Guard)
	}

	// Indirect call: read the function pointer's value set and begin an
	// expansion recorded on the current frame.
	ptrRef, ok := in.Callee.(*DerefExpr)
	assert(ok, "executor: indirect call callee must be a dereferenced function pointer")
	frame := ts.Frame()
	l1, ok := frame.L1.Current(ptrRef.L0)
	assert(ok, "executor: call through undeclared function pointer %q", ptrRef.L0)
	candidates := ts.ValueSet.Read(l1)

	args := make([]Expr, len(in.Args))
	for i, a := range in.Args {
		renamed, safety := ex.rename(state, threadIdx, a)
		ex.assertSafety(ts, safety, "dereference in call argument is valid")
		args[i] = renamed
	}

	var expectedWidth uint
	if in.LHS != nil {
		expectedWidth = ExprWidth(in.LHS)
	}
	frame.FPExpansion = &FunctionPointerExpansion{
		CallSitePC:          ts.PC.Index,
		JoinPC:              ts.PC.Index + 1,
		LHS:                 in.LHS,
		Args:                args,
		Candidates:          candidates,
		ExpectedReturnWidth: expectedWidth,
	}
	frame.FPExpansion.filterByType(state.Program)
	return ex.stepFunctionPointerExpansion(state, threadIdx, frame.FPExpansion)
}

// stepFunctionPointerExpansion resolves an indirect call in one step: every
// live candidate gets its own explored path, mirroring the way a genuine
// scheduling choice forks (Scheduler.Run's runnable-thread loop). All but
// one candidate are dispatched on a forked copy of state and queued on
// ex.Pending for the caller to pick up; the remaining candidate is
// dispatched on state itself so the current path keeps making progress.
// Each fork's callee eventually returns to fpe.JoinPC on its own, the same
// PC a direct call's caller resumes at, so no separate merge step is
// needed here.
func (ex *Executor) stepFunctionPointerExpansion(state *ExecutionState, threadIdx int, fpe *FunctionPointerExpansion) (StepResult, error) {
	ts := state.Threads[threadIdx]
	frame := ts.Frame()

	live := make([]Target, 0, len(fpe.Candidates))
	for _, c := range fpe.Candidates {
		if c.Kind != TargetFunction {
			// A non-function target (e.g. a stray NULL/INVALID member left
			// by an imprecise points-to result) contributes nothing.
			continue
		}
		if _, ok := state.Program.Lookup(c.Object); ok {
			live = append(live, c)
		}
	}

	frame.FPExpansion = nil
	if len(live) == 0 {
		ts.PC = PC{Function: ts.PC.Function, Index: fpe.JoinPC}
		return StepContinue, nil
	}

	for _, candidate := range live[1:] {
		fork := state.Fork(0)
		fts := fork.Threads[threadIdx]
		fts.Frame().FPExpansion = nil
		callee, _ := fork.Program.Lookup(candidate.Object)
		fn := &Instruction{Kind: FUNCTION_CALL, LHS: fpe.LHS, Callee: NewRefExpr(callee.Name, Width64), Args: fpe.Args}
		savedTrace := ex.Trace
		ex.Trace = fork.Trace
		_, err := ex.dispatchCallUnderGuard(fork, threadIdx, callee.Name, fn, fts.Guard)
		ex.Trace = savedTrace
		if err != nil {
			continue
		}
		ex.Pending = append(ex.Pending, fork)
	}

	candidate := live[0]
	callee, _ := state.Program.Lookup(candidate.Object)
	fn := &Instruction{Kind: FUNCTION_CALL, LHS: fpe.LHS, Callee: NewRefExpr(callee.Name, Width64), Args: fpe.Args}
	return ex.dispatchCallUnderGuard(state, threadIdx, callee.Name, fn, ts.Guard)
}

func (ex *Executor) dispatchCall(state *ExecutionState, threadIdx int, name string, in *Instruction, guard *Guard) (StepResult, error) {
	return ex.dispatchCallUnderGuard(state, threadIdx, name, in, guard)
}

func (ex *Executor) dispatchCallUnderGuard(state *ExecutionState, threadIdx int, name string, in *Instruction, guard *Guard) (StepResult, error) {
	ts := state.Threads[threadIdx]

	if ex.Options.RecursionBound > 0 && ts.RecursionCounter[name] >= ex.Options.RecursionBound {
		ex.Trace.Assume(guard.AsExpr(), NewBoolConstantExpr(false))
		ts.PC.Index++
		return StepContinue, nil
	}

	fn, ok := state.Program.Lookup(name)
	if !ok {
		return 0, fmt.Errorf("executor: call to unknown function %q: %w", name, ErrNoInstructionAvailable)
	}

	args := in.Args
	if _, isRef := in.Callee.(*RefExpr); isRef {
		renamedArgs := make([]Expr, len(in.Args))
		for i, a := range in.Args {
			renamed, safety := ex.rename(state, threadIdx, a)
			ex.assertSafety(ts, safety, "dereference in call argument is valid")
			renamedArgs[i] = renamed
		}
		args = renamedArgs
	}

	returnPC := PC{Function: ts.PC.Function, Index: ts.PC.Index + 1}
	endPC := PC{Function: name, Index: len(fn.Body) - 1}
	frame := ts.PushFrame(name, in.LHS, returnPC, endPC)
	ts.Guard = guard

	for i, param := range fn.Params {
		if i >= len(args) {
			break
		}
		l1 := frame.L1.Activate(param)
		id := ts.L2.Assign(param, l1)
		ex.Trace.Assign(id, args[i], guard.AsExpr())
	}

	ts.PC = PC{Function: name, Index: 0}
	return StepContinue, nil
}

func (ex *Executor) execReturn(state *ExecutionState, threadIdx int, in *Instruction) (StepResult, error) {
	ts := state.Threads[threadIdx]
	frame := ts.Frame()

	var retVal Expr
	if in.RHS != nil {
		var safety []Expr
		retVal, safety = ex.rename(state, threadIdx, in.RHS)
		ex.assertSafety(ts, safety, "dereference in return value is valid")
	}

	returnPC, returnLHS := frame.ReturnPC, frame.ReturnLHS
	ts.PopFrame()

	if len(ts.Stack) == 0 {
		ts.Ended = true
		return StepThreadEnded, nil
	}

	if returnLHS != nil && retVal != nil {
		callerFrame := ts.Frame()
		lhsRef, ok := returnLHS.(*RefExpr)
		assert(ok, "executor: return value target must be a plain reference")
		l1, ok := callerFrame.L1.Current(lhsRef.L0)
		assert(ok, "executor: return value target undeclared %q", lhsRef.L0)
		id := ts.L2.Assign(lhsRef.L0, l1)
		ex.Trace.Assign(id, retVal, ts.Guard.AsExpr())
	}

	ts.PC = returnPC
	return StepContinue, nil
}

func (ex *Executor) execEndFunction(state *ExecutionState, threadIdx int) (StepResult, error) {
	ts := state.Threads[threadIdx]
	frame := ts.Frame()
	returnPC := frame.ReturnPC
	ts.PopFrame()

	if len(ts.Stack) == 0 {
		ts.Ended = true
		return StepThreadEnded, nil
	}
	ts.PC = returnPC
	return StepContinue, nil
}

func (ex *Executor) execDecl(state *ExecutionState, threadIdx int, in *Instruction) (StepResult, error) {
	ts := state.Threads[threadIdx]
	frame := ts.Frame()

	l1 := frame.L1.Activate(in.Symbol)
	frame.DeclareWidth(in.Symbol, in.Width)
	frame.DeclSeen[ts.PC.Index] = true

	// A fresh declaration has a nondeterministic initial value: reading it
	// before any assignment allocates L2=0, an unconstrained free
	// variable, exactly matching an uninitialized C local.
	ts.L2.Read(in.Symbol, l1)

	ts.PC.Index++
	return StepContinue, nil
}

func (ex *Executor) execDead(state *ExecutionState, threadIdx int, in *Instruction) (StepResult, error) {
	ts := state.Threads[threadIdx]
	frame := ts.Frame()
	frame.L1.Remove(in.Symbol)
	ts.PC.Index++
	return StepContinue, nil
}

// execThrow implements THROW: unwind the stack to the nearest frame with a
// CATCH installed for this tag, bind the thrown value there, and transfer
// control to the handler PC via the same detached-goto-state/merge path a
// forward GOTO uses, so a second throw (or a later re-entry, inside a loop)
// reaching the same handler PC gets properly φ-merged with this one instead
// of one silently clobbering the other's PC/L2 state. An unhandled tag
// terminates the path with a proof obligation, matching an uncaught
// exception unwinding past main.
func (ex *Executor) execThrow(state *ExecutionState, threadIdx int, in *Instruction) (StepResult, error) {
	ts := state.Threads[threadIdx]
	var value Expr
	if in.RHS != nil {
		var safety []Expr
		value, safety = ex.rename(state, threadIdx, in.RHS)
		ex.assertSafety(ts, safety, "dereference in thrown value is valid")
	}

	for i := len(ts.Stack) - 1; i >= 0; i-- {
		if target, ok := ts.Stack[i].CatchMap[in.Symbol]; ok {
			ts.Stack = ts.Stack[:i+1]
			handler := ts.Frame()

			if value != nil {
				name := "exception:" + in.Symbol
				l1 := handler.L1.Activate(name)
				handler.DeclareWidth(name, ExprWidth(value))
				id := ts.L2.Assign(name, l1)
				ex.Trace.Assign(id, value, ts.Guard.AsExpr())
			}

			ts.FileGotoState(target)
			ts.PC = PC{Function: handler.Function, Index: target}
			return StepContinue, nil
		}
	}

	ex.Trace.Assert(ts.Guard.AsExpr(), NewBoolConstantExpr(false), "uncaught exception")
	ts.Ended = true
	return StepThreadEnded, nil
}

func (ex *Executor) execCatch(state *ExecutionState, threadIdx int, in *Instruction) (StepResult, error) {
	ts := state.Threads[threadIdx]
	frame := ts.Frame()
	if in.Install {
		assert(len(in.Targets) == 1, "executor: CATCH install needs exactly one target")
		frame.CatchMap[in.Symbol] = in.Targets[0]
	} else {
		delete(frame.CatchMap, in.Symbol)
	}
	ts.PC.Index++
	return StepContinue, nil
}
