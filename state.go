package symbmc

import (
	"fmt"
	"sort"

	"github.com/benbjohnson/immutable"
	"github.com/davecgh/go-spew/spew"
)

// MemObject is a named region of byte-addressable symbolic memory backing
// a global, a stack local, or a dynamic allocation. Address is its base in
// the (symbolic) address space, distinct from every other live object's,
// so that a pointer's value set can be disambiguated by comparing actual
// addresses rather than by the object's byte offset alone — two objects
// both addressed at offset 0 (the common case for a scalar or an array
// base) would otherwise build identical `p == addr` guards in Dereference.
type MemObject struct {
	Name    string
	Address uint64
	Data    *Array
}

// Clone returns a copy of the object. The backing array's update list is
// shared structurally (Array.Clone only copies the header), which is safe
// because ArrayUpdate nodes are never mutated after creation.
func (o *MemObject) Clone() *MemObject {
	return &MemObject{Name: o.Name, Address: o.Address, Data: o.Data.Clone()}
}

// objectHasher implements immutable.Hasher for object-name keys.
type objectHasher struct{}

func (objectHasher) Hash(value interface{}) uint32 {
	name := value.(string)
	var h uint32 = 2166136261
	for i := 0; i < len(name); i++ {
		h ^= uint32(name[i])
		h *= 16777619
	}
	return h
}

func (objectHasher) Equal(a, b interface{}) bool {
	return a.(string) == b.(string)
}

// FunctionPointerExpansion holds the bookkeeping FUNCTION_CALL needs while
// iterating over a function pointer's candidate targets. It lives on
// the frame that issued the call so a paused expansion survives a clone.
type FunctionPointerExpansion struct {
	CallSitePC int
	JoinPC     int
	LHS        Expr
	Args       []Expr
	Candidates []Target
	Next       int // index of the next candidate to dispatch

	// ExpectedReturnWidth is the call site's expected assignment width, 0
	// if the call's result is discarded. filterByType uses it to drop
	// candidates whose return type cannot match before the disjunction of
	// calls is built, rather than merely counting the mismatch toward the
	// "no candidate matched" case.
	ExpectedReturnWidth uint
}

// filterByType drops candidates whose function has a return width that
// cannot satisfy ExpectedReturnWidth, given a program to look up each
// candidate's Function in. It is a no-op when the call's result is
// discarded (ExpectedReturnWidth == 0).
func (fpe *FunctionPointerExpansion) filterByType(program *Program) {
	if fpe.ExpectedReturnWidth == 0 {
		return
	}
	kept := fpe.Candidates[:0]
	for _, c := range fpe.Candidates {
		if c.Kind != TargetFunction {
			kept = append(kept, c)
			continue
		}
		fn, ok := program.Lookup(c.Object)
		if !ok || fn.ReturnWidth == fpe.ExpectedReturnWidth {
			kept = append(kept, c)
		}
	}
	fpe.Candidates = kept
}

// Done returns true once every candidate has been dispatched.
func (fpe *FunctionPointerExpansion) Done() bool {
	return fpe.Next >= len(fpe.Candidates)
}

// StackFrame is one activation record on a thread's call stack.
type StackFrame struct {
	Function   string
	L1         *L1Table
	ReturnLHS  Expr   // where the caller wants the return value stored, nil if discarded
	ReturnPC   PC     // where to resume in the caller after END_FUNCTION
	EndPC      PC     // the function's implicit end-of-function instruction
	DeclSeen   map[int]bool          // DECL instruction indices already executed on this path
	Widths     map[string]uint       // L0 -> declared bit width, populated at DECL
	GotoStates map[int][]*DetachedGotoState // pending merges, keyed by target instruction index
	CatchMap   map[string]int               // exception tag -> handler instruction index
	FPExpansion *FunctionPointerExpansion   // non-nil while a function-pointer call is being expanded
}

// NewStackFrame returns a new frame for an invocation of fn, scoped to the
// given thread and activation counter.
func NewStackFrame(function string, threadID int, activation uint64, returnLHS Expr, returnPC, endPC PC) *StackFrame {
	return &StackFrame{
		Function:   function,
		L1:         NewL1Table(threadID, activation),
		ReturnLHS:  returnLHS,
		ReturnPC:   returnPC,
		EndPC:      endPC,
		DeclSeen:   make(map[int]bool),
		Widths:     make(map[string]uint),
		GotoStates: make(map[int][]*DetachedGotoState),
		CatchMap:   make(map[string]int),
	}
}

// DeclareWidth records the bit width of an L0 name declared in this frame,
// consulted at merge time to size the ite the φ-selection builds.
func (f *StackFrame) DeclareWidth(l0 string, width uint) {
	f.Widths[l0] = width
}

// Clone returns a deep copy of the frame. Mutating the clone never affects
// the original, matching the copy semantics goto-merges and thread
// interleaving both rely on.
func (f *StackFrame) Clone() *StackFrame {
	other := &StackFrame{
		Function:  f.Function,
		L1:        f.L1.Clone(),
		ReturnLHS: f.ReturnLHS,
		ReturnPC:  f.ReturnPC,
		EndPC:     f.EndPC,
		DeclSeen:  make(map[int]bool, len(f.DeclSeen)),
		Widths:    make(map[string]uint, len(f.Widths)),
		GotoStates: make(map[int][]*DetachedGotoState, len(f.GotoStates)),
		CatchMap:  make(map[string]int, len(f.CatchMap)),
	}
	for k, v := range f.DeclSeen {
		other.DeclSeen[k] = v
	}
	for k, v := range f.Widths {
		other.Widths[k] = v
	}
	for k, v := range f.CatchMap {
		other.CatchMap[k] = v
	}
	for k, v := range f.GotoStates {
		snaps := make([]*DetachedGotoState, len(v))
		copy(snaps, v)
		other.GotoStates[k] = snaps
	}
	if f.FPExpansion != nil {
		cp := *f.FPExpansion
		cp.Candidates = append([]Target{}, f.FPExpansion.Candidates...)
		other.FPExpansion = &cp
	}
	return other
}

// DetachedGotoState is a snapshot filed at a jump target, to be merged by
// a φ-selection the next time control reaches that PC. Snapshots are
// immutable once filed.
type DetachedGotoState struct {
	Depth    int
	L2       *L2Table
	ValueSet *ValueSet
	Guard    *Guard
	ThreadID int
}

// PendingAssignment is one φ-merge result MergeGotoStates produces: a
// fresh L2 identifier bound to a selection between the merged branches'
// versions. The caller (the interpreter) appends it to the equation trace.
type PendingAssignment struct {
	Ident Ident
	Value Expr
	Guard *Guard
}

// ThreadState is the complete symbolic state of one thread of the subject
// program.
type ThreadState struct {
	ID    int
	PC    PC
	Depth int

	Guard    *Guard
	L2       *L2Table
	ValueSet *ValueSet

	CallCounter      map[string]uint64 // per-function call counter, feeds L1.Activation
	UnwindCounter    map[PC]int        // per-loop-instruction unwind counter
	RecursionCounter map[string]int    // per-function recursion depth

	Stack []*StackFrame
	Ended bool
}

// NewThreadState returns a fresh thread state starting execution at pc.
func NewThreadState(id int, pc PC) *ThreadState {
	return &ThreadState{
		ID:               id,
		PC:               pc,
		Guard:            NewGuard(),
		L2:               NewL2Table(),
		ValueSet:         NewValueSet(),
		CallCounter:      make(map[string]uint64),
		UnwindCounter:    make(map[PC]int),
		RecursionCounter: make(map[string]int),
	}
}

// Frame returns the active (innermost) stack frame, or nil if the thread's
// stack is empty (it has returned from its entry function).
func (ts *ThreadState) Frame() *StackFrame {
	if len(ts.Stack) == 0 {
		return nil
	}
	return ts.Stack[len(ts.Stack)-1]
}

// PushFrame bumps the callee's call counter and pushes a new frame for it.
func (ts *ThreadState) PushFrame(function string, returnLHS Expr, returnPC, endPC PC) *StackFrame {
	activation := ts.CallCounter[function]
	ts.CallCounter[function] = activation + 1
	ts.RecursionCounter[function]++

	frame := NewStackFrame(function, ts.ID, activation, returnLHS, returnPC, endPC)
	ts.Stack = append(ts.Stack, frame)
	return frame
}

// PopFrame pops the active frame, marking every local it declared as
// out-of-scope so a later DECL of the same L0 in a different activation
// allocates a genuinely new L1 rather than colliding with a stale one.
func (ts *ThreadState) PopFrame() *StackFrame {
	n := len(ts.Stack)
	frame := ts.Stack[n-1]
	ts.Stack = ts.Stack[:n-1]
	ts.RecursionCounter[frame.Function]--
	for _, l0 := range frame.L1.Names() {
		frame.L1.Remove(l0)
	}
	return frame
}

// MergeGotoStates drains the active frame's pending merges filed at
// instruction index idx and returns the φ-assignments the caller must
// append to the equation trace. It mutates ts.Guard and ts.ValueSet in
// place, and allocates the fresh L2 versions itself, since those are
// exactly the identities the returned assignments bind.
func (ts *ThreadState) MergeGotoStates(idx int) []PendingAssignment {
	frame := ts.Frame()
	snapshots := frame.GotoStates[idx]
	if len(snapshots) == 0 {
		return nil
	}
	delete(frame.GotoStates, idx)

	var pending []PendingAssignment
	for _, snap := range snapshots {
		newGuard := ts.Guard.Or(snap.Guard)

		for _, l0 := range frame.L1.Names() {
			l1, _ := frame.L1.Current(l0)
			curIdent := ts.L2.Read(l0, l1)
			snapIdent := snap.L2.Read(l0, l1)
			if curIdent.L2 == snapIdent.L2 {
				continue
			}

			width := frame.Widths[l0]
			if width == 0 {
				width = Width64 // undeclared (e.g. a parameter merged before its DECL-equivalent binding): word-sized fallback
			}
			fresh := ts.L2.Assign(l0, l1)
			value := NewIteExpr(
				snap.Guard.AsExpr(),
				NewIdentExpr(snapIdent, width),
				NewIdentExpr(curIdent, width),
			)
			pending = append(pending, PendingAssignment{Ident: fresh, Value: value, Guard: newGuard})
		}

		if ts.Depth < snap.Depth {
			ts.Depth = snap.Depth
		}
		ts.ValueSet = ts.ValueSet.Join(snap.ValueSet.ApplyGuard(snap.Guard))
		ts.Guard = newGuard
	}
	return pending
}

// FileGotoState snapshots the thread's current L2/value-set/guard/depth at
// the active frame's target index, to be merged later by MergeGotoStates.
func (ts *ThreadState) FileGotoState(targetIdx int) {
	frame := ts.Frame()
	frame.GotoStates[targetIdx] = append(frame.GotoStates[targetIdx], &DetachedGotoState{
		Depth:    ts.Depth,
		L2:       ts.L2.Clone(),
		ValueSet: ts.ValueSet,
		Guard:    ts.Guard,
		ThreadID: ts.ID,
	})
}

// Clone returns a deep copy of the thread state, suitable for exploring an
// alternate branch (a conditional GOTO, a function-pointer candidate, or a
// concurrent interleaving) without disturbing the original.
func (ts *ThreadState) Clone() *ThreadState {
	other := &ThreadState{
		ID:       ts.ID,
		PC:       ts.PC,
		Depth:    ts.Depth,
		Guard:    ts.Guard, // Guard is immutable; sharing is safe
		L2:       ts.L2.Clone(),
		ValueSet: ts.ValueSet, // ValueSet is immutable; sharing is safe
		Ended:    ts.Ended,

		CallCounter:      make(map[string]uint64, len(ts.CallCounter)),
		UnwindCounter:    make(map[PC]int, len(ts.UnwindCounter)),
		RecursionCounter: make(map[string]int, len(ts.RecursionCounter)),
		Stack:            make([]*StackFrame, len(ts.Stack)),
	}
	for k, v := range ts.CallCounter {
		other.CallCounter[k] = v
	}
	for k, v := range ts.UnwindCounter {
		other.UnwindCounter[k] = v
	}
	for k, v := range ts.RecursionCounter {
		other.RecursionCounter[k] = v
	}
	for i, frame := range ts.Stack {
		other.Stack[i] = frame.Clone()
	}
	return other
}

// ExecutionState is the full symbolic state of the subject program: every
// thread plus the heap they share. The heap is an immutable.Map keyed by
// object name so that cloning a state to explore a branch or an
// interleaving is a structural share, not a deep copy of every object.
type ExecutionState struct {
	ID      uint64
	Program *Program
	Threads []*ThreadState
	heap    *immutable.Map

	// Trace is the equation trace accumulated along this state's specific
	// path. Forking a state (Clone/Fork) clones Trace too, since the two
	// forks' subsequent steps must not collide in the same trace.
	Trace *EquationTrace

	nextArrayID       uint64
	nextDynamicID     uint64
	nextObjectAddress uint64
}

// NewExecutionState returns a fresh state with a single thread starting
// execution at the program's entry function.
func NewExecutionState(id uint64, program *Program) *ExecutionState {
	entry, ok := program.Lookup(program.Entry)
	assert(ok, "state: entry function %q not found", program.Entry)

	main := NewThreadState(0, PC{Function: entry.Name, Index: 0})
	main.PushFrame(entry.Name, nil, PC{}, PC{Function: entry.Name, Index: len(entry.Body) - 1})
	return &ExecutionState{
		ID:      id,
		Program: program,
		Threads: []*ThreadState{main},
		heap:    immutable.NewMap(objectHasher{}),
		Trace:   NewEquationTrace(),
	}
}

// AllocObject creates a new named object of the given size in bytes and
// returns it. It is an error, indicating a bug in the caller, to allocate
// an object name that already exists.
//
// Every object gets a base address carved out of a monotonically growing
// address space, reserving [0, 8) so no live object ever lands on the
// null address. Addresses never get reused within a run, so two distinct
// objects always compare unequal no matter what offset a pointer into
// each one carries.
func (es *ExecutionState) AllocObject(name string, size uint) *MemObject {
	if _, ok := es.heap.Get(name); ok {
		panic(fmt.Sprintf("state: object already exists: %s", name))
	}
	es.nextArrayID++
	addr := es.nextObjectAddress + 8
	es.nextObjectAddress += objectAddressStride(size)
	obj := &MemObject{Name: name, Address: addr, Data: NewObjectArray(es.nextArrayID, addr, size)}
	es.heap = es.heap.Set(name, obj)
	return obj
}

// objectAddressStride rounds size up to an 8-byte-aligned span so
// successive objects never overlap regardless of the widths a pointer
// dereferences them at.
func objectAddressStride(size uint) uint64 {
	s := uint64(size)
	if s == 0 {
		s = 1
	}
	return (s + 7) &^ 7
}

// NextDynamicID returns the next allocation-site counter for a heap
// allocation, incrementing the internal counter.
func (es *ExecutionState) NextDynamicID() uint64 {
	es.nextDynamicID++
	return es.nextDynamicID
}

// Object returns the named object, if it exists.
func (es *ExecutionState) Object(name string) (*MemObject, bool) {
	v, ok := es.heap.Get(name)
	if !ok {
		return nil, false
	}
	return v.(*MemObject), true
}

// StoreObject replaces the named object with a new value (the result of a
// Store on its backing array), preserving the heap's structural sharing.
func (es *ExecutionState) StoreObject(obj *MemObject) {
	es.heap = es.heap.Set(obj.Name, obj)
}

// ObjectNames returns every allocated object name, sorted, for
// deterministic dumps.
func (es *ExecutionState) ObjectNames() []string {
	names := make([]string, 0, es.heap.Len())
	itr := es.heap.Iterator()
	for !itr.Done() {
		key, _ := itr.Next()
		names = append(names, key.(string))
	}
	sort.Strings(names)
	return names
}

// Clone returns a deep-enough copy of the state to explore an independent
// branch: threads are cloned (their own Clone already copies stacks and
// tables), while the heap and program are shared structurally.
func (es *ExecutionState) Clone(newID uint64) *ExecutionState {
	threads := make([]*ThreadState, len(es.Threads))
	for i, t := range es.Threads {
		threads[i] = t.Clone()
	}
	return &ExecutionState{
		ID:            newID,
		Program:       es.Program,
		Threads:       threads,
		heap:          es.heap,
		Trace:         es.Trace.Clone(),
		nextArrayID:       es.nextArrayID,
		nextDynamicID:     es.nextDynamicID,
		nextObjectAddress: es.nextObjectAddress,
	}
}

// Fork is an alias for Clone: Clone produces an independent copy used for
// bookkeeping (e.g. filing a function-pointer candidate's exit state), Fork
// produces one used to actually keep exploring a diverging path. The two
// are mechanically identical; only the caller's intent differs.
func (es *ExecutionState) Fork(newID uint64) *ExecutionState {
	return es.Clone(newID)
}

// Dump renders the state for debugging/test-failure output: a one-line
// summary per thread and object, followed by a full spew.Sdump of every
// live object's fields (including the Array update chain a %s String()
// collapses to a bare size) for the cases where the summary line alone
// doesn't show why a path diverged from what a test expected.
func (es *ExecutionState) Dump() string {
	var out string
	for _, t := range es.Threads {
		out += fmt.Sprintf("thread %d: pc=%s depth=%d guard=%s ended=%t\n", t.ID, t.PC, t.Depth, t.Guard, t.Ended)
	}

	names := es.ObjectNames()
	objs := make(map[string]*MemObject, len(names))
	for _, name := range names {
		obj, _ := es.Object(name)
		out += fmt.Sprintf("object %s: %s\n", name, obj.Data)
		objs[name] = obj
	}
	out += spew.Sdump(objs)
	return out
}
