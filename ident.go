package symbmc

import (
	"fmt"
	"sort"
)

// L1 is the activation-record renaming level. It
// distinguishes concurrent invocations of the same function (ThreadID),
// recursive or repeated invocations (Activation, the per-function call
// counter captured at push time), and re-entries of the same lexical
// position within one activation (Seq, bumped on every DECL re-execution so
// a loop body's second iteration gets a fresh L1 while the first
// iteration's L1 stays valid on any pending goto-state referencing it).
type L1 struct {
	ThreadID   int
	Activation uint64
	Seq        uint64
}

// String returns the printed L1 fragment used inside the L0?L1!L2 form.
func (l1 L1) String() string {
	return fmt.Sprintf("%d!%d!%d", l1.ThreadID, l1.Activation, l1.Seq)
}

// Ident is a fully versioned identifier: L0?L1!L2.
type Ident struct {
	L0 string
	L1 L1
	L2 uint64
}

// String returns the canonical printed form L0?L1!L2.
func (id Ident) String() string {
	return fmt.Sprintf("%s?%s!%d", id.L0, id.L1, id.L2)
}

// L1Table binds source identifiers (L0) to their current activation-record
// name (L1) within a single stack frame. Renaming is pure and deterministic:
// given the same sequence of Activate calls, the same L0 always produces the
// same L1.
type L1Table struct {
	threadID   int
	activation uint64
	current    map[string]L1     // L0 -> current L1
	seq        map[string]uint64 // L0 -> next Seq to hand out
}

// NewL1Table returns a new table scoped to the given thread and activation
// (the per-function call counter value recorded when the owning frame was pushed).
func NewL1Table(threadID int, activation uint64) *L1Table {
	return &L1Table{
		threadID:   threadID,
		activation: activation,
		current:    make(map[string]L1),
		seq:        make(map[string]uint64),
	}
}

// Activate binds a fresh L1 to l0 and returns it. Every call, even for an
// l0 already bound, produces a brand new L1 with an incremented Seq — this
// is the DECL semantics: any re-execution of a declaration at a
// PC already visited on the current path allocates a fresh L1, regardless
// of whether the control flow that reaches it is structured.
func (t *L1Table) Activate(l0 string) L1 {
	seq := t.seq[l0]
	t.seq[l0] = seq + 1

	l1 := L1{ThreadID: t.threadID, Activation: t.activation, Seq: seq}
	t.current[l0] = l1
	return l1
}

// Current returns the L1 currently bound to l0 and whether one exists.
func (t *L1Table) Current(l0 string) (L1, bool) {
	l1, ok := t.current[l0]
	return l1, ok
}

// Remove unbinds l0, implementing DEAD(sym): the L2 trace for the name
// stays intact in the equation trace, only the frame's L1 binding is dropped.
func (t *L1Table) Remove(l0 string) {
	delete(t.current, l0)
}

// Names returns every L0 currently bound, sorted, for deterministic dumps
// and for clearing locals on END_FUNCTION.
func (t *L1Table) Names() []string {
	names := make([]string, 0, len(t.current))
	for name := range t.current {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Clone returns a deep copy. Mutating the clone never affects the original.
func (t *L1Table) Clone() *L1Table {
	other := &L1Table{
		threadID:   t.threadID,
		activation: t.activation,
		current:    make(map[string]L1, len(t.current)),
		seq:        make(map[string]uint64, len(t.seq)),
	}
	for k, v := range t.current {
		other.current[k] = v
	}
	for k, v := range t.seq {
		other.seq[k] = v
	}
	return other
}

// L2Table assigns and reads SSA versions for L1-versioned names. Every
// assignment allocates a fresh L2; a read of a name never assigned on this
// path returns a deterministic "initial" version (0) rather than an error,
// matching a nondeterministic-input variable's implicit first value.
type L2Table struct {
	versions map[L1]uint64 // L1 -> next L2 to hand out
	current  map[L1]uint64 // L1 -> current (most recently assigned) L2
}

// NewL2Table returns a new, empty L2 table.
func NewL2Table() *L2Table {
	return &L2Table{
		versions: make(map[L1]uint64),
		current:  make(map[L1]uint64),
	}
}

// Assign allocates and returns a fresh Ident for l0/l1, incrementing the
// L2 counter for l1. This is the only way an L2 version is ever produced,
// which is what makes the SSA invariant (every L2 appears as an assignment
// lhs at most once) hold by construction.
func (t *L2Table) Assign(l0 string, l1 L1) Ident {
	next := t.versions[l1] + 1
	t.versions[l1] = next
	t.current[l1] = next
	return Ident{L0: l0, L1: l1, L2: next}
}

// Read returns the current Ident for l0/l1, allocating an initial L2=0
// version the first time l1 is read without a prior Assign.
func (t *L2Table) Read(l0 string, l1 L1) Ident {
	l2, ok := t.current[l1]
	if !ok {
		t.current[l1] = 0
		l2 = 0
	}
	return Ident{L0: l0, L1: l1, L2: l2}
}

// Clone returns a deep copy. Mutating the clone never affects the original.
func (t *L2Table) Clone() *L2Table {
	other := &L2Table{
		versions: make(map[L1]uint64, len(t.versions)),
		current:  make(map[L1]uint64, len(t.current)),
	}
	for k, v := range t.versions {
		other.versions[k] = v
	}
	for k, v := range t.current {
		other.current[k] = v
	}
	return other
}
