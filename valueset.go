package symbmc

import (
	"fmt"
	"hash/fnv"
	"sort"
	"strings"

	"github.com/benbjohnson/immutable"
)

// TargetKind identifies the shape of an abstract pointer target.
type TargetKind int

const (
	// TargetObject points at a named object plus a symbolic byte offset.
	TargetObject TargetKind = iota
	// TargetNull is the null pointer.
	TargetNull
	// TargetInvalid marks a pointer known to address nothing valid
	// (freed memory, past-the-end, or never initialized).
	TargetInvalid
	// TargetDynamic is a heap allocation identified by its allocation-site
	// counter, used before the allocation's concrete object identity is
	// known to the caller (e.g. the result of malloc, prior to a cast).
	TargetDynamic
	// TargetFunction points at a function, for function-pointer values.
	TargetFunction
)

// Target is one member of a pointer variable's value set.
type Target struct {
	Kind      TargetKind
	Object    string // object name (TargetObject) or function name (TargetFunction)
	Offset    Expr   // byte offset expression, valid when Kind == TargetObject
	DynamicID uint64 // allocation-site counter, valid when Kind == TargetDynamic
}

// NullTarget returns the null pointer target.
func NullTarget() Target { return Target{Kind: TargetNull} }

// InvalidTarget returns the invalid pointer target.
func InvalidTarget() Target { return Target{Kind: TargetInvalid} }

// DynamicTarget returns the target for the k'th dynamic allocation.
func DynamicTarget(k uint64) Target { return Target{Kind: TargetDynamic, DynamicID: k} }

// FunctionTarget returns the target for a named function.
func FunctionTarget(name string) Target { return Target{Kind: TargetFunction, Object: name} }

// ObjectTarget returns the target for a named object at a symbolic offset.
func ObjectTarget(name string, offset Expr) Target {
	return Target{Kind: TargetObject, Object: name, Offset: offset}
}

// Equal returns true if t and other denote the same abstract target.
func (t Target) Equal(other Target) bool {
	if t.Kind != other.Kind {
		return false
	}
	switch t.Kind {
	case TargetObject:
		return t.Object == other.Object && CompareExpr(t.Offset, other.Offset) == 0
	case TargetDynamic:
		return t.DynamicID == other.DynamicID
	case TargetFunction:
		return t.Object == other.Object
	default: // TargetNull, TargetInvalid: singleton markers
		return true
	}
}

// String returns a debug rendering of the target.
func (t Target) String() string {
	switch t.Kind {
	case TargetObject:
		return fmt.Sprintf("%s+%s", t.Object, t.Offset)
	case TargetNull:
		return "NULL"
	case TargetInvalid:
		return "INVALID"
	case TargetDynamic:
		return fmt.Sprintf("DYNAMIC(%d)", t.DynamicID)
	case TargetFunction:
		return fmt.Sprintf("FUNCTION(%s)", t.Object)
	default:
		panic("unreachable")
	}
}

// addr returns the symbolic address expression for the target, given the
// base address a caller has already resolved for the named object (or,
// for TargetDynamic, the base address of that allocation). NULL and
// INVALID targets have no meaningful address and are never selected for
// a load; they only ever contribute to the safety assertion.
func (t Target) addr(base Expr, width uint) Expr {
	switch t.Kind {
	case TargetObject:
		return NewBinaryExpr(ADD, base, NewCastExpr(t.Offset, width, false))
	case TargetDynamic:
		return base
	case TargetFunction:
		return base
	default:
		return NewConstantExpr(0, width)
	}
}

// dedupTargets returns targets with duplicates removed, preserving the
// order of first occurrence so value-set dumps stay stable across runs.
func dedupTargets(targets []Target) []Target {
	out := make([]Target, 0, len(targets))
	for _, t := range targets {
		found := false
		for _, seen := range out {
			if seen.Equal(t) {
				found = true
				break
			}
		}
		if !found {
			out = append(out, t)
		}
	}
	return out
}

// unionTargets merges a and b, deduplicating. Value-set join is
// commutative, associative and idempotent, which this trivially satisfies
// since it is a set union over structural equality.
func unionTargets(a, b []Target) []Target {
	return dedupTargets(append(append([]Target{}, a...), b...))
}

// l1Hasher implements immutable.Hasher for L1 keys.
type l1Hasher struct{}

func (l1Hasher) Hash(value interface{}) uint32 {
	l1 := value.(L1)
	h := fnv.New32a()
	fmt.Fprintf(h, "%d:%d:%d", l1.ThreadID, l1.Activation, l1.Seq)
	return h.Sum32()
}

func (l1Hasher) Equal(a, b interface{}) bool {
	return a.(L1) == b.(L1)
}

// ValueSet is a map from an L1 pointer variable to its finite set of
// abstract targets. It is backed by an immutable.Map so that
// forking a thread's state (one clone per explored branch) is a
// structural share rather than a deep copy.
type ValueSet struct {
	m *immutable.Map
}

// NewValueSet returns a new, empty value-set tracker.
func NewValueSet() *ValueSet {
	return &ValueSet{m: immutable.NewMap(l1Hasher{})}
}

// Assign binds lhs to targets, replacing whatever was previously bound.
func (vs *ValueSet) Assign(lhs L1, targets []Target) *ValueSet {
	return &ValueSet{m: vs.m.Set(lhs, dedupTargets(targets))}
}

// Read returns the targets currently bound to lhs. A pointer variable
// that was never assigned reads as INVALID: the engine has no basis for
// assuming an uninitialized pointer addresses anything in particular, and
// treating it as INVALID means a dereference before assignment is caught
// by the safety assertion rather than silently permitted.
func (vs *ValueSet) Read(lhs L1) []Target {
	v, ok := vs.m.Get(lhs)
	if !ok {
		return []Target{InvalidTarget()}
	}
	return v.([]Target)
}

// Join returns the pointwise union of vs and other, per L1 name.
func (vs *ValueSet) Join(other *ValueSet) *ValueSet {
	result := vs.m
	itr := other.m.Iterator()
	for !itr.Done() {
		key, value := itr.Next()
		l1 := key.(L1)
		otherTargets := value.([]Target)
		if existing, ok := result.Get(l1); ok {
			result = result.Set(l1, unionTargets(existing.([]Target), otherTargets))
		} else {
			result = result.Set(l1, otherTargets)
		}
	}
	return &ValueSet{m: result}
}

// ApplyGuard restricts the value set to a merge branch's contribution: a
// branch guarded by an unsatisfiable condition contributes nothing, since
// none of its assignments can have actually executed.
func (vs *ValueSet) ApplyGuard(g *Guard) *ValueSet {
	if g.IsFalse() {
		return NewValueSet()
	}
	return vs
}

// Names returns every L1 pointer variable currently bound, in a
// deterministic order, for debug dumps.
func (vs *ValueSet) Names() []L1 {
	names := make([]L1, 0, vs.m.Len())
	itr := vs.m.Iterator()
	for !itr.Done() {
		key, _ := itr.Next()
		names = append(names, key.(L1))
	}
	sort.Slice(names, func(i, j int) bool {
		a, b := names[i], names[j]
		if a.ThreadID != b.ThreadID {
			return a.ThreadID < b.ThreadID
		}
		if a.Activation != b.Activation {
			return a.Activation < b.Activation
		}
		return a.Seq < b.Seq
	})
	return names
}

// String returns a debug rendering of the whole tracker.
func (vs *ValueSet) String() string {
	var sb strings.Builder
	for _, l1 := range vs.Names() {
		targets := vs.Read(l1)
		strs := make([]string, len(targets))
		for i, t := range targets {
			strs[i] = t.String()
		}
		fmt.Fprintf(&sb, "%s -> {%s}\n", l1, strings.Join(strs, ", "))
	}
	return sb.String()
}

// TargetLoader resolves a target to the address it denotes and the value
// currently stored there. The executor supplies this, since only it knows
// how to turn a named object into a base address and read the backing
// memory array.
type TargetLoader func(t Target) (addr Expr, value Expr)

// Dereference builds the guarded ite cascade for reading through pointer
// p: `ite(p = targets[0].addr, load(targets[0]), ite(..., invalid))`.
// It also returns the safety assertion `p ∈ targets`, which the caller
// appends to the equation trace guarded by the current path guard.
func (vs *ValueSet) Dereference(p L1, addrExpr Expr, load TargetLoader, invalid Expr) (value Expr, safety Expr) {
	targets := vs.Read(p)
	if len(targets) == 0 {
		return invalid, NewBoolConstantExpr(false)
	}

	value = invalid
	safety = NewBoolConstantExpr(false)
	for i := len(targets) - 1; i >= 0; i-- {
		addr, v := load(targets[i])
		matches := NewBinaryExpr(EQ, addrExpr, addr)
		value = NewIteExpr(matches, v, value)
		safety = NewBinaryExpr(OR, matches, safety)
	}
	return value, safety
}
