package symbmc

import "fmt"

// StepKind identifies the shape of one equation-trace step.
type StepKind int

const (
	StepAssignment StepKind = iota
	StepAssumption
	StepAssertion
	StepOutput
)

func (k StepKind) String() string {
	switch k {
	case StepAssignment:
		return "assignment"
	case StepAssumption:
		return "assumption"
	case StepAssertion:
		return "assertion"
	case StepOutput:
		return "output"
	default:
		return fmt.Sprintf("StepKind<%d>", k)
	}
}

// Step is one entry of the equation trace. Depending on Kind, only a
// subset of fields is meaningful:
//
//	StepAssignment: LHS, RHS, Guard, IsPhi
//	StepAssumption: RHS (the assumed condition), Guard
//	StepAssertion:  RHS (the asserted condition), Guard, Message
//	StepOutput:     RHS (the rendered value), Label
type Step struct {
	Kind    StepKind
	Guard   Expr
	LHS     Ident
	RHS     Expr
	Message string
	Label   string
	IsPhi   bool
}

// String returns a debug rendering of the step.
func (s Step) String() string {
	switch s.Kind {
	case StepAssignment:
		if s.IsPhi {
			return fmt.Sprintf("phi %s := %s [%s]", s.LHS, s.RHS, s.Guard)
		}
		return fmt.Sprintf("assign %s := %s [%s]", s.LHS, s.RHS, s.Guard)
	case StepAssumption:
		return fmt.Sprintf("assume %s [%s]", s.RHS, s.Guard)
	case StepAssertion:
		return fmt.Sprintf("assert %s %q [%s]", s.RHS, s.Message, s.Guard)
	case StepOutput:
		return fmt.Sprintf("output %s := %s [%s]", s.Label, s.RHS, s.Guard)
	default:
		panic("unreachable")
	}
}

// EquationTrace is the append-only sequence of steps symex produces for a
// single explored path. Its central invariant is SSA: within any prefix,
// an L2 identifier is the assignment lhs of at most one step. This is
// enforced at Assign/Phi time rather than checked after the fact, so a
// violation is caught at the instant it would occur.
type EquationTrace struct {
	Steps    []Step
	assigned map[Ident]bool
}

// NewEquationTrace returns a new, empty equation trace.
func NewEquationTrace() *EquationTrace {
	return &EquationTrace{assigned: make(map[Ident]bool)}
}

// Assign appends an Assignment step: lhs := rhs, valid under guard.
func (t *EquationTrace) Assign(lhs Ident, rhs Expr, guard Expr) {
	t.appendAssignment(lhs, rhs, guard, false)
}

// Phi appends a Renumbered-φ step: same shape as Assign, but marked as
// having been produced by a goto-state merge rather than direct execution
// of an ASSIGN instruction.
func (t *EquationTrace) Phi(lhs Ident, rhs Expr, guard Expr) {
	t.appendAssignment(lhs, rhs, guard, true)
}

func (t *EquationTrace) appendAssignment(lhs Ident, rhs Expr, guard Expr, isPhi bool) {
	assert(!t.assigned[lhs], "target: SSA violation: %s assigned more than once", lhs)
	t.assigned[lhs] = true
	t.Steps = append(t.Steps, Step{
		Kind:  StepAssignment,
		Guard: guard,
		LHS:   lhs,
		RHS:   rhs,
		IsPhi: isPhi,
	})
}

// Assume appends an Assumption step: guard ⇒ cond is added to the formula.
func (t *EquationTrace) Assume(guard Expr, cond Expr) {
	t.Steps = append(t.Steps, Step{Kind: StepAssumption, Guard: guard, RHS: cond})
}

// Assert appends an Assertion step: guard ⇒ cond is added as a proof
// obligation labelled with message.
func (t *EquationTrace) Assert(guard Expr, cond Expr, message string) {
	t.Steps = append(t.Steps, Step{Kind: StepAssertion, Guard: guard, RHS: cond, Message: message})
}

// Output appends an informational rendering step; it never contributes to
// satisfiability, only to the human-readable trace of a counterexample.
func (t *EquationTrace) Output(guard Expr, label string, value Expr) {
	t.Steps = append(t.Steps, Step{Kind: StepOutput, Guard: guard, Label: label, RHS: value})
}

// Assertions returns every assertion step, in trace order.
func (t *EquationTrace) Assertions() []Step {
	var out []Step
	for _, s := range t.Steps {
		if s.Kind == StepAssertion {
			out = append(out, s)
		}
	}
	return out
}

// Len returns the number of steps recorded so far.
func (t *EquationTrace) Len() int {
	return len(t.Steps)
}

// Clone returns an independent copy of the trace, for forking a scheduling
// interleaving: the two forks' subsequent steps must not land in the same
// Steps slice or share the same assigned-identifier bookkeeping.
func (t *EquationTrace) Clone() *EquationTrace {
	other := &EquationTrace{
		Steps:    make([]Step, len(t.Steps)),
		assigned: make(map[Ident]bool, len(t.assigned)),
	}
	copy(other.Steps, t.Steps)
	for k, v := range t.assigned {
		other.assigned[k] = v
	}
	return other
}
