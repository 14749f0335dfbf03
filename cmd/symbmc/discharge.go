package main

import "github.com/symbmc/symbmc"

// pathConstraints lowers every StepAssignment and StepAssumption in trace
// into a single guarded formula: an assignment under a guard that never
// holds must not constrain anything, so each step becomes
// "guard => (lhs == rhs)" or "guard => cond" rather than an unconditional
// equality. StepAssertion is handled separately by counterexampleFor, since
// each assertion needs its own negated query against this shared base.
func pathConstraints(trace *symbmc.EquationTrace) []symbmc.Expr {
	var out []symbmc.Expr
	for _, step := range trace.Steps {
		switch step.Kind {
		case symbmc.StepAssignment:
			lhs := symbmc.NewIdentExpr(step.LHS, symbmc.ExprWidth(step.RHS))
			eq := symbmc.NewBinaryExpr(symbmc.EQ, lhs, step.RHS)
			out = append(out, implies(step.Guard, eq))
		case symbmc.StepAssumption:
			out = append(out, implies(step.Guard, step.RHS))
		}
	}
	return out
}

func implies(guard, cond symbmc.Expr) symbmc.Expr {
	return symbmc.NewBinaryExpr(symbmc.OR, symbmc.NewIsZeroExpr(guard), cond)
}

// arraysOf returns every symbolic array backing state's live memory
// objects, the set counterexampleFor asks the solver for a model over.
func arraysOf(state *symbmc.ExecutionState) []*symbmc.Array {
	var arrays []*symbmc.Array
	for _, name := range state.ObjectNames() {
		obj, ok := state.Object(name)
		if !ok {
			continue
		}
		arrays = append(arrays, obj.Data)
	}
	return arrays
}

// counterexample is a discharged assertion violation: the assertion's
// message, plus the array/value model that reaches it. No source location
// is recorded.
type counterexample struct {
	Message string
	Arrays  []*symbmc.Array
	Values  [][]byte
}

// counterexampleFor checks each assertion in trace against base (the
// path's assignments and assumptions) in order and returns the first one
// the solver can satisfy the negation of: guard && !cond reachable means
// the assertion can fail. Returns nil, nil if every assertion holds.
func counterexampleFor(solver symbmc.Solver, base []symbmc.Expr, trace *symbmc.EquationTrace, arrays []*symbmc.Array) (*counterexample, error) {
	for _, step := range trace.Assertions() {
		violated := symbmc.NewBinaryExpr(symbmc.AND, step.Guard, symbmc.NewIsZeroExpr(step.RHS))
		constraints := append(append([]symbmc.Expr{}, base...), violated)

		sat, values, err := solver.Solve(constraints, arrays)
		if err != nil {
			return nil, err
		}
		if sat {
			return &counterexample{Message: step.Message, Arrays: arrays, Values: values}, nil
		}
	}
	return nil, nil
}
