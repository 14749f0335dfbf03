package symbmc

import "fmt"

// Scheduler explores the interleavings of a multi-threaded ExecutionState.
// Concurrency is modelled by interleaving: at every visible action (any
// instruction other than one inside an ATOMIC_BEGIN/END region) control may
// switch to any thread that has not ended, and each such choice forks the
// exploration exactly the way a conditional GOTO forks a single thread's
// guard. Threads are cloned by the same copy semantics used at goto merges
// (ThreadState.Clone), so a forked interleaving never disturbs a sibling's
// state; each fork also gets its own equation trace via ExecutionState.Clone.
type Scheduler struct {
	Executor *Executor
	Searcher Searcher

	// MaxInterleavings bounds the number of independent global schedules
	// explored per run, guarding against the interleaving count blowing up
	// on a program with many threads and many visible actions. Zero means
	// unbounded.
	MaxInterleavings int

	explored int
	nextID   uint64
}

// NewScheduler returns a scheduler driving ex over successive states,
// choosing which pending interleaving to resume via searcher.
func NewScheduler(ex *Executor, searcher Searcher, maxInterleavings int) *Scheduler {
	return &Scheduler{Executor: ex, Searcher: searcher, MaxInterleavings: maxInterleavings}
}

// PathResult is one fully explored interleaving: the trace symex produced
// for it and, if the path terminated abnormally, the error that stopped it.
type PathResult struct {
	State *ExecutionState
	Trace *EquationTrace
	Err   error
}

// Run drives every live interleaving of state to completion (every thread
// ended, or a resource bound reached), invoking collect once per completed
// path.
func (s *Scheduler) Run(state *ExecutionState, collect func(PathResult)) error {
	if s.nextID <= state.ID {
		s.nextID = state.ID + 1
	}
	s.Searcher.AddState(state)

	for {
		cur := s.Searcher.SelectState()
		if cur == nil {
			return nil
		}

		s.Executor.Trace = cur.Trace
		for {
			runnable := runnableThreads(cur)
			if len(runnable) == 0 {
				collect(PathResult{State: cur, Trace: cur.Trace})
				break
			}

			if len(runnable) == 1 || inAtomicRegion(cur, runnable[0]) {
				res, err := s.Executor.Step(cur, runnable[0])
				s.drainPending()
				if err != nil {
					collect(PathResult{State: cur, Trace: cur.Trace, Err: err})
					break
				}
				if res == StepThreadEnded && allEnded(cur) {
					collect(PathResult{State: cur, Trace: cur.Trace})
					break
				}
				continue
			}

			if s.MaxInterleavings > 0 && s.explored >= s.MaxInterleavings {
				collect(PathResult{State: cur, Trace: cur.Trace, Err: fmt.Errorf("scheduler: interleaving bound exhausted: %w", ErrResourceExhaustion)})
				break
			}

			// Genuine scheduling choice: fork one sibling per runnable
			// thread other than the one that keeps running in place,
			// each continuing with that thread taking the next visible
			// action. Every fork gets a structurally independent state
			// and trace, since the two schedules' step sequences diverge
			// from here on.
			for _, idx := range runnable[1:] {
				s.nextID++
				forked := cur.Fork(s.nextID)
				s.explored++
				s.Executor.Trace = forked.Trace
				if _, err := s.Executor.Step(forked, idx); err != nil {
					s.drainPending()
					collect(PathResult{State: forked, Trace: forked.Trace, Err: err})
					continue
				}
				s.drainPending()
				s.Searcher.AddState(forked)
			}
			s.Executor.Trace = cur.Trace
			if _, err := s.Executor.Step(cur, runnable[0]); err != nil {
				s.drainPending()
				collect(PathResult{State: cur, Trace: cur.Trace, Err: err})
				break
			}
			s.drainPending()
		}
	}
}

// drainPending assigns fresh IDs to any states the executor forked mid-Step
// (function-pointer candidate expansion) and hands them to the searcher, the
// same way a genuine interleaving fork is queued above.
func (s *Scheduler) drainPending() {
	for _, forked := range s.Executor.Pending {
		s.nextID++
		forked.ID = s.nextID
		s.explored++
		s.Searcher.AddState(forked)
	}
	s.Executor.Pending = nil
}

// runnableThreads returns the indices of threads that have not ended, in
// thread-ID order.
func runnableThreads(state *ExecutionState) []int {
	var out []int
	for i, t := range state.Threads {
		if !t.Ended {
			out = append(out, i)
		}
	}
	return out
}

func allEnded(state *ExecutionState) bool {
	for _, t := range state.Threads {
		if !t.Ended {
			return false
		}
	}
	return true
}

// inAtomicRegion reports whether the thread's next instruction lies inside
// an ATOMIC_BEGIN/END block, in which case the scheduler must not
// interleave another thread until ATOMIC_END is reached.
func inAtomicRegion(state *ExecutionState, threadIdx int) bool {
	ts := state.Threads[threadIdx]
	fn, ok := state.Program.Lookup(ts.PC.Function)
	if !ok {
		return false
	}
	depth := 0
	for i := 0; i <= ts.PC.Index && i < len(fn.Body); i++ {
		switch fn.Body[i].Kind {
		case ATOMIC_BEGIN:
			depth++
		case ATOMIC_END:
			if depth > 0 {
				depth--
			}
		}
	}
	return depth > 0
}
