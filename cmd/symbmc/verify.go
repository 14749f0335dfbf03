package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io/ioutil"
	"log"
	"os"
	"strconv"
	"strings"

	"github.com/symbmc/symbmc"
	"github.com/symbmc/symbmc/library"
	"github.com/symbmc/symbmc/z3"
)

// VerifyCommand symbolically executes a program to a bounded depth and
// discharges every assertion its explored paths reach.
type VerifyCommand struct{}

// NewVerifyCommand returns a new instance of VerifyCommand.
func NewVerifyCommand() *VerifyCommand {
	return &VerifyCommand{}
}

// Run executes the "verify" subcommand and returns the process exit code
// per the CLI's contract: 0 verified, 1 counterexample, 2 usage error, 6
// resource exhausted. Exit code 6 is also returned, with the error, when a
// path fails for another reason or the solver reports an error.
func (cmd *VerifyCommand) Run(ctx context.Context, args []string) (int, error) {
	fs := flag.NewFlagSet("symbmc-verify", flag.ContinueOnError)
	unwind := fs.Int("unwind", 0, "default loop/recursion unwinding bound")
	unwindset := fs.String("unwindset", "", "comma-separated loc:k overrides for -unwind")
	noUnwindingAssertions := fs.Bool("no-unwinding-assertions", false, "drop exhausted paths silently instead of asserting")
	recursionBound := fs.Int("depth", 0, "recursion depth bound (0 = unbounded)")
	width16 := fs.Bool("16", false, "target a 16-bit architecture")
	width32 := fs.Bool("32", false, "target a 32-bit architecture")
	width64 := fs.Bool("64", false, "target a 64-bit architecture")
	floatbv := fs.Bool("floatbv", false, "encode floating-point operations bit-precisely (always on: the fpa package never uses a native theory)")
	smtSolver := fs.String("smt-solver", "z3", "backend SMT solver to discharge assertions with")
	function := fs.String("function", "main", "entry function")
	libc := fs.String("libc", "", "prelinked C-library blob to link against")
	maxInterleavings := fs.Int("max-interleavings", 0, "bound on explored thread interleavings (0 = unbounded)")
	verbose := fs.Bool("v", false, "verbose")
	fs.Usage = cmd.usage
	if err := fs.Parse(args); err != nil {
		return 2, err
	} else if fs.NArg() == 0 {
		return 2, fmt.Errorf("input program required")
	} else if fs.NArg() > 1 {
		return 2, fmt.Errorf("too many programs specified")
	}

	log.SetFlags(0)
	if !*verbose {
		log.SetOutput(ioutil.Discard)
	}

	width, err := targetWidth(*width16, *width32, *width64)
	if err != nil {
		return 2, err
	}

	unwindSet, err := parseUnwindSet(*unwindset)
	if err != nil {
		return 2, err
	}

	if *smtSolver != "z3" {
		return 2, fmt.Errorf("unsupported -smt-solver %q: only z3 is wired in", *smtSolver)
	}
	_ = *floatbv // fpa always lowers bit-precisely; the flag is accepted for CLI compatibility.

	f, err := os.Open(fs.Arg(0))
	if err != nil {
		return 2, err
	}
	defer f.Close()

	prog, err := decodeProgram(f)
	if err != nil {
		return 2, fmt.Errorf("decoding program: %w", err)
	}
	prog.Entry = *function

	if *libc != "" {
		if err := linkLibc(prog, *libc, width); err != nil {
			return 2, err
		}
	}

	z3Solver := z3.NewSolver()
	defer z3Solver.Close()

	opts := symbmc.Options{
		UnwindBound:           *unwind,
		UnwindSet:             unwindSet,
		NoUnwindingAssertions: *noUnwindingAssertions,
		RecursionBound:        *recursionBound,
	}
	executor := symbmc.NewExecutor(opts, symbmc.NewEquationTrace())
	scheduler := symbmc.NewScheduler(executor, symbmc.NewDFSSearcher(), *maxInterleavings)

	init := symbmc.NewExecutionState(1, prog)

	var (
		found     *counterexample
		exhausted bool
		runErr    error
	)
	err = scheduler.Run(init, func(res symbmc.PathResult) {
		if found != nil || runErr != nil {
			return
		}
		if res.Err != nil {
			log.Printf("[path %d] %v", res.State.ID, res.Err)
			if errors.Is(res.Err, symbmc.ErrResourceExhaustion) {
				exhausted = true
			} else {
				runErr = res.Err
			}
			return
		}

		base := pathConstraints(res.Trace)
		arrays := arraysOf(res.State)
		ce, err := counterexampleFor(z3Solver, base, res.Trace, arrays)
		if err != nil {
			runErr = err
			return
		}
		if ce != nil {
			found = ce
		}
	})
	if err != nil {
		return 2, err
	}
	if runErr != nil {
		return 6, runErr
	}
	if found != nil {
		cmd.reportCounterexample(found)
		return 1, nil
	}
	if exhausted {
		fmt.Println("RESOURCE EXHAUSTED: a path did not terminate within its bound")
		return 6, nil
	}
	fmt.Println("VERIFICATION SUCCESSFUL")
	return 0, nil
}

func (cmd *VerifyCommand) reportCounterexample(ce *counterexample) {
	fmt.Println("VERIFICATION FAILED")
	fmt.Printf("assertion violated: %s\n", ce.Message)
	for i, array := range ce.Arrays {
		fmt.Printf("%s => %x\n", array.String(), ce.Values[i])
	}
}

func (cmd *VerifyCommand) usage() {
	fmt.Fprintln(os.Stderr, `
usage: symbmc verify [flags] <program>

Flags:

	-unwind K                   default loop/recursion unwinding bound
	-unwindset loc:k,...        per-location overrides for -unwind
	-no-unwinding-assertions    drop exhausted paths silently
	-depth N                    recursion depth bound
	-16 | -32 | -64             target architecture bit width
	-floatbv                    accepted for compatibility; always bit-precise
	-smt-solver NAME            backend solver (only "z3" is wired in)
	-function NAME              entry function (default "main")
	-libc PATH                  prelinked C-library blob to link against
	-max-interleavings N        bound on explored thread interleavings
	-v                          verbose logging
`[1:])
}

func targetWidth(w16, w32, w64 bool) (uint, error) {
	n := 0
	for _, b := range []bool{w16, w32, w64} {
		if b {
			n++
		}
	}
	if n > 1 {
		return 0, fmt.Errorf("only one of -16, -32, -64 may be given")
	}
	switch {
	case w16:
		return 16, nil
	case w32:
		return 32, nil
	default:
		return 64, nil
	}
}

func parseUnwindSet(s string) (map[string]int, error) {
	if s == "" {
		return nil, nil
	}
	out := make(map[string]int)
	for _, entry := range strings.Split(s, ",") {
		parts := strings.SplitN(entry, ":", 2)
		if len(parts) != 2 {
			return nil, fmt.Errorf("invalid -unwindset entry %q: want loc:k", entry)
		}
		k, err := strconv.Atoi(parts[1])
		if err != nil {
			return nil, fmt.Errorf("invalid -unwindset entry %q: %w", entry, err)
		}
		out[parts[0]] = k
	}
	return out, nil
}

func linkLibc(prog *symbmc.Program, path string, width uint) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	lib, err := library.Decode(f, width)
	if err != nil {
		return fmt.Errorf("decoding libc blob: %w", err)
	}
	library.Link(prog, lib)
	return nil
}
