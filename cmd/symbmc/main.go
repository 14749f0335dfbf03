// Command symbmc bounds-checks a C program lowered to the GOTO IR: it
// symbolically executes every explored path to a finite unwinding depth and
// discharges the resulting equation trace to an SMT solver, reporting the
// first counterexample it finds.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
)

func main() {
	code, err := run(context.Background(), os.Args[1:])
	if err != nil && err != flag.ErrHelp {
		fmt.Fprintln(os.Stderr, err)
	}
	os.Exit(code)
}

func run(ctx context.Context, args []string) (int, error) {
	var cmd string
	if len(args) > 0 {
		cmd, args = args[0], args[1:]
	}

	switch cmd {
	case "", "-h", "--help", "help":
		usage()
		return 2, flag.ErrHelp
	case "verify":
		return NewVerifyCommand().Run(ctx, args)
	default:
		usage()
		return 2, fmt.Errorf("symbmc %s: unknown command", cmd)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, `
symbmc is a bounded model checker for C programs lowered to the GOTO IR.

Usage:

	symbmc <command> [arguments]

The commands are:

	verify      symbolically execute a program and discharge its assertions
	help        this screen

Exit codes (verify):

	0    verification successful, no counterexample found
	1    a counterexample was found
	2    usage error
	6    a resource bound (unwind, depth, interleaving) was exhausted,
	     or a path or the solver failed with an error
`[1:])
}
