// Command bpm is a minimal front-end over the refinement driver: enough to
// exercise the core end to end, not a feature-complete package manager CLI.
package main

import (
	"flag"
	"fmt"
	"io"
	"os"
)

// command is the interface each CLI subcommand implements so run can
// register its flags and dispatch to it uniformly.
type command interface {
	Name() string
	ShortHelp() string
	Register(*flag.FlagSet)
	Run(stdout, stderr io.Writer, verbose bool) error
}

func main() {
	os.Exit(run(os.Args, os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	commands := []command{
		&planCommand{},
	}

	if len(args) < 2 {
		usage(stderr, commands)
		return 1
	}

	for _, cmd := range commands {
		if cmd.Name() != args[1] {
			continue
		}
		fs := flag.NewFlagSet(cmd.Name(), flag.ContinueOnError)
		fs.SetOutput(stderr)
		verbose := fs.Bool("v", false, "enable verbose logging")
		cmd.Register(fs)
		if err := fs.Parse(args[2:]); err != nil {
			return 1
		}
		if err := cmd.Run(stdout, stderr, *verbose); err != nil {
			fmt.Fprintf(stderr, "bpm: %v\n", err)
			return 1
		}
		return 0
	}

	fmt.Fprintf(stderr, "bpm: %s: no such command\n", args[1])
	usage(stderr, commands)
	return 1
}

func usage(stderr io.Writer, commands []command) {
	fmt.Fprintln(stderr, "Usage: bpm <command> [flags]")
	fmt.Fprintln(stderr)
	fmt.Fprintln(stderr, "Commands:")
	for _, cmd := range commands {
		fmt.Fprintf(stderr, "  %-10s %s\n", cmd.Name(), cmd.ShortHelp())
	}
}
