package command

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"
)

// Execute resolves args to a command, parses its flags on top of the
// global ones and runs it with a copy of base.
func Execute(base *Context, args []string) error {
	if len(args) == 0 {
		args = []string{"help"}
	}

	node, remaining, err := ResolveCommand(args)
	if err != nil {
		return fmt.Errorf("%w: %s (see 'help')", err, args[0])
	}
	cmd := node.Cmd

	ctx := *base
	if ctx.Ctx == nil {
		ctx.Ctx = context.Background()
	}

	fs := pflag.NewFlagSet(cmd.Name(), pflag.ContinueOnError)
	fs.SetOutput(io.Discard)
	fs.StringVar(&ctx.RepoDir, "repo", base.RepoDir, "repository directory")
	fs.StringVar(&ctx.LogLevel, "log-level", base.LogLevel, "log level")
	cmd.Flags(fs)
	if err := fs.Parse(remaining); err != nil {
		return fmt.Errorf("%s: %w", cmd.Name(), err)
	}

	ctx.Args = fs.Args()
	ctx.Flags = fs
	return cmd.Run(&ctx)
}

// RunCLI is the main entrypoint for executing commands.
// It runs args against the process environment and exits non-zero on error.
func RunCLI(args []string) {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err := Execute(&Context{
		Ctx:    ctx,
		Stdout: os.Stdout,
		Stderr: os.Stderr,
	}, args)
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		stop()
		os.Exit(1)
	}
}
