package middleware

import (
	"fmt"

	"github.com/keshon/snapvault/internal/command"
)

// WithDebugArgsPrint prints the parsed arguments when --log-level is debug
// or trace.
func WithDebugArgsPrint() command.Middleware {
	return func(cmd command.Command) command.Command {
		return &command.WrappedCommand{
			Command: cmd,
			Wrap: func(ctx *command.Context) error {
				if ctx.LogLevel == "debug" || ctx.LogLevel == "trace" {
					fmt.Fprintf(ctx.Stderr, "Args: %+v\n", ctx.Args)
				}
				return cmd.Run(ctx)
			},
		}
	}
}
