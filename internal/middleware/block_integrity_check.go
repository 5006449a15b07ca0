package middleware

import (
	"fmt"

	"github.com/keshon/snapvault/internal/command"
	"github.com/keshon/snapvault/internal/engine"
)

// VerifyFlag is the boolean flag a command defines to opt into
// WithIntegrityCheck.
const VerifyFlag = "verify"

// WithIntegrityCheck checks every stored chunk before running the command
// when the command's --verify flag is set, and refuses to run on a damaged
// repository.
func WithIntegrityCheck() command.Middleware {
	return func(cmd command.Command) command.Command {
		return &command.WrappedCommand{
			Command: cmd,
			Wrap: func(ctx *command.Context) error {
				if ctx.Flags == nil {
					return cmd.Run(ctx)
				}
				if on, err := ctx.Flags.GetBool(VerifyFlag); err != nil || !on {
					return cmd.Run(ctx)
				}

				fmt.Fprintln(ctx.Stdout, "Checking repository integrity...")
				r, err := ctx.OpenRepo(nil)
				if err != nil {
					return err
				}
				report, err := r.Engine.CheckIntegrity(ctx.Ctx, engine.CheckOptions{References: true})
				r.Close()
				if err != nil {
					return err
				}
				if !report.Healthy() {
					return fmt.Errorf(
						"repository verification failed: %d corrupted, %d missing chunks\nRun `snapvault check --refs` for details",
						report.CorruptCount(), len(report.Missing),
					)
				}
				return cmd.Run(ctx)
			},
		}
	}
}
