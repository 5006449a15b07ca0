package middleware

import (
	"fmt"

	"github.com/keshon/snapvault/internal/command"
	"github.com/keshon/snapvault/internal/config"
	"github.com/keshon/snapvault/internal/fs"
)

// WithRepoCheck fails early when no repository exists at the selected path.
func WithRepoCheck() command.Middleware {
	return func(cmd command.Command) command.Command {
		return &command.WrappedCommand{
			Command: cmd,
			Wrap: func(ctx *command.Context) error {
				fsys := ctx.FS
				if fsys == nil {
					fsys = fs.NewOSFS()
				}
				if !fsys.Exists(config.Path(ctx.RepoPath())) {
					return fmt.Errorf("no repository at %q (run 'init' first, or pass --repo)", ctx.RepoPath())
				}
				return cmd.Run(ctx)
			},
		}
	}
}
