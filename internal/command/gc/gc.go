package gc

import (
	"fmt"

	"github.com/keshon/snapvault/internal/command"
	"github.com/keshon/snapvault/internal/middleware"
)

type Command struct {
	command.Base
}

func (c *Command) Name() string      { return "gc" }
func (c *Command) Aliases() []string { return []string{"sweep", "cleanup"} }
func (c *Command) Usage() string     { return "gc" }
func (c *Command) Brief() string     { return "Remove leftovers of interrupted snapshots" }
func (c *Command) Help() string {
	return `Remove what interrupted work leaves behind: snapshots whose build never
finished, temporary files, and chunks no snapshot references.

Do not run gc while another process is creating a snapshot in the same
repository.

Usage:
  snapvault gc`
}

func (c *Command) Run(ctx *command.Context) error {
	r, err := ctx.OpenRepo(nil)
	if err != nil {
		return err
	}
	defer r.Close()

	res, err := r.Engine.Sweep(ctx.Ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(ctx.Stdout, "Removed %d unfinished snapshots, %d chunks, %d temp files\n",
		res.StagedRemoved, res.ChunksRemoved, res.TempRemoved)
	return nil
}

func init() {
	command.RegisterCommand(
		command.ApplyMiddlewares(
			&Command{},
			middleware.WithRepoCheck(),
			middleware.WithDebugArgsPrint(),
		),
	)
}
