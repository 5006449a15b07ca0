package prune

import (
	"fmt"

	"github.com/spf13/pflag"

	"github.com/keshon/snapvault/internal/command"
	"github.com/keshon/snapvault/internal/middleware"
)

type Command struct{}

func (c *Command) Name() string                   { return "prune" }
func (c *Command) Short() string                  { return "p" }
func (c *Command) Aliases() []string              { return []string{"rm", "delete"} }
func (c *Command) Usage() string                  { return "prune --snapshot <id>" }
func (c *Command) Brief() string                  { return "Delete a snapshot and its unshared chunks" }
func (c *Command) Subcommands() []command.Command { return nil }
func (c *Command) Help() string {
	return `Delete a snapshot, then delete every stored chunk that no remaining
snapshot references. Chunks shared with other snapshots are kept.

Options:
  -s, --snapshot=<id>  Snapshot to delete (or first argument).

Usage:
  snapvault prune --snapshot <id>
`
}

func (c *Command) Flags(fs *pflag.FlagSet) {
	fs.Int64P("snapshot", "s", 0, "snapshot to delete")
}

func (c *Command) Run(ctx *command.Context) error {
	id, err := ctx.SnapshotID("snapshot")
	if err != nil {
		return err
	}
	r, err := ctx.OpenRepo(nil)
	if err != nil {
		return err
	}
	defer r.Close()

	res, err := r.Engine.PruneSnapshot(ctx.Ctx, id)
	if err != nil {
		return fmt.Errorf("snapshot %d: %w", id, err)
	}
	fmt.Fprintf(ctx.Stdout, "Pruned snapshot %d, removed %d chunks\n", res.SnapshotID, res.ChunksRemoved)
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
