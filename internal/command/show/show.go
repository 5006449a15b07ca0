package show

import (
	"fmt"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/keshon/snapvault/internal/command"
	"github.com/keshon/snapvault/internal/middleware"
)

type Command struct {
	command.Base
}

func (c *Command) Name() string      { return "show" }
func (c *Command) Aliases() []string { return []string{"info"} }
func (c *Command) Usage() string     { return "show <snapshot>" }
func (c *Command) Brief() string     { return "Show the files of a snapshot" }
func (c *Command) Help() string {
	return `Show a snapshot's metadata and every file it holds, with the file size
and number of chunks.

Usage:
  snapvault show <snapshot>`
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

	snap, err := r.Engine.GetSnapshot(ctx.Ctx, id)
	if err != nil {
		return fmt.Errorf("snapshot %d: %w", id, err)
	}

	fmt.Fprintf(ctx.Stdout, "Snapshot:   %d\n", snap.ID)
	fmt.Fprintf(ctx.Stdout, "Created:    %s\n", snap.Timestamp.Local().Format(time.DateTime))
	fmt.Fprintf(ctx.Stdout, "Chunk size: %d\n", snap.ChunkSize)
	fmt.Fprintf(ctx.Stdout, "Files:      %d (%s)\n\n", len(snap.Files), humanize.IBytes(uint64(snap.Size())))
	for _, f := range snap.Files {
		fmt.Fprintf(ctx.Stdout, "%10s %6d  %s\n", humanize.IBytes(uint64(f.Size)), len(f.Chunks), f.Path)
	}
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
