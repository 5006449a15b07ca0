package list

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/keshon/snapvault/internal/command"
	"github.com/keshon/snapvault/internal/engine"
	"github.com/keshon/snapvault/internal/middleware"
)

type Command struct {
	command.Base
}

func (c *Command) Name() string      { return "list" }
func (c *Command) Aliases() []string { return []string{"ls", "snapshots"} }
func (c *Command) Usage() string     { return "list" }
func (c *Command) Brief() string     { return "List snapshots with their sizes" }
func (c *Command) Help() string {
	return `List every committed snapshot, oldest first.

Columns:
  SIZE           Total size of the snapshot's files.
  DISTINCT_SIZE  Bytes of chunks first stored by this snapshot, that is
                 referenced by no earlier snapshot in the list.

The TOTAL row sums both columns; its DISTINCT_SIZE is the amount of
file data the repository stores after deduplication.

Usage:
  snapvault list`
}

func (c *Command) Run(ctx *command.Context) error {
	r, err := ctx.OpenRepo(nil)
	if err != nil {
		return err
	}
	defer r.Close()

	snaps, err := r.Engine.ListSnapshots(ctx.Ctx)
	if err != nil {
		return err
	}
	if len(snaps) == 0 {
		fmt.Fprintln(ctx.Stdout, "No snapshots.")
		return nil
	}

	usage := engine.ComputeUsage(snaps)
	tw := tabwriter.NewWriter(ctx.Stdout, 0, 0, 2, ' ', tabwriter.AlignRight)
	fmt.Fprintln(tw, "SNAPSHOT\tTIMESTAMP\tFILES\tSIZE\tDISTINCT_SIZE\t")
	files := 0
	for _, su := range usage.Snapshots {
		files += len(su.Snapshot.Files)
		fmt.Fprintf(tw, "%d\t%s\t%d\t%s\t%s\t\n",
			su.Snapshot.ID,
			su.Snapshot.Timestamp.Local().Format(time.DateTime),
			len(su.Snapshot.Files),
			humanize.IBytes(uint64(su.Size)),
			humanize.IBytes(uint64(su.DistinctSize)),
		)
	}
	fmt.Fprintf(tw, "TOTAL\t\t%d\t%s\t%s\t\n",
		files, humanize.IBytes(uint64(usage.Size)), humanize.IBytes(uint64(usage.DistinctSize)))
	return tw.Flush()
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
