package snapshot

import (
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/spf13/pflag"

	"github.com/keshon/snapvault/internal/command"
	"github.com/keshon/snapvault/internal/engine"
	"github.com/keshon/snapvault/internal/middleware"
	"github.com/keshon/snapvault/internal/progress"
)

type Command struct{}

func (c *Command) Name() string                   { return "snapshot" }
func (c *Command) Short() string                  { return "s" }
func (c *Command) Aliases() []string              { return []string{"backup", "create"} }
func (c *Command) Usage() string                  { return "snapshot --target-directory <dir>" }
func (c *Command) Brief() string                  { return "Create a snapshot of a directory" }
func (c *Command) Subcommands() []command.Command { return nil }
func (c *Command) Help() string {
	return `Store every regular file below a directory as a new snapshot.

Files are split into fixed-size chunks; chunks already in the repository
are not stored again. The snapshot appears in 'list' only once every file
is recorded. If any file cannot be read, nothing is recorded.

Options:
  -t, --target-directory=<dir>  Directory to snapshot (or first argument).
  -q, --quiet                   Suppress progress output.

Usage:
  snapvault snapshot --target-directory <dir>

Examples:
  snapvault snapshot -t ~/Documents
  snapvault snapshot ./project
`
}

func (c *Command) Flags(fs *pflag.FlagSet) {
	fs.StringP("target-directory", "t", "", "directory to snapshot")
	fs.BoolP("quiet", "q", false, "suppress progress output")
}

func (c *Command) Run(ctx *command.Context) error {
	dir, err := ctx.StringOrArg("target-directory")
	if err != nil {
		return err
	}
	quiet, _ := ctx.Flags.GetBool("quiet")

	var bar *progress.Tracker
	r, err := ctx.OpenRepo(func(o *engine.Options) {
		if !quiet {
			o.OnFileStored = func(string, int64) { bar.Increment() }
		}
	})
	if err != nil {
		return err
	}
	defer r.Close()

	if !quiet {
		bar = progress.New(ctx.Stdout, 0, "Storing files")
	}
	snap, err := r.Engine.CreateSnapshot(ctx.Ctx, dir)
	if bar != nil {
		bar.Finish()
	}
	if err != nil {
		return err
	}

	fmt.Fprintf(ctx.Stdout, "Created snapshot %d: %d files, %s\n",
		snap.ID, len(snap.Files), humanize.IBytes(uint64(snap.Size())))
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
