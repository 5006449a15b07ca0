package restore

import (
	"errors"
	"fmt"

	"github.com/spf13/pflag"

	"github.com/keshon/snapvault/internal/command"
	"github.com/keshon/snapvault/internal/engine"
	"github.com/keshon/snapvault/internal/middleware"
	"github.com/keshon/snapvault/internal/progress"
)

type Command struct{}

func (c *Command) Name() string                   { return "restore" }
func (c *Command) Short() string                  { return "r" }
func (c *Command) Aliases() []string              { return nil }
func (c *Command) Usage() string                  { return "restore --snapshot-number <id> --output-directory <dir>" }
func (c *Command) Brief() string                  { return "Restore a snapshot into a directory" }
func (c *Command) Subcommands() []command.Command { return nil }
func (c *Command) Help() string {
	return `Write every file of a snapshot below an output directory, recreating
subdirectories. Existing files with the same path are replaced.

Every chunk is checked against its hash while reassembling. A missing or
damaged chunk fails only the file that needs it; the other files are
still restored and the failed paths are listed.

Options:
  -s, --snapshot-number=<id>    Snapshot to restore.
  -o, --output-directory=<dir>  Destination directory (created if missing).
      --verify                  Check the whole repository first.
  -q, --quiet                   Suppress progress output.

Usage:
  snapvault restore --snapshot-number <id> --output-directory <dir>

Examples:
  snapvault restore -s 3 -o /tmp/restored
`
}

func (c *Command) Flags(fs *pflag.FlagSet) {
	fs.Int64P("snapshot-number", "s", 0, "snapshot to restore")
	fs.StringP("output-directory", "o", "", "destination directory")
	fs.Bool(middleware.VerifyFlag, false, "check repository integrity first")
	fs.BoolP("quiet", "q", false, "suppress progress output")
}

func (c *Command) Run(ctx *command.Context) error {
	id, err := ctx.SnapshotID("snapshot-number")
	if err != nil {
		return err
	}
	out, _ := ctx.Flags.GetString("output-directory")
	if out == "" {
		return fmt.Errorf("--output-directory is required")
	}
	quiet, _ := ctx.Flags.GetBool("quiet")

	var bar *progress.Tracker
	r, err := ctx.OpenRepo(func(o *engine.Options) {
		if quiet {
			return
		}
		o.OnFileRestored = func(_ string, err error) {
			if err != nil {
				bar.Fail()
				return
			}
			bar.Increment()
		}
	})
	if err != nil {
		return err
	}
	defer r.Close()

	snap, err := r.Engine.GetSnapshot(ctx.Ctx, id)
	if err != nil {
		return fmt.Errorf("snapshot %d: %w", id, err)
	}
	if !quiet {
		bar = progress.New(ctx.Stdout, len(snap.Files), "Restoring files")
	}
	err = r.Engine.RestoreSnapshot(ctx.Ctx, id, out)
	if bar != nil {
		bar.Finish()
	}

	var re *engine.RestoreError
	if errors.As(err, &re) {
		for _, f := range re.Files {
			fmt.Fprintf(ctx.Stderr, "  failed: %s: %v\n", f.Path, f.Err)
		}
		return fmt.Errorf("restored snapshot %d with %d of %d files failed", id, len(re.Files), len(snap.Files))
	}
	if err != nil {
		return err
	}

	fmt.Fprintf(ctx.Stdout, "Restored snapshot %d (%d files) to %q\n", id, len(snap.Files), out)
	return nil
}

func init() {
	command.RegisterCommand(
		command.ApplyMiddlewares(
			&Command{},
			middleware.WithIntegrityCheck(),
			middleware.WithRepoCheck(),
			middleware.WithDebugArgsPrint(),
		),
	)
}
