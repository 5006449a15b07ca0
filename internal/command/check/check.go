package check

import (
	"fmt"
	"time"

	"github.com/spf13/pflag"

	"github.com/keshon/snapvault/internal/command"
	"github.com/keshon/snapvault/internal/engine"
	"github.com/keshon/snapvault/internal/middleware"
)

type Command struct{}

func (c *Command) Name() string                   { return "check" }
func (c *Command) Short() string                  { return "c" }
func (c *Command) Aliases() []string              { return []string{"verify", "fsck"} }
func (c *Command) Usage() string                  { return "check [--refs]" }
func (c *Command) Brief() string                  { return "Verify stored chunks against their hashes" }
func (c *Command) Subcommands() []command.Command { return nil }
func (c *Command) Help() string {
	return `Re-hash every stored chunk and report those whose content no longer
matches their hash. Nothing is modified.

Options:
      --refs  Also report chunks referenced by snapshots but missing
              from the store.

Exits non-zero when anything is reported.

Usage:
  snapvault check [--refs]
`
}

func (c *Command) Flags(fs *pflag.FlagSet) {
	fs.Bool("refs", false, "also report missing referenced chunks")
}

func (c *Command) Run(ctx *command.Context) error {
	refs, _ := ctx.Flags.GetBool("refs")

	r, err := ctx.OpenRepo(nil)
	if err != nil {
		return err
	}
	defer r.Close()

	start := time.Now()
	report, err := r.Engine.CheckIntegrity(ctx.Ctx, engine.CheckOptions{References: refs})
	if err != nil {
		return err
	}

	for _, m := range report.Corrupted {
		if m.Err != "" {
			fmt.Fprintf(ctx.Stdout, "\033[33mdamaged\033[0m %s  (%s)\n", m.Hash, m.Err)
		} else {
			fmt.Fprintf(ctx.Stdout, "\033[33mdamaged\033[0m %s  (content hashes to %s)\n", m.Hash, m.Actual)
		}
	}
	for _, h := range report.Missing {
		fmt.Fprintf(ctx.Stdout, "\033[31mmissing\033[0m %s\n", h)
	}

	fmt.Fprintf(ctx.Stdout, "Checked %d chunks in %s. Damaged: %d",
		report.Checked, time.Since(start).Truncate(time.Millisecond), report.CorruptCount())
	if refs {
		fmt.Fprintf(ctx.Stdout, "   Missing: %d", len(report.Missing))
	}
	fmt.Fprintln(ctx.Stdout)

	if !report.Healthy() {
		return fmt.Errorf("repository is damaged: %d damaged, %d missing chunks",
			report.CorruptCount(), len(report.Missing))
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
