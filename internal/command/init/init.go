package init

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/pflag"

	"github.com/keshon/snapvault/internal/command"
	"github.com/keshon/snapvault/internal/config"
	"github.com/keshon/snapvault/internal/middleware"
	"github.com/keshon/snapvault/internal/repo"
)

type Command struct{}

func (c *Command) Name() string                   { return "init" }
func (c *Command) Short() string                  { return "i" }
func (c *Command) Aliases() []string              { return []string{"initialize"} }
func (c *Command) Usage() string                  { return "init [options]" }
func (c *Command) Brief() string                  { return "Initialize a new repository" }
func (c *Command) Subcommands() []command.Command { return nil }
func (c *Command) Help() string {
	return `Initialize a new repository (default ./.snapvault, or --repo, or $SNAPVAULT_REPO).

Options:
  -q, --quiet               Suppress normal output.
      --backend=<name>      Storage backend: sqlite, badger or fs (default sqlite).
      --hash=<algo>         Chunk hash: sha256, blake3 or xxh3 (default sha256).
      --chunk-size=<bytes>  Fixed chunk size (default 4096).
      --compression=<mode>  Chunk compression: none, zstd or lz4 (default none).
      --workers=<n>         Files processed in parallel, 0 for one per CPU.
      --exclude=<pattern>   Skip matching paths in snapshots. Repeatable.

Backend and hash cannot be changed later. Chunk size, compression,
workers and excludes can be edited in config.yaml.

Usage:
  snapvault init [options]

Examples:
  snapvault init
  snapvault init --backend=badger --compression=zstd
  snapvault init --repo /backups/photos --hash=blake3 --exclude '*.tmp'
`
}

func (c *Command) Flags(fs *pflag.FlagSet) {
	def := config.Default()
	fs.BoolP("quiet", "q", false, "suppress normal output")
	fs.String("backend", def.Backend, "storage backend")
	fs.String("hash", def.Hash, "chunk hash algorithm")
	fs.Int("chunk-size", def.ChunkSize, "chunk size in bytes")
	fs.String("compression", def.Compression, "chunk compression")
	fs.Int("workers", def.Workers, "parallel workers")
	fs.StringArray("exclude", nil, "exclude pattern")
}

func (c *Command) Run(ctx *command.Context) error {
	cfg := config.Default()
	quiet, _ := ctx.Flags.GetBool("quiet")
	cfg.Backend, _ = ctx.Flags.GetString("backend")
	cfg.Hash, _ = ctx.Flags.GetString("hash")
	cfg.ChunkSize, _ = ctx.Flags.GetInt("chunk-size")
	cfg.Compression, _ = ctx.Flags.GetString("compression")
	cfg.Workers, _ = ctx.Flags.GetInt("workers")
	cfg.Exclude, _ = ctx.Flags.GetStringArray("exclude")

	r, created, err := repo.InitAt(ctx.Ctx, ctx.RepoPath(), cfg, repo.Options{
		FS:        ctx.FS,
		LogLevel:  ctx.LogLevel,
		LogOutput: ctx.Stderr,
	})
	if err != nil && !errors.Is(err, os.ErrExist) {
		return err
	}
	defer r.Close()

	if !quiet {
		if created {
			fmt.Fprintf(ctx.Stdout, "Initialized empty %s repository in %q\n", r.Config.Backend, r.Root)
		} else {
			fmt.Fprintf(ctx.Stdout, "Reinitialized existing repository in %q\n", r.Root)
		}
	}
	return nil
}

func init() {
	command.RegisterCommand(
		command.ApplyMiddlewares(
			&Command{},
			middleware.WithDebugArgsPrint(),
		),
	)
}
