package command

import (
	"context"
	"io"

	"github.com/spf13/pflag"

	"github.com/keshon/snapvault/internal/config"
	"github.com/keshon/snapvault/internal/engine"
	"github.com/keshon/snapvault/internal/fs"
	"github.com/keshon/snapvault/internal/repo"
)

// Command represents a cli command
type Command interface {
	Name() string
	Short() string
	Aliases() []string
	Usage() string
	Brief() string
	Help() string
	Subcommands() []Command
	Flags(fs *pflag.FlagSet)
	Run(ctx *Context) error
}

// Context represents a cli context
type Context struct {
	Ctx    context.Context
	Args   []string
	Flags  *pflag.FlagSet
	Stdout io.Writer
	Stderr io.Writer
	// FS is nil for the real filesystem.
	FS fs.FS

	// Global flags.
	RepoDir  string
	LogLevel string
}

// RepoPath is the repository directory selected by --repo, the
// environment or the default.
func (c *Context) RepoPath() string {
	return config.ResolveRepoDir(c.RepoDir)
}

// OpenRepo opens the selected repository. hook, if not nil, adjusts the
// engine options before the engine is built.
func (c *Context) OpenRepo(hook func(*engine.Options)) (*repo.Repository, error) {
	return repo.OpenAt(c.Ctx, c.RepoPath(), repo.Options{
		FS:        c.FS,
		LogLevel:  c.LogLevel,
		LogOutput: c.Stderr,
		Engine:    hook,
	})
}

// Base implements the optional parts of Command for commands without
// subcommands or flags.
type Base struct{}

func (Base) Short() string           { return "" }
func (Base) Aliases() []string       { return nil }
func (Base) Subcommands() []Command  { return nil }
func (Base) Flags(fs *pflag.FlagSet) {}
