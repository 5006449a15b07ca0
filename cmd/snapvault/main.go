package main

import (
	"os"

	"github.com/keshon/snapvault/internal/command"

	_ "github.com/keshon/snapvault/internal/command/check"
	_ "github.com/keshon/snapvault/internal/command/gc"
	_ "github.com/keshon/snapvault/internal/command/help"
	_ "github.com/keshon/snapvault/internal/command/init"
	_ "github.com/keshon/snapvault/internal/command/list"
	_ "github.com/keshon/snapvault/internal/command/prune"
	_ "github.com/keshon/snapvault/internal/command/restore"
	_ "github.com/keshon/snapvault/internal/command/show"
	_ "github.com/keshon/snapvault/internal/command/snapshot"
)

func main() {
	command.RunCLI(os.Args[1:])
}
