package main

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"text/template"

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
	tplBytes, err := os.ReadFile("README.md.tmpl")
	if err != nil {
		fmt.Printf("Failed to read template: %v\n", err)
		os.Exit(1)
	}

	tpl, err := template.New("readme").Parse(string(tplBytes))
	if err != nil {
		fmt.Printf("Failed to parse template: %v\n", err)
		os.Exit(1)
	}

	commands := command.AllCommands()

	sort.Slice(commands, func(i, j int) bool {
		return commands[i].Name() < commands[j].Name()
	})

	var sections strings.Builder
	for _, cmd := range commands {
		fmt.Fprintf(&sections,
			"### %s\n```\n%s\n\n%s\n```\n\n",
			cmd.Name(),
			cmd.Usage(),
			strings.TrimRight(cmd.Help(), "\n"),
		)
	}

	data := map[string]string{
		"CommandSections": sections.String(),
	}

	outFile, err := os.Create("README.md")
	if err != nil {
		fmt.Printf("Failed to create README.md: %v\n", err)
		os.Exit(1)
	}
	defer outFile.Close()

	if err := tpl.Execute(outFile, data); err != nil {
		fmt.Printf("Failed to render template: %v\n", err)
		os.Exit(1)
	}

	fmt.Println("README.md generated successfully")
}
