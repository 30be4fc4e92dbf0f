package main

import (
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/meterline/meterline/scripts/internal"
)

// Command represents a script that can be run
type Command struct {
	Name        string
	Description string
	Run         func() error
}

var commands = []Command{
	{
		Name:        "seed",
		Description: "Create a demo organisation with a project, API key, billing config and global pricing rules",
		Run:         internal.SeedDemoOrganisation,
	},
}

func main() {
	flag.Parse()

	name := flag.Arg(0)
	if name == "" {
		printUsage()
		os.Exit(1)
	}

	for _, cmd := range commands {
		if cmd.Name == name {
			if err := cmd.Run(); err != nil {
				log.Fatalf("script %s failed: %v", name, err)
			}
			return
		}
	}

	fmt.Printf("unknown script: %s\n\n", name)
	printUsage()
	os.Exit(1)
}

func printUsage() {
	fmt.Println("Usage: go run scripts/main.go <script>")
	fmt.Println("\nAvailable scripts:")
	for _, cmd := range commands {
		fmt.Printf("  %-10s %s\n", cmd.Name, cmd.Description)
	}
}
