package main

import (
	"fmt"
	"os"

	"github.com/zeu5/traffic-signal-rl/commands"
)

// main entry point for training and testing runs
func main() {
	rootCommand := commands.GetRootCommand()
	if err := rootCommand.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
