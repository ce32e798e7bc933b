package commands

import (
	"os"

	"github.com/spf13/cobra"
	"github.com/zeu5/traffic-signal-rl/logging"
)

var (
	logLevel   string
	logFormat  string
	cpuprofile string
	memprofile string
)

func GetRootCommand() *cobra.Command {
	rootCommand := &cobra.Command{
		Use:           "tsc",
		Short:         "Train and test reinforcement learning traffic signal controllers in SUMO",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return logging.Setup(os.Stderr, logLevel, logFormat)
		},
	}
	rootCommand.PersistentFlags().StringVar(&logLevel, "log-level", "info", "Log level: debug, info, warn or error")
	rootCommand.PersistentFlags().StringVar(&logFormat, "log-format", "text", "Log format: text or json")
	rootCommand.PersistentFlags().StringVar(&cpuprofile, "cpuprofile", "", "Write a CPU profile of the run to this file in the run directory")
	rootCommand.PersistentFlags().StringVar(&memprofile, "memprofile", "", "Write a heap profile at the end of the run to this file in the run directory")
	// adding the subcommands here
	rootCommand.AddCommand(TrainCommand())
	rootCommand.AddCommand(TestCommand())
	rootCommand.AddCommand(RunsCommand())
	rootCommand.AddCommand(RemoteCommand())
	return rootCommand
}
