package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Version is set at build time via -ldflags "-X main.Version=v1.0.0".
var Version = "dev"

var (
	cfgFile     string
	verbose     bool
	sandboxFlag string
)

var rootCmd = &cobra.Command{
	Use:   "mom <workspace-dir>",
	Short: "mom — a per-channel Slack agent harness",
	Long: "mom connects to a Slack workspace over Socket Mode and, per channel, " +
		"runs a stateful agent capable of shell commands, file edits, and " +
		"multi-turn LLM-driven work against that channel's own log and context.",
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runMom(cmd.Context(), args[0])
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: config.json or $MOM_CONFIG)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	rootCmd.Flags().StringVar(&sandboxFlag, "sandbox", "host", "sandbox backend: host or docker:<container>")

	rootCmd.AddCommand(versionCmd())
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("mom %s\n", Version)
		},
	}
}

func resolveConfigPath() string {
	if cfgFile != "" {
		return cfgFile
	}
	if v := os.Getenv("MOM_CONFIG"); v != "" {
		return v
	}
	return "config.json"
}

// Execute runs the root cobra command. Exit codes follow spec §6: 0 for
// clean SIGINT/SIGTERM shutdown, 1 for missing required environment, 2 for
// an invalid --sandbox target.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		var code int
		switch {
		case isMissingEnvErr(err):
			code = 1
		case isInvalidSandboxErr(err):
			code = 2
		default:
			code = 1
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(code)
	}
}
