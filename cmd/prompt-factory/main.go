package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	configPath string
	rootCmd    = &cobra.Command{
		Use:   "prompt-factory",
		Short: "Prompt Factory - LLM prompt suite generator",
		Long: `Prompt Factory turns a one-line system description into a suite of
reviewed role prompts. An analyzer designs the roles, each role is
generated, reviewed and optimized until it passes, a tester checks the
suite and everything is written to disk.`,
		SilenceUsage: true,
	}
)

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file path")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
