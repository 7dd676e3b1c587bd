package cmd

import (
	"fmt"
	"os"

	"github.com/killallgit/vibematch-api/pkg/config"
	"github.com/killallgit/vibematch-api/pkg/logging"
	"github.com/spf13/cobra"
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "vibematch-api",
	Short: "VibeMatch API server",
	Long: `VibeMatch API - audio acquisition and music generation backend

Features:
  • YouTube audio fetches through a rotating proxy pool with a
    content-addressed cache
  • Video search via the YouTube Data API
  • Asynchronous prompt-to-music generation with pollable job status`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}

// NewRootCmd creates a new root command (exported for testing)
func NewRootCmd() *cobra.Command {
	return rootCmd
}

func init() {
	cobra.OnInitialize(loadConfig)

	rootCmd.PersistentFlags().String("log-level", "", "log level (debug, info, warn, error); defaults to logging.level")
	rootCmd.PersistentFlags().Bool("json-logs", false, "enable JSON formatted logs")
}

// loadConfig loads the configuration and sets up logging before a command runs
func loadConfig() {
	cmd, _, _ := rootCmd.Find(os.Args[1:])
	if cmd != nil && (cmd.Name() == "version" || cmd.Name() == "help") {
		return
	}

	if err := config.Init(); err != nil {
		fmt.Fprintf(os.Stderr, "Error initializing config: %v\n", err)
		os.Exit(1)
	}

	if err := setupLogging(rootCmd); err != nil {
		fmt.Fprintf(os.Stderr, "Error configuring logging: %v\n", err)
		os.Exit(1)
	}
}

// setupLogging applies the flags, falling back to the logging config section
func setupLogging(cmd *cobra.Command) error {
	flags := cmd.PersistentFlags()

	level, _ := flags.GetString("log-level")
	if level == "" {
		level = config.GetString("logging.level")
	}
	if level == "" {
		level = "info"
	}

	json, _ := flags.GetBool("json-logs")
	if !flags.Changed("json-logs") {
		json = config.GetString("logging.format") == "json"
	}

	return logging.Setup(level, json)
}
