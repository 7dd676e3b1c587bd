package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/charmbracelet/log"
	"github.com/killallgit/vibematch-api/pkg/config"
	"github.com/spf13/cobra"
)

var fetchOutput string

// fetchCmd acquires one video's audio without starting the server
var fetchCmd = &cobra.Command{
	Use:   "fetch <video-id>",
	Short: "Fetch the audio of one video",
	Long: `Run the cache lookup and fetch strategy chain for a single video id
and write the audio to a file. The artifact is also published to the cache.

Example:
  vibematch-api fetch dQw4w9WgXcQ
  vibematch-api fetch dQw4w9WgXcQ -o song.m4a`,
	Args: cobra.ExactArgs(1),
	RunE: runFetch,
}

func init() {
	rootCmd.AddCommand(fetchCmd)
	fetchCmd.Flags().StringVarP(&fetchOutput, "output", "o", "", "output file (default <video-id>.<ext>)")
}

func runFetch(cmd *cobra.Command, args []string) error {
	cfg, err := config.GetConfig()
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	app, err := newApplication(ctx, cfg)
	if err != nil {
		return err
	}
	defer app.Close()

	res, err := app.media.Fetch(ctx, args[0])
	if err != nil {
		return err
	}

	out := fetchOutput
	if out == "" {
		out = args[0] + "." + res.Extension
	}
	if dir := filepath.Dir(out); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("creating output dir: %w", err)
		}
	}
	if err := os.WriteFile(out, res.Data, 0644); err != nil {
		return fmt.Errorf("writing %s: %w", out, err)
	}

	log.Info("Fetched audio", "video_id", args[0], "cache_hit", res.CacheHit, "attempts", res.Attempts)
	fmt.Fprintf(cmd.OutOrStdout(), "%s (%s, %d bytes)\n", out, res.MimeType, len(res.Data))
	return nil
}
