package cmd

import (
	"context"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/killallgit/vibematch-api/internal/models"
	"github.com/killallgit/vibematch-api/pkg/config"
	"github.com/spf13/cobra"
)

// proxiesCmd groups proxy pool maintenance commands
var proxiesCmd = &cobra.Command{
	Use:   "proxies",
	Short: "Inspect the proxy pool",
}

// proxiesCheckCmd probes every configured proxy
var proxiesCheckCmd = &cobra.Command{
	Use:   "check",
	Short: "Probe every configured proxy",
	Long: `Send the configured probe request through each proxy endpoint and
print its health. Exits non-zero when no proxy is healthy.`,
	RunE: runProxiesCheck,
}

func init() {
	rootCmd.AddCommand(proxiesCmd)
	proxiesCmd.AddCommand(proxiesCheckCmd)
	proxiesCheckCmd.Flags().Duration("timeout", 30*time.Second, "overall deadline for the check")
}

func runProxiesCheck(cmd *cobra.Command, args []string) error {
	cfg, err := config.GetConfig()
	if err != nil {
		return err
	}

	pool := newProxyPool(cfg)
	if pool.Len() == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No proxy endpoints configured; fetches go direct")
		return nil
	}

	timeout, _ := cmd.Flags().GetDuration("timeout")
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	healthy := pool.TestAll(ctx)
	printProxyStats(cmd, pool.Stats())

	if healthy == 0 {
		return fmt.Errorf("none of %d proxies are healthy", pool.Len())
	}
	return nil
}

func printProxyStats(cmd *cobra.Command, stats []models.ProxyEndpoint) {
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "PROXY\tSTATUS\tLAST TESTED")
	for _, ep := range stats {
		tested := "-"
		if !ep.LastTestedAt.IsZero() {
			tested = ep.LastTestedAt.Format(time.RFC3339)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\n", ep.Redacted(), ep.HealthStatus, tested)
	}
	_ = w.Flush()
}
