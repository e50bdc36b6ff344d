package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
)

var (
	apiAddr    string
	apiTimeout time.Duration
	outputJSON bool
)

var rootCmd = &cobra.Command{
	Use:   "alertctl",
	Short: "Operate a running alertgate instance",
	Long: `alertctl talks to the alertgate operator API: trigger rounds, inspect stats and
queue failures, reset strategy cooldowns and record alert outcomes.

Examples:
  alertctl round
  alertctl stats --days 14
  alertctl reset "Liquidation Cascade Risk"
  alertctl outcome 3f2a... --actionable=false`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&apiAddr, "addr", envOr("ALERTGATE_API", "http://127.0.0.1:8080"), "alertgate API base URL")
	rootCmd.PersistentFlags().DurationVar(&apiTimeout, "timeout", 60*time.Second, "request timeout")
	rootCmd.PersistentFlags().BoolVar(&outputJSON, "json", false, "print raw JSON")

	rootCmd.AddCommand(roundCmd(), statsCmd(), resetCmd(), failedCmd(), outcomeCmd(), streamsCmd(), resumeCmd())
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func client() *apiClient { return newAPIClient(apiAddr, apiTimeout) }

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
