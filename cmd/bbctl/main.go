// Package main implements the bbctl CLI for manual operations against the
// bugbindd HTTP server.
package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"
)

var (
	// serverURL is the base URL for the bugbindd HTTP server
	serverURL string
	// webhookSecret authenticates against the webhook endpoints
	webhookSecret string
	// version information
	version = "dev"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "bbctl",
	Short: "CLI for bugbindd HTTP server operations",
	Long: `bbctl is a command-line interface for interacting with the bugbindd HTTP server.
It provides commands for matching bugs to test cases, resolving bugs, recording
corrections, and inspecting learning statistics.`,
	Version: version,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "http://localhost:9090", "bugbindd server URL")
	rootCmd.PersistentFlags().StringVar(&webhookSecret, "secret", os.Getenv("BUGBIND_WEBHOOK_SECRET"), "webhook secret (defaults to BUGBIND_WEBHOOK_SECRET)")
	rootCmd.AddCommand(matchCmd)
	rootCmd.AddCommand(resolveCmd)
	rootCmd.AddCommand(correctCmd)
	rootCmd.AddCommand(statsCmd)
	rootCmd.AddCommand(healthCmd)
}

// healthCmd checks server health
var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Check bugbindd server health",
	Long: `Check the health status of the bugbindd HTTP server.

Examples:
  # Check health
  bbctl health

  # Check health on a different server
  bbctl health --server http://localhost:8080`,
	RunE: runHealth,
}

// statsCmd shows learning statistics
var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show learning statistics",
	Long: `Show how many matches and corrections have been recorded and the
resulting correction rate.

Examples:
  bbctl stats`,
	RunE: runStats,
}

// HealthResponse matches internal/httpapi/server.go HealthResponse
type HealthResponse struct {
	Status string `json:"status"`
}

// StatsResponse matches internal/corrections Statistics
type StatsResponse struct {
	TotalMatches     int     `json:"total_matches"`
	TotalCorrections int     `json:"total_corrections"`
	CorrectionRate   float64 `json:"correction_rate"`
}

// doGet issues a GET against the server and decodes the JSON response.
func doGet(path string, out any) error {
	url := serverURL + path

	client := &http.Client{
		Timeout: 10 * time.Second,
	}

	resp, err := client.Get(url)
	if err != nil {
		return fmt.Errorf("failed to connect to %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, readErr := io.ReadAll(resp.Body)
		if readErr != nil {
			return fmt.Errorf("server returned status %d (failed to read response body: %w)", resp.StatusCode, readErr)
		}
		return fmt.Errorf("server returned status %d: %s", resp.StatusCode, string(body))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// runHealth handles the health command
func runHealth(cmd *cobra.Command, args []string) error {
	var healthResp HealthResponse
	if err := doGet("/health", &healthResp); err != nil {
		return err
	}

	fmt.Printf("Server Status: %s\n", healthResp.Status)
	fmt.Printf("Server URL: %s\n", serverURL)

	return nil
}

// runStats handles the stats command
func runStats(cmd *cobra.Command, args []string) error {
	var stats StatsResponse
	if err := doGet("/api/v1/stats", &stats); err != nil {
		return err
	}

	fmt.Printf("Total Matches:     %d\n", stats.TotalMatches)
	fmt.Printf("Total Corrections: %d\n", stats.TotalCorrections)
	fmt.Printf("Correction Rate:   %.1f%%\n", stats.CorrectionRate*100)

	return nil
}
