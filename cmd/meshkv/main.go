package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/meshkv/meshkv/pkg/log"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "meshkv",
	Short: "meshkv - replicated content-addressed key-value store",
	Long: `meshkv is a replicated key-value store built on a Merkle-CRDT.
Every local write becomes an immutable DAG node linked to the previous
heads; replicas gossip head CIDs and converge without coordination.`,
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"meshkv version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	// Global flags
	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", false, "Output logs in JSON format")
	rootCmd.PersistentFlags().String("data-dir", defaultDataDir(), "Data directory for the local store")

	cobra.OnInitialize(initLogging)

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(putCmd)
	rootCmd.AddCommand(getCmd)
	rootCmd.AddCommand(delCmd)
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(dagCmd)
}

func initLogging() {
	logLevel, _ := rootCmd.PersistentFlags().GetString("log-level")
	logJSON, _ := rootCmd.PersistentFlags().GetBool("log-json")

	log.Init(logLevel, logJSON, nil)
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "./meshkv-data"
	}
	return home + "/.meshkv"
}
