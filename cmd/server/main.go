package main

import (
	"os"

	"github.com/spf13/cobra"
)

var (
	// Global flags
	cfgFile string
	dev     bool
)

var rootCmd = &cobra.Command{
	Use:   "spectator",
	Short: "DeFRaG spectator bot controller",
	Long: `spectator drives a Quake 3 DeFRaG client as an automatic spectator.

It keeps the camera on an active player, moves to another server when the
current one runs dry, recovers from client errors and falls back to standby
when nothing is worth watching.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Config file (default: ./spectator.yaml)")
	rootCmd.PersistentFlags().BoolVar(&dev, "dev", false, "Development profile: long AFK timeout, short standby, debug logs")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
