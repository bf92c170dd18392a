// kiosk is the on-device agent of a fleet display.
//
// It pairs the display with fleetd, keeps the realtime link up, caches
// content and executes remote commands. The renderer talks to it through
// the kiosk.App bridge; run without one it logs host hooks instead.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Version information, set at build time via ldflags.
var version = "dev"

const defaultConfigPath = "configs/kiosk.yaml"

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:           "kiosk",
		Short:         "Fleet display agent",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", resolveConfigPath(), "agent config file")

	root.AddCommand(runCmd(&configPath))
	root.AddCommand(pairCmd(&configPath))
	root.AddCommand(cacheCmd(&configPath))
	root.AddCommand(identityCmd(&configPath))

	return root
}

// resolveConfigPath returns KIOSK_CONFIG if set, otherwise the default path.
func resolveConfigPath() string {
	if p := os.Getenv("KIOSK_CONFIG"); p != "" {
		return p
	}
	return defaultConfigPath
}
