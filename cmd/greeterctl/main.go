// Command greeterctl is the local development harness: it drives
// internal/resolver and internal/bulkunlock against a
// raw disk-image file or /dev block device through
// internal/platform/linuxhost, standing in for the real UEFI firmware so
// the resolution/unlock logic can be exercised and debugged off-target.
package main

import (
	"os"

	"github.com/spf13/cobra"
)

var (
	configPath string
	imagePaths []string
)

var rootCmd = &cobra.Command{
	Use:   "greeterctl",
	Short: "local development harness for the boot-chain resolver",
	Long: `greeterctl resolves boot-chain files, inspects declared partition chains,
and drives the bulk Opal-unlock pathway against a raw disk image or block
device file, using the same resolution and unlock code the firmware loader
runs, over a host-process stand-in for the UEFI platform.`,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "config.toml", "path to config.toml")
	rootCmd.PersistentFlags().StringArrayVar(&imagePaths, "image", nil, "raw disk image or block device path (repeatable)")

	rootCmd.AddCommand(createResolveCommand())
	rootCmd.AddCommand(createInspectChainCommand())
	rootCmd.AddCommand(createBulkUnlockCommand())
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
