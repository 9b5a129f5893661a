// Command configtest offline-validates a config.toml without touching any
// block device or UEFI service, grounded on original_source/configtest's
// role as the pre-nested-container dev exerciser: where that binary poked
// at a live /dev/nvme0n1 by hand, this one only walks the declarative graph
// config.toml describes and reports every dangling reference before it
// would otherwise surface as a confusing resolver failure at boot time.
package main

import (
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "configtest [flags] CONFIG_FILE",
	Short: "validate a config.toml without any UEFI or block device dependency",
	Long: `configtest parses a config.toml the same way the loader does and checks
that every partition, keyslot, and file reference it declares actually
resolves to something else declared in the file: parent pointers, keyslot
names, extra_partitions, boot entry images, initrd entries, and
additional_initrd_files all get checked for dangling names and cycles.`,
	Args: cobra.ExactArgs(1),
	RunE: runConfigtest,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
