package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/oberien/opal-uefi-greeter/internal/bootcfg"
	"github.com/oberien/opal-uefi-greeter/internal/logger"
)

// issue is one dangling reference or structural problem found in a Config.
type issue struct {
	context string // e.g. "boot entry \"linux\""
	detail  string // e.g. "partition \"esp\" is not declared"
}

func (i issue) String() string {
	return fmt.Sprintf("%s: %s", i.context, i.detail)
}

func runConfigtest(cmd *cobra.Command, args []string) error {
	log := logger.Logger()
	path := args[0]

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}
	cfg, err := bootcfg.Load(data)
	if err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}

	issues := validateConfig(cfg)
	out := cmd.OutOrStdout()
	if len(issues) == 0 {
		log.Infof("%s: %d partitions, %d keyslots, %d boot entries, no dangling references", path,
			len(cfg.Partitions), len(cfg.Keyslots), len(cfg.BootEntries))
		return nil
	}

	for _, iss := range issues {
		fmt.Fprintln(out, iss.String())
	}
	return fmt.Errorf("configtest: %d problem(s) found in %s", len(issues), path)
}

// validateConfig walks every reference a Config declares and reports every
// one that does not resolve to something else the same Config declares.
// It never touches a block device: anything it cannot determine from the
// file alone (whether a uuid actually matches a real drive, for instance)
// is out of scope.
func validateConfig(cfg *bootcfg.Config) []issue {
	var issues []issue

	for name, p := range cfg.Partitions {
		if p.Parent != "" {
			if _, ok := cfg.Partitions[p.Parent]; !ok {
				issues = append(issues, issue{
					context: fmt.Sprintf("partition %q", name),
					detail:  fmt.Sprintf("parent %q is not declared", p.Parent),
				})
			}
		}
		if p.Keyslot != "" {
			if _, ok := cfg.Keyslots[p.Keyslot]; !ok {
				issues = append(issues, issue{
					context: fmt.Sprintf("partition %q", name),
					detail:  fmt.Sprintf("keyslot %q is not declared", p.Keyslot),
				})
			}
		}
		if cycle := partitionCycle(cfg, name); cycle != "" {
			issues = append(issues, issue{
				context: fmt.Sprintf("partition %q", name),
				detail:  fmt.Sprintf("parent chain cycles back through %q", cycle),
			})
		}
	}

	for name, ks := range cfg.Keyslots {
		if ks.Source.File != nil {
			issues = append(issues, checkFileRef(fmt.Sprintf("keyslot %q", name), cfg, *ks.Source.File)...)
		}
	}

	for _, entry := range cfg.BootEntries {
		ctx := fmt.Sprintf("boot entry %q", entry.Name)
		issues = append(issues, checkFileRef(ctx, cfg, entry.FileRef())...)

		if entry.Initrd != nil {
			if entry.Initrd.Single != nil {
				issues = append(issues, checkFileRef(ctx+" initrd", cfg, *entry.Initrd.Single)...)
			}
			for i, ref := range entry.Initrd.Multiple {
				issues = append(issues, checkFileRef(fmt.Sprintf("%s initrd[%d]", ctx, i), cfg, ref)...)
			}
		}

		for i, extra := range entry.AdditionalInitrdFiles {
			issues = append(issues, checkFileRef(fmt.Sprintf("%s additional_initrd_files[%d]", ctx, i), cfg,
				bootcfg.FileRef{Partition: extra.Partition, File: extra.File})...)
		}
	}

	return issues
}

// checkFileRef reports a dangling partition name in ref.Partition or any of
// ref.ExtraPartitions, and a missing File/Partition entirely.
func checkFileRef(ctx string, cfg *bootcfg.Config, ref bootcfg.FileRef) []issue {
	var issues []issue
	if ref.Partition == "" {
		issues = append(issues, issue{context: ctx, detail: "missing partition"})
	} else if _, ok := cfg.Partitions[ref.Partition]; !ok {
		issues = append(issues, issue{context: ctx, detail: fmt.Sprintf("partition %q is not declared", ref.Partition)})
	}
	if ref.File == "" {
		issues = append(issues, issue{context: ctx, detail: "missing file"})
	}
	for _, extra := range ref.ExtraPartitions {
		if _, ok := cfg.Partitions[extra]; !ok {
			issues = append(issues, issue{context: ctx, detail: fmt.Sprintf("extra_partitions entry %q is not declared", extra)})
		}
	}
	return issues
}

// partitionCycle walks name's parent chain and returns the first name
// revisited, or "" if the chain terminates cleanly (including terminating
// early at an undeclared parent, already reported separately).
func partitionCycle(cfg *bootcfg.Config, name string) string {
	seen := map[string]bool{}
	cur := name
	for cur != "" {
		if seen[cur] {
			return cur
		}
		seen[cur] = true
		p, ok := cfg.Partitions[cur]
		if !ok {
			return ""
		}
		cur = p.Parent
	}
	return ""
}
