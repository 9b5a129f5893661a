package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/oberien/opal-uefi-greeter/internal/bootcfg"
	"github.com/oberien/opal-uefi-greeter/internal/container"
	"github.com/oberien/opal-uefi-greeter/internal/logger"
	"github.com/oberien/opal-uefi-greeter/internal/resolver"
)

var (
	inspectFormat string
	prettyJSON    bool
	guessESP      bool
)

func createInspectChainCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "inspect-chain PARTITION",
		Short: "report the declared partition chain for PARTITION, outermost first",
		Long: `inspect-chain walks Partition.parent pointers from PARTITION up to the
partition declared directly on the raw device, and prints the chain
outermost-first: the same order internal/resolver builds before probing any
block device.

With --guess-esp, it instead ignores PARTITION and config.toml's
partitions entirely, scanning each --image's GPT directly for EFI System
Partitions the way the predecessor's undeclared-chain find_boot_partition
did, reporting an ambiguity error if more than one is found.`,
		Args: cobra.MaximumNArgs(1),
		PreRunE: func(cmd *cobra.Command, args []string) error {
			switch inspectFormat {
			case "text", "json", "yaml":
			default:
				return fmt.Errorf("unsupported --format %q (supported: text, json, yaml)", inspectFormat)
			}
			if !guessESP && len(args) != 1 {
				return fmt.Errorf("inspect-chain requires a PARTITION argument unless --guess-esp is set")
			}
			return nil
		},
		RunE: executeInspectChain,
	}
	cmd.Flags().StringVar(&inspectFormat, "format", "text", "output format: text, json, or yaml")
	cmd.Flags().BoolVar(&prettyJSON, "pretty", false, "pretty-print JSON output")
	cmd.Flags().BoolVar(&guessESP, "guess-esp", false, "scan each --image's GPT for EFI System Partitions instead")
	return cmd
}

func executeInspectChain(cmd *cobra.Command, args []string) error {
	if guessESP {
		return runGuessESP(cmd)
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	chain, err := resolver.BuildChain(cfg, args[0])
	if err != nil {
		return fmt.Errorf("inspect-chain: %w", err)
	}
	return writeChainResult(cmd, toChainResult(args[0], chain), inspectFormat, prettyJSON)
}

// chainEntry is one partition in a reported chain.
type chainEntry struct {
	Name    string `json:"name" yaml:"name"`
	Parent  string `json:"parent,omitempty" yaml:"parent,omitempty"`
	UUID    string `json:"uuid,omitempty" yaml:"uuid,omitempty"`
	Keyslot string `json:"keyslot,omitempty" yaml:"keyslot,omitempty"`
}

type chainResult struct {
	Partition string       `json:"partition" yaml:"partition"`
	Chain     []chainEntry `json:"chain" yaml:"chain"`
}

func toChainResult(name string, chain []bootcfg.Partition) chainResult {
	r := chainResult{Partition: name}
	for _, p := range chain {
		r.Chain = append(r.Chain, chainEntry{Name: p.Name, Parent: p.Parent, UUID: p.UUID, Keyslot: p.Keyslot})
	}
	return r
}

func writeChainResult(cmd *cobra.Command, result chainResult, format string, pretty bool) error {
	out := cmd.OutOrStdout()
	switch format {
	case "text":
		printChainText(out, result)
		return nil
	case "json":
		var (
			b   []byte
			err error
		)
		if pretty {
			b, err = json.MarshalIndent(result, "", "  ")
		} else {
			b, err = json.Marshal(result)
		}
		if err != nil {
			return fmt.Errorf("marshal json: %w", err)
		}
		fmt.Fprintln(out, string(b))
		return nil
	case "yaml":
		b, err := yaml.Marshal(result)
		if err != nil {
			return fmt.Errorf("marshal yaml: %w", err)
		}
		fmt.Fprintln(out, string(b))
		return nil
	default:
		return fmt.Errorf("unsupported output format: %s", format)
	}
}

func printChainText(out io.Writer, result chainResult) {
	fmt.Fprintf(out, "%s (outermost first):\n", result.Partition)
	for i, e := range result.Chain {
		line := fmt.Sprintf("  [%d] %s", i, e.Name)
		if e.UUID != "" {
			line += fmt.Sprintf(" uuid=%s", e.UUID)
		}
		if e.Keyslot != "" {
			line += fmt.Sprintf(" keyslot=%s", e.Keyslot)
		}
		fmt.Fprintln(out, line)
	}
}

// runGuessESP reproduces the predecessor's undeclared-chain
// find_boot_partition scan, for first-time config authoring: open each
// --image, read its GPT directly, and report every EFI-System-typed entry.
func runGuessESP(cmd *cobra.Command) error {
	if len(imagePaths) == 0 {
		return fmt.Errorf("--guess-esp requires at least one --image")
	}
	log := logger.Logger()
	out := cmd.OutOrStdout()

	for _, path := range imagePaths {
		f, err := os.Open(path)
		if err != nil {
			return fmt.Errorf("open %s: %w", path, err)
		}
		infos, err := container.ListGPTPartitions(f)
		f.Close()
		if err != nil {
			log.Warnf("%s: %v", path, err)
			continue
		}

		var esp []container.GPTPartitionInfo
		for _, info := range infos {
			if strings.EqualFold(info.TypeGUID, container.EFISystemPartitionGUID) {
				esp = append(esp, info)
			}
		}

		switch len(esp) {
		case 0:
			log.Infof("%s: no EFI System Partition found", path)
		case 1:
			log.Infof("%s: EFI System Partition at LBA %d-%d (uuid %s)", path, esp[0].FirstLBA, esp[0].LastLBA, esp[0].UniqueGUID)
		default:
			fmt.Fprintf(out, "%s: multiple EFI System Partitions found (ambiguous without a declared chain):\n", path)
			for _, e := range esp {
				fmt.Fprintf(out, "  uuid %s at LBA %d-%d\n", e.UniqueGUID, e.FirstLBA, e.LastLBA)
			}
			return fmt.Errorf("inspect-chain: %s has multiple boot partitions", path)
		}
	}
	return nil
}
