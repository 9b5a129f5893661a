// Package bootcfg defines the declarative data model the resolver walks
// (partitions, keyslots, boot entries) and loads it from the TOML
// config.toml stored alongside the loader binary.
package bootcfg

import (
	"fmt"

	"github.com/pelletier/go-toml/v2"

	"github.com/oberien/opal-uefi-greeter/internal/errs"
)

// FileRef names one file inside one declared partition, optionally priming
// sibling partitions that share a keyslot before the main lookup (C6's
// opportunistic extra_partitions pass).
type FileRef struct {
	Partition       string   `toml:"partition"`
	File            string   `toml:"file"`
	ExtraPartitions []string `toml:"extra_partitions"`
}

// KeyslotSource discriminates Stdin (interactive prompt) from File (read
// key material out of a resolved file, itself possibly behind encryption).
type KeyslotSource struct {
	Stdin bool
	File  *FileRef
}

// Keyslot is a named source of key material, referenced by name from
// Partition.Keyslot.
type Keyslot struct {
	Name   string
	Source KeyslotSource
}

// Partition is one declarative node in a resolver chain: parent pointers
// link it to its enclosing container, and UUID is matched against whatever
// identifier the container kind at that depth reports.
type Partition struct {
	Name    string `toml:"name"`
	Parent  string `toml:"parent"`
	UUID    string `toml:"uuid"`
	Keyslot string `toml:"keyslot"`
}

// InitrdSpec is either a single FileRef or a list of them (BootEntry.initrd
// may name a list of initramfs archives to concatenate).
type InitrdSpec struct {
	Single   *FileRef
	Multiple []FileRef
}

// AdditionalInitrdFile appends one extra file into the assembled initramfs
// under a target path distinct from its source location.
type AdditionalInitrdFile struct {
	Source     FileRef `toml:"-"`
	Partition  string  `toml:"partition"`
	File       string  `toml:"file"`
	TargetFile string  `toml:"target_file"`
}

// BootEntry is one menu entry: a kernel image, an optional initramfs, and
// the kernel command-line options to pass through LoadedImage.
type BootEntry struct {
	Name                   string                 `toml:"name"`
	Partition              string                 `toml:"partition"`
	File                   string                 `toml:"file"`
	ExtraPartitions        []string               `toml:"extra_partitions"`
	Initrd                 *InitrdSpec            `toml:"-"`
	AdditionalInitrdFiles  []AdditionalInitrdFile `toml:"additional_initrd_files"`
	Options                string                 `toml:"options"`
	Default                bool                   `toml:"default"`
}

// FileRef is the boot entry's own kernel image location.
func (e BootEntry) FileRef() FileRef {
	return FileRef{Partition: e.Partition, File: e.File, ExtraPartitions: e.ExtraPartitions}
}

// Default console target dimensions and prompt text, matching
// original_source/src/main.rs's config_stdout (200x64) and run()'s
// fallback prompt/retry_prompt strings.
const (
	DefaultPrompt      = "password: "
	DefaultRetryPrompt = "bad password, retry: "
	DefaultConsoleCols = 200
	DefaultConsoleRows = 64

	// WatchdogDisableMagic is the magic code main.rs passes to
	// set_watchdog_timer(0, 0x31337, None) before any interactive prompt.
	WatchdogDisableMagic uint64 = 0x31337
)

// Config is the fully-parsed, name-indexed configuration the resolver and
// the dev-harness CLIs consume.
type Config struct {
	LogLevel       string
	Keyslots       map[string]Keyslot
	Partitions     map[string]Partition
	BootEntries    []BootEntry // order preserved for menu display
	BootEntryIndex map[string]int

	// Prompt/RetryPrompt/ClearOnRetry and ConsoleCols/Rows are carried over
	// from the richer original_source/src/main.rs. ClearOnRetry is honored
	// by the Opal password retry loops (C6/C7) and ConsoleCols/Rows by
	// bootrun's console setup. Prompt/RetryPrompt are parsed but not used
	// by any prompt: every password prompt, Opal or LUKS, comes from
	// internal/keyslot with its name-qualified "Password for keyslot
	// <name>: " label.
	Prompt       string
	RetryPrompt  string
	ClearOnRetry bool
	ConsoleCols  int
	ConsoleRows  int
}

// PromptOrDefault/RetryPromptOrDefault/ConsoleTargetOrDefault apply
// main.rs's unwrap_or fallbacks for fields a config.toml may omit.
func (c *Config) PromptOrDefault() string {
	if c.Prompt == "" {
		return DefaultPrompt
	}
	return c.Prompt
}

func (c *Config) RetryPromptOrDefault() string {
	if c.RetryPrompt == "" {
		return DefaultRetryPrompt
	}
	return c.RetryPrompt
}

func (c *Config) ConsoleTargetOrDefault() (cols, rows int) {
	cols, rows = c.ConsoleCols, c.ConsoleRows
	if cols == 0 {
		cols = DefaultConsoleCols
	}
	if rows == 0 {
		rows = DefaultConsoleRows
	}
	return cols, rows
}

// Load parses TOML bytes into a Config, reindexing duplicate keyslot/
// partition names (last one wins) while preserving boot_entries order.
func Load(data []byte) (*Config, error) {
	// keyslots need custom decoding since TOML doesn't have a tagged-union
	// type: "source" is either the bare string "stdin" or an inline table
	// {partition, file, extra_partitions?}. Decode loosely via map[string]any
	// and re-derive structured fields.
	var loose struct {
		LogLevel     string           `toml:"log_level"`
		Keyslots     []map[string]any `toml:"keyslots"`
		Partitions   []Partition      `toml:"partitions"`
		BootEntries  []map[string]any `toml:"boot_entries"`
		Prompt       string           `toml:"prompt"`
		RetryPrompt  string           `toml:"retry_prompt"`
		ClearOnRetry bool             `toml:"clear_on_retry"`
		ConsoleCols  int              `toml:"console_cols"`
		ConsoleRows  int              `toml:"console_rows"`
	}
	if err := toml.Unmarshal(data, &loose); err != nil {
		return nil, fmt.Errorf("parse config.toml: %w", err)
	}

	cfg := &Config{
		LogLevel:       loose.LogLevel,
		Keyslots:       make(map[string]Keyslot, len(loose.Keyslots)),
		Partitions:     make(map[string]Partition, len(loose.Partitions)),
		BootEntryIndex: make(map[string]int, len(loose.BootEntries)),
		Prompt:         loose.Prompt,
		RetryPrompt:    loose.RetryPrompt,
		ClearOnRetry:   loose.ClearOnRetry,
		ConsoleCols:    loose.ConsoleCols,
		ConsoleRows:    loose.ConsoleRows,
	}

	for _, p := range loose.Partitions {
		cfg.Partitions[p.Name] = p
	}

	for _, raw := range loose.Keyslots {
		name, _ := raw["name"].(string)
		ks, err := decodeKeyslot(name, raw["source"])
		if err != nil {
			return nil, err
		}
		cfg.Keyslots[name] = ks
	}

	for _, raw := range loose.BootEntries {
		entry, err := decodeBootEntry(raw)
		if err != nil {
			return nil, err
		}
		if idx, ok := cfg.BootEntryIndex[entry.Name]; ok {
			cfg.BootEntries[idx] = entry
			continue
		}
		cfg.BootEntryIndex[entry.Name] = len(cfg.BootEntries)
		cfg.BootEntries = append(cfg.BootEntries, entry)
	}

	return cfg, nil
}

func decodeKeyslot(name string, source any) (Keyslot, error) {
	switch v := source.(type) {
	case string:
		if v != "stdin" {
			return Keyslot{}, fmt.Errorf("keyslot %q: unknown source %q: %w", name, v, errs.ErrUnsupported)
		}
		return Keyslot{Name: name, Source: KeyslotSource{Stdin: true}}, nil
	case map[string]any:
		ref, err := decodeFileRef(v)
		if err != nil {
			return Keyslot{}, fmt.Errorf("keyslot %q: %w", name, err)
		}
		return Keyslot{Name: name, Source: KeyslotSource{File: &ref}}, nil
	default:
		return Keyslot{}, fmt.Errorf("keyslot %q: source must be \"stdin\" or a table: %w", name, errs.ErrUnsupported)
	}
}

func decodeFileRef(m map[string]any) (FileRef, error) {
	partition, _ := m["partition"].(string)
	file, _ := m["file"].(string)
	if partition == "" || file == "" {
		return FileRef{}, fmt.Errorf("file reference requires partition and file")
	}
	ref := FileRef{Partition: partition, File: file}
	if extras, ok := m["extra_partitions"].([]any); ok {
		for _, e := range extras {
			if s, ok := e.(string); ok {
				ref.ExtraPartitions = append(ref.ExtraPartitions, s)
			}
		}
	}
	return ref, nil
}

func decodeBootEntry(m map[string]any) (BootEntry, error) {
	entry := BootEntry{
		Name:      stringField(m, "name"),
		Partition: stringField(m, "partition"),
		File:      stringField(m, "file"),
		Options:   stringField(m, "options"),
	}
	if b, ok := m["default"].(bool); ok {
		entry.Default = b
	}
	if extras, ok := m["extra_partitions"].([]any); ok {
		for _, e := range extras {
			if s, ok := e.(string); ok {
				entry.ExtraPartitions = append(entry.ExtraPartitions, s)
			}
		}
	}
	if initrd, ok := m["initrd"]; ok {
		spec, err := decodeInitrd(initrd)
		if err != nil {
			return BootEntry{}, fmt.Errorf("boot entry %q: initrd: %w", entry.Name, err)
		}
		entry.Initrd = spec
	}
	if additional, ok := m["additional_initrd_files"].([]any); ok {
		for _, a := range additional {
			am, ok := a.(map[string]any)
			if !ok {
				continue
			}
			ref, err := decodeFileRef(am)
			if err != nil {
				return BootEntry{}, fmt.Errorf("boot entry %q: additional_initrd_files: %w", entry.Name, err)
			}
			entry.AdditionalInitrdFiles = append(entry.AdditionalInitrdFiles, AdditionalInitrdFile{
				Source:     ref,
				Partition:  ref.Partition,
				File:       ref.File,
				TargetFile: stringField(am, "target_file"),
			})
		}
	}
	return entry, nil
}

func decodeInitrd(v any) (*InitrdSpec, error) {
	switch t := v.(type) {
	case map[string]any:
		ref, err := decodeFileRef(t)
		if err != nil {
			return nil, err
		}
		return &InitrdSpec{Single: &ref}, nil
	case []any:
		spec := &InitrdSpec{}
		for _, e := range t {
			em, ok := e.(map[string]any)
			if !ok {
				continue
			}
			ref, err := decodeFileRef(em)
			if err != nil {
				return nil, err
			}
			spec.Multiple = append(spec.Multiple, ref)
		}
		return spec, nil
	default:
		return nil, fmt.Errorf("initrd must be a table or an array of tables")
	}
}

func stringField(m map[string]any, key string) string {
	s, _ := m[key].(string)
	return s
}
