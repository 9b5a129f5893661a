package bootcfg

import "testing"

const sampleConfig = `
log_level = "debug"

[[keyslots]]
name = "main"
source = "stdin"

[[keyslots]]
name = "sed"
[keyslots.source]
partition = "root"
file = "/etc/sedkey"
extra_partitions = ["swap"]

[[partitions]]
name = "disk"
uuid = "11111111-2222-3333-4444-555555555555"

[[partitions]]
name = "root"
parent = "disk"
uuid = "66666666-7777-8888-9999-aaaaaaaaaaaa"
keyslot = "main"

[[boot_entries]]
name = "linux"
partition = "root"
file = "/boot/vmlinuz"
options = "quiet"
default = true

[boot_entries.initrd]
partition = "root"
file = "/boot/initrd.img"
`

func TestLoadParsesPartitionsAndKeyslots(t *testing.T) {
	cfg, err := Load([]byte(sampleConfig))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.LogLevel != "debug" {
		t.Fatalf("got log_level %q, want debug", cfg.LogLevel)
	}

	main, ok := cfg.Keyslots["main"]
	if !ok || !main.Source.Stdin {
		t.Fatalf("expected stdin keyslot %q", "main")
	}

	sed, ok := cfg.Keyslots["sed"]
	if !ok || sed.Source.File == nil {
		t.Fatalf("expected file keyslot %q", "sed")
	}
	if sed.Source.File.Partition != "root" || sed.Source.File.File != "/etc/sedkey" {
		t.Fatalf("got %+v", sed.Source.File)
	}
	if len(sed.Source.File.ExtraPartitions) != 1 || sed.Source.File.ExtraPartitions[0] != "swap" {
		t.Fatalf("got extra_partitions %v", sed.Source.File.ExtraPartitions)
	}

	root, ok := cfg.Partitions["root"]
	if !ok || root.Parent != "disk" || root.Keyslot != "main" {
		t.Fatalf("got %+v", root)
	}
}

func TestLoadPreservesBootEntryOrderAndDecodesInitrd(t *testing.T) {
	cfg, err := Load([]byte(sampleConfig))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(cfg.BootEntries) != 1 {
		t.Fatalf("expected 1 boot entry, got %d", len(cfg.BootEntries))
	}
	entry := cfg.BootEntries[0]
	if !entry.Default {
		t.Fatalf("expected default=true")
	}
	if entry.Initrd == nil || entry.Initrd.Single == nil {
		t.Fatalf("expected a single initrd FileRef")
	}
	if entry.Initrd.Single.File != "/boot/initrd.img" {
		t.Fatalf("got initrd file %q", entry.Initrd.Single.File)
	}
}

func TestLoadReindexesDuplicateBootEntryNames(t *testing.T) {
	cfg, err := Load([]byte(`
[[boot_entries]]
name = "linux"
partition = "root"
file = "/boot/vmlinuz-old"

[[boot_entries]]
name = "linux"
partition = "root"
file = "/boot/vmlinuz-new"
`))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(cfg.BootEntries) != 1 {
		t.Fatalf("expected duplicate names to reindex to 1 entry, got %d", len(cfg.BootEntries))
	}
	if cfg.BootEntries[0].File != "/boot/vmlinuz-new" {
		t.Fatalf("expected the later definition to win, got %q", cfg.BootEntries[0].File)
	}
}

func TestLoadRejectsUnknownKeyslotSource(t *testing.T) {
	_, err := Load([]byte(`
[[keyslots]]
name = "bad"
source = "carrier-pigeon"
`))
	if err == nil {
		t.Fatalf("expected an error for an unknown keyslot source")
	}
}
