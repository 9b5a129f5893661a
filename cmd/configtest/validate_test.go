package main

import (
	"strings"
	"testing"

	"github.com/oberien/opal-uefi-greeter/internal/bootcfg"
)

func loadConfig(t *testing.T, toml string) *bootcfg.Config {
	t.Helper()
	cfg, err := bootcfg.Load([]byte(toml))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	return cfg
}

func TestValidateConfigCleanFileHasNoIssues(t *testing.T) {
	cfg := loadConfig(t, `
[[partitions]]
name = "gpt"
uuid = "11111111-1111-1111-1111-111111111111"

[[partitions]]
name = "root"
parent = "gpt"

[[keyslots]]
name = "k1"
source = "stdin"

[[boot_entries]]
name = "linux"
partition = "root"
file = "/boot/vmlinuz"
`)
	if issues := validateConfig(cfg); len(issues) != 0 {
		t.Fatalf("expected no issues, got %v", issues)
	}
}

func TestValidateConfigDetectsDanglingParent(t *testing.T) {
	cfg := loadConfig(t, `
[[partitions]]
name = "root"
parent = "nonexistent"

[[boot_entries]]
name = "linux"
partition = "root"
file = "/boot/vmlinuz"
`)
	issues := validateConfig(cfg)
	if !anyContains(issues, "nonexistent") {
		t.Fatalf("expected a dangling parent issue, got %v", issues)
	}
}

func TestValidateConfigDetectsDanglingKeyslot(t *testing.T) {
	cfg := loadConfig(t, `
[[partitions]]
name = "root"
keyslot = "missing"

[[boot_entries]]
name = "linux"
partition = "root"
file = "/boot/vmlinuz"
`)
	issues := validateConfig(cfg)
	if !anyContains(issues, "keyslot") {
		t.Fatalf("expected a dangling keyslot issue, got %v", issues)
	}
}

func TestValidateConfigDetectsParentCycle(t *testing.T) {
	cfg := loadConfig(t, `
[[partitions]]
name = "a"
parent = "b"

[[partitions]]
name = "b"
parent = "a"
`)
	issues := validateConfig(cfg)
	if !anyContains(issues, "cycle") {
		t.Fatalf("expected a cycle issue, got %v", issues)
	}
}

func TestValidateConfigDetectsDanglingBootEntryPartition(t *testing.T) {
	cfg := loadConfig(t, `
[[boot_entries]]
name = "linux"
partition = "nonexistent"
file = "/boot/vmlinuz"
`)
	issues := validateConfig(cfg)
	if !anyContains(issues, "boot entry") {
		t.Fatalf("expected a boot entry issue, got %v", issues)
	}
}

func anyContains(issues []issue, substr string) bool {
	for _, iss := range issues {
		if strings.Contains(iss.String(), substr) {
			return true
		}
	}
	return false
}
