package main

import (
	"bytes"
	"strings"
	"testing"

	"github.com/oberien/opal-uefi-greeter/internal/bootcfg"
)

func TestToChainResultPreservesOrder(t *testing.T) {
	chain := []bootcfg.Partition{
		{Name: "gpt", UUID: "11111111-1111-1111-1111-111111111111"},
		{Name: "root", Parent: "gpt", Keyslot: "k1"},
	}
	r := toChainResult("root", chain)
	if len(r.Chain) != 2 || r.Chain[0].Name != "gpt" || r.Chain[1].Name != "root" {
		t.Fatalf("got %+v", r.Chain)
	}
	if r.Chain[1].Keyslot != "k1" {
		t.Fatalf("expected keyslot carried through, got %+v", r.Chain[1])
	}
}

func TestPrintChainTextIncludesUUIDAndKeyslot(t *testing.T) {
	r := chainResult{Partition: "root", Chain: []chainEntry{
		{Name: "gpt", UUID: "abcd"},
		{Name: "root", Keyslot: "k1"},
	}}
	var buf bytes.Buffer
	printChainText(&buf, r)
	out := buf.String()
	if !strings.Contains(out, "uuid=abcd") || !strings.Contains(out, "keyslot=k1") {
		t.Fatalf("missing expected fields in output: %q", out)
	}
}

func TestCreateInspectChainCommandRejectsBadFormat(t *testing.T) {
	cmd := createInspectChainCommand()
	inspectFormat = "xml"
	defer func() { inspectFormat = "text" }()
	if err := cmd.PreRunE(cmd, []string{"root"}); err == nil {
		t.Fatalf("expected an error for an unsupported --format")
	}
}

func TestCreateInspectChainCommandRequiresPartitionUnlessGuessESP(t *testing.T) {
	cmd := createInspectChainCommand()
	inspectFormat = "text"
	guessESP = false
	if err := cmd.PreRunE(cmd, []string{}); err == nil {
		t.Fatalf("expected an error when PARTITION is missing and --guess-esp is unset")
	}
	guessESP = true
	defer func() { guessESP = false }()
	if err := cmd.PreRunE(cmd, []string{}); err != nil {
		t.Fatalf("--guess-esp should not require PARTITION: %v", err)
	}
}
