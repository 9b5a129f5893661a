package keyslot

import (
	"context"
	"testing"

	"github.com/oberien/opal-uefi-greeter/internal/bootcfg"
	"github.com/oberien/opal-uefi-greeter/internal/platform"
)

type fakeConsole struct {
	prompts   []string
	responses [][]byte
	next      int
}

func (c *fakeConsole) Write(p []byte) (int, error) { return len(p), nil }

func (c *fakeConsole) Prompt(label string, _ platform.PromptKind) ([]byte, error) {
	c.prompts = append(c.prompts, label)
	r := c.responses[c.next]
	c.next++
	return r, nil
}

func (c *fakeConsole) Clear() error                          { return nil }
func (c *fakeConsole) SelectBestMode(_, _ int) error          { return nil }

type fakeFileResolver struct {
	calls int
	data  []byte
	err   error
}

func (f *fakeFileResolver) ResolveFile(_ context.Context, _, _ string, _ []string) ([]byte, error) {
	f.calls++
	return f.data, f.err
}

func TestResolveStdinPromptsAndCaches(t *testing.T) {
	console := &fakeConsole{responses: [][]byte{[]byte("hunter2")}}
	cache := NewCache()
	ks := bootcfg.Keyslot{Name: "main", Source: bootcfg.KeyslotSource{Stdin: true}}

	b1, err := Resolve(context.Background(), console, cache, nil, "main", ks, Cached)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if string(b1) != "hunter2" {
		t.Fatalf("got %q, want hunter2", b1)
	}

	b2, err := Resolve(context.Background(), console, cache, nil, "main", ks, Cached)
	if err != nil {
		t.Fatalf("Resolve (cached): %v", err)
	}
	if string(b2) != "hunter2" {
		t.Fatalf("got %q from cache, want hunter2", b2)
	}
	if len(console.prompts) != 1 {
		t.Fatalf("expected exactly 1 prompt, got %d", len(console.prompts))
	}
}

func TestResolveDiscardForcesRePrompt(t *testing.T) {
	console := &fakeConsole{responses: [][]byte{[]byte("wrong"), []byte("right")}}
	cache := NewCache()
	ks := bootcfg.Keyslot{Name: "main", Source: bootcfg.KeyslotSource{Stdin: true}}

	if _, err := Resolve(context.Background(), console, cache, nil, "main", ks, Cached); err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	b, err := Resolve(context.Background(), console, cache, nil, "main", ks, Discard)
	if err != nil {
		t.Fatalf("Resolve (discard): %v", err)
	}
	if string(b) != "right" {
		t.Fatalf("got %q, want right", b)
	}
	if len(console.prompts) != 2 {
		t.Fatalf("expected 2 prompts after Discard, got %d", len(console.prompts))
	}
}

func TestResolveFileDelegatesToFileResolver(t *testing.T) {
	fr := &fakeFileResolver{data: []byte("keyfile-bytes")}
	cache := NewCache()
	ks := bootcfg.Keyslot{
		Name: "sed",
		Source: bootcfg.KeyslotSource{
			File: &bootcfg.FileRef{Partition: "root", File: "/etc/sedkey"},
		},
	}

	b, err := Resolve(context.Background(), nil, cache, fr, "sed", ks, Cached)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if string(b) != "keyfile-bytes" {
		t.Fatalf("got %q", b)
	}
	if fr.calls != 1 {
		t.Fatalf("expected 1 ResolveFile call, got %d", fr.calls)
	}

	if _, err := Resolve(context.Background(), nil, cache, fr, "sed", ks, Cached); err != nil {
		t.Fatalf("Resolve (cached): %v", err)
	}
	if fr.calls != 1 {
		t.Fatalf("expected cache hit to avoid a second ResolveFile call, got %d calls", fr.calls)
	}
}

func TestForOpalStdinDerivesThirtyTwoBytes(t *testing.T) {
	hash := ForOpalStdin([]byte("hunter2"), []byte("SERIALNUMBER0001"))
	if len(hash) != 32 {
		t.Fatalf("got %d bytes, want 32", len(hash))
	}
}

func TestForOpalFileRejectsWrongLength(t *testing.T) {
	if _, err := ForOpalFile(make([]byte, 16)); err == nil {
		t.Fatalf("expected an error for a 16-byte raw key")
	}
	if _, err := ForOpalFile(make([]byte, 32)); err != nil {
		t.Fatalf("expected a 32-byte raw key to be accepted, got %v", err)
	}
}
