package initramfs

import (
	"bytes"
	"context"
	"testing"

	"github.com/oberien/opal-uefi-greeter/internal/bootcfg"
	"github.com/oberien/opal-uefi-greeter/internal/cpio"
)

type fakeResolver struct {
	files map[string][]byte
}

func key(partition, file string) string { return partition + ":" + file }

func (f *fakeResolver) FindReadFile(_ context.Context, ref bootcfg.FileRef) ([]byte, error) {
	data, ok := f.files[key(ref.Partition, ref.File)]
	if !ok {
		return nil, bytes.ErrTooLarge // any non-nil error; message irrelevant to these tests
	}
	return data, nil
}

func TestAssembleNoInitrdReturnsNil(t *testing.T) {
	r := &fakeResolver{files: map[string][]byte{}}
	data, err := Assemble(context.Background(), r, bootcfg.BootEntry{})
	if err != nil {
		t.Fatalf("Assemble: %v", err)
	}
	if data != nil {
		t.Fatalf("expected nil, got %d bytes", len(data))
	}
}

func TestAssembleConcatenatesSingleInitrdAndAdditionalFiles(t *testing.T) {
	base, err := cpio.WriteArchive([]cpio.File{{Name: "init", Mode: 0100755, Data: []byte("#!/bin/sh")}})
	if err != nil {
		t.Fatalf("WriteArchive: %v", err)
	}
	r := &fakeResolver{files: map[string][]byte{
		key("boot", "initramfs.img"): base,
		key("boot", "extra.conf"):    []byte("option=1"),
	}}
	entry := bootcfg.BootEntry{
		Initrd: &bootcfg.InitrdSpec{Single: &bootcfg.FileRef{Partition: "boot", File: "initramfs.img"}},
		AdditionalInitrdFiles: []bootcfg.AdditionalInitrdFile{
			{Partition: "boot", File: "extra.conf", TargetFile: "etc/extra.conf"},
		},
	}
	data, err := Assemble(context.Background(), r, entry)
	if err != nil {
		t.Fatalf("Assemble: %v", err)
	}
	if !bytes.HasPrefix(data, base) {
		t.Fatalf("combined archive does not start with the declared initrd archive")
	}
	if len(data) <= len(base) {
		t.Fatalf("expected the additional_initrd_files archive appended after base")
	}
}

func TestAssembleRejectsZstdCompressedInitrd(t *testing.T) {
	// A real zstd frame magic with arbitrary trailing bytes is enough to
	// trigger the sniff without needing a genuine compressed payload.
	fake := append([]byte{0x28, 0xb5, 0x2f, 0xfd}, make([]byte, 16)...)
	r := &fakeResolver{files: map[string][]byte{
		key("boot", "initramfs.img"): fake,
	}}
	entry := bootcfg.BootEntry{
		Initrd: &bootcfg.InitrdSpec{Single: &bootcfg.FileRef{Partition: "boot", File: "initramfs.img"}},
	}
	if _, err := Assemble(context.Background(), r, entry); err == nil {
		t.Fatalf("expected an error for a zstd-looking initrd archive")
	}
}
