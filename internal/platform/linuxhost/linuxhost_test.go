package linuxhost

import (
	"context"
	"os"
	"testing"

	"github.com/oberien/opal-uefi-greeter/internal/platform"
)

func TestDevicesEnumerateBlockDevices(t *testing.T) {
	tmp, err := os.CreateTemp(t.TempDir(), "disk-*.img")
	if err != nil {
		t.Fatalf("CreateTemp: %v", err)
	}
	defer tmp.Close()
	if err := tmp.Truncate(512 * 4); err != nil {
		t.Fatalf("Truncate: %v", err)
	}

	d := &Devices{Paths: []string{tmp.Name()}}
	handles, err := d.EnumerateBlockDevices(context.Background())
	if err != nil {
		t.Fatalf("EnumerateBlockDevices: %v", err)
	}
	if len(handles) != 1 {
		t.Fatalf("expected 1 handle, got %d", len(handles))
	}
	if handles[0].EndLBA != 3 {
		t.Fatalf("expected EndLBA=3 for a 4-block file, got %d", handles[0].EndLBA)
	}
	if handles[0].BlockSize != 512 {
		t.Fatalf("expected BlockSize=512, got %d", handles[0].BlockSize)
	}
}

func TestFileBlockIOReadBlocks(t *testing.T) {
	tmp, err := os.CreateTemp(t.TempDir(), "disk-*.img")
	if err != nil {
		t.Fatalf("CreateTemp: %v", err)
	}
	defer tmp.Close()
	data := make([]byte, 1024)
	for i := range data {
		data[i] = byte(i)
	}
	if _, err := tmp.Write(data); err != nil {
		t.Fatalf("Write: %v", err)
	}

	bio := NewFileBlockIO(tmp, 512)
	buf := make([]byte, 512)
	if err := bio.ReadBlocks(context.Background(), 1, buf); err != nil {
		t.Fatalf("ReadBlocks: %v", err)
	}
	for i, b := range buf {
		if b != byte(512+i) {
			t.Fatalf("byte %d: got %d, want %d", i, b, byte(512+i))
		}
	}
}

func TestNoSecurePassthroughAlwaysAbsent(t *testing.T) {
	var sp NoSecurePassthrough
	_, ok, err := sp.OpenSecurePassthrough(context.Background(), platform.BlockDeviceHandle{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok {
		t.Fatalf("expected no secure passthrough to be reported")
	}
}
