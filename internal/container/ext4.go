package container

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"os"

	"github.com/diskfs/go-diskfs/filesystem/ext4"

	"github.com/oberien/opal-uefi-greeter/internal/bootcfg"
	"github.com/oberien/opal-uefi-greeter/internal/errs"
)

// probeExt4 sniffs the raw superblock for the 0xEF53 magic and the volume
// UUID (grounded on the same byte offsets the teacher's own raw-fs sniffer
// uses for ext family superblocks) before paying for a full go-diskfs
// ext4.Read, since most probe attempts on a non-matching layer are
// expected to fail at this cheap first gate.
func probeExt4(_ context.Context, rs io.ReadSeeker, chain []bootcfg.Partition, targetFile string, _ Deps) ([]byte, error) {
	expected := chain[0]

	if _, err := rs.Seek(1024, io.SeekStart); err != nil {
		return nil, fmt.Errorf("ext4: seek to superblock: %w", err)
	}
	sb := make([]byte, 1024)
	if _, err := io.ReadFull(rs, sb); err != nil {
		return nil, fmt.Errorf("ext4: read superblock: %w", err)
	}
	magic := binary.LittleEndian.Uint16(sb[56:58])
	if magic != 0xef53 {
		return nil, fmt.Errorf("ext4: magic mismatch 0x%x: %w", magic, errs.ErrFileNotFound)
	}
	uuid := formatUUID(sb[104:120])
	if !sameUUID(uuid, expected.UUID) {
		return nil, fmt.Errorf("ext4: uuid %q != expected %q: %w", uuid, expected.UUID, errs.ErrFileNotFound)
	}
	if len(chain) != 1 {
		return nil, fmt.Errorf("ext4: terminal container but %d chain entries remain: %w", len(chain)-1, errs.ErrFileNotFound)
	}

	size, err := rs.Seek(0, io.SeekEnd)
	if err != nil {
		return nil, fmt.Errorf("ext4: size probe: %w", err)
	}

	fs, err := ext4.Read(newReadSeekerFile(rs), size, 0, 512)
	if err != nil {
		return nil, fmt.Errorf("ext4: open filesystem: %w", err)
	}
	f, err := fs.OpenFile(targetFile, os.O_RDONLY)
	if err != nil {
		return nil, fmt.Errorf("ext4: open %q: %w", targetFile, err)
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("ext4: read %q: %w", targetFile, err)
	}
	return data, nil
}
