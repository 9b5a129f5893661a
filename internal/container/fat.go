package container

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"os"

	"github.com/diskfs/go-diskfs/filesystem/fat32"

	"github.com/oberien/opal-uefi-greeter/internal/bootcfg"
	"github.com/oberien/opal-uefi-greeter/internal/errs"
)

// probeFAT sniffs the boot sector's 0x55AA signature and the 32-bit
// volume-id (the closest thing FAT has to a UUID, formatted per spec.md
// §4.5 as "%X-%X" over its high/low halves) before mounting, same
// cheap-gate-first shape as probeExt4.
func probeFAT(_ context.Context, rs io.ReadSeeker, chain []bootcfg.Partition, targetFile string, _ Deps) ([]byte, error) {
	expected := chain[0]

	bs := make([]byte, 512)
	if _, err := io.ReadFull(rs, bs); err != nil {
		return nil, fmt.Errorf("fat: read boot sector: %w", err)
	}
	if bs[510] != 0x55 || bs[511] != 0xaa {
		return nil, fmt.Errorf("fat: missing 0x55AA signature: %w", errs.ErrFileNotFound)
	}

	volID, ok := fatVolumeID(bs)
	if !ok {
		return nil, fmt.Errorf("fat: could not locate volume id field: %w", errs.ErrFileNotFound)
	}
	uuid := fmt.Sprintf("%X-%X", volID>>16, volID&0xffff)
	if !sameUUID(uuid, expected.UUID) {
		return nil, fmt.Errorf("fat: volume id %q != expected %q: %w", uuid, expected.UUID, errs.ErrFileNotFound)
	}
	if len(chain) != 1 {
		return nil, fmt.Errorf("fat: terminal container but %d chain entries remain: %w", len(chain)-1, errs.ErrFileNotFound)
	}

	size, err := rs.Seek(0, io.SeekEnd)
	if err != nil {
		return nil, fmt.Errorf("fat: size probe: %w", err)
	}

	fs, err := fat32.Read(newReadSeekerFile(rs), size, 0, 512)
	if err != nil {
		return nil, fmt.Errorf("fat: open filesystem: %w", err)
	}
	f, err := fs.OpenFile(targetFile, os.O_RDONLY)
	if err != nil {
		return nil, fmt.Errorf("fat: open %q: %w", targetFile, err)
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("fat: read %q: %w", targetFile, err)
	}
	return data, nil
}

// fatVolumeID locates the BS_VolID (FAT12/16) or BS_VolID32 (FAT32) field:
// FAT32 is distinguished by RootEntCnt==0 && FATSz16==0 && FATSz32!=0, the
// same heuristic the teacher's own raw-fs sniffer uses.
func fatVolumeID(bs []byte) (uint32, bool) {
	if len(bs) < 90 {
		return 0, false
	}
	rootEntCnt := binary.LittleEndian.Uint16(bs[17:19])
	fatSz16 := binary.LittleEndian.Uint16(bs[22:24])
	fatSz32 := binary.LittleEndian.Uint32(bs[36:40])
	isFAT32 := rootEntCnt == 0 && fatSz16 == 0 && fatSz32 != 0
	if isFAT32 {
		return binary.LittleEndian.Uint32(bs[67:71]), true
	}
	return binary.LittleEndian.Uint32(bs[39:43]), true
}
