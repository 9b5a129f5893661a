// Package initramfs assembles the final in-memory initramfs spec.md §6
// describes from a resolved BootEntry: any declared initrd archives
// (already-complete newc cpio images, concatenated back-to-back) followed
// by one synthesized archive carrying additional_initrd_files.
package initramfs

import (
	"bytes"
	"context"
	"fmt"

	"github.com/klauspost/compress/zstd"

	"github.com/oberien/opal-uefi-greeter/internal/bootcfg"
	"github.com/oberien/opal-uefi-greeter/internal/cpio"
	"github.com/oberien/opal-uefi-greeter/internal/logger"
)

// zstdMagic is the 4-byte frame magic github.com/klauspost/compress/zstd
// checks for; sniffing it here lets Assemble reject a misconfigured
// target_file pointing at a compressed blob with a clear error instead of
// silently concatenating it as if it were a raw newc archive.
var zstdMagic = []byte{0x28, 0xb5, 0x2f, 0xfd}

// FileResolver is the subset of internal/resolver.Resolver this package
// needs, kept narrow so it can be unit-tested with a stub.
type FileResolver interface {
	FindReadFile(ctx context.Context, ref bootcfg.FileRef) ([]byte, error)
}

// Assemble resolves and concatenates entry's declared initrd archives, then
// appends one synthesized archive for additional_initrd_files, returning
// nil, nil if the entry declares no initramfs at all.
func Assemble(ctx context.Context, r FileResolver, entry bootcfg.BootEntry) ([]byte, error) {
	var archives [][]byte

	if entry.Initrd != nil {
		refs := entry.Initrd.Multiple
		if entry.Initrd.Single != nil {
			refs = []bootcfg.FileRef{*entry.Initrd.Single}
		}
		for _, ref := range refs {
			data, err := r.FindReadFile(ctx, ref)
			if err != nil {
				return nil, fmt.Errorf("initramfs: resolve initrd %s:%s: %w", ref.Partition, ref.File, err)
			}
			if err := rejectCompressed(ref.File, data); err != nil {
				return nil, err
			}
			archives = append(archives, data)
		}
	}

	if len(entry.AdditionalInitrdFiles) > 0 {
		var files []cpio.File
		for _, a := range entry.AdditionalInitrdFiles {
			data, err := r.FindReadFile(ctx, bootcfg.FileRef{Partition: a.Partition, File: a.File})
			if err != nil {
				return nil, fmt.Errorf("initramfs: resolve additional_initrd_files %s:%s: %w", a.Partition, a.File, err)
			}
			target := a.TargetFile
			if target == "" {
				target = a.File
			}
			files = append(files, cpio.File{Name: target, Mode: 0100644, Data: data})
		}
		extra, err := cpio.WriteArchive(files)
		if err != nil {
			return nil, fmt.Errorf("initramfs: write additional_initrd_files archive: %w", err)
		}
		archives = append(archives, extra)
	}

	if len(archives) == 0 {
		return nil, nil
	}
	combined, err := cpio.Concat(archives...)
	if err != nil {
		return nil, fmt.Errorf("initramfs: concatenate archives: %w", err)
	}
	return combined, nil
}

// rejectCompressed reports an error if data starts with a zstd frame magic:
// a declared initrd archive must already be a raw newc cpio image, not a
// compressed blob this package would otherwise silently concatenate as one.
// This is detection only, per SPEC_FULL's scope decision — not a
// decompression feature: the zstd reader is only constructed and closed,
// logging a debug message if it rejects the data; nothing is decompressed.
func rejectCompressed(name string, data []byte) error {
	if !bytes.HasPrefix(data, zstdMagic) {
		return nil
	}
	if dec, err := zstd.NewReader(bytes.NewReader(data)); err == nil {
		dec.Close()
	} else {
		logger.Logger().Debugf("initramfs: %q carries a zstd magic but is not a well-formed frame: %v", name, err)
	}
	return fmt.Errorf("initramfs: %q is zstd-compressed, declared initrd archives must be raw newc cpio", name)
}
