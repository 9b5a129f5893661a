// Package cpio assembles the in-memory initramfs spec.md §6 describes:
// any number of already-complete "newc" CPIO archives concatenated
// back-to-back, followed by one synthesized archive carrying
// additional_initrd_files, each path padded to 4-byte alignment per the
// newc spec. There is no original_source precedent for this package — the
// retrieved Rust sources predate the nested-initramfs design entirely and
// chain-load a single flat image with no initrd assembly step at all.
package cpio

import (
	"bytes"
	"fmt"
)

// newcMagic is the 6-byte magic of the "new ASCII" portable CPIO format
// (070701, no inode checksum).
const newcMagic = "070701"

// trailerName is the newc sentinel entry that terminates an archive.
const trailerName = "TRAILER!!!"

// headerLen is the fixed size of a newc header: 6-byte magic plus 13
// 8-hex-digit fields.
const headerLen = 6 + 13*8

// File is one entry to be written into a synthesized archive.
type File struct {
	Name string // archive-relative path, e.g. "etc/foo.conf"
	Mode uint32 // e.g. 0100644 for a regular file, octal notation in Go source
	Data []byte
}

// Concat concatenates already-complete newc archives back-to-back exactly
// as spec.md §6 describes: "CPIO newc archives concatenated back-to-back;
// each archive self-terminated by a TRAILER!!! entry." No validation is
// performed on the individual archives beyond a minimal magic sniff, since
// constructing a synthetic test archive per call site is cheaper than
// re-parsing an archive this package itself may have just written.
func Concat(archives ...[]byte) ([]byte, error) {
	var buf bytes.Buffer
	for i, a := range archives {
		if len(a) < 6 || string(a[:6]) != newcMagic {
			return nil, fmt.Errorf("cpio: archive %d does not start with newc magic %q", i, newcMagic)
		}
		buf.Write(a)
	}
	return buf.Bytes(), nil
}

// WriteArchive builds one newc archive from files, terminated by a
// TRAILER!!! entry, for use as the "additional_initrd_files" extra archive
// spec.md §6 appends after any raw archives.
func WriteArchive(files []File) ([]byte, error) {
	var buf bytes.Buffer
	ino := uint32(1)
	for _, f := range files {
		if err := writeEntry(&buf, ino, f.Name, f.Mode, f.Data); err != nil {
			return nil, fmt.Errorf("cpio: write entry %q: %w", f.Name, err)
		}
		ino++
	}
	if err := writeEntry(&buf, ino, trailerName, 0, nil); err != nil {
		return nil, fmt.Errorf("cpio: write trailer: %w", err)
	}
	return buf.Bytes(), nil
}

func writeEntry(buf *bytes.Buffer, ino uint32, name string, mode uint32, data []byte) error {
	// namesize includes the NUL terminator the newc spec requires.
	nameWithNul := name + "\x00"
	namesize := len(nameWithNul)

	fields := [13]uint32{
		ino,                 // c_ino
		mode,                // c_mode
		0,                   // c_uid
		0,                   // c_gid
		1,                   // c_nlink
		0,                   // c_mtime
		uint32(len(data)),   // c_filesize
		0,                   // c_devmajor
		0,                   // c_devminor
		0,                   // c_rdevmajor
		0,                   // c_rdevminor
		uint32(namesize),    // c_namesize
		0,                   // c_check
	}

	if _, err := buf.WriteString(newcMagic); err != nil {
		return err
	}
	for _, f := range fields {
		if _, err := fmt.Fprintf(buf, "%08X", f); err != nil {
			return err
		}
	}
	if _, err := buf.WriteString(nameWithNul); err != nil {
		return err
	}
	padTo4(buf, headerLen+namesize)

	if _, err := buf.Write(data); err != nil {
		return err
	}
	padTo4(buf, len(data))
	return nil
}

// padTo4 writes zero bytes so the stream's running length (the length
// argument measures only the bytes just written, not the whole buffer) is
// aligned, mirroring the newc format's 4-byte alignment requirement on
// both the header+name and the data regions independently.
func padTo4(buf *bytes.Buffer, writtenLen int) {
	if rem := writtenLen % 4; rem != 0 {
		buf.Write(make([]byte, 4-rem))
	}
}
