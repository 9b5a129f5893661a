// Package cmdline implements the tail end of spec.md §6's external
// interface contract: once an initramfs has been assembled at a runtime
// address, synthesize the kernel command line the bootstub reads and
// encode it the way LoadedImage.SetLoadOptions expects (UTF-16, as
// original_source/src/main.rs's CString16::try_from(&*args) does for the
// flat single-image predecessor of this design).
package cmdline

import (
	"encoding/binary"
	"fmt"
	"unicode/utf16"
)

// WithInitrdMem appends " initrdmem=<addr>,<size>" (decimal, no padding)
// to options, exactly as spec.md §6 specifies for an initramfs assembled
// in memory at addr of length size.
func WithInitrdMem(options string, addr uint64, size int) string {
	return fmt.Sprintf("%s initrdmem=%d,%d", options, addr, size)
}

// EncodeUTF16 converts a command-line string to a NUL-terminated UTF-16
// code-unit slice suitable for LoadedImage.SetLoadOptions, mirroring
// uefi-rs's CString16 construction (original_source/src/main.rs's
// CString16::try_from(&*args)). No pack/ecosystem library offers this
// narrow a transcoder outside a full text-encoding pipeline
// (golang.org/x/text/encoding/unicode targets streaming byte transcoding,
// not building one terminated code-unit slice from a Go string, which is
// already guaranteed valid UTF-8 and therefore free of bare surrogates),
// so this uses the standard library's unicode/utf16 directly.
func EncodeUTF16(s string) []uint16 {
	units := utf16.Encode([]rune(s))
	return append(units, 0)
}

// ToLoadOptionsBytes encodes s as NUL-terminated UTF-16LE bytes, the wire
// format platform.LoadedImage.SetLoadOptions expects (mirroring how
// CString16::as_ptr()/num_bytes() hand uefi-rs a raw little-endian byte
// buffer rather than a Rust string).
func ToLoadOptionsBytes(s string) []byte {
	units := EncodeUTF16(s)
	buf := make([]byte, len(units)*2)
	for i, u := range units {
		binary.LittleEndian.PutUint16(buf[i*2:], u)
	}
	return buf
}
