// Package linuxhost is a reference implementation of internal/platform over
// a regular Linux process: block devices are files (raw images or /dev
// nodes), the console is the controlling terminal, the watchdog disable is
// a no-op. It provides no ImageLoader or MemoryAllocator. It exists so
// internal/resolver, internal/opal, and the cmd/greeterctl harness can run
// and be tested without real UEFI firmware underneath them.
package linuxhost

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"golang.org/x/term"

	"github.com/oberien/opal-uefi-greeter/internal/platform"
)

// Console implements platform.Console over the process's stdin/stdout.
type Console struct {
	out *os.File
	in  *os.File
}

// NewConsole builds a Console over the given files, defaulting to the
// process's stdout/stdin when nil.
func NewConsole(out, in *os.File) *Console {
	if out == nil {
		out = os.Stdout
	}
	if in == nil {
		in = os.Stdin
	}
	return &Console{out: out, in: in}
}

func (c *Console) Write(p []byte) (int, error) { return c.out.Write(p) }

// Prompt reads one line from stdin, masking keystrokes for PromptPassword
// when stdin is a terminal. There is no real ESC-to-cancel detection on a
// plain line reader; that behavior is left to a future terminal-raw-mode
// implementation and is not exercised by this reference host.
func (c *Console) Prompt(label string, kind platform.PromptKind) ([]byte, error) {
	fmt.Fprint(c.out, label)
	if kind == platform.PromptPassword && term.IsTerminal(int(c.in.Fd())) {
		line, err := term.ReadPassword(int(c.in.Fd()))
		fmt.Fprintln(c.out)
		if err != nil {
			return nil, err
		}
		return line, nil
	}
	reader := bufio.NewReader(c.in)
	line, err := reader.ReadString('\n')
	if err != nil {
		return nil, err
	}
	for len(line) > 0 && (line[len(line)-1] == '\n' || line[len(line)-1] == '\r') {
		line = line[:len(line)-1]
	}
	return []byte(line), nil
}

// Clear emits an ANSI clear-screen sequence; harmless on a non-terminal sink.
func (c *Console) Clear() error {
	_, err := fmt.Fprint(c.out, "\x1b[2J\x1b[H")
	return err
}

// SelectBestMode is a no-op on a host terminal: there is no firmware console
// mode table to select from, and the terminal's own size already governs
// rendering.
func (c *Console) SelectBestMode(_, _ int) error { return nil }

// Timer implements platform.Timer with a real sleep and a logged no-op
// watchdog disable (there is no firmware watchdog to disable on a host).
type Timer struct{}

func (Timer) Sleep(d time.Duration) { time.Sleep(d) }

func (Timer) DisableWatchdog(_ uint64) error { return nil }

// FileBlockIO implements platform.BlockIO over an *os.File, used both for
// raw disk-image files and for /dev/sdX-style raw device nodes.
type FileBlockIO struct {
	f       *os.File
	blockSz uint32
}

// NewFileBlockIO wraps f, reporting blockSz as the device's block size.
func NewFileBlockIO(f *os.File, blockSz uint32) *FileBlockIO {
	return &FileBlockIO{f: f, blockSz: blockSz}
}

func (b *FileBlockIO) BlockSize() uint32 { return b.blockSz }

func (b *FileBlockIO) ReadBlocks(_ context.Context, startLBA uint64, buf []byte) error {
	off := int64(startLBA) * int64(b.blockSz)
	_, err := b.f.ReadAt(buf, off)
	return err
}

// Devices enumerates a fixed list of host paths as block devices, handed in
// at construction (there is no UEFI device-path enumeration on a host; the
// dev harness takes paths on the command line instead, see cmd/greeterctl).
type Devices struct {
	Paths []string
}

func (d *Devices) EnumerateBlockDevices(_ context.Context) ([]platform.BlockDeviceHandle, error) {
	handles := make([]platform.BlockDeviceHandle, 0, len(d.Paths))
	for _, p := range d.Paths {
		f, err := os.Open(p)
		if err != nil {
			return nil, err
		}
		size, err := f.Seek(0, io.SeekEnd)
		f.Close()
		if err != nil {
			return nil, err
		}
		const blockSz = 512
		handles = append(handles, platform.BlockDeviceHandle{
			ID:        p,
			StartLBA:  0,
			EndLBA:    uint64(size)/blockSz - 1,
			BlockSize: blockSz,
		})
	}
	return handles, nil
}

func (d *Devices) OpenBlockIO(_ context.Context, h platform.BlockDeviceHandle) (platform.BlockIO, error) {
	f, err := os.Open(h.ID)
	if err != nil {
		return nil, err
	}
	return NewFileBlockIO(f, h.BlockSize), nil
}

// NoSecurePassthrough reports every handle as lacking a secure passthrough
// channel, for hosts where no ATA/NVMe raw command path is wired up (plain
// image-file testing, for instance).
type NoSecurePassthrough struct{}

func (NoSecurePassthrough) OpenSecurePassthrough(_ context.Context, _ platform.BlockDeviceHandle) (platform.SecurePassthrough, bool, error) {
	return nil, false, nil
}
