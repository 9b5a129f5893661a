// Package platform is the boundary to the UEFI runtime. spec.md §1 treats
// the UEFI runtime itself as an external collaborator, specified only where
// its interface touches the core: timer services, console I/O, image
// loading, and protocol discovery. Nothing in this package calls real
// firmware; production bindings live in a separate build-tag-gated package
// out of scope for this module. internal/platform/linuxhost provides a
// reference implementation for development and tests.
package platform

import (
	"context"
	"io"
	"time"
)

// PromptKind selects how a prompt should be rendered/read.
type PromptKind int

const (
	// PromptPassword masks input as it is typed.
	PromptPassword PromptKind = iota
	// PromptLine echoes input as it is typed.
	PromptLine
)

// ErrCancelled is returned by Console.Prompt when the user pressed ESC,
// which spec.md §5 designates as the sole global cancellation: it must
// trigger a firmware shutdown-reset, not propagate as a normal error.
var ErrCancelled = errCancelled{}

type errCancelled struct{}

func (errCancelled) Error() string { return "prompt cancelled by user" }

// Console is the single serialized interactive resource described in §5:
// prompts cannot nest, and implementations must drain stale keypresses at
// entry (sleep ~10ms, then read-until-empty) before presenting a new prompt.
type Console interface {
	io.Writer
	// Prompt blocks until Enter, returning the collected bytes (UTF-8).
	// ESC returns ErrCancelled.
	Prompt(label string, kind PromptKind) ([]byte, error)
	// Clear clears the console, used when Config.ClearOnRetry is set.
	Clear() error
	// SelectBestMode picks the console mode whose rows x cols is closest to
	// the given target, mirroring the original's 200x64 preference.
	SelectBestMode(targetCols, targetRows int) error
}

// Timer models the two suspension points spec.md §5 allows beyond blocking
// passthrough commands: sleep(duration) and a watchdog toggle.
type Timer interface {
	Sleep(d time.Duration)
	// DisableWatchdog disables the firmware watchdog with the given magic
	// code, mirroring the original's set_watchdog_timer(0, 0x31337, None).
	DisableWatchdog(code uint64) error
}

// BlockDeviceHandle is an opaque platform-side reference to one block device.
type BlockDeviceHandle struct {
	// ID is a platform-assigned stable identifier (e.g. a DevicePath string
	// or a host file path under linuxhost), used only for logging.
	ID string
	// StartLBA/EndLBA/BlockSize as reported by the firmware's BlockIo protocol.
	StartLBA  uint64
	EndLBA    uint64
	BlockSize uint32
}

// BlockIO mirrors the UEFI Block I/O protocol's ReadBlocks entry point: a
// single call reads a whole number of blocks starting at an LBA, with no
// internal cursor of its own (BlockIoReader in internal/blockio supplies that).
type BlockIO interface {
	BlockSize() uint32
	// ReadBlocks reads len(buf)/BlockSize() blocks starting at startLBA.
	// len(buf) must be a non-zero multiple of BlockSize().
	ReadBlocks(ctx context.Context, startLBA uint64, buf []byte) error
}

// BlockDeviceEnumerator lists the raw block devices visible to firmware,
// before any partition-table interpretation (the resolver owns that, per C6).
type BlockDeviceEnumerator interface {
	EnumerateBlockDevices(ctx context.Context) ([]BlockDeviceHandle, error)
	// OpenBlockIO opens the raw BlockIO protocol for a handle. C6 always
	// constructs its reader starting at LBA 0, never start_lba, so that
	// GPT/LVM headers in any leading reserved area are visible.
	OpenBlockIO(ctx context.Context, h BlockDeviceHandle) (BlockIO, error)
}

// SecurePassthrough is the minimal capability C2's transports are built on:
// issuing a passthrough command buffer to a block device's controller. The
// concrete ATA/NVMe command encoding lives in internal/secureproto; this
// interface is the last hop to firmware (ATA passthrough / NVMe admin
// passthrough protocols).
type SecurePassthrough interface {
	// Align is the DMA alignment requirement for command buffers.
	Align() int
	// SendRaw issues a vendor/transport-specific passthrough command. For
	// ATA this is one ATA command block; for NVMe one admin-queue command.
	// cdb carries the fully encoded command (registers or CDW fields);
	// data is the transferred buffer, written to or filled by the device
	// according to dataIn.
	SendRaw(ctx context.Context, cdb []byte, data []byte, dataIn bool, timeout time.Duration) error
	// Reconnect disconnects and reconnects the controller driver bound to
	// the handle, forcing namespace re-enumeration.
	Reconnect(ctx context.Context) error
}

// SecurePassthroughOpener opens a SecurePassthrough channel for a block
// device handle, or returns (nil, false) if the handle has none (e.g. no
// ATA/NVMe passthrough protocol present on that handle).
type SecurePassthroughOpener interface {
	OpenSecurePassthrough(ctx context.Context, h BlockDeviceHandle) (SecurePassthrough, bool, error)
}

// LoadedImage is the result of loading a PE/COFF image via the platform's
// image-loading service.
type LoadedImage interface {
	// SetLoadOptions sets the UTF-16 load-options string later read by the
	// loaded image's LoadedImage protocol (the kernel command line).
	SetLoadOptions(optionsUTF16 string) error
	// Start transfers control to the loaded image. On a real platform this
	// never returns on success.
	Start(ctx context.Context) error
}

// ImageLoader is the one-shot call into the platform once resolution
// succeeds (spec.md §1's "Chain-loading the final image").
type ImageLoader interface {
	LoadImage(ctx context.Context, buf []byte) (LoadedImage, error)
}

// MemoryAllocator allocates the pages the assembled initramfs lives in.
// spec.md §5 requires RuntimeServicesData-typed pages so the kernel can use
// the memory after ExitBootServices without the boot-services allocator
// reclaiming it.
type MemoryAllocator interface {
	// AllocateRuntimeServicesPages allocates ceil(size/4096) pages and
	// returns the physical address and a byte slice backed by them.
	AllocateRuntimeServicesPages(size int) (addr uint64, mem []byte, err error)
}

// ResetKind distinguishes the two terminal reset behaviors of §6.
type ResetKind int

const (
	// ResetSuccess is used after any fatal error: log, wait for a key, cold-reset SUCCESS.
	ResetSuccess ResetKind = iota
	// ResetWarnRequired is used after an Opal authority lockout: cold-reset WARN_RESET_REQUIRED.
	ResetWarnRequired
)

// System bundles every platform capability the core packages need, handed
// in once at startup instead of threading five interfaces through call sites.
type System struct {
	Console   Console
	Timer     Timer
	Devices   BlockDeviceEnumerator
	Secure    SecurePassthroughOpener
	Loader    ImageLoader
	Memory    MemoryAllocator
	ColdReset func(kind ResetKind)
}
