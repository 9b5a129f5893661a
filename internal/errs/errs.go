// Package errs defines the sentinel error kinds shared by every resolver
// component, so callers can dispatch on errors.Is rather than string matching.
package errs

import "errors"

// Sentinel kinds. Wrap with fmt.Errorf("...: %w", ErrX) at the call site that
// detects the condition; callers use errors.Is to recover the kind.
var (
	// ErrIo covers any lower-level block or secure-transport failure.
	ErrIo = errors.New("io error")

	// ErrUnsupported is returned when a drive lacks both Opal V2 and Enterprise SSC.
	ErrUnsupported = errors.New("unsupported")

	// ErrIncompatibleVersion is returned when Level-0 discovery's header version isn't 1.
	ErrIncompatibleVersion = errors.New("incompatible opal version")

	// ErrInvalidPassword is returned by a LUKS2 keyslot unlock attempt with the wrong passphrase.
	ErrInvalidPassword = errors.New("invalid password")

	// ErrNotAuthorized is the Opal analogue of ErrInvalidPassword (TCG NOT_AUTHORIZED status).
	ErrNotAuthorized = errors.New("not authorized")

	// ErrAuthorityLockedOut indicates the drive's bad-password counter has tripped.
	ErrAuthorityLockedOut = errors.New("authority locked out")

	// ErrFileNotFound indicates a chain was exhausted without a matching container/file.
	ErrFileNotFound = errors.New("file not found")

	// ErrPbkdf indicates a PBKDF2/Argon2 configuration error (bad salt length, zero iterations, ...).
	ErrPbkdf = errors.New("pbkdf error")

	// ErrRawKeyInvalidLength indicates a keyfile was not exactly 32 bytes where a raw key was required.
	ErrRawKeyInvalidLength = errors.New("raw key must be exactly 32 bytes")

	// ErrImageNotPeCoff indicates a resolved boot image did not start with the MZ magic.
	ErrImageNotPeCoff = errors.New("boot image is not a PE/COFF image")

	// ErrUnsupportedBlockSize indicates a block device's block size exceeds the 4096-byte assumption.
	ErrUnsupportedBlockSize = errors.New("unsupported block size")
)
