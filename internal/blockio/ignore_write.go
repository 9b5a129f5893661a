package blockio

import "io"

// IgnoreWriteWrapper adapts a read+seek stream to the read+write+seek
// interface go-diskfs's FAT filesystem driver requires even when opened
// read-only: it mounts filesystems through an io.ReadWriteSeeker and simply
// never issues a write in read-only use. WriteAt/Write calls are accepted
// and discarded rather than erroring, so that driver-internal bookkeeping
// (e.g. updating an in-memory cache it never flushes) doesn't abort a probe.
type IgnoreWriteWrapper struct {
	io.ReadSeeker
}

// NewIgnoreWriteWrapper wraps under for passing to an API that requires
// io.ReadWriteSeeker.
func NewIgnoreWriteWrapper(under io.ReadSeeker) *IgnoreWriteWrapper {
	return &IgnoreWriteWrapper{ReadSeeker: under}
}

// Write discards p and reports it as fully written.
func (w *IgnoreWriteWrapper) Write(p []byte) (int, error) {
	return len(p), nil
}

// WriteAt discards p and reports it as fully written.
func (w *IgnoreWriteWrapper) WriteAt(p []byte, off int64) (int, error) {
	return len(p), nil
}
