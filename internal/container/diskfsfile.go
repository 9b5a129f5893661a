package container

import (
	"io"
	"sync"

	"github.com/oberien/opal-uefi-greeter/internal/blockio"
)

// readSeekerFile adapts a read+write+seek stream (an IgnoreWriteWrapper
// around one of internal/blockio's windowed readers) to the ReadAt/WriteAt/
// Closer shape go-diskfs's util.File expects. It never opens anything for
// actual modification; WriteAt exists only because some filesystem drivers
// probe for it even when mounting read-only, and delegates to the
// IgnoreWriteWrapper underneath, which discards the bytes.
type readSeekerFile struct {
	mu    sync.Mutex
	under *blockio.IgnoreWriteWrapper
}

func newReadSeekerFile(under io.ReadSeeker) *readSeekerFile {
	return &readSeekerFile{under: blockio.NewIgnoreWriteWrapper(under)}
}

func (f *readSeekerFile) ReadAt(p []byte, off int64) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, err := f.under.Seek(off, io.SeekStart); err != nil {
		return 0, err
	}
	return io.ReadFull(f.under, p)
}

func (f *readSeekerFile) WriteAt(p []byte, off int64) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, err := f.under.Seek(off, io.SeekStart); err != nil {
		return 0, err
	}
	return f.under.Write(p)
}

func (f *readSeekerFile) Close() error { return nil }
