package blockio

import (
	"fmt"
	"io"
)

// PartialReader restricts an underlying ReadSeeker to the byte window
// [start, start+size), translating callers' offsets (which address the
// window) into the underlying stream's absolute offsets. It never seeks
// the underlying stream until the first Read or Seek call, so constructing
// one over an entry that is never used costs nothing.
type PartialReader struct {
	under  io.ReadSeeker
	start  int64
	size   int64
	cursor int64
	primed bool
}

// NewPartialReader windows under to [start, start+size).
func NewPartialReader(under io.ReadSeeker, start, size int64) *PartialReader {
	return &PartialReader{under: under, start: start, size: size}
}

func (p *PartialReader) prime() error {
	if p.primed {
		return nil
	}
	if _, err := p.under.Seek(p.start, io.SeekStart); err != nil {
		return err
	}
	p.primed = true
	p.cursor = 0
	return nil
}

// Read implements io.Reader, priming the underlying seek position to start
// on first use and refusing to read past the window's end.
func (p *PartialReader) Read(buf []byte) (int, error) {
	if err := p.prime(); err != nil {
		return 0, err
	}
	if p.cursor >= p.size {
		return 0, io.EOF
	}
	remaining := p.size - p.cursor
	if int64(len(buf)) > remaining {
		buf = buf[:remaining]
	}
	n, err := p.under.Read(buf)
	p.cursor += int64(n)
	return n, err
}

// Seek implements io.Seeker within the window. Seeking to a position before
// the window start (i.e. a negative offset from SeekStart) is rejected: a
// PartialReader's whole purpose is isolating its chain layer from siblings
// laid out earlier in the same underlying stream.
func (p *PartialReader) Seek(offset int64, whence int) (int64, error) {
	var target int64
	switch whence {
	case io.SeekStart:
		target = offset
	case io.SeekCurrent:
		if !p.primed {
			target = offset
		} else {
			target = p.cursor + offset
		}
	case io.SeekEnd:
		target = p.size + offset
	default:
		return 0, fmt.Errorf("blockio: invalid whence %d", whence)
	}
	if target < 0 {
		return 0, fmt.Errorf("blockio: seek before window start")
	}
	if _, err := p.under.Seek(p.start+target, io.SeekStart); err != nil {
		return 0, err
	}
	p.primed = true
	p.cursor = target
	return target, nil
}
