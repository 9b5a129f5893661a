package blockio

import "io"

// OptimizedSeek elides redundant Seek calls against an underlying stream.
// Every container probe in internal/container rewinds to offset 0 before
// trying the next format; a rewind reaches the underlying stream only when
// the cursor has actually moved away from offset 0 (or is not yet known),
// so a probe that gives up before reading costs the next probe no seek.
type OptimizedSeek struct {
	under  io.ReadSeeker
	cursor int64
	eof    bool
	known  bool // whether cursor reflects the underlying stream's actual position

	length      int64
	lengthKnown bool // whether length reflects the stream's actual byte length, learned from the first SeekEnd

	TotalSeeks   int
	StoppedSeeks int
}

// NewOptimizedSeek wraps under.
func NewOptimizedSeek(under io.ReadSeeker) *OptimizedSeek {
	return &OptimizedSeek{under: under}
}

// Seek elides the call to the underlying stream when:
//   - the target equals the already-known cursor position, or
//   - whence is SeekCurrent with a zero offset (pure position query) and the
//     cursor is known, or
//   - the stream is known to be at EOF and the target is unchanged, or
//   - whence is SeekEnd and the stream's length is already known, targeting
//     an absolute byte that equals the already-known cursor position.
//
// The first SeekEnd call always reaches the underlying stream (there is no
// length to compare against yet); its result is cached so every later
// SeekEnd can be resolved, and elided where possible, without another
// underlying seek.
func (o *OptimizedSeek) Seek(offset int64, whence int) (int64, error) {
	o.TotalSeeks++

	if whence == io.SeekCurrent && offset == 0 && o.known {
		o.StoppedSeeks++
		return o.cursor, nil
	}
	if whence == io.SeekStart && o.known && offset == o.cursor {
		o.StoppedSeeks++
		return o.cursor, nil
	}
	if whence == io.SeekEnd && o.lengthKnown {
		target := o.length + offset
		if o.known && target == o.cursor {
			o.StoppedSeeks++
			return o.cursor, nil
		}
		pos, err := o.under.Seek(target, io.SeekStart)
		if err != nil {
			o.known = false
			return 0, err
		}
		o.cursor = pos
		o.known = true
		o.eof = false
		return pos, nil
	}

	pos, err := o.under.Seek(offset, whence)
	if err != nil {
		o.known = false
		return 0, err
	}
	o.cursor = pos
	o.known = true
	o.eof = false
	if whence == io.SeekEnd {
		o.length = pos - offset
		o.lengthKnown = true
	}
	return pos, nil
}

// Read tracks the cursor so subsequent Seeks can be elided, and remembers
// EOF so a repeated read-to-exhaustion doesn't re-enter the underlying
// stream once it has already signalled the end.
func (o *OptimizedSeek) Read(buf []byte) (int, error) {
	if o.eof && o.known {
		return 0, io.EOF
	}
	n, err := o.under.Read(buf)
	if o.known {
		o.cursor += int64(n)
	}
	if err == io.EOF {
		o.eof = true
	} else if err != nil {
		o.known = false
	}
	return n, err
}
