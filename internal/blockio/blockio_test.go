package blockio

import (
	"bytes"
	"context"
	"io"
	"testing"
)

// fakeBlockIO serves ReadBlocks out of an in-memory byte slice, used to
// drive BlockIoReader without any real platform binding.
type fakeBlockIO struct {
	data    []byte
	blockSz uint32
	reads   int
}

func (f *fakeBlockIO) BlockSize() uint32 { return f.blockSz }

func (f *fakeBlockIO) ReadBlocks(_ context.Context, startLBA uint64, buf []byte) error {
	f.reads++
	off := startLBA * uint64(f.blockSz)
	copy(buf, f.data[off:off+uint64(len(buf))])
	return nil
}

func makeData(nBlocks int, blockSz int) []byte {
	data := make([]byte, nBlocks*blockSz)
	for i := range data {
		data[i] = byte(i)
	}
	return data
}

func TestBlockIoReaderUnalignedCursor(t *testing.T) {
	dev := &fakeBlockIO{data: makeData(4, 512), blockSz: 512}
	r, err := NewBlockIoReader(context.Background(), dev, 0, 3)
	if err != nil {
		t.Fatalf("NewBlockIoReader: %v", err)
	}
	if _, err := r.Seek(10, io.SeekStart); err != nil {
		t.Fatalf("Seek: %v", err)
	}
	buf := make([]byte, 5)
	n, err := r.Read(buf)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if n != 5 {
		t.Fatalf("expected 5 bytes, got %d", n)
	}
	want := dev.data[10:15]
	if !bytes.Equal(buf, want) {
		t.Fatalf("got %v, want %v", buf, want)
	}
}

func TestBlockIoReaderAlignedBulk(t *testing.T) {
	dev := &fakeBlockIO{data: makeData(4, 512), blockSz: 512}
	r, err := NewBlockIoReader(context.Background(), dev, 0, 3)
	if err != nil {
		t.Fatalf("NewBlockIoReader: %v", err)
	}
	buf := make([]byte, 1024)
	n, err := r.Read(buf)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if n != 1024 {
		t.Fatalf("expected 1024 bytes, got %d", n)
	}
	if !bytes.Equal(buf, dev.data[:1024]) {
		t.Fatalf("content mismatch")
	}
}

func TestBlockIoReaderRejectsOversizeBlocks(t *testing.T) {
	dev := &fakeBlockIO{data: makeData(1, 8192), blockSz: 8192}
	if _, err := NewBlockIoReader(context.Background(), dev, 0, 0); err == nil {
		t.Fatalf("expected error for block size > 4096")
	}
}

func TestBlockIoReaderEOF(t *testing.T) {
	dev := &fakeBlockIO{data: makeData(1, 512), blockSz: 512}
	r, err := NewBlockIoReader(context.Background(), dev, 0, 0)
	if err != nil {
		t.Fatalf("NewBlockIoReader: %v", err)
	}
	if _, err := r.Seek(512, io.SeekStart); err != nil {
		t.Fatalf("Seek: %v", err)
	}
	buf := make([]byte, 1)
	if _, err := r.Read(buf); err != io.EOF {
		t.Fatalf("expected io.EOF, got %v", err)
	}
}

func TestPartialReaderWindowsUnderlyingStream(t *testing.T) {
	data := makeData(1, 512)
	under := bytes.NewReader(data)
	pr := NewPartialReader(under, 100, 50)

	buf := make([]byte, 10)
	n, err := pr.Read(buf)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if n != 10 {
		t.Fatalf("expected 10 bytes, got %d", n)
	}
	if !bytes.Equal(buf, data[100:110]) {
		t.Fatalf("got %v, want %v", buf, data[100:110])
	}
}

func TestPartialReaderRejectsNegativeSeek(t *testing.T) {
	under := bytes.NewReader(makeData(1, 512))
	pr := NewPartialReader(under, 100, 50)
	if _, err := pr.Seek(-1, io.SeekStart); err == nil {
		t.Fatalf("expected error seeking before window start")
	}
}

func TestPartialReaderEOFAtWindowEnd(t *testing.T) {
	under := bytes.NewReader(makeData(1, 512))
	pr := NewPartialReader(under, 100, 10)
	buf := make([]byte, 20)
	n, err := pr.Read(buf)
	if n != 10 {
		t.Fatalf("expected 10 bytes at window end, got %d", n)
	}
	if err != nil && err != io.EOF {
		t.Fatalf("unexpected error: %v", err)
	}
	n2, err2 := pr.Read(buf)
	if n2 != 0 || err2 != io.EOF {
		t.Fatalf("expected (0, io.EOF) past window end, got (%d, %v)", n2, err2)
	}
}

func TestOptimizedSeekElidesRepeatedSeekToSamePosition(t *testing.T) {
	under := bytes.NewReader(makeData(1, 512))
	os := NewOptimizedSeek(under)

	if _, err := os.Seek(10, io.SeekStart); err != nil {
		t.Fatalf("Seek: %v", err)
	}
	if _, err := os.Seek(10, io.SeekStart); err != nil {
		t.Fatalf("Seek: %v", err)
	}
	if os.TotalSeeks != 2 {
		t.Fatalf("expected 2 total seeks, got %d", os.TotalSeeks)
	}
	if os.StoppedSeeks != 1 {
		t.Fatalf("expected 1 elided seek, got %d", os.StoppedSeeks)
	}
}

func TestOptimizedSeekTracksCursorAcrossReads(t *testing.T) {
	under := bytes.NewReader(makeData(1, 512))
	os := NewOptimizedSeek(under)

	if _, err := os.Seek(0, io.SeekStart); err != nil {
		t.Fatalf("Seek: %v", err)
	}
	buf := make([]byte, 16)
	if _, err := os.Read(buf); err != nil {
		t.Fatalf("Read: %v", err)
	}
	pos, err := os.Seek(16, io.SeekStart)
	if err != nil {
		t.Fatalf("Seek: %v", err)
	}
	if pos != 16 {
		t.Fatalf("expected cursor 16, got %d", pos)
	}
	if os.StoppedSeeks != 1 {
		t.Fatalf("expected seek-to-current-position to be elided, got %d stopped", os.StoppedSeeks)
	}
}

func TestOptimizedSeekLearnsLengthFromFirstSeekEnd(t *testing.T) {
	under := bytes.NewReader(makeData(1, 512))
	os := NewOptimizedSeek(under)

	pos, err := os.Seek(-10, io.SeekEnd)
	if err != nil {
		t.Fatalf("Seek: %v", err)
	}
	if pos != 502 {
		t.Fatalf("expected cursor 502, got %d", pos)
	}
	if os.TotalSeeks != 1 || os.StoppedSeeks != 0 {
		t.Fatalf("first SeekEnd must reach the underlying stream, got total=%d stopped=%d", os.TotalSeeks, os.StoppedSeeks)
	}
}

func TestOptimizedSeekElidesRepeatedSeekEndToSameAbsoluteByte(t *testing.T) {
	under := bytes.NewReader(makeData(1, 512))
	os := NewOptimizedSeek(under)

	if _, err := os.Seek(-10, io.SeekEnd); err != nil {
		t.Fatalf("Seek: %v", err)
	}
	pos, err := os.Seek(-10, io.SeekEnd)
	if err != nil {
		t.Fatalf("Seek: %v", err)
	}
	if pos != 502 {
		t.Fatalf("expected cursor 502, got %d", pos)
	}
	if os.TotalSeeks != 2 {
		t.Fatalf("expected 2 total seeks, got %d", os.TotalSeeks)
	}
	if os.StoppedSeeks != 1 {
		t.Fatalf("expected the second SeekEnd targeting the same absolute byte to be elided, got %d stopped", os.StoppedSeeks)
	}
}

func TestOptimizedSeekResolvesLaterSeekEndAgainstCachedLength(t *testing.T) {
	under := bytes.NewReader(makeData(1, 512))
	os := NewOptimizedSeek(under)

	if _, err := os.Seek(-10, io.SeekEnd); err != nil {
		t.Fatalf("Seek: %v", err)
	}
	pos, err := os.Seek(-20, io.SeekEnd)
	if err != nil {
		t.Fatalf("Seek: %v", err)
	}
	if pos != 492 {
		t.Fatalf("expected cursor 492, got %d", pos)
	}
	if os.StoppedSeeks != 0 {
		t.Fatalf("a different absolute target must not be elided, got %d stopped", os.StoppedSeeks)
	}
}

func TestIgnoreWriteWrapperDiscardsWrites(t *testing.T) {
	data := makeData(1, 512)
	under := bytes.NewReader(data)
	w := NewIgnoreWriteWrapper(under)

	n, err := w.Write([]byte("hello"))
	if err != nil {
		t.Fatalf("Write: %v", err)
	}
	if n != 5 {
		t.Fatalf("expected 5 bytes reported written, got %d", n)
	}

	n2, err2 := w.WriteAt([]byte("world"), 100)
	if err2 != nil {
		t.Fatalf("WriteAt: %v", err2)
	}
	if n2 != 5 {
		t.Fatalf("expected 5 bytes reported written, got %d", n2)
	}

	buf := make([]byte, 4)
	if _, err := w.Read(buf); err != nil {
		t.Fatalf("Read: %v", err)
	}
	if !bytes.Equal(buf, data[:4]) {
		t.Fatalf("write should not have mutated underlying stream: got %v, want %v", buf, data[:4])
	}
}
