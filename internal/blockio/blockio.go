// Package blockio implements C1: the random-access byte-stream adapters
// the rest of the resolver is built on. BlockIoReader turns a UEFI-style
// whole-block ReadBlocks primitive into a seekable byte stream;
// PartialReader and OptimizedSeek compose on top of any such stream;
// IgnoreWriteWrapper adapts a read-only stream to the read+write+seek
// interface the FAT library demands.
package blockio

import (
	"context"
	"fmt"
	"io"

	"github.com/oberien/opal-uefi-greeter/internal/errs"
	"github.com/oberien/opal-uefi-greeter/internal/platform"
)

const maxBlockSize = 4096

// BlockIoReader presents a UEFI BlockIo handle as an io.ReadSeeker over the
// byte range [startLBA*blockSize, (endLBA+1)*blockSize).
type BlockIoReader struct {
	ctx      context.Context
	dev      platform.BlockIO
	startLBA uint64
	endLBA   uint64
	blockSz  uint32
	cursor   int64 // byte offset from startLBA*blockSize
}

// NewBlockIoReader constructs a reader over [startLBA, endLBA] inclusive.
// blockSz must be <= 4096; larger block sizes are rejected per spec.
func NewBlockIoReader(ctx context.Context, dev platform.BlockIO, startLBA, endLBA uint64) (*BlockIoReader, error) {
	blockSz := dev.BlockSize()
	if blockSz == 0 || blockSz > maxBlockSize {
		return nil, fmt.Errorf("block size %d: %w", blockSz, errs.ErrUnsupportedBlockSize)
	}
	return &BlockIoReader{ctx: ctx, dev: dev, startLBA: startLBA, endLBA: endLBA, blockSz: blockSz}, nil
}

func (r *BlockIoReader) size() int64 {
	return int64(r.endLBA-r.startLBA+1) * int64(r.blockSz)
}

// Read implements io.Reader, handling the three sub-cases spec.md §4.1 calls
// out: unaligned cursor, sub-block destination, and aligned bulk transfer.
func (r *BlockIoReader) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	if r.cursor >= r.size() {
		return 0, io.EOF
	}
	remaining := r.size() - r.cursor
	if int64(len(p)) > remaining {
		p = p[:remaining]
	}

	blockSz := int64(r.blockSz)
	cursorBlock := r.cursor / blockSz
	cursorOff := r.cursor % blockSz

	// (a) cursor not block-aligned: read one block, copy the tail slice.
	if cursorOff != 0 {
		var stackBuf [maxBlockSize]byte
		buf := stackBuf[:blockSz]
		if err := r.readBlocks(uint64(cursorBlock), buf); err != nil {
			return 0, err
		}
		n := copy(p, buf[cursorOff:])
		r.cursor += int64(n)
		return n, nil
	}

	// (b) destination shorter than one block: read one block, copy the prefix.
	if int64(len(p)) < blockSz {
		var stackBuf [maxBlockSize]byte
		buf := stackBuf[:blockSz]
		if err := r.readBlocks(uint64(cursorBlock), buf); err != nil {
			return 0, err
		}
		n := copy(p, buf)
		r.cursor += int64(n)
		return n, nil
	}

	// (c) aligned multi-block bulk read: round down to a whole number of blocks.
	nBlocks := int64(len(p)) / blockSz
	toRead := nBlocks * blockSz
	if err := r.readBlocks(uint64(cursorBlock), p[:toRead]); err != nil {
		return 0, err
	}
	r.cursor += toRead
	return int(toRead), nil
}

func (r *BlockIoReader) readBlocks(block uint64, buf []byte) error {
	lba := r.startLBA + block
	if err := r.dev.ReadBlocks(r.ctx, lba, buf); err != nil {
		return fmt.Errorf("read LBA %d: %w", lba, errWrap(err))
	}
	return nil
}

func errWrap(err error) error {
	return fmt.Errorf("%w: %v", errs.ErrIo, err)
}

// Seek implements io.Seeker over the byte range this reader exposes.
func (r *BlockIoReader) Seek(offset int64, whence int) (int64, error) {
	var abs int64
	switch whence {
	case io.SeekStart:
		abs = offset
	case io.SeekCurrent:
		abs = r.cursor + offset
	case io.SeekEnd:
		abs = r.size() + offset
	default:
		return 0, fmt.Errorf("invalid whence %d", whence)
	}
	if abs < 0 {
		return 0, fmt.Errorf("negative seek position")
	}
	r.cursor = abs
	return abs, nil
}
