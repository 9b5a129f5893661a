package container

import (
	"crypto/aes"
	"fmt"
	"io"

	"golang.org/x/crypto/xts"
)

// xtsReader decrypts an AES-XTS data segment on the fly: each Read is
// rounded out to whole sectors, decrypted with the sector index (relative
// to the segment start) as the XTS tweak, and the requested slice copied
// out of the decrypted sector buffer. Seeks translate the same way
// PartialReader's do, windowing the segment to [offset, offset+size).
type xtsReader struct {
	under      io.ReadSeeker
	cipher     *xts.Cipher
	offset     int64
	size       int64
	sectorSize int64
	cursor     int64
}

func newXTSReader(under io.ReadSeeker, key []byte, offset, size, sectorSize int64) (*xtsReader, error) {
	c, err := xts.NewCipher(aes.NewCipher, key)
	if err != nil {
		return nil, fmt.Errorf("xts cipher: %w", err)
	}
	return &xtsReader{under: under, cipher: c, offset: offset, size: size, sectorSize: sectorSize}, nil
}

func (r *xtsReader) Read(p []byte) (int, error) {
	if r.cursor >= r.size {
		return 0, io.EOF
	}
	sector := r.cursor / r.sectorSize
	sectorStart := sector * r.sectorSize
	inSector := r.cursor - sectorStart

	cipherBuf := make([]byte, r.sectorSize)
	if _, err := r.under.Seek(r.offset+sectorStart, io.SeekStart); err != nil {
		return 0, err
	}
	n, err := io.ReadFull(r.under, cipherBuf)
	if err != nil && err != io.ErrUnexpectedEOF {
		return 0, err
	}
	cipherBuf = cipherBuf[:n]
	if len(cipherBuf) == 0 {
		return 0, io.EOF
	}

	plainBuf := make([]byte, len(cipherBuf))
	r.cipher.Decrypt(plainBuf, cipherBuf, uint64(sector))

	avail := plainBuf[inSector:]
	remaining := r.size - r.cursor
	if int64(len(avail)) > remaining {
		avail = avail[:remaining]
	}
	n = copy(p, avail)
	r.cursor += int64(n)
	return n, nil
}

func (r *xtsReader) Seek(offset int64, whence int) (int64, error) {
	var target int64
	switch whence {
	case io.SeekStart:
		target = offset
	case io.SeekCurrent:
		target = r.cursor + offset
	case io.SeekEnd:
		target = r.size + offset
	default:
		return 0, fmt.Errorf("xtsReader: invalid whence %d", whence)
	}
	if target < 0 {
		return 0, fmt.Errorf("xtsReader: seek before start")
	}
	r.cursor = target
	return target, nil
}
