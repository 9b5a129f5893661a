package container

import (
	"fmt"
	"io"
	"sort"
)

// lvReader maps a logical volume's flat byte space onto its physical
// volume's byte space through a sorted extent map, the same translation
// dm-linear performs at the block-device layer. Only linear (single-PV,
// single-stripe) extents are supported, matching lvm2Extents' scope.
type lvReader struct {
	under      io.ReadSeeker
	extentSize int64 // bytes per extent
	extents    []lvmExtent
	size       int64 // total logical bytes
	cursor     int64
}

func newLVReader(under io.ReadSeeker, extentSize int64, lv lvmLV) *lvReader {
	extents := append([]lvmExtent(nil), lv.extents...)
	sort.Slice(extents, func(i, j int) bool { return extents[i].startExtent < extents[j].startExtent })

	var size int64
	for _, e := range extents {
		end := (e.startExtent + e.extentCount) * extentSize
		if end > size {
			size = end
		}
	}
	return &lvReader{under: under, extentSize: extentSize, extents: extents, size: size}
}

// translate finds the physical byte offset for a logical byte offset, and
// how many contiguous bytes from there remain within the same extent.
func (r *lvReader) translate(logicalOffset int64) (physOffset int64, runLen int64, err error) {
	extentIdx := logicalOffset / r.extentSize
	for _, e := range r.extents {
		if extentIdx >= e.startExtent && extentIdx < e.startExtent+e.extentCount {
			withinExtent := logicalOffset - e.startExtent*r.extentSize
			physStart := e.pvExtent*r.extentSize + withinExtent
			extentEnd := (e.startExtent + e.extentCount) * r.extentSize
			return physStart, extentEnd - logicalOffset, nil
		}
	}
	return 0, 0, fmt.Errorf("lvReader: logical offset %d not covered by any extent", logicalOffset)
}

func (r *lvReader) Read(p []byte) (int, error) {
	if r.cursor >= r.size {
		return 0, io.EOF
	}
	physOffset, runLen, err := r.translate(r.cursor)
	if err != nil {
		return 0, err
	}
	want := int64(len(p))
	if want > runLen {
		want = runLen
	}
	if remaining := r.size - r.cursor; want > remaining {
		want = remaining
	}
	if _, err := r.under.Seek(physOffset, io.SeekStart); err != nil {
		return 0, err
	}
	n, err := io.ReadFull(r.under, p[:want])
	r.cursor += int64(n)
	if err == io.ErrUnexpectedEOF {
		err = nil
	}
	return n, err
}

func (r *lvReader) Seek(offset int64, whence int) (int64, error) {
	var target int64
	switch whence {
	case io.SeekStart:
		target = offset
	case io.SeekCurrent:
		target = r.cursor + offset
	case io.SeekEnd:
		target = r.size + offset
	default:
		return 0, fmt.Errorf("lvReader: invalid whence %d", whence)
	}
	if target < 0 {
		return 0, fmt.Errorf("lvReader: seek before start")
	}
	r.cursor = target
	return target, nil
}
