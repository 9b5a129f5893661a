package container

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/oberien/opal-uefi-greeter/internal/bootcfg"
	"github.com/oberien/opal-uefi-greeter/internal/errs"
)

const lvm2LabelSignature = "LABELONE"
const lvm2SectorSize = 512

// lvmPV is the subset of an LVM2 physical volume's identity and metadata
// this probe needs to walk into one of its logical volumes.
type lvmPV struct {
	uuid       string // 32 lowercase hex chars, no dashes (LVM2's own form)
	extentSize int64  // bytes
	vg         map[string]any
}

// lvmLV is one logical volume resolved to a flat list of linear extents on
// the containing PV, in logical order. Only "striped" segments with
// stripe_count == 1 (i.e. effectively linear) are supported; anything else
// is skipped, matching the original tool's scope of plain LVM-on-LUKS/
// LUKS-on-LVM layouts rather than mirrored or thinly-provisioned volumes.
type lvmLV struct {
	name    string
	extents []lvmExtent
}

type lvmExtent struct {
	startExtent int64 // logical, within the LV
	extentCount int64
	pvExtent    int64 // physical, within the PV
}

// probeLVM2 reads the LABELONE/PV-header pair, matches the PV UUID, parses
// the LVM2 textual metadata area for logical volumes, and tries each one
// in turn: the first whose translating reader yields a successful
// recursive match wins.
func probeLVM2(ctx context.Context, rs io.ReadSeeker, chain []bootcfg.Partition, targetFile string, deps Deps) ([]byte, error) {
	expected := chain[0]

	pv, err := parseLVM2PV(rs)
	if err != nil {
		return nil, fmt.Errorf("lvm2: %w: %v", errs.ErrFileNotFound, err)
	}
	if !sameUUID(formatLVMUUID(pv.uuid), expected.UUID) && !sameUUID(pv.uuid, expected.UUID) {
		return nil, fmt.Errorf("lvm2: pv uuid %q != expected %q: %w", pv.uuid, expected.UUID, errs.ErrFileNotFound)
	}
	if len(chain) < 2 {
		return nil, fmt.Errorf("lvm2: matched but chain has no nested partition to recurse into: %w", errs.ErrFileNotFound)
	}

	lvs, err := lvm2LogicalVolumes(pv)
	if err != nil {
		return nil, fmt.Errorf("lvm2: %w", err)
	}

	var lastErr error
	for _, lv := range lvs {
		lr := newLVReader(rs, pv.extentSize, lv)
		data, err := Resolve(ctx, lr, chain[1:], targetFile, deps)
		if err == nil {
			return data, nil
		}
		lastErr = err
	}
	if lastErr == nil {
		lastErr = errs.ErrFileNotFound
	}
	return nil, fmt.Errorf("lvm2: no logical volume on pv %q matched: %w", pv.uuid, lastErr)
}

// formatLVMUUID renders LVM2's bare 32-hex-char UUID in the same hyphenated
// grouping `lvm` itself displays (6-4-4-4-4-4-6 characters), so configs
// written with either form compare equal.
func formatLVMUUID(raw string) string {
	raw = strings.ReplaceAll(raw, "-", "")
	if len(raw) != 32 {
		return raw
	}
	return fmt.Sprintf("%s-%s-%s-%s-%s-%s-%s", raw[0:6], raw[6:10], raw[10:14], raw[14:18], raw[18:22], raw[22:26], raw[26:32])
}

func parseLVM2PV(rs io.ReadSeeker) (lvmPV, error) {
	// LABELONE sits in one of the first 4 sectors; try each.
	for sector := int64(0); sector < 4; sector++ {
		if _, err := rs.Seek(sector*lvm2SectorSize, io.SeekStart); err != nil {
			return lvmPV{}, err
		}
		buf := make([]byte, lvm2SectorSize)
		if _, err := io.ReadFull(rs, buf); err != nil {
			continue
		}
		if string(buf[0:8]) != lvm2LabelSignature {
			continue
		}
		offsetInSector := binary.LittleEndian.Uint32(buf[20:24])
		pvHeader := buf[offsetInSector:]
		if len(pvHeader) < 32 {
			return lvmPV{}, fmt.Errorf("pv header truncated")
		}
		uuid := strings.TrimRight(string(pvHeader[0:32]), "\x00")

		dataAreaEnd := 32 + 8 // device_size_xl
		offsets := pvHeader[dataAreaEnd:]
		// skip data area descriptors (offset,size pairs terminated by 0,0)
		pos := 0
		for {
			off := binary.LittleEndian.Uint64(offsets[pos : pos+8])
			sz := binary.LittleEndian.Uint64(offsets[pos+8 : pos+16])
			pos += 16
			if off == 0 && sz == 0 {
				break
			}
		}
		// next is the metadata area descriptor list; take the first entry.
		mdaOffset := binary.LittleEndian.Uint64(offsets[pos : pos+8])
		mdaSize := binary.LittleEndian.Uint64(offsets[pos+8 : pos+16])
		if mdaOffset == 0 {
			return lvmPV{}, fmt.Errorf("no metadata area descriptor")
		}

		vgText, err := readLVM2MetadataArea(rs, int64(mdaOffset), int64(mdaSize))
		if err != nil {
			return lvmPV{}, err
		}
		tree, err := parseLVMConfig(vgText)
		if err != nil {
			return lvmPV{}, fmt.Errorf("parse vg metadata: %w", err)
		}
		vg, extentSize, err := firstVG(tree)
		if err != nil {
			return lvmPV{}, err
		}
		return lvmPV{uuid: uuid, extentSize: extentSize, vg: vg}, nil
	}
	return lvmPV{}, fmt.Errorf("no LABELONE signature found in first 4 sectors")
}

// readLVM2MetadataArea reads the mda_header at mdaOffset and follows its
// first live raw_locn entry to the actual metadata text.
func readLVM2MetadataArea(rs io.ReadSeeker, mdaOffset, mdaSize int64) (string, error) {
	if _, err := rs.Seek(mdaOffset, io.SeekStart); err != nil {
		return "", err
	}
	mdaHdr := make([]byte, 512)
	if _, err := io.ReadFull(rs, mdaHdr); err != nil {
		return "", err
	}
	// mda_header: 16-byte magic, 4-byte crc, 4-byte version, 8-byte start, 8-byte size, then raw_locn[]
	rawLocnStart := 40
	locnOffset := binary.LittleEndian.Uint64(mdaHdr[rawLocnStart : rawLocnStart+8])
	locnSize := binary.LittleEndian.Uint64(mdaHdr[rawLocnStart+8 : rawLocnStart+16])
	if locnOffset == 0 || locnSize == 0 {
		return "", fmt.Errorf("empty raw_locn entry")
	}

	textBuf := make([]byte, locnSize)
	if _, err := rs.Seek(mdaOffset+int64(locnOffset), io.SeekStart); err != nil {
		return "", err
	}
	if _, err := io.ReadFull(rs, textBuf); err != nil {
		return "", err
	}
	return string(textBuf), nil
}

func firstVG(tree map[string]any) (map[string]any, int64, error) {
	for key, v := range tree {
		if key == "contents" || key == "version" {
			continue
		}
		vg, ok := v.(map[string]any)
		if !ok {
			continue
		}
		extentSizeSectors, _ := intField(vg, "extent_size")
		if extentSizeSectors == 0 {
			extentSizeSectors = 8192 // LVM2's default 4MiB extent in 512-byte sectors
		}
		return vg, extentSizeSectors * lvm2SectorSize, nil
	}
	return nil, 0, fmt.Errorf("no volume_group block in metadata")
}

func intField(m map[string]any, key string) (int64, bool) {
	v, ok := m[key]
	if !ok {
		return 0, false
	}
	switch t := v.(type) {
	case int64:
		return t, true
	case string:
		n, err := strconv.ParseInt(t, 10, 64)
		return n, err == nil
	}
	return 0, false
}

func lvm2LogicalVolumes(pv lvmPV) ([]lvmLV, error) {
	lvsRaw, ok := pv.vg["logical_volumes"].(map[string]any)
	if !ok {
		return nil, fmt.Errorf("no logical_volumes in vg metadata")
	}
	pvName, ok := pvAliasName(pv.vg)
	if !ok {
		return nil, fmt.Errorf("no physical_volumes in vg metadata")
	}

	var lvs []lvmLV
	for name, raw := range lvsRaw {
		lvBlock, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		extents, ok := lvm2Extents(lvBlock, pvName)
		if !ok || len(extents) == 0 {
			continue
		}
		lvs = append(lvs, lvmLV{name: name, extents: extents})
	}
	return lvs, nil
}

func pvAliasName(vg map[string]any) (string, bool) {
	pvs, ok := vg["physical_volumes"].(map[string]any)
	if !ok {
		return "", false
	}
	for name := range pvs {
		return name, true // single-PV volume groups only
	}
	return "", false
}

func lvm2Extents(lvBlock map[string]any, pvName string) ([]lvmExtent, bool) {
	segCount, _ := intField(lvBlock, "segment_count")
	if segCount == 0 {
		segCount = 1
	}
	var extents []lvmExtent
	for i := int64(1); i <= segCount; i++ {
		seg, ok := lvBlock[fmt.Sprintf("segment%d", i)].(map[string]any)
		if !ok {
			return nil, false
		}
		startExtent, _ := intField(seg, "start_extent")
		extentCount, _ := intField(seg, "extent_count")
		stripeCount, _ := intField(seg, "stripe_count")
		if stripeCount == 0 {
			stripeCount = 1
		}
		if stripeCount != 1 {
			return nil, false // striped/mirrored across multiple PVs unsupported
		}
		stripes, ok := seg["stripes"].([]any)
		if !ok || len(stripes) < 2 {
			return nil, false
		}
		segPV, _ := stripes[0].(string)
		if segPV != pvName {
			return nil, false
		}
		pvExtent, ok := stripes[1].(int64)
		if !ok {
			return nil, false
		}
		extents = append(extents, lvmExtent{startExtent: startExtent, extentCount: extentCount, pvExtent: pvExtent})
	}
	return extents, true
}
